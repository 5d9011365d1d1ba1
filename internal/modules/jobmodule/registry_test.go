package jobmodule

import (
	"testing"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, events.EventBus) {
	bus := events.NewEventBus(50)
	return NewRegistry(bus), bus
}

func TestWellKnownJobsPreRegistered(t *testing.T) {
	r, bus := newTestRegistry()
	defer bus.Close()

	state, ok := r.Get(JobIDLibraryScanner)
	require.True(t, ok)
	assert.Equal(t, "Library Scanner", state.Name)
	assert.Equal(t, StatusPending, state.Status)

	state, ok = r.Get(JobIDDatabaseMaintenance)
	require.True(t, ok)
	assert.Equal(t, "Database Maintenance", state.Name)
}

func TestEnsureSynthesizesScanLibraryName(t *testing.T) {
	r, bus := newTestRegistry()
	defer bus.Close()

	state := r.Ensure("scan_library_7_1700000000", nil)
	assert.Equal(t, "Library Scanner: 7", state.Name)
	assert.Equal(t, "jobs.names.scan_library", state.NameKey)

	// With a scheduler carrying the library name in the job args, the
	// display name upgrades.
	sched := NewScheduler()
	fn := func(jobID string, args map[string]interface{}) error { return nil }
	require.NoError(t, sched.AddJob("scan_library_7_1700000000", "scan", fn,
		DateTrigger{At: time.Now().UTC().Add(time.Hour)},
		map[string]interface{}{"library_name": "Movies"}, false))

	state = r.Ensure("scan_library_7_1700000000", sched)
	assert.Equal(t, "Library Scanner: Movies", state.Name)
}

func TestEnsureTitleCasesUnknownJobs(t *testing.T) {
	r, bus := newTestRegistry()
	defer bus.Close()

	state := r.Ensure("orphan_sweeper", nil)
	assert.Equal(t, "Orphan Sweeper", state.Name)
	assert.Equal(t, "jobs.names.orphan_sweeper", state.NameKey)
}

func TestCancelFlowRequiresRunningJob(t *testing.T) {
	r, bus := newTestRegistry()
	defer bus.Close()

	// Not running yet: cancel refused.
	assert.False(t, r.RequestCancel(JobIDLibraryScanner))
	assert.False(t, r.IsCancelRequested(JobIDLibraryScanner))

	r.HandleSchedulerEvent(SchedulerEvent{
		Code:             EventSubmitted,
		JobID:            JobIDLibraryScanner,
		ScheduledRunTime: time.Now().UTC(),
	}, nil)

	assert.True(t, r.RequestCancel(JobIDLibraryScanner))
	assert.True(t, r.IsCancelRequested(JobIDLibraryScanner))

	r.MarkCancelled(JobIDLibraryScanner)
	state, _ := r.Get(JobIDLibraryScanner)
	assert.Equal(t, StatusCancelled, state.Status)
	assert.False(t, state.CancellationRequested)
	assert.Nil(t, state.RunningSince)

	// History records the cancellation.
	records := r.History()
	require.NotEmpty(t, records)
	assert.Equal(t, "cancelled", records[0].Status)
}

func TestCancelledJobKeepsStatusThroughExecutedEvent(t *testing.T) {
	r, bus := newTestRegistry()
	defer bus.Close()

	now := time.Now().UTC()
	r.HandleSchedulerEvent(SchedulerEvent{Code: EventSubmitted, JobID: "scan_library_1_1", ScheduledRunTime: now}, nil)
	r.MarkCancelled("scan_library_1_1")

	// The job body returns nil after observing cancellation; the scheduler
	// reports executed, but cancelled is already terminal.
	r.HandleSchedulerEvent(SchedulerEvent{Code: EventExecuted, JobID: "scan_library_1_1", ScheduledRunTime: now}, nil)

	state, _ := r.Get("scan_library_1_1")
	assert.Equal(t, StatusCancelled, state.Status)
}

func TestSchedulerEventLifecycle(t *testing.T) {
	r, bus := newTestRegistry()
	defer bus.Close()

	scheduled := time.Now().UTC()
	r.HandleSchedulerEvent(SchedulerEvent{Code: EventSubmitted, JobID: "job-x", ScheduledRunTime: scheduled}, nil)

	state, _ := r.Get("job-x")
	assert.Equal(t, StatusRunning, state.Status)
	require.NotNil(t, state.RunningSince)

	r.HandleSchedulerEvent(SchedulerEvent{Code: EventExecuted, JobID: "job-x", ScheduledRunTime: scheduled}, nil)
	state, _ = r.Get("job-x")
	assert.Equal(t, StatusSuccess, state.Status)
	assert.Nil(t, state.RunningSince)
	require.NotNil(t, state.LastRunTime)
	assert.Equal(t, scheduled, *state.LastRunTime)

	records := r.History()
	require.Len(t, records, 1)
	assert.Equal(t, "completed", records[0].Status)
	assert.Equal(t, RecordTypeScheduled, records[0].JobType)
}

func TestErrorEventRecordsFailure(t *testing.T) {
	r, bus := newTestRegistry()
	defer bus.Close()

	scheduled := time.Now().UTC()
	r.HandleSchedulerEvent(SchedulerEvent{Code: EventSubmitted, JobID: "job-y", ScheduledRunTime: scheduled}, nil)
	r.HandleSchedulerEvent(SchedulerEvent{Code: EventError, JobID: "job-y", ScheduledRunTime: scheduled, Err: assert.AnError}, nil)

	state, _ := r.Get("job-y")
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, assert.AnError.Error(), state.Error)

	records := r.History()
	require.Len(t, records, 1)
	assert.Equal(t, "failed", records[0].Status)
}

func TestUpdateProgressPublishesAndMirrors(t *testing.T) {
	r, bus := newTestRegistry()
	defer bus.Close()

	sub := r.Subscribe()

	now := time.Now().UTC()
	r.HandleSchedulerEvent(SchedulerEvent{Code: EventSubmitted, JobID: "scan_library_3_9", ScheduledRunTime: now}, nil)

	total, processed := 100, 10
	file := "/media/a.mp4"
	r.UpdateProgress("scan_library_3_9", &total, &processed, &file)

	state, _ := r.Get("scan_library_3_9")
	require.NotNil(t, state.FilesTotal)
	assert.Equal(t, 100, *state.FilesTotal)
	assert.Equal(t, 10, *state.FilesProcessed)
	assert.Equal(t, "/media/a.mp4", state.CurrentFile)

	// Subscriber sees the submit state change before the progress update.
	first := <-sub.C
	assert.Equal(t, events.EventJobState, first.Type)
	second := <-sub.C
	assert.Equal(t, events.EventJobProgress, second.Type)

	// One-off record type for scan_library jobs.
	records := r.History()
	require.Len(t, records, 1)
	assert.Equal(t, RecordTypeOneOff, records[0].JobType)
	require.NotNil(t, records[0].FilesProcessed)
	assert.Equal(t, 10, *records[0].FilesProcessed)
}

func TestResetClearsStateAndHistory(t *testing.T) {
	r, bus := newTestRegistry()
	defer bus.Close()

	r.HandleSchedulerEvent(SchedulerEvent{Code: EventSubmitted, JobID: "job-z", ScheduledRunTime: time.Now().UTC()}, nil)
	r.Reset()

	_, ok := r.Get("job-z")
	assert.False(t, ok)
	assert.Empty(t, r.History())
}
