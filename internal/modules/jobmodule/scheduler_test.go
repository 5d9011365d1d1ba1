package jobmodule

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventCollector records scheduler events in order.
type eventCollector struct {
	mu     sync.Mutex
	events []SchedulerEvent
}

func (c *eventCollector) listener(ev SchedulerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) codes(jobID string) []EventCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []EventCode
	for _, ev := range c.events {
		if ev.JobID == jobID {
			out = append(out, ev.Code)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAddJobDuplicateConflicts(t *testing.T) {
	s := NewScheduler()
	fn := func(jobID string, args map[string]interface{}) error { return nil }
	trigger := IntervalTrigger{Every: time.Hour}

	require.NoError(t, s.AddJob("a", "A", fn, trigger, nil, false))
	err := s.AddJob("a", "A", fn, trigger, nil, false)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, s.AddJob("a", "A", fn, trigger, nil, true))
}

func TestDateTriggerRunsOnceAndRetires(t *testing.T) {
	s := NewScheduler()
	collector := &eventCollector{}
	s.AddListener(collector.listener)

	var ran sync.WaitGroup
	ran.Add(1)
	fn := func(jobID string, args map[string]interface{}) error {
		ran.Done()
		return nil
	}

	require.NoError(t, s.AddJob("once", "Once", fn, DateTrigger{At: time.Now().UTC()}, nil, false))
	require.NoError(t, s.Start())
	defer s.Shutdown()

	ran.Wait()
	waitFor(t, 2*time.Second, func() bool {
		codes := collector.codes("once")
		return len(codes) == 2 && codes[0] == EventSubmitted && codes[1] == EventExecuted
	})

	// One-shot jobs leave the schedule after firing.
	_, exists := s.GetJob("once")
	assert.False(t, exists)
}

func TestJobErrorEmitsErrorEvent(t *testing.T) {
	s := NewScheduler()
	collector := &eventCollector{}
	s.AddListener(collector.listener)

	boom := errors.New("boom")
	fn := func(jobID string, args map[string]interface{}) error { return boom }

	require.NoError(t, s.AddJob("failing", "Failing", fn, DateTrigger{At: time.Now().UTC()}, nil, false))
	require.NoError(t, s.Start())
	defer s.Shutdown()

	waitFor(t, 2*time.Second, func() bool {
		codes := collector.codes("failing")
		return len(codes) == 2 && codes[1] == EventError
	})
}

func TestPanicIsReportedAsError(t *testing.T) {
	s := NewScheduler()
	collector := &eventCollector{}
	s.AddListener(collector.listener)

	fn := func(jobID string, args map[string]interface{}) error { panic("nope") }

	require.NoError(t, s.AddJob("panicky", "Panicky", fn, DateTrigger{At: time.Now().UTC()}, nil, false))
	require.NoError(t, s.Start())
	defer s.Shutdown()

	waitFor(t, 2*time.Second, func() bool {
		codes := collector.codes("panicky")
		return len(codes) == 2 && codes[1] == EventError
	})
}

func TestModifyJobNextRunTriggersImmediately(t *testing.T) {
	s := NewScheduler()

	var ran sync.WaitGroup
	ran.Add(1)
	var once sync.Once
	fn := func(jobID string, args map[string]interface{}) error {
		once.Do(ran.Done)
		return nil
	}

	// An hourly job would not fire during the test on its own.
	require.NoError(t, s.AddJob("hourly", "Hourly", fn, IntervalTrigger{Every: time.Hour}, nil, false))
	require.NoError(t, s.Start())
	defer s.Shutdown()

	require.NoError(t, s.ModifyJobNextRun("hourly", time.Now().UTC()))
	ran.Wait()
}

func TestJobReceivesItsOwnIDAndArgs(t *testing.T) {
	s := NewScheduler()

	var mu sync.Mutex
	var gotID string
	var gotArg interface{}
	var done sync.WaitGroup
	done.Add(1)

	fn := func(jobID string, args map[string]interface{}) error {
		mu.Lock()
		gotID = jobID
		gotArg = args["library_id"]
		mu.Unlock()
		done.Done()
		return nil
	}

	args := map[string]interface{}{"library_id": uint(5)}
	require.NoError(t, s.AddJob("scan_library_5_123", "Scan", fn, DateTrigger{At: time.Now().UTC()}, args, false))
	require.NoError(t, s.Start())
	defer s.Shutdown()

	done.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "scan_library_5_123", gotID)
	assert.Equal(t, uint(5), gotArg)
}

func TestGetJobsSnapshotsTriggers(t *testing.T) {
	s := NewScheduler()
	fn := func(jobID string, args map[string]interface{}) error { return nil }

	cronTrigger, err := NewCronTrigger("0 3 * * *")
	require.NoError(t, err)

	require.NoError(t, s.AddJob("interval", "I", fn, IntervalTrigger{Every: time.Hour}, nil, false))
	require.NoError(t, s.AddJob("cron", "C", fn, cronTrigger, nil, false))
	require.NoError(t, s.AddJob("date", "D", fn, DateTrigger{At: time.Now().UTC().Add(time.Hour)}, nil, false))

	kinds := map[string]string{}
	for _, job := range s.GetJobs() {
		kinds[job.ID] = job.TriggerKind
		require.NotNil(t, job.NextRunTime)
	}
	assert.Equal(t, TriggerKindInterval, kinds["interval"])
	assert.Equal(t, TriggerKindCron, kinds["cron"])
	assert.Equal(t, TriggerKindDate, kinds["date"])
}

func TestCronTriggerRejectsBadSpec(t *testing.T) {
	_, err := NewCronTrigger("not a cron spec")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestIntervalTriggerNext(t *testing.T) {
	trigger := IntervalTrigger{Every: 30 * time.Minute}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next, ok := trigger.Next(now)
	require.True(t, ok)
	assert.Equal(t, now.Add(30*time.Minute), next)
}

func TestDateTriggerExhausts(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	trigger := DateTrigger{At: at}

	next, ok := trigger.Next(at.Add(-time.Minute))
	require.True(t, ok)
	assert.Equal(t, at, next)

	_, ok = trigger.Next(at)
	assert.False(t, ok)
}

func TestSchedulerStartTwiceConflicts(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.Start())
	defer s.Shutdown()
	assert.ErrorIs(t, s.Start(), apperrors.ErrConflict)
}

func TestShutdownWaitsForRunningJobs(t *testing.T) {
	s := NewScheduler()

	started := make(chan struct{})
	var finished sync.WaitGroup
	finished.Add(1)
	fn := func(jobID string, args map[string]interface{}) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Done()
		return nil
	}

	require.NoError(t, s.AddJob("slow", "Slow", fn, DateTrigger{At: time.Now().UTC()}, nil, false))
	require.NoError(t, s.Start())

	<-started
	s.Shutdown()

	// Shutdown must not return before the body did.
	done := make(chan struct{})
	go func() {
		finished.Wait()
		close(done)
	}()
	select {
	case <-done:
	default:
		t.Fatal("shutdown returned before the running job finished")
	}
}
