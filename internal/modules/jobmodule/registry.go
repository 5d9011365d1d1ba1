package jobmodule

import (
	"strings"
	"sync"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/events"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
)

// JobStatus is the lifecycle state of a tracked job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSuccess   JobStatus = "success"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Well-known periodic job ids.
const (
	JobIDLibraryScanner      = "library_scanner"
	JobIDDatabaseMaintenance = "database_maintenance"
)

// ScanLibraryJobPrefix marks one-shot per-library scan jobs. Their ids are
// scan_library_{library_id}_{unix_seconds}.
const ScanLibraryJobPrefix = "scan_library_"

// JobState is the mutable runtime state of a job.
type JobState struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	NameKey string    `json:"name_key"`
	Status  JobStatus `json:"status"`

	LastRunTime  *time.Time `json:"last_run_time"`
	NextRunTime  *time.Time `json:"next_run_time"`
	RunningSince *time.Time `json:"running_since"`
	Error        string     `json:"error,omitempty"`

	// Progress tracking
	FilesTotal     *int   `json:"files_total"`
	FilesProcessed *int   `json:"files_processed"`
	CurrentFile    string `json:"current_file,omitempty"`

	// Cancellation
	CancellationRequested bool       `json:"cancellation_requested"`
	CancelledAt           *time.Time `json:"cancelled_at"`
}

func (s *JobState) clone() JobState {
	copied := *s
	return copied
}

// Registry is the single source of truth for live job status. It is updated
// from both scheduler callbacks and job-body code, so every operation holds
// a short mutex.
type Registry struct {
	mu      sync.Mutex
	states  map[string]*JobState
	history *History
	bus     events.EventBus
}

// NewRegistry creates a registry publishing state changes on the bus.
func NewRegistry(bus events.EventBus) *Registry {
	r := &Registry{
		states:  make(map[string]*JobState),
		history: NewHistory(historyCapacity),
		bus:     bus,
	}
	// Pre-register the well-known periodic jobs so they list before first run.
	r.states[JobIDLibraryScanner] = &JobState{
		ID:      JobIDLibraryScanner,
		Name:    "Library Scanner",
		NameKey: "jobs.names.library_scanner",
		Status:  StatusPending,
	}
	r.states[JobIDDatabaseMaintenance] = &JobState{
		ID:      JobIDDatabaseMaintenance,
		Name:    "Database Maintenance",
		NameKey: "jobs.names.database_maintenance",
		Status:  StatusPending,
	}
	return r
}

// Ensure returns the state for a job id, creating it on first reference.
// For scan_library jobs the display name is synthesized from the scheduled
// job's args when a scheduler is supplied.
func (r *Registry) Ensure(jobID string, sched *Scheduler) *JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(jobID, sched)
}

func (r *Registry) ensureLocked(jobID string, sched *Scheduler) *JobState {
	state, ok := r.states[jobID]
	if !ok {
		state = &JobState{
			ID:      jobID,
			Name:    fallbackName(jobID),
			NameKey: nameKey(jobID),
			Status:  StatusPending,
		}
		r.states[jobID] = state
	}

	// A later lookup may now have the library name available in job args.
	if strings.HasPrefix(jobID, ScanLibraryJobPrefix) && sched != nil {
		if job, ok := sched.GetJob(jobID); ok {
			if name, ok := job.Args["library_name"].(string); ok && name != "" {
				state.Name = "Library Scanner: " + name
			}
		}
	}
	return state
}

// Get returns a snapshot of a job's state.
func (r *Registry) Get(jobID string) (JobState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[jobID]
	if !ok {
		return JobState{}, false
	}
	return state.clone(), true
}

// ListScheduled returns states for the scheduler's recurring jobs, refreshing
// next-run times. One-shot (date-trigger) jobs are filtered out.
func (r *Registry) ListScheduled(sched *Scheduler) []JobState {
	jobs := sched.GetJobs()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobState, 0, len(jobs))
	for _, job := range jobs {
		if job.TriggerKind == TriggerKindDate {
			continue
		}
		state := r.ensureLocked(job.ID, sched)
		state.NextRunTime = job.NextRunTime
		out = append(out, state.clone())
	}
	return out
}

// UpdateProgress records progress for a running job and mirrors it into the
// open history record. Nil arguments leave the corresponding field untouched.
func (r *Registry) UpdateProgress(jobID string, filesTotal, filesProcessed *int, currentFile *string) {
	r.mu.Lock()
	state, ok := r.states[jobID]
	if ok {
		if filesTotal != nil {
			state.FilesTotal = filesTotal
		}
		if filesProcessed != nil {
			state.FilesProcessed = filesProcessed
		}
		if currentFile != nil {
			state.CurrentFile = *currentFile
		}
	}
	r.history.UpdateProgress(jobID, filesTotal, filesProcessed)
	var snapshot JobState
	if ok {
		snapshot = state.clone()
	}
	r.mu.Unlock()

	if ok {
		r.publishState(events.EventJobProgress, snapshot)
	}
}

// RequestCancel sets the cancellation flag on a running job. Returns false
// when the job is unknown or not running.
func (r *Registry) RequestCancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[jobID]
	if !ok || state.Status != StatusRunning {
		return false
	}
	state.CancellationRequested = true
	now := time.Now().UTC()
	state.CancelledAt = &now
	logger.Info("Cancellation requested for job: %s", jobID)
	return true
}

// IsCancelRequested reports whether cancellation was requested for a job.
func (r *Registry) IsCancelRequested(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[jobID]
	return ok && state.CancellationRequested
}

// MarkCancelled records that a job observed the flag and stopped gracefully.
func (r *Registry) MarkCancelled(jobID string) {
	r.mu.Lock()
	state, ok := r.states[jobID]
	var snapshot JobState
	if ok {
		state.Status = StatusCancelled
		state.RunningSince = nil
		state.CancellationRequested = false
		snapshot = state.clone()
	}
	r.history.Complete(jobID, "cancelled", "Job was cancelled by user")
	r.mu.Unlock()

	if ok {
		logger.Info("Job marked as cancelled: %s", jobID)
		r.publishState(events.EventJobState, snapshot)
	}
}

// MarkManualRun records the outcome of a run that did not go through the
// scheduler.
func (r *Registry) MarkManualRun(jobID string, status JobStatus) JobState {
	r.mu.Lock()
	state := r.ensureLocked(jobID, nil)
	now := time.Now().UTC()
	state.Status = status
	state.LastRunTime = &now
	state.RunningSince = nil
	snapshot := state.clone()
	r.mu.Unlock()

	r.publishState(events.EventJobState, snapshot)
	return snapshot
}

// History returns recent job executions, most recent first.
func (r *Registry) History() []ExecutionRecord {
	return r.history.Records()
}

// Subscribe returns an event-bus subscription carrying job state and
// progress events. Per-job ordering follows publication order.
func (r *Registry) Subscribe() *events.Subscription {
	return r.bus.Subscribe(events.Filter{
		Types: []events.EventType{events.EventJobState, events.EventJobProgress},
	})
}

// Reset clears all state and history (test hook).
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = make(map[string]*JobState)
	r.history = NewHistory(historyCapacity)
}

// HandleSchedulerEvent updates registry state from scheduler callbacks. It
// is attached as a listener in the module's Init.
func (r *Registry) HandleSchedulerEvent(ev SchedulerEvent, sched *Scheduler) {
	r.mu.Lock()
	state := r.ensureLocked(ev.JobID, sched)
	now := time.Now().UTC()

	switch ev.Code {
	case EventSubmitted:
		state.Status = StatusRunning
		state.RunningSince = &now
		state.Error = ""
		state.FilesTotal = nil
		state.FilesProcessed = nil
		state.CurrentFile = ""

		jobType := RecordTypeScheduled
		if strings.HasPrefix(ev.JobID, ScanLibraryJobPrefix) {
			jobType = RecordTypeOneOff
		}
		r.history.Open(ev.JobID, state.Name, state.NameKey, jobType, now)

	case EventExecuted:
		// A job body that observed cancellation reports success to the
		// scheduler; keep the cancelled status it already set.
		if state.Status != StatusCancelled {
			state.Status = StatusSuccess
			r.history.Complete(ev.JobID, "completed", "")
		}
		scheduled := ev.ScheduledRunTime
		state.LastRunTime = &scheduled
		state.RunningSince = nil
		state.Error = ""

	case EventError, EventMissed:
		state.Status = StatusFailed
		scheduled := ev.ScheduledRunTime
		state.LastRunTime = &scheduled
		state.RunningSince = nil
		errMsg := "missed scheduled run"
		if ev.Err != nil {
			errMsg = ev.Err.Error()
		}
		state.Error = errMsg
		r.history.Complete(ev.JobID, "failed", errMsg)
	}

	if sched != nil {
		if job, ok := sched.GetJob(ev.JobID); ok {
			state.NextRunTime = job.NextRunTime
		} else {
			state.NextRunTime = nil
		}
	}
	snapshot := state.clone()
	r.mu.Unlock()

	r.publishState(events.EventJobState, snapshot)
}

func (r *Registry) publishState(eventType events.EventType, state JobState) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{
		Type:   eventType,
		Source: "jobmodule",
		Data: map[string]interface{}{
			"job": state,
		},
	})
}

func fallbackName(jobID string) string {
	if strings.HasPrefix(jobID, ScanLibraryJobPrefix) {
		// scan_library_{library_id}_{timestamp}
		parts := strings.Split(jobID, "_")
		if len(parts) >= 3 {
			return "Library Scanner: " + parts[2]
		}
		return "Library Scanner"
	}
	words := strings.Split(jobID, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func nameKey(jobID string) string {
	if strings.HasPrefix(jobID, ScanLibraryJobPrefix) {
		return "jobs.names.scan_library"
	}
	return "jobs.names." + jobID
}
