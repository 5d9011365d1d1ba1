package jobmodule

import (
	"fmt"
	"sync"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/apperrors"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
	"github.com/robfig/cron/v3"
)

// Trigger kinds
const (
	TriggerKindInterval = "interval"
	TriggerKindCron     = "cron"
	TriggerKindDate     = "date"
)

// Scheduler event codes
type EventCode int

const (
	EventSubmitted EventCode = iota
	EventExecuted
	EventError
	EventMissed
)

// SchedulerEvent is emitted to listeners on job lifecycle transitions.
type SchedulerEvent struct {
	Code             EventCode
	JobID            string
	ScheduledRunTime time.Time
	Err              error
}

// Listener receives scheduler events. Submitted and missed events are
// delivered on the dispatcher goroutine; executed and error events on the
// job's own goroutine. Listeners must not block.
type Listener func(ev SchedulerEvent)

// JobFunc is a schedulable job body. It receives its own job id so it can
// report progress and poll cancellation through the registry.
type JobFunc func(jobID string, args map[string]interface{}) error

// Trigger computes fire times for a job.
type Trigger interface {
	Kind() string
	// Next returns the next fire time strictly after the given time, or
	// false when the trigger is exhausted.
	Next(after time.Time) (time.Time, bool)
}

// IntervalTrigger fires every fixed period. The first run is one period
// after scheduling.
type IntervalTrigger struct {
	Every time.Duration
}

func (t IntervalTrigger) Kind() string { return TriggerKindInterval }

func (t IntervalTrigger) Next(after time.Time) (time.Time, bool) {
	return after.Add(t.Every), true
}

// CronTrigger fires on a standard five-field cron expression.
type CronTrigger struct {
	Spec     string
	schedule cron.Schedule
}

// NewCronTrigger parses a standard cron spec.
func NewCronTrigger(spec string) (CronTrigger, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return CronTrigger{}, fmt.Errorf("%w: invalid cron spec %q: %v", apperrors.ErrInvalidArgument, spec, err)
	}
	return CronTrigger{Spec: spec, schedule: schedule}, nil
}

func (t CronTrigger) Kind() string { return TriggerKindCron }

func (t CronTrigger) Next(after time.Time) (time.Time, bool) {
	return t.schedule.Next(after), true
}

// DateTrigger fires once at a fixed time, then exhausts.
type DateTrigger struct {
	At time.Time
}

func (t DateTrigger) Kind() string { return TriggerKindDate }

func (t DateTrigger) Next(after time.Time) (time.Time, bool) {
	if after.Before(t.At) {
		return t.At, true
	}
	return time.Time{}, false
}

// JobInfo is a snapshot of a scheduled job.
type JobInfo struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	TriggerKind string                 `json:"trigger"`
	NextRunTime *time.Time             `json:"next_run_time"`
	Args        map[string]interface{} `json:"-"`
}

type schedJob struct {
	id      string
	name    string
	fn      JobFunc
	trigger Trigger
	args    map[string]interface{}
	nextRun time.Time
	running bool
}

// Scheduler is a cooperative time-driven dispatcher over interval, cron, and
// one-shot date triggers.
type Scheduler struct {
	mu        sync.Mutex
	jobs      map[string]*schedJob
	listeners []Listener
	started   bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	// A run more than misfireGrace late is reported missed instead of run.
	misfireGrace time.Duration
}

// NewScheduler creates a stopped scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		jobs:         make(map[string]*schedJob),
		wake:         make(chan struct{}, 1),
		misfireGrace: time.Minute,
	}
}

// AddListener attaches a lifecycle event listener.
func (s *Scheduler) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// AddJob registers a job. With replaceExisting false, adding a duplicate id
// is a conflict.
func (s *Scheduler) AddJob(id, name string, fn JobFunc, trigger Trigger, args map[string]interface{}, replaceExisting bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists && !replaceExisting {
		return fmt.Errorf("%w: job %s already scheduled", apperrors.ErrConflict, id)
	}

	now := time.Now().UTC()
	nextRun, ok := trigger.Next(now)
	if !ok {
		// A date trigger in the past still fires once, immediately.
		nextRun = now
	}

	s.jobs[id] = &schedJob{
		id:      id,
		name:    name,
		fn:      fn,
		trigger: trigger,
		args:    args,
		nextRun: nextRun,
	}
	s.notifyWake()
	return nil
}

// RemoveJob deletes a job from the schedule.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("%w: job %s", apperrors.ErrNotFound, id)
	}
	delete(s.jobs, id)
	s.notifyWake()
	return nil
}

// ModifyJobNextRun overrides a job's next fire time. Used to trigger a
// scheduled job immediately.
func (s *Scheduler) ModifyJobNextRun(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("%w: job %s", apperrors.ErrNotFound, id)
	}
	job.nextRun = at.UTC()
	s.notifyWake()
	return nil
}

// Reschedule replaces a job's trigger, recomputing its next run.
func (s *Scheduler) Reschedule(id string, trigger Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("%w: job %s", apperrors.ErrNotFound, id)
	}
	job.trigger = trigger
	if next, ok := trigger.Next(time.Now().UTC()); ok {
		job.nextRun = next
	}
	s.notifyWake()
	return nil
}

// ModifyJobArgs replaces a job's invocation args.
func (s *Scheduler) ModifyJobArgs(id string, args map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("%w: job %s", apperrors.ErrNotFound, id)
	}
	job.args = args
	return nil
}

// GetJob returns a snapshot of one scheduled job.
func (s *Scheduler) GetJob(id string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return JobInfo{}, false
	}
	return job.snapshot(), true
}

// GetJobs returns snapshots of all scheduled jobs.
func (s *Scheduler) GetJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.snapshot())
	}
	return out
}

func (j *schedJob) snapshot() JobInfo {
	next := j.nextRun
	return JobInfo{
		ID:          j.id,
		Name:        j.name,
		TriggerKind: j.trigger.Kind(),
		NextRunTime: &next,
		Args:        j.args,
	}
}

// Started reports whether the dispatch loop is running.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Start launches the dispatch loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("%w: scheduler already started", apperrors.ErrConflict)
	}
	s.started = true
	s.done = make(chan struct{})
	go s.run()
	logger.Info("Scheduler started with %d job(s)", len(s.jobs))
	return nil
}

// Shutdown stops dispatching and waits for running job bodies to return.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("Scheduler stopped")
}

func (s *Scheduler) notifyWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

type firing struct {
	job       *schedJob
	scheduled time.Time
	missed    bool
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()
		if !s.started {
			s.mu.Unlock()
			return
		}
		now := time.Now().UTC()
		var firings []firing
		soonest := now.Add(time.Hour)
		for _, job := range s.jobs {
			if job.running {
				continue
			}
			if !job.nextRun.After(now) {
				firings = append(firings, s.claimLocked(job, now))
			} else if job.nextRun.Before(soonest) {
				soonest = job.nextRun
			}
		}
		// A missed recurring job gets no completion wake-up, so its advanced
		// next run must still bound the sleep. Dispatched jobs wake the loop
		// when their body returns.
		for _, f := range firings {
			if f.missed && f.job.nextRun.After(now) && f.job.nextRun.Before(soonest) {
				soonest = f.job.nextRun
			}
		}
		done := s.done
		s.mu.Unlock()

		// Notify and dispatch outside the lock; listeners call back into
		// the scheduler for next-run times.
		for _, f := range firings {
			s.dispatch(f)
		}

		timer := time.NewTimer(time.Until(soonest))
		select {
		case <-done:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// claimLocked advances a due job's trigger and marks it running. Caller
// holds the mutex.
func (s *Scheduler) claimLocked(job *schedJob, now time.Time) firing {
	scheduled := job.nextRun

	if next, ok := job.trigger.Next(now); ok {
		job.nextRun = next
	} else {
		delete(s.jobs, job.id)
	}

	if now.Sub(scheduled) > s.misfireGrace {
		return firing{job: job, scheduled: scheduled, missed: true}
	}
	job.running = true
	return firing{job: job, scheduled: scheduled}
}

func (s *Scheduler) dispatch(f firing) {
	if f.missed {
		logger.Warn("Job %s missed its scheduled run at %s", f.job.id, f.scheduled)
		s.notify(SchedulerEvent{Code: EventMissed, JobID: f.job.id, ScheduledRunTime: f.scheduled})
		return
	}

	s.notify(SchedulerEvent{Code: EventSubmitted, JobID: f.job.id, ScheduledRunTime: f.scheduled})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.runJob(f.job)

		s.mu.Lock()
		f.job.running = false
		s.notifyWake()
		s.mu.Unlock()

		if err != nil {
			s.notify(SchedulerEvent{Code: EventError, JobID: f.job.id, ScheduledRunTime: f.scheduled, Err: err})
		} else {
			s.notify(SchedulerEvent{Code: EventExecuted, JobID: f.job.id, ScheduledRunTime: f.scheduled})
		}
	}()
}

func (s *Scheduler) runJob(job *schedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.fn(job.id, job.args)
}

func (s *Scheduler) notify(ev SchedulerEvent) {
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}
