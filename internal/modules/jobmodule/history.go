package jobmodule

import (
	"sync"
	"time"
)

// historyCapacity bounds the in-memory execution history ring.
const historyCapacity = 100

// Execution record types
const (
	RecordTypeScheduled = "scheduled"
	RecordTypeOneOff    = "one-off"
)

// ExecutionRecord is one historical job run.
type ExecutionRecord struct {
	JobID           string     `json:"job_id"`
	JobName         string     `json:"job_name"`
	NameKey         string     `json:"name_key"`
	JobType         string     `json:"job_type"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	DurationSeconds *float64   `json:"duration_seconds"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	FilesTotal      *int       `json:"files_total"`
	FilesProcessed  *int       `json:"files_processed"`
}

// History is an append-only ring buffer of execution records.
type History struct {
	mu       sync.Mutex
	records  []ExecutionRecord
	capacity int
}

// NewHistory creates a ring buffer holding at most capacity records.
// Capacities below historyCapacity are raised to historyCapacity.
func NewHistory(capacity int) *History {
	if capacity < historyCapacity {
		capacity = historyCapacity
	}
	return &History{capacity: capacity}
}

// Open appends a new running record for a job execution.
func (h *History) Open(jobID, jobName, nameKey, jobType string, startedAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, ExecutionRecord{
		JobID:     jobID,
		JobName:   jobName,
		NameKey:   nameKey,
		JobType:   jobType,
		StartedAt: startedAt,
		Status:    "running",
	})
	if len(h.records) > h.capacity {
		h.records = h.records[len(h.records)-h.capacity:]
	}
}

// Complete closes the most recent running record for the job.
func (h *History) Complete(jobID, status, errMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.records) - 1; i >= 0; i-- {
		rec := &h.records[i]
		if rec.JobID == jobID && rec.Status == "running" {
			now := time.Now().UTC()
			rec.Status = status
			rec.CompletedAt = &now
			rec.Error = errMsg
			duration := now.Sub(rec.StartedAt).Seconds()
			rec.DurationSeconds = &duration
			return
		}
	}
}

// UpdateProgress mirrors progress counters into the open record for the job.
func (h *History) UpdateProgress(jobID string, filesTotal, filesProcessed *int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.records) - 1; i >= 0; i-- {
		rec := &h.records[i]
		if rec.JobID == jobID && rec.Status == "running" {
			if filesTotal != nil {
				rec.FilesTotal = filesTotal
			}
			if filesProcessed != nil {
				rec.FilesProcessed = filesProcessed
			}
			return
		}
	}
}

// Records returns the history, most recent first.
func (h *History) Records() []ExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ExecutionRecord, len(h.records))
	for i, rec := range h.records {
		out[len(h.records)-1-i] = rec
	}
	return out
}
