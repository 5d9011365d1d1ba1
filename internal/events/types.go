package events

import (
	"time"
)

// EventType identifies the kind of event flowing through the bus.
type EventType string

const (
	// Job lifecycle events
	EventJobState    EventType = "job.state"
	EventJobProgress EventType = "job.progress"

	// Scanner events
	EventScanStarted   EventType = "scan.started"
	EventScanProgress  EventType = "scan.progress"
	EventScanCompleted EventType = "scan.completed"
	EventScanFailed    EventType = "scan.failed"

	// Transcoder events
	EventTranscodeStarted   EventType = "transcode.started"
	EventTranscodeProgress  EventType = "transcode.progress"
	EventTranscodeCompleted EventType = "transcode.completed"
	EventTranscodeFailed    EventType = "transcode.failed"

	// System events
	EventSystemStarted  EventType = "system.started"
	EventSystemStopping EventType = "system.stopping"
)

// Event is a single notification published on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Filter restricts which events a subscriber receives. An empty Types list
// matches everything.
type Filter struct {
	Types   []EventType
	Sources []string
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(ev Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == ev.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if s == ev.Source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
