package sync

import (
	"sync"
	"time"
)

// recentLogCapacity caps the human-readable event log projected by the
// status endpoint.
const recentLogCapacity = 50

// Event is one human-readable entry in the recent log.
type Event struct {
	// Level tags the entry: info, warning or error.
	Level string `json:"level"`
	// Message is the display text.
	Message string `json:"message"`
	// At is the event time in UTC ISO-8601.
	At string `json:"at"`
}

// RecentLog is a bounded, newest-first event log.
type RecentLog struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

// NewRecentLog creates an empty log.
func NewRecentLog() *RecentLog {
	return &RecentLog{now: time.Now}
}

// Info records an informational entry.
func (r *RecentLog) Info(message string) { r.add("info", message) }

// Warning records a warning entry.
func (r *RecentLog) Warning(message string) { r.add("warning", message) }

// Error records an error entry.
func (r *RecentLog) Error(message string) { r.add("error", message) }

func (r *RecentLog) add(level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := Event{
		Level:   level,
		Message: message,
		At:      r.now().UTC().Format(time.RFC3339),
	}

	r.events = append([]Event{event}, r.events...)
	if len(r.events) > recentLogCapacity {
		r.events = r.events[:recentLogCapacity]
	}
}

// Snapshot returns a copy of the log, newest first.
func (r *RecentLog) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]Event, len(r.events))
	copy(events, r.events)

	return events
}
