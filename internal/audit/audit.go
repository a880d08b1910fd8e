// Package audit provides an append-only audit log of authentication activity.
// Every login, registration and logout attempt is recorded; secrets never are.
package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies audit events.
type EventType string

const (
	EventLoginSuccess    EventType = "auth.login"
	EventLoginFailed     EventType = "auth.login_failed"
	EventRegisterSuccess EventType = "auth.register"
	EventRegisterFailed  EventType = "auth.register_failed"
	EventLogout          EventType = "auth.logout"
	EventCanceled        EventType = "auth.canceled"
)

// Event is a single audit log entry.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Actor     string            `json:"actor,omitempty"` // email the attempt was made for
	Summary   string            `json:"summary"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Log is an append-only audit log.
type Log struct {
	events []Event
	mu     sync.RWMutex
	maxLen int // ring buffer size (0 = unbounded)
}

// NewLog creates a new audit log. maxLen=0 means unbounded.
func NewLog(maxLen int) *Log {
	return &Log{
		events: make([]Event, 0, 64),
		maxLen: maxLen,
	}
}

// Record appends an event to the log.
func (l *Log) Record(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, evt)

	if l.maxLen > 0 && len(l.events) > l.maxLen {
		l.events = l.events[len(l.events)-l.maxLen:]
	}
}

// Filter narrows Query results. Limit=0 means all.
type Filter struct {
	Actor string
	Type  EventType
	Since time.Time
	Limit int
}

// Query returns filtered events, newest first.
func (l *Log) Query(f Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Event
	for i := len(l.events) - 1; i >= 0; i-- {
		evt := l.events[i]

		if f.Actor != "" && evt.Actor != f.Actor {
			continue
		}
		if f.Type != "" && evt.Type != f.Type {
			continue
		}
		if !f.Since.IsZero() && evt.Timestamp.Before(f.Since) {
			continue
		}

		result = append(result, evt)

		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}

	return result
}

// Count returns total event count.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// MarshalJSON exports all events as JSON.
func (l *Log) MarshalJSON() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(l.events)
}
