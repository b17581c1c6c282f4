// Package events publishes archive and file lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	FileUploaded       EventType = "file.uploaded"
	FileDeleted        EventType = "file.deleted"
	FileFailed         EventType = "file.failed"
	ArchiveQueued      EventType = "archive.queued"
	ArchiveCompressing EventType = "archive.compressing"
	ArchiveCompleted   EventType = "archive.completed"
	ArchiveFailed      EventType = "archive.failed"
	ArchiveDownloaded  EventType = "archive.downloaded"
	ArchiveDeleted     EventType = "archive.deleted"
)

// Event is the JSON message written to the bus. Key is the partitioning key,
// normally the archive or file id.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Key       string         `json:"key"`
	Data      map[string]any `json:"data,omitempty"`
}

func NewEvent(eventType EventType, key string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    "gophzip",
		Key:       key,
		Data:      data,
	}
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Publishing is best-effort: callers log errors
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
	Close() error
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, *Event) error { return nil }
func (Noop) Close() error                          { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *Recorder) Publish(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}
