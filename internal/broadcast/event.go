// Package broadcast streams batch state deltas to subscribers. The hub
// replays the current snapshot as a connected event on attach, fans out
// progress deltas to every subscriber of a batch id, and guarantees exactly
// one of complete/error as the final event per batch. Sinks observe the same
// stream for metrics, logging, and archival.
package broadcast

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drmweyers/mealbatch/internal/batch"
)

// Type names the wire events a subscriber can receive.
type Type string

// Supported event types.
const (
	TypeConnected Type = "connected"
	TypeProgress  Type = "progress"
	TypeComplete  Type = "complete"
	TypeError     Type = "error"
)

// Event is one state delta for a batch. Connected and progress events carry a
// full job snapshot; observers replace their view wholesale rather than
// merging fields. Error events additionally carry Message.
type Event struct {
	Type    Type
	BatchID uuid.UUID
	TS      time.Time

	// Job is the snapshot current as of this event.
	Job batch.Job

	// Message holds the business failure reason for error events.
	Message string
}

// Validate performs coarse validation before the hub accepts an event.
func (e Event) Validate() error {
	if e.BatchID == uuid.Nil {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeConnected, TypeProgress, TypeComplete:
	case TypeError:
		if e.Message == "" {
			return errors.New("error event requires a message")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Terminal reports whether this event ends the stream for its batch.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}
