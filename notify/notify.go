// Package notify delivers human-facing lifecycle events: escalations,
// approval requests, alerts. The orchestration components emit events
// after the durable record is written; delivery failures never undo a
// lifecycle change.
//
// Two implementations are provided:
//
//   - MemoryNotifier: in-process, for testing and single-process runs
//   - NATSNotifier: publishes JSON events over NATS so dashboards and
//     chat bridges can subscribe without touching the vault
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrClosed = errors.New("notifier closed")
)

// Severity ranks how urgently a human should look.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event kinds.
const (
	KindEscalation        = "escalation"
	KindApprovalRequested = "approval_requested"
	KindApprovalDecided   = "approval_decided"
	KindAlert             = "alert"
	KindQuarantine        = "quarantine"
	KindRetryExhausted    = "retry_exhausted"
)

// Event is one human-facing notification.
type Event struct {
	ID           string            `json:"id"`
	DescriptorID string            `json:"descriptor_id"`
	Kind         string            `json:"kind"`
	Severity     Severity          `json:"severity"`
	Summary      string            `json:"summary"`
	Reason       string            `json:"reason,omitempty"`
	Actor        string            `json:"actor,omitempty"`
	At           time.Time         `json:"at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event with a generated ID and timestamp.
func NewEvent(descriptorID, kind string, severity Severity, summary string) Event {
	return Event{
		ID:           uuid.NewString(),
		DescriptorID: descriptorID,
		Kind:         kind,
		Severity:     severity,
		Summary:      summary,
		At:           time.Now().UTC(),
	}
}

// Encode renders the event as JSON for the wire and the journal.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a JSON event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Notifier delivers events to humans or downstream systems.
type Notifier interface {
	// Notify delivers one event. Implementations must not block
	// indefinitely; respect ctx.
	Notify(ctx context.Context, event Event) error

	// Close releases resources held by the notifier.
	Close() error
}
