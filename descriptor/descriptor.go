package descriptor

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry records one lifecycle event. History is append-only.
type HistoryEntry struct {
	Stage Stage     `yaml:"stage" json:"stage"`
	Actor string    `yaml:"actor" json:"actor"`
	At    time.Time `yaml:"at" json:"at"`
	Note  string    `yaml:"note,omitempty" json:"note,omitempty"`
}

// ApprovalDecision records a human decision on a gated descriptor.
type ApprovalDecision struct {
	DescriptorID string    `yaml:"descriptor_id" json:"descriptor_id"`
	Approved     bool      `yaml:"approved" json:"approved"`
	Actor        string    `yaml:"actor" json:"actor"`
	At           time.Time `yaml:"at" json:"at"`
	Note         string    `yaml:"note,omitempty" json:"note,omitempty"`
}

// RetryState tracks transient-failure handling for a descriptor.
// Count is strictly non-decreasing.
type RetryState struct {
	Count         int       `yaml:"count" json:"count"`
	LastErrorKind string    `yaml:"last_error_kind,omitempty" json:"last_error_kind,omitempty"`
	NextAttempt   time.Time `yaml:"next_attempt,omitempty" json:"next_attempt,omitempty"`
}

// Descriptor represents one unit of work moving through the lifecycle.
type Descriptor struct {
	// ID is the unique identifier. Generated on creation if empty.
	ID string

	// Type names the kind of work (e.g. "email_reply", "invoice",
	// "payment_failure"). The policy engine keys priority off it.
	Type string

	// Summary is a one-line human-readable description.
	Summary string

	// Stage is the current lifecycle position.
	Stage Stage

	// Priority orders dispatch. Assigned by the policy engine.
	Priority Priority

	// Owner is the worker holding the claim. Empty when unclaimed.
	Owner string

	// Amount is the monetary amount in dollars, zero if none.
	Amount float64

	// Counterparty identifies the external party, if any.
	Counterparty string

	// Recipients is how many external recipients the action affects.
	Recipients int

	// DeletesData marks actions that delete files or data.
	DeletesData bool

	// RequiresApproval is set by the policy engine. A descriptor with
	// this flag never reaches Done without a recorded approval.
	RequiresApproval bool

	// Approval is the recorded human decision, nil until decided.
	Approval *ApprovalDecision

	// Retry tracks transient-failure retries.
	Retry RetryState

	CreatedAt time.Time
	UpdatedAt time.Time

	// History is the append-only lifecycle record.
	History []HistoryEntry

	// Body is the free-form content. Lifecycle mutations never touch it.
	Body []byte
}

// New creates a descriptor in Intake with a generated ID.
func New(taskType, summary string) *Descriptor {
	now := time.Now().UTC()
	d := &Descriptor{
		ID:        uuid.NewString(),
		Type:      taskType,
		Summary:   summary,
		Stage:     StageIntake,
		Priority:  PriorityP2,
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.AppendHistory(StageIntake, "watcher", "created")
	return d
}

// AppendHistory appends a lifecycle event and bumps UpdatedAt.
func (d *Descriptor) AppendHistory(stage Stage, actor, note string) {
	now := time.Now().UTC()
	d.History = append(d.History, HistoryEntry{
		Stage: stage,
		Actor: actor,
		At:    now,
		Note:  note,
	})
	d.UpdatedAt = now
}

// Terminal reports whether the descriptor reached a terminal stage.
func (d *Descriptor) Terminal() bool {
	return d.Stage.IsTerminal()
}

// Clone creates a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	clone := *d

	if d.Approval != nil {
		approval := *d.Approval
		clone.Approval = &approval
	}

	if d.History != nil {
		clone.History = make([]HistoryEntry, len(d.History))
		copy(clone.History, d.History)
	}

	if d.Body != nil {
		clone.Body = make([]byte, len(d.Body))
		copy(clone.Body, d.Body)
	}

	return &clone
}
