package store

import (
	"context"
	"errors"
	"time"

	"github.com/hammadnadeem/employeekit/descriptor"
)

// Common errors.
var (
	// ErrNotFound indicates the descriptor does not exist in any stage.
	ErrNotFound = errors.New("descriptor not found")

	// ErrExists indicates a descriptor with the same ID already exists.
	ErrExists = errors.New("descriptor already exists")

	// ErrAlreadyClaimed indicates another owner won the claim race.
	// Expected under concurrency: callers advance to the next
	// candidate rather than treating this as an error condition.
	ErrAlreadyClaimed = errors.New("descriptor already claimed")

	// ErrInvalidTransition indicates the descriptor's actual stage did
	// not match the expected source stage (stale read), or the
	// requested stage change is not legal.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrNotOwner indicates a field edit on a claimed descriptor was
	// attempted by someone other than the claim holder.
	ErrNotOwner = errors.New("descriptor claimed by different owner")

	// ErrApprovalRequired indicates an attempt to move an
	// approval-gated descriptor to Done without a recorded approval.
	ErrApprovalRequired = errors.New("approval required before completion")

	// ErrInvalidUpdate indicates an Update callback tried to break an
	// invariant (stage change, id change, decreasing retry count,
	// rewritten history).
	ErrInvalidUpdate = errors.New("update violates descriptor invariants")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")
)

// TaskStore is durable descriptor storage organized by stage. All
// mutation passes through the stage-transition primitives; direct field
// edits go through Update and are owner-checked.
type TaskStore interface {
	// Create stores a new descriptor in Intake.
	// Returns ErrExists if the ID is already present.
	Create(ctx context.Context, d *descriptor.Descriptor) error

	// Get retrieves a descriptor by ID from whichever stage holds it.
	// Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, id string) (*descriptor.Descriptor, error)

	// List returns a snapshot of all descriptors in a stage, ordered
	// by creation time. The snapshot is consistent enough that two
	// concurrent claims can never both succeed for the same ID.
	List(ctx context.Context, stage descriptor.Stage) ([]*descriptor.Descriptor, error)

	// Claim atomically moves a descriptor from Intake to Claimed and
	// tags it with the owner. Returns ErrAlreadyClaimed if another
	// owner won the race.
	Claim(ctx context.Context, id, owner string) (*descriptor.Descriptor, error)

	// Release returns an abandoned claim to Intake and clears the
	// owner. Idempotent: releasing an already-unclaimed descriptor is
	// a no-op, not an error.
	Release(ctx context.Context, id string) error

	// Transition atomically changes stage, appending a history entry.
	// Returns ErrInvalidTransition if the descriptor's actual stage
	// does not match from (guards stale reads) or the change is not
	// legal; the descriptor is left untouched on failure.
	Transition(ctx context.Context, id string, from, to descriptor.Stage, actor, note string) (*descriptor.Descriptor, error)

	// Decide records a human approval decision and atomically moves
	// the descriptor from PendingApproval to Approved or Rejected.
	Decide(ctx context.Context, id string, dec descriptor.ApprovalDecision) (*descriptor.Descriptor, error)

	// Update applies a header edit in place. Edits to a claimed
	// descriptor by a non-owner fail with ErrNotOwner. The callback
	// may not change stage or ID, decrease the retry count, or rewrite
	// existing history.
	Update(ctx context.Context, id, owner string, fn func(*descriptor.Descriptor) error) (*descriptor.Descriptor, error)

	// Archive compacts descriptors that reached a terminal stage
	// longer than olderThan ago. Returns how many were archived.
	Archive(ctx context.Context, olderThan time.Duration) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// validateUpdate checks the invariants an Update callback must keep.
func validateUpdate(before, after *descriptor.Descriptor) error {
	if after.ID != before.ID || after.Stage != before.Stage {
		return ErrInvalidUpdate
	}
	if after.Retry.Count < before.Retry.Count {
		return ErrInvalidUpdate
	}
	if len(after.History) < len(before.History) {
		return ErrInvalidUpdate
	}
	for i := range before.History {
		if after.History[i] != before.History[i] {
			return ErrInvalidUpdate
		}
	}
	return nil
}

// checkCompletion enforces the approval invariant at the single point
// every stage change passes through.
func checkCompletion(d *descriptor.Descriptor, to descriptor.Stage) error {
	if to != descriptor.StageDone {
		return nil
	}
	if d.RequiresApproval && (d.Approval == nil || !d.Approval.Approved) {
		return ErrApprovalRequired
	}
	return nil
}
