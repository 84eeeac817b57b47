package descriptor

import "fmt"

// Stage represents the lifecycle position of a descriptor. The storage
// location doubles as current status: a descriptor occupies exactly one
// stage at any instant.
type Stage string

const (
	// StageIntake holds new descriptors waiting to be claimed.
	StageIntake Stage = "intake"

	// StageClaimed indicates exclusive ownership by one worker.
	StageClaimed Stage = "claimed"

	// StagePendingApproval indicates the descriptor is gated on a
	// human decision before execution may proceed.
	StagePendingApproval Stage = "pending_approval"

	// StageApproved indicates a recorded human approval; the owning
	// worker resumes execution from here.
	StageApproved Stage = "approved"

	// StageRejected is terminal: a human declined the action.
	StageRejected Stage = "rejected"

	// StageDone is terminal: work completed successfully.
	StageDone Stage = "done"

	// StageEscalated is terminal: automated handling was exhausted and
	// the task was surfaced to a human.
	StageEscalated Stage = "escalated"

	// StageQuarantined holds descriptors that need human clarification
	// before any further automated handling.
	StageQuarantined Stage = "quarantined"
)

// Stages lists every stage in partition order.
var Stages = []Stage{
	StageIntake,
	StageClaimed,
	StagePendingApproval,
	StageApproved,
	StageRejected,
	StageDone,
	StageEscalated,
	StageQuarantined,
}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// Valid reports whether the stage is one of the known lifecycle stages.
func (s Stage) Valid() bool {
	switch s {
	case StageIntake, StageClaimed, StagePendingApproval, StageApproved,
		StageRejected, StageDone, StageEscalated, StageQuarantined:
		return true
	}
	return false
}

// IsTerminal reports whether the stage ends the lifecycle. Quarantined
// is deliberately not terminal: quarantined work waits for human
// clarification and may re-enter the lifecycle.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageRejected || s == StageEscalated
}

// legalTransitions is the stage graph. Escalated is reachable from any
// non-terminal stage, which is encoded in CanTransition rather than
// listed here.
var legalTransitions = map[Stage][]Stage{
	StageIntake:          {StageClaimed},
	StageClaimed:         {StagePendingApproval, StageDone, StageIntake, StageQuarantined},
	StagePendingApproval: {StageApproved, StageRejected},
	// Approved work is live work: a resumed run can fail (back to
	// Intake for retry), hit another gated action (back to
	// Pending_Approval), or stall on ambiguity (Quarantined).
	StageApproved:    {StageDone, StagePendingApproval, StageIntake, StageQuarantined},
	StageQuarantined: {StageIntake, StageRejected},
}

// CanTransition reports whether from → to is a legal stage change.
func CanTransition(from, to Stage) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if to == StageEscalated {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority orders descriptors for dispatch. Lower values dispatch
// first.
type Priority int

const (
	// PriorityP0 is for financial anomalies, security issues and
	// payment failures. P0 bypasses the queue and business-window
	// gating and alerts immediately.
	PriorityP0 Priority = iota

	// PriorityP1 is for externally-facing urgent requests (<1h target).
	PriorityP1

	// PriorityP2 is default internal work (<4h target).
	PriorityP2

	// PriorityP3 is low-urgency housekeeping (<24h target).
	PriorityP3
)

// String returns "P0".."P3".
func (p Priority) String() string {
	return fmt.Sprintf("P%d", int(p))
}

// Valid reports whether the priority is within P0..P3.
func (p Priority) Valid() bool {
	return p >= PriorityP0 && p <= PriorityP3
}

// ParsePriority parses "P0".."P3" (case-sensitive).
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "P0":
		return PriorityP0, nil
	case "P1":
		return PriorityP1, nil
	case "P2":
		return PriorityP2, nil
	case "P3":
		return PriorityP3, nil
	}
	return 0, fmt.Errorf("invalid priority %q", s)
}
