// Package policy decides, for each descriptor, how it may proceed:
// its dispatch priority, whether a human must approve before
// completion, and whether the action is allowed at all. Classification
// is a pure function of the descriptor and the loaded rules, so the
// same descriptor always gets the same decision and the engine can be
// tested without any infrastructure.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/errors"
)

// Decision is the policy outcome for one descriptor.
type Decision struct {
	// Priority orders dispatch.
	Priority descriptor.Priority

	// RequiresApproval gates completion on a recorded human decision.
	RequiresApproval bool

	// Alert requests an immediate highest-severity notification in
	// addition to the approval gate.
	Alert bool

	// Reasons lists why approval or alerting was required, for the
	// approval request and the audit trail.
	Reasons []string
}

// Ledger answers whether a counterparty has been seen before. First
// contact with an unknown party is gated on approval.
type Ledger interface {
	Known(counterparty string) bool
}

// MemoryLedger is an in-process counterparty ledger.
type MemoryLedger struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewMemoryLedger creates a ledger pre-populated with known parties.
func NewMemoryLedger(known ...string) *MemoryLedger {
	l := &MemoryLedger{seen: make(map[string]struct{})}
	for _, name := range known {
		l.Record(name)
	}
	return l
}

func normalizeParty(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Record marks a counterparty as seen.
func (l *MemoryLedger) Record(name string) {
	key := normalizeParty(name)
	if key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[key] = struct{}{}
}

// Known reports whether the counterparty was seen before.
func (l *MemoryLedger) Known(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[normalizeParty(name)]
	return ok
}

// Engine evaluates rules against descriptors.
type Engine struct {
	rules  Rules
	ledger Ledger
}

// NewEngine creates a policy engine. A nil ledger treats every
// counterparty as known.
func NewEngine(rules Rules, ledger Ledger) *Engine {
	return &Engine{rules: rules, ledger: ledger}
}

// Classify computes the policy decision for a descriptor. It never
// mutates the descriptor; callers apply the decision via the store.
func (e *Engine) Classify(d *descriptor.Descriptor) Decision {
	dec := Decision{Priority: e.typePriority(d.Type)}

	switch {
	case d.Amount > e.rules.AlertLimit:
		dec.RequiresApproval = true
		dec.Alert = true
		dec.Priority = descriptor.PriorityP0
		dec.Reasons = append(dec.Reasons,
			fmt.Sprintf("amount $%.2f exceeds alert limit $%.2f", d.Amount, e.rules.AlertLimit))
	case d.Amount >= e.rules.AutoApproveLimit:
		dec.RequiresApproval = true
		dec.Reasons = append(dec.Reasons,
			fmt.Sprintf("amount $%.2f at or above auto-approve limit $%.2f", d.Amount, e.rules.AutoApproveLimit))
	}

	if e.rules.GateUnseenCounterparty && d.Counterparty != "" && !e.known(d.Counterparty) {
		dec.RequiresApproval = true
		dec.Reasons = append(dec.Reasons,
			fmt.Sprintf("first contact with counterparty %q", d.Counterparty))
	}

	if e.rules.MaxRecipients > 0 && d.Recipients > e.rules.MaxRecipients {
		dec.RequiresApproval = true
		dec.Reasons = append(dec.Reasons,
			fmt.Sprintf("%d recipients exceeds limit of %d", d.Recipients, e.rules.MaxRecipients))
	}

	if e.rules.GateDeletion && d.DeletesData {
		dec.RequiresApproval = true
		dec.Reasons = append(dec.Reasons, "action deletes data")
	}

	return dec
}

func (e *Engine) known(counterparty string) bool {
	if e.ledger == nil {
		return true
	}
	return e.ledger.Known(counterparty)
}

func (e *Engine) typePriority(taskType string) descriptor.Priority {
	if p, ok := e.rules.TypePriorities[taskType]; ok {
		return p
	}
	return descriptor.PriorityP2
}

// Authorize checks an action string against the authority rules.
// Denied actions return a policy-violation failure; the caller blocks
// the action and escalates at highest severity.
func (e *Engine) Authorize(action string) error {
	for _, pattern := range e.rules.Authority.Denied {
		if matchAction(pattern, action) {
			return errors.PolicyViolation(
				fmt.Sprintf("action %q matches denied pattern %q", action, pattern))
		}
	}

	if len(e.rules.Authority.Allowed) > 0 {
		for _, pattern := range e.rules.Authority.Allowed {
			if matchAction(pattern, action) {
				return nil
			}
		}
		return errors.PolicyViolation(
			fmt.Sprintf("action %q outside granted authority", action))
	}

	return nil
}

// matchAction matches an action against a word-level pattern. The first
// word must match exactly; a trailing * matches any remaining words.
// Actions with shell metacharacters never match an allow pattern, so
// chained commands cannot ride in under an allowed prefix.
func matchAction(pattern, action string) bool {
	patternWords := strings.Fields(pattern)
	actionWords := strings.Fields(action)

	if len(patternWords) == 0 || len(actionWords) == 0 {
		return false
	}
	if patternWords[0] != actionWords[0] {
		return false
	}

	metachars := []string{"&&", "||", ";", "|", "`", "$(", "${", ">", "<", "\n"}
	for _, meta := range metachars {
		if strings.Contains(action, meta) {
			return false
		}
	}

	if patternWords[len(patternWords)-1] == "*" {
		for i := 0; i < len(patternWords)-1; i++ {
			if i >= len(actionWords) || patternWords[i] != actionWords[i] {
				return false
			}
		}
		return true
	}

	if len(patternWords) != len(actionWords) {
		return false
	}
	for i := range patternWords {
		if patternWords[i] != actionWords[i] {
			return false
		}
	}
	return true
}
