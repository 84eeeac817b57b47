// Package approval runs the human gate. A worker that hits a gated
// action parks the descriptor in PendingApproval and either returns to
// other work or waits for the decision; a human approves or rejects
// through the gateway (or by moving the file in the vault, which the
// polling wait observes just the same).
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hammadnadeem/employeekit/audit"
	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/logging"
	"github.com/hammadnadeem/employeekit/notify"
	"github.com/hammadnadeem/employeekit/store"
)

// ErrDecisionTimeout indicates no human decided within the wait budget.
// The descriptor stays in PendingApproval; waiting longer is a caller
// choice, not a lifecycle change.
var ErrDecisionTimeout = errors.New("approval decision timed out")

// DefaultPollInterval is how often a waiting worker re-reads the
// descriptor. Decisions can arrive out-of-band, so polling the store is
// the only watch mechanism that sees them all.
const DefaultPollInterval = 2 * time.Second

// Gateway moves descriptors through the human gate.
type Gateway struct {
	store        store.TaskStore
	notifier     notify.Notifier
	journal      *audit.Journal
	log          *logging.Logger
	pollInterval time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithPollInterval sets the decision polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(g *Gateway) {
		g.pollInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(g *Gateway) {
		g.log = log
	}
}

// New creates an approval gateway.
func New(ts store.TaskStore, notifier notify.Notifier, journal *audit.Journal, opts ...Option) *Gateway {
	g := &Gateway{
		store:        ts,
		notifier:     notifier,
		journal:      journal,
		log:          logging.New().WithComponent("approval"),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Request parks a claimed descriptor in PendingApproval and notifies a
// human, carrying the policy reasons so the human knows what they are
// deciding.
func (g *Gateway) Request(ctx context.Context, d *descriptor.Descriptor, owner string, reasons []string) (*descriptor.Descriptor, error) {
	note := strings.Join(reasons, "; ")
	parked, err := g.store.Transition(ctx, d.ID, d.Stage, descriptor.StagePendingApproval, owner, note)
	if err != nil {
		return nil, fmt.Errorf("approval: request: %w", err)
	}
	g.log.ApprovalRequested(d.ID, reasons)

	event := notify.NewEvent(d.ID, notify.KindApprovalRequested, notify.SeverityWarning, d.Summary)
	event.Reason = note
	event.Actor = owner
	if err := g.notifier.Notify(ctx, event); err != nil {
		return parked, fmt.Errorf("approval: notify request: %w", err)
	}
	return parked, nil
}

// Approve records a human approval.
func (g *Gateway) Approve(ctx context.Context, id, actor, note string) (*descriptor.Descriptor, error) {
	return g.decide(ctx, id, descriptor.ApprovalDecision{
		Approved: true,
		Actor:    actor,
		Note:     note,
	})
}

// Reject records a human rejection. Rejected is terminal.
func (g *Gateway) Reject(ctx context.Context, id, actor, note string) (*descriptor.Descriptor, error) {
	return g.decide(ctx, id, descriptor.ApprovalDecision{
		Approved: false,
		Actor:    actor,
		Note:     note,
	})
}

func (g *Gateway) decide(ctx context.Context, id string, dec descriptor.ApprovalDecision) (*descriptor.Descriptor, error) {
	decided, err := g.store.Decide(ctx, id, dec)
	if err != nil {
		return nil, fmt.Errorf("approval: decide: %w", err)
	}
	g.log.ApprovalDecision(id, dec.Approved, dec.Actor)

	verdict := "approved"
	if !dec.Approved {
		verdict = "rejected"
	}
	if err := g.journal.Append(ctx, audit.Record{
		DescriptorID: id,
		Kind:         audit.KindDecision,
		Severity:     string(notify.SeverityInfo),
		Actor:        dec.Actor,
		Summary:      decided.Summary,
		Reason:       verdict,
		Details:      map[string]string{"note": dec.Note},
	}); err != nil {
		return decided, err
	}

	event := notify.NewEvent(id, notify.KindApprovalDecided, notify.SeverityInfo, decided.Summary)
	event.Reason = verdict
	event.Actor = dec.Actor
	if err := g.notifier.Notify(ctx, event); err != nil {
		return decided, fmt.Errorf("approval: notify decision: %w", err)
	}
	return decided, nil
}

// AwaitDecision blocks until the descriptor leaves PendingApproval, the
// wait budget expires, or ctx is canceled. On success it returns the
// descriptor in its post-decision stage; a budget blowout returns
// ErrDecisionTimeout with the descriptor still pending.
func (g *Gateway) AwaitDecision(ctx context.Context, id string, wait time.Duration) (*descriptor.Descriptor, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		d, err := g.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("approval: await decision: %w", err)
		}
		if d.Stage != descriptor.StagePendingApproval {
			return d, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrDecisionTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
