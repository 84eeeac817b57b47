// Package supervise runs the persistence loop around one claimed
// descriptor: step the executor, route approval gates through the
// gateway, route failures through the escalation controller, and stop
// only at a durable lifecycle outcome. The loop carries iteration and
// wall-clock budgets so a confused executor cannot spin forever; a
// blown budget is an escalation, never a silent drop.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hammadnadeem/employeekit/approval"
	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/escalate"
	"github.com/hammadnadeem/employeekit/logging"
	"github.com/hammadnadeem/employeekit/store"
)

// StepResult reports what one executor iteration accomplished.
type StepResult struct {
	// Done indicates the task is complete and may move to Done.
	Done bool

	// NeedsApproval indicates the executor hit a gated action and the
	// descriptor must go through the human gate before continuing.
	NeedsApproval bool

	// Reasons explain a NeedsApproval result to the human.
	Reasons []string

	// Note is appended to history on completion.
	Note string
}

// Executor performs one unit of progress on a descriptor. Step is
// called repeatedly until it reports Done, requests approval, fails, or
// the budgets run out.
type Executor interface {
	Step(ctx context.Context, d *descriptor.Descriptor) (StepResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, d *descriptor.Descriptor) (StepResult, error)

// Step implements Executor.
func (f ExecutorFunc) Step(ctx context.Context, d *descriptor.Descriptor) (StepResult, error) {
	return f(ctx, d)
}

// Outcome is where a supervised run left the descriptor.
type Outcome struct {
	Descriptor *descriptor.Descriptor
	Stage      descriptor.Stage
	Iterations int
	Elapsed    time.Duration
}

const (
	// DefaultMaxIterations bounds executor steps per run.
	DefaultMaxIterations = 25

	// DefaultWallClock bounds elapsed time per run.
	DefaultWallClock = 30 * time.Minute

	// DefaultApprovalWait bounds how long a run blocks on a human
	// decision before parking the descriptor and moving on.
	DefaultApprovalWait = 10 * time.Minute
)

// Supervisor drives executors to durable outcomes.
type Supervisor struct {
	store   store.TaskStore
	gateway *approval.Gateway
	ctrl    *escalate.Controller
	log     *logging.Logger

	maxIterations int
	wallClock     time.Duration
	approvalWait  time.Duration
	now           func() time.Time
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithMaxIterations sets the per-run step budget.
func WithMaxIterations(n int) Option {
	return func(s *Supervisor) {
		s.maxIterations = n
	}
}

// WithWallClock sets the per-run elapsed-time budget.
func WithWallClock(d time.Duration) Option {
	return func(s *Supervisor) {
		s.wallClock = d
	}
}

// WithApprovalWait sets how long a run blocks on a pending decision.
func WithApprovalWait(d time.Duration) Option {
	return func(s *Supervisor) {
		s.approvalWait = d
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Supervisor) {
		s.log = log
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		s.now = now
	}
}

// New creates a supervisor.
func New(ts store.TaskStore, gateway *approval.Gateway, ctrl *escalate.Controller, opts ...Option) *Supervisor {
	s := &Supervisor{
		store:         ts,
		gateway:       gateway,
		ctrl:          ctrl,
		log:           logging.New().WithComponent("supervise"),
		maxIterations: DefaultMaxIterations,
		wallClock:     DefaultWallClock,
		approvalWait:  DefaultApprovalWait,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run supervises one claimed descriptor to a durable outcome. Whatever
// happens inside, the descriptor ends in exactly one stage and the
// outcome reports which.
func (s *Supervisor) Run(ctx context.Context, d *descriptor.Descriptor, owner string, exec Executor) (*Outcome, error) {
	started := s.now()
	s.log.SuperviseStart(d.ID, s.maxIterations, s.wallClock)

	outcome := &Outcome{Descriptor: d, Stage: d.Stage}
	defer func() {
		outcome.Elapsed = s.now().Sub(started)
		s.log.SuperviseEnd(d.ID, outcome.Stage.String(), outcome.Iterations, outcome.Elapsed)
	}()

	cur := d
	for i := 1; i <= s.maxIterations; i++ {
		outcome.Iterations = i

		if err := ctx.Err(); err != nil {
			return s.finish(outcome, cur,
				s.ctrl.Escalate(context.WithoutCancel(ctx), cur, escalate.ReasonCanceled, err.Error()))
		}
		if s.now().Sub(started) > s.wallClock {
			return s.finish(outcome, cur,
				s.ctrl.Escalate(ctx, cur, escalate.ReasonWallClock,
					fmt.Sprintf("ran past %s budget", s.wallClock)))
		}

		result, err := exec.Step(ctx, cur)
		if err != nil {
			return s.finish(outcome, cur, s.ctrl.HandleFailure(ctx, cur, owner, err))
		}

		if result.NeedsApproval {
			next, err := s.gate(ctx, cur, owner, result.Reasons)
			if err != nil {
				return s.finish(outcome, cur, err)
			}
			if next == nil {
				// Decision pending or rejected; the run is over.
				return s.finish(outcome, cur, nil)
			}
			cur = next
			continue
		}

		if result.Done {
			return s.complete(ctx, outcome, cur, owner, result.Note)
		}
	}

	return s.finish(outcome, cur,
		s.ctrl.Escalate(ctx, cur, escalate.ReasonMaxIterations,
			fmt.Sprintf("no outcome after %d iterations", s.maxIterations)))
}

// gate parks the descriptor for approval and waits for the decision.
// Returns the approved descriptor to continue with, or nil when the run
// should stop (rejection, or the decision is still pending).
func (s *Supervisor) gate(ctx context.Context, d *descriptor.Descriptor, owner string, reasons []string) (*descriptor.Descriptor, error) {
	parked, err := s.gateway.Request(ctx, d, owner, reasons)
	if err != nil {
		return nil, err
	}

	decided, err := s.gateway.AwaitDecision(ctx, parked.ID, s.approvalWait)
	if err != nil {
		if errors.Is(err, approval.ErrDecisionTimeout) {
			// The descriptor stays parked; a later cycle resumes it
			// once the human decides.
			return nil, nil
		}
		return nil, err
	}

	if decided.Stage != descriptor.StageApproved {
		return nil, nil
	}
	return decided, nil
}

// complete re-checks the durable stage before declaring success: a
// human may have moved the descriptor while the executor ran, and the
// partition is authoritative.
func (s *Supervisor) complete(ctx context.Context, outcome *Outcome, cur *descriptor.Descriptor, owner, note string) (*Outcome, error) {
	durable, err := s.store.Get(ctx, cur.ID)
	if err != nil {
		return s.finish(outcome, cur, err)
	}
	if durable.Stage != descriptor.StageClaimed && durable.Stage != descriptor.StageApproved {
		// Someone moved it out from under the run; their stage wins.
		return s.finish(outcome, durable, nil)
	}

	if note == "" {
		note = "completed"
	}
	done, err := s.store.Transition(ctx, durable.ID, durable.Stage, descriptor.StageDone, owner, note)
	if err != nil {
		if errors.Is(err, store.ErrApprovalRequired) {
			// The policy flag was set after the executor decided it was
			// done; route through the gate instead of bypassing it.
			next, gerr := s.gate(ctx, durable, owner, []string{"completion requires approval"})
			if gerr != nil {
				return s.finish(outcome, durable, gerr)
			}
			if next == nil {
				return s.finish(outcome, durable, nil)
			}
			return s.complete(ctx, outcome, next, owner, note)
		}
		return s.finish(outcome, durable, err)
	}
	return s.finish(outcome, done, nil)
}

// finish settles the outcome on the descriptor's durable stage.
func (s *Supervisor) finish(outcome *Outcome, fallback *descriptor.Descriptor, err error) (*Outcome, error) {
	if d, gerr := s.store.Get(context.Background(), fallback.ID); gerr == nil {
		outcome.Descriptor = d
		outcome.Stage = d.Stage
	} else {
		outcome.Descriptor = fallback
		outcome.Stage = fallback.Stage
	}
	return outcome, err
}
