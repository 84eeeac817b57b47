// Package escalate turns classified failures into lifecycle outcomes.
// Every failure kind has exactly one handling policy: transient
// failures retry with exponential backoff up to a cap, authentication
// failures escalate immediately, logic failures quarantine, system
// faults restart until they recur too often, and policy violations
// block and escalate at highest severity. Escalation is a last resort
// with a full durable trail: stage change, journal record, and a
// human-facing notification.
package escalate

import (
	"context"
	"fmt"
	"time"

	"github.com/hammadnadeem/employeekit/audit"
	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/errors"
	"github.com/hammadnadeem/employeekit/logging"
	"github.com/hammadnadeem/employeekit/notify"
	"github.com/hammadnadeem/employeekit/store"
)

// Escalation reasons recorded in the journal and the notification.
const (
	ReasonMaxRetries     = "MaxRetriesExceeded"
	ReasonMaxIterations  = "MaxIterationsExceeded"
	ReasonWallClock      = "WallClockExceeded"
	ReasonAuthentication = "AuthenticationFailure"
	ReasonPolicy         = "PolicyViolation"
	ReasonRecurringFault = "RecurringSystemFault"
	ReasonCanceled       = "SupervisionCanceled"
)

const (
	// DefaultMaxRetries caps transient-failure retries.
	DefaultMaxRetries = 3

	// DefaultFaultThreshold caps system-fault restarts.
	DefaultFaultThreshold = 3

	// DefaultBaseBackoff is the first retry delay; it doubles per
	// attempt.
	DefaultBaseBackoff = time.Minute

	// DefaultMaxBackoff caps the exponential growth.
	DefaultMaxBackoff = time.Hour
)

// Controller applies the failure-handling policy.
type Controller struct {
	store    store.TaskStore
	journal  *audit.Journal
	notifier notify.Notifier
	log      *logging.Logger

	maxRetries     int
	faultThreshold int
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxRetries sets the transient retry cap.
func WithMaxRetries(n int) Option {
	return func(c *Controller) {
		c.maxRetries = n
	}
}

// WithFaultThreshold sets the system-fault restart cap.
func WithFaultThreshold(n int) Option {
	return func(c *Controller) {
		c.faultThreshold = n
	}
}

// WithBackoff sets the base and maximum retry delays.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Controller) {
		c.baseBackoff = base
		c.maxBackoff = max
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a failure controller. The journal and notifier may not
// be nil: escalation without a durable trail loses work silently.
func New(ts store.TaskStore, journal *audit.Journal, notifier notify.Notifier, opts ...Option) *Controller {
	c := &Controller{
		store:          ts,
		journal:        journal,
		notifier:       notifier,
		log:            logging.New().WithComponent("escalate"),
		maxRetries:     DefaultMaxRetries,
		faultThreshold: DefaultFaultThreshold,
		baseBackoff:    DefaultBaseBackoff,
		maxBackoff:     DefaultMaxBackoff,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backoff returns the delay before the given attempt (1-based),
// doubling per attempt up to the cap.
func (c *Controller) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.maxBackoff {
			return c.maxBackoff
		}
	}
	if d > c.maxBackoff {
		return c.maxBackoff
	}
	return d
}

// HandleFailure applies the handling policy for a failure hit while
// working a claimed descriptor. The descriptor must still be claimed by
// owner; on return it has been moved to whatever stage the policy
// dictates.
func (c *Controller) HandleFailure(ctx context.Context, d *descriptor.Descriptor, owner string, failure error) error {
	classified := errors.Classify(failure)

	switch classified.Kind() {
	case errors.KindTransient:
		return c.retry(ctx, d, owner, classified)

	case errors.KindAuthentication:
		return c.Escalate(ctx, d, ReasonAuthentication, classified.Error())

	case errors.KindLogic:
		return c.quarantine(ctx, d, owner, classified)

	case errors.KindSystemFault:
		return c.restart(ctx, d, owner, classified)

	case errors.KindPolicyViolation:
		if err := c.journal.Append(ctx, audit.Record{
			DescriptorID: d.ID,
			Kind:         audit.KindPolicyViolation,
			Severity:     string(notify.SeverityCritical),
			Actor:        owner,
			Summary:      d.Summary,
			Reason:       classified.Error(),
		}); err != nil {
			return err
		}
		return c.Escalate(ctx, d, ReasonPolicy, classified.Error())

	default:
		return c.Escalate(ctx, d, ReasonRecurringFault, classified.Error())
	}
}

// retry schedules another attempt or escalates once the cap is hit.
func (c *Controller) retry(ctx context.Context, d *descriptor.Descriptor, owner string, failure *errors.Error) error {
	if d.Retry.Count >= c.maxRetries {
		return c.Escalate(ctx, d, ReasonMaxRetries,
			fmt.Sprintf("%d attempts failed, last: %v", d.Retry.Count, failure))
	}

	attempt := d.Retry.Count + 1
	backoff := c.Backoff(attempt)
	nextAttempt := c.now().UTC().Add(backoff)

	updated, err := c.store.Update(ctx, d.ID, owner, func(d *descriptor.Descriptor) error {
		d.Retry.Count = attempt
		d.Retry.LastErrorKind = failure.Kind().String()
		d.Retry.NextAttempt = nextAttempt
		return nil
	})
	if err != nil {
		return fmt.Errorf("escalate: record retry state: %w", err)
	}

	if _, err := c.store.Transition(ctx, d.ID, updated.Stage, descriptor.StageIntake, owner,
		fmt.Sprintf("retry %d/%d after %s: %v", attempt, c.maxRetries, backoff, failure)); err != nil {
		return fmt.Errorf("escalate: release for retry: %w", err)
	}

	c.log.RetryScheduled(d.ID, attempt, backoff, failure.Kind().String())
	return c.journal.Append(ctx, audit.Record{
		DescriptorID: d.ID,
		Kind:         audit.KindRetry,
		Severity:     string(notify.SeverityWarning),
		Actor:        owner,
		Summary:      d.Summary,
		Reason:       failure.Error(),
		Details: map[string]string{
			"attempt": fmt.Sprintf("%d", attempt),
			"backoff": backoff.String(),
		},
	})
}

// quarantine parks the descriptor for human clarification.
func (c *Controller) quarantine(ctx context.Context, d *descriptor.Descriptor, owner string, failure *errors.Error) error {
	if _, err := c.store.Transition(ctx, d.ID, d.Stage, descriptor.StageQuarantined, owner, failure.Error()); err != nil {
		return fmt.Errorf("escalate: quarantine: %w", err)
	}
	c.log.Quarantine(d.ID, failure.Error())

	if err := c.journal.Append(ctx, audit.Record{
		DescriptorID: d.ID,
		Kind:         audit.KindQuarantine,
		Severity:     string(notify.SeverityWarning),
		Actor:        owner,
		Summary:      d.Summary,
		Reason:       failure.Error(),
	}); err != nil {
		return err
	}

	event := notify.NewEvent(d.ID, notify.KindQuarantine, notify.SeverityWarning, d.Summary)
	event.Reason = failure.Error()
	event.Actor = owner
	return c.notifier.Notify(ctx, event)
}

// restart releases the descriptor so a fresh run can pick it up, until
// the fault recurs past the threshold.
func (c *Controller) restart(ctx context.Context, d *descriptor.Descriptor, owner string, failure *errors.Error) error {
	if d.Retry.Count >= c.faultThreshold {
		return c.Escalate(ctx, d, ReasonRecurringFault,
			fmt.Sprintf("%d restarts failed, last: %v", d.Retry.Count, failure))
	}

	attempt := d.Retry.Count + 1
	updated, err := c.store.Update(ctx, d.ID, owner, func(d *descriptor.Descriptor) error {
		d.Retry.Count = attempt
		d.Retry.LastErrorKind = failure.Kind().String()
		d.Retry.NextAttempt = time.Time{}
		return nil
	})
	if err != nil {
		return fmt.Errorf("escalate: record restart state: %w", err)
	}

	if _, err := c.store.Transition(ctx, d.ID, updated.Stage, descriptor.StageIntake, owner,
		fmt.Sprintf("restart %d/%d after fault: %v", attempt, c.faultThreshold, failure)); err != nil {
		return fmt.Errorf("escalate: release for restart: %w", err)
	}

	return c.journal.Append(ctx, audit.Record{
		DescriptorID: d.ID,
		Kind:         audit.KindRetry,
		Severity:     string(notify.SeverityWarning),
		Actor:        owner,
		Summary:      d.Summary,
		Reason:       failure.Error(),
		Details:      map[string]string{"restart": fmt.Sprintf("%d", attempt)},
	})
}

// Escalate moves the descriptor to Escalated with a journal record and
// a critical notification. Callers use it directly for budget blowouts
// and cancellation; HandleFailure routes the failure kinds here.
func (c *Controller) Escalate(ctx context.Context, d *descriptor.Descriptor, reason, detail string) error {
	if _, err := c.store.Transition(ctx, d.ID, d.Stage, descriptor.StageEscalated, "escalate", reason); err != nil {
		return fmt.Errorf("escalate: transition: %w", err)
	}
	c.log.Escalation(d.ID, reason, string(notify.SeverityCritical))

	if err := c.journal.Append(ctx, audit.Record{
		DescriptorID: d.ID,
		Kind:         audit.KindEscalation,
		Severity:     string(notify.SeverityCritical),
		Summary:      d.Summary,
		Reason:       reason,
		Details:      map[string]string{"detail": detail},
	}); err != nil {
		return err
	}

	event := notify.NewEvent(d.ID, notify.KindEscalation, notify.SeverityCritical, d.Summary)
	event.Reason = reason
	event.Metadata = map[string]string{"detail": detail}
	return c.notifier.Notify(ctx, event)
}
