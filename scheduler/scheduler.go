// Package scheduler orders intake work and hands out claims. Ordering
// is priority first, then age, so urgent work cannot starve behind a
// backlog and equal-priority work is served fairly. Claiming goes
// through the store's atomic move, so any number of schedulers can run
// against the same vault.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/logging"
	"github.com/hammadnadeem/employeekit/store"
)

// ErrNoWork indicates no eligible descriptor could be claimed.
var ErrNoWork = errors.New("no eligible work")

// Window defines when non-urgent work may dispatch. The zero value is
// always open. P0 ignores the window entirely.
type Window struct {
	// StartHour and EndHour bound dispatch to [StartHour, EndHour) in
	// the given location. Both zero means no hour restriction.
	StartHour int
	EndHour   int

	// Days restricts dispatch to these weekdays. Empty means any day.
	Days []time.Weekday

	// Location resolves wall-clock hours. Nil means time.Local.
	Location *time.Location
}

// Open reports whether the window admits dispatch at t.
func (w Window) Open(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)

	if len(w.Days) > 0 {
		ok := false
		for _, day := range w.Days {
			if local.Weekday() == day {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if w.StartHour == 0 && w.EndHour == 0 {
		return true
	}
	hour := local.Hour()
	return hour >= w.StartHour && hour < w.EndHour
}

// Scheduler claims intake work in dispatch order.
type Scheduler struct {
	store  store.TaskStore
	window Window
	log    *logging.Logger
	now    func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWindow sets the business window for P1-P3 dispatch.
func WithWindow(w Window) Option {
	return func(s *Scheduler) {
		s.window = w
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Scheduler) {
		s.log = log
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler over a task store.
func New(ts store.TaskStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store: ts,
		log:   logging.New().WithComponent("scheduler"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Order sorts descriptors for dispatch: priority ascending, then
// creation time ascending. The input slice is sorted in place and
// returned.
func Order(descs []*descriptor.Descriptor) []*descriptor.Descriptor {
	sort.SliceStable(descs, func(i, j int) bool {
		if descs[i].Priority != descs[j].Priority {
			return descs[i].Priority < descs[j].Priority
		}
		return descs[i].CreatedAt.Before(descs[j].CreatedAt)
	})
	return descs
}

// Eligible reports whether a descriptor may dispatch at t. P0 always
// may; everything else waits for the business window. A descriptor
// backing off after a transient failure waits for its next attempt
// time regardless of priority.
func (s *Scheduler) Eligible(d *descriptor.Descriptor, t time.Time) bool {
	if !d.Retry.NextAttempt.IsZero() && t.Before(d.Retry.NextAttempt) {
		return false
	}
	if d.Priority == descriptor.PriorityP0 {
		return true
	}
	return s.window.Open(t)
}

// Next claims the highest-ranked eligible descriptor for owner. A lost
// claim race advances to the next candidate rather than failing the
// cycle. Returns ErrNoWork when nothing eligible remains.
func (s *Scheduler) Next(ctx context.Context, owner string) (*descriptor.Descriptor, error) {
	started := s.now()

	intake, err := s.store.List(ctx, descriptor.StageIntake)
	if err != nil {
		return nil, err
	}
	Order(intake)

	now := s.now()
	eligible := 0
	for _, d := range intake {
		if !s.Eligible(d, now) {
			continue
		}
		eligible++

		claimed, err := s.store.Claim(ctx, d.ID, owner)
		if err != nil {
			if errors.Is(err, store.ErrAlreadyClaimed) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
				s.log.ClaimConflict(d.ID, owner)
				continue
			}
			return nil, err
		}
		s.log.ClaimWon(claimed.ID, owner)
		s.log.DispatchCycle(eligible, 1, s.now().Sub(started))
		return claimed, nil
	}

	s.log.DispatchCycle(eligible, 0, s.now().Sub(started))
	return nil, ErrNoWork
}
