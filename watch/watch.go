// Package watch runs the producer side of the lifecycle: sources pick
// up raw work items (a drop folder today, mail or chat bridges
// tomorrow), turn them into descriptors, classify them through the
// policy engine, and create them in Intake. Ingestion is idempotent:
// a source must not yield the same item twice.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/logging"
	"github.com/hammadnadeem/employeekit/policy"
	"github.com/hammadnadeem/employeekit/store"
)

// Source yields new work items as descriptors. Collect must be
// idempotent across calls: an item already yielded is never yielded
// again, even across process restarts.
type Source interface {
	// Name identifies the source in logs and history.
	Name() string

	// Collect returns descriptors for items that appeared since the
	// last call.
	Collect(ctx context.Context) ([]*descriptor.Descriptor, error)
}

// Watcher pumps sources into the store.
type Watcher struct {
	store   store.TaskStore
	engine  *policy.Engine
	sources []Source
	log     *logging.Logger
	ledger  *policy.MemoryLedger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(w *Watcher) {
		w.log = log
	}
}

// WithLedger lets the watcher record counterparties of ingested work,
// so repeat contacts stop tripping the first-contact gate.
func WithLedger(ledger *policy.MemoryLedger) Option {
	return func(w *Watcher) {
		w.ledger = ledger
	}
}

// New creates a watcher over the given sources.
func New(ts store.TaskStore, engine *policy.Engine, sources []Source, opts ...Option) *Watcher {
	w := &Watcher{
		store:   ts,
		engine:  engine,
		sources: sources,
		log:     logging.New().WithComponent("watch"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunOnce collects from every source and creates the resulting
// descriptors. A failing source does not stop the others; the first
// error is returned after all sources ran.
func (w *Watcher) RunOnce(ctx context.Context) (int, error) {
	created := 0
	var firstErr error

	for _, src := range w.sources {
		items, err := src.Collect(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("watch: collect from %s: %w", src.Name(), err)
			}
			continue
		}

		for _, d := range items {
			dec := w.engine.Classify(d)
			d.Priority = dec.Priority
			d.RequiresApproval = dec.RequiresApproval

			// Classification saw the party first; from here on they are
			// a known contact.
			if w.ledger != nil && d.Counterparty != "" {
				w.ledger.Record(d.Counterparty)
			}

			if err := w.store.Create(ctx, d); err != nil {
				if errors.Is(err, store.ErrExists) {
					continue
				}
				if firstErr == nil {
					firstErr = fmt.Errorf("watch: create %s: %w", d.ID, err)
				}
				continue
			}
			created++
			w.log.WatcherItem(d.ID, src.Name(), d.Type)
		}
	}
	return created, firstErr
}

// Run pumps sources on an interval until ctx is canceled.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("ingest_error", map[string]interface{}{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
