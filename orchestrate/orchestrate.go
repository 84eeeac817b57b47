// Package orchestrate is the composition root: it assembles the store,
// scheduler, policy engine, approval gateway, escalation controller,
// supervisor, and executor into one dispatch cycle, and runs that cycle
// as a service loop. Nothing here carries its own lifecycle semantics;
// the packages underneath do, and this one only sequences them.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hammadnadeem/employeekit/approval"
	"github.com/hammadnadeem/employeekit/audit"
	"github.com/hammadnadeem/employeekit/config"
	"github.com/hammadnadeem/employeekit/dashboard"
	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/escalate"
	"github.com/hammadnadeem/employeekit/logging"
	"github.com/hammadnadeem/employeekit/notify"
	"github.com/hammadnadeem/employeekit/policy"
	"github.com/hammadnadeem/employeekit/runner"
	"github.com/hammadnadeem/employeekit/scheduler"
	"github.com/hammadnadeem/employeekit/store"
	"github.com/hammadnadeem/employeekit/supervise"
)

// Deps are the assembled collaborators. Store, Scheduler, Engine,
// Supervisor, and Executor are required; the rest are optional.
type Deps struct {
	Store      store.TaskStore
	Scheduler  *scheduler.Scheduler
	Engine     *policy.Engine
	Supervisor *supervise.Supervisor
	Executor   supervise.Executor
	Notifier   notify.Notifier
	Journal    *audit.Journal
	Projector  *dashboard.Projector

	// Worker tags claims and history entries.
	Worker string

	// PollInterval paces Serve.
	PollInterval time.Duration

	// ArchiveAfter enables terminal-descriptor compaction in Serve.
	// Zero disables it.
	ArchiveAfter time.Duration

	// DashboardPath is where the projection is written. Empty skips
	// the dashboard refresh.
	DashboardPath string
}

// CycleReport summarizes one dispatch cycle.
type CycleReport struct {
	// Resumed counts approved descriptors picked back up.
	Resumed int

	// Dispatched counts fresh claims worked this cycle.
	Dispatched int

	// Outcomes holds the supervised outcome for every run.
	Outcomes []*supervise.Outcome
}

// Orchestrator runs dispatch cycles.
type Orchestrator struct {
	deps   Deps
	log    *logging.Logger
	dryRun bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDryRun makes cycles log intended actions without claiming or
// transitioning anything.
func WithDryRun(on bool) Option {
	return func(o *Orchestrator) {
		o.dryRun = on
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// New creates an orchestrator from assembled collaborators.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("orchestrate: store is required")
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("orchestrate: scheduler is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("orchestrate: policy engine is required")
	case deps.Supervisor == nil:
		return nil, fmt.Errorf("orchestrate: supervisor is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("orchestrate: executor is required")
	case deps.Worker == "":
		return nil, fmt.Errorf("orchestrate: worker name is required")
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = 30 * time.Second
	}

	o := &Orchestrator{
		deps: deps,
		log:  logging.New().WithComponent("orchestrate").WithWorker(deps.Worker),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// FromConfig assembles the full production stack described by cfg.
func FromConfig(cfg config.Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ts, err := store.NewDirStore(cfg.Vault.Path)
	if err != nil {
		return nil, err
	}

	journal, err := audit.Open(filepath.Join(cfg.Vault.Path, "Logs"))
	if err != nil {
		ts.Close()
		return nil, err
	}

	var notifier notify.Notifier
	switch cfg.Notifier.Backend {
	case "nats":
		ncfg := notify.DefaultNATSConfig()
		ncfg.URL = cfg.Notifier.URL
		notifier, err = notify.NewNATSNotifier(ncfg)
		if err != nil {
			journal.Close()
			ts.Close()
			return nil, err
		}
	default:
		notifier = notify.NewMemoryNotifier()
	}

	rules := policy.DefaultRules()
	if cfg.Policy.RulesFile != "" {
		rules, err = policy.LoadRules(cfg.Policy.RulesFile)
		if err != nil {
			return nil, err
		}
	}
	engine := policy.NewEngine(rules, policy.NewMemoryLedger(cfg.Policy.KnownCounterparties...))

	window, err := cfg.Window.Build()
	if err != nil {
		return nil, err
	}

	gateway := approval.New(ts, notifier, journal)
	ctrl := escalate.New(ts, journal, notifier,
		escalate.WithMaxRetries(cfg.Retry.MaxRetries),
		escalate.WithFaultThreshold(cfg.Retry.FaultThreshold),
		escalate.WithBackoff(cfg.Retry.BaseBackoff.Duration, cfg.Retry.MaxBackoff.Duration))
	super := supervise.New(ts, gateway, ctrl,
		supervise.WithMaxIterations(cfg.Supervisor.MaxIterations),
		supervise.WithWallClock(cfg.Supervisor.WallClock.Duration),
		supervise.WithApprovalWait(cfg.Supervisor.ApprovalWait.Duration))

	var exec supervise.Executor
	switch cfg.Runner.Kind {
	case "anthropic":
		exec, err = runner.NewAnthropicRunner(runner.AnthropicConfig{
			APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
			Model:     cfg.Runner.Model,
			MaxTokens: cfg.Runner.MaxTokens,
		})
	default:
		exec, err = runner.NewCommandRunner(cfg.Runner.Command, cfg.Runner.StepTimeout.Duration)
	}
	if err != nil {
		return nil, err
	}

	return New(Deps{
		Store:         ts,
		Scheduler:     scheduler.New(ts, scheduler.WithWindow(window)),
		Engine:        engine,
		Supervisor:    super,
		Executor:      exec,
		Notifier:      notifier,
		Journal:       journal,
		Projector:     dashboard.New(ts),
		Worker:        cfg.Worker.Name,
		PollInterval:  cfg.Worker.PollInterval.Duration,
		ArchiveAfter:  cfg.Vault.ArchiveAfter.Duration,
		DashboardPath: filepath.Join(cfg.Vault.Path, "Dashboard.md"),
	}, opts...)
}

// Journal exposes the audit journal for CLI inspection commands.
func (o *Orchestrator) Journal() *audit.Journal {
	return o.deps.Journal
}

// Store exposes the task store for CLI inspection commands.
func (o *Orchestrator) Store() store.TaskStore {
	return o.deps.Store
}

// RunOnce performs one dispatch cycle: refresh the dashboard, resume
// approved work this worker owns, then claim and supervise fresh intake
// until nothing eligible remains. In dry-run mode it logs what it would
// do and touches nothing.
func (o *Orchestrator) RunOnce(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{}
	o.refreshDashboard(ctx)

	if err := o.resumeApproved(ctx, report); err != nil {
		return report, err
	}

	if o.dryRun {
		if err := o.dryRunDispatch(ctx); err != nil {
			return report, err
		}
		return report, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		claimed, err := o.deps.Scheduler.Next(ctx, o.deps.Worker)
		if errors.Is(err, scheduler.ErrNoWork) {
			break
		}
		if err != nil {
			return report, err
		}

		claimed, err = o.applyPolicy(ctx, claimed)
		if err != nil {
			return report, err
		}

		report.Dispatched++
		outcome, err := o.deps.Supervisor.Run(ctx, claimed, o.deps.Worker, o.deps.Executor)
		if outcome != nil {
			report.Outcomes = append(report.Outcomes, outcome)
		}
		if err != nil {
			o.log.Error("supervised_run_failed", map[string]interface{}{
				"id":    claimed.ID,
				"error": err.Error(),
			})
		}
	}

	o.refreshDashboard(ctx)
	return report, nil
}

// resumeApproved picks up descriptors a human approved after an earlier
// run parked them. Only this worker's descriptors are resumed; another
// orchestrator instance resumes its own.
func (o *Orchestrator) resumeApproved(ctx context.Context, report *CycleReport) error {
	approved, err := o.deps.Store.List(ctx, descriptor.StageApproved)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, d := range scheduler.Order(approved) {
		if d.Owner != "" && d.Owner != o.deps.Worker {
			continue
		}
		// Approved work that failed transiently backs off like intake
		// work does; without this a failing resume spins every cycle.
		if !d.Retry.NextAttempt.IsZero() && now.Before(d.Retry.NextAttempt) {
			continue
		}
		if o.dryRun {
			o.log.DryRun(d.ID, "would_resume", map[string]interface{}{"type": d.Type})
			continue
		}

		report.Resumed++
		outcome, err := o.deps.Supervisor.Run(ctx, d, o.deps.Worker, o.deps.Executor)
		if outcome != nil {
			report.Outcomes = append(report.Outcomes, outcome)
		}
		if err != nil {
			o.log.Error("resume_failed", map[string]interface{}{
				"id":    d.ID,
				"error": err.Error(),
			})
		}
	}
	return nil
}

// applyPolicy re-classifies a freshly claimed descriptor so rule
// changes apply to work that was ingested under older rules. An alert
// decision publishes immediately, before any execution.
func (o *Orchestrator) applyPolicy(ctx context.Context, d *descriptor.Descriptor) (*descriptor.Descriptor, error) {
	dec := o.deps.Engine.Classify(d)

	updated, err := o.deps.Store.Update(ctx, d.ID, o.deps.Worker, func(d *descriptor.Descriptor) error {
		d.Priority = dec.Priority
		// The gate only ratchets on: an already-gated descriptor never
		// loses its flag to a re-classification.
		d.RequiresApproval = d.RequiresApproval || dec.RequiresApproval
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrate: apply policy: %w", err)
	}

	if dec.Alert && o.deps.Notifier != nil {
		event := notify.NewEvent(d.ID, notify.KindAlert, notify.SeverityCritical, d.Summary)
		event.Reason = fmt.Sprintf("%v", dec.Reasons)
		if err := o.deps.Notifier.Notify(ctx, event); err != nil {
			o.log.Warn("alert_failed", map[string]interface{}{"id": d.ID, "error": err.Error()})
		}
	}
	return updated, nil
}

// dryRunDispatch logs the claims a real cycle would attempt.
func (o *Orchestrator) dryRunDispatch(ctx context.Context) error {
	intake, err := o.deps.Store.List(ctx, descriptor.StageIntake)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, d := range scheduler.Order(intake) {
		if !o.deps.Scheduler.Eligible(d, now) {
			continue
		}
		dec := o.deps.Engine.Classify(d)
		o.log.DryRun(d.ID, "would_claim", map[string]interface{}{
			"type":              d.Type,
			"priority":          dec.Priority.String(),
			"requires_approval": dec.RequiresApproval,
		})
	}
	return nil
}

// Serve runs dispatch cycles on the poll interval until ctx is
// canceled, compacting terminal descriptors as it goes.
func (o *Orchestrator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(o.deps.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := o.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.log.Error("cycle_failed", map[string]interface{}{"error": err.Error()})
		}

		if o.deps.ArchiveAfter > 0 && !o.dryRun {
			if n, err := o.deps.Store.Archive(ctx, o.deps.ArchiveAfter); err != nil {
				o.log.Warn("archive_failed", map[string]interface{}{"error": err.Error()})
			} else if n > 0 {
				o.log.Info("archived", map[string]interface{}{"count": n})
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) refreshDashboard(ctx context.Context) {
	if o.deps.Projector == nil || o.deps.DashboardPath == "" {
		return
	}
	if err := o.deps.Projector.WriteFile(ctx, o.deps.DashboardPath); err != nil {
		o.log.Warn("dashboard_refresh_failed", map[string]interface{}{"error": err.Error()})
	}
}

// Close releases every resource the orchestrator holds.
func (o *Orchestrator) Close() error {
	var firstErr error
	if o.deps.Journal != nil {
		if err := o.deps.Journal.Close(); err != nil {
			firstErr = err
		}
	}
	if o.deps.Notifier != nil {
		o.deps.Notifier.Close()
	}
	if err := o.deps.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
