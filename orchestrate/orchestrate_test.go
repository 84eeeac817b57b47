package orchestrate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hammadnadeem/employeekit/approval"
	"github.com/hammadnadeem/employeekit/audit"
	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/escalate"
	"github.com/hammadnadeem/employeekit/notify"
	"github.com/hammadnadeem/employeekit/policy"
	"github.com/hammadnadeem/employeekit/scheduler"
	"github.com/hammadnadeem/employeekit/store"
	"github.com/hammadnadeem/employeekit/supervise"
)

const worker = "orchestrator-test"

func testOrchestrator(t *testing.T, exec supervise.Executor, opts ...Option) (*Orchestrator, store.TaskStore, *notify.MemoryNotifier) {
	t.Helper()

	ts := store.NewMemoryStore()
	notifier := notify.NewMemoryNotifier()
	journal, err := audit.Open(filepath.Join(t.TempDir(), "logs"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close(); ts.Close() })

	engine := policy.NewEngine(policy.DefaultRules(), nil)
	gateway := approval.New(ts, notifier, journal, approval.WithPollInterval(5*time.Millisecond))
	ctrl := escalate.New(ts, journal, notifier)
	super := supervise.New(ts, gateway, ctrl,
		supervise.WithApprovalWait(30*time.Millisecond))

	o, err := New(Deps{
		Store:        ts,
		Scheduler:    scheduler.New(ts),
		Engine:       engine,
		Supervisor:   super,
		Executor:     exec,
		Notifier:     notifier,
		Journal:      journal,
		Worker:       worker,
		PollInterval: 10 * time.Millisecond,
	}, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o, ts, notifier
}

func doneExecutor() supervise.Executor {
	return supervise.ExecutorFunc(func(ctx context.Context, d *descriptor.Descriptor) (supervise.StepResult, error) {
		return supervise.StepResult{Done: true, Note: "worked"}, nil
	})
}

func TestRunOnceWorksIntake(t *testing.T) {
	o, ts, _ := testOrchestrator(t, doneExecutor())
	ctx := context.Background()

	first := descriptor.New("report", "weekly report")
	second := descriptor.New("email_reply", "reply to customer")
	for _, d := range []*descriptor.Descriptor{first, second} {
		if err := ts.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	report, err := o.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Dispatched != 2 {
		t.Errorf("dispatched = %d, want 2", report.Dispatched)
	}

	for _, d := range []*descriptor.Descriptor{first, second} {
		got, err := ts.Get(ctx, d.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Stage != descriptor.StageDone {
			t.Errorf("%s stage = %v, want done", d.Type, got.Stage)
		}
	}
}

func TestRunOnceAppliesPolicyOnClaim(t *testing.T) {
	o, ts, notifier := testOrchestrator(t, doneExecutor())
	ctx := context.Background()

	d := descriptor.New("invoice", "pay big invoice")
	d.Amount = 600
	if err := ts.Create(ctx, d); err != nil {
		t.Fatal(err)
	}

	if _, err := o.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got, err := ts.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	// The gate cannot be satisfied without a human, so the executor's
	// Done verdict parks the descriptor instead of completing it.
	if got.Stage != descriptor.StagePendingApproval {
		t.Errorf("stage = %v, want pending_approval", got.Stage)
	}
	if !got.RequiresApproval {
		t.Error("$600 should require approval")
	}
	if got.Priority != descriptor.PriorityP0 {
		t.Errorf("priority = %v, want P0", got.Priority)
	}

	alerted := false
	for _, event := range notifier.Events() {
		if event.Kind == notify.KindAlert && event.DescriptorID == d.ID {
			alerted = true
		}
	}
	if !alerted {
		t.Error("over-limit amount should publish an alert event")
	}
}

func TestRunOnceResumesApprovedWork(t *testing.T) {
	o, ts, _ := testOrchestrator(t, doneExecutor())
	ctx := context.Background()

	d := descriptor.New("invoice", "pay vendor invoice")
	d.RequiresApproval = true
	if err := ts.Create(ctx, d); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Claim(ctx, d.ID, worker); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Transition(ctx, d.ID, descriptor.StageClaimed,
		descriptor.StagePendingApproval, worker, "gated"); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Decide(ctx, d.ID, descriptor.ApprovalDecision{
		DescriptorID: d.ID,
		Approved:     true,
		Actor:        "boss",
	}); err != nil {
		t.Fatal(err)
	}

	report, err := o.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Resumed != 1 {
		t.Errorf("resumed = %d, want 1", report.Resumed)
	}

	got, err := ts.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != descriptor.StageDone {
		t.Errorf("stage = %v, want done", got.Stage)
	}
}

func TestRunOnceHonorsBackoffOnApprovedWork(t *testing.T) {
	o, ts, _ := testOrchestrator(t, doneExecutor())
	ctx := context.Background()

	d := descriptor.New("invoice", "pay vendor invoice")
	d.RequiresApproval = true
	if err := ts.Create(ctx, d); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Claim(ctx, d.ID, worker); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Transition(ctx, d.ID, descriptor.StageClaimed,
		descriptor.StagePendingApproval, worker, "gated"); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Decide(ctx, d.ID, descriptor.ApprovalDecision{
		DescriptorID: d.ID,
		Approved:     true,
		Actor:        "boss",
	}); err != nil {
		t.Fatal(err)
	}
	// The resumed run failed transiently earlier and is backing off.
	if _, err := ts.Update(ctx, d.ID, worker, func(d *descriptor.Descriptor) error {
		d.Retry.Count = 1
		d.Retry.NextAttempt = time.Now().UTC().Add(time.Hour)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	report, err := o.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Resumed != 0 {
		t.Errorf("resumed = %d, want 0 (backoff not elapsed)", report.Resumed)
	}

	got, err := ts.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != descriptor.StageApproved {
		t.Errorf("stage = %v, want approved untouched", got.Stage)
	}
}

func TestRunOnceSkipsOtherWorkersApprovedWork(t *testing.T) {
	o, ts, _ := testOrchestrator(t, doneExecutor())
	ctx := context.Background()

	d := descriptor.New("invoice", "someone else's task")
	if err := ts.Create(ctx, d); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Claim(ctx, d.ID, "other-worker"); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Transition(ctx, d.ID, descriptor.StageClaimed,
		descriptor.StagePendingApproval, "other-worker", "gated"); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Decide(ctx, d.ID, descriptor.ApprovalDecision{
		DescriptorID: d.ID,
		Approved:     true,
		Actor:        "boss",
	}); err != nil {
		t.Fatal(err)
	}

	report, err := o.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Resumed != 0 {
		t.Errorf("resumed = %d, want 0", report.Resumed)
	}

	got, err := ts.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != descriptor.StageApproved {
		t.Errorf("stage = %v, want approved untouched", got.Stage)
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	o, ts, _ := testOrchestrator(t, doneExecutor(), WithDryRun(true))
	ctx := context.Background()

	d := descriptor.New("report", "weekly report")
	if err := ts.Create(ctx, d); err != nil {
		t.Fatal(err)
	}

	report, err := o.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Dispatched != 0 || report.Resumed != 0 {
		t.Errorf("dry run dispatched work: %+v", report)
	}

	got, err := ts.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != descriptor.StageIntake {
		t.Errorf("stage = %v, want intake untouched", got.Stage)
	}
	if got.Owner != "" {
		t.Errorf("owner = %q, want empty", got.Owner)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	o, _, _ := testOrchestrator(t, doneExecutor())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}

func TestNewValidatesDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("empty deps should fail")
	}
}
