package dashboard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/store"
)

func seedStore(t *testing.T) store.TaskStore {
	t.Helper()
	ts := store.NewMemoryStore()
	ctx := context.Background()

	waiting := descriptor.New("invoice", "pay vendor invoice")
	waiting.Amount = 120
	waiting.RequiresApproval = true
	if err := ts.Create(ctx, waiting); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Claim(ctx, waiting.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Transition(ctx, waiting.ID, descriptor.StageClaimed,
		descriptor.StagePendingApproval, "worker-1", "amount gated"); err != nil {
		t.Fatal(err)
	}

	working := descriptor.New("email_reply", "reply to customer")
	if err := ts.Create(ctx, working); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Claim(ctx, working.ID, "worker-2"); err != nil {
		t.Fatal(err)
	}

	escalated := descriptor.New("payment_failure", "card declined twice")
	if err := ts.Create(ctx, escalated); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Claim(ctx, escalated.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Transition(ctx, escalated.ID, descriptor.StageClaimed,
		descriptor.StageEscalated, "worker-1", "MaxRetriesExceeded"); err != nil {
		t.Fatal(err)
	}

	finished := descriptor.New("report", "weekly report")
	if err := ts.Create(ctx, finished); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Claim(ctx, finished.ID, "worker-2"); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Transition(ctx, finished.ID, descriptor.StageClaimed,
		descriptor.StageDone, "worker-2", "report sent"); err != nil {
		t.Fatal(err)
	}

	idle := descriptor.New("maintenance", "rotate logs")
	if err := ts.Create(ctx, idle); err != nil {
		t.Fatal(err)
	}

	return ts
}

func TestSnapshotCounts(t *testing.T) {
	ts := seedStore(t)
	defer ts.Close()

	snap, err := New(ts).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	want := map[descriptor.Stage]int{
		descriptor.StageIntake:          1,
		descriptor.StageClaimed:         1,
		descriptor.StagePendingApproval: 1,
		descriptor.StageEscalated:       1,
		descriptor.StageDone:            1,
	}
	for stage, n := range want {
		if snap.Counts[stage] != n {
			t.Errorf("count[%s] = %d, want %d", stage, snap.Counts[stage], n)
		}
	}
	if len(snap.AwaitingApproval) != 1 {
		t.Errorf("awaiting approval = %d items", len(snap.AwaitingApproval))
	}
	if len(snap.Escalated) != 1 {
		t.Errorf("escalated = %d items", len(snap.Escalated))
	}
	if snap.DoneToday != 1 {
		t.Errorf("done today = %d, want 1", snap.DoneToday)
	}
}

func TestRenderMarkdown(t *testing.T) {
	ts := seedStore(t)
	defer ts.Close()

	snap, err := New(ts).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	page := snap.RenderMarkdown()
	for _, fragment := range []string{
		"# Task Dashboard",
		"## Pipeline",
		"## Awaiting Approval",
		"pay vendor invoice",
		"($120.00)",
		"## In Progress",
		"owner: worker-2",
		"## Recent Escalations",
		"MaxRetriesExceeded",
		"Completed today: 1",
	} {
		if !strings.Contains(page, fragment) {
			t.Errorf("rendered page missing %q", fragment)
		}
	}
}

func TestWriteFile(t *testing.T) {
	ts := seedStore(t)
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "Dashboard.md")
	if err := New(ts).WriteFile(context.Background(), path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dashboard: %v", err)
	}
	if !strings.Contains(string(content), "# Task Dashboard") {
		t.Error("dashboard file missing header")
	}

	// A refresh replaces the file in place.
	if err := New(ts).WriteFile(context.Background(), path); err != nil {
		t.Fatalf("second WriteFile failed: %v", err)
	}
}

func TestSnapshotReadOnly(t *testing.T) {
	ts := seedStore(t)
	defer ts.Close()

	before, err := ts.List(context.Background(), descriptor.StageIntake)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := New(ts).Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	after, err := ts.List(context.Background(), descriptor.StageIntake)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Errorf("snapshot mutated the store: %d -> %d intake items", len(before), len(after))
	}
}
