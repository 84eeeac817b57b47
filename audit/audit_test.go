package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndSearch(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	rec := NewRecord("abc-123", KindEscalation, "critical", "retries exhausted for vendor invoice")
	rec.Reason = "MaxRetriesExceeded"
	rec.Actor = "worker-1"
	rec.Details = map[string]string{"retry_count": "3"}
	if err := j.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := j.Search(ctx, "vendor invoice", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("hits = %d, want 1", len(got))
	}
	r := got[0]
	if r.ID != rec.ID || r.DescriptorID != "abc-123" || r.Kind != KindEscalation {
		t.Errorf("record = %+v", r)
	}
	if r.Reason != "MaxRetriesExceeded" || r.Actor != "worker-1" {
		t.Errorf("reason=%q actor=%q", r.Reason, r.Actor)
	}
	if r.Details["retry_count"] != "3" {
		t.Errorf("details = %v", r.Details)
	}
	if r.At.IsZero() {
		t.Error("timestamp lost")
	}
}

func TestAppendWritesRecordFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer j.Close()

	rec := NewRecord("abc-123", KindQuarantine, "warning", "ambiguous request")
	rec.Reason = "could not determine intent"
	if err := j.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var found string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".md") {
			found = entry.Name()
		}
	}
	if found == "" {
		t.Fatal("no record file written")
	}
	if !strings.Contains(found, KindQuarantine) {
		t.Errorf("file name %q should carry the record kind", found)
	}

	content, err := os.ReadFile(filepath.Join(dir, found))
	if err != nil {
		t.Fatal(err)
	}
	for _, fragment := range []string{"abc-123", "ambiguous request", "could not determine intent"} {
		if !strings.Contains(string(content), fragment) {
			t.Errorf("record file missing %q", fragment)
		}
	}
}

func TestForDescriptor(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, kind := range []string{KindRetry, KindRetry, KindEscalation} {
		rec := NewRecord("abc-123", kind, "warning", "attempt")
		rec.At = base.Add(time.Duration(i) * time.Minute)
		if err := j.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	other := NewRecord("other-456", KindQuarantine, "warning", "unrelated")
	if err := j.Append(ctx, other); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := j.ForDescriptor(ctx, "abc-123", 0)
	if err != nil {
		t.Fatalf("ForDescriptor failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	// Oldest first.
	for i := 1; i < len(got); i++ {
		if got[i].At.Before(got[i-1].At) {
			t.Errorf("records out of order at %d", i)
		}
	}
	if got[len(got)-1].Kind != KindEscalation {
		t.Errorf("last record kind = %q, want escalation", got[len(got)-1].Kind)
	}
}

func TestByKind(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	for i := 0; i < 3; i++ {
		rec := NewRecord("task", KindPolicyViolation, "critical", "blocked action")
		rec.At = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := j.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := j.Append(ctx, NewRecord("task", KindDecision, "info", "approved")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := j.ByKind(ctx, KindPolicyViolation, 0)
	if err != nil {
		t.Fatalf("ByKind failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	for _, r := range got {
		if r.Kind != KindPolicyViolation {
			t.Errorf("kind = %q", r.Kind)
		}
	}
}

func TestJournalReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rec := NewRecord("abc-123", KindEscalation, "critical", "wall clock exceeded")
	if err := j1.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := j1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	j2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer j2.Close()

	count, err := j2.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	got, err := j2.Search(ctx, "wall clock", 10)
	if err != nil {
		t.Fatalf("Search after reopen: %v", err)
	}
	if len(got) != 1 || got[0].ID != rec.ID {
		t.Errorf("record lost across reopen: %v", got)
	}
}
