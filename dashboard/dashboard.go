// Package dashboard projects store contents into a human-readable
// status page. The projection is read-only and recomputed on every
// refresh; the rendered file is never the source of truth for anything.
package dashboard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/store"
)

// maxListed bounds the per-section item lists so the page stays
// readable when a stage backs up.
const maxListed = 20

// Snapshot is one point-in-time projection of the store.
type Snapshot struct {
	At               time.Time
	Counts           map[descriptor.Stage]int
	AwaitingApproval []*descriptor.Descriptor
	InProgress       []*descriptor.Descriptor
	Escalated        []*descriptor.Descriptor
	DoneToday        int
}

// Projector builds snapshots from a store.
type Projector struct {
	store store.TaskStore
	clock func() time.Time
}

// Option configures a Projector.
type Option func(*Projector)

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(p *Projector) {
		p.clock = clock
	}
}

// New creates a projector over the store.
func New(ts store.TaskStore, opts ...Option) *Projector {
	p := &Projector{
		store: ts,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Snapshot reads every stage and computes the projection.
func (p *Projector) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := p.clock()
	snap := &Snapshot{
		At:     now,
		Counts: make(map[descriptor.Stage]int, len(descriptor.Stages)),
	}

	for _, stage := range descriptor.Stages {
		descs, err := p.store.List(ctx, stage)
		if err != nil {
			return nil, fmt.Errorf("dashboard: list %s: %w", stage, err)
		}
		snap.Counts[stage] = len(descs)

		switch stage {
		case descriptor.StagePendingApproval:
			snap.AwaitingApproval = descs
		case descriptor.StageClaimed:
			snap.InProgress = descs
		case descriptor.StageEscalated:
			// Newest first so operators see the latest problem on top.
			sort.Slice(descs, func(i, j int) bool {
				return descs[i].UpdatedAt.After(descs[j].UpdatedAt)
			})
			snap.Escalated = descs
		case descriptor.StageDone:
			y, m, d := now.Date()
			dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
			for _, desc := range descs {
				if !desc.UpdatedAt.Before(dayStart) {
					snap.DoneToday++
				}
			}
		}
	}
	return snap, nil
}

// RenderMarkdown renders the snapshot as a Markdown page.
func (s *Snapshot) RenderMarkdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task Dashboard\n\nUpdated: %s\n\n", s.At.Format("2006-01-02 15:04:05 MST"))

	b.WriteString("## Pipeline\n\n| Stage | Count |\n|---|---|\n")
	for _, stage := range descriptor.Stages {
		fmt.Fprintf(&b, "| %s | %d |\n", stage, s.Counts[stage])
	}
	fmt.Fprintf(&b, "\nCompleted today: %d\n", s.DoneToday)

	renderList(&b, "Awaiting Approval", s.AwaitingApproval, func(d *descriptor.Descriptor) string {
		line := fmt.Sprintf("- **%s** `%s` [%s] %s", d.Priority, d.ID, d.Type, d.Summary)
		if d.Amount > 0 {
			line += fmt.Sprintf(" ($%.2f)", d.Amount)
		}
		return line
	})

	renderList(&b, "In Progress", s.InProgress, func(d *descriptor.Descriptor) string {
		return fmt.Sprintf("- **%s** `%s` [%s] %s (owner: %s)", d.Priority, d.ID, d.Type, d.Summary, d.Owner)
	})

	renderList(&b, "Recent Escalations", s.Escalated, func(d *descriptor.Descriptor) string {
		reason := ""
		for i := len(d.History) - 1; i >= 0; i-- {
			if d.History[i].Stage == descriptor.StageEscalated {
				reason = d.History[i].Note
				break
			}
		}
		return fmt.Sprintf("- `%s` [%s] %s: %s", d.ID, d.Type, d.Summary, reason)
	})

	return b.String()
}

func renderList(b *strings.Builder, title string, descs []*descriptor.Descriptor, line func(*descriptor.Descriptor) string) {
	fmt.Fprintf(b, "\n## %s\n\n", title)
	if len(descs) == 0 {
		b.WriteString("None.\n")
		return
	}
	shown := descs
	if len(shown) > maxListed {
		shown = shown[:maxListed]
	}
	for _, d := range shown {
		b.WriteString(line(d))
		b.WriteByte('\n')
	}
	if len(descs) > maxListed {
		fmt.Fprintf(b, "\nand %d more.\n", len(descs)-maxListed)
	}
}

// WriteFile recomputes the projection and writes it to path. The write
// goes through a temp file and rename so readers never see a partial
// page.
func (p *Projector) WriteFile(ctx context.Context, path string) error {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".dashboard-*")
	if err != nil {
		return fmt.Errorf("dashboard: create temp: %w", err)
	}
	if _, err := tmp.WriteString(snap.RenderMarkdown()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("dashboard: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("dashboard: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("dashboard: publish: %w", err)
	}
	return nil
}
