package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hammadnadeem/employeekit/descriptor"
)

// stageDirs maps stages to their vault partition names. The partition
// a file lives in is the authoritative current stage; the header copy
// exists for human readers and offline tooling.
var stageDirs = map[descriptor.Stage]string{
	descriptor.StageIntake:          "Needs_Action",
	descriptor.StageClaimed:         "In_Progress",
	descriptor.StagePendingApproval: "Pending_Approval",
	descriptor.StageApproved:        "Approved",
	descriptor.StageRejected:        "Rejected",
	descriptor.StageDone:            "Done",
	descriptor.StageEscalated:       "Escalated",
	descriptor.StageQuarantined:     "Quarantined",
}

const archiveDir = "Archive"

// DirStore implements TaskStore on a filesystem vault shared by
// independent worker processes. Each stage is a directory; each
// descriptor is one frontmatter file named <id>.md. The atomic
// create-or-fail primitive is rename(2): of any number of workers
// moving the same file out of a stage, exactly one rename succeeds and
// the rest fail with ENOENT.
type DirStore struct {
	root   string
	closed atomic.Bool
}

// NewDirStore creates a vault-backed store, ensuring every stage
// partition exists.
func NewDirStore(root string) (*DirStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("store: resolve root: %w", err)
	}
	for _, dir := range stageDirs {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, fmt.Errorf("store: create partition %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(abs, archiveDir), 0o755); err != nil {
		return nil, fmt.Errorf("store: create partition %s: %w", archiveDir, err)
	}
	return &DirStore{root: abs}, nil
}

// Root returns the vault root path.
func (s *DirStore) Root() string {
	return s.root
}

func (s *DirStore) path(stage descriptor.Stage, id string) string {
	return filepath.Join(s.root, stageDirs[stage], id+".md")
}

// Create writes a new descriptor into Intake with O_EXCL so two
// producers cannot create the same ID twice.
func (s *DirStore) Create(ctx context.Context, d *descriptor.Descriptor) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if d == nil || d.ID == "" {
		return ErrInvalidUpdate
	}

	clone := d.Clone()
	clone.Stage = descriptor.StageIntake
	clone.Owner = ""
	content, err := descriptor.EncodeFrontMatter(clone)
	if err != nil {
		return err
	}

	if _, ok := s.findStage(d.ID); ok {
		return ErrExists
	}

	f, err := os.OpenFile(s.path(descriptor.StageIntake, d.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("store: create descriptor: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("store: write descriptor: %w", err)
	}
	return nil
}

// findStage locates which partition currently holds the descriptor.
func (s *DirStore) findStage(id string) (descriptor.Stage, bool) {
	for _, stage := range descriptor.Stages {
		if _, err := os.Stat(s.path(stage, id)); err == nil {
			return stage, true
		}
	}
	return "", false
}

// findStageExcept reports whether the descriptor exists in any
// partition other than the given one.
func (s *DirStore) findStageExcept(stage descriptor.Stage, id string) (descriptor.Stage, bool) {
	for _, other := range descriptor.Stages {
		if other == stage {
			continue
		}
		if _, err := os.Stat(s.path(other, id)); err == nil {
			return other, true
		}
	}
	return "", false
}

// read loads and decodes a descriptor from a specific partition. The
// partition is authoritative for the current stage.
func (s *DirStore) read(stage descriptor.Stage, id string) (*descriptor.Descriptor, error) {
	data, err := os.ReadFile(s.path(stage, id))
	if err != nil {
		return nil, err
	}
	d, err := descriptor.DecodeFrontMatter(data)
	if err != nil {
		return nil, err
	}
	d.Stage = stage
	return d, nil
}

// Get retrieves a descriptor from whichever partition holds it.
func (s *DirStore) Get(ctx context.Context, id string) (*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	for _, stage := range descriptor.Stages {
		d, err := s.read(stage, id)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !isDecodeErr(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// List returns a snapshot of one partition ordered by creation time.
// Files that vanish mid-scan lost a concurrent transition race and are
// skipped.
func (s *DirStore) List(ctx context.Context, stage descriptor.Stage) ([]*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	entries, err := os.ReadDir(filepath.Join(s.root, stageDirs[stage]))
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", stage, err)
	}

	var out []*descriptor.Descriptor
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			continue
		}
		d, err := s.read(stage, strings.TrimSuffix(name, ".md"))
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// move performs the atomic partition change. Exactly one concurrent
// mover observes success; losers get ENOENT.
func (s *DirStore) move(id string, from, to descriptor.Stage) error {
	return os.Rename(s.path(from, id), s.path(to, id))
}

// rewriteHeader re-encodes the metadata header in place, preserving the
// body byte-for-byte. The write goes to a temp file in the same
// partition and is renamed over the final path so readers never observe
// a truncated file.
func (s *DirStore) rewriteHeader(stage descriptor.Stage, id string, fn func(*descriptor.Descriptor)) (*descriptor.Descriptor, error) {
	d, err := s.read(stage, id)
	if err != nil {
		return nil, err
	}
	fn(d)
	d.Stage = stage

	content, err := descriptor.EncodeFrontMatter(d)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, stageDirs[stage])
	tmp, err := os.CreateTemp(dir, "."+id+"-*")
	if err != nil {
		return nil, fmt.Errorf("store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("store: write header: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path(stage, id)); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("store: replace header: %w", err)
	}

	// A concurrent mover may have renamed the file out of this
	// partition between the read above and the rename; in that case the
	// rename re-created a stale copy next to the mover's. The mover's
	// partition wins: drop ours so the descriptor occupies exactly one
	// stage.
	if other, ok := s.findStageExcept(stage, id); ok {
		os.Remove(s.path(stage, id))
		return nil, fmt.Errorf("store: %s moved to %s during header rewrite: %w", id, other, ErrInvalidTransition)
	}
	return d, nil
}

// Claim atomically moves Intake → In_Progress and tags the owner. The
// rename is the claim; the header rewrite that follows is bookkeeping
// inside the already-exclusive partition.
func (s *DirStore) Claim(ctx context.Context, id, owner string) (*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if owner == "" {
		return nil, ErrInvalidUpdate
	}

	if err := s.move(id, descriptor.StageIntake, descriptor.StageClaimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			stage, ok := s.findStage(id)
			if !ok {
				return nil, ErrNotFound
			}
			if stage.IsTerminal() {
				return nil, ErrInvalidTransition
			}
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("store: claim: %w", err)
	}

	return s.rewriteHeader(descriptor.StageClaimed, id, func(d *descriptor.Descriptor) {
		d.Owner = owner
		d.AppendHistory(descriptor.StageClaimed, owner, "claimed")
	})
}

// Release returns an abandoned claim to Intake. No-op if unclaimed.
func (s *DirStore) Release(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	d, err := s.read(descriptor.StageClaimed, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, ok := s.findStage(id); !ok {
				return ErrNotFound
			}
			return nil
		}
		return err
	}
	owner := d.Owner

	if err := s.move(id, descriptor.StageClaimed, descriptor.StageIntake); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("store: release: %w", err)
	}

	_, err = s.rewriteHeader(descriptor.StageIntake, id, func(d *descriptor.Descriptor) {
		d.Owner = ""
		d.AppendHistory(descriptor.StageIntake, owner, "released")
	})
	return err
}

// Transition atomically changes stage with a stale-read guard.
func (s *DirStore) Transition(ctx context.Context, id string, from, to descriptor.Stage, actor, note string) (*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if !descriptor.CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}

	d, err := s.read(from, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, ok := s.findStage(id); !ok {
				return nil, ErrNotFound
			}
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	if err := checkCompletion(d, to); err != nil {
		return nil, err
	}

	if err := s.move(id, from, to); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("store: transition: %w", err)
	}

	return s.rewriteHeader(to, id, func(d *descriptor.Descriptor) {
		if to == descriptor.StageEscalated || to == descriptor.StageIntake || to.IsTerminal() {
			d.Owner = ""
		}
		d.AppendHistory(to, actor, note)
	})
}

// Decide records a human decision and moves the descriptor out of
// Pending_Approval.
func (s *DirStore) Decide(ctx context.Context, id string, dec descriptor.ApprovalDecision) (*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if _, err := s.read(descriptor.StagePendingApproval, id); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, ok := s.findStage(id); !ok {
				return nil, ErrNotFound
			}
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	dec.DescriptorID = id
	if dec.At.IsZero() {
		dec.At = time.Now().UTC()
	}

	to := descriptor.StageApproved
	note := "approved"
	if !dec.Approved {
		to = descriptor.StageRejected
		note = "rejected"
	}

	if err := s.move(id, descriptor.StagePendingApproval, to); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("store: decide: %w", err)
	}

	return s.rewriteHeader(to, id, func(d *descriptor.Descriptor) {
		d.Approval = &dec
		if !dec.Approved {
			d.Owner = ""
		}
		d.AppendHistory(to, dec.Actor, note)
	})
}

// Update applies an owner-checked header edit in place.
func (s *DirStore) Update(ctx context.Context, id, owner string, fn func(*descriptor.Descriptor) error) (*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	stage, ok := s.findStage(id)
	if !ok {
		return nil, ErrNotFound
	}

	before, err := s.read(stage, id)
	if err != nil {
		return nil, err
	}
	if before.Owner != "" && owner != before.Owner {
		return nil, ErrNotOwner
	}

	updated := before.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	if err := validateUpdate(before, updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()

	return s.rewriteHeader(stage, id, func(d *descriptor.Descriptor) {
		*d = *updated
	})
}

// Archive moves terminal descriptors older than the cutoff into the
// Archive partition.
func (s *DirStore) Archive(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	archived := 0
	for _, stage := range descriptor.Stages {
		if !stage.IsTerminal() {
			continue
		}
		descs, err := s.List(ctx, stage)
		if err != nil {
			return archived, err
		}
		for _, d := range descs {
			if !d.UpdatedAt.Before(cutoff) {
				continue
			}
			dest := filepath.Join(s.root, archiveDir, d.ID+".md")
			if err := os.Rename(s.path(stage, d.ID), dest); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return archived, fmt.Errorf("store: archive: %w", err)
			}
			archived++
		}
	}
	return archived, nil
}

// Close shuts down the store.
func (s *DirStore) Close() error {
	s.closed.Store(true)
	return nil
}

func isDecodeErr(err error) bool {
	return errors.Is(err, descriptor.ErrMissingFrontMatter) || errors.Is(err, descriptor.ErrMalformedFrontMatter)
}
