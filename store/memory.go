package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hammadnadeem/employeekit/descriptor"
)

// MemoryStore implements TaskStore with in-memory storage. Useful for
// testing and single-process runs; the mutex makes every stage change
// atomic, mirroring the rename semantics of DirStore.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*descriptor.Descriptor
	closed atomic.Bool
}

// NewMemoryStore creates a new in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*descriptor.Descriptor),
	}
}

// Create stores a new descriptor in Intake.
func (s *MemoryStore) Create(ctx context.Context, d *descriptor.Descriptor) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if d == nil || d.ID == "" {
		return ErrInvalidUpdate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[d.ID]; ok {
		return ErrExists
	}

	clone := d.Clone()
	clone.Stage = descriptor.StageIntake
	clone.Owner = ""
	s.byID[d.ID] = clone
	return nil
}

// Get retrieves a descriptor by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

// List returns a snapshot of descriptors in a stage ordered by creation
// time.
func (s *MemoryStore) List(ctx context.Context, stage descriptor.Stage) ([]*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*descriptor.Descriptor
	for _, d := range s.byID {
		if d.Stage == stage {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Claim atomically moves a descriptor from Intake to Claimed.
func (s *MemoryStore) Claim(ctx context.Context, id, owner string) (*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if owner == "" {
		return nil, ErrInvalidUpdate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Stage != descriptor.StageIntake {
		if d.Stage.IsTerminal() {
			return nil, ErrInvalidTransition
		}
		return nil, ErrAlreadyClaimed
	}

	d.Stage = descriptor.StageClaimed
	d.Owner = owner
	d.AppendHistory(descriptor.StageClaimed, owner, "claimed")
	return d.Clone(), nil
}

// Release returns an abandoned claim to Intake. No-op if unclaimed.
func (s *MemoryStore) Release(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if d.Stage != descriptor.StageClaimed {
		return nil
	}

	owner := d.Owner
	d.Stage = descriptor.StageIntake
	d.Owner = ""
	d.AppendHistory(descriptor.StageIntake, owner, "released")
	return nil
}

// Transition atomically changes stage with a stale-read guard.
func (s *MemoryStore) Transition(ctx context.Context, id string, from, to descriptor.Stage, actor, note string) (*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Stage != from {
		return nil, ErrInvalidTransition
	}
	if !descriptor.CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}
	if err := checkCompletion(d, to); err != nil {
		return nil, err
	}

	d.Stage = to
	if to == descriptor.StageEscalated || to == descriptor.StageIntake || to.IsTerminal() {
		d.Owner = ""
	}
	d.AppendHistory(to, actor, note)
	return d.Clone(), nil
}

// Decide records a human decision and moves the descriptor out of
// PendingApproval.
func (s *MemoryStore) Decide(ctx context.Context, id string, dec descriptor.ApprovalDecision) (*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Stage != descriptor.StagePendingApproval {
		return nil, ErrInvalidTransition
	}

	dec.DescriptorID = id
	if dec.At.IsZero() {
		dec.At = time.Now().UTC()
	}
	d.Approval = &dec

	to := descriptor.StageApproved
	note := "approved"
	if !dec.Approved {
		to = descriptor.StageRejected
		note = "rejected"
		d.Owner = ""
	}
	d.Stage = to
	d.AppendHistory(to, dec.Actor, note)
	return d.Clone(), nil
}

// Update applies an owner-checked header edit in place.
func (s *MemoryStore) Update(ctx context.Context, id, owner string, fn func(*descriptor.Descriptor) error) (*descriptor.Descriptor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Owner != "" && owner != d.Owner {
		return nil, ErrNotOwner
	}

	updated := d.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	if err := validateUpdate(d, updated); err != nil {
		return nil, err
	}

	updated.UpdatedAt = time.Now().UTC()
	s.byID[id] = updated
	return updated.Clone(), nil
}

// Archive removes terminal descriptors older than the cutoff.
func (s *MemoryStore) Archive(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	archived := 0
	for id, d := range s.byID {
		if d.Stage.IsTerminal() && d.UpdatedAt.Before(cutoff) {
			delete(s.byID, id)
			archived++
		}
	}
	return archived, nil
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = nil
	return nil
}
