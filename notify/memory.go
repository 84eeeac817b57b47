package notify

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryNotifier implements Notifier in-process. Events are retained
// for inspection and fanned out to watchers.
type MemoryNotifier struct {
	mu       sync.RWMutex
	events   []Event
	watchers []chan Event
	closed   atomic.Bool
}

// NewMemoryNotifier creates an in-process notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// Notify records the event and fans it out to watchers. A slow watcher
// drops events rather than blocking the lifecycle.
func (n *MemoryNotifier) Notify(ctx context.Context, event Event) error {
	if n.closed.Load() {
		return ErrClosed
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, event)
	for _, ch := range n.watchers {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Events returns a snapshot of all delivered events.
func (n *MemoryNotifier) Events() []Event {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}

// Watch returns a channel receiving future events. The channel is
// closed when the notifier closes.
func (n *MemoryNotifier) Watch() <-chan Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Event, 64)
	n.watchers = append(n.watchers, ch)
	return ch
}

// Close shuts down the notifier and closes all watcher channels.
func (n *MemoryNotifier) Close() error {
	if n.closed.Swap(true) {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.watchers {
		close(ch)
	}
	n.watchers = nil
	return nil
}
