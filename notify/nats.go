package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// subjectPrefix is where lifecycle events are published. The event kind
// becomes the last token, so subscribers can filter with wildcards
// ("employee.notify.>" for everything, "employee.notify.escalation"
// for escalations only).
const subjectPrefix = "employee.notify."

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "employeekit-notifier",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NATSNotifier implements Notifier over NATS.
type NATSNotifier struct {
	conn *nats.Conn
}

// NewNATSNotifier connects to NATS and returns a notifier.
func NewNATSNotifier(cfg NATSConfig) (*NATSNotifier, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: nats connect: %w", err)
	}
	return &NATSNotifier{conn: conn}, nil
}

// NewNATSNotifierFromConn wraps an existing connection.
func NewNATSNotifierFromConn(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn}
}

// Notify publishes the event as JSON.
func (n *NATSNotifier) Notify(ctx context.Context, event Event) error {
	if n.conn.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := event.Encode()
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	if err := n.conn.Publish(subjectPrefix+event.Kind, data); err != nil {
		return fmt.Errorf("notify: nats publish: %w", err)
	}
	return nil
}

// Subscribe returns a channel of events matching the kind ("" or ">"
// for all kinds). The channel is closed on Unsubscribe.
func (n *NATSNotifier) Subscribe(kind string) (<-chan Event, func() error, error) {
	if n.conn.IsClosed() {
		return nil, nil, ErrClosed
	}
	if kind == "" {
		kind = ">"
	}

	ch := make(chan Event, 64)
	sub, err := n.conn.Subscribe(subjectPrefix+kind, func(m *nats.Msg) {
		event, err := DecodeEvent(m.Data)
		if err != nil {
			return
		}
		select {
		case ch <- event:
		default:
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("notify: nats subscribe: %w", err)
	}

	cancel := func() error {
		err := sub.Unsubscribe()
		close(ch)
		return err
	}
	return ch, cancel, nil
}

// Close drains and shuts down the NATS connection.
func (n *NATSNotifier) Close() error {
	n.conn.Close()
	return nil
}
