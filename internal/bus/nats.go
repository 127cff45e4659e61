package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSBus carries messages between processes through a NATS server.
// Topics are mapped to subjects under a fixed prefix.
type NATSBus struct {
	mu     sync.Mutex
	nc     *nats.Conn
	prefix string
	closed bool
	logger *slog.Logger
}

// DialNATS connects to the server at url. Topics are published under
// "<prefix>.<topic>"; an empty prefix publishes topics as is.
func DialNATS(url, prefix string, logger *slog.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(url, nats.Name("chatsync"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewNATS(nc, prefix, logger), nil
}

// NewNATS wraps an existing connection. Close drains it.
func NewNATS(nc *nats.Conn, prefix string, logger *slog.Logger) *NATSBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBus{
		nc:     nc,
		prefix: prefix,
		logger: logger.With("component", "bus", "kind", "nats"),
	}
}

// Subject returns the NATS subject used for topic.
func (b *NATSBus) Subject(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + "." + topic
}

// Publish sends data on topic's subject.
// NATS publish does not take a context, so ctx is only checked up front.
func (b *NATSBus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	if b.isClosed() {
		return ErrClosed
	}

	subject := b.Subject(topic)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	b.logger.Debug("publish", "subject", subject, "bytes", len(data))
	return nil
}

// Subscribe registers h for topic's subject. NATS runs handlers for one
// subscription sequentially.
func (b *NATSBus) Subscribe(topic string, h Handler) (Subscription, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	subject := b.Subject(topic)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		h(ctx, msg.Data)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	b.logger.Debug("subscribe", "subject", subject)
	return &natsSubscription{sub: sub, cancel: cancel}, nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.nc.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

func (b *NATSBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type natsSubscription struct {
	sub    *nats.Subscription
	cancel context.CancelFunc
}

func (s *natsSubscription) Unsubscribe() error {
	s.cancel()
	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrConnectionDraining) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.sub.Subject, err)
	}
	return nil
}
