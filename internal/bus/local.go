package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cskr/pubsub"
)

const defaultCapacity = 128

// LocalBus fans messages out to subscribers in the same process.
//
// Each subscription drains its channel on its own goroutine, so a slow
// handler delays only its own subscription.
type LocalBus struct {
	mu     sync.RWMutex
	ps     *pubsub.PubSub
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewLocal creates an in-process bus.
func NewLocal(logger *slog.Logger) *LocalBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBus{
		ps:     pubsub.New(defaultCapacity),
		logger: logger.With("component", "bus", "kind", "local"),
	}
}

// Publish delivers a copy of data to every current subscriber of topic.
func (b *LocalBus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := append([]byte(nil), data...)
	b.logger.Debug("publish", "topic", topic, "bytes", len(msg))
	b.ps.Pub(msg, topic)
	return nil
}

// Subscribe registers h for topic.
func (b *LocalBus) Subscribe(topic string, h Handler) (Subscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}

	ch := b.ps.Sub(topic)
	ctx, cancel := context.WithCancel(context.Background())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		for msg := range ch {
			data, ok := msg.([]byte)
			if !ok {
				continue
			}
			h(ctx, data)
		}
	}()

	b.logger.Debug("subscribe", "topic", topic)
	return &localSubscription{bus: b, ch: ch, cancel: cancel}, nil
}

// Close stops delivery and waits for running handlers to return.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.ps.Shutdown()
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

type localSubscription struct {
	bus    *LocalBus
	ch     chan interface{}
	cancel context.CancelFunc
	once   sync.Once
}

func (s *localSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.bus.mu.RLock()
		defer s.bus.mu.RUnlock()
		// Shutdown already closed every channel.
		if s.bus.closed {
			return
		}
		s.bus.ps.Unsub(s.ch)
		s.bus.logger.Debug("unsubscribe")
	})
	return nil
}
