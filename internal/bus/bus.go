// Package bus carries small broadcast messages between client instances.
//
// Delivery is fan-out and at-most-once: every live subscriber of a topic
// gets each message published after it subscribed, with no acknowledgement
// and no replay.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("bus closed")

// Handler receives one message. Handlers for a single subscription run one
// at a time, in publish order.
type Handler func(ctx context.Context, data []byte)

// Subscription is a live registration returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
}

// Bus is a topic-addressed broadcast channel.
type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string, h Handler) (Subscription, error)
	Close() error
}
