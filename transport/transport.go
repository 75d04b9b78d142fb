// Package transport defines the notification channel contract used to forward
// argument payloads from a secondary instance to the first instance.
//
// A channel is addressed purely by name. The first instance opens it as a
// [Subscriber] and keeps it open for its whole lifetime; every secondary
// instance opens it as a [Publisher], publishes exactly once and closes it.
// Payloads are opaque byte slices.
//
// Delivery is at-least-once while a subscriber is open. Nothing is persisted
// for subscribers that open later, and no ordering is promised between
// independent publishers. Handlers may be invoked concurrently from
// goroutines owned by the transport.
//
// Implementations live in sub-packages:
//
//   - [github.com/Iron-Ham/singleinstance/transport/socket]: Unix domain socket (default)
//   - [github.com/Iron-Ham/singleinstance/transport/mailbox]: watched spool directory
//   - [github.com/Iron-Ham/singleinstance/transport/memory]: in-process bus
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned when a Publisher is used after Close.
var ErrClosed = errors.New("transport: closed")

// Handler receives one payload. The slice is owned by the handler.
type Handler func(payload []byte)

// Transport opens named channels.
type Transport interface {
	// OpenPublisher opens a short-lived transmitting end of channel.
	OpenPublisher(ctx context.Context, channel string) (Publisher, error)

	// OpenSubscriber opens the receiving end of channel and starts delivering
	// payloads to h until the returned Subscriber is closed.
	OpenSubscriber(ctx context.Context, channel string, h Handler) (Subscriber, error)
}

// Publisher is the transmitting end of a channel.
type Publisher interface {
	// Publish sends payload. It returns once the transport has handed the
	// payload to the receiving side, or with an error.
	Publish(ctx context.Context, payload []byte) error

	// Close releases the publisher. Safe to call multiple times.
	Close() error
}

// Subscriber is the receiving end of a channel.
type Subscriber interface {
	// Close stops delivery and releases the channel. Safe to call multiple
	// times. Handlers already running are allowed to finish.
	Close() error
}
