// Package memory provides an in-process notification channel. It is used by
// tests and by hosts that run several logically separate applications inside
// one process.
package memory

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/singleinstance/transport"
)

// subscription is a registered receiver.
type subscription struct {
	id      uint64
	handler transport.Handler
}

// Bus is an in-memory transport. Each published payload is dispatched to
// every subscriber of the channel on its own goroutine, so handlers run off
// the publisher's goroutine just as they would with a real IPC transport.
// A Bus is safe for concurrent use; its zero value is not usable, call NewBus.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*subscription // channel -> subscribers
	nextID        atomic.Uint64
	published     atomic.Uint64
	dropped       atomic.Uint64
}

var _ transport.Transport = (*Bus)(nil)

// NewBus creates a new in-memory bus.
func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string][]*subscription),
	}
}

// OpenPublisher returns a publisher for channel. It never fails.
func (b *Bus) OpenPublisher(ctx context.Context, channel string) (transport.Publisher, error) {
	return &publisher{bus: b, channel: channel}, nil
}

// OpenSubscriber registers h on channel.
func (b *Bus) OpenSubscriber(ctx context.Context, channel string, h transport.Handler) (transport.Subscriber, error) {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: h,
	}

	b.mu.Lock()
	b.subscriptions[channel] = append(b.subscriptions[channel], sub)
	b.mu.Unlock()

	return &subscriber{bus: b, channel: channel, sub: sub}, nil
}

// SubscriberCount returns the number of open subscribers on channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[channel])
}

// Published returns how many payloads have been accepted for delivery.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Dropped returns how many payloads were published with no subscriber open.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) publish(channel string, payload []byte) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subscriptions[channel]))
	copy(subs, b.subscriptions[channel])
	b.mu.RUnlock()

	b.published.Add(1)
	if len(subs) == 0 {
		b.dropped.Add(1)
		return
	}

	for _, sub := range subs {
		data := make([]byte, len(payload))
		copy(data, payload)
		go safeCall(sub.handler, channel, data)
	}
}

func (b *Bus) unsubscribe(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[channel]
	for i, sub := range subs {
		if sub.id == id {
			b.subscriptions[channel] = append(subs[:i:i], subs[i+1:]...)
			if len(b.subscriptions[channel]) == 0 {
				delete(b.subscriptions, channel)
			}
			return
		}
	}
}

// safeCall invokes a handler and recovers from any panics so one misbehaving
// handler cannot take down the dispatching goroutine's process.
func safeCall(h transport.Handler, channel string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: memory transport handler panicked on channel %s: %v\n%s",
				channel, r, debug.Stack())
		}
	}()
	h(payload)
}

type publisher struct {
	bus     *Bus
	channel string
	closed  atomic.Bool
}

func (p *publisher) Publish(ctx context.Context, payload []byte) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.bus.publish(p.channel, payload)
	return nil
}

func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}

type subscriber struct {
	bus     *Bus
	channel string
	sub     *subscription
	once    sync.Once
}

// Close unregisters the subscriber. Dispatches already started still run;
// Close does not wait for them, so a handler may close its own subscriber.
func (s *subscriber) Close() error {
	s.once.Do(func() {
		s.bus.unsubscribe(s.channel, s.sub.id)
	})
	return nil
}
