// Package bus carries canonical inbound envelopes from providers to
// consumers (persistence, outgoing-webhook fan-out, live taps). Single topic,
// in-process, fire-and-forget from the publisher's perspective.
package bus

import (
	"sync"

	"github.com/omnirelay/omnirelay/pkg/domain/message"
	"github.com/omnirelay/omnirelay/pkg/logger"
)

// Handler consumes one published envelope. Handlers should be idempotent;
// the remote platforms deliver at-least-once and so does the bus.
type Handler func(message.Envelope)

type subscriber struct {
	name    string
	handler Handler
}

// Bus is a bounded single-topic broadcast channel with an explicit subscriber
// list. One dispatcher goroutine delivers each envelope to every subscriber
// in registration order, so each subscriber observes publish order. A failing
// subscriber never affects the publish or the other subscribers.
type Bus struct {
	queue chan message.Envelope

	mu     sync.RWMutex
	subs   []subscriber
	closed bool

	drained   chan struct{}
	closeOnce sync.Once
}

// New creates a bus with the given queue depth and starts its dispatcher.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	b := &Bus{
		queue:   make(chan message.Envelope, buffer),
		drained: make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a named handler that will receive every envelope
// published from this point on.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscriber{name: name, handler: handler})
}

// Publish enqueues an envelope. It never blocks on subscriber completion;
// a full queue applies brief backpressure to the publisher instead of
// dropping. Publishing on a closed bus is a silent no-op.
//
// The read lock is held across the enqueue so Close cannot close the queue
// under a publisher mid-send; the dispatcher keeps draining, so the send
// never blocks indefinitely.
func (b *Bus) Publish(env message.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.queue <- env
}

func (b *Bus) dispatch() {
	for env := range b.queue {
		b.mu.RLock()
		subs := make([]subscriber, len(b.subs))
		copy(subs, b.subs)
		b.mu.RUnlock()

		for _, sub := range subs {
			b.deliver(sub, env)
		}
	}
	close(b.drained)
}

func (b *Bus) deliver(sub subscriber, env message.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("bus", "Subscriber panicked", map[string]interface{}{
				"subscriber": sub.name,
				"envelope":   string(env.ID),
				"panic":      r,
			})
		}
	}()
	sub.handler(env)
}

// Close stops accepting publishes, then waits for queued envelopes to reach
// subscribers. Safe to call more than once.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.queue)
		<-b.drained
	})
}
