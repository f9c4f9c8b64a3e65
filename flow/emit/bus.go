package emit

import (
	"sync"
	"time"
)

// DefaultSubscriberBuffer is the per-subscriber queue capacity used when
// Subscribe is called with a non-positive buffer size.
const DefaultSubscriberBuffer = 256

// Bus is the ordered, per-execution publish/subscribe channel for
// execution events.
//
// One Bus exists per execution and is owned by the engine: the engine's
// scheduler goroutine is the only publisher, and it calls Close after the
// terminal event. Subscribers may attach and detach concurrently.
//
// Delivery contract:
//   - Events are delivered to every subscriber in publication order.
//   - Each subscriber has a bounded queue. A subscriber that falls behind
//     blocks the publisher (backpressure) rather than losing events.
//   - Timestamps and sequence numbers are assigned on publication, so all
//     subscribers observe identical events.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	seq    int64
	closed bool
}

// Subscription is one subscriber's view of a Bus.
//
// Consumers receive from Events until it is closed (bus closed) or Done is
// signalled (subscription cancelled). Forward handles both cases.
type Subscription struct {
	bus  *Bus
	ch   chan Event
	done chan struct{}
}

// NewBus creates an event bus for a single execution.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe attaches a new subscriber with the given queue capacity.
// A non-positive buffer selects DefaultSubscriberBuffer.
//
// Subscribing to a closed bus returns a subscription whose Events channel
// is already closed.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	sub := &Subscription{bus: b, ch: make(chan Event, buffer), done: make(chan struct{})}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub
	}

	b.subs[sub] = struct{}{}
	return sub
}

// Publish stamps the event with the bus's next sequence number and the
// current time, then delivers it to every subscriber.
//
// Publish blocks while a live subscriber's queue is full; the engine
// prefers backpressure over event loss because observers rely on complete
// streams. A subscriber that cancels mid-publish is skipped. Publishing to
// a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.seq++
	ev.Seq = b.seq
	ev.Timestamp = time.Now()

	// Snapshot subscribers so a slow consumer does not hold the lock
	// against Subscribe or Cancel.
	targets := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

// Close marks the bus closed and closes every live subscriber's Events
// channel. Close must be called by the publisher after its final Publish;
// it is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

// Events returns the subscriber's receive channel. The channel is closed
// when the bus closes. Cancelled subscriptions signal Done instead; use
// Forward or select on both.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is signalled when the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel detaches the subscription. Queued events are discarded. The
// Events channel is left open so an in-flight Publish never writes to a
// closed channel; consumers observe termination through Done.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if _, ok := s.bus.subs[s]; !ok {
		return
	}
	delete(s.bus.subs, s)
	close(s.done)
}

// Sink consumes execution events. Sinks are attached to a bus with Forward
// and run until the subscription terminates.
type Sink interface {
	Handle(Event)
}

// Forward drains a subscription into a sink on a dedicated goroutine and
// returns a function that blocks until the drain finishes.
//
// Typical use:
//
//	wait := emit.Forward(bus.Subscribe(0), emit.NewLogSink(logger))
//	defer wait()
func Forward(sub *Subscription, sink Sink) (wait func()) {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case ev, ok := <-sub.ch:
				if !ok {
					return
				}
				sink.Handle(ev)
			case <-sub.done:
				return
			}
		}
	}()
	return func() { <-finished }
}
