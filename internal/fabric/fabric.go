// Package fabric implements the topic-multiplexed pub/sub messaging bus
// connecting feed ingestors, the strategy engine, and the executor.
//
// Transport is native Go channels/queues rather than a network socket: the
// specification explicitly allows "intra-process channels ... when
// publisher and subscriber share an address space", and no ZeroMQ binding
// exists anywhere in the example corpus this module was grown from. The
// wire framing in internal/wire is still applied at the publish boundary so
// the bus honors the same self-describing binary contract a cross-process
// transport would use.
package fabric

import (
	"context"
	"sync"
	"time"

	"refmaker/internal/wire"
)

// DefaultHighWaterMark is the default per-subscriber queue capacity.
const DefaultHighWaterMark = 10_000

// pollInterval is the busy-wait sleep used by Subscriber.Recv when its
// queue is empty, matching the hot-loop polling interval described for the
// strategy engine.
const pollInterval = time.Millisecond

// queue is a bounded, mutex-protected FIFO with evict-oldest-on-full
// overflow. A publish always succeeds: the frame being pushed is never the
// one dropped, the oldest queued frame is. Eviction does not look at the
// payload, so a cancel-all sentinel already waiting in a full queue is
// evicted like any other frame.
type queue struct {
	mu      sync.Mutex
	items   []wire.Frame
	cap     int
	dropped uint64
}

func newQueue(capacity int) *queue {
	return &queue{items: make([]wire.Frame, 0, capacity), cap: capacity}
}

func (q *queue) push(f wire.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, f)
}

func (q *queue) pop() (wire.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return wire.Frame{}, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

func (q *queue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Bus is the shared broadcast fabric. It is safe for concurrent use.
type Bus struct {
	mu            sync.Mutex
	subscribers   map[wire.Topic][]*queue
	highWaterMark int
}

// NewBus creates a Bus with the given per-subscriber high-water mark. A
// non-positive value uses DefaultHighWaterMark.
func NewBus(highWaterMark int) *Bus {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	return &Bus{
		subscribers:   make(map[wire.Topic][]*queue),
		highWaterMark: highWaterMark,
	}
}

// Publisher returns a publish-half bound to this bus. Publisher is safe to
// share across goroutines: the bus serializes access to each subscriber
// queue internally.
func (b *Bus) Publisher() *Publisher {
	return &Publisher{bus: b}
}

// Subscribe creates a new subscribe-half for the given topic. Each call
// creates an independent queue — multiple subscribers on the same topic
// each receive every message published to it (e.g. one strategy engine
// instance per tracked symbol, all reading the same MD topic and filtering
// by symbol_id).
func (b *Bus) Subscribe(topic wire.Topic) *Subscriber {
	q := newQueue(b.highWaterMark)
	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], q)
	b.mu.Unlock()
	return &Subscriber{topic: topic, queue: q}
}

// Publisher is the clonable, shareable publish-half of the fabric.
type Publisher struct {
	bus *Bus
}

// Publish broadcasts payload on topic to every current subscriber of that
// topic. FIFO is preserved per (caller-goroutine, topic): a single producer
// calling Publish sequentially will have its frames appended to each
// subscriber's queue in that same order. No ordering is promised across
// concurrent producers.
func (p *Publisher) Publish(topic wire.Topic, payload []byte) {
	p.bus.mu.Lock()
	subs := p.bus.subscribers[topic]
	p.bus.mu.Unlock()

	frame := wire.Frame{Topic: topic, Payload: payload}
	for _, q := range subs {
		q.push(frame)
	}
}

// Subscriber is the single-owner subscribe-half of the fabric.
type Subscriber struct {
	topic wire.Topic
	queue *queue
}

// Recv blocks until a frame is available or ctx is done. It never busy
// spins faster than pollInterval, matching the strategy engine's bounded
// 1 ms busy-wait on an empty queue.
func (s *Subscriber) Recv(ctx context.Context) (wire.Frame, bool) {
	for {
		if f, ok := s.queue.pop(); ok {
			return f, true
		}
		select {
		case <-ctx.Done():
			return wire.Frame{}, false
		case <-time.After(pollInterval):
		}
	}
}

// TryRecv performs a single non-blocking poll.
func (s *Subscriber) TryRecv() (wire.Frame, bool) {
	return s.queue.pop()
}

// Dropped returns the number of frames evicted from this subscriber's
// queue due to overflow.
func (s *Subscriber) Dropped() uint64 {
	return s.queue.droppedCount()
}
