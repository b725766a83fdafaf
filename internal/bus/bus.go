// Package bus provides a generic, in-process topic publish/subscribe bus.
// Used for job lifecycle events and approval events (spec external
// interfaces: job event bus, approval event bus). Adapted from a
// single-event-type in-memory bus into a generic Bus[T]; subscribers get a
// buffered channel and a slow subscriber drops events rather than blocking
// publishers.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/metrics"
)

const defaultSubscriberBuffer = 64

// Bus fans out values of type T to any number of subscribers.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[int]chan T
	nextID      int
	bufferSize  int
	topic       string

	dropCount atomic.Int64
}

// New creates an empty Bus with the default subscriber buffer size. topic
// labels this bus's drops in the bus-drop metric; pass "" if the bus isn't
// otherwise identified.
func New[T any](topic string) *Bus[T] {
	return &Bus[T]{
		subscribers: make(map[int]chan T),
		bufferSize:  defaultSubscriberBuffer,
		topic:       topic,
	}
}

// Subscription is returned by Subscribe; call Unsubscribe when done.
type Subscription[T any] struct {
	id int
	ch chan T
	b  *Bus[T]
}

// C returns the channel events are delivered on.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription[T]) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if ch, ok := s.b.subscribers[s.id]; ok {
		delete(s.b.subscribers, s.id)
		close(ch)
	}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan T, b.bufferSize)
	b.subscribers[id] = ch
	return &Subscription[T]{id: id, ch: ch, b: b}
}

// Publish delivers v to every current subscriber. A subscriber whose buffer
// is full has the event dropped for it rather than blocking the publisher;
// drops are counted for observability.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			b.dropCount.Add(1)
			metrics.RecordBusDrop(b.topic)
			log.WithComponent("bus").Warn().Str("topic", b.topic).Msg("subscriber buffer full, dropping event")
		}
	}
}

// DropCount returns the number of events dropped due to full subscriber
// buffers since the bus was created.
func (b *Bus[T]) DropCount() int64 {
	return b.dropCount.Load()
}

// SubscriberCount returns the current number of active subscribers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
