// Package eventbus fans committed domain events out to in-process consumers
// (websocket hub, MQTT pusher, AMQP publisher) without blocking the writer.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber capacity used by NewTyped.
const DefaultBuffer = 8

// TypedBus delivers events of type T to every subscriber. A subscriber whose
// buffer is full misses the event; the drop handler, if set, sees it.
type TypedBus[T any] struct {
	buffer int

	mu     sync.RWMutex
	subs   map[<-chan T]chan T
	closed bool
	onDrop func(T)

	dropped atomic.Uint64
}

func NewTyped[T any]() *TypedBus[T] { return NewTypedBuffered[T](DefaultBuffer) }

// NewTypedBuffered sizes subscriber channels to size events.
func NewTypedBuffered[T any](size int) *TypedBus[T] {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &TypedBus[T]{buffer: size, subs: make(map[<-chan T]chan T)}
}

// OnDrop installs fn, called synchronously for every missed delivery.
func (b *TypedBus[T]) OnDrop(fn func(T)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

func (b *TypedBus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(e)
			}
		}
	}
}

// Subscribe returns a new subscription. After Close it returns a closed channel.
func (b *TypedBus[T]) Subscribe() <-chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = ch
	return ch
}

// Unsubscribe closes sub. Unknown or already closed subscriptions are ignored.
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(ch)
	}
}

func (b *TypedBus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped counts missed deliveries since creation.
func (b *TypedBus[T]) Dropped() uint64 { return b.dropped.Load() }

// Close ends every subscription. Later publishes are discarded.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for key, ch := range b.subs {
		close(ch)
		delete(b.subs, key)
	}
}
