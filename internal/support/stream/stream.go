// Package stream provides a hot, replay-latest value cell with fan-out to subscribers.
package stream

import (
	"context"
	"sync"
)

// Stream holds the latest published value. Publishing replaces the value as a
// whole; subscribers receive the value current at subscription time and then
// every later one, conflated when they fall behind.
type Stream[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	subs    map[uint64]chan T
	nextID  uint64
}

// New returns a stream whose current value is initial.
func New[T any](initial T) *Stream[T] {
	return &Stream[T]{value: initial, subs: make(map[uint64]chan T)}
}

// Value returns the latest published value.
func (s *Stream[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Version increments once per publish.
func (s *Stream[T]) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Publish replaces the current value and notifies subscribers.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(v)
}

// Update applies fn to the current value and publishes the result when fn
// reports a change. The read and the publish are atomic with respect to other
// publishers.
func (s *Stream[T]) Update(fn func(current T) (T, bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, changed := fn(s.value)
	if !changed {
		return false
	}
	s.publishLocked(next)
	return true
}

func (s *Stream[T]) publishLocked(v T) {
	s.value = v
	s.version++
	for _, ch := range s.subs {
		offer(ch, v)
	}
}

// Subscribe returns a channel that yields the current value immediately and
// every subsequent publish until ctx is done, after which it is closed.
func (s *Stream[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.value
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// offer delivers v, replacing a value the subscriber has not consumed yet.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
