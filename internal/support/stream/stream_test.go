package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestSubscribeReplaysLatest(t *testing.T) {
	s := New(1)
	s.Publish(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)
	assert.Equal(t, 2, receive(t, ch))

	s.Publish(3)
	assert.Equal(t, 3, receive(t, ch))
}

func TestSlowSubscriberSeesLatestOnly(t *testing.T) {
	s := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)
	_ = receive(t, ch)

	for i := 1; i <= 10; i++ {
		s.Publish(i)
	}
	assert.Equal(t, 10, receive(t, ch))
}

func TestCancelClosesChannel(t *testing.T) {
	s := New("a")
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	_ = receive(t, ch)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	s := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(v int) (int, bool) { return v + 1, true })
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Value())
	assert.Equal(t, uint64(50), s.Version())

	assert.False(t, s.Update(func(v int) (int, bool) { return v, false }))
	assert.Equal(t, uint64(50), s.Version())
}
