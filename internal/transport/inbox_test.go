package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxFIFO(t *testing.T) {
	q := NewInbox()
	require.True(t, q.Enqueue([]byte("a")))
	require.True(t, q.Enqueue([]byte("b")))
	assert.Equal(t, 2, q.Len())

	msg, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", string(msg))
	msg, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "b", string(msg))

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestInboxClosedRejects(t *testing.T) {
	q := NewInbox()
	q.Close()
	q.Close()
	assert.False(t, q.Enqueue([]byte("late")))
}

func TestInboxDrainDeliversUntilClose(t *testing.T) {
	q := NewInbox()
	var mu sync.Mutex
	var got []string

	done := make(chan error, 1)
	go func() {
		done <- q.Drain(context.Background(), func(msg []byte) {
			mu.Lock()
			got = append(got, string(msg))
			mu.Unlock()
		})
	}()

	for _, s := range []string{"1", "2", "3"} {
		q.Enqueue([]byte(s))
	}
	q.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not return after close")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestInboxDrainStopsOnCancel(t *testing.T) {
	q := NewInbox()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Drain(ctx, func([]byte) {})
	assert.ErrorIs(t, err, context.Canceled)
}
