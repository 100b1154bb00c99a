package queue_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/determined-ai/rcq/pkg/syncx/queue"
)

func TestQueue(t *testing.T) {
	q := queue.New[int]()
	require.Equal(t, 0, q.Len())

	q.Put(1)
	q.Put(2)
	require.Equal(t, 2, q.Len())

	require.Equal(t, 1, q.Get())
	require.Equal(t, 2, q.Get())
	require.Equal(t, 0, q.Len())

	_, ok := q.TryGet()
	require.False(t, ok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.Equal(t, 3, q.Get())
	}()

	select {
	case <-time.NewTimer(100 * time.Millisecond).C:
	case <-done:
		require.FailNow(t, "get should have blocked")
	}

	q.Put(3)

	select {
	case <-time.NewTimer(time.Second).C:
		require.FailNow(t, "get should have unblocked")
	case <-done:
	}
}

func TestQueueGetWithContext(t *testing.T) {
	q := queue.New[string]()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.GetWithContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	q.Put("ready")
	got, err := q.GetWithContext(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ready", got)
}

func TestQueueConcurrentOrder(t *testing.T) {
	q := queue.New[int]()

	var in []int
	for i := 0; i < 100; i++ {
		in = append(in, i)
	}
	rand.Shuffle(len(in), func(i, j int) { in[i], in[j] = in[j], in[i] })

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, i := range in {
			q.Put(i)
		}
	}()

	var out []int
	go func() {
		defer wg.Done()
		for range in {
			out = append(out, q.Get())
		}
	}()

	wg.Wait()
	require.Equal(t, in, out)
}
