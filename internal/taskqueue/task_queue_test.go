package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessAllKeepsOrderAndErrors(t *testing.T) {
	q := New[int](3)
	for i := 0; i < 5; i++ {
		i := i
		q.Add(fmt.Sprintf("task-%d", i), func(ctx context.Context) (int, error) {
			if i == 2 {
				return 0, errors.New("boom")
			}
			time.Sleep(time.Duration(5-i) * time.Millisecond)
			return i * i, nil
		})
	}
	require.Equal(t, 5, q.Len())

	results := q.ProcessAll(context.Background())
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("task-%d", i), r.TaskID)
		if i == 2 {
			assert.EqualError(t, r.Err, "boom")
			continue
		}
		require.NoError(t, r.Err)
		assert.Equal(t, i*i, r.Result)
	}
}

func TestProcessAllBoundsConcurrency(t *testing.T) {
	q := New[struct{}](2)
	var inFlight, peak int32
	for i := 0; i < 8; i++ {
		q.Add(fmt.Sprint(i), func(ctx context.Context) (struct{}, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return struct{}{}, nil
		})
	}

	q.ProcessAll(context.Background())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestProcessAllRecoversPanics(t *testing.T) {
	q := New[string](0)
	q.Add("bad", func(ctx context.Context) (string, error) { panic("nil map") })
	q.Add("good", func(ctx context.Context) (string, error) { return "ok", nil })

	results := q.ProcessAll(context.Background())
	require.ErrorContains(t, results[0].Err, "panicked")
	assert.Equal(t, "ok", results[1].Result)
}

func TestProcessAllCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called atomic.Bool
	q := New[int](1)
	q.Add("t", func(ctx context.Context) (int, error) {
		called.Store(true)
		return 1, nil
	})

	results := q.ProcessAll(ctx)
	require.ErrorIs(t, results[0].Err, context.Canceled)
	assert.False(t, called.Load())
}
