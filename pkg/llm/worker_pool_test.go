package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProcess_PreservesSubmissionOrder(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 3}, zap.NewNop())

	items := make([]WorkItem[int], 10)
	for i := range items {
		items[i] = WorkItem[int]{
			ID: fmt.Sprintf("batch-%d", i),
			Execute: func(ctx context.Context) (int, error) {
				// Later items finish first.
				time.Sleep(time.Duration(10-i) * time.Millisecond)
				return i * i, nil
			},
		}
	}

	results := Process(context.Background(), pool, items, nil)

	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("batch-%d", i), r.ID)
		assert.Equal(t, i*i, r.Result)
		assert.NoError(t, r.Err)
	}
}

func TestProcess_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())

	var running, peak atomic.Int32
	items := make([]WorkItem[struct{}], 8)
	for i := range items {
		items[i] = WorkItem[struct{}]{
			ID: fmt.Sprint(i),
			Execute: func(ctx context.Context) (struct{}, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			},
		}
	}

	Process(context.Background(), pool, items, nil)

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcess_FailuresDoNotStopOthers(t *testing.T) {
	pool := NewWorkerPool(DefaultWorkerPoolConfig(), zap.NewNop())
	boom := errors.New("boom")

	items := []WorkItem[string]{
		{ID: "a", Execute: func(ctx context.Context) (string, error) { return "ok-a", nil }},
		{ID: "b", Execute: func(ctx context.Context) (string, error) { return "", boom }},
		{ID: "c", Execute: func(ctx context.Context) (string, error) { return "ok-c", nil }},
	}

	var mu sync.Mutex
	var progress []int
	results := Process(context.Background(), pool, items, func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 3, total)
		progress = append(progress, completed)
	})

	assert.Equal(t, "ok-a", results[0].Result)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.Equal(t, "ok-c", results[2].Result)
	assert.ElementsMatch(t, []int{1, 2, 3}, progress)
}

func TestProcess_CanceledContext(t *testing.T) {
	pool := NewWorkerPool(DefaultWorkerPoolConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	results := Process(ctx, pool, []WorkItem[int]{
		{ID: "x", Execute: func(ctx context.Context) (int, error) { called = true; return 1, nil }},
	}, nil)

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.False(t, called)
}

func TestProcess_Empty(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{}, zap.NewNop())
	assert.Nil(t, Process[int](context.Background(), pool, nil, nil))
}
