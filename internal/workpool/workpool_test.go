package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanFor(t *testing.T) {
	tests := []struct {
		name     string
		cpus     int
		fraction float64
		want     int
	}{
		{"half of eight", 8, 0.5, 4},
		{"floor", 6, 0.8, 4},
		{"all", 4, 1.0, 4},
		{"floor of one", 1, 0.5, 1},
		{"tiny fraction", 16, 0.01, 1},
		{"zero clamps", 16, 0, 1},
		{"above one clamps", 4, 3, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := planFor(tt.cpus, tt.fraction)
			assert.Equal(t, tt.want, b.Workers)
			assert.Equal(t, 1, b.ThreadsPerWorker)
		})
	}
}

func TestPlanUsesAtLeastOneWorker(t *testing.T) {
	assert.GreaterOrEqual(t, Plan(0.001).Workers, 1)
}

func TestMapPreservesOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	results := Map(context.Background(), 3, items, func(_ context.Context, n int) (int, error) {
		return n * n, nil
	})

	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.NoError(t, r.Err)
		assert.Equal(t, items[i]*items[i], r.Value)
	}
}

func TestMapToleratesFailures(t *testing.T) {
	items := []int{1, 2, 3, 4}
	results := Map(context.Background(), 2, items, func(_ context.Context, n int) (string, error) {
		switch n {
		case 2:
			return "", errors.New("boom")
		case 3:
			panic("worse")
		}
		return "ok", nil
	})

	assert.Equal(t, 2, Failures(results))
	assert.Equal(t, []string{"ok", "ok"}, Values(results))
	assert.ErrorContains(t, results[2].Err, "task panicked")
}

func TestMapProgressCountsEveryItem(t *testing.T) {
	var done atomic.Int32
	items := make([]int, 25)
	Map(context.Background(), 4, items, func(_ context.Context, n int) (int, error) {
		return n, nil
	}, WithProgress(func() { done.Add(1) }))

	assert.Equal(t, int32(25), done.Load())
}

func TestMapBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	items := make([]int, 40)
	Map(context.Background(), 3, items, func(_ context.Context, _ int) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		running.Add(-1)
		return 0, nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestMapCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := Map(ctx, 2, []int{1, 2}, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	assert.Equal(t, 2, Failures(results))
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}
