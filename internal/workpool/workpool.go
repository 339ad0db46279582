// Package workpool runs independent per-item tasks on a bounded set of
// goroutines and collects a value or an error for every item.
//
// A failing or panicking task never stops its siblings: the batch always runs
// to completion and callers filter out the failures afterwards.
package workpool

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Budget is the parallelism granted to a batch operation.
//
// ThreadsPerWorker caps the internal parallelism a single task may use (for
// example fractal.Estimator.Threads). It is 1 whenever the outer pool is
// already parallel, so the two levels never oversubscribe the CPUs.
type Budget struct {
	Workers          int
	ThreadsPerWorker int
}

// Plan derives a Budget from a fraction of runtime.NumCPU.
// Workers is max(1, floor(NumCPU * fraction)). Fractions outside (0,1] are
// clamped into that range.
func Plan(cpuFraction float64) Budget {
	return planFor(runtime.NumCPU(), cpuFraction)
}

func planFor(cpus int, cpuFraction float64) Budget {
	if math.IsNaN(cpuFraction) || cpuFraction <= 0 {
		cpuFraction = math.SmallestNonzeroFloat64
	}
	if cpuFraction > 1 {
		cpuFraction = 1
	}
	workers := int(math.Floor(float64(cpus) * cpuFraction))
	return Budget{Workers: max(1, workers), ThreadsPerWorker: 1}
}

// Result is the outcome of one task. Index is the position of the input item.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// OK reports whether the task succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Option configures Map.
type Option func(*options)

type options struct {
	progress func()
}

// WithProgress registers a callback invoked once per completed task,
// successful or not. It may be called from several goroutines at once.
func WithProgress(fn func()) Option {
	return func(o *options) { o.progress = fn }
}

// Map applies fn to every item using at most workers goroutines and returns
// one Result per item in input order.
//
// Cancelling ctx stops new tasks from being scheduled; tasks not started are
// reported with ctx.Err().
func Map[In, Out any](ctx context.Context, workers int, items []In, fn func(ctx context.Context, item In) (Out, error), opts ...Option) []Result[Out] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	results := make([]Result[Out], len(items))
	g := new(errgroup.Group)
	g.SetLimit(max(1, workers))

	for i, item := range items {
		results[i].Index = i
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			results[i].Value, results[i].Err = runTask(ctx, item, fn)
			if o.progress != nil {
				o.progress()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func runTask[In, Out any](ctx context.Context, item In, fn func(context.Context, In) (Out, error)) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, item)
}

// Values returns the values of the successful results, in input order.
func Values[T any](results []Result[T]) []T {
	out := make([]T, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Value)
		}
	}
	return out
}

// Failures counts the results that carry an error.
func Failures[T any](results []Result[T]) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			n++
		}
	}
	return n
}
