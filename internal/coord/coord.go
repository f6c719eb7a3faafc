// Package coord provides collective operations for a group of pipeline
// workers.
//
// The pipeline's parallelism model is rank-based: W workers share the
// chunk list by static ownership, rank 0 performs the once-per-run work
// (planning, metadata), and stages end with a barrier so no worker races
// ahead into the next stage. Workers here are goroutines in one process;
// the operations mirror the collectives a multi-process deployment would
// use, so orchestrator code stays deployment-agnostic.
package coord

import (
	"context"
	"sync"

	"github.com/seisnoise/seisnoise/internal/errors"
)

// Group is the shared state of one worker group. Create it once, then
// hand each goroutine its own Worker.
type Group struct {
	size int

	mu      sync.Mutex
	arrived int
	release chan struct{}
	slots   map[int]*slot
}

// slot carries the value of one broadcast from rank 0 to the others.
type slot struct {
	done chan struct{}
	val  any
	err  error
}

// NewGroup creates a group of the given size. Size must be at least 1.
func NewGroup(size int) (*Group, error) {
	if size < 1 {
		return nil, errors.NewValidation("workers", "must be at least 1")
	}
	return &Group{
		size:    size,
		release: make(chan struct{}),
		slots:   make(map[int]*slot),
	}, nil
}

// Worker returns the handle for the given rank. Each rank must be used by
// exactly one goroutine.
func (g *Group) Worker(rank int) *Worker {
	return &Worker{group: g, rank: rank}
}

// Worker is one rank's view of the group.
type Worker struct {
	group *Group
	rank  int
	seq   int
}

// Rank returns this worker's rank, in [0, Size).
func (w *Worker) Rank() int { return w.rank }

// Size returns the number of workers in the group.
func (w *Worker) Size() int { return w.group.size }

// Owns reports whether this worker owns work item i under the group's
// static round-robin assignment.
func (w *Worker) Owns(i int) bool { return i%w.group.size == w.rank }

// Barrier blocks until every worker in the group has called it. The
// barrier is cyclic: it can be reused for successive stages.
func (w *Worker) Barrier(ctx context.Context) error {
	g := w.group

	g.mu.Lock()
	g.arrived++
	if g.arrived == g.size {
		g.arrived = 0
		close(g.release)
		g.release = make(chan struct{})
		g.mu.Unlock()
		return nil
	}
	release := g.release
	g.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcast runs compute on rank 0 and delivers its result to every rank.
// Calls pair up across ranks by call order, so all ranks must issue the
// same sequence of broadcasts.
func (w *Worker) broadcast(ctx context.Context, compute func(context.Context) (any, error)) (any, error) {
	s := w.group.slot(w.seq)
	w.seq++

	if w.rank == 0 {
		s.val, s.err = compute(ctx)
		close(s.done)
		return s.val, s.err
	}

	select {
	case <-s.done:
		return s.val, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Group) slot(seq int) *slot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[seq]
	if !ok {
		s = &slot{done: make(chan struct{})}
		g.slots[seq] = s
	}
	return s
}

// Broadcast runs compute on rank 0 and returns its result on every rank.
// If compute fails, every rank receives the error.
func Broadcast[T any](ctx context.Context, w *Worker, compute func(context.Context) (T, error)) (T, error) {
	val, err := w.broadcast(ctx, func(ctx context.Context) (any, error) {
		return compute(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return val.(T), nil
}
