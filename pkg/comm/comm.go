// Package comm realizes the SPMD scheduling model of §5 in plain Go:
// "ranks" are goroutines spawned for the lifetime of one collective
// call, and "collectives" are golang.org/x/sync/errgroup fan-out/
// fan-in barriers. No MPI or message-passing library exists anywhere
// in the retrieved corpus, so this is the system's one hand-built
// concurrency primitive.
package comm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Comm is a fixed-size communicator: a set of ranks [0, Size) that
// participate in the same collective operations. Both the intra-chain
// ("ChainComm", size P) and inter-replica ("TemperatureComm", size
// M*C) communicators of §5 are instances of this same type.
type Comm struct {
	size int
}

// New builds a communicator of the given size.
func New(size int) (*Comm, error) {
	if size < 1 {
		return nil, fmt.Errorf("comm: size must be at least 1, got %d", size)
	}
	return &Comm{size: size}, nil
}

// Size is the number of ranks in this communicator.
func (c *Comm) Size() int { return c.size }

// Bcast runs fn once per rank. When Size()==1 it calls fn directly,
// with no goroutine hand-off, satisfying the "one parallel path"
// requirement for non-parallel runs.
func (c *Comm) Bcast(ctx context.Context, fn func(ctx context.Context, rank int) error) error {
	if c.size == 1 {
		return fn(ctx, 0)
	}
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < c.size; r++ {
		rank := r
		g.Go(func() error { return fn(gctx, rank) })
	}
	return g.Wait()
}

// Reduce runs fn once per rank and folds the per-rank results together
// with combine, starting from zero. combine must be associative and
// commutative: ranks complete and are folded in no particular order.
func Reduce[T any](ctx context.Context, c *Comm, zero T, fn func(ctx context.Context, rank int) (T, error), combine func(a, b T) T) (T, error) {
	if c.size == 1 {
		v, err := fn(ctx, 0)
		if err != nil {
			return zero, err
		}
		return combine(zero, v), nil
	}

	partial := make([]T, c.size)
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < c.size; r++ {
		rank := r
		g.Go(func() error {
			v, err := fn(gctx, rank)
			if err != nil {
				return err
			}
			partial[rank] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, err
	}
	acc := zero
	for _, v := range partial {
		acc = combine(acc, v)
	}
	return acc, nil
}

// AllGather runs fn once per rank and returns every rank's result,
// ordered by rank index, to every caller — the "residual segments"
// use case of §5's suspension point (c).
func AllGather[T any](ctx context.Context, c *Comm, fn func(ctx context.Context, rank int) (T, error)) ([]T, error) {
	out := make([]T, c.size)
	if c.size == 1 {
		v, err := fn(ctx, 0)
		if err != nil {
			return nil, err
		}
		out[0] = v
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < c.size; r++ {
		rank := r
		g.Go(func() error {
			v, err := fn(gctx, rank)
			if err != nil {
				return err
			}
			out[rank] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
