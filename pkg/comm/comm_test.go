package comm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsZeroSize(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
}

func TestBcastDegeneratesToDirectCallWhenSizeOne(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)

	var calls int32
	require.NoError(t, c.Bcast(context.Background(), func(ctx context.Context, rank int) error {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, 0, rank)
		return nil
	}))
	require.EqualValues(t, 1, calls)
}

func TestBcastRunsEveryRank(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	seen := make([]int32, 4)
	require.NoError(t, c.Bcast(context.Background(), func(ctx context.Context, rank int) error {
		atomic.AddInt32(&seen[rank], 1)
		return nil
	}))
	for _, v := range seen {
		require.EqualValues(t, 1, v)
	}
}

func TestBcastPropagatesError(t *testing.T) {
	c, err := New(3)
	require.NoError(t, err)
	wantErr := errors.New("boom")

	err = c.Bcast(context.Background(), func(ctx context.Context, rank int) error {
		if rank == 1 {
			return wantErr
		}
		return nil
	})
	require.ErrorIs(t, err, wantErr)
}

func TestReduceSumsContributions(t *testing.T) {
	c, err := New(5)
	require.NoError(t, err)

	sum, err := Reduce(context.Background(), c, 0.0,
		func(ctx context.Context, rank int) (float64, error) { return float64(rank + 1), nil },
		func(a, b float64) float64 { return a + b },
	)
	require.NoError(t, err)
	require.Equal(t, 15.0, sum) // 1+2+3+4+5
}

func TestReduceDegenerateSizeOne(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)

	sum, err := Reduce(context.Background(), c, 10.0,
		func(ctx context.Context, rank int) (float64, error) { return 5.0, nil },
		func(a, b float64) float64 { return a + b },
	)
	require.NoError(t, err)
	require.Equal(t, 15.0, sum)
}

func TestAllGatherOrdersByRank(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	out, err := AllGather(context.Background(), c, func(ctx context.Context, rank int) (int, error) {
		return rank * rank, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 4, 9}, out)
}

func TestAllGatherPropagatesError(t *testing.T) {
	c, err := New(3)
	require.NoError(t, err)
	wantErr := errors.New("bad rank")

	_, err = AllGather(context.Background(), c, func(ctx context.Context, rank int) (int, error) {
		if rank == 2 {
			return 0, wantErr
		}
		return rank, nil
	})
	require.ErrorIs(t, err, wantErr)
}

func TestNewWorldValidatesDivisibility(t *testing.T) {
	_, err := NewWorld(7, 2, 2) // 7 not divisible by 4
	require.Error(t, err)

	w, err := NewWorld(12, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 2, w.P) // 12 / (2*3)
	require.Len(t, w.ChainComms, 6)
	require.Equal(t, 6, w.TemperatureComm.Size())
	for _, cc := range w.ChainComms {
		require.Equal(t, 2, cc.Size())
	}
}

func TestNewWorldRejectsInvalidArgs(t *testing.T) {
	_, err := NewWorld(0, 1, 1)
	require.Error(t, err)
	_, err = NewWorld(4, 0, 1)
	require.Error(t, err)
}
