package comm

import "fmt"

// World is the fixed pool of R virtual ranks set up once at Driver
// startup (§5): it partitions the ranks into M*C chain communicators
// of size P (one per replica) plus a single temperature communicator
// of size M*C joining each chain's root rank.
type World struct {
	R, P, M, C int

	ChainComms      []*Comm // length M*C, each of size P
	TemperatureComm *Comm   // size M*C
}

// NewWorld validates and builds a World. R must be divisible by M*C.
func NewWorld(r, m, c int) (*World, error) {
	if r < 1 {
		return nil, fmt.Errorf("comm: R must be at least 1, got %d", r)
	}
	if m < 1 || c < 1 {
		return nil, fmt.Errorf("comm: M and C must be at least 1, got M=%d C=%d", m, c)
	}
	replicas := m * c
	if r%replicas != 0 {
		return nil, fmt.Errorf("comm: R=%d is not divisible by M*C=%d", r, replicas)
	}
	p := r / replicas

	chainComms := make([]*Comm, replicas)
	for i := range chainComms {
		cc, err := New(p)
		if err != nil {
			return nil, err
		}
		chainComms[i] = cc
	}
	tempComm, err := New(replicas)
	if err != nil {
		return nil, err
	}

	return &World{
		R: r, P: p, M: m, C: c,
		ChainComms:      chainComms,
		TemperatureComm: tempComm,
	}, nil
}

// ChainComm returns the intra-replica communicator for replica index
// idx (0 <= idx < M*C).
func (w *World) ChainComm(idx int) *Comm { return w.ChainComms[idx] }
