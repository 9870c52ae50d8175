package coord

import (
	"fmt"
	"sync"
)

// LocalGroup is an in-process Collective for a fixed number of worker
// goroutines on one host. Each worker obtains its own handle via Worker
// and then uses it exactly like a distributed process would use the real
// substrate: same call order on every rank, no timeouts.
//
// A worker goroutine that returns early without reaching a collective
// call leaves the rest of the group blocked forever. That mirrors the
// synchronous data-parallel model and is deliberate.
type LocalGroup struct {
	world int

	mu   sync.Mutex
	cond *sync.Cond

	// Barrier state: generation counter so the barrier is reusable.
	barrierArrived int
	barrierGen     uint64

	// Reduce state: first arrival seeds pending, later arrivals combine
	// into it, the last arrival publishes it as result.
	pending      []float64
	reduceOp     ReduceOp
	result       []float64
	reduceErr    error
	reduceArrive int
	reduceGen    uint64
}

// NewLocalGroup creates a group for worldSize worker goroutines.
func NewLocalGroup(worldSize int) (*LocalGroup, error) {
	if worldSize < 1 {
		return nil, fmt.Errorf("world size must be at least 1, got %d", worldSize)
	}
	g := &LocalGroup{world: worldSize}
	g.cond = sync.NewCond(&g.mu)
	return g, nil
}

// WorldSize returns the number of workers in the group.
func (g *LocalGroup) WorldSize() int {
	return g.world
}

// Worker returns the Collective handle for the given rank. Each rank must
// be used by exactly one goroutine.
func (g *LocalGroup) Worker(rank int) (Collective, error) {
	if rank < 0 || rank >= g.world {
		return nil, fmt.Errorf("rank %d out of range [0, %d)", rank, g.world)
	}
	return &localWorker{group: g, rank: rank}, nil
}

type localWorker struct {
	group *LocalGroup
	rank  int
}

func (w *localWorker) Rank() int {
	return w.rank
}

func (w *localWorker) WorldSize() int {
	return w.group.world
}

func (w *localWorker) Barrier() error {
	g := w.group
	g.mu.Lock()
	defer g.mu.Unlock()

	g.barrierArrived++
	if g.barrierArrived == g.world {
		g.barrierArrived = 0
		g.barrierGen++
		g.cond.Broadcast()
		return nil
	}

	gen := g.barrierGen
	for gen == g.barrierGen {
		g.cond.Wait()
	}
	return nil
}

func (w *localWorker) AllReduce(values []float64, op ReduceOp) error {
	g := w.group
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil && g.reduceArrive == 0 {
		g.pending = make([]float64, len(values))
		copy(g.pending, values)
		g.reduceOp = op
	} else {
		if len(values) != len(g.pending) {
			// Length mismatch means ranks diverged; the error is fatal for
			// this rank and the rest of the group will block, exactly as a
			// real collective would behave.
			g.reduceErr = fmt.Errorf("all-reduce length mismatch: rank %d sent %d values, group has %d",
				w.rank, len(values), len(g.pending))
			return g.reduceErr
		}
		if op != g.reduceOp {
			g.reduceErr = fmt.Errorf("all-reduce op mismatch: rank %d used %s, group started with %s",
				w.rank, op, g.reduceOp)
			return g.reduceErr
		}
		combine(g.pending, values, op)
	}

	g.reduceArrive++
	if g.reduceArrive == g.world {
		g.result = g.pending
		g.pending = nil
		g.reduceArrive = 0
		g.reduceGen++
		g.cond.Broadcast()
	} else {
		gen := g.reduceGen
		for gen == g.reduceGen {
			g.cond.Wait()
		}
	}

	if g.reduceErr != nil {
		return g.reduceErr
	}
	copy(values, g.result)
	return nil
}

func combine(dst, src []float64, op ReduceOp) {
	switch op {
	case ReduceSum:
		for i := range dst {
			dst[i] += src[i]
		}
	case ReduceMax:
		for i := range dst {
			if src[i] > dst[i] {
				dst[i] = src[i]
			}
		}
	}
}
