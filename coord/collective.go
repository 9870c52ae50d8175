package coord

import (
	"fmt"
)

// ReduceOp identifies the combining operation applied by an all-reduce.
type ReduceOp int

const (
	ReduceSum ReduceOp = iota
	ReduceMax
)

func (op ReduceOp) String() string {
	switch op {
	case ReduceSum:
		return "Sum"
	case ReduceMax:
		return "Max"
	default:
		return fmt.Sprintf("Unknown(%d)", int(op))
	}
}

// Collective is the process-group substrate the coordinator wraps.
// Implementations map onto whatever collective-communication backend the
// deployment uses; LocalGroup provides an in-process one for single-host
// runs and tests.
//
// All methods are called by every worker of the group in the same order.
// A worker that fails before reaching a collective call leaves the other
// workers blocked; there is no timeout. That is the accepted tradeoff of
// synchronous data parallelism and callers must not try to work around it.
type Collective interface {
	// Rank returns this worker's zero-based rank within the group.
	Rank() int

	// WorldSize returns the number of workers in the group.
	WorldSize() int

	// Barrier blocks until every worker in the group has called it.
	Barrier() error

	// AllReduce combines values element-wise across all workers with op
	// and writes the combined result back into values on every worker.
	// Every worker must pass a slice of the same length.
	AllReduce(values []float64, op ReduceOp) error
}
