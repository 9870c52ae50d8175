package metrics

import (
	"fmt"

	"github.com/citegraph/glmtrain/coord"
)

// ReduceResults sum-reduces an epoch accumulator across all workers.
// Every worker computes the same reduced totals (the collective call is
// also a synchronization point); only the lead process acts on them.
// The flattened layout is sorted by metric name, so the result is
// deterministic regardless of worker count.
func ReduceResults(c *coord.Coordinator, local *EpochResults) (*EpochResults, error) {
	vec := local.ToVector()
	if err := c.AllReduce(vec, coord.ReduceSum); err != nil {
		return nil, fmt.Errorf("failed to reduce epoch results: %v", err)
	}
	reduced, err := local.FromVector(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild reduced epoch results: %v", err)
	}
	return reduced, nil
}

// ReduceCounters sum-reduces validation counters across all workers.
// Normalization by the transductive denominator is deferred to
// ValidationCounters.Finalize on the lead process.
func ReduceCounters(c *coord.Coordinator, local *ValidationCounters) (*ValidationCounters, error) {
	vec := local.ToVector()
	if err := c.AllReduce(vec, coord.ReduceSum); err != nil {
		return nil, fmt.Errorf("failed to reduce validation counters: %v", err)
	}
	reduced, err := local.FromVector(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild reduced validation counters: %v", err)
	}
	return reduced, nil
}
