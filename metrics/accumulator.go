package metrics

import (
	"fmt"
	"sort"
)

// EpochResults accumulates named loss sums and example counts for one
// epoch. Every declared name has a running value and a parallel count;
// merging is by summation only, so accumulation is commutative and the
// reduced totals are independent of worker count as long as each worker
// sees a disjoint slice of the split.
type EpochResults struct {
	names  []string // sorted declared names
	sums   map[string]float64
	counts map[string]int64
}

// NewEpochResults creates an accumulator with zero entries for each of
// the declared metric names. Observations against undeclared names are
// dropped; only declared names survive the epoch.
func NewEpochResults(names []string) *EpochResults {
	r := &EpochResults{
		names:  make([]string, 0, len(names)),
		sums:   make(map[string]float64, len(names)),
		counts: make(map[string]int64, len(names)),
	}
	for _, name := range names {
		if _, ok := r.sums[name]; ok {
			continue
		}
		r.names = append(r.names, name)
		r.sums[name] = 0
		r.counts[name] = 0
	}
	sort.Strings(r.names)
	return r
}

// Add accumulates sum and count into the named entry. Undeclared names
// are ignored.
func (r *EpochResults) Add(name string, sum float64, count int64) {
	if _, ok := r.sums[name]; !ok {
		return
	}
	r.sums[name] += sum
	r.counts[name] += count
}

// Merge folds another accumulator into this one by summation. Only names
// declared on both sides contribute; nothing is ever overwritten.
func (r *EpochResults) Merge(other *EpochResults) {
	for _, name := range other.names {
		r.Add(name, other.sums[name], other.counts[name])
	}
}

// Names returns the declared metric names in sorted order.
func (r *EpochResults) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Sum returns the accumulated value for name.
func (r *EpochResults) Sum(name string) float64 {
	return r.sums[name]
}

// Count returns the accumulated example count for name.
func (r *EpochResults) Count(name string) int64 {
	return r.counts[name]
}

// Average returns the mean value for name. The second return is false
// when the count is not positive; an average is only reported for
// positive counts.
func (r *EpochResults) Average(name string) (float64, bool) {
	c := r.counts[name]
	if c <= 0 {
		return 0, false
	}
	return r.sums[name] / float64(c), true
}

// ToVector flattens the accumulator into a slice suitable for an
// all-reduce: for each declared name in sorted order, its sum followed by
// its count. The layout is a pure function of the declared name set, so
// every worker produces the same ordering.
func (r *EpochResults) ToVector() []float64 {
	vec := make([]float64, 0, 2*len(r.names))
	for _, name := range r.names {
		vec = append(vec, r.sums[name], float64(r.counts[name]))
	}
	return vec
}

// FromVector rebuilds an accumulator with this one's declared names from
// a reduced vector produced by ToVector.
func (r *EpochResults) FromVector(vec []float64) (*EpochResults, error) {
	if len(vec) != 2*len(r.names) {
		return nil, fmt.Errorf("reduced vector length mismatch: expected %d, got %d", 2*len(r.names), len(vec))
	}
	out := NewEpochResults(r.names)
	for i, name := range r.names {
		out.sums[name] = vec[2*i]
		out.counts[name] = int64(vec[2*i+1])
	}
	return out, nil
}
