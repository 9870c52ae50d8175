package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationCounters holds per-template, per-category correct counts for
// one evaluation pass. The key set is enumerated up front from the
// template and category lists being evaluated; incrementing a key outside
// that set indicates the task list handed to the data source diverged
// from the one handed to the evaluation loop, and is an error rather than
// a silent no-op.
type ValidationCounters struct {
	keys   []string // sorted "<template-id>-<category>" keys
	counts map[string]int64
}

// CounterKey builds the canonical "<template-id>-<category>" key.
func CounterKey(templateID, category string) string {
	return templateID + "-" + category
}

// NewValidationCounters creates counters with one zero entry per
// (template, category) pair.
func NewValidationCounters(templateIDs, categories []string) (*ValidationCounters, error) {
	if len(templateIDs) == 0 {
		return nil, fmt.Errorf("no template ids declared for validation counters")
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("no categories declared for validation counters")
	}
	vc := &ValidationCounters{counts: make(map[string]int64, len(templateIDs)*len(categories))}
	for _, tmpl := range templateIDs {
		for _, cate := range categories {
			key := CounterKey(tmpl, cate)
			if _, ok := vc.counts[key]; ok {
				continue
			}
			vc.counts[key] = 0
			vc.keys = append(vc.keys, key)
		}
	}
	sort.Strings(vc.keys)
	return vc, nil
}

// Increment adds one correct example to the counter for the given
// template and category. An undeclared key is fatal to the caller.
func (vc *ValidationCounters) Increment(templateID, category string) error {
	key := CounterKey(templateID, category)
	if _, ok := vc.counts[key]; !ok {
		return fmt.Errorf("scoring key %q not declared by the evaluation task list", key)
	}
	vc.counts[key]++
	return nil
}

// Keys returns the declared counter keys in sorted order.
func (vc *ValidationCounters) Keys() []string {
	out := make([]string, len(vc.keys))
	copy(out, vc.keys)
	return out
}

// Get returns the count for a declared key.
func (vc *ValidationCounters) Get(key string) (int64, error) {
	c, ok := vc.counts[key]
	if !ok {
		return 0, fmt.Errorf("scoring key %q not declared by the evaluation task list", key)
	}
	return c, nil
}

// ToVector flattens counts in sorted-key order for an all-reduce.
func (vc *ValidationCounters) ToVector() []float64 {
	vec := make([]float64, len(vc.keys))
	for i, key := range vc.keys {
		vec[i] = float64(vc.counts[key])
	}
	return vec
}

// FromVector rebuilds counters with this one's key set from a reduced
// vector produced by ToVector.
func (vc *ValidationCounters) FromVector(vec []float64) (*ValidationCounters, error) {
	if len(vec) != len(vc.keys) {
		return nil, fmt.Errorf("reduced vector length mismatch: expected %d, got %d", len(vc.keys), len(vec))
	}
	out := &ValidationCounters{
		keys:   append([]string(nil), vc.keys...),
		counts: make(map[string]int64, len(vc.keys)),
	}
	for i, key := range vc.keys {
		out.counts[key] = int64(vec[i])
	}
	return out, nil
}

// Finalize normalizes the counters for reporting. Keys for the
// transductive category are divided by the dataset-wide transductive
// example count; other keys keep their raw counts. Only the lead process
// calls this; the division is deferred until after the sum-reduce.
func (vc *ValidationCounters) Finalize(transductiveLen int) (map[string]float64, error) {
	out := make(map[string]float64, len(vc.keys))
	for _, key := range vc.keys {
		if strings.HasSuffix(key, "-transductive") {
			if transductiveLen <= 0 {
				return nil, fmt.Errorf("transductive denominator must be positive, got %d", transductiveLen)
			}
			out[key] = float64(vc.counts[key]) / float64(transductiveLen)
		} else {
			out[key] = float64(vc.counts[key])
		}
	}
	return out, nil
}
