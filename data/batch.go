package data

import (
	"fmt"
)

// IgnoreIndex marks padded label positions that must not contribute to
// the per-example loss.
const IgnoreIndex int32 = -100

// Batch is a fixed-shape group of examples produced by the data source.
// The core only reads batches; it never mutates their contents.
type Batch struct {
	InputIDs    [][]int32
	TargetIDs   [][]int32 // padded positions hold IgnoreIndex
	LossWeights []float64
	Tasks       []string
	TemplateIDs []string
	Categories  []string
	TargetTexts []string

	// Padding flags examples repeated only to equalize per-worker batch
	// counts. Padded examples still run forward and backward so the
	// collective cadence stays in lockstep, but they are excluded from
	// accumulated metrics and from evaluation scoring. A nil slice means
	// no padding.
	Padding []bool
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.InputIDs)
}

// Validate checks that all per-example fields are parallel.
func (b *Batch) Validate() error {
	n := len(b.InputIDs)
	if len(b.TargetIDs) != n || len(b.LossWeights) != n || len(b.Tasks) != n ||
		len(b.TemplateIDs) != n || len(b.Categories) != n || len(b.TargetTexts) != n {
		return fmt.Errorf("batch fields are not parallel: inputs=%d targets=%d weights=%d tasks=%d templates=%d categories=%d texts=%d",
			n, len(b.TargetIDs), len(b.LossWeights), len(b.Tasks), len(b.TemplateIDs), len(b.Categories), len(b.TargetTexts))
	}
	if b.Padding != nil && len(b.Padding) != n {
		return fmt.Errorf("batch padding flags are not parallel: padding=%d examples=%d", len(b.Padding), n)
	}
	return nil
}

// IsPadding reports whether example i is an equalization duplicate.
func (b *Batch) IsPadding(i int) bool {
	return b.Padding != nil && b.Padding[i]
}

// NodeFeatureTable is the dense per-node feature matrix, loaded once and
// shared read-only across the whole run. It is handed to every forward
// and decode call as auxiliary model input.
type NodeFeatureTable struct {
	features [][]float32
	dim      int
}

// NewNodeFeatureTable wraps a feature matrix, requiring a uniform width.
func NewNodeFeatureTable(features [][]float32) (*NodeFeatureTable, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("node feature table must not be empty")
	}
	dim := len(features[0])
	for i, row := range features {
		if len(row) != dim {
			return nil, fmt.Errorf("node %d has feature width %d, expected %d", i, len(row), dim)
		}
	}
	return &NodeFeatureTable{features: features, dim: dim}, nil
}

// NumNodes returns the number of graph nodes in the table.
func (t *NodeFeatureTable) NumNodes() int {
	return len(t.features)
}

// Dim returns the feature vector width.
func (t *NodeFeatureTable) Dim() int {
	return t.dim
}

// Row returns the feature vector for a node id.
func (t *NodeFeatureTable) Row(id int) ([]float32, error) {
	if id < 0 || id >= len(t.features) {
		return nil, fmt.Errorf("node id %d out of range [0, %d)", id, len(t.features))
	}
	return t.features[id], nil
}
