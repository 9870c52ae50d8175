package data

import (
	"fmt"
	"math/rand"
)

// Example is a single training or evaluation example as handed over by
// the (external) dataset.
type Example struct {
	InputIDs   []int32
	TargetIDs  []int32
	LossWeight float64
	Task       string
	TemplateID string
	Category   string
	TargetText string
}

// Dataset is the boundary to the external example source.
type Dataset interface {
	Len() int
	Example(idx int) (Example, error)
}

// TransductiveSized is implemented by validation datasets that know the
// dataset-wide transductive node count used to normalize accuracy.
type TransductiveSized interface {
	TransductiveLen() int
}

// Loader yields fixed-size batches from this worker's partition of a
// dataset. Partitioning is strided by rank; when the split does not
// divide evenly, the stride wraps around so every worker holds the same
// number of examples and therefore runs the same number of batches.
// Wrapped entries are flagged as padding: they keep the workers in
// lockstep through every barrier and collective call but are excluded
// from accumulated metrics, so the union of non-padded examples is the
// full split with every example visited exactly once.
type Loader struct {
	dataset   Dataset
	batchSize int
	rank      int
	worldSize int
	shuffle   bool

	indices  []int  // this worker's partition, in visit order
	padding  []bool // parallel to indices: true for equalization duplicates
	position int
	epoch    int
}

// NewLoader creates a loader for one worker's share of the dataset.
// shuffle enables the per-epoch deterministic reshuffle used on the
// training split; evaluation loaders keep the stable dataset order.
func NewLoader(dataset Dataset, batchSize, rank, worldSize int, shuffle bool) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if worldSize <= 0 {
		return nil, fmt.Errorf("world size must be positive, got %d", worldSize)
	}
	if rank < 0 || rank >= worldSize {
		return nil, fmt.Errorf("rank %d out of range [0, %d)", rank, worldSize)
	}
	l := &Loader{
		dataset:   dataset,
		batchSize: batchSize,
		rank:      rank,
		worldSize: worldSize,
		shuffle:   shuffle,
	}
	l.partition()
	return l, nil
}

// SetEpoch reseeds the shuffle so all workers draw the same permutation
// for the same epoch and each still visits a disjoint stride of it.
func (l *Loader) SetEpoch(epoch int) {
	l.epoch = epoch
	l.partition()
}

// partition rebuilds this worker's strided share of the (possibly
// shuffled) index order.
func (l *Loader) partition() {
	n := l.dataset.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		rng := rand.New(rand.NewSource(int64(l.epoch)))
		rng.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	perRank := (n + l.worldSize - 1) / l.worldSize
	total := perRank * l.worldSize
	l.indices = l.indices[:0]
	l.padding = l.padding[:0]
	for i := l.rank; i < total; i += l.worldSize {
		if i < n {
			l.indices = append(l.indices, order[i])
			l.padding = append(l.padding, false)
		} else {
			// Wrap around to equalize per-worker length.
			l.indices = append(l.indices, order[i%n])
			l.padding = append(l.padding, true)
		}
	}
	l.position = 0
}

// Len returns the number of batches in this worker's epoch.
func (l *Loader) Len() int {
	return (len(l.indices) + l.batchSize - 1) / l.batchSize
}

// ExampleCount returns the number of examples in this worker's
// partition, including any equalization padding.
func (l *Loader) ExampleCount() int {
	return len(l.indices)
}

// Source returns the underlying dataset.
func (l *Loader) Source() Dataset {
	return l.dataset
}

// Reset rewinds the loader to the start of its partition.
func (l *Loader) Reset() {
	l.position = 0
}

// Next returns the next batch, or nil at the end of the epoch.
func (l *Loader) Next() (*Batch, error) {
	if l.position >= len(l.indices) {
		return nil, nil
	}
	end := l.position + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}
	idxs := l.indices[l.position:end]
	pads := l.padding[l.position:end]
	l.position = end

	batch := &Batch{
		InputIDs:    make([][]int32, 0, len(idxs)),
		TargetIDs:   make([][]int32, 0, len(idxs)),
		LossWeights: make([]float64, 0, len(idxs)),
		Tasks:       make([]string, 0, len(idxs)),
		TemplateIDs: make([]string, 0, len(idxs)),
		Categories:  make([]string, 0, len(idxs)),
		TargetTexts: make([]string, 0, len(idxs)),
		Padding:     append([]bool(nil), pads...),
	}
	for _, idx := range idxs {
		ex, err := l.dataset.Example(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load example %d: %v", idx, err)
		}
		batch.InputIDs = append(batch.InputIDs, ex.InputIDs)
		batch.TargetIDs = append(batch.TargetIDs, ex.TargetIDs)
		batch.LossWeights = append(batch.LossWeights, ex.LossWeight)
		batch.Tasks = append(batch.Tasks, ex.Task)
		batch.TemplateIDs = append(batch.TemplateIDs, ex.TemplateID)
		batch.Categories = append(batch.Categories, ex.Category)
		batch.TargetTexts = append(batch.TargetTexts, ex.TargetText)
	}
	return batch, nil
}

// SliceDataset is a Dataset over an in-memory example slice.
type SliceDataset struct {
	examples     []Example
	transductive int
}

// NewSliceDataset wraps examples in a Dataset. transductiveLen may be 0
// for training splits.
func NewSliceDataset(examples []Example, transductiveLen int) *SliceDataset {
	return &SliceDataset{examples: examples, transductive: transductiveLen}
}

// Len returns the number of examples.
func (d *SliceDataset) Len() int {
	return len(d.examples)
}

// Example returns the example at idx.
func (d *SliceDataset) Example(idx int) (Example, error) {
	if idx < 0 || idx >= len(d.examples) {
		return Example{}, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.examples))
	}
	return d.examples[idx], nil
}

// TransductiveLen returns the dataset-wide transductive example count.
func (d *SliceDataset) TransductiveLen() int {
	return d.transductive
}
