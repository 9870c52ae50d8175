// Package model provides a reference sequence scorer used by the
// command and the package tests. It is a log-linear model: a bag of
// token embeddings, optionally mixed with the example's node feature
// row, scored against the full token vocabulary with a softmax head.
// It exercises the complete training contract (forward losses per
// target position, backward from objective gradients, greedy decoding,
// parameter capture and restore) without pretending to be a
// transformer.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/citegraph/glmtrain/coord"
	"github.com/citegraph/glmtrain/data"
	"github.com/citegraph/glmtrain/training"
)

// LogLinear embeds input tokens, averages them into a context vector,
// and scores every vocabulary token against that context. Per-position
// losses are the negative log-likelihood of the target token; decoding
// returns the surface form of the highest-scoring token.
type LogLinear struct {
	vocab   []string
	dim     int
	featDim int

	embed *training.Parameter // [V, D] token embeddings
	out   *training.Parameter // [V, D] output projection
	bias  *training.Parameter // [V]

	params  []*training.Parameter
	sync    *coord.Coordinator
	inTrain bool

	cache *forwardCache
}

type forwardCache struct {
	batch    *data.Batch
	contexts [][]float64 // [example][dim]
	probs    [][]float64 // [example*position flattened via index], nil at ignored positions
	shape    [][]int32   // target ids, for bounds reuse in backward
}

// NewLogLinear builds a model over the given token vocabulary. featDim
// is the width of the node feature table (0 when features are not
// used); dim is the embedding width. Weights are initialized from the
// seed so workers can construct identical replicas.
func NewLogLinear(vocab []string, dim, featDim int, seed int64) (*LogLinear, error) {
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocabulary must not be empty")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dim must be positive, got %d", dim)
	}
	if featDim < 0 {
		return nil, fmt.Errorf("feature dim must not be negative, got %d", featDim)
	}

	v := len(vocab)
	rng := rand.New(rand.NewSource(seed))
	scale := 1.0 / math.Sqrt(float64(dim))

	m := &LogLinear{
		vocab:   append([]string(nil), vocab...),
		dim:     dim,
		featDim: featDim,
		embed:   newParam("embed", []int{v, dim}, rng, scale),
		out:     newParam("out", []int{v, dim}, rng, scale),
		bias:    newParam("bias", []int{v}, rng, 0),
	}
	m.params = []*training.Parameter{m.embed, m.out, m.bias}
	return m, nil
}

func newParam(name string, shape []int, rng *rand.Rand, scale float64) *training.Parameter {
	p := &training.Parameter{Name: name, Shape: shape}
	p.Data = make([]float32, p.Elems())
	p.Grad = make([]float32, p.Elems())
	for i := range p.Data {
		p.Data[i] = float32(rng.NormFloat64() * scale)
	}
	return p
}

// SetCollective enables data-parallel gradient averaging: after each
// backward pass the accumulated gradients are summed across workers and
// divided by the world size. A nil coordinator disables synchronization.
func (m *LogLinear) SetCollective(c *coord.Coordinator) {
	m.sync = c
}

func (m *LogLinear) Parameters() []*training.Parameter { return m.params }
func (m *LogLinear) Train()                            { m.inTrain = true }
func (m *LogLinear) Eval()                             { m.inTrain = false }

// context averages the embeddings of the example's input tokens. When a
// feature table is present and the first input id addresses a node row,
// the row's leading featDim values are mixed into the context.
func (m *LogLinear) context(inputIDs []int32, feats *data.NodeFeatureTable) ([]float64, error) {
	h := make([]float64, m.dim)
	if len(inputIDs) == 0 {
		return h, nil
	}
	for _, id := range inputIDs {
		if id < 0 || int(id) >= len(m.vocab) {
			return nil, fmt.Errorf("input token id %d outside vocabulary of %d", id, len(m.vocab))
		}
		base := int(id) * m.dim
		for d := 0; d < m.dim; d++ {
			h[d] += float64(m.embed.Data[base+d])
		}
	}
	inv := 1.0 / float64(len(inputIDs))
	for d := range h {
		h[d] *= inv
	}

	if feats != nil && int(inputIDs[0]) < feats.NumNodes() {
		row, err := feats.Row(int(inputIDs[0]))
		if err != nil {
			return nil, err
		}
		n := feats.Dim()
		if n > m.dim {
			n = m.dim
		}
		for d := 0; d < n; d++ {
			h[d] += float64(row[d])
		}
	}
	return h, nil
}

// logits scores every vocabulary token against the context vector.
func (m *LogLinear) logits(h []float64) []float64 {
	v := len(m.vocab)
	z := make([]float64, v)
	for t := 0; t < v; t++ {
		base := t * m.dim
		s := float64(m.bias.Data[t])
		for d := 0; d < m.dim; d++ {
			s += float64(m.out.Data[base+d]) * h[d]
		}
		z[t] = s
	}
	return z
}

func softmax(z []float64) []float64 {
	max := z[0]
	for _, s := range z[1:] {
		if s > max {
			max = s
		}
	}
	p := make([]float64, len(z))
	var sum float64
	for i, s := range z {
		e := math.Exp(s - max)
		p[i] = e
		sum += e
	}
	for i := range p {
		p[i] /= sum
	}
	return p
}

// Forward computes the per-position negative log-likelihood of each
// target token. Ignored positions produce a zero loss. The intermediate
// activations are cached for the following Backward call.
func (m *LogLinear) Forward(batch *data.Batch, feats *data.NodeFeatureTable) (*training.ForwardOutput, error) {
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch: %v", err)
	}

	n := batch.Size()
	cache := &forwardCache{
		batch:    batch,
		contexts: make([][]float64, n),
		shape:    batch.TargetIDs,
	}
	losses := make([][]float64, n)

	for i := 0; i < n; i++ {
		h, err := m.context(batch.InputIDs[i], feats)
		if err != nil {
			return nil, fmt.Errorf("example %d: %v", i, err)
		}
		cache.contexts[i] = h
		probs := softmax(m.logits(h))

		targets := batch.TargetIDs[i]
		losses[i] = make([]float64, len(targets))
		for p, t := range targets {
			if t == data.IgnoreIndex {
				cache.probs = append(cache.probs, nil)
				continue
			}
			if t < 0 || int(t) >= len(m.vocab) {
				return nil, fmt.Errorf("example %d position %d: target id %d outside vocabulary of %d",
					i, p, t, len(m.vocab))
			}
			losses[i][p] = -math.Log(probs[t] + 1e-12)
			cache.probs = append(cache.probs, probs)
		}
	}

	m.cache = cache
	return &training.ForwardOutput{TokenLosses: losses}, nil
}

// Backward accumulates parameter gradients from the gradient of the
// objective with respect to each per-token loss, then averages the
// gradients across workers when a collective is attached. Requires a
// preceding Forward on the same batch.
func (m *LogLinear) Backward(tokenGrads [][]float64) error {
	cache := m.cache
	if cache == nil {
		return fmt.Errorf("backward called without a cached forward pass")
	}
	m.cache = nil

	if len(tokenGrads) != len(cache.shape) {
		return fmt.Errorf("gradient batch size %d does not match forward batch size %d",
			len(tokenGrads), len(cache.shape))
	}

	cursor := 0
	for i, targets := range cache.shape {
		if len(tokenGrads[i]) != len(targets) {
			return fmt.Errorf("example %d: gradient length %d does not match target length %d",
				i, len(tokenGrads[i]), len(targets))
		}
		h := cache.contexts[i]
		inputs := cache.batch.InputIDs[i]

		for p, t := range targets {
			if t == data.IgnoreIndex {
				cursor++
				continue
			}
			probs := cache.probs[cursor]
			cursor++

			g := tokenGrads[i][p]
			if g == 0 {
				continue
			}

			// dloss/dlogit = probs - onehot(target)
			dh := make([]float64, m.dim)
			for v := range probs {
				dz := probs[v]
				if int32(v) == t {
					dz -= 1
				}
				dz *= g
				m.bias.Grad[v] += float32(dz)
				base := v * m.dim
				for d := 0; d < m.dim; d++ {
					m.out.Grad[base+d] += float32(dz * h[d])
					dh[d] += dz * float64(m.out.Data[base+d])
				}
			}
			if len(inputs) > 0 {
				inv := 1.0 / float64(len(inputs))
				for _, id := range inputs {
					base := int(id) * m.dim
					for d := 0; d < m.dim; d++ {
						m.embed.Grad[base+d] += float32(dh[d] * inv)
					}
				}
			}
		}
	}

	if m.sync != nil && m.sync.WorldSize() > 1 {
		if err := m.syncGrads(); err != nil {
			return fmt.Errorf("gradient synchronization failed: %v", err)
		}
	}
	return nil
}

// syncGrads sum-reduces every gradient slice across workers and divides
// by the world size, so each replica applies the same averaged update.
func (m *LogLinear) syncGrads() error {
	world := float64(m.sync.WorldSize())
	for _, p := range m.params {
		buf := make([]float64, len(p.Grad))
		for i, g := range p.Grad {
			buf[i] = float64(g)
		}
		if err := m.sync.AllReduce(buf, coord.ReduceSum); err != nil {
			return err
		}
		for i := range p.Grad {
			p.Grad[i] = float32(buf[i] / world)
		}
	}
	return nil
}

// GreedyDecode returns the surface form of the highest-scoring
// vocabulary token for each example in the batch.
func (m *LogLinear) GreedyDecode(batch *data.Batch, feats *data.NodeFeatureTable) ([]string, error) {
	preds := make([]string, batch.Size())
	for i := range preds {
		h, err := m.context(batch.InputIDs[i], feats)
		if err != nil {
			return nil, fmt.Errorf("example %d: %v", i, err)
		}
		z := m.logits(h)
		best := 0
		for v := 1; v < len(z); v++ {
			if z[v] > z[best] {
				best = v
			}
		}
		preds[i] = m.vocab[best]
	}
	return preds, nil
}
