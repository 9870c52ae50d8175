package training

import (
	"fmt"

	"github.com/citegraph/glmtrain/checkpoint"
	"github.com/citegraph/glmtrain/data"
)

// Parameter is one named model tensor together with its gradient
// accumulator. The optimizer and gradient clipping operate directly on
// these slices; everything else about the model stays opaque.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// Elems returns the element count implied by the shape.
func (p *Parameter) Elems() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// ForwardOutput carries the per-token loss surface of one forward pass.
// TokenLosses is indexed [example][position] and parallels the batch's
// target sequences.
type ForwardOutput struct {
	TokenLosses [][]float64
}

// Model is the boundary contract to the sequence model. The core drives
// it; it never looks inside.
//
// Backward receives the gradient of the training objective with respect
// to each per-token loss and accumulates parameter gradients. Data-
// parallel implementations synchronize gradients across workers inside
// Backward; that collective call is the gradient synchronization point
// of the step.
type Model interface {
	Forward(batch *data.Batch, feats *data.NodeFeatureTable) (*ForwardOutput, error)
	Backward(tokenGrads [][]float64) error
	GreedyDecode(batch *data.Batch, feats *data.NodeFeatureTable) ([]string, error)
	Parameters() []*Parameter
	Train()
	Eval()
}

// CaptureState snapshots the model's parameters into a checkpoint state.
func CaptureState(m Model) *checkpoint.State {
	params := m.Parameters()
	state := &checkpoint.State{Params: make([]checkpoint.ParamTensor, 0, len(params))}
	for _, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		shape := make([]int, len(p.Shape))
		copy(shape, p.Shape)
		state.Params = append(state.Params, checkpoint.ParamTensor{
			Name:  p.Name,
			Shape: shape,
			Data:  data,
		})
	}
	return state
}

// RestoreState loads a checkpoint state back into the model, matching
// parameters by name and verifying shapes.
func RestoreState(m Model, state *checkpoint.State) error {
	byName := make(map[string]checkpoint.ParamTensor, len(state.Params))
	for _, p := range state.Params {
		byName[p.Name] = p
	}
	for _, p := range m.Parameters() {
		saved, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %s", p.Name)
		}
		if len(saved.Shape) != len(p.Shape) {
			return fmt.Errorf("parameter %s: checkpoint shape %v incompatible with model shape %v",
				p.Name, saved.Shape, p.Shape)
		}
		for i, d := range saved.Shape {
			if d != p.Shape[i] {
				return fmt.Errorf("parameter %s: checkpoint shape %v incompatible with model shape %v",
					p.Name, saved.Shape, p.Shape)
			}
		}
		copy(p.Data, saved.Data)
	}
	return nil
}
