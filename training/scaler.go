package training

// GradScaler implements the loss-scaling half of mixed-precision
// training: the backward coefficients are multiplied by the scale so
// small gradients survive reduced precision, and the gradients are
// divided back down before clipping and the optimizer step.
//
// Non-finite gradients are not detected and steps are never skipped;
// the loops make no numeric-stability guarantees in either precision
// mode.
type GradScaler struct {
	scale    float64
	unscaled bool
}

// NewGradScaler creates a scaler with the conventional initial scale.
func NewGradScaler() *GradScaler {
	return &GradScaler{scale: 65536}
}

// Scale multiplies a backward coefficient by the current scale.
func (g *GradScaler) Scale(v float64) float64 {
	return v * g.scale
}

// Unscale divides all gradients by the current scale. It is a no-op if
// the gradients were already unscaled since the last Step.
func (g *GradScaler) Unscale(params []*Parameter) {
	if g.unscaled {
		return
	}
	inv := float32(1 / g.scale)
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] *= inv
		}
	}
	g.unscaled = true
}

// Step unscales if needed and applies the optimizer step.
func (g *GradScaler) Step(params []*Parameter, opt Optimizer) error {
	g.Unscale(params)
	return opt.Step()
}

// Update marks the end of the scaled step. The scale stays constant.
func (g *GradScaler) Update() {
	g.unscaled = false
}
