package training

import (
	"fmt"
	"math"
)

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
}

// AdamW implements Adam with decoupled weight decay.
type AdamW struct {
	params       []*Parameter
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	weightDecay  float64

	m       [][]float64 // first-moment estimates, parallel to params
	v       [][]float64 // second-moment estimates
	stepNum int
}

// NewAdamW creates an AdamW optimizer over the given parameters.
func NewAdamW(params []*Parameter, lr, beta1, beta2, epsilon, weightDecay float64) (*AdamW, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", lr)
	}
	if beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1), got %g and %g", beta1, beta2)
	}
	opt := &AdamW{
		params:       params,
		learningRate: lr,
		beta1:        beta1,
		beta2:        beta2,
		epsilon:      epsilon,
		weightDecay:  weightDecay,
		m:            make([][]float64, len(params)),
		v:            make([][]float64, len(params)),
	}
	for i, p := range params {
		opt.m[i] = make([]float64, len(p.Data))
		opt.v[i] = make([]float64, len(p.Data))
	}
	return opt, nil
}

// Step applies one AdamW update from the accumulated gradients.
func (a *AdamW) Step() error {
	a.stepNum++
	bc1 := 1 - math.Pow(a.beta1, float64(a.stepNum))
	bc2 := 1 - math.Pow(a.beta2, float64(a.stepNum))

	for i, p := range a.params {
		if len(p.Grad) != len(p.Data) {
			return fmt.Errorf("parameter %s: gradient length %d does not match data length %d",
				p.Name, len(p.Grad), len(p.Data))
		}
		m := a.m[i]
		v := a.v[i]
		for j := range p.Data {
			g := float64(p.Grad[j])
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			update := a.learningRate * mHat / (math.Sqrt(vHat) + a.epsilon)
			if a.weightDecay > 0 {
				update += a.learningRate * a.weightDecay * float64(p.Data[j])
			}
			p.Data[j] -= float32(update)
		}
	}
	return nil
}

// ZeroGrad resets every gradient accumulator to zero.
func (a *AdamW) ZeroGrad() {
	for _, p := range a.params {
		for j := range p.Grad {
			p.Grad[j] = 0
		}
	}
}

// GetLR returns the current learning rate.
func (a *AdamW) GetLR() float64 {
	return a.learningRate
}

// SetLR sets the learning rate for subsequent steps.
func (a *AdamW) SetLR(lr float64) {
	a.learningRate = lr
}

// SGD implements stochastic gradient descent with optional momentum.
type SGD struct {
	params       []*Parameter
	learningRate float64
	momentum     float64
	velocities   [][]float64
}

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD(params []*Parameter, lr, momentum float64) (*SGD, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", lr)
	}
	opt := &SGD{
		params:       params,
		learningRate: lr,
		momentum:     momentum,
	}
	if momentum > 0 {
		opt.velocities = make([][]float64, len(params))
		for i, p := range params {
			opt.velocities[i] = make([]float64, len(p.Data))
		}
	}
	return opt, nil
}

// Step applies one SGD update from the accumulated gradients.
func (s *SGD) Step() error {
	for i, p := range s.params {
		if len(p.Grad) != len(p.Data) {
			return fmt.Errorf("parameter %s: gradient length %d does not match data length %d",
				p.Name, len(p.Grad), len(p.Data))
		}
		for j := range p.Data {
			g := float64(p.Grad[j])
			if s.momentum > 0 {
				vel := s.velocities[i]
				vel[j] = s.momentum*vel[j] + g
				g = vel[j]
			}
			p.Data[j] -= float32(s.learningRate * g)
		}
	}
	return nil
}

// ZeroGrad resets every gradient accumulator to zero.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		for j := range p.Grad {
			p.Grad[j] = 0
		}
	}
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float64 {
	return s.learningRate
}

// SetLR sets the learning rate for subsequent steps.
func (s *SGD) SetLR(lr float64) {
	s.learningRate = lr
}

// ClipGradNorm rescales all gradients so their global L2 norm does not
// exceed maxNorm, and returns the pre-clip norm. A non-positive maxNorm
// leaves the gradients untouched.
func ClipGradNorm(params []*Parameter, maxNorm float64) float64 {
	total := 0.0
	for _, p := range params {
		for _, g := range p.Grad {
			total += float64(g) * float64(g)
		}
	}
	norm := math.Sqrt(total)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := maxNorm / norm
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] = float32(float64(p.Grad[j]) * scale)
		}
	}
	return norm
}
