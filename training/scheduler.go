package training

import (
	"math"
)

// LRScheduler defines the learning-rate scheduling strategy applied at
// each optimizer step. Schedulers are pure functions of the step index.
type LRScheduler interface {
	// GetLR returns the learning rate for the given epoch and optimizer
	// step count.
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging.
	GetName() string
}

// LinearWarmupScheduler ramps the learning rate linearly from zero over
// the warmup steps and then decays it linearly to zero at totalSteps.
type LinearWarmupScheduler struct {
	WarmupSteps int
	TotalSteps  int
}

// NewLinearWarmupScheduler creates a linear warmup/decay scheduler over
// a run of totalSteps optimizer steps.
func NewLinearWarmupScheduler(warmupSteps, totalSteps int) *LinearWarmupScheduler {
	if warmupSteps < 0 {
		warmupSteps = 0
	}
	if totalSteps <= warmupSteps {
		totalSteps = warmupSteps + 1
	}
	return &LinearWarmupScheduler{
		WarmupSteps: warmupSteps,
		TotalSteps:  totalSteps,
	}
}

func (s *LinearWarmupScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if step < s.WarmupSteps {
		return baseLR * float64(step) / float64(s.WarmupSteps)
	}
	if step >= s.TotalSteps {
		return 0
	}
	remaining := float64(s.TotalSteps-step) / float64(s.TotalSteps-s.WarmupSteps)
	return baseLR * remaining
}

func (s *LinearWarmupScheduler) GetName() string {
	return "LinearWarmup"
}

// StepLRScheduler reduces the learning rate by a factor every stepSize
// epochs.
type StepLRScheduler struct {
	StepSize int
	Gamma    float64
}

// NewStepLRScheduler creates a step learning rate scheduler.
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// NoOpScheduler maintains a constant learning rate.
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}
