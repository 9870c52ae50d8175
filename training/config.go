package training

import (
	"fmt"

	"github.com/citegraph/glmtrain/data"
)

// PrecisionMode selects the arithmetic mode of the backward path. It is
// fixed once at Trainer construction; there is no run-wide mutable flag.
type PrecisionMode int

const (
	// FP32 runs backward passes at full precision.
	FP32 PrecisionMode = iota
	// AMP wraps backward and clipping in gradient scaling/unscaling.
	AMP
)

func (m PrecisionMode) String() string {
	switch m {
	case FP32:
		return "fp32"
	case AMP:
		return "amp"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Config is the static configuration object available before any loop
// starts. It is read everywhere and never mutated during a run.
type Config struct {
	Epochs         int
	BatchSize      int
	LearningRate   float64
	GradAccumSteps int     // optimizer step cadence, >= 1
	ClipGradNorm   float64 // 0 disables clipping
	Precision      PrecisionMode
	Distributed    bool
	WorldSize      int

	Split         string // "train" or "val": split name encoded into artifact names
	RunPrefix     string // artifact name prefix, e.g. "flan_pubmed"
	CheckpointDir string
	ReportPath    string

	// Losses lists the task names whose per-task diagnostics the training
	// loop accumulates, e.g. link, classification.
	Losses []string

	// TaskTemplates maps each task to its template-id groups; evaluation
	// derives its counter key set from the classification entry.
	TaskTemplates data.TaskTemplates

	// EvalCategories enumerates the category labels evaluation examples
	// may carry. Together with the flattened classification templates
	// they define the validation counter key set.
	EvalCategories []string
}

// Validate rejects configurations the loops cannot run with. A failure
// here is fatal; the run never starts.
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epoch count must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.GradAccumSteps < 1 {
		return fmt.Errorf("gradient accumulation steps must be at least 1, got %d", c.GradAccumSteps)
	}
	if c.ClipGradNorm < 0 {
		return fmt.Errorf("gradient clip threshold must not be negative, got %g", c.ClipGradNorm)
	}
	if c.Precision != FP32 && c.Precision != AMP {
		return fmt.Errorf("unknown precision mode %d", int(c.Precision))
	}
	if c.WorldSize < 1 {
		return fmt.Errorf("world size must be at least 1, got %d", c.WorldSize)
	}
	if c.Split != "train" && c.Split != "val" {
		return fmt.Errorf("split must be \"train\" or \"val\", got %q", c.Split)
	}
	if c.RunPrefix == "" {
		return fmt.Errorf("run prefix must not be empty")
	}
	if len(c.Losses) == 0 {
		return fmt.Errorf("no task names configured for loss accumulation")
	}
	if err := c.TaskTemplates.Validate(); err != nil {
		return fmt.Errorf("invalid task template mapping: %v", err)
	}
	return nil
}

// LossNames returns the metric names the epoch accumulator declares: one
// "<task>_loss" per configured task plus the batch-wide "total_loss".
func (c Config) LossNames() []string {
	names := make([]string, 0, len(c.Losses)+1)
	for _, task := range c.Losses {
		names = append(names, task+"_loss")
	}
	names = append(names, "total_loss")
	return names
}
