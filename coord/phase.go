package coord

import "fmt"

// Phase names a synchronization point in the training or evaluation loop.
// Every barrier the loops take goes through Coordinator.AdvanceTo with one
// of these values, so the whole barrier discipline is auditable here
// instead of being scattered through the loop bodies.
type Phase int

const (
	// Training path, in the order a step passes through them.
	PhaseRunStart Phase = iota
	PhaseBatchStart
	PhaseBackward
	PhaseCheckpointDone
	PhaseStepDone
	PhaseEpochDone
	PhaseMetricsReduced
	PhaseMetricsLogged
	PhaseEpochSaved

	// Evaluation path.
	PhaseEvalBatch
	PhaseEvalDone
	PhaseEvalReduced
	PhaseEvalReported
)

func (p Phase) String() string {
	switch p {
	case PhaseRunStart:
		return "RunStart"
	case PhaseBatchStart:
		return "BatchStart"
	case PhaseBackward:
		return "Backward"
	case PhaseCheckpointDone:
		return "CheckpointDone"
	case PhaseStepDone:
		return "StepDone"
	case PhaseEpochDone:
		return "EpochDone"
	case PhaseMetricsReduced:
		return "MetricsReduced"
	case PhaseMetricsLogged:
		return "MetricsLogged"
	case PhaseEpochSaved:
		return "EpochSaved"
	case PhaseEvalBatch:
		return "EvalBatch"
	case PhaseEvalDone:
		return "EvalDone"
	case PhaseEvalReduced:
		return "EvalReduced"
	case PhaseEvalReported:
		return "EvalReported"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// Coordinator wraps a Collective with the lead-process convention and the
// phase-based barrier discipline used by the loops.
type Coordinator struct {
	collective Collective
	lastPhase  Phase
	advanced   bool
}

// NewCoordinator creates a Coordinator over the given collective substrate.
func NewCoordinator(c Collective) *Coordinator {
	return &Coordinator{collective: c}
}

// Rank returns this worker's rank.
func (c *Coordinator) Rank() int {
	return c.collective.Rank()
}

// WorldSize returns the number of workers in the group.
func (c *Coordinator) WorldSize() int {
	return c.collective.WorldSize()
}

// IsLead reports whether this worker is the lead process (rank 0). Only
// the lead process logs, persists checkpoints, and writes reports.
func (c *Coordinator) IsLead() bool {
	return c.collective.Rank() == 0
}

// AdvanceTo blocks at the group barrier for the named phase. Every worker
// must advance through the same phases in the same order; this is the only
// place the loops call Barrier.
func (c *Coordinator) AdvanceTo(p Phase) error {
	if err := c.collective.Barrier(); err != nil {
		return fmt.Errorf("barrier at phase %s failed: %v", p, err)
	}
	c.lastPhase = p
	c.advanced = true
	return nil
}

// LastPhase returns the most recent phase this worker advanced to, and
// whether it has advanced at all.
func (c *Coordinator) LastPhase() (Phase, bool) {
	return c.lastPhase, c.advanced
}

// AllReduce combines values across all workers. Every worker computes the
// same reduced result; callers that only need it on the lead process still
// participate so the group stays in step.
func (c *Coordinator) AllReduce(values []float64, op ReduceOp) error {
	return c.collective.AllReduce(values, op)
}
