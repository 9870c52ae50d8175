package training

import (
	"fmt"
	"strings"

	"github.com/citegraph/glmtrain/checkpoint"
	"github.com/citegraph/glmtrain/coord"
	"github.com/citegraph/glmtrain/data"
	"github.com/citegraph/glmtrain/metrics"
)

// Orchestrator bundles the run-wide collaborators: the process
// coordinator, the checkpoint store, and the report writer. The Trainer
// holds one by reference rather than deriving from a base type, so the
// helpers stay swappable in tests.
type Orchestrator struct {
	Coord  *coord.Coordinator
	Store  *checkpoint.Store
	Report *ReportWriter
}

// Trainer owns the model, optimizer and scheduler, and drives the
// training and evaluation loops across epochs, reducing metrics across
// workers at every epoch boundary.
type Trainer struct {
	cfg   Config
	model Model
	orch  *Orchestrator

	optimizer Optimizer
	scheduler LRScheduler
	scaler    *GradScaler

	trainLoader *data.Loader
	valLoader   *data.Loader
	feats       *data.NodeFeatureTable
}

// NewTrainer validates the configuration and wires a trainer. The
// optimizer, scheduler and (under AMP) gradient scaler are built here,
// once; precision mode is fixed for the life of the trainer. Loaders may
// be nil for the path that does not use them: trainLoader for the
// evaluation-only mode, valLoader for the training mode.
func NewTrainer(cfg Config, model Model, orch *Orchestrator,
	trainLoader, valLoader *data.Loader, feats *data.NodeFeatureTable) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid training configuration: %v", err)
	}
	if model == nil {
		return nil, fmt.Errorf("trainer requires a model")
	}
	if orch == nil || orch.Coord == nil || orch.Store == nil {
		return nil, fmt.Errorf("trainer requires a coordinator and a checkpoint store")
	}

	t := &Trainer{
		cfg:         cfg,
		model:       model,
		orch:        orch,
		trainLoader: trainLoader,
		valLoader:   valLoader,
		feats:       feats,
	}

	if trainLoader != nil {
		opt, err := NewAdamW(model.Parameters(), cfg.LearningRate, 0.9, 0.999, 1e-8, 0.01)
		if err != nil {
			return nil, fmt.Errorf("failed to build optimizer: %v", err)
		}
		t.optimizer = opt

		totalOptSteps := cfg.Epochs * trainLoader.Len() / cfg.GradAccumSteps
		if totalOptSteps < 1 {
			totalOptSteps = 1
		}
		t.scheduler = NewLinearWarmupScheduler(totalOptSteps/10, totalOptSteps)

		if cfg.Precision == AMP {
			t.scaler = NewGradScaler()
		}
	}
	return t, nil
}

// Train runs the full training path: one epoch of the training loop at a
// time, then reduce, log, and the unconditional epoch-end checkpoint. No
// worker starts epoch k+1 until all have passed the epoch-k save barrier.
func (t *Trainer) Train() error {
	if t.trainLoader == nil {
		return fmt.Errorf("trainer was built without a training loader")
	}
	if err := t.orch.Coord.AdvanceTo(coord.PhaseRunStart); err != nil {
		return err
	}

	loop := newTrainingLoop(t.cfg, t.model, t.optimizer, t.scheduler, t.scaler,
		t.orch.Coord, t.orch.Store)

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		local, err := loop.RunEpoch(epoch, t.trainLoader, t.feats)
		if err != nil {
			return fmt.Errorf("training epoch %d failed: %v", epoch, err)
		}
		if err := t.orch.Coord.AdvanceTo(coord.PhaseEpochDone); err != nil {
			return err
		}

		reduced, err := metrics.ReduceResults(t.orch.Coord, local)
		if err != nil {
			return fmt.Errorf("epoch %d metric reduction failed: %v", epoch, err)
		}
		if err := t.orch.Coord.AdvanceTo(coord.PhaseMetricsReduced); err != nil {
			return err
		}

		if t.orch.Coord.IsLead() {
			t.printEpochSummary(epoch, reduced)
		}
		if err := t.orch.Coord.AdvanceTo(coord.PhaseMetricsLogged); err != nil {
			return err
		}

		if t.orch.Coord.IsLead() {
			if err := t.saveEndCheckpoint(epoch); err != nil {
				return err
			}
		}
		if err := t.orch.Coord.AdvanceTo(coord.PhaseEpochSaved); err != nil {
			return err
		}
	}
	return nil
}

// printEpochSummary logs the reduced per-task averages. An average is
// only reported for metrics whose reduced count is positive.
func (t *Trainer) printEpochSummary(epoch int, reduced *metrics.EpochResults) {
	fmt.Printf("Epoch %d done.\n", epoch+1)
	if avg, ok := reduced.Average("total_loss"); ok {
		fmt.Printf("Train Loss: %.3f\n", avg)
	}
	if line := lossSummary(reduced); line != "" {
		fmt.Println(line)
	}
}

// lossSummary renders every reduced loss metric, total_loss included,
// as "name (count): avg" pairs.
func lossSummary(reduced *metrics.EpochResults) string {
	var b strings.Builder
	for _, name := range reduced.Names() {
		if !strings.HasSuffix(name, "loss") {
			continue
		}
		if avg, ok := reduced.Average(name); ok {
			fmt.Fprintf(&b, "%s (%d): %.3f ", name, reduced.Count(name), avg)
		}
	}
	return b.String()
}

func (t *Trainer) saveEndCheckpoint(epoch int) error {
	name := checkpoint.ArtifactName(t.cfg.RunPrefix, epoch, t.cfg.LearningRate,
		t.cfg.GradAccumSteps, t.cfg.Split, checkpoint.TagEnd)
	state := CaptureState(t.model)
	state.Metadata = checkpoint.Metadata{
		Epoch:        epoch,
		Tag:          checkpoint.TagEnd.String(),
		LearningRate: t.cfg.LearningRate,
		Split:        t.cfg.Split,
	}
	if err := t.orch.Store.Save(name, state); err != nil {
		return fmt.Errorf("failed to save epoch %d end checkpoint: %v", epoch, err)
	}
	return nil
}

// Test runs the evaluation path: for each of the 4×Epochs checkpoint
// slots in deterministic order, load the artifact (a missing file is
// fatal), run one evaluation pass over the validation split, reduce the
// counters, and report. Every worker loads every checkpoint; only the
// lead normalizes and writes the report.
func (t *Trainer) Test() error {
	if t.valLoader == nil {
		return fmt.Errorf("trainer was built without a validation loader")
	}

	evalLoop := newEvaluationLoop(t.cfg, t.model, t.orch.Coord)

	for slot := 0; slot < 4*t.cfg.Epochs; slot++ {
		epoch := slot / 4
		tag := checkpoint.SlotTag(slot)
		name := checkpoint.ArtifactName(t.cfg.RunPrefix, epoch, t.cfg.LearningRate,
			t.cfg.GradAccumSteps, t.cfg.Split, tag)

		state, err := t.orch.Store.Load(name)
		if err != nil {
			return fmt.Errorf("evaluation slot %d: %v", slot, err)
		}
		if err := RestoreState(t.model, state); err != nil {
			return fmt.Errorf("evaluation slot %d: failed to restore %s: %v", slot, name, err)
		}

		local, err := evalLoop.Run(t.valLoader, t.feats)
		if err != nil {
			return fmt.Errorf("evaluation of %s failed: %v", name, err)
		}
		if err := t.orch.Coord.AdvanceTo(coord.PhaseEvalDone); err != nil {
			return err
		}

		reduced, err := metrics.ReduceCounters(t.orch.Coord, local)
		if err != nil {
			return fmt.Errorf("counter reduction for %s failed: %v", name, err)
		}
		if err := t.orch.Coord.AdvanceTo(coord.PhaseEvalReduced); err != nil {
			return err
		}

		if t.orch.Coord.IsLead() {
			final, err := reduced.Finalize(t.transductiveLen())
			if err != nil {
				return fmt.Errorf("failed to normalize counters for %s: %v", name, err)
			}
			fmt.Printf("%s\n%s\n\n", name, FormatCounters(final))
			if t.orch.Report != nil {
				if err := t.orch.Report.Append(epoch, tag, final); err != nil {
					return fmt.Errorf("failed to report %s: %v", name, err)
				}
			}
		}
		if err := t.orch.Coord.AdvanceTo(coord.PhaseEvalReported); err != nil {
			return err
		}
	}
	return nil
}

// transductiveLen returns the dataset-wide transductive denominator when
// the validation dataset declares one, and 0 otherwise.
func (t *Trainer) transductiveLen() int {
	if ds, ok := t.valLoader.Source().(data.TransductiveSized); ok {
		return ds.TransductiveLen()
	}
	return 0
}
