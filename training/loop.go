package training

import (
	"fmt"

	"github.com/citegraph/glmtrain/checkpoint"
	"github.com/citegraph/glmtrain/coord"
	"github.com/citegraph/glmtrain/data"
	"github.com/citegraph/glmtrain/metrics"
)

// TrainingLoop drives exactly one epoch: pull batches, run the model,
// accumulate gradients, step the optimizer on the accumulation cadence,
// fold step results into the epoch accumulator, and trigger mid-epoch
// checkpoints. All workers execute it in lockstep; every barrier is an
// AdvanceTo call.
type TrainingLoop struct {
	cfg       Config
	model     Model
	optimizer Optimizer
	scheduler LRScheduler
	scaler    *GradScaler // non-nil only under AMP
	coord     *coord.Coordinator
	store     *checkpoint.Store
	progress  *ProgressLine // non-nil only on the lead process

	optSteps  int
	currentLR float64
}

// newTrainingLoop wires a loop from the trainer's collaborators.
func newTrainingLoop(cfg Config, model Model, opt Optimizer, sched LRScheduler, scaler *GradScaler,
	c *coord.Coordinator, store *checkpoint.Store) *TrainingLoop {
	l := &TrainingLoop{
		cfg:       cfg,
		model:     model,
		optimizer: opt,
		scheduler: sched,
		scaler:    scaler,
		coord:     c,
		store:     store,
		currentLR: opt.GetLR(),
	}
	if c.IsLead() {
		l.progress = NewProgressLine(cfg.LossNames())
	}
	return l
}

// stepResult carries one step's contribution to the epoch accumulator.
type stepResult struct {
	perExample []float64 // masked per-example mean losses
	weighted   float64   // loss-weighted batch mean, the training objective
}

// RunEpoch executes one full epoch over this worker's partition and
// returns the local epoch accumulator, ready for cross-worker reduction.
func (l *TrainingLoop) RunEpoch(epoch int, loader *data.Loader, feats *data.NodeFeatureTable) (*metrics.EpochResults, error) {
	loader.SetEpoch(epoch)
	l.model.Train()

	results := metrics.NewEpochResults(l.cfg.LossNames())
	totalSteps := loader.Len()

	for stepIndex := 0; ; stepIndex++ {
		batch, err := loader.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch batch at step %d: %v", stepIndex, err)
		}
		if batch == nil {
			break
		}
		if err := l.coord.AdvanceTo(coord.PhaseBatchStart); err != nil {
			return nil, err
		}

		out, err := l.model.Forward(batch, feats)
		if err != nil {
			return nil, fmt.Errorf("forward pass failed at step %d: %v", stepIndex, err)
		}
		step, err := l.computeStep(batch, out)
		if err != nil {
			return nil, fmt.Errorf("step %d: %v", stepIndex, err)
		}

		if err := l.coord.AdvanceTo(coord.PhaseBackward); err != nil {
			return nil, err
		}
		tokenGrads := l.backwardCoefficients(batch, out)
		if err := l.model.Backward(tokenGrads); err != nil {
			return nil, fmt.Errorf("backward pass failed at step %d: %v", stepIndex, err)
		}

		if stepIndex%l.cfg.GradAccumSteps == 0 {
			if err := l.applyUpdate(epoch); err != nil {
				return nil, fmt.Errorf("parameter update failed at step %d: %v", stepIndex, err)
			}
		}

		globalStep := stepIndex + 1
		for _, tag := range checkpoint.Due(globalStep, totalSteps) {
			if tag == checkpoint.TagEnd {
				// The epoch-end save happens at the epoch boundary, after
				// metric reduction, in the trainer.
				continue
			}
			if l.coord.IsLead() {
				name := checkpoint.ArtifactName(l.cfg.RunPrefix, epoch, l.cfg.LearningRate,
					l.cfg.GradAccumSteps, l.cfg.Split, tag)
				state := CaptureState(l.model)
				state.Metadata = checkpoint.Metadata{
					Epoch:        epoch,
					Tag:          tag.String(),
					LearningRate: l.cfg.LearningRate,
					Split:        l.cfg.Split,
				}
				if err := l.store.Save(name, state); err != nil {
					return nil, fmt.Errorf("failed to save %s checkpoint: %v", tag, err)
				}
			}
		}
		if err := l.coord.AdvanceTo(coord.PhaseCheckpointDone); err != nil {
			return nil, err
		}

		l.merge(results, batch, step)

		if l.progress != nil {
			l.progress.Observe(stepAverages(batch, step))
			l.progress.Render(epoch, l.currentLR, epochCounts(results))
		}
		if err := l.coord.AdvanceTo(coord.PhaseStepDone); err != nil {
			return nil, err
		}
	}

	if l.progress != nil {
		l.progress.Finish()
	}
	return results, nil
}

// computeStep turns the per-token loss surface into per-example masked
// means and the weighted scalar objective. Padded positions whose label
// is the ignore sentinel contribute nothing; an example with no valid
// positions keeps a denominator floor of one. A shape mismatch between
// labels and model output is fatal.
func (l *TrainingLoop) computeStep(batch *data.Batch, out *ForwardOutput) (*stepResult, error) {
	n := batch.Size()
	if len(out.TokenLosses) != n {
		return nil, fmt.Errorf("model output has %d examples, batch has %d", len(out.TokenLosses), n)
	}

	perExample := make([]float64, n)
	weighted := 0.0
	for i := 0; i < n; i++ {
		labels := batch.TargetIDs[i]
		losses := out.TokenLosses[i]
		if len(losses) != len(labels) {
			return nil, fmt.Errorf("example %d: model produced %d token losses for %d labels",
				i, len(losses), len(labels))
		}
		sum := 0.0
		valid := 0
		for j, label := range labels {
			if label == data.IgnoreIndex {
				continue
			}
			sum += losses[j]
			valid++
		}
		denom := valid
		if denom < 1 {
			denom = 1
		}
		perExample[i] = sum / float64(denom)
		weighted += perExample[i] * batch.LossWeights[i]
	}
	weighted /= float64(n)

	return &stepResult{perExample: perExample, weighted: weighted}, nil
}

// backwardCoefficients builds the gradient of the accumulation-scaled
// objective with respect to each per-token loss. Under AMP the
// coefficients carry the loss scale; the gradients are unscaled again
// before clipping and the optimizer step.
func (l *TrainingLoop) backwardCoefficients(batch *data.Batch, out *ForwardOutput) [][]float64 {
	n := batch.Size()
	scale := 1.0
	if l.scaler != nil {
		scale = l.scaler.Scale(1.0)
	}
	grads := make([][]float64, n)
	for i := 0; i < n; i++ {
		labels := batch.TargetIDs[i]
		valid := 0
		for _, label := range labels {
			if label != data.IgnoreIndex {
				valid++
			}
		}
		denom := valid
		if denom < 1 {
			denom = 1
		}
		coeff := scale * batch.LossWeights[i] /
			(float64(n) * float64(l.cfg.GradAccumSteps) * float64(denom))
		row := make([]float64, len(labels))
		for j, label := range labels {
			if label != data.IgnoreIndex {
				row[j] = coeff
			}
		}
		grads[i] = row
	}
	return grads
}

// applyUpdate clips, steps the optimizer and scheduler, and zeroes the
// gradients.
func (l *TrainingLoop) applyUpdate(epoch int) error {
	params := l.model.Parameters()
	if l.cfg.ClipGradNorm > 0 {
		if l.scaler != nil {
			l.scaler.Unscale(params)
		}
		ClipGradNorm(params, l.cfg.ClipGradNorm)
	}

	if l.scaler != nil {
		if err := l.scaler.Step(params, l.optimizer); err != nil {
			return err
		}
		l.scaler.Update()
	} else {
		if err := l.optimizer.Step(); err != nil {
			return err
		}
	}

	l.optSteps++
	l.currentLR = l.scheduler.GetLR(epoch, l.optSteps, l.cfg.LearningRate)
	l.optimizer.SetLR(l.currentLR)
	l.optimizer.ZeroGrad()
	return nil
}

// merge folds one step's results into the epoch accumulator by
// summation: the batch-wide total plus one entry per task present in
// this batch. Tasks absent from the batch contribute nothing, and
// equalization padding is skipped so each example counts exactly once
// across the whole group.
func (l *TrainingLoop) merge(results *metrics.EpochResults, batch *data.Batch, step *stepResult) {
	totalSum := 0.0
	var totalCount int64
	for i, v := range step.perExample {
		if batch.IsPadding(i) {
			continue
		}
		totalSum += v
		totalCount++
	}
	results.Add("total_loss", totalSum, totalCount)

	taskSums := make(map[string]float64)
	taskCounts := make(map[string]int64)
	for i, task := range batch.Tasks {
		if batch.IsPadding(i) {
			continue
		}
		taskSums[task] += step.perExample[i]
		taskCounts[task]++
	}
	for task, sum := range taskSums {
		results.Add(task+"_loss", sum, taskCounts[task])
	}
}

// stepAverages computes this step's per-loss averages for the progress
// meters.
func stepAverages(batch *data.Batch, step *stepResult) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int64)
	total := 0.0
	var totalCount int64
	for i, task := range batch.Tasks {
		if batch.IsPadding(i) {
			continue
		}
		sums[task+"_loss"] += step.perExample[i]
		counts[task+"_loss"]++
		total += step.perExample[i]
		totalCount++
	}
	sums["total_loss"] = total
	counts["total_loss"] = totalCount

	avgs := make(map[string]float64, len(sums))
	for name, sum := range sums {
		if counts[name] > 0 {
			avgs[name] = sum / float64(counts[name])
		}
	}
	return avgs
}

// epochCounts extracts the epoch-to-date example counts for the
// progress line.
func epochCounts(results *metrics.EpochResults) map[string]int64 {
	counts := make(map[string]int64)
	for _, name := range results.Names() {
		counts[name] = results.Count(name)
	}
	return counts
}
