package training

import (
	"math"
	"strings"
	"testing"

	"github.com/citegraph/glmtrain/checkpoint"
	"github.com/citegraph/glmtrain/coord"
	"github.com/citegraph/glmtrain/data"
	"github.com/citegraph/glmtrain/metrics"
)

// stubModel returns a constant loss per valid target position and
// records what Backward receives.
type stubModel struct {
	lossPerToken  float64
	params        []*Parameter
	backwardCalls [][][]float64
	decodeFn      func(batch *data.Batch) []string
}

func (m *stubModel) Forward(batch *data.Batch, _ *data.NodeFeatureTable) (*ForwardOutput, error) {
	losses := make([][]float64, batch.Size())
	for i, targets := range batch.TargetIDs {
		losses[i] = make([]float64, len(targets))
		for j, t := range targets {
			if t != data.IgnoreIndex {
				losses[i][j] = m.lossPerToken
			}
		}
	}
	return &ForwardOutput{TokenLosses: losses}, nil
}

func (m *stubModel) Backward(tokenGrads [][]float64) error {
	m.backwardCalls = append(m.backwardCalls, tokenGrads)
	return nil
}

func (m *stubModel) GreedyDecode(batch *data.Batch, _ *data.NodeFeatureTable) ([]string, error) {
	if m.decodeFn != nil {
		return m.decodeFn(batch), nil
	}
	return make([]string, batch.Size()), nil
}

func (m *stubModel) Parameters() []*Parameter { return m.params }
func (m *stubModel) Train()                   {}
func (m *stubModel) Eval()                    {}

// stubOptimizer counts steps and records learning rate updates.
type stubOptimizer struct {
	steps  int
	zeroed int
	lr     float64
}

func (o *stubOptimizer) Step() error      { o.steps++; return nil }
func (o *stubOptimizer) ZeroGrad()        { o.zeroed++ }
func (o *stubOptimizer) GetLR() float64   { return o.lr }
func (o *stubOptimizer) SetLR(lr float64) { o.lr = lr }

func soloCoordinator(t *testing.T) *coord.Coordinator {
	t.Helper()
	group, err := coord.NewLocalGroup(1)
	if err != nil {
		t.Fatalf("NewLocalGroup failed: %v", err)
	}
	worker, err := group.Worker(0)
	if err != nil {
		t.Fatalf("Worker failed: %v", err)
	}
	return coord.NewCoordinator(worker)
}

func testConfig() Config {
	return Config{
		Epochs:         1,
		BatchSize:      1,
		LearningRate:   1e-4,
		GradAccumSteps: 1,
		Precision:      FP32,
		WorldSize:      1,
		Split:          "train",
		RunPrefix:      "test",
		Losses:         []string{"link", "classification"},
		TaskTemplates:  data.TaskTemplates{"classification": {{"2-1-1-2"}}},
		EvalCategories: []string{"transductive"},
	}
}

func TestComputeStepMasksIgnoredPositions(t *testing.T) {
	l := &TrainingLoop{cfg: testConfig()}
	batch := &data.Batch{
		InputIDs:    [][]int32{{1}},
		TargetIDs:   [][]int32{{5, data.IgnoreIndex, 6}},
		LossWeights: []float64{1},
		Tasks:       []string{"link"},
		TemplateIDs: []string{"1-3-1-1"},
		Categories:  []string{"transductive"},
		TargetTexts: []string{""},
	}
	out := &ForwardOutput{TokenLosses: [][]float64{{2, 99, 4}}}

	step, err := l.computeStep(batch, out)
	if err != nil {
		t.Fatalf("computeStep failed: %v", err)
	}
	if got := step.perExample[0]; got != 3 {
		t.Errorf("per-example mean = %v, want 3 (ignored position excluded)", got)
	}
	if step.weighted != 3 {
		t.Errorf("weighted objective = %v, want 3", step.weighted)
	}
}

func TestComputeStepAllIgnoredUsesDenominatorFloor(t *testing.T) {
	l := &TrainingLoop{cfg: testConfig()}
	batch := &data.Batch{
		InputIDs:    [][]int32{{1}},
		TargetIDs:   [][]int32{{data.IgnoreIndex, data.IgnoreIndex}},
		LossWeights: []float64{1},
		Tasks:       []string{"link"},
		TemplateIDs: []string{"1-3-1-1"},
		Categories:  []string{"transductive"},
		TargetTexts: []string{""},
	}
	out := &ForwardOutput{TokenLosses: [][]float64{{7, 8}}}

	step, err := l.computeStep(batch, out)
	if err != nil {
		t.Fatalf("computeStep failed: %v", err)
	}
	if step.perExample[0] != 0 {
		t.Errorf("fully padded example contributed %v, want 0", step.perExample[0])
	}
}

func TestComputeStepAppliesLossWeights(t *testing.T) {
	l := &TrainingLoop{cfg: testConfig()}
	batch := &data.Batch{
		InputIDs:    [][]int32{{1}, {2}},
		TargetIDs:   [][]int32{{1}, {2}},
		LossWeights: []float64{0.5, 2},
		Tasks:       []string{"link", "link"},
		TemplateIDs: []string{"1-3-1-1", "1-3-1-1"},
		Categories:  []string{"transductive", "transductive"},
		TargetTexts: []string{"", ""},
	}
	out := &ForwardOutput{TokenLosses: [][]float64{{2}, {4}}}

	step, err := l.computeStep(batch, out)
	if err != nil {
		t.Fatalf("computeStep failed: %v", err)
	}
	// (2*0.5 + 4*2) / 2
	if step.weighted != 4.5 {
		t.Errorf("weighted objective = %v, want 4.5", step.weighted)
	}
}

func TestComputeStepRejectsShapeMismatch(t *testing.T) {
	l := &TrainingLoop{cfg: testConfig()}
	batch := &data.Batch{
		InputIDs:    [][]int32{{1}},
		TargetIDs:   [][]int32{{1, 2}},
		LossWeights: []float64{1},
		Tasks:       []string{"link"},
		TemplateIDs: []string{"1-3-1-1"},
		Categories:  []string{"transductive"},
		TargetTexts: []string{""},
	}
	out := &ForwardOutput{TokenLosses: [][]float64{{1}}}
	if _, err := l.computeStep(batch, out); err == nil {
		t.Fatal("computeStep accepted mismatched token loss shape")
	}

	out = &ForwardOutput{TokenLosses: nil}
	if _, err := l.computeStep(batch, out); err == nil {
		t.Fatal("computeStep accepted mismatched batch size")
	}
}

func TestBackwardCoefficients(t *testing.T) {
	cfg := testConfig()
	cfg.GradAccumSteps = 4
	l := &TrainingLoop{cfg: cfg}

	batch := &data.Batch{
		InputIDs:    [][]int32{{1}, {2}},
		TargetIDs:   [][]int32{{1, data.IgnoreIndex}, {2, 3}},
		LossWeights: []float64{1, 0.5},
		Tasks:       []string{"link", "link"},
		TemplateIDs: []string{"1-3-1-1", "1-3-1-1"},
		Categories:  []string{"transductive", "transductive"},
		TargetTexts: []string{"", ""},
	}
	out := &ForwardOutput{TokenLosses: [][]float64{{1, 0}, {1, 1}}}

	grads := l.backwardCoefficients(batch, out)

	// Example 0: weight 1, one valid position, n=2, accum=4.
	if want := 1.0 / (2 * 4 * 1); grads[0][0] != want {
		t.Errorf("grads[0][0] = %v, want %v", grads[0][0], want)
	}
	if grads[0][1] != 0 {
		t.Errorf("ignored position got gradient %v", grads[0][1])
	}
	// Example 1: weight 0.5, two valid positions.
	if want := 0.5 / (2 * 4 * 2); grads[1][0] != want || grads[1][1] != want {
		t.Errorf("grads[1] = %v, want both %v", grads[1], want)
	}
}

func TestBackwardCoefficientsCarryLossScale(t *testing.T) {
	cfg := testConfig()
	cfg.Precision = AMP
	l := &TrainingLoop{cfg: cfg, scaler: NewGradScaler()}

	batch := &data.Batch{
		InputIDs:    [][]int32{{1}},
		TargetIDs:   [][]int32{{1}},
		LossWeights: []float64{1},
		Tasks:       []string{"link"},
		TemplateIDs: []string{"1-3-1-1"},
		Categories:  []string{"transductive"},
		TargetTexts: []string{""},
	}
	out := &ForwardOutput{TokenLosses: [][]float64{{1}}}

	grads := l.backwardCoefficients(batch, out)
	if want := 65536.0; grads[0][0] != want {
		t.Errorf("scaled coefficient = %v, want %v", grads[0][0], want)
	}
}

func trainingBatchDataset(n int, task string) *data.SliceDataset {
	examples := make([]data.Example, n)
	for i := range examples {
		examples[i] = data.Example{
			InputIDs:   []int32{int32(i)},
			TargetIDs:  []int32{int32(i)},
			LossWeight: 1,
			Task:       task,
			TemplateID: "1-3-1-1",
			Category:   "transductive",
		}
	}
	return data.NewSliceDataset(examples, 0)
}

func TestRunEpochOptimizerCadence(t *testing.T) {
	cfg := testConfig()
	cfg.GradAccumSteps = 2
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	model := &stubModel{lossPerToken: 2}
	opt := &stubOptimizer{lr: cfg.LearningRate}
	loop := newTrainingLoop(cfg, model, opt, &NoOpScheduler{}, nil, soloCoordinator(t), store)

	loader, err := data.NewLoader(trainingBatchDataset(5, "link"), 1, 0, 1, false)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	if _, err := loop.RunEpoch(0, loader, nil); err != nil {
		t.Fatalf("RunEpoch failed: %v", err)
	}

	// Steps 0, 2 and 4 land on the accumulation cadence.
	if opt.steps != 3 {
		t.Errorf("optimizer stepped %d times over 5 batches at accumulation 2, want 3", opt.steps)
	}
	if opt.zeroed != 3 {
		t.Errorf("gradients zeroed %d times, want 3", opt.zeroed)
	}
	if len(model.backwardCalls) != 5 {
		t.Errorf("backward ran %d times, want once per batch", len(model.backwardCalls))
	}
}

func TestRunEpochAccumulatesPerTask(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	store, _ := checkpoint.NewStore(t.TempDir())

	examples := []data.Example{
		{InputIDs: []int32{0}, TargetIDs: []int32{0}, LossWeight: 1, Task: "link", TemplateID: "1-3-1-1", Category: "transductive"},
		{InputIDs: []int32{1}, TargetIDs: []int32{1}, LossWeight: 1, Task: "link", TemplateID: "1-3-1-1", Category: "transductive"},
		{InputIDs: []int32{2}, TargetIDs: []int32{2}, LossWeight: 1, Task: "classification", TemplateID: "2-1-1-2", Category: "transductive"},
		{InputIDs: []int32{3}, TargetIDs: []int32{3}, LossWeight: 1, Task: "link", TemplateID: "1-3-1-1", Category: "transductive"},
	}
	loader, _ := data.NewLoader(data.NewSliceDataset(examples, 0), cfg.BatchSize, 0, 1, false)

	model := &stubModel{lossPerToken: 2}
	opt := &stubOptimizer{lr: cfg.LearningRate}
	loop := newTrainingLoop(cfg, model, opt, &NoOpScheduler{}, nil, soloCoordinator(t), store)

	results, err := loop.RunEpoch(0, loader, nil)
	if err != nil {
		t.Fatalf("RunEpoch failed: %v", err)
	}

	if got := results.Count("total_loss"); got != 4 {
		t.Errorf("total_loss count = %d, want 4", got)
	}
	if got := results.Sum("total_loss"); got != 8 {
		t.Errorf("total_loss sum = %v, want 8", got)
	}
	if got := results.Count("link_loss"); got != 3 {
		t.Errorf("link_loss count = %d, want 3", got)
	}
	if got := results.Count("classification_loss"); got != 1 {
		t.Errorf("classification_loss count = %d, want 1", got)
	}
	avg, ok := results.Average("link_loss")
	if !ok || math.Abs(avg-2) > 1e-12 {
		t.Errorf("link_loss average = %v, %v, want 2", avg, ok)
	}
}

func TestMergeAndStepAveragesSkipPaddedExamples(t *testing.T) {
	loop := &TrainingLoop{cfg: testConfig()}
	results := metrics.NewEpochResults([]string{"total_loss", "link_loss"})

	batch := &data.Batch{
		InputIDs:    [][]int32{{0}, {1}},
		TargetIDs:   [][]int32{{0}, {0}},
		LossWeights: []float64{1, 1},
		Tasks:       []string{"link", "link"},
		TemplateIDs: []string{"1-3-1-1", "1-3-1-1"},
		Categories:  []string{"transductive", "transductive"},
		TargetTexts: []string{"a", "a"},
		Padding:     []bool{false, true},
	}
	step := &stepResult{perExample: []float64{3, 5}}

	loop.merge(results, batch, step)
	if got := results.Count("total_loss"); got != 1 {
		t.Errorf("total_loss count = %d, want 1 with the duplicate excluded", got)
	}
	if got := results.Sum("total_loss"); got != 3 {
		t.Errorf("total_loss sum = %v, want 3", got)
	}
	if got := results.Count("link_loss"); got != 1 {
		t.Errorf("link_loss count = %d, want 1", got)
	}

	avgs := stepAverages(batch, step)
	if got := avgs["total_loss"]; got != 3 {
		t.Errorf("step total_loss average = %v, want 3", got)
	}
	if got := avgs["link_loss"]; got != 3 {
		t.Errorf("step link_loss average = %v, want 3", got)
	}
}

func TestRunEpochWritesMidEpochCheckpoints(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	store, _ := checkpoint.NewStore(dir)

	model := &stubModel{
		lossPerToken: 1,
		params: []*Parameter{
			{Name: "w", Shape: []int{2}, Data: []float32{1, 2}, Grad: []float32{0, 0}},
		},
	}
	opt := &stubOptimizer{lr: cfg.LearningRate}
	loop := newTrainingLoop(cfg, model, opt, &NoOpScheduler{}, nil, soloCoordinator(t), store)

	// 8 single-example batches: one tag per eighth, end excluded here.
	loader, _ := data.NewLoader(trainingBatchDataset(8, "link"), 1, 0, 1, false)
	if _, err := loop.RunEpoch(0, loader, nil); err != nil {
		t.Fatalf("RunEpoch failed: %v", err)
	}

	for _, tag := range []checkpoint.PhaseTag{
		checkpoint.TagMMid1, checkpoint.TagMid1, checkpoint.TagMMid2, checkpoint.TagMid2,
		checkpoint.TagMMid3, checkpoint.TagMid3, checkpoint.TagMEnd,
	} {
		name := checkpoint.ArtifactName(cfg.RunPrefix, 0, cfg.LearningRate, cfg.GradAccumSteps, cfg.Split, tag)
		if _, err := store.Load(name); err != nil {
			t.Errorf("expected mid-epoch artifact %s: %v", name, err)
		}
	}
	endName := checkpoint.ArtifactName(cfg.RunPrefix, 0, cfg.LearningRate, cfg.GradAccumSteps, cfg.Split, checkpoint.TagEnd)
	if _, err := store.Load(endName); err == nil {
		t.Errorf("epoch-end artifact %s written inside the step loop", endName)
	}
	if !strings.HasSuffix(store.Path(endName), ".pth") {
		t.Errorf("artifact path %s lost its extension", store.Path(endName))
	}
}
