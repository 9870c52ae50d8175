package training

import (
	"fmt"
	"strings"

	"github.com/citegraph/glmtrain/coord"
	"github.com/citegraph/glmtrain/data"
	"github.com/citegraph/glmtrain/metrics"
)

// textLabelSuffixes are the template-id endings that denote
// variable-length textual-label outputs scored by string equality.
// Other template ids are reserved for future task types and never
// touch the classification counters.
var textLabelSuffixes = []string{"2", "4", "6", "7"}

// classificationTask is the task tag whose examples the evaluation loop
// scores.
const classificationTask = "classification"

// EvaluationLoop drives one full pass over a validation source in
// inference mode, decoding a prediction per example and scoring it
// against the per-template matching rules.
type EvaluationLoop struct {
	cfg   Config
	model Model
	coord *coord.Coordinator
}

// newEvaluationLoop wires an evaluation loop from the trainer's
// collaborators.
func newEvaluationLoop(cfg Config, model Model, c *coord.Coordinator) *EvaluationLoop {
	return &EvaluationLoop{cfg: cfg, model: model, coord: c}
}

// scoredTemplate reports whether a template id denotes a textual-label
// output within the string-equality scoring rule.
func scoredTemplate(templateID string) bool {
	for _, suffix := range textLabelSuffixes {
		if strings.HasSuffix(templateID, suffix) {
			return true
		}
	}
	return false
}

// Run evaluates one full pass and returns the local counters, ready for
// cross-worker reduction. The counter key set is enumerated up front
// from the classification templates; scoring an example outside it is a
// fatal mismatch between the data source's task list and this one.
func (e *EvaluationLoop) Run(loader *data.Loader, feats *data.NodeFeatureTable) (*metrics.ValidationCounters, error) {
	templates := e.cfg.TaskTemplates.Flatten(classificationTask)
	counters, err := metrics.NewValidationCounters(templates, e.cfg.EvalCategories)
	if err != nil {
		return nil, fmt.Errorf("failed to build validation counters: %v", err)
	}

	e.model.Eval()
	loader.Reset()

	for stepIndex := 0; ; stepIndex++ {
		batch, err := loader.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch evaluation batch at step %d: %v", stepIndex, err)
		}
		if batch == nil {
			break
		}

		preds, err := e.model.GreedyDecode(batch, feats)
		if err != nil {
			return nil, fmt.Errorf("decode failed at step %d: %v", stepIndex, err)
		}
		if len(preds) != batch.Size() {
			return nil, fmt.Errorf("decode produced %d predictions for %d examples", len(preds), batch.Size())
		}

		for i, pred := range preds {
			if batch.IsPadding(i) {
				continue
			}
			if batch.Tasks[i] != classificationTask {
				continue
			}
			if !scoredTemplate(batch.TemplateIDs[i]) {
				continue
			}
			if strings.EqualFold(pred, batch.TargetTexts[i]) {
				if err := counters.Increment(batch.TemplateIDs[i], batch.Categories[i]); err != nil {
					return nil, err
				}
			}
		}

		if err := e.coord.AdvanceTo(coord.PhaseEvalBatch); err != nil {
			return nil, err
		}
	}
	return counters, nil
}
