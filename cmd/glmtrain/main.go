// Command glmtrain runs synchronous multi-worker training or checkpoint
// evaluation for a citation-graph sequence model. Workers share one
// in-process collective; rank 0 owns console logging, checkpoint writes
// and the evaluation report.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/citegraph/glmtrain/checkpoint"
	"github.com/citegraph/glmtrain/coord"
	"github.com/citegraph/glmtrain/data"
	"github.com/citegraph/glmtrain/model"
	"github.com/citegraph/glmtrain/training"
)

// pubmedTrainTasks mirrors the template grouping the PubMed dataset
// pipeline emits for the pretraining split.
var pubmedTrainTasks = data.TaskTemplates{
	"link": {
		{"1-3-1-1", "1-3-1-2"},
		{"1-3-2-1", "1-3-2-2", "1-3-2-3", "1-3-2-4"},
		{"1-3-3-1", "1-3-3-2", "1-3-3-3", "1-3-3-4"},
	},
	"classification": {
		{"6-6-6-6", "6-6-6-7"},
		{"2-3-1-2", "2-1-1-2"},
		{"2-3-2-2", "2-1-2-2", "2-3-2-4", "2-1-2-4"},
		{"2-3-3-2", "2-1-3-2", "2-3-3-4", "2-1-3-4"},
	},
}

// pubmedValTasks is the classification-only grouping used to derive the
// validation counter keys.
var pubmedValTasks = data.TaskTemplates{
	"classification": {
		{"6-6-6-6", "6-6-6-7"},
		{"2-1-2-2", "2-1-2-4", "2-3-2-2", "2-3-2-4"},
		{"2-1-3-2", "2-1-3-4", "2-3-3-2", "2-3-3-4"},
		{"2-1-1-2", "2-3-1-2"},
	},
}

type cliArgs struct {
	epochs       int
	batchSize    int
	lr           float64
	gradAccum    int
	clipGradNorm float64
	fp16         bool
	workers      int
	split        string
	inference    bool
	prefix       string
	ckptDir      string
	reportPath   string
	losses       string
	categories   string
	comment      string

	trainData string
	valData   string
	features  string
	vocab     string
	dim       int
	seed      int64
}

func parseArgs() cliArgs {
	var a cliArgs
	flag.IntVar(&a.epochs, "epochs", 2, "number of training epochs")
	flag.IntVar(&a.batchSize, "batch-size", 4, "examples per batch per worker")
	flag.Float64Var(&a.lr, "lr", 1e-4, "base learning rate")
	flag.IntVar(&a.gradAccum, "grad-accum", 8, "gradient accumulation steps")
	flag.Float64Var(&a.clipGradNorm, "clip-grad-norm", 1.0, "global gradient norm clip, 0 disables")
	flag.BoolVar(&a.fp16, "fp16", false, "enable mixed-precision gradient scaling")
	flag.IntVar(&a.workers, "workers", 1, "number of data-parallel workers")
	flag.StringVar(&a.split, "split", "train", "dataset split encoded into artifact names")
	flag.BoolVar(&a.inference, "inference", false, "evaluate saved checkpoints instead of training")
	flag.StringVar(&a.prefix, "prefix", "flan_pubmed", "checkpoint artifact name prefix")
	flag.StringVar(&a.ckptDir, "checkpoint-dir", "checkpoints", "directory for checkpoint artifacts")
	flag.StringVar(&a.reportPath, "report", "report.txt", "evaluation report path")
	flag.StringVar(&a.losses, "losses", "classification,link", "comma-separated task names")
	flag.StringVar(&a.categories, "eval-categories", "transductive", "comma-separated evaluation categories")
	flag.StringVar(&a.comment, "comment", "", "free-form run name suffix")
	flag.StringVar(&a.trainData, "train-data", "", "path to the training split JSON")
	flag.StringVar(&a.valData, "val-data", "", "path to the validation split JSON")
	flag.StringVar(&a.features, "features", "", "path to the node feature JSON, optional")
	flag.StringVar(&a.vocab, "vocab", "", "path to the token vocabulary JSON")
	flag.IntVar(&a.dim, "dim", 64, "embedding width of the reference model")
	flag.Int64Var(&a.seed, "seed", 42, "weight initialization seed")
	flag.Parse()
	return a
}

// runName follows the convention <MonDD_HH-MM>_GPU<world>[_comment].
func runName(workers int, comment string) string {
	name := fmt.Sprintf("%s_GPU%d", time.Now().Format("Jan02_15-04"), workers)
	if comment != "" {
		name += "_" + comment
	}
	return name
}

func loadVocab(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary file: %v", err)
	}
	defer file.Close()

	var vocab []string
	if err := json.NewDecoder(file).Decode(&vocab); err != nil {
		return nil, fmt.Errorf("failed to decode vocabulary file %s: %v", path, err)
	}
	return vocab, nil
}

func run(a cliArgs) error {
	tasks := pubmedTrainTasks
	if a.inference {
		tasks = pubmedValTasks
	}

	cfg := training.Config{
		Epochs:         a.epochs,
		BatchSize:      a.batchSize,
		LearningRate:   a.lr,
		GradAccumSteps: a.gradAccum,
		ClipGradNorm:   a.clipGradNorm,
		Precision:      training.FP32,
		Distributed:    a.workers > 1,
		WorldSize:      a.workers,
		Split:          a.split,
		RunPrefix:      a.prefix,
		CheckpointDir:  a.ckptDir,
		ReportPath:     a.reportPath,
		Losses:         strings.Split(a.losses, ","),
		TaskTemplates:  tasks,
		EvalCategories: strings.Split(a.categories, ","),
	}
	if a.fp16 {
		cfg.Precision = training.AMP
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	vocab, err := loadVocab(a.vocab)
	if err != nil {
		return err
	}

	var feats *data.NodeFeatureTable
	if a.features != "" {
		feats, err = data.LoadFeatures(a.features)
		if err != nil {
			return err
		}
	}

	var trainSet, valSet *data.SliceDataset
	if !a.inference {
		trainSet, err = data.LoadSplit(a.trainData)
		if err != nil {
			return err
		}
		fmt.Printf("Length of train dataset: %d\n", trainSet.Len())
	} else {
		valSet, err = data.LoadSplit(a.valData)
		if err != nil {
			return err
		}
		fmt.Printf("Length of test dataset: %d\n", valSet.Len())
	}

	fmt.Printf("Run: %s\n", runName(a.workers, a.comment))

	featDim := 0
	if feats != nil {
		featDim = feats.Dim()
	}

	return training.RunWorkers(a.workers, func(rank int, c *coord.Coordinator) error {
		replica, err := model.NewLogLinear(vocab, a.dim, featDim, a.seed)
		if err != nil {
			return err
		}
		replica.SetCollective(c)

		store, err := checkpoint.NewStore(cfg.CheckpointDir)
		if err != nil {
			return err
		}
		orch := &training.Orchestrator{Coord: c, Store: store}

		var trainLoader, valLoader *data.Loader
		if !a.inference {
			trainLoader, err = data.NewLoader(trainSet, cfg.BatchSize, rank, a.workers, true)
			if err != nil {
				return err
			}
		} else {
			valLoader, err = data.NewLoader(valSet, cfg.BatchSize, rank, a.workers, false)
			if err != nil {
				return err
			}
			if c.IsLead() {
				report, err := training.NewReportWriter(cfg.ReportPath)
				if err != nil {
					return err
				}
				orch.Report = report
			}
		}

		trainer, err := training.NewTrainer(cfg, replica, orch, trainLoader, valLoader, feats)
		if err != nil {
			return err
		}
		if a.inference {
			return trainer.Test()
		}
		return trainer.Train()
	})
}

func main() {
	if err := run(parseArgs()); err != nil {
		fmt.Fprintf(os.Stderr, "glmtrain: %v\n", err)
		os.Exit(1)
	}
}
