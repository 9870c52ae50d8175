package data

import (
	"encoding/json"
	"fmt"
	"os"
)

// exampleRecord is the on-disk form of one example.
type exampleRecord struct {
	InputIDs   []int32 `json:"input_ids"`
	TargetIDs  []int32 `json:"target_ids"`
	LossWeight float64 `json:"loss_weight"`
	Task       string  `json:"task"`
	TemplateID string  `json:"temp_id"`
	Category   string  `json:"cate"`
	TargetText string  `json:"target_text"`
}

// splitFile is the on-disk form of one dataset split.
type splitFile struct {
	Examples        []exampleRecord `json:"examples"`
	TransductiveLen int             `json:"len_transductive"`
}

// LoadSplit reads a dataset split from a JSON file produced by the
// dataset-construction pipeline.
func LoadSplit(path string) (*SliceDataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open split file: %v", err)
	}
	defer file.Close()

	var sf splitFile
	if err := json.NewDecoder(file).Decode(&sf); err != nil {
		return nil, fmt.Errorf("failed to decode split file %s: %v", path, err)
	}
	if len(sf.Examples) == 0 {
		return nil, fmt.Errorf("split file %s contains no examples", path)
	}

	examples := make([]Example, len(sf.Examples))
	for i, rec := range sf.Examples {
		examples[i] = Example{
			InputIDs:   rec.InputIDs,
			TargetIDs:  rec.TargetIDs,
			LossWeight: rec.LossWeight,
			Task:       rec.Task,
			TemplateID: rec.TemplateID,
			Category:   rec.Category,
			TargetText: rec.TargetText,
		}
	}
	return NewSliceDataset(examples, sf.TransductiveLen), nil
}

// LoadFeatures reads the per-node feature matrix from a JSON file.
func LoadFeatures(path string) (*NodeFeatureTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature file: %v", err)
	}
	defer file.Close()

	var rows [][]float32
	if err := json.NewDecoder(file).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode feature file %s: %v", path, err)
	}
	table, err := NewNodeFeatureTable(rows)
	if err != nil {
		return nil, fmt.Errorf("invalid feature file %s: %v", path, err)
	}
	return table, nil
}
