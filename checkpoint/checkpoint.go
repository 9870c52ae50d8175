package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ParamTensor is one named model parameter with its data. Shape is kept
// alongside the flat data so a load can verify it is being applied to a
// structurally identical model.
type ParamTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Elems returns the element count implied by the shape.
func (p ParamTensor) Elems() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// State is a complete model parameter snapshot plus run metadata.
type State struct {
	Params   []ParamTensor `json:"params"`
	Metadata Metadata      `json:"metadata"`
}

// Metadata records where in the run a checkpoint was taken.
type Metadata struct {
	Epoch        int       `json:"epoch"`
	Tag          string    `json:"tag"`
	LearningRate float64   `json:"learning_rate"`
	Split        string    `json:"split"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists checkpoint artifacts under a single directory. Writes
// happen only on the lead process; the evaluation path reads artifacts
// back on every process, always after the writer has finished.
type Store struct {
	dir string
}

// NewStore creates the checkpoint directory if needed and returns a
// store over it.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %v", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the on-disk path of the named artifact.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Save writes a checkpoint under the given artifact name.
func (s *Store) Save(name string, state *State) error {
	for _, p := range state.Params {
		if len(p.Data) != p.Elems() {
			return fmt.Errorf("parameter %s: data length %d does not match shape %v", p.Name, len(p.Data), p.Shape)
		}
	}
	if state.Metadata.CreatedAt.IsZero() {
		state.Metadata.CreatedAt = time.Now()
	}

	file, err := os.Create(s.Path(name))
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(state); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	return nil
}

// Load reads a checkpoint back. A missing artifact is an error; the
// evaluation path treats it as fatal rather than skipping the slot.
func (s *Store) Load(name string) (*State, error) {
	file, err := os.Open(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint %s: %v", name, err)
	}
	defer file.Close()

	var state State
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %v", name, err)
	}
	for _, p := range state.Params {
		if len(p.Data) != p.Elems() {
			return nil, fmt.Errorf("checkpoint %s parameter %s: data length %d does not match shape %v",
				name, p.Name, len(p.Data), p.Shape)
		}
	}
	return &state, nil
}
