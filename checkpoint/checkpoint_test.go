package checkpoint

import (
	"strings"
	"testing"
)

func testState() *State {
	return &State{
		Params: []ParamTensor{
			{Name: "embed", Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
			{Name: "bias", Shape: []int{2}, Data: []float32{0.5, -0.5}},
		},
		Metadata: Metadata{Epoch: 1, Tag: "mid2", LearningRate: 1e-4, Split: "train"},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	name := ArtifactName("run", 1, 1e-4, 8, "train", TagMid2)
	if err := store.Save(name, testState()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(name)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Params) != 2 {
		t.Fatalf("loaded %d params, want 2", len(loaded.Params))
	}
	if loaded.Params[0].Name != "embed" || loaded.Params[0].Data[5] != 6 {
		t.Errorf("embed parameter did not round-trip: %+v", loaded.Params[0])
	}
	if loaded.Metadata.Tag != "mid2" || loaded.Metadata.Epoch != 1 {
		t.Errorf("metadata did not round-trip: %+v", loaded.Metadata)
	}
	if loaded.Metadata.CreatedAt.IsZero() {
		t.Error("Save did not stamp CreatedAt")
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := store.Load("does_not_exist.pth"); err == nil {
		t.Fatal("Load of a missing artifact should fail")
	}
}

func TestStoreSaveRejectsShapeMismatch(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	bad := &State{Params: []ParamTensor{
		{Name: "w", Shape: []int{2, 2}, Data: []float32{1, 2, 3}},
	}}
	err = store.Save("bad.pth", bad)
	if err == nil {
		t.Fatal("Save should reject data shorter than its shape")
	}
	if !strings.Contains(err.Error(), "does not match shape") {
		t.Errorf("unexpected error: %v", err)
	}
}
