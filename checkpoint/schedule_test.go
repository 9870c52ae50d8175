package checkpoint

import (
	"reflect"
	"testing"
)

func TestDueFiresAtEighths(t *testing.T) {
	total := 100
	fired := map[int][]PhaseTag{}
	for step := 1; step <= total; step++ {
		if tags := Due(step, total); len(tags) > 0 {
			fired[step] = tags
		}
	}

	wantSteps := []int{12, 25, 37, 50, 62, 75, 87, 100}
	if len(fired) != len(wantSteps) {
		t.Fatalf("checkpoints fired at %d steps, want %d: %v", len(fired), len(wantSteps), fired)
	}
	for _, step := range wantSteps {
		if _, ok := fired[step]; !ok {
			t.Errorf("expected a checkpoint at step %d, got none", step)
		}
	}
	if got := fired[100]; len(got) != 1 || got[0] != TagEnd {
		t.Errorf("step 100 fired %v, want [end]", got)
	}
	if got := fired[50]; len(got) != 1 || got[0] != TagMid2 {
		t.Errorf("step 50 fired %v, want [mid2]", got)
	}
}

func TestDueCollisionsAllFire(t *testing.T) {
	// With 8 total steps every eighth lands on its own step and the
	// final step carries both the 7/8 and the end tag boundary checks.
	tests := []struct {
		name  string
		step  int
		total int
		want  []PhaseTag
	}{
		{"single tag", 4, 8, []PhaseTag{TagMid2}},
		{"final step end only", 8, 8, []PhaseTag{TagEnd}},
		{"tiny epoch end only", 1, 1, []PhaseTag{TagEnd}},
		{"fractions collide", 1, 2, []PhaseTag{TagMid2, TagMMid3, TagMid3, TagMEnd}},
		{"three eighths", 3, 8, []PhaseTag{TagMMid2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Due(tt.step, tt.total)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Due(%d, %d) = %v, want %v", tt.step, tt.total, got, tt.want)
			}
		})
	}
}

func TestSlotTagCycle(t *testing.T) {
	want := []PhaseTag{TagMid1, TagMid2, TagMid3, TagEnd}
	for slot := 0; slot < 8; slot++ {
		if got := SlotTag(slot); got != want[slot%4] {
			t.Errorf("SlotTag(%d) = %v, want %v", slot, got, want[slot%4])
		}
	}
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		epoch  int
		lr     float64
		accum  int
		split  string
		tag    PhaseTag
		want   string
	}{
		{"first epoch end", "flan_pubmed", 0, 0.0001, 8, "train", TagEnd, "flan_pubmed_1_0.0001_8_train_end.pth"},
		{"mid tag", "flan_pubmed", 2, 0.0001, 8, "train", TagMid2, "flan_pubmed_3_0.0001_8_train_mid2.pth"},
		{"small lr", "run", 0, 8e-05, 4, "val", TagMMid3, "run_1_8e-05_4_val_mmid3.pth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ArtifactName(tt.prefix, tt.epoch, tt.lr, tt.accum, tt.split, tt.tag)
			if got != tt.want {
				t.Errorf("ArtifactName = %q, want %q", got, tt.want)
			}
		})
	}
}
