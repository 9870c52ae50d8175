package data

import (
	"fmt"
	"testing"
)

func makeExamples(n int) []Example {
	examples := make([]Example, n)
	for i := range examples {
		examples[i] = Example{
			InputIDs:   []int32{int32(i)},
			TargetIDs:  []int32{int32(i)},
			LossWeight: 1,
			Task:       "link",
			TemplateID: "1-3-1-1",
			Category:   "transductive",
			TargetText: fmt.Sprintf("node %d", i),
		}
	}
	return examples
}

// drainIDs pulls every batch and returns the first input id of each
// non-padded example seen, in order.
func drainIDs(t *testing.T, l *Loader) []int32 {
	t.Helper()
	var ids []int32
	for {
		batch, err := l.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			return ids
		}
		for i, seq := range batch.InputIDs {
			if batch.IsPadding(i) {
				continue
			}
			ids = append(ids, seq[0])
		}
	}
}

func TestLoaderPartitionIsDisjointAndComplete(t *testing.T) {
	const n = 10
	const world = 3
	ds := NewSliceDataset(makeExamples(n), 0)

	seen := make(map[int32]int)
	for rank := 0; rank < world; rank++ {
		l, err := NewLoader(ds, 2, rank, world, false)
		if err != nil {
			t.Fatalf("NewLoader(rank %d) failed: %v", rank, err)
		}
		for _, id := range drainIDs(t, l) {
			seen[id]++
		}
	}

	if len(seen) != n {
		t.Fatalf("workers visited %d distinct examples, want %d", len(seen), n)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("example %d visited %d times, want exactly once", id, count)
		}
	}
}

func TestLoaderPadsUnevenSplitToEqualBatchCounts(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		world     int
		batchSize int
		wantLen   int
	}{
		{"five over two", 5, 2, 1, 3},
		{"ten over three", 10, 3, 2, 2},
		{"one over four", 1, 4, 1, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ds := NewSliceDataset(makeExamples(tc.n), 0)
			seen := make(map[int32]int)
			padded := 0
			for rank := 0; rank < tc.world; rank++ {
				l, err := NewLoader(ds, tc.batchSize, rank, tc.world, false)
				if err != nil {
					t.Fatalf("NewLoader(rank %d) failed: %v", rank, err)
				}
				if got := l.Len(); got != tc.wantLen {
					t.Errorf("rank %d has %d batches, want %d on every rank", rank, got, tc.wantLen)
				}
				for {
					batch, err := l.Next()
					if err != nil {
						t.Fatalf("Next failed: %v", err)
					}
					if batch == nil {
						break
					}
					for i, seq := range batch.InputIDs {
						if batch.IsPadding(i) {
							padded++
							continue
						}
						seen[seq[0]]++
					}
				}
			}

			if len(seen) != tc.n {
				t.Fatalf("workers visited %d distinct examples, want %d", len(seen), tc.n)
			}
			for id, count := range seen {
				if count != 1 {
					t.Errorf("example %d visited %d times, want exactly once", id, count)
				}
			}
			perRank := (tc.n + tc.world - 1) / tc.world
			if wantPad := perRank*tc.world - tc.n; padded != wantPad {
				t.Errorf("saw %d padded examples, want %d", padded, wantPad)
			}
		})
	}
}

func TestLoaderShuffleIsDeterministicPerEpoch(t *testing.T) {
	ds := NewSliceDataset(makeExamples(16), 0)

	a, _ := NewLoader(ds, 4, 0, 2, true)
	b, _ := NewLoader(ds, 4, 0, 2, true)
	a.SetEpoch(1)
	b.SetEpoch(1)
	idsA := drainIDs(t, a)
	idsB := drainIDs(t, b)
	if len(idsA) != len(idsB) {
		t.Fatalf("loaders disagree on partition size: %d vs %d", len(idsA), len(idsB))
	}
	for i := range idsA {
		if idsA[i] != idsB[i] {
			t.Fatalf("same epoch produced different orders at %d: %v vs %v", i, idsA, idsB)
		}
	}

	a.SetEpoch(2)
	idsNext := drainIDs(t, a)
	same := len(idsNext) == len(idsA)
	if same {
		for i := range idsA {
			if idsNext[i] != idsA[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("epochs 1 and 2 produced the identical order; reshuffle did not happen")
	}
}

func TestLoaderShuffledEpochStaysDisjoint(t *testing.T) {
	const n = 9
	const world = 3
	ds := NewSliceDataset(makeExamples(n), 0)

	seen := make(map[int32]int)
	for rank := 0; rank < world; rank++ {
		l, _ := NewLoader(ds, 2, rank, world, true)
		l.SetEpoch(3)
		for _, id := range drainIDs(t, l) {
			seen[id]++
		}
	}
	if len(seen) != n {
		t.Fatalf("shuffled workers visited %d distinct examples, want %d", len(seen), n)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("example %d visited %d times under shuffle", id, count)
		}
	}
}

func TestLoaderBatchSizes(t *testing.T) {
	ds := NewSliceDataset(makeExamples(5), 0)
	l, _ := NewLoader(ds, 2, 0, 1, false)

	if got := l.Len(); got != 3 {
		t.Errorf("Len = %d, want 3 batches for 5 examples at size 2", got)
	}
	sizes := []int{}
	for {
		batch, err := l.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			break
		}
		sizes = append(sizes, batch.Size())
	}
	want := []int{2, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("got %d batches, want %d", len(sizes), len(want))
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
}

func TestLoaderResetRewinds(t *testing.T) {
	ds := NewSliceDataset(makeExamples(4), 0)
	l, _ := NewLoader(ds, 2, 0, 1, false)

	first := drainIDs(t, l)
	l.Reset()
	second := drainIDs(t, l)
	if len(first) != 4 || len(second) != 4 {
		t.Fatalf("drains saw %d and %d examples, want 4 each", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("reset changed visit order at %d", i)
		}
	}
}

func TestLoaderRejectsBadConfig(t *testing.T) {
	ds := NewSliceDataset(makeExamples(4), 0)
	if _, err := NewLoader(ds, 0, 0, 1, false); err == nil {
		t.Error("zero batch size accepted")
	}
	if _, err := NewLoader(ds, 2, 2, 2, false); err == nil {
		t.Error("rank outside world accepted")
	}
	if _, err := NewLoader(ds, 2, 0, 0, false); err == nil {
		t.Error("zero world size accepted")
	}
}

func TestSliceDatasetTransductiveLen(t *testing.T) {
	ds := NewSliceDataset(makeExamples(3), 7)
	if got := ds.TransductiveLen(); got != 7 {
		t.Errorf("TransductiveLen = %d, want 7", got)
	}
	if _, err := ds.Example(3); err == nil {
		t.Error("out-of-range Example accepted")
	}
}
