package training

import (
	"math"
	"testing"
)

func TestLinearWarmupScheduler(t *testing.T) {
	s := NewLinearWarmupScheduler(10, 100)

	if got := s.GetLR(0, 0, 1); got != 0 {
		t.Errorf("step 0 lr = %v, want 0", got)
	}
	if got := s.GetLR(0, 5, 1); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("mid-warmup lr = %v, want 0.5", got)
	}
	if got := s.GetLR(0, 10, 1); got != 1 {
		t.Errorf("end of warmup lr = %v, want baseLR", got)
	}
	if got := s.GetLR(0, 55, 1); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("mid-decay lr = %v, want 0.5", got)
	}
	if got := s.GetLR(0, 100, 1); got != 0 {
		t.Errorf("final step lr = %v, want 0", got)
	}
	if got := s.GetName(); got != "LinearWarmup" {
		t.Errorf("GetName = %q", got)
	}
}

func TestLinearWarmupSchedulerDegenerateBounds(t *testing.T) {
	s := NewLinearWarmupScheduler(-5, 0)
	if s.WarmupSteps != 0 {
		t.Errorf("negative warmup kept: %d", s.WarmupSteps)
	}
	if s.TotalSteps <= s.WarmupSteps {
		t.Errorf("total %d not above warmup %d", s.TotalSteps, s.WarmupSteps)
	}
}

func TestStepLRScheduler(t *testing.T) {
	s := NewStepLRScheduler(2, 0.1)
	baseLR := 0.1

	if got := s.GetLR(0, 0, baseLR); got != baseLR {
		t.Errorf("epoch 0 lr = %v, want %v", got, baseLR)
	}
	if got := s.GetLR(1, 0, baseLR); got != baseLR {
		t.Errorf("epoch 1 lr = %v, want %v", got, baseLR)
	}
	if got := s.GetLR(2, 0, baseLR); math.Abs(got-0.01) > 1e-12 {
		t.Errorf("epoch 2 lr = %v, want 0.01", got)
	}
	if got := s.GetLR(4, 0, baseLR); math.Abs(got-0.001) > 1e-12 {
		t.Errorf("epoch 4 lr = %v, want 0.001", got)
	}
}

func TestNoOpSchedulerIsConstant(t *testing.T) {
	s := &NoOpScheduler{}
	for _, step := range []int{0, 10, 1000} {
		if got := s.GetLR(3, step, 0.01); got != 0.01 {
			t.Errorf("step %d lr = %v, want 0.01", step, got)
		}
	}
	if got := s.GetName(); got != "ConstantLR" {
		t.Errorf("GetName = %q", got)
	}
}
