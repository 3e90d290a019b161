package solver

import (
	"context"
	"math"
	"testing"

	"github.com/cwbudde/algo-dsp/kernel"
)

func syntheticTrace(spikeIdx []int, amp float64, tauRise, tauDecay, fs float64, n int) []float32 {
	h := kernel.Build(tauRise, tauDecay, fs)
	out := make([]float64, n)
	for _, idx := range spikeIdx {
		for k, v := range h {
			if idx+k < n {
				out[idx+k] += amp * v
			}
		}
	}
	f32 := make([]float32, n)
	for i, v := range out {
		f32[i] = float32(v)
	}
	return f32
}

func runToConvergence(t *testing.T, s *State, maxBatches, batchSize int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < maxBatches; i++ {
		if s.StepBatch(ctx, batchSize) {
			return
		}
	}
}

func TestZeroLengthTraceConverged(t *testing.T) {
	s := New()
	s.SetParams(0.02, 0.4, 0, 30)
	s.SetTrace(nil)
	if !s.StepBatch(context.Background(), 10) {
		t.Error("expected converged=true for zero-length trace")
	}
	if len(s.Solution()) != 0 {
		t.Error("expected empty solution for zero-length trace")
	}
}

func TestNonNegConstraintHolds(t *testing.T) {
	trace := syntheticTrace([]int{10, 50}, 1.0, 0.02, 0.4, 30, 200)

	s := New(WithConvMode(ModeFreq), WithConstraint(ConstraintNonNeg))
	s.SetParams(0.02, 0.4, 0.01, 30)
	s.SetTrace(trace)
	runToConvergence(t, s, 200, 5)

	for i, v := range s.Solution() {
		if v < 0 {
			t.Errorf("solution[%d] = %v, violates non-negativity", i, v)
		}
	}
}

func TestBox01ConstraintHolds(t *testing.T) {
	trace := syntheticTrace([]int{10, 50}, 1.0, 0.02, 0.4, 30, 200)

	s := New(WithConvMode(ModeBanded), WithConstraint(ConstraintBox01))
	s.SetParams(0.02, 0.4, 0, 30)
	s.SetTrace(trace)
	runToConvergence(t, s, 200, 5)

	for i, v := range s.Solution() {
		if v < 0 || v > 1 {
			t.Errorf("solution[%d] = %v, violates [0,1] constraint", i, v)
		}
	}
}

func TestDeterministicAcrossRuns(t *testing.T) {
	trace := syntheticTrace([]int{5, 30, 80}, 0.8, 0.02, 0.4, 30, 150)

	run := func() []float32 {
		s := New(WithConvMode(ModeFreq), WithConstraint(ConstraintNonNeg))
		s.SetParams(0.02, 0.4, 0.01, 30)
		s.SetTrace(trace)
		runToConvergence(t, s, 200, 5)
		return s.Solution()
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("nondeterministic output at %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestFreqAndBandedAgreeApproximately(t *testing.T) {
	trace := syntheticTrace([]int{10, 60}, 1.0, 0.02, 0.4, 30, 300)

	freqSolver := New(WithConvMode(ModeFreq), WithConstraint(ConstraintNonNeg))
	freqSolver.SetParams(0.02, 0.4, 0.01, 30)
	freqSolver.SetTrace(trace)
	runToConvergence(t, freqSolver, 400, 5)

	bandSolver := New(WithConvMode(ModeBanded), WithConstraint(ConstraintNonNeg))
	bandSolver.SetParams(0.02, 0.4, 0.01, 30)
	bandSolver.SetTrace(trace)
	runToConvergence(t, bandSolver, 400, 5)

	freqRecon := freqSolver.ReconvolutionWithBaseline()
	bandRecon := bandSolver.ReconvolutionWithBaseline()

	var sumSq, sumDiffSq float64
	for i := range trace {
		d := float64(freqRecon[i] - bandRecon[i])
		sumDiffSq += d * d
		sumSq += float64(trace[i]) * float64(trace[i])
	}
	relErr := math.Sqrt(sumDiffSq / math.Max(sumSq, 1e-9))
	if relErr > 0.1 {
		t.Errorf("Freq/Banded reconstructions disagree: relErr=%v", relErr)
	}
}

func TestResetMomentumClearsAcceleration(t *testing.T) {
	s := New()
	s.SetParams(0.02, 0.4, 0, 30)
	s.SetTrace(syntheticTrace([]int{5}, 1, 0.02, 0.4, 30, 50))
	s.StepBatch(context.Background(), 3)
	s.ResetMomentum()
	if s.momentum != 1 {
		t.Errorf("momentum = %v after ResetMomentum, want 1", s.momentum)
	}
	for i, v := range s.yExt {
		if v != s.x[i] {
			t.Errorf("y_ext[%d] = %v, want x[%d] = %v after ResetMomentum", i, v, i, s.x[i])
		}
	}
}

func TestExportLoadStateRoundtrip(t *testing.T) {
	trace := syntheticTrace([]int{5, 30}, 1, 0.02, 0.4, 30, 100)

	a := New(WithConvMode(ModeFreq), WithConstraint(ConstraintNonNeg))
	a.SetParams(0.02, 0.4, 0.01, 30)
	a.SetTrace(trace)
	a.StepBatch(context.Background(), 10)
	exported := a.ExportState()

	b := New(WithConvMode(ModeFreq), WithConstraint(ConstraintNonNeg))
	b.SetParams(0.02, 0.4, 0.01, 30)
	b.SetTrace(trace)
	b.LoadState(exported)

	if b.IterationCount() != a.IterationCount() {
		t.Errorf("IterationCount after LoadState = %d, want %d", b.IterationCount(), a.IterationCount())
	}
	for i, v := range b.Solution() {
		if v != a.Solution()[i] {
			t.Errorf("Solution[%d] after LoadState = %v, want %v", i, v, a.Solution()[i])
		}
	}
}

func TestSetParamsInvalidatesMomentum(t *testing.T) {
	s := New()
	s.SetParams(0.02, 0.4, 0, 30)
	s.SetTrace(syntheticTrace([]int{5}, 1, 0.02, 0.4, 30, 50))
	s.StepBatch(context.Background(), 5)

	s.SetParams(0.03, 0.5, 0, 30)
	if s.momentum != 1 {
		t.Errorf("momentum = %v after SetParams, want 1", s.momentum)
	}
}

func TestExternallyBaselineSubtractedSkipsDCEstimation(t *testing.T) {
	trace := syntheticTrace([]int{10}, 1, 0.02, 0.4, 30, 100)
	for i := range trace {
		trace[i] += 5 // add a large constant offset
	}

	s := New(WithConvMode(ModeBanded), WithConstraint(ConstraintBox01))
	s.SetParams(0.02, 0.4, 0, 30)
	s.SetTrace(trace)
	s.SetExternallyBaselineSubtracted(true)
	s.StepBatch(context.Background(), 5)

	if s.Baseline() != 0 {
		t.Errorf("Baseline() = %v, want 0 when externally baseline-subtracted", s.Baseline())
	}
}
