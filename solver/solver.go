// Package solver implements the two-sequence FISTA core: an accelerated
// proximal-gradient method for the box- or non-negativity-constrained
// least-squares deconvolution problem, with adaptive gradient-mapping
// restart, warm-start, and a choice of frequency-domain or banded AR(2)
// forward/adjoint operator.
//
// A State is created once per caller and reused across parameter changes
// and traces, in the same single-owner, grow-never-shrink buffer style the
// rest of this module uses for its per-instance processing state.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/bandop"
	"github.com/cwbudde/algo-dsp/dspfilter"
	"github.com/cwbudde/algo-dsp/freqop"
	"github.com/cwbudde/algo-dsp/internal/core"
	"github.com/cwbudde/algo-dsp/internal/vecmath"
	"github.com/cwbudde/algo-dsp/kernel"
)

// Mode selects the forward/adjoint convolution operator.
type Mode int

const (
	// ModeFreq uses the FFT-based freqop.Operator.
	ModeFreq Mode = iota
	// ModeBanded uses the O(T) AR(2)-recurrence bandop.Operator.
	ModeBanded
)

// Constraint selects the proximal operator applied to the solution after
// each gradient step.
type Constraint int

const (
	// ConstraintNonNeg projects onto x >= 0 (with soft-thresholding by
	// alpha*lambda first).
	ConstraintNonNeg Constraint = iota
	// ConstraintBox01 clips to [0, 1] (lambda is ignored).
	ConstraintBox01
)

// ErrEmptyTrace identifies the zero-length-trace case. No function in this
// package returns it: SetTrace accepts a zero-length slice, and StepBatch on
// such a State reports converged=true.
var ErrEmptyTrace = errors.New("solver: empty trace")

// baselineEMAWeight is the exponential-moving-average weight applied to the
// per-iteration DC estimate for the display-only smoothed baseline.
const baselineEMAWeight = 0.3

// convergenceEpsilon guards the convergence test's denominator against a
// zero-norm solution.
const convergenceEpsilon = 1e-12

// minIterationsBeforeConvergence is the number of iterations that must run
// before the primal-residual test is allowed to report convergence.
const minIterationsBeforeConvergence = 5

// State holds one solver's parameters, buffers, and iteration state. It is
// not safe for concurrent use; distinct States may run concurrently.
type State struct {
	tauRise, tauDecay, lambda, fs float64
	mode                          Mode
	constraint                    Constraint
	tolerance                     float64

	hpEnabled, lpEnabled   bool
	hpCutoffHz, lpCutoffHz float64
	hpCascade, lpCascade   *dspfilter.Cascade

	externallyBaselineSubtracted bool

	traceLen int
	trace    []float64

	freqOp *freqop.Operator
	bandOp *bandop.Operator

	lipschitz float64
	step      float64

	x, yExt, xOld, recon, residual, grad []float64
	yExtPrev                             []float64

	// stepDelta, yExtRaw, and restartProbe are scratch buffers for the
	// vecmath-driven extrapolation and adaptive-restart computation in step1.
	stepDelta, yExtRaw, restartProbe []float64

	scratchIn, scratchOut []float32

	momentum    float64
	iteration   uint32
	converged   bool
	baseline    float64
	baselineEMA float64
	reconStale  bool
}

// Params bundles the calcium kinetics and regularization weight accepted by
// SetParams, for callers that prefer to build a State with its initial
// parameters in one Option rather than a separate SetParams call.
type Params struct {
	TauRise, TauDecay, Lambda, Fs float64
}

// Option configures a State at construction time.
type Option func(*State)

// WithParams sets the kinetics, lambda and fs from p. It only stores the
// fields; the operators are built on the next SetTrace or SetParams call.
func WithParams(p Params) Option {
	return func(s *State) {
		s.tauRise, s.tauDecay, s.lambda, s.fs = p.TauRise, p.TauDecay, p.Lambda, p.Fs
	}
}

// WithConvMode sets the initial convolution mode.
func WithConvMode(m Mode) Option { return func(s *State) { s.mode = m } }

// WithConstraint sets the initial constraint.
func WithConstraint(c Constraint) Option { return func(s *State) { s.constraint = c } }

// WithTolerance sets the initial convergence tolerance.
func WithTolerance(tol float64) Option { return func(s *State) { s.tolerance = tol } }

// New returns a State with default mode ModeFreq, constraint ConstraintNonNeg,
// and tolerance 1e-6, as configured by opts.
func New(opts ...Option) *State {
	s := &State{
		mode:       ModeFreq,
		constraint: ConstraintNonNeg,
		tolerance:  1e-6,
		hpCutoffHz: 1,
		lpCutoffHz: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetConvMode sets the forward/adjoint operator used by StepBatch. Changing
// the mode rebuilds the corresponding operator at once when fs is known (and,
// for ModeFreq, the trace length); otherwise a later SetParams/SetTrace call
// builds it.
func (s *State) SetConvMode(m Mode) {
	if s.mode == m {
		return
	}
	s.mode = m
	s.rebuildOperators()
}

// SetConstraint sets the proximal-operator constraint.
func (s *State) SetConstraint(c Constraint) { s.constraint = c }

// SetTolerance sets the primal-residual convergence tolerance.
func (s *State) SetTolerance(tol float64) { s.tolerance = tol }

// SetHPFilterEnabled enables or disables the high-pass stage applied by
// ApplyFilter.
func (s *State) SetHPFilterEnabled(enabled bool) { s.hpEnabled = enabled }

// SetLPFilterEnabled enables or disables the low-pass stage applied by
// ApplyFilter.
func (s *State) SetLPFilterEnabled(enabled bool) { s.lpEnabled = enabled }

// SetExternallyBaselineSubtracted marks the active trace as already
// baseline-subtracted upstream (e.g. by the pipeline's rolling baseline
// pass), so StepBatch skips its own per-iteration DC estimation.
func (s *State) SetExternallyBaselineSubtracted(v bool) {
	s.externallyBaselineSubtracted = v
}

// SetParams rebuilds the kernel, AR(2) coefficients, and Lipschitz constant
// for the given calcium kinetics, and invalidates momentum (t <- 1,
// y_ext <- x). It is safe to call before SetTrace; operators needing a
// trace length are rebuilt lazily once one is known.
func (s *State) SetParams(tauRise, tauDecay, lambda, fs float64) {
	s.tauRise, s.tauDecay, s.lambda, s.fs = tauRise, tauDecay, lambda, fs
	s.rebuildOperators()
	s.ResetMomentum()
}

// rebuildOperators reconstructs whichever operator the active mode needs,
// using the current (tauRise, tauDecay, fs) and traceLen. A no-op if fs is
// zero; under ModeFreq the operator and Lipschitz constant are built only
// once traceLen is known (SetTrace has been called).
func (s *State) rebuildOperators() {
	if s.fs == 0 {
		return
	}

	g1, g2 := kernel.ARCoefficients(s.tauRise, s.tauDecay, s.fs)
	klen := kernel.Length(s.tauDecay, s.fs)

	switch s.mode {
	case ModeBanded:
		s.bandOp = bandop.New(g1, g2, klen)
		s.lipschitz = s.bandOp.Lipschitz()
	default:
		if s.traceLen > 0 {
			h := kernel.Build(s.tauRise, s.tauDecay, s.fs)
			op, err := freqop.New(h, s.traceLen)
			if err == nil {
				s.freqOp = op
			}
			s.lipschitz = kernel.ComputeLipschitz(h)
		}
	}

	if s.lipschitz <= 0 {
		s.lipschitz = 1e-6
	}
	s.step = 1 / s.lipschitz
}

// SetTrace loads a new active trace, resizing buffers and zeroing all
// iteration state (iteration count, momentum, convergence, caches). A
// zero-length trace is accepted; StepBatch on it reports converged
// immediately.
func (s *State) SetTrace(trace []float32) {
	s.traceLen = len(trace)
	s.trace = ensureLen(s.trace, s.traceLen)
	for i, v := range trace {
		s.trace[i] = float64(v)
	}

	s.x = ensureLen(s.x, s.traceLen)
	s.yExt = ensureLen(s.yExt, s.traceLen)
	s.xOld = ensureLen(s.xOld, s.traceLen)
	s.recon = ensureLen(s.recon, s.traceLen)
	s.residual = ensureLen(s.residual, s.traceLen)
	s.grad = ensureLen(s.grad, s.traceLen)
	s.yExtPrev = ensureLen(s.yExtPrev, s.traceLen)
	s.stepDelta = ensureLen(s.stepDelta, s.traceLen)
	s.yExtRaw = ensureLen(s.yExtRaw, s.traceLen)
	s.restartProbe = ensureLen(s.restartProbe, s.traceLen)
	zero(s.x)
	zero(s.yExt)
	zero(s.xOld)
	zero(s.recon)
	zero(s.residual)
	zero(s.grad)
	zero(s.yExtPrev)
	zero(s.stepDelta)
	zero(s.yExtRaw)
	zero(s.restartProbe)

	if cap(s.scratchIn) < s.traceLen {
		s.scratchIn = make([]float32, s.traceLen)
	}
	s.scratchIn = s.scratchIn[:s.traceLen]
	if cap(s.scratchOut) < s.traceLen {
		s.scratchOut = make([]float32, s.traceLen)
	}
	s.scratchOut = s.scratchOut[:s.traceLen]

	if s.hpCascade != nil {
		s.hpCascade.Reset()
	}
	if s.lpCascade != nil {
		s.lpCascade.Reset()
	}

	s.iteration = 0
	s.converged = false
	s.baseline = 0
	s.baselineEMA = 0
	s.reconStale = true
	s.momentum = 1

	s.rebuildOperators()
}

// ApplyFilter runs the enabled HP/LP Butterworth stages over the active
// trace exactly once (not iteratively), matching the single direct-filter
// pass the pipeline uses ahead of baseline subtraction. A no-op if neither
// stage is enabled.
func (s *State) ApplyFilter() {
	if !s.hpEnabled && !s.lpEnabled {
		return
	}

	buf := make([]float32, s.traceLen)
	for i, v := range s.trace {
		buf[i] = float32(v)
	}

	if s.hpEnabled {
		if s.hpCascade == nil {
			s.hpCascade = dspfilter.NewCascade(dspfilter.Highpass, s.hpCutoffHz, s.fs)
		}
		buf = s.hpCascade.Process(buf)
	}
	if s.lpEnabled {
		if s.lpCascade == nil {
			s.lpCascade = dspfilter.NewCascade(dspfilter.Lowpass, s.lpCutoffHz, s.fs)
		}
		buf = s.lpCascade.Process(buf)
	}

	for i, v := range buf {
		s.trace[i] = float64(v)
	}
}

// forward runs the active operator's forward convolution y_ext -> recon.
func (s *State) forward() error {
	switch s.mode {
	case ModeBanded:
		narrow32(s.scratchIn, s.yExt)
		if err := s.bandOp.ConvolveForward(s.scratchIn, s.scratchOut); err != nil {
			return fmt.Errorf("solver: forward convolution: %w", err)
		}
		widen64(s.recon, s.scratchOut)
	default:
		if s.freqOp == nil {
			return errors.New("solver: frequency operator not initialized (call SetParams then SetTrace)")
		}
		narrow32(s.scratchIn, s.yExt)
		if err := s.freqOp.ConvolveForward(s.scratchIn, s.scratchOut); err != nil {
			return fmt.Errorf("solver: forward convolution: %w", err)
		}
		widen64(s.recon, s.scratchOut)
	}
	return nil
}

// adjoint runs the active operator's adjoint convolution residual -> grad.
func (s *State) adjoint() error {
	switch s.mode {
	case ModeBanded:
		narrow32(s.scratchIn, s.residual)
		if err := s.bandOp.ConvolveAdjoint(s.scratchIn, s.scratchOut); err != nil {
			return fmt.Errorf("solver: adjoint convolution: %w", err)
		}
		widen64(s.grad, s.scratchOut)
	default:
		if s.freqOp == nil {
			return errors.New("solver: frequency operator not initialized (call SetParams then SetTrace)")
		}
		narrow32(s.scratchIn, s.residual)
		if err := s.freqOp.ConvolveAdjoint(s.scratchIn, s.scratchOut); err != nil {
			return fmt.Errorf("solver: adjoint convolution: %w", err)
		}
		widen64(s.grad, s.scratchOut)
	}
	return nil
}

// StepBatch runs up to n FISTA iterations, stopping early if convergence is
// reached or ctx is cancelled between iterations. It returns the converged
// flag after the batch.
func (s *State) StepBatch(ctx context.Context, n int) bool {
	if s.traceLen == 0 {
		s.converged = true
		return true
	}

	for i := 0; i < n; i++ {
		if s.converged {
			break
		}
		select {
		case <-ctx.Done():
			return s.converged
		default:
		}
		if err := s.step1(); err != nil {
			return s.converged
		}
	}
	return s.converged
}

// step1 runs one FISTA iteration.
func (s *State) step1() error {
	if err := s.forward(); err != nil {
		return err
	}
	// recon now holds K*y_ext, not K*x; Reconvolution recomputes it from x.
	s.reconStale = true

	if !s.externallyBaselineSubtracted {
		b := meanDiff(s.trace, s.recon)
		s.baseline = b
		s.baselineEMA = baselineEMAWeight*b + (1-baselineEMAWeight)*s.baselineEMA
	}

	for i := range s.residual {
		s.residual[i] = s.recon[i] + s.baseline - s.trace[i]
	}

	if err := s.adjoint(); err != nil {
		return err
	}

	copy(s.xOld, s.x)

	alpha := s.step
	for i := range s.x {
		zi := s.yExt[i] - alpha*s.grad[i]
		s.x[i] = s.prox(zi, alpha)
	}

	tOld := s.momentum
	if tOld == 0 {
		tOld = 1
	}
	tNew := (1 + math.Sqrt(1+4*tOld*tOld)) / 2
	m := (tOld - 1) / tNew

	copy(s.yExtPrev, s.yExt)

	// stepDelta = x - xOld; the extrapolated point is x + m*stepDelta, and
	// stepDelta is reused below for the adaptive-restart inner product.
	s.stepDelta = ensureLen(s.stepDelta, len(s.x))
	vecmath.ScaleBlock(s.stepDelta, s.x, -1)
	vecmath.AddBlockInPlace(s.stepDelta, s.xOld)
	vecmath.ScaleBlockInPlace(s.stepDelta, -1)

	s.yExtRaw = ensureLen(s.yExtRaw, len(s.x))
	vecmath.ScaleBlock(s.yExtRaw, s.stepDelta, m)
	vecmath.AddBlockInPlace(s.yExtRaw, s.x)
	for i, v := range s.yExtRaw {
		s.yExt[i] = s.clampConstraint(v)
	}

	s.restartProbe = ensureLen(s.restartProbe, len(s.x))
	for i := range s.restartProbe {
		s.restartProbe[i] = s.yExtPrev[i] - s.x[i]
	}
	restartDot := vecmath.DotProduct(s.restartProbe, s.stepDelta)

	if restartDot > 0 {
		tNew = 1
		copy(s.yExt, s.x)
	}
	s.momentum = tNew

	s.iteration++

	if s.iteration > minIterationsBeforeConvergence {
		diffSq := vecmath.DotProduct(s.stepDelta, s.stepDelta)
		oldSq := vecmath.DotProduct(s.xOld, s.xOld)
		if diffSq < s.tolerance*s.tolerance*(oldSq+convergenceEpsilon) {
			s.converged = true
		}
	}

	return nil
}

// prox applies the proximal operator for the active constraint to a single
// scalar gradient-step result z, with soft-thresholding by alpha*lambda
// under ConstraintNonNeg (ignored, per the pipeline's lambda=0 usage, but
// correct for any lambda >= 0 caller).
func (s *State) prox(z, alpha float64) float64 {
	switch s.constraint {
	case ConstraintBox01:
		return clamp(z, 0, 1)
	default:
		shrunk := z - alpha*s.lambda
		if shrunk < 0 {
			return 0
		}
		return shrunk
	}
}

// clampConstraint applies the active constraint without soft-thresholding,
// used for the momentum-extrapolated point y_ext.
func (s *State) clampConstraint(v float64) float64 {
	switch s.constraint {
	case ConstraintBox01:
		return clamp(v, 0, 1)
	default:
		if v < 0 {
			return 0
		}
		return v
	}
}

// Trace returns a copy of the active trace (post-ApplyFilter if it was
// called), narrowed to float32.
func (s *State) Trace() []float32 {
	out := make([]float32, s.traceLen)
	narrow32(out, s.trace)
	return out
}

// Solution returns a copy of the current solution x, narrowed to float32.
func (s *State) Solution() []float32 {
	out := make([]float32, s.traceLen)
	narrow32(out, s.x)
	return out
}

// Baseline returns the current DC baseline estimate.
func (s *State) Baseline() float64 { return s.baseline }

// Reconvolution returns a copy of K*x (without baseline added), recomputing
// it first if the solution has changed since the last StepBatch call.
func (s *State) Reconvolution() []float32 {
	if s.reconStale {
		s.refreshRecon()
	}
	out := make([]float32, s.traceLen)
	narrow32(out, s.recon)
	return out
}

// ReconvolutionWithBaseline returns Reconvolution() + Baseline().
func (s *State) ReconvolutionWithBaseline() []float32 {
	recon := s.Reconvolution()
	out := make([]float32, len(recon))
	b := float32(s.baseline)
	for i, v := range recon {
		out[i] = v + b
	}
	return out
}

// refreshRecon recomputes recon from the current solution x (as opposed to
// y_ext, which is what step1's forward() convolves).
func (s *State) refreshRecon() {
	if s.traceLen == 0 {
		return
	}
	narrow32(s.scratchIn, s.x)
	var err error
	switch s.mode {
	case ModeBanded:
		err = s.bandOp.ConvolveForward(s.scratchIn, s.scratchOut)
	default:
		if s.freqOp != nil {
			err = s.freqOp.ConvolveForward(s.scratchIn, s.scratchOut)
		}
	}
	if err == nil {
		widen64(s.recon, s.scratchOut)
		s.reconStale = false
	}
}

// IterationCount returns the number of FISTA iterations run since the last
// SetTrace.
func (s *State) IterationCount() uint32 { return s.iteration }

// Converged reports whether the primal-residual convergence test has fired.
func (s *State) Converged() bool { return s.converged }

// ResetMomentum resets the FISTA momentum scalar to 1 and the extrapolated
// point to the current solution, without touching the solution itself.
func (s *State) ResetMomentum() {
	s.momentum = 1
	copy(s.yExt, s.x)
}

// ExportedState is a value snapshot of a State's warm-startable solution,
// extrapolated point, and momentum scalar, suitable for serialization and
// later reload into a State with matching parameters and trace length.
type ExportedState struct {
	X, YExt   []float64
	Momentum  float64
	Iteration uint32
}

// ExportState returns a copy of the warm-startable state.
func (s *State) ExportState() *ExportedState {
	return &ExportedState{
		X:         append([]float64(nil), s.x...),
		YExt:      append([]float64(nil), s.yExt...),
		Momentum:  s.momentum,
		Iteration: s.iteration,
	}
}

// LoadState restores a previously exported solution and extrapolated point.
// The caller is responsible for ensuring es was exported from a State with
// the same trace length; a length mismatch is silently ignored (LoadState
// is a no-op) rather than panicking on caller error.
func (s *State) LoadState(es *ExportedState) {
	if es == nil || len(es.X) != s.traceLen || len(es.YExt) != s.traceLen {
		return
	}
	copy(s.x, es.X)
	copy(s.yExt, es.YExt)
	copy(s.xOld, es.X)
	s.momentum = es.Momentum
	s.iteration = es.Iteration
	s.reconStale = true
}

// meanDiff returns mean(trace - recon).
func meanDiff(trace, recon []float64) float64 {
	if len(trace) == 0 {
		return 0
	}
	diff := make([]float64, len(trace))
	for i := range diff {
		diff[i] = trace[i] - recon[i]
	}
	return vecmath.Sum(diff) / float64(len(diff))
}

func clamp(v, lo, hi float64) float64 {
	return core.Clamp(v, lo, hi)
}

func ensureLen(buf []float64, n int) []float64 {
	return core.EnsureLen64(buf, n)
}

func zero(buf []float64) {
	core.Zero64(buf)
}

func narrow32(dst []float32, src []float64) {
	for i, v := range src {
		dst[i] = float32(v)
	}
}

func widen64(dst []float64, src []float32) {
	for i, v := range src {
		dst[i] = float64(v)
	}
}
