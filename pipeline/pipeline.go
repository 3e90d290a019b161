// Package pipeline implements the InDeCa deconvolution pipeline: upsample,
// optional HP/LP filter, rolling-percentile baseline removal, a
// scale-iteration loop of FISTA plus threshold search, and downsample back
// to the trace's original sample rate.
package pipeline

import (
	"context"
	"math"

	"github.com/cwbudde/algo-dsp/bandop"
	"github.com/cwbudde/algo-dsp/baseline"
	"github.com/cwbudde/algo-dsp/internal/core"
	"github.com/cwbudde/algo-dsp/kernel"
	"github.com/cwbudde/algo-dsp/resample"
	"github.com/cwbudde/algo-dsp/solver"
	"github.com/cwbudde/algo-dsp/threshold"
)

const (
	defaultBaselineQuantile = 0.2
	defaultScaleRounds      = 10
	scaleConvergenceRelTol  = 0.05
	epsilon                 = 1e-10
)

// Config holds the tunables of a single SolveTrace call, built via Option
// functions.
type Config struct {
	Upsample      int
	MaxIterations int
	Tolerance     float64
	HPFilter      bool
	LPFilter      bool
	HaloPooling   bool
	WarmCounts    []float32
}

// Option configures a Config.
type Option func(*Config)

// WithUpsample sets the upsample factor U.
func WithUpsample(u int) Option { return func(c *Config) { c.Upsample = u } }

// WithMaxIterations sets the FISTA iteration budget per scale-iteration round.
func WithMaxIterations(n int) Option { return func(c *Config) { c.MaxIterations = n } }

// WithTolerance sets the FISTA convergence tolerance.
func WithTolerance(tol float64) Option { return func(c *Config) { c.Tolerance = tol } }

// WithHPFilter enables the high-pass pre-filter stage.
func WithHPFilter(enabled bool) Option { return func(c *Config) { c.HPFilter = enabled } }

// WithLPFilter enables the low-pass pre-filter stage.
func WithLPFilter(enabled bool) Option { return func(c *Config) { c.LPFilter = enabled } }

// WithWarmCounts seeds round 0 of the scale iteration from spike counts
// already known at the original sample rate.
func WithWarmCounts(counts []float32) Option { return func(c *Config) { c.WarmCounts = counts } }

// WithHaloPooling enables the historical greedy-absorption post-processing
// pass, run on each round's relaxed solution after the interior-peak
// normalization and before the threshold search. Off by default.
func WithHaloPooling(enabled bool) Option { return func(c *Config) { c.HaloPooling = enabled } }

// DefaultConfig returns a Config with Upsample=10, MaxIterations=500,
// Tolerance=1e-4, and no filter/warm-start set. WithUpsample overrides the
// factor, e.g. with one from resample.ComputeUpsampleFactor.
func DefaultConfig() Config {
	return Config{
		Upsample:      10,
		MaxIterations: 500,
		Tolerance:     1e-4,
	}
}

// Result is the outcome of a SolveTrace call.
type Result struct {
	SpikeCounts   []float32
	FilteredTrace []float32
	Alpha         float64
	Baseline      float64
	Threshold     float64
	PVE           float64
	Iterations    uint32
	Converged     bool
}

// SolveTrace runs the full InDeCa pipeline on trace at sample rate fs with
// calcium kinetics (tauRise, tauDecay), per opts.
func SolveTrace(ctx context.Context, trace []float32, tauRise, tauDecay, fs float64, opts ...Option) (Result, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	n := len(trace)
	if n == 0 {
		return Result{SpikeCounts: []float32{}, FilteredTrace: []float32{}, Converged: true}, nil
	}

	u := cfg.Upsample
	if u < 1 {
		u = 1
	}
	fsUp := fs * float64(u)

	working := resample.Upsample(trace, u)
	nUp := len(working)

	s := solver.New(solver.WithConvMode(solver.ModeBanded), solver.WithConstraint(solver.ConstraintBox01))
	s.SetParams(tauRise, tauDecay, 0, fsUp)

	if cfg.HPFilter || cfg.LPFilter {
		s.SetTrace(working)
		s.SetHPFilterEnabled(cfg.HPFilter)
		s.SetLPFilterEnabled(cfg.LPFilter)
		s.ApplyFilter()
		working = s.Trace()
	}

	working = RollingBaselineSubtract(working, tauDecay, fsUp)

	klen := kernel.Length(tauDecay, fsUp)
	p := interiorPadding(nUp, tauDecay, fsUp)

	alphaHat := interiorPeakToTrough(working, p)
	if alphaHat < epsilon {
		alphaHat = 1.0
	}

	var warmBinary []float32
	if len(cfg.WarmCounts) > 0 {
		warmBinary = resample.UpsampleCountsToBinary(cfg.WarmCounts, u)
		if len(warmBinary) != nUp {
			warmBinary = nil
		}
	}

	g1, g2 := kernel.ARCoefficients(tauRise, tauDecay, fsUp)
	op := bandop.New(g1, g2, klen)

	var best threshold.Result
	bestPVE := math.Inf(-1)
	var bestIterations uint32
	var bestConverged bool

	s.SetTrace(working)
	s.SetConvMode(solver.ModeBanded)
	s.SetConstraint(solver.ConstraintBox01)
	s.SetExternallyBaselineSubtracted(true)
	s.SetTolerance(cfg.Tolerance)

	rounds := defaultScaleRounds
	for round := 0; round < rounds; round++ {
		scaled := make([]float32, nUp)
		for i, v := range working {
			scaled[i] = float32(float64(v) / alphaHat)
		}

		s.SetTrace(scaled)
		if round == 0 && warmBinary != nil {
			warmState := &solver.ExportedState{
				X:        float64Slice(warmBinary),
				YExt:     float64Slice(warmBinary),
				Momentum: 1,
			}
			s.LoadState(warmState)
		}
		s.StepBatch(ctx, cfg.MaxIterations)

		relaxed := s.Solution()
		normalizeByInteriorPeak(relaxed, p)

		if cfg.HaloPooling {
			relaxed = haloPool(relaxed)
		}

		res := threshold.Search(relaxed, working, op, tauDecay, fsUp)

		if res.PVE > bestPVE {
			bestPVE = res.PVE
			best = res
			bestIterations = s.IterationCount()
			bestConverged = s.Converged()
		}

		if alphaHat <= epsilon {
			break
		}
		if math.Abs(res.Alpha/alphaHat-1) < scaleConvergenceRelTol {
			break
		}
		alphaHat = res.Alpha
		if alphaHat <= epsilon {
			break
		}
	}

	if best.Binary == nil {
		best.Binary = make([]float32, nUp)
	}

	spikeCounts := resample.DownsampleSum(best.Binary, u)
	filteredTrace := resample.DownsampleAverage(working, u)

	return Result{
		SpikeCounts:   spikeCounts,
		FilteredTrace: filteredTrace,
		Alpha:         best.Alpha,
		Baseline:      best.Baseline,
		Threshold:     best.Threshold,
		PVE:           bestPVE,
		Iterations:    bestIterations,
		Converged:     bestConverged,
	}, nil
}

// interiorPadding returns the boundary padding p = min(ceil(2*tauDecay*fsUp), T/4).
func interiorPadding(n int, tauDecay, fsUp float64) int {
	p := int(math.Ceil(2 * tauDecay * fsUp))
	quarter := n / 4
	if p > quarter {
		p = quarter
	}
	if p < 0 {
		p = 0
	}
	return p
}

// interiorPeakToTrough returns the peak-to-trough amplitude of x excluding p
// samples on each side, falling back to the full span if the interior is
// empty.
func interiorPeakToTrough(x []float32, p int) float64 {
	lo, hi := p, len(x)-p
	if hi <= lo {
		lo, hi = 0, len(x)
	}
	if hi <= lo {
		return 0
	}
	return core.PeakToTrough(x[lo:hi])
}

// normalizeByInteriorPeak scales s in place so its interior peak is 1.
func normalizeByInteriorPeak(s []float32, p int) {
	lo, hi := p, len(s)-p
	if hi <= lo {
		lo, hi = 0, len(s)
	}
	peak := float32(0)
	for i := lo; i < hi; i++ {
		if s[i] > peak {
			peak = s[i]
		}
	}
	if peak <= 0 {
		return
	}
	for i := range s {
		s[i] /= peak
	}
}

func float64Slice(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

// RollingBaselineSubtract removes the causal rolling-percentile baseline
// from an upsampled trace ahead of the scale iteration, with window
// w = 5*ceil(5*tauDecay*fsUp) at quantile 0.2.
func RollingBaselineSubtract(x []float32, tauDecay, fsUp float64) []float32 {
	w := 5 * kernel.Length(tauDecay, fsUp)
	return baseline.Subtract(x, w, defaultBaselineQuantile)
}
