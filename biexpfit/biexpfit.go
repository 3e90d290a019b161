// Package biexpfit fits a free-form kernel to the bi-exponential calcium
// impulse response model h[i] = beta*(exp(-i*dt/tauDecay) -
// exp(-i*dt/tauRise)) by a 20x20 log-space grid search over (tauRise,
// tauDecay), with an optional golden-section-style refinement pass.
package biexpfit

import (
	"errors"
	"math"
)

const (
	gridSize = 20

	tauRiseMin, tauRiseMax   = 0.005, 0.5
	tauDecayMin, tauDecayMax = 0.05, 5.0

	refinementRounds      = 20
	bisectionsPerInterval = 10
)

// ErrInvalidInput is returned when hFree is empty or fs is non-positive.
var ErrInvalidInput = errors.New("biexpfit: empty kernel or non-positive sample rate")

// Result is the outcome of a bi-exponential fit.
type Result struct {
	TauRise, TauDecay float64
	Beta              float64
	Residual          float64
}

// Fit searches (tauRise, tauDecay) minimizing sum((hFree[i] -
// beta*template(i))^2) at sample rate fs, where beta is the closed-form
// least-squares amplitude at each candidate (tauRise, tauDecay). If refine
// is true, a golden-section-style alternating 1-D refinement follows the
// grid search; refinement never returns a worse residual than the grid
// search produced.
func Fit(hFree []float32, fs float64, refine bool) (Result, error) {
	if len(hFree) == 0 || fs <= 0 {
		return Result{}, ErrInvalidInput
	}

	h := make([]float64, len(hFree))
	for i, v := range hFree {
		h[i] = float64(v)
	}

	dt := 1.0 / fs
	best := gridSearch(h, dt)

	if refine {
		refined := refineFit(h, dt, best)
		if refined.Residual <= best.Residual {
			best = refined
		}
	}

	return best, nil
}

// logSpace returns n values log-spaced between lo and hi inclusive.
func logSpace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	logLo, logHi := math.Log(lo), math.Log(hi)
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		out[i] = math.Exp(logLo + frac*(logHi-logLo))
	}
	return out
}

// evaluate computes the closed-form beta and residual for a candidate
// (tauRise, tauDecay) against hFree, per dt.
func evaluate(hFree []float64, dt, tauRise, tauDecay float64) (beta, residual float64) {
	var hDotH, hDotT, tDotT float64
	for i, h := range hFree {
		t := math.Exp(-float64(i)*dt/tauDecay) - math.Exp(-float64(i)*dt/tauRise)
		hDotH += h * h
		hDotT += h * t
		tDotT += t * t
	}
	if tDotT <= 0 {
		return 0, hDotH
	}
	beta = hDotT / tDotT
	residual = hDotH - hDotT*hDotT/tDotT
	if residual < 0 {
		residual = 0
	}
	return beta, residual
}

// gridSearch performs the 20x20 log-space grid search, rejecting cells with
// tauDecay <= tauRise.
func gridSearch(hFree []float64, dt float64) Result {
	risers := logSpace(tauRiseMin, tauRiseMax, gridSize)
	decays := logSpace(tauDecayMin, tauDecayMax, gridSize)

	best := Result{Residual: math.Inf(1)}
	for _, tr := range risers {
		for _, td := range decays {
			if td <= tr {
				continue
			}
			beta, residual := evaluate(hFree, dt, tr, td)
			if residual < best.Residual {
				best = Result{TauRise: tr, TauDecay: td, Beta: beta, Residual: residual}
			}
		}
	}
	return best
}

// refineFit runs refinementRounds alternating 1-D golden-section-style
// searches: tauRise with tauDecay fixed, then tauDecay with tauRise fixed,
// always respecting tauDecay > tauRise.
func refineFit(hFree []float64, dt float64, seed Result) Result {
	tr, td := seed.TauRise, seed.TauDecay
	best := seed

	for round := 0; round < refinementRounds; round++ {
		if round%2 == 0 {
			lo, hi := tr*0.5, math.Min(tr*1.5, td*0.999)
			if lo < tauRiseMin {
				lo = tauRiseMin
			}
			if hi <= lo {
				continue
			}
			tr = bisect1D(hFree, dt, lo, hi, td, true)
		} else {
			lo, hi := math.Max(td*0.5, tr*1.001), td*1.5
			if hi > tauDecayMax {
				hi = tauDecayMax
			}
			if hi <= lo {
				continue
			}
			td = bisect1D(hFree, dt, lo, hi, tr, false)
		}

		beta, residual := evaluate(hFree, dt, tr, td)
		if residual < best.Residual {
			best = Result{TauRise: tr, TauDecay: td, Beta: beta, Residual: residual}
		}
	}

	return best
}

// bisect1D narrows [lo, hi] by bisectionsPerInterval golden-section-style
// midpoint comparisons, optimizing the free parameter (tauRise if
// optimizingRise, else tauDecay) against the fixed other one. Returns the
// best value found.
func bisect1D(hFree []float64, dt, lo, hi, fixed float64, optimizingRise bool) float64 {
	residualAt := func(v float64) float64 {
		var tr, td float64
		if optimizingRise {
			tr, td = v, fixed
		} else {
			tr, td = fixed, v
		}
		_, residual := evaluate(hFree, dt, tr, td)
		return residual
	}

	const phi = 0.6180339887498949

	for i := 0; i < bisectionsPerInterval; i++ {
		m1 := hi - phi*(hi-lo)
		m2 := lo + phi*(hi-lo)
		if residualAt(m1) < residualAt(m2) {
			hi = m2
		} else {
			lo = m1
		}
	}

	return (lo + hi) / 2
}
