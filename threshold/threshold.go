// Package threshold binarizes a relaxed [0,1] FISTA solution by searching
// for the threshold that best reconstructs the original trace through the
// banded AR(2) operator, recovering amplitude and baseline by closed-form
// least squares at each candidate threshold.
package threshold

import (
	"math"
	"sort"

	"github.com/cwbudde/algo-dsp/bandop"
)

const (
	coarseSweepSize       = 50
	fineSweepSize         = 50
	maxNonImprovingStreak = 10
	fineWindowDivisor     = 25
)

// Result is the outcome of a threshold search.
type Result struct {
	Binary    []float32
	Alpha     float64
	Baseline  float64
	Threshold float64
	PVE       float64
	Error     float64
}

// interiorBounds returns the padding p = min(ceil(2*tauDecay*fsUp), T/4) and
// the resulting interior half-open interval [p, T-p).
func interiorBounds(t int, tauDecay, fsUp float64) (lo, hi int) {
	p := int(math.Ceil(2 * tauDecay * fsUp))
	quarter := t / 4
	if p > quarter {
		p = quarter
	}
	if p < 0 {
		p = 0
	}
	lo, hi = p, t-p
	if hi < lo {
		lo, hi = 0, t
	}
	return lo, hi
}

// lsFit solves the 2x2 least-squares normal equations for (alpha, b) in
// y ~= alpha*recon + b over [lo, hi), with alpha constrained to >= 0. If the
// unconstrained alpha would be negative, alpha is set to 0 and b to mean(y).
func lsFit(recon, y []float32, lo, hi int) (alpha, b float64) {
	n := hi - lo
	if n <= 0 {
		return 0, 0
	}

	var sumR, sumY, sumRR, sumRY float64
	for i := lo; i < hi; i++ {
		r := float64(recon[i])
		yy := float64(y[i])
		sumR += r
		sumY += yy
		sumRR += r * r
		sumRY += r * yy
	}

	nf := float64(n)
	meanR := sumR / nf
	meanY := sumY / nf

	denom := sumRR - nf*meanR*meanR
	if denom <= 1e-12 {
		return 0, meanY
	}

	alpha = (sumRY - nf*meanR*meanY) / denom
	if alpha < 0 {
		return 0, meanY
	}
	b = meanY - alpha*meanR
	return alpha, b
}

// sumSquaredError returns sum((alpha*recon + b - y)^2) over [lo, hi).
func sumSquaredError(recon, y []float32, alpha, b float64, lo, hi int) float64 {
	var sum float64
	for i := lo; i < hi; i++ {
		d := alpha*float64(recon[i]) + b - float64(y[i])
		sum += d * d
	}
	return sum
}

// binarize writes 1 where s[t] >= theta, 0 otherwise, into out.
func binarize(s []float32, theta float64, out []float32) {
	for i, v := range s {
		if float64(v) >= theta {
			out[i] = 1
		} else {
			out[i] = 0
		}
	}
}

// candidate evaluates one threshold theta: binarize, forward-convolve, LS
// fit, and score by sum-squared error over the interior.
type candidate struct {
	theta, err, alpha, b float64
	binary               []float32
}

func evaluate(s []float32, theta float64, y []float32, op *bandop.Operator, lo, hi int, scratchBin, scratchRecon []float32) candidate {
	binarize(s, theta, scratchBin)
	_ = op.ConvolveForward(scratchBin, scratchRecon)
	alpha, b := lsFit(scratchRecon, y, lo, hi)
	err := sumSquaredError(scratchRecon, y, alpha, b, lo, hi)

	binCopy := make([]float32, len(scratchBin))
	copy(binCopy, scratchBin)

	return candidate{theta: theta, err: err, alpha: alpha, b: b, binary: binCopy}
}

// sortedDistinctPositive returns the sorted set of distinct strictly
// positive values in s.
func sortedDistinctPositive(s []float32) []float64 {
	seen := make(map[float64]struct{})
	for _, v := range s {
		f := float64(v)
		if f > 0 {
			seen[f] = struct{}{}
		}
	}
	values := make([]float64, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Float64s(values)
	return values
}

// Search binarizes s against y through op (the BandedAR2 operator
// built at the working rate fsUp), returning the best threshold by PVE over the
// interior region determined by tauDecay and fsUp.
func Search(s, y []float32, op *bandop.Operator, tauDecay, fsUp float64) Result {
	n := len(s)
	if n == 0 || n != len(y) {
		return Result{Binary: make([]float32, n)}
	}

	lo, hi := interiorBounds(n, tauDecay, fsUp)

	values := sortedDistinctPositive(s)
	if len(values) == 0 {
		return zeroResult(y, op, n, lo, hi)
	}

	scratchBin := make([]float32, n)
	scratchRecon := make([]float32, n)

	coarseIdx := sweepIndices(len(values), coarseSweepSize)
	best, _ := runSweep(s, y, op, lo, hi, values, coarseIdx, scratchBin, scratchRecon, candidate{err: math.Inf(1)})

	vMin, vMax := values[0], values[len(values)-1]
	delta := (vMax - vMin) / fineWindowDivisor
	fineLo := best.theta - delta
	if fineLo < 0 {
		fineLo = 0
	}
	fineHi := best.theta + delta

	fineThetas := make([]float64, fineSweepSize)
	for i := range fineThetas {
		if fineSweepSize == 1 {
			fineThetas[i] = fineLo
			continue
		}
		frac := float64(i) / float64(fineSweepSize-1)
		fineThetas[i] = fineLo + frac*(fineHi-fineLo)
	}

	best, _ = runSweepThetas(s, y, op, lo, hi, fineThetas, scratchBin, scratchRecon, best)

	ssTot := totalSumOfSquares(y, lo, hi)
	pve := 1.0
	if ssTot > 0 {
		pve = 1 - best.err/ssTot
	}

	return Result{
		Binary:    best.binary,
		Alpha:     best.alpha,
		Baseline:  best.b,
		Threshold: best.theta,
		PVE:       pve,
		Error:     best.err,
	}
}

func sweepIndices(numValues, sweepSize int) []int {
	if numValues <= 0 {
		return nil
	}
	idx := make([]int, 0, sweepSize)
	for i := 0; i < sweepSize; i++ {
		var pos int
		if sweepSize == 1 {
			pos = 0
		} else {
			pos = i * (numValues - 1) / (sweepSize - 1)
		}
		idx = append(idx, pos)
	}
	return idx
}

func runSweep(s, y []float32, op *bandop.Operator, lo, hi int, values []float64, indices []int, scratchBin, scratchRecon []float32, seed candidate) (candidate, int) {
	thetas := make([]float64, len(indices))
	for i, idx := range indices {
		thetas[i] = values[idx]
	}
	return runSweepThetas(s, y, op, lo, hi, thetas, scratchBin, scratchRecon, seed)
}

func runSweepThetas(s, y []float32, op *bandop.Operator, lo, hi int, thetas []float64, scratchBin, scratchRecon []float32, seed candidate) (candidate, int) {
	best := seed
	nonImproving := 0
	for _, theta := range thetas {
		cand := evaluate(s, theta, y, op, lo, hi, scratchBin, scratchRecon)
		if cand.err < best.err {
			best = cand
			nonImproving = 0
		} else {
			nonImproving++
			if nonImproving >= maxNonImprovingStreak {
				break
			}
		}
	}
	return best, nonImproving
}

func totalSumOfSquares(y []float32, lo, hi int) float64 {
	n := hi - lo
	if n <= 0 {
		return 0
	}
	var sum float64
	for i := lo; i < hi; i++ {
		sum += float64(y[i])
	}
	mean := sum / float64(n)
	var ss float64
	for i := lo; i < hi; i++ {
		d := float64(y[i]) - mean
		ss += d * d
	}
	return ss
}

func zeroResult(y []float32, op *bandop.Operator, n, lo, hi int) Result {
	binary := make([]float32, n)
	recon := make([]float32, n)
	_ = op.ConvolveForward(binary, recon)
	alpha, b := lsFit(recon, y, lo, hi)
	err := sumSquaredError(recon, y, alpha, b, lo, hi)
	ssTot := totalSumOfSquares(y, lo, hi)
	pve := 1.0
	if ssTot > 0 {
		pve = 1 - err/ssTot
	}
	return Result{Binary: binary, Alpha: alpha, Baseline: b, Threshold: 0, PVE: pve, Error: err}
}
