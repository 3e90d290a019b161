// Package kernelest re-estimates a free-form, non-negative kernel from many
// (trace, amplitude, baseline, spike-train) observations by FISTA on the
// normal-equations residual, with a power-iteration Lipschitz estimate on
// the spike-train Toeplitz operator.
package kernelest

import (
	"errors"
	"math"
)

const (
	powerIterations = 20
	lipschitzFloor  = 1.0
	minIterations   = 5
	convergenceEps  = 1e-12
)

// ErrLengthMismatch is returned when the kernel length k is not positive or
// when an observation's trace and spike train differ in length.
var ErrLengthMismatch = errors.New("kernelest: inconsistent input lengths")

// Observation is one (trace, spike train, amplitude, baseline) pair
// contributing to the adjusted signal y_adj = (y - b)/alpha.
type Observation struct {
	Trace    []float32
	Spikes   []float32
	Alpha    float64
	Baseline float64
}

// adjustedDataset holds the concatenated adjusted targets and, per
// observation, the spike train needed to apply the Toeplitz forward/adjoint
// operators. Observations with |alpha| below epsilon are skipped.
type adjustedDataset struct {
	targets []float64 // y_adj, one contiguous slice per kept observation
	spikes  [][]float32
	offsets []int // starting offset of each kept observation's target block
}

func buildDataset(obs []Observation, epsilon float64) adjustedDataset {
	var ds adjustedDataset
	offset := 0
	for _, o := range obs {
		if math.Abs(o.Alpha) < epsilon {
			continue
		}
		if len(o.Trace) != len(o.Spikes) {
			continue
		}
		adj := make([]float64, len(o.Trace))
		for i, v := range o.Trace {
			adj[i] = (float64(v) - o.Baseline) / o.Alpha
		}
		ds.targets = append(ds.targets, adj...)
		ds.spikes = append(ds.spikes, o.Spikes)
		ds.offsets = append(ds.offsets, offset)
		offset += len(adj)
	}
	return ds
}

// forwardOne applies the Toeplitz convolution S*h for one observation's spike
// train, writing a slice the same length as the trace.
func forwardOne(spikes []float32, h []float64) []float64 {
	n := len(spikes)
	k := len(h)
	out := make([]float64, n)
	for t := 0; t < n; t++ {
		if spikes[t] == 0 {
			continue
		}
		sv := float64(spikes[t])
		for j := 0; j < k && t+j < n; j++ {
			out[t+j] += sv * h[j]
		}
	}
	return out
}

// adjointOne applies S^T*r for one observation, accumulating into grad
// (length K).
func adjointOne(spikes []float32, r []float64, grad []float64) {
	n := len(spikes)
	k := len(grad)
	for t := 0; t < n; t++ {
		if spikes[t] == 0 {
			continue
		}
		sv := float64(spikes[t])
		for j := 0; j < k && t+j < n; j++ {
			grad[j] += sv * r[t+j]
		}
	}
}

// powerIterationLipschitz estimates the largest eigenvalue of S^T*S by
// powerIterations of power iteration, never returning below lipschitzFloor.
func powerIterationLipschitz(ds adjustedDataset, k int) float64 {
	if k == 0 {
		return lipschitzFloor
	}

	v := make([]float64, k)
	for i := range v {
		v[i] = 1
	}
	normalize(v)

	var lambda float64
	for iter := 0; iter < powerIterations; iter++ {
		Sv := applyForwardAll(ds, v)
		StSv := make([]float64, k)
		applyAdjointAll(ds, Sv, StSv)

		lambda = norm(StSv)
		if lambda > 0 {
			for i := range v {
				v[i] = StSv[i] / lambda
			}
		}
	}

	if lambda < lipschitzFloor {
		return lipschitzFloor
	}
	return lambda
}

func applyForwardAll(ds adjustedDataset, h []float64) []float64 {
	total := 0
	for _, sp := range ds.spikes {
		total += len(sp)
	}
	out := make([]float64, 0, total)
	for _, sp := range ds.spikes {
		out = append(out, forwardOne(sp, h)...)
	}
	return out
}

func applyAdjointAll(ds adjustedDataset, r []float64, grad []float64) {
	offset := 0
	for _, sp := range ds.spikes {
		n := len(sp)
		adjointOne(sp, r[offset:offset+n], grad)
		offset += n
	}
}

func normalize(v []float64) {
	n := norm(v)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// EstimateFreeKernel solves min_{h>=0} (1/2)||S*h - y_adj||^2 by FISTA with
// non-negativity, where S is the block-Toeplitz operator of the kept
// observations' spike trains and y_adj is their per-observation adjusted
// target (y-b)/alpha. k is the fixed kernel length. warmKernel, if non-nil
// and of length k, seeds the initial solution.
func EstimateFreeKernel(obs []Observation, k int, maxIterations int, tolerance float64, warmKernel []float32) ([]float32, error) {
	if k <= 0 {
		return nil, ErrLengthMismatch
	}
	for _, o := range obs {
		if len(o.Trace) != len(o.Spikes) {
			return nil, ErrLengthMismatch
		}
	}

	ds := buildDataset(obs, 1e-9)
	if len(ds.targets) == 0 {
		return make([]float32, k), nil
	}

	lipschitz := powerIterationLipschitz(ds, k)
	step := 1 / lipschitz

	h := make([]float64, k)
	if len(warmKernel) == k {
		for i, v := range warmKernel {
			h[i] = math.Max(0, float64(v))
		}
	}
	yExt := append([]float64(nil), h...)
	hOld := make([]float64, k)

	momentum := 1.0
	for iteration := 0; iteration < maxIterations; iteration++ {
		Sy := applyForwardAll(ds, yExt)
		residual := make([]float64, len(Sy))
		for i := range residual {
			residual[i] = Sy[i] - ds.targets[i]
		}

		grad := make([]float64, k)
		applyAdjointAll(ds, residual, grad)

		copy(hOld, h)
		for i := range h {
			z := yExt[i] - step*grad[i]
			if z < 0 {
				z = 0
			}
			h[i] = z
		}

		tOld := momentum
		tNew := (1 + math.Sqrt(1+4*tOld*tOld)) / 2
		m := (tOld - 1) / tNew

		prevYExt := append([]float64(nil), yExt...)
		var restartDot float64
		for i := range yExt {
			step2 := h[i] + m*(h[i]-hOld[i])
			if step2 < 0 {
				step2 = 0
			}
			yExt[i] = step2
			restartDot += (prevYExt[i] - h[i]) * (h[i] - hOld[i])
		}
		if restartDot > 0 {
			tNew = 1
			copy(yExt, h)
		}
		momentum = tNew

		if iteration > minIterations {
			var diffSq, oldSq float64
			for i := range h {
				d := h[i] - hOld[i]
				diffSq += d * d
				oldSq += hOld[i] * hOld[i]
			}
			if diffSq < tolerance*tolerance*(oldSq+convergenceEps) {
				break
			}
		}
	}

	out := make([]float32, k)
	for i, v := range h {
		if v < 0 {
			v = 0
		}
		out[i] = float32(v)
	}
	return out, nil
}
