// Package kernel builds the bi-exponential calcium impulse response and its
// AR(2) recurrence coefficients, and estimates an upper bound on the
// Lipschitz constant of the associated convolution operator.
//
// All construction happens in float64 and is narrowed to float32 only when
// the kernel is handed to a caller, matching the split the rest of this
// module keeps between double-precision scalar work and single-precision
// storage.
package kernel

import (
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/cwbudde/algo-dsp/internal/vecmath"
)

// lipschitzGridSize is the number of frequency samples in [0, pi] used to
// bound the largest squared singular value of a convolution operator. The FFT
// plan behind it has at least 2*lipschitzGridSize points, since only half of
// an FFT's bins fall in [0, pi).
const lipschitzGridSize = 4096

// lipschitzFloor is the smallest Lipschitz constant this package will ever
// report; FISTA's step size is 1/L, so a floor keeps the step size finite
// even for a degenerate (all-zero) kernel.
const lipschitzFloor = 1e-6

// Length returns the kernel support K = ceil(5*tauDecay*fs) prescribed for a
// bi-exponential calcium kernel at decay constant tauDecay and sample rate fs.
func Length(tauDecay, fs float64) int {
	k := int(math.Ceil(5 * tauDecay * fs))
	if k < 1 {
		k = 1
	}
	return k
}

// Build returns the bi-exponential kernel h[k] = exp(-k*dt/tauDecay) -
// exp(-k*dt/tauRise) for k = 0..K-1, K = Length(tauDecay, fs).
func Build(tauRise, tauDecay, fs float64) []float64 {
	k := Length(tauDecay, fs)
	dt := 1.0 / fs
	h := make([]float64, k)
	for i := range h {
		t := float64(i) * dt
		h[i] = fastExp(-t/tauDecay) - fastExp(-t/tauRise)
	}
	return h
}

// BuildFloat32 is Build narrowed to float32, the storage precision used at
// the boundary of the solver and pipeline packages.
func BuildFloat32(tauRise, tauDecay, fs float64) []float32 {
	h64 := Build(tauRise, tauDecay, fs)
	h32 := make([]float32, len(h64))
	for i, v := range h64 {
		h32[i] = float32(v)
	}
	return h32
}

// ARCoefficients returns the AR(2) coefficients g1 = r+d, g2 = -r*d with
// r = exp(-dt/tauRise), d = exp(-dt/tauDecay), dt = 1/fs.
func ARCoefficients(tauRise, tauDecay, fs float64) (g1, g2 float64) {
	dt := 1.0 / fs
	r := fastExp(-dt / tauRise)
	d := fastExp(-dt / tauDecay)
	return r + d, -r * d
}

// ComputeLipschitz returns an upper bound on the largest squared singular
// value of the linear convolution operator whose impulse response is h, by
// sampling |H(omega)|^2 on a dense grid of lipschitzGridSize points over
// [0, pi] and returning the maximum, clamped to lipschitzFloor.
//
// This is an upper bound only in the limit of an infinite-length operator;
// for a finite-support convolution the true spectral norm is slightly lower.
// FISTA's step size alpha = 1/L tolerates overestimating L (it only slows
// convergence), so the approximation is deliberate.
func ComputeLipschitz(h []float64) float64 {
	if len(h) == 0 {
		return lipschitzFloor
	}

	n := 2 * lipschitzGridSize
	for n < len(h) {
		n *= 2
	}

	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return lipschitzFloor
	}

	padded := make([]complex128, n)
	for i, v := range h {
		padded[i] = complex(v, 0)
	}

	spectrum := make([]complex128, n)
	if err := plan.Forward(spectrum, padded); err != nil {
		return lipschitzFloor
	}

	re := make([]float64, n)
	im := make([]float64, n)
	for i, c := range spectrum {
		re[i] = real(c)
		im[i] = imag(c)
	}

	mag2 := make([]float64, n)
	vecmath.Power(mag2, re, im)

	// Only the first half (frequencies in [0, pi]) is distinct for a
	// real-valued impulse response; sample lipschitzGridSize of those bins.
	half := n / 2
	if half == 0 {
		half = 1
	}

	step := float64(half) / float64(lipschitzGridSize)
	if step < 1 {
		step = 1
	}

	best := 0.0
	for i := 0; i < lipschitzGridSize; i++ {
		idx := int(float64(i) * step)
		if idx >= half {
			break
		}
		if mag2[idx] > best {
			best = mag2[idx]
		}
	}

	if best < lipschitzFloor {
		return lipschitzFloor
	}
	return best
}

// ImpulseResponsePeak runs the AR(2) recurrence c[t] = g1*c[t-1] + g2*c[t-2]
// (c[0]=1, c[1]=g1) on a unit impulse until the running value falls below
// floor (typically 0.95) of the running maximum, returning that maximum and
// the sample index at which it occurred. BandedAR2 divides its raw output by
// this peak so that a unit spike produces a response with maximum 1.0
// regardless of sample rate.
func ImpulseResponsePeak(g1, g2, floor float64) (peak float64, index int) {
	if floor <= 0 || floor >= 1 {
		floor = 0.95
	}

	const maxSamples = 1 << 20

	cPrev2, cPrev1 := 0.0, 1.0
	peak = 1.0
	index = 0

	for t := 1; t < maxSamples; t++ {
		var c float64
		if t == 1 {
			c = g1 * cPrev1
		} else {
			c = g1*cPrev1 + g2*cPrev2
		}

		if math.Abs(c) > peak {
			peak = math.Abs(c)
			index = t
		} else if math.Abs(c) < floor*peak {
			break
		}

		cPrev2, cPrev1 = cPrev1, c
	}

	return peak, index
}
