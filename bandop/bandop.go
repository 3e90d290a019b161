// Package bandop implements the banded AR(2) forward/adjoint convolution
// operator: an O(T) recurrence equivalent to convolving with the
// bi-exponential kernel, peak-normalized so that a unit spike produces a
// response with maximum amplitude 1.0 regardless of sample rate.
package bandop

import (
	"errors"

	"github.com/cwbudde/algo-dsp/kernel"
)

// ErrLengthMismatch is returned when the input and output slices passed to
// ConvolveForward/ConvolveAdjoint do not have equal length.
var ErrLengthMismatch = errors.New("bandop: buffer length mismatch")

// Operator is the banded AR(2) forward/adjoint convolution operator for a
// fixed pair of AR(2) coefficients. It is not safe for concurrent use, and
// holds no trace-length-dependent state: ConvolveForward/ConvolveAdjoint
// work on whatever length is passed in, matching the input/output slices
// each call.
type Operator struct {
	g1, g2    float64
	peak      float64
	lipschitz float64
}

// New builds an Operator for AR(2) coefficients (g1, g2). supportLen is the
// kernel support (kernel.Length(tauDecay, fs)) used only to decide how far
// to sample the raw impulse response when bounding the Lipschitz constant;
// it does not limit the length of traces the operator can process.
func New(g1, g2 float64, supportLen int) *Operator {
	peak, _ := kernel.ImpulseResponsePeak(g1, g2, 0.95)
	if peak <= 0 {
		peak = 1
	}

	raw := rawImpulseResponse(g1, g2, supportLen)
	lRaw := kernel.ComputeLipschitz(raw)

	return &Operator{
		g1:        g1,
		g2:        g2,
		peak:      peak,
		lipschitz: lRaw / (peak * peak),
	}
}

// rawImpulseResponse samples the (un-normalized) AR(2) impulse response
// c[0]=1, c[1]=g1, c[t]=g1*c[t-1]+g2*c[t-2] out to n samples.
func rawImpulseResponse(g1, g2 float64, n int) []float64 {
	if n < 1 {
		n = 1
	}
	c := make([]float64, n)
	c[0] = 1
	if n > 1 {
		c[1] = g1 * c[0]
	}
	for t := 2; t < n; t++ {
		c[t] = g1*c[t-1] + g2*c[t-2]
	}
	return c
}

// Peak returns the raw (un-normalized) impulse-response peak used to
// rate-independently normalize forward and adjoint outputs.
func (op *Operator) Peak() float64 { return op.peak }

// Lipschitz returns the cached upper bound on ||K^T K||_2 for this operator.
func (op *Operator) Lipschitz() float64 { return op.lipschitz }

// ConvolveForward runs the forward AR(2) recurrence
//
//	c[0] = s[0]
//	c[1] = g1*c[0] + s[1]
//	c[t] = g1*c[t-1] + g2*c[t-2] + s[t]
//
// and writes c/peak into out. s and out must have equal length.
func (op *Operator) ConvolveForward(s, out []float32) error {
	n := len(s)
	if n != len(out) {
		return ErrLengthMismatch
	}
	if n == 0 {
		return nil
	}

	g1, g2, peak := op.g1, op.g2, op.peak

	cPrev2 := 0.0
	cPrev1 := float64(s[0])
	out[0] = float32(cPrev1 / peak)

	if n > 1 {
		c := g1*cPrev1 + float64(s[1])
		out[1] = float32(c / peak)
		cPrev2, cPrev1 = cPrev1, c
	}

	for t := 2; t < n; t++ {
		c := g1*cPrev1 + g2*cPrev2 + float64(s[t])
		out[t] = float32(c / peak)
		cPrev2, cPrev1 = cPrev1, c
	}

	return nil
}

// ConvolveAdjoint runs the reverse-time AR(2) recurrence
//
//	u[T-1] = r[T-1]
//	u[T-2] = r[T-2] + g1*u[T-1]
//	u[t]   = r[t] + g1*u[t+1] + g2*u[t+2]
//
// and writes u/peak into out. r and out must have equal length.
func (op *Operator) ConvolveAdjoint(r, out []float32) error {
	n := len(r)
	if n != len(out) {
		return ErrLengthMismatch
	}
	if n == 0 {
		return nil
	}

	g1, g2, peak := op.g1, op.g2, op.peak

	uNext2 := 0.0
	uNext1 := float64(r[n-1])
	out[n-1] = float32(uNext1 / peak)

	if n > 1 {
		u := float64(r[n-2]) + g1*uNext1
		out[n-2] = float32(u / peak)
		uNext2, uNext1 = uNext1, u
	}

	for t := n - 3; t >= 0; t-- {
		u := float64(r[t]) + g1*uNext1 + g2*uNext2
		out[t] = float32(u / peak)
		uNext2, uNext1 = uNext1, u
	}

	return nil
}
