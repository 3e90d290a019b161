// Package freqop implements the frequency-domain convolution operator used
// by the FISTA solver: a forward linear convolution with a bi-exponential
// kernel, and its exact adjoint, both computed through a single cached FFT
// plan sized to the next power of two at or above T+K-1.
//
// The plan and the kernel's spectrum are rebuilt only when the trace length
// or the kernel itself changes, the same cache-invalidation shape as the
// teacher's overlap-add convolver: build once, reuse across many forward and
// adjoint calls at a fixed size.
package freqop

import (
	"errors"
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// ErrLengthMismatch is returned when an input or output slice does not match
// the operator's configured trace length T.
var ErrLengthMismatch = errors.New("freqop: buffer length mismatch")

// Operator is the FFT-based forward/adjoint convolution operator for a
// fixed kernel and trace length; real data is carried through a complex
// FFT plan with zero imaginary part. It is not safe for concurrent use.
type Operator struct {
	kernel    []float64
	kernelLen int
	traceLen  int
	fftSize   int

	plan       *algofft.Plan[complex128]
	kernelFreq []complex128
	kernelConj []complex128
	padded     []complex128
	spectrum   []complex128
	timeDomain []complex128
}

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// New builds an Operator for the given kernel (impulse response, h[0..K-1])
// and trace length T. Returns an error if the kernel is empty or T <= 0.
func New(h []float64, traceLen int) (*Operator, error) {
	if len(h) == 0 {
		return nil, fmt.Errorf("freqop: %w", errors.New("empty kernel"))
	}
	if traceLen <= 0 {
		return nil, fmt.Errorf("freqop: %w", errors.New("non-positive trace length"))
	}

	fftSize := nextPow2(traceLen + len(h) - 1)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("freqop: failed to create FFT plan: %w", err)
	}

	op := &Operator{
		kernel:     append([]float64(nil), h...),
		kernelLen:  len(h),
		traceLen:   traceLen,
		fftSize:    fftSize,
		plan:       plan,
		kernelFreq: make([]complex128, fftSize),
		kernelConj: make([]complex128, fftSize),
		padded:     make([]complex128, fftSize),
		spectrum:   make([]complex128, fftSize),
		timeDomain: make([]complex128, fftSize),
	}

	kernelPadded := make([]complex128, fftSize)
	for i, v := range h {
		kernelPadded[i] = complex(v, 0)
	}
	if err := plan.Forward(op.kernelFreq, kernelPadded); err != nil {
		return nil, fmt.Errorf("freqop: kernel FFT failed: %w", err)
	}
	for i, c := range op.kernelFreq {
		op.kernelConj[i] = complex(real(c), -imag(c))
	}

	return op, nil
}

// TraceLen returns the configured trace length T.
func (op *Operator) TraceLen() int { return op.traceLen }

// ConvolveForward writes y[t] = sum_k h[k]*x[t-k] for 0 <= t < T into out,
// treating x as zero outside [0, T). x and out must both have length T.
func (op *Operator) ConvolveForward(x, out []float32) error {
	if len(x) != op.traceLen || len(out) != op.traceLen {
		return ErrLengthMismatch
	}

	for i := range op.padded {
		op.padded[i] = 0
	}
	for i, v := range x {
		op.padded[i] = complex(float64(v), 0)
	}

	if err := op.plan.Forward(op.spectrum, op.padded); err != nil {
		return fmt.Errorf("freqop: forward FFT failed: %w", err)
	}
	for i := range op.spectrum {
		op.spectrum[i] *= op.kernelFreq[i]
	}
	if err := op.plan.Inverse(op.timeDomain, op.spectrum); err != nil {
		return fmt.Errorf("freqop: inverse FFT failed: %w", err)
	}

	for i := range out {
		out[i] = float32(real(op.timeDomain[i]))
	}
	return nil
}

// ConvolveAdjoint writes (H^T r)[t] = sum_k h[k]*r[t+k] for 0 <= t < T into
// out, treating r as zero outside [0, T). Implemented as a circular
// correlation IFFT(FFT(r) * conj(FFT(h))), which equals the exact linear
// adjoint because fftSize >= T+K-1 rules out wraparound contamination.
func (op *Operator) ConvolveAdjoint(r, out []float32) error {
	if len(r) != op.traceLen || len(out) != op.traceLen {
		return ErrLengthMismatch
	}

	for i := range op.padded {
		op.padded[i] = 0
	}
	for i, v := range r {
		op.padded[i] = complex(float64(v), 0)
	}

	if err := op.plan.Forward(op.spectrum, op.padded); err != nil {
		return fmt.Errorf("freqop: forward FFT failed: %w", err)
	}
	for i := range op.spectrum {
		op.spectrum[i] *= op.kernelConj[i]
	}
	if err := op.plan.Inverse(op.timeDomain, op.spectrum); err != nil {
		return fmt.Errorf("freqop: inverse FFT failed: %w", err)
	}

	for i := range out {
		out[i] = float32(real(op.timeDomain[i]))
	}
	return nil
}
