//go:build fastmath

package kernel

import "github.com/meko-christian/algo-approx"

// fastExp computes exp(x) using a fast approximation. Every tap of every
// kernel rebuild (SetParams, each scale-iteration round) evaluates this
// twice, making the approximation worth spending on a hot per-sample loop.
func fastExp(x float64) float64 {
	return approx.FastExp(x)
}
