//go:build !fastmath

package kernel

import "math"

// fastExp computes exp(x) using the standard library.
func fastExp(x float64) float64 {
	return math.Exp(x)
}
