package kernel

import "math/cmplx"

// CharacteristicRoots returns the two roots of the AR(2) characteristic
// polynomial z^2 - g1*z - g2 = 0. For a stable bi-exponential kernel built
// from positive time constants, both roots satisfy 0 < |root| < 1; this is
// exposed so invariant checks and diagnostics can verify that without
// re-deriving the quadratic formula.
func CharacteristicRoots(g1, g2 float64) (r1, r2 complex128) {
	disc := complex(g1*g1+4*g2, 0)
	sq := cmplx.Sqrt(disc)
	g1c := complex(g1, 0)
	r1 = (g1c + sq) / 2
	r2 = (g1c - sq) / 2
	return r1, r2
}
