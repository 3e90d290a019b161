package bandop

import (
	"fmt"
	"testing"
)

func BenchmarkConvolveForward(b *testing.B) {
	sizes := []int{256, 1024, 4096, 16384}

	for _, n := range sizes {
		op := New(1.5, -0.6, 100)
		s := make([]float32, n)
		s[n/2] = 1
		out := make([]float32, n)

		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = op.ConvolveForward(s, out)
			}
		})
	}
}

func BenchmarkConvolveAdjoint(b *testing.B) {
	sizes := []int{256, 1024, 4096, 16384}

	for _, n := range sizes {
		op := New(1.5, -0.6, 100)
		r := make([]float32, n)
		r[n/2] = 1
		out := make([]float32, n)

		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = op.ConvolveAdjoint(r, out)
			}
		})
	}
}
