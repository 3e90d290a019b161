package solver

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkStepBatch(b *testing.B) {
	modes := []struct {
		name string
		mode Mode
	}{
		{"freq", ModeFreq},
		{"banded", ModeBanded},
	}
	sizes := []int{300, 3000}

	for _, m := range modes {
		for _, n := range sizes {
			trace := syntheticTrace([]int{n / 4, n / 2, 3 * n / 4}, 10, 0.02, 0.4, 30, n)

			b.Run(fmt.Sprintf("mode=%s_n=%d", m.name, n), func(b *testing.B) {
				s := New(WithConvMode(m.mode), WithParams(Params{TauRise: 0.02, TauDecay: 0.4, Lambda: 0, Fs: 30}))
				s.SetTrace(trace)
				ctx := context.Background()

				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					s.StepBatch(ctx, 1)
				}
			})
		}
	}
}
