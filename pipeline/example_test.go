package pipeline_test

import (
	"context"
	"fmt"

	"github.com/cwbudde/algo-dsp/bandop"
	"github.com/cwbudde/algo-dsp/kernel"
	"github.com/cwbudde/algo-dsp/pipeline"
)

func ExampleSolveTrace() {
	const tauRise, tauDecay, fs = 0.02, 0.4, 30.0
	const n = 300

	g1, g2 := kernel.ARCoefficients(tauRise, tauDecay, fs)
	op := bandop.New(g1, g2, kernel.Length(tauDecay, fs))

	spikes := make([]float32, n)
	spikes[50] = 1
	spikes[150] = 1
	recon := make([]float32, n)
	_ = op.ConvolveForward(spikes, recon)

	trace := make([]float32, n)
	for i, v := range recon {
		trace[i] = float32(2 + 10*float64(v))
	}

	result, err := pipeline.SolveTrace(context.Background(), trace, tauRise, tauDecay, fs)
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println(len(result.SpikeCounts) == n)
	fmt.Println(result.PVE >= 0)
	// Output:
	// true
	// true
}
