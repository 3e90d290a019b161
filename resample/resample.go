// Package resample provides the small set of rate-conversion primitives the
// InDeCa pipeline needs around its upsampled working rate: linear upsampling
// of a trace, bin-sum/bin-average downsampling back to the original rate,
// and the counts-to-binary lift used to seed a warm start at the upsampled
// rate.
package resample

import "math"

// ComputeUpsampleFactor returns max(1, round(targetFs/fs)), the integer
// upsample factor U used throughout the pipeline.
func ComputeUpsampleFactor(fs, targetFs float64) int {
	if fs <= 0 {
		return 1
	}
	u := int(math.Round(targetFs / fs))
	if u < 1 {
		u = 1
	}
	return u
}

// Upsample linearly interpolates trace (length T) to length T*factor,
// sampling position i maps to source position i/factor. The last sample of
// the upsampled trace equals the last sample of the input (no extrapolation
// past the final point).
func Upsample(trace []float32, factor int) []float32 {
	t := len(trace)
	if t == 0 || factor <= 0 {
		return []float32{}
	}
	if factor == 1 {
		out := make([]float32, t)
		copy(out, trace)
		return out
	}

	outLen := t * factor
	out := make([]float32, outLen)

	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / float64(factor)
		i0 := int(srcPos)
		if i0 >= t-1 {
			out[i] = trace[t-1]
			continue
		}
		frac := srcPos - float64(i0)
		out[i] = trace[i0] + float32(frac)*(trace[i0+1]-trace[i0])
	}

	return out
}

// DownsampleSum bin-sums an upsampled counts/spike-train sequence back to
// the original rate: out[i] = sum of the factor samples in bin i. Used to
// recover s_counts at the original sample rate from a binary spike train at
// the upsampled rate.
func DownsampleSum(up []float32, factor int) []float32 {
	if factor <= 0 {
		factor = 1
	}
	n := len(up) / factor
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for j := 0; j < factor; j++ {
			sum += up[i*factor+j]
		}
		out[i] = sum
	}
	return out
}

// DownsampleAverage bin-averages an upsampled trace back to the original
// rate. Used to recover the filtered trace at the original sample rate.
func DownsampleAverage(up []float32, factor int) []float32 {
	if factor <= 0 {
		factor = 1
	}
	n := len(up) / factor
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < factor; j++ {
			sum += float64(up[i*factor+j])
		}
		out[i] = float32(sum / float64(factor))
	}
	return out
}

// UpsampleCountsToBinary lifts integer spike counts at the original rate to
// a binary sequence at the upsampled rate: the first C of every `factor`
// bins receive a 1, C clamped to factor. This conserves the total count per
// original-rate bin and gives downstream FISTA a warm-start binary vector
// that agrees with the counts when downsampled again.
func UpsampleCountsToBinary(counts []float32, factor int) []float32 {
	if factor <= 0 {
		factor = 1
	}
	out := make([]float32, len(counts)*factor)
	for i, c := range counts {
		n := int(c)
		if n < 0 {
			n = 0
		}
		if n > factor {
			n = factor
		}
		for j := 0; j < n; j++ {
			out[i*factor+j] = 1
		}
	}
	return out
}
