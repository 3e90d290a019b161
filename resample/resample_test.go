package resample

import "testing"

func TestComputeUpsampleFactor(t *testing.T) {
	tests := []struct {
		fs, targetFs float64
		want         int
	}{
		{30, 300, 10},
		{30, 30, 1},
		{0, 300, 1},
		{100, 90, 1}, // round(0.9) = 1
	}
	for _, tt := range tests {
		if got := ComputeUpsampleFactor(tt.fs, tt.targetFs); got != tt.want {
			t.Errorf("ComputeUpsampleFactor(%v,%v) = %d, want %d", tt.fs, tt.targetFs, got, tt.want)
		}
	}
}

func TestUpsampleLinear(t *testing.T) {
	trace := []float32{0, 10}
	up := Upsample(trace, 2)
	want := []float32{0, 5, 10, 10}
	if len(up) != len(want) {
		t.Fatalf("len(up) = %d, want %d", len(up), len(want))
	}
	for i := range want {
		if up[i] != want[i] {
			t.Errorf("up[%d] = %v, want %v", i, up[i], want[i])
		}
	}
}

func TestUpsampleDownsampleRoundtrip(t *testing.T) {
	for _, factor := range []int{1, 2, 3, 7} {
		for _, counts := range [][]float32{{0, 1, 0, 2}, {1, 1, 1}, {0, 0, 0}} {
			clamped := make([]float32, len(counts))
			for i, c := range counts {
				if int(c) > factor {
					clamped[i] = float32(factor)
				} else {
					clamped[i] = c
				}
			}
			binary := UpsampleCountsToBinary(clamped, factor)
			back := DownsampleSum(binary, factor)
			for i := range clamped {
				if back[i] != clamped[i] {
					t.Errorf("factor=%d counts=%v: back[%d] = %v, want %v", factor, clamped, i, back[i], clamped[i])
				}
			}
		}
	}
}

func TestDownsampleAverage(t *testing.T) {
	up := []float32{1, 3, 5, 7}
	avg := DownsampleAverage(up, 2)
	want := []float32{2, 6}
	for i := range want {
		if avg[i] != want[i] {
			t.Errorf("avg[%d] = %v, want %v", i, avg[i], want[i])
		}
	}
}
