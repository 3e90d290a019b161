package dspfilter

import (
	"math"
	"testing"
)

func TestLowpassRBJUnityAtDC(t *testing.T) {
	c := LowpassRBJ(100, defaultQ, 1000)
	mag2 := c.MagnitudeSquared(1e-6, 1000)
	if math.Abs(mag2-1) > 1e-3 {
		t.Errorf("DC magnitude^2 = %v, want ~1", mag2)
	}
}

func TestHighpassRBJUnityAtNyquist(t *testing.T) {
	c := HighpassRBJ(100, defaultQ, 1000)
	mag2 := c.MagnitudeSquared(499.999, 1000)
	if math.Abs(mag2-1) > 1e-2 {
		t.Errorf("Nyquist magnitude^2 = %v, want ~1", mag2)
	}
}

func TestLowpassRBJAttenuatesAboveCutoff(t *testing.T) {
	c := LowpassRBJ(50, defaultQ, 1000)
	atCutoff := c.MagnitudeSquared(50, 1000)
	atNyquist := c.MagnitudeSquared(499, 1000)
	if atNyquist >= atCutoff {
		t.Errorf("expected attenuation above cutoff: at cutoff=%v at nyquist=%v", atCutoff, atNyquist)
	}
}

func TestOutOfRangeFrequencyPassesThrough(t *testing.T) {
	c := LowpassRBJ(-1, defaultQ, 1000)
	if c.B0 != 1 || c.B1 != 0 || c.B2 != 0 || c.A1 != 0 || c.A2 != 0 {
		t.Errorf("expected pass-through coefficients, got %+v", c)
	}
}

func TestSectionProcessSampleStepResponse(t *testing.T) {
	s := NewSection(LowpassRBJ(50, defaultQ, 1000))
	var last float64
	for i := 0; i < 500; i++ {
		last = s.ProcessSample(1)
	}
	if math.Abs(last-1) > 1e-2 {
		t.Errorf("settled step response = %v, want ~1", last)
	}
}

func TestSectionResetClearsState(t *testing.T) {
	s := NewSection(LowpassRBJ(50, defaultQ, 1000))
	s.ProcessSample(1)
	s.ProcessSample(1)
	s.Reset()
	if s.d0 != 0 || s.d1 != 0 {
		t.Errorf("Reset left nonzero state: d0=%v d1=%v", s.d0, s.d1)
	}
}
