package dspfilter

// Kind selects which Butterworth response a Cascade realizes.
type Kind int

const (
	// Lowpass attenuates above cutoffHz.
	Lowpass Kind = iota
	// Highpass attenuates below cutoffHz.
	Highpass
)

// cascadeOrder is the number of biquad sections in a Cascade (one per
// Butterworth Q), so the filter order is 2*cascadeOrder = 4.
const cascadeOrder = 2

// Cascade is an ordered cascade of biquad sections realizing a single
// Butterworth high-pass or low-pass response, applied once per trace by the
// pipeline (not iteratively re-applied inside the solver loop).
type Cascade struct {
	sections []*Section
	scratch  []float64
}

// NewCascade builds a Butterworth cascade of the given kind at cutoffHz for
// sample rate fs. An out-of-range cutoff yields an all-pass-through cascade
// (sections with B0=1 and no feedback).
func NewCascade(kind Kind, cutoffHz, fs float64) *Cascade {
	qs := butterworthSectionQs(cascadeOrder)
	sections := make([]*Section, len(qs))
	for i, q := range qs {
		var c Coefficients
		switch kind {
		case Highpass:
			c = HighpassRBJ(cutoffHz, q, fs)
		default:
			c = LowpassRBJ(cutoffHz, q, fs)
		}
		sections[i] = NewSection(c)
	}
	return &Cascade{sections: sections}
}

// Reset clears the delay-line state of every section, so the same Cascade
// can be reapplied to a fresh trace without carrying over history.
func (c *Cascade) Reset() {
	for _, s := range c.sections {
		s.Reset()
	}
}

// Order returns the total filter order (2 per section).
func (c *Cascade) Order() int { return 2 * len(c.sections) }

// Process filters x through every section in series and returns a new
// slice; x is not mutated.
func (c *Cascade) Process(x []float32) []float32 {
	if cap(c.scratch) < len(x) {
		c.scratch = make([]float64, len(x))
	}
	buf := c.scratch[:len(x)]
	for i, v := range x {
		buf[i] = float64(v)
	}

	for _, s := range c.sections {
		s.ProcessBlock(buf)
	}

	out := make([]float32, len(x))
	for i, v := range buf {
		out[i] = float32(v)
	}
	return out
}
