// Package baseline computes a causal sliding-window quantile of a trace and
// subtracts it, used by the InDeCa pipeline to remove a slowly varying
// fluorescence floor before deconvolution.
//
// The reference algorithm coordinate-compresses the trace once, then
// maintains a Fenwick (binary indexed) tree of per-value counts over the
// sliding window, finding the k-th smallest value by binary lifting on the
// tree. This gives O(T log M) total work, M the number of distinct values,
// instead of the O(T*w) a naive re-sort per window would cost.
package baseline

import (
	"math"
	"sort"

	"github.com/cwbudde/algo-dsp/internal/core"
)

// fenwick is a binary indexed tree over counts, supporting point update and
// find-by-order (the index of the k-th smallest element currently present).
type fenwick struct {
	tree []int
	n    int
	// log2n is the highest power of two <= n, used as the starting stride
	// for binary lifting in findKth.
	log2n int
}

func newFenwick(n int) *fenwick {
	log2n := 1
	for log2n*2 <= n {
		log2n *= 2
	}
	return &fenwick{tree: make([]int, n+1), n: n, log2n: log2n}
}

// update adds delta to the count at 0-based index i.
func (f *fenwick) update(i, delta int) {
	for i++; i <= f.n; i += i & (-i) {
		f.tree[i] += delta
	}
}

// findKth returns the 0-based index of the (k+1)-th smallest element
// currently present (k is 0-based rank), by binary lifting over the tree.
// Assumes at least k+1 elements are present.
func (f *fenwick) findKth(k int) int {
	target := k + 1
	pos := 0
	remaining := target
	for step := f.log2n; step >= 1; step /= 2 {
		next := pos + step
		if next <= f.n && f.tree[next] < remaining {
			pos = next
			remaining -= f.tree[next]
		}
	}
	return pos // 0-based index of the element (pos+1 is 1-based BIT position)
}

// compress returns, for each input value, its 0-based index in the sorted
// set of distinct values, with all NaNs collapsing to a single trailing
// bucket (NaN sorts last, consistently for every occurrence). It also
// returns the distinct values in the same order as the bucket indices
// (values[nanBucket] is NaN if any NaN was present).
func compress(x []float32) (indices []int, values []float64) {
	nonNaN := make([]float64, 0, len(x))
	hasNaN := false
	for _, v := range x {
		f := float64(v)
		if math.IsNaN(f) {
			hasNaN = true
			continue
		}
		nonNaN = append(nonNaN, f)
	}

	sort.Float64s(nonNaN)
	unique := nonNaN[:0:0]
	for i, v := range nonNaN {
		if i == 0 || v != nonNaN[i-1] {
			unique = append(unique, v)
		}
	}

	if hasNaN {
		unique = append(unique, math.NaN())
	}

	lookup := func(v float64) int {
		if math.IsNaN(v) {
			return len(unique) - 1
		}
		lo, hi := 0, len(unique)
		if hasNaN {
			hi--
		}
		for lo < hi {
			mid := (lo + hi) / 2
			if unique[mid] < v {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		return lo
	}

	indices = make([]int, len(x))
	for i, v := range x {
		indices[i] = lookup(float64(v))
	}

	return indices, unique
}

// rank returns k = min(floor((w-1)*q + 0.5), w-1), the 0-based order
// statistic index for a window currently holding w elements at quantile q.
func rank(w int, q float64) int {
	if w <= 1 {
		return 0
	}
	k := int(math.Floor(float64(w-1)*q + 0.5))
	if k > w-1 {
		k = w - 1
	}
	if k < 0 {
		k = 0
	}
	return k
}

// Compute returns the causal sliding-window q-quantile of x using a window
// of length w (w >= 1) with min-periods 1, via the Fenwick-tree order
// statistic structure.
func Compute(x []float32, w int, q float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if w < 1 {
		w = 1
	}
	q = clampUnit(q)

	indices, values := compress(x)
	tree := newFenwick(len(values))

	for t := 0; t < n; t++ {
		tree.update(indices[t], 1)
		if t >= w {
			tree.update(indices[t-w], -1)
		}

		wt := w
		if t+1 < wt {
			wt = t + 1
		}
		k := rank(wt, q)
		idx := tree.findKth(k)
		out[t] = values[idx]
	}

	return out
}

// Subtract computes the rolling baseline of x and returns a new slice with
// the per-sample baseline subtracted. Baselines are computed over the
// original (unmutated) trace before any subtraction happens.
func Subtract(x []float32, w int, q float64) []float32 {
	base := Compute(x, w, q)
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = v - float32(base[i])
	}
	return out
}

func clampUnit(q float64) float64 {
	return core.Clamp(q, 0, 1)
}
