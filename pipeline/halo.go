package pipeline

import "container/heap"

// haloItem is one candidate peak in the halo-pooling max-heap, ordered by
// amplitude (highest first).
type haloItem struct {
	idx int
	amp float32
}

// haloHeap is a max-heap of haloItem by amplitude.
type haloHeap []haloItem

func (h haloHeap) Len() int            { return len(h) }
func (h haloHeap) Less(i, j int) bool  { return h[i].amp > h[j].amp }
func (h haloHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *haloHeap) Push(x interface{}) { *h = append(*h, x.(haloItem)) }
func (h *haloHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// haloPool implements the historical greedy lowest-first absorption
// variant: bins are visited from highest to lowest amplitude via a
// max-heap; each visited bin absorbs any still-unabsorbed, lower-amplitude
// immediate neighbor into itself, zeroing the neighbor. This concentrates
// isolated low-amplitude spillover into the nearest stronger peak. SolveTrace
// applies it after the interior-peak normalization of each round.
func haloPool(s []float32) []float32 {
	n := len(s)
	out := make([]float32, n)
	copy(out, s)

	h := make(haloHeap, 0, n)
	for i, v := range out {
		if v > 0 {
			h = append(h, haloItem{idx: i, amp: v})
		}
	}
	heap.Init(&h)

	absorbed := make([]bool, n)

	for h.Len() > 0 {
		top := heap.Pop(&h).(haloItem)
		if absorbed[top.idx] {
			continue
		}
		if out[top.idx] != top.amp {
			// stale heap entry from a prior absorption into this index
			continue
		}

		for _, nb := range []int{top.idx - 1, top.idx + 1} {
			if nb < 0 || nb >= n || absorbed[nb] {
				continue
			}
			if out[nb] > 0 && out[nb] < out[top.idx] {
				out[top.idx] += out[nb]
				out[nb] = 0
				absorbed[nb] = true
			}
		}
	}

	return out
}
