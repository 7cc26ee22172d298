package advorders

import (
	"math"
	"math/rand"
	"time"
)

// splitEqual divides total into ceil(total/batchSize) children of
// batchSize, the last child absorbing the remainder.
func splitEqual(total, batchSize int) []int {
	n := (total + batchSize - 1) / batchSize
	out := make([]int, 0, n)
	remaining := total
	for remaining > 0 {
		v := batchSize
		if v > remaining {
			v = remaining
		}
		out = append(out, v)
		remaining -= v
	}
	return out
}

// splitSlices divides total into n near-equal slices, remainder spread
// over the front so early slices are never smaller than later ones.
func splitSlices(total, n int) []int {
	base := total / n
	rem := total % n
	out := make([]int, n)
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	// Drop empty tails when total < n
	filtered := out[:0]
	for _, v := range out {
		if v > 0 {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// splitJittered splits by perOrder with multiplicative jitter in
// [1-ratio, 1+ratio] per child, then adjusts the last child so the sum
// equals total exactly. Every child stays >= 1.
func splitJittered(total, perOrder int, ratio float64, rng *rand.Rand) []int {
	var out []int
	remaining := total
	for remaining > 0 {
		jitter := 1 + ratio*(2*rng.Float64()-1)
		v := int(math.Round(float64(perOrder) * jitter))
		if v < 1 {
			v = 1
		}
		if v > remaining {
			v = remaining
		}
		out = append(out, v)
		remaining -= v
	}
	return out
}

// splitWeighted allocates total across weights by the largest remainder
// method: floor each share, then hand leftover lots to the largest slice.
func splitWeighted(total int, weights []float64) []int {
	out := make([]int, len(weights))
	assigned := 0
	largest := 0
	for i, w := range weights {
		out[i] = int(float64(total) * w)
		assigned += out[i]
		if out[i] > out[largest] {
			largest = i
		}
	}
	out[largest] += total - assigned
	return out
}

// scheduleEvenly returns n times spaced by interval starting at start
func scheduleEvenly(start time.Time, n int, interval time.Duration) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * interval)
	}
	return out
}
