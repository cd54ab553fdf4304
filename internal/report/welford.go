package report

import "math"

// welford accumulates count, mean and the sum of squared deviations in one
// pass, without the cancellation error of the naive sum-of-squares formula.
type welford struct {
	count int
	mean  float64
	m2    float64
	min   float64
	max   float64
}

func (w *welford) add(x float64) {
	if w.count == 0 {
		w.min, w.max = x, x
	}
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
	w.min = math.Min(w.min, x)
	w.max = math.Max(w.max, x)
}

// std is the sample standard deviation; NaN below two values.
func (w *welford) std() float64 {
	if w.count < 2 {
		return math.NaN()
	}
	return math.Sqrt(w.m2 / float64(w.count-1))
}
