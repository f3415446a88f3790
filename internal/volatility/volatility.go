// Package volatility implements a rolling, windowed log-return volatility
// estimator: O(1) per tick, backed by a bounded deque of returns and
// incremental sum/sum-of-squares accumulators.
package volatility

import "math"

// defaultWindow matches the window size used by the reference engine.
const defaultWindow = 100

// Estimator maintains a bounded sliding window of the last N log-returns
// and exposes Update, which folds in a new price and returns the current
// standard deviation estimate.
type Estimator struct {
	window    int
	returns   []float64 // ring of the last `window` log-returns, oldest first
	sum       float64
	sumSq     float64
	lastPrice float64
}

// New creates an Estimator with the given window size. A window <= 0 uses
// the default of 100, matching the reference engine's vol_calc.
func New(window int) *Estimator {
	if window <= 0 {
		window = defaultWindow
	}
	return &Estimator{
		window:  window,
		returns: make([]float64, 0, window),
	}
}

// Update folds in a new price observation and returns the current
// volatility estimate (population standard deviation of log returns over
// the window, dividing by n). The first observation, having no previous
// price, contributes a zero return; σ is 0 until at least two prices have
// been observed.
func (e *Estimator) Update(price float64) float64 {
	var r float64
	if e.lastPrice > 0 && price > 0 {
		r = math.Log(price / e.lastPrice)
	}
	e.lastPrice = price

	e.push(r)

	n := float64(len(e.returns))
	if n < 2 {
		return 0
	}
	mean := e.sum / n
	variance := e.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func (e *Estimator) push(r float64) {
	e.returns = append(e.returns, r)
	e.sum += r
	e.sumSq += r * r

	if len(e.returns) > e.window {
		oldest := e.returns[0]
		e.returns = e.returns[1:]
		e.sum -= oldest
		e.sumSq -= oldest * oldest
	}
}
