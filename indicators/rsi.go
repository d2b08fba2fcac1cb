// Package indicators computes the trend signal: a rolling-mean RSI smoothed
// by an EMA, recomputed over a series' full stored history.
package indicators

import "math"

// RSISeries computes the RSI over closes using simple rolling means of the
// positive and negative deltas across window periods. Values before the
// window has filled are NaN — "no trend yet", not trend 0.
func RSISeries(closes []float64, window int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 0 || n <= window {
		return out
	}

	// Deltas are defined from index 1; the first full window of deltas ends
	// at index window.
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	var gainSum, lossSum float64
	for i := 1; i < n; i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > window {
			gainSum -= gains[i-window]
			lossSum -= losses[i-window]
		}
		if i < window {
			continue
		}

		avgGain := gainSum / float64(window)
		avgLoss := lossSum / float64(window)
		switch {
		case avgLoss == 0 && avgGain == 0:
			// Flat window: RS is undefined.
		case avgLoss == 0:
			out[i] = 100
		default:
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// EMASeries smooths values with an exponential moving average of the given
// span (alpha = 2/(span+1)), seeded at the first defined input. NaN inputs
// produce NaN outputs but do not reset the running state.
func EMASeries(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	alpha := 2.0 / float64(span+1)

	ema := math.NaN()
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		if math.IsNaN(ema) {
			ema = v
		} else {
			ema = v*alpha + ema*(1-alpha)
		}
		out[i] = ema
	}
	return out
}
