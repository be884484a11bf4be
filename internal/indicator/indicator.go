// Package indicator provides stateless numeric transforms over ordered
// candle sequences. All functions tolerate short or empty input.
package indicator

import "github.com/Joe-Swanson828/prediction-bot/internal/signal"

// SMA returns the simple moving average of the last period closes.
func SMA(closes []float64, period int) float64 {
	if len(closes) == 0 || period <= 0 {
		return 0
	}
	window := closes
	if len(closes) > period {
		window = closes[len(closes)-period:]
	}
	var sum float64
	for _, c := range window {
		sum += c
	}
	return sum / float64(len(window))
}

// EMA returns the exponential moving average with the standard smoothing
// factor k = 2/(period+1), seeded with the first value.
func EMA(closes []float64, period int) float64 {
	if len(closes) == 0 || period <= 0 {
		return 0
	}
	if len(closes) == 1 {
		return closes[0]
	}
	k := 2.0 / float64(period+1)
	ema := closes[0]
	for _, c := range closes[1:] {
		ema = c*k + ema*(1.0-k)
	}
	return ema
}

// VWAP returns the volume-weighted average of typical prices
// (high+low+close)/3. Falls back to the mean close when no volume traded.
func VWAP(candles []signal.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var totalVol, numerator, closeSum float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3.0
		numerator += typical * c.Volume
		totalVol += c.Volume
		closeSum += c.Close
	}
	if totalVol <= 0 {
		return closeSum / float64(len(candles))
	}
	return numerator / totalVol
}

// VolumeSpikeRatio compares the latest candle's volume against the average
// of the preceding lookback candles. 1.0 means normal, >2 is a spike.
func VolumeSpikeRatio(candles []signal.Candle, lookback int) float64 {
	if len(candles) < 2 || lookback <= 0 {
		return 1.0
	}
	latest := candles[len(candles)-1].Volume
	start := len(candles) - 1 - lookback
	if start < 0 {
		start = 0
	}
	baseline := candles[start : len(candles)-1]
	if len(baseline) == 0 {
		return 1.0
	}
	var sum float64
	for _, c := range baseline {
		sum += c.Volume
	}
	avg := sum / float64(len(baseline))
	if avg <= 0 {
		return 1.0
	}
	return latest / avg
}

// OrderbookImbalance maps YES vs NO bid depth to [-1, 1]. In prediction
// markets the two bid sides compete directly, so the skew is directional.
func OrderbookImbalance(yesBidVolume, noBidVolume float64) float64 {
	total := yesBidVolume + noBidVolume
	if total <= 0 {
		return 0
	}
	return (yesBidVolume - noBidVolume) / total
}

// Closes extracts the close series from a candle slice.
func Closes(candles []signal.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
