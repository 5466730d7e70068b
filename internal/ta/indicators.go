// Package ta computes last-value technical indicators over a close series, oldest first.
package ta

import "math"

// MeanStd returns the population mean and standard deviation.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

// EMA is the exponential moving average seeded with the first value.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if period <= 1 {
		copy(out, values)
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI is Wilder's relative strength index at the last close.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) <= period {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		avgGain += math.Max(delta, 0)
		avgLoss += math.Max(-delta, 0)
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		avgGain = (avgGain*float64(period-1) + math.Max(delta, 0)) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + math.Max(-delta, 0)) / float64(period)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, true
		}
		return 100, true
	}
	return 100 - 100/(1+avgGain/avgLoss), true
}

// MACDHistogram is the MACD line minus its signal line at the last close.
func MACDHistogram(closes []float64, fast, slow, signal int) (float64, bool) {
	if len(closes) < slow+signal {
		return 0, false
	}
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(line, signal)
	last := len(closes) - 1
	return line[last] - sig[last], true
}

// PercentB locates the last close within its Bollinger band: 0 at the lower band,
// 1 at the upper. A flat window reads 0.5.
func PercentB(closes []float64, period int, stdDevs float64) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	window := closes[len(closes)-period:]
	mean, std := MeanStd(window)
	if std == 0 {
		return 0.5, true
	}
	lower := mean - stdDevs*std
	upper := mean + stdDevs*std
	return (closes[len(closes)-1] - lower) / (upper - lower), true
}
