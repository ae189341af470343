package market

import "sort"

// filterNonNegative removes candles with close < 0.
func filterNonNegative(candles []Candle) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.Close < 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// filterIQR removes outliers using the Interquartile Range (IQR) rule.
// Any candle whose close is outside [Q1 - k*IQR, Q3 + k*IQR] is dropped.
// For short series (< minPoints), it returns original data.
func filterIQR(candles []Candle, k float64, minPoints int) []Candle {
	if len(candles) < minPoints {
		return candles
	}
	vals := make([]float64, len(candles))
	for i, c := range candles {
		vals[i] = c.Close
	}
	sort.Float64s(vals)
	percentile := func(p float64) float64 {
		if p <= 0 {
			return vals[0]
		}
		if p >= 1 {
			return vals[len(vals)-1]
		}
		pos := p * float64(len(vals)-1)
		lo := int(pos)
		hi := lo + 1
		if hi >= len(vals) {
			return vals[lo]
		}
		frac := pos - float64(lo)
		return vals[lo]*(1-frac) + vals[hi]*frac
	}
	q1 := percentile(0.25)
	q3 := percentile(0.75)
	iqr := q3 - q1
	if iqr <= 0 {
		return candles
	}
	lower := q1 - k*iqr
	upper := q3 + k*iqr
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.Close < lower || c.Close > upper {
			continue
		}
		out = append(out, c)
	}
	if len(out) < minPoints/2 {
		return candles
	}
	return out
}
