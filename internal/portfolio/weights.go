package portfolio

// NormalizeWeights divides each raw weight by the sum of all raw weights so
// the result sums to 1. A zero or negative sum yields an empty map.
func NormalizeWeights(raw map[string]float64) map[string]float64 {
	total := 0.0
	for _, w := range raw {
		total += w
	}
	if total <= 0 {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(raw))
	for symbol, w := range raw {
		out[symbol] = w / total
	}
	return out
}
