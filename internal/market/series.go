package market

import (
	"sort"
	"time"
)

// AssetClass identifies which upstream source a symbol resolves through.
type AssetClass string

const (
	AssetStock     AssetClass = "stock"
	AssetCrypto    AssetClass = "crypto"
	AssetCommodity AssetClass = "commodity"
)

// Candle is one daily price record. Crypto series carry close prices only,
// the remaining fields stay zero.
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSeries is the daily price history for one symbol, ordered by date with
// no duplicate dates.
type PriceSeries struct {
	Symbol  string     `json:"symbol"`
	Class   AssetClass `json:"class"`
	Candles []Candle   `json:"candles"`
}

func (s PriceSeries) Len() int { return len(s.Candles) }

func (s PriceSeries) Empty() bool { return len(s.Candles) == 0 }

// Closes returns the close prices in date order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Dates returns the candle dates in order.
func (s PriceSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Date
	}
	return out
}

// LatestClose returns the most recent close, false when the series is empty.
func (s PriceSeries) LatestClose() (float64, bool) {
	if len(s.Candles) == 0 {
		return 0, false
	}
	return s.Candles[len(s.Candles)-1].Close, true
}

// normalizeCandles sorts by date and collapses duplicate dates, keeping the
// last observation for each day. Upstreams occasionally repeat the current
// session's bar.
func normalizeCandles(candles []Candle) []Candle {
	if len(candles) == 0 {
		return candles
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Date.Before(candles[j].Date)
	})
	out := candles[:0]
	for _, c := range candles {
		if len(out) > 0 && out[len(out)-1].Date.Equal(c.Date) {
			out[len(out)-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

// Spec classifies the requested symbols by asset class.
type Spec struct {
	Stocks      []string `json:"stocks"`
	Crypto      []string `json:"crypto"`
	Commodities []string `json:"commodities"`
}

// symbolsByClass flattens the spec preserving class tags.
func (s Spec) symbolsByClass() []struct {
	Symbol string
	Class  AssetClass
} {
	var out []struct {
		Symbol string
		Class  AssetClass
	}
	add := func(syms []string, class AssetClass) {
		for _, sym := range syms {
			if sym == "" {
				continue
			}
			out = append(out, struct {
				Symbol string
				Class  AssetClass
			}{sym, class})
		}
	}
	add(s.Stocks, AssetStock)
	add(s.Crypto, AssetCrypto)
	add(s.Commodities, AssetCommodity)
	return out
}
