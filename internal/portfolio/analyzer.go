package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"

	"portfolioDash/internal/market"
)

const (
	// TradingDaysPerYear is the annualization convention for daily returns.
	TradingDaysPerYear = 252.0

	// DefaultRiskFreeRate is the annual risk-free rate assumed by the
	// Sharpe ratio when the caller does not configure one.
	DefaultRiskFreeRate = 0.03

	// DefaultRebalanceThreshold is the absolute drift that triggers a
	// rebalance flag.
	DefaultRebalanceThreshold = 0.05
)

// Analyzer derives portfolio statistics from an immutable snapshot of asset
// price data and a normalized weight map. Weights are target allocation
// fractions throughout; the analyzer never mutates its inputs and caches
// nothing, so it is safe to construct per request.
type Analyzer struct {
	assets       map[string]market.PriceSeries
	weights      map[string]float64
	riskFreeRate float64
}

func NewAnalyzer(assets map[string]market.PriceSeries, weights map[string]float64, riskFreeRate float64) *Analyzer {
	return &Analyzer{
		assets:       assets,
		weights:      weights,
		riskFreeRate: riskFreeRate,
	}
}

// ReturnsTable holds per-symbol daily returns aligned on the sorted union of
// all observation dates. Dates a symbol did not trade are NaN gaps; NaN never
// leaves this package.
type ReturnsTable struct {
	Dates   []time.Time
	Symbols []string
	Returns map[string][]float64
}

// DailyReturns computes the fractional day-over-day close change for every
// asset. Each symbol's first observation has no return.
func (a *Analyzer) DailyReturns() ReturnsTable {
	dateSet := make(map[time.Time]struct{})
	perSymbol := make(map[string]map[time.Time]float64, len(a.assets))
	symbols := make([]string, 0, len(a.assets))

	for symbol, series := range a.assets {
		symbols = append(symbols, symbol)
		rets := make(map[time.Time]float64, series.Len())
		candles := series.Candles
		for i, c := range candles {
			dateSet[c.Date] = struct{}{}
			if i == 0 || candles[i-1].Close == 0 {
				continue
			}
			rets[c.Date] = c.Close/candles[i-1].Close - 1
		}
		perSymbol[symbol] = rets
	}
	sort.Strings(symbols)

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	table := ReturnsTable{
		Dates:   dates,
		Symbols: symbols,
		Returns: make(map[string][]float64, len(symbols)),
	}
	for _, symbol := range symbols {
		col := make([]float64, len(dates))
		for i, d := range dates {
			if r, ok := perSymbol[symbol][d]; ok {
				col[i] = r
			} else {
				col[i] = math.NaN()
			}
		}
		table.Returns[symbol] = col
	}
	return table
}

// portfolioReturns collapses the returns table into one weighted return per
// date. Symbols absent from the weight map contribute zero; dates where no
// symbol has a defined return stay NaN.
func (a *Analyzer) portfolioReturns(table ReturnsTable) []float64 {
	out := make([]float64, len(table.Dates))
	for i := range table.Dates {
		sum := 0.0
		any := false
		for _, symbol := range table.Symbols {
			r := table.Returns[symbol][i]
			if math.IsNaN(r) {
				continue
			}
			w, ok := a.weights[symbol]
			if !ok {
				continue
			}
			sum += w * r
			any = true
		}
		if any {
			out[i] = sum
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// definedPortfolioReturns returns the weighted daily return series with gap
// dates removed.
func (a *Analyzer) definedPortfolioReturns() []float64 {
	table := a.DailyReturns()
	rets := a.portfolioReturns(table)
	out := make([]float64, 0, len(rets))
	for _, r := range rets {
		if math.IsNaN(r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ValueSeries compounds the weighted daily returns into a cumulative value
// series. The series starts at the first date with a defined portfolio
// return; gap dates mid-series carry the previous value forward.
func (a *Analyzer) ValueSeries(initialInvestment float64) []ValuePoint {
	table := a.DailyReturns()
	rets := a.portfolioReturns(table)

	var points []ValuePoint
	value := initialInvestment
	for i, r := range rets {
		if math.IsNaN(r) {
			if len(points) == 0 {
				continue
			}
		} else {
			value *= 1 + r
		}
		points = append(points, ValuePoint{Date: table.Dates[i], Value: value})
	}
	return points
}

// CheckRebalancing derives current realized weights by valuing the units
// implied at the start of the window (target weight / first close, per
// invested dollar) at the latest close, and compares them to the targets.
// The report flags a rebalance when any |drift| exceeds the threshold.
func (a *Analyzer) CheckRebalancing(threshold float64) (RebalanceReport, error) {
	if threshold <= 0 {
		threshold = DefaultRebalanceThreshold
	}

	positionValues := make(map[string]float64)
	total := 0.0
	for symbol, weight := range a.weights {
		series, ok := a.assets[symbol]
		if !ok || series.Empty() {
			continue
		}
		first := series.Candles[0].Close
		latest, _ := series.LatestClose()
		if first <= 0 || latest <= 0 {
			continue
		}
		value := weight / first * latest
		positionValues[symbol] = value
		total += value
	}
	if total <= 0 {
		return RebalanceReport{}, fmt.Errorf("no priced positions to evaluate")
	}

	report := RebalanceReport{
		CurrentWeights: make(map[string]float64, len(positionValues)),
		TargetWeights:  make(map[string]float64, len(positionValues)),
		Drift:          make(map[string]float64, len(positionValues)),
	}
	for symbol, value := range positionValues {
		current := value / total
		target := a.weights[symbol]
		report.CurrentWeights[symbol] = current
		report.TargetWeights[symbol] = target
		report.Drift[symbol] = current - target
		if math.Abs(report.Drift[symbol]) > threshold {
			report.RebalanceNeeded = true
		}
	}
	return report, nil
}

// RebalancingTrades computes the buy/sell actions required to return to the
// target weights. It is a no-op when no rebalance is needed.
func (a *Analyzer) RebalancingTrades(portfolioValue, threshold float64) ([]Trade, error) {
	report, err := a.CheckRebalancing(threshold)
	if err != nil {
		return nil, err
	}
	if !report.RebalanceNeeded {
		return nil, nil
	}

	symbols := make([]string, 0, len(report.Drift))
	for symbol := range report.Drift {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	trades := make([]Trade, 0, len(symbols))
	for _, symbol := range symbols {
		latest, ok := a.assets[symbol].LatestClose()
		if !ok || latest <= 0 {
			continue
		}
		tradeValue := portfolioValue * (report.TargetWeights[symbol] - report.CurrentWeights[symbol])
		action := "buy"
		if tradeValue < 0 {
			action = "sell"
		}
		trades = append(trades, Trade{
			Symbol: symbol,
			Units:  tradeValue / latest,
			Value:  tradeValue,
			Action: action,
		})
	}
	return trades, nil
}
