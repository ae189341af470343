package portfolio

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// RiskMetrics computes the annualized risk statistics of the weighted daily
// portfolio return series. Degenerate inputs (no data, zero volatility, no
// losing days) produce undefined metrics instead of NaN or Inf.
func (a *Analyzer) RiskMetrics() RiskMetrics {
	rets := a.definedPortfolioReturns()
	if len(rets) == 0 {
		return RiskMetrics{}
	}

	mean := stat.Mean(rets, nil)
	m := RiskMetrics{
		AnnualReturn: defined(mean * TradingDaysPerYear),
	}
	if len(rets) < 2 {
		return m
	}

	std := stat.StdDev(rets, nil)
	m.AnnualVolatility = defined(std * math.Sqrt(TradingDaysPerYear))

	if std > 0 {
		excess := mean - a.riskFreeRate/TradingDaysPerYear
		m.SharpeRatio = defined(math.Sqrt(TradingDaysPerYear) * excess / std)

		dist := distuv.Normal{Mu: mean, Sigma: std}
		m.VaR95 = defined(dist.Quantile(0.05))
	}

	var negatives []float64
	for _, r := range rets {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	// Sample stdev of the downside needs at least two losing days.
	if len(negatives) >= 2 {
		downside := stat.StdDev(negatives, nil) * math.Sqrt(TradingDaysPerYear)
		if downside > 0 && m.AnnualReturn.Valid {
			m.SortinoRatio = defined(m.AnnualReturn.Value / downside)
		}
	}
	return m
}
