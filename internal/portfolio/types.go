package portfolio

import (
	"encoding/json"
	"math"
	"time"
)

// Metric is a derived statistic that may be undefined for degenerate input
// (zero volatility, no negative return days). Undefined metrics marshal as
// JSON null instead of leaking NaN or Inf downstream.
type Metric struct {
	Value float64
	Valid bool
}

func defined(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Metric{}
	}
	return Metric{Value: v, Valid: true}
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Metric{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Metric{Value: v, Valid: true}
	return nil
}

// RiskMetrics holds the annualized portfolio risk statistics.
type RiskMetrics struct {
	AnnualReturn     Metric `json:"annual_return"`
	AnnualVolatility Metric `json:"annual_volatility"`
	SharpeRatio      Metric `json:"sharpe_ratio"`
	SortinoRatio     Metric `json:"sortino_ratio"`
	VaR95            Metric `json:"var_95"`
}

// ValuePoint is one date of the cumulative portfolio value series.
type ValuePoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// RebalanceReport describes the drift of realized weights from targets.
type RebalanceReport struct {
	RebalanceNeeded bool               `json:"rebalance_needed"`
	CurrentWeights  map[string]float64 `json:"current_weights"`
	TargetWeights   map[string]float64 `json:"target_weights"`
	Drift           map[string]float64 `json:"drift"`
}

// Trade is one rebalancing action.
type Trade struct {
	Symbol string  `json:"symbol"`
	Units  float64 `json:"units"`
	Value  float64 `json:"value"`
	Action string  `json:"action"`
}

// OptimizationResult is the outcome of a successful max-Sharpe optimization.
type OptimizationResult struct {
	Weights        map[string]float64 `json:"optimal_weights"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	SharpeRatio    float64            `json:"sharpe_ratio"`
}
