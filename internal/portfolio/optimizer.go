package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// ErrOptimizationFailed marks portfolios the mean-variance optimizer cannot
// solve: singular covariance, too little aligned history, or a solver that
// does not converge. Callers report it as an outcome, not a fault.
var ErrOptimizationFailed = errors.New("portfolio optimization failed")

const (
	penaltyWeight = 1000.0
	weightCutoff  = 1e-4
)

// Optimize finds the long-only, fully-invested weight vector maximizing the
// Sharpe ratio (mu'w - rf) / sqrt(w'Sigma*w) over the assets' aligned close
// history. Expected returns are historical daily means scaled to an annual
// horizon; Sigma is the annualized sample covariance. The sum-to-one
// constraint is enforced with a quadratic penalty and the bounds by
// projection, following BFGS with a NelderMead retry.
func (a *Analyzer) Optimize() (*OptimizationResult, error) {
	symbols, returns, err := a.alignedReturns()
	if err != nil {
		return nil, err
	}
	n := len(symbols)

	mu := make([]float64, n)
	for i := 0; i < n; i++ {
		mu[i] = stat.Mean(returns[i], nil) * TradingDaysPerYear
	}
	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov := stat.Covariance(returns[i], returns[j], nil) * TradingDaysPerYear
			if math.IsNaN(cov) || math.IsInf(cov, 0) {
				return nil, fmt.Errorf("%w: covariance of %s/%s is not finite", ErrOptimizationFailed, symbols[i], symbols[j])
			}
			sigma.SetSym(i, j, cov)
		}
	}

	if n == 1 {
		return a.singleAssetResult(symbols[0], mu[0], sigma.At(0, 0))
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sigma); !ok || chol.Cond() > 1e12 {
		return nil, fmt.Errorf("%w: covariance matrix is singular or ill-conditioned", ErrOptimizationFailed)
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xp := projectUnitBox(x)
			ret, variance := portfolioMoments(xp, mu, sigma)
			std := math.Sqrt(math.Max(variance, 1e-10))
			sum := 0.0
			for _, v := range xp {
				sum += v
			}
			return -(ret-a.riskFreeRate)/std + penaltyWeight*(sum-1)*(sum-1)
		},
		Grad: func(grad, x []float64) {
			xp := projectUnitBox(x)
			ret, variance := portfolioMoments(xp, mu, sigma)
			std := math.Sqrt(math.Max(variance, 1e-10))
			sum := 0.0
			for _, v := range xp {
				sum += v
			}
			for i := 0; i < n; i++ {
				dVar := 0.0
				for j := 0; j < n; j++ {
					dVar += 2 * sigma.At(i, j) * xp[j]
				}
				grad[i] = -mu[i]/std + (ret-a.riskFreeRate)*dVar/(2*std*std*std)
				grad[i] += 2 * penaltyWeight * (sum - 1)
			}
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if err != nil || !converged(result.Status) {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOptimizationFailed, err)
		}
		if !converged(result.Status) {
			return nil, fmt.Errorf("%w: solver did not converge (status %v)", ErrOptimizationFailed, result.Status)
		}
	}

	weights := cleanWeights(symbols, projectUnitBox(result.X))
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: solver returned an empty allocation", ErrOptimizationFailed)
	}

	w := make([]float64, n)
	for i, symbol := range symbols {
		w[i] = weights[symbol]
	}
	expRet, variance := portfolioMoments(w, mu, sigma)
	vol := math.Sqrt(variance)
	if vol <= 0 || math.IsNaN(vol) {
		return nil, fmt.Errorf("%w: optimal allocation has no volatility", ErrOptimizationFailed)
	}

	return &OptimizationResult{
		Weights:        weights,
		ExpectedReturn: expRet,
		Volatility:     vol,
		SharpeRatio:    (expRet - a.riskFreeRate) / vol,
	}, nil
}

func (a *Analyzer) singleAssetResult(symbol string, mu, variance float64) (*OptimizationResult, error) {
	vol := math.Sqrt(variance)
	if vol <= 0 || math.IsNaN(vol) {
		return nil, fmt.Errorf("%w: %s has no return variance", ErrOptimizationFailed, symbol)
	}
	return &OptimizationResult{
		Weights:        map[string]float64{symbol: 1},
		ExpectedReturn: mu,
		Volatility:     vol,
		SharpeRatio:    (mu - a.riskFreeRate) / vol,
	}, nil
}

// alignedReturns builds per-symbol daily return series over the dates every
// symbol traded on. The covariance estimate needs a rectangular sample, so
// unlike the metrics path this uses the intersection of dates, not the union.
func (a *Analyzer) alignedReturns() ([]string, [][]float64, error) {
	if len(a.assets) == 0 {
		return nil, nil, fmt.Errorf("%w: no asset price data", ErrOptimizationFailed)
	}

	symbols := make([]string, 0, len(a.assets))
	for symbol := range a.assets {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	counts := make(map[time.Time]int)
	closes := make(map[string]map[time.Time]float64, len(symbols))
	for _, symbol := range symbols {
		byDate := make(map[time.Time]float64)
		for _, c := range a.assets[symbol].Candles {
			byDate[c.Date] = c.Close
			counts[c.Date]++
		}
		closes[symbol] = byDate
	}

	var common []time.Time
	for d, n := range counts {
		if n == len(symbols) {
			common = append(common, d)
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Before(common[j]) })
	if len(common) < 3 {
		return nil, nil, fmt.Errorf("%w: only %d aligned observations", ErrOptimizationFailed, len(common))
	}

	returns := make([][]float64, len(symbols))
	for i, symbol := range symbols {
		series := make([]float64, 0, len(common)-1)
		for t := 1; t < len(common); t++ {
			prev := closes[symbol][common[t-1]]
			cur := closes[symbol][common[t]]
			if prev <= 0 {
				return nil, nil, fmt.Errorf("%w: non-positive close for %s", ErrOptimizationFailed, symbol)
			}
			series = append(series, cur/prev-1)
		}
		returns[i] = series
	}
	return symbols, returns, nil
}

func portfolioMoments(w, mu []float64, sigma *mat.SymDense) (ret, variance float64) {
	for i := range w {
		ret += mu[i] * w[i]
		for j := range w {
			variance += w[i] * w[j] * sigma.At(i, j)
		}
	}
	return ret, variance
}

func projectUnitBox(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(0, math.Min(1, v))
	}
	return out
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.FunctionThreshold:
		return true
	}
	return false
}

// cleanWeights zeroes allocations below the cutoff, renormalizes, and rounds
// to five decimals.
func cleanWeights(symbols []string, raw []float64) map[string]float64 {
	sum := 0.0
	for _, v := range raw {
		if v >= weightCutoff {
			sum += v
		}
	}
	if sum <= 0 {
		return nil
	}
	out := make(map[string]float64, len(symbols))
	for i, symbol := range symbols {
		v := raw[i]
		if v < weightCutoff {
			out[symbol] = 0
			continue
		}
		out[symbol] = math.Round(v/sum*1e5) / 1e5
	}
	return out
}
