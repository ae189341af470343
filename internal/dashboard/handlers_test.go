package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolioDash/internal/config"
	"portfolioDash/internal/market"
)

// fakeFetcher serves canned series keyed by symbol and records failures for
// everything else, mirroring the real fetcher's catch-and-omit contract.
type fakeFetcher struct {
	series map[string]market.PriceSeries
}

func (f *fakeFetcher) FetchAll(_ context.Context, spec market.Spec, _, _ time.Time) (map[string]market.PriceSeries, []market.FetchFailure) {
	assets := make(map[string]market.PriceSeries)
	var failures []market.FetchFailure
	check := func(symbols []string, class market.AssetClass) {
		for _, symbol := range symbols {
			if s, ok := f.series[symbol]; ok {
				assets[symbol] = s
				continue
			}
			failures = append(failures, market.FetchFailure{Symbol: symbol, Class: class, Err: "no data"})
		}
	}
	check(spec.Stocks, market.AssetStock)
	check(spec.Crypto, market.AssetCrypto)
	check(spec.Commodities, market.AssetCommodity)
	return assets, failures
}

func fakeSeries(symbol string, class market.AssetClass, closes ...float64) market.PriceSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, len(closes))
	for i, c := range closes {
		candles[i] = market.Candle{Date: start.AddDate(0, 0, i), Close: c}
	}
	return market.PriceSeries{Symbol: symbol, Class: class, Candles: candles}
}

func wigglyCloses(n int, growth, wiggle, phase float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 * math.Pow(growth, float64(i)) * (1 + wiggle*math.Sin(float64(i)*1.7+phase))
	}
	return closes
}

func newTestServer(series map[string]market.PriceSeries) *Server {
	cfg := config.Config{
		Port:               "0",
		RiskFreeRate:       0.03,
		RebalanceThreshold: 0.05,
		ChartCacheTTL:      time.Minute,
		FetchTimeout:       time.Second,
	}
	return NewServer(cfg, &fakeFetcher{series: series}, nil, nil, zerolog.Nop())
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleAnalyzeEmptyPortfolio(t *testing.T) {
	s := newTestServer(nil)

	rec := postJSON(t, s.Handler(), "/api/portfolio/analyze", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "empty", got["status"])
}

func TestHandleAnalyze(t *testing.T) {
	s := newTestServer(map[string]market.PriceSeries{
		"AAPL":    fakeSeries("AAPL", market.AssetStock, wigglyCloses(60, 1.002, 0.004, 0)...),
		"BTC-USD": fakeSeries("BTC-USD", market.AssetCrypto, wigglyCloses(60, 1.001, 0.01, 1.1)...),
	})

	rec := postJSON(t, s.Handler(), "/api/portfolio/analyze", map[string]any{
		"stocks":  []string{"aapl"},
		"crypto":  []string{"BTC-USD"},
		"weights": map[string]float64{"AAPL": 0.6, "BTC-USD": 0.4},
		"window":  "90d",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Weights     map[string]float64 `json:"weights"`
		ValueSeries []struct {
			Value float64 `json:"value"`
		} `json:"value_series"`
		RiskMetrics struct {
			AnnualReturn     *float64 `json:"annual_return"`
			AnnualVolatility *float64 `json:"annual_volatility"`
		} `json:"risk_metrics"`
		Rebalance struct {
			CurrentWeights map[string]float64 `json:"current_weights"`
		} `json:"rebalance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))

	assert.InDelta(t, 0.6, got.Weights["AAPL"], 1e-9)
	assert.NotEmpty(t, got.ValueSeries)
	require.NotNil(t, got.RiskMetrics.AnnualReturn)
	require.NotNil(t, got.RiskMetrics.AnnualVolatility)
	assert.Positive(t, *got.RiskMetrics.AnnualVolatility)
	assert.Len(t, got.Rebalance.CurrentWeights, 2)
}

func TestHandleAnalyzePartialFetchFailure(t *testing.T) {
	s := newTestServer(map[string]market.PriceSeries{
		"AAPL": fakeSeries("AAPL", market.AssetStock, wigglyCloses(60, 1.002, 0.004, 0)...),
	})

	rec := postJSON(t, s.Handler(), "/api/portfolio/analyze", map[string]any{
		"stocks":  []string{"AAPL", "GHOST"},
		"weights": map[string]float64{"AAPL": 0.5, "GHOST": 0.5},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		FetchFailures []market.FetchFailure `json:"fetch_failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.FetchFailures, 1)
	assert.Equal(t, "GHOST", got.FetchFailures[0].Symbol)
}

func TestHandleAnalyzeAllSymbolsFail(t *testing.T) {
	s := newTestServer(nil)

	rec := postJSON(t, s.Handler(), "/api/portfolio/analyze", map[string]any{
		"stocks":  []string{"GHOST"},
		"weights": map[string]float64{"GHOST": 1},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleOptimize(t *testing.T) {
	s := newTestServer(map[string]market.PriceSeries{
		"AAPL":    fakeSeries("AAPL", market.AssetStock, wigglyCloses(90, 1.004, 0.002, 0)...),
		"BTC-USD": fakeSeries("BTC-USD", market.AssetCrypto, wigglyCloses(90, 0.998, 0.008, 1.3)...),
	})

	rec := postJSON(t, s.Handler(), "/api/portfolio/optimize", map[string]any{
		"stocks":  []string{"AAPL"},
		"crypto":  []string{"BTC-USD"},
		"weights": map[string]float64{"AAPL": 0.5, "BTC-USD": 0.5},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Weights map[string]float64 `json:"optimal_weights"`
		Sharpe  float64            `json:"sharpe_ratio"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Weights, 2)
	sum := 0.0
	for _, w := range got.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
}

func TestHandleOptimizeSingular(t *testing.T) {
	// Identical histories make the covariance singular: the handler reports
	// the failure as a 200 outcome, not a server error.
	closes := wigglyCloses(60, 1.002, 0.003, 0)
	s := newTestServer(map[string]market.PriceSeries{
		"A": fakeSeries("A", market.AssetStock, closes...),
		"B": fakeSeries("B", market.AssetStock, closes...),
	})

	rec := postJSON(t, s.Handler(), "/api/portfolio/optimize", map[string]any{
		"stocks":  []string{"A", "B"},
		"weights": map[string]float64{"A": 0.5, "B": 0.5},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Failed bool   `json:"optimization_failed"`
		Err    string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Failed)
	assert.NotEmpty(t, got.Err)
}

func TestHandleTradesBalanced(t *testing.T) {
	s := newTestServer(map[string]market.PriceSeries{
		"A": fakeSeries("A", market.AssetStock, 100, 100),
		"B": fakeSeries("B", market.AssetStock, 100, 100),
	})

	rec := postJSON(t, s.Handler(), "/api/portfolio/trades", map[string]any{
		"stocks":          []string{"A", "B"},
		"weights":         map[string]float64{"A": 0.5, "B": 0.5},
		"portfolio_value": 50000,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Trades []json.RawMessage `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got.Trades)
}

func TestHandleTradesDrifted(t *testing.T) {
	s := newTestServer(map[string]market.PriceSeries{
		"A": fakeSeries("A", market.AssetStock, 100, 150),
		"B": fakeSeries("B", market.AssetStock, 100, 100),
	})

	rec := postJSON(t, s.Handler(), "/api/portfolio/trades", map[string]any{
		"stocks":          []string{"A", "B"},
		"weights":         map[string]float64{"A": 0.5, "B": 0.5},
		"portfolio_value": 100000,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Trades []struct {
			Symbol string  `json:"symbol"`
			Action string  `json:"action"`
			Value  float64 `json:"value"`
		} `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Trades, 2)
	assert.Equal(t, "sell", got.Trades[0].Action)
	assert.Equal(t, "A", got.Trades[0].Symbol)
	assert.Equal(t, "buy", got.Trades[1].Action)
}

func TestHandleAdviceNotConfigured(t *testing.T) {
	s := newTestServer(nil)
	rec := postJSON(t, s.Handler(), "/api/portfolio/advice", map[string]any{
		"stocks":  []string{"AAPL"},
		"weights": map[string]float64{"AAPL": 1},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAnalyzeBadBody(t *testing.T) {
	s := newTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/portfolio/analyze", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAllocationChart(t *testing.T) {
	s := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/charts/allocation?weights=AAPL:0.6,BTC-USD:0.4", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())

	// Second request hits the cache and must serve identical bytes.
	first := append([]byte(nil), rec.Body.Bytes()...)
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/charts/allocation?weights=AAPL:0.6,BTC-USD:0.4", nil))
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, first, rec2.Body.Bytes())
}

func TestHandleValueChart(t *testing.T) {
	s := newTestServer(map[string]market.PriceSeries{
		"AAPL": fakeSeries("AAPL", market.AssetStock, wigglyCloses(60, 1.002, 0.004, 0)...),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/charts/value?stocks=AAPL&weights=AAPL:1&window=60d", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestParseWindow(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 365 * 24 * time.Hour, false},
		{"90d", 90 * 24 * time.Hour, false},
		{"12w", 12 * 7 * 24 * time.Hour, false},
		{"6m", 6 * 30 * 24 * time.Hour, false},
		{"1y", 365 * 24 * time.Hour, false},
		{"2Y", 2 * 365 * 24 * time.Hour, false},
		{"0d", 0, true},
		{"d", 0, true},
		{"90x", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := parseWindow(tc.in)
		if tc.wantErr {
			assert.Errorf(t, err, "parseWindow(%q)", tc.in)
			continue
		}
		require.NoErrorf(t, err, "parseWindow(%q)", tc.in)
		assert.Equalf(t, tc.want, got, "parseWindow(%q)", tc.in)
	}
}
