package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"portfolioDash/internal/market"
	"portfolioDash/internal/portfolio"
)

const defaultInitialInvestment = 100000.0

type portfolioRequest struct {
	Stocks            []string           `json:"stocks"`
	Crypto            []string           `json:"crypto"`
	Commodities       []string           `json:"commodities"`
	Weights           map[string]float64 `json:"weights"`
	Window            string             `json:"window"`
	InitialInvestment float64            `json:"initial_investment"`
	PortfolioValue    float64            `json:"portfolio_value"`
}

func (r portfolioRequest) spec() market.Spec {
	return market.Spec{
		Stocks:      cleanSymbols(r.Stocks),
		Crypto:      cleanSymbols(r.Crypto),
		Commodities: cleanSymbols(r.Commodities),
	}
}

func (r portfolioRequest) empty() bool {
	s := r.spec()
	return len(s.Stocks)+len(s.Crypto)+len(s.Commodities) == 0
}

type analyzeResponse struct {
	Weights       map[string]float64        `json:"weights"`
	ValueSeries   []portfolio.ValuePoint    `json:"value_series"`
	RiskMetrics   portfolio.RiskMetrics     `json:"risk_metrics"`
	Rebalance     portfolio.RebalanceReport `json:"rebalance"`
	FetchFailures []market.FetchFailure     `json:"fetch_failures,omitempty"`
}

func cleanSymbols(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseWindow converts a window string like 90d, 12w, 6m or 1y into a
// duration. Empty input defaults to one year.
func parseWindow(window string) (time.Duration, error) {
	if window == "" {
		return 365 * 24 * time.Hour, nil
	}
	window = strings.ToLower(strings.TrimSpace(window))
	if len(window) < 2 {
		return 0, fmt.Errorf("invalid window format: %s (use format like 90d, 12w, 6m, 1y)", window)
	}
	n, err := strconv.Atoi(window[:len(window)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid window format: %s (use format like 90d, 12w, 6m, 1y)", window)
	}
	day := 24 * time.Hour
	switch window[len(window)-1] {
	case 'd':
		return time.Duration(n) * day, nil
	case 'w':
		return time.Duration(n) * 7 * day, nil
	case 'm':
		return time.Duration(n) * 30 * day, nil
	case 'y':
		return time.Duration(n) * 365 * day, nil
	}
	return 0, fmt.Errorf("invalid window format: %s (use format like 90d, 12w, 6m, 1y)", window)
}

// buildAnalyzer fetches the requested assets and constructs a fresh analyzer.
// Fetch failures are carried back to the client, never raised.
func (s *Server) buildAnalyzer(r *http.Request, req portfolioRequest) (*portfolio.Analyzer, map[string]float64, []market.FetchFailure, error) {
	window, err := parseWindow(req.Window)
	if err != nil {
		return nil, nil, nil, err
	}
	weights := portfolio.NormalizeWeights(req.Weights)
	if len(weights) == 0 {
		return nil, nil, nil, fmt.Errorf("no positive weights provided")
	}

	end := time.Now()
	start := end.Add(-window)
	assets, failures := s.fetcher.FetchAll(r.Context(), req.spec(), start, end)
	if len(assets) == 0 {
		return nil, nil, failures, fmt.Errorf("no price data available for any requested symbol")
	}
	return portfolio.NewAnalyzer(assets, weights, s.cfg.RiskFreeRate), weights, failures, nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.empty() {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status":  "empty",
			"message": "enter portfolio holdings to see analytics",
		})
		return
	}

	analyzer, weights, failures, err := s.buildAnalyzer(r, req)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	initial := req.InitialInvestment
	if initial <= 0 {
		initial = defaultInitialInvestment
	}

	resp := analyzeResponse{
		Weights:       weights,
		ValueSeries:   analyzer.ValueSeries(initial),
		RiskMetrics:   analyzer.RiskMetrics(),
		FetchFailures: failures,
	}
	report, err := analyzer.CheckRebalancing(s.cfg.RebalanceThreshold)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	resp.Rebalance = report

	s.notifier.RebalanceAlert(report)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.empty() {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status":  "empty",
			"message": "enter portfolio holdings to optimize",
		})
		return
	}

	analyzer, _, _, err := s.buildAnalyzer(r, req)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	result, err := analyzer.Optimize()
	if err != nil {
		if errors.Is(err, portfolio.ErrOptimizationFailed) {
			s.log.Warn().Err(err).Msg("optimization failed")
			s.writeJSON(w, http.StatusOK, map[string]any{
				"optimization_failed": true,
				"error":               err.Error(),
			})
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.empty() {
		s.writeJSON(w, http.StatusOK, map[string]any{"trades": []portfolio.Trade{}})
		return
	}

	analyzer, _, _, err := s.buildAnalyzer(r, req)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	value := req.PortfolioValue
	if value <= 0 {
		value = defaultInitialInvestment
	}
	trades, err := analyzer.RebalancingTrades(value, s.cfg.RebalanceThreshold)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if trades == nil {
		trades = []portfolio.Trade{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	if s.advisor == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("advisor not configured"))
		return
	}
	var req portfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.empty() {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("no holdings provided"))
		return
	}

	analyzer, _, _, err := s.buildAnalyzer(r, req)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	summary := metricsSummary(analyzer, s.cfg.RebalanceThreshold)
	commentary, err := s.advisor.Commentary(r.Context(), summary)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"commentary": commentary})
}

// metricsSummary flattens the computed statistics into the prompt text the
// advisor consumes.
func metricsSummary(analyzer *portfolio.Analyzer, threshold float64) string {
	var b strings.Builder
	m := analyzer.RiskMetrics()
	writeMetric := func(name string, metric portfolio.Metric, pct bool) {
		if !metric.Valid {
			fmt.Fprintf(&b, "%s: undefined\n", name)
			return
		}
		if pct {
			fmt.Fprintf(&b, "%s: %.2f%%\n", name, metric.Value*100)
		} else {
			fmt.Fprintf(&b, "%s: %.2f\n", name, metric.Value)
		}
	}
	writeMetric("Annual return", m.AnnualReturn, true)
	writeMetric("Annual volatility", m.AnnualVolatility, true)
	writeMetric("Sharpe ratio", m.SharpeRatio, false)
	writeMetric("Sortino ratio", m.SortinoRatio, false)
	writeMetric("VaR 95%", m.VaR95, true)

	if report, err := analyzer.CheckRebalancing(threshold); err == nil {
		fmt.Fprintf(&b, "Rebalance needed: %v\n", report.RebalanceNeeded)
		symbols := make([]string, 0, len(report.Drift))
		for symbol := range report.Drift {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			fmt.Fprintf(&b, "%s drift: %+.2f%%\n", symbol, report.Drift[symbol]*100)
		}
	}
	if result, err := analyzer.Optimize(); err == nil {
		b.WriteString("Suggested max-Sharpe allocation:\n")
		symbols := make([]string, 0, len(result.Weights))
		for symbol := range result.Weights {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			fmt.Fprintf(&b, "%s: %.2f%%\n", symbol, result.Weights[symbol]*100)
		}
		fmt.Fprintf(&b, "Expected return %.2f%%, volatility %.2f%%, Sharpe %.2f\n",
			result.ExpectedReturn*100, result.Volatility*100, result.SharpeRatio)
	}
	return b.String()
}

func (s *Server) handleAllocationChart(w http.ResponseWriter, r *http.Request) {
	raw, err := weightsFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	weights := portfolio.NormalizeWeights(raw)
	if len(weights) == 0 {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("no positive weights provided"))
		return
	}

	key := "alloc-" + r.URL.RawQuery
	if img, ok := s.cache.get(key); ok {
		writePNG(w, img)
		return
	}
	img, err := renderAllocationPie(weights)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.cache.set(key, img)
	writePNG(w, img)
}

func (s *Server) handleValueChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := portfolioRequest{
		Stocks:      splitList(q.Get("stocks")),
		Crypto:      splitList(q.Get("crypto")),
		Commodities: splitList(q.Get("commodities")),
		Window:      q.Get("window"),
	}
	raw, err := weightsFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Weights = raw
	if req.empty() {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("no symbols provided"))
		return
	}
	initial := defaultInitialInvestment
	if v, err := strconv.ParseFloat(q.Get("initial"), 64); err == nil && v > 0 {
		initial = v
	}

	key := "value-" + r.URL.RawQuery
	if img, ok := s.cache.get(key); ok {
		writePNG(w, img)
		return
	}

	analyzer, _, _, err := s.buildAnalyzer(r, req)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	points := analyzer.ValueSeries(initial)
	subtitle := ""
	if m := analyzer.RiskMetrics(); m.AnnualReturn.Valid && m.AnnualVolatility.Valid {
		subtitle = fmt.Sprintf("Return: %.2f%% | Vol: %.2f%%", m.AnnualReturn.Value*100, m.AnnualVolatility.Value*100)
		if m.SharpeRatio.Valid {
			subtitle += fmt.Sprintf(" | Sharpe: %.2f", m.SharpeRatio.Value)
		}
	}
	img, err := renderValueLine(points, subtitle)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.cache.set(key, img)
	writePNG(w, img)
}

// weightsFromQuery parses ?weights=SYM:0.4,SYM2:0.6 pairs.
func weightsFromQuery(r *http.Request) (map[string]float64, error) {
	raw := r.URL.Query().Get("weights")
	if raw == "" {
		return nil, fmt.Errorf("missing weights parameter")
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid weight pair %q (want SYMBOL:WEIGHT)", pair)
		}
		symbol := strings.ToUpper(strings.TrimSpace(parts[0]))
		w, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %s: %w", symbol, err)
		}
		out[symbol] = w
	}
	return out, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func writePNG(w http.ResponseWriter, img []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Write(img)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
