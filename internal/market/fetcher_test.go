package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fetchStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fetchEnd   = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
)

func yahooChartBody(start time.Time, closes []float64) []byte {
	timestamps := make([]int64, len(closes))
	volumes := make([]float64, len(closes))
	for i := range closes {
		timestamps[i] = start.AddDate(0, 0, i).Unix()
		volumes[i] = 1000
	}
	body, _ := json.Marshal(map[string]any{
		"chart": map[string]any{
			"result": []map[string]any{{
				"timestamp": timestamps,
				"indicators": map[string]any{
					"quote": []map[string]any{{
						"open":   closes,
						"high":   closes,
						"low":    closes,
						"close":  closes,
						"volume": volumes,
					}},
				},
			}},
		},
	})
	return body
}

func coinGeckoBody(start time.Time, closes []float64) []byte {
	var resp coinGeckoRangeResp
	for i, c := range closes {
		ms := float64(start.AddDate(0, 0, i).UnixMilli())
		resp.Prices = append(resp.Prices, [2]float64{ms, c})
	}
	body, _ := json.Marshal(resp)
	return body
}

// newTestFetcher points a Fetcher at a single httptest server serving both
// the yahoo chart and coingecko range paths.
func newTestFetcher(t *testing.T, handler http.Handler) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	return NewFetcher(Options{
		YahooHosts:     []string{u.Host},
		YahooScheme:    "http",
		CoinGeckoBase:  srv.URL + "/api/v3",
		RequestTimeout: 5 * time.Second,
		RequestsPerSec: 1000,
	}, zerolog.Nop())
}

func TestFetchStock(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/v8/finance/chart/AAPL"), "unexpected path %s", r.URL.Path)
		w.Write(yahooChartBody(fetchStart, []float64{100, 101, 102, 103}))
	}))

	series, err := f.FetchStock(context.Background(), "AAPL", fetchStart, fetchEnd)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", series.Symbol)
	assert.Equal(t, AssetStock, series.Class)
	require.Equal(t, 4, series.Len())
	latest, ok := series.LatestClose()
	require.True(t, ok)
	assert.Equal(t, 103.0, latest)
}

func TestFetchCrypto(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/coins/bitcoin/market_chart/range", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		w.Write(coinGeckoBody(fetchStart, []float64{42000, 42500, 43000}))
	}))

	series, err := f.FetchCrypto(context.Background(), "BTC-USD", fetchStart, fetchEnd)
	require.NoError(t, err)
	assert.Equal(t, AssetCrypto, series.Class)
	assert.Equal(t, 3, series.Len())
}

func TestFetchCryptoUnknownCoin(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unmapped coin must not reach the upstream, got %s", r.URL.Path)
	}))

	_, err := f.FetchCrypto(context.Background(), "DOGE-USD", fetchStart, fetchEnd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCoin)
}

func TestFetchCryptoCollapsesIntraday(t *testing.T) {
	// Hourly points within one UTC day collapse to a single close, keeping
	// the last observation.
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp coinGeckoRangeResp
		for h := 0; h < 6; h++ {
			ms := float64(fetchStart.Add(time.Duration(h) * 4 * time.Hour).UnixMilli())
			resp.Prices = append(resp.Prices, [2]float64{ms, 42000 + float64(h)})
		}
		body, _ := json.Marshal(resp)
		w.Write(body)
	}))

	series, err := f.FetchCrypto(context.Background(), "ETH-USD", fetchStart, fetchEnd)
	require.NoError(t, err)
	require.Equal(t, 1, series.Len())
	assert.Equal(t, 42005.0, series.Candles[0].Close)
}

func TestFetchAllPartialFailure(t *testing.T) {
	// One bad symbol must not block the rest of the portfolio.
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v8/finance/chart/AAPL"):
			w.Write(yahooChartBody(fetchStart, []float64{100, 101, 102}))
		case strings.HasPrefix(r.URL.Path, "/v8/finance/chart/GC=F"):
			w.Write(yahooChartBody(fetchStart, []float64{2000, 2010, 2020}))
		case r.URL.Path == "/api/v3/coins/bitcoin/market_chart/range":
			w.Write(coinGeckoBody(fetchStart, []float64{42000, 42500, 43000}))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	spec := Spec{
		Stocks:      []string{"AAPL"},
		Crypto:      []string{"BTC-USD", "DOGE-USD"},
		Commodities: []string{"GC=F"},
	}
	assets, failures := f.FetchAll(context.Background(), spec, fetchStart, fetchEnd)

	require.Len(t, assets, 3)
	assert.Contains(t, assets, "AAPL")
	assert.Contains(t, assets, "BTC-USD")
	assert.Contains(t, assets, "GC=F")

	require.Len(t, failures, 1)
	assert.Equal(t, "DOGE-USD", failures[0].Symbol)
	assert.Equal(t, AssetCrypto, failures[0].Class)
	assert.Contains(t, failures[0].Err, "no coingecko id mapping")
}

func TestFetchStockNoData(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Valid JSON with an empty result: the fetcher must not retry or
		// fall back, just report no data.
		fmt.Fprint(w, `{"chart":{"result":[]}}`)
	}))

	_, err := f.FetchStock(context.Background(), "GHOST", fetchStart, fetchEnd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}
