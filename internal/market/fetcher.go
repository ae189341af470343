package market

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	iqrMultiplier = 1.5
	iqrMinPoints  = 20
)

// FetchFailure records one symbol that could not be fetched. Failures are
// reported alongside the successful series, never raised to the caller.
type FetchFailure struct {
	Symbol string     `json:"symbol"`
	Class  AssetClass `json:"class"`
	Err    string     `json:"error"`
}

// Options configures a Fetcher. Zero values fall back to production defaults.
type Options struct {
	YahooHosts     []string
	YahooScheme    string
	CoinGeckoBase  string
	RequestTimeout time.Duration
	RequestsPerSec float64
}

// Fetcher retrieves price histories from the upstream market-data APIs. All
// upstream calls go through a shared rate limiter and circuit breaker.
type Fetcher struct {
	client        *http.Client
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
	yahooHosts    []string
	yahooScheme   string
	coinGeckoBase string
	log           zerolog.Logger
}

func NewFetcher(opts Options, logger zerolog.Logger) *Fetcher {
	if len(opts.YahooHosts) == 0 {
		opts.YahooHosts = []string{"query1.finance.yahoo.com", "query2.finance.yahoo.com"}
	}
	if opts.YahooScheme == "" {
		opts.YahooScheme = "https"
	}
	if opts.CoinGeckoBase == "" {
		opts.CoinGeckoBase = "https://api.coingecko.com/api/v3"
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 4
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "market-data",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
	})

	return &Fetcher{
		client:        &http.Client{Timeout: opts.RequestTimeout},
		limiter:       rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 2),
		breaker:       breaker,
		yahooHosts:    opts.YahooHosts,
		yahooScheme:   opts.YahooScheme,
		coinGeckoBase: opts.CoinGeckoBase,
		log:           logger.With().Str("component", "market").Logger(),
	}
}

// do executes one upstream request under the limiter and breaker.
func (f *Fetcher) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := f.breaker.Execute(func() (interface{}, error) {
		return f.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*http.Response), nil
}

// FetchStock fetches the daily OHLCV history for an equity symbol
// (exchange-suffix convention, e.g. RELIANCE.NS).
func (f *Fetcher) FetchStock(ctx context.Context, symbol string, start, end time.Time) (PriceSeries, error) {
	candles, err := f.fetchYahooDaily(ctx, symbol, start, end)
	if err != nil {
		return PriceSeries{}, err
	}
	return f.newSeries(symbol, AssetStock, candles), nil
}

// FetchCrypto fetches the daily close history for a crypto symbol via
// CoinGecko. Unmapped symbols fail with ErrUnknownCoin.
func (f *Fetcher) FetchCrypto(ctx context.Context, symbol string, start, end time.Time) (PriceSeries, error) {
	candles, err := f.fetchCoinGeckoDaily(ctx, symbol, start, end)
	if err != nil {
		return PriceSeries{}, err
	}
	return f.newSeries(symbol, AssetCrypto, candles), nil
}

// FetchCommodity fetches the daily OHLCV history for a futures ticker
// (e.g. GC=F for gold).
func (f *Fetcher) FetchCommodity(ctx context.Context, symbol string, start, end time.Time) (PriceSeries, error) {
	candles, err := f.fetchYahooDaily(ctx, symbol, start, end)
	if err != nil {
		return PriceSeries{}, err
	}
	return f.newSeries(symbol, AssetCommodity, candles), nil
}

func (f *Fetcher) newSeries(symbol string, class AssetClass, candles []Candle) PriceSeries {
	candles = filterNonNegative(candles)
	candles = filterIQR(candles, iqrMultiplier, iqrMinPoints)
	return PriceSeries{Symbol: symbol, Class: class, Candles: candles}
}

// FetchAll fetches every symbol in the spec. A failed or empty fetch for one
// symbol does not abort the rest: the symbol is logged, omitted from the
// result map, and recorded in the returned failure list.
func (f *Fetcher) FetchAll(ctx context.Context, spec Spec, start, end time.Time) (map[string]PriceSeries, []FetchFailure) {
	assets := make(map[string]PriceSeries)
	var failures []FetchFailure

	for _, entry := range spec.symbolsByClass() {
		var series PriceSeries
		var err error
		switch entry.Class {
		case AssetStock:
			series, err = f.FetchStock(ctx, entry.Symbol, start, end)
		case AssetCrypto:
			series, err = f.FetchCrypto(ctx, entry.Symbol, start, end)
		case AssetCommodity:
			series, err = f.FetchCommodity(ctx, entry.Symbol, start, end)
		}
		if err != nil {
			f.log.Warn().Err(err).
				Str("symbol", entry.Symbol).
				Str("class", string(entry.Class)).
				Msg("fetch failed, omitting symbol")
			failures = append(failures, FetchFailure{Symbol: entry.Symbol, Class: entry.Class, Err: err.Error()})
			continue
		}
		if series.Empty() {
			f.log.Warn().
				Str("symbol", entry.Symbol).
				Str("class", string(entry.Class)).
				Msg("empty series, omitting symbol")
			failures = append(failures, FetchFailure{Symbol: entry.Symbol, Class: entry.Class, Err: "empty series"})
			continue
		}
		assets[entry.Symbol] = series
		f.log.Debug().
			Str("symbol", entry.Symbol).
			Int("candles", series.Len()).
			Msg("fetched series")
	}

	return assets, failures
}
