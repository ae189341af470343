package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnknownCoin marks crypto symbols with no CoinGecko id mapping.
var ErrUnknownCoin = errors.New("no coingecko id mapping for symbol")

// coinIDs maps the supported crypto tickers to CoinGecko coin ids.
var coinIDs = map[string]string{
	"BTC-USD":  "bitcoin",
	"ETH-USD":  "ethereum",
	"USDT-USD": "tether",
	"BNB-USD":  "binancecoin",
	"XRP-USD":  "ripple",
}

// fetchCoinGeckoDaily fetches close prices for a crypto symbol from the
// CoinGecko market_chart/range endpoint. The endpoint returns millisecond
// price points at a granularity it chooses, so points are collapsed to one
// close per UTC day.
func (f *Fetcher) fetchCoinGeckoDaily(ctx context.Context, symbol string, start, end time.Time) ([]Candle, error) {
	coinID, ok := coinIDs[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCoin, symbol)
	}

	url := fmt.Sprintf("%s/coins/%s/market_chart/range?vs_currency=usd&from=%d&to=%d",
		f.coinGeckoBase, coinID, start.Unix(), end.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("failed to read coingecko response: %w", readErr)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko returned %d: %s", resp.StatusCode, bodyPreview(body))
	}

	var cg coinGeckoRangeResp
	if err := json.Unmarshal(body, &cg); err != nil {
		return nil, fmt.Errorf("failed to parse coingecko json: %w", err)
	}
	if len(cg.Prices) == 0 {
		return nil, errors.New("no data")
	}

	candles := make([]Candle, 0, len(cg.Prices))
	for _, p := range cg.Prices {
		ms, price := int64(p[0]), p[1]
		if price <= 0 {
			continue
		}
		candles = append(candles, Candle{Date: dayOf(ms / 1000), Close: price})
	}
	if len(candles) == 0 {
		return nil, errors.New("no valid data points")
	}
	// normalizeCandles keeps the last point of each day as that day's close.
	return normalizeCandles(candles), nil
}
