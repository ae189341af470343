package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// fetchYahooDaily fetches daily OHLCV candles for a single symbol between
// start and end from the Yahoo v8 chart API, rotating hosts and backing off
// on transient failures. When the chart endpoint stays unavailable it falls
// back to the v7 spark endpoint, which carries close prices only.
func (f *Fetcher) fetchYahooDaily(ctx context.Context, symbol string, start, end time.Time) ([]Candle, error) {
	backoffs := []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}
	var yc yahooChartResp
	var lastErr error
	for attempt := 0; attempt < len(backoffs)+1; attempt++ {
		for _, host := range f.yahooHosts {
			url := fmt.Sprintf("%s://%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d&events=div,splits",
				f.yahooScheme, host, symbol, start.Unix(), end.Unix())
			body, err := f.getJSON(ctx, url, symbol)
			if err != nil {
				lastErr = err
				continue
			}
			if err := json.Unmarshal(body, &yc); err != nil {
				lastErr = fmt.Errorf("failed to parse yahoo json: %v; body: %s", err, bodyPreview(body))
				continue
			}
			lastErr = nil
			break
		}
		if lastErr == nil {
			break
		}
		if attempt < len(backoffs) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffs[attempt]):
			}
		}
	}
	if lastErr != nil {
		candles, sparkErr := f.fetchYahooSpark(ctx, symbol, start, end, backoffs)
		if sparkErr != nil {
			return nil, lastErr
		}
		return candles, nil
	}
	if len(yc.Chart.Result) == 0 || len(yc.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, errors.New("no data")
	}
	res := yc.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	candles := make([]Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] <= 0 {
			continue
		}
		c := Candle{
			Date:  dayOf(ts),
			Close: quote.Close[i],
		}
		if i < len(quote.Open) {
			c.Open = quote.Open[i]
		}
		if i < len(quote.High) {
			c.High = quote.High[i]
		}
		if i < len(quote.Low) {
			c.Low = quote.Low[i]
		}
		if i < len(quote.Volume) {
			c.Volume = quote.Volume[i]
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil, errors.New("no valid data points")
	}
	return normalizeCandles(candles), nil
}

// fetchYahooSpark is the close-only fallback path.
func (f *Fetcher) fetchYahooSpark(ctx context.Context, symbol string, start, end time.Time, backoffs []time.Duration) ([]Candle, error) {
	rangeParam := sparkRange(end.Sub(start))
	var lastErr error
	for attempt := 0; attempt < len(backoffs)+1; attempt++ {
		for _, host := range f.yahooHosts {
			url := fmt.Sprintf("%s://%s/v7/finance/spark?symbols=%s&range=%s&interval=1d",
				f.yahooScheme, host, strings.ToUpper(symbol), rangeParam)
			body, err := f.getJSON(ctx, url, symbol)
			if err != nil {
				lastErr = err
				continue
			}
			var sp yahooSparkResp
			if err := json.Unmarshal(body, &sp); err != nil {
				lastErr = fmt.Errorf("failed to parse yahoo spark json: %w", err)
				continue
			}
			if len(sp.Spark.Result) == 0 || len(sp.Spark.Result[0].Response) == 0 {
				lastErr = errors.New("empty spark response")
				continue
			}
			r := sp.Spark.Result[0].Response[0]
			candles := make([]Candle, 0, len(r.Timestamp))
			for i, ts := range r.Timestamp {
				if i >= len(r.Close) || r.Close[i] <= 0 {
					continue
				}
				d := dayOf(ts)
				if d.Before(dayOf(start.Unix())) || d.After(dayOf(end.Unix())) {
					continue
				}
				candles = append(candles, Candle{Date: d, Close: r.Close[i]})
			}
			if len(candles) == 0 {
				lastErr = errors.New("no valid data points")
				continue
			}
			return normalizeCandles(candles), nil
		}
		if attempt < len(backoffs) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffs[attempt]):
			}
		}
	}
	return nil, lastErr
}

// getJSON performs one guarded GET and returns the body when it looks like
// JSON, distinguishing 429s and HTML error pages the way Yahoo serves them.
func (f *Fetcher) getJSON(ctx context.Context, url, symbol string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", fmt.Sprintf("https://finance.yahoo.com/quote/%s/chart", strings.ToUpper(symbol)))

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response: %w", readErr)
	}
	if resp.StatusCode == http.StatusTooManyRequests || strings.HasPrefix(string(body), "Edge: Too Many Requests") {
		return nil, fmt.Errorf("upstream returned 429: %s", bodyPreview(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, bodyPreview(body))
	}
	if strings.HasPrefix(string(body), "<") || strings.HasPrefix(string(body), "Edge:") {
		return nil, fmt.Errorf("upstream returned non-json body: %s", bodyPreview(body))
	}
	return body, nil
}

func bodyPreview(body []byte) string {
	preview := string(body)
	if len(preview) > 120 {
		preview = preview[:120]
	}
	return preview
}

// dayOf truncates a unix timestamp to its UTC calendar day.
func dayOf(ts int64) time.Time {
	t := time.Unix(ts, 0).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// sparkRange picks the smallest spark range covering the requested window.
func sparkRange(window time.Duration) string {
	days := int(window.Hours() / 24)
	switch {
	case days <= 5:
		return "5d"
	case days <= 30:
		return "1mo"
	case days <= 90:
		return "3mo"
	case days <= 180:
		return "6mo"
	case days <= 365:
		return "1y"
	case days <= 730:
		return "2y"
	case days <= 1825:
		return "5y"
	default:
		return "10y"
	}
}
