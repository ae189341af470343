package dashboard

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vicanso/go-charts/v2"

	"portfolioDash/internal/portfolio"
)

// chartCache keeps rendered PNGs for a short TTL so repeated dashboard
// refreshes do not re-render (or re-fetch) identical charts.
type chartCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]chartCacheEntry
}

type chartCacheEntry struct {
	createdAt time.Time
	image     []byte
}

func newChartCache(ttl time.Duration) *chartCache {
	return &chartCache{ttl: ttl, entries: map[string]chartCacheEntry{}}
}

func (c *chartCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		if time.Now().Before(entry.createdAt.Add(c.ttl)) {
			img := make([]byte, len(entry.image))
			copy(img, entry.image)
			return img, true
		}
	}
	return nil, false
}

func (c *chartCache) set(key string, img []byte) {
	c.mu.Lock()
	c.entries[key] = chartCacheEntry{createdAt: time.Now(), image: img}
	c.mu.Unlock()
}

// renderAllocationPie renders the normalized weight map as a pie chart.
func renderAllocationPie(weights map[string]float64) ([]byte, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("no weights provided")
	}

	symbols := make([]string, 0, len(weights))
	for symbol := range weights {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	values := make([]float64, len(symbols))
	labels := make([]string, len(symbols))
	for i, symbol := range symbols {
		values[i] = weights[symbol] * 100
		labels[i] = fmt.Sprintf("%s %.1f%%", symbol, weights[symbol]*100)
	}

	p, err := charts.PieRender(
		values,
		charts.TitleOptionFunc(charts.TitleOption{
			Text: "Portfolio Allocation",
			Left: charts.PositionCenter,
		}),
		charts.LegendOptionFunc(charts.LegendOption{
			Orient: charts.OrientVertical,
			Data:   labels,
			Left:   charts.PositionLeft,
		}),
		charts.PieSeriesShowLabel(),
		charts.ThemeOptionFunc(charts.ThemeLight),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return p.Bytes()
}

// renderValueLine renders the cumulative portfolio value series.
func renderValueLine(points []portfolio.ValuePoint, subtitle string) ([]byte, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no value series to render")
	}

	xLabels := make([]string, len(points))
	values := make([]float64, len(points))
	for i, pt := range points {
		if len(points) <= 60 {
			xLabels[i] = pt.Date.Format("Jan 02")
		} else {
			xLabels[i] = pt.Date.Format("Jan '06")
		}
		values[i] = pt.Value
	}

	minVal, maxVal := values[0], values[0]
	for _, v := range values {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	padding := (maxVal - minVal) * 0.05
	if padding == 0 {
		padding = maxVal * 0.05
	}
	yMin := minVal - padding
	yMax := maxVal + padding

	splitNum := 6
	if len(xLabels) <= 30 {
		splitNum = len(xLabels) / 3
		if splitNum < 3 {
			splitNum = 3
		}
	}

	p, err := charts.LineRender(
		[][]float64{values},
		charts.TitleTextOptionFunc("Portfolio Value Over Time\n"+subtitle),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        xLabels,
			SplitNumber: splitNum,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{
			Min:         &yMin,
			Max:         &yMax,
			DivideCount: 5,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return p.Bytes()
}
