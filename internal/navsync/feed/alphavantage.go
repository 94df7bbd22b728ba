package feed

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/fetcher"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/resilience"
	"github.com/sudhirig/mfscore/internal/store"
)

// AlphaVantage loads daily closes for benchmark index proxies into
// market_indices. Symbols maps index name (as stored on funds) to the
// Alpha Vantage symbol that tracks it.
type AlphaVantage struct {
	BaseURL string
	APIKey  string
	Symbols map[string]string
	// Full requests the complete history instead of the last 100 days.
	Full bool
}

type avDailyResponse struct {
	Series map[string]struct {
		Close string `json:"4. close"`
	} `json:"Time Series (Daily)"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
	Error       string `json:"Error Message"`
}

func (a *AlphaVantage) Name() string     { return "alphavantage" }
func (a *AlphaVantage) Cadence() Cadence { return Daily }

func (a *AlphaVantage) ShouldRun(now time.Time, lastSync *time.Time) bool {
	return TradingDaySchedule(now, lastSync)
}

func (a *AlphaVantage) Sync(ctx context.Context, w store.NavWriter, f fetcher.Fetcher) (*Result, error) {
	if a.APIKey == "" {
		return nil, eris.New("alphavantage: api key not configured")
	}
	log := zap.L().With(zap.String("feed", a.Name()))

	names := make([]string, 0, len(a.Symbols))
	for name := range a.Symbols {
		names = append(names, name)
	}
	slices.Sort(names)

	var rows int64
	var loaded, failed []string
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		points, err := a.fetchDaily(ctx, f, a.Symbols[name])
		if err == nil {
			var n int64
			n, err = w.UpsertIndex(ctx, name, points)
			rows += n
		}
		if err != nil {
			// Throttling applies to the whole key, so stop here.
			if resilience.IsTransient(err) {
				return nil, eris.Wrapf(err, "alphavantage: %s", name)
			}
			log.Warn("skip index", zap.String("index", name), zap.Error(err))
			failed = append(failed, name)
			continue
		}
		loaded = append(loaded, name)
	}
	if len(loaded) == 0 && len(failed) > 0 {
		return nil, eris.Errorf("alphavantage: all %d indices failed", len(failed))
	}
	return &Result{Rows: rows, Metadata: map[string]any{"indices": loaded, "failed": failed}}, nil
}

func (a *AlphaVantage) fetchDaily(ctx context.Context, f fetcher.Fetcher, symbol string) ([]model.NavPoint, error) {
	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY")
	q.Set("symbol", symbol)
	q.Set("apikey", a.APIKey)
	if a.Full {
		q.Set("outputsize", "full")
	}
	endpoint := strings.TrimRight(a.BaseURL, "/") + "/query?" + q.Encode()

	resp, err := fetcher.GetJSON[avDailyResponse](ctx, f, endpoint)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.Note != "" || resp.Information != "":
		// Alpha Vantage reports throttling with HTTP 200 and a note.
		msg := resp.Note + resp.Information
		return nil, resilience.NewTransientError(eris.Errorf("alphavantage: throttled: %s", msg), 0)
	case resp.Error != "":
		return nil, eris.Errorf("alphavantage: %s: %s", symbol, resp.Error)
	}

	points := make([]model.NavPoint, 0, len(resp.Series))
	for day, bar := range resp.Series {
		v, ok := parsePositive(bar.Close)
		if !ok {
			continue
		}
		date, err := parseDate(day)
		if err != nil {
			continue
		}
		points = append(points, model.NavPoint{Date: date, Value: v})
	}
	if len(points) == 0 {
		return nil, eris.Errorf("alphavantage: no closes for %s", symbol)
	}
	slices.SortFunc(points, func(x, y model.NavPoint) int { return x.Date.Compare(y.Date) })
	return points, nil
}
