package feed

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/fetcher"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/store"
)

// FRED loads the risk-free rate series (by default the Indian 10-year
// government bond yield, INDIRLTLT01STM) into macro_series.
type FRED struct {
	BaseURL  string
	APIKey   string
	SeriesID string
	// Years of history requested. Defaults to 10.
	Years int
}

type fredResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

func (d *FRED) Name() string     { return "fred" }
func (d *FRED) Cadence() Cadence { return Monthly }

func (d *FRED) ShouldRun(now time.Time, lastSync *time.Time) bool {
	return MonthlySchedule(now, lastSync)
}

func (d *FRED) Sync(ctx context.Context, w store.NavWriter, f fetcher.Fetcher) (*Result, error) {
	if d.APIKey == "" {
		return nil, eris.New("fred: api key not configured")
	}
	years := d.Years
	if years <= 0 {
		years = 10
	}

	q := url.Values{}
	q.Set("series_id", d.SeriesID)
	q.Set("api_key", d.APIKey)
	q.Set("file_type", "json")
	q.Set("observation_start", time.Now().UTC().AddDate(-years, 0, 0).Format(time.DateOnly))
	endpoint := strings.TrimRight(d.BaseURL, "/") + "/series/observations?" + q.Encode()

	resp, err := fetcher.GetJSON[fredResponse](ctx, f, endpoint)
	if err != nil {
		return nil, eris.Wrapf(err, "fred: fetch %s", d.SeriesID)
	}

	points := make([]model.NavPoint, 0, len(resp.Observations))
	for _, obs := range resp.Observations {
		// "." marks a missing observation. Yields can be zero or negative
		// in principle, so parsePositive is not used here.
		v, ok := parseRate(obs.Value)
		if !ok {
			continue
		}
		date, err := parseDate(obs.Date)
		if err != nil {
			continue
		}
		points = append(points, model.NavPoint{Date: date, Value: v})
	}
	if len(points) == 0 {
		return nil, eris.Errorf("fred: no observations for %s", d.SeriesID)
	}

	n, err := w.UpsertMacro(ctx, d.SeriesID, points)
	if err != nil {
		return nil, eris.Wrap(err, "fred: upsert")
	}
	last := points[len(points)-1]
	zap.L().Info("fred sync complete",
		zap.String("series", d.SeriesID),
		zap.Int64("rows", n),
		zap.Float64("latest", last.Value),
	)
	return &Result{Rows: n, Metadata: map[string]any{
		"series":      d.SeriesID,
		"latest":      last.Value,
		"latest_date": last.Date.Format(time.DateOnly),
	}}, nil
}
