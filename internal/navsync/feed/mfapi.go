package feed

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sudhirig/mfscore/internal/fetcher"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/store"
)

// MFAPI backfills full NAV history per scheme from MFAPI.in, whose JSON
// mirrors AMFI's historical NAVs.
type MFAPI struct {
	BaseURL string
	// MaxSchemes caps schemes per sync (0 = all), taken in scheme code order.
	MaxSchemes int
	// Concurrency bounds in-flight scheme downloads. Defaults to 4.
	Concurrency int
}

type mfapiResponse struct {
	Meta struct {
		FundHouse      string `json:"fund_house"`
		SchemeType     string `json:"scheme_type"`
		SchemeCategory string `json:"scheme_category"`
		SchemeName     string `json:"scheme_name"`
	} `json:"meta"`
	Data []struct {
		Date string `json:"date"`
		NAV  string `json:"nav"`
	} `json:"data"`
	Status string `json:"status"`
}

func (m *MFAPI) Name() string     { return "mfapi" }
func (m *MFAPI) Cadence() Cadence { return Weekly }

func (m *MFAPI) ShouldRun(now time.Time, lastSync *time.Time) bool {
	return WeeklySchedule(now, lastSync)
}

func (m *MFAPI) Sync(ctx context.Context, w store.NavWriter, f fetcher.Fetcher) (*Result, error) {
	log := zap.L().With(zap.String("feed", m.Name()))

	ids, err := w.FundIDsBySchemeCode(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "mfapi: list schemes")
	}
	codes := make([]string, 0, len(ids))
	for code := range ids {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	if m.MaxSchemes > 0 && len(codes) > m.MaxSchemes {
		codes = codes[:m.MaxSchemes]
	}
	if len(codes) == 0 {
		log.Info("no schemes to backfill; run the amfi feed first")
		return &Result{}, nil
	}

	limit := m.Concurrency
	if limit <= 0 {
		limit = 4
	}

	var (
		rows, synced, failed atomic.Int64
		mu                   sync.Mutex
		meta                 []model.Fund
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, code := range codes {
		g.Go(func() error {
			n, fund, err := m.syncScheme(gctx, w, f, code, ids[code])
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("skip scheme", zap.String("scheme_code", code), zap.Error(err))
				failed.Add(1)
				return nil
			}
			rows.Add(n)
			synced.Add(1)
			if fund != nil {
				mu.Lock()
				meta = append(meta, *fund)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "mfapi: backfill")
	}
	if synced.Load() == 0 {
		return nil, eris.Errorf("mfapi: all %d schemes failed", failed.Load())
	}
	if len(meta) > 0 {
		slices.SortFunc(meta, func(a, b model.Fund) int { return strings.Compare(a.SchemeCode, b.SchemeCode) })
		if _, err := w.UpsertFunds(ctx, meta); err != nil {
			return nil, eris.Wrap(err, "mfapi: upsert fund metadata")
		}
	}

	log.Info("mfapi sync complete",
		zap.Int64("schemes", synced.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Int64("rows", rows.Load()),
	)
	return &Result{Rows: rows.Load(), Metadata: map[string]any{
		"schemes": synced.Load(),
		"failed":  failed.Load(),
	}}, nil
}

// syncScheme writes one scheme's history and returns its metadata for a
// batched fund upsert.
func (m *MFAPI) syncScheme(ctx context.Context, w store.NavWriter, f fetcher.Fetcher, code string, fundID int64) (int64, *model.Fund, error) {
	url := fmt.Sprintf("%s/mf/%s", strings.TrimRight(m.BaseURL, "/"), code)
	resp, err := fetcher.GetJSON[mfapiResponse](ctx, f, url)
	if err != nil {
		return 0, nil, err
	}
	if resp.Status != "" && !strings.EqualFold(resp.Status, "SUCCESS") {
		return 0, nil, eris.Errorf("mfapi: status %q for scheme %s", resp.Status, code)
	}

	points := make([]model.NavPoint, 0, len(resp.Data))
	seen := make(map[time.Time]bool, len(resp.Data))
	for _, d := range resp.Data {
		v, ok := parsePositive(d.NAV)
		if !ok {
			continue
		}
		date, err := parseDate(d.Date)
		if err != nil || seen[date] {
			continue
		}
		seen[date] = true
		points = append(points, model.NavPoint{Date: date, Value: v})
	}
	if len(points) == 0 {
		return 0, nil, eris.Errorf("mfapi: no usable NAV rows for scheme %s", code)
	}
	// MFAPI lists newest first.
	slices.SortFunc(points, func(a, b model.NavPoint) int { return a.Date.Compare(b.Date) })

	n, err := w.UpsertNav(ctx, fundID, points)
	if err != nil {
		return 0, nil, err
	}

	var fund *model.Fund
	if resp.Meta.SchemeCategory != "" && resp.Meta.SchemeName != "" {
		category, subcategory := ParseSchemeCategory(resp.Meta.SchemeCategory)
		fund = &model.Fund{
			SchemeCode:  code,
			Name:        resp.Meta.SchemeName,
			AMC:         resp.Meta.FundHouse,
			Category:    category,
			Subcategory: subcategory,
		}
	}
	return n, fund, nil
}
