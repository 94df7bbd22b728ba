package feed

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/sudhirig/mfscore/internal/fetcher"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/store"
)

// NAVRecord is one scheme line from AMFI's NAVAll.txt with the section and
// fund house it appeared under.
type NAVRecord struct {
	SchemeCode   string
	ISINGrowth   string
	ISINReinvest string
	Name         string
	AMC          string
	Category     string
	Subcategory  string
	NAV          float64
	Date         time.Time
}

// AMFI syncs the daily NAV file published by the Association of Mutual
// Funds in India. It upserts every scheme's metadata and latest NAV.
type AMFI struct {
	URL string

	mu   sync.Mutex
	etag string // last successfully loaded file version
}

// NewAMFI returns the AMFI feed for url.
func NewAMFI(url string) *AMFI { return &AMFI{URL: url} }

func (a *AMFI) Name() string     { return "amfi" }
func (a *AMFI) Cadence() Cadence { return Daily }

func (a *AMFI) ShouldRun(now time.Time, lastSync *time.Time) bool {
	return TradingDaySchedule(now, lastSync)
}

func (a *AMFI) Sync(ctx context.Context, w store.NavWriter, f fetcher.Fetcher) (*Result, error) {
	log := zap.L().With(zap.String("feed", a.Name()))

	a.mu.Lock()
	prev := a.etag
	a.mu.Unlock()

	body, etag, changed, err := f.DownloadIfChanged(ctx, a.URL, prev)
	if err != nil {
		return nil, eris.Wrap(err, "amfi: download")
	}
	if !changed {
		log.Info("NAV file unchanged since last sync")
		return &Result{Metadata: map[string]any{"unchanged": true}}, nil
	}
	defer body.Close() //nolint:errcheck

	records, skipped, err := ParseNAVAll(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, eris.New("amfi: no NAV records in file")
	}

	funds := make([]model.Fund, 0, len(records))
	for _, r := range records {
		funds = append(funds, model.Fund{
			SchemeCode:  r.SchemeCode,
			Name:        r.Name,
			AMC:         r.AMC,
			Category:    r.Category,
			Subcategory: r.Subcategory,
		})
	}
	ids, err := w.UpsertFunds(ctx, funds)
	if err != nil {
		return nil, eris.Wrap(err, "amfi: upsert funds")
	}

	navs := make(map[int64]model.NavPoint, len(records))
	var latest time.Time
	for _, r := range records {
		id, ok := ids[r.SchemeCode]
		if !ok {
			continue
		}
		navs[id] = model.NavPoint{Date: r.Date, Value: r.NAV}
		if r.Date.After(latest) {
			latest = r.Date
		}
	}
	n, err := w.UpsertNavBatch(ctx, navs)
	if err != nil {
		return nil, eris.Wrap(err, "amfi: upsert navs")
	}

	a.mu.Lock()
	a.etag = etag
	a.mu.Unlock()

	log.Info("amfi sync complete",
		zap.Int("funds", len(funds)),
		zap.Int64("navs", n),
		zap.Int("skipped", skipped),
	)
	return &Result{Rows: n, Metadata: map[string]any{
		"funds":       len(funds),
		"skipped":     skipped,
		"latest_date": latest.Format(time.DateOnly),
	}}, nil
}

// ParseNAVAll parses NAVAll.txt. The file is ';'-delimited with a header
// row, section lines such as "Open Ended Schemes(Equity Scheme - Large Cap
// Fund)", fund house lines, and six-field scheme lines. Schemes whose NAV
// or date cannot be parsed are counted in skipped. A scheme code that
// appears more than once keeps its latest dated line.
func ParseNAVAll(ctx context.Context, r io.Reader) (records []NAVRecord, skipped int, err error) {
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Delimiter:  ';',
		LazyQuotes: true,
		TrimSpace:  true,
		Charset:    charmap.Windows1252,
	})

	var category, subcategory, amc string
	index := make(map[string]int)
	for row := range rowCh {
		switch {
		case len(row) == 1:
			line := row[0]
			if cat, sub, ok := sectionCategory(line); ok {
				category, subcategory = cat, sub
				amc = ""
			} else if line != "" {
				amc = line
			}
		case len(row) >= 6:
			if strings.EqualFold(row[0], "Scheme Code") {
				continue
			}
			nav, ok := parsePositive(row[4])
			date, dateErr := parseDate(row[5])
			if !ok || dateErr != nil || row[0] == "" {
				skipped++
				continue
			}
			rec := NAVRecord{
				SchemeCode:   row[0],
				ISINGrowth:   placeholder(row[1]),
				ISINReinvest: placeholder(row[2]),
				Name:         row[3],
				AMC:          amc,
				Category:     category,
				Subcategory:  subcategory,
				NAV:          nav,
				Date:         date,
			}
			if i, dup := index[rec.SchemeCode]; dup {
				if rec.Date.After(records[i].Date) {
					records[i] = rec
				}
				continue
			}
			index[rec.SchemeCode] = len(records)
			records = append(records, rec)
		default:
			skipped++
		}
	}
	for e := range errCh {
		if e != nil {
			return nil, skipped, eris.Wrap(e, "amfi: parse")
		}
	}
	return records, skipped, nil
}

// sectionCategory extracts the scheme category from a section line.
func sectionCategory(line string) (category, subcategory string, ok bool) {
	open := strings.Index(line, "(")
	if open < 0 || !strings.HasSuffix(line, ")") || !strings.Contains(strings.ToLower(line[:open]), "scheme") {
		return "", "", false
	}
	category, subcategory = ParseSchemeCategory(line[open+1 : len(line)-1])
	return category, subcategory, category != ""
}

func placeholder(s string) string {
	if s == "-" || strings.EqualFold(s, "N.A.") {
		return ""
	}
	return s
}
