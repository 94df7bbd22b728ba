package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sudhirig/mfscore/internal/model"
)

// Report formats.
const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatXLSX  = "xlsx"
)

// ParseFormat validates a report format.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case FormatTable, FormatCSV, FormatXLSX:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", eris.Errorf("pipeline: format must be table, csv or xlsx (got %q)", s)
	}
}

var reportHeader = []string{
	"fund_id", "scheme_code", "fund_name", "category", "subcategory",
	"peer_group", "rank", "quartile", "percentile", "total_score",
	"historical_returns", "risk_grade", "fundamentals", "other_metrics",
	"recommendation", "return_1y", "return_3y", "return_5y",
	"volatility", "max_drawdown", "sharpe", "beta", "beta_method",
	"low_sample", "default_benchmark",
}

// WriteReport writes scores to w in the given format, ordered by peer group
// then rank.
func WriteReport(w io.Writer, format string, scores []*model.FundScore) error {
	sorted := sortForReport(scores)
	switch format {
	case FormatTable:
		return writeTable(w, sorted)
	case FormatCSV:
		return writeCSV(w, sorted)
	case FormatXLSX:
		return writeXLSX(w, sorted)
	default:
		return eris.Errorf("pipeline: unsupported format %q", format)
	}
}

func sortForReport(scores []*model.FundScore) []*model.FundScore {
	out := make([]*model.FundScore, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PeerGroup != out[j].PeerGroup {
			return out[i].PeerGroup < out[j].PeerGroup
		}
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].FundID < out[j].FundID
	})
	return out
}

func reportRow(fs *model.FundScore) []string {
	return []string{
		strconv.FormatInt(fs.FundID, 10),
		fs.SchemeCode,
		fs.FundName,
		fs.Category,
		fs.Subcategory,
		fs.PeerGroup,
		strconv.Itoa(fs.Rank),
		strconv.Itoa(fs.Quartile),
		strconv.Itoa(fs.Percentile),
		fmtFloat(fs.TotalScore),
		fmtFloat(fs.HistoricalReturnsTotal),
		fmtFloat(fs.RiskGradeTotal),
		fmtFloat(fs.FundamentalsTotal),
		fmtFloat(fs.OtherMetricsTotal),
		string(fs.Recommendation),
		fmtOpt(fs.PeriodReturns[model.Period1Y]),
		fmtOpt(fs.PeriodReturns[model.Period3Y]),
		fmtOpt(fs.PeriodReturns[model.Period5Y]),
		fmtOpt(fs.Risk.VolatilityPercent),
		fmtOpt(fs.Risk.MaxDrawdownPercent),
		fmtOpt(fs.Risk.SharpeRatio),
		fmtOpt(fs.Risk.Beta),
		string(fs.Risk.BetaMethod),
		strconv.FormatBool(fs.LowSample),
		strconv.FormatBool(fs.DefaultBenchmark),
	}
}

func writeCSV(w io.Writer, scores []*model.FundScore) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return eris.Wrap(err, "pipeline: write CSV header")
	}
	for _, fs := range scores {
		if err := cw.Write(reportRow(fs)); err != nil {
			return eris.Wrap(err, "pipeline: write CSV row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "pipeline: flush CSV")
}

func writeTable(w io.Writer, scores []*model.FundScore) error {
	header := fmt.Sprintf("%-8s %-40s %-24s %5s %3s %7s %7s %7s %7s %7s  %-11s\n",
		"Fund", "Name", "Peer Group", "Rank", "Q", "Total", "Hist", "Risk", "Fund", "Other", "Advice")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "pipeline: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", len(header)-1)); err != nil {
		return eris.Wrap(err, "pipeline: write table separator")
	}
	for _, fs := range scores {
		line := fmt.Sprintf("%-8d %-40s %-24s %5d %3d %7.2f %7.2f %7.2f %7.2f %7.2f  %-11s\n",
			fs.FundID, truncate(fs.FundName, 40), truncate(fs.PeerGroup, 24), fs.Rank, fs.Quartile,
			fs.TotalScore, fs.HistoricalReturnsTotal, fs.RiskGradeTotal, fs.FundamentalsTotal,
			fs.OtherMetricsTotal, fs.Recommendation)
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "pipeline: write table row")
		}
	}
	return nil
}

// numericColumns are written as numbers in XLSX output.
var numericColumns = map[int]bool{0: true, 6: true, 7: true, 8: true, 9: true, 10: true, 11: true, 12: true, 13: true}

func writeXLSX(w io.Writer, scores []*model.FundScore) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("scores")
	if err != nil {
		return eris.Wrap(err, "pipeline: add xlsx sheet")
	}
	row := sheet.AddRow()
	for _, h := range reportHeader {
		row.AddCell().SetString(h)
	}
	for _, fs := range scores {
		row := sheet.AddRow()
		for i, v := range reportRow(fs) {
			cell := row.AddCell()
			if n, err := strconv.ParseFloat(v, 64); err == nil && numericColumns[i] {
				cell.SetFloat(n)
				continue
			}
			cell.SetString(v)
		}
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "pipeline: write xlsx")
	}
	return nil
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func fmtOpt(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtFloat(*v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
