package pipeline

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sudhirig/mfscore/internal/model"
)

func reportScores() []*model.FundScore {
	return []*model.FundScore{
		{
			FundID: 2, SchemeCode: "10002", FundName: "Beta Bluechip Fund", Category: "Equity",
			Subcategory: "Large Cap Fund", PeerGroup: "Large Cap Fund", Rank: 2, Quartile: 2, Percentile: 0,
			TotalScore: 55.5, HistoricalReturnsTotal: 25, RiskGradeTotal: 20.5, FundamentalsTotal: 10,
			Recommendation: model.Buy,
			PeriodReturns:  map[model.Period]*float64{model.Period1Y: model.Float(12.347)},
		},
		{
			FundID: 1, SchemeCode: "10001", FundName: "Alpha Bluechip Fund", Category: "Equity",
			Subcategory: "Large Cap Fund", PeerGroup: "Large Cap Fund", Rank: 1, Quartile: 1, Percentile: 100,
			TotalScore: 72, HistoricalReturnsTotal: 35, RiskGradeTotal: 22, FundamentalsTotal: 10, OtherMetricsTotal: 5,
			Recommendation: model.StrongBuy,
			Risk:           model.RiskProfile{Beta: model.Float(0.95), BetaMethod: model.BetaRegression},
		},
		{
			FundID: 9, FundName: "Gilt Fund", Category: "Debt", PeerGroup: "Gilt Fund", Rank: 1, Quartile: 1,
			Percentile: 100, TotalScore: 40, Recommendation: model.Sell, LowSample: true,
		},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]string{"": FormatTable, "CSV": FormatCSV, " xlsx ": FormatXLSX, "table": FormatTable} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("json")
	assert.Error(t, err)
}

func TestWriteReport_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, FormatCSV, reportScores()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, reportHeader, rows[0])

	// Gilt Fund sorts before Large Cap Fund; rank order within a group.
	assert.Equal(t, "9", rows[1][0])
	assert.Equal(t, "1", rows[2][0])
	assert.Equal(t, "2", rows[3][0])

	assert.Equal(t, "72.00", rows[2][9])
	assert.Equal(t, "STRONG_BUY", rows[2][14])
	assert.Equal(t, "0.95", rows[2][21])
	assert.Equal(t, "regression", rows[2][22])
	assert.Equal(t, "12.35", rows[3][15])
	assert.Equal(t, "", rows[3][16])
	assert.Equal(t, "true", rows[1][23])
}

func TestWriteReport_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, FormatTable, reportScores()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "Peer Group")
	assert.True(t, strings.HasPrefix(lines[1], "---"))
	assert.Contains(t, lines[3], "Alpha Bluechip Fund")
	assert.Contains(t, lines[3], "72.00")
	assert.Contains(t, lines[3], "STRONG_BUY")
}

func TestWriteReport_XLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, FormatXLSX, reportScores()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, "scores", sheet.Name)
	require.Len(t, sheet.Rows, 4)
	assert.Equal(t, "fund_id", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "Alpha Bluechip Fund", sheet.Rows[2].Cells[2].String())

	total, err := sheet.Rows[2].Cells[9].Float()
	require.NoError(t, err)
	assert.InDelta(t, 72, total, 1e-9)
}

func TestWriteReport_UnknownFormat(t *testing.T) {
	err := WriteReport(&bytes.Buffer{}, "pdf", nil)
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestSummary_TallyAndMap(t *testing.T) {
	scored := &model.FundScore{FundID: 1, Quartile: 1, DefaultBenchmark: true}
	unwritten := &model.FundScore{FundID: 4, Quartile: 2}
	outcomes := []Outcome{
		{FundID: 1, Status: StatusScored, Score: scored, Written: true},
		{FundID: 2, Status: StatusInsufficientData, Reason: "no NAV history"},
		{FundID: 3, Status: StatusInvalid, Reason: "bad"},
		{FundID: 4, Status: StatusScored, Score: unwritten},
		{FundID: 5},
	}

	s := Summary{Funds: 5}
	s.tally(outcomes, true)
	assert.Equal(t, 1, s.Scored)
	assert.Equal(t, 1, s.Partial)
	assert.Equal(t, 1, s.DefaultedCategory)
	assert.Equal(t, 1, s.InsufficientData)
	assert.Equal(t, 1, s.Invalid)
	assert.Equal(t, 2, s.Unprocessed)
	assert.Equal(t, 4, s.Skipped())
	assert.Equal(t, [5]int{0, 1, 0, 0, 0}, s.Quartiles)
	require.Len(t, s.Failures, 2)

	s.tally(outcomes, false)
	assert.Equal(t, 2, s.Scored)
	assert.Equal(t, 1, s.Unprocessed)
	assert.Equal(t, [5]int{0, 1, 1, 0, 0}, s.Quartiles)

	m := s.Map()
	assert.Equal(t, 2, m["scored"])
	assert.Equal(t, []int{1, 1, 0, 0}, m["quartiles"])
	assert.Len(t, m["failures"], 2)
}

func TestSummary_MapCapsFailures(t *testing.T) {
	var s Summary
	for i := range maxRunLogFailures + 10 {
		s.Failures = append(s.Failures, Failure{FundID: int64(i)})
	}
	assert.Len(t, s.Map()["failures"], maxRunLogFailures)
}
