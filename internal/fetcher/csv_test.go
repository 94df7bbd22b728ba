package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_SemicolonVariableFields(t *testing.T) {
	input := "Scheme Code;ISIN Div Payout/ ISIN Growth;ISIN Div Reinvestment;Scheme Name;Net Asset Value;Date\n" +
		"\n" +
		"Open Ended Schemes(Equity Scheme - Large Cap Fund)\n" +
		"\n" +
		"Axis Mutual Fund\n" +
		"\n" +
		"120465;INF846K01DP8;-;Axis Bluechip Fund - Direct Plan - Growth;58.1200;28-Jun-2024\n"

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter:  ';',
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)

	// Blank lines are skipped; section lines come through as one field.
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Open Ended Schemes(Equity Scheme - Large Cap Fund)"}, rows[0])
	assert.Equal(t, []string{"Axis Mutual Fund"}, rows[1])
	assert.Len(t, rows[2], 6)
	assert.Equal(t, "120465", rows[2][0])

	header := <-headerCh
	assert.Equal(t, "Scheme Code", header[0])
}

func TestStreamCSV_Charset(t *testing.T) {
	// 0x96 is an en dash in Windows-1252.
	input := []byte("100001;Fund \x96 Growth;10.5\n")
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(string(input)), CSVOptions{
		Delimiter: ';',
		Charset:   charmap.Windows1252,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Fund – Growth", rows[0][1])
}

func TestStreamCSV_LazyQuotes(t *testing.T) {
	input := "1;Alpha \"Value\" Fund;10\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter:  ';',
		LazyQuotes: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, `Alpha "Value" Fund`, rows[0][1])
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	input := " a , b , c \n 1 , 2 , 3 \n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		TrimSpace: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a", "b", "c"}, rows[0])
	assert.Equal(t, []string{"1", "2", "3"}, rows[1])
}

func TestStreamCSV_Comment(t *testing.T) {
	input := "# generated\na,b\n1,2\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{Comment: '#'})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestStreamCSV_Empty(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("a,b,c\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	count := 0
	for range rowCh {
		count++
		if count == 5 {
			cancel()
		}
	}

	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	// The reader may finish before noticing the cancellation.
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
	assert.Less(t, count, 10000)
}
