package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNavSeries_Validate(t *testing.T) {
	tests := []struct {
		name    string
		points  []NavPoint
		wantErr string
	}{
		{name: "empty", points: nil},
		{
			name: "valid",
			points: []NavPoint{
				{Date: day(2024, 1, 1), Value: 10},
				{Date: day(2024, 1, 2), Value: 10.5},
			},
		},
		{
			name: "duplicate date",
			points: []NavPoint{
				{Date: day(2024, 1, 1), Value: 10},
				{Date: day(2024, 1, 1), Value: 11},
			},
			wantErr: "not strictly ascending",
		},
		{
			name: "descending",
			points: []NavPoint{
				{Date: day(2024, 1, 2), Value: 10},
				{Date: day(2024, 1, 1), Value: 11},
			},
			wantErr: "not strictly ascending",
		},
		{
			name:    "zero nav",
			points:  []NavPoint{{Date: day(2024, 1, 1), Value: 0}},
			wantErr: "non-positive",
		},
		{
			name:    "nan nav",
			points:  []NavPoint{{Date: day(2024, 1, 1), Value: math.NaN()}},
			wantErr: "non-finite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NavSeries{FundID: 7, Points: tt.points}.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var inv *InvalidInputError
			require.True(t, errors.As(err, &inv))
			assert.Equal(t, int64(7), inv.FundID)
		})
	}
}

func TestNavSeries_IndexAtOrBefore(t *testing.T) {
	s := NavSeries{Points: []NavPoint{
		{Date: day(2024, 1, 1), Value: 1},
		{Date: day(2024, 1, 3), Value: 2},
		{Date: day(2024, 1, 5), Value: 3},
	}}

	assert.Equal(t, -1, s.IndexAtOrBefore(day(2023, 12, 31)))
	assert.Equal(t, 0, s.IndexAtOrBefore(day(2024, 1, 1)))
	assert.Equal(t, 0, s.IndexAtOrBefore(day(2024, 1, 2)))
	assert.Equal(t, 1, s.IndexAtOrBefore(day(2024, 1, 3)))
	assert.Equal(t, 2, s.IndexAtOrBefore(day(2025, 1, 1)))
}

func TestNavSeries_Window(t *testing.T) {
	s := NavSeries{FundID: 3, Points: []NavPoint{
		{Date: day(2024, 1, 1), Value: 1},
		{Date: day(2024, 1, 3), Value: 2},
		{Date: day(2024, 1, 5), Value: 3},
		{Date: day(2024, 1, 7), Value: 4},
	}}

	w := s.Window(day(2024, 1, 2), day(2024, 1, 5))
	require.Len(t, w.Points, 2)
	assert.Equal(t, int64(3), w.FundID)
	assert.Equal(t, 2.0, w.Points[0].Value)
	assert.Equal(t, 3.0, w.Points[1].Value)

	assert.Empty(t, s.Window(day(2025, 1, 1), day(2025, 2, 1)).Points)
	assert.Empty(t, s.Window(day(2024, 1, 6), day(2024, 1, 2)).Points)
}

func TestNavSeries_FirstLast(t *testing.T) {
	var empty NavSeries
	_, ok := empty.First()
	assert.False(t, ok)
	_, ok = empty.Last()
	assert.False(t, ok)

	s := NavSeries{Points: []NavPoint{
		{Date: day(2024, 1, 1), Value: 1},
		{Date: day(2024, 1, 2), Value: 2},
	}}
	first, ok := s.First()
	require.True(t, ok)
	assert.Equal(t, 1.0, first.Value)
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 2.0, last.Value)
	assert.Equal(t, 2, s.Len())
}
