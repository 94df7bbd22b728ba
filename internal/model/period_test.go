package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	for _, p := range AllPeriods() {
		got, err := ParsePeriod(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	got, err := ParsePeriod("ytd")
	require.NoError(t, err)
	assert.Equal(t, PeriodYTD, got)

	_, err = ParsePeriod("10Y")
	assert.Error(t, err)
}

func TestPeriod_Start(t *testing.T) {
	asOf := time.Date(2024, 6, 15, 13, 45, 0, 0, time.UTC)

	tests := []struct {
		period Period
		want   time.Time
	}{
		{Period1M, day(2024, 5, 15)},
		{Period3M, day(2024, 3, 15)},
		{Period6M, day(2023, 12, 15)},
		{Period1Y, day(2023, 6, 15)},
		{Period3Y, day(2021, 6, 15)},
		{Period5Y, day(2019, 6, 15)},
		{PeriodYTD, day(2024, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.period.Start(asOf))
		})
	}
}

func TestPeriod_StartClampsMonthEnd(t *testing.T) {
	tests := []struct {
		name   string
		period Period
		asOf   time.Time
		want   time.Time
	}{
		{"1M from Mar 31", Period1M, day(2024, 3, 31), day(2024, 2, 29)},
		{"3M from May 31", Period3M, day(2024, 5, 31), day(2024, 2, 29)},
		{"6M from Aug 31", Period6M, day(2024, 8, 31), day(2024, 2, 29)},
		{"1M from Mar 31 non-leap", Period1M, day(2023, 3, 31), day(2023, 2, 28)},
		{"1M from May 31", Period1M, day(2024, 5, 31), day(2024, 4, 30)},
		{"1M across year", Period1M, day(2024, 1, 31), day(2023, 12, 31)},
		{"1Y from leap day", Period1Y, day(2024, 2, 29), day(2023, 2, 28)},
		{"3Y from Feb 28", Period3Y, day(2024, 2, 28), day(2021, 2, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.period.Start(tt.asOf))
		})
	}
}

func TestDay(t *testing.T) {
	in := time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, day(2024, 2, 29), Day(in))
}
