package feed

import "time"

// due reports whether lastSync predates boundary. A feed that never ran is
// always due.
func due(lastSync *time.Time, boundary time.Time) bool {
	return lastSync == nil || lastSync.Before(boundary)
}

// DailySchedule is due once per UTC day.
func DailySchedule(now time.Time, lastSync *time.Time) bool {
	now = now.UTC()
	return due(lastSync, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC))
}

// WeeklySchedule is due once per ISO week (weeks start on Monday).
func WeeklySchedule(now time.Time, lastSync *time.Time) bool {
	now = now.UTC()
	offset := (int(now.Weekday()) + 6) % 7
	return due(lastSync, time.Date(now.Year(), now.Month(), now.Day()-offset, 0, 0, 0, 0, time.UTC))
}

// MonthlySchedule is due once per calendar month.
func MonthlySchedule(now time.Time, lastSync *time.Time) bool {
	now = now.UTC()
	return due(lastSync, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC))
}

// TradingDaySchedule is DailySchedule that skips weekends, when AMFI and
// the exchanges publish nothing new.
func TradingDaySchedule(now time.Time, lastSync *time.Time) bool {
	switch now.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return lastSync == nil
	}
	return DailySchedule(now, lastSync)
}
