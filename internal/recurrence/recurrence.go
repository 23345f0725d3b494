// Package recurrence decides which calendar dates a feed is due for.
// Everything here is pure: history lookups happen in the caller.
package recurrence

import (
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// DefaultHistoryDate is used when a feed has never succeeded.
var DefaultHistoryDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// IsDue reports whether candidate is due given the last successful date.
//
// Monthly and yearly compare only (year, month) and year; DayOfRun is checked
// against the candidate's day of month and day of year respectively.
func IsDue(feed domain.FeedConfig, candidate, lastSuccess time.Time) (bool, error) {
	switch feed.Frequency {
	case domain.FrequencyDaily:
		return true, nil

	case domain.FrequencyWeekly:
		cy, cw := candidate.ISOWeek()
		ly, lw := lastSuccess.ISOWeek()
		later := cy > ly || (cy == ly && cw > lw)
		return later && feed.DayOfRun <= isoWeekday(candidate), nil

	case domain.FrequencyMonthly:
		later := candidate.Year() > lastSuccess.Year() ||
			(candidate.Year() == lastSuccess.Year() && candidate.Month() > lastSuccess.Month())
		return later && feed.DayOfRun <= candidate.Day(), nil

	case domain.FrequencyYearly:
		return candidate.Year() > lastSuccess.Year() && feed.DayOfRun <= candidate.YearDay(), nil
	}

	return false, domain.Application(domain.CodeInvalidFrequency,
		"feed %s: unsupported frequency %q", feed.Key(), feed.Frequency)
}

// isoWeekday maps Monday=1 .. Sunday=7.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// EffectiveLastSuccess returns last, or defaultDate when there is no history.
func EffectiveLastSuccess(last *time.Time, defaultDate time.Time) time.Time {
	if last == nil {
		return defaultDate
	}
	return *last
}

// StartDate is the first date a fresh run considers: the day after the last
// success. It fails when the feed has no history at all.
func StartDate(feed domain.FeedConfig, last *time.Time) (time.Time, error) {
	if last == nil {
		return time.Time{}, domain.Application(domain.CodeNoHistory,
			"feed %s has no successful execution and no start date was given", feed.Key())
	}
	return domain.Day(*last).AddDate(0, 0, 1), nil
}

// DefaultEnd is yesterday relative to now.
func DefaultEnd(now time.Time) time.Time {
	return domain.Day(now).AddDate(0, 0, -1)
}

// Window returns every day from start to end inclusive. An inverted window
// is empty.
func Window(start, end time.Time) []time.Time {
	start, end = domain.Day(start), domain.Day(end)
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
