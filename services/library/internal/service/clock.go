package service

import "time"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

const (
	dateLayout           = "2006-01-02"
	localTimestampLayout = "2006-01-02T15:04:05"
)

// civilDay truncates t to its calendar day in loc and returns that day as
// midnight UTC, the form lending dates are stored in.
func civilDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func addDays(day time.Time, n int) time.Time {
	return day.AddDate(0, 0, n)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
