package domain

import (
	"fmt"
	"path"
	"time"
)

// DateKeyLayout is the folder and partition key format for a day.
const DateKeyLayout = "20060102"

// DatePartition is one schedulable unit of work.
type DatePartition struct {
	Date    time.Time
	Year    int
	Quarter int
}

func NewDatePartition(t time.Time) DatePartition {
	d := Day(t)
	return DatePartition{
		Date:    d,
		Year:    d.Year(),
		Quarter: (int(d.Month()) + 2) / 3,
	}
}

// ParseDateKey parses a YYYYMMDD key.
func ParseDateKey(s string) (DatePartition, error) {
	t, err := time.ParseInLocation(DateKeyLayout, s, time.UTC)
	if err != nil {
		return DatePartition{}, fmt.Errorf("parse date key %q: %w", s, err)
	}
	return NewDatePartition(t), nil
}

func (p DatePartition) Key() string {
	return p.Date.Format(DateKeyLayout)
}

// QuarterPrefix is the object prefix holding this partition's year/quarter.
func (p DatePartition) QuarterPrefix(base string) string {
	return path.Join(base, fmt.Sprintf("year=%d", p.Year), fmt.Sprintf("qtr=%d", p.Quarter)) + "/"
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
