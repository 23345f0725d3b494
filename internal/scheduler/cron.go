package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser parses standard five-field expressions in a time zone.
type CronParser struct {
	parser cron.Parser
}

func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (p *CronParser) Parse(expression, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &cronSchedule{sched: sched, loc: loc}, nil
}

type cronSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *cronSchedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
