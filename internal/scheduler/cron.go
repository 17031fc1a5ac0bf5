package scheduler

import (
	"fmt"
	"strings"
	"time"

	roboCron "github.com/robfig/cron/v3"
)

// CronSpec is a parsed cron expression bound to a timezone.
type CronSpec struct {
	schd roboCron.Schedule
	loc  *time.Location
}

// ParseCron parses a standard 5-field cron expression, or a calendar
// descriptor such as "@daily", evaluated in the IANA timezone tz. An empty tz
// means UTC. Interval descriptors ("@every 1h") are rejected since firing is
// decided per wall-clock minute.
func ParseCron(expr, tz string) (*CronSpec, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	if strings.HasPrefix(strings.TrimSpace(expr), "@every") {
		return nil, fmt.Errorf("invalid cron expression %q: interval descriptors are not supported", expr)
	}
	schd, err := roboCron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &CronSpec{schd: schd, loc: loc}, nil
}

// Next returns the first fire time strictly after t, in UTC.
func (c *CronSpec) Next(t time.Time) time.Time {
	return c.schd.Next(t.In(c.loc)).UTC()
}

// Minute truncates t to the start of its minute in the spec's timezone.
func (c *CronSpec) Minute(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, c.loc)
}

// Matches reports whether the cron fires at the minute containing t.
func (c *CronSpec) Matches(t time.Time) bool {
	minute := c.Minute(t)
	return c.schd.Next(minute.Add(-time.Second)).Equal(minute)
}
