package report

import (
	"fmt"
	"time"
)

// Policy decides when a live report is due and which period it covers.
type Policy interface {
	Name() string
	// Due reports whether a new report should be produced at now, given
	// the latest existing report, if any.
	Due(now time.Time, last Report, hasLast bool) bool
	// PeriodKey names the period a report produced at now covers.
	PeriodKey(now time.Time) string
}

// RollingWindow is due when no report exists within the last Window.
type RollingWindow struct {
	Window time.Duration
}

func (p RollingWindow) Name() string { return "rolling" }

func (p RollingWindow) Due(now time.Time, last Report, hasLast bool) bool {
	if !hasLast {
		return true
	}
	return now.Sub(last.CreatedAt) >= p.Window
}

func (p RollingWindow) PeriodKey(now time.Time) string {
	return now.UTC().Truncate(p.Window).Format("2006-01-02T15:04")
}

// DailyHour is due only during Hour of the local day in Location, once per day.
type DailyHour struct {
	Hour     int
	Location *time.Location
}

func (p DailyHour) Name() string { return "daily_hour" }

func (p DailyHour) loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p DailyHour) Due(now time.Time, last Report, hasLast bool) bool {
	local := now.In(p.loc())
	if local.Hour() != p.Hour {
		return false
	}
	if !hasLast {
		return true
	}
	y, m, d := local.Date()
	todaysReport := time.Date(y, m, d, p.Hour, 0, 0, 0, p.loc())
	return last.CreatedAt.Before(todaysReport)
}

func (p DailyHour) PeriodKey(now time.Time) string {
	return now.In(p.loc()).Format("2006-01-02")
}

// NewPolicy builds the named policy. Exactly one policy is active per process.
func NewPolicy(name string, window time.Duration, hour int, loc *time.Location) (Policy, error) {
	switch name {
	case "", "rolling":
		if window <= 0 {
			return nil, fmt.Errorf("rolling report window must be positive")
		}
		return RollingWindow{Window: window}, nil
	case "daily_hour":
		if hour < 0 || hour > 23 {
			return nil, fmt.Errorf("report hour %d out of range", hour)
		}
		return DailyHour{Hour: hour, Location: loc}, nil
	default:
		return nil, fmt.Errorf("unknown report policy %q", name)
	}
}
