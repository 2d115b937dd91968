package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a parsed five-field cron expression
// (minute hour day-of-month month day-of-week). Supported syntax:
// "*", "*/step", single values, ranges "a-b", and comma lists.
type CronSchedule struct {
	minute, hour, dom, month, dow map[int]bool
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = []cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseCron parses a five-field expression.
func ParseCron(expr string) (*CronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d in %q", len(parts), expr)
	}

	sets := make([]map[int]bool, 5)
	for i, part := range parts {
		set, err := parseCronField(part, cronFields[i])
		if err != nil {
			return nil, err
		}
		sets[i] = set
	}
	return &CronSchedule{minute: sets[0], hour: sets[1], dom: sets[2], month: sets[3], dow: sets[4]}, nil
}

func parseCronField(part string, field cronField) (map[int]bool, error) {
	set := map[int]bool{}
	for _, piece := range strings.Split(part, ",") {
		lo, hi, step := field.min, field.max, 1

		base := piece
		if idx := strings.Index(piece, "/"); idx >= 0 {
			base = piece[:idx]
			s, err := strconv.Atoi(piece[idx+1:])
			if err != nil || s <= 0 {
				return nil, fmt.Errorf("cron: bad step in %s field %q", field.name, piece)
			}
			step = s
		}

		switch {
		case base == "*":
			// full range
		case strings.Contains(base, "-"):
			bounds := strings.SplitN(base, "-", 2)
			a, errA := strconv.Atoi(bounds[0])
			b, errB := strconv.Atoi(bounds[1])
			if errA != nil || errB != nil || a > b {
				return nil, fmt.Errorf("cron: bad range in %s field %q", field.name, piece)
			}
			lo, hi = a, b
		default:
			v, err := strconv.Atoi(base)
			if err != nil {
				return nil, fmt.Errorf("cron: bad value in %s field %q", field.name, piece)
			}
			lo, hi = v, v
		}

		if lo < field.min || hi > field.max {
			return nil, fmt.Errorf("cron: %s value out of range in %q", field.name, piece)
		}
		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("cron: empty %s field", field.name)
	}
	return set, nil
}

// Next returns the first matching time strictly after from. Matching
// follows the conventional cron rule: when both day-of-month and
// day-of-week are restricted, either may match.
func (c *CronSchedule) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	// Four years of minutes bounds the search well past any leap-year
	// corner.
	limit := from.AddDate(4, 0, 1)
	for t.Before(limit) {
		if !c.month[int(t.Month())] {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !c.hour[t.Hour()] {
			t = t.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if !c.minute[t.Minute()] {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

func (c *CronSchedule) dayMatches(t time.Time) bool {
	domRestricted := len(c.dom) != 31
	dowRestricted := len(c.dow) != 7
	domOK := c.dom[t.Day()]
	dowOK := c.dow[int(t.Weekday())]
	if domRestricted && dowRestricted {
		return domOK || dowOK
	}
	return domOK && dowOK
}
