package clock

import (
	"strconv"
	"strings"
	"time"

	"masar/queue-service/internal/models"
)

// Clock resolves the business date and work-hours gate in the office's fixed
// operating timezone. Now is a field so tests can pin the instant.
type Clock struct {
	Location *time.Location
	Now      func() time.Time
}

func New(timezone string) (*Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &Clock{Location: loc, Now: time.Now}, nil
}

// BusinessDate returns the current day as YYYY-MM-DD in the office timezone.
// It keys daily counter enablement and ticket sequences.
func (c *Clock) BusinessDate() string {
	return c.Now().In(c.Location).Format("2006-01-02")
}

func (c *Clock) MinutesSinceMidnight() int {
	now := c.Now().In(c.Location)
	return now.Hour()*60 + now.Minute()
}

// Weekday returns the current weekday with 0=Sunday .. 6=Saturday.
func (c *Clock) Weekday() int {
	return int(c.Now().In(c.Location).Weekday())
}

// WithinWorkHours gates kiosk availability and ticket issuance. Disabled work
// hours mean always open; an overnight range (start after end) wraps midnight.
func (c *Clock) WithinWorkHours(wh models.WorkHours) bool {
	if !wh.Enabled {
		return true
	}
	if len(wh.Days) > 0 {
		wd := c.Weekday()
		found := false
		for _, d := range wh.Days {
			if d == wd {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	start := parseHHMM(wh.StartTime)
	end := parseHHMM(wh.EndTime)
	now := c.MinutesSinceMidnight()
	if start <= end {
		return now >= start && now <= end
	}
	return now >= start || now <= end
}

// WeekdayOf returns 0=Sun..6=Sat for a YYYY-MM-DD business date, or -1 if the
// date does not parse.
func WeekdayOf(date string) int {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return -1
	}
	return int(t.Weekday())
}

func parseHHMM(value string) int {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1][:min(2, len(parts[1]))]))
	if err != nil {
		return 0
	}
	if h < 0 {
		h = 0
	}
	if h > 23 {
		h = 23
	}
	if m < 0 {
		m = 0
	}
	if m > 59 {
		m = 59
	}
	return h*60 + m
}
