package gate

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"fx-session-sentry/pkg/types"
)

const DefaultTimezone = "Asia/Singapore"

// Window a daily trading window [Start, End) in local hours.
type Window struct {
	Name  string
	Start int
	End   int
}

func (w Window) contains(hour int) bool { return hour >= w.Start && hour < w.End }

// Schedule trading windows in one time zone.
type Schedule struct {
	loc     *time.Location
	windows []Window
}

func DefaultWindows() []Window {
	return []Window{
		{Name: "London", Start: 15, End: 18},
		{Name: "New York", Start: 20, End: 23},
	}
}

func NewSchedule(tz string, specs []types.WindowSpec) (*Schedule, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", tz, err)
	}
	windows := make([]Window, 0, len(specs))
	for _, s := range specs {
		windows = append(windows, Window{Name: s.Name, Start: s.StartHour, End: s.EndHour})
	}
	if len(windows) == 0 {
		windows = DefaultWindows()
	}
	return &Schedule{loc: loc, windows: windows}, nil
}

// DefaultSchedule London 15:00-18:00 and New York 20:00-23:00 Singapore time.
func DefaultSchedule() *Schedule {
	s, err := NewSchedule(DefaultTimezone, nil)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schedule) Location() *time.Location { return s.loc }

// Active the window containing t, if any.
func (s *Schedule) Active(t time.Time) (Window, bool) {
	hour := t.In(s.loc).Hour()
	for _, w := range s.windows {
		if w.contains(hour) {
			return w, true
		}
	}
	return Window{}, false
}

// Next the next window opening strictly after t.
func (s *Schedule) Next(t time.Time) (Window, time.Time) {
	local := t.In(s.loc)
	var (
		best     Window
		bestTime time.Time
	)
	for day := 0; day <= 1; day++ {
		d := local.AddDate(0, 0, day)
		for _, w := range s.windows {
			open := time.Date(d.Year(), d.Month(), d.Day(), w.Start, 0, 0, 0, s.loc)
			if open.After(t) && (bestTime.IsZero() || open.Before(bestTime)) {
				best, bestTime = w, open
			}
		}
	}
	return best, bestTime
}

// Date calendar date of t in the session time zone; the gate resets counters when it changes.
func (s *Schedule) Date(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}
