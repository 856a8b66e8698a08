package market

import (
	"fmt"
	"time"
)

// Window is an intraday session expressed as offsets from midnight in a
// fixed location. Both bounds are inclusive. A window whose start is after
// its end wraps midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
	Loc   *time.Location
}

// ParseWindow builds a window from "HH:MM" bounds. An empty start and end
// yields an all-day window.
func ParseWindow(start, end string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	if start == "" && end == "" {
		return Window{Start: 0, End: 24*time.Hour - time.Minute, Loc: loc}, nil
	}
	s, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	return Window{Start: s, End: e, Loc: loc}, nil
}

// Contains reports whether t falls inside the window, compared at minute
// resolution in the window's location.
func (w Window) Contains(t time.Time) bool {
	loc := w.Loc
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	offset := time.Duration(local.Hour())*time.Hour + time.Duration(local.Minute())*time.Minute
	if w.Start <= w.End {
		return offset >= w.Start && offset <= w.End
	}
	return offset >= w.Start || offset <= w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", clock(w.Start), clock(w.End))
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int((d%time.Hour)/time.Minute))
}
