package market

import (
	"errors"
	"fmt"
)

// ErrOutOfOrder is returned when a bar does not advance the clock.
var ErrOutOfOrder = errors.New("bar timestamp does not advance")

// Series keeps the most recent bars for lookback queries. Index 0 is the
// latest bar, 1 the bar before it, and so on.
type Series struct {
	bars     []Bar
	capacity int
}

// NewSeries creates a series retaining at least capacity bars.
func NewSeries(capacity int) *Series {
	if capacity < 3 {
		capacity = 3
	}
	return &Series{
		bars:     make([]Bar, 0, capacity*2),
		capacity: capacity,
	}
}

// Push appends a bar. Timestamps must be strictly increasing.
func (s *Series) Push(b Bar) error {
	if n := len(s.bars); n > 0 && !b.Time.After(s.bars[n-1].Time) {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, b.Time, s.bars[n-1].Time)
	}
	s.bars = append(s.bars, b)
	if len(s.bars) >= s.capacity*2 {
		keep := s.bars[len(s.bars)-s.capacity:]
		s.bars = append(s.bars[:0], keep...)
	}
	return nil
}

// Ago returns the bar n positions back from the latest one.
func (s *Series) Ago(n int) (Bar, bool) {
	idx := len(s.bars) - 1 - n
	if n < 0 || idx < 0 {
		return Bar{}, false
	}
	return s.bars[idx], true
}

// Current returns the latest bar.
func (s *Series) Current() (Bar, bool) { return s.Ago(0) }

// LowestLow returns the minimum low of the lookback bars that precede the
// latest skip bars. It fails when fewer than lookback such bars exist.
func (s *Series) LowestLow(lookback, skip int) (float64, bool) {
	window, ok := s.window(lookback, skip)
	if !ok {
		return 0, false
	}
	low := window[0].Low
	for _, b := range window[1:] {
		if b.Low < low {
			low = b.Low
		}
	}
	return low, true
}

// HighestHigh is the mirror of LowestLow.
func (s *Series) HighestHigh(lookback, skip int) (float64, bool) {
	window, ok := s.window(lookback, skip)
	if !ok {
		return 0, false
	}
	high := window[0].High
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
	}
	return high, true
}

func (s *Series) window(lookback, skip int) ([]Bar, bool) {
	if lookback <= 0 || skip < 0 {
		return nil, false
	}
	end := len(s.bars) - skip
	start := end - lookback
	if start < 0 || end > len(s.bars) {
		return nil, false
	}
	return s.bars[start:end], true
}
