// Package feed loads historical bars from CSV or parquet files.
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

// ErrNoBars is returned when a source holds no usable bars.
var ErrNoBars = errors.New("no bars")

// row is the on-disk parquet layout. Timestamps are unix milliseconds.
type row struct {
	Timestamp int64   `parquet:"t"`
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	Volume    float64 `parquet:"v"`
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04",
}

// Load reads bars from path, choosing the format by extension. The result
// is sorted by time with duplicate timestamps collapsed to the last row.
func Load(path string) ([]market.Bar, error) {
	var (
		bars []market.Bar
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		bars, err = loadParquet(path)
	default:
		bars, err = loadCSVFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return normalize(bars)
}

// Save writes bars to a parquet file.
func Save(path string, bars []market.Bar) error {
	rows := make([]row, len(bars))
	for i, b := range bars {
		rows[i] = row{
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func loadParquet(path string) ([]market.Bar, error) {
	rows, err := parquet.ReadFile[row](path)
	if err != nil {
		return nil, err
	}
	bars := make([]market.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, market.Bar{
			Time:   time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return bars, nil
}

func loadCSVFile(path string) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses bars from r. A UTF-8 or UTF-16 byte order mark is honoured.
// With a header row the columns are matched by name; without one the order
// is time, open, high, low, close and an optional volume.
func ReadCSV(r io.Reader) ([]market.Bar, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	cols := columns{time: 0, open: 1, high: 2, low: 3, close: 4, volume: 5}
	var bars []market.Bar
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		if line == 1 {
			if _, err := parseTime(rec[0]); err != nil {
				hc, err := headerColumns(rec)
				if err != nil {
					return nil, err
				}
				cols = hc
				continue
			}
		}
		b, err := cols.bar(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

type columns struct {
	time, open, high, low, close, volume int
}

func headerColumns(rec []string) (columns, error) {
	cols := columns{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}
	for i, name := range rec {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "time", "timestamp", "date", "datetime", "t":
			cols.time = i
		case "open", "o":
			cols.open = i
		case "high", "h":
			cols.high = i
		case "low", "l":
			cols.low = i
		case "close", "c":
			cols.close = i
		case "volume", "vol", "v", "tick_volume":
			cols.volume = i
		}
	}
	if cols.time < 0 || cols.open < 0 || cols.high < 0 || cols.low < 0 || cols.close < 0 {
		return cols, fmt.Errorf("header %v lacks time, open, high, low or close", rec)
	}
	return cols, nil
}

func (c columns) bar(rec []string) (market.Bar, error) {
	need := []int{c.time, c.open, c.high, c.low, c.close}
	for _, i := range need {
		if i >= len(rec) {
			return market.Bar{}, fmt.Errorf("expected at least %d fields, got %d", i+1, len(rec))
		}
	}
	ts, err := parseTime(rec[c.time])
	if err != nil {
		return market.Bar{}, err
	}
	var vals [4]float64
	for k, i := range need[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[k] = v
	}
	b := market.Bar{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3]}
	if c.volume >= 0 && c.volume < len(rec) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(rec[c.volume]), 64); err == nil {
			b.Volume = v
		}
	}
	return b, nil
}

// parseTime accepts unix seconds, unix milliseconds or one of timeLayouts in UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func normalize(bars []market.Bar) ([]market.Bar, error) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	out := bars[:0]
	for _, b := range bars {
		if b.High < b.Low || b.High < math.Max(b.Open, b.Close) || b.Low > math.Min(b.Open, b.Close) {
			return nil, fmt.Errorf("bar at %s: inconsistent OHLC %v/%v/%v/%v", b.Time, b.Open, b.High, b.Low, b.Close)
		}
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, ErrNoBars
	}
	return out, nil
}
