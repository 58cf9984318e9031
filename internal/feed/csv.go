package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	"algo-trading-engine/internal/types"
)

var ist = time.FixedZone("IST", 19800)

// barRow is one CSV line of historical OHLCV data.
type barRow struct {
	Time   string  `csv:"time"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume int64   `csv:"volume"`
}

// timestamp layouts accepted in bar files, tried in order
var barTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseBarTime(s string) (time.Time, error) {
	for _, layout := range barTimeLayouts {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, ist); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// LoadBarsCSV reads <dir>/<SYMBOL>.csv for each instrument and returns
// bars sorted by time. Every instrument must have a file.
func LoadBarsCSV(dir string, instruments []types.Instrument) (map[string][]types.Bar, error) {
	out := make(map[string][]types.Bar, len(instruments))
	for _, in := range instruments {
		path := filepath.Join(dir, in.Symbol+".csv")
		bars, err := loadBarFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading bars for %s: %w", in.Symbol, err)
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("no bars in %s", path)
		}
		out[in.Symbol] = bars
	}
	return out, nil
}

func loadBarFile(path string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []barRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	bars := make([]types.Bar, 0, len(rows))
	for i, row := range rows {
		t, err := parseBarTime(row.Time)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		if row.High < row.Low {
			return nil, fmt.Errorf("%s row %d: high %.2f below low %.2f", path, i+2, row.High, row.Low)
		}
		bars = append(bars, types.Bar{
			Time:   t,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}
