package runlog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ist = time.FixedZone("IST", 19800)

var mu sync.Mutex

// FillEntry is one executed fill, appended to the daily fills file.
type FillEntry struct {
	Time       string         `json:"time"`
	RunID      string         `json:"run_id"`
	Symbol     string         `json:"symbol"`
	Side       string         `json:"side"`
	Qty        int            `json:"qty"`
	Price      float64        `json:"price"`
	Commission float64        `json:"commission"`
	OrderID    string         `json:"order_id"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// TradeEntry is one closed round trip, appended to the daily trades file.
type TradeEntry struct {
	Time     string  `json:"time"`
	RunID    string  `json:"run_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Qty      int     `json:"qty"`
	Entry    float64 `json:"entry"`
	Exit     float64 `json:"exit"`
	PnL      float64 `json:"pnl"`
	Charges  float64 `json:"charges"`
	NetPnL   float64 `json:"net_pnl"`
	Duration string  `json:"duration,omitempty"`
}

// EventEntry records session lifecycle events (start, stop, crash, risk
// rejections).
type EventEntry struct {
	Time   string         `json:"time"`
	RunID  string         `json:"run_id"`
	Kind   string         `json:"kind"`
	Detail string         `json:"detail,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

func logDir() string {
	if v := os.Getenv("ENGINE_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func dailyFilepath(sub string, t time.Time) string {
	d := t.In(ist).Format("2006-01-02")
	if sub == "" {
		return filepath.Join(logDir(), d+".txt")
	}
	return filepath.Join(logDir(), sub, d+".txt")
}

func appendJSON(path string, v any) error {
	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, _ := json.Marshal(v)
	_, err = fmt.Fprintln(f, string(b))
	return err
}

func AppendFill(e FillEntry) error {
	now := time.Now().In(ist)
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendJSON(dailyFilepath("", now), e)
}

func AppendTrade(e TradeEntry) error {
	now := time.Now().In(ist)
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendJSON(dailyFilepath("trades", now), e)
}

func AppendEvent(e EventEntry) error {
	now := time.Now().In(ist)
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendJSON(dailyFilepath("events", now), e)
}

// CompressOlder gzips daily files older than retentionDays and removes the
// originals. A zero or negative retention disables compression.
func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	root := logDir()
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(p) != ".txt" {
			return nil
		}
		info, er := os.Stat(p)
		if er != nil {
			return nil
		}
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		if info.ModTime().Before(cutoff) {
			gz := p + ".gz"
			if _, e2 := os.Stat(gz); e2 == nil {
				_ = os.Remove(p)
				return nil
			}

			in, e3 := os.Open(p)
			if e3 != nil {
				return nil
			}
			defer in.Close()

			out, e4 := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if e4 != nil {
				return nil
			}
			gw := gzip.NewWriter(out)
			if _, e5 := io.Copy(gw, in); e5 == nil {
				_ = gw.Close()
				_ = out.Close()
				_ = os.Remove(p)
			} else {
				_ = gw.Close()
				_ = out.Close()
			}
		}
		return nil
	})
}
