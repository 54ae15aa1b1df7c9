package market

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHistoryDays = 180
	DefaultWorkers     = 5
)

// TickerSummary is the per-ticker market context. An empty history leaves
// RecentClose nil. When Error is set the ticker failed softly and only the
// error is reported.
type TickerSummary struct {
	RecentClose *float64 `json:"recent_close"`
	DataPoints  int      `json:"data_points"`
	Error       string   `json:"error,omitempty"`
}

func (s TickerSummary) MarshalJSON() ([]byte, error) {
	if s.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{s.Error})
	}
	type plain TickerSummary
	return json.Marshal(plain(s))
}

// SummaryOptions controls Summarize
type SummaryOptions struct {
	HistoryDays  int
	Workers      int
	FetchTimeout time.Duration
	Now          func() time.Time
}

func (o SummaryOptions) withDefaults() SummaryOptions {
	if o.HistoryDays <= 0 {
		o.HistoryDays = DefaultHistoryDays
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// SummarizeTicker fetches the history window for one ticker and reports the last close
func SummarizeTicker(ctx context.Context, p Provider, ticker string, opts SummaryOptions) TickerSummary {
	opts = opts.withDefaults()
	if opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.FetchTimeout)
		defer cancel()
	}

	end := opts.Now()
	start := end.AddDate(0, 0, -opts.HistoryDays)
	points, err := p.FetchPriceHistory(ctx, ticker, start, end)
	if err != nil {
		return TickerSummary{Error: err.Error()}
	}
	if len(points) == 0 {
		return TickerSummary{}
	}
	last := points[len(points)-1].Close.InexactFloat64()
	return TickerSummary{RecentClose: &last, DataPoints: len(points)}
}

// Summarize builds summaries for every ticker with a bounded worker pool.
// A failing ticker never affects the others.
func Summarize(ctx context.Context, p Provider, tickers []string, opts SummaryOptions) map[string]TickerSummary {
	opts = opts.withDefaults()
	out := make(map[string]TickerSummary, len(tickers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, ticker := range tickers {
		g.Go(func() error {
			s := SummarizeTicker(gctx, p, ticker, opts)
			if s.Error != "" {
				log.Warn().Str("ticker", ticker).Str("error", s.Error).Msg("Market data unavailable")
			}
			mu.Lock()
			out[ticker] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
