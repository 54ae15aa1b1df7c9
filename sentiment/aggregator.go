package sentiment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"trade-insight/embedding"
	"trade-insight/vectorstore"
)

const (
	DefaultTopK    = 3
	DefaultWorkers = 5
)

// Searcher is the read side of the vector store
type Searcher interface {
	Search(query []float32, topK int) ([]vectorstore.Metadata, error)
}

// TickerSentiment is the aggregate for one ticker. Error is set when retrieval
// or every scoring attempt failed; Score is then 0.
type TickerSentiment struct {
	Ticker    string  `json:"ticker"`
	Score     float64 `json:"score"`
	Documents int     `json:"documents"`
	Scored    int     `json:"scored"`
	Error     string  `json:"error,omitempty"`
}

// Aggregator retrieves documents per ticker and averages their sentiment
type Aggregator struct {
	store    Searcher
	embedder embedding.Embedder
	scorer   Scorer
	topK     int
	workers  int
}

func NewAggregator(store Searcher, embedder embedding.Embedder, scorer Scorer, topK, workers int) *Aggregator {
	if topK < 1 {
		topK = DefaultTopK
	}
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Aggregator{store: store, embedder: embedder, scorer: scorer, topK: topK, workers: workers}
}

// Aggregate scores the documents retrieved for one ticker. No documents means a neutral 0.
func (a *Aggregator) Aggregate(ctx context.Context, ticker string) TickerSentiment {
	res := TickerSentiment{Ticker: ticker}

	query, err := a.embedder.Embed(ctx, embedding.TickerQuery(ticker))
	if err != nil {
		res.Error = fmt.Sprintf("embedding failed: %v", err)
		return res
	}
	docs, err := a.store.Search(query, a.topK)
	if err != nil {
		res.Error = fmt.Sprintf("retrieval failed: %v", err)
		return res
	}
	res.Documents = len(docs)
	if len(docs) == 0 {
		return res
	}

	var (
		sum     float64
		lastErr error
	)
	for _, doc := range docs {
		content, _ := doc["content"].(string)
		if strings.TrimSpace(content) == "" {
			continue
		}
		score, err := a.scorer.Score(ctx, content)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("ticker", ticker).Msg("Skipping document that could not be scored")
			continue
		}
		sum += score
		res.Scored++
	}

	if res.Scored == 0 {
		if lastErr != nil {
			res.Error = fmt.Sprintf("scoring failed: %v", lastErr)
		}
		return res
	}
	res.Score = sum / float64(res.Scored)
	return res
}

// AggregateAll runs Aggregate for every ticker with bounded parallelism.
// Results are keyed by ticker so completion order does not matter.
func (a *Aggregator) AggregateAll(ctx context.Context, tickers []string) map[string]TickerSentiment {
	out := make(map[string]TickerSentiment, len(tickers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, ticker := range tickers {
		g.Go(func() error {
			res := a.Aggregate(gctx, ticker)
			mu.Lock()
			out[ticker] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Int("tickers", len(tickers)).Int("workers", a.workers).Msg("Sentiment aggregated")
	return out
}

// Scores flattens results into ticker -> score
func Scores(results map[string]TickerSentiment) map[string]float64 {
	out := make(map[string]float64, len(results))
	for t, r := range results {
		out[t] = r.Score
	}
	return out
}
