package advisor

import (
	"context"
	"errors"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"trade-insight/analysis"
	"trade-insight/ledger"
	"trade-insight/llm"
	"trade-insight/market"
	"trade-insight/realtime"
	"trade-insight/sentiment"
)

// ErrNoProvider is reported as advice when no recommendation provider is configured
var ErrNoProvider = errors.New("no recommendation provider configured")

// AdviceCache remembers advice per analysis context
type AdviceCache interface {
	Get(ctx context.Context, contextText string) (string, bool)
	Set(ctx context.Context, contextText, provider, advice string) error
}

// EventSink receives pipeline progress
type EventSink interface {
	Broadcast(event, runID string, payload any)
}

// Options tunes a Pipeline
type Options struct {
	Clusters   int
	Seed       int64
	LLMTimeout time.Duration
	Market     market.SummaryOptions
}

// Pipeline runs a full analysis: pattern branch, market and sentiment branch, advice, composition
type Pipeline struct {
	sentiment *sentiment.Aggregator
	market    market.Provider
	provider  llm.RecommendationProvider
	cache     AdviceCache
	events    EventSink
	opts      Options
}

func NewPipeline(agg *sentiment.Aggregator, mp market.Provider, provider llm.RecommendationProvider, opts Options) *Pipeline {
	if opts.Clusters <= 0 {
		opts.Clusters = analysis.DefaultClusters
	}
	if opts.Seed == 0 {
		opts.Seed = analysis.DefaultSeed
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 2 * time.Minute
	}
	return &Pipeline{sentiment: agg, market: mp, provider: provider, opts: opts}
}

// WithCache enables advice caching
func (p *Pipeline) WithCache(c AdviceCache) *Pipeline {
	p.cache = c
	return p
}

// WithEvents enables progress events
func (p *Pipeline) WithEvents(sink EventSink) *Pipeline {
	p.events = sink
	return p
}

type runIDKey struct{}

// WithRunID tags ctx with an analysis run id used on progress events
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id carried by ctx, if any
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

func (p *Pipeline) emit(ctx context.Context, event string, payload any) {
	if p.events != nil {
		p.events.Broadcast(event, RunIDFrom(ctx), payload)
	}
}

// Analyze runs both branches without generating advice
func (p *Pipeline) Analyze(ctx context.Context, txs []ledger.Transaction) (analysis.PatternAnalysis, MarketContext) {
	trades := analysis.MatchRoundTrips(txs)
	patterns := analysis.Cluster(trades, p.opts.Clusters, p.opts.Seed)
	if q := patterns.DataQuality; q != nil && q.DateOrderViolations > 0 {
		log.Warn().
			Int("violations", q.DateOrderViolations).
			Int("trades", len(trades)).
			Msg("Round trips closed before they opened")
	}
	p.emit(ctx, realtime.EventPatterns, patterns)

	tickers := ledger.Tickers(txs)
	mc := MarketContext{
		Prices:    make(map[string]market.TickerSummary, len(tickers)),
		Sentiment: make(map[string]float64, len(tickers)),
	}

	// the branches write disjoint fields
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if p.sentiment == nil {
			for _, t := range tickers {
				mc.Sentiment[t] = 0
			}
			return nil
		}
		details := p.sentiment.AggregateAll(gctx, tickers)
		mc.Details = details
		mc.Sentiment = sentiment.Scores(details)
		return nil
	})
	g.Go(func() error {
		if p.market == nil {
			for _, t := range tickers {
				mc.Prices[t] = market.TickerSummary{Error: "market data provider not configured"}
			}
			return nil
		}
		mc.Prices = market.Summarize(gctx, p.market, tickers, p.opts.Market)
		return nil
	})
	_ = g.Wait()

	p.emit(ctx, realtime.EventSentiment, mc.Sentiment)
	p.emit(ctx, realtime.EventMarketSummary, mc.Prices)
	return patterns, mc
}

// Advise produces advice text for a context. Failures come back error-prefixed.
func (p *Pipeline) Advise(ctx context.Context, contextText string) string {
	if p.provider == nil {
		return ErrorPrefix + ErrNoProvider.Error()
	}
	if p.cache != nil {
		if advice, ok := p.cache.Get(ctx, contextText); ok {
			log.Debug().Str("provider", p.provider.Name()).Msg("Advice cache hit")
			return advice
		}
	}

	var callback llm.StreamCallback
	if p.events != nil {
		runID := RunIDFrom(ctx)
		callback = func(chunk string) error {
			p.events.Broadcast(realtime.EventAdviceChunk, runID, chunk)
			return nil
		}
	}

	res := llm.GenerateStreaming(ctx, p.provider, contextText, p.opts.LLMTimeout, callback)
	if res.OK() && p.cache != nil {
		if err := p.cache.Set(ctx, contextText, p.provider.Name(), res.Text); err != nil {
			log.Debug().Err(err).Msg("Advice not cached")
		}
	}
	return AdviceText(res)
}

// Run executes the whole analysis and always returns a complete payload
func (p *Pipeline) Run(ctx context.Context, txs []ledger.Transaction) RecommendationResult {
	start := time.Now()
	p.emit(ctx, realtime.EventRunStarted, map[string]any{"transactions": len(txs)})

	patterns, mc := p.Analyze(ctx, txs)
	advice := p.Advise(ctx, BuildContext(patterns, mc))
	result := Compose(patterns, mc, advice)

	p.emit(ctx, realtime.EventRunCompleted, result)
	log.Info().
		Int("transactions", len(txs)).
		Int("tickers", len(mc.Prices)).
		Bool("advice_failed", result.Failed()).
		Dur("elapsed", time.Since(start)).
		Msg("Analysis completed")
	return result
}
