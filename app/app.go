package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"trade-insight/advisor"
	"trade-insight/analysis"
	"trade-insight/api"
	"trade-insight/auth"
	"trade-insight/cache"
	"trade-insight/config"
	"trade-insight/database"
	"trade-insight/embedding"
	"trade-insight/ingest"
	"trade-insight/ledger"
	"trade-insight/llm"
	"trade-insight/market"
	"trade-insight/newsstore"
	"trade-insight/realtime"
	"trade-insight/sentiment"
	"trade-insight/vectorstore"
)

// App represents the main application
type App struct {
	config      *config.Config
	db          *database.Database
	repo        *database.Repository
	redis       *cache.RedisClient
	index       *vectorstore.Store
	archive     *newsstore.Store
	broker      *realtime.Broker
	pipeline    *advisor.Pipeline
	ingestor    *ingest.Ingestor
	scheduler   *ingest.Scheduler
	snapshotter *IndexSnapshotter
	server      *api.Server
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Init builds the components shared by every command. The vector index is
// loaded once here and lives for the whole process.
func (a *App) Init(ctx context.Context) error {
	cfg := a.config

	// 1. Vector index
	opts := vectorstore.Options{
		M:              cfg.VectorStore.M,
		EfConstruction: cfg.VectorStore.EfConstruction,
		EfSearch:       cfg.VectorStore.EfSearch,
	}
	index, loaded, err := vectorstore.LoadOrNew(cfg.VectorStore.Path, cfg.VectorStore.Dimension, opts)
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	a.index = index
	log.Info().
		Str("path", cfg.VectorStore.Path).
		Bool("loaded", loaded).
		Int("documents", index.Len()).
		Msg("Vector index ready")

	// 2. Embedding and sentiment
	embedder, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	var scorer sentiment.Scorer = sentiment.LexiconScorer{}
	if cfg.Sentiment.Endpoint != "" {
		scorer = sentiment.NewHTTPScorer(cfg.Sentiment.Endpoint, cfg.Sentiment.APIKey, cfg.Sentiment.Timeout)
	} else {
		log.Warn().Msg("No sentiment endpoint, using offline lexicon scorer")
	}
	agg := sentiment.NewAggregator(index, embedder, scorer, cfg.Sentiment.TopK, cfg.Sentiment.Workers)

	// 3. Market data
	var provider market.Provider
	if cfg.Market.APIKey != "" {
		client := market.NewEODHDClient(cfg.Market.APIKey,
			market.WithBaseURL(cfg.Market.Endpoint),
			market.WithRateLimit(cfg.Market.RateLimit),
			market.WithExchange(cfg.Market.Exchange),
		)
		provider = market.NewCachedProvider(client, cfg.Market.CacheTTL)
	} else {
		log.Warn().Msg("No market data API key, market summaries will report errors")
	}

	// 4. Recommendation generator
	var generator llm.RecommendationProvider
	if cfg.LLM.Enabled {
		generator, err = llm.NewProvider(ctx, cfg.LLM)
		if err != nil {
			log.Warn().Err(err).Str("provider", cfg.LLM.Provider).Msg("Recommendation generator unavailable")
			generator = nil
		} else {
			log.Info().Str("provider", generator.Name()).Msg("Recommendation generator enabled")
		}
	} else {
		log.Info().Msg("Recommendation generator disabled")
	}

	// 5. Redis advice cache
	if cfg.Redis.Host != "" {
		a.redis = cache.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
		if a.redis == nil {
			log.Warn().Msg("Redis connection failed. Advice caching disabled.")
		}
	}

	// 6. Progress events and pipeline
	a.broker = realtime.NewBroker()
	a.pipeline = advisor.NewPipeline(agg, provider, generator, advisor.Options{
		Clusters:   analysis.DefaultClusters,
		Seed:       analysis.DefaultSeed,
		LLMTimeout: cfg.LLM.Timeout,
		Market: market.SummaryOptions{
			HistoryDays:  cfg.Market.HistoryDays,
			Workers:      cfg.Market.Workers,
			FetchTimeout: cfg.Market.FetchTimeout,
		},
	}).WithEvents(a.broker)
	if a.redis != nil {
		a.pipeline.WithCache(cache.NewRecommendationCache(a.redis, cfg.Redis.RecommendTTL))
	}

	// 7. Article archive and ingestion
	if cfg.Ingest.ArchivePath != "" {
		archive, err := newsstore.Open(cfg.Ingest.ArchivePath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Ingest.ArchivePath).Msg("Article archive unavailable, duplicates will be re-indexed")
		} else {
			a.archive = archive
		}
	}
	a.ingestor = ingest.NewIngestor(provider, ingest.NewPageFetcher(cfg.Market.FetchTimeout), embedder, index, a.archive, ingest.Options{
		IndexPath:     cfg.VectorStore.Path,
		NewsPerTicker: cfg.Ingest.NewsPerTick,
		Workers:       cfg.Ingest.Workers,
	})
	return nil
}

// connectDatabase opens PostgreSQL and migrates the schema
func (a *App) connectDatabase() error {
	cfg := a.config.Database
	if !cfg.Enabled {
		return errors.New("database is disabled (DB_ENABLED=false)")
	}
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("Connecting to database")
	db, err := database.Connect(cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db
	if err := db.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	a.repo = database.NewRepository(db)
	return nil
}

// Start runs the HTTP service until interrupted
func (a *App) Start() error {
	if err := a.config.Validate(true); err != nil {
		return err
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Init(ctx); err != nil {
		return err
	}
	if err := a.connectDatabase(); err != nil {
		a.Close()
		return err
	}

	var wg sync.WaitGroup

	// Realtime broker
	realtime.SetAllowedOrigins(a.config.Server.AllowedOrigins)
	if a.redis != nil {
		relay := cache.NewEventRelay(a.redis, cache.EventsChannel)
		a.broker.SetForwarder(func(ev realtime.Event) {
			fctx, fcancel := context.WithTimeout(ctx, 2*time.Second)
			defer fcancel()
			if err := relay.Forward(fctx, ev); err != nil {
				log.Debug().Err(err).Str("event", ev.Type).Msg("Event relay publish failed")
			}
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx, a.broker.Deliver); err != nil {
				log.Warn().Err(err).Msg("Event relay stopped")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.broker.Run(ctx)
	}()

	// Periodic index snapshots
	a.snapshotter = NewIndexSnapshotter(a.index, a.ingestor.Persist, a.config.VectorStore.SnapshotEvery, a.index.Len())
	go a.snapshotter.Start()

	// Scheduled news ingestion
	if a.config.Ingest.Schedule != "" {
		tickers := a.config.Ingest.Tickers
		a.scheduler = ingest.NewScheduler(a.ingestor, func() []string { return tickers })
		a.scheduler.OnRun(func(r ingest.Report) {
			a.broker.Broadcast(realtime.EventIngestCompleted, "", r)
		})
		if err := a.scheduler.Start(a.config.Ingest.Schedule); err != nil {
			log.Error().Err(err).Str("schedule", a.config.Ingest.Schedule).Msg("Invalid ingestion schedule, scheduler disabled")
			a.scheduler = nil
		}
	}

	// API server
	authSvc := auth.NewService(a.config.Auth.JWTSecret, a.config.Auth.TokenExpiry)
	a.server = api.NewServer(a.config.Server, a.repo, a.pipeline, authSvc, a.broker)
	a.server.SetIngester(a.ingestor)
	a.server.SetIndexStats(a.index)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start(a.config.Server.Port)
	}()

	err := a.gracefulShutdown(cancel, serverErr)
	wg.Wait()
	return err
}

// gracefulShutdown waits for a signal or server failure, then stops everything with a timeout
func (a *App) gracefulShutdown(cancel context.CancelFunc, serverErr <-chan error) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	var runErr error
	select {
	case <-interrupt:
		log.Info().Msg("Shutdown signal received, initiating graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("API server failed: %w", err)
			log.Error().Err(err).Msg("API server stopped unexpectedly")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		defer close(shutdownComplete)

		// Cancelling first closes event streams so Shutdown does not wait on them
		cancel()
		if a.server != nil {
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Error shutting down API server")
			}
		}
		if a.scheduler != nil {
			a.scheduler.Stop()
		}
		// Stop writes the final index snapshot
		if a.snapshotter != nil {
			a.snapshotter.Stop()
		}
		a.Close()
	}()

	select {
	case <-shutdownComplete:
		log.Info().Msg("Graceful shutdown completed")
		return runErr
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing exit")
		return errors.New("shutdown timeout")
	}
}

// Close releases the archive, cache and database connections
func (a *App) Close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing article archive")
		}
		a.archive = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing redis")
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
		a.db = nil
	}
}

// AnalyzeFile runs the full pipeline over a ledger file without the HTTP layer
func (a *App) AnalyzeFile(ctx context.Context, path string) (advisor.RecommendationResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return advisor.RecommendationResult{}, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	res, err := ledger.ParseCSV(f)
	if err != nil {
		return advisor.RecommendationResult{}, fmt.Errorf("parse ledger: %w", err)
	}
	if len(res.Transactions) == 0 {
		return advisor.RecommendationResult{}, errors.New("ledger has no usable rows")
	}
	log.Info().
		Str("path", path).
		Int("transactions", len(res.Transactions)).
		Int("skipped", res.Skipped).
		Strs("tickers", ledger.Tickers(res.Transactions)).
		Msg("Ledger loaded")

	return a.pipeline.Run(ctx, res.Transactions), nil
}

// Ingest fetches and indexes news for tickers once
func (a *App) Ingest(ctx context.Context, tickers []string) ingest.Report {
	norm := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			norm = append(norm, t)
		}
	}
	return a.ingestor.Run(ctx, norm)
}
