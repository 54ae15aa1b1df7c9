package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"trade-insight/advisor"
	"trade-insight/auth"
	"trade-insight/config"
	"trade-insight/database"
	"trade-insight/ingest"
	"trade-insight/ledger"
	"trade-insight/realtime"
	"trade-insight/vectorstore"
)

// Store is the persistence the handlers need
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*database.User, error)
	GetUserByUsername(ctx context.Context, username string) (*database.User, error)
	SaveTransactions(ctx context.Context, userID uint, txs []ledger.Transaction) (int, error)
	GetTransactions(ctx context.Context, userID uint) ([]ledger.Transaction, error)
	DeleteTransactions(ctx context.Context, userID uint) (int64, error)
	SaveAnalysisRun(ctx context.Context, run *database.AnalysisRun) error
	GetAnalysisRun(ctx context.Context, userID uint, id string) (*database.AnalysisRun, error)
	ListAnalysisRuns(ctx context.Context, userID uint, limit int) ([]database.AnalysisRun, error)
}

// Analyzer runs the recommendation pipeline over a ledger
type Analyzer interface {
	Run(ctx context.Context, txs []ledger.Transaction) advisor.RecommendationResult
}

// Ingester adds documents to the vector store
type Ingester interface {
	Index(ctx context.Context, doc ingest.Document) error
	Persist() error
	Run(ctx context.Context, tickers []string) ingest.Report
}

// IndexStats exposes vector store counters
type IndexStats interface {
	Stats() vectorstore.Stats
}

// Server handles HTTP API requests
type Server struct {
	store    Store
	analyzer Analyzer
	ingester Ingester
	index    IndexStats
	auth     *auth.Service
	broker   *realtime.Broker
	validate *validator.Validate
	limiter  *rate.Limiter
	cfg      config.ServerConfig

	httpServer *http.Server
}

// NewServer creates a new API server instance. ingester and index may be nil
// when the process runs without a vector store.
func NewServer(cfg config.ServerConfig, store Store, analyzer Analyzer, authSvc *auth.Service, broker *realtime.Broker) *Server {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 30
	}
	return &Server{
		store:    store,
		analyzer: analyzer,
		auth:     authSvc,
		broker:   broker,
		validate: validator.New(),
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		cfg:      cfg,
	}
}

// SetIngester enables the document and ingest routes
func (s *Server) SetIngester(ing Ingester) {
	s.ingester = ing
}

// SetIndexStats enables the vector store stats route
func (s *Server) SetIndexStats(idx IndexStats) {
	s.index = idx
}

// Handler builds the routed and wrapped handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protected := s.auth.Middleware

	// Session routes
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	// Ledger routes
	mux.Handle("POST /api/trades/upload", protected(http.HandlerFunc(s.handleUploadTrades)))
	mux.Handle("DELETE /api/trades", protected(http.HandlerFunc(s.handleDeleteTrades)))
	mux.Handle("POST /upload_trades", protected(http.HandlerFunc(s.handleUploadTrades)))

	// Analysis routes
	mux.Handle("POST /api/analyze", protected(http.HandlerFunc(s.handleAnalyze)))
	mux.Handle("POST /analyze", protected(http.HandlerFunc(s.handleAnalyze)))
	mux.Handle("GET /api/analyses", protected(http.HandlerFunc(s.handleListAnalyses)))
	mux.Handle("GET /api/analyses/{id}", protected(http.HandlerFunc(s.handleGetAnalysis)))

	// Document store routes
	mux.Handle("POST /api/documents", protected(http.HandlerFunc(s.handleAddDocument)))
	mux.Handle("POST /api/ingest", protected(http.HandlerFunc(s.handleIngest)))
	mux.HandleFunc("GET /api/vectorstore/stats", s.handleVectorStoreStats)

	// Progress events
	if s.broker != nil {
		mux.Handle("GET /api/events", protected(s.broker))
		mux.Handle("GET /ws", protected(http.HandlerFunc(s.broker.ServeWS)))
	}

	mux.HandleFunc("GET /health", s.handleHealth)

	return s.corsMiddleware(s.loggingMiddleware(s.rateLimitMiddleware(mux)))
}

// Start starts the HTTP server on the specified port and blocks until it stops
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", s.httpServer.Addr).Msg("API server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, "*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.cfg.AllowedOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the connection to the websocket upgrader
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && !s.limiter.Allow() {
			respondWithError(w, http.StatusTooManyRequests, "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers are distributed across multiple files:
// - handlers_auth.go: register and login
// - handlers_trades.go: ledger upload and removal
// - handlers_analysis.go: analysis runs and history
// - handlers_documents.go: document indexing and news ingestion
// - handlers_config.go: health check and vector store stats
