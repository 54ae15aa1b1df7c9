package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"trade-insight/advisor"
	"trade-insight/analysis"
	"trade-insight/auth"
	"trade-insight/config"
	"trade-insight/database"
	"trade-insight/ingest"
	"trade-insight/ledger"
	"trade-insight/realtime"
	"trade-insight/vectorstore"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type memStore struct {
	mu     sync.Mutex
	users  map[string]*database.User
	trades map[uint][]ledger.Transaction
	runs   map[string]*database.AnalysisRun
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[string]*database.User{},
		trades: map[uint][]ledger.Transaction{},
		runs:   map[string]*database.AnalysisRun{},
	}
}

func (m *memStore) CreateUser(_ context.Context, username, hash string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return nil, database.NewValidationErrorWithValue("username", "already exists", username)
	}
	u := &database.User{ID: uint(len(m.users) + 1), Username: username, PasswordHash: hash}
	m.users[username] = u
	return u, nil
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, database.NewNotFoundErrorWithID("user", username)
	}
	return u, nil
}

func (m *memStore) SaveTransactions(_ context.Context, userID uint, txs []ledger.Transaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[userID] = append(m.trades[userID], txs...)
	return len(txs), nil
}

func (m *memStore) GetTransactions(_ context.Context, userID uint) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades[userID], nil
}

func (m *memStore) DeleteTransactions(_ context.Context, userID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.trades[userID])
	delete(m.trades, userID)
	return int64(n), nil
}

func (m *memStore) SaveAnalysisRun(_ context.Context, run *database.AnalysisRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *memStore) GetAnalysisRun(_ context.Context, userID uint, id string) (*database.AnalysisRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok || run.UserID != userID {
		return nil, database.NewNotFoundErrorWithID("analysis run", id)
	}
	return run, nil
}

func (m *memStore) ListAnalysisRuns(_ context.Context, userID uint, _ int) ([]database.AnalysisRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.AnalysisRun
	for _, r := range m.runs {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type stubAnalyzer struct {
	advice string
	calls  int
	runID  string
}

func (a *stubAnalyzer) Run(ctx context.Context, txs []ledger.Transaction) advisor.RecommendationResult {
	a.calls++
	a.runID = advisor.RunIDFrom(ctx)
	return advisor.Compose(
		analysis.PatternAnalysis{Message: analysis.InsufficientDataMessage},
		advisor.MarketContext{Sentiment: map[string]float64{ledger.Tickers(txs)[0]: 0.25}},
		a.advice,
	)
}

type stubIngester struct {
	docs     []ingest.Document
	persists int
	err      error
}

func (s *stubIngester) Index(_ context.Context, doc ingest.Document) error {
	if s.err != nil {
		return s.err
	}
	s.docs = append(s.docs, doc)
	return nil
}

func (s *stubIngester) Persist() error {
	s.persists++
	return nil
}

func (s *stubIngester) Run(_ context.Context, tickers []string) ingest.Report {
	return ingest.Report{Tickers: len(tickers), Indexed: len(tickers)}
}

type stubStats struct{}

func (stubStats) Stats() vectorstore.Stats {
	return vectorstore.Stats{Documents: 7, Dimension: 384, M: 16}
}

type fixture struct {
	server   *Server
	handler  http.Handler
	store    *memStore
	analyzer *stubAnalyzer
	ingester *stubIngester
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		analyzer: &stubAnalyzer{advice: "**Hold** winners longer."},
		ingester: &stubIngester{},
	}
	cfg := config.ServerConfig{RateLimitRPS: 1000, RateLimitBurst: 1000}
	f.server = NewServer(cfg, f.store, f.analyzer, auth.NewService(testSecret, time.Hour), realtime.NewBroker())
	f.server.SetIngester(f.ingester)
	f.server.SetIndexStats(stubStats{})
	f.handler = f.server.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	creds := map[string]string{"username": "trader1", "password": "correct-horse"}
	rec := f.do(t, http.MethodPost, "/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/auth/login", "", creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (f *fixture) upload(t *testing.T, token, csv string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "ledger.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/trades/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	msg, _ := body["message"].(string)
	return msg
}

const sampleLedger = `Activity Date,Process Date,Settle Date,Instrument,Description,Trans Code,Quantity,Price,Amount
1/2/2024,1/2/2024,1/4/2024,AAPL,Apple Inc,BTO,10,$150.00,($1500.00)
1/9/2024,1/9/2024,1/11/2024,AAPL,Apple Inc,STC,10,$160.00,$1600.00
`

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)
	assert.NotEmpty(t, token)

	rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{"username": "trader1", "password": "another-pass"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Username already taken", message(t, rec))

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "trader1", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", message(t, rec))

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "nobody", "password": "whatever1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{"username": "trader1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing password", message(t, rec))

	rec = f.do(t, http.MethodPost, "/auth/register", "", map[string]string{"username": "trader1", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, message(t, rec), "at least 8")
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/trades/upload"},
		{http.MethodPost, "/api/analyze"},
		{http.MethodPost, "/analyze"},
		{http.MethodGet, "/api/analyses"},
		{http.MethodPost, "/api/documents"},
	} {
		rec := f.do(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
		assert.Equal(t, "Unauthorized", message(t, rec), tc.path)
	}
}

func TestUploadAndAnalyze(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/analyze", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No trade data found. Please upload CSV first.", message(t, rec))

	rec = f.upload(t, token, sampleLedger)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, "Trade data uploaded successfully.", up.Message)
	assert.Equal(t, 2, up.Saved)
	assert.Equal(t, []string{"AAPL"}, up.Tickers)

	rec = f.do(t, http.MethodPost, "/api/analyze", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "trade_patterns")
	assert.Contains(t, body, "market_summary")
	assert.Equal(t, "**Hold** winners longer.", body["personalized_advice"])
	assert.Contains(t, body["personalized_advice_html"], "<strong>Hold</strong>")

	runID, _ := body["run_id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, runID, f.analyzer.runID)

	// one matched round trip even though clustering had too little data
	f.store.mu.Lock()
	saved := f.store.runs[runID]
	f.store.mu.Unlock()
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.RoundTrips)
	assert.Equal(t, 2, saved.Transactions)

	rec = f.do(t, http.MethodGet, "/api/analyses/"+runID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stored analysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, runID, stored.RunID)
	assert.InDelta(t, 0.25, stored.MarketSummary.Sentiment["AAPL"], 1e-12)

	rec = f.do(t, http.MethodGet, "/api/analyses", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), runID)
}

func TestAnalyzeFailedAdviceHasNoHTML(t *testing.T) {
	f := newFixture(t)
	f.analyzer.advice = advisor.ErrorPrefix + "generator unavailable"
	token := f.login(t)
	require.Equal(t, http.StatusOK, f.upload(t, token, sampleLedger).Code)

	rec := f.do(t, http.MethodPost, "/api/analyze", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, strings.HasPrefix(body["personalized_advice"].(string), "Error: "))
	assert.NotContains(t, body, "personalized_advice_html")

	for _, run := range f.store.runs {
		assert.True(t, run.AdviceFailed)
	}
}

func TestUploadErrors(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	req := httptest.NewRequest(http.MethodPost, "/api/trades/upload", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file provided", message(t, rec))

	rec = f.upload(t, token, "Foo,Bar\n1,2\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(message(t, rec), "Error parsing CSV: "))
}

func TestDeleteTrades(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)
	require.Equal(t, http.StatusOK, f.upload(t, token, sampleLedger).Code)

	rec := f.do(t, http.MethodDelete, "/api/trades", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":2`)

	rec = f.do(t, http.MethodPost, "/api/analyze", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAnalysisNotFound(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	rec := f.do(t, http.MethodGet, "/api/analyses/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/analyses/6ba7b810-9dad-11d1-80b4-00c04fd430c8", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddDocument(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/documents", token, map[string]string{
		"ticker":  "aapl",
		"title":   "Apple beats",
		"content": "Apple reported record revenue.",
		"link":    "https://example.com/apple",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, f.ingester.docs, 1)
	assert.Equal(t, "AAPL", f.ingester.docs[0].Ticker)
	assert.Equal(t, ingest.DocumentID("AAPL", "https://example.com/apple", "Apple beats"), f.ingester.docs[0].ID)
	assert.Equal(t, 1, f.ingester.persists)

	rec = f.do(t, http.MethodPost, "/api/documents", token, map[string]string{"ticker": "AAPL"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.ingester.err = errors.New("embedding service down")
	rec = f.do(t, http.MethodPost, "/api/documents", token, map[string]string{"ticker": "AAPL", "content": "x y z"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestIngestRoute(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/ingest", token, map[string]any{"tickers": []string{"aapl", "msft"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report ingest.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Tickers)

	rec = f.do(t, http.MethodPost, "/api/ingest", token, map[string]any{"tickers": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndStats(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = f.do(t, http.MethodGet, "/api/vectorstore/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats vectorstore.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 7, stats.Documents)
	assert.Equal(t, 384, stats.Dimension)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t)
	f.server.limiter = rate.NewLimiter(0, 1)
	handler := f.server.Handler()

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vectorstore/stats", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	f.server.cfg.AllowedOrigins = []string{"https://app.example.com"}
	handler := f.server.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
