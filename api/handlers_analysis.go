package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"trade-insight/advisor"
	"trade-insight/analysis"
	"trade-insight/database"
	"trade-insight/ledger"
)

// analysisResponse is the recommendation payload plus run bookkeeping
type analysisResponse struct {
	RunID string `json:"run_id"`
	advisor.RecommendationResult
	PersonalizedAdviceHTML string    `json:"personalized_advice_html,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

func newAnalysisResponse(runID string, res advisor.RecommendationResult, created time.Time) analysisResponse {
	out := analysisResponse{RunID: runID, RecommendationResult: res, CreatedAt: created}
	if !res.Failed() {
		out.PersonalizedAdviceHTML = renderMarkdown(res.PersonalizedAdvice)
	}
	return out
}

// handleAnalyze runs the pipeline over the user's stored ledger
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	txs, err := s.store.GetTransactions(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load trade data", err)
		return
	}
	if len(txs) == 0 {
		respondWithError(w, http.StatusBadRequest, "No trade data found. Please upload CSV first.", nil)
		return
	}

	runID := uuid.NewString()
	ctx := advisor.WithRunID(r.Context(), runID)
	result := s.analyzer.Run(ctx, txs)

	run := &database.AnalysisRun{
		ID:           runID,
		UserID:       userID,
		Tickers:      ledger.Tickers(txs),
		Transactions: len(txs),
		RoundTrips:   len(analysis.MatchRoundTrips(txs)),
		AdviceFailed: result.Failed(),
		CreatedAt:    time.Now().UTC(),
	}
	if payload, err := json.Marshal(result); err == nil {
		run.Result = payload
	}
	// History is best effort; the caller still gets the analysis
	if err := s.store.SaveAnalysisRun(r.Context(), run); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("Failed to record analysis run")
	}

	writeJSON(w, http.StatusOK, newAnalysisResponse(runID, result, run.CreatedAt))
}

// handleListAnalyses returns recent run summaries
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := getIntParam(r, "limit", 20, intPtr(1), intPtr(100))
	runs, err := s.store.ListAnalysisRuns(r.Context(), userID, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list analyses", err)
		return
	}
	if runs == nil {
		runs = []database.AnalysisRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": runs, "count": len(runs)})
}

// handleGetAnalysis returns one stored run with its full payload
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := uuid.Validate(id); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid analysis id", nil)
		return
	}

	run, err := s.store.GetAnalysisRun(r.Context(), userID, id)
	if err != nil {
		if database.IsNotFound(err) {
			respondWithError(w, http.StatusNotFound, "Analysis not found", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to load analysis", err)
		return
	}

	var result advisor.RecommendationResult
	if err := json.Unmarshal(run.Result, &result); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Stored analysis is unreadable", err)
		return
	}
	writeJSON(w, http.StatusOK, newAnalysisResponse(run.ID, result, run.CreatedAt))
}
