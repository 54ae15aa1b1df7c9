package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/phuslu/log"

	"trade-insight/ledger"
)

const defaultMaxUploadBytes = 10 << 20

type uploadResponse struct {
	Message string   `json:"message"`
	Saved   int      `json:"saved"`
	Skipped int      `json:"skipped"`
	Tickers []string `json:"tickers"`
}

// handleUploadTrades parses a multipart "file" ledger and appends its rows to the user's trades
func (s *Server) handleUploadTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "File too large", nil)
			return
		}
		respondWithError(w, http.StatusBadRequest, "No file provided", nil)
		return
	}
	defer file.Close()

	res, err := ledger.ParseCSV(file)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Error parsing CSV: %v", err), nil)
		return
	}

	saved, err := s.store.SaveTransactions(r.Context(), userID, res.Transactions)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to store trade data", err)
		return
	}

	log.Info().
		Uint64("user_id", uint64(userID)).
		Int("saved", saved).
		Int("skipped", res.Skipped).
		Msg("Ledger uploaded")

	writeJSON(w, http.StatusOK, uploadResponse{
		Message: "Trade data uploaded successfully.",
		Saved:   saved,
		Skipped: res.Skipped,
		Tickers: ledger.Tickers(res.Transactions),
	})
}

// handleDeleteTrades clears the user's stored ledger
func (s *Server) handleDeleteTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := s.store.DeleteTransactions(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete trade data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Trade data deleted.", "deleted": n})
}
