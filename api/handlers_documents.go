package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/phuslu/log"

	"trade-insight/embedding"
	"trade-insight/ingest"
	"trade-insight/realtime"
	"trade-insight/vectorstore"
)

type documentRequest struct {
	Ticker      string    `json:"ticker" validate:"required,max=16"`
	Title       string    `json:"title" validate:"max=500"`
	Content     string    `json:"content" validate:"required"`
	Link        string    `json:"link" validate:"omitempty,url"`
	PublishedAt time.Time `json:"published_at"`
}

type ingestRequest struct {
	Tickers []string `json:"tickers" validate:"required,min=1,max=50,dive,required,max=16"`
}

// handleAddDocument embeds one document into the vector store and persists the index
func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Document store not configured", nil)
		return
	}
	var req documentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	doc := ingest.Document{
		Ticker:      strings.ToUpper(strings.TrimSpace(req.Ticker)),
		Title:       req.Title,
		Content:     req.Content,
		Link:        req.Link,
		PublishedAt: req.PublishedAt,
	}
	doc.ID = ingest.DocumentID(doc.Ticker, doc.Link, doc.Title)

	if err := s.ingester.Index(r.Context(), doc); err != nil {
		switch {
		case errors.Is(err, ingest.ErrNoContent), errors.Is(err, embedding.ErrEmptyText):
			respondWithError(w, http.StatusBadRequest, "Document has no content", nil)
		case errors.Is(err, vectorstore.ErrDimensionMismatch):
			respondWithError(w, http.StatusInternalServerError, "Embedding does not match the index", err)
		default:
			respondWithError(w, http.StatusBadGateway, "Failed to index document", err)
		}
		return
	}
	if err := s.ingester.Persist(); err != nil {
		log.Error().Err(err).Str("id", doc.ID).Msg("Document indexed but index not saved")
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "Document indexed", "id": doc.ID})
}

// handleIngest fetches and indexes news for the requested tickers
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Document store not configured", nil)
		return
	}
	var req ingestRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	tickers := make([]string, 0, len(req.Tickers))
	for _, t := range req.Tickers {
		tickers = append(tickers, strings.ToUpper(strings.TrimSpace(t)))
	}

	report := s.ingester.Run(r.Context(), tickers)
	if s.broker != nil {
		s.broker.Broadcast(realtime.EventIngestCompleted, "", report)
	}
	writeJSON(w, http.StatusOK, report)
}
