package sentiment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-insight/embedding"
	"trade-insight/vectorstore"
)

type stubStore struct {
	docs []vectorstore.Metadata
	err  error
}

func (s stubStore) Search(_ []float32, topK int) ([]vectorstore.Metadata, error) {
	if s.err != nil {
		return nil, s.err
	}
	if topK < len(s.docs) {
		return s.docs[:topK], nil
	}
	return s.docs, nil
}

type mapScorer struct {
	scores map[string]float64
	calls  atomic.Int32
}

func (m *mapScorer) Score(_ context.Context, text string) (float64, error) {
	m.calls.Add(1)
	if text == "" {
		return 0, ErrEmptyText
	}
	v, ok := m.scores[text]
	if !ok {
		return 0, errors.New("unscorable")
	}
	return v, nil
}

func TestFromLogits(t *testing.T) {
	assert.InDelta(t, 0.0, FromLogits([3]float64{1, 1, 1}), 1e-12)
	assert.Greater(t, FromLogits([3]float64{0, 0, 5}), 0.9)
	assert.Less(t, FromLogits([3]float64{5, 0, 0}), -0.9)
	assert.InDelta(t, 0.5, FromProbabilities([3]float64{0.1, 0.3, 0.6}), 1e-12)
}

func TestAggregateMean(t *testing.T) {
	scorer := &mapScorer{scores: map[string]float64{"a": 0.6, "b": -0.2, "c": 0.2}}
	store := stubStore{docs: []vectorstore.Metadata{
		{"content": "a"}, {"content": "b"}, {"content": "c"}, {"content": "ignored beyond top k"},
	}}
	agg := NewAggregator(store, embedding.NewHashEmbedder(8), scorer, 3, 5)

	res := agg.Aggregate(context.Background(), "AAPL")
	assert.Empty(t, res.Error)
	assert.Equal(t, 3, res.Documents)
	assert.Equal(t, 3, res.Scored)
	assert.InDelta(t, 0.2, res.Score, 1e-12)
}

func TestAggregateNoDocumentsIsNeutral(t *testing.T) {
	scorer := &mapScorer{}
	agg := NewAggregator(stubStore{}, embedding.NewHashEmbedder(8), scorer, 3, 5)

	res := agg.Aggregate(context.Background(), "AAPL")
	assert.Equal(t, 0.0, res.Score)
	assert.Empty(t, res.Error)
	assert.Equal(t, int32(0), scorer.calls.Load())
}

func TestAggregateSkipsEmptyContent(t *testing.T) {
	scorer := &mapScorer{scores: map[string]float64{"good": 0.8}}
	store := stubStore{docs: []vectorstore.Metadata{{"content": ""}, {"title": "no content"}, {"content": "good"}}}
	agg := NewAggregator(store, embedding.NewHashEmbedder(8), scorer, 3, 5)

	res := agg.Aggregate(context.Background(), "AAPL")
	assert.InDelta(t, 0.8, res.Score, 1e-12)
	assert.Equal(t, int32(1), scorer.calls.Load())
}

func TestAggregateRetrievalFailureIsSoft(t *testing.T) {
	agg := NewAggregator(stubStore{err: errors.New("index offline")}, embedding.NewHashEmbedder(8), &mapScorer{}, 3, 5)
	res := agg.Aggregate(context.Background(), "AAPL")
	assert.Equal(t, 0.0, res.Score)
	assert.Contains(t, res.Error, "index offline")
}

func TestAggregateAllWithRealStore(t *testing.T) {
	emb := embedding.NewHashEmbedder(32)
	store, err := vectorstore.New(32)
	require.NoError(t, err)

	for _, text := range []string{"Apple profits surge on record growth", "Apple shares plunge after weak guidance"} {
		vec, err := emb.Embed(context.Background(), text)
		require.NoError(t, err)
		_, err = store.Add(vec, vectorstore.Metadata{"ticker": "AAPL", "content": text})
		require.NoError(t, err)
	}

	agg := NewAggregator(store, emb, LexiconScorer{}, 3, 2)
	tickers := []string{"AAPL", "MSFT", "TSLA", "NVDA", "AMZN", "META", "GOOG"}
	res := agg.AggregateAll(context.Background(), tickers)

	require.Len(t, res, len(tickers))
	for _, tk := range tickers {
		assert.Equal(t, tk, res[tk].Ticker)
		assert.Equal(t, 2, res[tk].Documents)
		assert.GreaterOrEqual(t, res[tk].Score, -1.0)
		assert.LessOrEqual(t, res[tk].Score, 1.0)
	}
	assert.Len(t, Scores(res), len(tickers))
}

func TestHTTPScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"labels":["positive","negative","neutral"],"scores":[0.7,0.1,0.2]}`)
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, "", time.Second)
	score, err := s.Score(context.Background(), "strong quarter")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, score, 1e-12)

	_, err = s.Score(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestHTTPScorerLogits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"logits":[2.0,2.0,2.0]}`)
	}))
	defer srv.Close()

	score, err := NewHTTPScorer(srv.URL, "", time.Second).Score(context.Background(), "flat")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, score, 1e-12)
}

func TestHTTPScorerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPScorer(srv.URL, "", time.Second).Score(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestLexiconScorer(t *testing.T) {
	var s LexiconScorer
	pos, err := s.Score(context.Background(), "Shares surge as profits beat estimates")
	require.NoError(t, err)
	neg, err := s.Score(context.Background(), "Shares plunge after the company misses estimates and issues a warning")
	require.NoError(t, err)
	assert.Greater(t, pos, 0.0)
	assert.Less(t, neg, 0.0)
}
