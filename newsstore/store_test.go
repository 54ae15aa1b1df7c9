package newsstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Save(&Article{ID: "a1", Ticker: "aapl", Title: "Apple beats", Content: "body"}))

	a, err := s.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", a.Ticker)
	assert.False(t, a.FetchedAt.IsZero())

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists("a1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveRequiresID(t *testing.T) {
	assert.Error(t, openTest(t).Save(&Article{Ticker: "AAPL"}))
}

func TestByTickerNewestFirst(t *testing.T) {
	s := openTest(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.Save(&Article{ID: id, Ticker: "TSLA", PublishedAt: base.AddDate(0, 0, i)}))
	}
	require.NoError(t, s.Save(&Article{ID: "other", Ticker: "AAPL", PublishedAt: base}))

	got, err := s.ByTicker("tsla", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestUpsertReplaces(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Save(&Article{ID: "x", Ticker: "AAPL", Title: "v1"}))
	require.NoError(t, s.Save(&Article{ID: "x", Ticker: "AAPL", Title: "v2"}))
	a, err := s.Get("x")
	require.NoError(t, err)
	assert.Equal(t, "v2", a.Title)
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
