package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-insight/config"
)

func TestHashEmbedderDimensionAndNorm(t *testing.T) {
	e := NewHashEmbedder(384)
	vec, err := e.Embed(context.Background(), "Apple beats earnings expectations")
	require.NoError(t, err)
	require.Len(t, vec, 384)

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "Tesla recalls vehicles")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "tesla RECALLS vehicles!")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashEmbedderRejectsBlank(t *testing.T) {
	_, err := NewHashEmbedder(8).Embed(context.Background(), "  ... ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestNewFallsBackWithoutKey(t *testing.T) {
	e, err := New(context.Background(), config.EmbeddingConfig{Dimension: 768})
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, e)
	assert.Equal(t, 768, e.Dim())
}

func TestTickerQuery(t *testing.T) {
	assert.Contains(t, TickerQuery("aapl"), "AAPL")
}
