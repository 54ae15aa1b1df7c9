package embedding

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/phuslu/log"
	"google.golang.org/genai"

	"trade-insight/config"
)

// ErrEmptyText is returned for blank input
var ErrEmptyText = errors.New("text cannot be empty for embedding generation")

// Embedder turns text into a fixed-dimension vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// GeminiEmbedder calls the Gemini embedding endpoint with a fixed output dimensionality
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGeminiEmbedder creates a Gemini-backed embedder
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dim int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	log.Info().Str("model", model).Int("dimension", dim).Msg("Gemini embedder initialized")
	return &GeminiEmbedder{client: client, model: model, dim: dim}, nil
}

func (g *GeminiEmbedder) Dim() int { return g.dim }

// Embed implements Embedder
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()
	outputDim := int32(g.dim)
	result, err := g.client.Models.EmbedContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &outputDim})
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	var vec []float32
	if result != nil && len(result.Embeddings) > 0 {
		vec = result.Embeddings[0].Values
	}
	if vec == nil {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	if len(vec) != g.dim {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", g.dim, len(vec))
	}
	log.Debug().Int("chars", len(text)).Dur("elapsed", time.Since(start)).Msg("Embedding generated")
	return vec, nil
}

// HashEmbedder is an offline embedder using signed feature hashing over
// lowercase word unigrams and bigrams. Output is L2 normalized.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder { return &HashEmbedder{dim: dim} }

func (h *HashEmbedder) Dim() int { return h.dim }

// Embed implements Embedder
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil, ErrEmptyText
	}

	vec := make([]float32, h.dim)
	add := func(token string, weight float32) {
		hasher := fnv.New64a()
		hasher.Write([]byte(token))
		sum := hasher.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// New picks the Gemini embedder when a key is configured and falls back to hashing otherwise
func New(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	if cfg.APIKey == "" {
		log.Warn().Int("dimension", cfg.Dimension).Msg("No embedding API key, using offline hash embedder")
		return NewHashEmbedder(cfg.Dimension), nil
	}
	return NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimension)
}

// TickerQuery is the retrieval text used to find documents about a ticker
func TickerQuery(ticker string) string {
	return fmt.Sprintf("Latest news, earnings and market sentiment for %s stock", strings.ToUpper(ticker))
}
