package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// ErrEmptyText is returned when asked to score blank content
var ErrEmptyText = errors.New("cannot score empty text")

// Scorer rates text in [-1, 1] as P(positive) - P(negative)
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// FromProbabilities computes the score from [negative, neutral, positive] probabilities
func FromProbabilities(p [3]float64) float64 {
	return p[2] - p[0]
}

// FromLogits applies softmax to [negative, neutral, positive] logits and scores the result
func FromLogits(logits [3]float64) float64 {
	maxLogit := math.Max(logits[0], math.Max(logits[1], logits[2]))
	var exp [3]float64
	var sum float64
	for i, l := range logits {
		exp[i] = math.Exp(l - maxLogit)
		sum += exp[i]
	}
	return FromProbabilities([3]float64{exp[0] / sum, exp[1] / sum, exp[2] / sum})
}

// HTTPScorer calls a three-class classifier served over HTTP.
// The service receives {"text": ...} and answers with labels and either probabilities or logits.
type HTTPScorer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPScorer(endpoint, apiKey string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
	Logits []float64 `json:"logits"`
}

// Score implements Scorer
func (s *HTTPScorer) Score(ctx context.Context, text string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyText
	}
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sentiment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("sentiment API error %d: %s", resp.StatusCode, string(msg))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode sentiment response: %w", err)
	}

	if len(out.Logits) > 0 {
		v, err := ordered(out.Labels, out.Logits)
		if err != nil {
			return 0, err
		}
		return FromLogits(v), nil
	}
	v, err := ordered(out.Labels, out.Scores)
	if err != nil {
		return 0, err
	}
	return FromProbabilities(v), nil
}

// ordered arranges values as [negative, neutral, positive]; without labels that order is assumed
func ordered(labels []string, values []float64) ([3]float64, error) {
	var out [3]float64
	if len(values) != 3 {
		return out, fmt.Errorf("expected 3 class values, got %d", len(values))
	}
	if len(labels) == 0 {
		copy(out[:], values)
		return out, nil
	}
	if len(labels) != 3 {
		return out, fmt.Errorf("expected 3 labels, got %d", len(labels))
	}
	for i, l := range labels {
		switch strings.ToLower(l) {
		case "negative":
			out[0] = values[i]
		case "neutral":
			out[1] = values[i]
		case "positive":
			out[2] = values[i]
		default:
			return out, fmt.Errorf("unknown sentiment label %q", l)
		}
	}
	return out, nil
}

// LexiconScorer is an offline scorer that counts finance polarity words and
// maps the counts onto three-class probabilities.
type LexiconScorer struct{}

var (
	positiveWords = wordSet("beat beats bullish gain gains growth surge surges rally rallies record profit profits upgrade upgraded outperform strong higher rise rises soar soars boost boosts optimistic exceeds exceeded")
	negativeWords = wordSet("miss misses bearish loss losses decline declines plunge plunges drop drops downgrade downgraded underperform weak lower fall falls slump slumps lawsuit recall recalls fraud pessimistic warning cut cuts")
)

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		out[w] = true
	}
	return out
}

// Score implements Scorer
func (LexiconScorer) Score(_ context.Context, text string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyText
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) })
	var pos, neg float64
	for _, w := range words {
		switch {
		case positiveWords[w]:
			pos++
		case negativeWords[w]:
			neg++
		}
	}
	// The neutral logit grows with unmatched words so sparse hits stay near zero
	neutral := math.Log1p(float64(len(words)) - pos - neg)
	return FromLogits([3]float64{neg, neutral, pos}), nil
}
