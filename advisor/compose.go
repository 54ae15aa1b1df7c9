package advisor

import (
	"maps"
	"strings"

	"trade-insight/analysis"
	"trade-insight/llm"
	"trade-insight/market"
	"trade-insight/sentiment"
)

// ErrorPrefix marks personalized advice that is a generation failure
const ErrorPrefix = "Error: "

// MarketContext is the per-ticker market and sentiment branch of an analysis
type MarketContext struct {
	Prices    map[string]market.TickerSummary      `json:"prices"`
	Sentiment map[string]float64                   `json:"sentiment"`
	Details   map[string]sentiment.TickerSentiment `json:"sentiment_details,omitempty"`
}

// RecommendationResult is the user-facing analysis payload
type RecommendationResult struct {
	TradePatterns      analysis.PatternAnalysis `json:"trade_patterns"`
	MarketSummary      MarketContext            `json:"market_summary"`
	PersonalizedAdvice string                   `json:"personalized_advice"`
}

// Failed reports whether the advice is an error string
func (r RecommendationResult) Failed() bool {
	return strings.HasPrefix(r.PersonalizedAdvice, ErrorPrefix)
}

// Compose assembles the final payload. It copies the context maps so the
// result never aliases caller state.
func Compose(patterns analysis.PatternAnalysis, mc MarketContext, advice string) RecommendationResult {
	out := MarketContext{
		Prices:    maps.Clone(mc.Prices),
		Sentiment: maps.Clone(mc.Sentiment),
		Details:   maps.Clone(mc.Details),
	}
	if out.Prices == nil {
		out.Prices = map[string]market.TickerSummary{}
	}
	if out.Sentiment == nil {
		out.Sentiment = map[string]float64{}
	}
	return RecommendationResult{
		TradePatterns:      patterns,
		MarketSummary:      out,
		PersonalizedAdvice: advice,
	}
}

// AdviceText turns a generation result into the advice string, error-prefixed on failure
func AdviceText(res llm.Result) string {
	if res.OK() {
		return res.Text
	}
	return ErrorPrefix + res.Err.Error()
}
