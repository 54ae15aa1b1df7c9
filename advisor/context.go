package advisor

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"trade-insight/analysis"
	"trade-insight/helpers"
)

// BuildContext renders the analysis as the text handed to the recommendation provider.
// Tickers are sorted so identical inputs produce identical text.
func BuildContext(patterns analysis.PatternAnalysis, mc MarketContext) string {
	var sb strings.Builder

	sb.WriteString("Trade patterns: ")
	writePatterns(&sb, patterns)
	sb.WriteString("\n")

	sb.WriteString("Market summary: ")
	tickers := slices.Sorted(maps.Keys(mc.Prices))
	if len(tickers) == 0 {
		sb.WriteString("none.")
	}
	for i, t := range tickers {
		if i > 0 {
			sb.WriteString("; ")
		}
		s := mc.Prices[t]
		switch {
		case s.Error != "":
			fmt.Fprintf(&sb, "%s: unavailable (%s)", t, s.Error)
		case s.RecentClose == nil:
			fmt.Fprintf(&sb, "%s: no recent prices", t)
		default:
			fmt.Fprintf(&sb, "%s: recent close %s over %d sessions", t, helpers.FormatUSD(*s.RecentClose), s.DataPoints)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("Aggregated sentiment scores: ")
	tickers = slices.Sorted(maps.Keys(mc.Sentiment))
	if len(tickers) == 0 {
		sb.WriteString("none.")
	}
	for i, t := range tickers {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %.3f", t, mc.Sentiment[t])
	}
	sb.WriteString("\n")
	return sb.String()
}

func writePatterns(sb *strings.Builder, p analysis.PatternAnalysis) {
	if p.Insufficient() {
		msg := p.Message
		if msg == "" {
			msg = analysis.InsufficientDataMessage
		}
		sb.WriteString(msg)
		return
	}

	ids := slices.Sorted(maps.Keys(p.Clusters))
	for i, id := range ids {
		if i > 0 {
			sb.WriteString("; ")
		}
		c := p.Clusters[id]
		fmt.Fprintf(sb, "cluster %s: %d trades, mean holding %.1f days, mean profit %s",
			id, c.ProfitCount, c.DurationMean, helpers.FormatUSD(c.ProfitMean))
	}
	sb.WriteString(".")

	if p.DataQuality != nil {
		if n := p.DataQuality.DateOrderViolations; n > 0 {
			fmt.Fprintf(sb, " %d trades closed before they opened.", n)
		}
		if n := p.DataQuality.UnclusteredTrades; n > 0 {
			fmt.Fprintf(sb, " %d trades lack dates and were not clustered.", n)
		}
	}
}
