package cmd

import (
	"bytes"
	"context"
	"flag"
	"testing"

	"github.com/google/subcommands"
	"github.com/stretchr/testify/assert"

	"trade-insight/advisor"
	"trade-insight/analysis"
	"trade-insight/market"
)

func TestPrintResult(t *testing.T) {
	last := 187.5
	res := advisor.Compose(
		analysis.PatternAnalysis{Clusters: map[string]analysis.ClusterStats{
			"1": {DurationMean: 12, ProfitMean: -40, ProfitCount: 2},
			"0": {DurationMean: 3, ProfitMean: 125.25, ProfitCount: 4},
		}},
		advisor.MarketContext{
			Prices: map[string]market.TickerSummary{
				"AAPL": {RecentClose: &last, DataPoints: 124},
				"ZZZZ": {Error: "no price data"},
			},
			Sentiment: map[string]float64{"AAPL": 0.42, "ZZZZ": 0},
		},
		"Hold winners longer.",
	)

	var buf bytes.Buffer
	printResult(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "cluster 0: 4 trades, 3.0 days avg, $125.25 avg profit")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("cluster 0")), bytes.Index(buf.Bytes(), []byte("cluster 1")))
	assert.Contains(t, out, "AAPL   close $187.50 (124 sessions), sentiment +0.420")
	assert.Contains(t, out, "ZZZZ   error: no price data")
	assert.Contains(t, out, "Hold winners longer.")
}

func TestPrintResultInsufficient(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, advisor.Compose(analysis.PatternAnalysis{Message: analysis.InsufficientDataMessage}, advisor.MarketContext{}, "x"))
	assert.Contains(t, buf.String(), analysis.InsufficientDataMessage)
}

func TestUsageErrors(t *testing.T) {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	assert.Equal(t, subcommands.ExitUsageError, (&analyzeCmd{}).Execute(context.Background(), fs))

	fs = flag.NewFlagSet("ingest", flag.ContinueOnError)
	assert.Equal(t, subcommands.ExitUsageError, (&ingestCmd{}).Execute(context.Background(), fs))
}

func TestRegister(t *testing.T) {
	c := subcommands.NewCommander(flag.NewFlagSet("trade-insight", flag.ContinueOnError), "trade-insight")
	Register(c)

	var names []string
	c.VisitCommands(func(_ *subcommands.CommandGroup, cmd subcommands.Command) {
		names = append(names, cmd.Name())
	})
	assert.ElementsMatch(t, []string{"serve", "analyze", "ingest"}, names)
}
