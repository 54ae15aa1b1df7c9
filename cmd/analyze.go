package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/google/subcommands"

	"trade-insight/advisor"
	"trade-insight/app"
	"trade-insight/helpers"
)

type analyzeCmd struct {
	asJSON bool
}

func (*analyzeCmd) Name() string     { return "analyze" }
func (*analyzeCmd) Synopsis() string { return "analyze a brokerage ledger CSV and print recommendations" }
func (*analyzeCmd) Usage() string {
	return `trade-insight analyze [-json] <ledger.csv>

  Runs the full pipeline over a ledger export without the HTTP service:
  round-trip matching, pattern clustering, market summary, news sentiment
  and generated advice.
`
}

func (c *analyzeCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "Print the full result as JSON")
}

func (c *analyzeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "exactly one ledger file is required")
		return subcommands.ExitUsageError
	}

	cfg := loadConfig()
	if err := cfg.Validate(false); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	a := app.New(cfg)
	if err := a.Init(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	res, err := a.AnalyzeFile(ctx, f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}
	printResult(os.Stdout, res)
	return subcommands.ExitSuccess
}

func printResult(w io.Writer, res advisor.RecommendationResult) {
	p := res.TradePatterns
	fmt.Fprintln(w, "Trade patterns")
	if p.Insufficient() {
		fmt.Fprintf(w, "  %s\n", p.Message)
	}
	for _, id := range slices.Sorted(maps.Keys(p.Clusters)) {
		cs := p.Clusters[id]
		fmt.Fprintf(w, "  cluster %s: %d trades, %.1f days avg, %s avg profit\n",
			id, cs.ProfitCount, cs.DurationMean, helpers.FormatUSD(cs.ProfitMean))
	}

	fmt.Fprintln(w, "\nMarket summary")
	for _, t := range slices.Sorted(maps.Keys(res.MarketSummary.Prices)) {
		s := res.MarketSummary.Prices[t]
		if s.Error != "" {
			fmt.Fprintf(w, "  %-6s error: %s\n", t, s.Error)
			continue
		}
		fmt.Fprintf(w, "  %-6s close %s (%d sessions), sentiment %+.3f\n",
			t, helpers.FormatUSDPtr(s.RecentClose), s.DataPoints, res.MarketSummary.Sentiment[t])
	}

	fmt.Fprintln(w, "\nAdvice")
	fmt.Fprintln(w, res.PersonalizedAdvice)
}
