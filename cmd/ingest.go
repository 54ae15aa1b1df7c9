package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"trade-insight/app"
)

type ingestCmd struct{}

func (*ingestCmd) Name() string     { return "ingest" }
func (*ingestCmd) Synopsis() string { return "fetch news for tickers and add it to the vector index" }
func (*ingestCmd) Usage() string {
	return `trade-insight ingest <ticker> [<ticker>...]

  Fetches recent news for each ticker, extracts article text, embeds it and
  saves the vector index. Tickers may also be comma separated.
`
}

func (*ingestCmd) SetFlags(*flag.FlagSet) {}

func (*ingestCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var tickers []string
	for _, arg := range f.Args() {
		tickers = append(tickers, strings.Split(arg, ",")...)
	}
	if len(tickers) == 0 {
		fmt.Fprintln(os.Stderr, "at least one ticker is required")
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

	report := a.Ingest(ctx, tickers)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if report.Indexed == 0 && len(report.Errors) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
