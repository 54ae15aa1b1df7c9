package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"trade-insight/app"
)

type serveCmd struct {
	port int
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the HTTP API, scheduled ingestion and index snapshots" }
func (*serveCmd) Usage() string {
	return `trade-insight serve [-port <port>]

  Loads the vector index once, connects to PostgreSQL and Redis, and serves
  the API until interrupted. The index is saved on shutdown.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.port, "port", 0, "HTTP port (defaults to PORT or 8000)")
}

func (c *serveCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg := loadConfig()
	if c.port > 0 {
		cfg.Server.Port = c.port
	}
	if err := app.New(cfg).Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
