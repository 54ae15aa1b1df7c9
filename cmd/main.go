package cmd

import (
	"flag"
	"os"

	"github.com/google/subcommands"

	"trade-insight/app"
	"trade-insight/config"
)

// Register the subcommands.
func Register(c *subcommands.Commander) {
	c.Register(&serveCmd{}, "service")

	c.Register(&analyzeCmd{}, "pipeline")
	c.Register(&ingestCmd{}, "pipeline")
}

var configFile = flag.String("config", "", "Path to a TOML config file (overrides TRADE_INSIGHT_CONFIG)")
var logLevel = flag.String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")

// loadConfig reads configuration and sets up logging for a command
func loadConfig() *config.Config {
	if *configFile != "" {
		os.Setenv("TRADE_INSIGHT_CONFIG", *configFile)
	}
	cfg := config.LoadFromEnv()
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	app.InitLogger(cfg.Log.Level, cfg.Log.JSON)
	return cfg
}
