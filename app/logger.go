package app

import (
	"os"

	"github.com/phuslu/log"
)

// InitLogger configures the process logger. Terminals get colored console
// output unless asJSON is set; everything else gets JSON lines on stderr.
func InitLogger(level string, asJSON bool) {
	logger := log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
	}
	if !asJSON && log.IsTerminal(os.Stderr.Fd()) {
		logger.Writer = &log.ConsoleWriter{
			ColorOutput:    true,
			EndWithMessage: true,
			Writer:         os.Stderr,
		}
	} else {
		logger.TimeFormat = ""
		logger.Writer = &log.IOWriter{Writer: os.Stderr}
	}
	log.DefaultLogger = logger
}
