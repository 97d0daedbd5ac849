package leadguard

import (
	"os"
	"time"

	"github.com/oarkflow/log"
)

// NewLogger builds the process logger. Pretty output is for local runs;
// production gets one JSON object per line.
func NewLogger(level string, pretty bool) *log.Logger {
	logger := &log.Logger{
		Level:      log.ParseLevel(level),
		TimeField:  "ts",
		TimeFormat: time.RFC3339,
	}
	if pretty {
		logger.Writer = &log.ConsoleWriter{
			ColorOutput:    true,
			EndWithMessage: true,
		}
	} else {
		logger.Writer = &log.IOWriter{Writer: os.Stdout}
	}
	return logger
}
