package cli

import (
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger returns an slog logger backed by a charmbracelet handler writing
// to w. Verbose lowers the level to debug.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "optimist",
	})
	return slog.New(handler)
}
