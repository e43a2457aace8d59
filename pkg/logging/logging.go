// Package logging provides the process-wide structured logger used across
// the node: one zerolog.Logger, injected into package constructors the same
// way the teacher injects *log.Logger into pkg/database.Client.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w at the given level ("debug",
// "info", "warn", "error"). An empty or unrecognized level defaults to info.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Nop returns a logger that discards all output, used as the default for
// packages constructed without an explicit logger.
func Nop() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// Default is a convenience process-wide logger writing to stderr at info
// level, used by components that are not given an explicit one.
var Default = New(os.Stderr, "info")
