// Package logging builds the process logger.
//
// Logs always go to stderr in the binaries: stdout carries the MCP protocol.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Service is attached to every log line
const Service = "threadqa"

// Formats accepted by New
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New returns a zerolog logger at level writing to out.
// Unknown levels fall back to info; unknown formats fall back to JSON.
func New(level, format, version string, out io.Writer) zerolog.Logger {
	w := out
	if strings.EqualFold(format, FormatConsole) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).With().Timestamp().Str("service", Service)
	if version != "" {
		ctx = ctx.Str("version", version)
	}
	logger := ctx.Logger()

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// Nop returns a logger that discards everything
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
