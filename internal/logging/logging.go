// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bainianlaoyao/stream-note/internal/config"
)

const (
	service    = "stream-note"
	permission = 0o664
)

// New returns a logger configured by cfg and a closer for the log file, if
// any. Without a file the logger writes to stderr.
func New(cfg config.Log) (zerolog.Logger, io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		w = zerolog.SyncWriter(f)
		closer = f
	}
	return NewWithWriter(w, cfg), closer, nil
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(w io.Writer, cfg config.Log) zerolog.Logger {
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05", NoColor: cfg.File != ""}
	}
	return zerolog.New(w).Level(ParseLevel(cfg.Level)).
		With().Timestamp().Str("service", service).Logger()
}

// ParseLevel maps debug, info, warn and error to zerolog levels. Anything
// else is info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
