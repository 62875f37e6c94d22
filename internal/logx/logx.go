// Package logx builds the process logger.
package logx

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"cafesync/pkg/types"
)

// New returns a root logger for cfg: a console writer for people at a
// terminal or JSON lines for collectors. Components derive children with a
// "component" field.
func New(cfg types.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := w
	if cfg.LogFormat != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", cfg.Service).
		Str("role", cfg.Role).
		Str("device", cfg.Name).
		Logger()
}
