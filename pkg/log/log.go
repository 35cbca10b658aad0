// Package log provides the gateway's structured logger: a single
// zerolog.Logger configured from process environment, plus helpers for
// attaching per-request context (correlation id, principal, matched
// service) the way handlers across pkg/gateway, pkg/health and
// pkg/toolindex expect to find it.
package log

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level := zerolog.InfoLevel
	if lv, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("MCP_GATEWAY_LOG_LEVEL"))); err == nil {
		level = lv
	}

	var w zerolog.ConsoleWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if strings.EqualFold(os.Getenv("MCP_GATEWAY_LOG_FORMAT"), "json") {
		base = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
		return
	}
	base = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

type ctxKey string

const loggerKey ctxKey = "log.logger"

// Base returns the process-wide root logger.
func Base() *zerolog.Logger {
	return &base
}

// With returns a derived logger decorated with the given fields, without
// mutating the base logger.
func With(fields map[string]string) zerolog.Logger {
	ctx := base.With()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return ctx.Logger()
}

// IntoContext stores l in ctx for retrieval by FromContext.
func IntoContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger stashed by IntoContext, or the base
// logger if none was attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return &l
	}
	return &base
}
