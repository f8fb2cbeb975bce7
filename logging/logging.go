// Package logging builds the connection-owned *zap.Logger that grpcclient
// and grpcserver attach to each Client/Server, replacing a process-wide
// mutex-guarded sink with one logger per connection, named and tagged with
// that connection's own fields. Grounded on a sibling repository's use of
// zap.Logger in the retrieval pack (ozontech-framer's loader, which
// threads a *zap.Logger through its connection type and derives per-stream
// children via Named/With) rather than anything in opensraph-srpc itself,
// which has no structured logging at all.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger suitable for a long-lived connection: development
// encoding (human-readable, colorized level) below Info verbosity is noisy
// for a library, so New defaults to zap's production JSON encoder unless dev
// is true.
func New(level zapcore.Level, dev bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// Nop is the default logger for code that never received one via an
// explicit option: the connection still logs, it just discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// ForCall returns a child logger scoped to one RPC, named "call" and tagged
// with a "method" field holding the method it invokes, matching the pack's
// Named(...).With(...) convention for per-stream loggers.
func ForCall(base *zap.Logger, method string) *zap.Logger {
	return base.Named("call").With(zap.String("method", method))
}
