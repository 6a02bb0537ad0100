// Package dcontext carries a structured logger on a context.Context so
// request-scoped fields thread through the handler chain.
package dcontext

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultLogger   *logrus.Entry = logrus.StandardLogger().WithField("go.version", runtime.Version())
	defaultLoggerMu sync.RWMutex
)

// Logger is a leveled logging interface satisfied by *logrus.Entry.
type Logger interface {
	Print(args...any)
	Printf(format string, args...any)
	Println(args...any)

	Debug(args...any)
	Debugf(format string, args...any)

	Info(args...any)
	Infof(format string, args...any)

	Warn(args...any)
	Warnf(format string, args...any)

	Error(args...any)
	Errorf(format string, args...any)

	WithError(err error) *logrus.Entry
	WithField(key string, value any) *logrus.Entry
}

type loggerKey struct{}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithField returns a context whose logger has the given field attached.
func WithField(ctx context.Context, key string, value any) context.Context {
	return WithLogger(ctx, GetLogger(ctx).WithField(key, fmt.Sprint(value)))
}

// GetLogger returns the logger carried on ctx, or the default logger.
func GetLogger(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}

	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the package-level fallback logger, used once at
// process start by cmd/converge-server.
func SetDefaultLogger(logger *logrus.Entry) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = logger
}
