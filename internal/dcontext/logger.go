// Package dcontext carries a structured logger through a context.Context,
// the same way the upstream registry threads request-scoped logging through
// its handler chain — adapted here to carry patch-engine fields (purl,
// ecosystem, phase) instead of HTTP request fields.
package dcontext

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultLogger   = logrus.StandardLogger().WithField("component", "patch-engine")
	defaultLoggerMu sync.RWMutex
)

// Logger is the leveled-logging surface the engine depends on.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)

	WithError(err error) *logrus.Entry
}

type loggerKey struct{}

// WithLogger attaches logger to ctx for downstream GetLogger calls.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithField returns ctx with its logger's field set extended by one entry.
func WithField(ctx context.Context, key string, value any) context.Context {
	return WithLogger(ctx, GetLogger(ctx).WithField(key, value))
}

// WithFields returns ctx with its logger's field set extended by fields.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return WithLogger(ctx, GetLogger(ctx).WithFields(fields))
}

// GetLogger returns the logger carried by ctx, or the package default if
// none was attached.
func GetLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok && entry != nil {
		return entry
	}
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the fallback logger used when no context
// logger has been attached.
func SetDefaultLogger(entry *logrus.Entry) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = entry
}

// Detached returns a context carrying the same logger as ctx but immune to
// ctx's cancellation — for cleanup that must run to completion after the
// caller abandons the parent operation.
func Detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
