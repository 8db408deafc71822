// Package logging wraps logrus with context-aware structured logging,
// following the service's established ContextLogger pattern: base fields
// accumulate through chainable With* calls, and request/user ids are
// pulled out of context.Context rather than threaded as parameters.
package logging

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// ctxKey namespaces context values this package reads and writes.
type ctxKey string

const (
	CtxRequestID ctxKey = "request_id"
	CtxUserID    ctxKey = "user_id"
)

// Config controls a constructed logger's level and format.
type Config struct {
	Level     string // debug|info|warn|error
	Format    string // json|text
	Service   string
	AddCaller bool
}

// DefaultConfig returns development-friendly defaults.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", AddCaller: false}
}

// New builds a *logrus.Logger per Config.
func New(cfg Config) *logrus.Logger {
	l := logrus.New()

	switch cfg.Level {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	l.SetReportCaller(cfg.AddCaller)
	return l
}

// ContextLogger carries a base field set and supports chainable enrichment.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger wraps logger with an initial field set.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

func (cl *ContextLogger) clone(add logrus.Fields) *ContextLogger {
	merged := make(logrus.Fields, len(cl.fields)+len(add))
	for k, v := range cl.fields {
		merged[k] = v
	}
	for k, v := range add {
		merged[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: merged}
}

// WithField returns a derived logger with one extra field.
func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	return cl.clone(logrus.Fields{key: value})
}

// WithFields returns a derived logger with several extra fields.
func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	add := make(logrus.Fields, len(fields))
	for k, v := range fields {
		add[k] = v
	}
	return cl.clone(add)
}

// WithError attaches an error field.
func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.WithField("error", err.Error())
}

// WithContext extracts request/user ids from ctx, if present.
func (cl *ContextLogger) WithContext(ctx context.Context) *ContextLogger {
	add := logrus.Fields{}
	if v := ctx.Value(CtxRequestID); v != nil {
		add["request_id"] = v
	}
	if v := ctx.Value(CtxUserID); v != nil {
		add["user_id"] = v
	}
	return cl.clone(add)
}

func (cl *ContextLogger) Debug(msg string) { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Info(msg string)  { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Warn(msg string)  { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Error(msg string) { cl.logger.WithFields(cl.fields).Error(msg) }

func (cl *ContextLogger) Debugf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Debugf(format, args...)
}
func (cl *ContextLogger) Infof(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Infof(format, args...)
}
func (cl *ContextLogger) Warnf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Warnf(format, args...)
}
func (cl *ContextLogger) Errorf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Errorf(format, args...)
}

// ServiceLogger builds a logger preloaded with service identity fields.
func ServiceLogger(logger *logrus.Logger, service, version string) *ContextLogger {
	return NewContextLogger(logger, map[string]interface{}{
		"service": service,
		"version": version,
	})
}

// LogOperation times fn, logging start/end/failure with duration fields.
func LogOperation(logger *ContextLogger, operation string, fn func() error) error {
	start := time.Now()
	logger.WithField("operation", operation).Info("operation started")

	err := fn()
	duration := time.Since(start)
	entry := logger.WithFields(map[string]interface{}{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})

	if err != nil {
		entry.WithError(err).Error("operation failed")
		return err
	}
	entry.Info("operation completed")
	return nil
}

// RecoverAndLog recovers a panic in the calling goroutine and logs it with
// a stack trace, so background loops never crash the process.
func RecoverAndLog(logger *ContextLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.WithFields(map[string]interface{}{
			"panic":      fmt.Sprintf("%v", r),
			"stacktrace": string(buf[:n]),
		}).Error("panic recovered")
	}
}
