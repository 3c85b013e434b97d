package logger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field.
type Field = zapcore.Field

const redacted = "[REDACTED]"

// sensitiveKeys never reach the output, whatever level or logger they are
// attached through. Matching is case-insensitive.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"password":      {},
	"secret":        {},
	"api_key":       {},
	"database_url":  {},
	"jwt":           {},
	"bearer":        {},
	"credential":    {},
	"cookie":        {},
	"session_token": {},
	"email":         {},
	"full_name":     {},
}

// Logger is the service logger. Every entry carries the request scope of
// the context it was logged with plus a module and action.
type Logger struct {
	zap *zap.Logger
}

// New builds a JSON logger on stdout. level is one of debug, info, warn
// or error; anything else means info.
func New(serviceName, level string) (*Logger, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("serviceName is required")
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Encoding:         "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
	}

	// Skip log and the level method so caller points at the call site.
	z, err := cfg.Build(zap.WrapCore(redact), zap.AddCallerSkip(2))
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	return &Logger{zap: z.With(zap.String("service", serviceName))}, nil
}

// FromZap wraps an existing zap logger, adding redaction.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{zap: z.WithOptions(zap.WrapCore(redact))}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Module names the component emitting an entry.
func Module(name string) Field {
	return zap.String("module", name)
}

// Action names the operation being performed.
func Action(name string) Field {
	return zap.String("action", name)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, msg string, fields []Field) {
	ce := l.zap.Check(level, msg)
	if ce == nil {
		return
	}

	out := append(scopeFields(ctx), fields...)

	var hasModule, hasAction bool
	for _, f := range fields {
		switch f.Key {
		case "module":
			hasModule = true
		case "action":
			hasAction = true
		}
	}
	if !hasModule {
		out = append(out, Module("unknown"))
	}
	if !hasAction {
		out = append(out, Action("unknown"))
	}

	ce.Write(out...)
}

// redactingCore masks sensitive fields both on entries and on fields
// bound with With.
type redactingCore struct {
	zapcore.Core
}

func redact(core zapcore.Core) zapcore.Core {
	if _, ok := core.(redactingCore); ok {
		return core
	}
	return redactingCore{Core: core}
}

func (c redactingCore) With(fields []Field) zapcore.Core {
	return redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c redactingCore) Write(ent zapcore.Entry, fields []Field) error {
	return c.Core.Write(ent, redactFields(fields))
}

// redactFields copies fields only when something needs masking.
func redactFields(fields []Field) []Field {
	var out []Field
	for i, f := range fields {
		if _, ok := sensitiveKeys[strings.ToLower(f.Key)]; !ok {
			continue
		}
		if out == nil {
			out = make([]Field, len(fields))
			copy(out, fields)
		}
		out[i] = zap.String(f.Key, redacted)
	}
	if out == nil {
		return fields
	}
	return out
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
