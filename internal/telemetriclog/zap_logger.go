// Package telemetriclog provides a production logging.Logger backed by
// go.uber.org/zap, grounded on the pack's jordigilh-kubernaut go.mod
// (zap + go-logr/zapr wired together for controller-runtime compatibility);
// here zap is used directly since logging.Logger is this module's own
// interface, not logr's.
package telemetriclog

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wavecore/botdetect/internal/logging"
)

// ZapLogger adapts a *zap.Logger to logging.ComponentLogger.
type ZapLogger struct {
	base      *zap.Logger
	component string
}

// NewProduction builds a ZapLogger using zap's JSON production config, the
// default for any long-running service per the teacher's stack.
func NewProduction() (*ZapLogger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{base: base}, nil
}

// NewDevelopment builds a ZapLogger using zap's human-readable console
// config, for local development.
func NewDevelopment() (*ZapLogger, error) {
	base, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{base: base}, nil
}

// WithComponent returns a Logger tagged with component, implementing
// logging.ComponentLogger.
func (z *ZapLogger) WithComponent(component string) logging.Logger {
	return &ZapLogger{base: z.base, component: component}
}

func (z *ZapLogger) fieldsToZap(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	if z.component != "" {
		out = append(out, zap.String("component", z.component))
	}
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (z *ZapLogger) Info(msg string, fields map[string]interface{}) {
	z.base.Info(msg, z.fieldsToZap(fields)...)
}

func (z *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	z.base.Warn(msg, z.fieldsToZap(fields)...)
}

func (z *ZapLogger) Error(msg string, fields map[string]interface{}) {
	z.base.Error(msg, z.fieldsToZap(fields)...)
}

func (z *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	z.base.Debug(msg, z.fieldsToZap(fields)...)
}

func (z *ZapLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	z.withTrace(ctx, fields, zapcore.InfoLevel, msg)
}

func (z *ZapLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	z.withTrace(ctx, fields, zapcore.WarnLevel, msg)
}

func (z *ZapLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	z.withTrace(ctx, fields, zapcore.ErrorLevel, msg)
}

func (z *ZapLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	z.withTrace(ctx, fields, zapcore.DebugLevel, msg)
}

// requestIDKey is the context key under which request-scoped correlation
// IDs are stashed, mirroring the HTTP boundary's use of context for
// per-request RequestID propagation.
type requestIDKey struct{}

// ContextWithRequestID attaches a request ID for later log correlation.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func (z *ZapLogger) withTrace(ctx context.Context, fields map[string]interface{}, level zapcore.Level, msg string) {
	zf := z.fieldsToZap(fields)
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		zf = append(zf, zap.String("request_id", id))
	}
	if ce := z.base.Check(level, msg); ce != nil {
		ce.Write(zf...)
	}
}

// Sync flushes any buffered log entries, to be called on shutdown.
func (z *ZapLogger) Sync() error { return z.base.Sync() }
