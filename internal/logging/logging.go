// Package logging configures the process-wide zap logger and hands out
// component-tagged children.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyRequestID  = "requestId"
	KeyOp         = "op"
	KeyRemote     = "remote"
	KeyDurationMs = "durationMs"
)

type contextKey struct{}

var (
	mu sync.RWMutex

	// level is shared by every core so loggers handed out earlier follow
	// later level changes
	level = zap.NewAtomicLevel()
	root  = build("console", os.Stderr)
)

// Init sets the level and replaces the global logger. Loggers already
// obtained from L keep their format and output but follow the new level.
// format: "json" or "console" (default "console")
// lvl: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr)
func Init(format, lvl string, output io.Writer) *zap.Logger {
	if output == nil {
		output = os.Stderr
	}

	SetLevel(lvl)
	logger := build(format, output)

	mu.Lock()
	root = logger
	mu.Unlock()

	zap.ReplaceGlobals(logger)
	return logger
}

// SetLevel changes the level of every logger handed out by this package.
func SetLevel(lvl string) {
	level.SetLevel(ParseLevel(lvl))
}

func build(format string, output io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(output), level)
	return zap.New(core)
}

// L returns a logger tagged with the given component name.
func L(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With(zap.String(KeyComponent, component))
}

// WithRequest returns a child logger carrying request correlation fields.
func WithRequest(logger *zap.Logger, requestID, op string) *zap.Logger {
	return logger.With(
		zap.String(KeyRequestID, requestID),
		zap.String(KeyOp, op),
	)
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the global one.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(contextKey{}).(*zap.Logger); ok {
		return l
	}
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
