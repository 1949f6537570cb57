// Package logging provides structured logging functionality using Zap and OpenTelemetry bridge
package logging

import (
	"context"
	"fmt"
	"os"
	"strings"

	"signal_trader/internal/core"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger outputs
type Options struct {
	Level       string
	ServiceName string

	// File enables a rotating JSON log file next to stdout
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ZapLogger implements the ILogger interface using zap.Logger
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger creates a stdout logger at the given level
func NewZapLogger(levelStr string) (*ZapLogger, error) {
	return NewZapLoggerWithOptions(Options{Level: levelStr})
}

// NewZapLoggerWithOptions creates a logger teed to stdout, the OTel log pipeline and an optional file
func NewZapLoggerWithOptions(opts Options) (*ZapLogger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil && opts.Level != "" {
		return nil, err
	}
	zapLevel := level.zap()

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			zapLevel,
		),
	}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    withDefault(opts.MaxSizeMB, 100),
			MaxBackups: withDefault(opts.MaxBackups, 5),
			MaxAge:     withDefault(opts.MaxAgeDays, 14),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotator),
			zapLevel,
		))
	}

	service := opts.ServiceName
	if service == "" {
		service = "signal_trader"
	}
	cores = append(cores, otelzap.NewCore(service, otelzap.WithLoggerProvider(global.GetLoggerProvider())))

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	return &ZapLogger{
		logger: logger,
	}, nil
}

func withDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Level is a log severity as written in config files
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levels = []struct {
	name string
	zap  zapcore.Level
}{
	DebugLevel: {"DEBUG", zap.DebugLevel},
	InfoLevel:  {"INFO", zap.InfoLevel},
	WarnLevel:  {"WARN", zap.WarnLevel},
	ErrorLevel: {"ERROR", zap.ErrorLevel},
	FatalLevel: {"FATAL", zap.FatalLevel},
}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "INFO"
	}
	return levels[l].name
}

func (l Level) zap() zapcore.Level {
	if l < DebugLevel || l > FatalLevel {
		return zap.InfoLevel
	}
	return levels[l].zap
}

// ParseLevel accepts DEBUG, INFO, WARN, ERROR or FATAL in any case
func ParseLevel(level string) (Level, error) {
	for l, def := range levels {
		if strings.EqualFold(level, def.name) {
			return Level(l), nil
		}
	}
	return InfoLevel, fmt.Errorf("invalid log level: %s", level)
}

// toZapFields pairs up key/value arguments. Decimals are written as
// strings so prices keep their precision; a trailing odd key is dropped.
func toZapFields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, toZapField(key, kv[i+1]))
	}
	return fields
}

func toZapField(key string, v interface{}) zap.Field {
	switch val := v.(type) {
	case decimal.Decimal:
		return zap.String(key, val.String())
	case error:
		return zap.NamedError(key, val)
	default:
		return zap.Any(key, v)
	}
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) { l.logger.Debug(msg, toZapFields(fields)...) }
func (l *ZapLogger) Info(msg string, fields ...interface{}) { l.logger.Info(msg, toZapFields(fields)...) }
func (l *ZapLogger) Warn(msg string, fields ...interface{}) { l.logger.Warn(msg, toZapFields(fields)...) }
func (l *ZapLogger) Error(msg string, fields ...interface{}) { l.logger.Error(msg, toZapFields(fields)...) }
func (l *ZapLogger) Fatal(msg string, fields ...interface{}) { l.logger.Fatal(msg, toZapFields(fields)...) }

func (l *ZapLogger) WithField(key string, value interface{}) core.ILogger {
	return &ZapLogger{logger: l.logger.With(toZapField(key, value))}
}

func (l *ZapLogger) WithFields(fields map[string]interface{}) core.ILogger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, toZapField(k, v))
	}
	return &ZapLogger{logger: l.logger.With(zapFields...)}
}

// WithTrace tags logger with the trace and span ids of the span in ctx, if any
func WithTrace(ctx context.Context, logger core.ILogger) core.ILogger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.WithFields(map[string]interface{}{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	})
}

// Sync flushes any buffered log entries
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

var globalLogger core.ILogger

func init() {
	globalLogger, _ = NewZapLogger("INFO")
}

// SetGlobalLogger replaces the process-wide logger
func SetGlobalLogger(logger core.ILogger) {
	globalLogger = logger
}

func GetGlobalLogger() core.ILogger {
	return globalLogger
}
