package utils

import (
	"os"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerOptions configures the structured logger
type LoggerOptions struct {
	Level      string // debug, info, warn, error
	Format     string // "json" or "text"
	File       string // optional rolling file, always JSON
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is a structured logger taking map context, backed by zap
type Logger struct {
	zl *zap.Logger
}

// NewLogger creates a new logger instance writing to stdout and optionally a rolling file
func NewLogger(opts LoggerOptions) *Logger {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var consoleEncoder zapcore.Encoder
	if opts.Format == "text" {
		consoleEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	}
	core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level)

	if opts.File != "" {
		rolling := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rolling), level)
		core = zapcore.NewTee(core, fileCore)
	}

	return &Logger{zl: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.DPanicLevel))}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// NewLoggerFromZap wraps an existing zap logger
func NewLoggerFromZap(zl *zap.Logger) *Logger {
	return &Logger{zl: zl}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.zl.Debug(message, fields(context)...)
}

// Info logs an info message
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.zl.Info(message, fields(context)...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.zl.Warn(message, fields(context)...)
}

// Error logs an error message
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	fs := fields(context)
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	l.zl.Error(message, fs...)
}

// WithTraceID returns a logger tagging every entry with a trace id
func (l *Logger) WithTraceID(traceID string) *Logger {
	if traceID == "" {
		return l
	}
	return &Logger{zl: l.zl.With(zap.String("trace_id", traceID))}
}

// WithSource returns a logger tagging every entry with its source component
func (l *Logger) WithSource(source string) *Logger {
	return &Logger{zl: l.zl.With(zap.String("source", source))}
}

// WithContext returns a logger carrying additional fields
func (l *Logger) WithContext(context map[string]interface{}) *Logger {
	return &Logger{zl: l.zl.With(fields([]map[string]interface{}{context})...)}
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// fields flattens context maps into zap fields with stable ordering
func fields(context []map[string]interface{}) []zap.Field {
	var out []zap.Field
	for _, ctx := range context {
		keys := make([]string, 0, len(ctx))
		for k := range ctx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, zap.Any(k, ctx[k]))
		}
	}
	return out
}

// Global logger instance
var globalLogger *Logger

// InitLogger initializes the global logger
func InitLogger(opts LoggerOptions) *Logger {
	globalLogger = NewLogger(opts)
	return globalLogger
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(LoggerOptions{Level: "info", Format: "json"})
	}
	return globalLogger
}

// LogResponse logs a finished HTTP request at a level matching its status
func LogResponse(c *fiber.Ctx, logger *Logger, statusCode int, duration time.Duration) {
	context := map[string]interface{}{
		"method":      c.Method(),
		"path":        c.Path(),
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
		"ip":          c.IP(),
	}

	l := logger.WithTraceID(GetTraceID(c)).WithSource("http")
	switch {
	case statusCode >= 500:
		l.Error("Request failed", nil, context)
	case statusCode >= 400:
		l.Warn("Request completed", context)
	default:
		l.Info("Request completed", context)
	}
}
