package log

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger shared by every agent package. Key/value
// pairs follow the logr convention: alternating string keys and values.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(err error, msg string, keysAndValues ...any)

	WithName(name string) Logger
	WithValues(keysAndValues ...any) Logger

	// Logr adapts the logger for libraries that log through logr, klog included.
	Logr() logr.Logger

	Sync() error
}

var _ Logger = (*logger)(nil)

type logger struct {
	z *zap.Logger
}

var (
	once sync.Once
	std  = NewNopLogger()
)

// Init replaces the global no-op logger. Only the first call has an effect.
func Init(opts *Options) {
	once.Do(func() {
		std = NewLogger(opts)
	})
}

// Std returns the global logger.
func Std() Logger { return std }

// NewNopLogger discards everything. It backs the package functions until Init.
func NewNopLogger() Logger {
	return &logger{z: zap.NewNop()}
}

// NewLogger builds a zap-backed logger. An unknown level falls back to info;
// Options.Validate reports it before this point in normal startup.
func NewLogger(opts *Options) Logger {
	if opts == nil {
		opts = NewOptions()
	}

	level, err := parseLevel(opts.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	outputs := opts.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		DisableCaller:    opts.DisableCaller,
		Encoding:         opts.Format,
		EncoderConfig:    encoderConfig(opts),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	z, err := cfg.Build(zap.AddCallerSkip(opts.CallerSkip), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		panic(fmt.Sprintf("failed to build zap logger: %v", err))
	}
	if opts.Name != "" {
		z = z.Named(opts.Name)
	}
	return &logger{z: z}
}

// encoderConfig renders durations as strings ("5s", "250ms") since most of
// the agent's durations are poll intervals and request timeouts.
func encoderConfig(opts *Options) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if opts.Format == "console" && opts.EnableColor {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return ec
}

func parseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s))))
	return lvl, err
}

func Debug(msg string, keysAndValues ...any)            { std.Debug(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...any)             { std.Info(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...any)             { std.Warn(msg, keysAndValues...) }
func Error(err error, msg string, keysAndValues ...any) { std.Error(err, msg, keysAndValues...) }
func WithName(name string) Logger                       { return std.WithName(name) }
func WithValues(keysAndValues ...any) Logger            { return std.WithValues(keysAndValues...) }
func Logr() logr.Logger                                 { return std.Logr() }
func Sync() error                                       { return std.Sync() }

func (l *logger) Debug(msg string, keysAndValues ...any) {
	l.z.Debug(msg, toFields(keysAndValues...)...)
}

func (l *logger) Info(msg string, keysAndValues ...any) {
	l.z.Info(msg, toFields(keysAndValues...)...)
}

func (l *logger) Warn(msg string, keysAndValues ...any) {
	l.z.Warn(msg, toFields(keysAndValues...)...)
}

// Error attaches err under the "error" key; a nil err is omitted.
func (l *logger) Error(err error, msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.z.Error(msg, fields...)
}

func (l *logger) WithName(name string) Logger {
	return &logger{z: l.z.Named(name)}
}

func (l *logger) WithValues(keysAndValues ...any) Logger {
	return &logger{z: l.z.With(toFields(keysAndValues...)...)}
}

func (l *logger) Logr() logr.Logger {
	return zapr.NewLogger(l.z)
}

func (l *logger) Sync() error {
	return l.z.Sync()
}
