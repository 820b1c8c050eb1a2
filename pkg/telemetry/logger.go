package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with OpenBex-specific functionality.
type Logger struct {
	zlog   zerolog.Logger
	config LoggingConfig
}

// loggerContextKey is the context key for logger instances.
type loggerContextKey struct{}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "stdout":
		writer = os.Stdout
	case "stderr", "":
		writer = os.Stderr
	default:
		// Anything else is a file path.
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: consoleTimeFormat(cfg.TimeFormat),
		}
	}

	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	default: // rfc3339
		zerolog.TimeFieldFormat = time.RFC3339
	}

	zlog := zerolog.New(writer).With().Timestamp().Logger()
	zlog = zlog.Level(parseLogLevel(cfg.Level))

	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}

	if cfg.EnableSampling {
		sampler := &zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      1 * time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		}
		zlog = zlog.Sample(sampler)
	}

	return &Logger{
		zlog:   zlog,
		config: cfg,
	}, nil
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("component", component).Logger(),
		config: l.config,
	}
}

// Zerolog returns the underlying zerolog logger for packages that take one
// directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// WithContext adds the logger to the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext retrieves the logger from the context.
// If no logger is found, it returns a default logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{
		zlog: zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{
		zlog:   ctx.Logger(),
		config: l.config,
	}
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Interface(key, value).Logger(),
		config: l.config,
	}
}

// WithRunID adds a run_id field to the logger.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.WithField("run_id", runID)
}

// WithTargetID adds a target_id field to the logger.
func (l *Logger) WithTargetID(targetID string) *Logger {
	return l.WithField("target_id", targetID)
}

// WithPhase adds a phase field to the logger.
func (l *Logger) WithPhase(phase string) *Logger {
	return l.WithField("phase", phase)
}

// WithVariant adds a variant field to the logger.
func (l *Logger) WithVariant(variant string) *Logger {
	return l.WithField("variant", variant)
}

// WithProvider adds the provider name to the logger.
func (l *Logger) WithProvider(name string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("provider", name).Logger(),
		config: l.config,
	}
}

// WithError adds error information to the logger.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Err(err).Logger(),
		config: l.config,
	}
}

// Trace logs a trace-level message.
func (l *Logger) Trace(msg string) {
	l.zlog.Trace().Msg(msg)
}

// Tracef logs a formatted trace-level message.
func (l *Logger) Tracef(format string, args ...interface{}) {
	l.zlog.Trace().Msgf(format, args...)
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// Warnf logs a formatted warning-level message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(msg string) {
	l.zlog.Error().Msg(msg)
}

// Errorf logs a formatted error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Fatal logs a fatal-level message and exits.
func (l *Logger) Fatal(msg string) {
	l.zlog.Fatal().Msg(msg)
}

// Fatalf logs a formatted fatal-level message and exits.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.zlog.Fatal().Msgf(format, args...)
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// consoleTimeFormat returns the timestamp format for console output.
func consoleTimeFormat(format string) string {
	switch format {
	case "unix":
		return time.StampMilli
	default:
		return time.RFC3339
	}
}
