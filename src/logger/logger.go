package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name   string
	logger zerolog.Logger
	config interface{}
}

// settings is satisfied by *models.MConfig and anything embedding it.
type settings interface {
	LoggerSettings() (level string, format string)
}

// exit is swapped in tests so Critical can be exercised.
var exit = os.Exit

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance
func NewLogger(config interface{}, name string) *Logger {
	level, format := "INFO", "console"
	if s, ok := config.(settings); ok {
		l, f := s.LoggerSettings()
		if l != "" {
			level = l
		}
		if f != "" {
			format = f
		}
	}
	l := New(os.Stdout, level, format, name)
	l.config = config
	return l
}

// -----------------------------------------------------------------------------

// New builds a Logger writing to w.
func New(w io.Writer, level, format, name string) *Logger {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", name).
		Logger().
		Level(parseLevel(level))
	return &Logger{name: name, logger: zl}
}

// -----------------------------------------------------------------------------

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{name: "nop", logger: zerolog.Nop()}
}

// -----------------------------------------------------------------------------

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "CRITICAL", "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// -----------------------------------------------------------------------------

// Name returns the component name.
func (l *Logger) Name() string {
	return l.name
}

// -----------------------------------------------------------------------------

// With returns a child logger carrying an extra field.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		name:   l.name,
		logger: l.logger.With().Interface(key, value).Logger(),
		config: l.config,
	}
}

// -----------------------------------------------------------------------------

// Debug logs diagnostic messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logger.Debug().Msg(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Warning logs recoverable anomalies
func (l *Logger) Warning(format string, args ...interface{}) {
	l.logger.Warn().Msg(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.logger.Info().Msg(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.logger.Error().Msg(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	// WithLevel does not exit, unlike Fatal(); exit stays swappable.
	l.logger.WithLevel(zerolog.FatalLevel).Msg(fmt.Sprintf(format, args...))
	exit(1)
}
