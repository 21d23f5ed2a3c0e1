package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	log = New(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// New builds a logger for the given level and format. Unknown levels fall back to info,
// and any format other than "json" writes human-readable console output.
func New(w io.Writer, level, format string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		lvl = zerolog.DebugLevel
	case "WARN":
		lvl = zerolog.WarnLevel
	case "ERROR":
		lvl = zerolog.ErrorLevel
	}

	if strings.ToLower(strings.TrimSpace(format)) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// SetOutput replaces the package logger, mainly for tests.
func SetOutput(l zerolog.Logger) {
	log = l
}

// With returns a child logger carrying a structured field.
func With(key string, val interface{}) zerolog.Logger {
	return log.With().Interface(key, val).Logger()
}

func Debug(format string, args ...interface{}) {
	log.Debug().Msgf(format, args...)
}

func Info(format string, args ...interface{}) {
	log.Info().Msgf(format, args...)
}

func Warn(format string, args ...interface{}) {
	log.Warn().Msgf(format, args...)
}

func Error(format string, args ...interface{}) {
	log.Error().Msgf(format, args...)
}
