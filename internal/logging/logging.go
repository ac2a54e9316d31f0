// Package logging sets up the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs a console writer on stderr at the given level.
func Init(level string) {
	InitTo(os.Stderr, level)
}

func InitTo(w io.Writer, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// ParseLevel accepts zerolog level names plus a few aliases. Unknown values
// mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "dev", "development":
		return zerolog.DebugLevel
	case "prod", "production":
		return zerolog.ErrorLevel
	case "warning":
		return zerolog.WarnLevel
	}
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}
