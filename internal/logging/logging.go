// Package logging builds the process logger shared by the binaries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to out. An unknown level falls back to info;
// format "json" selects the JSON formatter, anything else the text one.
func New(level, format string, out io.Writer) *logrus.Logger {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)
	return l
}

// Env returns LOG_LEVEL and LOG_FORMAT, or the given defaults when unset.
func Env(defLevel, defFormat string) (level, format string) {
	level, format = defLevel, defFormat
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		level = v
	}
	if v, ok := os.LookupEnv("LOG_FORMAT"); ok && v != "" {
		format = v
	}
	return level, format
}
