// Package log provides loggers configured from environment.
//
// PHONIC_DEBUG enables debug level. PHONIC_LOG_LEVEL sets any level known
// to logrus and takes precedence.
package log

import (
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

var level = logrus.InfoLevel

// Logger is a global interface for phonic loggers.
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
}

func init() {
	level = levelFromEnv(os.Getenv("PHONIC_DEBUG"), os.Getenv("PHONIC_LOG_LEVEL"))
}

func levelFromEnv(debug, lvl string) logrus.Level {
	if l, err := logrus.ParseLevel(lvl); err == nil {
		return l
	}
	if d, err := strconv.ParseBool(debug); err == nil && d {
		return logrus.DebugLevel
	}
	return logrus.InfoLevel
}

// GetLogger returns a new logger instance.
func GetLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	return l
}

// Discard returns a logger which drops all entries.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
