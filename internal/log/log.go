// Package log provides the shared structured logger.
// Level comes from the LOG_LEVEL environment variable (DEBUG, INFO, WARN, ERROR).
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

func init() {
	logger = logrus.New()
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		logger.SetLevel(logrus.DebugLevel)
	case "WARN":
		logger.SetLevel(logrus.WarnLevel)
	case "ERROR":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// GetLogger returns the shared logger instance.
func GetLogger() *logrus.Logger {
	return logger
}

// WithComponent returns an entry tagged with the component name.
// Orchestration loops use this so every line carries its origin.
func WithComponent(name string) *logrus.Entry {
	return logger.WithField("component", name)
}
