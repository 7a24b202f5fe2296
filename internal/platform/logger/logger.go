package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns the structured logger used across services. The level comes from
// LOG_LEVEL (default info); services receive the instance via their
// constructors so tests can swap in a silent one.
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

// Discard returns a logger that drops everything. Used by tests that do not
// assert on log output.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
