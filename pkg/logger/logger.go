/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	if os.Getenv("CAPSULE_DEBUG") != "" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// SetOutput redirects all log output, used by tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// Printf logs a formatted message at info level.
func Printf(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Println logs a message at info level.
func Println(args ...interface{}) {
	log.Infoln(args...)
}

// Debugf logs a formatted message visible only with CAPSULE_DEBUG set.
func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Warnf logs a formatted warning.
func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Errorf logs a formatted error.
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// WithField returns an entry carrying a structured field.
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}
