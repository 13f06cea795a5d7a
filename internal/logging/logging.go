// Package logging builds the per-component loggers of the daemon.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options describes where log entries are written, and at which levels.
type Options struct {
	// Level is the most verbose level any component logs at.
	Level logrus.Level

	// Console receives entries up to ConsoleLevel. Defaults to os.Stderr.
	Console      io.Writer
	ConsoleLevel logrus.Level

	// File, if set, is a rotated log file receiving entries up to FileLevel.
	File       string
	FileLevel  logrus.Level
	MaxSizeMB  int
	MaxBackups int
}

// Logging holds the shared outputs of all component loggers.
type Logging struct {
	opts Options
	file *lumberjack.Logger
}

// New returns a logging setup for the given options.
func New(opts Options) *Logging {
	if opts.Console == nil {
		opts.Console = os.Stderr
	}

	l := &Logging{opts: opts}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
	}

	return l
}

// Component returns a logger whose entries carry the component name.
func (l *Logging) Component(name string) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(l.opts.Level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.AddHook(&writerHook{Writer: l.opts.Console, LogLevels: availableLevels(l.opts.ConsoleLevel)})
	if l.file != nil {
		logger.AddHook(&writerHook{Writer: l.file, LogLevels: availableLevels(l.opts.FileLevel)})
	}

	return logger.WithField("name", name)
}

// Close flushes and closes the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}

	return l.file.Close()
}

// ParseLevel parses a level name. "off" disables everything but panics.
func ParseLevel(level string) (logrus.Level, error) {
	if strings.EqualFold(level, "off") {
		return logrus.PanicLevel, nil
	}

	return logrus.ParseLevel(level)
}

// writerHook writes logs to the specified writer for provided levels.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func availableLevels(maxLevel logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= maxLevel {
			levels = append(levels, l)
		}
	}
	return levels
}
