// Package log builds the recorder's process-wide logrus logger, grounded
// on firestige-Otus/internal/log's MultiWriter (appender.go) and file
// appender (appender_file.go, gopkg.in/natefinch/lumberjack.v2).
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/otusdds/recorder/internal/config"
)

var (
	once sync.Once
	root *logrus.Logger
)

// Init builds the process-wide logger from cfg. Safe to call once;
// subsequent calls are no-ops, mirroring the teacher's sync.Once guard.
func Init(cfg config.LogSection) error {
	var initErr error
	once.Do(func() {
		initErr = doInit(cfg)
	})
	return initErr
}

func doInit(cfg config.LogSection) error {
	level, err := logrus.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	mw := NewMultiWriter().Add(os.Stdout)
	if cfg.FilePath != "" {
		mw.Add(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	logger := logrus.New()
	logger.SetOutput(mw)
	logger.SetLevel(level)

	switch strings.ToLower(orDefault(cfg.Format, "text")) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	root = logger
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Get returns the process-wide logger as a *logrus.Entry, matching the
// teacher's GetLogger() call sites. Components should take a *logrus.
// Entry at construction rather than calling Get() repeatedly, so tests
// can inject an isolated logger (SPEC_FULL.md §1.2).
func Get() *logrus.Entry {
	if root == nil {
		// Init was never called (e.g. `recorder validate`): fall back to
		// a reasonable default rather than panicking on a nil logger.
		root = logrus.New()
	}
	return logrus.NewEntry(root)
}

// MultiWriter fans out log bytes to every added io.Writer, continuing
// past individual write errors so one broken sink never silences the
// others.
type MultiWriter struct {
	writers []io.Writer
}

// NewMultiWriter returns an empty MultiWriter.
func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

// Add appends w and returns the receiver for chaining.
func (m *MultiWriter) Add(w io.Writer) *MultiWriter {
	m.writers = append(m.writers, w)
	return m
}

// Write implements io.Writer.
func (m *MultiWriter) Write(p []byte) (int, error) {
	var lastErr error
	for _, w := range m.writers {
		if _, err := w.Write(p); err != nil {
			lastErr = err
		}
	}
	return len(p), lastErr
}
