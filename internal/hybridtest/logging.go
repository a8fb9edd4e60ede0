// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hybridtest holds helpers shared by the tests of several
// packages.
package hybridtest

import (
	"os"
	"sync"

	qt "github.com/frankban/quicktest"
	"github.com/juju/loggo"
)

// LogTo configures loggo to log to qt.C for the duration
// of the test. If TEST_LOGGING_CONFIG is set, it
// will be used to configure the logging modules.
//
// When the test finishes the loggo configuration will
// be reset.
func LogTo(c *qt.C) {
	cfg := os.Getenv("TEST_LOGGING_CONFIG")
	if cfg == "" {
		cfg = "DEBUG"
	}
	// Don't use the default writer for the test logging, which
	// means we can still get logging output from tests that
	// replace the default writer.
	loggo.ResetLogging()
	err := loggo.RegisterWriter(loggo.DefaultWriterName, discardWriter{})
	c.Assert(err, qt.IsNil)
	err = loggo.RegisterWriter("testlogger", &loggoWriter{c})
	c.Assert(err, qt.IsNil)
	err = loggo.ConfigureLoggers(cfg)
	c.Assert(err, qt.IsNil)
	c.Cleanup(loggo.ResetLogging)
}

// RecordLogs records every log entry at or above the given level until
// the end of the test. It must be called after LogTo.
func RecordLogs(c *qt.C, level loggo.Level) *LogRecorder {
	r := &LogRecorder{}
	err := loggo.RegisterWriter("recorder", loggo.NewMinimumLevelWriter(r, level))
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() {
		loggo.RemoveWriter("recorder")
	})
	return r
}

// LogRecorder holds recorded log entries.
type LogRecorder struct {
	mu      sync.Mutex
	entries []loggo.Entry
}

// Write implements loggo.Writer.
func (r *LogRecorder) Write(entry loggo.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Messages returns the messages logged at the given level.
func (r *LogRecorder) Messages(level loggo.Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var msgs []string
	for _, e := range r.entries {
		if e.Level == level {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

type loggoWriter struct {
	c *qt.C
}

func (w *loggoWriter) Write(entry loggo.Entry) {
	w.c.Logf("%s %s %s", entry.Level, entry.Module, entry.Message)
}

type discardWriter struct{}

func (discardWriter) Write(entry loggo.Entry) {
}
