// Package testutils holds helpers shared by the tests of several packages.
package testutils

import (
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// SimpleLogrusHook records every entry fired at one of its levels, so tests
// can assert on what was logged.
type SimpleLogrusHook struct {
	HookedLevels []logrus.Level

	mu      sync.Mutex
	entries []logrus.Entry
}

var _ logrus.Hook = &SimpleLogrusHook{}

// NewLogHook returns a hook for the given levels, or for all of them when
// none are given.
func NewLogHook(levels ...logrus.Level) *SimpleLogrusHook {
	if len(levels) == 0 {
		levels = logrus.AllLevels
	}
	return &SimpleLogrusHook{HookedLevels: levels}
}

// NewLogger returns a silent logger at debug level together with a hook
// capturing everything it logs.
func NewLogger(tb testing.TB) (*logrus.Logger, *SimpleLogrusHook) {
	tb.Helper()
	hook := NewLogHook()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	logger.AddHook(hook)
	return logger, hook
}

// Levels implements logrus.Hook.
func (h *SimpleLogrusHook) Levels() []logrus.Level {
	return h.HookedLevels
}

// Fire implements logrus.Hook.
func (h *SimpleLogrusHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	h.entries = append(h.entries, *e)
	h.mu.Unlock()
	return nil
}

// Drain returns the recorded entries and forgets them.
func (h *SimpleLogrusHook) Drain() []logrus.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := h.entries
	h.entries = nil
	return res
}

// Count returns how many recorded entries have the given level and contain
// the given text, without draining them.
func (h *SimpleLogrusHook) Count(level logrus.Level, contents string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(FilterEntries(h.entries, level, contents))
}

// LogContains reports whether any entry has the given level and contains the
// given text.
func LogContains(entries []logrus.Entry, level logrus.Level, contents string) bool {
	return len(FilterEntries(entries, level, contents)) > 0
}

// FilterEntries returns the entries with the given level that contain the
// given text.
func FilterEntries(entries []logrus.Entry, level logrus.Level, contents string) []logrus.Entry {
	filtered := make([]logrus.Entry, 0)
	for _, entry := range entries {
		if entry.Level == level && strings.Contains(entry.Message, contents) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}
