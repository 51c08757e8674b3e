package log

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/liuxd6825/vuflow/internal/lib/strvals"
)

// fileHookBufferSize is the capacity of the pending log lines channel.
const fileHookBufferSize = 100

type fileHook struct {
	path   string
	levels []logrus.Level

	fallbackLogger logrus.FieldLogger
	lines          chan []byte
	file           io.Closer
	bw             *bufio.Writer
}

var _ AsyncHook = &fileHook{}

// FileHookFromConfigLine returns a hook appending entries to the file named
// by a file=<path>[,level=<level>] line. Relative paths are resolved
// against the directory getCwd returns.
func FileHookFromConfigLine(
	fsys afero.Fs, getCwd func() (string, error),
	fallbackLogger logrus.FieldLogger, line string,
) (AsyncHook, error) {
	tokens, err := strvals.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("error while parsing logfile configuration %w", err)
	}
	if len(tokens) == 0 || tokens[0].Key != "file" {
		return nil, fmt.Errorf("logfile configuration should be in the form `file=path-to-local-file` but is `%s`", line)
	}

	hook := &fileHook{
		levels:         logrus.AllLevels,
		fallbackLogger: fallbackLogger,
		lines:          make(chan []byte, fileHookBufferSize),
	}
	for _, token := range tokens {
		switch token.Key {
		case "file":
			if token.Value == "" {
				return nil, errors.New("filepath must not be empty")
			}
			hook.path = token.Value
		case "level":
			if hook.levels, err = parseLevels(token.Value); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown logfile config key %s", token.Key)
		}
	}

	path, err := resolvePath(hook.path, getCwd)
	if err != nil {
		return nil, err
	}
	if _, err = fsys.Stat(filepath.Dir(path)); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("provided directory '%s' does not exist", filepath.Dir(path))
	}
	file, err := fsys.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open logfile %s: %w", path, err)
	}
	hook.file, hook.bw = file, bufio.NewWriter(file)
	return hook, nil
}

func resolvePath(path string, getCwd func() (string, error)) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	cwd, err := getCwd()
	if err != nil {
		return "", fmt.Errorf("'%s' is a relative path but could not determine CWD: %w", path, err)
	}
	return filepath.Join(cwd, path), nil
}

// parseLevels returns every level at least as severe as level.
func parseLevels(level string) ([]logrus.Level, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %s", level)
	}
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= lvl {
			levels = append(levels, l)
		}
	}
	return levels, nil
}

// Listen writes the queued lines until ctx is done, then drains the queue,
// flushes and closes the file.
func (h *fileHook) Listen(ctx context.Context) {
	defer h.close()
	for {
		select {
		case line := <-h.lines:
			h.write(line)
		case <-ctx.Done():
			for {
				select {
				case line := <-h.lines:
					h.write(line)
				default:
					return
				}
			}
		}
	}
}

func (h *fileHook) write(line []byte) {
	if _, err := h.bw.Write(line); err != nil {
		h.fallbackLogger.Errorf("failed to write a log message to a logfile: %s", err)
	}
}

func (h *fileHook) close() {
	if err := h.bw.Flush(); err != nil {
		h.fallbackLogger.Errorf("failed to flush buffer: %s", err)
	}
	if err := h.file.Close(); err != nil {
		h.fallbackLogger.Errorf("failed to close logfile: %s", err)
	}
}

// Fire queues the formatted entry.
func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return fmt.Errorf("failed to get a log entry bytes: %w", err)
	}
	h.lines <- line
	return nil
}

// Levels returns the levels the hook writes.
func (h *fileHook) Levels() []logrus.Level {
	return h.levels
}
