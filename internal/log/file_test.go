package log

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCwd() (string, error) { return "/logs", nil }

func newTestFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/logs", 0o755))
	return fs
}

func TestFileHookFromConfigLine(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		line   string
		path   string
		levels []logrus.Level
		err    string
	}{
		{line: "file=/logs/out.log", path: "/logs/out.log", levels: logrus.AllLevels},
		{line: "file=out.log,level=warning", path: "out.log", levels: []logrus.Level{
			logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel,
		}},
		{line: "file", err: "filepath must not be empty"},
		{line: "file=", err: "filepath must not be empty"},
		{line: "stdout", err: "should be in the form"},
		{line: "file=out.log,level=loud", err: "unknown log level loud"},
		{line: "file=out.log,color=red", err: "unknown logfile config key color"},
		{line: "file=/missing/out.log", err: "provided directory '/missing' does not exist"},
	}
	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			t.Parallel()
			hook, err := FileHookFromConfigLine(newTestFs(t), getCwd, logrus.New(), tc.line)
			if tc.err != "" {
				require.ErrorContains(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			fh, ok := hook.(*fileHook)
			require.True(t, ok)
			assert.Equal(t, tc.path, fh.path)
			assert.Equal(t, tc.levels, fh.Levels())
		})
	}
}

func TestFileHookRelativePathWithoutCwd(t *testing.T) {
	t.Parallel()
	noCwd := func() (string, error) { return "", errors.New("gone") }
	_, err := FileHookFromConfigLine(newTestFs(t), noCwd, logrus.New(), "file=out.log")
	require.ErrorContains(t, err, "could not determine CWD")
}

func TestFileHookWritesOnListen(t *testing.T) {
	t.Parallel()

	fs := newTestFs(t)
	require.NoError(t, afero.WriteFile(fs, "/logs/out.log", []byte("previous run\n"), 0o600))

	hook, err := FileHookFromConfigLine(fs, getCwd, logrus.New(), "file=out.log,level=info")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	logger.SetFormatter(RawFormatter{})
	logger.SetLevel(logrus.DebugLevel)
	logger.AddHook(hook)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hook.Listen(ctx)
		close(done)
	}()

	logger.Info("first")
	logger.Debug("filtered")
	logger.Error("second")
	cancel()
	<-done

	data, err := afero.ReadFile(fs, "/logs/out.log")
	require.NoError(t, err)
	assert.Equal(t, []string{"previous run", "first", "second", ""}, strings.Split(string(data), "\n"))
}

func TestParseLevels(t *testing.T) {
	t.Parallel()

	levels, err := parseLevels("error")
	require.NoError(t, err)
	assert.Equal(t, []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}, levels)

	levels, err = parseLevels("trace")
	require.NoError(t, err)
	assert.Equal(t, logrus.AllLevels, levels)

	_, err = parseLevels("verbose")
	require.ErrorContains(t, err, "unknown log level verbose")
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
