// Package tests contains the in-memory global state the command tests run
// vuflow with, and the end-to-end tests of the commands.
package tests

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/vuflow/cmd/state"
	"github.com/liuxd6825/vuflow/lib/testutils"
)

// GlobalTestState wraps a GlobalState whose filesystem, streams and exit
// function are all in memory.
type GlobalTestState struct {
	*state.GlobalState
	Cancel func()

	Stdout, Stderr *bytes.Buffer
	LoggerHook     *testutils.SimpleLogrusHook

	Cwd string

	// ExpectedExitCode is what OSExit must be called with.
	ExpectedExitCode int
}

// NewGlobalTestState returns a GlobalTestState with an empty filesystem and
// /test/ as the working directory.
func NewGlobalTestState(tb testing.TB) *GlobalTestState {
	tb.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	fs := afero.NewMemMapFs()
	cwd := "/test/"
	require.NoError(tb, fs.MkdirAll(cwd, 0o755))

	logger := &logrus.Logger{
		Out:       io.Discard,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
	hook := testutils.NewLogHook()
	logger.AddHook(hook)

	ts := &GlobalTestState{
		Cwd:        cwd,
		Cancel:     cancel,
		LoggerHook: hook,
		Stdout:     new(bytes.Buffer),
		Stderr:     new(bytes.Buffer),
	}

	var (
		exitMu       sync.Mutex
		osExitCalled bool
	)
	osExit := func(exitCode int) {
		cancel()
		exitMu.Lock()
		osExitCalled = true
		exitMu.Unlock()
		assert.Equal(tb, ts.ExpectedExitCode, exitCode)
	}
	tb.Cleanup(func() {
		if ts.ExpectedExitCode > 0 {
			exitMu.Lock()
			defer exitMu.Unlock()
			assert.True(tb, osExitCalled, "OSExit was not called but the exit code %d was expected", ts.ExpectedExitCode)
		}
	})

	outMutex := &sync.Mutex{}
	defaultFlags := state.GetDefaultGlobalOptions("/.config")
	fallbackLogger, _ := testutils.NewLogger(tb)

	ts.GlobalState = &state.GlobalState{
		Ctx:            ctx,
		FS:             fs,
		Getwd:          func() (string, error) { return ts.Cwd, nil },
		BinaryName:     "vuflow",
		CmdArgs:        []string{},
		Env:            map[string]string{},
		DefaultFlags:   defaultFlags,
		Flags:          defaultFlags,
		OutMutex:       outMutex,
		Stdout:         &state.Writer{Mutex: outMutex, Writer: ts.Stdout},
		Stderr:         &state.Writer{Mutex: outMutex, Writer: ts.Stderr},
		Stdin:          new(bytes.Buffer),
		OSExit:         osExit,
		SignalNotify:   signal.Notify,
		SignalStop:     signal.Stop,
		Logger:         logger,
		FallbackLogger: fallbackLogger.WithField("fallback", true),
	}
	return ts
}

// NewSingleFileTestState writes script to test.js in the working directory
// and prepares the arguments of `vuflow run` for it.
func NewSingleFileTestState(tb testing.TB, script string, cliFlags []string, expExitCode int) *GlobalTestState {
	tb.Helper()
	if cliFlags == nil {
		cliFlags = []string{"-v", "--log-output=stdout"}
	}

	ts := NewGlobalTestState(tb)
	require.NoError(tb, afero.WriteFile(ts.FS, ts.Cwd+"test.js", []byte(script), 0o644))
	ts.CmdArgs = append(append([]string{"vuflow", "run"}, cliFlags...), "test.js")
	ts.ExpectedExitCode = expExitCode
	return ts
}

// FakeSignals replaces the signal handling of ts with a channel the test
// can send signals to.
func (ts *GlobalTestState) FakeSignals() chan<- os.Signal {
	fake := make(chan os.Signal, 2)
	ts.SignalNotify = func(c chan<- os.Signal, _ ...os.Signal) {
		go func() {
			for sig := range fake {
				c <- sig
			}
		}()
	}
	ts.SignalStop = func(chan<- os.Signal) {}
	return fake
}
