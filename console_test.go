package qjsbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedContext(t *testing.T, level zapcore.Level) (*Context, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(level)
	return newTestContext(t, WithLogger(zap.New(core))), logs
}

func consoleEntries(logs *observer.ObservedLogs) []observer.LoggedEntry {
	return logs.FilterLoggerName("console").AllUntimed()
}

func TestConsole_LevelsAndFields(t *testing.T) {
	c, logs := newObservedContext(t, zapcore.DebugLevel)

	evalJS(t, c, `
		console.log("plain", 1, true, null);
		console.warn("careful");
		console.error("broken");
		console.debug("details");
	`)

	entries := consoleEntries(logs)
	require.Len(t, entries, 4)

	assert.Equal(t, "plain 1 true null", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "log", entries[0].ContextMap()["method"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[3].Level)
	assert.Equal(t, "debug", entries[3].ContextMap()["method"])
}

func TestConsole_ObjectsAsJSON(t *testing.T) {
	c, logs := newObservedContext(t, zapcore.InfoLevel)

	evalJS(t, c, `console.info({ a: 1 }, [1, "x"], 2.5, undefined)`)
	entries := consoleEntries(logs)
	require.Len(t, entries, 1)
	assert.Equal(t, `{"a":1} [1,"x"] 2.5 null`, entries[0].Message)
}

func TestConsole_BelowLevelDropped(t *testing.T) {
	c, logs := newObservedContext(t, zapcore.WarnLevel)

	evalJS(t, c, `console.log("quiet"); console.debug("quieter"); console.warn("loud")`)
	entries := consoleEntries(logs)
	require.Len(t, entries, 1)
	assert.Equal(t, "loud", entries[0].Message)
}

func TestConsole_Helpers(t *testing.T) {
	c, logs := newObservedContext(t, zapcore.InfoLevel)

	evalJS(t, c, `
		console.count();
		console.count("x");
		console.count();
		console.countReset();
		console.count();
		console.assert(true, "not logged");
		console.assert(false, "logged");
		console.timeEnd("never started");
	`)

	var msgs []string
	for _, e := range consoleEntries(logs) {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{
		"default: 1",
		"x: 1",
		"default: 2",
		"default: 1",
		"Assertion failed: logged",
		`Timer "never started" does not exist`,
	}, msgs)
}

func TestConsole_TimeEnd(t *testing.T) {
	c, logs := newObservedContext(t, zapcore.InfoLevel)

	evalJS(t, c, `console.time("t"); console.timeEnd("t")`)
	entries := consoleEntries(logs)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^t: \d+ms$`, entries[0].Message)
}

func TestFormatConsoleArgs(t *testing.T) {
	assert.Equal(t, "a 1 2.5 false null", formatConsoleArgs([]any{"a", int64(1), 2.5, false, nil}))
	assert.Empty(t, formatConsoleArgs(nil))
}
