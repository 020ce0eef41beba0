package qjsbridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestRuntime creates a runtime that is closed when the test ends.
func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	r, err := NewRuntime(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// newTestContext creates a context on a fresh runtime.
func newTestContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	c, err := newTestRuntime(t, opts...).NewContext()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// evalJS evaluates a script and fails the test on error.
func evalJS(t *testing.T, c *Context, source string) Result {
	t.Helper()
	res, err := c.Eval(source, "<test>", EvalGlobal)
	require.NoError(t, err, "source: %s", source)
	t.Cleanup(res.Free)
	return res
}

// evalValue evaluates a script and returns the host value of its result.
func evalValue(t *testing.T, c *Context, source string) any {
	t.Helper()
	return evalJS(t, c, source).Value
}

// evalHandle evaluates a script whose result must be an engine handle.
func evalHandle(t *testing.T, c *Context, source string) *Value {
	t.Helper()
	res := evalJS(t, c, source)
	v := res.Handle()
	require.NotNil(t, v, "expected a handle, got %T (%s)", res.Value, res.Type)
	return v
}
