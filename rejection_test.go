package qjsbridge

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejection_Unhandled(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval("Promise.reject(new Error('nobody caught me'))", "<test>", EvalGlobal)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnhandledRejection)
	assert.True(t, strings.HasPrefix(err.Error(), "UnhandledPromiseRejectionException: nobody caught me\n"),
		"got %q", err.Error())

	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Len(t, rej.Reasons, 1)
}

func TestRejection_NonErrorReason(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval("Promise.reject('plain reason')", "<test>", EvalGlobal)
	assert.EqualError(t, err, "UnhandledPromiseRejectionException: plain reason")
}

func TestRejection_HandledLater(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(`
		const p = Promise.reject(new Error("late"));
		p.catch(() => { globalThis.caught = true });
		"ok";
	`, "<test>", EvalGlobal)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, true, evalValue(t, c, "caught"))
}

func TestRejection_MatchedByIdentity(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval(`
		Promise.reject("a");
		const b = Promise.reject("b");
		b.catch(() => {});
	`, "<test>", EvalGlobal)
	assert.EqualError(t, err, "UnhandledPromiseRejectionException: a")
}

func TestRejection_SeveralReasons(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval("Promise.reject('one'); Promise.reject('two')", "<test>", EvalGlobal)
	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, []string{"one", "two"}, rej.Reasons)
}

func TestRejection_AsyncFunctionThrow(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval(`
		(async () => {
			await null;
			throw new TypeError("after await");
		})();
	`, "<test>", EvalGlobal)
	assert.ErrorIs(t, err, ErrUnhandledRejection)
	assert.Contains(t, err.Error(), "after await")
}

func TestRejection_QueueClearedAfterReport(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval("Promise.reject('once')", "<test>", EvalGlobal)
	require.Error(t, err)

	res, err := c.Eval("1", "<test>", EvalGlobal)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Value)
}

func TestRejection_ErrorHookSeesReason(t *testing.T) {
	c := newTestContext(t)

	evalJS(t, c, "globalThis.onError = (e) => { globalThis.seen = e.message }")
	_, err := c.Eval("Promise.reject(new Error('hooked'))", "<test>", EvalGlobal)
	require.Error(t, err)
	assert.Equal(t, "hooked", evalValue(t, c, "seen"))
}

func TestRejection_ErrorHookThrowIsSwallowed(t *testing.T) {
	c := newTestContext(t)

	evalJS(t, c, "globalThis.onerror = () => { throw new Error('hook broke') }")
	_, err := c.Eval("Promise.reject(new Error('original'))", "<test>", EvalGlobal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "original")
	assert.NotContains(t, err.Error(), "hook broke")
}

func TestRejection_SharedAcrossContexts(t *testing.T) {
	r := newTestRuntime(t)
	a, err := r.NewContext()
	require.NoError(t, err)
	b, err := r.NewContext()
	require.NoError(t, err)

	// The nested call in a leaves its rejection queued; b's outer call
	// pumps and reports it, described by a.
	_, err = b.RegisterFunc(nil, "hop", func(*Value, []any) (any, error) {
		_, err := a.Eval("Promise.reject('from a')", "<a>", EvalGlobal)
		return nil, err
	})
	require.NoError(t, err)

	_, err = b.Eval("hop()", "<b>", EvalGlobal)
	assert.EqualError(t, err, "UnhandledPromiseRejectionException: from a")
}

func TestRejection_NestedExecutePendingJobsIsNoop(t *testing.T) {
	c := newTestContext(t)

	var pending bool
	_, err := c.RegisterFunc(nil, "inner", func(*Value, []any) (any, error) {
		if _, err := c.Eval("Promise.resolve().then(() => { throw new Error('in job') })", "<inner>", EvalGlobal); err != nil {
			return nil, err
		}
		if err := c.ExecutePendingJobs(); err != nil {
			return nil, err
		}
		var err error
		pending, err = c.IsJobPending()
		return nil, err
	})
	require.NoError(t, err)

	_, err = c.Eval("inner()", "<test>", EvalGlobal)
	assert.True(t, pending)
	assert.ErrorIs(t, err, ErrUnhandledRejection)
	assert.Contains(t, err.Error(), "in job")
}
