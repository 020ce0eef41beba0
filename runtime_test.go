package qjsbridge

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Runtime and context lifecycle
// ---------------------------------------------------------------------------

func TestRuntime_EvalPrimitives(t *testing.T) {
	c := newTestContext(t)

	tests := []struct {
		src  string
		want any
		typ  Type
	}{
		{"1 + 2", int64(3), TypeInteger},
		{"1.5", 1.5, TypeDouble},
		{"'hi' + '!'", "hi!", TypeString},
		{"1 < 2", true, TypeBoolean},
		{"null", nil, TypeNull},
		{"undefined", nil, TypeUndefined},
		{"10n ** 3n", int64(1000), TypeInteger},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			res := evalJS(t, c, tt.src)
			assert.Equal(t, tt.want, res.Value)
			assert.Equal(t, tt.typ, res.Type)
		})
	}
}

func TestRuntime_EvalThrows(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval("throw new TypeError('boom')", "bad.js", EvalGlobal)
	require.Error(t, err)

	var jsErr *JSError
	require.True(t, errors.As(err, &jsErr))
	assert.Equal(t, "TypeError", jsErr.Name)
	assert.Equal(t, "boom", jsErr.Message)
	assert.Contains(t, err.Error(), "evaluating bad.js: boom")
}

func TestRuntime_EvalThrowsNonError(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval("throw 'plain'", "<test>", EvalGlobal)
	var jsErr *JSError
	require.True(t, errors.As(err, &jsErr))
	assert.Empty(t, jsErr.Name)
	assert.Equal(t, "plain", jsErr.Text)
}

func TestRuntime_SyntaxError(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval("let = ;", "<test>", EvalGlobal)
	var jsErr *JSError
	require.True(t, errors.As(err, &jsErr))
	assert.Equal(t, "SyntaxError", jsErr.Name)
}

func TestRuntime_EvalTypedCoerces(t *testing.T) {
	c := newTestContext(t)

	res, err := c.EvalTyped("'42'", "<test>", EvalGlobal, TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, Result{Value: int64(42), Type: TypeInteger}, res)

	res, err = c.EvalTyped("7", "<test>", EvalGlobal, TypeDouble)
	require.NoError(t, err)
	assert.Equal(t, Result{Value: 7.0, Type: TypeDouble}, res)

	res, err = c.EvalTyped("0", "<test>", EvalGlobal, TypeBoolean)
	require.NoError(t, err)
	assert.Equal(t, Result{Value: false, Type: TypeBoolean}, res)

	res, err = c.EvalTyped("[1, 2]", "<test>", EvalGlobal, TypeString)
	require.NoError(t, err)
	assert.Equal(t, Result{Value: "1,2", Type: TypeString}, res)

	// Null and undefined ignore the hint.
	res, err = c.EvalTyped("null", "<test>", EvalGlobal, TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, TypeNull, res.Type)
}

func TestRuntime_ContextsShareHeap(t *testing.T) {
	r := newTestRuntime(t)
	a, err := r.NewContext()
	require.NoError(t, err)
	b, err := r.NewContext()
	require.NoError(t, err)

	obj := evalHandle(t, a, "({ from: 'a' })")
	require.NoError(t, b.Global().Set("shared", obj))
	assert.Equal(t, "a", evalValue(t, b, "shared.from"))

	// Globals are separate.
	evalJS(t, a, "var onlyA = 1")
	assert.Equal(t, "undefined", evalValue(t, b, "typeof onlyA"))
}

func TestRuntime_ForeignValueRejected(t *testing.T) {
	c1 := newTestContext(t)
	c2 := newTestContext(t)

	obj := evalHandle(t, c2, "({})")
	err := c1.Global().Set("x", obj)
	assert.ErrorIs(t, err, ErrForeignValue)
}

func TestRuntime_FreedValue(t *testing.T) {
	c := newTestContext(t)

	obj, err := c.NewObject()
	require.NoError(t, err)
	obj.Free()
	obj.Free() // idempotent

	_, err = obj.Get("x")
	assert.ErrorIs(t, err, ErrFreed)
}

func TestRuntime_ContextCloseReleasesHandles(t *testing.T) {
	r := newTestRuntime(t)
	c, err := r.NewContext()
	require.NoError(t, err)

	obj, err := c.NewObject()
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = obj.Get("x")
	assert.ErrorIs(t, err, ErrClosed)
	obj.Free()
}

func TestRuntime_CloseIsFinal(t *testing.T) {
	r, err := NewRuntime()
	require.NoError(t, err)
	c, err := r.NewContext()
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.NewContext()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Eval("1", "<test>", EvalGlobal)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRuntime_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitMB = -1
	_, err := NewRuntime(WithConfig(cfg))
	assert.ErrorContains(t, err, "invalid config")
}

func TestRuntime_PluginsFollowConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Console = false
	cfg.Timers = false
	c := newTestContext(t, WithConfig(cfg))

	assert.Equal(t, "undefined", evalValue(t, c, "typeof setTimeout"))
	assert.Equal(t, "undefined", evalValue(t, c, "typeof console"))
}

func TestRuntime_ConcurrentCallers(t *testing.T) {
	c := newTestContext(t)
	evalJS(t, c, "var counter = 0")

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := c.Eval("counter++", "<test>", EvalGlobal)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(400), evalValue(t, c, "counter"))
}

func TestRuntime_DoBatchesOnLoop(t *testing.T) {
	r := newTestRuntime(t)
	c, err := r.NewContext()
	require.NoError(t, err)

	var sum int64
	err = r.Do(func() error {
		for i := 0; i < 10; i++ {
			res, err := c.Eval("2", "<test>", EvalGlobal)
			if err != nil {
				return err
			}
			sum += res.Value.(int64)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), sum)
}

func TestRuntime_RunGC(t *testing.T) {
	r := newTestRuntime(t)
	assert.NoError(t, r.RunGC())
}
