package qjsbridge

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallback_RegisterFunc(t *testing.T) {
	c := newTestContext(t)

	fn, err := c.RegisterFunc(nil, "add", func(_ *Value, args []any) (any, error) {
		var sum int64
		for _, a := range args {
			n, ok := a.(int64)
			if !ok {
				return nil, fmt.Errorf("not an integer: %v", a)
			}
			sum += n
		}
		return sum, nil
	})
	require.NoError(t, err)
	defer fn.Free()
	assert.Equal(t, TypeFunction, fn.Type())

	assert.Equal(t, int64(6), evalValue(t, c, "add(1, 2, 3)"))
	assert.Equal(t, "Error:not an integer: x", evalValue(t, c,
		"try { add('x') } catch (e) { e.name + ':' + e.message }"))

	// Called from Go, the same function goes through the same dispatch.
	res, err := fn.Invoke(nil, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Value)
}

func TestCallback_ReturnsContainers(t *testing.T) {
	c := newTestContext(t)

	_, err := c.RegisterFunc(nil, "info", func(*Value, []any) (any, error) {
		return map[string]any{"ids": []int{1, 2}, "name": "host"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ids":[1,2],"name":"host"}`, evalValue(t, c, "JSON.stringify(info())"))
}

func TestCallback_UnconvertibleResultThrowsTypeError(t *testing.T) {
	c := newTestContext(t)

	_, err := c.RegisterFunc(nil, "bad", func(*Value, []any) (any, error) {
		return make(chan int), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "TypeError", evalValue(t, c, "try { bad() } catch (e) { e.name }"))
}

func TestCallback_ThrownErrorPicksConstructor(t *testing.T) {
	c := newTestContext(t)

	_, err := c.RegisterFunc(nil, "lookup", func(*Value, []any) (any, error) {
		return nil, &ThrownError{Name: "RangeError", Err: errors.New("out of bounds")}
	})
	require.NoError(t, err)
	assert.Equal(t, true, evalValue(t, c,
		"try { lookup() } catch (e) { e instanceof RangeError && e.message === 'out of bounds' }"))
}

func TestCallback_PanicIsThrown(t *testing.T) {
	c := newTestContext(t)

	_, err := c.RegisterFunc(nil, "explode", func(*Value, []any) (any, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	msg := evalValue(t, c, "try { explode() } catch (e) { e.message }")
	assert.Equal(t, "host callback panicked: kaboom", msg)

	// The runtime is still usable.
	assert.Equal(t, int64(2), evalValue(t, c, "1 + 1"))
}

func TestCallback_ErrorSurfacesToHostCaller(t *testing.T) {
	c := newTestContext(t)

	_, err := c.RegisterFunc(nil, "fail", func(*Value, []any) (any, error) {
		return nil, errors.New("host says no")
	})
	require.NoError(t, err)

	_, err = c.Eval("fail()", "caller.js", EvalGlobal)
	var jsErr *JSError
	require.True(t, errors.As(err, &jsErr))
	assert.Equal(t, "Error", jsErr.Name)
	assert.Equal(t, "host says no", jsErr.Message)
}

func TestCallback_Receiver(t *testing.T) {
	c := newTestContext(t)

	var got []string
	_, err := c.RegisterFunc(nil, "probe", func(this *Value, _ []any) (any, error) {
		switch {
		case this == nil:
			got = append(got, "nil")
		case this.Borrowed():
			got = append(got, "global")
		default:
			tag, err := this.Get("tag")
			if err != nil {
				return nil, err
			}
			got = append(got, tag.Value.(string))
		}
		return nil, nil
	})
	require.NoError(t, err)

	evalJS(t, c, `
		probe();
		globalThis.probe();
		({ tag: "obj", probe: probe }).probe();
		probe.call(null);
	`)
	assert.Equal(t, []string{"nil", "global", "obj", "nil"}, got)
}

func TestCallback_ArgumentsAreScoped(t *testing.T) {
	c := newTestContext(t)

	var scoped, kept *Value
	_, err := c.RegisterFunc(nil, "grab", func(_ *Value, args []any) (any, error) {
		scoped = args[0].(*Value)
		var err error
		kept, err = scoped.Dup()
		return nil, err
	})
	require.NoError(t, err)
	evalJS(t, c, "grab({ n: 42 })")

	_, err = scoped.Get("n")
	assert.ErrorIs(t, err, ErrFreed)

	res, err := kept.Get("n")
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Value)
	kept.Free()
}

func TestCallback_ArgumentTypes(t *testing.T) {
	c := newTestContext(t)

	var types []Type
	var values []any
	_, err := c.RegisterFunc(nil, "inspect", func(_ *Value, args []any) (any, error) {
		for _, a := range args {
			switch x := a.(type) {
			case *Value:
				types = append(types, x.Type())
			default:
				values = append(values, x)
			}
		}
		return nil, nil
	})
	require.NoError(t, err)

	evalJS(t, c, "inspect(1, 2.5, 'str', true, null, undefined, [1], {}, () => 1, new Uint8Array(1))")
	assert.Equal(t, []any{int64(1), 2.5, "str", true, nil, nil}, values)
	assert.Equal(t, []Type{TypeArray, TypeObject, TypeFunction, TypeUint8Array}, types)
}

func TestCallback_BindById(t *testing.T) {
	c := newTestContext(t)

	require.NoError(t, c.Bind(1000, func(*Value, []any) (any, error) { return "first", nil }))
	fn, err := c.RegisterCallback(nil, "byId", 1000)
	require.NoError(t, err)
	defer fn.Free()
	assert.Equal(t, "first", evalValue(t, c, "byId()"))

	// Rebinding changes what the existing JS function does.
	require.NoError(t, c.Bind(1000, func(*Value, []any) (any, error) { return "second", nil }))
	assert.Equal(t, "second", evalValue(t, c, "byId()"))

	require.NoError(t, c.Unbind(1000))
	msg := evalValue(t, c, "try { byId() } catch (e) { e.message }")
	assert.Equal(t, "no host callback bound to id 1000", msg)
}

func TestCallback_RegisterOnObject(t *testing.T) {
	c := newTestContext(t)

	ns, err := c.NewObject()
	require.NoError(t, err)
	defer ns.Free()
	require.NoError(t, c.Global().Set("host", ns))

	_, err = c.RegisterFunc(ns, "version", func(*Value, []any) (any, error) { return "1.0", nil })
	require.NoError(t, err)
	assert.Equal(t, "1.0", evalValue(t, c, "host.version()"))
	assert.Equal(t, "undefined", evalValue(t, c, "typeof version"))
}

func TestCallback_VoidFunc(t *testing.T) {
	c := newTestContext(t)

	var seen []any
	_, err := c.RegisterVoidFunc(nil, "record", func(_ *Value, args []any) error {
		seen = append(seen, args...)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, TypeUndefined, evalJS(t, c, "record('a', 1)").Type)
	assert.Equal(t, []any{"a", int64(1)}, seen)
}

func TestCallback_NestedEvalDoesNotPump(t *testing.T) {
	c := newTestContext(t)

	var pendingInside bool
	_, err := c.RegisterFunc(nil, "nested", func(*Value, []any) (any, error) {
		if _, err := c.Eval("Promise.resolve().then(() => { globalThis.ran = true })", "<inner>", EvalGlobal); err != nil {
			return nil, err
		}
		var err error
		pendingInside, err = c.IsJobPending()
		return nil, err
	})
	require.NoError(t, err)

	evalJS(t, c, "globalThis.ran = false; nested()")
	assert.True(t, pendingInside)
	assert.Equal(t, true, evalValue(t, c, "ran"))
}

// ---------------------------------------------------------------------------
// Go functions and objects
// ---------------------------------------------------------------------------

func TestRegisterGoFunc(t *testing.T) {
	c := newTestContext(t)

	_, err := c.RegisterGoFunc(nil, "div", func(a, b int) (int, error) {
		if b == 0 {
			return 0, errors.New("division by zero")
		}
		return a / b, nil
	})
	require.NoError(t, err)
	_, err = c.RegisterGoFunc(nil, "join", func(sep string, parts ...string) string {
		return strings.Join(parts, sep)
	})
	require.NoError(t, err)
	_, err = c.RegisterGoFunc(nil, "total", func(m map[string]float64) float64 {
		var sum float64
		for _, v := range m {
			sum += v
		}
		return sum
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), evalValue(t, c, "div(7, 2)"))
	assert.Equal(t, "TypeError: calling div: division by zero",
		evalValue(t, c, "try { div(1, 0) } catch (e) { e.name + ': ' + e.message }"))
	assert.Equal(t, "a-b-c", evalValue(t, c, "join('-', 'a', 'b', 'c')"))
	assert.Equal(t, 3.5, evalValue(t, c, "total({ x: 1, y: 2.5 })"))

	msg := evalValue(t, c, "try { div('x', 1) } catch (e) { e.message }")
	assert.Contains(t, msg, "calling div: argument 0")
}

func TestRegisterGoFunc_Rejects(t *testing.T) {
	c := newTestContext(t)

	_, err := c.RegisterGoFunc(nil, "nope", 42)
	assert.ErrorIs(t, err, ErrNotFunction)

	_, err = c.RegisterGoFunc(nil, "pair", func() (int, int) { return 1, 2 })
	assert.ErrorContains(t, err, "results must be")
}

type greeter struct{ greeting string }

func (g *greeter) Greet(name string) string { return g.greeting + ", " + name }

func (g *greeter) SetGreeting(s string) { g.greeting = s }

func (g *greeter) HTTPStatus() int { return 200 }

func TestExpose(t *testing.T) {
	c := newTestContext(t)

	g := &greeter{greeting: "hello"}
	obj, err := c.Expose(nil, "greeter", g)
	require.NoError(t, err)
	defer obj.Free()

	assert.Equal(t, "hello, ann", evalValue(t, c, "greeter.greet('ann')"))
	evalJS(t, c, "greeter.setGreeting('hi')")
	assert.Equal(t, "hi", g.greeting)
	assert.Equal(t, int64(200), evalValue(t, c, "greeter.httpStatus()"))
}

func TestLowerCamel(t *testing.T) {
	tests := map[string]string{
		"Greet":      "greet",
		"HTTPServer": "httpServer",
		"URL":        "url",
		"ID":         "id",
		"already":    "already",
		"GetX":       "getX",
	}
	for in, want := range tests {
		assert.Equal(t, want, lowerCamel(in), in)
	}
}

func TestRegisterClass(t *testing.T) {
	c := newTestContext(t)

	ctor, err := c.RegisterClass(nil, "Counter", func(this *Value, args []any) error {
		start := int64(0)
		if len(args) > 0 {
			start, _ = args[0].(int64)
		}
		return this.Set("count", start)
	})
	require.NoError(t, err)
	defer ctor.Free()

	evalJS(t, c, "Counter.prototype.inc = function () { return ++this.count }")
	assert.Equal(t, int64(11), evalValue(t, c, "const k = new Counter(10); k.inc()"))
	assert.Equal(t, true, evalValue(t, c, "k instanceof Counter"))
	assert.Equal(t, "Counter", evalValue(t, c, "Counter.name"))

	msg := evalValue(t, c, "try { Counter() } catch (e) { e.name }")
	assert.Equal(t, "TypeError", msg)

	obj, err := ctor.Construct(5)
	require.NoError(t, err)
	defer obj.Free()
	res, err := obj.Get("count")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Value)
}
