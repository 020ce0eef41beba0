package qjsbridge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/qjsbridge/internal/abi"
)

// Callback is a host function callable from JS.
//
// this is nil when the receiver is null or undefined, and a borrowed handle
// when it is the global object. args holds the converted arguments: Go
// primitives, or *Value handles for objects. Every handle passed in is
// released when the callback returns; Dup one to keep it.
//
// A returned error is thrown into JS as an Error carrying the error text. A
// panic is recovered and thrown the same way.
type Callback func(this *Value, args []any) (any, error)

// Bind installs fn under id, replacing any callback already bound to it.
func (c *Context) Bind(id int32, fn Callback) error {
	return c.do(func() error {
		c.callbacks[id] = fn
		return nil
	})
}

// Unbind removes the callback bound to id. Functions still referring to id
// throw when called.
func (c *Context) Unbind(id int32) error {
	return c.do(func() error {
		delete(c.callbacks, id)
		return nil
	})
}

// RegisterCallback creates a function that dispatches to the callback bound
// to id and stores it as target[name]. A nil target means the global object.
// Registering the same name again overwrites the property.
func (c *Context) RegisterCallback(target *Value, name string, id int32) (*Value, error) {
	return c.register(target, name, id, false)
}

// RegisterFunc binds fn under a fresh id and stores it as target[name].
func (c *Context) RegisterFunc(target *Value, name string, fn Callback) (*Value, error) {
	var out *Value
	err := c.do(func() error {
		id := c.allocCallback(fn)
		var err error
		out, err = c.register(target, name, id, false)
		return err
	})
	return out, err
}

// RegisterVoidFunc is RegisterFunc for callbacks with no result. Calls
// from JS always return undefined.
func (c *Context) RegisterVoidFunc(target *Value, name string, fn func(this *Value, args []any) error) (*Value, error) {
	var out *Value
	err := c.do(func() error {
		id := c.allocCallback(func(this *Value, args []any) (any, error) {
			return nil, fn(this, args)
		})
		var err error
		out, err = c.register(target, name, id, true)
		return err
	})
	return out, err
}

// NewFunction returns a JS function backed by fn without attaching it
// anywhere.
func (c *Context) NewFunction(fn Callback) (*Value, error) {
	var out *Value
	err := c.do(func() error {
		raw := c.hostFunction(c.allocCallback(fn), false)
		if raw.IsException() {
			return c.currentError()
		}
		out = c.track(raw, TypeFunction)
		return nil
	})
	return out, err
}

func (c *Context) allocCallback(fn Callback) int32 {
	for {
		c.nextCallback++
		if c.nextCallback <= 0 {
			c.nextCallback = 1
		}
		if _, taken := c.callbacks[c.nextCallback]; !taken {
			c.callbacks[c.nextCallback] = fn
			return c.nextCallback
		}
	}
}

func (c *Context) register(target *Value, name string, id int32, void bool) (*Value, error) {
	var out *Value
	err := c.do(func() error {
		obj := c.global
		if target != nil {
			if err := c.own(target); err != nil {
				return err
			}
			obj = target.raw
		}
		fn := c.hostFunction(id, void)
		if fn.IsException() {
			return c.currentError()
		}
		if !c.engine.SetProp(obj, name, c.engine.Dup(fn)) {
			err := c.currentError()
			c.engine.Free(fn)
			return fmt.Errorf("registering %s: %w", name, err)
		}
		out = c.track(fn, TypeFunction)
		return nil
	})
	return out, err
}

// hostFunction creates a native function carrying [id, void] as its data.
func (c *Context) hostFunction(id int32, void bool) abi.Value {
	return c.engine.NewFunction(0, []abi.Value{abi.NewInt32(id), abi.NewBool(void)})
}

// dispatch runs the callback bound to id for a call from JS. this and args
// are borrowed from the engine. The result is an owned value or the
// exception sentinel.
func (c *Context) dispatch(id int32, void bool, this abi.Value, args []abi.Value) abi.Value {
	fn, ok := c.callbacks[id]
	if !ok {
		return c.engine.ThrowError("Error", fmt.Sprintf("no host callback bound to id %d", id))
	}

	var scoped []*Value
	defer func() {
		for _, v := range scoped {
			v.release()
		}
	}()

	var recv *Value
	switch {
	case this.IsNull() || this.IsUndefined():
	case abi.Equal(this, c.global):
		recv = c.borrow(this, TypeObject)
	default:
		recv = c.track(c.engine.Dup(this), c.classify(this, TypeUnknown))
		scoped = append(scoped, recv)
	}

	in := make([]any, len(args))
	for i, a := range args {
		res, err := c.toHost(c.engine.Dup(a), TypeUnknown)
		if err != nil {
			return c.throwHostError(fmt.Errorf("converting argument %d: %w", i, err))
		}
		if h := res.Handle(); h != nil {
			scoped = append(scoped, h)
		}
		in[i] = res.Value
	}

	out, err := c.callHost(fn, recv, in)
	if err != nil {
		return c.throwHostError(err)
	}
	if void {
		return abi.Undefined
	}
	return c.toEngine(out)
}

// callHost runs fn, turning a panic into an error.
func (c *Context) callHost(fn Callback, this *Value, args []any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.rt.log.Error("host callback panicked", zap.Any("panic", r))
			err = fmt.Errorf("host callback panicked: %v", r)
		}
	}()
	return fn(this, args)
}
