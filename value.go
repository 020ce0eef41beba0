package qjsbridge

import (
	"fmt"

	"github.com/cryguy/qjsbridge/internal/abi"
)

// Value is a host handle to an engine value.
//
// Owned handles hold one reference and must be released with Free; anything
// still open when the context closes is released then. Borrowed handles
// (Context.Global, a global receiver passed to a callback) hold no
// reference and Free does nothing.
//
// Handles passed to a Callback as arguments or receiver are released when
// the callback returns. Use Dup to keep one longer.
type Value struct {
	ctx   *Context
	raw   abi.Value
	typ   Type
	id    uint64 // 0 for borrowed handles
	freed bool
}

// track wraps an owned engine value.
func (c *Context) track(raw abi.Value, typ Type) *Value {
	c.nextHandle++
	v := &Value{ctx: c, raw: raw, typ: typ, id: c.nextHandle}
	c.handles[v.id] = v
	return v
}

// borrow wraps an engine value without taking a reference.
func (c *Context) borrow(raw abi.Value, typ Type) *Value {
	return &Value{ctx: c, raw: raw, typ: typ}
}

// release drops the handle's reference. It must run on the loop.
func (v *Value) release() {
	if v.freed || v.id == 0 {
		return
	}
	v.freed = true
	if _, ok := v.ctx.handles[v.id]; ok {
		delete(v.ctx.handles, v.id)
		v.ctx.engine.Free(v.raw)
	}
}

// Free releases the handle. Calling it more than once is harmless.
func (v *Value) Free() {
	if v == nil || v.id == 0 {
		return
	}
	_ = v.ctx.rt.run(func() error {
		v.release()
		return nil
	})
}

// Context returns the context the value was created in.
func (v *Value) Context() *Context { return v.ctx }

// Type returns the value's semantic type, fixed when the handle was made.
func (v *Value) Type() Type { return v.typ }

// Borrowed reports whether the handle holds no reference of its own.
func (v *Value) Borrowed() bool { return v.id == 0 }

// Handle returns the flat wire form of the value. The handle does not keep
// the value alive.
func (v *Value) Handle() Handle { return abi.Encode(v.raw) }

// Dup returns a new owned handle to the same engine value.
func (v *Value) Dup() (*Value, error) {
	var out *Value
	err := v.ctx.do(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		out = v.ctx.track(v.ctx.engine.Dup(v.raw), v.typ)
		return nil
	})
	return out, err
}

// Same reports whether both handles refer to the same engine value.
func (v *Value) Same(o *Value) bool {
	return v != nil && o != nil && abi.Equal(v.raw, o.raw)
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	s, err := v.ToString()
	if err != nil {
		return fmt.Sprintf("<%s: %v>", v.typ, err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

// Get reads v[name] and converts it for the host.
func (v *Value) Get(name string) (Result, error) {
	return v.GetTyped(name, TypeUnknown)
}

// GetTyped reads v[name] and coerces it to hint.
func (v *Value) GetTyped(name string, hint Type) (Result, error) {
	var res Result
	err := v.ctx.enter(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		raw := v.ctx.engine.GetProp(v.raw, name)
		if raw.IsException() {
			return fmt.Errorf("getting %q: %w", name, v.ctx.currentError())
		}
		var err error
		res, err = v.ctx.toHost(raw, hint)
		return err
	})
	if err != nil {
		res.Free()
		return Result{}, err
	}
	return res, nil
}

// GetValue reads v[name] as a handle, whatever its type.
func (v *Value) GetValue(name string) (*Value, error) {
	var out *Value
	err := v.ctx.enter(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		raw := v.ctx.engine.GetProp(v.raw, name)
		if raw.IsException() {
			return fmt.Errorf("getting %q: %w", name, v.ctx.currentError())
		}
		out = v.ctx.track(raw, v.ctx.classify(raw, TypeUnknown))
		return nil
	})
	if err != nil {
		out.Free()
		return nil, err
	}
	return out, nil
}

// Set marshals x and stores it at v[name].
func (v *Value) Set(name string, x any) error {
	return v.ctx.enter(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		raw, err := v.ctx.toEngineErr(x)
		if err != nil {
			return fmt.Errorf("setting %q: %w", name, err)
		}
		if !v.ctx.engine.SetProp(v.raw, name, raw) {
			return fmt.Errorf("setting %q: %w", name, v.ctx.currentError())
		}
		return nil
	})
}

// Has reports whether name is a property of v or its prototype chain.
func (v *Value) Has(name string) (bool, error) {
	var has bool
	err := v.ctx.do(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		var ok bool
		has, ok = v.ctx.engine.HasProp(v.raw, name)
		if !ok {
			return fmt.Errorf("checking %q: %w", name, v.ctx.currentError())
		}
		return nil
	})
	return has, err
}

// Keys lists v's own enumerable string keys. Array indices come first in
// ascending order, then other keys in insertion order.
func (v *Value) Keys() ([]string, error) {
	var keys []string
	err := v.ctx.do(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		var ok bool
		keys, ok = v.ctx.engine.OwnKeys(v.raw)
		if !ok {
			return fmt.Errorf("listing keys: %w", v.ctx.currentError())
		}
		return nil
	})
	return keys, err
}

// ---------------------------------------------------------------------------
// Indexed access
// ---------------------------------------------------------------------------

// Index reads v[i].
func (v *Value) Index(i int) (Result, error) {
	return v.IndexTyped(i, TypeUnknown)
}

// IndexTyped reads v[i] and coerces it to hint.
func (v *Value) IndexTyped(i int, hint Type) (Result, error) {
	var res Result
	err := v.ctx.enter(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		if i < 0 {
			return fmt.Errorf("index %d out of range", i)
		}
		raw := v.ctx.engine.GetIndex(v.raw, uint32(i))
		if raw.IsException() {
			return fmt.Errorf("getting index %d: %w", i, v.ctx.currentError())
		}
		var err error
		res, err = v.ctx.toHost(raw, hint)
		return err
	})
	if err != nil {
		res.Free()
		return Result{}, err
	}
	return res, nil
}

// SetIndex marshals x and stores it at v[i].
func (v *Value) SetIndex(i int, x any) error {
	return v.ctx.enter(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		if i < 0 {
			return fmt.Errorf("index %d out of range", i)
		}
		raw, err := v.ctx.toEngineErr(x)
		if err != nil {
			return fmt.Errorf("setting index %d: %w", i, err)
		}
		if !v.ctx.engine.SetIndex(v.raw, uint32(i), raw) {
			return fmt.Errorf("setting index %d: %w", i, v.ctx.currentError())
		}
		return nil
	})
}

// Len returns v.length.
func (v *Value) Len() (int, error) {
	var n int
	err := v.ctx.do(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		var err error
		n, err = v.ctx.length(v.raw)
		return err
	})
	return n, err
}

// Push appends x at index v.length.
func (v *Value) Push(x any) error {
	return v.ctx.enter(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		n, err := v.ctx.length(v.raw)
		if err != nil {
			return err
		}
		raw, err := v.ctx.toEngineErr(x)
		if err != nil {
			return fmt.Errorf("pushing: %w", err)
		}
		if !v.ctx.engine.SetIndex(v.raw, uint32(n), raw) {
			return fmt.Errorf("pushing: %w", v.ctx.currentError())
		}
		return nil
	})
}

func (c *Context) length(obj abi.Value) (int, error) {
	l := c.engine.GetProp(obj, "length")
	if l.IsException() {
		return 0, fmt.Errorf("reading length: %w", c.currentError())
	}
	defer c.engine.Free(l)
	n, ok := c.engine.ToInt64(l)
	if !ok {
		return 0, fmt.Errorf("reading length: %w", c.currentError())
	}
	return int(n), nil
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

// Call invokes the method v[name] with v as receiver. When v is the global
// object the receiver is undefined instead.
func (v *Value) Call(name string, args ...any) (Result, error) {
	var res Result
	err := v.ctx.enter(func() error {
		c := v.ctx
		if err := c.own(v); err != nil {
			return err
		}
		fn := c.engine.GetProp(v.raw, name)
		if fn.IsException() {
			return fmt.Errorf("calling %s: %w", name, c.currentError())
		}
		defer c.engine.Free(fn)
		if !c.engine.IsFunction(fn) {
			return fmt.Errorf("calling %s: %w", name, ErrNotFunction)
		}
		this := v.raw
		if abi.Equal(this, c.global) {
			this = abi.Undefined
		}
		var err error
		res, err = c.invoke(fn, this, args)
		if err != nil {
			return fmt.Errorf("calling %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		res.Free()
		return Result{}, err
	}
	return res, nil
}

// Invoke calls v as a function. A nil receiver means undefined.
func (v *Value) Invoke(this *Value, args ...any) (Result, error) {
	var res Result
	err := v.ctx.enter(func() error {
		c := v.ctx
		if err := c.own(v); err != nil {
			return err
		}
		if !c.engine.IsFunction(v.raw) {
			return ErrNotFunction
		}
		recv := abi.Undefined
		if this != nil {
			if err := c.own(this); err != nil {
				return err
			}
			recv = this.raw
		}
		var err error
		res, err = c.invoke(v.raw, recv, args)
		return err
	})
	if err != nil {
		res.Free()
		return Result{}, err
	}
	return res, nil
}

// Construct evaluates `new v(...args)`.
func (v *Value) Construct(args ...any) (*Value, error) {
	var out *Value
	err := v.ctx.enter(func() error {
		c := v.ctx
		if err := c.own(v); err != nil {
			return err
		}
		argv, err := c.marshalArgs(args)
		if err != nil {
			return err
		}
		defer c.freeAll(argv)
		raw := c.engine.CallConstructor(v.raw, argv)
		if raw.IsException() {
			return c.currentError()
		}
		out = c.track(raw, c.classify(raw, TypeUnknown))
		return nil
	})
	if err != nil {
		out.Free()
		return nil, err
	}
	return out, nil
}

// invoke calls fn with marshaled args. Engine-owned copies of the args are
// released afterwards.
func (c *Context) invoke(fn, this abi.Value, args []any) (Result, error) {
	argv, err := c.marshalArgs(args)
	if err != nil {
		return Result{}, err
	}
	defer c.freeAll(argv)
	raw := c.engine.Call(fn, this, argv)
	if raw.IsException() {
		return Result{}, c.currentError()
	}
	return c.toHost(raw, TypeUnknown)
}

func (c *Context) marshalArgs(args []any) ([]abi.Value, error) {
	argv := make([]abi.Value, 0, len(args))
	for i, a := range args {
		raw, err := c.toEngineErr(a)
		if err != nil {
			c.freeAll(argv)
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		argv = append(argv, raw)
	}
	return argv, nil
}

func (c *Context) freeAll(vs []abi.Value) {
	for _, v := range vs {
		c.engine.Free(v)
	}
}

// ---------------------------------------------------------------------------
// Prototypes, conversion and inspection
// ---------------------------------------------------------------------------

// Prototype returns Object.getPrototypeOf(v).
func (v *Value) Prototype() (Result, error) {
	var res Result
	err := v.ctx.do(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		raw := v.ctx.engine.GetPrototype(v.raw)
		if raw.IsException() {
			return v.ctx.currentError()
		}
		var err error
		res, err = v.ctx.toHost(raw, TypeUnknown)
		return err
	})
	return res, err
}

// SetPrototype replaces v's prototype. A nil proto means null.
func (v *Value) SetPrototype(proto *Value) error {
	return v.ctx.do(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		p := abi.Null
		if proto != nil {
			if err := v.ctx.own(proto); err != nil {
				return err
			}
			p = proto.raw
		}
		if !v.ctx.engine.SetPrototype(v.raw, p) {
			return v.ctx.currentError()
		}
		return nil
	})
}

// JSON returns JSON.stringify(v). Values JSON cannot represent, such as
// functions, produce "".
func (v *Value) JSON() (string, error) {
	var out string
	err := v.ctx.do(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		s := v.ctx.engine.Stringify(v.raw)
		if s.IsException() {
			return fmt.Errorf("stringifying: %w", v.ctx.currentError())
		}
		defer v.ctx.engine.Free(s)
		if s.IsUndefined() {
			return nil
		}
		var ok bool
		out, ok = v.ctx.engine.ToGoString(s)
		if !ok {
			return v.ctx.currentError()
		}
		return nil
	})
	return out, err
}

// ToString returns String(v).
func (v *Value) ToString() (string, error) {
	var out string
	err := v.ctx.do(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		var ok bool
		out, ok = v.ctx.engine.ToGoString(v.raw)
		if !ok {
			return v.ctx.currentError()
		}
		return nil
	})
	return out, err
}

// IsError reports whether v is an Error object.
func (v *Value) IsError() bool {
	var is bool
	_ = v.ctx.do(func() error {
		if v.ctx.own(v) == nil {
			is = v.ctx.engine.IsError(v.raw)
		}
		return nil
	})
	return is
}

// IsFunction reports whether v is callable.
func (v *Value) IsFunction() bool {
	var is bool
	_ = v.ctx.do(func() error {
		if v.ctx.own(v) == nil {
			is = v.ctx.engine.IsFunction(v.raw)
		}
		return nil
	})
	return is
}

// Bytes copies the contents of an ArrayBuffer or the bytes viewed by a
// typed array.
func (v *Value) Bytes() ([]byte, error) {
	var out []byte
	err := v.ctx.do(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		var ok bool
		switch {
		case v.typ == TypeByte:
			out, ok = v.ctx.engine.ArrayBufferBytes(v.raw)
		case v.typ.IsTypedArray():
			out, ok = v.ctx.engine.TypedArrayBytes(v.raw)
		default:
			return fmt.Errorf("qjsbridge: %s has no bytes", v.typ)
		}
		if !ok {
			return v.ctx.currentError()
		}
		return nil
	})
	return out, err
}

// Export converts v deeply: arrays become []any, plain objects
// map[string]any, ArrayBuffers and typed arrays []byte. Functions and
// other non-data values are an error.
func (v *Value) Export() (any, error) {
	var out any
	err := v.ctx.do(func() error {
		if err := v.ctx.own(v); err != nil {
			return err
		}
		var err error
		out, err = v.ctx.export(v.raw, 0)
		return err
	})
	return out, err
}
