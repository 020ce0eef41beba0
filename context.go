package qjsbridge

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/qjsbridge/internal/abi"
	"github.com/cryguy/qjsbridge/internal/quickjs"
)

// Context is one JS global environment inside a Runtime.
type Context struct {
	rt     *Runtime
	engine *quickjs.Context
	global abi.Value // owned for the context's lifetime

	handles    map[uint64]*Value
	nextHandle uint64

	callbacks    map[int32]Callback
	nextCallback int32

	helpers map[string]abi.Value // compiled JS helper functions
	modules map[string]abi.Value // CommonJS module objects by canonical name
	timers  map[int]struct{}

	fault  error // asynchronous failure waiting to be reported
	closed bool
}

// NewContext creates a context and installs the plugins enabled in the
// runtime's configuration.
func (r *Runtime) NewContext() (*Context, error) {
	var c *Context
	err := r.run(func() error {
		ec, err := r.engine.NewContext()
		if err != nil {
			return err
		}
		c = &Context{
			rt:        r,
			engine:    ec,
			global:    ec.Global(),
			handles:   make(map[uint64]*Value),
			callbacks: make(map[int32]Callback),
			helpers:   make(map[string]abi.Value),
			modules:   make(map[string]abi.Value),
			timers:    make(map[int]struct{}),
		}
		r.contexts[ec] = c

		if r.cfg.Console {
			if err := c.installConsole(); err != nil {
				c.close()
				return fmt.Errorf("installing console: %w", err)
			}
		}
		if r.cfg.Timers {
			if err := c.installTimers(); err != nil {
				c.close()
				return fmt.Errorf("installing timers: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Runtime returns the runtime the context belongs to.
func (c *Context) Runtime() *Runtime { return c.rt }

// Close releases every handle still owned by the context, its callbacks and
// timers, and then the context itself.
func (c *Context) Close() error {
	err := c.rt.run(func() error {
		c.close()
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Context) close() {
	if c.closed {
		return
	}
	for id := range c.timers {
		c.rt.loop.ClearTimer(id)
	}
	c.timers = nil

	if n := len(c.handles); n > 0 {
		c.rt.log.Debug("releasing handles at context close", zap.Int("count", n))
	}
	for _, v := range c.handles {
		c.engine.Free(v.raw)
		v.freed = true
	}
	c.handles = nil

	for _, m := range c.modules {
		c.engine.Free(m)
	}
	c.modules = nil
	for _, h := range c.helpers {
		c.engine.Free(h)
	}
	c.helpers = nil
	c.callbacks = nil

	c.engine.Free(c.global)
	c.closed = true
	delete(c.rt.contexts, c.engine)
	c.engine.Close()
}

// enter runs fn as a call into the engine. The outermost call on the loop
// pumps the job queue once fn succeeds; calls nested inside host callbacks
// never pump.
func (c *Context) enter(fn func() error) error {
	return c.rt.run(func() error {
		if c.closed {
			return ErrClosed
		}
		outermost := c.rt.depth == 0
		err := func() error {
			c.rt.depth++
			defer func() { c.rt.depth-- }()
			return fn()
		}()
		if outermost && err == nil {
			err = c.drainJobs()
		}
		return err
	})
}

// do runs fn on the loop without pumping jobs.
func (c *Context) do(fn func() error) error {
	return c.rt.run(func() error {
		if c.closed {
			return ErrClosed
		}
		return fn()
	})
}

// recordFault keeps the first asynchronous failure for the next pump.
func (c *Context) recordFault(err error) {
	c.rt.log.Warn("asynchronous failure", zap.Error(err))
	if c.fault == nil {
		c.fault = err
	}
}

func (c *Context) takeFault() error {
	err := c.fault
	c.fault = nil
	return err
}

// helper compiles and caches a JS function expression.
func (c *Context) helper(name, source string) (abi.Value, error) {
	if fn, ok := c.helpers[name]; ok {
		return fn, nil
	}
	fn := c.engine.Eval(source, "<"+name+">", quickjs.EvalGlobal|quickjs.EvalStrict)
	if fn.IsException() {
		return abi.Undefined, fmt.Errorf("compiling %s: %w", name, c.currentError())
	}
	c.helpers[name] = fn
	return fn, nil
}

// callHelper calls a cached helper with borrowed args and returns an owned
// result.
func (c *Context) callHelper(name, source string, args ...abi.Value) (abi.Value, error) {
	fn, err := c.helper(name, source)
	if err != nil {
		return abi.Undefined, err
	}
	res := c.engine.Call(fn, abi.Undefined, args)
	if res.IsException() {
		return abi.Undefined, c.currentError()
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// Eval evaluates source and converts its completion value for the host.
// The job queue is pumped afterwards.
func (c *Context) Eval(source, filename string, flags EvalFlag) (Result, error) {
	return c.EvalTyped(source, filename, flags, TypeUnknown)
}

// EvalTyped is Eval with the result coerced to hint.
func (c *Context) EvalTyped(source, filename string, flags EvalFlag, hint Type) (Result, error) {
	var res Result
	err := c.enter(func() error {
		v := c.engine.Eval(source, filename, int(flags))
		if v.IsException() {
			return fmt.Errorf("evaluating %s: %w", filename, c.currentError())
		}
		var err error
		res, err = c.toHost(v, hint)
		return err
	})
	if err != nil {
		res.Free()
		return Result{}, err
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// Global returns the global object. The handle is borrowed: Free is a no-op
// and it stays valid until the context is closed.
func (c *Context) Global() *Value {
	return &Value{ctx: c, raw: c.global, typ: TypeObject}
}

// NewObject creates an empty object.
func (c *Context) NewObject() (*Value, error) {
	return c.newValue(func() abi.Value { return c.engine.NewObject() }, TypeObject)
}

// NewArray creates an empty array.
func (c *Context) NewArray() (*Value, error) {
	return c.newValue(func() abi.Value { return c.engine.NewArray() }, TypeArray)
}

// NewBytes creates an ArrayBuffer holding a copy of b.
func (c *Context) NewBytes(b []byte) (*Value, error) {
	return c.newValue(func() abi.Value { return c.engine.NewArrayBuffer(b) }, TypeByte)
}

// NewError creates an Error object with message. The error is not thrown.
func (c *Context) NewError(message string) (*Value, error) {
	return c.newValue(func() abi.Value {
		errVal := c.engine.NewError()
		if errVal.IsException() {
			return errVal
		}
		c.engine.DefineValue(errVal, "message", c.engine.NewString(message),
			quickjs.PropWritable|quickjs.PropConfigurable)
		return errVal
	}, TypeException)
}

// ToValue marshals a host value into the engine and returns its handle.
func (c *Context) ToValue(x any) (*Value, error) {
	var out *Value
	err := c.do(func() error {
		raw, err := c.toEngineErr(x)
		if err != nil {
			return err
		}
		out = c.track(raw, c.classify(raw, TypeUnknown))
		return nil
	})
	return out, err
}

func (c *Context) newValue(mk func() abi.Value, typ Type) (*Value, error) {
	var out *Value
	err := c.do(func() error {
		raw := mk()
		if raw.IsException() {
			return c.currentError()
		}
		out = c.track(raw, typ)
		return nil
	})
	return out, err
}

// ParseJSON parses text with the engine's JSON parser.
func (c *Context) ParseJSON(text string) (Result, error) {
	var res Result
	err := c.do(func() error {
		v := c.engine.ParseJSON(text, "<json>")
		if v.IsException() {
			return fmt.Errorf("parsing JSON: %w", c.currentError())
		}
		var err error
		res, err = c.toHost(v, TypeUnknown)
		return err
	})
	return res, err
}

// LinkConstructor sets ctor.prototype = proto and proto.constructor = ctor.
func (c *Context) LinkConstructor(ctor, proto *Value) error {
	return c.do(func() error {
		if err := c.own(ctor, proto); err != nil {
			return err
		}
		if !c.engine.IsFunction(ctor.raw) {
			return ErrNotFunction
		}
		c.engine.SetConstructor(ctor.raw, proto.raw)
		return nil
	})
}

// Classify returns v's semantic type. A hint other than TypeUnknown wins for
// every value except null and undefined.
func (c *Context) Classify(v *Value, hint Type) (Type, error) {
	var typ Type
	err := c.do(func() error {
		if err := c.own(v); err != nil {
			return err
		}
		typ = c.classify(v.raw, hint)
		return nil
	})
	return typ, err
}

// FromHandle takes a new reference to the engine value h describes. h must
// come from Value.Handle on a live value of this runtime.
func (c *Context) FromHandle(h Handle) (*Value, error) {
	var out *Value
	err := c.do(func() error {
		raw := abi.Decode(h)
		out = c.track(c.engine.Dup(raw), c.classify(raw, TypeUnknown))
		return nil
	})
	return out, err
}

// ExecutePendingJobs runs queued jobs until none remain or one fails, then
// reports unhandled rejections.
func (c *Context) ExecutePendingJobs() error {
	return c.do(c.drainJobs)
}

// IsJobPending reports whether the runtime's job queue is non-empty.
func (c *Context) IsJobPending() (bool, error) {
	var pending bool
	err := c.do(func() error {
		pending = c.rt.engine.IsJobPending()
		return nil
	})
	return pending, err
}

// own checks that every handle is live and belongs to this runtime.
func (c *Context) own(vs ...*Value) error {
	for _, v := range vs {
		if v == nil {
			return fmt.Errorf("qjsbridge: nil value")
		}
		if v.ctx.rt != c.rt {
			return ErrForeignValue
		}
		if v.freed || v.ctx.closed {
			return ErrFreed
		}
	}
	return nil
}
