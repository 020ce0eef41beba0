package quickjs

import (
	"fmt"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"

	"github.com/cryguy/qjsbridge/internal/abi"
)

// Eval flags.
const (
	EvalGlobal           = 0
	EvalModule           = 1 << 0
	EvalStrict           = 1 << 3
	EvalCompileOnly      = 1 << 5
	EvalBacktraceBarrier = 1 << 6
)

// Property enumeration flags for OwnKeys.
const (
	gpnStringMask = 1 << 0
	gpnEnumOnly   = 1 << 4
)

// Property flags for DefineValue.
const (
	PropConfigurable = 1 << 0
	PropWritable     = 1 << 1
	PropEnumerable   = 1 << 2
)

// Promise states reported by PromiseState.
const (
	PromisePending   = 0
	PromiseFulfilled = 1
	PromiseRejected  = 2
)

var zeroJSValue lib.TJSValue

// abi.Value must be layout-compatible with lib.TJSValue.
const (
	_ = uint(unsafe.Sizeof(zeroJSValue) - unsafe.Sizeof(abi.Value{}))
	_ = uint(unsafe.Sizeof(abi.Value{}) - unsafe.Sizeof(zeroJSValue))
)

const valueSize = int(unsafe.Sizeof(zeroJSValue))

func toC(v abi.Value) lib.TJSValue { return *(*lib.TJSValue)(unsafe.Pointer(&v)) }

func fromC(v lib.TJSValue) abi.Value { return *(*abi.Value)(unsafe.Pointer(&v)) }

// Context wraps one JSContext. Values returned by its methods are owned by
// the caller unless documented otherwise.
type Context struct {
	rt    *Runtime
	ptr   uintptr
	tls   *libc.TLS
	freed bool
}

// Runtime returns the runtime the context belongs to.
func (c *Context) Runtime() *Runtime { return c.rt }

// Pointer returns the JSContext address, stable for the context's lifetime.
func (c *Context) Pointer() uintptr { return c.ptr }

// Close frees the context. Values created in it must be released first.
func (c *Context) Close() {
	if c.freed {
		return
	}
	if c.rt.contexts != nil {
		delete(c.rt.contexts, c.ptr)
	}
	c.free()
}

func (c *Context) free() {
	if c.freed {
		return
	}
	c.freed = true
	lib.XJS_FreeContext(c.tls, c.ptr)
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// Dup takes a new reference to v.
func (c *Context) Dup(v abi.Value) abi.Value {
	if v.HasRefCount() {
		// JSRefCountHeader is the first word of every refcounted cell.
		(*(*int32)(unsafe.Pointer(v.Ptr())))++
	}
	return v
}

// Free drops one reference to v.
func (c *Context) Free(v abi.Value) {
	if v.HasRefCount() {
		lib.XFreeValue(c.tls, c.ptr, toC(v))
	}
}

// ---------------------------------------------------------------------------
// C memory helpers
// ---------------------------------------------------------------------------

// withCString runs fn with a NUL-terminated copy of s in C memory.
func (c *Context) withCString(s string, fn func(p uintptr)) error {
	p, err := libc.CString(s)
	if err != nil {
		return fmt.Errorf("allocating C string: %w", err)
	}
	defer libc.Xfree(c.tls, p)
	fn(p)
	return nil
}

// withArgv copies args into a C array for the duration of fn.
func (c *Context) withArgv(args []abi.Value, fn func(argc int32, argv uintptr)) {
	if len(args) == 0 {
		fn(0, 0)
		return
	}
	n := len(args) * valueSize
	argv := c.tls.Alloc(n)
	defer c.tls.Free(n)
	for i, a := range args {
		*(*lib.TJSValue)(unsafe.Pointer(argv + uintptr(i*valueSize))) = toC(a)
	}
	fn(int32(len(args)), argv)
}

// readArgv copies argc values out of a C array without touching refcounts.
func readArgv(argc int32, argv uintptr) []abi.Value {
	out := make([]abi.Value, argc)
	for i := range out {
		out[i] = fromC(*(*lib.TJSValue)(unsafe.Pointer(argv + uintptr(i*valueSize))))
	}
	return out
}

// goString copies a C string owned by the engine and releases it.
func (c *Context) goString(p uintptr, n int) string {
	s := string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
	lib.XJS_FreeCString(c.tls, c.ptr, p)
	return s
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// Eval runs source. The result is the completion value, a module promise for
// EvalModule, or abi.Exception.
func (c *Context) Eval(source, filename string, flags int) abi.Value {
	res := abi.Exception
	err := c.withCString(source, func(src uintptr) {
		_ = c.withCString(filename, func(name uintptr) {
			res = fromC(lib.XJS_Eval(c.tls, c.ptr, src, lib.Tsize_t(len(source)), name, int32(flags)))
		})
	})
	if err != nil {
		return c.throwAllocFailure()
	}
	return res
}

// Global returns a new reference to the global object.
func (c *Context) Global() abi.Value { return fromC(lib.XJS_GetGlobalObject(c.tls, c.ptr)) }

func (c *Context) NewObject() abi.Value { return fromC(lib.XJS_NewObject(c.tls, c.ptr)) }

func (c *Context) NewArray() abi.Value { return fromC(lib.XJS_NewArray(c.tls, c.ptr)) }

// NewString creates an engine string from UTF-8 text.
func (c *Context) NewString(s string) abi.Value {
	res := abi.Exception
	err := c.withCString(s, func(p uintptr) {
		res = fromC(lib.XJS_NewStringLen(c.tls, c.ptr, p, lib.Tsize_t(len(s))))
	})
	if err != nil {
		return c.throwAllocFailure()
	}
	return res
}

// NewArrayBuffer copies b into a new ArrayBuffer.
func (c *Context) NewArrayBuffer(b []byte) abi.Value {
	if len(b) == 0 {
		return fromC(lib.XJS_NewArrayBufferCopy(c.tls, c.ptr, 0, 0))
	}
	p, err := libc.CString(string(b))
	if err != nil {
		return c.throwAllocFailure()
	}
	defer libc.Xfree(c.tls, p)
	return fromC(lib.XJS_NewArrayBufferCopy(c.tls, c.ptr, p, lib.Tsize_t(len(b))))
}

// NewFunction creates a native function whose calls are routed to
// Hooks.CallHost with a copy of data.
func (c *Context) NewFunction(length int, data []abi.Value) abi.Value {
	var fn abi.Value
	c.withArgv(data, func(n int32, p uintptr) {
		fn = fromC(lib.XJS_NewCFunctionData(c.tls, c.ptr, callHostFP, int32(length), 0, n, p))
	})
	return fn
}

// NewError creates an Error object without throwing it.
func (c *Context) NewError() abi.Value { return fromC(lib.XJS_NewError(c.tls, c.ptr)) }

// ParseJSON parses text into a value, or returns abi.Exception.
func (c *Context) ParseJSON(text, filename string) abi.Value {
	res := abi.Exception
	err := c.withCString(text, func(src uintptr) {
		_ = c.withCString(filename, func(name uintptr) {
			res = fromC(lib.XJS_ParseJSON(c.tls, c.ptr, src, lib.Tsize_t(len(text)), name))
		})
	})
	if err != nil {
		return c.throwAllocFailure()
	}
	return res
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

// GetProp reads obj[name].
func (c *Context) GetProp(obj abi.Value, name string) abi.Value {
	res := abi.Exception
	if err := c.withCString(name, func(p uintptr) {
		res = fromC(lib.XJS_GetPropertyStr(c.tls, c.ptr, toC(obj), p))
	}); err != nil {
		return c.throwAllocFailure()
	}
	return res
}

// SetProp stores val at obj[name], consuming val. It returns false when an
// exception is pending.
func (c *Context) SetProp(obj abi.Value, name string, val abi.Value) bool {
	ret := int32(-1)
	if err := c.withCString(name, func(p uintptr) {
		ret = lib.XJS_SetPropertyStr(c.tls, c.ptr, toC(obj), p, toC(val))
	}); err != nil {
		c.Free(val)
		c.throwAllocFailure()
		return false
	}
	return ret >= 0
}

// DefineValue defines obj[name] with explicit flags, consuming val.
func (c *Context) DefineValue(obj abi.Value, name string, val abi.Value, flags int) bool {
	ret := int32(-1)
	if err := c.withCString(name, func(p uintptr) {
		ret = lib.XJS_DefinePropertyValueStr(c.tls, c.ptr, toC(obj), p, toC(val), int32(flags))
	}); err != nil {
		c.Free(val)
		c.throwAllocFailure()
		return false
	}
	return ret >= 0
}

func (c *Context) GetIndex(obj abi.Value, i uint32) abi.Value {
	return fromC(lib.XJS_GetPropertyUint32(c.tls, c.ptr, toC(obj), i))
}

// SetIndex stores val at obj[i], consuming val.
func (c *Context) SetIndex(obj abi.Value, i uint32, val abi.Value) bool {
	return lib.XJS_SetPropertyUint32(c.tls, c.ptr, toC(obj), i, toC(val)) >= 0
}

// HasProp reports whether name is in obj, including the prototype chain.
// ok is false when the lookup threw.
func (c *Context) HasProp(obj abi.Value, name string) (has, ok bool) {
	var atom lib.TJSAtom
	if err := c.withCString(name, func(p uintptr) {
		atom = lib.XJS_NewAtom(c.tls, c.ptr, p)
	}); err != nil {
		return false, false
	}
	defer lib.XJS_FreeAtom(c.tls, c.ptr, atom)
	ret := lib.XJS_HasProperty(c.tls, c.ptr, toC(obj), atom)
	return ret > 0, ret >= 0
}

// OwnKeys lists obj's own enumerable string keys in engine order.
func (c *Context) OwnKeys(obj abi.Value) ([]string, bool) {
	const word = int(unsafe.Sizeof(uintptr(0)))
	out := c.tls.Alloc(2 * word)
	defer c.tls.Free(2 * word)
	ptab, plen := out, out+uintptr(word)
	*(*uintptr)(unsafe.Pointer(ptab)) = 0
	*(*uint32)(unsafe.Pointer(plen)) = 0

	if lib.XJS_GetOwnPropertyNames(c.tls, c.ptr, ptab, plen, toC(obj), gpnStringMask|gpnEnumOnly) < 0 {
		return nil, false
	}
	tab := *(*uintptr)(unsafe.Pointer(ptab))
	n := *(*uint32)(unsafe.Pointer(plen))
	defer lib.XJS_FreePropertyEnum(c.tls, c.ptr, tab, n)

	// JSPropertyEnum is {bool is_enumerable; JSAtom atom}, 8 bytes.
	keys := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		atom := *(*lib.TJSAtom)(unsafe.Pointer(tab + uintptr(i)*8 + 4))
		s := fromC(lib.XJS_AtomToString(c.tls, c.ptr, atom))
		str, ok := c.ToGoString(s)
		c.Free(s)
		if !ok {
			return nil, false
		}
		keys = append(keys, str)
	}
	return keys, true
}

func (c *Context) GetPrototype(v abi.Value) abi.Value {
	return fromC(lib.XJS_GetPrototype(c.tls, c.ptr, toC(v)))
}

func (c *Context) SetPrototype(obj, proto abi.Value) bool {
	return lib.XJS_SetPrototype(c.tls, c.ptr, toC(obj), toC(proto)) >= 0
}

// SetConstructor links fn.prototype = proto and proto.constructor = fn.
func (c *Context) SetConstructor(fn, proto abi.Value) {
	lib.XJS_SetConstructor(c.tls, c.ptr, toC(fn), toC(proto))
}

// ---------------------------------------------------------------------------
// Conversion and classification
// ---------------------------------------------------------------------------

// ToGoString converts v with JS ToString semantics.
func (c *Context) ToGoString(v abi.Value) (string, bool) {
	const word = int(unsafe.Sizeof(uintptr(0)))
	plen := c.tls.Alloc(word)
	defer c.tls.Free(word)
	*(*lib.Tsize_t)(unsafe.Pointer(plen)) = 0

	p := lib.XJS_ToCStringLen2(c.tls, c.ptr, plen, toC(v), 0)
	if p == 0 {
		return "", false
	}
	return c.goString(p, int(*(*lib.Tsize_t)(unsafe.Pointer(plen)))), true
}

// ToString returns String(v) as an engine value.
func (c *Context) ToString(v abi.Value) abi.Value {
	return fromC(lib.XJS_ToString(c.tls, c.ptr, toC(v)))
}

func (c *Context) ToInt64(v abi.Value) (int64, bool) {
	p := c.tls.Alloc(8)
	defer c.tls.Free(8)
	ok := lib.XJS_ToInt64(c.tls, c.ptr, p, toC(v)) >= 0
	return *(*int64)(unsafe.Pointer(p)), ok
}

func (c *Context) ToBigInt64(v abi.Value) (int64, bool) {
	p := c.tls.Alloc(8)
	defer c.tls.Free(8)
	ok := lib.XJS_ToBigInt64(c.tls, c.ptr, p, toC(v)) >= 0
	return *(*int64)(unsafe.Pointer(p)), ok
}

func (c *Context) ToFloat64(v abi.Value) (float64, bool) {
	p := c.tls.Alloc(8)
	defer c.tls.Free(8)
	ok := lib.XJS_ToFloat64(c.tls, c.ptr, p, toC(v)) >= 0
	return *(*float64)(unsafe.Pointer(p)), ok
}

func (c *Context) ToBool(v abi.Value) (bool, bool) {
	ret := lib.XJS_ToBool(c.tls, c.ptr, toC(v))
	return ret > 0, ret >= 0
}

func (c *Context) IsArray(v abi.Value) bool { return lib.XJS_IsArray(c.tls, c.ptr, toC(v)) > 0 }

func (c *Context) IsFunction(v abi.Value) bool { return lib.XJS_IsFunction(c.tls, c.ptr, toC(v)) != 0 }

func (c *Context) IsError(v abi.Value) bool { return lib.XJS_IsError(c.tls, c.ptr, toC(v)) != 0 }

// ArrayBufferBytes copies the contents of an ArrayBuffer.
func (c *Context) ArrayBufferBytes(v abi.Value) ([]byte, bool) {
	const word = int(unsafe.Sizeof(uintptr(0)))
	psize := c.tls.Alloc(word)
	defer c.tls.Free(word)
	*(*lib.Tsize_t)(unsafe.Pointer(psize)) = 0

	data := lib.XJS_GetArrayBuffer(c.tls, c.ptr, psize, toC(v))
	size := int(*(*lib.Tsize_t)(unsafe.Pointer(psize)))
	if data == 0 {
		return nil, false
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(data)), size))
	return out, true
}

// TypedArrayBytes copies the bytes viewed by a typed array.
func (c *Context) TypedArrayBytes(v abi.Value) ([]byte, bool) {
	const word = int(unsafe.Sizeof(uintptr(0)))
	out := c.tls.Alloc(3 * word)
	defer c.tls.Free(3 * word)
	poff, plen, pbpe := out, out+uintptr(word), out+uintptr(2*word)

	buf := fromC(lib.XJS_GetTypedArrayBuffer(c.tls, c.ptr, toC(v), poff, plen, pbpe))
	if buf.IsException() {
		return nil, false
	}
	defer c.Free(buf)
	off := int(*(*lib.Tsize_t)(unsafe.Pointer(poff)))
	n := int(*(*lib.Tsize_t)(unsafe.Pointer(plen)))
	all, ok := c.ArrayBufferBytes(buf)
	if !ok || off+n > len(all) {
		return nil, false
	}
	return all[off : off+n], true
}

// Stringify returns JSON.stringify(v) as an engine value.
func (c *Context) Stringify(v abi.Value) abi.Value {
	return fromC(lib.XJS_JSONStringify(c.tls, c.ptr, toC(v), toC(abi.Undefined), toC(abi.Undefined)))
}

// PromiseState reports the settlement state of a promise, or -1 when p is
// not a promise.
func (c *Context) PromiseState(p abi.Value) int {
	return int(lib.XJS_PromiseState(c.tls, c.ptr, toC(p)))
}

// PromiseResult returns the fulfilment value or rejection reason.
func (c *Context) PromiseResult(p abi.Value) abi.Value {
	return fromC(lib.XJS_PromiseResult(c.tls, c.ptr, toC(p)))
}

// ---------------------------------------------------------------------------
// Calls and exceptions
// ---------------------------------------------------------------------------

// Call invokes fn with this and args. Arguments are borrowed.
func (c *Context) Call(fn, this abi.Value, args []abi.Value) abi.Value {
	var res abi.Value
	c.withArgv(args, func(argc int32, argv uintptr) {
		res = fromC(lib.XJS_Call(c.tls, c.ptr, toC(fn), toC(this), argc, argv))
	})
	return res
}

// CallConstructor evaluates `new fn(...args)`.
func (c *Context) CallConstructor(fn abi.Value, args []abi.Value) abi.Value {
	var res abi.Value
	c.withArgv(args, func(argc int32, argv uintptr) {
		res = fromC(lib.XJS_CallConstructor(c.tls, c.ptr, toC(fn), argc, argv))
	})
	return res
}

// GetException takes the pending exception, leaving none pending.
func (c *Context) GetException() abi.Value { return fromC(lib.XJS_GetException(c.tls, c.ptr)) }

// Throw makes v the pending exception, consuming it. It always returns
// abi.Exception.
func (c *Context) Throw(v abi.Value) abi.Value { return fromC(lib.XJS_Throw(c.tls, c.ptr, toC(v))) }

// throwAllocFailure throws a bare Error when the host could not allocate
// the C memory a call needed.
func (c *Context) throwAllocFailure() abi.Value { return c.Throw(c.NewError()) }

// ThrowError throws `new <ctor>(msg)` where ctor names a global error
// constructor, falling back to a plain Error.
func (c *Context) ThrowError(ctor, msg string) abi.Value {
	glob := c.Global()
	fn := c.GetProp(glob, ctor)
	c.Free(glob)

	var errVal abi.Value
	if c.IsFunction(fn) {
		m := c.NewString(msg)
		errVal = c.CallConstructor(fn, []abi.Value{m})
		c.Free(m)
	} else {
		errVal = abi.Exception
	}
	c.Free(fn)
	if errVal.IsException() {
		c.Free(c.GetException())
		errVal = c.NewError()
		c.DefineValue(errVal, "message", c.NewString(msg), PropWritable|PropConfigurable)
	}
	return c.Throw(errVal)
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// compileModule compiles source as an ES module and returns its JSModuleDef
// pointer, or 0 with an exception pending.
func (c *Context) compileModule(name, source string) uintptr {
	v := c.Eval(source, name, EvalModule|EvalCompileOnly)
	if v.IsException() {
		return 0
	}
	m := v.Ptr()
	// The module definition is kept alive by the runtime's module list.
	c.Free(v)

	meta := fromC(lib.XJS_GetImportMeta(c.tls, c.ptr, m))
	if meta.IsException() {
		return 0
	}
	c.DefineValue(meta, "url", c.NewString(name), PropConfigurable|PropWritable|PropEnumerable)
	c.Free(meta)
	return m
}

func (c *Context) String() string { return fmt.Sprintf("JSContext(%#x)", c.ptr) }
