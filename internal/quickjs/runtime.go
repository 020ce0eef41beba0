// Package quickjs is the thin layer over the modernc.org/libquickjs C API
// that the bridge is built on. It owns the JSRuntime and JSContext
// pointers, the libc TLS used for every call, and the Go trampolines the
// engine calls back into.
//
// Nothing here is safe for concurrent use: a Runtime and its Contexts must
// only be touched from one goroutine at a time.
package quickjs

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"

	"github.com/cryguy/qjsbridge/internal/abi"
)

// Hooks receives engine-initiated calls. Implementations run on the
// goroutine that is currently driving the engine.
type Hooks interface {
	// CallHost services a call to a function created by NewFunction. data
	// holds the function's closure slots.
	CallHost(c *Context, this abi.Value, args []abi.Value, data []abi.Value) abi.Value
	// TrackRejection is told about promises rejected without a handler and
	// about handlers attached to such promises later.
	TrackRejection(c *Context, promise, reason abi.Value, handled bool)
	NormalizeModule(c *Context, base, name string) (string, error)
	LoadModule(c *Context, name string) (string, error)
}

// Runtime wraps one JSRuntime. It is bootstrapped through quickjs.NewVM so
// the engine is initialised exactly as modernc.org/quickjs does it, then
// driven directly through the C API.
type Runtime struct {
	vm    *quickjs.VM
	tls   *libc.TLS
	ptr   uintptr // JSRuntime*
	vmCtx uintptr // the VM's own JSContext, used for runtime-level frees
	hooks Hooks

	contexts map[uintptr]*Context
	closed   bool
}

// runtimes maps JSRuntime pointers to their owners so trampolines can find
// the Go side of a call.
var runtimes sync.Map

// NewRuntime creates a runtime. memoryLimit and gcThreshold are in bytes;
// zero keeps the engine default.
func NewRuntime(memoryLimit, gcThreshold uintptr, hooks Hooks) (*Runtime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if memoryLimit > 0 {
		vm.SetMemoryLimit(memoryLimit)
	}

	r := &Runtime{vm: vm, hooks: hooks, contexts: make(map[uintptr]*Context)}
	if err := r.extractVMInternals(); err != nil {
		vm.Close()
		return nil, err
	}
	if gcThreshold > 0 {
		lib.XJS_SetGCThreshold(r.tls, r.ptr, lib.Tsize_t(gcThreshold))
	}

	runtimes.Store(r.ptr, r)
	lib.XJS_SetHostPromiseRejectionTracker(r.tls, r.ptr, rejectionTrackerFP, 0)
	lib.XJS_SetModuleLoaderFunc(r.tls, r.ptr, moduleNormalizeFP, moduleLoaderFP, 0)
	return r, nil
}

// extractVMInternals uses reflect+unsafe to pull the JSRuntime pointer, the
// VM's JSContext and the libc TLS out of the VM.
//
// VM struct layout (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func (r *Runtime) extractVMInternals() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic extracting VM internals: %v", p)
		}
	}()

	vmVal := reflect.ValueOf(r.vm).Elem()

	ctxField := vmVal.FieldByName("cContext")
	if !ctxField.IsValid() {
		return fmt.Errorf("quickjs.VM missing 'cContext' field")
	}
	r.vmCtx = uintptr(ctxField.Uint())
	if r.vmCtx == 0 {
		return fmt.Errorf("JSContext is nil")
	}

	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return fmt.Errorf("quickjs.VM missing 'runtime' field")
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()

	cRuntime := rtVal.FieldByName("cRuntime")
	if !cRuntime.IsValid() {
		return fmt.Errorf("quickjs runtime missing 'cRuntime' field")
	}
	r.ptr = uintptr(cRuntime.Uint())
	if r.ptr == 0 {
		return fmt.Errorf("JSRuntime is nil")
	}

	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return fmt.Errorf("quickjs runtime missing 'tls' field")
	}
	r.tls = (*libc.TLS)(unsafe.Pointer(tlsField.Pointer()))

	// Smoke-test the pointers with a trivial call.
	glob := lib.XJS_GetGlobalObject(r.tls, r.vmCtx)
	lib.XFreeValue(r.tls, r.vmCtx, glob)
	return nil
}

// NewContext creates a fresh JSContext with the standard intrinsics.
func (r *Runtime) NewContext() (*Context, error) {
	if r.closed {
		return nil, fmt.Errorf("runtime closed")
	}
	p := lib.XJS_NewContext(r.tls, r.ptr)
	if p == 0 {
		return nil, fmt.Errorf("JS_NewContext failed")
	}
	c := &Context{rt: r, ptr: p, tls: r.tls}
	r.contexts[p] = c
	return c, nil
}

// FreeValue releases v using the runtime's own context. Use it for values
// that outlive the context they were created in.
func (r *Runtime) FreeValue(v abi.Value) {
	if v.HasRefCount() {
		lib.XFreeValue(r.tls, r.vmCtx, toC(v))
	}
}

// ExecutePendingJob runs one queued job. It returns 0 when the queue was
// empty, 1 when a job ran, and -1 when the job threw; in that case ctx is
// the context the job belonged to and holds the pending exception.
func (r *Runtime) ExecutePendingJob() (ret int, ctx *Context) {
	pctx := r.tls.Alloc(int(unsafe.Sizeof(uintptr(0))))
	defer r.tls.Free(int(unsafe.Sizeof(uintptr(0))))
	*(*uintptr)(unsafe.Pointer(pctx)) = 0

	ret = int(lib.XJS_ExecutePendingJob(r.tls, r.ptr, pctx))
	if p := *(*uintptr)(unsafe.Pointer(pctx)); p != 0 {
		ctx = r.contexts[p]
	}
	return ret, ctx
}

// IsJobPending reports whether the job queue is non-empty.
func (r *Runtime) IsJobPending() bool {
	return lib.XJS_IsJobPending(r.tls, r.ptr) != 0
}

// RunGC forces a garbage collection cycle.
func (r *Runtime) RunGC() {
	lib.XJS_RunGC(r.tls, r.ptr)
}

// Close frees every context that is still open and then the runtime.
// Callers must have released all values first.
func (r *Runtime) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for _, c := range r.contexts {
		c.free()
	}
	r.contexts = nil
	runtimes.Delete(r.ptr)
	r.vm.Close()
}

func lookupContext(tls *libc.TLS, ctx uintptr) *Context {
	v, ok := runtimes.Load(lib.XJS_GetRuntime(tls, ctx))
	if !ok {
		return nil
	}
	return v.(*Runtime).contexts[ctx]
}
