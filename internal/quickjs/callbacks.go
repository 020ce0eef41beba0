package quickjs

import (
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
)

// cFunc converts a Go function value into the pointer form the transpiled
// engine stores for C function pointers.
func cFunc(f any) uintptr {
	type iface [2]uintptr
	return (*iface)(unsafe.Pointer(&f))[1]
}

// Function pointers handed to the engine. The package-level funcs they
// point at are never collected.
var (
	callHostFP         = cFunc(callHostTrampoline)
	rejectionTrackerFP = cFunc(rejectionTrackerTrampoline)
	moduleNormalizeFP  = cFunc(moduleNormalizeTrampoline)
	moduleLoaderFP     = cFunc(moduleLoaderTrampoline)
)

// callHostTrampoline has the JSCFunctionData signature. Arguments and data
// slots are borrowed from the engine for the duration of the call.
func callHostTrampoline(tls *libc.TLS, ctx uintptr, this lib.TJSValue, argc int32, argv uintptr, magic int32, data uintptr) lib.TJSValue {
	c := lookupContext(tls, ctx)
	if c == nil || c.rt.hooks == nil {
		return lib.XJS_Throw(tls, ctx, lib.XJS_NewError(tls, ctx))
	}
	args := readArgv(argc, argv)
	slots := readArgv(2, data)
	return toC(c.rt.hooks.CallHost(c, fromC(this), args, slots))
}

// rejectionTrackerTrampoline has the JSHostPromiseRejectionTracker
// signature.
func rejectionTrackerTrampoline(tls *libc.TLS, ctx uintptr, promise, reason lib.TJSValue, isHandled int32, opaque uintptr) {
	c := lookupContext(tls, ctx)
	if c == nil || c.rt.hooks == nil {
		return
	}
	c.rt.hooks.TrackRejection(c, fromC(promise), fromC(reason), isHandled != 0)
}

// moduleNormalizeTrampoline has the JSModuleNormalizeFunc signature. The
// returned name must be allocated with js_malloc; the engine frees it.
func moduleNormalizeTrampoline(tls *libc.TLS, ctx, base, name, opaque uintptr) uintptr {
	c := lookupContext(tls, ctx)
	if c == nil || c.rt.hooks == nil {
		return 0
	}
	resolved, err := c.rt.hooks.NormalizeModule(c, libc.GoString(base), libc.GoString(name))
	if err != nil {
		c.ThrowError("ReferenceError", err.Error())
		return 0
	}
	p, err := libc.CString(resolved)
	if err != nil {
		c.throwAllocFailure()
		return 0
	}
	defer libc.Xfree(tls, p)
	return lib.Xjs_strdup(tls, ctx, p)
}

// moduleLoaderTrampoline has the JSModuleLoaderFunc signature. It returns a
// JSModuleDef pointer, or 0 with an exception pending.
func moduleLoaderTrampoline(tls *libc.TLS, ctx, name, opaque uintptr) uintptr {
	c := lookupContext(tls, ctx)
	if c == nil || c.rt.hooks == nil {
		return 0
	}
	moduleName := libc.GoString(name)
	source, err := c.rt.hooks.LoadModule(c, moduleName)
	if err != nil {
		c.ThrowError("ReferenceError", err.Error())
		return 0
	}
	return c.compileModule(moduleName, source)
}
