package qjsbridge

import (
	"github.com/cryguy/qjsbridge/internal/abi"
	"github.com/cryguy/qjsbridge/internal/core"
)

// typedArrayKindJS names the binary kind of v: "ArrayBuffer", the typed
// array constructor name, or "" for anything else. DataView is not a typed
// array.
const typedArrayKindJS = `(function (AB, isView, DV, tag) {
	return function (v) {
		if (v instanceof AB) return "ArrayBuffer";
		if (!isView(v) || v instanceof DV) return "";
		return v[tag] || "";
	};
})(ArrayBuffer, ArrayBuffer.isView, DataView, Symbol.toStringTag)`

// classify maps an engine value to its semantic type. Null and undefined
// are reported as such whatever the hint; any other hint is returned as is.
func (c *Context) classify(v abi.Value, hint Type) Type {
	switch {
	case v.IsNull():
		return TypeNull
	case v.IsUndefined():
		return TypeUndefined
	case hint != TypeUnknown:
		return hint
	}

	switch v.Tag() {
	case abi.TagException:
		return TypeException
	case abi.TagObject:
		return c.classifyObject(v)
	case abi.TagString, abi.TagStringRope:
		return TypeString
	case abi.TagBool:
		return TypeBoolean
	case abi.TagBigInt, abi.TagShortBigInt, abi.TagInt:
		return TypeInteger
	case abi.TagFloat64:
		return TypeDouble
	}
	return TypeUnknown
}

func (c *Context) classifyObject(v abi.Value) Type {
	e := c.engine
	switch {
	case e.IsArray(v):
		return TypeArray
	case e.IsFunction(v):
		return TypeFunction
	case e.IsError(v):
		return TypeException
	}
	if t, ok := c.binaryKind(v); ok {
		return t
	}
	return TypeObject
}

// binaryKind detects ArrayBuffers and typed arrays through a cached helper.
func (c *Context) binaryKind(v abi.Value) (Type, bool) {
	res, err := c.callHelper("typedArrayKind", typedArrayKindJS, v)
	if err != nil {
		c.rt.log.Debug("typed array probe failed")
		return TypeUnknown, false
	}
	defer c.engine.Free(res)
	if !res.IsString() {
		return TypeUnknown, false
	}
	name, ok := c.engine.ToGoString(res)
	if !ok || name == "" {
		return TypeUnknown, false
	}
	return core.TypedArrayByName(name)
}
