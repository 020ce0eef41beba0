package core

// Type is the semantic classification of an engine value as seen by the
// host. The zero value Unknown doubles as "no hint" wherever a Type is
// requested by the caller.
type Type int32

const (
	Unknown Type = iota
	Null
	Undefined
	Integer
	Double
	Boolean
	String
	Array
	Object
	Function
	Exception
	Byte // ArrayBuffer
	Int8Array
	Uint8Array
	Uint8ClampedArray
	Int16Array
	Uint16Array
	Int32Array
	Uint32Array
	Float32Array
	Float64Array
)

var typeNames = [...]string{
	Unknown:           "Unknown",
	Null:              "Null",
	Undefined:         "Undefined",
	Integer:           "Integer",
	Double:            "Double",
	Boolean:           "Boolean",
	String:            "String",
	Array:             "Array",
	Object:            "Object",
	Function:          "Function",
	Exception:         "Exception",
	Byte:              "Byte",
	Int8Array:         "Int8Array",
	Uint8Array:        "Uint8Array",
	Uint8ClampedArray: "Uint8ClampedArray",
	Int16Array:        "Int16Array",
	Uint16Array:       "Uint16Array",
	Int32Array:        "Int32Array",
	Uint32Array:       "Uint32Array",
	Float32Array:      "Float32Array",
	Float64Array:      "Float64Array",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "Unknown"
	}
	return typeNames[t]
}

// IsTypedArray reports whether t is one of the typed-array views.
func (t Type) IsTypedArray() bool { return t >= Int8Array && t <= Float64Array }

// IsObjectLike reports whether values of this type are always surfaced to
// the host as opaque handles.
func (t Type) IsObjectLike() bool {
	switch t {
	case Array, Object, Function, Exception, Byte:
		return true
	}
	return t.IsTypedArray()
}

// TypedArrayByName maps a typed-array constructor name (the value of its
// Symbol.toStringTag) to its Type. ArrayBuffer maps to Byte.
func TypedArrayByName(name string) (Type, bool) {
	switch name {
	case "ArrayBuffer":
		return Byte, true
	case "Int8Array":
		return Int8Array, true
	case "Uint8Array":
		return Uint8Array, true
	case "Uint8ClampedArray":
		return Uint8ClampedArray, true
	case "Int16Array":
		return Int16Array, true
	case "Uint16Array":
		return Uint16Array, true
	case "Int32Array":
		return Int32Array, true
	case "Uint32Array":
		return Uint32Array, true
	case "Float32Array":
		return Float32Array, true
	case "Float64Array":
		return Float64Array, true
	}
	return Unknown, false
}
