// Package abi mirrors the engine's JSValue representation in Go and converts
// it to and from the flat Handle form that crosses the host boundary.
//
// Two layouts exist upstream. 64-bit targets use a {union, int64 tag} tuple;
// 386 and arm builds of the engine NaN-box every value into one uint64. The
// layout is chosen by build tags so exactly one is compiled.
package abi

// Tag is the engine's value tag. Negative tags carry a reference-counted
// heap pointer.
type Tag int64

// Tags of the QuickJS release bundled in modernc.org/libquickjs v0.12.
const (
	TagFirst            Tag = -9
	TagBigInt           Tag = -9
	TagSymbol           Tag = -8
	TagString           Tag = -7
	TagStringRope       Tag = -6
	TagModule           Tag = -3
	TagFunctionBytecode Tag = -2
	TagObject           Tag = -1

	TagInt           Tag = 0
	TagBool          Tag = 1
	TagNull          Tag = 2
	TagUndefined     Tag = 3
	TagUninitialized Tag = 4
	TagCatchOffset   Tag = 5
	TagException     Tag = 6
	TagShortBigInt   Tag = 7
	TagFloat64       Tag = 8
)

// HasRefCount reports whether values of this tag point at a refcounted cell.
func (t Tag) HasRefCount() bool { return t >= TagFirst && t < 0 }

func (t Tag) String() string {
	switch t {
	case TagBigInt:
		return "bigint"
	case TagSymbol:
		return "symbol"
	case TagString, TagStringRope:
		return "string"
	case TagModule:
		return "module"
	case TagFunctionBytecode:
		return "bytecode"
	case TagObject:
		return "object"
	case TagInt:
		return "int"
	case TagBool:
		return "bool"
	case TagNull:
		return "null"
	case TagUndefined:
		return "undefined"
	case TagUninitialized:
		return "uninitialized"
	case TagCatchOffset:
		return "catch_offset"
	case TagException:
		return "exception"
	case TagShortBigInt:
		return "short_bigint"
	case TagFloat64:
		return "float64"
	}
	return "unknown"
}
