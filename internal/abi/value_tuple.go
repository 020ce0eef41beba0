//go:build !(386 || arm)

package abi

import (
	"math"
	"unsafe"
)

// Value has the memory layout of the engine's JSValue on 64-bit targets:
// an 8-byte payload union followed by a 64-bit tag.
type Value struct {
	u   uint64
	tag int64
}

// NaNBoxed reports whether this build uses the single-word representation.
const NaNBoxed = false

// Tag returns the value's tag.
func (v Value) Tag() Tag { return Tag(v.tag) }

// Int32 reads the int32 member of the payload union.
func (v Value) Int32() int32 { return *(*int32)(unsafe.Pointer(&v.u)) }

// Float64 reads the float64 member of the payload union.
func (v Value) Float64() float64 { return math.Float64frombits(v.u) }

// Ptr reads the pointer member of the payload union.
func (v Value) Ptr() uintptr { return uintptr(v.u) }

func mkInt32(tag Tag, n int32) Value {
	v := Value{tag: int64(tag)}
	*(*int32)(unsafe.Pointer(&v.u)) = n
	return v
}

// NewFloat64 returns a float-tagged number. Integral inputs are not folded
// into the int tag.
func NewFloat64(f float64) Value {
	return Value{u: math.Float64bits(f), tag: int64(TagFloat64)}
}

// NewPtr returns a value of a pointer-carrying tag.
func NewPtr(tag Tag, p uintptr) Value {
	return Value{u: uint64(p), tag: int64(tag)}
}

// Encode flattens v into a Handle. All four fields are read from the same
// payload, so only the member matching Tag is meaningful.
func Encode(v Value) Handle {
	return Handle{
		Tag:     v.tag,
		Int32:   v.Int32(),
		Float64: v.Float64(),
		Ptr:     int64(v.u),
	}
}

// Decode rebuilds the engine value from a Handle produced by Encode.
func Decode(h Handle) Value {
	return Value{u: uint64(h.Ptr), tag: h.Tag}
}
