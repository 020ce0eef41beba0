//go:build 386 || arm

package abi

import "math"

// Value has the memory layout of the engine's NaN-boxed JSValue: the tag in
// the high 32 bits, the payload in the low 32 bits, and doubles stored with
// a bias so that every tag value sits outside the NaN space.
type Value struct {
	bits uint64
}

// NaNBoxed reports whether this build uses the single-word representation.
const NaNBoxed = true

const floatTagAddend = uint64(0x7ff80000-int64(TagFirst)+1) << 32

// nanBits is the canonical engine NaN.
const nanBits = 0x7ff8000000000000 - floatTagAddend

// Tag returns the value's tag. Any high word outside the tag range is a
// biased double.
func (v Value) Tag() Tag {
	hi := int32(v.bits >> 32)
	if uint32(hi-int32(TagFirst)) >= uint32(TagFloat64-TagFirst) {
		return TagFloat64
	}
	return Tag(hi)
}

// Int32 returns the low payload word.
func (v Value) Int32() int32 { return int32(uint32(v.bits)) }

// Float64 removes the bias from a float-tagged word.
func (v Value) Float64() float64 { return math.Float64frombits(v.bits + floatTagAddend) }

// Ptr returns the low payload word as a pointer.
func (v Value) Ptr() uintptr { return uintptr(uint32(v.bits)) }

func mkInt32(tag Tag, n int32) Value {
	return Value{bits: uint64(uint32(int32(tag)))<<32 | uint64(uint32(n))}
}

// NewFloat64 returns a float-tagged number. NaNs are canonicalised the way
// the engine does it. Integral inputs are not folded into the int tag.
func NewFloat64(f float64) Value {
	u := math.Float64bits(f)
	if u&0x7fffffffffffffff > 0x7ff0000000000000 {
		return Value{bits: nanBits}
	}
	return Value{bits: u - floatTagAddend}
}

// NewPtr returns a value of a pointer-carrying tag.
func NewPtr(tag Tag, p uintptr) Value {
	return Value{bits: uint64(uint32(int32(tag)))<<32 | uint64(uint32(p))}
}

// Encode stores the whole word in Tag; the other fields stay zero.
func Encode(v Value) Handle {
	return Handle{Tag: int64(v.bits)}
}

// Decode rebuilds the engine value from a Handle produced by Encode.
func Decode(h Handle) Value {
	return Value{bits: uint64(h.Tag)}
}
