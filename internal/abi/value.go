package abi

import "math"

// Special values.
var (
	Null          = mkInt32(TagNull, 0)
	Undefined     = mkInt32(TagUndefined, 0)
	False         = mkInt32(TagBool, 0)
	True          = mkInt32(TagBool, 1)
	Exception     = mkInt32(TagException, 0)
	Uninitialized = mkInt32(TagUninitialized, 0)
)

// NewInt32 returns an int-tagged number.
func NewInt32(n int32) Value { return mkInt32(TagInt, n) }

// NewBool returns a boolean.
func NewBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// NewInt64 returns an int-tagged number when n fits in int32 and a
// float-tagged one otherwise.
func NewInt64(n int64) Value {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return NewInt32(int32(n))
	}
	return NewFloat64(float64(n))
}

// NewSpecial returns the immediate value of tag with a zero payload.
func NewSpecial(tag Tag) Value { return mkInt32(tag, 0) }

// Bool reads a boolean payload.
func (v Value) Bool() bool { return v.Int32() != 0 }

// HasRefCount reports whether v points at a refcounted heap cell.
func (v Value) HasRefCount() bool { return v.Tag().HasRefCount() }

func (v Value) IsNumber() bool {
	t := v.Tag()
	return t == TagInt || t == TagFloat64
}

func (v Value) IsString() bool {
	t := v.Tag()
	return t == TagString || t == TagStringRope
}

func (v Value) IsBigInt() bool {
	t := v.Tag()
	return t == TagBigInt || t == TagShortBigInt
}

func (v Value) IsObject() bool    { return v.Tag() == TagObject }
func (v Value) IsNull() bool      { return v.Tag() == TagNull }
func (v Value) IsUndefined() bool { return v.Tag() == TagUndefined }
func (v Value) IsException() bool { return v.Tag() == TagException }

// Equal reports bitwise identity. Two handles to the same heap object are
// equal; two distinct but structurally equal objects are not.
func Equal(a, b Value) bool { return a == b }
