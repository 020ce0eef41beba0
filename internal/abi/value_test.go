package abi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Constructors and accessors
// ---------------------------------------------------------------------------

func TestNewInt32(t *testing.T) {
	for _, n := range []int32{0, 1, -1, math.MaxInt32, math.MinInt32} {
		v := NewInt32(n)
		assert.Equal(t, TagInt, v.Tag())
		assert.Equal(t, n, v.Int32())
		assert.True(t, v.IsNumber())
		assert.False(t, v.HasRefCount())
	}
}

func TestNewInt64FoldsIntoInt32(t *testing.T) {
	assert.Equal(t, TagInt, NewInt64(42).Tag())
	assert.Equal(t, TagInt, NewInt64(math.MinInt32).Tag())

	big := NewInt64(math.MaxInt32 + 1)
	assert.Equal(t, TagFloat64, big.Tag())
	assert.Equal(t, float64(math.MaxInt32+1), big.Float64())
}

func TestNewFloat64KeepsFloatTag(t *testing.T) {
	v := NewFloat64(2)
	assert.Equal(t, TagFloat64, v.Tag(), "integral doubles stay float-tagged")
	assert.Equal(t, 2.0, v.Float64())

	assert.Equal(t, -0.5, NewFloat64(-0.5).Float64())
	assert.True(t, math.IsInf(NewFloat64(math.Inf(1)).Float64(), 1))
	assert.True(t, math.IsNaN(NewFloat64(math.NaN()).Float64()))
}

func TestSpecialValues(t *testing.T) {
	assert.True(t, Null.IsNull())
	assert.True(t, Undefined.IsUndefined())
	assert.True(t, Exception.IsException())
	assert.True(t, True.Bool())
	assert.False(t, False.Bool())
	assert.Equal(t, True, NewBool(true))
	assert.Equal(t, TagUninitialized, Uninitialized.Tag())
}

func TestRefCountedTags(t *testing.T) {
	for _, tag := range []Tag{TagBigInt, TagSymbol, TagString, TagStringRope, TagModule, TagFunctionBytecode, TagObject} {
		assert.True(t, tag.HasRefCount(), tag.String())
	}
	for _, tag := range []Tag{TagInt, TagBool, TagNull, TagUndefined, TagException, TagShortBigInt, TagFloat64} {
		assert.False(t, tag.HasRefCount(), tag.String())
	}
}

func TestPointerValues(t *testing.T) {
	v := NewPtr(TagObject, 0x1000)
	assert.True(t, v.IsObject())
	assert.True(t, v.HasRefCount())
	assert.Equal(t, uintptr(0x1000), v.Ptr())

	s := NewPtr(TagStringRope, 0x2000)
	assert.True(t, s.IsString())
}

func TestEqualIsIdentity(t *testing.T) {
	a := NewPtr(TagObject, 0x1000)
	b := NewPtr(TagObject, 0x1000)
	c := NewPtr(TagObject, 0x2000)
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(NewInt32(1), NewFloat64(1)))
}

// ---------------------------------------------------------------------------
// Handle round trip
// ---------------------------------------------------------------------------

func TestHandleRoundTrip(t *testing.T) {
	values := []Value{
		Null, Undefined, True, False, Exception,
		NewInt32(7), NewInt32(-7),
		NewFloat64(3.25), NewFloat64(math.NaN()), NewFloat64(math.Inf(-1)),
		NewPtr(TagObject, 0xdeadbee0),
		NewPtr(TagString, 0x10),
	}
	for _, v := range values {
		h := Encode(v)
		back := Decode(h)
		require.True(t, Equal(v, back), "decode(encode(v)) for %s", v.Tag())
		require.True(t, Encode(back).Equal(h), "encode(decode(h)) for %s", h)
	}
}

func TestHandleCarriesTag(t *testing.T) {
	h := Encode(NewInt32(5))
	if NaNBoxed {
		assert.Zero(t, h.Ptr)
		return
	}
	assert.Equal(t, int64(TagInt), h.Tag)
	assert.Equal(t, int32(5), h.Int32)

	f := Encode(NewFloat64(1.5))
	assert.Equal(t, int64(TagFloat64), f.Tag)
	assert.Equal(t, 1.5, f.Float64)

	p := Encode(NewPtr(TagObject, 0x40))
	assert.Equal(t, int64(0x40), p.Ptr)
}

func TestHandleEqualNaN(t *testing.T) {
	h := Handle{Tag: int64(TagFloat64), Float64: math.NaN()}
	assert.True(t, h.Equal(h))
	assert.False(t, h.Equal(Handle{Tag: int64(TagFloat64)}))
}
