package abi

import (
	"fmt"
	"math"
)

// Handle is the fixed-shape record that carries an engine value across the
// host boundary. It is a plain value: copying it does not change any
// reference count.
type Handle struct {
	Tag     int64
	Int32   int32
	Float64 float64
	Ptr     int64
}

// Equal compares handles bitwise, so NaN payloads compare equal to
// themselves.
func (h Handle) Equal(o Handle) bool {
	return h.Tag == o.Tag &&
		h.Int32 == o.Int32 &&
		math.Float64bits(h.Float64) == math.Float64bits(o.Float64) &&
		h.Ptr == o.Ptr
}

func (h Handle) String() string {
	return fmt.Sprintf("handle{tag=%d int32=%d float64=%g ptr=%#x}", h.Tag, h.Int32, h.Float64, h.Ptr)
}
