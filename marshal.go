package qjsbridge

import (
	"cmp"
	"encoding"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"

	"github.com/cryguy/qjsbridge/internal/abi"
)

// maxDepth bounds nesting when converting containers in either direction.
const maxDepth = 256

// ---------------------------------------------------------------------------
// Host -> engine
// ---------------------------------------------------------------------------

// toEngine converts x to an owned engine value. A value that cannot be
// converted raises a TypeError inside the engine and yields the exception
// sentinel.
func (c *Context) toEngine(x any) abi.Value {
	v, err := c.marshal(x, 0)
	if err != nil {
		return c.engine.ThrowError("TypeError", err.Error())
	}
	return v
}

// toEngineErr converts x to an owned engine value, reporting failure as a Go
// error with no exception left pending.
func (c *Context) toEngineErr(x any) (abi.Value, error) {
	return c.marshal(x, 0)
}

func (c *Context) marshal(x any, depth int) (abi.Value, error) {
	if depth > maxDepth {
		return abi.Undefined, fmt.Errorf("host value nested deeper than %d levels", maxDepth)
	}
	e := c.engine
	switch x := x.(type) {
	case nil:
		return abi.Null, nil
	case bool:
		return abi.NewBool(x), nil
	case int:
		return abi.NewInt64(int64(x)), nil
	case int8:
		return abi.NewInt32(int32(x)), nil
	case int16:
		return abi.NewInt32(int32(x)), nil
	case int32:
		return abi.NewInt32(x), nil
	case int64:
		return abi.NewInt64(x), nil
	case uint:
		return newUint64(uint64(x)), nil
	case uint8:
		return abi.NewInt32(int32(x)), nil
	case uint16:
		return abi.NewInt32(int32(x)), nil
	case uint32:
		return abi.NewInt64(int64(x)), nil
	case uint64:
		return newUint64(x), nil
	case float32:
		return abi.NewFloat64(float64(x)), nil
	case float64:
		return abi.NewFloat64(x), nil
	case string:
		return c.checked(e.NewString(x))
	case []byte:
		if x == nil {
			return abi.Null, nil
		}
		return c.checked(e.NewArrayBuffer(x))
	case *Value:
		if x == nil {
			return abi.Null, nil
		}
		if err := c.own(x); err != nil {
			return abi.Undefined, err
		}
		return e.Dup(x.raw), nil
	case Result:
		return c.marshal(x.Value, depth)
	case transfer:
		return abi.Value(x), nil
	case []any:
		if x == nil {
			return abi.Null, nil
		}
		return c.marshalList(len(x), func(i int) any { return x[i] }, depth)
	case map[string]any:
		if x == nil {
			return abi.Null, nil
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return c.marshalObject(keys, func(i int) any { return x[keys[i]] }, depth)
	}
	return c.marshalReflect(reflect.ValueOf(x), depth)
}

func newUint64(n uint64) abi.Value {
	if n > math.MaxInt64 {
		return abi.NewFloat64(float64(n))
	}
	return abi.NewInt64(int64(n))
}

// checked turns an exceptional engine result into a Go error.
func (c *Context) checked(v abi.Value) (abi.Value, error) {
	if v.IsException() {
		return abi.Undefined, c.currentError()
	}
	return v, nil
}

func (c *Context) marshalReflect(rv reflect.Value, depth int) (abi.Value, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return abi.NewBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return abi.NewInt64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return newUint64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return abi.NewFloat64(rv.Float()), nil
	case reflect.String:
		return c.checked(c.engine.NewString(rv.String()))
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return abi.Null, nil
		}
		return c.marshal(rv.Elem().Interface(), depth+1)
	case reflect.Slice:
		if rv.IsNil() {
			return abi.Null, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return c.checked(c.engine.NewArrayBuffer(rv.Bytes()))
		}
		return c.marshalList(rv.Len(), func(i int) any { return rv.Index(i).Interface() }, depth)
	case reflect.Array:
		return c.marshalList(rv.Len(), func(i int) any { return rv.Index(i).Interface() }, depth)
	case reflect.Map:
		if rv.IsNil() {
			return abi.Null, nil
		}
		type entry struct {
			key string
			val reflect.Value
		}
		entries := make([]entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := mapKey(iter.Key())
			if err != nil {
				return abi.Undefined, err
			}
			entries = append(entries, entry{k, iter.Value()})
		}
		slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.key, b.key) })
		keys := make([]string, len(entries))
		for i, en := range entries {
			keys[i] = en.key
		}
		return c.marshalObject(keys, func(i int) any { return entries[i].val.Interface() }, depth)
	case reflect.Invalid:
		return abi.Null, nil
	}
	return abi.Undefined, fmt.Errorf("unsupported host value of type %s", rv.Type())
}

// mapKey renders a map key as a property name.
func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return "", fmt.Errorf("unsupported map key: nil")
		}
		k = k.Elem()
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		b, err := tm.MarshalText()
		if err != nil {
			return "", fmt.Errorf("marshaling map key: %w", err)
		}
		return string(b), nil
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(k.Float(), 'g', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(k.Bool()), nil
	}
	if s, ok := k.Interface().(fmt.Stringer); ok {
		return s.String(), nil
	}
	return "", fmt.Errorf("unsupported map key type %s", k.Type())
}

func (c *Context) marshalList(n int, at func(i int) any, depth int) (abi.Value, error) {
	e := c.engine
	arr, err := c.checked(e.NewArray())
	if err != nil {
		return arr, err
	}
	for i := 0; i < n; i++ {
		elem, err := c.marshal(at(i), depth+1)
		if err != nil {
			e.Free(arr)
			return abi.Undefined, fmt.Errorf("index %d: %w", i, err)
		}
		if !e.SetIndex(arr, uint32(i), elem) {
			err := c.currentError()
			e.Free(arr)
			return abi.Undefined, err
		}
	}
	return arr, nil
}

func (c *Context) marshalObject(keys []string, at func(i int) any, depth int) (abi.Value, error) {
	e := c.engine
	obj, err := c.checked(e.NewObject())
	if err != nil {
		return obj, err
	}
	for i, k := range keys {
		val, err := c.marshal(at(i), depth+1)
		if err != nil {
			e.Free(obj)
			return abi.Undefined, fmt.Errorf("key %q: %w", k, err)
		}
		if !e.SetProp(obj, k, val) {
			err := c.currentError()
			e.Free(obj)
			return abi.Undefined, err
		}
	}
	return obj, nil
}

// ---------------------------------------------------------------------------
// Engine -> host
// ---------------------------------------------------------------------------

// toHost converts an owned engine value for the host, consuming it.
// Primitives become Go values; everything else becomes an owned handle.
func (c *Context) toHost(v abi.Value, hint Type) (Result, error) {
	if v.IsException() {
		return Result{}, c.currentError()
	}
	typ := c.classify(v, hint)
	switch typ {
	case TypeNull, TypeUndefined, TypeInteger, TypeDouble, TypeBoolean, TypeString:
		defer c.engine.Free(v)
		x, err := c.primitive(v, typ)
		if err != nil {
			return Result{}, err
		}
		return Result{Value: x, Type: typ}, nil
	}
	return Result{Value: c.track(v, typ), Type: typ}, nil
}

// primitive converts v to the Go form of typ without consuming it.
func (c *Context) primitive(v abi.Value, typ Type) (any, error) {
	e := c.engine
	switch typ {
	case TypeNull, TypeUndefined:
		return nil, nil
	case TypeInteger:
		switch {
		case v.Tag() == abi.TagInt:
			return int64(v.Int32()), nil
		case v.IsBigInt():
			n, ok := e.ToBigInt64(v)
			if !ok {
				return nil, c.currentError()
			}
			return n, nil
		}
		n, ok := e.ToInt64(v)
		if !ok {
			return nil, c.currentError()
		}
		return n, nil
	case TypeDouble:
		switch {
		case v.Tag() == abi.TagFloat64:
			return v.Float64(), nil
		case v.Tag() == abi.TagInt:
			return float64(v.Int32()), nil
		case v.IsBigInt():
			n, ok := e.ToBigInt64(v)
			if !ok {
				return nil, c.currentError()
			}
			return float64(n), nil
		}
		f, ok := e.ToFloat64(v)
		if !ok {
			return nil, c.currentError()
		}
		return f, nil
	case TypeBoolean:
		if v.Tag() == abi.TagBool {
			return v.Bool(), nil
		}
		b, ok := e.ToBool(v)
		if !ok {
			return nil, c.currentError()
		}
		return b, nil
	case TypeString:
		s, ok := e.ToGoString(v)
		if !ok {
			return nil, c.currentError()
		}
		return s, nil
	}
	return nil, fmt.Errorf("qjsbridge: %s is not a primitive type", typ)
}

// export converts v deeply without consuming it.
func (c *Context) export(v abi.Value, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	e := c.engine
	typ := c.classify(v, TypeUnknown)
	switch typ {
	case TypeNull, TypeUndefined, TypeInteger, TypeDouble, TypeBoolean, TypeString:
		return c.primitive(v, typ)
	case TypeByte:
		b, ok := e.ArrayBufferBytes(v)
		if !ok {
			return nil, c.currentError()
		}
		return b, nil
	case TypeArray:
		n, err := c.length(v)
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			elem := e.GetIndex(v, uint32(i))
			if elem.IsException() {
				return nil, c.currentError()
			}
			x, err := c.export(elem, depth+1)
			e.Free(elem)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = x
		}
		return out, nil
	case TypeObject:
		keys, ok := e.OwnKeys(v)
		if !ok {
			return nil, c.currentError()
		}
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			val := e.GetProp(v, k)
			if val.IsException() {
				return nil, c.currentError()
			}
			x, err := c.export(val, depth+1)
			e.Free(val)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = x
		}
		return out, nil
	case TypeException:
		return map[string]any{
			"name":    c.propString(v, "name", false),
			"message": c.propString(v, "message", false),
			"stack":   c.propString(v, "stack", false),
		}, nil
	}
	if typ.IsTypedArray() {
		b, ok := e.TypedArrayBytes(v)
		if !ok {
			return nil, c.currentError()
		}
		return b, nil
	}
	return nil, fmt.Errorf("qjsbridge: cannot export %s", typ)
}
