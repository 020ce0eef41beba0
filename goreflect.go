package qjsbridge

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

var (
	errorType = reflect.TypeFor[error]()
	valueType = reflect.TypeFor[*Value]()
	bytesType = reflect.TypeFor[[]byte]()
)

// RegisterGoFunc exposes an ordinary Go function as target[name]. JS
// arguments are converted to the function's parameter types; missing ones
// are zero. A trailing error result is thrown as a TypeError prefixed with
// "calling <name>: ", otherwise the first result is returned to JS.
func (c *Context) RegisterGoFunc(target *Value, name string, fn any) (*Value, error) {
	cb, err := goCallback(c, name, reflect.ValueOf(fn))
	if err != nil {
		return nil, err
	}
	return c.RegisterFunc(target, name, cb)
}

// Expose stores a new object as target[name] whose methods are the exported
// methods of obj, named in lowerCamelCase.
func (c *Context) Expose(target *Value, name string, obj any) (*Value, error) {
	rv := reflect.ValueOf(obj)
	if !rv.IsValid() {
		return nil, fmt.Errorf("exposing %s: nil object", name)
	}
	holder, err := c.NewObject()
	if err != nil {
		return nil, err
	}
	err = c.rt.run(func() error {
		rt := rv.Type()
		for i := 0; i < rt.NumMethod(); i++ {
			m := rt.Method(i)
			jsName := lowerCamel(m.Name)
			cb, err := goCallback(c, name+"."+jsName, rv.Method(i))
			if err != nil {
				return err
			}
			fn, err := c.RegisterFunc(holder, jsName, cb)
			if err != nil {
				return err
			}
			fn.release()
		}
		return nil
	})
	if err != nil {
		holder.Free()
		return nil, fmt.Errorf("exposing %s: %w", name, err)
	}
	if err := c.setTarget(target, name, holder); err != nil {
		holder.Free()
		return nil, err
	}
	return holder, nil
}

// ConstructorCallback initializes a newly constructed object.
type ConstructorCallback func(this *Value, args []any) error

const classFactoryJS = `(function (name, init) {
	var C = function () {
		if (!new.target) throw new TypeError("Class constructor " + name + " cannot be invoked without 'new'");
		init.apply(this, arguments);
	};
	Object.defineProperty(C, "name", { value: name });
	return C;
})`

// RegisterClass defines a constructor target[name] whose body runs init
// with the object being constructed. Methods can be added through the
// constructor's prototype property.
func (c *Context) RegisterClass(target *Value, name string, init ConstructorCallback) (*Value, error) {
	var out *Value
	err := c.do(func() error {
		body, err := c.NewFunction(func(this *Value, args []any) (any, error) {
			if this == nil {
				return nil, &ThrownError{Name: "TypeError", Err: fmt.Errorf("%s: missing receiver", name)}
			}
			return nil, init(this, args)
		})
		if err != nil {
			return err
		}
		defer body.release()

		jsName := c.engine.NewString(name)
		if jsName.IsException() {
			return c.currentError()
		}
		defer c.engine.Free(jsName)
		ctor, err := c.callHelper("classFactory", classFactoryJS, jsName, body.raw)
		if err != nil {
			return fmt.Errorf("defining class %s: %w", name, err)
		}
		out = c.track(ctor, TypeFunction)
		return c.setTarget(target, name, out)
	})
	return out, err
}

// setTarget stores v as target[name], target defaulting to the global object.
func (c *Context) setTarget(target *Value, name string, v *Value) error {
	if target == nil {
		target = c.Global()
	}
	return target.Set(name, v)
}

func lowerCamel(s string) string {
	r := []rune(s)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	switch {
	case n == 0:
		return s
	case n == 1 || n == len(r):
		return strings.ToLower(string(r[:n])) + string(r[n:])
	}
	// Keep the capital that starts the next word: HTTPServer -> httpServer.
	return strings.ToLower(string(r[:n-1])) + string(r[n-1:])
}

// goCallback adapts fn to a Callback.
func goCallback(c *Context, name string, fn reflect.Value) (Callback, error) {
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, fmt.Errorf("registering %s: %w", name, ErrNotFunction)
	}
	ft := fn.Type()
	nout := ft.NumOut()
	hasErr := nout > 0 && ft.Out(nout-1) == errorType
	if nout > 2 || (nout == 2 && !hasErr) {
		return nil, fmt.Errorf("registering %s: results must be (), (T), (error) or (T, error)", name)
	}

	return func(_ *Value, args []any) (any, error) {
		in, err := c.goArgs(ft, args)
		if err != nil {
			return nil, &ThrownError{Name: "TypeError", Err: fmt.Errorf("calling %s: %w", name, err)}
		}
		var out []reflect.Value
		if ft.IsVariadic() {
			out = fn.CallSlice(in)
		} else {
			out = fn.Call(in)
		}
		if hasErr {
			if e := out[nout-1]; !e.IsNil() {
				return nil, &ThrownError{Name: "TypeError", Err: fmt.Errorf("calling %s: %w", name, e.Interface().(error))}
			}
			out = out[:nout-1]
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out[0].Interface(), nil
	}, nil
}

// goArgs converts JS arguments to fn's parameter types. For variadic
// functions the last element is the packed slice.
func (c *Context) goArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	n := ft.NumIn()
	fixed := n
	if ft.IsVariadic() {
		fixed = n - 1
	}
	in := make([]reflect.Value, 0, n)
	for i := 0; i < fixed; i++ {
		var a any
		if i < len(args) {
			a = args[i]
		}
		v, err := c.goArg(a, ft.In(i))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}
	if ft.IsVariadic() {
		st := ft.In(n - 1)
		rest := reflect.MakeSlice(st, 0, max(len(args)-fixed, 0))
		for i := fixed; i < len(args); i++ {
			v, err := c.goArg(args[i], st.Elem())
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			rest = reflect.Append(rest, v)
		}
		in = append(in, rest)
	}
	return in, nil
}

// goArg converts one argument, as delivered to a Callback, to t.
func (c *Context) goArg(a any, t reflect.Type) (reflect.Value, error) {
	if t == valueType {
		if a == nil {
			return reflect.Zero(t), nil
		}
		h, ok := a.(*Value)
		if !ok {
			v, err := c.ToValue(a)
			if err != nil {
				return reflect.Value{}, err
			}
			// Primitive wrapped for the call; released with the context.
			return reflect.ValueOf(v), nil
		}
		return reflect.ValueOf(h), nil
	}

	if h, ok := a.(*Value); ok {
		iface := t.Kind() == reflect.Interface && valueType.Implements(t)
		switch {
		case t == bytesType:
			b, err := h.Bytes()
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(b), nil
		case iface && t.NumMethod() > 0:
			return reflect.ValueOf(h), nil
		}
		x, err := c.export(h.raw, 0)
		if err != nil {
			if iface {
				// Functions and other non-data values stay handles.
				return reflect.ValueOf(h), nil
			}
			return reflect.Value{}, err
		}
		a = x
	}

	if a == nil {
		return reflect.Zero(t), nil
	}
	av := reflect.ValueOf(a)
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := asInt(a)
		if !ok {
			return reflect.Value{}, fmt.Errorf("want %s, got %T", t, a)
		}
		v := reflect.New(t).Elem()
		if v.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", n, t)
		}
		v.SetInt(n)
		return v, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := asInt(a)
		if !ok || n < 0 {
			return reflect.Value{}, fmt.Errorf("want %s, got %v", t, a)
		}
		v := reflect.New(t).Elem()
		if v.OverflowUint(uint64(n)) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", n, t)
		}
		v.SetUint(uint64(n))
		return v, nil
	case reflect.Float32, reflect.Float64:
		var f float64
		switch x := a.(type) {
		case int64:
			f = float64(x)
		case float64:
			f = x
		default:
			return reflect.Value{}, fmt.Errorf("want %s, got %T", t, a)
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.Slice:
		list, ok := a.([]any)
		if !ok {
			if av.Type().AssignableTo(t) {
				return av, nil
			}
			return reflect.Value{}, fmt.Errorf("want %s, got %T", t, a)
		}
		out := reflect.MakeSlice(t, len(list), len(list))
		for i, e := range list {
			v, err := c.goArg(e, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out.Index(i).Set(v)
		}
		return out, nil
	case reflect.Map:
		m, ok := a.(map[string]any)
		if !ok || t.Key().Kind() != reflect.String {
			return reflect.Value{}, fmt.Errorf("want %s, got %T", t, a)
		}
		out := reflect.MakeMapWithSize(t, len(m))
		for k, e := range m {
			v, err := c.goArg(e, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), v)
		}
		return out, nil
	}
	if av.Type().AssignableTo(t) {
		return av, nil
	}
	if av.Type().ConvertibleTo(t) && av.Kind() == t.Kind() {
		return av.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("want %s, got %T", t, a)
}

// asInt accepts integral JS numbers.
func asInt(a any) (int64, bool) {
	switch x := a.(type) {
	case int64:
		return x, true
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}
