package qjsbridge

import (
	"errors"
	"fmt"
	"path"

	"github.com/cryguy/qjsbridge/internal/abi"
	"github.com/cryguy/qjsbridge/internal/quickjs"
)

// makeRequireJS builds module-relative require functions around the host
// loader.
const makeRequireJS = `(function (load) {
	return function makeRequire(base) {
		return function require(name) {
			if (typeof name !== "string") throw new TypeError("require: module name must be a string");
			return load(name, base);
		};
	};
})`

// transfer hands an owned engine value back through a Callback result
// without another reference being taken.
type transfer abi.Value

// EnableRequire installs a global CommonJS require. Names are resolved and
// fetched through the runtime's ModuleLoader. Each module runs once per
// context with module, exports, require, __filename and __dirname in scope;
// require returns module.exports.
func (c *Context) EnableRequire() error {
	return c.do(func() error {
		if _, ok := c.helpers["makeRequire"]; ok {
			return nil
		}
		load, err := c.NewFunction(func(_ *Value, args []any) (any, error) {
			return c.require(argString(args, 0), argString(args, 1))
		})
		if err != nil {
			return err
		}
		defer load.release()

		factory, err := c.helper("requireFactory", makeRequireJS)
		if err != nil {
			return err
		}
		mk := c.engine.Call(factory, abi.Undefined, []abi.Value{load.raw})
		if mk.IsException() {
			return c.currentError()
		}
		c.helpers["makeRequire"] = mk

		req, err := c.makeRequire("")
		if err != nil {
			return err
		}
		if !c.engine.SetProp(c.global, "require", req) {
			return c.currentError()
		}
		return nil
	})
}

// makeRequire returns an owned require function resolving against base.
func (c *Context) makeRequire(base string) (abi.Value, error) {
	b := c.engine.NewString(base)
	if b.IsException() {
		return abi.Undefined, c.currentError()
	}
	defer c.engine.Free(b)
	req := c.engine.Call(c.helpers["makeRequire"], abi.Undefined, []abi.Value{b})
	if req.IsException() {
		return abi.Undefined, c.currentError()
	}
	return req, nil
}

// require loads a CommonJS module and returns its exports.
func (c *Context) require(name, base string) (any, error) {
	e := c.engine
	resolved, err := c.rt.normalize(base, name)
	if err != nil {
		return nil, &ThrownError{Name: "ReferenceError", Err: fmt.Errorf("could not resolve module %q: %w", name, err)}
	}
	if m, ok := c.modules[resolved]; ok {
		return c.moduleExports(m)
	}

	src, err := c.rt.loadSource(resolved)
	if err != nil {
		return nil, &ThrownError{Name: "ReferenceError", Err: err}
	}

	// Cache before running so cyclic requires see the partial exports.
	m := e.NewObject()
	if m.IsException() {
		return nil, c.currentError()
	}
	exports := e.NewObject()
	e.SetProp(m, "exports", exports)
	e.SetProp(m, "id", e.NewString(resolved))
	e.SetProp(m, "filename", e.NewString(resolved))
	c.modules[resolved] = m

	if err := c.runModule(m, resolved, src); err != nil {
		delete(c.modules, resolved)
		e.Free(m)
		var jsErr *JSError
		if errors.As(err, &jsErr) && jsErr.Name != "" {
			return nil, &ThrownError{Name: jsErr.Name, Err: errors.New(jsErr.Message)}
		}
		return nil, err
	}
	return c.moduleExports(m)
}

func (c *Context) runModule(m abi.Value, filename, src string) error {
	e := c.engine
	wrapper := "(function (module, exports, require, __filename, __dirname) {" + src + "\n})"
	fn := e.Eval(wrapper, filename, quickjs.EvalGlobal)
	if fn.IsException() {
		return c.currentError()
	}
	defer e.Free(fn)

	req, err := c.makeRequire(filename)
	if err != nil {
		return err
	}
	defer e.Free(req)
	exports := e.GetProp(m, "exports")
	defer e.Free(exports)
	file := e.NewString(filename)
	defer e.Free(file)
	dir := e.NewString(path.Dir(filename))
	defer e.Free(dir)

	res := e.Call(fn, exports, []abi.Value{m, exports, req, file, dir})
	if res.IsException() {
		return c.currentError()
	}
	e.Free(res)
	return nil
}

func argString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(string)
	return s
}

func (c *Context) moduleExports(m abi.Value) (any, error) {
	exports := c.engine.GetProp(m, "exports")
	if exports.IsException() {
		return nil, c.currentError()
	}
	return transfer(exports), nil
}
