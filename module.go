package qjsbridge

import (
	"fmt"

	"github.com/cryguy/qjsbridge/internal/abi"
	"github.com/cryguy/qjsbridge/internal/quickjs"
)

const settleModuleJS = `(function (p) { p.catch(function () {}); })`

// EvalModule evaluates source as an ES module named filename. Imports are
// resolved through the runtime's ModuleLoader. The module's evaluation
// promise is awaited by pumping jobs; a rejection is returned as a *JSError.
func (c *Context) EvalModule(source, filename string) error {
	return c.do(func() error {
		c.rt.depth++
		p := c.engine.Eval(source, filename, quickjs.EvalModule)
		c.rt.depth--
		if p.IsException() {
			return fmt.Errorf("evaluating module %s: %w", filename, c.currentError())
		}
		defer c.engine.Free(p)

		if c.engine.PromiseState(p) >= 0 {
			res, err := c.callHelper("settleModule", settleModuleJS, p)
			if err != nil {
				return err
			}
			c.engine.Free(res)
		}
		if c.engine.PromiseState(p) == quickjs.PromiseRejected {
			return c.moduleError(filename, p)
		}
		if c.rt.depth > 0 {
			return nil
		}
		if err := c.drainJobs(); err != nil {
			return err
		}
		if c.engine.PromiseState(p) == quickjs.PromiseRejected {
			return c.moduleError(filename, p)
		}
		return nil
	})
}

// moduleError reports a rejected evaluation promise. Queued rejections
// carrying the same reason are dropped.
func (c *Context) moduleError(filename string, p abi.Value) error {
	reason := c.engine.PromiseResult(p)
	defer c.engine.Free(reason)
	c.rt.forgetRejectionsOf(reason)
	return fmt.Errorf("evaluating module %s: %w", filename, c.jsError(reason))
}
