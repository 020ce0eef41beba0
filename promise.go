package qjsbridge

import (
	"errors"
	"fmt"

	"github.com/cryguy/qjsbridge/internal/abi"
)

const deferredJS = `(function () {
	var d = {};
	d.promise = new Promise(function (resolve, reject) {
		d.resolve = resolve;
		d.reject = reject;
	});
	return d;
})`

// ErrSettled is returned when a Deferred is resolved or rejected twice.
var ErrSettled = errors.New("qjsbridge: promise already settled")

// Deferred is a JS promise settled from Go. Resolve and Reject may be called
// from any goroutine; the job queue is pumped afterwards so reactions run
// before they return.
type Deferred struct {
	Promise *Value

	ctx     *Context
	resolve *Value
	reject  *Value
	settled bool
}

// NewPromise creates a pending promise.
func (c *Context) NewPromise() (*Deferred, error) {
	var d *Deferred
	err := c.do(func() error {
		raw, err := c.callHelper("deferred", deferredJS)
		if err != nil {
			return fmt.Errorf("creating promise: %w", err)
		}
		defer c.engine.Free(raw)

		parts := make(map[string]*Value, 3)
		for _, name := range []string{"promise", "resolve", "reject"} {
			v := c.engine.GetProp(raw, name)
			if v.IsException() {
				for _, p := range parts {
					p.release()
				}
				return c.currentError()
			}
			parts[name] = c.track(v, c.classify(v, TypeUnknown))
		}
		d = &Deferred{
			Promise: parts["promise"],
			ctx:     c,
			resolve: parts["resolve"],
			reject:  parts["reject"],
		}
		return nil
	})
	return d, err
}

// Resolve fulfils the promise with x.
func (d *Deferred) Resolve(x any) error {
	return d.settle(d.resolve, x)
}

// Reject rejects the promise. A Go error is turned into a JS Error carrying
// its text.
func (d *Deferred) Reject(reason any) error {
	return d.settle(d.reject, reason)
}

func (d *Deferred) settle(fn *Value, x any) error {
	c := d.ctx
	return c.enter(func() error {
		if d.settled {
			return ErrSettled
		}
		d.settled = true
		defer d.resolve.release()
		defer d.reject.release()

		if err, ok := x.(error); ok {
			ev, nerr := c.NewError(err.Error())
			if nerr != nil {
				return nerr
			}
			defer ev.release()
			x = ev
		}
		_, err := c.invoke(fn.raw, abi.Undefined, []any{x})
		return err
	})
}
