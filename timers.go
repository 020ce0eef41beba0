package qjsbridge

import (
	"fmt"
	"time"

	"github.com/cryguy/qjsbridge/internal/abi"
)

// timersJS installs setTimeout, setInterval, clearTimeout and clearInterval.
// Callbacks stay on the JS side; Go only schedules ids. The returned function
// runs the callback for a fired id.
const timersJS = `(function (register, clear) {
	var callbacks = {};
	function schedule(fn, delay, args, interval) {
		if (typeof fn !== "function") return 0;
		var id = register(Number(delay) || 0, interval);
		callbacks[id] = { fn: fn, args: args, interval: interval };
		return id;
	}
	globalThis.setTimeout = function (fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function (fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function (id) {
		if (typeof id !== "number" || !(id in callbacks)) return;
		clear(id);
		delete callbacks[id];
	};
	return function (id) {
		var t = callbacks[id];
		if (!t) return;
		if (!t.interval) delete callbacks[id];
		t.fn.apply(undefined, t.args);
	};
})`

// installTimers wires the timer globals to the runtime's event loop.
func (c *Context) installTimers() error {
	register, err := c.NewFunction(func(_ *Value, args []any) (any, error) {
		var ms float64
		switch d := argAt(args, 0).(type) {
		case int64:
			ms = float64(d)
		case float64:
			ms = d
		}
		interval, _ := argAt(args, 1).(bool)
		return c.registerTimer(time.Duration(ms*float64(time.Millisecond)), interval), nil
	})
	if err != nil {
		return err
	}
	defer register.release()

	clear, err := c.NewFunction(func(_ *Value, args []any) (any, error) {
		if id, ok := argAt(args, 0).(int64); ok {
			c.clearTimer(int(id))
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	defer clear.release()

	fire, err := c.callHelper("timers", timersJS, register.raw, clear.raw)
	if err != nil {
		return fmt.Errorf("installing timers: %w", err)
	}
	c.helpers["timerFire"] = fire
	return nil
}

func argAt(args []any, i int) any {
	if i >= len(args) {
		return nil
	}
	return args[i]
}

func (c *Context) registerTimer(delay time.Duration, interval bool) int {
	id := c.rt.loop.RegisterTimer(delay, interval, func(id int) {
		c.fireTimer(id, interval)
	})
	c.timers[id] = struct{}{}
	return id
}

func (c *Context) clearTimer(id int) {
	if _, ok := c.timers[id]; !ok {
		return
	}
	delete(c.timers, id)
	c.rt.loop.ClearTimer(id)
}

// fireTimer runs on the loop when a timer is due. Failures are kept as the
// context's pending fault.
func (c *Context) fireTimer(id int, interval bool) {
	if c.closed {
		return
	}
	if !interval {
		delete(c.timers, id)
	}
	err := c.enter(func() error {
		res := c.engine.Call(c.helpers["timerFire"], abi.Undefined, []abi.Value{abi.NewInt32(int32(id))})
		if res.IsException() {
			return fmt.Errorf("timer %d: %w", id, c.currentError())
		}
		c.engine.Free(res)
		return nil
	})
	if err != nil {
		c.recordFault(err)
	}
}
