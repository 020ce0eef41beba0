package qjsbridge

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// consoleLevels maps console methods to log levels.
var consoleLevels = map[string]zapcore.Level{
	"log":   zapcore.InfoLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
	"debug": zapcore.DebugLevel,
	"trace": zapcore.DebugLevel,
}

// installConsole replaces globalThis.console with one that writes to the
// runtime's logger.
func (c *Context) installConsole() error {
	console, err := c.NewObject()
	if err != nil {
		return fmt.Errorf("creating console object: %w", err)
	}
	defer console.release()

	log := c.rt.log.Named("console")
	for method, level := range consoleLevels {
		fn, err := c.RegisterVoidFunc(console, method, func(_ *Value, args []any) error {
			if ce := log.Check(level, formatConsoleArgs(args)); ce != nil {
				ce.Write(zap.String("method", method))
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("registering console.%s: %w", method, err)
		}
		fn.release()
	}
	if err := c.Global().Set("console", console); err != nil {
		return err
	}

	res, err := c.callHelper("consoleExt", consoleExtJS, console.raw)
	if err != nil {
		return fmt.Errorf("extending console: %w", err)
	}
	c.engine.Free(res)
	return nil
}

// consoleExtJS adds the console helpers that need no host support.
const consoleExtJS = `(function (console) {
	var timers = {};
	var counters = {};
	console.assert = function (cond) {
		if (cond) return;
		var args = Array.prototype.slice.call(arguments, 1);
		args.unshift("Assertion failed:");
		console.error.apply(console, args);
	};
	console.count = function (label) {
		var l = label === undefined ? "default" : String(label);
		counters[l] = (counters[l] || 0) + 1;
		console.log(l + ": " + counters[l]);
	};
	console.countReset = function (label) {
		delete counters[label === undefined ? "default" : String(label)];
	};
	console.time = function (label) {
		timers[label === undefined ? "default" : String(label)] = Date.now();
	};
	console.timeEnd = function (label) {
		var l = label === undefined ? "default" : String(label);
		var start = timers[l];
		if (start === undefined) { console.warn('Timer "' + l + '" does not exist'); return; }
		delete timers[l];
		console.log(l + ": " + (Date.now() - start) + "ms");
	};
})`

// formatConsoleArgs renders console arguments separated by spaces. Plain
// objects and arrays are shown as JSON.
func formatConsoleArgs(args []any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, formatConsoleArg(a))
	}
	return strings.Join(parts, " ")
}

func formatConsoleArg(a any) string {
	switch x := a.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case *Value:
		if x.typ == TypeObject || x.typ == TypeArray {
			if s, err := x.JSON(); err == nil && s != "" {
				return s
			}
		}
		return x.String()
	}
	return fmt.Sprint(a)
}
