package qjsbridge

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/cryguy/qjsbridge/internal/abi"
)

var (
	ErrClosed       = errors.New("qjsbridge: closed")
	ErrFreed        = errors.New("qjsbridge: value already freed")
	ErrNotFunction  = errors.New("qjsbridge: value is not a function")
	ErrForeignValue = errors.New("qjsbridge: value belongs to another runtime")

	// ErrUnhandledRejection matches every *RejectionError.
	ErrUnhandledRejection = errors.New("UnhandledPromiseRejectionException")
)

// rejectionPrefix starts the text of every unhandled rejection report.
const rejectionPrefix = "UnhandledPromiseRejectionException: "

// JSError is an exception raised by the engine.
type JSError struct {
	Name    string // constructor name for Error objects, empty otherwise
	Message string
	Stack   string
	Text    string // message plus stack, or String(value) for non-Error throws
}

func (e *JSError) Error() string { return e.Text }

// RejectionError reports promises that were rejected and never handled by
// the time the job queue ran empty.
type RejectionError struct {
	Reasons []string
}

func (e *RejectionError) Error() string {
	return rejectionPrefix + strings.Join(e.Reasons, "\n")
}

func (e *RejectionError) Is(target error) bool { return target == ErrUnhandledRejection }

// describe renders an engine value for error reporting. Error objects are
// first offered to a global onError/onerror hook, then rendered as message
// followed by the stack when there is one. v is not released.
func (c *Context) describe(v abi.Value) string {
	e := c.engine
	if !e.IsError(v) {
		s, ok := e.ToGoString(v)
		if !ok {
			e.Free(e.GetException())
			return "<unprintable " + v.Tag().String() + ">"
		}
		return s
	}

	c.notifyErrorHook(v)
	text := c.propString(v, "message", true)
	stack := e.GetProp(v, "stack")
	if stack.IsException() {
		e.Free(e.GetException())
	} else if !stack.IsUndefined() {
		if s, ok := e.ToGoString(stack); ok {
			text += "\n" + s
		} else {
			e.Free(e.GetException())
		}
	}
	e.Free(stack)
	return text
}

// notifyErrorHook calls globalThis.onError, or onerror, with v. The hook's
// result is ignored and anything it throws is swallowed.
func (c *Context) notifyErrorHook(v abi.Value) {
	e := c.engine
	for _, name := range []string{"onError", "onerror"} {
		hook := e.GetProp(c.global, name)
		if hook.IsException() {
			e.Free(e.GetException())
			continue
		}
		if !e.IsFunction(hook) {
			e.Free(hook)
			continue
		}
		res := e.Call(hook, c.global, []abi.Value{v})
		if res.IsException() {
			exc := e.GetException()
			c.rt.log.Debug("error hook threw", zap.String("hook", name))
			e.Free(exc)
		}
		e.Free(res)
		e.Free(hook)
		return
	}
}

// propString reads obj[name] as a string. Undefined reads as "" unless
// keepUndefined is set, in which case it reads as "undefined".
func (c *Context) propString(obj abi.Value, name string, keepUndefined bool) string {
	e := c.engine
	v := e.GetProp(obj, name)
	if v.IsException() {
		e.Free(e.GetException())
		return ""
	}
	defer e.Free(v)
	if v.IsUndefined() && !keepUndefined {
		return ""
	}
	s, ok := e.ToGoString(v)
	if !ok {
		e.Free(e.GetException())
		return ""
	}
	return s
}

// currentError takes the pending exception and converts it. The exception
// value is released.
func (c *Context) currentError() *JSError {
	exc := c.engine.GetException()
	defer c.engine.Free(exc)
	return c.jsError(exc)
}

// jsError converts a thrown value without releasing it.
func (c *Context) jsError(v abi.Value) *JSError {
	err := &JSError{Text: c.describe(v)}
	if c.engine.IsError(v) {
		err.Name = c.propString(v, "name", false)
		err.Message = c.propString(v, "message", false)
		err.Stack = c.propString(v, "stack", false)
	}
	return err
}

// ThrownError lets a host callback choose the JS error constructor its
// failure is thrown with. Any other error is thrown as a plain Error.
type ThrownError struct {
	Name string // global constructor, e.g. "TypeError"
	Err  error
}

func (e *ThrownError) Error() string { return e.Err.Error() }

func (e *ThrownError) Unwrap() error { return e.Err }

// throwHostError raises err inside the engine with the error's text as the
// message, and returns the exception sentinel.
func (c *Context) throwHostError(err error) abi.Value {
	ctor := "Error"
	var te *ThrownError
	if errors.As(err, &te) && te.Name != "" {
		ctor = te.Name
	}
	return c.engine.ThrowError(ctor, err.Error())
}
