package qjsbridge

import (
	"github.com/cryguy/qjsbridge/internal/abi"
	"github.com/cryguy/qjsbridge/internal/core"
	"github.com/cryguy/qjsbridge/internal/quickjs"
)

// Type is the semantic classification of an engine value.
type Type = core.Type

const (
	TypeUnknown           = core.Unknown
	TypeNull              = core.Null
	TypeUndefined         = core.Undefined
	TypeInteger           = core.Integer
	TypeDouble            = core.Double
	TypeBoolean           = core.Boolean
	TypeString            = core.String
	TypeArray             = core.Array
	TypeObject            = core.Object
	TypeFunction          = core.Function
	TypeException         = core.Exception
	TypeByte              = core.Byte
	TypeInt8Array         = core.Int8Array
	TypeUint8Array        = core.Uint8Array
	TypeUint8ClampedArray = core.Uint8ClampedArray
	TypeInt16Array        = core.Int16Array
	TypeUint16Array       = core.Uint16Array
	TypeInt32Array        = core.Int32Array
	TypeUint32Array       = core.Uint32Array
	TypeFloat32Array      = core.Float32Array
	TypeFloat64Array      = core.Float64Array
)

// Handle is the flat wire form of an engine value.
type Handle = abi.Handle

// ModuleLoader resolves and fetches ES module sources.
type ModuleLoader = core.ModuleLoader

// Config holds runtime configuration.
type Config = core.Config

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config { return core.DefaultConfig() }

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (Config, error) { return core.LoadConfig(path) }

// EvalFlag selects how source text is evaluated.
type EvalFlag int

const (
	EvalGlobal           EvalFlag = quickjs.EvalGlobal
	EvalModule           EvalFlag = quickjs.EvalModule
	EvalStrict           EvalFlag = quickjs.EvalStrict
	EvalCompileOnly      EvalFlag = quickjs.EvalCompileOnly
	EvalBacktraceBarrier EvalFlag = quickjs.EvalBacktraceBarrier
)

// Result pairs a value converted for the host with the semantic type of the
// engine value it came from.
//
// Value is nil for null and undefined (Type tells them apart), a bool,
// int64, float64 or string for primitives, and a *Value handle for
// everything else.
type Result struct {
	Value any
	Type  Type
}

// Handle returns the result's engine handle, or nil for primitives.
func (r Result) Handle() *Value {
	v, _ := r.Value.(*Value)
	return v
}

// Free releases the result's handle, if it has one.
func (r Result) Free() {
	if v := r.Handle(); v != nil {
		v.Free()
	}
}

// IsNullish reports whether the result is null or undefined.
func (r Result) IsNullish() bool { return r.Type == TypeNull || r.Type == TypeUndefined }
