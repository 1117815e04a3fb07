package vm

import (
	"fmt"

	"peakrules/pkg/errors"
)

// NativeFunction represents a Go function callable from generated code.
type NativeFunction struct {
	name string
	fn   func(args []Value, kwargs []Keyword) (Value, error)
}

// NewNativeFunction wraps fn as a callable Value.
func NewNativeFunction(name string, fn func(args []Value, kwargs []Keyword) (Value, error)) Value {
	return NewFunctionValue(&NativeFunction{name: name, fn: fn})
}

func (n *NativeFunction) Name() string { return n.name }

func (n *NativeFunction) Call(args []Value, kwargs []Keyword) (Value, error) {
	return n.fn(args, kwargs)
}

// Function is compiled code plus the environment it runs in. It is safe to
// call concurrently: every call gets its own frame.
type Function struct {
	name    string
	Params  []string
	Chunk   *Chunk
	Globals map[string]Value
}

// NewFunction builds a Function over an assembled chunk. The first
// len(params) local slots of the chunk are the parameters.
func NewFunction(name string, params []string, chunk *Chunk, globals map[string]Value) *Function {
	if globals == nil {
		globals = map[string]Value{}
	}
	return &Function{name: name, Params: params, Chunk: chunk, Globals: globals}
}

func (f *Function) Name() string { return f.name }

// Value returns f as a callable Value.
func (f *Function) Value() Value { return NewFunctionValue(f) }

// Call binds positional and keyword arguments to the parameters and runs the
// function.
func (f *Function) Call(args []Value, kwargs []Keyword) (Value, error) {
	if len(args) > len(f.Params) {
		return None, errors.NewRuntimeError(errors.ErrTypeMismatch, "%s() takes %d arguments but %d were given", f.name, len(f.Params), len(args))
	}
	nlocals := len(f.Chunk.LocalNames)
	if nlocals < len(f.Params) {
		nlocals = len(f.Params)
	}
	locals := make([]Value, nlocals)
	bound := make([]bool, len(f.Params))
	copy(locals, args)
	for i := range args {
		bound[i] = true
	}
	for _, kw := range kwargs {
		slot := -1
		for i, p := range f.Params {
			if p == kw.Name {
				slot = i
				break
			}
		}
		if slot < 0 {
			return None, errors.NewRuntimeError(errors.ErrTypeMismatch, "%s() got an unexpected keyword argument %q", f.name, kw.Name)
		}
		if bound[slot] {
			return None, errors.NewRuntimeError(errors.ErrTypeMismatch, "%s() got multiple values for argument %q", f.name, kw.Name)
		}
		locals[slot] = kw.Value
		bound[slot] = true
	}
	for i, ok := range bound {
		if !ok {
			return None, errors.NewRuntimeError(errors.ErrTypeMismatch, "%s() missing argument %q", f.name, f.Params[i])
		}
	}
	return run(f, locals)
}

// Invoke is a convenience wrapper for positional calls.
func (f *Function) Invoke(args ...Value) (Value, error) {
	return f.Call(args, nil)
}

func (f *Function) String() string {
	return fmt.Sprintf("<function %s(%d params)>", f.name, len(f.Params))
}
