package compiler

import (
	"peakrules/pkg/vm"
)

type options struct {
	globals     map[string]vm.Value
	interceptor Interceptor
}

// Option configures Compile.
type Option func(*options)

// WithGlobals sets the names that unresolved variable references load from.
func WithGlobals(globals map[string]vm.Value) Option {
	return func(o *options) { o.globals = globals }
}

// WithInterceptor installs an emission interceptor, such as a subexpression
// cache, for the compilation.
func WithInterceptor(i Interceptor) Option {
	return func(o *options) { o.interceptor = i }
}

// Compile emits e as the body of a function taking params and returning e's
// value.
func Compile(name string, params []string, e Expr, opts ...Option) (*vm.Function, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := NewCode(name, params...)
	c.SetInterceptor(o.interceptor)
	if err := c.Expr(e); err != nil {
		return nil, err
	}
	c.Return()
	return c.Function(o.globals)
}
