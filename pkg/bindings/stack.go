// Package bindings resolves identifiers to expression nodes through an
// ordered stack of scopes.
package bindings

import (
	"fmt"
	"os"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/unicode/norm"

	"peakrules/pkg/ast"
	"peakrules/pkg/errors"
	"peakrules/pkg/vm"
)

const debugBindings = false

func debugPrintf(format string, args ...interface{}) {
	if debugBindings {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// identifier matches a letter or underscore followed by letters, digits,
// combining marks and underscores.
var identifier = regexp2.MustCompile(`^[\p{L}\p{Nl}_][\p{L}\p{Nl}\p{Mn}\p{Mc}\p{Nd}\p{Pc}]*$`, regexp2.None)

// Scope maps identifiers to nodes.
type Scope map[string]ast.Node

// Constants wraps plain values as constant nodes.
func Constants(values map[string]vm.Value) Scope {
	s := make(Scope, len(values))
	for name, v := range values {
		s[name] = ast.Const(v)
	}
	return s
}

// Stack is an ordered list of scopes searched innermost first. The scopes it
// was created with are its base and cannot be popped. A Stack belongs to one
// builder and is not safe for concurrent use.
type Stack struct {
	scopes []Scope
	base   int
}

// normalize returns the NFKC form of name, or a BindError if it is not an
// identifier.
func normalize(name string) (string, error) {
	n := norm.NFKC.String(name)
	ok, err := identifier.MatchString(n)
	if err != nil {
		return "", &errors.BindError{Name: name, Msg: err.Error()}
	}
	if !ok {
		return "", &errors.BindError{Name: name, Msg: "not a valid identifier"}
	}
	return n, nil
}

// normalizeScope copies s with normalized keys. Two keys of s with the same
// normalized form are an error.
func normalizeScope(s Scope) (Scope, error) {
	out := make(Scope, len(s))
	from := make(map[string]string, len(s))
	for name, node := range s {
		n, err := normalize(name)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, &errors.BindError{Name: name, Msg: "bound to nil"}
		}
		if other, dup := from[n]; dup {
			return nil, &errors.BindError{Name: name, Msg: fmt.Sprintf("same identifier as %q", other)}
		}
		from[n] = name
		out[n] = node
	}
	return out, nil
}

// New creates a stack whose base is scopes, outermost first. With no scopes
// the base is a single empty scope.
func New(scopes ...Scope) (*Stack, error) {
	if len(scopes) == 0 {
		scopes = []Scope{nil}
	}
	st := &Stack{scopes: make([]Scope, 0, len(scopes))}
	for _, s := range scopes {
		ns, err := normalizeScope(s)
		if err != nil {
			return nil, err
		}
		st.scopes = append(st.scopes, ns)
	}
	st.base = len(st.scopes)
	return st, nil
}

// Depth is the number of scopes on the stack, base included.
func (st *Stack) Depth() int { return len(st.scopes) }

// Resolve returns the node bound to name in the innermost scope that binds it.
func (st *Stack) Resolve(name string) (ast.Node, error) {
	n, err := normalize(name)
	if err != nil {
		return nil, err
	}
	for i := len(st.scopes) - 1; i >= 0; i-- {
		if node, ok := st.scopes[i][n]; ok {
			debugPrintf("[Bindings] Resolve %q in scope %d: %s\n", n, i, node.Signature())
			return node, nil
		}
	}
	return nil, &errors.UnresolvedNameError{Name: name}
}

// Push adds a scope on top of the stack. A nil scope pushes an empty one.
func (st *Stack) Push(s Scope) error {
	ns, err := normalizeScope(s)
	if err != nil {
		return err
	}
	st.scopes = append(st.scopes, ns)
	debugPrintf("[Bindings] Push: depth %d\n", len(st.scopes))
	return nil
}

// Pop removes and returns the top scope. Base scopes cannot be popped.
func (st *Stack) Pop() (Scope, error) {
	if len(st.scopes) <= st.base {
		return nil, errors.ErrScopeUnderflow
	}
	top := st.scopes[len(st.scopes)-1]
	st.scopes = st.scopes[:len(st.scopes)-1]
	debugPrintf("[Bindings] Pop: depth %d\n", len(st.scopes))
	return top, nil
}

// Bind merges s into the top scope, replacing existing bindings. Nothing is
// bound if any name in s is invalid.
func (st *Stack) Bind(s Scope) error {
	ns, err := normalizeScope(s)
	if err != nil {
		return err
	}
	top := st.scopes[len(st.scopes)-1]
	for name, node := range ns {
		top[name] = node
	}
	return nil
}
