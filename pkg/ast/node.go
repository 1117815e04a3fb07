// Package ast is the expression node algebra: immutable nodes that fold
// themselves when their operands are constant and otherwise emit stack code
// into a compiler.Code.
package ast

import (
	"strconv"
	"strings"

	"peakrules/pkg/compiler"
	"peakrules/pkg/errors"
	"peakrules/pkg/vm"
)

// Node is an immutable expression tree node. Two nodes with the same
// Signature are interchangeable.
type Node interface {
	compiler.Expr
	// Children returns the direct operands in emission order.
	Children() []Node
}

// signature builds "Kind(part,part,...)".
func signature(kind string, parts ...string) string {
	var sb strings.Builder
	sb.WriteString(kind)
	sb.WriteByte('(')
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p)
	}
	sb.WriteByte(')')
	return sb.String()
}

func sigOf(n Node) string {
	if n == nil {
		return "-"
	}
	return n.Signature()
}

func sigs(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.Signature()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func foldError(op string, err error) error {
	return &errors.FoldError{Op: op, Cause: err}
}

// --- Terminals ---

// Constant is a literal value.
type Constant struct {
	Value vm.Value
	sig   string
}

// Const wraps a value as a node.
func Const(v vm.Value) Node {
	return &Constant{Value: v, sig: signature("Const", v.Signature())}
}

func (n *Constant) Signature() string { return n.sig }
func (n *Constant) Children() []Node  { return nil }

func (n *Constant) Emit(c *compiler.Code) error {
	c.LoadConst(n.Value)
	return nil
}

// VarRef reads a name: a parameter or local of the function being emitted,
// or a global otherwise.
type VarRef struct {
	Name string
	sig  string
}

func Var(name string) Node {
	return &VarRef{Name: name, sig: signature("Var", strconv.Quote(name))}
}

func (n *VarRef) Signature() string { return n.sig }
func (n *VarRef) Children() []Node  { return nil }

func (n *VarRef) Emit(c *compiler.Code) error {
	c.LoadName(n.Name)
	return nil
}

// IsTerminal reports whether n is a Constant or a VarRef.
func IsTerminal(n Node) bool {
	switch n.(type) {
	case *Constant, *VarRef:
		return true
	}
	return false
}

// ConstValue returns the value of a Constant node.
func ConstValue(n Node) (vm.Value, bool) {
	if k, ok := n.(*Constant); ok {
		return k.Value, true
	}
	return vm.None, false
}

func allConst(nodes ...Node) ([]vm.Value, bool) {
	vals := make([]vm.Value, len(nodes))
	for i, n := range nodes {
		v, ok := ConstValue(n)
		if !ok {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

// Walk calls fn for n and every descendant, parents first. Returning false
// from fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, child := range n.Children() {
		Walk(child, fn)
	}
}
