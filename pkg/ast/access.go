package ast

import (
	"strconv"

	"peakrules/pkg/compiler"
	"peakrules/pkg/vm"
)

// SubscriptNode is base[index].
type SubscriptNode struct {
	Base, Index Node
	sig         string
}

// Subscript builds base[index], folding constant operands.
func Subscript(base, index Node) (Node, error) {
	if vals, ok := allConst(base, index); ok {
		r, err := vm.Index(vals[0], vals[1])
		if err != nil {
			return nil, foldError("getitem", err)
		}
		return Const(r), nil
	}
	return &SubscriptNode{Base: base, Index: index, sig: signature("Subscript", base.Signature(), index.Signature())}, nil
}

func (n *SubscriptNode) Signature() string { return n.sig }
func (n *SubscriptNode) Children() []Node  { return []Node{n.Base, n.Index} }

func (n *SubscriptNode) Emit(c *compiler.Code) error {
	if err := c.Expr(n.Base); err != nil {
		return err
	}
	if err := c.Expr(n.Index); err != nil {
		return err
	}
	c.GetIndex()
	return nil
}

// SliceObjNode builds a slice value from its bounds. Nil bounds are omitted.
type SliceObjNode struct {
	Start, Stop, Step Node
	sig               string
}

// SliceObj builds slice(start, stop, step); nil bounds mean None.
func SliceObj(start, stop, step Node) (Node, error) {
	if vals, ok := boundValues(start, stop, step); ok {
		return Const(vm.NewSlice(vals[0], vals[1], vals[2])), nil
	}
	return &SliceObjNode{
		Start: start, Stop: stop, Step: step,
		sig: signature("SliceObj", sigOf(start), sigOf(stop), sigOf(step)),
	}, nil
}

// boundValues is allConst for optional operands.
func boundValues(bounds ...Node) ([]vm.Value, bool) {
	vals := make([]vm.Value, len(bounds))
	for i, b := range bounds {
		if b == nil {
			vals[i] = vm.None
			continue
		}
		v, ok := ConstValue(b)
		if !ok {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

func (n *SliceObjNode) Signature() string { return n.sig }
func (n *SliceObjNode) Children() []Node  { return present(n.Start, n.Stop, n.Step) }

func (n *SliceObjNode) Emit(c *compiler.Code) error {
	return emitBounds(c, n.Start, n.Stop, n.Step)
}

func present(nodes ...Node) []Node {
	var out []Node
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func emitBounds(c *compiler.Code, start, stop, step Node) error {
	for _, b := range []Node{start, stop, step} {
		if b == nil {
			c.LoadNone()
			continue
		}
		if err := c.Expr(b); err != nil {
			return err
		}
	}
	c.BuildSlice()
	return nil
}

// SliceNode is base[start:stop:step].
type SliceNode struct {
	Base              Node
	Start, Stop, Step Node
	sig               string
}

// Slice builds base[start:stop:step]. Nil bounds are omitted.
func Slice(base, start, stop, step Node) (Node, error) {
	if b, ok := ConstValue(base); ok {
		if vals, ok := boundValues(start, stop, step); ok {
			r, err := vm.SliceOf(b, vals[0], vals[1], vals[2])
			if err != nil {
				return nil, foldError("slice", err)
			}
			return Const(r), nil
		}
	}
	return &SliceNode{
		Base: base, Start: start, Stop: stop, Step: step,
		sig: signature("Slice", base.Signature(), sigOf(start), sigOf(stop), sigOf(step)),
	}, nil
}

func (n *SliceNode) Signature() string { return n.sig }

func (n *SliceNode) Children() []Node {
	return append([]Node{n.Base}, present(n.Start, n.Stop, n.Step)...)
}

func (n *SliceNode) Emit(c *compiler.Code) error {
	if err := c.Expr(n.Base); err != nil {
		return err
	}
	if err := emitBounds(c, n.Start, n.Stop, n.Step); err != nil {
		return err
	}
	c.GetIndex()
	return nil
}

// AttributeNode is base.name.
type AttributeNode struct {
	Base Node
	Name string
	sig  string
}

// Attribute builds base.name. A constant base folds only when it actually has
// the attribute; otherwise the lookup is left to run time.
func Attribute(base Node, name string) (Node, error) {
	if v, ok := ConstValue(base); ok && vm.HasAttr(v, name) {
		r, err := vm.GetAttr(v, name)
		if err != nil {
			return nil, foldError("getattr", err)
		}
		return Const(r), nil
	}
	return &AttributeNode{Base: base, Name: name, sig: signature("Attr", base.Signature(), strconv.Quote(name))}, nil
}

func (n *AttributeNode) Signature() string { return n.sig }
func (n *AttributeNode) Children() []Node  { return []Node{n.Base} }

func (n *AttributeNode) Emit(c *compiler.Code) error {
	if err := c.Expr(n.Base); err != nil {
		return err
	}
	c.GetAttr(n.Name)
	return nil
}
