package ast

import (
	"strconv"
	"strings"

	"peakrules/pkg/compiler"
	"peakrules/pkg/vm"
)

// Keyword is a name=value argument.
type Keyword struct {
	Name  string
	Value Node
}

// CallSpec describes every facet of a call expression.
type CallSpec struct {
	Callee     Node
	Args       []Node
	Kwargs     []Keyword
	Star       Node // *args, or nil
	DoubleStar Node // **kwargs, or nil
	// Method marks a callee that may be a method of its base. An Attribute
	// callee is then looked up with the receiver kept for the call.
	Method bool
}

// CallNode is a function call. Calls are never folded: the callee may have
// side effects.
type CallNode struct {
	CallSpec
	sig string
}

// Call builds callee(args...).
func Call(callee Node, args ...Node) (Node, error) {
	return NewCall(CallSpec{Callee: callee, Args: args})
}

// NewCall builds a call with every facet of spec.
func NewCall(spec CallSpec) (Node, error) {
	spec.Args = append([]Node(nil), spec.Args...)
	spec.Kwargs = append([]Keyword(nil), spec.Kwargs...)
	kw := make([]string, len(spec.Kwargs))
	for i, k := range spec.Kwargs {
		kw[i] = strconv.Quote(k.Name) + "=" + k.Value.Signature()
	}
	kws := "[" + strings.Join(kw, ",") + "]"
	sig := signature("Call", spec.Callee.Signature(), sigs(spec.Args), kws,
		sigOf(spec.Star), sigOf(spec.DoubleStar), strconv.FormatBool(spec.Method))
	return &CallNode{CallSpec: spec, sig: sig}, nil
}

func (n *CallNode) Signature() string { return n.sig }

func (n *CallNode) Children() []Node {
	out := []Node{n.Callee}
	out = append(out, n.Args...)
	if n.Star != nil {
		out = append(out, n.Star)
	}
	for _, k := range n.Kwargs {
		out = append(out, k.Value)
	}
	if n.DoubleStar != nil {
		out = append(out, n.DoubleStar)
	}
	return out
}

// Emit uses a plain positional call when it can and otherwise collects the
// arguments into a list and a dict for an extended call.
func (n *CallNode) Emit(c *compiler.Code) error {
	method := false
	if attr, ok := n.Callee.(*AttributeNode); ok && n.Method {
		method = true
		if err := c.Expr(attr.Base); err != nil {
			return err
		}
		c.LoadMethod(attr.Name)
	} else if err := c.Expr(n.Callee); err != nil {
		return err
	}

	if n.Star == nil && n.DoubleStar == nil && len(n.Kwargs) == 0 {
		for _, a := range n.Args {
			if err := c.Expr(a); err != nil {
				return err
			}
		}
		if method {
			c.CallMethod(len(n.Args))
		} else {
			c.Call(len(n.Args))
		}
		return nil
	}

	for _, a := range n.Args {
		if err := c.Expr(a); err != nil {
			return err
		}
	}
	c.BuildList(len(n.Args))
	if n.Star != nil {
		if err := c.Expr(n.Star); err != nil {
			return err
		}
		c.ListExtend()
	}
	for _, k := range n.Kwargs {
		c.LoadConst(vm.String(k.Name))
		if err := c.Expr(k.Value); err != nil {
			return err
		}
	}
	c.BuildDict(len(n.Kwargs))
	if n.DoubleStar != nil {
		if err := c.Expr(n.DoubleStar); err != nil {
			return err
		}
		c.DictMerge()
	}
	c.CallEx(method)
	return nil
}
