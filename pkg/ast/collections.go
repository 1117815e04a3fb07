package ast

import (
	"peakrules/pkg/compiler"
	"peakrules/pkg/vm"
)

type CollectionKind uint8

const (
	CollectionList CollectionKind = iota
	CollectionTuple
	CollectionDict
)

func (k CollectionKind) String() string {
	switch k {
	case CollectionList:
		return "list"
	case CollectionTuple:
		return "tuple"
	}
	return "dict"
}

// DictItem is one key/value entry of a dict literal.
type DictItem struct {
	Key, Value Node
}

// Collection is a list, tuple or dict literal. For dicts, Elements holds
// keys and values alternately.
type Collection struct {
	Kind     CollectionKind
	Elements []Node
	sig      string
}

// List builds a list literal. A folded list is one value, shared by every
// execution that loads it.
func List(elements ...Node) (Node, error) { return newSequence(CollectionList, elements) }

// Tuple builds a tuple literal.
func Tuple(elements ...Node) (Node, error) { return newSequence(CollectionTuple, elements) }

func newSequence(kind CollectionKind, elements []Node) (Node, error) {
	if vals, ok := allConst(elements...); ok {
		if kind == CollectionList {
			return Const(vm.NewList(vals...)), nil
		}
		return Const(vm.NewTuple(vals...)), nil
	}
	elems := append([]Node(nil), elements...)
	return &Collection{Kind: kind, Elements: elems, sig: signature("Collection", kind.String(), sigs(elems))}, nil
}

// Dict builds a dict literal; later duplicate keys win.
func Dict(items ...DictItem) (Node, error) {
	elems := make([]Node, 0, 2*len(items))
	for _, it := range items {
		elems = append(elems, it.Key, it.Value)
	}
	if vals, ok := allConst(elems...); ok {
		d, err := vm.BuildDict(vals)
		if err != nil {
			return nil, foldError("dict", err)
		}
		return Const(d), nil
	}
	return &Collection{Kind: CollectionDict, Elements: elems, sig: signature("Collection", "dict", sigs(elems))}, nil
}

func (n *Collection) Signature() string { return n.sig }
func (n *Collection) Children() []Node  { return n.Elements }

// Emit pushes every element and then builds the collection, which nets +1
// however many elements there are.
func (n *Collection) Emit(c *compiler.Code) error {
	for _, e := range n.Elements {
		if err := c.Expr(e); err != nil {
			return err
		}
	}
	switch n.Kind {
	case CollectionList:
		c.BuildList(len(n.Elements))
	case CollectionTuple:
		c.BuildTuple(len(n.Elements))
	default:
		c.BuildDict(len(n.Elements) / 2)
	}
	return nil
}
