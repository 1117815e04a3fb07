package ast

import (
	"peakrules/pkg/compiler"
	"peakrules/pkg/errors"
	"peakrules/pkg/vm"
)

// UnaryOp applies a unary operator to one operand.
type UnaryOp struct {
	Kind    vm.UnaryKind
	Operand Node
	sig     string
}

// Unary builds `kind operand`, folding a constant operand.
func Unary(kind vm.UnaryKind, operand Node) (Node, error) {
	if v, ok := ConstValue(operand); ok {
		r, err := vm.Unary(kind, v)
		if err != nil {
			return nil, foldError(kind.String(), err)
		}
		return Const(r), nil
	}
	return &UnaryOp{Kind: kind, Operand: operand, sig: signature("Unary", kind.String(), operand.Signature())}, nil
}

func (n *UnaryOp) Signature() string { return n.sig }
func (n *UnaryOp) Children() []Node  { return []Node{n.Operand} }

func (n *UnaryOp) Emit(c *compiler.Code) error {
	if err := c.Expr(n.Operand); err != nil {
		return err
	}
	c.Unary(n.Kind)
	return nil
}

// BinaryOp applies an arithmetic or bitwise operator.
type BinaryOp struct {
	Kind        vm.BinaryKind
	Left, Right Node
	sig         string
}

// Binary builds `left kind right`, folding constant operands.
func Binary(kind vm.BinaryKind, left, right Node) (Node, error) {
	if vals, ok := allConst(left, right); ok {
		r, err := vm.Binary(kind, vals[0], vals[1])
		if err != nil {
			return nil, foldError(kind.String(), err)
		}
		return Const(r), nil
	}
	return &BinaryOp{
		Kind: kind, Left: left, Right: right,
		sig: signature("Binary", kind.String(), left.Signature(), right.Signature()),
	}, nil
}

func (n *BinaryOp) Signature() string { return n.sig }
func (n *BinaryOp) Children() []Node  { return []Node{n.Left, n.Right} }

func (n *BinaryOp) Emit(c *compiler.Code) error {
	if err := c.Expr(n.Left); err != nil {
		return err
	}
	if err := c.Expr(n.Right); err != nil {
		return err
	}
	c.Binary(n.Kind)
	return nil
}

// CompareOp is one link of a comparison chain.
type CompareOp struct {
	Kind    vm.CompareKind
	Operand Node
}

// Comparison is a chained comparison: Subject op1 x1 op2 x2 ... is true when
// every adjacent pair compares true.
type Comparison struct {
	Subject Node
	Ops     []CompareOp
	sig     string
}

// Compare builds a comparison chain. It folds only when the subject and all
// operands are constant.
func Compare(subject Node, ops ...CompareOp) (Node, error) {
	if len(ops) == 0 {
		return nil, errors.NewCompileError("comparison needs at least one operator")
	}
	operands := make([]Node, 0, len(ops)+1)
	operands = append(operands, subject)
	for _, op := range ops {
		operands = append(operands, op.Operand)
	}
	if vals, ok := allConst(operands...); ok {
		result := vm.True
		for i, op := range ops {
			r, err := vm.Compare(op.Kind, vals[i], vals[i+1])
			if err != nil {
				return nil, foldError(op.Kind.String(), err)
			}
			result = r
			if !r.Truthy() {
				break
			}
		}
		return Const(result), nil
	}
	parts := []string{subject.Signature()}
	for _, op := range ops {
		parts = append(parts, op.Kind.String(), op.Operand.Signature())
	}
	return &Comparison{
		Subject: subject,
		Ops:     append([]CompareOp(nil), ops...),
		sig:     signature("Compare", parts...),
	}, nil
}

// Chain extends a comparison with one more link: Chain(a < b, <, c) is
// a < b < c. Any other left-hand side starts a new chain.
func Chain(left Node, kind vm.CompareKind, right Node) (Node, error) {
	if cmp, ok := left.(*Comparison); ok {
		ops := append(append([]CompareOp(nil), cmp.Ops...), CompareOp{Kind: kind, Operand: right})
		return Compare(cmp.Subject, ops...)
	}
	return Compare(left, CompareOp{Kind: kind, Operand: right})
}

func (n *Comparison) Signature() string { return n.sig }

func (n *Comparison) Children() []Node {
	out := []Node{n.Subject}
	for _, op := range n.Ops {
		out = append(out, op.Operand)
	}
	return out
}

// Emit keeps each right operand for the next link and jumps out at the first
// false link, so later operands are never evaluated.
func (n *Comparison) Emit(c *compiler.Code) error {
	if err := c.Expr(n.Subject); err != nil {
		return err
	}
	if len(n.Ops) == 1 {
		if err := c.Expr(n.Ops[0].Operand); err != nil {
			return err
		}
		c.Compare(n.Ops[0].Kind)
		return nil
	}
	cleanup, end := c.NewLabel(), c.NewLabel()
	last := len(n.Ops) - 1
	for _, op := range n.Ops[:last] {
		if err := c.Expr(op.Operand); err != nil {
			return err
		}
		c.Dup()
		c.Rot3()
		c.Compare(op.Kind)
		if err := c.JumpIfFalseOrPop(cleanup); err != nil {
			return err
		}
	}
	if err := c.Expr(n.Ops[last].Operand); err != nil {
		return err
	}
	c.Compare(n.Ops[last].Kind)
	if err := c.Jump(end); err != nil {
		return err
	}
	// [kept operand, false result] -> [false result]
	if err := c.Mark(cleanup); err != nil {
		return err
	}
	c.Rot2()
	c.Pop()
	return c.Mark(end)
}
