package ast

import (
	"peakrules/pkg/compiler"
	"peakrules/pkg/errors"
)

type LogicalKind uint8

const (
	LogicalAnd LogicalKind = iota
	LogicalOr
)

func (k LogicalKind) String() string {
	if k == LogicalAnd {
		return "and"
	}
	return "or"
}

// Logical is a short-circuit chain: And yields the first falsy operand (or
// the last one), Or the first truthy operand (or the last one).
type Logical struct {
	Kind     LogicalKind
	Operands []Node
	sig      string
}

// And builds a short-circuit conjunction.
func And(operands ...Node) (Node, error) { return newLogical(LogicalAnd, operands) }

// Or builds a short-circuit disjunction.
func Or(operands ...Node) (Node, error) { return newLogical(LogicalOr, operands) }

// decides reports whether a constant operand ends the chain.
func (k LogicalKind) decides(n Node) (decided, isConst bool) {
	v, ok := ConstValue(n)
	if !ok {
		return false, false
	}
	return v.Truthy() == (k == LogicalOr), true
}

func newLogical(kind LogicalKind, operands []Node) (Node, error) {
	if len(operands) == 0 {
		return nil, errors.NewCompileError("%s needs at least one operand", kind)
	}
	// Leading constants either decide the result or can be skipped.
	for len(operands) > 1 {
		decided, isConst := kind.decides(operands[0])
		if !isConst {
			break
		}
		if decided {
			return operands[0], nil
		}
		operands = operands[1:]
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	// After the first dynamic operand, a deciding constant ends the chain and
	// a non-deciding one (other than the last) can never be the result.
	kept := []Node{operands[0]}
	for i, op := range operands[1:] {
		isLast := i == len(operands)-2
		decided, isConst := kind.decides(op)
		if isConst && decided {
			kept = append(kept, op)
			break
		}
		if isConst && !isLast {
			continue
		}
		kept = append(kept, op)
	}
	if len(kept) == 1 {
		return kept[0], nil
	}
	return &Logical{Kind: kind, Operands: kept, sig: signature("Logical", kind.String(), sigs(kept))}, nil
}

func (n *Logical) Signature() string { return n.sig }
func (n *Logical) Children() []Node  { return n.Operands }

func (n *Logical) Emit(c *compiler.Code) error {
	end := c.NewLabel()
	last := len(n.Operands) - 1
	for _, op := range n.Operands[:last] {
		if err := c.Expr(op); err != nil {
			return err
		}
		var err error
		if n.Kind == LogicalAnd {
			err = c.JumpIfFalseOrPop(end)
		} else {
			err = c.JumpIfTrueOrPop(end)
		}
		if err != nil {
			return err
		}
	}
	if err := c.Expr(n.Operands[last]); err != nil {
		return err
	}
	return c.Mark(end)
}

// Conditional evaluates Test and then exactly one of Then and Else.
type Conditional struct {
	Test, Then, Else Node
	sig              string
}

// Cond builds `then if test else else_`. A constant test selects the branch
// at build time.
func Cond(test, then, else_ Node) (Node, error) {
	if v, ok := ConstValue(test); ok {
		if v.Truthy() {
			return then, nil
		}
		return else_, nil
	}
	return &Conditional{
		Test: test, Then: then, Else: else_,
		sig: signature("Cond", test.Signature(), then.Signature(), else_.Signature()),
	}, nil
}

func (n *Conditional) Signature() string { return n.sig }
func (n *Conditional) Children() []Node  { return []Node{n.Test, n.Then, n.Else} }

func (n *Conditional) Emit(c *compiler.Code) error {
	elseL, end := c.NewLabel(), c.NewLabel()
	if err := c.Expr(n.Test); err != nil {
		return err
	}
	if err := c.JumpIfFalse(elseL); err != nil {
		return err
	}
	if err := c.Expr(n.Then); err != nil {
		return err
	}
	if err := c.Jump(end); err != nil {
		return err
	}
	if err := c.Mark(elseL); err != nil {
		return err
	}
	if err := c.Expr(n.Else); err != nil {
		return err
	}
	return c.Mark(end)
}
