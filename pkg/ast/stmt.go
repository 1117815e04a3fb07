package ast

import (
	"strconv"

	"peakrules/pkg/compiler"
	"peakrules/pkg/errors"
)

// StoreNode assigns a value to a local name. It leaves nothing on the stack.
type StoreNode struct {
	Name  string
	Value Node
	sig   string
}

// Store builds `name = value`.
func Store(name string, value Node) Node {
	return &StoreNode{Name: name, Value: value, sig: signature("Store", strconv.Quote(name), value.Signature())}
}

func (n *StoreNode) Signature() string { return n.sig }
func (n *StoreNode) Children() []Node  { return []Node{n.Value} }
func (n *StoreNode) StackEffect() int  { return 0 }

func (n *StoreNode) Emit(c *compiler.Code) error {
	if err := c.Expr(n.Value); err != nil {
		return err
	}
	c.StoreName(n.Name)
	return nil
}

// Sequence runs its steps in order. Values produced by all but the last step
// are discarded; the sequence has the stack effect of its last step.
type Sequence struct {
	Steps []Node
	sig   string
}

// Do builds a sequence of steps.
func Do(steps ...Node) (Node, error) {
	if len(steps) == 0 {
		return nil, errors.NewCompileError("sequence needs at least one step")
	}
	if len(steps) == 1 {
		return steps[0], nil
	}
	steps = append([]Node(nil), steps...)
	return &Sequence{Steps: steps, sig: signature("Do", sigs(steps))}, nil
}

func (n *Sequence) Signature() string { return n.sig }
func (n *Sequence) Children() []Node  { return n.Steps }

func (n *Sequence) StackEffect() int {
	return compiler.ExpectedEffect(n.Steps[len(n.Steps)-1])
}

func (n *Sequence) Emit(c *compiler.Code) error {
	last := len(n.Steps) - 1
	for _, step := range n.Steps[:last] {
		if err := c.Expr(step); err != nil {
			return err
		}
		if !c.Reachable() {
			return nil
		}
		for i := compiler.ExpectedEffect(step); i > 0; i-- {
			c.Pop()
		}
	}
	return c.Expr(n.Steps[last])
}
