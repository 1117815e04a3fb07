package dispatch

import (
	"peakrules/pkg/ast"
	"peakrules/pkg/compiler"
)

// Hidden locals of a generated interpreter.
const (
	ActionName = "<action>"
	ArgName    = "<arg>"
	// LoopLabel names the top of the dispatch loop.
	LoopLabel = "dispatch.loop"
)

// Arg reads the argument of the pair being dispatched.
var Arg = ast.Var(ArgName)

// NextNode replaces the current dispatch pair and goes back to the top of the
// dispatch loop. Nothing after it runs.
type NextNode struct {
	Pair ast.Node
	sig  string
}

// Next builds an explicit transfer to pair. Fragments that do not end in a
// transfer get one implicitly, to the value they compute.
func Next(pair ast.Node) ast.Node {
	return &NextNode{Pair: pair, sig: "Next(" + pair.Signature() + ")"}
}

func (n *NextNode) Signature() string    { return n.sig }
func (n *NextNode) Children() []ast.Node { return []ast.Node{n.Pair} }

// StackEffect lets Next stand where a value is expected. The code after it
// is unreachable, so the effect is never observed.
func (n *NextNode) StackEffect() int { return 1 }

func (n *NextNode) Emit(c *compiler.Code) error {
	if err := c.Expr(n.Pair); err != nil {
		return err
	}
	return transfer(c)
}

// transfer unpacks the pair on top of the stack into the current action and
// argument and jumps back to the dispatch loop.
func transfer(c *compiler.Code) error {
	c.Unpack(2)
	c.StoreName(ActionName)
	c.StoreName(ArgName)
	return c.Jump(c.NamedLabel(LoopLabel))
}
