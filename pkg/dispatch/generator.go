// Package dispatch compiles decision trees into table-driven interpreters.
//
// A decision tree is data: nested (action id, argument) pairs. Code is
// generated once per registered action, not once per tree node, and the
// generated function walks the tree in a loop, dispatching on the action id
// through a jump table. Action 0 ends the walk by calling its argument with
// the function's current parameter values.
package dispatch

import (
	"strconv"

	"github.com/segmentio/fasthash/fnv1a"
	"github.com/zeebo/blake3"

	"peakrules/pkg/ast"
	"peakrules/pkg/compiler"
	"peakrules/pkg/cse"
	"peakrules/pkg/errors"
	"peakrules/pkg/vm"
)

// ExitAction is the reserved id that calls the argument and returns.
const ExitAction = 0

// Template gives the calling convention of a generated interpreter.
type Template struct {
	Name   string
	Params []string
}

// Generator holds the action table. Ids are assigned from 1 in registration
// order and never change; the table only grows. A Generator is not safe for
// concurrent use, but the functions it generates are.
type Generator struct {
	actions []ast.Node
	index   map[uint64][]int
}

func NewGenerator() *Generator {
	return &Generator{index: make(map[uint64][]int)}
}

// Len is the number of registered actions.
func (g *Generator) Len() int { return len(g.actions) }

// Action returns the fragment registered under id.
func (g *Generator) Action(id int) (ast.Node, bool) {
	if id < 1 || id > len(g.actions) {
		return nil, false
	}
	return g.actions[id-1], true
}

// Register adds fragment to the table and returns its id. A fragment that is
// structurally identical to a registered one gets that one's id.
//
// The fragment reads the current argument through Arg and must either
// compute the next (action, argument) pair or transfer control itself with
// Next.
func (g *Generator) Register(fragment ast.Node) (int, error) {
	if fragment == nil {
		return 0, errors.NewCompileError("cannot register a nil action")
	}
	sig := fragment.Signature()
	h := fnv1a.HashString64(sig)
	for _, id := range g.index[h] {
		if g.actions[id-1].Signature() == sig {
			return id, nil
		}
	}
	if err := checkFragment(fragment); err != nil {
		return 0, err
	}
	g.actions = append(g.actions, fragment)
	id := len(g.actions)
	g.index[h] = append(g.index[h], id)
	compiler.Tracef("[Dispatch] register #%d %s\n", id, sig)
	return id, nil
}

// checkFragment emits fragment into a scratch buffer to make sure it either
// leaves one value or ends in a transfer.
func checkFragment(fragment ast.Node) error {
	c := compiler.NewCode("dispatch.check")
	c.Local(ActionName)
	c.Local(ArgName)
	if err := c.Expr(fragment); err != nil {
		return err
	}
	if c.Reachable() && c.Depth() != 1 {
		return errors.NewCompileError("action %s leaves %d values on the stack, expected 1", fragment.Signature(), c.Depth())
	}
	return nil
}

// Fingerprint is a digest of the action table. Two generators with equal
// fingerprints generate the same code for the same root.
func (g *Generator) Fingerprint() []byte {
	h := blake3.New()
	for i, a := range g.actions {
		h.Write([]byte(strconv.Itoa(i + 1)))
		h.Write([]byte{0})
		h.Write([]byte(a.Signature()))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

type options struct {
	cache   *cse.Cache
	globals map[string]vm.Value
}

// Option configures Generate.
type Option func(*options)

// WithCache shares subexpressions marked in cache across the actions of the
// generated function. Subexpressions reading the argument, or a name some
// action stores to, are recomputed on every pass through the loop.
func WithCache(cache *cse.Cache) Option {
	return func(o *options) { o.cache = cache }
}

// WithGlobals sets the names that action fragments can load as globals.
func WithGlobals(globals map[string]vm.Value) Option {
	return func(o *options) { o.globals = globals }
}

// Generate builds an interpreter for the decision tree rooted at root, which
// must be an (action id, argument) pair. The function has the template's
// parameters and starts with root as its current pair.
func (g *Generator) Generate(root vm.Value, tmpl Template, opts ...Option) (*vm.Function, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if items, ok := root.Items(); !ok || len(items) != 2 {
		return nil, errors.NewCompileError("dispatch root must be an (action, argument) pair, got %s", root)
	}
	for _, p := range tmpl.Params {
		if p == ActionName || p == ArgName || p == cse.SlotName {
			return nil, errors.NewCompileError("parameter name %q is reserved", p)
		}
	}

	c := compiler.NewCode(tmpl.Name, tmpl.Params...)
	action := c.Local(ActionName)
	arg := c.Local(ArgName)
	if o.cache != nil {
		o.cache.Attach(c, g.volatile()...)
	}

	c.LoadConst(root)
	c.Unpack(2)
	c.StoreLocal(action)
	c.StoreLocal(arg)

	loop := c.NamedLabel(LoopLabel)
	if err := c.Mark(loop); err != nil {
		return nil, err
	}
	targets := make([]compiler.Label, len(g.actions)+1)
	for i := range targets {
		targets[i] = c.NewLabel()
	}
	invalid := c.NewLabel()
	c.LoadLocal(action)
	if err := c.JumpTable(targets, invalid); err != nil {
		return nil, err
	}

	// Action 0: call the argument with the current parameter values.
	if err := c.Mark(targets[ExitAction]); err != nil {
		return nil, err
	}
	c.LoadLocal(arg)
	for i := range tmpl.Params {
		c.LoadLocal(i)
	}
	c.Call(len(tmpl.Params))
	c.Return()

	for i, fragment := range g.actions {
		if err := c.Mark(targets[i+1]); err != nil {
			return nil, err
		}
		if err := c.Expr(fragment); err != nil {
			return nil, err
		}
		if c.Reachable() {
			if err := transfer(c); err != nil {
				return nil, err
			}
		}
	}

	if err := c.Mark(invalid); err != nil {
		return nil, err
	}
	c.LoadLocal(action)
	c.LoadLocal(arg)
	c.BuildTuple(2)
	c.InvalidAction()

	fn, err := c.Function(o.globals)
	if err != nil {
		return nil, err
	}
	if compiler.Tracing() {
		compiler.Tracef("%s", fn.Chunk.Disassemble(tmpl.Name))
	}
	return fn, nil
}

// volatile lists the names whose value can change between two passes
// through the dispatch loop.
func (g *Generator) volatile() []string {
	names := []string{ActionName, ArgName}
	seen := map[string]bool{ActionName: true, ArgName: true}
	for _, a := range g.actions {
		ast.Walk(a, func(n ast.Node) bool {
			if s, ok := n.(*ast.StoreNode); ok && !seen[s.Name] {
				seen[s.Name] = true
				names = append(names, s.Name)
			}
			return true
		})
	}
	return names
}
