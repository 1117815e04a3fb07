// Package cse memoizes repeated subexpressions so that generated code
// computes each of them at most once per call.
//
// A Cache marks nodes as cacheable, either explicitly with Cache or by
// occurrence analysis with MaybeCache, and is then attached to a
// compiler.Code as its interceptor. Every marked node emitted into that Code
// is wrapped in a lookup against a per-call dict held in a hidden local.
package cse

import (
	"fmt"
	"strconv"

	"peakrules/pkg/ast"
	"peakrules/pkg/compiler"
	"peakrules/pkg/errors"
	"peakrules/pkg/vm"
)

// SlotName is the hidden local that holds the per-call cache dict.
const SlotName = "<cache>"

type edge struct {
	parent, child string
}

// Cache is the set of subexpressions to memoize plus the occurrence data
// MaybeCache has gathered so far. It is not safe for concurrent use; the
// code it emits is.
type Cache struct {
	marked   map[string]bool
	eligible map[string]bool
	parents  map[string]map[string]struct{}
	counts   map[edge]int
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		marked:   make(map[string]bool),
		eligible: make(map[string]bool),
		parents:  make(map[string]map[string]struct{}),
		counts:   make(map[edge]int),
	}
}

// Cache marks node for caching wherever it is emitted. Only nodes that leave
// exactly one value on the stack can be cached.
func (ch *Cache) Cache(node ast.Node) error {
	if eff := compiler.ExpectedEffect(node); eff != 1 {
		return errors.NewCompileError("cannot cache %s: stack effect %d", node.Signature(), eff)
	}
	ch.mark(node.Signature())
	return nil
}

// Cacheable reports whether node is marked.
func (ch *Cache) Cacheable(node ast.Node) bool {
	return ch.marked[node.Signature()]
}

// Len is the number of marked signatures.
func (ch *Cache) Len() int { return len(ch.marked) }

func (ch *Cache) mark(sig string) {
	if !ch.marked[sig] {
		compiler.Tracef("[CSE] mark %s\n", sig)
	}
	ch.marked[sig] = true
}

// region is the state of one Cache inside one Code.
type region struct {
	ordinal  int
	next     compiler.Interceptor
	volatile map[string]bool
	depends  map[string]bool
}

func (ch *Cache) scratchKey() string {
	return fmt.Sprintf("cse.region.%p", ch)
}

// region returns ch's region in c, opening one if needed. Regions are
// numbered in the order caches first emit into c.
func (ch *Cache) region(c *compiler.Code) *region {
	if r, ok := c.Scratch(ch.scratchKey()); ok {
		return r.(*region)
	}
	n := 0
	if v, ok := c.Scratch("cse.regions"); ok {
		n = v.(int)
	}
	c.SetScratch("cse.regions", n+1)
	r := &region{ordinal: n, volatile: map[string]bool{}, depends: map[string]bool{}}
	c.SetScratch(ch.scratchKey(), r)
	return r
}

// Attach installs ch as the interceptor of c. An interceptor already
// installed keeps handling the nodes ch does not cache. Nodes that read any
// of the volatile names are never served from the cache: their value can
// change during one call. Every name a Store emitted into c assigns becomes
// volatile at that point, as does every node containing a Store.
func (ch *Cache) Attach(c *compiler.Code, volatile ...string) {
	r := ch.region(c)
	if prev := c.Interceptor(); prev != nil && prev != compiler.Interceptor(ch) {
		r.next = prev
	}
	for _, name := range volatile {
		r.volatile[name] = true
	}
	c.SetInterceptor(ch)
}

// assign makes name volatile from here on. A name that is stored to can
// hold a different value at a later read.
func (r *region) assign(name string) {
	if r.volatile[name] {
		return
	}
	r.volatile[name] = true
	clear(r.depends)
}

// readsVolatile reports whether e reads a volatile name or assigns to any
// name.
func (r *region) readsVolatile(e compiler.Expr) bool {
	sig := e.Signature()
	if d, ok := r.depends[sig]; ok {
		return d
	}
	found := false
	if n, ok := e.(ast.Node); ok {
		ast.Walk(n, func(n ast.Node) bool {
			switch n := n.(type) {
			case *ast.VarRef:
				found = found || r.volatile[n.Name]
			case *ast.StoreNode:
				found = true
			}
			return !found
		})
	}
	r.depends[sig] = found
	return found
}

// Key is the cache dict key of a signature in region ordinal.
func Key(sig string, ordinal int) string {
	return sig + "#" + strconv.Itoa(ordinal)
}

// slot returns the cache local of c, resetting it to None in the prologue
// the first time it is used.
func slot(c *compiler.Code) (int, error) {
	if c.HasLocal(SlotName) {
		return c.Local(SlotName), nil
	}
	s := c.Local(SlotName)
	err := c.Prologue(func() error {
		c.LoadNone()
		c.StoreLocal(s)
		return nil
	})
	return s, err
}

// Intercept implements compiler.Interceptor.
func (ch *Cache) Intercept(c *compiler.Code, e compiler.Expr) (bool, error) {
	r := ch.region(c)
	if s, ok := e.(*ast.StoreNode); ok {
		r.assign(s.Name)
	}
	if !ch.marked[e.Signature()] || !c.Reachable() || r.readsVolatile(e) {
		if r.next != nil {
			return r.next.Intercept(c, e)
		}
		return false, nil
	}
	key := vm.String(Key(e.Signature(), r.ordinal))
	s, err := slot(c)
	if err != nil {
		return false, err
	}
	compiler.Tracef("[CSE %s] emit cached %s\n", c.Name(), key.AsString())

	ready, miss, done := c.NewLabel(), c.NewLabel(), c.NewLabel()
	c.LoadLocal(s)
	c.LoadNone()
	c.Compare(vm.CompareIs)
	if err := c.JumpIfFalse(ready); err != nil {
		return false, err
	}
	c.BuildDict(0)
	c.StoreLocal(s)
	if err := c.Mark(ready); err != nil {
		return false, err
	}
	c.LoadConst(key)
	c.LoadLocal(s)
	c.Compare(vm.CompareIn)
	if err := c.JumpIfFalse(miss); err != nil {
		return false, err
	}
	// hit
	c.LoadLocal(s)
	c.LoadConst(key)
	c.GetIndex()
	if err := c.Jump(done); err != nil {
		return false, err
	}

	if err := c.Mark(miss); err != nil {
		return false, err
	}
	before := c.Depth()
	if err := e.Emit(c); err != nil {
		return false, err
	}
	if !c.Reachable() || c.Depth()-before != 1 {
		return false, errors.NewCompileError("%s: cached expression %s did not produce one value", c.Name(), e.Signature())
	}
	c.Dup()
	c.LoadLocal(s)
	c.LoadConst(key)
	c.StoreIndex()
	return true, c.Mark(done)
}
