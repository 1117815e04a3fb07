package cse

import (
	"github.com/edwingeng/deque"

	"peakrules/pkg/ast"
	"peakrules/pkg/compiler"
)

// occurrences records, during one simulated emission, how the non-terminal
// nodes of a tree hang off their parents.
type occurrences struct {
	ch     *Cache
	counts map[edge]int
}

func (o *occurrences) Observe(parent, child compiler.Expr, net int, reachable bool) {
	if n, ok := child.(ast.Node); !ok || ast.IsTerminal(n) {
		return
	}
	sig := child.Signature()
	ok := net == 1 && reachable && compiler.ExpectedEffect(child) == 1
	if prev, seen := o.ch.eligible[sig]; seen {
		ok = ok && prev
	}
	o.ch.eligible[sig] = ok
	if parent == nil {
		return
	}
	p := parent.Signature()
	set := o.ch.parents[sig]
	if set == nil {
		set = make(map[string]struct{})
		o.ch.parents[sig] = set
	}
	set[p] = struct{}{}
	o.counts[edge{parent: p, child: sig}]++
}

// MaybeCache marks every subexpression of roots that is worth caching: one
// that has two or more distinct parents, or appears two or more times under
// the same parent. The analysis accumulates across calls, so nodes are only
// ever added. Terminals and nodes that do not leave exactly one value on the
// stack are never marked.
func (ch *Cache) MaybeCache(roots ...ast.Node) error {
	work := deque.NewDeque()
	for _, r := range roots {
		if r != nil {
			work.PushBack(r)
		}
	}
	for work.Len() != 0 {
		root := work.Front().(ast.Node)
		work.PopFront()
		if err := ch.analyze(root); err != nil {
			return err
		}
	}
	for sig, set := range ch.parents {
		if ch.eligible[sig] && len(set) >= 2 {
			ch.mark(sig)
		}
	}
	for e, n := range ch.counts {
		if ch.eligible[e.child] && n >= 2 {
			ch.mark(e.child)
		}
	}
	return nil
}

// analyze emits root into a throwaway buffer and folds the occurrences it
// sees into the cache. Per-parent counts keep the largest number seen in a
// single tree, so analysing the same tree again changes nothing.
func (ch *Cache) analyze(root ast.Node) error {
	obs := &occurrences{ch: ch, counts: make(map[edge]int)}
	c := compiler.NewCode("cse.analysis")
	c.SetObserver(obs)
	if err := c.Expr(root); err != nil {
		return err
	}
	for e, n := range obs.counts {
		if n > ch.counts[e] {
			ch.counts[e] = n
		}
	}
	return nil
}
