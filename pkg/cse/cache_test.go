package cse

import (
	"strings"
	"testing"

	"peakrules/pkg/ast"
	"peakrules/pkg/compiler"
	"peakrules/pkg/errors"
	"peakrules/pkg/vm"
)

// must returns the node built by a constructor and fails t on error.
func must(t *testing.T) func(ast.Node, error) ast.Node {
	return func(n ast.Node, err error) ast.Node {
		t.Helper()
		if err != nil {
			t.Fatalf("building node: %v", err)
		}
		return n
	}
}

// counter returns a native function that echoes its argument and counts
// its calls.
func counter() (vm.Value, *int) {
	calls := new(int)
	fn := vm.NewNativeFunction("count", func(args []vm.Value, _ []vm.Keyword) (vm.Value, error) {
		*calls++
		return args[0], nil
	})
	return fn, calls
}

func TestMaybeCacheMarksRepeatedOperands(t *testing.T) {
	count := must(t)(ast.Call(ast.Var("count"), ast.Var("x")))
	sum := must(t)(ast.Binary(vm.BinaryAdd, count, count))

	ch := New()
	if err := ch.MaybeCache(sum); err != nil {
		t.Fatal(err)
	}
	if !ch.Cacheable(count) {
		t.Errorf("%s appears twice under one parent but was not marked", count.Signature())
	}
	if ch.Cacheable(sum) {
		t.Errorf("root %s was marked", sum.Signature())
	}
	if ch.Cacheable(ast.Var("x")) {
		t.Errorf("terminal was marked")
	}
}

func TestMaybeCacheMarksSharedAcrossParents(t *testing.T) {
	shared := must(t)(ast.Binary(vm.BinaryMul, ast.Var("a"), ast.Var("b")))
	left := must(t)(ast.Binary(vm.BinaryAdd, shared, ast.Var("c")))
	right := must(t)(ast.Binary(vm.BinarySub, shared, ast.Var("d")))
	root := must(t)(ast.Tuple(left, right))

	ch := New()
	if err := ch.MaybeCache(root); err != nil {
		t.Fatal(err)
	}
	if !ch.Cacheable(shared) {
		t.Errorf("node with two parents was not marked")
	}
	for _, n := range []ast.Node{left, right, root} {
		if ch.Cacheable(n) {
			t.Errorf("%s occurs once but was marked", n.Signature())
		}
	}
}

func TestSingleOccurrenceNeverMarked(t *testing.T) {
	a := must(t)(ast.Binary(vm.BinaryAdd, ast.Var("a"), ast.Const(vm.Int(1))))
	b := must(t)(ast.Unary(vm.UnaryNeg, ast.Var("b")))
	c := must(t)(ast.Attribute(ast.Var("obj"), "field"))
	call := must(t)(ast.NewCall(ast.CallSpec{
		Callee: ast.Var("f"),
		Args:   []ast.Node{a},
		Kwargs: []ast.Keyword{{Name: "k", Value: b}},
	}))
	root := must(t)(ast.List(call, c, ast.Var("a"), ast.Var("a")))

	ch := New()
	if err := ch.MaybeCache(root); err != nil {
		t.Fatal(err)
	}
	// Analysing the same tree again must not turn one occurrence into two.
	if err := ch.MaybeCache(root); err != nil {
		t.Fatal(err)
	}
	if ch.Len() != 0 {
		t.Errorf("marked %d nodes in a tree without repeats", ch.Len())
	}
}

func TestMaybeCacheIsMonotonic(t *testing.T) {
	shared := must(t)(ast.Binary(vm.BinaryMul, ast.Var("a"), ast.Var("b")))
	twice := must(t)(ast.Binary(vm.BinaryAdd, ast.Var("c"), ast.Var("d")))
	t1 := must(t)(ast.Binary(vm.BinaryAdd, shared, must(t)(ast.Tuple(twice, twice))))
	t2 := must(t)(ast.Unary(vm.UnaryNeg, shared))

	only1, only2, both := New(), New(), New()
	only1.MaybeCache(t1)
	only2.MaybeCache(t2)
	both.MaybeCache(t1)
	both.MaybeCache(t2)

	for _, n := range []ast.Node{shared, twice} {
		if only1.Cacheable(n) && !both.Cacheable(n) {
			t.Errorf("%s was unmarked by a later call", n.Signature())
		}
		if only2.Cacheable(n) && !both.Cacheable(n) {
			t.Errorf("%s lost when analysed after another tree", n.Signature())
		}
	}
	if !both.Cacheable(twice) {
		t.Errorf("%s should be marked", twice.Signature())
	}
	// shared has one parent in each tree; only the union sees two.
	if only1.Cacheable(shared) || only2.Cacheable(shared) {
		t.Errorf("%s marked from a single tree", shared.Signature())
	}
	if !both.Cacheable(shared) {
		t.Errorf("%s has two parents across the trees but was not marked", shared.Signature())
	}
}

func TestOnlyValueNodesAreCached(t *testing.T) {
	value := must(t)(ast.Binary(vm.BinaryAdd, ast.Var("a"), ast.Var("b")))
	store := ast.Store("y", value)
	seq := must(t)(ast.Do(store, store, ast.Var("y")))

	ch := New()
	if err := ch.MaybeCache(seq); err != nil {
		t.Fatal(err)
	}
	if ch.Cacheable(store) {
		t.Errorf("statement %s was marked", store.Signature())
	}
	if !ch.Cacheable(value) {
		t.Errorf("%s appears twice under the same store but was not marked", value.Signature())
	}
	var ce *errors.CompileError
	if err := ch.Cache(store); !errors.As(err, &ce) {
		t.Errorf("Cache(store) = %v, want CompileError", err)
	}
}

func compileWith(t *testing.T, ch *Cache, root ast.Node, globals map[string]vm.Value) *vm.Function {
	t.Helper()
	fn, err := compiler.Compile("f", []string{"x"}, root,
		compiler.WithInterceptor(ch), compiler.WithGlobals(globals))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return fn
}

func TestCachedSubexpressionComputedOncePerCall(t *testing.T) {
	countFn, calls := counter()
	count := must(t)(ast.Call(ast.Var("count"), ast.Var("x")))
	sum := must(t)(ast.Binary(vm.BinaryAdd, count, count))
	root := must(t)(ast.Tuple(sum, count, count))

	ch := New()
	if err := ch.MaybeCache(root); err != nil {
		t.Fatal(err)
	}
	fn := compileWith(t, ch, root, map[string]vm.Value{"count": countFn})

	got, err := fn.Invoke(vm.Int(4))
	if err != nil {
		t.Fatal(err)
	}
	if want := vm.NewTuple(vm.Int(8), vm.Int(4), vm.Int(4)); !vm.Equal(got, want) {
		t.Errorf("got %s, want %s", got, want)
	}
	if *calls != 1 {
		t.Errorf("count called %d times in one call, want 1", *calls)
	}

	// The slot is reset on every call.
	got, err = fn.Invoke(vm.Int(5))
	if err != nil {
		t.Fatal(err)
	}
	if want := vm.NewTuple(vm.Int(10), vm.Int(5), vm.Int(5)); !vm.Equal(got, want) {
		t.Errorf("second call: got %s, want %s", got, want)
	}
	if *calls != 2 {
		t.Errorf("count called %d times over two calls, want 2", *calls)
	}
}

func TestCacheAcrossShortCircuit(t *testing.T) {
	countFn, calls := counter()
	count := must(t)(ast.Call(ast.Var("count"), ast.Var("x")))
	either := must(t)(ast.Or(ast.Var("flag"), count))
	root := must(t)(ast.Tuple(either, count))

	ch := New()
	if err := ch.Cache(count); err != nil {
		t.Fatal(err)
	}
	for _, flag := range []bool{true, false} {
		*calls = 0
		fn := compileWith(t, ch, root, map[string]vm.Value{"count": countFn, "flag": vm.Bool(flag)})
		if _, err := fn.Invoke(vm.Int(3)); err != nil {
			t.Fatalf("flag=%v: %v", flag, err)
		}
		if *calls != 1 {
			t.Errorf("flag=%v: count called %d times, want 1", flag, *calls)
		}
	}
}

func TestCachedCodeMatchesEval(t *testing.T) {
	x := ast.Var("x")
	sq := must(t)(ast.Binary(vm.BinaryMul, x, x))
	cmp := must(t)(ast.Compare(sq, ast.CompareOp{Kind: vm.CompareLt, Operand: ast.Const(vm.Int(50))}))
	root := must(t)(ast.Cond(cmp, must(t)(ast.Binary(vm.BinaryAdd, sq, sq)), sq))

	ch := New()
	ch.MaybeCache(root)
	fn := compileWith(t, ch, root, nil)
	for _, in := range []int64{1, 7, 8, -9} {
		want, err := ast.Eval(root, map[string]vm.Value{"x": vm.Int(in)})
		if err != nil {
			t.Fatal(err)
		}
		got, err := fn.Invoke(vm.Int(in))
		if err != nil {
			t.Fatal(err)
		}
		if !vm.Equal(got, want) {
			t.Errorf("x=%d: compiled %s, evaluated %s", in, got, want)
		}
	}
}

func TestRegionsGetDistinctKeys(t *testing.T) {
	count := must(t)(ast.Call(ast.Var("count"), ast.Var("x")))
	root := must(t)(ast.Tuple(count, count))

	outer, inner := New(), New()
	outer.Cache(count)
	inner.Cache(count)

	c := compiler.NewCode("f", "x")
	outer.Attach(c)
	inner.Attach(c)
	if err := c.Expr(root); err != nil {
		t.Fatal(err)
	}
	c.Return()
	fn, err := c.Function(nil)
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, k := range fn.Chunk.Constants {
		if k.Type() == vm.TypeString && strings.HasPrefix(k.AsString(), count.Signature()+"#") {
			keys = append(keys, k.AsString())
		}
	}
	if len(keys) != 1 || keys[0] != Key(count.Signature(), 1) {
		t.Errorf("cache keys = %v, want only the second region's key", keys)
	}
}

func TestVolatileNamesAreNotCached(t *testing.T) {
	countFn, calls := counter()
	count := must(t)(ast.Call(ast.Var("count"), ast.Var("x")))
	root := must(t)(ast.Tuple(count, count))

	ch := New()
	ch.Cache(count)
	c := compiler.NewCode("f", "x")
	ch.Attach(c, "x")
	if err := c.Expr(root); err != nil {
		t.Fatal(err)
	}
	c.Return()
	fn, err := c.Function(map[string]vm.Value{"count": countFn})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fn.Invoke(vm.Int(1)); err != nil {
		t.Fatal(err)
	}
	if *calls != 2 {
		t.Errorf("count called %d times, want 2", *calls)
	}
}

func TestStoreInvalidatesCachedReads(t *testing.T) {
	x, y := ast.Var("x"), ast.Var("y")
	add := func(n int64) ast.Node {
		return must(t)(ast.Binary(vm.BinaryAdd, x, ast.Const(vm.Int(n))))
	}
	double := must(t)(ast.Binary(vm.BinaryMul, y, ast.Const(vm.Int(2))))
	root := must(t)(ast.Do(
		ast.Store("y", add(1)),
		ast.Store("a", double),
		ast.Store("y", add(5)),
		must(t)(ast.Tuple(ast.Var("a"), double)),
	))

	ch := New()
	if err := ch.MaybeCache(root); err != nil {
		t.Fatal(err)
	}
	if !ch.Cacheable(double) {
		t.Fatalf("%s appears twice but was not marked", double.Signature())
	}
	fn := compileWith(t, ch, root, nil)
	want, err := ast.Eval(root, map[string]vm.Value{"x": vm.Int(10)})
	if err != nil {
		t.Fatal(err)
	}
	got, err := fn.Invoke(vm.Int(10))
	if err != nil {
		t.Fatal(err)
	}
	if !vm.Equal(got, want) || !vm.Equal(got, vm.NewTuple(vm.Int(22), vm.Int(30))) {
		t.Errorf("compiled %s, evaluated %s, want (22, 30)", got, want)
	}
}

func TestNodesContainingStoresAreNotCached(t *testing.T) {
	countFn, calls := counter()
	count := must(t)(ast.Call(ast.Var("count"), ast.Var("x")))
	step := must(t)(ast.Do(ast.Store("y", count), ast.Var("y")))
	root := must(t)(ast.Tuple(step, step))

	ch := New()
	if err := ch.Cache(step); err != nil {
		t.Fatal(err)
	}
	fn := compileWith(t, ch, root, map[string]vm.Value{"count": countFn})
	if _, err := fn.Invoke(vm.Int(1)); err != nil {
		t.Fatal(err)
	}
	if *calls != 2 {
		t.Errorf("count called %d times, want 2", *calls)
	}
}
