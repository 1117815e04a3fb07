package bindings

import (
	"testing"

	"peakrules/pkg/ast"
	"peakrules/pkg/errors"
	"peakrules/pkg/vm"
)

func TestResolveInnermostFirst(t *testing.T) {
	st, err := New(Constants(map[string]vm.Value{"x": vm.Int(1), "y": vm.Int(2)}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := st.Push(Constants(map[string]vm.Value{"x": vm.Int(10)})); err != nil {
		t.Fatalf("Push: %v", err)
	}

	tests := []struct {
		name string
		want int64
	}{
		{"x", 10},
		{"y", 2},
	}
	for _, tt := range tests {
		node, err := st.Resolve(tt.name)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.name, err)
		}
		v, ok := ast.ConstValue(node)
		if !ok || v.AsInt() != tt.want {
			t.Errorf("Resolve(%q) = %s, want %d", tt.name, node.Signature(), tt.want)
		}
	}
}

func TestResolveUnbound(t *testing.T) {
	st, _ := New()
	_, err := st.Resolve("missing")
	var unresolved *errors.UnresolvedNameError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedNameError, got %v", err)
	}
	if unresolved.Name != "missing" {
		t.Errorf("error carries %q, want %q", unresolved.Name, "missing")
	}
}

func TestPopStopsAtBase(t *testing.T) {
	st, _ := New(Scope{"a": ast.Var("a")}, Scope{"b": ast.Var("b")})
	if st.Depth() != 2 {
		t.Fatalf("Depth = %d, want 2", st.Depth())
	}
	if _, err := st.Pop(); !errors.Is(err, errors.ErrScopeUnderflow) {
		t.Fatalf("Pop on base scopes: got %v, want ErrScopeUnderflow", err)
	}

	pushed := Scope{"c": ast.Var("c")}
	if err := st.Push(pushed); err != nil {
		t.Fatal(err)
	}
	top, err := st.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if _, ok := top["c"]; !ok {
		t.Errorf("Pop returned %v, want the pushed scope", top)
	}
	if _, err := st.Resolve("c"); err == nil {
		t.Errorf("c still resolves after Pop")
	}
}

func TestPushNilIsEmpty(t *testing.T) {
	st, _ := New()
	if err := st.Push(nil); err != nil {
		t.Fatal(err)
	}
	if err := st.Bind(Scope{"z": ast.Var("z")}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Resolve("z"); err != nil {
		t.Fatalf("Resolve after Bind: %v", err)
	}
	st.Pop()
	if _, err := st.Resolve("z"); err == nil {
		t.Errorf("binding survived popping its scope")
	}
}

func TestBindOverwritesTopScope(t *testing.T) {
	st, _ := New(Constants(map[string]vm.Value{"x": vm.Int(1)}))
	st.Push(Constants(map[string]vm.Value{"x": vm.Int(2)}))
	if err := st.Bind(Constants(map[string]vm.Value{"x": vm.Int(3)})); err != nil {
		t.Fatal(err)
	}
	node, _ := st.Resolve("x")
	if v, _ := ast.ConstValue(node); v.AsInt() != 3 {
		t.Errorf("x = %s after Bind, want 3", node.Signature())
	}
	st.Pop()
	node, _ = st.Resolve("x")
	if v, _ := ast.ConstValue(node); v.AsInt() != 1 {
		t.Errorf("base x = %s, want 1", node.Signature())
	}
}

func TestIdentifierValidation(t *testing.T) {
	st, _ := New()
	bad := []string{"", "1abc", "a-b", "with space"}
	for _, name := range bad {
		err := st.Bind(Scope{name: ast.Var("v")})
		var be *errors.BindError
		if !errors.As(err, &be) {
			t.Errorf("Bind(%q): got %v, want BindError", name, err)
		}
	}
	good := []string{"_", "x1", "naïve", "Δt"}
	for _, name := range good {
		if err := st.Bind(Scope{name: ast.Var("v")}); err != nil {
			t.Errorf("Bind(%q): %v", name, err)
		}
	}
}

func TestNormalizedLookup(t *testing.T) {
	st, _ := New()
	// U+FB01 LATIN SMALL LIGATURE FI normalizes to "fi".
	if err := st.Bind(Scope{"ﬁx": ast.Var("v")}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Resolve("fix"); err != nil {
		t.Errorf("NFKC-equivalent name did not resolve: %v", err)
	}
}

func TestEquivalentKeysInOneScope(t *testing.T) {
	st, _ := New()
	err := st.Bind(Scope{"ﬁx": ast.Var("a"), "fix": ast.Var("b")})
	var be *errors.BindError
	if !errors.As(err, &be) {
		t.Fatalf("got %v, want BindError", err)
	}
	if _, err := st.Resolve("fix"); err == nil {
		t.Errorf("a rejected scope left a binding behind")
	}
	if _, err := New(Scope{"ﬁ": ast.Var("a"), "fi": ast.Var("a")}); !errors.As(err, &be) {
		t.Errorf("New: got %v, want BindError", err)
	}

	// Across scopes the inner binding shadows as usual.
	if err := st.Bind(Scope{"fix": ast.Var("b")}); err != nil {
		t.Fatal(err)
	}
	if err := st.Push(Scope{"ﬁx": ast.Var("a")}); err != nil {
		t.Fatal(err)
	}
	if n, err := st.Resolve("fix"); err != nil || n.Signature() != ast.Var("a").Signature() {
		t.Errorf("Resolve(fix) = %v, %v", n, err)
	}
}
