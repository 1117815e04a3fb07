package vm

import (
	"math"
	"testing"

	"peakrules/pkg/errors"
)

func TestBinaryArithmetic(t *testing.T) {
	tests := []struct {
		kind BinaryKind
		a, b Value
		want Value
	}{
		{BinaryAdd, Int(2), Int(3), Int(5)},
		{BinaryAdd, Int(2), Float(0.5), Float(2.5)},
		{BinaryAdd, String("a"), String("b"), String("ab")},
		{BinaryAdd, NewTuple(Int(1)), NewTuple(Int(2)), NewTuple(Int(1), Int(2))},
		{BinaryDiv, Int(7), Int(2), Float(3.5)},
		{BinaryFloorDiv, Int(-7), Int(2), Int(-4)},
		{BinaryMod, Int(-7), Int(2), Int(1)},
		{BinaryMod, Int(7), Int(-2), Int(-1)},
		{BinaryMod, Float(-7), Float(2), Float(1)},
		{BinaryPow, Int(2), Int(10), Int(1024)},
		{BinaryPow, Int(2), Int(-1), Float(0.5)},
		{BinaryLShift, Int(1), Int(4), Int(16)},
		{BinaryRShift, Int(-16), Int(2), Int(-4)},
		{BinaryXor, Int(6), Int(3), Int(5)},
		{BinaryMul, String("ab"), Int(3), String("ababab")},
		{BinaryMul, Int(2), NewList(Int(0)), NewList(Int(0), Int(0))},
		{BinaryMul, NewTuple(Int(1)), Int(-1), NewTuple()},
	}
	for _, tt := range tests {
		got, err := Binary(tt.kind, tt.a, tt.b)
		if err != nil {
			t.Errorf("%s %s %s: %v", tt.a, tt.kind, tt.b, err)
			continue
		}
		if !Equal(got, tt.want) || got.Type() != tt.want.Type() {
			t.Errorf("%s %s %s = %s, want %s", tt.a, tt.kind, tt.b, got, tt.want)
		}
	}
}

func TestBinaryErrors(t *testing.T) {
	tests := []struct {
		kind BinaryKind
		a, b Value
		want error
	}{
		{BinaryDiv, Int(1), Int(0), errors.ErrZeroDivision},
		{BinaryFloorDiv, Float(1), Int(0), errors.ErrZeroDivision},
		{BinaryMod, Int(1), Int(0), errors.ErrZeroDivision},
		{BinaryPow, Int(0), Int(-1), errors.ErrZeroDivision},
		{BinaryAdd, Int(1), String("a"), errors.ErrTypeMismatch},
		{BinarySub, String("a"), String("b"), errors.ErrTypeMismatch},
		{BinaryLShift, Int(1), Int(-1), errors.ErrValue},
	}
	for _, tt := range tests {
		_, err := Binary(tt.kind, tt.a, tt.b)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s %s %s: got %v, want %v", tt.a, tt.kind, tt.b, err, tt.want)
		}
	}
}

func TestCompareSemantics(t *testing.T) {
	list := NewList(Int(1))
	tests := []struct {
		kind CompareKind
		a, b Value
		want bool
	}{
		{CompareEq, Int(1), Float(1), true},
		{CompareEq, NewTuple(Int(1), String("a")), NewTuple(Float(1), String("a")), true},
		{CompareLt, String("abc"), String("abd"), true},
		{CompareLt, NewTuple(Int(1), Int(2)), NewTuple(Int(1), Int(3)), true},
		{CompareGe, NewTuple(Int(1)), NewTuple(Int(1), Int(0)), false},
		{CompareIn, String("b"), String("abc"), true},
		{CompareIn, Int(2), NewTuple(Int(1), Int(2)), true},
		{CompareNotIn, Int(3), NewList(Int(1)), true},
		{CompareIs, None, None, true},
		{CompareIs, list, list, true},
		{CompareIs, NewList(Int(1)), NewList(Int(1)), false},
		{CompareIsNot, Int(1), Float(1), true},
	}
	for _, tt := range tests {
		got, err := Compare(tt.kind, tt.a, tt.b)
		if err != nil {
			t.Errorf("%s %s %s: %v", tt.a, tt.kind, tt.b, err)
			continue
		}
		if got.AsBool() != tt.want {
			t.Errorf("%s %s %s = %s, want %v", tt.a, tt.kind, tt.b, got, tt.want)
		}
	}
	if _, err := Compare(CompareLt, Int(1), None); !errors.Is(err, errors.ErrTypeMismatch) {
		t.Errorf("1 < None: got %v", err)
	}
}

func TestTruthiness(t *testing.T) {
	falsy := []Value{None, False, Int(0), Float(0), String(""), NewList(), NewTuple(), NewDictValue(NewDict())}
	for _, v := range falsy {
		if v.Truthy() {
			t.Errorf("%s is truthy", v)
		}
	}
	truthy := []Value{True, Int(-1), Float(0.1), String("0"), NewTuple(None)}
	for _, v := range truthy {
		if !v.Truthy() {
			t.Errorf("%s is falsy", v)
		}
	}
}

func TestIndexAndSlice(t *testing.T) {
	seq := NewTuple(Int(0), Int(1), Int(2), Int(3), Int(4))
	tests := []struct {
		name string
		got  func() (Value, error)
		want Value
	}{
		{"negative index", func() (Value, error) { return Index(seq, Int(-1)) }, Int(4)},
		{"string index", func() (Value, error) { return Index(String("héllo"), Int(1)) }, String("é")},
		{"slice", func() (Value, error) { return SliceOf(seq, Int(1), Int(3), None) }, NewTuple(Int(1), Int(2))},
		{"reverse", func() (Value, error) { return SliceOf(seq, None, None, Int(-2)) }, NewTuple(Int(4), Int(2), Int(0))},
		{"clamped", func() (Value, error) { return SliceOf(seq, Int(-10), Int(10), None) }, seq},
		{"slice value index", func() (Value, error) { return Index(seq, NewSlice(Int(3), None, None)) }, NewTuple(Int(3), Int(4))},
		{"string slice", func() (Value, error) { return SliceOf(String("abcdef"), Int(1), Int(-1), Int(2)) }, String("bd")},
	}
	for _, tt := range tests {
		got, err := tt.got()
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if !Equal(got, tt.want) {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}

	if _, err := Index(seq, Int(5)); !errors.Is(err, errors.ErrIndex) {
		t.Errorf("out of range index: got %v", err)
	}
	if _, err := SliceOf(seq, None, None, Int(0)); !errors.Is(err, errors.ErrValue) {
		t.Errorf("zero step: got %v", err)
	}
}

func TestDictKeepsInsertionOrder(t *testing.T) {
	d := NewDict()
	d.Set(String("b"), Int(1))
	d.Set(Int(1), Int(2))
	d.Set(String("a"), Int(3))
	d.Set(Float(1), Int(4)) // same key as Int(1)
	if d.Len() != 3 {
		t.Fatalf("Len = %d, want 3", d.Len())
	}
	v, found, err := d.Get(Int(1))
	if err != nil || !found || v.AsInt() != 4 {
		t.Errorf("d[1] = %s, %v, %v", v, found, err)
	}
	want := []Value{String("b"), Int(1), String("a")}
	for i, k := range d.Keys() {
		if !Equal(k, want[i]) {
			t.Errorf("key %d = %s, want %s", i, k, want[i])
		}
	}
	if err := d.Set(NewList(), None); !errors.Is(err, errors.ErrTypeMismatch) {
		t.Errorf("unhashable key: got %v", err)
	}
}

func TestObjectMethods(t *testing.T) {
	obj := NewObject("counter")
	obj.Attrs["n"] = Int(2)
	obj.Methods["double"] = NewNativeFunction("double", func(args []Value, _ []Keyword) (Value, error) {
		return Int(args[0].AsObject().Attrs["n"].AsInt() * 2), nil
	})
	v := NewObjectValue(obj)

	fn, bound, err := GetMethod(v, "double")
	if err != nil || !bound {
		t.Fatalf("GetMethod: bound=%v err=%v", bound, err)
	}
	got, err := Call(fn, []Value{v}, nil)
	if err != nil || got.AsInt() != 4 {
		t.Errorf("unbound call = %s, %v", got, err)
	}

	attr, err := GetAttr(v, "double")
	if err != nil {
		t.Fatal(err)
	}
	got, err = Call(attr, nil, nil)
	if err != nil || got.AsInt() != 4 {
		t.Errorf("bound attribute call = %s, %v", got, err)
	}

	if _, _, err := GetMethod(v, "missing"); !errors.Is(err, errors.ErrAttribute) {
		t.Errorf("missing method: got %v", err)
	}
	if _, err := Call(Int(1), nil, nil); !errors.Is(err, errors.ErrNotCallable) {
		t.Errorf("calling an int: got %v", err)
	}
}

func TestHugeSliceSteps(t *testing.T) {
	seq := NewList(Int(1), Int(2), Int(3))
	tests := []struct {
		name              string
		start, stop, step Value
		want              Value
	}{
		{"max step", Int(1), None, Int(math.MaxInt64), NewList(Int(2))},
		{"max step from start", None, None, Int(math.MaxInt64), NewList(Int(1))},
		{"min step", None, None, Int(math.MinInt64), NewList(Int(3))},
		{"min step bounded", Int(1), Int(-10), Int(math.MinInt64), NewList(Int(2))},
	}
	for _, tt := range tests {
		got, err := SliceOf(seq, tt.start, tt.stop, tt.step)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if !Equal(got, tt.want) {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestRepeatTooLong(t *testing.T) {
	tests := []struct{ a, b Value }{
		{String("ab"), Int(math.MaxInt64 / 2)},
		{Int(math.MaxInt64), NewTuple(Int(1), Int(2))},
		{NewList(None), Int(MaxRepeat + 1)},
	}
	for _, tt := range tests {
		if _, err := Binary(BinaryMul, tt.a, tt.b); !errors.Is(err, errors.ErrValue) {
			t.Errorf("%s * %s: got %v, want ErrValue", tt.a, tt.b, err)
		}
	}
	if got, err := Binary(BinaryMul, String(""), Int(math.MaxInt64)); err != nil || got.AsString() != "" {
		t.Errorf("'' * maxint = %s, %v", got, err)
	}
	if got, err := Binary(BinaryMul, NewTuple(), Int(math.MaxInt64)); err != nil || !Equal(got, NewTuple()) {
		t.Errorf("() * maxint = %s, %v", got, err)
	}
}

func TestFloatIdentityKeepsSign(t *testing.T) {
	negZero := Float(math.Copysign(0, -1))
	if Float(0).Is(negZero) {
		t.Errorf("0.0 is -0.0")
	}
	if !Equal(Float(0), negZero) {
		t.Errorf("0.0 != -0.0")
	}
	nan := Float(math.NaN())
	if !nan.Is(nan) {
		t.Errorf("a NaN is not itself")
	}

	c := NewChunk()
	if c.AddConstant(Float(0)) == c.AddConstant(negZero) {
		t.Errorf("0.0 and -0.0 share a constant slot")
	}
	if c.AddConstant(Int(1)) != c.AddConstant(Int(1)) {
		t.Errorf("equal ints were not deduplicated")
	}
}
