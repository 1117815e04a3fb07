package vm

import (
	"math"
	"strings"

	"peakrules/pkg/errors"
)

// The operator functions below are the single definition of value semantics:
// constant folding calls them at build time and the VM calls them at run time.

type UnaryKind uint8

const (
	UnaryNeg UnaryKind = iota
	UnaryPos
	UnaryNot
	UnaryInvert
)

var unaryNames = [...]string{UnaryNeg: "-", UnaryPos: "+", UnaryNot: "not", UnaryInvert: "~"}

func (k UnaryKind) String() string { return unaryNames[k] }

type BinaryKind uint8

const (
	BinaryAdd BinaryKind = iota
	BinarySub
	BinaryMul
	BinaryDiv
	BinaryFloorDiv
	BinaryMod
	BinaryPow
	BinaryLShift
	BinaryRShift
	BinaryAnd
	BinaryOr
	BinaryXor
)

var binaryNames = [...]string{
	BinaryAdd: "+", BinarySub: "-", BinaryMul: "*", BinaryDiv: "/",
	BinaryFloorDiv: "//", BinaryMod: "%", BinaryPow: "**",
	BinaryLShift: "<<", BinaryRShift: ">>",
	BinaryAnd: "&", BinaryOr: "|", BinaryXor: "^",
}

func (k BinaryKind) String() string { return binaryNames[k] }

type CompareKind uint8

const (
	CompareEq CompareKind = iota
	CompareNe
	CompareLt
	CompareLe
	CompareGt
	CompareGe
	CompareIn
	CompareNotIn
	CompareIs
	CompareIsNot
)

var compareNames = [...]string{
	CompareEq: "==", CompareNe: "!=", CompareLt: "<", CompareLe: "<=",
	CompareGt: ">", CompareGe: ">=", CompareIn: "in", CompareNotIn: "not in",
	CompareIs: "is", CompareIsNot: "is not",
}

func (k CompareKind) String() string { return compareNames[k] }

func typeError(op string, operands ...Value) error {
	names := make([]string, len(operands))
	for i, v := range operands {
		names[i] = v.typ.String()
	}
	return errors.NewRuntimeError(errors.ErrTypeMismatch, "unsupported operand type(s) for %s: %s", op, strings.Join(names, ", "))
}

// Unary applies a unary operator.
func Unary(kind UnaryKind, v Value) (Value, error) {
	switch kind {
	case UnaryNot:
		return Bool(!v.Truthy()), nil
	case UnaryNeg:
		switch v.typ {
		case TypeInt:
			return Int(-v.i), nil
		case TypeFloat:
			return Float(-v.f), nil
		}
	case UnaryPos:
		if v.isNumber() {
			return v, nil
		}
	case UnaryInvert:
		if v.typ == TypeInt {
			return Int(^v.i), nil
		}
	}
	return None, typeError(kind.String(), v)
}

// Binary applies an arithmetic or bitwise operator.
func Binary(kind BinaryKind, a, b Value) (Value, error) {
	if a.typ == TypeInt && b.typ == TypeInt {
		return intBinary(kind, a.i, b.i)
	}
	if a.isNumber() && b.isNumber() {
		return floatBinary(kind, a.toFloat(), b.toFloat())
	}
	switch kind {
	case BinaryAdd:
		if a.typ == TypeString && b.typ == TypeString {
			return String(a.s + b.s), nil
		}
		if (a.typ == TypeList || a.typ == TypeTuple) && a.typ == b.typ {
			ai, _ := a.Items()
			bi, _ := b.Items()
			items := make([]Value, 0, len(ai)+len(bi))
			items = append(append(items, ai...), bi...)
			if a.typ == TypeList {
				return NewList(items...), nil
			}
			return NewTuple(items...), nil
		}
	case BinaryMul:
		if b.typ == TypeInt {
			return repeat(a, b.i, kind)
		}
		if a.typ == TypeInt {
			return repeat(b, a.i, kind)
		}
	}
	return None, typeError(kind.String(), a, b)
}

// MaxRepeat bounds the length of a sequence built by repetition.
const MaxRepeat = 1 << 28

func repeat(seq Value, n int64, kind BinaryKind) (Value, error) {
	if n < 0 {
		n = 0
	}
	switch seq.typ {
	case TypeString:
		if err := checkRepeat(len(seq.s), n); err != nil {
			return None, err
		}
		return String(strings.Repeat(seq.s, int(n))), nil
	case TypeList, TypeTuple:
		items, _ := seq.Items()
		if len(items) == 0 {
			n = 0
		}
		if err := checkRepeat(len(items), n); err != nil {
			return None, err
		}
		out := make([]Value, 0, len(items)*int(n))
		for i := int64(0); i < n; i++ {
			out = append(out, items...)
		}
		if seq.typ == TypeList {
			return NewList(out...), nil
		}
		return NewTuple(out...), nil
	}
	return None, typeError(kind.String(), seq, Int(n))
}

func checkRepeat(size int, n int64) error {
	if size > 0 && n > MaxRepeat/int64(size) {
		return errors.NewRuntimeError(errors.ErrValue, "repeated sequence too long")
	}
	return nil
}

func floorDivInt(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorModInt(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

func intBinary(kind BinaryKind, a, b int64) (Value, error) {
	switch kind {
	case BinaryAdd:
		return Int(a + b), nil
	case BinarySub:
		return Int(a - b), nil
	case BinaryMul:
		return Int(a * b), nil
	case BinaryDiv:
		if b == 0 {
			return None, errors.NewRuntimeError(errors.ErrZeroDivision, "division by zero")
		}
		return Float(float64(a) / float64(b)), nil
	case BinaryFloorDiv:
		if b == 0 {
			return None, errors.NewRuntimeError(errors.ErrZeroDivision, "integer division by zero")
		}
		return Int(floorDivInt(a, b)), nil
	case BinaryMod:
		if b == 0 {
			return None, errors.NewRuntimeError(errors.ErrZeroDivision, "integer modulo by zero")
		}
		return Int(floorModInt(a, b)), nil
	case BinaryPow:
		if b < 0 {
			if a == 0 {
				return None, errors.NewRuntimeError(errors.ErrZeroDivision, "zero to a negative power")
			}
			return Float(math.Pow(float64(a), float64(b))), nil
		}
		result := int64(1)
		for base, exp := a, b; exp > 0; exp >>= 1 {
			if exp&1 == 1 {
				result *= base
			}
			base *= base
		}
		return Int(result), nil
	case BinaryLShift, BinaryRShift:
		if b < 0 {
			return None, errors.NewRuntimeError(errors.ErrValue, "negative shift count")
		}
		if kind == BinaryLShift {
			if b >= 64 {
				return Int(0), nil
			}
			return Int(a << uint(b)), nil
		}
		if b >= 64 {
			if a < 0 {
				return Int(-1), nil
			}
			return Int(0), nil
		}
		return Int(a >> uint(b)), nil
	case BinaryAnd:
		return Int(a & b), nil
	case BinaryOr:
		return Int(a | b), nil
	case BinaryXor:
		return Int(a ^ b), nil
	}
	return None, typeError(kind.String(), Int(a), Int(b))
}

func floatBinary(kind BinaryKind, a, b float64) (Value, error) {
	switch kind {
	case BinaryAdd:
		return Float(a + b), nil
	case BinarySub:
		return Float(a - b), nil
	case BinaryMul:
		return Float(a * b), nil
	case BinaryDiv:
		if b == 0 {
			return None, errors.NewRuntimeError(errors.ErrZeroDivision, "float division by zero")
		}
		return Float(a / b), nil
	case BinaryFloorDiv:
		if b == 0 {
			return None, errors.NewRuntimeError(errors.ErrZeroDivision, "float floor division by zero")
		}
		return Float(math.Floor(a / b)), nil
	case BinaryMod:
		if b == 0 {
			return None, errors.NewRuntimeError(errors.ErrZeroDivision, "float modulo by zero")
		}
		m := math.Mod(a, b)
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return Float(m), nil
	case BinaryPow:
		if a == 0 && b < 0 {
			return None, errors.NewRuntimeError(errors.ErrZeroDivision, "zero to a negative power")
		}
		return Float(math.Pow(a, b)), nil
	}
	return None, typeError(kind.String(), Float(a), Float(b))
}

// Order compares two values for <, <=, >, >=.
func Order(a, b Value) (int, error) {
	if a.isNumber() && b.isNumber() {
		if a.typ == TypeInt && b.typ == TypeInt {
			return cmpInt(a.i, b.i), nil
		}
		af, bf := a.toFloat(), b.toFloat()
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	}
	if a.typ != b.typ {
		return 0, typeError("<", a, b)
	}
	switch a.typ {
	case TypeString:
		return strings.Compare(a.s, b.s), nil
	case TypeList, TypeTuple:
		ai, _ := a.Items()
		bi, _ := b.Items()
		for i := 0; i < len(ai) && i < len(bi); i++ {
			if Equal(ai[i], bi[i]) {
				continue
			}
			return Order(ai[i], bi[i])
		}
		return cmpInt(int64(len(ai)), int64(len(bi))), nil
	case TypeBool:
		return cmpInt(a.i, b.i), nil
	}
	return 0, typeError("<", a, b)
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Compare applies a single comparison operator.
func Compare(kind CompareKind, a, b Value) (Value, error) {
	switch kind {
	case CompareEq:
		return Bool(Equal(a, b)), nil
	case CompareNe:
		return Bool(!Equal(a, b)), nil
	case CompareIs:
		return Bool(a.Is(b)), nil
	case CompareIsNot:
		return Bool(!a.Is(b)), nil
	case CompareIn, CompareNotIn:
		found, err := Contains(b, a)
		if err != nil {
			return None, err
		}
		return Bool(found == (kind == CompareIn)), nil
	}
	c, err := Order(a, b)
	if err != nil {
		return None, typeError(kind.String(), a, b)
	}
	switch kind {
	case CompareLt:
		return Bool(c < 0), nil
	case CompareLe:
		return Bool(c <= 0), nil
	case CompareGt:
		return Bool(c > 0), nil
	default:
		return Bool(c >= 0), nil
	}
}

// Contains implements `item in container`.
func Contains(container, item Value) (bool, error) {
	switch container.typ {
	case TypeString:
		if item.typ != TypeString {
			return false, typeError("in", item, container)
		}
		return strings.Contains(container.s, item.s), nil
	case TypeList, TypeTuple:
		items, _ := container.Items()
		for _, v := range items {
			if Equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case TypeDict:
		return container.AsDict().Contains(item)
	}
	return false, typeError("in", item, container)
}

func normalizeIndex(i int64, n int) (int, bool) {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, false
	}
	return int(i), true
}

// Index implements base[index]. A slice object index delegates to slicing.
func Index(base, index Value) (Value, error) {
	if index.typ == TypeSlice {
		s := index.AsSlice()
		return SliceOf(base, s.Start, s.Stop, s.Step)
	}
	switch base.typ {
	case TypeList, TypeTuple, TypeString:
		if index.typ != TypeInt && index.typ != TypeBool {
			return None, errors.NewRuntimeError(errors.ErrTypeMismatch, "%s indices must be integers, not %s", base.typ, index.typ)
		}
		if base.typ == TypeString {
			runes := []rune(base.s)
			i, ok := normalizeIndex(index.i, len(runes))
			if !ok {
				return None, errors.NewRuntimeError(errors.ErrIndex, "string index out of range")
			}
			return String(string(runes[i])), nil
		}
		items, _ := base.Items()
		i, ok := normalizeIndex(index.i, len(items))
		if !ok {
			return None, errors.NewRuntimeError(errors.ErrIndex, "%s index out of range", base.typ)
		}
		return items[i], nil
	case TypeDict:
		v, found, err := base.AsDict().Get(index)
		if err != nil {
			return None, err
		}
		if !found {
			return None, errors.NewRuntimeError(errors.ErrKey, "key %s not found", index)
		}
		return v, nil
	}
	return None, errors.NewRuntimeError(errors.ErrTypeMismatch, "%s object is not subscriptable", base.typ)
}

// SetItem implements container[key] = value.
func SetItem(container, key, value Value) error {
	switch container.typ {
	case TypeDict:
		return container.AsDict().Set(key, value)
	case TypeList:
		if key.typ != TypeInt {
			return errors.NewRuntimeError(errors.ErrTypeMismatch, "list indices must be integers, not %s", key.typ)
		}
		l := container.AsList()
		i, ok := normalizeIndex(key.i, len(l.Items))
		if !ok {
			return errors.NewRuntimeError(errors.ErrIndex, "list assignment index out of range")
		}
		l.Items[i] = value
		return nil
	}
	return errors.NewRuntimeError(errors.ErrTypeMismatch, "%s object does not support item assignment", container.typ)
}

func sliceBound(v Value, def int64, what string) (int64, error) {
	switch v.typ {
	case TypeNone:
		return def, nil
	case TypeInt:
		return v.i, nil
	}
	return 0, errors.NewRuntimeError(errors.ErrTypeMismatch, "slice %s must be an integer or None, not %s", what, v.typ)
}

// sliceIndices resolves start/stop/step against a sequence of length n the
// way extended slicing does.
func sliceIndices(start, stop, step Value, n int) ([]int, error) {
	st, err := sliceBound(step, 1, "step")
	if err != nil {
		return nil, err
	}
	if st == 0 {
		return nil, errors.NewRuntimeError(errors.ErrValue, "slice step cannot be zero")
	}
	length := int64(n)
	var lo, hi int64
	if st > 0 {
		lo, hi = 0, length
	} else {
		lo, hi = length-1, -1
	}
	clamp := func(v Value, def int64) (int64, error) {
		if v.typ == TypeNone {
			return def, nil
		}
		i, err := sliceBound(v, def, "index")
		if err != nil {
			return 0, err
		}
		if i < 0 {
			i += length
			if i < 0 {
				if st > 0 {
					i = 0
				} else {
					i = -1
				}
			}
		} else if i >= length {
			if st > 0 {
				i = length
			} else {
				i = length - 1
			}
		}
		return i, nil
	}
	from, err := clamp(start, lo)
	if err != nil {
		return nil, err
	}
	to, err := clamp(stop, hi)
	if err != nil {
		return nil, err
	}
	// Advance only while the step stays inside the bounds so a huge step
	// cannot overflow.
	var out []int
	if st > 0 {
		for i := from; i < to; i += st {
			out = append(out, int(i))
			if st >= to-i {
				break
			}
		}
	} else {
		for i := from; i > to; i += st {
			out = append(out, int(i))
			if st <= to-i {
				break
			}
		}
	}
	return out, nil
}

// SliceOf implements base[start:stop:step]; None means an omitted bound.
func SliceOf(base, start, stop, step Value) (Value, error) {
	switch base.typ {
	case TypeList, TypeTuple:
		items, _ := base.Items()
		idx, err := sliceIndices(start, stop, step, len(items))
		if err != nil {
			return None, err
		}
		out := make([]Value, len(idx))
		for i, j := range idx {
			out[i] = items[j]
		}
		if base.typ == TypeList {
			return NewList(out...), nil
		}
		return NewTuple(out...), nil
	case TypeString:
		runes := []rune(base.s)
		idx, err := sliceIndices(start, stop, step, len(runes))
		if err != nil {
			return None, err
		}
		out := make([]rune, len(idx))
		for i, j := range idx {
			out[i] = runes[j]
		}
		return String(string(out)), nil
	}
	return None, errors.NewRuntimeError(errors.ErrTypeMismatch, "%s object is not sliceable", base.typ)
}

// GetAttr implements base.name.
func GetAttr(base Value, name string) (Value, error) {
	if g, ok := base.ref.(AttrGetter); ok {
		if v, found := g.GetAttr(name); found {
			return v, nil
		}
	}
	return None, errors.NewRuntimeError(errors.ErrAttribute, "%s has no attribute %q", base.typ, name)
}

// HasAttr reports whether GetAttr would succeed.
func HasAttr(base Value, name string) bool {
	g, ok := base.ref.(AttrGetter)
	if !ok {
		return false
	}
	_, found := g.GetAttr(name)
	return found
}

// GetMethod resolves base.name for a method call. When name is a method of an
// Object, the unbound function is returned with bound=true and the caller
// passes base as first argument.
func GetMethod(base Value, name string) (fn Value, bound bool, err error) {
	if base.typ == TypeObject {
		if m, ok := base.AsObject().Methods[name]; ok {
			if _, isAttr := base.AsObject().Attrs[name]; !isAttr {
				return m, true, nil
			}
		}
	}
	fn, err = GetAttr(base, name)
	return fn, false, err
}

// Call invokes a callable value.
func Call(callee Value, args []Value, kwargs []Keyword) (Value, error) {
	if callee.typ != TypeFunction {
		return None, errors.NewRuntimeError(errors.ErrNotCallable, "%s object is not callable", callee.typ)
	}
	return callee.AsCallable().Call(args, kwargs)
}

// SpreadArgs expands a star-args value into positional arguments.
func SpreadArgs(v Value) ([]Value, error) {
	if items, ok := v.Items(); ok {
		return items, nil
	}
	return nil, errors.NewRuntimeError(errors.ErrTypeMismatch, "argument after * must be a list or tuple, not %s", v.typ)
}

// SpreadKwargs expands a double-star-args value into keyword arguments.
func SpreadKwargs(v Value) ([]Keyword, error) {
	if v.typ != TypeDict {
		return nil, errors.NewRuntimeError(errors.ErrTypeMismatch, "argument after ** must be a dict, not %s", v.typ)
	}
	d := v.AsDict()
	out := make([]Keyword, 0, d.Len())
	for i, k := range d.keys {
		if k.typ != TypeString {
			return nil, errors.NewRuntimeError(errors.ErrTypeMismatch, "keywords must be strings")
		}
		out = append(out, Keyword{Name: k.s, Value: d.values[i]})
	}
	return out, nil
}

// BuildDict creates a dict from alternating key/value items.
func BuildDict(kv []Value) (Value, error) {
	d := NewDict()
	for i := 0; i+1 < len(kv); i += 2 {
		if err := d.Set(kv[i], kv[i+1]); err != nil {
			return None, err
		}
	}
	return NewDictValue(d), nil
}
