package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type ValueType uint8

const (
	TypeNone ValueType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeList
	TypeTuple
	TypeDict
	TypeSlice
	TypeFunction
	TypeObject
)

var valueTypeNames = [...]string{
	TypeNone:     "none",
	TypeBool:     "bool",
	TypeInt:      "int",
	TypeFloat:    "float",
	TypeString:   "str",
	TypeList:     "list",
	TypeTuple:    "tuple",
	TypeDict:     "dict",
	TypeSlice:    "slice",
	TypeFunction: "function",
	TypeObject:   "object",
}

func (vt ValueType) String() string {
	if int(vt) < len(valueTypeNames) {
		return valueTypeNames[vt]
	}
	return fmt.Sprintf("<type %d>", uint8(vt))
}

// Value is the tagged value manipulated by folded constants and by the VM.
// Scalars live inline; aggregates and callables live behind ref.
type Value struct {
	typ ValueType
	i   int64
	f   float64
	s   string
	ref interface{}
}

// Keyword is a name/value pair passed to a call.
type Keyword struct {
	Name  string
	Value Value
}

// Callable is implemented by everything a Value of TypeFunction can hold.
type Callable interface {
	Name() string
	Call(args []Value, kwargs []Keyword) (Value, error)
}

// AttrGetter is implemented by references that expose attributes.
type AttrGetter interface {
	GetAttr(name string) (Value, bool)
}

var (
	None  = Value{typ: TypeNone}
	True  = Value{typ: TypeBool, i: 1}
	False = Value{typ: TypeBool, i: 0}
)

func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

func Int(i int64) Value     { return Value{typ: TypeInt, i: i} }
func Float(f float64) Value { return Value{typ: TypeFloat, f: f} }
func String(s string) Value { return Value{typ: TypeString, s: s} }

func (v Value) Type() ValueType { return v.typ }

// --- Aggregates ---

type ListObject struct {
	Items []Value
}

type tupleObject struct {
	items []Value
}

// SliceObject is the value produced by slice-object construction (a[start:stop:step]).
type SliceObject struct {
	Start, Stop, Step Value
}

func (s *SliceObject) GetAttr(name string) (Value, bool) {
	switch name {
	case "start":
		return s.Start, true
	case "stop":
		return s.Stop, true
	case "step":
		return s.Step, true
	}
	return None, false
}

func NewList(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{typ: TypeList, ref: &ListObject{Items: cp}}
}

func NewTuple(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{typ: TypeTuple, ref: &tupleObject{items: cp}}
}

// Pair builds the 2-tuple used as a dispatch tree node.
func Pair(action, argument Value) Value { return NewTuple(action, argument) }

func NewSlice(start, stop, step Value) Value {
	return Value{typ: TypeSlice, ref: &SliceObject{Start: start, Stop: stop, Step: step}}
}

func NewDictValue(d *DictObject) Value { return Value{typ: TypeDict, ref: d} }

func NewFunctionValue(c Callable) Value { return Value{typ: TypeFunction, ref: c} }

func NewObjectValue(o *Object) Value { return Value{typ: TypeObject, ref: o} }

// --- Accessors ---

func (v Value) IsNone() bool { return v.typ == TypeNone }

func (v Value) AsBool() bool     { return v.i != 0 }
func (v Value) AsInt() int64     { return v.i }
func (v Value) AsFloat() float64 { return v.f }
func (v Value) AsString() string { return v.s }

func (v Value) AsList() *ListObject {
	if v.typ != TypeList {
		panic(fmt.Sprintf("value is %s, not list", v.typ))
	}
	return v.ref.(*ListObject)
}

func (v Value) AsDict() *DictObject {
	if v.typ != TypeDict {
		panic(fmt.Sprintf("value is %s, not dict", v.typ))
	}
	return v.ref.(*DictObject)
}

func (v Value) AsSlice() *SliceObject {
	if v.typ != TypeSlice {
		panic(fmt.Sprintf("value is %s, not slice", v.typ))
	}
	return v.ref.(*SliceObject)
}

func (v Value) AsCallable() Callable {
	if v.typ != TypeFunction {
		panic(fmt.Sprintf("value is %s, not function", v.typ))
	}
	return v.ref.(Callable)
}

func (v Value) AsObject() *Object {
	if v.typ != TypeObject {
		panic(fmt.Sprintf("value is %s, not object", v.typ))
	}
	return v.ref.(*Object)
}

// Items returns the elements of a list or tuple. The slice must not be modified.
func (v Value) Items() ([]Value, bool) {
	switch v.typ {
	case TypeList:
		return v.ref.(*ListObject).Items, true
	case TypeTuple:
		return v.ref.(*tupleObject).items, true
	}
	return nil, false
}

func (v Value) isNumber() bool { return v.typ == TypeInt || v.typ == TypeFloat }

func (v Value) toFloat() float64 {
	if v.typ == TypeInt {
		return float64(v.i)
	}
	return v.f
}

// Truthy reports the truth value used by not/and/or/if.
func (v Value) Truthy() bool {
	switch v.typ {
	case TypeNone:
		return false
	case TypeBool, TypeInt:
		return v.i != 0
	case TypeFloat:
		return v.f != 0
	case TypeString:
		return v.s != ""
	case TypeList, TypeTuple:
		items, _ := v.Items()
		return len(items) > 0
	case TypeDict:
		return v.ref.(*DictObject).Len() > 0
	default:
		return true
	}
}

// Is reports identity: equal scalars, or the same reference. Floats compare
// bit for bit, so 0.0 is not -0.0.
func (v Value) Is(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeNone:
		return true
	case TypeBool, TypeInt:
		return v.i == other.i
	case TypeFloat:
		return math.Float64bits(v.f) == math.Float64bits(other.f)
	case TypeString:
		return v.s == other.s
	default:
		return v.ref == other.ref
	}
}

// Equal implements ==. Ints and floats compare numerically.
func Equal(a, b Value) bool {
	if a.isNumber() && b.isNumber() {
		if a.typ == TypeInt && b.typ == TypeInt {
			return a.i == b.i
		}
		return a.toFloat() == b.toFloat()
	}
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case TypeNone:
		return true
	case TypeBool:
		return a.i == b.i
	case TypeString:
		return a.s == b.s
	case TypeList, TypeTuple:
		ai, _ := a.Items()
		bi, _ := b.Items()
		if len(ai) != len(bi) {
			return false
		}
		for i := range ai {
			if !Equal(ai[i], bi[i]) {
				return false
			}
		}
		return true
	case TypeDict:
		return a.ref.(*DictObject).equal(b.ref.(*DictObject))
	case TypeSlice:
		as, bs := a.AsSlice(), b.AsSlice()
		return Equal(as.Start, bs.Start) && Equal(as.Stop, bs.Stop) && Equal(as.Step, bs.Step)
	default:
		return a.ref == b.ref
	}
}

// hashKey returns a key that is equal for values that compare equal, or false
// if the value cannot be used as a dict key.
func (v Value) hashKey() (string, bool) {
	switch v.typ {
	case TypeNone:
		return "N", true
	case TypeBool:
		return "b" + strconv.FormatInt(v.i, 10), true
	case TypeInt:
		return "n" + strconv.FormatInt(v.i, 10), true
	case TypeFloat:
		if v.f == math.Trunc(v.f) && math.Abs(v.f) < 1<<62 {
			return "n" + strconv.FormatInt(int64(v.f), 10), true
		}
		return "f" + strconv.FormatFloat(v.f, 'g', -1, 64), true
	case TypeString:
		return "s" + strconv.Quote(v.s), true
	case TypeTuple:
		var sb strings.Builder
		sb.WriteString("t(")
		for _, item := range v.ref.(*tupleObject).items {
			k, ok := item.hashKey()
			if !ok {
				return "", false
			}
			sb.WriteString(k)
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
		return sb.String(), true
	case TypeFunction, TypeObject:
		return fmt.Sprintf("p%p", v.ref), true
	}
	return "", false
}

// String returns a readable representation of the value.
func (v Value) String() string {
	switch v.typ {
	case TypeNone:
		return "None"
	case TypeBool:
		if v.i != 0 {
			return "True"
		}
		return "False"
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnNI") {
			s += ".0"
		}
		return s
	case TypeString:
		return strconv.Quote(v.s)
	case TypeList:
		return "[" + joinValues(v.ref.(*ListObject).Items) + "]"
	case TypeTuple:
		items := v.ref.(*tupleObject).items
		if len(items) == 1 {
			return "(" + items[0].String() + ",)"
		}
		return "(" + joinValues(items) + ")"
	case TypeDict:
		return v.ref.(*DictObject).String()
	case TypeSlice:
		s := v.AsSlice()
		return fmt.Sprintf("slice(%s, %s, %s)", s.Start, s.Stop, s.Step)
	case TypeFunction:
		return fmt.Sprintf("<function %s>", v.ref.(Callable).Name())
	case TypeObject:
		return fmt.Sprintf("<%s object>", v.ref.(*Object).Name)
	}
	return "<unknown>"
}

// Signature is a canonical, type-tagged rendering. Values with identity
// (functions, objects, mutable aggregates) include their address so that two
// distinct references never share a signature.
func (v Value) Signature() string {
	switch v.typ {
	case TypeList, TypeDict:
		return fmt.Sprintf("%s@%p:%s", v.typ, v.ref, v.String())
	case TypeTuple:
		items := v.ref.(*tupleObject).items
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = item.Signature()
		}
		return "tuple:(" + strings.Join(parts, ",") + ")"
	case TypeFunction, TypeObject:
		return fmt.Sprintf("%s@%p:%s", v.typ, v.ref, v.String())
	case TypeSlice:
		s := v.AsSlice()
		return "slice:(" + s.Start.Signature() + "," + s.Stop.Signature() + "," + s.Step.Signature() + ")"
	}
	return v.typ.String() + ":" + v.String()
}

func joinValues(items []Value) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.String()
	}
	return strings.Join(parts, ", ")
}

// --- Objects ---

// Object is a named attribute bag. Methods receive the object as their first
// argument when invoked through a method call.
type Object struct {
	Name    string
	Attrs   map[string]Value
	Methods map[string]Value
}

func NewObject(name string) *Object {
	return &Object{Name: name, Attrs: make(map[string]Value), Methods: make(map[string]Value)}
}

func (o *Object) GetAttr(name string) (Value, bool) {
	if v, ok := o.Attrs[name]; ok {
		return v, true
	}
	if m, ok := o.Methods[name]; ok {
		self := NewObjectValue(o)
		fn := m.AsCallable()
		return NewFunctionValue(&NativeFunction{
			name: o.Name + "." + name,
			fn: func(args []Value, kwargs []Keyword) (Value, error) {
				return fn.Call(append([]Value{self}, args...), kwargs)
			},
		}), true
	}
	return None, false
}
