package vm

import (
	"fmt"
	"os"

	"peakrules/pkg/errors"
)

const debugVM = false

// noReceiver marks the receiver slot pushed by OpLoadMethod when the method
// is an ordinary attribute and must be called without a receiver.
type noReceiver struct{}

var unboundMarker = Value{typ: TypeNone, ref: noReceiver{}}

func isUnbound(v Value) bool {
	_, ok := v.ref.(noReceiver)
	return ok
}

// frame is the activation record of one call. Each call of a Function gets
// its own frame, so generated code is reentrant.
type frame struct {
	fn     *Function
	code   []byte
	consts []Value
	locals []Value
	stack  []Value
	ip     int
}

func (fr *frame) push(v Value) {
	fr.stack = append(fr.stack, v)
}

func (fr *frame) pop() Value {
	n := len(fr.stack) - 1
	v := fr.stack[n]
	fr.stack = fr.stack[:n]
	return v
}

func (fr *frame) top() Value {
	return fr.stack[len(fr.stack)-1]
}

func (fr *frame) popN(n int) []Value {
	start := len(fr.stack) - n
	out := make([]Value, n)
	copy(out, fr.stack[start:])
	fr.stack = fr.stack[:start]
	return out
}

func (fr *frame) readUint16() int {
	v := int(fr.code[fr.ip])<<8 | int(fr.code[fr.ip+1])
	fr.ip += 2
	return v
}

func (fr *frame) readByte() byte {
	b := fr.code[fr.ip]
	fr.ip++
	return b
}

func run(fn *Function, locals []Value) (Value, error) {
	fr := &frame{
		fn:     fn,
		code:   fn.Chunk.Code,
		consts: fn.Chunk.Constants,
		locals: locals,
		stack:  make([]Value, 0, fn.Chunk.MaxStack),
	}
	for {
		if fr.ip >= len(fr.code) {
			return None, errors.NewRuntimeError(errors.ErrValue, "%s: fell off the end of the code", fn.name)
		}
		op := OpCode(fr.code[fr.ip])
		if debugVM {
			fmt.Fprintf(os.Stderr, "[vm %s] %04d %-20s stack=%v\n", fn.name, fr.ip, op, fr.stack)
		}
		fr.ip++

		switch op {
		case OpLoadConst:
			fr.push(fr.consts[fr.readUint16()])
		case OpLoadNone:
			fr.push(None)
		case OpLoadLocal:
			fr.push(fr.locals[fr.readUint16()])
		case OpStoreLocal:
			fr.locals[fr.readUint16()] = fr.pop()
		case OpLoadGlobal:
			name := fr.consts[fr.readUint16()].s
			v, ok := fn.Globals[name]
			if !ok {
				return None, &errors.UnresolvedNameError{Name: name}
			}
			fr.push(v)

		case OpPop:
			fr.pop()
		case OpDup:
			fr.push(fr.top())
		case OpRot2:
			n := len(fr.stack)
			fr.stack[n-1], fr.stack[n-2] = fr.stack[n-2], fr.stack[n-1]
		case OpRot3:
			n := len(fr.stack)
			a, b, c := fr.stack[n-3], fr.stack[n-2], fr.stack[n-1]
			fr.stack[n-3], fr.stack[n-2], fr.stack[n-1] = c, a, b

		case OpUnary:
			kind := UnaryKind(fr.readByte())
			v, err := Unary(kind, fr.pop())
			if err != nil {
				return None, err
			}
			fr.push(v)
		case OpBinary:
			kind := BinaryKind(fr.readByte())
			b := fr.pop()
			a := fr.pop()
			v, err := Binary(kind, a, b)
			if err != nil {
				return None, err
			}
			fr.push(v)
		case OpCompare:
			kind := CompareKind(fr.readByte())
			b := fr.pop()
			a := fr.pop()
			v, err := Compare(kind, a, b)
			if err != nil {
				return None, err
			}
			fr.push(v)

		case OpGetIndex:
			index := fr.pop()
			base := fr.pop()
			v, err := Index(base, index)
			if err != nil {
				return None, err
			}
			fr.push(v)
		case OpStoreIndex:
			key := fr.pop()
			container := fr.pop()
			value := fr.pop()
			if err := SetItem(container, key, value); err != nil {
				return None, err
			}
		case OpBuildSlice:
			step := fr.pop()
			stop := fr.pop()
			start := fr.pop()
			fr.push(NewSlice(start, stop, step))
		case OpGetAttr:
			name := fr.consts[fr.readUint16()].s
			v, err := GetAttr(fr.pop(), name)
			if err != nil {
				return None, err
			}
			fr.push(v)
		case OpLoadMethod:
			name := fr.consts[fr.readUint16()].s
			base := fr.pop()
			m, bound, err := GetMethod(base, name)
			if err != nil {
				return None, err
			}
			fr.push(m)
			if bound {
				fr.push(base)
			} else {
				fr.push(unboundMarker)
			}

		case OpBuildList:
			fr.push(NewList(fr.popN(fr.readUint16())...))
		case OpBuildTuple:
			fr.push(NewTuple(fr.popN(fr.readUint16())...))
		case OpBuildDict:
			kv := fr.popN(2 * fr.readUint16())
			d, err := BuildDict(kv)
			if err != nil {
				return None, err
			}
			fr.push(d)
		case OpListExtend:
			items, err := SpreadArgs(fr.pop())
			if err != nil {
				return None, err
			}
			l := fr.top().AsList()
			l.Items = append(l.Items, items...)
		case OpDictMerge:
			kws, err := SpreadKwargs(fr.pop())
			if err != nil {
				return None, err
			}
			d := fr.top().AsDict()
			for _, kw := range kws {
				if found, _ := d.Contains(String(kw.Name)); found {
					return None, errors.NewRuntimeError(errors.ErrTypeMismatch, "got multiple values for keyword argument %q", kw.Name)
				}
				if err := d.Set(String(kw.Name), kw.Value); err != nil {
					return None, err
				}
			}
		case OpUnpack:
			n := fr.readUint16()
			seq := fr.pop()
			items, ok := seq.Items()
			if !ok || len(items) != n {
				return None, errors.NewRuntimeError(errors.ErrValue, "cannot unpack %s into %d values", seq, n)
			}
			for i := n - 1; i >= 0; i-- {
				fr.push(items[i])
			}

		case OpCall:
			args := fr.popN(fr.readUint16())
			v, err := Call(fr.pop(), args, nil)
			if err != nil {
				return None, err
			}
			fr.push(v)
		case OpCallMethod:
			args := fr.popN(fr.readUint16())
			recv := fr.pop()
			callee := fr.pop()
			if !isUnbound(recv) {
				args = append([]Value{recv}, args...)
			}
			v, err := Call(callee, args, nil)
			if err != nil {
				return None, err
			}
			fr.push(v)
		case OpCallEx:
			flags := fr.readByte()
			kwDict := fr.pop()
			argList := fr.pop()
			args, _ := argList.Items()
			kwargs, err := SpreadKwargs(kwDict)
			if err != nil {
				return None, err
			}
			if flags&CallExMethod != 0 {
				if recv := fr.pop(); !isUnbound(recv) {
					args = append([]Value{recv}, args...)
				}
			}
			v, err := Call(fr.pop(), args, kwargs)
			if err != nil {
				return None, err
			}
			fr.push(v)

		case OpJump:
			fr.ip = fr.readUint16()
		case OpJumpIfFalse:
			target := fr.readUint16()
			if !fr.pop().Truthy() {
				fr.ip = target
			}
		case OpJumpIfTrue:
			target := fr.readUint16()
			if fr.pop().Truthy() {
				fr.ip = target
			}
		case OpJumpIfFalseOrPop:
			target := fr.readUint16()
			if !fr.top().Truthy() {
				fr.ip = target
			} else {
				fr.pop()
			}
		case OpJumpIfTrueOrPop:
			target := fr.readUint16()
			if fr.top().Truthy() {
				fr.ip = target
			} else {
				fr.pop()
			}
		case OpJumpTable:
			jt := &fn.Chunk.JumpTables[fr.readUint16()]
			fr.ip = jt.Lookup(fr.pop())
		case OpReturn:
			return fr.pop(), nil
		case OpInvalidAction:
			pair := fr.pop()
			items, ok := pair.Items()
			if ok && len(items) == 2 {
				return None, &errors.InvalidActionError{Action: items[0], Argument: items[1]}
			}
			return None, &errors.InvalidActionError{Action: pair, Argument: None}

		default:
			return None, errors.NewRuntimeError(errors.ErrValue, "unknown opcode %d at %04d", op, fr.ip-1)
		}
	}
}
