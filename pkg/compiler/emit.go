package compiler

import (
	"peakrules/pkg/errors"
	"peakrules/pkg/vm"
)

// --- Bytecode Emission Helpers ---
// Every helper records the instruction's effect on the operand stack.

func (c *Code) LoadConst(v vm.Value) {
	c.append(vm.OpLoadConst, int(c.chunk.AddConstant(v)), +1)
}

func (c *Code) LoadNone() {
	c.append(vm.OpLoadNone, 0, +1)
}

// LoadName pushes a local if name is one, otherwise a global.
func (c *Code) LoadName(name string) {
	if slot, ok := c.localIndex[name]; ok {
		c.append(vm.OpLoadLocal, slot, +1)
		return
	}
	c.append(vm.OpLoadGlobal, int(c.chunk.AddConstant(vm.String(name))), +1)
}

func (c *Code) LoadLocal(slot int) {
	c.append(vm.OpLoadLocal, slot, +1)
}

func (c *Code) StoreLocal(slot int) {
	c.append(vm.OpStoreLocal, slot, -1)
}

// StoreName pops TOS into the local name, declaring it if needed.
func (c *Code) StoreName(name string) {
	c.StoreLocal(c.Local(name))
}

func (c *Code) Pop()  { c.append(vm.OpPop, 0, -1) }
func (c *Code) Dup()  { c.append(vm.OpDup, 0, +1) }
func (c *Code) Rot2() { c.append(vm.OpRot2, 0, 0) }
func (c *Code) Rot3() { c.append(vm.OpRot3, 0, 0) }

func (c *Code) Unary(kind vm.UnaryKind) {
	c.append(vm.OpUnary, int(kind), 0)
}

func (c *Code) Binary(kind vm.BinaryKind) {
	c.append(vm.OpBinary, int(kind), -1)
}

func (c *Code) Compare(kind vm.CompareKind) {
	c.append(vm.OpCompare, int(kind), -1)
}

func (c *Code) GetIndex()   { c.append(vm.OpGetIndex, 0, -1) }
func (c *Code) StoreIndex() { c.append(vm.OpStoreIndex, 0, -3) }
func (c *Code) BuildSlice() { c.append(vm.OpBuildSlice, 0, -2) }

func (c *Code) GetAttr(name string) {
	c.append(vm.OpGetAttr, int(c.chunk.AddConstant(vm.String(name))), 0)
}

// LoadMethod replaces the receiver on TOS with a function and a receiver slot.
func (c *Code) LoadMethod(name string) {
	c.append(vm.OpLoadMethod, int(c.chunk.AddConstant(vm.String(name))), +1)
}

func (c *Code) BuildList(n int)  { c.append(vm.OpBuildList, n, 1-n) }
func (c *Code) BuildTuple(n int) { c.append(vm.OpBuildTuple, n, 1-n) }

// BuildDict pops n key/value pairs.
func (c *Code) BuildDict(n int) { c.append(vm.OpBuildDict, n, 1-2*n) }

func (c *Code) ListExtend() { c.append(vm.OpListExtend, 0, -1) }
func (c *Code) DictMerge()  { c.append(vm.OpDictMerge, 0, -1) }
func (c *Code) Unpack(n int) {
	c.append(vm.OpUnpack, n, n-1)
}

func (c *Code) Call(argc int) { c.append(vm.OpCall, argc, -argc) }

func (c *Code) CallMethod(argc int) { c.append(vm.OpCallMethod, argc, -argc-1) }

// CallEx calls with a positional list and keyword dict already on the stack.
func (c *Code) CallEx(method bool) {
	if method {
		c.append(vm.OpCallEx, int(vm.CallExMethod), -3)
		return
	}
	c.append(vm.OpCallEx, 0, -2)
}

// --- Control flow ---

// Jump transfers control to l; the code that follows is unreachable.
func (c *Code) Jump(l Label) error {
	if err := c.branchTo(l, c.depth); err != nil {
		return err
	}
	c.append(vm.OpJump, int(l), 0)
	c.reachable = false
	return nil
}

func (c *Code) JumpIfFalse(l Label) error { return c.popJump(vm.OpJumpIfFalse, l) }
func (c *Code) JumpIfTrue(l Label) error  { return c.popJump(vm.OpJumpIfTrue, l) }

func (c *Code) popJump(op vm.OpCode, l Label) error {
	c.append(op, int(l), -1)
	return c.branchTo(l, c.depth)
}

// JumpIfFalseOrPop jumps with TOS kept when it is falsy, and pops it otherwise.
func (c *Code) JumpIfFalseOrPop(l Label) error { return c.orPopJump(vm.OpJumpIfFalseOrPop, l) }

// JumpIfTrueOrPop jumps with TOS kept when it is truthy, and pops it otherwise.
func (c *Code) JumpIfTrueOrPop(l Label) error { return c.orPopJump(vm.OpJumpIfTrueOrPop, l) }

func (c *Code) orPopJump(op vm.OpCode, l Label) error {
	if err := c.branchTo(l, c.depth); err != nil {
		return err
	}
	c.append(op, int(l), -1)
	return nil
}

// JumpTable pops an id and jumps to targets[id], or to def when the id is not
// a valid index or its entry is NoLabel.
func (c *Code) JumpTable(targets []Label, def Label) error {
	if c.inPrologue {
		return errors.NewCompileError("%s: jump tables are not allowed in the prologue", c.name)
	}
	c.append(vm.OpJumpTable, len(c.tables), -1)
	for _, l := range targets {
		if l == NoLabel {
			continue
		}
		if err := c.branchTo(l, c.depth); err != nil {
			return err
		}
	}
	if err := c.branchTo(def, c.depth); err != nil {
		return err
	}
	c.tables = append(c.tables, tableSpec{targets: append([]Label(nil), targets...), def: def})
	c.reachable = false
	return nil
}

// Return pops TOS and returns it.
func (c *Code) Return() {
	c.append(vm.OpReturn, 0, -1)
	c.reachable = false
}

// InvalidAction pops a dispatch pair and aborts the call.
func (c *Code) InvalidAction() {
	c.append(vm.OpInvalidAction, 0, -1)
	c.reachable = false
}
