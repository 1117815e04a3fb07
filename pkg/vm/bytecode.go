package vm

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// OpCode defines the type for bytecode instructions.
type OpCode uint8

// Enum for Opcodes (Stack Machine)
const (
	// Format: OpCode <Operand>
	// Operands are a 1-byte kind or a 2-byte big endian index/target.

	OpLoadConst  OpCode = iota // ConstIdx(16bit): push Constants[ConstIdx]
	OpLoadNone                 // push None
	OpLoadLocal                // Slot(16bit): push Locals[Slot]
	OpStoreLocal               // Slot(16bit): pop into Locals[Slot]
	OpLoadGlobal               // NameIdx(16bit): push Globals[Constants[NameIdx]]

	// Stack shuffling
	OpPop  // drop TOS
	OpDup  // push TOS again
	OpRot2 // swap TOS and TOS1
	OpRot3 // lift TOS to third position: [a b c] -> [c a b]

	// Operators
	OpUnary   // Kind(8bit): TOS = op TOS
	OpBinary  // Kind(8bit): TOS = TOS1 op TOS
	OpCompare // Kind(8bit): TOS = TOS1 op TOS

	// Subscript / attribute
	OpGetIndex   // TOS = TOS1[TOS]
	OpStoreIndex // TOS1[TOS] = TOS2; pops all three
	OpBuildSlice // TOS = slice(TOS2, TOS1, TOS)
	OpGetAttr    // NameIdx(16bit): TOS = TOS.name
	OpLoadMethod // NameIdx(16bit): replace TOS with function and receiver (or an unbound marker)

	// Collections
	OpBuildList  // Count(16bit): pop Count items into a list
	OpBuildTuple // Count(16bit): pop Count items into a tuple
	OpBuildDict  // Count(16bit): pop Count key/value pairs into a dict
	OpListExtend // TOS1.extend(TOS); pop TOS
	OpDictMerge  // TOS1.update(TOS); pop TOS
	OpUnpack     // Count(16bit): pop a sequence of exactly Count items, push them with item 0 on top

	// Calls
	OpCall       // Argc(16bit): callee arg1..argN -> result
	OpCallMethod // Argc(16bit): function receiver arg1..argN -> result
	OpCallEx     // Flags(8bit): callee [receiver] argsList kwargsDict -> result

	// Control Flow
	OpJump             // Target(16bit): unconditional jump
	OpJumpIfFalse      // Target(16bit): pop TOS; jump if falsy
	OpJumpIfTrue       // Target(16bit): pop TOS; jump if truthy
	OpJumpIfFalseOrPop // Target(16bit): jump keeping TOS if falsy, else pop
	OpJumpIfTrueOrPop  // Target(16bit): jump keeping TOS if truthy, else pop
	OpJumpTable        // TableIdx(16bit): pop TOS; jump to JumpTables[TableIdx] entry for an int id, else default
	OpReturn           // pop TOS and return it
	OpInvalidAction    // pop a dispatch pair and fail with an invalid action error

	opCodeCount
)

// CallEx flags
const (
	CallExMethod byte = 1 << iota // a receiver slot sits between callee and args
)

var opNames = [...]string{
	OpLoadConst:        "OpLoadConst",
	OpLoadNone:         "OpLoadNone",
	OpLoadLocal:        "OpLoadLocal",
	OpStoreLocal:       "OpStoreLocal",
	OpLoadGlobal:       "OpLoadGlobal",
	OpPop:              "OpPop",
	OpDup:              "OpDup",
	OpRot2:             "OpRot2",
	OpRot3:             "OpRot3",
	OpUnary:            "OpUnary",
	OpBinary:           "OpBinary",
	OpCompare:          "OpCompare",
	OpGetIndex:         "OpGetIndex",
	OpStoreIndex:       "OpStoreIndex",
	OpBuildSlice:       "OpBuildSlice",
	OpGetAttr:          "OpGetAttr",
	OpLoadMethod:       "OpLoadMethod",
	OpBuildList:        "OpBuildList",
	OpBuildTuple:       "OpBuildTuple",
	OpBuildDict:        "OpBuildDict",
	OpListExtend:       "OpListExtend",
	OpDictMerge:        "OpDictMerge",
	OpUnpack:           "OpUnpack",
	OpCall:             "OpCall",
	OpCallMethod:       "OpCallMethod",
	OpCallEx:           "OpCallEx",
	OpJump:             "OpJump",
	OpJumpIfFalse:      "OpJumpIfFalse",
	OpJumpIfTrue:       "OpJumpIfTrue",
	OpJumpIfFalseOrPop: "OpJumpIfFalseOrPop",
	OpJumpIfTrueOrPop:  "OpJumpIfTrueOrPop",
	OpJumpTable:        "OpJumpTable",
	OpReturn:           "OpReturn",
	OpInvalidAction:    "OpInvalidAction",
}

func (op OpCode) String() string {
	if op < opCodeCount {
		return opNames[op]
	}
	return fmt.Sprintf("UnknownOp(%d)", op)
}

// OperandWidth returns the number of operand bytes following op.
func (op OpCode) OperandWidth() int {
	switch op {
	case OpUnary, OpBinary, OpCompare, OpCallEx:
		return 1
	case OpLoadConst, OpLoadLocal, OpStoreLocal, OpLoadGlobal, OpGetAttr, OpLoadMethod,
		OpBuildList, OpBuildTuple, OpBuildDict, OpUnpack, OpCall, OpCallMethod,
		OpJump, OpJumpIfFalse, OpJumpIfTrue, OpJumpIfFalseOrPop, OpJumpIfTrueOrPop, OpJumpTable:
		return 2
	}
	return 0
}

// IsJump reports whether the 16-bit operand of op is a code offset.
func (op OpCode) IsJump() bool {
	switch op {
	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
		return true
	}
	return false
}

// JumpTable maps small integer ids to code offsets.
type JumpTable struct {
	Targets []int // indexed by id; -1 means "use Default"
	Default int
}

func (jt *JumpTable) Lookup(id Value) int {
	if id.typ == TypeInt && id.i >= 0 && id.i < int64(len(jt.Targets)) {
		if t := jt.Targets[id.i]; t >= 0 {
			return t
		}
	}
	return jt.Default
}

// Chunk represents a sequence of bytecode instructions and associated data.
type Chunk struct {
	Code       []byte      // The bytecode instructions (OpCodes and operands)
	Constants  []Value     // Constant pool
	JumpTables []JumpTable // Multi-way branch tables used by OpJumpTable
	LocalNames []string    // Names of the local slots; parameters come first
	MaxStack   int         // Deepest operand stack the code can reach
}

// NewChunk creates a new, empty Chunk.
func NewChunk() *Chunk {
	return &Chunk{
		Code:      make([]byte, 0),
		Constants: make([]Value, 0),
	}
}

// WriteOpCode adds an opcode to the chunk.
func (c *Chunk) WriteOpCode(op OpCode) {
	c.Code = append(c.Code, byte(op))
}

// WriteKind adds a 1-byte operand (operator kind or flags) to the chunk.
func (c *Chunk) WriteKind(b byte) {
	c.Code = append(c.Code, b)
}

// WriteUint16 adds a 16-bit operand. Encoded as Big Endian.
func (c *Chunk) WriteUint16(val uint16) {
	c.Code = append(c.Code, byte(val>>8), byte(val&0xff))
}

// AddConstant adds a value to the constant pool and returns its index.
// Scalars and strings are deduplicated; references are kept distinct.
func (c *Chunk) AddConstant(v Value) uint16 {
	for i, existing := range c.Constants {
		if existing.Is(v) {
			return uint16(i)
		}
	}
	c.Constants = append(c.Constants, v)
	idx := len(c.Constants) - 1
	if idx > 65535 {
		panic("Too many constants in one chunk.")
	}
	return uint16(idx)
}

func (c *Chunk) readUint16(offset int) int {
	return int(c.Code[offset])<<8 | int(c.Code[offset+1])
}

// --- Disassembly ---

var (
	opColor    = color.New(color.FgCyan).SprintFunc()
	constColor = color.New(color.FgYellow).SprintFunc()
	jumpColor  = color.New(color.FgMagenta).SprintFunc()
)

// Disassemble returns a human-readable listing of the chunk.
func (c *Chunk) Disassemble(name string) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("== %s ==\n", name))
	if len(c.LocalNames) > 0 {
		builder.WriteString(fmt.Sprintf("locals: %s\n", strings.Join(c.LocalNames, ", ")))
	}
	offset := 0
	for offset < len(c.Code) {
		offset = c.disassembleInstruction(&builder, offset)
	}
	for i, jt := range c.JumpTables {
		builder.WriteString(fmt.Sprintf("table %d: targets=%v default=%04d\n", i, jt.Targets, jt.Default))
	}
	return builder.String()
}

// disassembleInstruction appends a single instruction to the builder and
// returns the offset of the next instruction.
func (c *Chunk) disassembleInstruction(builder *strings.Builder, offset int) int {
	builder.WriteString(fmt.Sprintf("%04d  ", offset))
	op := OpCode(c.Code[offset])
	width := op.OperandWidth()
	if offset+width >= len(c.Code) {
		builder.WriteString(fmt.Sprintf("%s (missing operands)\n", opColor(op.String())))
		return len(c.Code)
	}
	name := fmt.Sprintf("%-20s", op.String())
	switch {
	case width == 0:
		builder.WriteString(opColor(strings.TrimRight(name, " ")) + "\n")
	case width == 1:
		kind := c.Code[offset+1]
		builder.WriteString(fmt.Sprintf("%s %s\n", opColor(name), kindName(op, kind)))
	default:
		arg := c.readUint16(offset + 1)
		switch {
		case op.IsJump():
			builder.WriteString(fmt.Sprintf("%s %s\n", opColor(name), jumpColor(fmt.Sprintf("-> %04d", arg))))
		case op == OpLoadConst || op == OpLoadGlobal || op == OpGetAttr || op == OpLoadMethod:
			builder.WriteString(fmt.Sprintf("%s %d %s\n", opColor(name), arg, constColor(c.constantString(arg))))
		case op == OpLoadLocal || op == OpStoreLocal:
			builder.WriteString(fmt.Sprintf("%s %d (%s)\n", opColor(name), arg, c.localName(arg)))
		default:
			builder.WriteString(fmt.Sprintf("%s %d\n", opColor(name), arg))
		}
	}
	return offset + 1 + width
}

func (c *Chunk) constantString(idx int) string {
	if idx < len(c.Constants) {
		v := c.Constants[idx]
		if v.typ == TypeString {
			return "'" + v.s + "'"
		}
		return "'" + v.String() + "'"
	}
	return "<bad constant>"
}

func (c *Chunk) localName(slot int) string {
	if slot < len(c.LocalNames) {
		return c.LocalNames[slot]
	}
	return "?"
}

func kindName(op OpCode, kind byte) string {
	switch op {
	case OpUnary:
		return UnaryKind(kind).String()
	case OpBinary:
		return BinaryKind(kind).String()
	case OpCompare:
		return CompareKind(kind).String()
	case OpCallEx:
		if kind&CallExMethod != 0 {
			return "method"
		}
		return "plain"
	}
	return fmt.Sprintf("%d", kind)
}
