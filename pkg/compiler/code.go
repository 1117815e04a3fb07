package compiler

import (
	"peakrules/pkg/errors"
	"peakrules/pkg/vm"
)

// Expr is anything that can emit itself into a Code buffer. Expression nodes
// leave exactly one value on the stack unless they implement StackEffecter.
type Expr interface {
	Emit(c *Code) error
	Signature() string
}

// StackEffecter is implemented by expressions whose emission does not net +1,
// such as stores.
type StackEffecter interface {
	StackEffect() int
}

// ExpectedEffect returns the net stack effect e promises.
func ExpectedEffect(e Expr) int {
	if se, ok := e.(StackEffecter); ok {
		return se.StackEffect()
	}
	return 1
}

// Interceptor can take over the emission of an expression. It returns true if
// it emitted e itself.
type Interceptor interface {
	Intercept(c *Code, e Expr) (bool, error)
}

// Observer is told about every expression emitted through Code.Expr, after
// its emission, with the expression that was being emitted around it.
type Observer interface {
	Observe(parent, child Expr, net int, reachable bool)
}

// Label identifies a code position that jumps can target.
type Label int

// NoLabel marks an empty jump table entry.
const NoLabel Label = -1

type instr struct {
	op  vm.OpCode
	arg int
}

type labelInfo struct {
	pos   int // index into body, -1 until placed
	depth int // stack depth at the label, -1 until known
}

type tableSpec struct {
	targets []Label
	def     Label
}

// Code is the emission target: a symbolic instruction buffer that tracks the
// operand stack depth of every instruction it receives, resolves labels, and
// assembles into a vm.Chunk.
type Code struct {
	name       string
	chunk      *vm.Chunk
	locals     []string
	localIndex map[string]int
	nparams    int

	body       []instr
	prologue   []instr
	inPrologue bool

	labels []labelInfo
	named  map[string]Label
	tables []tableSpec

	depth     int
	maxDepth  int
	reachable bool

	interceptor Interceptor
	observer    Observer
	emitting    []Expr
	scratch     map[string]interface{}
}

// NewCode creates an empty buffer for a function with the given parameters.
func NewCode(name string, params ...string) *Code {
	c := &Code{
		name:       name,
		chunk:      vm.NewChunk(),
		localIndex: make(map[string]int),
		named:      make(map[string]Label),
		reachable:  true,
		scratch:    make(map[string]interface{}),
	}
	for _, p := range params {
		c.Local(p)
	}
	c.nparams = len(params)
	return c
}

func (c *Code) Name() string { return c.name }

// SetInterceptor installs i; nil removes it.
func (c *Code) SetInterceptor(i Interceptor) { c.interceptor = i }

// Interceptor returns the installed interceptor, if any.
func (c *Code) Interceptor() Interceptor { return c.interceptor }

// SetObserver installs o; nil removes it.
func (c *Code) SetObserver(o Observer) { c.observer = o }

// Depth is the current symbolic operand stack depth.
func (c *Code) Depth() int { return c.depth }

// Reachable reports whether the next instruction can be executed. It turns
// false after an unconditional transfer and true again at the next label.
func (c *Code) Reachable() bool { return c.reachable }

// Params returns the parameter names.
func (c *Code) Params() []string { return c.locals[:c.nparams] }

// Scratch returns per-buffer storage for extensions, keyed by name.
func (c *Code) Scratch(key string) (interface{}, bool) {
	v, ok := c.scratch[key]
	return v, ok
}

func (c *Code) SetScratch(key string, v interface{}) { c.scratch[key] = v }

// Local returns the slot of name, declaring it if needed.
func (c *Code) Local(name string) int {
	if slot, ok := c.localIndex[name]; ok {
		return slot
	}
	slot := len(c.locals)
	c.locals = append(c.locals, name)
	c.localIndex[name] = slot
	return slot
}

// HasLocal reports whether name is a parameter or declared local.
func (c *Code) HasLocal(name string) bool {
	_, ok := c.localIndex[name]
	return ok
}

// Expr emits e and checks that it honoured its stack contract. This is the
// only way nested expressions should be emitted: it is where interceptors
// and observers hook in.
func (c *Code) Expr(e Expr) error {
	var parent Expr
	if n := len(c.emitting); n > 0 {
		parent = c.emitting[n-1]
	}
	before := c.depth
	c.emitting = append(c.emitting, e)
	handled := false
	var err error
	if c.interceptor != nil {
		handled, err = c.interceptor.Intercept(c, e)
	}
	if err == nil && !handled {
		err = e.Emit(c)
	}
	c.emitting = c.emitting[:len(c.emitting)-1]
	if err != nil {
		return err
	}
	net := c.depth - before
	tracef("[Expr %s] %s net=%d reachable=%v\n", c.name, e.Signature(), net, c.reachable)
	if c.observer != nil {
		c.observer.Observe(parent, e, net, c.reachable)
	}
	// Code after an unconditional transfer has no meaningful depth.
	if c.reachable && net != ExpectedEffect(e) {
		return errors.NewCompileError("%s: emitting %s changed the stack by %d, expected %d", c.name, e.Signature(), net, ExpectedEffect(e))
	}
	return nil
}

// Prologue runs emit with instructions redirected to the function prologue,
// which executes before any other code. Prologue code must be stack neutral
// and must not use labels.
func (c *Code) Prologue(emit func() error) error {
	if c.inPrologue {
		return emit()
	}
	body, depth, reachable := c.body, c.depth, c.reachable
	c.body, c.depth, c.reachable, c.inPrologue = c.prologue, 0, true, true
	err := emit()
	if err == nil && c.depth != 0 {
		err = errors.NewCompileError("%s: prologue left %d values on the stack", c.name, c.depth)
	}
	c.prologue = c.body
	c.body, c.depth, c.reachable, c.inPrologue = body, depth, reachable, false
	return err
}

// NewLabel allocates an unplaced label.
func (c *Code) NewLabel() Label {
	c.labels = append(c.labels, labelInfo{pos: -1, depth: -1})
	return Label(len(c.labels) - 1)
}

// NamedLabel returns the label registered under name, allocating it on first
// use. It lets independently emitted fragments agree on a jump target.
func (c *Code) NamedLabel(name string) Label {
	if l, ok := c.named[name]; ok {
		return l
	}
	l := c.NewLabel()
	c.named[name] = l
	return l
}

// HasNamedLabel reports whether NamedLabel(name) was ever called.
func (c *Code) HasNamedLabel(name string) bool {
	_, ok := c.named[name]
	return ok
}

// Mark places l at the current position.
func (c *Code) Mark(l Label) error {
	if c.inPrologue {
		return errors.NewCompileError("%s: labels are not allowed in the prologue", c.name)
	}
	info := &c.labels[l]
	if info.pos >= 0 {
		return errors.NewCompileError("%s: label %d placed twice", c.name, l)
	}
	info.pos = len(c.body)
	switch {
	case c.reachable && info.depth >= 0 && info.depth != c.depth:
		return errors.NewCompileError("%s: stack depth mismatch at label %d: %d vs %d", c.name, l, c.depth, info.depth)
	case c.reachable:
		info.depth = c.depth
	case info.depth >= 0:
		c.depth = info.depth
	default:
		// Nothing jumps here yet; the code stays dead.
		return nil
	}
	c.reachable = true
	return nil
}

// branchTo records the depth the stack has when control reaches l. Jumps
// emitted in unreachable code record nothing.
func (c *Code) branchTo(l Label, depth int) error {
	if !c.reachable {
		return nil
	}
	info := &c.labels[l]
	if info.pos >= 0 {
		// Backward jump: the label already knows its depth.
		if info.depth < 0 {
			return errors.NewCompileError("%s: jump back to label %d, which was placed in unreachable code", c.name, l)
		}
		if info.depth != depth {
			return errors.NewCompileError("%s: stack depth mismatch jumping back to label %d: %d vs %d", c.name, l, depth, info.depth)
		}
		return nil
	}
	if info.depth >= 0 && info.depth != depth {
		return errors.NewCompileError("%s: stack depth mismatch at label %d: %d vs %d", c.name, l, depth, info.depth)
	}
	info.depth = depth
	return nil
}

func (c *Code) adjust(delta int) {
	c.depth += delta
	if c.depth > c.maxDepth {
		c.maxDepth = c.depth
	}
}

func (c *Code) append(op vm.OpCode, arg int, delta int) {
	c.body = append(c.body, instr{op: op, arg: arg})
	c.adjust(delta)
}

// Assemble resolves labels and jump tables and encodes the buffer.
func (c *Code) Assemble() (*vm.Chunk, error) {
	offsets := make([]int, len(c.body)+1)
	pos := 0
	for _, in := range c.prologue {
		pos += 1 + in.op.OperandWidth()
	}
	for i, in := range c.body {
		offsets[i] = pos
		pos += 1 + in.op.OperandWidth()
	}
	offsets[len(c.body)] = pos
	if pos > 0xffff {
		return nil, errors.NewCompileError("%s: code too large (%d bytes)", c.name, pos)
	}

	labelOffset := func(l Label) (int, error) {
		info := c.labels[l]
		if info.pos < 0 {
			return 0, errors.NewCompileError("%s: label %d was never placed", c.name, l)
		}
		return offsets[info.pos], nil
	}

	chunk := c.chunk
	chunk.Code = chunk.Code[:0]
	chunk.JumpTables = nil
	for _, t := range c.tables {
		jt := vm.JumpTable{Targets: make([]int, len(t.targets))}
		for i, l := range t.targets {
			jt.Targets[i] = -1
			if l == NoLabel {
				continue
			}
			off, err := labelOffset(l)
			if err != nil {
				return nil, err
			}
			jt.Targets[i] = off
		}
		def, err := labelOffset(t.def)
		if err != nil {
			return nil, err
		}
		jt.Default = def
		chunk.JumpTables = append(chunk.JumpTables, jt)
	}

	encode := func(in instr) error {
		chunk.WriteOpCode(in.op)
		switch in.op.OperandWidth() {
		case 1:
			chunk.WriteKind(byte(in.arg))
		case 2:
			arg := in.arg
			if in.op.IsJump() {
				off, err := labelOffset(Label(arg))
				if err != nil {
					return err
				}
				arg = off
			}
			chunk.WriteUint16(uint16(arg))
		}
		return nil
	}
	for _, in := range c.prologue {
		if err := encode(in); err != nil {
			return nil, err
		}
	}
	for _, in := range c.body {
		if err := encode(in); err != nil {
			return nil, err
		}
	}
	chunk.LocalNames = append([]string(nil), c.locals...)
	chunk.MaxStack = c.maxDepth
	tracef("[Assemble %s] %d bytes, %d constants, max stack %d\n", c.name, len(chunk.Code), len(chunk.Constants), chunk.MaxStack)
	return chunk, nil
}

// Function assembles the buffer into a callable function.
func (c *Code) Function(globals map[string]vm.Value) (*vm.Function, error) {
	chunk, err := c.Assemble()
	if err != nil {
		return nil, err
	}
	return vm.NewFunction(c.name, append([]string(nil), c.Params()...), chunk, globals), nil
}
