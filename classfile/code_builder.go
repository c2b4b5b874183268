package classfile

import (
	"math"

	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

// codeState is the shared state of one method body build. Direct builds
// encode each element as it arrives; buffered builds keep the elements and
// encode them when the class is written.
type codeState struct {
	method   *methodState
	pool     *PoolBuilder
	opts     Options
	original *CodeModel

	enc   *codeEncoder
	elems []CodeElement

	start, end *Label
	paramSlots int
	nextLocal  int
	localHigh  int
	reachable  bool

	explicit  bool
	maxStack  int
	maxLocals int

	err error
}

func newCodeState(ms *methodState, original *CodeModel) *codeState {
	s := &codeState{
		method:    ms,
		pool:      ms.cls.pool,
		opts:      ms.cls.opts,
		original:  original,
		start:     NewLabel(),
		end:       NewLabel(),
		reachable: true,
	}
	s.paramSlots = ms.mtype.ParameterSlots()
	if !ms.isStatic() {
		s.paramSlots++
	}
	s.nextLocal = s.paramSlots
	if original != nil {
		s.nextLocal = max(s.nextLocal, original.MaxLocals())
	}
	s.localHigh = s.nextLocal
	if s.opts.CodeBuilding == CodeDirect {
		s.enc = newCodeEncoder(s.pool, s.opts)
	}
	s.accept(LabelTarget{Label: s.start})
	return s
}

func (s *codeState) fail(err error) {
	if s.err == nil && err != nil {
		s.err = err
	}
}

// track follows fall-through reachability of the emitted stream.
func (s *codeState) track(e CodeElement) bool {
	switch e := e.(type) {
	case Instruction:
		s.reachable = !e.Op.IsUnconditional()
	case LabelTarget:
		s.reachable = true
	case nil:
		s.fail(errors.IllegalArgument(errors.PhaseBuild, "nil code element"))
		return false
	}
	return true
}

func (s *codeState) accept(e CodeElement) {
	if !s.track(e) {
		return
	}
	if s.enc != nil {
		s.enc.add(e)
		return
	}
	s.elems = append(s.elems, e)
}

// top returns the outermost builder of the body.
func (s *codeState) top() *CodeBuilder {
	return &CodeBuilder{st: s, sink: s.accept, scope: &blockScope{
		start:  s.start,
		end:    s.end,
		locals: &s.nextLocal,
	}}
}

func (s *codeState) allocate(slots int, next *int) int {
	slot := *next
	*next += slots
	s.localHigh = max(s.localHigh, *next)
	return slot
}

// finish binds the end label and produces the body.
func (s *codeState) finish() (*CodeModel, error) {
	s.accept(LabelTarget{Label: s.end})
	if s.err != nil {
		return nil, s.err
	}
	floor := max(s.paramSlots, s.localHigh)
	if s.enc == nil {
		c := &CodeModel{pool: s.pool, opts: s.opts, buffered: s.elems}
		c.bufferedMax.explicit = s.explicit
		if s.explicit {
			c.bufferedMax.stack, c.bufferedMax.locals = s.maxStack, s.maxLocals
		} else {
			c.bufferedMax.locals = floor
		}
		return c, nil
	}

	enc, err := s.enc.finish()
	if err != nil {
		return nil, err
	}
	if s.explicit {
		enc.explicitMax = true
		enc.maxStack, enc.maxLocals = s.maxStack, s.maxLocals
	} else {
		flow, err := newCodeFlow(enc.code, enc.handlers, s.pool)
		if err != nil {
			return nil, err
		}
		count, err := countStack(flow, s.paramSlots)
		if err != nil {
			return nil, err
		}
		enc.maxStack, enc.maxLocals = count.maxStack, max(count.maxLocals, floor)
	}
	return &CodeModel{pool: s.pool, opts: s.opts, enc: enc}, nil
}

// blockScope is the label and local scope of a builder. Locals allocated
// inside a block are released when it ends.
type blockScope struct {
	start, end *Label
	locals     *int
	breaks     bool
}

// CodeBuilder emits the elements of a method body. Blocks, conditionals and
// try constructs hand out nested builders that share the body but have
// their own start, end and local scope.
type CodeBuilder struct {
	st    *codeState
	sink  func(CodeElement)
	scope *blockScope
}

func (b *CodeBuilder) chain(sink func(CodeElement)) *CodeBuilder {
	return &CodeBuilder{st: b.st, sink: sink, scope: b.scope}
}

// With emits an element.
func (b *CodeBuilder) With(e CodeElement) *CodeBuilder {
	b.sink(e)
	return b
}

// ConstantPool returns the pool of the enclosing class build.
func (b *CodeBuilder) ConstantPool() *PoolBuilder { return b.st.pool }

// Options returns the build options.
func (b *CodeBuilder) Options() Options { return b.st.opts }

// Original returns the body being transformed, if any.
func (b *CodeBuilder) Original() (*CodeModel, bool) { return b.st.original, b.st.original != nil }

// Fail records err as the outcome of the build. The first error wins.
func (b *CodeBuilder) Fail(err error) { b.st.fail(err) }

// Reachable reports whether the next emitted instruction can be reached by
// falling through.
func (b *CodeBuilder) Reachable() bool { return b.st.reachable }

// NewLabel returns a fresh unbound label.
func (b *CodeBuilder) NewLabel() *Label { return NewLabel() }

// StartLabel returns the label bound at the start of this builder's scope.
func (b *CodeBuilder) StartLabel() *Label { return b.scope.start }

// EndLabel returns the label bound at the end of this builder's scope.
func (b *CodeBuilder) EndLabel() *Label { return b.scope.end }

// BreakLabel returns the label a jump uses to leave this block. It is the
// end label.
func (b *CodeBuilder) BreakLabel() *Label {
	b.scope.breaks = true
	return b.scope.end
}

// LabelBinding binds l at the current position.
func (b *CodeBuilder) LabelBinding(l *Label) *CodeBuilder {
	return b.With(LabelTarget{Label: l})
}

// ReceiverSlot returns the slot of this. Static methods have none.
func (b *CodeBuilder) ReceiverSlot() int {
	if b.st.method.isStatic() {
		b.st.fail(errors.IllegalArgument(errors.PhaseBuild, "static method has no receiver"))
		return -1
	}
	return 0
}

// ParameterSlot returns the local slot of parameter i.
func (b *CodeBuilder) ParameterSlot(i int) int {
	params := b.st.method.mtype.Params
	if i < 0 || i >= len(params) {
		b.st.fail(errors.IllegalArgument(errors.PhaseBuild, "parameter %d out of range", i))
		return -1
	}
	slot := 0
	if !b.st.method.isStatic() {
		slot = 1
	}
	for _, p := range params[:i] {
		slot += p.Kind().SlotSize()
	}
	return slot
}

// AllocateLocal reserves a local of the given kind in the current scope
// and returns its slot.
func (b *CodeBuilder) AllocateLocal(kind descriptor.TypeKind) int {
	return b.st.allocate(max(kind.SlotSize(), 1), b.scope.locals)
}

// WithMaxs declares max_stack and max_locals. The values are written as
// given only when frames are not generated.
func (b *CodeBuilder) WithMaxs(maxStack, maxLocals int) *CodeBuilder {
	if maxStack < 0 || maxStack > 0xFFFF || maxLocals < 0 || maxLocals > 0xFFFF {
		b.st.fail(errors.IllegalArgument(errors.PhaseBuild,
			"max_stack %d and max_locals %d must be within 0..65535", maxStack, maxLocals))
		return b
	}
	b.st.explicit, b.st.maxStack, b.st.maxLocals = true, maxStack, maxLocals
	return b
}

// Block runs handler with a nested builder whose end label is bound after
// the block.
func (b *CodeBuilder) Block(handler func(*CodeBuilder)) *CodeBuilder {
	nb := b.block()
	nb.LabelBinding(nb.scope.start)
	handler(nb)
	nb.LabelBinding(nb.scope.end)
	return b
}

// fallsOut reports whether control can leave the block at its end.
func (b *CodeBuilder) fallsOut() bool {
	return b.st.reachable || b.scope.breaks
}

func (b *CodeBuilder) block() *CodeBuilder {
	locals := *b.scope.locals
	return &CodeBuilder{st: b.st, sink: b.sink, scope: &blockScope{
		start:  NewLabel(),
		end:    NewLabel(),
		locals: &locals,
	}}
}

// IfThen emits then guarded by the condition op. op is the branch that
// enters the block; its inverse skips it.
func (b *CodeBuilder) IfThen(op Opcode, then func(*CodeBuilder)) *CodeBuilder {
	inv, ok := op.Invert()
	if !ok {
		b.st.fail(errors.IllegalArgument(errors.PhaseBuild, "%s is not a conditional branch", op))
		return b
	}
	nb := b.block()
	b.Branch(inv, nb.scope.end)
	nb.LabelBinding(nb.scope.start)
	then(nb)
	nb.LabelBinding(nb.scope.end)
	return b
}

// IfThenElse emits a two-way conditional.
func (b *CodeBuilder) IfThenElse(op Opcode, then, otherwise func(*CodeBuilder)) *CodeBuilder {
	inv, ok := op.Invert()
	if !ok {
		b.st.fail(errors.IllegalArgument(errors.PhaseBuild, "%s is not a conditional branch", op))
		return b
	}
	thenBlock, elseBlock := b.block(), b.block()
	end := NewLabel()
	b.Branch(inv, elseBlock.scope.start)
	thenBlock.LabelBinding(thenBlock.scope.start)
	then(thenBlock)
	falls := thenBlock.fallsOut()
	thenBlock.LabelBinding(thenBlock.scope.end)
	if falls {
		b.Goto(end)
	}
	elseBlock.LabelBinding(elseBlock.scope.start)
	otherwise(elseBlock)
	elseBlock.LabelBinding(elseBlock.scope.end)
	return b.LabelBinding(end)
}

// CatchBuilder adds handlers to a Trying construct.
type CatchBuilder struct {
	b          *CodeBuilder
	tryStart   *Label
	tryEnd     *Label
	end        *Label
	caught     map[string]bool
	catchesAll bool
}

// Trying emits body as a protected region followed by the handlers added
// through catches.
func (b *CodeBuilder) Trying(body func(*CodeBuilder), catches func(*CatchBuilder)) *CodeBuilder {
	tb := b.block()
	cb := &CatchBuilder{
		b:        b,
		tryStart: tb.scope.start,
		tryEnd:   tb.scope.end,
		end:      NewLabel(),
		caught:   make(map[string]bool),
	}
	tb.LabelBinding(tb.scope.start)
	body(tb)
	falls := tb.fallsOut()
	tb.LabelBinding(tb.scope.end)
	if falls {
		b.Goto(cb.end)
	}
	catches(cb)
	return b.LabelBinding(cb.end)
}

// Catching adds a handler for one exception type.
func (c *CatchBuilder) Catching(exception descriptor.ClassDesc, handler func(*CodeBuilder)) *CatchBuilder {
	return c.CatchingMulti([]descriptor.ClassDesc{exception}, handler)
}

// CatchingMulti adds one handler for several exception types.
func (c *CatchBuilder) CatchingMulti(exceptions []descriptor.ClassDesc, handler func(*CodeBuilder)) *CatchBuilder {
	if c.catchesAll {
		c.b.st.fail(errors.IllegalArgument(errors.PhaseBuild, "handler after a catch-all handler"))
		return c
	}
	var types []*ClassEntry
	for _, ex := range exceptions {
		if c.caught[ex.Descriptor()] {
			c.b.st.fail(errors.IllegalArgument(errors.PhaseBuild, "%s is already caught", ex))
			return c
		}
		c.caught[ex.Descriptor()] = true
		ce, err := c.b.st.pool.ClassDesc(ex)
		if err != nil {
			c.b.st.fail(err)
			return c
		}
		types = append(types, ce)
	}
	return c.handler(types, handler)
}

// CatchingAll adds a handler for every exception.
func (c *CatchBuilder) CatchingAll(handler func(*CodeBuilder)) *CatchBuilder {
	if c.catchesAll {
		c.b.st.fail(errors.IllegalArgument(errors.PhaseBuild, "duplicate catch-all handler"))
		return c
	}
	c.catchesAll = true
	return c.handler([]*ClassEntry{nil}, handler)
}

func (c *CatchBuilder) handler(types []*ClassEntry, handler func(*CodeBuilder)) *CatchBuilder {
	hb := c.b.block()
	for _, t := range types {
		c.b.With(ExceptionCatch{Start: c.tryStart, End: c.tryEnd, Handler: hb.scope.start, CatchType: t})
	}
	hb.LabelBinding(hb.scope.start)
	handler(hb)
	falls := hb.fallsOut()
	hb.LabelBinding(hb.scope.end)
	if falls {
		c.b.Goto(c.end)
	}
	return c
}

// Transforming runs handler with a builder whose elements pass through ct
// before reaching this builder.
func (b *CodeBuilder) Transforming(ct CodeTransform, handler func(*CodeBuilder)) *CodeBuilder {
	bound := ct.bind(b)
	if bound.start != nil {
		bound.start()
	}
	handler(b.chain(bound.accept))
	if bound.end != nil {
		bound.end()
	}
	return b
}

// ExceptionCatch adds an exception table row. A nil catchType catches
// everything.
func (b *CodeBuilder) ExceptionCatch(start, end, handler *Label, catchType *ClassEntry) *CodeBuilder {
	return b.With(ExceptionCatch{Start: start, End: end, Handler: handler, CatchType: catchType})
}

// LineNumber maps the next instruction to a source line.
func (b *CodeBuilder) LineNumber(line int) *CodeBuilder {
	return b.With(LineNumber{Line: line})
}

// LocalVariable describes a local for debuggers.
func (b *CodeBuilder) LocalVariable(slot int, name string, typ descriptor.ClassDesc, start, end *Label) *CodeBuilder {
	return b.With(LocalVariable{
		Slot:  slot,
		Name:  b.st.pool.Utf8(name),
		Type:  b.st.pool.Utf8(typ.Descriptor()),
		Start: start,
		End:   end,
	})
}

// Op emits an instruction without operands.
func (b *CodeBuilder) Op(op Opcode) *CodeBuilder {
	return b.With(Instruction{Op: op})
}

// LoadConstant pushes a constant using the shortest form: iconst, bipush
// and sipush for small ints, lconst, fconst and dconst where they exist,
// and ldc otherwise. nil pushes null.
func (b *CodeBuilder) LoadConstant(v any) *CodeBuilder {
	switch v := v.(type) {
	case nil:
		return b.Op(OpAconstNull)
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return b.loadInt(int32(v))
		}
	case int32:
		return b.loadInt(v)
	case int16:
		return b.loadInt(int32(v))
	case int8:
		return b.loadInt(int32(v))
	case uint16:
		return b.loadInt(int32(v))
	case bool:
		if v {
			return b.Op(OpIconst1)
		}
		return b.Op(OpIconst0)
	case int64:
		if v == 0 || v == 1 {
			return b.Op(OpLconst0 + Opcode(v))
		}
	case float32:
		if (v == 0 && !math.Signbit(float64(v))) || v == 1 || v == 2 {
			return b.Op(OpFconst0 + Opcode(v))
		}
	case float64:
		if (v == 0 && !math.Signbit(v)) || v == 1 {
			return b.Op(OpDconst0 + Opcode(v))
		}
	}
	e, err := b.st.pool.LoadableConstant(v)
	if err != nil {
		b.st.fail(err)
		return b
	}
	return b.Ldc(e)
}

func (b *CodeBuilder) loadInt(v int32) *CodeBuilder {
	switch {
	case v >= -1 && v <= 5:
		return b.Op(OpIconst0 + Opcode(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return b.With(Instruction{Op: OpBipush, Imm: ArgImm{Value: int(v)}})
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return b.With(Instruction{Op: OpSipush, Imm: ArgImm{Value: int(v)}})
	}
	return b.Ldc(b.st.pool.Integer(v))
}

// Ldc loads a pool constant. The writer picks ldc, ldc_w or ldc2_w.
func (b *CodeBuilder) Ldc(e LoadableEntry) *CodeBuilder {
	op := OpLdc
	if e.Tag() == TagLong || e.Tag() == TagDouble {
		op = OpLdc2W
	}
	return b.With(Instruction{Op: op, Imm: ConstImm{Entry: e}})
}

// LoadLocal loads a local of the given kind.
func (b *CodeBuilder) LoadLocal(kind descriptor.TypeKind, slot int) *CodeBuilder {
	return b.With(Instruction{Op: LoadOpcode(kind, slot), Imm: LocalImm{Slot: slot}})
}

// StoreLocal stores into a local of the given kind.
func (b *CodeBuilder) StoreLocal(kind descriptor.TypeKind, slot int) *CodeBuilder {
	return b.With(Instruction{Op: StoreOpcode(kind, slot), Imm: LocalImm{Slot: slot}})
}

// Return emits the return instruction for a kind; KindVoid gives return.
func (b *CodeBuilder) Return(kind descriptor.TypeKind) *CodeBuilder {
	return b.Op(ReturnOpcode(kind))
}

// Iinc increments an int local.
func (b *CodeBuilder) Iinc(slot, delta int) *CodeBuilder {
	return b.With(Instruction{Op: OpIinc, Imm: IncImm{Slot: slot, Delta: delta}})
}

// Branch emits a single-target jump.
func (b *CodeBuilder) Branch(op Opcode, target *Label) *CodeBuilder {
	if !op.IsBranch() {
		b.st.fail(errors.IllegalArgument(errors.PhaseBuild, "%s is not a branch", op))
		return b
	}
	return b.With(Instruction{Op: op, Imm: BranchImm{Target: target}})
}

// Goto emits an unconditional jump.
func (b *CodeBuilder) Goto(target *Label) *CodeBuilder { return b.Branch(OpGoto, target) }

// Jsr emits a subroutine call. Class files of version 51 and later cannot
// contain it.
func (b *CodeBuilder) Jsr(target *Label) *CodeBuilder { return b.Branch(OpJsr, target) }

// Ret returns from a subroutine whose return address is in slot.
func (b *CodeBuilder) Ret(slot int) *CodeBuilder {
	return b.With(Instruction{Op: OpRet, Imm: LocalImm{Slot: slot}})
}

// TableSwitch emits a tableswitch over low..high.
func (b *CodeBuilder) TableSwitch(low, high int32, dflt *Label, targets []*Label) *CodeBuilder {
	return b.With(Instruction{Op: OpTableswitch, Imm: TableSwitchImm{Low: low, High: high, Default: dflt, Targets: targets}})
}

// LookupSwitch emits a lookupswitch. Cases may be given in any order.
func (b *CodeBuilder) LookupSwitch(dflt *Label, cases []SwitchCase) *CodeBuilder {
	return b.With(Instruction{Op: OpLookupswitch, Imm: LookupSwitchImm{Default: dflt, Cases: cases}})
}

func (b *CodeBuilder) field(op Opcode, owner, name string, typ descriptor.ClassDesc) *CodeBuilder {
	return b.With(Instruction{Op: op, Imm: FieldImm{Ref: b.st.pool.FieldRef(owner, name, typ.Descriptor())}})
}

// GetField reads an instance field.
func (b *CodeBuilder) GetField(owner, name string, typ descriptor.ClassDesc) *CodeBuilder {
	return b.field(OpGetfield, owner, name, typ)
}

// PutField writes an instance field.
func (b *CodeBuilder) PutField(owner, name string, typ descriptor.ClassDesc) *CodeBuilder {
	return b.field(OpPutfield, owner, name, typ)
}

// GetStatic reads a static field.
func (b *CodeBuilder) GetStatic(owner, name string, typ descriptor.ClassDesc) *CodeBuilder {
	return b.field(OpGetstatic, owner, name, typ)
}

// PutStatic writes a static field.
func (b *CodeBuilder) PutStatic(owner, name string, typ descriptor.ClassDesc) *CodeBuilder {
	return b.field(OpPutstatic, owner, name, typ)
}

// Invoke emits an invoke instruction against a member reference.
func (b *CodeBuilder) Invoke(op Opcode, ref *MemberRefEntry) *CodeBuilder {
	return b.With(Instruction{Op: op, Imm: InvokeImm{Ref: ref}})
}

// InvokeVirtual calls an instance method of a class.
func (b *CodeBuilder) InvokeVirtual(owner, name string, typ descriptor.MethodTypeDesc) *CodeBuilder {
	return b.Invoke(OpInvokevirtual, b.st.pool.MethodRef(owner, name, typ.Descriptor()))
}

// InvokeSpecial calls a constructor, private or super method.
func (b *CodeBuilder) InvokeSpecial(owner, name string, typ descriptor.MethodTypeDesc) *CodeBuilder {
	return b.Invoke(OpInvokespecial, b.st.pool.MethodRef(owner, name, typ.Descriptor()))
}

// InvokeStatic calls a static method of a class.
func (b *CodeBuilder) InvokeStatic(owner, name string, typ descriptor.MethodTypeDesc) *CodeBuilder {
	return b.Invoke(OpInvokestatic, b.st.pool.MethodRef(owner, name, typ.Descriptor()))
}

// InvokeInterface calls an interface method.
func (b *CodeBuilder) InvokeInterface(owner, name string, typ descriptor.MethodTypeDesc) *CodeBuilder {
	return b.Invoke(OpInvokeinterface, b.st.pool.InterfaceMethodRef(owner, name, typ.Descriptor()))
}

// InvokeDynamic calls a dynamic call site.
func (b *CodeBuilder) InvokeDynamic(site *DynamicEntry) *CodeBuilder {
	return b.With(Instruction{Op: OpInvokedynamic, Imm: InvokeDynamicImm{Entry: site}})
}

func (b *CodeBuilder) typed(op Opcode, class string) *CodeBuilder {
	return b.With(Instruction{Op: op, Imm: TypeImm{Class: b.st.pool.Class(class)}})
}

// New allocates an uninitialized instance.
func (b *CodeBuilder) New(class string) *CodeBuilder { return b.typed(OpNew, class) }

// Checkcast casts the top of stack.
func (b *CodeBuilder) Checkcast(class string) *CodeBuilder { return b.typed(OpCheckcast, class) }

// Instanceof tests the top of stack.
func (b *CodeBuilder) Instanceof(class string) *CodeBuilder { return b.typed(OpInstanceof, class) }

// Anewarray allocates an array of references.
func (b *CodeBuilder) Anewarray(component string) *CodeBuilder { return b.typed(OpAnewarray, component) }

// Newarray allocates an array of primitives.
func (b *CodeBuilder) Newarray(kind descriptor.TypeKind) *CodeBuilder {
	return b.With(Instruction{Op: OpNewarray, Imm: NewArrayImm{Kind: kind}})
}

// Multianewarray allocates a multi-dimensional array.
func (b *CodeBuilder) Multianewarray(array descriptor.ClassDesc, dims int) *CodeBuilder {
	c, err := b.st.pool.ClassDesc(array)
	if err != nil {
		b.st.fail(err)
		return b
	}
	return b.With(Instruction{Op: OpMultianewarray, Imm: MultiArrayImm{Class: c, Dims: dims}})
}

// Athrow throws the top of stack.
func (b *CodeBuilder) Athrow() *CodeBuilder { return b.Op(OpAthrow) }

// Dup duplicates the top of stack.
func (b *CodeBuilder) Dup() *CodeBuilder { return b.Op(OpDup) }

// Pop discards the top of stack.
func (b *CodeBuilder) Pop() *CodeBuilder { return b.Op(OpPop) }

// Nop emits nop.
func (b *CodeBuilder) Nop() *CodeBuilder { return b.Op(OpNop) }
