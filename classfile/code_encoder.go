package classfile

import (
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/jclassfile/classfile/internal/binary"
	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

const maxCodeLength = 0xFFFF

// branchFixup is a branch offset written before its target was known.
type branchFixup struct {
	elem   int
	at     int
	base   int
	wide   bool
	target *Label
}

// codeEncoder turns code elements into bytecode against an output pool.
// Elements are kept so the body can be re-encoded when short branches have
// to be inflated.
type codeEncoder struct {
	pool *PoolBuilder
	opts Options

	elems   []CodeElement
	inflate map[int]bool

	w       *binary.Writer
	labels  map[*Label]int
	fixups  []branchFixup
	starts  []int
	catches []ExceptionCatch
	lines   []lineRow
	debug   []CodeElement
	attrs   []Attribute
	jsr     bool
	err     error
}

func newCodeEncoder(pool *PoolBuilder, opts Options) *codeEncoder {
	e := &codeEncoder{pool: pool, opts: opts, inflate: make(map[int]bool)}
	e.reset()
	return e
}

func (e *codeEncoder) reset() {
	e.w = binary.NewWriter()
	e.labels = make(map[*Label]int)
	e.fixups = e.fixups[:0]
	e.starts = e.starts[:0]
	e.catches = e.catches[:0]
	e.lines = e.lines[:0]
	e.debug = e.debug[:0]
	e.attrs = e.attrs[:0]
	e.jsr = false
	e.err = nil
}

func (e *codeEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *codeEncoder) pc() int { return e.w.Len() }

// labelPosition returns the bci of a bound label.
func (e *codeEncoder) labelPosition(l *Label) (int, bool) {
	pc, ok := e.labels[l]
	return pc, ok
}

// add records and encodes one element.
func (e *codeEncoder) add(el CodeElement) {
	e.elems = append(e.elems, el)
	e.encode(len(e.elems)-1, el)
}

func (e *codeEncoder) encode(idx int, el CodeElement) {
	if e.err != nil {
		return
	}
	switch el := el.(type) {
	case Instruction:
		e.instruction(idx, el)
	case LabelTarget:
		if _, bound := e.labels[el.Label]; bound {
			e.fail(errors.IllegalArgument(errors.PhaseBuild, "label %s bound twice", el.Label))
			return
		}
		e.labels[el.Label] = e.pc()
	case ExceptionCatch:
		e.catches = append(e.catches, el)
	case LineNumber:
		e.lines = append(e.lines, lineRow{pc: e.pc(), line: el.Line})
	case LocalVariable, LocalVariableType, CharacterRange:
		e.debug = append(e.debug, el)
	case StackMapTableAttribute:
		// Frames are regenerated when the body is written.
	case Attribute:
		e.attrs = append(e.attrs, el)
	default:
		e.fail(errors.IllegalArgument(errors.PhaseBuild, "unexpected code element %T", el))
	}
}

func (e *codeEncoder) operandError(ins Instruction) {
	e.fail(errors.IllegalArgument(errors.PhaseBuild, "%s: unexpected operand %T", ins.Op, ins.Imm))
}

func (e *codeEncoder) instruction(idx int, ins Instruction) {
	op := ins.Op
	if !op.Valid() || op == OpWide {
		e.fail(errors.IllegalArgument(errors.PhaseBuild, "invalid opcode 0x%02x", uint8(op)))
		return
	}
	bci := e.pc()
	e.starts = append(e.starts, bci)
	w := e.w

	switch opFormats[op] {
	case fmtNone:
		w.U1(uint8(op))

	case fmtImplicitLocal:
		slot, _ := op.implicitSlot()
		if imm, ok := ins.Imm.(LocalImm); ok && imm.Slot != slot {
			e.fail(errors.IllegalArgument(errors.PhaseBuild, "%s cannot address slot %d", op, imm.Slot))
			return
		}
		w.U1(uint8(op))

	case fmtLocal:
		imm, ok := ins.Imm.(LocalImm)
		if !ok {
			e.operandError(ins)
			return
		}
		if op == OpRet {
			e.jsr = true
		}
		switch {
		case imm.Slot < 0 || imm.Slot > 0xFFFF:
			e.fail(errors.IllegalArgument(errors.PhaseBuild, "%s: local slot %d out of range", op, imm.Slot))
		case imm.Slot > 0xFF:
			w.U1(uint8(OpWide))
			w.U1(uint8(op))
			w.U2(uint16(imm.Slot))
		default:
			w.U1(uint8(op))
			w.U1(uint8(imm.Slot))
		}

	case fmtIinc:
		imm, ok := ins.Imm.(IncImm)
		if !ok {
			e.operandError(ins)
			return
		}
		switch {
		case imm.Slot < 0 || imm.Slot > 0xFFFF || imm.Delta < -32768 || imm.Delta > 32767:
			e.fail(errors.IllegalArgument(errors.PhaseBuild, "iinc %d %d out of range", imm.Slot, imm.Delta))
		case imm.Slot > 0xFF || imm.Delta < -128 || imm.Delta > 127:
			w.U1(uint8(OpWide))
			w.U1(uint8(OpIinc))
			w.U2(uint16(imm.Slot))
			w.S2(int16(imm.Delta))
		default:
			w.U1(uint8(OpIinc))
			w.U1(uint8(imm.Slot))
			w.U1(uint8(int8(imm.Delta)))
		}

	case fmtByte, fmtShort:
		imm, ok := ins.Imm.(ArgImm)
		if !ok {
			e.operandError(ins)
			return
		}
		if op == OpBipush {
			if imm.Value < -128 || imm.Value > 127 {
				e.fail(errors.IllegalArgument(errors.PhaseBuild, "bipush operand %d out of range", imm.Value))
				return
			}
			w.U1(uint8(op))
			w.U1(uint8(int8(imm.Value)))
			return
		}
		if imm.Value < -32768 || imm.Value > 32767 {
			e.fail(errors.IllegalArgument(errors.PhaseBuild, "sipush operand %d out of range", imm.Value))
			return
		}
		w.U1(uint8(op))
		w.S2(int16(imm.Value))

	case fmtLdc, fmtLdcW:
		imm, ok := ins.Imm.(ConstImm)
		if !ok || imm.Entry == nil {
			e.operandError(ins)
			return
		}
		entry := e.pool.adoptLoadable(imm.Entry)
		idx := entry.Index()
		switch {
		case entry.Tag() == TagLong || entry.Tag() == TagDouble:
			w.U1(uint8(OpLdc2W))
			w.U2(uint16(idx))
		case op == OpLdc2W:
			e.fail(errors.IllegalArgument(errors.PhaseBuild, "ldc2_w cannot load a %s constant", entry.Tag()))
		case op == OpLdc && idx <= 0xFF:
			w.U1(uint8(OpLdc))
			w.U1(uint8(idx))
		default:
			if op == OpLdc {
				Logger().Debug("widening ldc", zap.Int("index", idx), zap.Int("bci", bci))
			}
			w.U1(uint8(OpLdcW))
			w.U2(uint16(idx))
		}

	case fmtBranch, fmtBranchW:
		imm, ok := ins.Imm.(BranchImm)
		if !ok || imm.Target == nil {
			e.operandError(ins)
			return
		}
		if op == OpJsr || op == OpJsrW {
			e.jsr = true
		}
		e.branch(idx, op, imm.Target)

	case fmtField:
		imm, ok := ins.Imm.(FieldImm)
		if !ok || imm.Ref == nil {
			e.operandError(ins)
			return
		}
		if imm.Ref.tag != TagFieldref {
			e.fail(errors.IllegalArgument(errors.PhaseBuild, "%s requires a field reference", op))
			return
		}
		w.U1(uint8(op))
		w.U2(uint16(e.pool.adoptMemberRef(imm.Ref).Index()))

	case fmtInvoke, fmtInvokeInterface:
		imm, ok := ins.Imm.(InvokeImm)
		if !ok || imm.Ref == nil {
			e.operandError(ins)
			return
		}
		if imm.Ref.tag == TagFieldref || (op == OpInvokeinterface && imm.Ref.tag != TagInterfaceMethodref) {
			e.fail(errors.IllegalArgument(errors.PhaseBuild, "%s cannot reference a %s", op, imm.Ref.tag))
			return
		}
		w.U1(uint8(op))
		w.U2(uint16(e.pool.adoptMemberRef(imm.Ref).Index()))
		if op == OpInvokeinterface {
			count := imm.Count
			if count == 0 {
				mt, err := descriptor.ParseMethod(imm.Ref.Type())
				if err != nil {
					e.fail(errors.Wrap(errors.PhaseBuild, errors.KindIllegalArgument, err, "invokeinterface descriptor"))
					return
				}
				count = 1 + mt.ParameterSlots()
			}
			w.U1(uint8(count))
			w.U1(0)
		}

	case fmtInvokeDynamic:
		imm, ok := ins.Imm.(InvokeDynamicImm)
		if !ok || imm.Entry == nil || imm.Entry.tag != TagInvokeDynamic {
			e.operandError(ins)
			return
		}
		w.U1(uint8(op))
		w.U2(uint16(e.pool.Adopt(imm.Entry).Index()))
		w.U2(0)

	case fmtType:
		imm, ok := ins.Imm.(TypeImm)
		if !ok || imm.Class == nil {
			e.operandError(ins)
			return
		}
		w.U1(uint8(op))
		w.U2(uint16(e.pool.adoptClass(imm.Class).Index()))

	case fmtNewArray:
		imm, ok := ins.Imm.(NewArrayImm)
		if !ok {
			e.operandError(ins)
			return
		}
		code, ok := imm.Kind.NewArrayCode()
		if !ok {
			e.fail(errors.IllegalArgument(errors.PhaseBuild, "newarray of %s", imm.Kind))
			return
		}
		w.U1(uint8(op))
		w.U1(uint8(code))

	case fmtMultiArray:
		imm, ok := ins.Imm.(MultiArrayImm)
		if !ok || imm.Class == nil {
			e.operandError(ins)
			return
		}
		if imm.Dims < 1 || imm.Dims > 255 {
			e.fail(errors.IllegalArgument(errors.PhaseBuild, "multianewarray dimensions %d out of range", imm.Dims))
			return
		}
		w.U1(uint8(op))
		w.U2(uint16(e.pool.adoptClass(imm.Class).Index()))
		w.U1(uint8(imm.Dims))

	case fmtTableSwitch:
		imm, ok := ins.Imm.(TableSwitchImm)
		if !ok || imm.Default == nil {
			e.operandError(ins)
			return
		}
		if imm.High < imm.Low || int64(imm.High)-int64(imm.Low)+1 != int64(len(imm.Targets)) {
			e.fail(errors.IllegalArgument(errors.PhaseBuild,
				"tableswitch %d..%d has %d targets", imm.Low, imm.High, len(imm.Targets)))
			return
		}
		w.U1(uint8(op))
		e.padSwitch()
		e.wideRef(idx, bci, imm.Default)
		w.S4(imm.Low)
		w.S4(imm.High)
		for _, t := range imm.Targets {
			e.wideRef(idx, bci, t)
		}

	case fmtLookupSwitch:
		imm, ok := ins.Imm.(LookupSwitchImm)
		if !ok || imm.Default == nil {
			e.operandError(ins)
			return
		}
		cases := append([]SwitchCase(nil), imm.Cases...)
		sort.Slice(cases, func(i, j int) bool { return cases[i].Key < cases[j].Key })
		for i := 1; i < len(cases); i++ {
			if cases[i].Key == cases[i-1].Key {
				e.fail(errors.IllegalArgument(errors.PhaseBuild, "lookupswitch has duplicate key %d", cases[i].Key))
				return
			}
		}
		w.U1(uint8(op))
		e.padSwitch()
		e.wideRef(idx, bci, imm.Default)
		w.S4(int32(len(cases)))
		for _, c := range cases {
			w.S4(c.Key)
			e.wideRef(idx, bci, c.Target)
		}

	default:
		e.fail(errors.IllegalArgument(errors.PhaseBuild, "invalid opcode %s", op))
	}
}

func (e *codeEncoder) padSwitch() {
	for e.pc()%4 != 0 {
		e.w.U1(0)
	}
}

func (e *codeEncoder) wideRef(idx, base int, target *Label) {
	e.fixups = append(e.fixups, branchFixup{elem: idx, at: e.pc(), base: base, wide: true, target: target})
	e.w.S4(0)
}

// branch writes a single-target jump, using the inflated form when an
// earlier pass found the 16-bit offset out of range.
func (e *codeEncoder) branch(idx int, op Opcode, target *Label) {
	w := e.w
	if !e.inflate[idx] || op == OpGotoW || op == OpJsrW {
		bci := e.pc()
		w.U1(uint8(op))
		if op == OpGotoW || op == OpJsrW {
			e.wideRef(idx, bci, target)
			return
		}
		e.fixups = append(e.fixups, branchFixup{elem: idx, at: e.pc(), base: bci, target: target})
		w.S2(0)
		return
	}
	switch op {
	case OpGoto:
		bci := e.pc()
		w.U1(uint8(OpGotoW))
		e.wideRef(idx, bci, target)
	case OpJsr:
		bci := e.pc()
		w.U1(uint8(OpJsrW))
		e.wideRef(idx, bci, target)
	default:
		inv, _ := op.Invert()
		w.U1(uint8(inv))
		w.S2(8)
		bci := e.pc()
		w.U1(uint8(OpGotoW))
		e.wideRef(idx, bci, target)
	}
}

// finish resolves branch offsets and the label-based tables.
func (e *codeEncoder) finish() (*encodedCode, error) {
	for {
		if e.err != nil {
			return nil, e.err
		}
		retry, err := e.patch()
		if err != nil {
			return nil, err
		}
		if !retry {
			break
		}
		Logger().Debug("inflating short branches", zap.Int("count", len(e.inflate)))
		e.reset()
		for i, el := range e.elems {
			e.encode(i, el)
		}
	}
	code := e.w.Bytes()
	if len(code) == 0 {
		return nil, errors.IllegalArgument(errors.PhaseBuild, "code is empty")
	}
	if len(code) > maxCodeLength {
		return nil, errors.IllegalArgument(errors.PhaseBuild, "code length %d exceeds %d", len(code), maxCodeLength)
	}
	enc := &encodedCode{code: code, lines: e.lines, subroutines: e.jsr}
	if err := e.resolveTables(enc); err != nil {
		return nil, err
	}
	enc.attrs = builtAttributes(append([]Attribute(nil), e.attrs...))
	return enc, nil
}

// patch fills branch offsets. It reports whether a short branch has to be
// inflated and the body re-encoded.
func (e *codeEncoder) patch() (bool, error) {
	retry := false
	for _, f := range e.fixups {
		pos, ok := e.labels[f.target]
		if !ok {
			return false, errors.IllegalArgument(errors.PhaseBuild, "branch to unbound label %s", f.target)
		}
		off := pos - f.base
		if f.wide {
			e.w.PatchU4(f.at, uint32(int32(off)))
			continue
		}
		if off < -32768 || off > 32767 {
			if e.opts.ShortJumps == ShortJumpsFail {
				return false, errors.IllegalArgument(errors.PhaseBuild,
					"branch offset %d at bci %d does not fit in 16 bits", off, f.base)
			}
			e.inflate[f.elem] = true
			retry = true
			continue
		}
		e.w.PatchU2(f.at, uint16(int16(off)))
	}
	return retry, nil
}

// dead applies the dead label policy to one table entry. It returns true
// when the entry should be dropped.
func (e *codeEncoder) dead(what string, labels ...*Label) (bool, error) {
	for _, l := range labels {
		if _, ok := e.labels[l]; !ok {
			if e.opts.DeadLabels == DeadLabelsFail {
				return false, errors.IllegalArgument(errors.PhaseBuild, "%s refers to unbound label %s", what, l)
			}
			Logger().Debug("dropping entry with unbound label", zap.String("entry", what), zap.Stringer("label", l))
			return true, nil
		}
	}
	return false, nil
}

func (e *codeEncoder) resolveTables(enc *encodedCode) error {
	codeLen := len(enc.code)
	for _, c := range e.catches {
		drop, err := e.dead("exception handler", c.Start, c.End, c.Handler)
		if err != nil {
			return err
		}
		if drop {
			continue
		}
		start, end, handler := e.labels[c.Start], e.labels[c.End], e.labels[c.Handler]
		if start > end {
			return errors.IllegalArgument(errors.PhaseBuild, "exception range %d..%d is inverted", start, end)
		}
		if start == end {
			continue
		}
		if handler >= codeLen {
			return errors.IllegalArgument(errors.PhaseBuild, "exception handler at end of code")
		}
		enc.handlers = append(enc.handlers, handlerRow{
			start: start, end: end, handler: handler,
			catchType: e.pool.adoptClass(c.CatchType),
		})
	}
	for _, d := range e.debug {
		switch d := d.(type) {
		case LocalVariable:
			drop, err := e.dead("local variable "+d.Name.value, d.Start, d.End)
			if err != nil {
				return err
			}
			if !drop {
				start := e.labels[d.Start]
				enc.locals = append(enc.locals, localRow{
					start: start, length: e.labels[d.End] - start, slot: d.Slot,
					name: e.pool.adoptUtf8(d.Name), desc: e.pool.adoptUtf8(d.Type),
				})
			}
		case LocalVariableType:
			drop, err := e.dead("local variable type "+d.Name.value, d.Start, d.End)
			if err != nil {
				return err
			}
			if !drop {
				start := e.labels[d.Start]
				enc.locals = append(enc.locals, localRow{
					start: start, length: e.labels[d.End] - start, slot: d.Slot,
					name: e.pool.adoptUtf8(d.Name), desc: e.pool.adoptUtf8(d.Signature),
					generic: true,
				})
			}
		case CharacterRange:
			drop, err := e.dead("character range", d.Start, d.End)
			if err != nil {
				return err
			}
			if drop {
				continue
			}
			start, end := e.labels[d.Start], e.labels[d.End]
			last := e.lastStartBefore(end)
			if last < start {
				continue
			}
			enc.charRanges = append(enc.charRanges, charRangeRow{
				start: start, end: last,
				charStart: d.CharStart, charEnd: d.CharEnd, flags: d.Flags,
			})
		}
	}
	return nil
}

// lastStartBefore returns the bci of the last instruction starting before pc.
func (e *codeEncoder) lastStartBefore(pc int) int {
	i := sort.SearchInts(e.starts, pc)
	if i == 0 {
		return -1
	}
	return e.starts[i-1]
}

// encodeElements encodes a complete element list.
func encodeElements(elems []CodeElement, pool *PoolBuilder, opts Options) (*encodedCode, error) {
	e := newCodeEncoder(pool, opts)
	for _, el := range elems {
		e.add(el)
	}
	return e.finish()
}
