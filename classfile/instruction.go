package classfile

import (
	"fmt"
	"strings"

	"github.com/wippyai/jclassfile/classfile/internal/binary"
	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

// Instruction is a decoded instruction. Imm holds the operands; its type is
// determined by the opcode and is nil for instructions without operands.
type Instruction struct {
	Op  Opcode
	Imm any
}

func (Instruction) isCodeElement() {}

func (i Instruction) String() string {
	if i.Imm == nil {
		return i.Op.String()
	}
	return fmt.Sprintf("%s %v", i.Op, i.Imm)
}

// LocalImm is the slot of a load, store or ret. The compact _0.._3 forms
// carry it too.
type LocalImm struct {
	Slot int
}

// IncImm is the operand of iinc.
type IncImm struct {
	Slot  int
	Delta int
}

// ArgImm is the operand of bipush and sipush.
type ArgImm struct {
	Value int
}

// NewArrayImm is the element kind of newarray.
type NewArrayImm struct {
	Kind descriptor.TypeKind
}

// ConstImm is the entry of ldc, ldc_w and ldc2_w.
type ConstImm struct {
	Entry LoadableEntry
}

// BranchImm is the target of a jump.
type BranchImm struct {
	Target *Label
}

// FieldImm is the field of a get or put.
type FieldImm struct {
	Ref *MemberRefEntry
}

// InvokeImm is the method of an invoke. Count is the invokeinterface
// argument count; zero means derive it from the descriptor.
type InvokeImm struct {
	Ref   *MemberRefEntry
	Count int
}

// InvokeDynamicImm is the call site of invokedynamic.
type InvokeDynamicImm struct {
	Entry *DynamicEntry
}

// TypeImm is the class of new, anewarray, checkcast and instanceof.
type TypeImm struct {
	Class *ClassEntry
}

// MultiArrayImm is the operand of multianewarray.
type MultiArrayImm struct {
	Class *ClassEntry
	Dims  int
}

// TableSwitchImm is the operand of tableswitch.
type TableSwitchImm struct {
	Low, High int32
	Default   *Label
	Targets   []*Label
}

// SwitchCase is one lookupswitch pair.
type SwitchCase struct {
	Key    int32
	Target *Label
}

// LookupSwitchImm is the operand of lookupswitch.
type LookupSwitchImm struct {
	Default *Label
	Cases   []SwitchCase
}

func (s LookupSwitchImm) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for _, c := range s.Cases {
		fmt.Fprintf(&sb, "%d: %s, ", c.Key, c.Target)
	}
	fmt.Fprintf(&sb, "default: %s}", s.Default)
	return sb.String()
}

type opFormat uint8

const (
	fmtNone opFormat = iota
	fmtLocal
	fmtImplicitLocal
	fmtByte
	fmtShort
	fmtLdc
	fmtLdcW
	fmtIinc
	fmtBranch
	fmtBranchW
	fmtField
	fmtInvoke
	fmtInvokeInterface
	fmtInvokeDynamic
	fmtType
	fmtNewArray
	fmtMultiArray
	fmtTableSwitch
	fmtLookupSwitch
	fmtWide
	fmtInvalid
)

// fixedSize is the encoded length of each format, zero for variable ones.
var fixedSize = [...]int{
	fmtNone: 1, fmtLocal: 2, fmtImplicitLocal: 1, fmtByte: 2, fmtShort: 3,
	fmtLdc: 2, fmtLdcW: 3, fmtIinc: 3, fmtBranch: 3, fmtBranchW: 5,
	fmtField: 3, fmtInvoke: 3, fmtInvokeInterface: 5, fmtInvokeDynamic: 5,
	fmtType: 3, fmtNewArray: 2, fmtMultiArray: 4,
}

var opFormats = func() (t [256]opFormat) {
	for i := range t {
		t[i] = fmtInvalid
	}
	set := func(f opFormat, ops ...Opcode) {
		for _, op := range ops {
			t[op] = f
		}
	}
	span := func(f opFormat, from, to Opcode) {
		for op := from; op <= to; op++ {
			t[op] = f
		}
	}
	span(fmtNone, OpNop, OpDconst1)
	set(fmtByte, OpBipush)
	set(fmtShort, OpSipush)
	set(fmtLdc, OpLdc)
	set(fmtLdcW, OpLdcW, OpLdc2W)
	span(fmtLocal, OpIload, OpAload)
	span(fmtImplicitLocal, OpIload0, OpAload3)
	span(fmtNone, OpIaload, OpSaload)
	span(fmtLocal, OpIstore, OpAstore)
	span(fmtImplicitLocal, OpIstore0, OpAstore3)
	span(fmtNone, OpIastore, OpLxor)
	set(fmtIinc, OpIinc)
	span(fmtNone, OpI2l, OpDcmpg)
	span(fmtBranch, OpIfeq, OpJsr)
	set(fmtLocal, OpRet)
	set(fmtTableSwitch, OpTableswitch)
	set(fmtLookupSwitch, OpLookupswitch)
	span(fmtNone, OpIreturn, OpReturn)
	span(fmtField, OpGetstatic, OpPutfield)
	span(fmtInvoke, OpInvokevirtual, OpInvokestatic)
	set(fmtInvokeInterface, OpInvokeinterface)
	set(fmtInvokeDynamic, OpInvokedynamic)
	set(fmtType, OpNew, OpAnewarray, OpCheckcast, OpInstanceof)
	set(fmtNewArray, OpNewarray)
	set(fmtNone, OpArraylength, OpAthrow, OpMonitorenter, OpMonitorexit)
	set(fmtWide, OpWide)
	set(fmtMultiArray, OpMultianewarray)
	set(fmtBranch, OpIfnull, OpIfnonnull)
	set(fmtBranchW, OpGotoW, OpJsrW)
	return t
}()

// instructionLength returns the encoded size of the instruction at bci.
func instructionLength(code []byte, bci int) (int, error) {
	op := Opcode(code[bci])
	f := opFormats[op]
	switch f {
	case fmtInvalid:
		return 0, errors.Malformed(bci, "invalid opcode 0x%02x at bci %d", uint8(op), bci)
	case fmtTableSwitch:
		p := (bci + 4) &^ 3
		if p+12 > len(code) {
			return 0, errors.Malformed(bci, "truncated tableswitch at bci %d", bci)
		}
		r := binary.NewReader(code)
		lo, hi := int64(r.S4At(p+4)), int64(r.S4At(p+8))
		if hi < lo || hi-lo >= 0x10000 {
			return 0, errors.Malformed(bci, "invalid tableswitch bounds %d..%d", lo, hi)
		}
		return p + 12 + int(hi-lo+1)*4 - bci, nil
	case fmtLookupSwitch:
		p := (bci + 4) &^ 3
		if p+8 > len(code) {
			return 0, errors.Malformed(bci, "truncated lookupswitch at bci %d", bci)
		}
		n := int(binary.NewReader(code).S4At(p + 4))
		if n < 0 || n >= 0x10000 {
			return 0, errors.Malformed(bci, "invalid lookupswitch pair count %d", n)
		}
		return p + 8 + n*8 - bci, nil
	case fmtWide:
		if bci+1 >= len(code) {
			return 0, errors.Malformed(bci, "truncated wide at bci %d", bci)
		}
		if Opcode(code[bci+1]) == OpIinc {
			return 6, nil
		}
		return 4, nil
	}
	return fixedSize[f], nil
}

// instructionDecoder turns bytecode into Instructions. labelAt supplies the
// label for a bci; the caller decides whether labels are created on demand.
type instructionDecoder struct {
	code    []byte
	pool    poolView
	labelAt func(bci int) *Label
}

func (d *instructionDecoder) target(bci, off, at int) (*Label, error) {
	t := bci + off
	if t < 0 || t >= len(d.code) {
		return nil, errors.Malformed(at, "branch target %d out of code bounds at bci %d", t, bci)
	}
	return d.labelAt(t), nil
}

// decode returns the instruction at bci and its length.
func (d *instructionDecoder) decode(bci int) (Instruction, int, error) {
	n, err := instructionLength(d.code, bci)
	if err != nil {
		return Instruction{}, 0, err
	}
	if bci+n > len(d.code) {
		return Instruction{}, 0, errors.Malformed(bci, "instruction at bci %d overruns code", bci)
	}
	r := binary.NewReader(d.code)
	op := Opcode(d.code[bci])
	u2 := func(off int) int { return int(r.U2At(bci + off)) }
	ins := Instruction{Op: op}
	switch opFormats[op] {
	case fmtLocal:
		ins.Imm = LocalImm{Slot: int(d.code[bci+1])}
	case fmtImplicitLocal:
		slot, _ := op.implicitSlot()
		ins.Imm = LocalImm{Slot: slot}
	case fmtByte:
		ins.Imm = ArgImm{Value: int(int8(d.code[bci+1]))}
	case fmtShort:
		ins.Imm = ArgImm{Value: int(r.S2At(bci + 1))}
	case fmtLdc, fmtLdcW:
		idx := int(d.code[bci+1])
		if op != OpLdc {
			idx = u2(1)
		}
		e, err := lookup[LoadableEntry](d.pool, idx, bci)
		if err != nil {
			return ins, 0, err
		}
		wide := e.Tag() == TagLong || e.Tag() == TagDouble
		if wide != (op == OpLdc2W) {
			return ins, 0, errors.Malformed(bci, "%s cannot load a %s constant", op, e.Tag())
		}
		ins.Imm = ConstImm{Entry: e}
	case fmtIinc:
		ins.Imm = IncImm{Slot: int(d.code[bci+1]), Delta: int(int8(d.code[bci+2]))}
	case fmtBranch:
		l, err := d.target(bci, int(r.S2At(bci+1)), bci)
		if err != nil {
			return ins, 0, err
		}
		ins.Imm = BranchImm{Target: l}
	case fmtBranchW:
		l, err := d.target(bci, int(r.S4At(bci+1)), bci)
		if err != nil {
			return ins, 0, err
		}
		ins.Imm = BranchImm{Target: l}
	case fmtField:
		ref, err := lookup[*MemberRefEntry](d.pool, u2(1), bci)
		if err != nil {
			return ins, 0, err
		}
		if ref.tag != TagFieldref {
			return ins, 0, errors.Malformed(bci, "%s requires a Fieldref, found %s", op, ref.tag)
		}
		ins.Imm = FieldImm{Ref: ref}
	case fmtInvoke, fmtInvokeInterface:
		ref, err := lookup[*MemberRefEntry](d.pool, u2(1), bci)
		if err != nil {
			return ins, 0, err
		}
		if ref.tag == TagFieldref || (op == OpInvokeinterface && ref.tag != TagInterfaceMethodref) {
			return ins, 0, errors.Malformed(bci, "%s cannot reference a %s", op, ref.tag)
		}
		imm := InvokeImm{Ref: ref}
		if op == OpInvokeinterface {
			imm.Count = int(d.code[bci+3])
		}
		ins.Imm = imm
	case fmtInvokeDynamic:
		e, err := lookup[*DynamicEntry](d.pool, u2(1), bci)
		if err != nil {
			return ins, 0, err
		}
		if e.tag != TagInvokeDynamic {
			return ins, 0, errors.Malformed(bci, "invokedynamic requires an InvokeDynamic entry")
		}
		ins.Imm = InvokeDynamicImm{Entry: e}
	case fmtType:
		c, err := lookup[*ClassEntry](d.pool, u2(1), bci)
		if err != nil {
			return ins, 0, err
		}
		ins.Imm = TypeImm{Class: c}
	case fmtNewArray:
		k, ok := descriptor.KindFromNewArrayCode(int(d.code[bci+1]))
		if !ok {
			return ins, 0, errors.Malformed(bci, "invalid newarray type %d", d.code[bci+1])
		}
		ins.Imm = NewArrayImm{Kind: k}
	case fmtMultiArray:
		c, err := lookup[*ClassEntry](d.pool, u2(1), bci)
		if err != nil {
			return ins, 0, err
		}
		ins.Imm = MultiArrayImm{Class: c, Dims: int(d.code[bci+3])}
	case fmtTableSwitch:
		p := (bci + 4) &^ 3
		imm := TableSwitchImm{Low: r.S4At(p + 4), High: r.S4At(p + 8)}
		if imm.Default, err = d.target(bci, int(r.S4At(p)), bci); err != nil {
			return ins, 0, err
		}
		count := int(imm.High) - int(imm.Low) + 1
		imm.Targets = make([]*Label, count)
		for i := range imm.Targets {
			if imm.Targets[i], err = d.target(bci, int(r.S4At(p+12+4*i)), bci); err != nil {
				return ins, 0, err
			}
		}
		ins.Imm = imm
	case fmtLookupSwitch:
		p := (bci + 4) &^ 3
		var imm LookupSwitchImm
		if imm.Default, err = d.target(bci, int(r.S4At(p)), bci); err != nil {
			return ins, 0, err
		}
		imm.Cases = make([]SwitchCase, r.S4At(p+4))
		for i := range imm.Cases {
			at := p + 8 + 8*i
			imm.Cases[i].Key = r.S4At(at)
			if imm.Cases[i].Target, err = d.target(bci, int(r.S4At(at+4)), bci); err != nil {
				return ins, 0, err
			}
		}
		ins.Imm = imm
	case fmtWide:
		inner := Opcode(d.code[bci+1])
		switch {
		case inner == OpIinc:
			ins = Instruction{Op: OpIinc, Imm: IncImm{Slot: u2(2), Delta: int(r.S2At(bci + 4))}}
		case opFormats[inner] == fmtLocal:
			ins = Instruction{Op: inner, Imm: LocalImm{Slot: u2(2)}}
		default:
			return ins, 0, errors.Malformed(bci, "wide cannot modify %s", inner)
		}
	}
	return ins, n, nil
}
