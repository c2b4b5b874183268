package classfile

import (
	"github.com/wippyai/jclassfile/classfile/internal/bitset"
	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

// stackEffect returns the operand stack slots an instruction pops and
// pushes. Constant pool operands determine the effect of field access,
// invocations and ldc.
func stackEffect(ins Instruction) (pop, push int, err error) {
	op := ins.Op
	switch {
	case op == OpNop, op == OpIinc, op == OpGoto, op == OpGotoW, op == OpRet, op == OpReturn:
		return 0, 0, nil
	case op == OpAconstNull, op >= OpIconstM1 && op <= OpIconst5, op == OpFconst0, op == OpFconst1,
		op == OpFconst2, op == OpBipush, op == OpSipush:
		return 0, 1, nil
	case op == OpLconst0, op == OpLconst1, op == OpDconst0, op == OpDconst1, op == OpLdc2W:
		return 0, 2, nil
	case op == OpLdc, op == OpLdcW:
		imm, ok := ins.Imm.(ConstImm)
		if !ok {
			return 0, 0, operandErr(ins)
		}
		return 0, imm.Entry.Kind().SlotSize(), nil
	case op.IsLoad():
		return 0, op.localKind().SlotSize(), nil
	case op.IsStore():
		return op.localKind().SlotSize(), 0, nil
	case op == OpLaload, op == OpDaload:
		return 2, 2, nil
	case op >= OpIaload && op <= OpSaload:
		return 2, 1, nil
	case op == OpLastore, op == OpDastore:
		return 4, 0, nil
	case op >= OpIastore && op <= OpSastore:
		return 3, 0, nil
	}

	switch op {
	case OpPop:
		return 1, 0, nil
	case OpPop2:
		return 2, 0, nil
	case OpDup:
		return 1, 2, nil
	case OpDupX1:
		return 2, 3, nil
	case OpDupX2:
		return 3, 4, nil
	case OpDup2:
		return 2, 4, nil
	case OpDup2X1:
		return 3, 5, nil
	case OpDup2X2:
		return 4, 6, nil
	case OpSwap:
		return 2, 2, nil

	case OpIadd, OpIsub, OpImul, OpIdiv, OpIrem, OpIshl, OpIshr, OpIushr, OpIand, OpIor, OpIxor,
		OpFadd, OpFsub, OpFmul, OpFdiv, OpFrem, OpFcmpl, OpFcmpg:
		return 2, 1, nil
	case OpLadd, OpLsub, OpLmul, OpLdiv, OpLrem, OpLand, OpLor, OpLxor,
		OpDadd, OpDsub, OpDmul, OpDdiv, OpDrem:
		return 4, 2, nil
	case OpLshl, OpLshr, OpLushr:
		return 3, 2, nil
	case OpIneg, OpFneg, OpI2f, OpF2i, OpI2b, OpI2c, OpI2s:
		return 1, 1, nil
	case OpLneg, OpDneg, OpL2d, OpD2l:
		return 2, 2, nil
	case OpI2l, OpI2d, OpF2l, OpF2d:
		return 1, 2, nil
	case OpL2i, OpL2f, OpD2i, OpD2f:
		return 2, 1, nil
	case OpLcmp, OpDcmpl, OpDcmpg:
		return 4, 1, nil

	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle, OpIfnull, OpIfnonnull,
		OpTableswitch, OpLookupswitch, OpIreturn, OpFreturn, OpAreturn, OpAthrow,
		OpMonitorenter, OpMonitorexit:
		return 1, 0, nil
	case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple, OpIfAcmpeq, OpIfAcmpne,
		OpLreturn, OpDreturn:
		return 2, 0, nil
	case OpJsr, OpJsrW, OpNew:
		return 0, 1, nil
	case OpNewarray, OpAnewarray, OpArraylength, OpCheckcast, OpInstanceof:
		return 1, 1, nil
	case OpMultianewarray:
		imm, ok := ins.Imm.(MultiArrayImm)
		if !ok {
			return 0, 0, operandErr(ins)
		}
		return imm.Dims, 1, nil

	case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield:
		imm, ok := ins.Imm.(FieldImm)
		if !ok {
			return 0, 0, operandErr(ins)
		}
		size := descriptor.ClassDesc(imm.Ref.Type()).Kind().SlotSize()
		switch op {
		case OpGetstatic:
			return 0, size, nil
		case OpPutstatic:
			return size, 0, nil
		case OpGetfield:
			return 1, size, nil
		default:
			return 1 + size, 0, nil
		}

	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		imm, ok := ins.Imm.(InvokeImm)
		if !ok {
			return 0, 0, operandErr(ins)
		}
		mt, err := descriptor.ParseMethod(imm.Ref.Type())
		if err != nil {
			return 0, 0, errors.Wrap(errors.PhaseWrite, errors.KindIllegalArgument, err, "invoke descriptor")
		}
		pop = mt.ParameterSlots()
		if op != OpInvokestatic {
			pop++
		}
		return pop, mt.Return.Kind().SlotSize(), nil

	case OpInvokedynamic:
		imm, ok := ins.Imm.(InvokeDynamicImm)
		if !ok {
			return 0, 0, operandErr(ins)
		}
		mt, err := descriptor.ParseMethod(imm.Entry.Type())
		if err != nil {
			return 0, 0, errors.Wrap(errors.PhaseWrite, errors.KindIllegalArgument, err, "invokedynamic descriptor")
		}
		return mt.ParameterSlots(), mt.Return.Kind().SlotSize(), nil
	}
	return 0, 0, errors.IllegalArgument(errors.PhaseWrite, "no stack effect for %s", op)
}

func operandErr(ins Instruction) error {
	return errors.IllegalArgument(errors.PhaseWrite, "%s: unexpected operand %T", ins.Op, ins.Imm)
}

// localExtent returns one past the highest local slot an instruction
// touches, or zero.
func localExtent(ins Instruction) int {
	switch imm := ins.Imm.(type) {
	case LocalImm:
		return imm.Slot + max(ins.Op.localKind().SlotSize(), 1)
	case IncImm:
		return imm.Slot + 1
	}
	if slot, ok := ins.Op.implicitSlot(); ok {
		return slot + ins.Op.localKind().SlotSize()
	}
	return 0
}

// stackCount is the result of a depth-only pass over a method body.
type stackCount struct {
	maxStack  int
	maxLocals int
	reachable *bitset.BitSet
}

// countStack computes max_stack and max_locals by propagating operand
// stack depth along control flow. It needs no type information and is
// used whenever frames are not generated.
func countStack(f *codeFlow, paramSlots int) (*stackCount, error) {
	n := len(f.insns)
	depth := make([]int, n)
	for i := range depth {
		depth[i] = -1
	}
	res := &stackCount{maxLocals: paramSlots, reachable: bitset.New(n)}
	for _, in := range f.insns {
		res.maxLocals = max(res.maxLocals, localExtent(in.ins))
	}
	if n == 0 {
		return res, nil
	}

	work := []int{0}
	depth[0] = 0
	visit := func(i, d int) {
		if i >= n {
			return
		}
		if depth[i] < 0 {
			depth[i] = d
			work = append(work, i)
		} else if d > depth[i] {
			depth[i] = d
			work = append(work, i)
		}
	}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		res.reachable.Set(i)
		in := f.insns[i]
		d := depth[i]
		pop, push, err := stackEffect(in.ins)
		if err != nil {
			return nil, err
		}
		if d < pop {
			return nil, errors.IllegalArgument(errors.PhaseWrite, "operand stack underflow at bci %d (%s)", in.bci, in.ins.Op)
		}
		out := d - pop + push
		if out > 0xFFFF {
			return nil, errors.IllegalArgument(errors.PhaseWrite, "operand stack overflow at bci %d", in.bci)
		}
		res.maxStack = max(res.maxStack, out, d)
		for _, h := range f.covering(i) {
			visit(f.at[h.handler], 1)
			res.maxStack = max(res.maxStack, 1)
		}
		for _, t := range f.targets(i) {
			visit(t, out)
		}
		if f.fallsThrough(i) {
			if in.ins.Op == OpJsr || in.ins.Op == OpJsrW {
				visit(i+1, d)
			} else {
				visit(i+1, out)
			}
		}
	}
	if res.maxStack > 0xFFFF || res.maxLocals > 0xFFFF {
		return nil, errors.IllegalArgument(errors.PhaseWrite, "max_stack %d or max_locals %d exceeds 65535",
			res.maxStack, res.maxLocals)
	}
	return res, nil
}

// unreachable returns the bci of the first instruction the pass did not
// reach, or -1.
func (c *stackCount) unreachable(f *codeFlow) int {
	for i, in := range f.insns {
		if !c.reachable.Has(i) {
			return in.bci
		}
	}
	return -1
}
