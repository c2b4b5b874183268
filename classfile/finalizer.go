package classfile

import (
	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

// finallyExit is one way control leaves a protected region: a return
// instruction or a branch to one of the declared exit labels.
type finallyExit struct {
	tramp  *Label
	ret    Opcode
	target *Label
}

type recordedElement struct {
	e    CodeElement
	live bool
}

// TryWithFinalizer emits body as a protected region and duplicates
// finalizer on every normal way out of it: one copy on fall-through, one
// before each return inside body and one before leaving for each exit
// label that body branches to.
//
// The exceptional path has no copy of its own. Its handler stores the
// exception and joins one of the copies, preferring a return, which
// rethrows after the finalizer when the stored exception is non-null.
// Only a body with no normal exit gets a dedicated handler copy.
//
// The body is recorded first so its exits are known; the recorded
// elements are then emitted with returns and exit branches redirected to
// trampolines. Unreachable returns and exit branches are emitted as they
// are, and rejected under DeadCodeFail.
func (b *CodeBuilder) TryWithFinalizer(body, finalizer func(*CodeBuilder), exits ...*Label) *CodeBuilder {
	st := b.st
	retKind := st.method.mtype.Return.Kind()
	tmp := -1
	if retKind != descriptor.KindVoid {
		tmp = b.AllocateLocal(retKind)
	}
	exc := b.AllocateLocal(descriptor.KindReference)

	tb := b.block()
	var recorded []recordedElement
	rec := &CodeBuilder{st: st, scope: tb.scope}
	rec.sink = func(e CodeElement) {
		live := st.reachable
		if st.track(e) {
			recorded = append(recorded, recordedElement{e: e, live: live})
		}
	}
	st.reachable = true
	body(rec)
	falls := rec.fallsOut()

	exitSet := make(map[*Label]bool, len(exits))
	for _, l := range exits {
		exitSet[l] = true
	}
	var edges []*finallyExit
	byTarget := make(map[*Label]*finallyExit)
	redirect := func(l *Label) *Label {
		if !exitSet[l] {
			return l
		}
		ex, ok := byTarget[l]
		if !ok {
			ex = &finallyExit{tramp: NewLabel(), target: l}
			byTarget[l] = ex
			edges = append(edges, ex)
		}
		return ex.tramp
	}
	leaves := func(ins Instruction) bool {
		if ins.Op.IsReturn() {
			return true
		}
		for _, t := range instructionTargets(ins) {
			if exitSet[t] {
				return true
			}
		}
		return false
	}

	b.LabelBinding(tb.scope.start)
	for _, r := range recorded {
		ins, ok := r.e.(Instruction)
		if !ok {
			b.With(r.e)
			continue
		}
		if !r.live && leaves(ins) {
			if st.opts.DeadCode == DeadCodeFail {
				st.fail(errors.IllegalArgument(errors.PhaseBuild,
					"unreachable %s in protected region", ins.Op))
			}
			b.With(ins)
			continue
		}
		if ins.Op.IsReturn() {
			ex := &finallyExit{tramp: NewLabel(), ret: ins.Op}
			edges = append(edges, ex)
			if ins.Op != OpReturn {
				b.StoreLocal(ins.Op.localKind(), tmp)
			}
			b.Goto(ex.tramp)
			continue
		}
		b.With(redirectInstruction(ins, redirect))
	}
	b.LabelBinding(tb.scope.end)

	handler, after := NewLabel(), NewLabel()
	b.ExceptionCatch(tb.scope.start, tb.scope.end, handler, nil)

	copyFinalizer := func() bool {
		fb := b.block()
		fb.LabelBinding(fb.scope.start)
		finalizer(fb)
		out := fb.fallsOut()
		fb.LabelBinding(fb.scope.end)
		return out
	}

	// host is the copy the handler joins; nil is the fall-through copy.
	var host *finallyExit
	hosted := falls || len(edges) > 0
	for _, ex := range edges {
		if ex.target == nil {
			host = ex
			break
		}
	}
	if host == nil && !falls && len(edges) > 0 {
		host = edges[0]
	}
	join := NewLabel()

	// emit runs one copy and continues with leave when the copy falls out.
	emit := func(shared bool, leave func()) {
		if shared {
			b.LoadConstant(nil)
			b.StoreLocal(descriptor.KindReference, exc)
			b.LabelBinding(join)
		}
		if !copyFinalizer() {
			return
		}
		if shared {
			b.LoadLocal(descriptor.KindReference, exc)
			b.IfThen(OpIfnonnull, func(t *CodeBuilder) {
				t.LoadLocal(descriptor.KindReference, exc)
				t.Athrow()
			})
		}
		leave()
	}

	if falls {
		st.reachable = true
		emit(host == nil, func() { b.Goto(after) })
	}
	for _, ex := range edges {
		b.LabelBinding(ex.tramp)
		emit(ex == host, func() {
			switch {
			case ex.target != nil:
				b.Goto(ex.target)
			case ex.ret == OpReturn:
				b.Op(OpReturn)
			default:
				b.LoadLocal(ex.ret.localKind(), tmp)
				b.Op(ex.ret)
			}
		})
	}

	b.LabelBinding(handler)
	b.StoreLocal(descriptor.KindReference, exc)
	if !hosted {
		if copyFinalizer() {
			b.LoadLocal(descriptor.KindReference, exc)
			b.Athrow()
		}
		return b.LabelBinding(after)
	}
	if tmp >= 0 {
		// The joined copy may read tmp, so it must hold a value of its type.
		kind := retKind.Computational()
		b.loadZero(kind)
		b.StoreLocal(kind, tmp)
	}
	b.Goto(join)
	return b.LabelBinding(after)
}

// loadZero pushes the zero value of a computational kind.
func (b *CodeBuilder) loadZero(kind descriptor.TypeKind) *CodeBuilder {
	switch kind {
	case descriptor.KindInt:
		return b.LoadConstant(int32(0))
	case descriptor.KindLong:
		return b.LoadConstant(int64(0))
	case descriptor.KindFloat:
		return b.LoadConstant(float32(0))
	case descriptor.KindDouble:
		return b.LoadConstant(float64(0))
	}
	return b.LoadConstant(nil)
}

// instructionTargets lists the branch targets of ins.
func instructionTargets(ins Instruction) []*Label {
	switch imm := ins.Imm.(type) {
	case BranchImm:
		return []*Label{imm.Target}
	case TableSwitchImm:
		return append([]*Label{imm.Default}, imm.Targets...)
	case LookupSwitchImm:
		out := []*Label{imm.Default}
		for _, c := range imm.Cases {
			out = append(out, c.Target)
		}
		return out
	}
	return nil
}

// redirectInstruction rewrites the branch targets of ins through f.
func redirectInstruction(ins Instruction, f func(*Label) *Label) Instruction {
	switch imm := ins.Imm.(type) {
	case BranchImm:
		if ins.Op == OpJsr || ins.Op == OpJsrW {
			return ins
		}
		ins.Imm = BranchImm{Target: f(imm.Target)}
	case TableSwitchImm:
		targets := make([]*Label, len(imm.Targets))
		for i, t := range imm.Targets {
			targets[i] = f(t)
		}
		ins.Imm = TableSwitchImm{Low: imm.Low, High: imm.High, Default: f(imm.Default), Targets: targets}
	case LookupSwitchImm:
		cases := make([]SwitchCase, len(imm.Cases))
		for i, c := range imm.Cases {
			cases[i] = SwitchCase{Key: c.Key, Target: f(c.Target)}
		}
		ins.Imm = LookupSwitchImm{Default: f(imm.Default), Cases: cases}
	}
	return ins
}
