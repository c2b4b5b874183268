package classfile

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
	"github.com/wippyai/jclassfile/hierarchy"
)

// frameContext describes the method whose frames are generated.
type frameContext struct {
	pool        *PoolBuilder
	opts        Options
	thisClass   string
	superClass  string
	isInterface bool
	methodName  string
	mtype       descriptor.MethodTypeDesc
	static      bool
}

// generatedFrames is the outcome of frame generation. code and handlers
// differ from the input only when dead code was patched.
type generatedFrames struct {
	code      []byte
	handlers  []handlerRow
	frames    []StackMapFrameInfo
	maxStack  int
	maxLocals int
}

var errFanIn = stderrors.New("join threshold exceeded")

type frameGenerator struct {
	ctx      frameContext
	flow     *codeFlow
	resolver hierarchy.Resolver
	initial  *frameState
	in       []*frameState
	out      []*frameState
}

// generateFrames computes the StackMapTable, max_stack and max_locals of
// a method body by forward dataflow over verification types.
func generateFrames(ctx frameContext, code []byte, handlers []handlerRow) (*generatedFrames, error) {
	flow, err := newCodeFlow(code, handlers, ctx.pool)
	if err != nil {
		return nil, err
	}
	self := hierarchy.Func(func(name string) (hierarchy.ClassInfo, bool) {
		if name != ctx.thisClass {
			return hierarchy.ClassInfo{}, false
		}
		return hierarchy.ClassInfo{Superclass: ctx.superClass, IsInterface: ctx.isInterface}, true
	})
	g := &frameGenerator{
		ctx:      ctx,
		flow:     flow,
		resolver: hierarchy.Cached(hierarchy.Chain(self, ctx.opts.Resolver).Resolve),
	}
	g.initial = g.initialFrame()

	err = g.solveFast()
	if stderrors.Is(err, errFanIn) {
		Logger().Debug("frame generation falling back to exact dataflow",
			zap.String("class", ctx.thisClass),
			zap.String("method", ctx.methodName),
			zap.Int("threshold", ctx.opts.joinThreshold()))
		err = g.solveExact()
	}
	if err != nil {
		return nil, err
	}
	return g.emit()
}

func (g *frameGenerator) initialFrame() *frameState {
	st := &frameState{}
	slot := 0
	if !g.ctx.static {
		if g.ctx.methodName == "<init>" && g.ctx.thisClass != hierarchy.ObjectName {
			st.setLocal(0, vtype{tag: ItemUninitializedThis})
		} else {
			st.setLocal(0, vObject(g.ctx.thisClass))
		}
		slot = 1
	}
	for _, p := range g.ctx.mtype.Params {
		st.setLocal(slot, typeOfDesc(p.Descriptor()))
		slot += p.Kind().SlotSize()
	}
	return st
}

func (g *frameGenerator) fail(i int, format string, args ...any) error {
	e := errors.IllegalArgument(errors.PhaseStackMap, format, args...)
	e.Position = g.flow.insns[i].bci
	return e
}

// edge is one control transfer into an instruction.
type edge struct {
	to      int
	handler bool
	catch   string
}

// edges returns the transfers out of instruction i.
func (g *frameGenerator) edges(i int) []edge {
	var out []edge
	for _, t := range g.flow.targets(i) {
		out = append(out, edge{to: t})
	}
	if g.flow.fallsThrough(i) {
		out = append(out, edge{to: i + 1})
	}
	for _, h := range g.flow.covering(i) {
		catch := "java/lang/Throwable"
		if h.catchType != nil {
			catch = h.catchType.InternalName()
		}
		out = append(out, edge{to: g.flow.at[h.handler], handler: true, catch: catch})
	}
	return out
}

// along returns the states an edge contributes to its target. Handler
// edges see the locals before the instruction and, for stores, after it.
func (g *frameGenerator) along(i int, e edge) []*frameState {
	if !e.handler {
		return []*frameState{g.out[i]}
	}
	stack := []vtype{vObject(e.catch)}
	states := []*frameState{{locals: g.in[i].locals, stack: stack}}
	if g.flow.insns[i].ins.Op.IsStore() {
		states = append(states, &frameState{locals: g.out[i].locals, stack: stack})
	}
	return states
}

// solveFast runs a worklist over instructions. A target absorbing more
// merges than the join threshold aborts with errFanIn.
func (g *frameGenerator) solveFast() error {
	n := len(g.flow.insns)
	g.in = make([]*frameState, n)
	g.out = make([]*frameState, n)
	merges := make([]int, n)
	limit := g.ctx.opts.joinThreshold()

	g.in[0] = g.initial.clone()
	work := []int{0}
	queued := make([]bool, n)
	queued[0] = true
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		queued[i] = false
		out, err := g.exec(i, g.in[i])
		if err != nil {
			return err
		}
		g.out[i] = out
		for _, e := range g.edges(i) {
			if e.to >= n {
				return g.fail(i, "control falls off the end of code")
			}
			for _, s := range g.along(i, e) {
				changed, err := g.mergeInto(e.to, s)
				if err != nil {
					return err
				}
				if !changed {
					continue
				}
				merges[e.to]++
				if merges[e.to] > limit {
					return errFanIn
				}
				if !queued[e.to] {
					queued[e.to] = true
					work = append(work, e.to)
				}
			}
		}
	}
	return nil
}

// solveExact recomputes each instruction's state from the full set of
// its predecessors, visiting instructions in reverse postorder until
// nothing changes.
func (g *frameGenerator) solveExact() error {
	n := len(g.flow.insns)
	type pred struct {
		from int
		e    edge
	}
	preds := make([][]pred, n)
	succ := make([][]edge, n)
	for i := 0; i < n; i++ {
		succ[i] = g.edges(i)
		for _, e := range succ[i] {
			if e.to >= n {
				return g.fail(i, "control falls off the end of code")
			}
			preds[e.to] = append(preds[e.to], pred{from: i, e: e})
		}
	}
	order := reversePostorder(n, succ)

	g.in = make([]*frameState, n)
	g.out = make([]*frameState, n)
	for changed := true; changed; {
		changed = false
		for _, i := range order {
			var st *frameState
			if i == 0 {
				st = g.initial.clone()
			}
			for _, p := range preds[i] {
				if g.out[p.from] == nil {
					continue
				}
				for _, s := range g.along(p.from, p.e) {
					if st == nil {
						st = s.clone()
						continue
					}
					if _, err := g.merge(i, st, s); err != nil {
						return err
					}
				}
			}
			if st == nil || st.equal(g.in[i]) {
				continue
			}
			g.in[i] = st
			out, err := g.exec(i, st)
			if err != nil {
				return err
			}
			g.out[i] = out
			changed = true
		}
	}
	return nil
}

func reversePostorder(n int, succ [][]edge) []int {
	seen := make([]bool, n)
	post := make([]int, 0, n)
	type item struct{ node, next int }
	stack := []item{{0, 0}}
	seen[0] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(succ[top.node]) {
			to := succ[top.node][top.next].to
			top.next++
			if !seen[to] {
				seen[to] = true
				stack = append(stack, item{to, 0})
			}
			continue
		}
		post = append(post, top.node)
		stack = stack[:len(stack)-1]
	}
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func (g *frameGenerator) mergeInto(i int, s *frameState) (bool, error) {
	if g.in[i] == nil {
		g.in[i] = s.clone()
		return true, nil
	}
	return g.merge(i, g.in[i], s)
}

// merge folds src into dst. Mismatched locals become Top; the stacks
// must agree in shape.
func (g *frameGenerator) merge(i int, dst, src *frameState) (bool, error) {
	if len(dst.stack) != len(src.stack) {
		return false, g.fail(i, "inconsistent stack height %d != %d", len(dst.stack), len(src.stack))
	}
	changed := false
	for k := range dst.stack {
		a, b := dst.stack[k], src.stack[k]
		if a == b {
			continue
		}
		if !a.isReference() || !b.isReference() {
			return false, g.fail(i, "incompatible stack types %v and %v", a, b)
		}
		m, err := g.mergeReference(a, b)
		if err != nil {
			return false, err
		}
		if m != a {
			dst.stack[k] = m
			changed = true
		}
	}

	n := max(len(dst.locals), len(src.locals))
	for k := 0; k < n; k++ {
		a, b := dst.local(k), src.local(k)
		m := a
		switch {
		case a == b:
		case a.isReference() && b.isReference():
			r, err := g.mergeReference(a, b)
			if err != nil {
				return false, err
			}
			m = r
		default:
			m = vTop
		}
		if m != a {
			for len(dst.locals) <= k {
				dst.locals = append(dst.locals, vTop)
			}
			dst.locals[k] = m
			changed = true
		}
	}
	for k, v := range dst.locals {
		if (v.tag == itemLong2 || v.tag == itemDouble2) && (k == 0 || !dst.locals[k-1].isWide()) {
			dst.locals[k] = vTop
		}
	}
	dst.locals = trimLocals(dst.locals)
	return changed, nil
}

func (g *frameGenerator) mergeReference(a, b vtype) (vtype, error) {
	switch {
	case a == b:
		return a, nil
	case a.tag == ItemNull:
		return b, nil
	case b.tag == ItemNull:
		return a, nil
	}
	if a.isArray() || b.isArray() {
		if !a.isArray() || !b.isArray() {
			return vObject(hierarchy.ObjectName), nil
		}
		ca, cb := typeOfDesc(a.name[1:]), typeOfDesc(b.name[1:])
		if !ca.isReference() || !cb.isReference() {
			return vObject(hierarchy.ObjectName), nil
		}
		c, err := g.mergeReference(ca, cb)
		if err != nil {
			return vtype{}, err
		}
		return arrayOf(c), nil
	}
	name, err := g.commonSuperclass(a.name, b.name)
	if err != nil {
		return vtype{}, err
	}
	return vObject(name), nil
}

// commonSuperclass returns the nearest common superclass of two classes.
// Interfaces merge to java/lang/Object.
func (g *frameGenerator) commonSuperclass(a, b string) (string, error) {
	if a == hierarchy.ObjectName || b == hierarchy.ObjectName {
		return hierarchy.ObjectName, nil
	}
	for _, name := range []string{a, b} {
		iface, known := hierarchy.IsInterface(g.resolver, name)
		if !known {
			return g.unknown(name)
		}
		if iface {
			return hierarchy.ObjectName, nil
		}
	}
	ancestors := map[string]bool{}
	for c := a; c != "" && c != hierarchy.ObjectName; {
		if ancestors[c] {
			return "", circular(c)
		}
		ancestors[c] = true
		super, known := hierarchy.Superclass(g.resolver, c)
		if !known {
			return g.unknown(c)
		}
		c = super
	}
	seen := map[string]bool{}
	for c := b; c != "" && c != hierarchy.ObjectName; {
		if ancestors[c] {
			return c, nil
		}
		if seen[c] {
			return "", circular(c)
		}
		seen[c] = true
		super, known := hierarchy.Superclass(g.resolver, c)
		if !known {
			return g.unknown(c)
		}
		c = super
	}
	return hierarchy.ObjectName, nil
}

// circular reports a superclass chain that returns to name. It fails in
// every hierarchy mode since no answer would be sound.
func circular(name string) error {
	err := errors.HierarchyResolution(name)
	err.Detail = fmt.Sprintf("circular superclass chain through %s", name)
	return err
}

func (g *frameGenerator) unknown(name string) (string, error) {
	if g.ctx.opts.StrictHierarchy {
		return "", errors.HierarchyResolution(name)
	}
	Logger().Debug("unknown class in hierarchy, assuming java/lang/Object",
		zap.String("class", name),
		zap.String("method", g.ctx.thisClass+"."+g.ctx.methodName))
	return hierarchy.ObjectName, nil
}

// exec applies instruction i to a copy of st.
func (g *frameGenerator) exec(i int, in *frameState) (*frameState, error) {
	st := in.clone()
	fi := g.flow.insns[i]
	ins := fi.ins
	op := ins.Op
	pop := func(n int) ([]vtype, error) {
		v, ok := st.pop(n)
		if !ok {
			return nil, g.fail(i, "operand stack underflow at %s", op)
		}
		return v, nil
	}

	switch op {
	case OpAconstNull:
		st.push(vNull)
		return st, nil
	case OpLdc, OpLdcW, OpLdc2W:
		st.push(constantType(ins.Imm.(ConstImm).Entry))
		return st, nil
	case OpIaload, OpBaload, OpCaload, OpSaload:
		if _, err := pop(2); err != nil {
			return nil, err
		}
		st.push(vInt)
		return st, nil
	case OpLaload, OpFaload, OpDaload:
		if _, err := pop(2); err != nil {
			return nil, err
		}
		switch op {
		case OpLaload:
			st.push(vLong)
		case OpFaload:
			st.push(vFloat)
		default:
			st.push(vDouble)
		}
		return st, nil
	case OpAaload:
		v, err := pop(2)
		if err != nil {
			return nil, err
		}
		arr := v[0]
		switch {
		case arr.tag == ItemNull:
			st.push(vNull)
		case arr.isArray():
			st.push(typeOfDesc(arr.name[1:]))
		default:
			st.push(vObject(hierarchy.ObjectName))
		}
		return st, nil
	case OpPop:
		_, err := pop(1)
		return st, err
	case OpPop2:
		_, err := pop(2)
		return st, err
	case OpDup, OpDupX1, OpDupX2, OpDup2, OpDup2X1, OpDup2X2, OpSwap:
		return st, g.shuffle(i, st, op)
	case OpAload, OpAload0, OpAload1, OpAload2, OpAload3:
		st.push(st.local(loadSlot(ins)))
		return st, nil
	case OpGetstatic, OpGetfield, OpPutstatic, OpPutfield:
		ref := ins.Imm.(FieldImm).Ref
		t := typeOfDesc(ref.Type())
		size := descriptor.ClassDesc(ref.Type()).Kind().SlotSize()
		switch op {
		case OpGetstatic:
		case OpGetfield:
			if _, err := pop(1); err != nil {
				return nil, err
			}
		case OpPutstatic:
			_, err := pop(size)
			return st, err
		case OpPutfield:
			_, err := pop(size + 1)
			return st, err
		}
		st.push(t)
		return st, nil
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		ref := ins.Imm.(InvokeImm).Ref
		mt, err := descriptor.ParseMethod(ref.Type())
		if err != nil {
			return nil, errors.Wrap(errors.PhaseStackMap, errors.KindIllegalArgument, err, "invoke descriptor")
		}
		if _, err := pop(mt.ParameterSlots()); err != nil {
			return nil, err
		}
		if op != OpInvokestatic {
			recv, err := pop(1)
			if err != nil {
				return nil, err
			}
			if op == OpInvokespecial && ref.Name() == "<init>" {
				if err := g.initialize(i, st, recv[0]); err != nil {
					return nil, err
				}
			}
		}
		if mt.Return != descriptor.Void {
			st.push(typeOfDesc(mt.Return.Descriptor()))
		}
		return st, nil
	case OpInvokedynamic:
		mt, err := descriptor.ParseMethod(ins.Imm.(InvokeDynamicImm).Entry.Type())
		if err != nil {
			return nil, errors.Wrap(errors.PhaseStackMap, errors.KindIllegalArgument, err, "invokedynamic descriptor")
		}
		if _, err := pop(mt.ParameterSlots()); err != nil {
			return nil, err
		}
		if mt.Return != descriptor.Void {
			st.push(typeOfDesc(mt.Return.Descriptor()))
		}
		return st, nil
	case OpNew:
		st.push(vtype{tag: ItemUninitialized, offset: fi.bci})
		return st, nil
	case OpNewarray:
		if _, err := pop(1); err != nil {
			return nil, err
		}
		st.push(vObject("[" + ins.Imm.(NewArrayImm).Kind.Desc().Descriptor()))
		return st, nil
	case OpAnewarray:
		if _, err := pop(1); err != nil {
			return nil, err
		}
		st.push(arrayOf(vObject(ins.Imm.(TypeImm).Class.InternalName())))
		return st, nil
	case OpCheckcast:
		if _, err := pop(1); err != nil {
			return nil, err
		}
		st.push(vObject(ins.Imm.(TypeImm).Class.InternalName()))
		return st, nil
	case OpMultianewarray:
		imm := ins.Imm.(MultiArrayImm)
		if _, err := pop(imm.Dims); err != nil {
			return nil, err
		}
		st.push(vObject(imm.Class.InternalName()))
		return st, nil
	case OpJsr, OpJsrW, OpRet:
		return nil, g.fail(i, "%s cannot be described by stack map frames", op)
	}

	// Everything else has a fixed effect with a primitive result.
	popN, pushN, err := stackEffect(ins)
	if err != nil {
		return nil, err
	}
	if _, err := pop(popN); err != nil {
		return nil, err
	}
	if op.IsStore() {
		v := in.stack[len(in.stack)-popN]
		st.setLocal(storeSlot(ins), v)
		return st, nil
	}
	if pushN > 0 {
		st.push(primitiveResult(op))
	}
	return st, nil
}

func loadSlot(ins Instruction) int {
	if slot, ok := ins.Op.implicitSlot(); ok {
		return slot
	}
	return ins.Imm.(LocalImm).Slot
}

func storeSlot(ins Instruction) int { return loadSlot(ins) }

// initialize replaces an uninitialized receiver after its constructor call.
func (g *frameGenerator) initialize(i int, st *frameState, recv vtype) error {
	switch recv.tag {
	case ItemUninitializedThis:
		st.replace(recv, vObject(g.ctx.thisClass))
	case ItemUninitialized:
		idx, ok := g.flow.at[recv.offset]
		if !ok || g.flow.insns[idx].ins.Op != OpNew {
			return g.fail(i, "uninitialized value from bci %d is not a new instruction", recv.offset)
		}
		st.replace(recv, vObject(g.flow.insns[idx].ins.Imm.(TypeImm).Class.InternalName()))
	default:
		// A super or this constructor call on an initialized object is
		// left for the verifier to reject.
	}
	return nil
}

// shuffle performs the slot-level stack manipulations.
func (g *frameGenerator) shuffle(i int, st *frameState, op Opcode) error {
	need, _, _ := stackEffect(Instruction{Op: op})
	v, ok := st.pop(need)
	if !ok {
		return g.fail(i, "operand stack underflow at %s", op)
	}
	var out []vtype
	switch op {
	case OpDup:
		out = []vtype{v[0], v[0]}
	case OpDupX1:
		out = []vtype{v[1], v[0], v[1]}
	case OpDupX2:
		out = []vtype{v[2], v[0], v[1], v[2]}
	case OpDup2:
		out = []vtype{v[0], v[1], v[0], v[1]}
	case OpDup2X1:
		out = []vtype{v[1], v[2], v[0], v[1], v[2]}
	case OpDup2X2:
		out = []vtype{v[2], v[3], v[0], v[1], v[2], v[3]}
	case OpSwap:
		out = []vtype{v[1], v[0]}
	}
	st.stack = append(st.stack, out...)
	return nil
}

// constantType returns the type ldc pushes for an entry.
func constantType(e LoadableEntry) vtype {
	switch e := e.(type) {
	case *IntegerEntry:
		return vInt
	case *FloatEntry:
		return vFloat
	case *LongEntry:
		return vLong
	case *DoubleEntry:
		return vDouble
	case *StringEntry:
		return vObject("java/lang/String")
	case *ClassEntry:
		return vObject("java/lang/Class")
	case *MethodTypeEntry:
		return vObject("java/lang/invoke/MethodType")
	case *MethodHandleEntry:
		return vObject("java/lang/invoke/MethodHandle")
	case *DynamicEntry:
		return typeOfDesc(e.Type())
	}
	return vTop
}

// primitiveResult returns the pushed type of loads, constants, arithmetic,
// conversions and comparisons.
func primitiveResult(op Opcode) vtype {
	switch op {
	case OpLconst0, OpLconst1, OpLadd, OpLsub, OpLmul, OpLdiv, OpLrem, OpLneg, OpLshl, OpLshr, OpLushr,
		OpLand, OpLor, OpLxor, OpI2l, OpF2l, OpD2l:
		return vLong
	case OpFconst0, OpFconst1, OpFconst2, OpFadd, OpFsub, OpFmul, OpFdiv, OpFrem, OpFneg,
		OpI2f, OpL2f, OpD2f:
		return vFloat
	case OpDconst0, OpDconst1, OpDadd, OpDsub, OpDmul, OpDdiv, OpDrem, OpDneg, OpI2d, OpL2d, OpF2d:
		return vDouble
	}
	if op.IsLoad() {
		switch op.localKind() {
		case descriptor.KindLong:
			return vLong
		case descriptor.KindFloat:
			return vFloat
		case descriptor.KindDouble:
			return vDouble
		}
	}
	return vInt
}

// emit builds the frame table, patching unreachable code when allowed.
func (g *frameGenerator) emit() (*generatedFrames, error) {
	flow := g.flow
	n := len(flow.insns)
	res := &generatedFrames{code: flow.code, handlers: flow.handlers}

	var deadStart []int
	for i := 0; i < n; i++ {
		if g.in[i] != nil {
			continue
		}
		if i == 0 || g.in[i-1] != nil {
			deadStart = append(deadStart, i)
		}
	}
	if len(deadStart) > 0 {
		switch g.ctx.opts.DeadCode {
		case DeadCodeFail:
			return nil, g.fail(deadStart[0], "unreachable code at bci %d", flow.insns[deadStart[0]].bci)
		case DeadCodeKeep:
			targets := flow.frameTargets()
			for _, s := range deadStart {
				for j := s; j < n && g.in[j] == nil; j++ {
					if targets[j] {
						return nil, g.fail(j, "no stack map frame can describe unreachable code at bci %d", flow.insns[j].bci)
					}
				}
			}
		default:
			res.code, res.handlers = g.patchDeadCode(deadStart)
		}
	}

	frameAt := map[int]*frameState{}
	for i := 0; i < n; i++ {
		if g.in[i] == nil {
			continue
		}
		for _, t := range flow.targets(i) {
			frameAt[t] = g.in[t]
		}
		if flow.insns[i].ins.Op.IsUnconditional() && i+1 < n && g.in[i+1] != nil {
			frameAt[i+1] = g.in[i+1]
		}
	}
	for _, h := range res.handlers {
		if i := flow.at[h.handler]; g.in[i] != nil {
			frameAt[i] = g.in[i]
		}
	}
	deadFrame := &frameState{stack: []vtype{vObject("java/lang/Throwable")}}
	if g.ctx.opts.DeadCode == DeadCodePatch {
		for _, s := range deadStart {
			frameAt[s] = deadFrame
		}
	}

	order := make([]int, 0, len(frameAt))
	for i := range frameAt {
		order = append(order, i)
	}
	sort.Ints(order)
	full := make([]fullFrame, 0, len(order))
	for _, i := range order {
		st := frameAt[i]
		full = append(full, fullFrame{
			offset: flow.insns[i].bci,
			locals: frameItems(g.ctx.pool, trimLocals(st.locals)),
			stack:  frameItems(g.ctx.pool, st.stack),
		})
	}
	res.frames = compressFrames(frameItems(g.ctx.pool, trimLocals(g.initial.locals)), full)

	maxLocals := len(g.initial.locals)
	for i := 0; i < n; i++ {
		maxLocals = max(maxLocals, localExtent(flow.insns[i].ins))
		for _, st := range []*frameState{g.in[i], g.out[i]} {
			if st == nil {
				continue
			}
			maxLocals = max(maxLocals, len(st.locals))
			res.maxStack = max(res.maxStack, len(st.stack))
		}
	}
	if len(deadStart) > 0 {
		res.maxStack = max(res.maxStack, 1)
	}
	res.maxLocals = maxLocals
	return res, nil
}

// patchDeadCode overwrites each unreachable run with nops ending in
// athrow and removes the runs from exception ranges.
func (g *frameGenerator) patchDeadCode(deadStart []int) ([]byte, []handlerRow) {
	flow := g.flow
	code := append([]byte(nil), flow.code...)
	type span struct{ start, end int }
	var dead []span
	for _, s := range deadStart {
		e := s
		for e < len(flow.insns) && g.in[e] == nil {
			e++
		}
		start, end := flow.insns[s].bci, flow.insns[e-1].next
		for k := start; k < end-1; k++ {
			code[k] = byte(OpNop)
		}
		code[end-1] = byte(OpAthrow)
		dead = append(dead, span{start, end})
		Logger().Debug("patched unreachable code",
			zap.String("method", g.ctx.thisClass+"."+g.ctx.methodName),
			zap.Int("start", start), zap.Int("end", end))
	}

	var handlers []handlerRow
	for _, h := range flow.handlers {
		parts := []span{{h.start, h.end}}
		for _, d := range dead {
			var next []span
			for _, p := range parts {
				if d.end <= p.start || d.start >= p.end {
					next = append(next, p)
					continue
				}
				if p.start < d.start {
					next = append(next, span{p.start, d.start})
				}
				if d.end < p.end {
					next = append(next, span{d.end, p.end})
				}
			}
			parts = next
		}
		for _, p := range parts {
			handlers = append(handlers, handlerRow{start: p.start, end: p.end, handler: h.handler, catchType: h.catchType})
		}
	}
	return code, handlers
}

func (v vtype) String() string {
	switch v.tag {
	case ItemObject:
		return strings.ReplaceAll(v.name, "/", ".")
	case ItemUninitialized:
		return "uninitialized"
	case ItemUninitializedThis:
		return "uninitializedThis"
	case itemLong2, itemDouble2:
		return "top"
	}
	return [...]string{"top", "int", "float", "double", "long", "null"}[min(int(v.tag), 5)]
}
