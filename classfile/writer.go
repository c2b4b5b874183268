package classfile

import (
	"go.uber.org/zap"

	"github.com/wippyai/jclassfile/classfile/internal/binary"
	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

// classWriter serializes a finished class build. The body is written
// first so that every pool entry it needs exists before the pool is.
type classWriter struct {
	st   *classState
	pool *PoolBuilder
	opts Options
}

func writeClass(st *classState) ([]byte, error) {
	if st.err != nil {
		return nil, st.err
	}
	w := &classWriter{st: st, pool: st.pool, opts: st.opts}
	body := binary.NewWriter()
	if err := w.writeBody(body); err != nil {
		return nil, err
	}
	if err := w.pool.err(); err != nil {
		return nil, err
	}

	out := binary.NewWriter()
	out.U4(Magic)
	out.U2(uint16(st.version.Minor))
	out.U2(uint16(st.version.Major))
	if err := w.writePool(out); err != nil {
		return nil, err
	}
	out.WriteBytes(body.Bytes())
	return out.Bytes(), nil
}

func (w *classWriter) idx(e PoolEntry) uint16 {
	if absent(e) {
		return 0
	}
	return uint16(w.pool.Adopt(e).Index())
}

func (w *classWriter) writeBody(b *binary.Writer) error {
	st := w.st
	b.U2(uint16(st.flags.Mask()))
	b.U2(w.idx(st.this))
	b.U2(w.idx(st.superclass()))
	b.U2(uint16(len(st.interfaces)))
	for _, c := range st.interfaces {
		b.U2(w.idx(c))
	}

	b.U2(uint16(len(st.fields)))
	for _, f := range st.fields {
		if err := w.writeField(b, f); err != nil {
			return errors.In(err, st.this.InternalName(), f.name.value)
		}
	}
	b.U2(uint16(len(st.methods)))
	for _, m := range st.methods {
		if err := w.writeMethod(b, m); err != nil {
			return errors.In(err, st.this.InternalName(), m.name.value+m.desc.value)
		}
	}

	attrs := binary.NewWriter()
	for _, a := range st.attrs {
		if err := w.writeAttribute(attrs, a); err != nil {
			return errors.In(err, st.this.InternalName(), "")
		}
	}
	count := len(st.attrs)
	if len(w.pool.bootstraps) > 0 {
		count++
		w.writeBootstrapMethods(attrs)
	}
	if count > 0xFFFF {
		return errors.IllegalArgument(errors.PhaseWrite, "too many class attributes: %d", count)
	}
	b.U2(uint16(count))
	b.WriteBytes(attrs.Bytes())
	return nil
}

// copyable reports whether a parsed member can be written from its raw
// bytes.
func (w *classWriter) copyable(o *memberOrigin, code *CodeModel) bool {
	if o == nil || o.filtered || w.pool.parent != o.class.pool {
		return false
	}
	if code != nil && !w.codeCopyable(code) {
		return false
	}
	return w.st.version.Major == o.class.version.Major
}

func (w *classWriter) codeCopyable(c *CodeModel) bool {
	if c.payload == nil || c.filtered || c.method == nil || c.method.origin == nil || !w.pool.ownsPool(c.pool) {
		return false
	}
	if c.opts.LineNumbers != DebugPass || c.opts.DebugElements != DebugPass ||
		w.opts.LineNumbers != DebugPass || w.opts.DebugElements != DebugPass {
		return false
	}
	return w.st.version.Major == c.method.origin.class.version.Major
}

func (w *classWriter) writeField(b *binary.Writer, f *FieldModel) error {
	if w.copyable(f.origin, nil) {
		b.WriteBytes(f.origin.raw)
		return nil
	}
	attrs, err := f.Attributes()
	if err != nil {
		return err
	}
	b.U2(uint16(f.flags.Mask()))
	b.U2(w.idx(f.name))
	b.U2(w.idx(f.desc))
	b.U2(uint16(len(attrs)))
	for _, a := range attrs {
		if err := w.writeAttribute(b, a); err != nil {
			return err
		}
	}
	return nil
}

func (w *classWriter) writeMethod(b *binary.Writer, m *MethodModel) error {
	if w.copyable(m.origin, m.code) {
		b.WriteBytes(m.origin.raw)
		return nil
	}
	attrs, err := m.Attributes()
	if err != nil {
		return err
	}
	b.U2(uint16(m.flags.Mask()))
	b.U2(w.idx(m.name))
	b.U2(w.idx(m.desc))
	count := len(attrs)
	if m.code != nil {
		count++
	}
	b.U2(uint16(count))
	if m.code != nil {
		payload, err := w.codePayload(m, m.code)
		if err != nil {
			return err
		}
		w.writeRaw(b, AttrCode, payload)
	}
	for _, a := range attrs {
		if err := w.writeAttribute(b, a); err != nil {
			return err
		}
	}
	return nil
}

func (w *classWriter) writeRaw(b *binary.Writer, name string, payload []byte) {
	b.U2(w.idx(w.pool.Utf8(name)))
	b.U4(uint32(len(payload)))
	b.WriteBytes(payload)
}

// writeAttribute writes a parsed attribute from its bytes when they are
// valid against the output pool, and re-encodes it otherwise.
func (w *classWriter) writeAttribute(b *binary.Writer, a Attribute) error {
	if o := a.origin(); o != nil && (w.pool.ownsPool(o.pool) || a.Stability() == StabilityStateless) {
		w.writeRaw(b, a.AttributeName(), o.data)
		return nil
	}
	body := &attrWriter{Writer: binary.NewWriter(), pool: w.pool}
	if err := a.writeBody(body); err != nil {
		return err
	}
	w.writeRaw(b, a.AttributeName(), body.Bytes())
	return nil
}

func (w *classWriter) writeBootstrapMethods(b *binary.Writer) {
	body := binary.NewWriter()
	body.U2(uint16(len(w.pool.bootstraps)))
	for _, bsm := range w.pool.bootstraps {
		body.U2(w.idx(bsm.Handle))
		body.U2(uint16(len(bsm.Args)))
		for _, a := range bsm.Args {
			body.U2(w.idx(a))
		}
	}
	w.writeRaw(b, AttrBootstrapMethods, body.Bytes())
}

// codePayload produces the body of a Code attribute.
func (w *classWriter) codePayload(m *MethodModel, c *CodeModel) ([]byte, error) {
	if w.codeCopyable(c) {
		return c.payload, nil
	}
	var (
		enc      *encodedCode
		err      error
		explicit bool
		stack    int
		locals   int
	)
	switch {
	case c.buffered != nil:
		enc, err = encodeElements(c.buffered, w.pool, w.opts)
		explicit, stack, locals = c.bufferedMax.explicit, c.bufferedMax.stack, c.bufferedMax.locals
	case c.payload == nil && c.enc != nil && c.pool == poolView(w.pool):
		enc = c.enc
		explicit, stack, locals = enc.explicitMax, enc.maxStack, enc.maxLocals
	default:
		var elems []CodeElement
		if elems, err = c.Elements(); err == nil {
			enc, err = encodeElements(elems, w.pool, w.opts)
		}
	}
	if err != nil {
		return nil, err
	}
	mt, err := m.MethodType()
	if err != nil {
		return nil, err
	}
	return w.finishCode(m.name.value, mt, m.IsStatic(), enc, explicit, stack, locals)
}

// finishCode decides on frames and maxima for encoded code and lays out
// the Code attribute payload.
func (w *classWriter) finishCode(name string, mt descriptor.MethodTypeDesc, static bool,
	enc *encodedCode, explicit bool, stack, locals int) ([]byte, error) {
	v := w.st.version
	if enc.subroutines && !v.AllowsSubroutines() {
		return nil, errors.UnsupportedVersion(v.Major, "jsr and ret are not allowed")
	}
	gen := w.opts.StackMaps != StackMapsDrop && (v.HasStackMaps() || w.opts.StackMaps == StackMapsGenerate)
	if gen && enc.subroutines {
		Logger().Debug("method uses subroutines, writing it without stack map frames",
			zap.String("class", w.st.this.InternalName()), zap.String("method", name))
		gen = false
	}

	code, handlers := enc.code, enc.handlers
	var frames []StackMapFrameInfo
	paramSlots := mt.ParameterSlots()
	if !static {
		paramSlots++
	}

	if gen {
		res, err := generateFrames(frameContext{
			pool:        w.pool,
			opts:        w.opts,
			thisClass:   w.st.this.InternalName(),
			superClass:  w.superName(),
			isInterface: w.st.flags.Has(AccInterface),
			methodName:  name,
			mtype:       mt,
			static:      static,
		}, code, handlers)
		if err != nil {
			return nil, err
		}
		code, handlers, frames = res.code, res.handlers, res.frames
		if explicit {
			locals = 0
		}
		stack, locals = res.maxStack, max(res.maxLocals, locals)
	} else {
		needCount := !explicit || w.opts.DeadCode == DeadCodeFail ||
			(w.opts.StackMaps == StackMapsDrop && v.HasStackMaps())
		if needCount {
			flow, err := newCodeFlow(code, handlers, w.pool)
			if err != nil {
				return nil, err
			}
			if w.opts.StackMaps == StackMapsDrop && v.HasStackMaps() && len(flow.frameTargets()) > 0 {
				return nil, errors.UnsupportedVersion(v.Major, "code needs stack map frames but generation is disabled")
			}
			if !explicit || w.opts.DeadCode == DeadCodeFail {
				count, err := countStack(flow, paramSlots)
				if err != nil {
					return nil, err
				}
				if w.opts.DeadCode == DeadCodeFail {
					if bci := count.unreachable(flow); bci >= 0 {
						return nil, errors.IllegalArgument(errors.PhaseWrite, "unreachable code at bci %d", bci)
					}
				}
				if !explicit {
					stack, locals = count.maxStack, max(count.maxLocals, locals)
				}
			}
		}
	}

	p := &attrWriter{Writer: binary.NewWriter(), pool: w.pool}
	p.U2(uint16(stack))
	p.U2(uint16(locals))
	p.U4(uint32(len(code)))
	p.WriteBytes(code)
	p.U2(uint16(len(handlers)))
	for _, h := range handlers {
		p.U2(uint16(h.start))
		p.U2(uint16(h.end))
		p.U2(uint16(h.handler))
		p.ref(h.catchType)
	}

	attrs := binary.NewWriter()
	count := 0
	if len(frames) > 0 {
		smt := &attrWriter{Writer: binary.NewWriter(), pool: w.pool}
		if err := (StackMapTableAttribute{Frames: frames}).writeBody(smt); err != nil {
			return nil, err
		}
		w.writeRaw(attrs, AttrStackMapTable, smt.Bytes())
		count++
	}
	if w.opts.LineNumbers == DebugPass && len(enc.lines) > 0 {
		t := binary.NewWriter()
		t.U2(uint16(len(enc.lines)))
		for _, l := range enc.lines {
			t.U2(uint16(l.pc))
			t.U2(uint16(l.line))
		}
		w.writeRaw(attrs, AttrLineNumberTable, t.Bytes())
		count++
	}
	if w.opts.DebugElements == DebugPass {
		for _, generic := range []bool{false, true} {
			t := &attrWriter{Writer: binary.NewWriter(), pool: w.pool}
			n := 0
			for _, lv := range enc.locals {
				if lv.generic != generic {
					continue
				}
				n++
			}
			if n == 0 {
				continue
			}
			t.U2(uint16(n))
			for _, lv := range enc.locals {
				if lv.generic != generic {
					continue
				}
				t.U2(uint16(lv.start))
				t.U2(uint16(lv.length))
				t.ref(lv.name)
				t.ref(lv.desc)
				t.U2(uint16(lv.slot))
			}
			name := AttrLocalVariableTable
			if generic {
				name = AttrLocalVariableTypeTable
			}
			w.writeRaw(attrs, name, t.Bytes())
			count++
		}
		if len(enc.charRanges) > 0 {
			t := binary.NewWriter()
			t.U2(uint16(len(enc.charRanges)))
			for _, cr := range enc.charRanges {
				t.U2(uint16(cr.start))
				t.U2(uint16(cr.end))
				t.S4(int32(cr.charStart))
				t.S4(int32(cr.charEnd))
				t.U2(uint16(cr.flags))
			}
			w.writeRaw(attrs, AttrCharacterRangeTable, t.Bytes())
			count++
		}
	}
	rest, err := enc.attrs.get()
	if err != nil {
		return nil, err
	}
	for _, a := range rest {
		if _, ok := a.(StackMapTableAttribute); ok {
			continue
		}
		if err := w.writeAttribute(attrs, a); err != nil {
			return nil, err
		}
		count++
	}
	p.U2(uint16(count))
	p.WriteBytes(attrs.Bytes())
	return p.Bytes(), nil
}

func (w *classWriter) superName() string {
	if s := w.st.superclass(); s != nil {
		return s.InternalName()
	}
	return ""
}

// writePool writes constant_pool_count and the entries. Entries of a
// shared parent pool are copied from its bytes.
func (w *classWriter) writePool(b *binary.Writer) error {
	p := w.pool
	b.U2(uint16(p.Size()))
	from := 1
	if p.parent != nil {
		b.WriteBytes(p.parent.raw)
		from = p.parent.Size()
		if from == 0 {
			from = 1
		}
	}
	for i := from; i < len(p.entries); i++ {
		e := p.entries[i]
		if e == nil {
			continue
		}
		if err := writePoolEntry(b, e); err != nil {
			return err
		}
	}
	return nil
}

func writePoolEntry(b *binary.Writer, e PoolEntry) error {
	b.U1(uint8(e.Tag()))
	switch e := e.(type) {
	case *Utf8Entry:
		data := binary.EncodeModifiedUTF8(e.value)
		if len(data) > 0xFFFF {
			return errors.IllegalArgument(errors.PhaseWrite, "string constant of %d bytes exceeds 65535", len(data))
		}
		b.U2(uint16(len(data)))
		b.WriteBytes(data)
	case *IntegerEntry:
		b.S4(e.value)
	case *FloatEntry:
		b.U4(e.bits)
	case *LongEntry:
		b.U8(uint64(e.value))
	case *DoubleEntry:
		b.U8(e.bits)
	case *ClassEntry:
		b.U2(uint16(e.Name.index))
	case *StringEntry:
		b.U2(uint16(e.Value.index))
	case *MethodTypeEntry:
		b.U2(uint16(e.Descriptor.index))
	case *ModuleEntry:
		b.U2(uint16(e.Name.index))
	case *PackageEntry:
		b.U2(uint16(e.Name.index))
	case *NameAndTypeEntry:
		b.U2(uint16(e.Name.index))
		b.U2(uint16(e.Type.index))
	case *MemberRefEntry:
		b.U2(uint16(e.Owner.index))
		b.U2(uint16(e.NameAndType.index))
	case *MethodHandleEntry:
		b.U1(uint8(e.RefKind))
		b.U2(uint16(e.Reference.index))
	case *DynamicEntry:
		b.U2(uint16(e.Bootstrap.index))
		b.U2(uint16(e.NameAndType.index))
	}
	return nil
}
