package classfile

import (
	"sync"

	"github.com/wippyai/jclassfile/classfile/internal/binary"
	"github.com/wippyai/jclassfile/errors"
)

// encodedCode is a method body in bytecode form with its tables resolved to
// offsets. Parsed bodies decode into it lazily; direct code builders produce
// it when they finish.
type encodedCode struct {
	maxStack    int
	maxLocals   int
	explicitMax bool
	code        []byte
	handlers    []handlerRow
	lines       []lineRow
	locals      []localRow
	charRanges  []charRangeRow
	attrs       *attributeSet
	subroutines bool
	// codePos is the file offset of the bytecode of a parsed body.
	codePos int
}

type handlerRow struct {
	start, end, handler int
	catchType           *ClassEntry
}

type lineRow struct {
	pc, line int
}

type localRow struct {
	start, length, slot int
	name, desc          *Utf8Entry
	generic             bool
}

type charRangeRow struct {
	start, end         int
	charStart, charEnd int
	flags              int
}

// CodeModel is a method body. Parsed bodies are decoded on first access;
// built bodies are either encoded bytecode (direct builders) or a list of
// elements still to be encoded (buffered builders).
type CodeModel struct {
	method *MethodModel
	pool   poolView
	opts   Options

	// Parsed bodies keep the attribute payload for verbatim copies.
	// filtered is set when attribute processing removed entries from it.
	payload    []byte
	payloadPos int
	filtered   bool
	tables     []rawAttribute
	rest       []rawAttribute

	encOnce sync.Once
	enc     *encodedCode
	encErr  error

	buffered    []CodeElement
	bufferedMax struct {
		stack, locals int
		explicit      bool
	}

	elemOnce sync.Once
	elements []CodeElement
	elemErr  error
}

func (*CodeModel) isMethodElement() {}

// Method returns the enclosing method.
func (c *CodeModel) Method() *MethodModel { return c.method }

// MaxStack returns max_stack: the declared value for parsed bodies and the
// computed or explicit value for built ones.
func (c *CodeModel) MaxStack() int {
	if c.buffered != nil {
		if count := c.bufferedCount(); count != nil {
			return count.maxStack
		}
		return c.bufferedMax.stack
	}
	enc, err := c.encoded()
	if err != nil {
		return 0
	}
	return enc.maxStack
}

// MaxLocals returns max_locals.
func (c *CodeModel) MaxLocals() int {
	if c.buffered != nil {
		if count := c.bufferedCount(); count != nil {
			return max(count.maxLocals, c.bufferedMax.locals)
		}
		return c.bufferedMax.locals
	}
	enc, err := c.encoded()
	if err != nil {
		return 0
	}
	return enc.maxLocals
}

// bufferedCount encodes a buffered body against a scratch pool to compute
// its maxima. It returns nil when the maxima were declared or the body
// does not encode.
func (c *CodeModel) bufferedCount() *stackCount {
	if c.bufferedMax.explicit || c.method == nil {
		return nil
	}
	pool := NewPoolBuilder()
	enc, err := encodeElements(c.buffered, pool, c.opts)
	if err != nil {
		return nil
	}
	flow, err := newCodeFlow(enc.code, enc.handlers, pool)
	if err != nil {
		return nil
	}
	slots := 0
	if mt, err := c.method.MethodType(); err == nil {
		slots = mt.ParameterSlots()
	}
	if !c.method.IsStatic() {
		slots++
	}
	count, err := countStack(flow, slots)
	if err != nil {
		return nil
	}
	return count
}

// Bytecode returns the encoded instructions, or nil for a buffered body.
func (c *CodeModel) Bytecode() []byte {
	if c.buffered != nil {
		return nil
	}
	enc, err := c.encoded()
	if err != nil {
		return nil
	}
	return enc.code
}

// Attributes returns code attributes other than the line number, local
// variable and character range tables, which are delivered as elements.
func (c *CodeModel) Attributes() ([]Attribute, error) {
	if c.buffered != nil {
		var out []Attribute
		for _, e := range c.buffered {
			if a, ok := e.(Attribute); ok {
				out = append(out, a)
			}
		}
		return out, nil
	}
	enc, err := c.encoded()
	if err != nil {
		return nil, err
	}
	return enc.attrs.get()
}

// ExceptionHandlers returns the exception table as elements.
func (c *CodeModel) ExceptionHandlers() ([]ExceptionCatch, error) {
	elems, err := c.Elements()
	if err != nil {
		return nil, err
	}
	var out []ExceptionCatch
	for _, e := range elems {
		if ec, ok := e.(ExceptionCatch); ok {
			out = append(out, ec)
		}
	}
	return out, nil
}

// Elements returns the body as a stream: exception table rows, debug
// entries, then instructions interleaved with label bindings and line
// numbers, then code attributes. StackMapTable is not part of the stream.
func (c *CodeModel) Elements() ([]CodeElement, error) {
	if c.buffered != nil {
		return c.buffered, nil
	}
	c.elemOnce.Do(func() {
		enc, err := c.encoded()
		if err != nil {
			c.elemErr = err
			return
		}
		c.elements, c.elemErr = decodeElements(enc, c.pool, c.opts)
	})
	return c.elements, c.elemErr
}

func (c *CodeModel) encoded() (*encodedCode, error) {
	c.encOnce.Do(func() {
		if c.enc == nil {
			c.enc, c.encErr = decodeCodeTables(c.payload, c.payloadPos, c.tables, c.rest, c.pool)
		}
	})
	return c.enc, c.encErr
}

// readCodeAttribute validates the structure of a Code payload and returns a
// model that decodes the contents on demand.
func readCodeAttribute(raw rawAttribute, pool poolView, opts Options) (*CodeModel, error) {
	r := binary.NewReader(raw.data)
	fail := func(err error) (*CodeModel, error) {
		if _, ok := err.(*errors.Error); !ok {
			err = truncated(AttrCode, err)
		}
		return nil, rebase(err, raw.pos)
	}
	if err := r.Skip(4); err != nil {
		return fail(err)
	}
	codeLen, err := r.ReadU4()
	if err != nil {
		return fail(err)
	}
	if codeLen == 0 || codeLen >= 0x10000 || int64(codeLen) > int64(r.Remaining()) {
		return fail(errors.Malformed(4, "invalid code length %d", codeLen))
	}
	if err := r.Skip(int(codeLen)); err != nil {
		return fail(err)
	}
	n, err := r.ReadU2()
	if err != nil {
		return fail(err)
	}
	if err := r.Skip(int(n) * 8); err != nil {
		return fail(err)
	}
	var tables []rawAttribute
	total := 0
	rest, err := readAttributeHeaders(r, pool, AttrCode, opts.Attributes, func(a rawAttribute) (bool, error) {
		total++
		switch a.name.value {
		case AttrLineNumberTable, AttrLocalVariableTable, AttrLocalVariableTypeTable, AttrCharacterRangeTable:
			tables = append(tables, a)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return fail(err)
	}
	if r.Remaining() != 0 {
		return nil, errors.Malformed(raw.pos, "Code attribute has %d trailing bytes", r.Remaining())
	}
	for i := range tables {
		tables[i].pos += raw.pos
	}
	for i := range rest {
		rest[i].pos += raw.pos
	}
	return &CodeModel{
		pool: pool, opts: opts,
		payload: raw.data, payloadPos: raw.pos,
		filtered: total-len(tables) != len(rest),
		tables:   tables, rest: rest,
	}, nil
}

// rebase moves the position of a parse error found in a nested payload to
// a file offset.
func rebase(err error, base int) error {
	if e, ok := err.(*errors.Error); ok && e.Phase == errors.PhaseParse {
		e.Position += base
	}
	return err
}

// decodeCodeTables decodes the exception table and debug tables of a
// validated Code payload.
func decodeCodeTables(payload []byte, base int, tables, rest []rawAttribute, pool poolView) (*encodedCode, error) {
	r := binary.NewReader(payload)
	enc := &encodedCode{
		maxStack:  int(r.U2At(0)),
		maxLocals: int(r.U2At(2)),
		codePos:   base + 8,
	}
	codeLen := int(uint32(r.S4At(4)))
	enc.code = r.Slice(8, 8+codeLen)
	_ = r.Seek(8 + codeLen)
	n, _ := r.ReadU2()
	enc.handlers = make([]handlerRow, n)
	for i := range enc.handlers {
		at := r.Position()
		h := &enc.handlers[i]
		h.start, h.end, h.handler = int(r.U2At(at)), int(r.U2At(at+2)), int(r.U2At(at+4))
		ct, err := lookupOptional[*ClassEntry](pool, int(r.U2At(at+6)), base+at+6)
		if err != nil {
			return nil, err
		}
		h.catchType = ct
		if h.start >= h.end || h.end > codeLen || h.handler >= codeLen {
			return nil, errors.Malformed(base+at, "invalid exception table range %d..%d -> %d", h.start, h.end, h.handler)
		}
		_ = r.Skip(8)
	}
	enc.attrs = &attributeSet{pool: pool, raws: rest}

	for _, t := range tables {
		tr := binary.NewReader(t.data)
		count, err := tr.ReadU2()
		if err != nil {
			return nil, rebase(truncated(t.name.value, err), t.pos)
		}
		switch t.name.value {
		case AttrLineNumberTable:
			if tr.Remaining() != int(count)*4 {
				return nil, errors.Malformed(t.pos, "LineNumberTable length mismatch")
			}
			for i := 0; i < int(count); i++ {
				at := 2 + i*4
				enc.lines = append(enc.lines, lineRow{pc: int(tr.U2At(at)), line: int(tr.U2At(at + 2))})
			}
		case AttrLocalVariableTable, AttrLocalVariableTypeTable:
			if tr.Remaining() != int(count)*10 {
				return nil, errors.Malformed(t.pos, "%s length mismatch", t.name.value)
			}
			for i := 0; i < int(count); i++ {
				at := 2 + i*10
				name, err := lookup[*Utf8Entry](pool, int(tr.U2At(at+4)), t.pos+at+4)
				if err != nil {
					return nil, err
				}
				desc, err := lookup[*Utf8Entry](pool, int(tr.U2At(at+6)), t.pos+at+6)
				if err != nil {
					return nil, err
				}
				enc.locals = append(enc.locals, localRow{
					start:   int(tr.U2At(at)),
					length:  int(tr.U2At(at + 2)),
					name:    name,
					desc:    desc,
					slot:    int(tr.U2At(at + 8)),
					generic: t.name.value == AttrLocalVariableTypeTable,
				})
			}
		case AttrCharacterRangeTable:
			if tr.Remaining() != int(count)*14 {
				return nil, errors.Malformed(t.pos, "CharacterRangeTable length mismatch")
			}
			for i := 0; i < int(count); i++ {
				at := 2 + i*14
				enc.charRanges = append(enc.charRanges, charRangeRow{
					start:     int(tr.U2At(at)),
					end:       int(tr.U2At(at + 2)),
					charStart: int(tr.S4At(at + 4)),
					charEnd:   int(tr.S4At(at + 8)),
					flags:     int(tr.U2At(at + 12)),
				})
			}
		}
	}
	return enc, nil
}

// decodeElements turns encoded code into its element stream.
func decodeElements(enc *encodedCode, pool poolView, opts Options) ([]CodeElement, error) {
	codeLen := len(enc.code)
	labels := make(map[int]*Label)
	labelAt := func(bci int) *Label {
		l, ok := labels[bci]
		if !ok {
			l = NewLabel()
			labels[bci] = l
		}
		return l
	}
	dec := &instructionDecoder{code: enc.code, pool: pool, labelAt: labelAt}

	type located struct {
		bci int
		ins Instruction
	}
	var insns []located
	starts := make(map[int]bool)
	for bci := 0; bci < codeLen; {
		ins, n, err := dec.decode(bci)
		if err != nil {
			return nil, rebase(err, enc.codePos)
		}
		insns = append(insns, located{bci, ins})
		starts[bci] = true
		bci += n
	}

	var out []CodeElement
	for _, h := range enc.handlers {
		out = append(out, ExceptionCatch{
			Start:     labelAt(h.start),
			End:       labelAt(h.end),
			Handler:   labelAt(h.handler),
			CatchType: h.catchType,
		})
	}
	if opts.DebugElements == DebugPass {
		for _, lv := range enc.locals {
			if lv.start+lv.length > codeLen {
				return nil, errors.Malformed(0, "local variable %s range exceeds code", lv.name.value)
			}
			if lv.generic {
				out = append(out, LocalVariableType{
					Slot: lv.slot, Name: lv.name, Signature: lv.desc,
					Start: labelAt(lv.start), End: labelAt(lv.start + lv.length),
				})
			} else {
				out = append(out, LocalVariable{
					Slot: lv.slot, Name: lv.name, Type: lv.desc,
					Start: labelAt(lv.start), End: labelAt(lv.start + lv.length),
				})
			}
		}
		for _, cr := range enc.charRanges {
			if cr.end >= codeLen || cr.start > cr.end {
				return nil, errors.Malformed(0, "character range %d..%d exceeds code", cr.start, cr.end)
			}
			// Character ranges are inclusive; the end label sits after the
			// last covered instruction.
			endIns := cr.end
			n, err := instructionLength(enc.code, endIns)
			if err != nil {
				return nil, err
			}
			out = append(out, CharacterRange{
				Start: labelAt(cr.start), End: labelAt(endIns + n),
				CharStart: cr.charStart, CharEnd: cr.charEnd, Flags: cr.flags,
			})
		}
	}

	lines := make(map[int][]int)
	if opts.LineNumbers == DebugPass {
		for _, ln := range enc.lines {
			lines[ln.pc] = append(lines[ln.pc], ln.line)
		}
	}
	for bci := range labels {
		if bci != codeLen && !starts[bci] {
			return nil, errors.Malformed(0, "label offset %d is not an instruction boundary", bci)
		}
	}
	for _, li := range insns {
		if l, ok := labels[li.bci]; ok {
			out = append(out, LabelTarget{Label: l})
		}
		for _, line := range lines[li.bci] {
			out = append(out, LineNumber{Line: line})
		}
		out = append(out, li.ins)
	}
	if l, ok := labels[codeLen]; ok {
		out = append(out, LabelTarget{Label: l})
	}

	attrs, err := enc.attrs.get()
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if _, ok := a.(StackMapTableAttribute); ok {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
