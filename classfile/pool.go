package classfile

import (
	stderrors "errors"

	"github.com/wippyai/jclassfile/classfile/internal/binary"
	"github.com/wippyai/jclassfile/errors"
)

// poolView is the read side shared by parsed pools and pool builders.
type poolView interface {
	entryAt(i int) PoolEntry
	size() int
	bootstrapAt(i int) *BootstrapMethodEntry
}

// lookup resolves an index in v to an entry of type T or reports a
// malformed reference at pos.
func lookup[T PoolEntry](v poolView, idx, pos int) (T, error) {
	var zero T
	e := v.entryAt(idx)
	if e == nil {
		return zero, errors.Malformed(pos, "invalid constant pool index %d", idx)
	}
	t, ok := e.(T)
	if !ok {
		return zero, errors.Malformed(pos, "constant pool index %d: unexpected %s entry", idx, e.Tag())
	}
	return t, nil
}

// lookupOptional is lookup where index 0 means absent.
func lookupOptional[T PoolEntry](v poolView, idx, pos int) (T, error) {
	if idx == 0 {
		var zero T
		return zero, nil
	}
	return lookup[T](v, idx, pos)
}

// ConstantPool is the immutable pool of a parsed class.
type ConstantPool struct {
	table      *poolTable
	entries    []PoolEntry
	bootstraps []*BootstrapMethodEntry
	// raw holds the encoded entries, so a pool shared by a builder can be
	// written back unchanged.
	raw []byte

	pendingDynamic []pendingDynamic
}

type pendingDynamic struct {
	entry *DynamicEntry
	bsm   int
	pos   int
}

// Size returns constant_pool_count: one more than the highest index.
func (p *ConstantPool) Size() int { return len(p.entries) }

// Entry returns the entry at index i.
func (p *ConstantPool) Entry(i int) (PoolEntry, error) {
	e := p.entryAt(i)
	if e == nil {
		return nil, errors.OutOfBounds(errors.PhaseTransform, []string{"constant_pool"}, i, len(p.entries))
	}
	return e, nil
}

// BootstrapMethods returns the bootstrap method table.
func (p *ConstantPool) BootstrapMethods() []*BootstrapMethodEntry { return p.bootstraps }

func (p *ConstantPool) entryAt(i int) PoolEntry {
	if i <= 0 || i >= len(p.entries) {
		return nil
	}
	return p.entries[i]
}

func (p *ConstantPool) size() int { return len(p.entries) }

func (p *ConstantPool) bootstrapAt(i int) *BootstrapMethodEntry {
	if i < 0 || i >= len(p.bootstraps) {
		return nil
	}
	return p.bootstraps[i]
}

// readPool decodes the constant pool starting at the count field and leaves
// the reader just past the last entry.
func readPool(r *binary.Reader) (*ConstantPool, error) {
	count, err := r.ReadU2()
	if err != nil {
		return nil, truncated("constant_pool", err)
	}
	if count == 0 {
		return nil, errors.Malformed(r.Position()-2, "constant_pool_count is zero")
	}
	start := r.Position()
	p := &ConstantPool{table: &poolTable{}, entries: make([]PoolEntry, count)}
	offsets := make([]int, count)

	// First pass: locate entries and allocate them. Forward references are
	// legal, so fields are filled in the second pass.
	for i := 1; i < int(count); i++ {
		pos := r.Position()
		tag, err := r.ReadU1()
		if err != nil {
			return nil, truncated("constant_pool", err)
		}
		offsets[i] = pos
		var skip int
		var e PoolEntry
		switch Tag(tag) {
		case TagUtf8:
			n, err := r.ReadU2()
			if err != nil {
				return nil, truncated("constant_pool", err)
			}
			skip = int(n)
			e = &Utf8Entry{}
		case TagInteger:
			skip, e = 4, &IntegerEntry{}
		case TagFloat:
			skip, e = 4, &FloatEntry{}
		case TagLong:
			skip, e = 8, &LongEntry{}
		case TagDouble:
			skip, e = 8, &DoubleEntry{}
		case TagClass:
			skip, e = 2, &ClassEntry{}
		case TagString:
			skip, e = 2, &StringEntry{}
		case TagMethodType:
			skip, e = 2, &MethodTypeEntry{}
		case TagModule:
			skip, e = 2, &ModuleEntry{}
		case TagPackage:
			skip, e = 2, &PackageEntry{}
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			skip, e = 4, &MemberRefEntry{tag: Tag(tag)}
		case TagNameAndType:
			skip, e = 4, &NameAndTypeEntry{}
		case TagConstantDynamic, TagInvokeDynamic:
			skip, e = 4, &DynamicEntry{tag: Tag(tag)}
		case TagMethodHandle:
			skip, e = 3, &MethodHandleEntry{}
		default:
			return nil, errors.Malformed(pos, "unknown constant pool tag %d at index %d", tag, i)
		}
		if err := r.Skip(skip); err != nil {
			return nil, truncated("constant_pool", err)
		}
		b := e.base()
		b.table, b.index = p.table, i
		p.entries[i] = e
		if Tag(tag).width() == 2 {
			if i+1 >= int(count) {
				return nil, errors.Malformed(pos, "%s entry at index %d overruns the pool", Tag(tag), i)
			}
			i++
		}
	}
	end := r.Position()
	p.raw = r.Slice(start, end)

	for i := 1; i < int(count); i++ {
		e := p.entries[i]
		if e == nil {
			continue
		}
		if err := p.fill(r, e, offsets[i]); err != nil {
			return nil, err
		}
	}
	if err := r.Seek(end); err != nil {
		return nil, truncated("constant_pool", err)
	}
	return p, nil
}

func (p *ConstantPool) fill(r *binary.Reader, e PoolEntry, pos int) error {
	body := pos + 1
	u2 := func(off int) int { return int(r.U2At(off)) }
	switch e := e.(type) {
	case *Utf8Entry:
		n := u2(body)
		s, err := binary.DecodeModifiedUTF8(r.Slice(body+2, body+2+n))
		if err != nil {
			return errors.InvalidUTF8(body+2, r.Slice(body+2, body+2+n))
		}
		e.value = s
	case *IntegerEntry:
		e.value = r.S4At(body)
	case *FloatEntry:
		e.bits = uint32(r.S4At(body))
	case *LongEntry:
		e.value = int64(uint64(uint32(r.S4At(body)))<<32 | uint64(uint32(r.S4At(body+4))))
	case *DoubleEntry:
		e.bits = uint64(uint32(r.S4At(body)))<<32 | uint64(uint32(r.S4At(body+4)))
	case *ClassEntry:
		name, err := lookup[*Utf8Entry](p, u2(body), pos)
		if err != nil {
			return err
		}
		e.Name = name
	case *StringEntry:
		v, err := lookup[*Utf8Entry](p, u2(body), pos)
		if err != nil {
			return err
		}
		e.Value = v
	case *MethodTypeEntry:
		v, err := lookup[*Utf8Entry](p, u2(body), pos)
		if err != nil {
			return err
		}
		e.Descriptor = v
	case *ModuleEntry:
		v, err := lookup[*Utf8Entry](p, u2(body), pos)
		if err != nil {
			return err
		}
		e.Name = v
	case *PackageEntry:
		v, err := lookup[*Utf8Entry](p, u2(body), pos)
		if err != nil {
			return err
		}
		e.Name = v
	case *NameAndTypeEntry:
		name, err := lookup[*Utf8Entry](p, u2(body), pos)
		if err != nil {
			return err
		}
		typ, err := lookup[*Utf8Entry](p, u2(body+2), pos)
		if err != nil {
			return err
		}
		e.Name, e.Type = name, typ
	case *MemberRefEntry:
		owner, err := lookup[*ClassEntry](p, u2(body), pos)
		if err != nil {
			return err
		}
		nat, err := lookup[*NameAndTypeEntry](p, u2(body+2), pos)
		if err != nil {
			return err
		}
		e.Owner, e.NameAndType = owner, nat
	case *MethodHandleEntry:
		kind := RefKind(r.U1At(body))
		ref, err := lookup[*MemberRefEntry](p, u2(body+1), pos)
		if err != nil {
			return err
		}
		if !refKindAccepts(kind, ref.tag) {
			return errors.Malformed(pos, "method handle kind %d cannot reference %s", kind, ref.tag)
		}
		e.RefKind, e.Reference = kind, ref
	case *DynamicEntry:
		nat, err := lookup[*NameAndTypeEntry](p, u2(body+2), pos)
		if err != nil {
			return err
		}
		e.NameAndType = nat
		p.pendingDynamic = append(p.pendingDynamic, pendingDynamic{entry: e, bsm: u2(body), pos: pos})
	}
	return nil
}

func refKindAccepts(kind RefKind, tag Tag) bool {
	switch kind {
	case RefGetField, RefGetStatic, RefPutField, RefPutStatic:
		return tag == TagFieldref
	case RefInvokeVirtual, RefNewInvokeSpecial:
		return tag == TagMethodref
	case RefInvokeStatic, RefInvokeSpecial:
		return tag == TagMethodref || tag == TagInterfaceMethodref
	case RefInvokeInterface:
		return tag == TagInterfaceMethodref
	}
	return false
}

// readBootstrapMethods decodes a BootstrapMethods attribute body at off and
// links pending dynamic entries. A nil reader means the class has no such
// attribute.
func (p *ConstantPool) readBootstrapMethods(r *binary.Reader, off, length int) error {
	if r != nil {
		end := off + length
		if err := r.Seek(off); err != nil {
			return truncated("BootstrapMethods", err)
		}
		n, err := r.ReadU2()
		if err != nil {
			return truncated("BootstrapMethods", err)
		}
		p.bootstraps = make([]*BootstrapMethodEntry, n)
		for i := range p.bootstraps {
			pos := r.Position()
			hidx, err := r.ReadU2()
			if err != nil {
				return truncated("BootstrapMethods", err)
			}
			handle, err := lookup[*MethodHandleEntry](p, int(hidx), pos)
			if err != nil {
				return err
			}
			argc, err := r.ReadU2()
			if err != nil {
				return truncated("BootstrapMethods", err)
			}
			args := make([]LoadableEntry, argc)
			for j := range args {
				aidx, err := r.ReadU2()
				if err != nil {
					return truncated("BootstrapMethods", err)
				}
				if args[j], err = lookup[LoadableEntry](p, int(aidx), r.Position()-2); err != nil {
					return err
				}
			}
			p.bootstraps[i] = &BootstrapMethodEntry{
				entryBase: entryBase{table: p.table, index: i},
				Handle:    handle,
				Args:      args,
			}
		}
		if r.Position() != end {
			return errors.Malformed(off, "BootstrapMethods length %d does not match contents", length)
		}
	}
	for _, d := range p.pendingDynamic {
		bsm := p.bootstrapAt(d.bsm)
		if bsm == nil {
			return errors.Malformed(d.pos, "%s references missing bootstrap method %d", d.entry.tag, d.bsm)
		}
		d.entry.Bootstrap = bsm
	}
	p.pendingDynamic = nil
	return nil
}

// truncated converts a reader failure into a malformed-input error.
func truncated(section string, err error) error {
	pos := 0
	var pe *binary.ParseError
	if stderrors.As(err, &pe) {
		pos = pe.Position
	}
	return errors.New(errors.PhaseParse, errors.KindMalformedInput).
		Position(pos).
		Path(section).
		Cause(err).
		Detail("%s: unexpected end of data", section).
		Build()
}
