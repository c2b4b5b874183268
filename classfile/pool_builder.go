package classfile

import (
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

const maxPoolSize = 0xFFFF

type poolKey struct {
	tag  Tag
	s    string
	a, b int
	x    uint64
}

// PoolBuilder is an append-only constant pool that interns entries by value.
// A builder created with SharedPoolBuilder extends a parsed pool: the parsed
// entries keep their indices, which lets unchanged parts of a class be copied
// without renumbering.
type PoolBuilder struct {
	table      *poolTable
	parent     *ConstantPool
	entries    []PoolEntry
	bootstraps []*BootstrapMethodEntry

	index    map[poolKey]PoolEntry
	bsmIndex map[string]*BootstrapMethodEntry
}

// NewPoolBuilder returns an empty builder.
func NewPoolBuilder() *PoolBuilder {
	return &PoolBuilder{table: &poolTable{}, entries: []PoolEntry{nil}}
}

// SharedPoolBuilder returns a builder whose first entries are those of p.
func SharedPoolBuilder(p *ConstantPool) *PoolBuilder {
	b := &PoolBuilder{
		table:      &poolTable{},
		parent:     p,
		entries:    append([]PoolEntry(nil), p.entries...),
		bootstraps: append([]*BootstrapMethodEntry(nil), p.bootstraps...),
	}
	if len(b.entries) == 0 {
		b.entries = []PoolEntry{nil}
	}
	return b
}

// Size returns the would-be constant_pool_count.
func (b *PoolBuilder) Size() int { return len(b.entries) }

// Entry returns the entry at index i.
func (b *PoolBuilder) Entry(i int) (PoolEntry, error) {
	e := b.entryAt(i)
	if e == nil {
		return nil, errors.OutOfBounds(errors.PhaseBuild, []string{"constant_pool"}, i, len(b.entries))
	}
	return e, nil
}

// BootstrapMethods returns the bootstrap table in index order.
func (b *PoolBuilder) BootstrapMethods() []*BootstrapMethodEntry { return b.bootstraps }

// Parent returns the parsed pool this builder extends, or nil.
func (b *PoolBuilder) Parent() *ConstantPool { return b.parent }

func (b *PoolBuilder) entryAt(i int) PoolEntry {
	if i <= 0 || i >= len(b.entries) {
		return nil
	}
	return b.entries[i]
}

func (b *PoolBuilder) size() int { return len(b.entries) }

func (b *PoolBuilder) bootstrapAt(i int) *BootstrapMethodEntry {
	if i < 0 || i >= len(b.bootstraps) {
		return nil
	}
	return b.bootstraps[i]
}

// err reports pool overflow. Interning never fails eagerly; the writer checks.
func (b *PoolBuilder) err() error {
	if len(b.entries) > maxPoolSize {
		return errors.IllegalArgument(errors.PhaseWrite, "constant pool has %d entries, limit is %d",
			len(b.entries)-1, maxPoolSize-1)
	}
	if len(b.bootstraps) > maxPoolSize {
		return errors.IllegalArgument(errors.PhaseWrite, "too many bootstrap methods: %d", len(b.bootstraps))
	}
	return nil
}

// ownsTable reports whether indices from table t are valid in this builder.
func (b *PoolBuilder) ownsTable(t *poolTable) bool {
	return t == b.table || (b.parent != nil && t == b.parent.table)
}

// Owns reports whether e can be referenced by its index in this builder.
func (b *PoolBuilder) Owns(e PoolEntry) bool {
	return !absent(e) && b.ownsTable(e.base().table)
}

// ownsPool reports whether indices of the pool behind v are valid here.
func (b *PoolBuilder) ownsPool(v poolView) bool {
	switch v := v.(type) {
	case *PoolBuilder:
		return v == b
	case *ConstantPool:
		return b.parent == v
	}
	return false
}

func (b *PoolBuilder) ensureIndex() {
	if b.index != nil {
		return
	}
	b.index = make(map[poolKey]PoolEntry, len(b.entries))
	for _, e := range b.entries {
		if e == nil {
			continue
		}
		k := keyOf(e)
		if _, dup := b.index[k]; !dup {
			b.index[k] = e
		}
	}
	b.bsmIndex = make(map[string]*BootstrapMethodEntry, len(b.bootstraps))
	for _, e := range b.bootstraps {
		k := bootstrapKey(e.Handle, e.Args)
		if _, dup := b.bsmIndex[k]; !dup {
			b.bsmIndex[k] = e
		}
	}
}

func keyOf(e PoolEntry) poolKey {
	switch e := e.(type) {
	case *Utf8Entry:
		return poolKey{tag: TagUtf8, s: e.value}
	case *IntegerEntry:
		return poolKey{tag: TagInteger, x: uint64(uint32(e.value))}
	case *FloatEntry:
		return poolKey{tag: TagFloat, x: uint64(e.bits)}
	case *LongEntry:
		return poolKey{tag: TagLong, x: uint64(e.value)}
	case *DoubleEntry:
		return poolKey{tag: TagDouble, x: e.bits}
	case *ClassEntry:
		return poolKey{tag: TagClass, a: e.Name.index}
	case *StringEntry:
		return poolKey{tag: TagString, a: e.Value.index}
	case *MethodTypeEntry:
		return poolKey{tag: TagMethodType, a: e.Descriptor.index}
	case *ModuleEntry:
		return poolKey{tag: TagModule, a: e.Name.index}
	case *PackageEntry:
		return poolKey{tag: TagPackage, a: e.Name.index}
	case *NameAndTypeEntry:
		return poolKey{tag: TagNameAndType, a: e.Name.index, b: e.Type.index}
	case *MemberRefEntry:
		return poolKey{tag: e.tag, a: e.Owner.index, b: e.NameAndType.index}
	case *MethodHandleEntry:
		return poolKey{tag: TagMethodHandle, a: int(e.RefKind), b: e.Reference.index}
	case *DynamicEntry:
		return poolKey{tag: e.tag, a: e.Bootstrap.index, b: e.NameAndType.index}
	}
	panic("classfile: unknown pool entry type")
}

func bootstrapKey(h *MethodHandleEntry, args []LoadableEntry) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(h.index))
	for _, a := range args {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(a.Index()))
	}
	return sb.String()
}

func (b *PoolBuilder) intern(k poolKey, create func() PoolEntry) PoolEntry {
	b.ensureIndex()
	if e, ok := b.index[k]; ok {
		return e
	}
	e := create()
	base := e.base()
	base.table, base.index = b.table, len(b.entries)
	b.entries = append(b.entries, e)
	if e.Tag().width() == 2 {
		b.entries = append(b.entries, nil)
	}
	b.index[k] = e
	return e
}

// Utf8 interns a CONSTANT_Utf8.
func (b *PoolBuilder) Utf8(s string) *Utf8Entry {
	return b.intern(poolKey{tag: TagUtf8, s: s}, func() PoolEntry {
		return &Utf8Entry{value: s}
	}).(*Utf8Entry)
}

// Integer interns a CONSTANT_Integer.
func (b *PoolBuilder) Integer(v int32) *IntegerEntry {
	return b.intern(poolKey{tag: TagInteger, x: uint64(uint32(v))}, func() PoolEntry {
		return &IntegerEntry{value: v}
	}).(*IntegerEntry)
}

// Float interns a CONSTANT_Float.
func (b *PoolBuilder) Float(v float32) *FloatEntry {
	return b.floatBits(math.Float32bits(v))
}

func (b *PoolBuilder) floatBits(bits uint32) *FloatEntry {
	return b.intern(poolKey{tag: TagFloat, x: uint64(bits)}, func() PoolEntry {
		return &FloatEntry{bits: bits}
	}).(*FloatEntry)
}

// Long interns a CONSTANT_Long.
func (b *PoolBuilder) Long(v int64) *LongEntry {
	return b.intern(poolKey{tag: TagLong, x: uint64(v)}, func() PoolEntry {
		return &LongEntry{value: v}
	}).(*LongEntry)
}

// Double interns a CONSTANT_Double.
func (b *PoolBuilder) Double(v float64) *DoubleEntry {
	return b.doubleBits(math.Float64bits(v))
}

func (b *PoolBuilder) doubleBits(bits uint64) *DoubleEntry {
	return b.intern(poolKey{tag: TagDouble, x: bits}, func() PoolEntry {
		return &DoubleEntry{bits: bits}
	}).(*DoubleEntry)
}

// Class interns a CONSTANT_Class by internal name ("java/lang/String", "[I").
func (b *PoolBuilder) Class(internalName string) *ClassEntry {
	return b.ClassEntry(b.Utf8(internalName))
}

// ClassEntry interns a CONSTANT_Class for a name entry.
func (b *PoolBuilder) ClassEntry(name *Utf8Entry) *ClassEntry {
	name = b.adoptUtf8(name)
	return b.intern(poolKey{tag: TagClass, a: name.index}, func() PoolEntry {
		return &ClassEntry{Name: name}
	}).(*ClassEntry)
}

// ClassDesc interns a CONSTANT_Class for a class or array descriptor.
// Primitive types have no class constant.
func (b *PoolBuilder) ClassDesc(d descriptor.ClassDesc) (*ClassEntry, error) {
	if d.IsPrimitive() {
		return nil, errors.IllegalConstant(d, "primitive types have no CONSTANT_Class form")
	}
	return b.Class(d.InternalName()), nil
}

// String interns a CONSTANT_String.
func (b *PoolBuilder) String(s string) *StringEntry {
	v := b.Utf8(s)
	return b.intern(poolKey{tag: TagString, a: v.index}, func() PoolEntry {
		return &StringEntry{Value: v}
	}).(*StringEntry)
}

// NameAndType interns a CONSTANT_NameAndType.
func (b *PoolBuilder) NameAndType(name, typ string) *NameAndTypeEntry {
	return b.nameAndType(b.Utf8(name), b.Utf8(typ))
}

func (b *PoolBuilder) nameAndType(name, typ *Utf8Entry) *NameAndTypeEntry {
	name, typ = b.adoptUtf8(name), b.adoptUtf8(typ)
	return b.intern(poolKey{tag: TagNameAndType, a: name.index, b: typ.index}, func() PoolEntry {
		return &NameAndTypeEntry{Name: name, Type: typ}
	}).(*NameAndTypeEntry)
}

// FieldRef interns a CONSTANT_Fieldref.
func (b *PoolBuilder) FieldRef(owner, name, typ string) *MemberRefEntry {
	return b.MemberRef(TagFieldref, b.Class(owner), b.NameAndType(name, typ))
}

// MethodRef interns a CONSTANT_Methodref.
func (b *PoolBuilder) MethodRef(owner, name, typ string) *MemberRefEntry {
	return b.MemberRef(TagMethodref, b.Class(owner), b.NameAndType(name, typ))
}

// InterfaceMethodRef interns a CONSTANT_InterfaceMethodref.
func (b *PoolBuilder) InterfaceMethodRef(owner, name, typ string) *MemberRefEntry {
	return b.MemberRef(TagInterfaceMethodref, b.Class(owner), b.NameAndType(name, typ))
}

// MemberRef interns a member reference of the given tag.
func (b *PoolBuilder) MemberRef(tag Tag, owner *ClassEntry, nat *NameAndTypeEntry) *MemberRefEntry {
	owner, nat = b.adoptClass(owner), b.adoptNameAndType(nat)
	return b.intern(poolKey{tag: tag, a: owner.index, b: nat.index}, func() PoolEntry {
		return &MemberRefEntry{tag: tag, Owner: owner, NameAndType: nat}
	}).(*MemberRefEntry)
}

// MethodType interns a CONSTANT_MethodType.
func (b *PoolBuilder) MethodType(desc string) *MethodTypeEntry {
	d := b.Utf8(desc)
	return b.intern(poolKey{tag: TagMethodType, a: d.index}, func() PoolEntry {
		return &MethodTypeEntry{Descriptor: d}
	}).(*MethodTypeEntry)
}

// MethodHandle interns a CONSTANT_MethodHandle.
func (b *PoolBuilder) MethodHandle(kind RefKind, ref *MemberRefEntry) *MethodHandleEntry {
	ref = b.adoptMemberRef(ref)
	return b.intern(poolKey{tag: TagMethodHandle, a: int(kind), b: ref.index}, func() PoolEntry {
		return &MethodHandleEntry{RefKind: kind, Reference: ref}
	}).(*MethodHandleEntry)
}

// Module interns a CONSTANT_Module.
func (b *PoolBuilder) Module(name string) *ModuleEntry {
	n := b.Utf8(name)
	return b.intern(poolKey{tag: TagModule, a: n.index}, func() PoolEntry {
		return &ModuleEntry{Name: n}
	}).(*ModuleEntry)
}

// Package interns a CONSTANT_Package.
func (b *PoolBuilder) Package(name string) *PackageEntry {
	n := b.Utf8(name)
	return b.intern(poolKey{tag: TagPackage, a: n.index}, func() PoolEntry {
		return &PackageEntry{Name: n}
	}).(*PackageEntry)
}

// BootstrapMethod interns a bootstrap table row.
func (b *PoolBuilder) BootstrapMethod(handle *MethodHandleEntry, args ...LoadableEntry) *BootstrapMethodEntry {
	handle = b.adoptMethodHandle(handle)
	adopted := make([]LoadableEntry, len(args))
	for i, a := range args {
		adopted[i] = b.adoptLoadable(a)
	}
	b.ensureIndex()
	k := bootstrapKey(handle, adopted)
	if e, ok := b.bsmIndex[k]; ok {
		return e
	}
	e := &BootstrapMethodEntry{
		entryBase: entryBase{table: b.table, index: len(b.bootstraps)},
		Handle:    handle,
		Args:      adopted,
	}
	b.bootstraps = append(b.bootstraps, e)
	b.bsmIndex[k] = e
	return e
}

// ConstantDynamic interns a CONSTANT_Dynamic.
func (b *PoolBuilder) ConstantDynamic(bsm *BootstrapMethodEntry, name, typ string) *DynamicEntry {
	return b.dynamic(TagConstantDynamic, bsm, b.NameAndType(name, typ))
}

// InvokeDynamic interns a CONSTANT_InvokeDynamic.
func (b *PoolBuilder) InvokeDynamic(bsm *BootstrapMethodEntry, name, typ string) *DynamicEntry {
	return b.dynamic(TagInvokeDynamic, bsm, b.NameAndType(name, typ))
}

func (b *PoolBuilder) dynamic(tag Tag, bsm *BootstrapMethodEntry, nat *NameAndTypeEntry) *DynamicEntry {
	bsm, nat = b.adoptBootstrap(bsm), b.adoptNameAndType(nat)
	return b.intern(poolKey{tag: tag, a: bsm.index, b: nat.index}, func() PoolEntry {
		return &DynamicEntry{tag: tag, Bootstrap: bsm, NameAndType: nat}
	}).(*DynamicEntry)
}

// LoadableConstant interns the pool form of a Go constant. Accepted values
// are the signed integer types, float32, float64, bool, string,
// descriptor.ClassDesc, descriptor.MethodTypeDesc and LoadableEntry.
func (b *PoolBuilder) LoadableConstant(v any) (LoadableEntry, error) {
	switch v := v.(type) {
	case int32:
		return b.Integer(v), nil
	case int16:
		return b.Integer(int32(v)), nil
	case int8:
		return b.Integer(int32(v)), nil
	case uint16:
		return b.Integer(int32(v)), nil
	case bool:
		if v {
			return b.Integer(1), nil
		}
		return b.Integer(0), nil
	case int:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, errors.IllegalConstant(v, "int out of range for CONSTANT_Integer")
		}
		return b.Integer(int32(v)), nil
	case int64:
		return b.Long(v), nil
	case float32:
		return b.Float(v), nil
	case float64:
		return b.Double(v), nil
	case string:
		return b.String(v), nil
	case descriptor.ClassDesc:
		return b.ClassDesc(v)
	case descriptor.MethodTypeDesc:
		return b.MethodType(v.Descriptor()), nil
	case LoadableEntry:
		if absent(v) {
			return nil, errors.IllegalConstant(v, "nil constant entry")
		}
		return b.Adopt(v).(LoadableEntry), nil
	}
	return nil, errors.IllegalConstant(v, "no constant pool form")
}

// Adopt returns an entry equal to e that belongs to this builder, interning
// a structural copy when e comes from an unrelated pool.
func (b *PoolBuilder) Adopt(e PoolEntry) PoolEntry {
	if absent(e) {
		return nil
	}
	if b.Owns(e) {
		return e
	}
	switch e := e.(type) {
	case *Utf8Entry:
		return b.Utf8(e.value)
	case *IntegerEntry:
		return b.Integer(e.value)
	case *FloatEntry:
		return b.floatBits(e.bits)
	case *LongEntry:
		return b.Long(e.value)
	case *DoubleEntry:
		return b.doubleBits(e.bits)
	case *ClassEntry:
		return b.ClassEntry(e.Name)
	case *StringEntry:
		return b.String(e.Value.value)
	case *MethodTypeEntry:
		return b.MethodType(e.Descriptor.value)
	case *ModuleEntry:
		return b.Module(e.Name.value)
	case *PackageEntry:
		return b.Package(e.Name.value)
	case *NameAndTypeEntry:
		return b.nameAndType(e.Name, e.Type)
	case *MemberRefEntry:
		return b.MemberRef(e.tag, e.Owner, e.NameAndType)
	case *MethodHandleEntry:
		return b.MethodHandle(e.RefKind, e.Reference)
	case *DynamicEntry:
		return b.dynamic(e.tag, e.Bootstrap, e.NameAndType)
	}
	panic("classfile: unknown pool entry type")
}

func (b *PoolBuilder) adoptUtf8(e *Utf8Entry) *Utf8Entry {
	if e == nil || b.ownsTable(e.table) {
		return e
	}
	return b.Utf8(e.value)
}

func (b *PoolBuilder) adoptClass(e *ClassEntry) *ClassEntry {
	if e == nil || b.ownsTable(e.table) {
		return e
	}
	return b.ClassEntry(e.Name)
}

func (b *PoolBuilder) adoptNameAndType(e *NameAndTypeEntry) *NameAndTypeEntry {
	if e == nil || b.ownsTable(e.table) {
		return e
	}
	return b.nameAndType(e.Name, e.Type)
}

func (b *PoolBuilder) adoptMemberRef(e *MemberRefEntry) *MemberRefEntry {
	if e == nil || b.ownsTable(e.table) {
		return e
	}
	return b.MemberRef(e.tag, e.Owner, e.NameAndType)
}

func (b *PoolBuilder) adoptMethodHandle(e *MethodHandleEntry) *MethodHandleEntry {
	if e == nil || b.ownsTable(e.table) {
		return e
	}
	return b.MethodHandle(e.RefKind, e.Reference)
}

func (b *PoolBuilder) adoptBootstrap(e *BootstrapMethodEntry) *BootstrapMethodEntry {
	if e == nil || b.ownsTable(e.table) {
		return e
	}
	return b.BootstrapMethod(e.Handle, e.Args...)
}

func (b *PoolBuilder) adoptLoadable(e LoadableEntry) LoadableEntry {
	if absent(e) {
		return nil
	}
	return b.Adopt(e).(LoadableEntry)
}
