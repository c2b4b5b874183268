package classfile

import (
	"fmt"
	"math"
	"strconv"

	"github.com/wippyai/jclassfile/descriptor"
)

// Tag identifies a constant pool entry kind.
type Tag uint8

// Constant pool tags.
const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagConstantDynamic    Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

func (t Tag) String() string {
	switch t {
	case TagUtf8:
		return "Utf8"
	case TagInteger:
		return "Integer"
	case TagFloat:
		return "Float"
	case TagLong:
		return "Long"
	case TagDouble:
		return "Double"
	case TagClass:
		return "Class"
	case TagString:
		return "String"
	case TagFieldref:
		return "Fieldref"
	case TagMethodref:
		return "Methodref"
	case TagInterfaceMethodref:
		return "InterfaceMethodref"
	case TagNameAndType:
		return "NameAndType"
	case TagMethodHandle:
		return "MethodHandle"
	case TagMethodType:
		return "MethodType"
	case TagConstantDynamic:
		return "Dynamic"
	case TagInvokeDynamic:
		return "InvokeDynamic"
	case TagModule:
		return "Module"
	case TagPackage:
		return "Package"
	}
	return "Tag(" + strconv.Itoa(int(t)) + ")"
}

// width is the number of pool slots an entry of this tag occupies.
func (t Tag) width() int {
	if t == TagLong || t == TagDouble {
		return 2
	}
	return 1
}

// RefKind is a method handle reference kind.
type RefKind uint8

// Method handle reference kinds.
const (
	RefGetField         RefKind = 1
	RefGetStatic        RefKind = 2
	RefPutField         RefKind = 3
	RefPutStatic        RefKind = 4
	RefInvokeVirtual    RefKind = 5
	RefInvokeStatic     RefKind = 6
	RefInvokeSpecial    RefKind = 7
	RefNewInvokeSpecial RefKind = 8
	RefInvokeInterface  RefKind = 9
)

// poolTable is the identity of one index space. Entries remember the table
// that numbered them, which is how writers decide whether an index can be
// reused or the entry must be re-interned.
type poolTable struct{ _ byte }

// PoolEntry is an entry of a constant pool. The set of implementations is
// closed.
type PoolEntry interface {
	Tag() Tag
	// Index is the entry's slot in the pool that owns it.
	Index() int
	base() *entryBase
}

// LoadableEntry is an entry that ldc, ConstantValue or a bootstrap argument
// may reference.
type LoadableEntry interface {
	PoolEntry
	// Kind is the type of the value pushed by ldc.
	Kind() descriptor.TypeKind
	loadable()
}

type entryBase struct {
	table *poolTable
	index int
}

func (e *entryBase) Index() int       { return e.index }
func (e *entryBase) base() *entryBase { return e }

// absent reports whether e is nil, including a nil pointer of an entry type
// held in the interface, as optional references such as a catch-all
// handler's catch type are.
func absent(e PoolEntry) bool {
	switch e := e.(type) {
	case nil:
		return true
	case *Utf8Entry:
		return e == nil
	case *IntegerEntry:
		return e == nil
	case *FloatEntry:
		return e == nil
	case *LongEntry:
		return e == nil
	case *DoubleEntry:
		return e == nil
	case *ClassEntry:
		return e == nil
	case *StringEntry:
		return e == nil
	case *NameAndTypeEntry:
		return e == nil
	case *MemberRefEntry:
		return e == nil
	case *MethodTypeEntry:
		return e == nil
	case *MethodHandleEntry:
		return e == nil
	case *DynamicEntry:
		return e == nil
	case *ModuleEntry:
		return e == nil
	case *PackageEntry:
		return e == nil
	}
	return false
}

// Utf8Entry is a CONSTANT_Utf8.
type Utf8Entry struct {
	entryBase
	value string
}

func (*Utf8Entry) Tag() Tag { return TagUtf8 }

// String returns the decoded text.
func (e *Utf8Entry) String() string { return e.value }

// Equals compares the text with s.
func (e *Utf8Entry) Equals(s string) bool { return e != nil && e.value == s }

// IntegerEntry is a CONSTANT_Integer.
type IntegerEntry struct {
	entryBase
	value int32
}

func (*IntegerEntry) Tag() Tag                  { return TagInteger }
func (*IntegerEntry) Kind() descriptor.TypeKind { return descriptor.KindInt }
func (*IntegerEntry) loadable()                 {}

// Value returns the constant.
func (e *IntegerEntry) Value() int32 { return e.value }

// FloatEntry is a CONSTANT_Float. The bit pattern is kept so NaN payloads
// survive a round trip.
type FloatEntry struct {
	entryBase
	bits uint32
}

func (*FloatEntry) Tag() Tag                  { return TagFloat }
func (*FloatEntry) Kind() descriptor.TypeKind { return descriptor.KindFloat }
func (*FloatEntry) loadable()                 {}

// Value returns the constant.
func (e *FloatEntry) Value() float32 { return math.Float32frombits(e.bits) }

// LongEntry is a CONSTANT_Long.
type LongEntry struct {
	entryBase
	value int64
}

func (*LongEntry) Tag() Tag                  { return TagLong }
func (*LongEntry) Kind() descriptor.TypeKind { return descriptor.KindLong }
func (*LongEntry) loadable()                 {}

// Value returns the constant.
func (e *LongEntry) Value() int64 { return e.value }

// DoubleEntry is a CONSTANT_Double.
type DoubleEntry struct {
	entryBase
	bits uint64
}

func (*DoubleEntry) Tag() Tag                  { return TagDouble }
func (*DoubleEntry) Kind() descriptor.TypeKind { return descriptor.KindDouble }
func (*DoubleEntry) loadable()                 {}

// Value returns the constant.
func (e *DoubleEntry) Value() float64 { return math.Float64frombits(e.bits) }

// ClassEntry is a CONSTANT_Class.
type ClassEntry struct {
	entryBase
	Name *Utf8Entry
}

func (*ClassEntry) Tag() Tag                  { return TagClass }
func (*ClassEntry) Kind() descriptor.TypeKind { return descriptor.KindReference }
func (*ClassEntry) loadable()                 {}

// InternalName returns the name as stored ("java/lang/String" or "[I").
func (e *ClassEntry) InternalName() string { return e.Name.value }

// Desc returns the class as a field descriptor.
func (e *ClassEntry) Desc() descriptor.ClassDesc { return descriptor.FromInternalName(e.Name.value) }

// StringEntry is a CONSTANT_String.
type StringEntry struct {
	entryBase
	Value *Utf8Entry
}

func (*StringEntry) Tag() Tag                  { return TagString }
func (*StringEntry) Kind() descriptor.TypeKind { return descriptor.KindReference }
func (*StringEntry) loadable()                 {}

func (e *StringEntry) String() string { return e.Value.value }

// NameAndTypeEntry is a CONSTANT_NameAndType.
type NameAndTypeEntry struct {
	entryBase
	Name *Utf8Entry
	Type *Utf8Entry
}

func (*NameAndTypeEntry) Tag() Tag { return TagNameAndType }

// MemberRefEntry is a Fieldref, Methodref or InterfaceMethodref.
type MemberRefEntry struct {
	entryBase
	tag         Tag
	Owner       *ClassEntry
	NameAndType *NameAndTypeEntry
}

func (e *MemberRefEntry) Tag() Tag { return e.tag }

// Name returns the member name.
func (e *MemberRefEntry) Name() string { return e.NameAndType.Name.value }

// Type returns the member descriptor.
func (e *MemberRefEntry) Type() string { return e.NameAndType.Type.value }

// IsInterface reports whether the entry is an InterfaceMethodref.
func (e *MemberRefEntry) IsInterface() bool { return e.tag == TagInterfaceMethodref }

func (e *MemberRefEntry) String() string {
	return fmt.Sprintf("%s.%s:%s", e.Owner.InternalName(), e.Name(), e.Type())
}

// MethodTypeEntry is a CONSTANT_MethodType.
type MethodTypeEntry struct {
	entryBase
	Descriptor *Utf8Entry
}

func (*MethodTypeEntry) Tag() Tag                  { return TagMethodType }
func (*MethodTypeEntry) Kind() descriptor.TypeKind { return descriptor.KindReference }
func (*MethodTypeEntry) loadable()                 {}

// MethodHandleEntry is a CONSTANT_MethodHandle.
type MethodHandleEntry struct {
	entryBase
	RefKind   RefKind
	Reference *MemberRefEntry
}

func (*MethodHandleEntry) Tag() Tag                  { return TagMethodHandle }
func (*MethodHandleEntry) Kind() descriptor.TypeKind { return descriptor.KindReference }
func (*MethodHandleEntry) loadable()                 {}

// DynamicEntry is a CONSTANT_Dynamic or CONSTANT_InvokeDynamic.
type DynamicEntry struct {
	entryBase
	tag         Tag
	Bootstrap   *BootstrapMethodEntry
	NameAndType *NameAndTypeEntry
}

func (e *DynamicEntry) Tag() Tag { return e.tag }

// Kind is meaningful for CONSTANT_Dynamic only.
func (e *DynamicEntry) Kind() descriptor.TypeKind {
	d, err := descriptor.OfDescriptor(e.NameAndType.Type.value)
	if err != nil {
		return descriptor.KindReference
	}
	return d.Kind()
}

func (*DynamicEntry) loadable() {}

// Name returns the call-site or constant name.
func (e *DynamicEntry) Name() string { return e.NameAndType.Name.value }

// Type returns the descriptor.
func (e *DynamicEntry) Type() string { return e.NameAndType.Type.value }

// ModuleEntry is a CONSTANT_Module.
type ModuleEntry struct {
	entryBase
	Name *Utf8Entry
}

func (*ModuleEntry) Tag() Tag { return TagModule }

// PackageEntry is a CONSTANT_Package.
type PackageEntry struct {
	entryBase
	Name *Utf8Entry
}

func (*PackageEntry) Tag() Tag { return TagPackage }

// BootstrapMethodEntry is one row of the BootstrapMethods table. Its Index is
// the row number, not a pool slot.
type BootstrapMethodEntry struct {
	entryBase
	Handle *MethodHandleEntry
	Args   []LoadableEntry
}

// ConstantValue returns the Go value of a loadable entry: int32, int64,
// float32, float64 or string for primitives and strings, and the entry itself
// otherwise.
func ConstantValue(e LoadableEntry) any {
	switch e := e.(type) {
	case *IntegerEntry:
		return e.Value()
	case *LongEntry:
		return e.Value()
	case *FloatEntry:
		return e.Value()
	case *DoubleEntry:
		return e.Value()
	case *StringEntry:
		return e.String()
	}
	return e
}
