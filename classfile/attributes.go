package classfile

import (
	"sync"

	"github.com/wippyai/jclassfile/classfile/internal/binary"
	"github.com/wippyai/jclassfile/errors"
)

// Attribute names handled by the library.
const (
	AttrBootstrapMethods       = "BootstrapMethods"
	AttrCharacterRangeTable    = "CharacterRangeTable"
	AttrCode                   = "Code"
	AttrConstantValue          = "ConstantValue"
	AttrDeprecated             = "Deprecated"
	AttrEnclosingMethod        = "EnclosingMethod"
	AttrExceptions             = "Exceptions"
	AttrInnerClasses           = "InnerClasses"
	AttrLineNumberTable        = "LineNumberTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
	AttrMethodParameters       = "MethodParameters"
	AttrNestHost               = "NestHost"
	AttrNestMembers            = "NestMembers"
	AttrPermittedSubclasses    = "PermittedSubclasses"
	AttrSignature              = "Signature"
	AttrSourceDebugExtension   = "SourceDebugExtension"
	AttrSourceFile             = "SourceFile"
	AttrStackMapTable          = "StackMapTable"
	AttrSynthetic              = "Synthetic"
)

// Stability describes what an attribute's payload depends on, which decides
// whether it can be copied verbatim and whether option-driven filtering
// drops it.
type Stability uint8

const (
	// StabilityStateless payloads hold no pool indices or offsets.
	StabilityStateless Stability = iota
	// StabilityCPRefs payloads hold constant pool indices only.
	StabilityCPRefs
	// StabilityLabels payloads hold bytecode offsets.
	StabilityLabels
	// StabilityUnstated attributes may depend on unrelated class contents.
	StabilityUnstated
	// StabilityUnknown attributes are not recognized.
	StabilityUnknown
)

var attributeStability = map[string]Stability{
	AttrBootstrapMethods:       StabilityCPRefs,
	AttrCharacterRangeTable:    StabilityLabels,
	AttrCode:                   StabilityCPRefs,
	AttrConstantValue:          StabilityCPRefs,
	AttrDeprecated:             StabilityStateless,
	AttrEnclosingMethod:        StabilityCPRefs,
	AttrExceptions:             StabilityCPRefs,
	AttrInnerClasses:           StabilityCPRefs,
	AttrLineNumberTable:        StabilityLabels,
	AttrLocalVariableTable:     StabilityLabels,
	AttrLocalVariableTypeTable: StabilityLabels,
	AttrMethodParameters:       StabilityCPRefs,
	AttrNestHost:               StabilityCPRefs,
	AttrNestMembers:            StabilityCPRefs,
	AttrPermittedSubclasses:    StabilityCPRefs,
	AttrSignature:              StabilityCPRefs,
	AttrSourceDebugExtension:   StabilityStateless,
	AttrSourceFile:             StabilityCPRefs,
	AttrStackMapTable:          StabilityLabels,
	AttrSynthetic:              StabilityStateless,

	// Recognized but carried as raw payloads.
	"AnnotationDefault":                    StabilityCPRefs,
	"Module":                               StabilityCPRefs,
	"ModuleMainClass":                      StabilityCPRefs,
	"ModulePackages":                       StabilityCPRefs,
	"ModuleResolution":                     StabilityStateless,
	"ModuleTarget":                         StabilityCPRefs,
	"Record":                               StabilityCPRefs,
	"RuntimeInvisibleAnnotations":          StabilityCPRefs,
	"RuntimeInvisibleParameterAnnotations": StabilityCPRefs,
	"RuntimeInvisibleTypeAnnotations":      StabilityUnstated,
	"RuntimeVisibleAnnotations":            StabilityCPRefs,
	"RuntimeVisibleParameterAnnotations":   StabilityCPRefs,
	"RuntimeVisibleTypeAnnotations":        StabilityUnstated,
}

// StabilityOf returns the stability of an attribute name.
func StabilityOf(name string) Stability {
	if s, ok := attributeStability[name]; ok {
		return s
	}
	return StabilityUnknown
}

// Attribute is a class, field, method or code attribute. The set of
// implementations is closed; unmodelled attributes surface as
// UnknownAttribute.
type Attribute interface {
	ClassElement
	FieldElement
	MethodElement
	CodeElement
	AttributeName() string
	Stability() Stability
	origin() *attrOrigin
	writeBody(w *attrWriter) error
}

// attrOrigin ties a parsed attribute to the payload it was read from.
type attrOrigin struct {
	pool poolView
	data []byte
}

type attrBase struct {
	src *attrOrigin
}

func (a attrBase) origin() *attrOrigin { return a.src }
func (attrBase) isClassElement()       {}
func (attrBase) isFieldElement()       {}
func (attrBase) isMethodElement()      {}
func (attrBase) isCodeElement()        {}

// attrWriter writes attribute payloads against the output pool.
type attrWriter struct {
	*binary.Writer
	pool *PoolBuilder
}

func (w *attrWriter) ref(e PoolEntry) {
	if absent(e) {
		w.U2(0)
		return
	}
	w.U2(uint16(w.pool.Adopt(e).Index()))
}

func (w *attrWriter) classList(cs []*ClassEntry) {
	w.U2(uint16(len(cs)))
	for _, c := range cs {
		w.ref(c)
	}
}

// SourceFileAttribute names the source file.
type SourceFileAttribute struct {
	attrBase
	SourceFile *Utf8Entry
}

// NewSourceFile returns a SourceFile attribute.
func NewSourceFile(name string) SourceFileAttribute {
	return SourceFileAttribute{SourceFile: scratchPool().Utf8(name)}
}

func (SourceFileAttribute) AttributeName() string { return AttrSourceFile }
func (SourceFileAttribute) Stability() Stability  { return StabilityCPRefs }
func (a SourceFileAttribute) writeBody(w *attrWriter) error {
	w.ref(a.SourceFile)
	return nil
}

// ConstantValueAttribute is the initial value of a static field.
type ConstantValueAttribute struct {
	attrBase
	Constant LoadableEntry
}

func (ConstantValueAttribute) AttributeName() string { return AttrConstantValue }
func (ConstantValueAttribute) Stability() Stability  { return StabilityCPRefs }
func (a ConstantValueAttribute) writeBody(w *attrWriter) error {
	w.ref(a.Constant)
	return nil
}

// ExceptionsAttribute lists checked exceptions a method declares.
type ExceptionsAttribute struct {
	attrBase
	Exceptions []*ClassEntry
}

func (ExceptionsAttribute) AttributeName() string { return AttrExceptions }
func (ExceptionsAttribute) Stability() Stability  { return StabilityCPRefs }
func (a ExceptionsAttribute) writeBody(w *attrWriter) error {
	w.classList(a.Exceptions)
	return nil
}

// SignatureAttribute carries a generic signature.
type SignatureAttribute struct {
	attrBase
	Signature *Utf8Entry
}

func (SignatureAttribute) AttributeName() string { return AttrSignature }
func (SignatureAttribute) Stability() Stability  { return StabilityCPRefs }
func (a SignatureAttribute) writeBody(w *attrWriter) error {
	w.ref(a.Signature)
	return nil
}

// DeprecatedAttribute marks a deprecated element.
type DeprecatedAttribute struct{ attrBase }

func (DeprecatedAttribute) AttributeName() string       { return AttrDeprecated }
func (DeprecatedAttribute) Stability() Stability        { return StabilityStateless }
func (DeprecatedAttribute) writeBody(*attrWriter) error { return nil }

// SyntheticAttribute marks a compiler-generated element.
type SyntheticAttribute struct{ attrBase }

func (SyntheticAttribute) AttributeName() string       { return AttrSynthetic }
func (SyntheticAttribute) Stability() Stability        { return StabilityStateless }
func (SyntheticAttribute) writeBody(*attrWriter) error { return nil }

// InnerClassInfo is one InnerClasses row. Outer and Name are nil when absent.
type InnerClassInfo struct {
	Inner *ClassEntry
	Outer *ClassEntry
	Name  *Utf8Entry
	Flags AccessFlags
}

// InnerClassesAttribute records nested class relationships.
type InnerClassesAttribute struct {
	attrBase
	Classes []InnerClassInfo
}

func (InnerClassesAttribute) AttributeName() string { return AttrInnerClasses }
func (InnerClassesAttribute) Stability() Stability  { return StabilityCPRefs }
func (a InnerClassesAttribute) writeBody(w *attrWriter) error {
	w.U2(uint16(len(a.Classes)))
	for _, c := range a.Classes {
		w.ref(c.Inner)
		w.ref(c.Outer)
		w.ref(c.Name)
		w.U2(uint16(c.Flags.Mask()))
	}
	return nil
}

// EnclosingMethodAttribute names the method enclosing a local class. Method
// is nil when the class is not inside a method.
type EnclosingMethodAttribute struct {
	attrBase
	Class  *ClassEntry
	Method *NameAndTypeEntry
}

func (EnclosingMethodAttribute) AttributeName() string { return AttrEnclosingMethod }
func (EnclosingMethodAttribute) Stability() Stability  { return StabilityCPRefs }
func (a EnclosingMethodAttribute) writeBody(w *attrWriter) error {
	w.ref(a.Class)
	w.ref(a.Method)
	return nil
}

// NestHostAttribute names the nest host.
type NestHostAttribute struct {
	attrBase
	Host *ClassEntry
}

func (NestHostAttribute) AttributeName() string { return AttrNestHost }
func (NestHostAttribute) Stability() Stability  { return StabilityCPRefs }
func (a NestHostAttribute) writeBody(w *attrWriter) error {
	w.ref(a.Host)
	return nil
}

// NestMembersAttribute lists nest members.
type NestMembersAttribute struct {
	attrBase
	Members []*ClassEntry
}

func (NestMembersAttribute) AttributeName() string { return AttrNestMembers }
func (NestMembersAttribute) Stability() Stability  { return StabilityCPRefs }
func (a NestMembersAttribute) writeBody(w *attrWriter) error {
	w.classList(a.Members)
	return nil
}

// PermittedSubclassesAttribute lists the permitted subclasses of a sealed class.
type PermittedSubclassesAttribute struct {
	attrBase
	Subclasses []*ClassEntry
}

func (PermittedSubclassesAttribute) AttributeName() string { return AttrPermittedSubclasses }
func (PermittedSubclassesAttribute) Stability() Stability  { return StabilityCPRefs }
func (a PermittedSubclassesAttribute) writeBody(w *attrWriter) error {
	w.classList(a.Subclasses)
	return nil
}

// MethodParameterInfo is one MethodParameters row. Name is nil for a
// nameless parameter.
type MethodParameterInfo struct {
	Name  *Utf8Entry
	Flags AccessFlags
}

// MethodParametersAttribute describes formal parameters.
type MethodParametersAttribute struct {
	attrBase
	Parameters []MethodParameterInfo
}

func (MethodParametersAttribute) AttributeName() string { return AttrMethodParameters }
func (MethodParametersAttribute) Stability() Stability  { return StabilityCPRefs }
func (a MethodParametersAttribute) writeBody(w *attrWriter) error {
	w.U1(uint8(len(a.Parameters)))
	for _, p := range a.Parameters {
		w.ref(p.Name)
		w.U2(uint16(p.Flags.Mask()))
	}
	return nil
}

// SourceDebugExtensionAttribute carries opaque debugger data.
type SourceDebugExtensionAttribute struct {
	attrBase
	Data []byte
}

func (SourceDebugExtensionAttribute) AttributeName() string { return AttrSourceDebugExtension }
func (SourceDebugExtensionAttribute) Stability() Stability  { return StabilityStateless }
func (a SourceDebugExtensionAttribute) writeBody(w *attrWriter) error {
	w.WriteBytes(a.Data)
	return nil
}

// UnknownAttribute is an attribute the library does not model. Its payload
// is kept as bytes and may only be written to the pool it was read against,
// unless its name is known to be stateless.
type UnknownAttribute struct {
	attrBase
	Name string
	Data []byte
}

// NewUnknownAttribute returns a raw attribute with the given payload.
func NewUnknownAttribute(name string, data []byte) UnknownAttribute {
	return UnknownAttribute{Name: name, Data: data}
}

func (a UnknownAttribute) AttributeName() string { return a.Name }
func (a UnknownAttribute) Stability() Stability  { return StabilityOf(a.Name) }
func (a UnknownAttribute) writeBody(w *attrWriter) error {
	if a.src != nil && a.Stability() != StabilityStateless {
		return errors.IllegalArgument(errors.PhaseWrite,
			"attribute %s refers to a different constant pool and cannot be rewritten", a.Name)
	}
	w.WriteBytes(a.Data)
	return nil
}

// scratchPool backs attribute constructors that take plain values; the
// writer adopts the entries into the output pool.
func scratchPool() *PoolBuilder { return NewPoolBuilder() }

// rawAttribute is an attribute located but not yet decoded.
type rawAttribute struct {
	name *Utf8Entry
	pos  int
	data []byte
}

// attributeSet decodes attributes on first access.
type attributeSet struct {
	pool  poolView
	raws  []rawAttribute
	once  sync.Once
	list  []Attribute
	err   error
	ready bool
}

func builtAttributes(list []Attribute) *attributeSet {
	return &attributeSet{list: list, ready: true}
}

func (s *attributeSet) get() ([]Attribute, error) {
	if s == nil {
		return nil, nil
	}
	if s.ready {
		return s.list, nil
	}
	s.once.Do(func() {
		list := make([]Attribute, 0, len(s.raws))
		for _, raw := range s.raws {
			a, err := decodeAttribute(raw, s.pool)
			if err != nil {
				s.err = err
				return
			}
			list = append(list, a)
		}
		s.list = list
	})
	return s.list, s.err
}

// readAttributeHeaders locates the attributes at the reader position,
// applying the processing option. take may claim attributes by name before
// they are added; it returns true when it consumed one.
func readAttributeHeaders(r *binary.Reader, pool poolView, section string, proc AttributesProcessing,
	take func(raw rawAttribute) (bool, error)) ([]rawAttribute, error) {
	count, err := r.ReadU2()
	if err != nil {
		return nil, truncated(section, err)
	}
	var out []rawAttribute
	for j := uint16(0); j < count; j++ {
		pos := r.Position()
		idx, err := r.ReadU2()
		if err != nil {
			return nil, truncated(section, err)
		}
		name, err := lookup[*Utf8Entry](pool, int(idx), pos)
		if err != nil {
			return nil, err
		}
		length, err := r.ReadU4()
		if err != nil {
			return nil, truncated(section, err)
		}
		if int64(length) > int64(r.Remaining()) {
			return nil, errors.Malformed(pos, "%s attribute %s length %d exceeds remaining %d bytes",
				section, name.value, length, r.Remaining())
		}
		data, _ := r.ReadBytes(int(length))
		raw := rawAttribute{name: name, pos: pos + 6, data: data}
		if take != nil {
			taken, err := take(raw)
			if err != nil {
				return nil, err
			}
			if taken {
				continue
			}
		}
		if proc.drops(StabilityOf(name.value)) {
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

func decodeAttribute(raw rawAttribute, pool poolView) (Attribute, error) {
	r := binary.NewReader(raw.data)
	src := &attrOrigin{pool: pool, data: raw.data}
	base := attrBase{src: src}
	fail := func(err error) (Attribute, error) {
		if e, ok := err.(*errors.Error); ok && e.Kind == errors.KindMalformedInput {
			return nil, e
		}
		return nil, errors.New(errors.PhaseParse, errors.KindMalformedInput).
			Position(raw.pos + r.Position()).
			Path(raw.name.value).
			Cause(err).
			Detail("malformed %s attribute", raw.name.value).
			Build()
	}
	u2 := func() (int, error) {
		v, err := r.ReadU2()
		return int(v), err
	}
	ref := func() (int, int, error) {
		pos := raw.pos + r.Position()
		v, err := r.ReadU2()
		return int(v), pos, err
	}
	classList := func() ([]*ClassEntry, error) {
		n, err := u2()
		if err != nil {
			return nil, err
		}
		out := make([]*ClassEntry, n)
		for i := range out {
			idx, pos, err := ref()
			if err != nil {
				return nil, err
			}
			if out[i], err = lookup[*ClassEntry](pool, idx, pos); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	utf8 := func() (*Utf8Entry, error) {
		idx, pos, err := ref()
		if err != nil {
			return nil, err
		}
		return lookup[*Utf8Entry](pool, idx, pos)
	}
	exact := func(a Attribute) (Attribute, error) {
		if r.Remaining() != 0 {
			return nil, errors.Malformed(raw.pos, "%s attribute has %d trailing bytes", raw.name.value, r.Remaining())
		}
		return a, nil
	}

	switch raw.name.value {
	case AttrSourceFile:
		v, err := utf8()
		if err != nil {
			return fail(err)
		}
		return exact(SourceFileAttribute{attrBase: base, SourceFile: v})
	case AttrSignature:
		v, err := utf8()
		if err != nil {
			return fail(err)
		}
		return exact(SignatureAttribute{attrBase: base, Signature: v})
	case AttrConstantValue:
		idx, pos, err := ref()
		if err != nil {
			return fail(err)
		}
		c, err := lookup[LoadableEntry](pool, idx, pos)
		if err != nil {
			return fail(err)
		}
		return exact(ConstantValueAttribute{attrBase: base, Constant: c})
	case AttrExceptions:
		cs, err := classList()
		if err != nil {
			return fail(err)
		}
		return exact(ExceptionsAttribute{attrBase: base, Exceptions: cs})
	case AttrNestMembers:
		cs, err := classList()
		if err != nil {
			return fail(err)
		}
		return exact(NestMembersAttribute{attrBase: base, Members: cs})
	case AttrPermittedSubclasses:
		cs, err := classList()
		if err != nil {
			return fail(err)
		}
		return exact(PermittedSubclassesAttribute{attrBase: base, Subclasses: cs})
	case AttrNestHost:
		idx, pos, err := ref()
		if err != nil {
			return fail(err)
		}
		c, err := lookup[*ClassEntry](pool, idx, pos)
		if err != nil {
			return fail(err)
		}
		return exact(NestHostAttribute{attrBase: base, Host: c})
	case AttrDeprecated:
		return exact(DeprecatedAttribute{attrBase: base})
	case AttrSynthetic:
		return exact(SyntheticAttribute{attrBase: base})
	case AttrSourceDebugExtension:
		return SourceDebugExtensionAttribute{attrBase: base, Data: raw.data}, nil
	case AttrEnclosingMethod:
		idx, pos, err := ref()
		if err != nil {
			return fail(err)
		}
		c, err := lookup[*ClassEntry](pool, idx, pos)
		if err != nil {
			return fail(err)
		}
		idx, pos, err = ref()
		if err != nil {
			return fail(err)
		}
		m, err := lookupOptional[*NameAndTypeEntry](pool, idx, pos)
		if err != nil {
			return fail(err)
		}
		return exact(EnclosingMethodAttribute{attrBase: base, Class: c, Method: m})
	case AttrInnerClasses:
		n, err := u2()
		if err != nil {
			return fail(err)
		}
		rows := make([]InnerClassInfo, n)
		for i := range rows {
			idx, pos, err := ref()
			if err != nil {
				return fail(err)
			}
			if rows[i].Inner, err = lookup[*ClassEntry](pool, idx, pos); err != nil {
				return fail(err)
			}
			if idx, pos, err = ref(); err != nil {
				return fail(err)
			}
			if rows[i].Outer, err = lookupOptional[*ClassEntry](pool, idx, pos); err != nil {
				return fail(err)
			}
			if idx, pos, err = ref(); err != nil {
				return fail(err)
			}
			if rows[i].Name, err = lookupOptional[*Utf8Entry](pool, idx, pos); err != nil {
				return fail(err)
			}
			flags, err := u2()
			if err != nil {
				return fail(err)
			}
			rows[i].Flags = AccessFlagsOfMask(LocInnerClass, flags)
		}
		return exact(InnerClassesAttribute{attrBase: base, Classes: rows})
	case AttrMethodParameters:
		n, err := r.ReadU1()
		if err != nil {
			return fail(err)
		}
		params := make([]MethodParameterInfo, n)
		for i := range params {
			idx, pos, err := ref()
			if err != nil {
				return fail(err)
			}
			if params[i].Name, err = lookupOptional[*Utf8Entry](pool, idx, pos); err != nil {
				return fail(err)
			}
			flags, err := u2()
			if err != nil {
				return fail(err)
			}
			params[i].Flags = AccessFlagsOfMask(LocMethodParameter, flags)
		}
		return exact(MethodParametersAttribute{attrBase: base, Parameters: params})
	case AttrStackMapTable:
		frames, err := decodeStackMapTable(raw.data, pool, raw.pos)
		if err != nil {
			return fail(err)
		}
		return StackMapTableAttribute{attrBase: base, Frames: frames}, nil
	}
	return UnknownAttribute{attrBase: base, Name: raw.name.value, Data: raw.data}, nil
}

// FindAttribute returns the first attribute of type T.
func FindAttribute[T Attribute](attrs []Attribute) (T, bool) {
	for _, a := range attrs {
		if t, ok := a.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}
