package classfile

import (
	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
	"github.com/wippyai/jclassfile/hierarchy"
)

// classState is the shared state of one class build. Every ClassBuilder
// view of the build, chained or not, writes into it.
type classState struct {
	opts   Options
	pool   *PoolBuilder
	this   *ClassEntry
	source *ClassModel

	version    Version
	flags      AccessFlags
	super      *ClassEntry
	superSet   bool
	interfaces []*ClassEntry
	fields     []*FieldModel
	methods    []*MethodModel
	attrs      []Attribute

	err error
}

func newClassState(opts Options, pool *PoolBuilder, this *ClassEntry) *classState {
	return &classState{
		opts:    opts,
		pool:    pool,
		this:    pool.adoptClass(this),
		version: LatestVersion,
		flags:   ClassFlags(AccPublic.Mask() | AccSuper.Mask()),
	}
}

// superclass returns the superclass entry; java/lang/Object unless an
// element set it.
func (s *classState) superclass() *ClassEntry {
	if !s.superSet {
		return s.pool.Class(hierarchy.ObjectName)
	}
	return s.super
}

func (s *classState) fail(err error) {
	if s.err == nil && err != nil {
		s.err = err
	}
}

func (s *classState) accept(e ClassElement) {
	switch e := e.(type) {
	case Version:
		s.version = e
	case AccessFlags:
		if e.loc != LocClass {
			s.fail(errors.IllegalArgument(errors.PhaseBuild, "%s flags used as class flags", e.loc))
			return
		}
		s.flags = e
	case Superclass:
		s.super, s.superSet = e.Class, true
	case Interfaces:
		s.interfaces = e.Classes
	case *FieldModel:
		s.fields = append(s.fields, e)
	case *MethodModel:
		s.methods = append(s.methods, e)
	case Attribute:
		s.attrs = append(s.attrs, e)
	default:
		s.fail(errors.IllegalArgument(errors.PhaseBuild, "unexpected class element %T", e))
	}
}

// ClassBuilder accumulates the elements of a class.
type ClassBuilder struct {
	st   *classState
	sink func(ClassElement)
}

func (b *ClassBuilder) chain(sink func(ClassElement)) *ClassBuilder {
	return &ClassBuilder{st: b.st, sink: sink}
}

// With emits an element.
func (b *ClassBuilder) With(e ClassElement) *ClassBuilder {
	b.sink(e)
	return b
}

// ConstantPool returns the pool the class is built against.
func (b *ClassBuilder) ConstantPool() *PoolBuilder { return b.st.pool }

// ThisClass returns the class being built.
func (b *ClassBuilder) ThisClass() *ClassEntry { return b.st.this }

// Original returns the class being transformed, if any.
func (b *ClassBuilder) Original() (*ClassModel, bool) { return b.st.source, b.st.source != nil }

// Options returns the options of the build.
func (b *ClassBuilder) Options() Options { return b.st.opts }

// Err returns the first error recorded by the build.
func (b *ClassBuilder) Err() error { return b.st.err }

// Fail records err as the outcome of the build. The first error wins.
func (b *ClassBuilder) Fail(err error) { b.st.fail(err) }

// WithVersion sets the class-file version.
func (b *ClassBuilder) WithVersion(major, minor int) *ClassBuilder {
	return b.With(Version{Major: major, Minor: minor})
}

// WithFlags sets the class access flags from a raw mask.
func (b *ClassBuilder) WithFlags(mask int) *ClassBuilder {
	return b.With(ClassFlags(mask))
}

// WithFlagSet sets the class access flags from named flags.
func (b *ClassBuilder) WithFlagSet(flags ...AccessFlag) *ClassBuilder {
	f, err := AccessFlagsOf(LocClass, flags...)
	if err != nil {
		b.st.fail(err)
		return b
	}
	return b.With(f)
}

// WithSuperclass sets the superclass by internal name.
func (b *ClassBuilder) WithSuperclass(internalName string) *ClassBuilder {
	return b.With(Superclass{Class: b.st.pool.Class(internalName)})
}

// WithInterfaces sets the superinterfaces by internal name.
func (b *ClassBuilder) WithInterfaces(internalNames ...string) *ClassBuilder {
	cs := make([]*ClassEntry, len(internalNames))
	for i, n := range internalNames {
		cs[i] = b.st.pool.Class(n)
	}
	return b.With(Interfaces{Classes: cs})
}

// WithField builds a field. handler may be nil.
func (b *ClassBuilder) WithField(name string, typ descriptor.ClassDesc, flags int, handler func(*FieldBuilder)) *ClassBuilder {
	fs := &fieldState{
		cls:   b.st,
		name:  b.st.pool.Utf8(name),
		desc:  b.st.pool.Utf8(typ.Descriptor()),
		flags: FieldFlags(flags),
	}
	if handler != nil {
		handler(&FieldBuilder{st: fs, sink: fs.accept})
	}
	return b.With(fs.model())
}

// TransformField rebuilds f through t.
func (b *ClassBuilder) TransformField(f *FieldModel, t FieldTransform) *ClassBuilder {
	elems, err := f.Elements()
	if err != nil {
		b.st.fail(err)
		return b
	}
	fs := &fieldState{
		cls:      b.st,
		name:     b.st.pool.adoptUtf8(f.name),
		desc:     b.st.pool.adoptUtf8(f.desc),
		flags:    f.flags,
		original: f,
	}
	apply(&FieldBuilder{st: fs, sink: fs.accept}, elems, t)
	return b.With(fs.model())
}

// WithMethod builds a method. handler may be nil.
func (b *ClassBuilder) WithMethod(name string, typ descriptor.MethodTypeDesc, flags int, handler func(*MethodBuilder)) *ClassBuilder {
	ms := &methodState{
		cls:   b.st,
		name:  b.st.pool.Utf8(name),
		desc:  b.st.pool.Utf8(typ.Descriptor()),
		mtype: typ,
		flags: MethodFlags(flags),
	}
	if handler != nil {
		handler(&MethodBuilder{st: ms, sink: ms.accept})
	}
	return b.With(ms.model())
}

// WithMethodBody builds a method whose only content is code.
func (b *ClassBuilder) WithMethodBody(name string, typ descriptor.MethodTypeDesc, flags int, code func(*CodeBuilder)) *ClassBuilder {
	return b.WithMethod(name, typ, flags, func(mb *MethodBuilder) {
		mb.WithCode(code)
	})
}

// TransformMethod rebuilds m through t.
func (b *ClassBuilder) TransformMethod(m *MethodModel, t MethodTransform) *ClassBuilder {
	elems, err := m.Elements()
	if err != nil {
		b.st.fail(err)
		return b
	}
	mtype, err := m.MethodType()
	if err != nil {
		b.st.fail(err)
		return b
	}
	ms := &methodState{
		cls:      b.st,
		name:     b.st.pool.adoptUtf8(m.name),
		desc:     b.st.pool.adoptUtf8(m.desc),
		mtype:    mtype,
		flags:    m.flags,
		original: m,
	}
	apply(&MethodBuilder{st: ms, sink: ms.accept}, elems, t)
	return b.With(ms.model())
}

// Transform feeds the elements of model through t into this builder.
func (b *ClassBuilder) Transform(model *ClassModel, t ClassTransform) *ClassBuilder {
	elems, err := model.Elements()
	if err != nil {
		b.st.fail(err)
		return b
	}
	apply(b, elems, t)
	return b
}

type fieldState struct {
	cls      *classState
	name     *Utf8Entry
	desc     *Utf8Entry
	flags    AccessFlags
	attrs    []Attribute
	original *FieldModel
}

func (s *fieldState) accept(e FieldElement) {
	switch e := e.(type) {
	case AccessFlags:
		if e.loc != LocField {
			s.cls.fail(errors.IllegalArgument(errors.PhaseBuild, "%s flags used as field flags", e.loc))
			return
		}
		s.flags = e
	case Attribute:
		s.attrs = append(s.attrs, e)
	default:
		s.cls.fail(errors.IllegalArgument(errors.PhaseBuild, "unexpected field element %T", e))
	}
}

func (s *fieldState) model() *FieldModel {
	return &FieldModel{
		pool:  s.cls.pool,
		name:  s.name,
		desc:  s.desc,
		flags: s.flags,
		attrs: builtAttributes(s.attrs),
	}
}

// FieldBuilder accumulates the elements of a field.
type FieldBuilder struct {
	st   *fieldState
	sink func(FieldElement)
}

func (b *FieldBuilder) chain(sink func(FieldElement)) *FieldBuilder {
	return &FieldBuilder{st: b.st, sink: sink}
}

// With emits an element.
func (b *FieldBuilder) With(e FieldElement) *FieldBuilder {
	b.sink(e)
	return b
}

// WithFlags sets the field flags from a raw mask.
func (b *FieldBuilder) WithFlags(mask int) *FieldBuilder {
	return b.With(FieldFlags(mask))
}

// WithFlagSet sets the field flags from named flags.
func (b *FieldBuilder) WithFlagSet(flags ...AccessFlag) *FieldBuilder {
	f, err := AccessFlagsOf(LocField, flags...)
	if err != nil {
		b.st.cls.fail(err)
		return b
	}
	return b.With(f)
}

// ConstantPool returns the pool of the enclosing class build.
func (b *FieldBuilder) ConstantPool() *PoolBuilder { return b.st.cls.pool }

// Original returns the field being transformed, if any.
func (b *FieldBuilder) Original() (*FieldModel, bool) { return b.st.original, b.st.original != nil }

type methodState struct {
	cls      *classState
	name     *Utf8Entry
	desc     *Utf8Entry
	mtype    descriptor.MethodTypeDesc
	flags    AccessFlags
	code     *CodeModel
	attrs    []Attribute
	original *MethodModel
}

func (s *methodState) accept(e MethodElement) {
	switch e := e.(type) {
	case AccessFlags:
		if e.loc != LocMethod {
			s.cls.fail(errors.IllegalArgument(errors.PhaseBuild, "%s flags used as method flags", e.loc))
			return
		}
		s.flags = e
	case *CodeModel:
		s.code = e
	case Attribute:
		s.attrs = append(s.attrs, e)
	default:
		s.cls.fail(errors.IllegalArgument(errors.PhaseBuild, "unexpected method element %T", e))
	}
}

func (s *methodState) isStatic() bool { return s.flags.Has(AccStatic) }

func (s *methodState) model() *MethodModel {
	m := &MethodModel{
		pool:  s.cls.pool,
		name:  s.name,
		desc:  s.desc,
		flags: s.flags,
		code:  s.code,
		attrs: builtAttributes(s.attrs),
	}
	if s.code != nil && s.code.method == nil {
		s.code.method = m
	}
	return m
}

// MethodBuilder accumulates the elements of a method.
type MethodBuilder struct {
	st   *methodState
	sink func(MethodElement)
}

func (b *MethodBuilder) chain(sink func(MethodElement)) *MethodBuilder {
	return &MethodBuilder{st: b.st, sink: sink}
}

// With emits an element.
func (b *MethodBuilder) With(e MethodElement) *MethodBuilder {
	b.sink(e)
	return b
}

// WithFlags sets the method flags from a raw mask.
func (b *MethodBuilder) WithFlags(mask int) *MethodBuilder {
	return b.With(MethodFlags(mask))
}

// WithFlagSet sets the method flags from named flags.
func (b *MethodBuilder) WithFlagSet(flags ...AccessFlag) *MethodBuilder {
	f, err := AccessFlagsOf(LocMethod, flags...)
	if err != nil {
		b.st.cls.fail(err)
		return b
	}
	return b.With(f)
}

// MethodName returns the method name.
func (b *MethodBuilder) MethodName() string { return b.st.name.value }

// MethodType returns the method type.
func (b *MethodBuilder) MethodType() descriptor.MethodTypeDesc { return b.st.mtype }

// ConstantPool returns the pool of the enclosing class build.
func (b *MethodBuilder) ConstantPool() *PoolBuilder { return b.st.cls.pool }

// Original returns the method being transformed, if any.
func (b *MethodBuilder) Original() (*MethodModel, bool) { return b.st.original, b.st.original != nil }

// WithCode builds the method body.
func (b *MethodBuilder) WithCode(handler func(*CodeBuilder)) *MethodBuilder {
	cs := newCodeState(b.st, nil)
	handler(cs.top())
	return b.finishCode(cs)
}

// TransformCode rebuilds code through t. New locals allocated by the
// transform start above the original body's locals.
func (b *MethodBuilder) TransformCode(code *CodeModel, t CodeTransform) *MethodBuilder {
	elems, err := code.Elements()
	if err != nil {
		b.st.cls.fail(err)
		return b
	}
	cs := newCodeState(b.st, code)
	apply(cs.top(), elems, t)
	return b.finishCode(cs)
}

func (b *MethodBuilder) finishCode(cs *codeState) *MethodBuilder {
	model, err := cs.finish()
	if err != nil {
		b.st.cls.fail(errors.In(err, b.st.cls.this.InternalName(), b.st.name.value+b.st.desc.value))
		return b
	}
	return b.With(model)
}
