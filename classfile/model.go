package classfile

import (
	"github.com/wippyai/jclassfile/descriptor"
)

// ClassModel is an immutable view of a parsed class file. Header items and
// the constant pool are decoded at parse time; attributes and method bodies
// are decoded on first access and cached.
type ClassModel struct {
	data    []byte
	opts    Options
	pool    *ConstantPool
	version Version
	flags   AccessFlags

	thisClass  *ClassEntry
	superClass *ClassEntry
	interfaces []*ClassEntry
	fields     []*FieldModel
	methods    []*MethodModel
	attrs      *attributeSet
}

// Bytes returns the bytes the model was parsed from.
func (c *ClassModel) Bytes() []byte { return c.data }

// ConstantPool returns the parsed pool.
func (c *ClassModel) ConstantPool() *ConstantPool { return c.pool }

// Version returns the class-file version.
func (c *ClassModel) Version() Version { return c.version }

// Flags returns the class access flags.
func (c *ClassModel) Flags() AccessFlags { return c.flags }

// ThisClass returns the class entry of this class.
func (c *ClassModel) ThisClass() *ClassEntry { return c.thisClass }

// Superclass returns the superclass, or nil for java/lang/Object and
// module-info.
func (c *ClassModel) Superclass() *ClassEntry { return c.superClass }

// Interfaces returns the direct superinterfaces in declaration order.
func (c *ClassModel) Interfaces() []*ClassEntry { return c.interfaces }

// Fields returns the fields in declaration order.
func (c *ClassModel) Fields() []*FieldModel { return c.fields }

// Methods returns the methods in declaration order.
func (c *ClassModel) Methods() []*MethodModel { return c.methods }

// Attributes decodes and returns the class attributes. BootstrapMethods is
// not included; it belongs to the constant pool.
func (c *ClassModel) Attributes() ([]Attribute, error) { return c.attrs.get() }

// IsInterface reports whether the class is an interface.
func (c *ClassModel) IsInterface() bool { return c.flags.Has(AccInterface) }

// Elements returns the class as a stream: version, flags, superclass,
// interfaces, fields, methods, then attributes.
func (c *ClassModel) Elements() ([]ClassElement, error) {
	attrs, err := c.Attributes()
	if err != nil {
		return nil, err
	}
	out := make([]ClassElement, 0, 4+len(c.fields)+len(c.methods)+len(attrs))
	out = append(out, c.version, c.flags, Superclass{Class: c.superClass}, Interfaces{Classes: c.interfaces})
	for _, f := range c.fields {
		out = append(out, f)
	}
	for _, m := range c.methods {
		out = append(out, m)
	}
	for _, a := range attrs {
		out = append(out, a)
	}
	return out, nil
}

// FindMethod returns the first method with the given name and descriptor.
func (c *ClassModel) FindMethod(name, desc string) (*MethodModel, bool) {
	for _, m := range c.methods {
		if m.name.value == name && m.desc.value == desc {
			return m, true
		}
	}
	return nil, false
}

// memberOrigin records where a parsed member came from so it can be copied
// verbatim.
type memberOrigin struct {
	class    *ClassModel
	raw      []byte
	filtered bool
}

// FieldModel is a field, parsed or built.
type FieldModel struct {
	origin *memberOrigin
	pool   poolView
	name   *Utf8Entry
	desc   *Utf8Entry
	flags  AccessFlags
	attrs  *attributeSet
}

func (*FieldModel) isClassElement() {}

// Name returns the field name.
func (f *FieldModel) Name() *Utf8Entry { return f.name }

// Descriptor returns the field descriptor entry.
func (f *FieldModel) Descriptor() *Utf8Entry { return f.desc }

// Type returns the field type.
func (f *FieldModel) Type() descriptor.ClassDesc { return descriptor.ClassDesc(f.desc.value) }

// Flags returns the field access flags.
func (f *FieldModel) Flags() AccessFlags { return f.flags }

// Attributes decodes and returns the field attributes.
func (f *FieldModel) Attributes() ([]Attribute, error) { return f.attrs.get() }

// Parent returns the class a parsed field belongs to.
func (f *FieldModel) Parent() (*ClassModel, bool) {
	if f.origin == nil {
		return nil, false
	}
	return f.origin.class, true
}

// Elements returns flags followed by attributes.
func (f *FieldModel) Elements() ([]FieldElement, error) {
	attrs, err := f.Attributes()
	if err != nil {
		return nil, err
	}
	out := make([]FieldElement, 0, 1+len(attrs))
	out = append(out, f.flags)
	for _, a := range attrs {
		out = append(out, a)
	}
	return out, nil
}

// MethodModel is a method, parsed or built.
type MethodModel struct {
	origin *memberOrigin
	pool   poolView
	name   *Utf8Entry
	desc   *Utf8Entry
	flags  AccessFlags
	code   *CodeModel
	attrs  *attributeSet
}

func (*MethodModel) isClassElement() {}

// Name returns the method name.
func (m *MethodModel) Name() *Utf8Entry { return m.name }

// Descriptor returns the method descriptor entry.
func (m *MethodModel) Descriptor() *Utf8Entry { return m.desc }

// MethodType parses the descriptor.
func (m *MethodModel) MethodType() (descriptor.MethodTypeDesc, error) {
	return descriptor.ParseMethod(m.desc.value)
}

// Flags returns the method access flags.
func (m *MethodModel) Flags() AccessFlags { return m.flags }

// IsStatic reports whether the method is static.
func (m *MethodModel) IsStatic() bool { return m.flags.Has(AccStatic) }

// Code returns the method body, or nil for abstract and native methods.
func (m *MethodModel) Code() *CodeModel { return m.code }

// Attributes decodes and returns the method attributes other than Code.
func (m *MethodModel) Attributes() ([]Attribute, error) { return m.attrs.get() }

// Parent returns the class a parsed method belongs to.
func (m *MethodModel) Parent() (*ClassModel, bool) {
	if m.origin == nil {
		return nil, false
	}
	return m.origin.class, true
}

// Elements returns flags, the code model when present, then attributes.
func (m *MethodModel) Elements() ([]MethodElement, error) {
	attrs, err := m.Attributes()
	if err != nil {
		return nil, err
	}
	out := make([]MethodElement, 0, 2+len(attrs))
	out = append(out, m.flags)
	if m.code != nil {
		out = append(out, m.code)
	}
	for _, a := range attrs {
		out = append(out, a)
	}
	return out, nil
}
