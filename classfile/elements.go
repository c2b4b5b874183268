package classfile

// ClassElement is a part of a class: fields, methods, attributes and header
// items such as the version and flags.
type ClassElement interface{ isClassElement() }

// FieldElement is a part of a field: flags and attributes.
type FieldElement interface{ isFieldElement() }

// MethodElement is a part of a method: flags, code and attributes.
type MethodElement interface{ isMethodElement() }

// CodeElement is a part of a method body: instructions, label bindings,
// exception table rows, debug entries and code attributes.
type CodeElement interface{ isCodeElement() }

// Superclass sets the super_class item. A nil Class means none, which only
// java/lang/Object and module-info may use.
type Superclass struct {
	Class *ClassEntry
}

func (Superclass) isClassElement() {}

// Interfaces sets the direct superinterfaces.
type Interfaces struct {
	Classes []*ClassEntry
}

func (Interfaces) isClassElement() {}

// LabelTarget binds a label to the position of the next instruction.
type LabelTarget struct {
	Label *Label
}

func (LabelTarget) isCodeElement() {}

// ExceptionCatch is one exception table row. A nil CatchType catches
// everything.
type ExceptionCatch struct {
	Start, End *Label
	Handler    *Label
	CatchType  *ClassEntry
}

func (ExceptionCatch) isCodeElement() {}

// LineNumber maps the next instruction to a source line.
type LineNumber struct {
	Line int
}

func (LineNumber) isCodeElement() {}

// LocalVariable is a LocalVariableTable row.
type LocalVariable struct {
	Slot       int
	Name, Type *Utf8Entry
	Start, End *Label
}

func (LocalVariable) isCodeElement() {}

// LocalVariableType is a LocalVariableTypeTable row.
type LocalVariableType struct {
	Slot            int
	Name, Signature *Utf8Entry
	Start, End      *Label
}

func (LocalVariableType) isCodeElement() {}

// CharacterRange is a CharacterRangeTable row.
type CharacterRange struct {
	Start, End         *Label
	CharStart, CharEnd int
	Flags              int
}

func (CharacterRange) isCodeElement() {}

// isDebugElement reports pseudo-elements controlled by the debug option.
func isDebugElement(e CodeElement) bool {
	switch e.(type) {
	case LocalVariable, LocalVariableType, CharacterRange:
		return true
	}
	return false
}
