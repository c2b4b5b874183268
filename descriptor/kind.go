package descriptor

// TypeKind classifies a descriptor by its verification and slot behavior.
type TypeKind uint8

const (
	KindVoid TypeKind = iota
	KindBoolean
	KindByte
	KindChar
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindReference
)

var kindNames = [...]string{"void", "boolean", "byte", "char", "short", "int", "long", "float", "double", "reference"}

func (k TypeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// SlotSize returns the number of local or stack slots a value occupies.
func (k TypeKind) SlotSize() int {
	switch k {
	case KindVoid:
		return 0
	case KindLong, KindDouble:
		return 2
	default:
		return 1
	}
}

// Computational returns the kind used on the operand stack: sub-int
// integral kinds widen to int.
func (k TypeKind) Computational() TypeKind {
	switch k {
	case KindBoolean, KindByte, KindChar, KindShort:
		return KindInt
	default:
		return k
	}
}

// NewArrayCode returns the atype operand of newarray for primitive kinds.
func (k TypeKind) NewArrayCode() (int, bool) {
	switch k {
	case KindBoolean:
		return 4, true
	case KindChar:
		return 5, true
	case KindFloat:
		return 6, true
	case KindDouble:
		return 7, true
	case KindByte:
		return 8, true
	case KindShort:
		return 9, true
	case KindInt:
		return 10, true
	case KindLong:
		return 11, true
	}
	return 0, false
}

// KindFromNewArrayCode is the inverse of NewArrayCode.
func KindFromNewArrayCode(code int) (TypeKind, bool) {
	for k := KindBoolean; k <= KindDouble; k++ {
		if c, ok := k.NewArrayCode(); ok && c == code {
			return k, true
		}
	}
	return KindVoid, false
}

// Desc returns the primitive descriptor for k, or Object for references.
func (k TypeKind) Desc() ClassDesc {
	switch k {
	case KindBoolean:
		return Boolean
	case KindByte:
		return Byte
	case KindChar:
		return Char
	case KindShort:
		return Short
	case KindInt:
		return Int
	case KindLong:
		return Long
	case KindFloat:
		return Float
	case KindDouble:
		return Double
	case KindReference:
		return Object
	default:
		return Void
	}
}
