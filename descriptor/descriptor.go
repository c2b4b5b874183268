// Package descriptor models JVM field and method type descriptors.
//
// A ClassDesc is stored in field-descriptor form ("I", "[J",
// "Ljava/lang/String;"). Class constants use the internal name for classes and
// the descriptor for arrays; InternalName bridges the two.
package descriptor

import (
	"strings"

	"github.com/wippyai/jclassfile/errors"
)

// ClassDesc is a nominal descriptor for a field type.
type ClassDesc string

// Common descriptors.
const (
	Void    ClassDesc = "V"
	Boolean ClassDesc = "Z"
	Byte    ClassDesc = "B"
	Char    ClassDesc = "C"
	Short   ClassDesc = "S"
	Int     ClassDesc = "I"
	Long    ClassDesc = "J"
	Float   ClassDesc = "F"
	Double  ClassDesc = "D"

	Object    ClassDesc = "Ljava/lang/Object;"
	String    ClassDesc = "Ljava/lang/String;"
	Class     ClassDesc = "Ljava/lang/Class;"
	Throwable ClassDesc = "Ljava/lang/Throwable;"

	MethodType   ClassDesc = "Ljava/lang/invoke/MethodType;"
	MethodHandle ClassDesc = "Ljava/lang/invoke/MethodHandle;"
)

// Of returns the descriptor for an internal class name such as
// "java/lang/String". Array descriptors are accepted as-is.
func Of(internalName string) ClassDesc {
	if strings.HasPrefix(internalName, "[") {
		return ClassDesc(internalName)
	}
	return ClassDesc("L" + internalName + ";")
}

// OfDescriptor validates a field descriptor.
func OfDescriptor(desc string) (ClassDesc, error) {
	n, err := scanField(desc, 0, true)
	if err != nil {
		return "", err
	}
	if n != len(desc) {
		return "", errors.IllegalArgument(errors.PhaseBuild, "trailing characters in descriptor %q", desc)
	}
	return ClassDesc(desc), nil
}

// Descriptor returns the field descriptor string.
func (c ClassDesc) Descriptor() string {
	return string(c)
}

// String implements fmt.Stringer.
func (c ClassDesc) String() string {
	return string(c)
}

// IsPrimitive reports whether c is a primitive type or void.
func (c ClassDesc) IsPrimitive() bool {
	return len(c) == 1
}

// IsArray reports whether c is an array type.
func (c ClassDesc) IsArray() bool {
	return len(c) > 0 && c[0] == '['
}

// IsClassOrInterface reports whether c names a class or interface.
func (c ClassDesc) IsClassOrInterface() bool {
	return len(c) > 0 && c[0] == 'L'
}

// ArrayType returns the descriptor of an array of c.
func (c ClassDesc) ArrayType() ClassDesc {
	return "[" + c
}

// ComponentType returns the element type of an array, or "" otherwise.
func (c ClassDesc) ComponentType() ClassDesc {
	if !c.IsArray() {
		return ""
	}
	return c[1:]
}

// Rank returns the number of array dimensions.
func (c ClassDesc) Rank() int {
	n := 0
	for n < len(c) && c[n] == '[' {
		n++
	}
	return n
}

// InternalName returns the name used by Class constants: the binary name with
// slashes for classes, the descriptor for arrays, and "" for primitives.
func (c ClassDesc) InternalName() string {
	switch {
	case c.IsClassOrInterface():
		return string(c[1 : len(c)-1])
	case c.IsArray():
		return string(c)
	default:
		return ""
	}
}

// FromInternalName is the inverse of InternalName for Class constants.
func FromInternalName(name string) ClassDesc {
	return Of(name)
}

// Kind returns the type kind of c.
func (c ClassDesc) Kind() TypeKind {
	if len(c) == 0 {
		return KindVoid
	}
	switch c[0] {
	case 'Z':
		return KindBoolean
	case 'B':
		return KindByte
	case 'C':
		return KindChar
	case 'S':
		return KindShort
	case 'I':
		return KindInt
	case 'J':
		return KindLong
	case 'F':
		return KindFloat
	case 'D':
		return KindDouble
	case 'V':
		return KindVoid
	default:
		return KindReference
	}
}

func scanField(s string, i int, allowVoid bool) (int, error) {
	start := i
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i-start > 255 {
		return 0, errors.IllegalArgument(errors.PhaseBuild, "descriptor %q exceeds 255 array dimensions", s)
	}
	if i >= len(s) {
		return 0, errors.IllegalArgument(errors.PhaseBuild, "truncated descriptor %q", s)
	}
	switch s[i] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
		return i + 1, nil
	case 'V':
		if !allowVoid || i != start {
			return 0, errors.IllegalArgument(errors.PhaseBuild, "void not allowed here in %q", s)
		}
		return i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return 0, errors.IllegalArgument(errors.PhaseBuild, "malformed class descriptor %q", s)
		}
		name := s[i+1 : i+end]
		if strings.ContainsAny(name, ".[") {
			return 0, errors.IllegalArgument(errors.PhaseBuild, "illegal class name in descriptor %q", s)
		}
		return i + end + 1, nil
	default:
		return 0, errors.IllegalArgument(errors.PhaseBuild, "illegal descriptor character %q in %q", s[i], s)
	}
}
