package descriptor

import (
	"strings"

	"github.com/wippyai/jclassfile/errors"
)

// MethodTypeDesc is a nominal descriptor for a method type.
type MethodTypeDesc struct {
	Return ClassDesc
	Params []ClassDesc
}

// MethodOf builds a method descriptor from its parts.
func MethodOf(ret ClassDesc, params ...ClassDesc) MethodTypeDesc {
	return MethodTypeDesc{Return: ret, Params: params}
}

// ParseMethod parses a method descriptor such as "(ILjava/lang/String;)V".
func ParseMethod(s string) (MethodTypeDesc, error) {
	if len(s) < 3 || s[0] != '(' {
		return MethodTypeDesc{}, errors.IllegalArgument(errors.PhaseBuild, "malformed method descriptor %q", s)
	}
	var md MethodTypeDesc
	i := 1
	for i < len(s) && s[i] != ')' {
		end, err := scanField(s, i, false)
		if err != nil {
			return MethodTypeDesc{}, err
		}
		md.Params = append(md.Params, ClassDesc(s[i:end]))
		i = end
	}
	if i >= len(s) {
		return MethodTypeDesc{}, errors.IllegalArgument(errors.PhaseBuild, "unterminated parameter list in %q", s)
	}
	i++
	end, err := scanField(s, i, true)
	if err != nil {
		return MethodTypeDesc{}, err
	}
	if end != len(s) {
		return MethodTypeDesc{}, errors.IllegalArgument(errors.PhaseBuild, "trailing characters in method descriptor %q", s)
	}
	md.Return = ClassDesc(s[i:end])
	return md, nil
}

// MustParseMethod is ParseMethod for descriptors known to be valid.
func MustParseMethod(s string) MethodTypeDesc {
	md, err := ParseMethod(s)
	if err != nil {
		panic(err)
	}
	return md
}

// Descriptor returns the method descriptor string.
func (m MethodTypeDesc) Descriptor() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range m.Params {
		b.WriteString(string(p))
	}
	b.WriteByte(')')
	b.WriteString(string(m.Return))
	return b.String()
}

// String implements fmt.Stringer.
func (m MethodTypeDesc) String() string {
	return m.Descriptor()
}

// ParameterSlots returns the number of local slots the parameters occupy,
// not counting a receiver.
func (m MethodTypeDesc) ParameterSlots() int {
	n := 0
	for _, p := range m.Params {
		n += p.Kind().SlotSize()
	}
	return n
}
