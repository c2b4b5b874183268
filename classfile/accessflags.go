package classfile

import (
	"strings"

	"github.com/wippyai/jclassfile/errors"
)

// Location is a structure that carries an access_flags item.
type Location uint8

const (
	LocClass Location = iota
	LocField
	LocMethod
	LocInnerClass
	LocMethodParameter
	LocModule
	LocModuleRequires
	LocModuleExports
	LocModuleOpens
)

var locationNames = [...]string{
	"class", "field", "method", "inner class", "method parameter",
	"module", "module requires", "module exports", "module opens",
}

func (l Location) String() string {
	if int(l) < len(locationNames) {
		return locationNames[l]
	}
	return "unknown"
}

// AccessFlag is a single named modifier.
type AccessFlag uint8

const (
	AccPublic AccessFlag = iota
	AccPrivate
	AccProtected
	AccStatic
	AccFinal
	AccSuper
	AccOpen
	AccTransitive
	AccSynchronized
	AccVolatile
	AccBridge
	AccStaticPhase
	AccTransient
	AccVarargs
	AccNative
	AccInterface
	AccAbstract
	AccStrict
	AccSynthetic
	AccAnnotation
	AccEnum
	AccMandated
	AccModule
	numAccessFlags
)

type locSet uint16

func locs(ls ...Location) locSet {
	var s locSet
	for _, l := range ls {
		s |= 1 << l
	}
	return s
}

func (s locSet) has(l Location) bool { return s&(1<<l) != 0 }

var flagTable = [numAccessFlags]struct {
	name string
	mask int
	at   locSet
}{
	AccPublic:       {"public", 0x0001, locs(LocClass, LocField, LocMethod, LocInnerClass)},
	AccPrivate:      {"private", 0x0002, locs(LocField, LocMethod, LocInnerClass)},
	AccProtected:    {"protected", 0x0004, locs(LocField, LocMethod, LocInnerClass)},
	AccStatic:       {"static", 0x0008, locs(LocField, LocMethod, LocInnerClass)},
	AccFinal:        {"final", 0x0010, locs(LocClass, LocField, LocMethod, LocInnerClass, LocMethodParameter)},
	AccSuper:        {"super", 0x0020, locs(LocClass)},
	AccOpen:         {"open", 0x0020, locs(LocModule)},
	AccTransitive:   {"transitive", 0x0020, locs(LocModuleRequires)},
	AccSynchronized: {"synchronized", 0x0020, locs(LocMethod)},
	AccVolatile:     {"volatile", 0x0040, locs(LocField)},
	AccBridge:       {"bridge", 0x0040, locs(LocMethod)},
	AccStaticPhase:  {"static_phase", 0x0040, locs(LocModuleRequires)},
	AccTransient:    {"transient", 0x0080, locs(LocField)},
	AccVarargs:      {"varargs", 0x0080, locs(LocMethod)},
	AccNative:       {"native", 0x0100, locs(LocMethod)},
	AccInterface:    {"interface", 0x0200, locs(LocClass, LocInnerClass)},
	AccAbstract:     {"abstract", 0x0400, locs(LocClass, LocMethod, LocInnerClass)},
	AccStrict:       {"strict", 0x0800, locs(LocMethod)},
	AccSynthetic: {"synthetic", 0x1000, locs(LocClass, LocField, LocMethod, LocInnerClass, LocMethodParameter,
		LocModule, LocModuleRequires, LocModuleExports, LocModuleOpens)},
	AccAnnotation: {"annotation", 0x2000, locs(LocClass, LocInnerClass)},
	AccEnum:       {"enum", 0x4000, locs(LocClass, LocField, LocInnerClass)},
	AccMandated: {"mandated", 0x8000, locs(LocMethodParameter, LocModule, LocModuleRequires,
		LocModuleExports, LocModuleOpens)},
	AccModule: {"module", 0x8000, locs(LocClass)},
}

// Mask returns the flag's bit.
func (f AccessFlag) Mask() int {
	if f >= numAccessFlags {
		return 0
	}
	return flagTable[f].mask
}

// ValidAt reports whether the flag may appear at a location.
func (f AccessFlag) ValidAt(l Location) bool {
	return f < numAccessFlags && flagTable[f].at.has(l)
}

func (f AccessFlag) String() string {
	if f >= numAccessFlags {
		return "unknown"
	}
	return flagTable[f].name
}

// AccessFlags is an access_flags mask tied to the location it appears at.
// Bits with no defined meaning at the location are preserved by Mask and
// omitted by Flags.
type AccessFlags struct {
	mask int
	loc  Location
}

// AccessFlagsOfMask wraps a raw mask.
func AccessFlagsOfMask(loc Location, mask int) AccessFlags {
	return AccessFlags{mask: mask & 0xFFFF, loc: loc}
}

// AccessFlagsOf builds a mask from named flags; a flag that is not defined
// at loc is an IllegalArgument error.
func AccessFlagsOf(loc Location, flags ...AccessFlag) (AccessFlags, error) {
	a := AccessFlags{loc: loc}
	for _, f := range flags {
		if !f.ValidAt(loc) {
			return AccessFlags{}, errors.IllegalArgument(errors.PhaseBuild,
				"flag %s is not allowed at location %s", f, loc)
		}
		a.mask |= f.Mask()
	}
	return a, nil
}

// ClassFlags is AccessFlagsOfMask for LocClass.
func ClassFlags(mask int) AccessFlags { return AccessFlagsOfMask(LocClass, mask) }

// FieldFlags is AccessFlagsOfMask for LocField.
func FieldFlags(mask int) AccessFlags { return AccessFlagsOfMask(LocField, mask) }

// MethodFlags is AccessFlagsOfMask for LocMethod.
func MethodFlags(mask int) AccessFlags { return AccessFlagsOfMask(LocMethod, mask) }

// Mask returns the raw mask.
func (a AccessFlags) Mask() int { return a.mask }

// Location returns where the flags apply.
func (a AccessFlags) Location() Location { return a.loc }

// Has reports whether a defined flag is set.
func (a AccessFlags) Has(f AccessFlag) bool {
	return f.ValidAt(a.loc) && a.mask&f.Mask() != 0
}

// Flags returns the defined flags present in the mask, in table order.
func (a AccessFlags) Flags() []AccessFlag {
	var out []AccessFlag
	for f := AccessFlag(0); f < numAccessFlags; f++ {
		if a.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (a AccessFlags) String() string {
	names := make([]string, 0, 4)
	for _, f := range a.Flags() {
		names = append(names, f.String())
	}
	return strings.Join(names, " ")
}

func (AccessFlags) isClassElement()  {}
func (AccessFlags) isMethodElement() {}
func (AccessFlags) isFieldElement()  {}
