package classfile

import (
	"strings"

	"github.com/wippyai/jclassfile/descriptor"
)

// Second halves of long and double values. They occupy the slot after
// the first half and never appear in emitted frames.
const (
	itemLong2   VerificationTag = 0x80
	itemDouble2 VerificationTag = 0x81
)

// vtype is a slot-level verification type. name is the internal name of
// an object type (array types use their descriptor); offset is the bci of
// the new instruction of an uninitialized value.
type vtype struct {
	tag    VerificationTag
	name   string
	offset int
}

var (
	vTop     = vtype{tag: ItemTop}
	vInt     = vtype{tag: ItemInteger}
	vFloat   = vtype{tag: ItemFloat}
	vLong    = vtype{tag: ItemLong}
	vDouble  = vtype{tag: ItemDouble}
	vNull    = vtype{tag: ItemNull}
	vLong2   = vtype{tag: itemLong2}
	vDouble2 = vtype{tag: itemDouble2}
)

func vObject(name string) vtype { return vtype{tag: ItemObject, name: name} }

func (v vtype) isReference() bool { return v.tag == ItemObject || v.tag == ItemNull }

func (v vtype) isWide() bool { return v.tag == ItemLong || v.tag == ItemDouble }

func (v vtype) second() vtype {
	if v.tag == ItemLong {
		return vLong2
	}
	return vDouble2
}

func (v vtype) isArray() bool { return v.tag == ItemObject && strings.HasPrefix(v.name, "[") }

// typeOfDesc maps a field descriptor to its verification type.
func typeOfDesc(desc string) vtype {
	switch descriptor.ClassDesc(desc).Kind() {
	case descriptor.KindLong:
		return vLong
	case descriptor.KindDouble:
		return vDouble
	case descriptor.KindFloat:
		return vFloat
	case descriptor.KindReference:
		return vObject(descriptor.ClassDesc(desc).InternalName())
	case descriptor.KindVoid:
		return vTop
	}
	return vInt
}

// arrayOf returns the array type with the given component.
func arrayOf(component vtype) vtype {
	switch component.tag {
	case ItemObject:
		if strings.HasPrefix(component.name, "[") {
			return vObject("[" + component.name)
		}
		return vObject("[L" + component.name + ";")
	case ItemInteger:
		return vObject("[I")
	case ItemLong:
		return vObject("[J")
	case ItemFloat:
		return vObject("[F")
	case ItemDouble:
		return vObject("[D")
	}
	return vObject("[Ljava/lang/Object;")
}

// frameState is the verification state before an instruction. Locals and
// stack are slot-level: wide values take two entries.
type frameState struct {
	locals []vtype
	stack  []vtype
}

func (s *frameState) clone() *frameState {
	return &frameState{
		locals: append([]vtype(nil), s.locals...),
		stack:  append([]vtype(nil), s.stack...),
	}
}

func (s *frameState) equal(o *frameState) bool {
	if o == nil || len(s.locals) != len(o.locals) || len(s.stack) != len(o.stack) {
		return false
	}
	for i := range s.locals {
		if s.locals[i] != o.locals[i] {
			return false
		}
	}
	for i := range s.stack {
		if s.stack[i] != o.stack[i] {
			return false
		}
	}
	return true
}

func (s *frameState) push(v vtype) {
	s.stack = append(s.stack, v)
	if v.isWide() {
		s.stack = append(s.stack, v.second())
	}
}

func (s *frameState) pop(n int) ([]vtype, bool) {
	if len(s.stack) < n {
		return nil, false
	}
	out := append([]vtype(nil), s.stack[len(s.stack)-n:]...)
	s.stack = s.stack[:len(s.stack)-n]
	return out, true
}

func (s *frameState) local(slot int) vtype {
	if slot < len(s.locals) {
		return s.locals[slot]
	}
	return vTop
}

func (s *frameState) setLocal(slot int, v vtype) {
	need := slot + 1
	if v.isWide() {
		need++
	}
	for len(s.locals) < need {
		s.locals = append(s.locals, vTop)
	}
	if slot > 0 && s.locals[slot-1].isWide() {
		s.locals[slot-1] = vTop
	}
	if old := s.locals[slot]; old.isWide() && slot+1 < len(s.locals) {
		s.locals[slot+1] = vTop
	}
	s.locals[slot] = v
	if v.isWide() {
		s.locals[slot+1] = v.second()
	}
}

// replace substitutes every occurrence of from, used when a constructor
// call initializes an object.
func (s *frameState) replace(from, to vtype) {
	for i, v := range s.locals {
		if v == from {
			s.locals[i] = to
		}
	}
	for i, v := range s.stack {
		if v == from {
			s.stack[i] = to
		}
	}
}

// trimLocals drops trailing Top slots.
func trimLocals(ls []vtype) []vtype {
	for len(ls) > 0 && ls[len(ls)-1] == vTop {
		ls = ls[:len(ls)-1]
	}
	return ls
}

// frameItems converts slot-level types to frame entries, folding the
// second halves of wide values.
func frameItems(pool *PoolBuilder, slots []vtype) []VerificationType {
	out := make([]VerificationType, 0, len(slots))
	for _, v := range slots {
		switch v.tag {
		case itemLong2, itemDouble2:
			continue
		case ItemObject:
			out = append(out, VerificationType{Tag: ItemObject, Class: pool.Class(v.name)})
		case ItemUninitialized:
			out = append(out, VerificationType{Tag: ItemUninitialized, Offset: v.offset})
		default:
			out = append(out, VerificationType{Tag: v.tag})
		}
	}
	return out
}
