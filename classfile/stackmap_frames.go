package classfile

import (
	"github.com/wippyai/jclassfile/classfile/internal/binary"
	"github.com/wippyai/jclassfile/errors"
)

// VerificationTag is a verification_type_info tag.
type VerificationTag uint8

const (
	ItemTop               VerificationTag = 0
	ItemInteger           VerificationTag = 1
	ItemFloat             VerificationTag = 2
	ItemDouble            VerificationTag = 3
	ItemLong              VerificationTag = 4
	ItemNull              VerificationTag = 5
	ItemUninitializedThis VerificationTag = 6
	ItemObject            VerificationTag = 7
	ItemUninitialized     VerificationTag = 8
)

// VerificationType is one verification_type_info. Class is set for
// ItemObject; Offset is the bci of the new instruction for ItemUninitialized.
type VerificationType struct {
	Tag    VerificationTag
	Class  *ClassEntry
	Offset int
}

// StackMapFrameInfo is one decoded frame as stored: Locals holds every local
// for a full frame and only the added ones for an append frame; Chop is the
// number of removed locals for a chop frame.
type StackMapFrameInfo struct {
	FrameType int
	Offset    int
	Chop      int
	Locals    []VerificationType
	Stack     []VerificationType
}

// StackMapTableAttribute is a decoded StackMapTable. Code builders always
// regenerate frames, so the attribute is informational on output.
type StackMapTableAttribute struct {
	attrBase
	Frames []StackMapFrameInfo
}

func (StackMapTableAttribute) AttributeName() string { return AttrStackMapTable }
func (StackMapTableAttribute) Stability() Stability  { return StabilityLabels }
func (a StackMapTableAttribute) writeBody(w *attrWriter) error {
	w.U2(uint16(len(a.Frames)))
	prev := -1
	for _, f := range a.Frames {
		delta := f.Offset - prev - 1
		prev = f.Offset
		w.U1(uint8(f.FrameType))
		switch {
		case f.FrameType < 64:
		case f.FrameType < 128:
			writeVerificationType(w, f.Stack[0])
		case f.FrameType == 247:
			w.U2(uint16(delta))
			writeVerificationType(w, f.Stack[0])
		case f.FrameType >= 248 && f.FrameType <= 251:
			w.U2(uint16(delta))
		case f.FrameType >= 252 && f.FrameType <= 254:
			w.U2(uint16(delta))
			for _, v := range f.Locals {
				writeVerificationType(w, v)
			}
		case f.FrameType == 255:
			w.U2(uint16(delta))
			w.U2(uint16(len(f.Locals)))
			for _, v := range f.Locals {
				writeVerificationType(w, v)
			}
			w.U2(uint16(len(f.Stack)))
			for _, v := range f.Stack {
				writeVerificationType(w, v)
			}
		default:
			return errors.IllegalArgument(errors.PhaseWrite, "reserved frame type %d", f.FrameType)
		}
	}
	return nil
}

func writeVerificationType(w *attrWriter, v VerificationType) {
	w.U1(uint8(v.Tag))
	switch v.Tag {
	case ItemObject:
		w.ref(v.Class)
	case ItemUninitialized:
		w.U2(uint16(v.Offset))
	}
}

func decodeStackMapTable(data []byte, pool poolView, base int) ([]StackMapFrameInfo, error) {
	r := binary.NewReader(data)
	n, err := r.ReadU2()
	if err != nil {
		return nil, err
	}
	frames := make([]StackMapFrameInfo, 0, n)
	prev := -1
	vt := func() (VerificationType, error) {
		tag, err := r.ReadU1()
		if err != nil {
			return VerificationType{}, err
		}
		v := VerificationType{Tag: VerificationTag(tag)}
		switch v.Tag {
		case ItemObject:
			pos := base + r.Position()
			idx, err := r.ReadU2()
			if err != nil {
				return v, err
			}
			if v.Class, err = lookup[*ClassEntry](pool, int(idx), pos); err != nil {
				return v, err
			}
		case ItemUninitialized:
			off, err := r.ReadU2()
			if err != nil {
				return v, err
			}
			v.Offset = int(off)
		default:
			if v.Tag > ItemUninitialized {
				return v, errors.Malformed(base+r.Position()-1, "invalid verification type tag %d", tag)
			}
		}
		return v, nil
	}
	vts := func(n int) ([]VerificationType, error) {
		out := make([]VerificationType, n)
		for i := range out {
			v, err := vt()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	for j := uint16(0); j < n; j++ {
		ft, err := r.ReadU1()
		if err != nil {
			return nil, err
		}
		f := StackMapFrameInfo{FrameType: int(ft)}
		delta := 0
		switch {
		case ft < 64:
			delta = int(ft)
		case ft < 128:
			delta = int(ft) - 64
			if f.Stack, err = vts(1); err != nil {
				return nil, err
			}
		case ft < 247:
			return nil, errors.Malformed(base+r.Position()-1, "reserved frame type %d", ft)
		default:
			d, err := r.ReadU2()
			if err != nil {
				return nil, err
			}
			delta = int(d)
			switch {
			case ft == 247:
				if f.Stack, err = vts(1); err != nil {
					return nil, err
				}
			case ft <= 250:
				f.Chop = 251 - int(ft)
			case ft == 251:
			case ft <= 254:
				if f.Locals, err = vts(int(ft) - 251); err != nil {
					return nil, err
				}
			default:
				nl, err := r.ReadU2()
				if err != nil {
					return nil, err
				}
				if f.Locals, err = vts(int(nl)); err != nil {
					return nil, err
				}
				ns, err := r.ReadU2()
				if err != nil {
					return nil, err
				}
				if f.Stack, err = vts(int(ns)); err != nil {
					return nil, err
				}
			}
		}
		f.Offset = prev + delta + 1
		prev = f.Offset
		frames = append(frames, f)
	}
	if r.Remaining() != 0 {
		return nil, errors.Malformed(base, "StackMapTable has %d trailing bytes", r.Remaining())
	}
	return frames, nil
}

// compressFrames encodes full frames against the initial locals, choosing
// the smallest frame form for each.
func compressFrames(initial []VerificationType, frames []fullFrame) []StackMapFrameInfo {
	out := make([]StackMapFrameInfo, 0, len(frames))
	prevLocals := initial
	prev := -1
	for _, f := range frames {
		delta := f.offset - prev - 1
		prev = f.offset
		info := StackMapFrameInfo{Offset: f.offset}
		sameLocals := sameTypes(prevLocals, f.locals)
		diff := len(f.locals) - len(prevLocals)
		switch {
		case sameLocals && len(f.stack) == 0:
			if delta < 64 {
				info.FrameType = delta
			} else {
				info.FrameType = 251
			}
		case sameLocals && len(f.stack) == 1:
			info.Stack = f.stack
			if delta < 64 {
				info.FrameType = 64 + delta
			} else {
				info.FrameType = 247
			}
		case len(f.stack) == 0 && diff < 0 && diff >= -3 && sameTypes(prevLocals[:len(f.locals)], f.locals):
			info.FrameType = 251 + diff
			info.Chop = -diff
		case len(f.stack) == 0 && diff > 0 && diff <= 3 && sameTypes(prevLocals, f.locals[:len(prevLocals)]):
			info.FrameType = 251 + diff
			info.Locals = f.locals[len(prevLocals):]
		default:
			info.FrameType = 255
			info.Locals = f.locals
			info.Stack = f.stack
		}
		out = append(out, info)
		prevLocals = f.locals
	}
	return out
}

// fullFrame is a frame with every local and stack item spelled out.
type fullFrame struct {
	offset int
	locals []VerificationType
	stack  []VerificationType
}

func sameTypes(a, b []VerificationType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameType(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameType(a, b VerificationType) bool {
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case ItemObject:
		return a.Class.InternalName() == b.Class.InternalName()
	case ItemUninitialized:
		return a.Offset == b.Offset
	}
	return true
}
