package classfile

import (
	"strconv"
	"sync/atomic"
)

var labelSeq atomic.Uint64

// Label marks a position in a method body. Labels are compared by identity;
// one becomes bound when its LabelTarget is emitted.
type Label struct {
	id uint64
}

// NewLabel returns a fresh unbound label. Code builders hand out labels with
// NewLabel too; this form is for elements assembled outside a builder.
func NewLabel() *Label {
	return &Label{id: labelSeq.Add(1)}
}

func (l *Label) String() string {
	if l == nil {
		return "<nil>"
	}
	return "L" + strconv.FormatUint(l.id, 10)
}
