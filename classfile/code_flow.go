package classfile

import (
	"github.com/wippyai/jclassfile/errors"
)

type flowInsn struct {
	bci  int
	next int
	ins  Instruction
}

// codeFlow is encoded bytecode decoded into instructions with branch
// targets resolved to instruction indices.
type codeFlow struct {
	code     []byte
	insns    []flowInsn
	at       map[int]int
	labelBCI map[*Label]int
	handlers []handlerRow
}

func newCodeFlow(code []byte, handlers []handlerRow, pool poolView) (*codeFlow, error) {
	f := &codeFlow{
		code:     code,
		at:       make(map[int]int),
		labelBCI: make(map[*Label]int),
		handlers: handlers,
	}
	byBCI := make(map[int]*Label)
	dec := &instructionDecoder{code: code, pool: pool, labelAt: func(bci int) *Label {
		l, ok := byBCI[bci]
		if !ok {
			l = NewLabel()
			byBCI[bci] = l
			f.labelBCI[l] = bci
		}
		return l
	}}
	for bci := 0; bci < len(code); {
		ins, n, err := dec.decode(bci)
		if err != nil {
			return nil, err
		}
		f.at[bci] = len(f.insns)
		f.insns = append(f.insns, flowInsn{bci: bci, next: bci + n, ins: ins})
		bci += n
	}
	for bci := range byBCI {
		if _, ok := f.at[bci]; !ok {
			return nil, errors.IllegalArgument(errors.PhaseWrite, "branch target %d is not an instruction boundary", bci)
		}
	}
	for _, h := range handlers {
		_, okStart := f.at[h.start]
		_, okHandler := f.at[h.handler]
		if !okStart || !okHandler {
			return nil, errors.IllegalArgument(errors.PhaseWrite,
				"exception range %d..%d -> %d is not on instruction boundaries", h.start, h.end, h.handler)
		}
	}
	return f, nil
}

func (f *codeFlow) index(l *Label) int { return f.at[f.labelBCI[l]] }

// targets returns the explicit jump targets of instruction i.
func (f *codeFlow) targets(i int) []int {
	switch imm := f.insns[i].ins.Imm.(type) {
	case BranchImm:
		return []int{f.index(imm.Target)}
	case TableSwitchImm:
		out := make([]int, 0, len(imm.Targets)+1)
		out = append(out, f.index(imm.Default))
		for _, t := range imm.Targets {
			out = append(out, f.index(t))
		}
		return out
	case LookupSwitchImm:
		out := make([]int, 0, len(imm.Cases)+1)
		out = append(out, f.index(imm.Default))
		for _, c := range imm.Cases {
			out = append(out, f.index(c.Target))
		}
		return out
	}
	return nil
}

// fallsThrough reports whether control can continue at the next
// instruction. A jsr falls through once its subroutine returns.
func (f *codeFlow) fallsThrough(i int) bool {
	return !f.insns[i].ins.Op.IsUnconditional()
}

// covering returns the handler rows whose range includes instruction i.
func (f *codeFlow) covering(i int) []handlerRow {
	bci := f.insns[i].bci
	var out []handlerRow
	for _, h := range f.handlers {
		if bci >= h.start && bci < h.end {
			out = append(out, h)
		}
	}
	return out
}

// frameTargets returns the instruction indices that need a stack map
// frame: jump targets, handler entries, and instructions following an
// unconditional transfer.
func (f *codeFlow) frameTargets() map[int]bool {
	out := make(map[int]bool)
	for i := range f.insns {
		for _, t := range f.targets(i) {
			out[t] = true
		}
		if f.insns[i].ins.Op.IsUnconditional() && i+1 < len(f.insns) {
			out[i+1] = true
		}
	}
	for _, h := range f.handlers {
		out[f.at[h.handler]] = true
	}
	return out
}
