package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/jclassfile/errors"
)

func countBytes(t *testing.T, code []byte, params int) (*stackCount, *codeFlow, error) {
	t.Helper()
	flow, err := newCodeFlow(code, nil, NewPoolBuilder())
	require.NoError(t, err)
	c, err := countStack(flow, params)
	return c, flow, err
}

func TestCountStack(t *testing.T) {
	tests := []struct {
		name   string
		code   []Opcode
		params int
		stack  int
		locals int
	}{
		{"ints", []Opcode{OpIconst1, OpIconst2, OpIadd, OpPop, OpReturn}, 0, 2, 0},
		{"longs", []Opcode{OpLconst0, OpLconst1, OpLadd, OpPop2, OpReturn}, 0, 4, 0},
		{"params", []Opcode{OpIload1, OpIreturn}, 2, 1, 2},
		{"store", []Opcode{OpLconst0, OpLstore3, OpReturn}, 0, 2, 5},
		{"dup", []Opcode{OpAconstNull, OpDup, OpDup2, OpPop2, OpPop2, OpReturn}, 0, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := make([]byte, len(tt.code))
			for i, op := range tt.code {
				code[i] = byte(op)
			}
			c, flow, err := countBytes(t, code, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.stack, c.maxStack)
			assert.Equal(t, tt.locals, c.maxLocals)
			assert.Equal(t, -1, c.unreachable(flow))
		})
	}
}

func TestCountStackUnderflow(t *testing.T) {
	_, _, err := countBytes(t, []byte{byte(OpPop), byte(OpReturn)}, 0)
	assert.ErrorIs(t, err, errors.ErrIllegalArgument)
}

func TestCountStackUnreachable(t *testing.T) {
	code := []byte{byte(OpGoto), 0x00, 0x04, byte(OpNop), byte(OpReturn)}
	c, flow, err := countBytes(t, code, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, c.unreachable(flow))
}

func TestCountStackBranchMerge(t *testing.T) {
	// iload_0; ifeq +7; iconst_1; goto +4; iconst_2; ireturn
	code := []byte{
		byte(OpIload0),
		byte(OpIfeq), 0x00, 0x07,
		byte(OpIconst1),
		byte(OpGoto), 0x00, 0x04,
		byte(OpIconst2),
		byte(OpIreturn),
	}
	c, flow, err := countBytes(t, code, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.maxStack)
	assert.Equal(t, 1, c.maxLocals)
	assert.Equal(t, -1, c.unreachable(flow))
}
