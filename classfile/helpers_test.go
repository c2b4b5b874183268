package classfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/jclassfile/descriptor"
)

var (
	voidMethod   = descriptor.MethodOf(descriptor.Void)
	intToInt     = descriptor.MethodOf(descriptor.Int, descriptor.Int)
	objectInit   = descriptor.MethodOf(descriptor.Void)
	publicStatic = AccPublic.Mask() | AccStatic.Mask()
)

// buildClass builds a class and fails the test on error.
func buildClass(t *testing.T, opts Options, name string, handler func(*ClassBuilder)) []byte {
	t.Helper()
	out, err := New(opts).Build(descriptor.Of(name), handler)
	require.NoError(t, err)
	return out
}

// withConstructor adds a constructor calling Object.<init>.
func withConstructor(cb *ClassBuilder) {
	cb.WithMethodBody("<init>", objectInit, AccPublic.Mask(), func(b *CodeBuilder) {
		b.LoadLocal(descriptor.KindReference, 0)
		b.InvokeSpecial("java/lang/Object", "<init>", objectInit)
		b.Return(descriptor.KindVoid)
	})
}

// sampleClass has a field, a constructor and a method with a loop, a
// switch and an exception handler.
func sampleClass(cb *ClassBuilder) {
	cb.WithField("count", descriptor.Int, AccPrivate.Mask(), nil)
	withConstructor(cb)
	cb.WithMethodBody("sum", intToInt, publicStatic, func(b *CodeBuilder) {
		acc := b.AllocateLocal(descriptor.KindInt)
		loop, done := b.NewLabel(), b.NewLabel()
		b.LoadConstant(0).StoreLocal(descriptor.KindInt, acc)
		b.LabelBinding(loop)
		b.LoadLocal(descriptor.KindInt, 0).Branch(OpIfle, done)
		b.LoadLocal(descriptor.KindInt, acc).LoadLocal(descriptor.KindInt, 0).Op(OpIadd).StoreLocal(descriptor.KindInt, acc)
		b.Iinc(0, -1).Goto(loop)
		b.LabelBinding(done)
		b.LoadLocal(descriptor.KindInt, acc).Return(descriptor.KindInt)
	})
	cb.WithMethodBody("pick", intToInt, publicStatic, func(b *CodeBuilder) {
		one, two, other := b.NewLabel(), b.NewLabel(), b.NewLabel()
		b.LoadLocal(descriptor.KindInt, 0)
		b.LookupSwitch(other, []SwitchCase{{Key: 20, Target: two}, {Key: 10, Target: one}})
		b.LabelBinding(one).LoadConstant(100).Return(descriptor.KindInt)
		b.LabelBinding(two).LoadConstant(1000).Return(descriptor.KindInt)
		b.LabelBinding(other).LoadConstant(100000).Return(descriptor.KindInt)
	})
	cb.WithMethodBody("safe", descriptor.MethodOf(descriptor.Int), publicStatic, func(b *CodeBuilder) {
		b.Trying(func(tb *CodeBuilder) {
			tb.LoadConstant("42")
			tb.InvokeStatic("java/lang/Integer", "parseInt", descriptor.MethodOf(descriptor.Int, descriptor.String))
			tb.Return(descriptor.KindInt)
		}, func(c *CatchBuilder) {
			c.Catching(descriptor.Of("java/lang/NumberFormatException"), func(hb *CodeBuilder) {
				hb.Pop()
				hb.LoadConstant(-1).Return(descriptor.KindInt)
			})
		})
	})
}

func parseClassBytes(t *testing.T, opts Options, data []byte) *ClassModel {
	t.Helper()
	m, err := New(opts).Parse(data)
	require.NoError(t, err)
	return m
}

func methodCode(t *testing.T, m *ClassModel, name string) *CodeModel {
	t.Helper()
	for _, mm := range m.Methods() {
		if mm.Name().String() == name {
			require.NotNil(t, mm.Code(), "method %s has no code", name)
			return mm.Code()
		}
	}
	t.Fatalf("method %s not found", name)
	return nil
}

func instructionsOf(t *testing.T, c *CodeModel) []Instruction {
	t.Helper()
	elems, err := c.Elements()
	require.NoError(t, err)
	var out []Instruction
	for _, e := range elems {
		if ins, ok := e.(Instruction); ok {
			out = append(out, ins)
		}
	}
	return out
}

func opsOf(ins []Instruction) []Opcode {
	out := make([]Opcode, len(ins))
	for i, in := range ins {
		out[i] = in.Op
	}
	return out
}

func stackMapOf(t *testing.T, c *CodeModel) (StackMapTableAttribute, bool) {
	t.Helper()
	attrs, err := c.Attributes()
	require.NoError(t, err)
	return FindAttribute[StackMapTableAttribute](attrs)
}
