package classfile

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

func TestTransformIdentityIsByteExact(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Same", sampleClass)
	model := parseClassBytes(t, DefaultOptions(), data)

	out, err := Default().Transform(model, AcceptAllClass())
	require.NoError(t, err)
	assert.Equal(t, data, out)

	out, err = Default().Transform(model, TransformingMethods(AcceptAllMethod()))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestTransformRegeneratesCodeStably(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Stable", sampleClass)
	model := parseClassBytes(t, DefaultOptions(), data)

	once, err := Default().Transform(model, TransformingMethodBodies(AcceptAllCode()))
	require.NoError(t, err)
	twice, err := Default().Transform(parseClassBytes(t, DefaultOptions(), once),
		TransformingMethodBodies(AcceptAllCode()))
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	for _, name := range []string{"sum", "pick", "safe"} {
		assert.Equal(t,
			opsOf(instructionsOf(t, methodCode(t, model, name))),
			opsOf(instructionsOf(t, methodCode(t, parseClassBytes(t, DefaultOptions(), once), name))),
			name)
	}
}

func TestLdcWidening(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Wide", func(cb *ClassBuilder) {
		for i := 0; i < 300; i++ {
			cb.ConstantPool().Utf8(fmt.Sprintf("padding-%d", i))
		}
		cb.WithMethodBody("get", descriptor.MethodOf(descriptor.String), publicStatic, func(b *CodeBuilder) {
			b.LoadConstant("late").Return(descriptor.KindReference)
		})
	})
	m := parseClassBytes(t, DefaultOptions(), data)
	ins := instructionsOf(t, methodCode(t, m, "get"))
	require.Len(t, ins, 2)
	assert.Equal(t, OpLdcW, ins[0].Op)
	imm := ins[0].Imm.(ConstImm)
	assert.Equal(t, "late", imm.Entry.(*StringEntry).String())
	assert.Greater(t, imm.Entry.Index(), 0xFF)

	out, err := Default().Transform(m, TransformingMethodBodies(AcceptAllCode()))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestLdcNarrowIndex(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Narrow", func(cb *ClassBuilder) {
		cb.WithMethodBody("get", descriptor.MethodOf(descriptor.String), publicStatic, func(b *CodeBuilder) {
			b.LoadConstant("early").Return(descriptor.KindReference)
		})
	})
	ins := instructionsOf(t, methodCode(t, parseClassBytes(t, DefaultOptions(), data), "get"))
	assert.Equal(t, OpLdc, ins[0].Op)
}

func TestBuildModesAgree(t *testing.T) {
	body := func(b *CodeBuilder) {
		acc := b.AllocateLocal(descriptor.KindInt)
		b.LoadConstant(0).StoreLocal(descriptor.KindInt, acc)
		b.LoadLocal(descriptor.KindInt, 0)
		b.IfThenElse(OpIfgt, func(t *CodeBuilder) {
			t.LoadConstant(7).StoreLocal(descriptor.KindInt, acc)
		}, func(e *CodeBuilder) {
			e.LoadConstant(-7).StoreLocal(descriptor.KindInt, acc)
		})
		b.LoadLocal(descriptor.KindInt, acc).Return(descriptor.KindInt)
	}
	build := func(mode CodeBuildingOption, wrap bool) []byte {
		opts := DefaultOptions()
		opts.CodeBuilding = mode
		return buildClass(t, opts, "a/Modes", func(cb *ClassBuilder) {
			cb.WithMethodBody("f", intToInt, publicStatic, func(b *CodeBuilder) {
				if wrap {
					b.Block(body)
					return
				}
				body(b)
			})
		})
	}

	direct := build(CodeDirect, false)
	assert.Equal(t, direct, build(CodeBuffered, false))
	assert.Equal(t, direct, build(CodeDirect, true))
	assert.Equal(t, direct, build(CodeBuffered, true))

	models := map[string]*ClassModel{
		"built":  parseClassBytes(t, DefaultOptions(), direct),
		"sample": sampleModel(t),
	}
	nopBeforeReturn := NewTransform(func(b *CodeBuilder, e CodeElement) {
		if ins, ok := e.(Instruction); ok && ins.Op.IsReturn() {
			b.Nop()
		}
		b.With(e)
	})
	transforms := map[string]ClassTransform{
		"regenerate": TransformingMethodBodies(AcceptAllCode()),
		"chained":    TransformingMethods(TransformingCode(AcceptAllCode().AndThen(AcceptAllCode()))),
		"nop":        TransformingMethodBodies(nopBeforeReturn),
	}
	for mn, m := range models {
		for tn, ct := range transforms {
			transform := func(mode CodeBuildingOption) []byte {
				opts := DefaultOptions()
				opts.CodeBuilding = mode
				out, err := New(opts).Transform(m, ct)
				require.NoError(t, err, "%s %s", mn, tn)
				return out
			}
			want := transform(CodeDirect)
			assert.Equal(t, want, transform(CodeBuffered), "%s %s", mn, tn)
			parseClassBytes(t, DefaultOptions(), want)
		}
	}
}

func TestWithMaxs(t *testing.T) {
	_, err := Default().Build(descriptor.Of("a/Bad"), func(cb *ClassBuilder) {
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			b.WithMaxs(70000, 1).Return(descriptor.KindVoid)
		})
	})
	assert.ErrorIs(t, err, errors.ErrIllegalArgument)

	handler := func(cb *ClassBuilder) {
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			b.WithMaxs(9, 11).Return(descriptor.KindVoid)
		})
	}

	opts := DefaultOptions()
	opts.StackMaps = StackMapsDrop
	c := methodCode(t, parseClassBytes(t, opts, buildClass(t, opts, "a/Explicit", handler)), "f")
	assert.Equal(t, 9, c.MaxStack())
	assert.Equal(t, 11, c.MaxLocals())

	c = methodCode(t, parseClassBytes(t, DefaultOptions(), buildClass(t, DefaultOptions(), "a/Computed", handler)), "f")
	assert.Equal(t, 0, c.MaxStack())
	assert.Equal(t, 0, c.MaxLocals())
}

func TestComputedMaxes(t *testing.T) {
	m := parseClassBytes(t, DefaultOptions(), buildClass(t, DefaultOptions(), "a/Max", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", descriptor.MethodOf(descriptor.Long, descriptor.Long, descriptor.Int), publicStatic,
			func(b *CodeBuilder) {
				b.LoadLocal(descriptor.KindLong, 0)
				b.LoadLocal(descriptor.KindInt, 2).Op(OpI2l)
				b.Op(OpLadd).Return(descriptor.KindLong)
			})
	}))
	c := methodCode(t, m, "f")
	assert.Equal(t, 4, c.MaxStack())
	assert.Equal(t, 3, c.MaxLocals())
}

func TestShortJumpInflation(t *testing.T) {
	handler := func(cb *ClassBuilder) {
		cb.WithMethodBody("far", descriptor.MethodOf(descriptor.Void, descriptor.Int), publicStatic, func(b *CodeBuilder) {
			far := b.NewLabel()
			b.LoadLocal(descriptor.KindInt, 0).Branch(OpIfne, far)
			for iter := 0; iter < 33000; iter++ {
				b.Nop()
			}
			b.LabelBinding(far).Return(descriptor.KindVoid)
		})
	}

	m := parseClassBytes(t, DefaultOptions(), buildClass(t, DefaultOptions(), "a/Far", handler))
	ops := opsOf(instructionsOf(t, methodCode(t, m, "far")))
	require.Greater(t, len(ops), 4)
	assert.Equal(t, []Opcode{OpIload0, OpIfeq, OpGotoW, OpNop}, ops[:4])
	assert.Equal(t, OpReturn, ops[len(ops)-1])

	opts := DefaultOptions()
	opts.ShortJumps = ShortJumpsFail
	_, err := New(opts).Build(descriptor.Of("a/Far"), handler)
	assert.ErrorIs(t, err, errors.ErrIllegalArgument)
}

func TestCodeTooLong(t *testing.T) {
	_, err := Default().Build(descriptor.Of("a/Huge"), func(cb *ClassBuilder) {
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			for iter := 0; iter < 65536; iter++ {
				b.Nop()
			}
			b.Return(descriptor.KindVoid)
		})
	})
	assert.ErrorIs(t, err, errors.ErrIllegalArgument)
}

func TestDeadCode(t *testing.T) {
	handler := func(cb *ClassBuilder) {
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			b.Return(descriptor.KindVoid)
			b.Nop()
			b.Return(descriptor.KindVoid)
		})
	}

	m := parseClassBytes(t, DefaultOptions(), buildClass(t, DefaultOptions(), "a/Dead", handler))
	c := methodCode(t, m, "f")
	assert.Equal(t, []Opcode{OpReturn, OpNop, OpAthrow}, opsOf(instructionsOf(t, c)))
	smt, ok := stackMapOf(t, c)
	require.True(t, ok)
	require.Len(t, smt.Frames, 1)
	assert.Equal(t, 1, smt.Frames[0].Offset)
	require.Len(t, smt.Frames[0].Stack, 1)
	assert.Equal(t, "java/lang/Throwable", smt.Frames[0].Stack[0].Class.InternalName())

	for _, mode := range []DeadCodeOption{DeadCodeFail, DeadCodeKeep} {
		opts := DefaultOptions()
		opts.DeadCode = mode
		_, err := New(opts).Build(descriptor.Of("a/Dead"), handler)
		assert.ErrorIs(t, err, errors.ErrIllegalArgument, "mode %d", mode)
	}

	opts := DefaultOptions()
	opts.DeadCode = DeadCodeFail
	opts.StackMaps = StackMapsDrop
	_, err := New(opts).Build(descriptor.Of("a/Dead"), func(cb *ClassBuilder) {
		cb.WithVersion(MajorJava5, 0)
		handler(cb)
	})
	assert.ErrorIs(t, err, errors.ErrIllegalArgument)
}

func TestDeadLabels(t *testing.T) {
	handler := func(cb *ClassBuilder) {
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			unbound := b.NewLabel()
			start := b.NewLabel()
			b.LabelBinding(start)
			b.Return(descriptor.KindVoid)
			b.ExceptionCatch(start, unbound, start, nil)
			b.LocalVariable(0, "ghost", descriptor.Int, start, unbound)
		})
	}

	_, err := Default().Build(descriptor.Of("a/Labels"), handler)
	assert.ErrorIs(t, err, errors.ErrIllegalArgument)

	opts := DefaultOptions()
	opts.DeadLabels = DeadLabelsDrop
	c := methodCode(t, parseClassBytes(t, opts, buildClass(t, opts, "a/Labels", handler)), "f")
	handlers, err := c.ExceptionHandlers()
	require.NoError(t, err)
	assert.Empty(t, handlers)
	elems, err := c.Elements()
	require.NoError(t, err)
	for _, e := range elems {
		_, isLocal := e.(LocalVariable)
		assert.False(t, isLocal)
	}
}

func TestLoadConstantForms(t *testing.T) {
	tests := []struct {
		value any
		op    Opcode
	}{
		{nil, OpAconstNull},
		{-1, OpIconstM1},
		{5, OpIconst5},
		{100, OpBipush},
		{-129, OpSipush},
		{40000, OpLdc},
		{true, OpIconst1},
		{int64(1), OpLconst1},
		{int64(2), OpLdc2W},
		{float32(2), OpFconst2},
		{float32(3), OpLdc},
		{1.0, OpDconst1},
		{2.0, OpLdc2W},
		{"s", OpLdc},
		{descriptor.Of("java/util/List"), OpLdc},
	}
	var got []Opcode
	m := parseClassBytes(t, DefaultOptions(), buildClass(t, DefaultOptions(), "a/Consts", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			for _, tt := range tests {
				b.LoadConstant(tt.value)
				if tt.op == OpLdc2W || tt.op == OpLconst1 || tt.op == OpDconst1 {
					b.Op(OpPop2)
				} else {
					b.Pop()
				}
			}
			b.Return(descriptor.KindVoid)
		})
	}))
	for _, in := range instructionsOf(t, methodCode(t, m, "f")) {
		if in.Op != OpPop && in.Op != OpPop2 && in.Op != OpReturn {
			got = append(got, in.Op)
		}
	}
	want := make([]Opcode, len(tests))
	for i, tt := range tests {
		want[i] = tt.op
	}
	assert.Equal(t, want, got)

	negZero := parseClassBytes(t, DefaultOptions(), buildClass(t, DefaultOptions(), "a/NegZero", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", descriptor.MethodOf(descriptor.Double), publicStatic, func(b *CodeBuilder) {
			b.LoadConstant(math.Copysign(0, -1)).Return(descriptor.KindDouble)
		})
	}))
	assert.Equal(t, OpLdc2W, instructionsOf(t, methodCode(t, negZero, "f"))[0].Op)

	_, err := Default().Build(descriptor.Of("a/BadConst"), func(cb *ClassBuilder) {
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			b.LoadConstant([]int{1}).Return(descriptor.KindVoid)
		})
	})
	assert.ErrorIs(t, err, errors.ErrIllegalConstant)
}
