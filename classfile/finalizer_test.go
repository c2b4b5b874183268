package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

func countMarkers(t *testing.T, c *CodeModel) int {
	t.Helper()
	n := 0
	for _, in := range instructionsOf(t, c) {
		if imm, ok := in.Imm.(ConstImm); ok {
			if s, ok := imm.Entry.(*StringEntry); ok && s.String() == "marker" {
				n++
			}
		}
	}
	return n
}

func finalizerClass(extra bool) func(*ClassBuilder) {
	return func(cb *ClassBuilder) {
		cb.WithMethodBody("f", intToInt, publicStatic, func(b *CodeBuilder) {
			exit := b.NewLabel()
			exits := []*Label{exit}
			if extra {
				exits = append(exits, b.NewLabel())
			}
			b.TryWithFinalizer(func(tb *CodeBuilder) {
				tb.LoadLocal(descriptor.KindInt, 0)
				tb.IfThen(OpIfeq, func(x *CodeBuilder) {
					x.LoadConstant(1).Return(descriptor.KindInt)
				})
				tb.LoadLocal(descriptor.KindInt, 0).LoadConstant(1).Branch(OpIfIcmpeq, exit)
				tb.Nop()
			}, func(fb *CodeBuilder) {
				fb.LoadConstant("marker").Pop()
			}, exits...)
			b.LoadConstant(0).Return(descriptor.KindInt)
			b.LabelBinding(exit).LoadConstant(2).Return(descriptor.KindInt)
		})
	}
}

func TestTryWithFinalizerCopies(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Finally", finalizerClass(false))
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "f")

	// fall-through, the return and the exit label; the handler joins the
	// return's copy.
	assert.Equal(t, 3, countMarkers(t, c))

	handlers, err := c.ExceptionHandlers()
	require.NoError(t, err)
	require.Len(t, handlers, 1)
	assert.Nil(t, handlers[0].CatchType)

	ops := opsOf(instructionsOf(t, c))
	assert.Contains(t, ops, OpAthrow)
	assert.Equal(t, 2, c.MaxLocals()-1, "result and exception slots follow the parameter")
}

func TestTryWithFinalizerUnusedExit(t *testing.T) {
	plain := buildClass(t, DefaultOptions(), "a/Finally", finalizerClass(false))
	extra := buildClass(t, DefaultOptions(), "a/Finally", finalizerClass(true))
	assert.Equal(t, plain, extra)
}

func TestTryWithFinalizerVoid(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/FinallyVoid", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", descriptor.MethodOf(descriptor.Void, descriptor.Int), publicStatic, func(b *CodeBuilder) {
			b.TryWithFinalizer(func(tb *CodeBuilder) {
				tb.LoadLocal(descriptor.KindInt, 0)
				tb.IfThen(OpIfne, func(x *CodeBuilder) {
					x.Return(descriptor.KindVoid)
				})
				tb.LoadLocal(descriptor.KindInt, 0)
				tb.IfThen(OpIflt, func(x *CodeBuilder) {
					x.Return(descriptor.KindVoid)
				})
			}, func(fb *CodeBuilder) {
				fb.LoadConstant("marker").Pop()
			})
			b.Return(descriptor.KindVoid)
		})
	})
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "f")
	assert.Equal(t, 3, countMarkers(t, c))
	assert.Equal(t, 2, c.MaxLocals())
}

func TestTryWithFinalizerBodyNeverFallsOut(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/FinallyThrow", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			b.TryWithFinalizer(func(tb *CodeBuilder) {
				tb.New("java/lang/IllegalStateException").Dup()
				tb.InvokeSpecial("java/lang/IllegalStateException", "<init>", objectInit)
				tb.Athrow()
			}, func(fb *CodeBuilder) {
				fb.LoadConstant("marker").Pop()
			})
		})
	})
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "f")
	assert.Equal(t, 1, countMarkers(t, c))
	assert.Equal(t, OpAthrow, opsOf(instructionsOf(t, c))[len(instructionsOf(t, c))-1])
}

func TestTryWithFinalizerCopyCounts(t *testing.T) {
	marker := func(fb *CodeBuilder) { fb.LoadConstant("marker").Pop() }
	tests := []struct {
		name string
		body func(*CodeBuilder, *Label)
		want int
	}{
		{"fall-through only", func(tb *CodeBuilder, _ *Label) { tb.Nop() }, 1},
		{"exit only", func(tb *CodeBuilder, exit *Label) { tb.Goto(exit) }, 1},
		{"two returns", func(tb *CodeBuilder, _ *Label) {
			tb.LoadLocal(descriptor.KindInt, 0)
			tb.IfThen(OpIfeq, func(x *CodeBuilder) { x.LoadConstant(1).Return(descriptor.KindInt) })
			tb.LoadConstant(2).Return(descriptor.KindInt)
		}, 2},
		{"return exit and fall-through", func(tb *CodeBuilder, exit *Label) {
			tb.LoadLocal(descriptor.KindInt, 0)
			tb.IfThen(OpIfeq, func(x *CodeBuilder) { x.LoadConstant(1).Return(descriptor.KindInt) })
			tb.LoadLocal(descriptor.KindInt, 0).Branch(OpIflt, exit)
		}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildClass(t, DefaultOptions(), "a/Counts", func(cb *ClassBuilder) {
				cb.WithMethodBody("f", intToInt, publicStatic, func(b *CodeBuilder) {
					exit := b.NewLabel()
					b.TryWithFinalizer(func(tb *CodeBuilder) { tt.body(tb, exit) }, marker, exit)
					b.LoadConstant(0).Return(descriptor.KindInt)
					b.LabelBinding(exit).LoadConstant(2).Return(descriptor.KindInt)
				})
			})
			c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "f")
			assert.Equal(t, tt.want, countMarkers(t, c))

			handlers, err := c.ExceptionHandlers()
			require.NoError(t, err)
			require.Len(t, handlers, 1)
			assert.Nil(t, handlers[0].CatchType)
		})
	}
}

func TestTryWithFinalizerWideResult(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/FinallyLong", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", descriptor.MethodOf(descriptor.Long, descriptor.Int), publicStatic, func(b *CodeBuilder) {
			b.TryWithFinalizer(func(tb *CodeBuilder) {
				tb.LoadLocal(descriptor.KindInt, 0)
				tb.IfThen(OpIfeq, func(x *CodeBuilder) { x.LoadConstant(int64(7)).Return(descriptor.KindLong) })
			}, func(fb *CodeBuilder) {
				fb.LoadConstant("marker").Pop()
			})
			b.LoadConstant(int64(5)).Return(descriptor.KindLong)
		})
	})
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "f")
	assert.Equal(t, 2, countMarkers(t, c))
	assert.Contains(t, opsOf(instructionsOf(t, c)), OpLconst0, "handler seeds the result slot")
}

func deadExitClass(cb *ClassBuilder) {
	cb.WithMethodBody("f", intToInt, publicStatic, func(b *CodeBuilder) {
		exit := b.NewLabel()
		b.TryWithFinalizer(func(tb *CodeBuilder) {
			tb.Goto(exit)
			tb.LoadConstant(1).Return(descriptor.KindInt)
		}, func(fb *CodeBuilder) {
			fb.LoadConstant("marker").Pop()
		}, exit)
		b.LabelBinding(exit).LoadConstant(2).Return(descriptor.KindInt)
	})
}

func TestTryWithFinalizerDeadExit(t *testing.T) {
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), buildClass(t, DefaultOptions(), "a/DeadExit", deadExitClass)), "f")
	assert.Equal(t, 1, countMarkers(t, c), "unreachable return gets no copy")

	for _, mode := range []CodeBuildingOption{CodeDirect, CodeBuffered} {
		opts := DefaultOptions()
		opts.DeadCode = DeadCodeFail
		opts.CodeBuilding = mode
		_, err := New(opts).Build(descriptor.Of("a/DeadExit"), deadExitClass)
		assert.ErrorIs(t, err, errors.ErrIllegalArgument, "mode %d", mode)
	}
}
