package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

func buildErr(code func(*CodeBuilder)) error {
	_, err := Default().Build(descriptor.Of("a/Err"), func(cb *ClassBuilder) {
		cb.WithMethodBody("f", intToInt, publicStatic, code)
	})
	return err
}

func TestCodeBuilderMisuse(t *testing.T) {
	tests := []struct {
		name string
		code func(*CodeBuilder)
	}{
		{"receiver of static", func(b *CodeBuilder) {
			b.ReceiverSlot()
			b.LoadConstant(0).Return(descriptor.KindInt)
		}},
		{"parameter out of range", func(b *CodeBuilder) {
			b.ParameterSlot(1)
			b.LoadConstant(0).Return(descriptor.KindInt)
		}},
		{"branch with non-branch op", func(b *CodeBuilder) {
			b.Branch(OpNop, b.NewLabel())
		}},
		{"if with unconditional op", func(b *CodeBuilder) {
			b.IfThen(OpGoto, func(*CodeBuilder) {})
		}},
		{"unbound branch target", func(b *CodeBuilder) {
			b.Goto(b.NewLabel())
		}},
		{"duplicate catch", func(b *CodeBuilder) {
			b.Trying(func(tb *CodeBuilder) {
				tb.LoadConstant(0).Return(descriptor.KindInt)
			}, func(c *CatchBuilder) {
				ex := descriptor.Of("java/lang/RuntimeException")
				c.Catching(ex, func(h *CodeBuilder) { h.Athrow() })
				c.Catching(ex, func(h *CodeBuilder) { h.Athrow() })
			})
		}},
		{"catch after catch-all", func(b *CodeBuilder) {
			b.Trying(func(tb *CodeBuilder) {
				tb.LoadConstant(0).Return(descriptor.KindInt)
			}, func(c *CatchBuilder) {
				c.CatchingAll(func(h *CodeBuilder) { h.Athrow() })
				c.Catching(descriptor.Throwable, func(h *CodeBuilder) { h.Athrow() })
			})
		}},
		{"primitive catch type", func(b *CodeBuilder) {
			b.Trying(func(tb *CodeBuilder) {
				tb.LoadConstant(0).Return(descriptor.KindInt)
			}, func(c *CatchBuilder) {
				c.Catching(descriptor.Int, func(h *CodeBuilder) { h.Athrow() })
			})
		}},
		{"empty body", func(*CodeBuilder) {}},
		{"stack underflow", func(b *CodeBuilder) {
			b.Op(OpIadd).Return(descriptor.KindInt)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, buildErr(tt.code))
		})
	}

	err := buildErr(func(b *CodeBuilder) {
		b.ReceiverSlot()
		b.LoadConstant(0).Return(descriptor.KindInt)
	})
	assert.ErrorIs(t, err, errors.ErrIllegalArgument)
	var cerr *errors.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "a/Err", cerr.Class)
}

func TestParameterSlots(t *testing.T) {
	mt := descriptor.MethodOf(descriptor.Void, descriptor.Long, descriptor.Int, descriptor.Double, descriptor.String)
	var static, instance []int
	var receiver int
	buildClass(t, DefaultOptions(), "a/Slots", func(cb *ClassBuilder) {
		cb.WithMethodBody("s", mt, publicStatic, func(b *CodeBuilder) {
			for i := 0; i < 4; i++ {
				static = append(static, b.ParameterSlot(i))
			}
			b.Return(descriptor.KindVoid)
		})
		cb.WithMethodBody("i", mt, AccPublic.Mask(), func(b *CodeBuilder) {
			receiver = b.ReceiverSlot()
			for i := 0; i < 4; i++ {
				instance = append(instance, b.ParameterSlot(i))
			}
			b.Return(descriptor.KindVoid)
		})
	})
	assert.Equal(t, []int{0, 2, 3, 5}, static)
	assert.Equal(t, []int{1, 3, 4, 6}, instance)
	assert.Equal(t, 0, receiver)
}

func TestAllocateLocalScopes(t *testing.T) {
	var outer, inner1, inner2, after int
	buildClass(t, DefaultOptions(), "a/Scopes", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", intToInt, publicStatic, func(b *CodeBuilder) {
			outer = b.AllocateLocal(descriptor.KindLong)
			b.Block(func(nb *CodeBuilder) {
				inner1 = nb.AllocateLocal(descriptor.KindInt)
			})
			b.Block(func(nb *CodeBuilder) {
				inner2 = nb.AllocateLocal(descriptor.KindReference)
			})
			after = b.AllocateLocal(descriptor.KindInt)
			b.LoadConstant(0).Return(descriptor.KindInt)
		})
	})
	assert.Equal(t, 1, outer)
	assert.Equal(t, 3, inner1)
	assert.Equal(t, 3, inner2)
	assert.Equal(t, 3, after)
}

func TestAllocatedLocalsRaiseMaxLocals(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Unused", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			b.AllocateLocal(descriptor.KindDouble)
			b.Return(descriptor.KindVoid)
		})
	})
	opts := DefaultOptions()
	opts.StackMaps = StackMapsDrop
	data49 := buildClass(t, opts, "a/Unused", func(cb *ClassBuilder) {
		cb.WithVersion(MajorJava5, 0)
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			b.AllocateLocal(descriptor.KindDouble)
			b.Return(descriptor.KindVoid)
		})
	})
	assert.Equal(t, 2, methodCode(t, parseClassBytes(t, DefaultOptions(), data), "f").MaxLocals())
	assert.Equal(t, 2, methodCode(t, parseClassBytes(t, DefaultOptions(), data49), "f").MaxLocals())
}

func TestIfThenElse(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Cond", func(cb *ClassBuilder) {
		cb.WithMethodBody("sign", intToInt, publicStatic, func(b *CodeBuilder) {
			b.LoadLocal(descriptor.KindInt, 0)
			b.IfThenElse(OpIflt, func(t *CodeBuilder) {
				t.LoadConstant(-1).Return(descriptor.KindInt)
			}, func(e *CodeBuilder) {
				e.LoadConstant(1).Return(descriptor.KindInt)
			})
		})
	})
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "sign")
	assert.Equal(t, []Opcode{OpIload0, OpIfge, OpIconstM1, OpIreturn, OpIconst1, OpIreturn},
		opsOf(instructionsOf(t, c)))
}

func TestIfThenBreak(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Break", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", intToInt, publicStatic, func(b *CodeBuilder) {
			b.Block(func(blk *CodeBuilder) {
				blk.LoadLocal(descriptor.KindInt, 0)
				blk.IfThen(OpIfeq, func(t *CodeBuilder) {
					t.Goto(blk.BreakLabel())
				})
				blk.LoadConstant(5).Return(descriptor.KindInt)
			})
			b.LoadConstant(7).Return(descriptor.KindInt)
		})
	})
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "f")
	assert.Equal(t,
		[]Opcode{OpIload0, OpIfne, OpGoto, OpIconst5, OpIreturn, OpBipush, OpIreturn},
		opsOf(instructionsOf(t, c)))
}

func TestTryingCatchTable(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Catch", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", intToInt, publicStatic, func(b *CodeBuilder) {
			b.Trying(func(tb *CodeBuilder) {
				tb.LoadLocal(descriptor.KindInt, 0).LoadConstant(10).Op(OpIdiv).Return(descriptor.KindInt)
			}, func(c *CatchBuilder) {
				c.CatchingMulti([]descriptor.ClassDesc{
					descriptor.Of("java/lang/ArithmeticException"),
					descriptor.Of("java/lang/IllegalStateException"),
				}, func(h *CodeBuilder) {
					h.Pop().LoadConstant(-1).Return(descriptor.KindInt)
				})
				c.CatchingAll(func(h *CodeBuilder) {
					h.Athrow()
				})
			})
		})
	})
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "f")
	handlers, err := c.ExceptionHandlers()
	require.NoError(t, err)
	require.Len(t, handlers, 3)
	assert.Equal(t, "java/lang/ArithmeticException", handlers[0].CatchType.InternalName())
	assert.Equal(t, "java/lang/IllegalStateException", handlers[1].CatchType.InternalName())
	assert.Nil(t, handlers[2].CatchType)
	assert.Same(t, handlers[0].Handler, handlers[1].Handler)
	assert.NotSame(t, handlers[0].Handler, handlers[2].Handler)
}

func TestDebugElements(t *testing.T) {
	handler := func(cb *ClassBuilder) {
		cb.WithMethodBody("f", intToInt, publicStatic, func(b *CodeBuilder) {
			start, end := b.NewLabel(), b.NewLabel()
			b.LabelBinding(start)
			b.LineNumber(10)
			b.LoadLocal(descriptor.KindInt, 0)
			b.LineNumber(11)
			b.Return(descriptor.KindInt)
			b.LabelBinding(end)
			b.LocalVariable(0, "x", descriptor.Int, start, end)
		})
	}
	data := buildClass(t, DefaultOptions(), "a/Debug", handler)
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "f")
	elems, err := c.Elements()
	require.NoError(t, err)
	var lines []int
	var locals []string
	for _, e := range elems {
		switch e := e.(type) {
		case LineNumber:
			lines = append(lines, e.Line)
		case LocalVariable:
			locals = append(locals, e.Name.String()+":"+e.Type.String())
		}
	}
	assert.Equal(t, []int{10, 11}, lines)
	assert.Equal(t, []string{"x:I"}, locals)

	opts := DefaultOptions()
	opts.LineNumbers = DebugDrop
	opts.DebugElements = DebugDrop
	stripped := methodCode(t, parseClassBytes(t, opts, buildClass(t, opts, "a/Debug", handler)), "f")
	elems, err = stripped.Elements()
	require.NoError(t, err)
	for _, e := range elems {
		_, isLine := e.(LineNumber)
		_, isLocal := e.(LocalVariable)
		assert.False(t, isLine || isLocal)
	}
	assert.Less(t, len(buildClass(t, opts, "a/Debug", handler)), len(data))
}

func TestArrayAndFieldInstructions(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Arrays", func(cb *ClassBuilder) {
		cb.WithField("grid", descriptor.Int.ArrayType().ArrayType(), AccStatic.Mask(), nil)
		cb.WithMethodBody("init", voidMethod, publicStatic, func(b *CodeBuilder) {
			b.LoadConstant(3).LoadConstant(4)
			b.Multianewarray(descriptor.Int.ArrayType().ArrayType(), 2)
			b.PutStatic("a/Arrays", "grid", descriptor.Int.ArrayType().ArrayType())
			b.LoadConstant(8).Newarray(descriptor.KindByte).Pop()
			b.LoadConstant(2).Anewarray("java/lang/String").Pop()
			b.GetStatic("a/Arrays", "grid", descriptor.Int.ArrayType().ArrayType())
			b.Instanceof("[[I").Pop()
			b.Return(descriptor.KindVoid)
		})
	})
	m := parseClassBytes(t, DefaultOptions(), data)
	ins := instructionsOf(t, methodCode(t, m, "init"))
	require.Equal(t, OpMultianewarray, ins[2].Op)
	multi := ins[2].Imm.(MultiArrayImm)
	assert.Equal(t, 2, multi.Dims)
	assert.Equal(t, "[[I", multi.Class.InternalName())
	assert.Equal(t, NewArrayImm{Kind: descriptor.KindByte}, ins[5].Imm)
	assert.Equal(t, 2, methodCode(t, m, "init").MaxStack())
}
