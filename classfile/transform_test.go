package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/hierarchy"
)

func sampleModel(t *testing.T) *ClassModel {
	t.Helper()
	return parseClassBytes(t, DefaultOptions(), buildClass(t, DefaultOptions(), "a/Sample", func(cb *ClassBuilder) {
		sampleClass(cb)
		cb.With(NewSourceFile("Sample.java"))
	}))
}

func methodNames(m *ClassModel) []string {
	var out []string
	for _, mm := range m.Methods() {
		out = append(out, mm.Name().String())
	}
	return out
}

func TestDroppingMethods(t *testing.T) {
	model := sampleModel(t)
	drop := Dropping[ClassElement, *ClassBuilder](func(e ClassElement) bool {
		m, ok := e.(*MethodModel)
		return ok && m.Name().Equals("pick")
	})
	out, err := Default().Transform(model, drop)
	require.NoError(t, err)
	assert.Equal(t, []string{"<init>", "sum", "safe"}, methodNames(parseClassBytes(t, DefaultOptions(), out)))
}

func TestEndHandlerAddsMethod(t *testing.T) {
	model := sampleModel(t)
	add := EndHandler[ClassElement](func(b *ClassBuilder) {
		b.WithMethodBody("added", voidMethod, publicStatic, func(cb *CodeBuilder) {
			cb.Return(descriptor.KindVoid)
		})
	})
	out, err := Default().Transform(model, add)
	require.NoError(t, err)
	got := parseClassBytes(t, DefaultOptions(), out)
	assert.Equal(t, []string{"<init>", "sum", "pick", "safe", "added"}, methodNames(got))

	attrs, err := got.Attributes()
	require.NoError(t, err)
	sf, ok := FindAttribute[SourceFileAttribute](attrs)
	require.True(t, ok)
	assert.Equal(t, "Sample.java", sf.SourceFile.String())
}

func TestAndThenOrder(t *testing.T) {
	model := sampleModel(t)
	var seen []string
	record := func(tag string) ClassTransform {
		return NewTransform(func(b *ClassBuilder, e ClassElement) {
			if m, ok := e.(*MethodModel); ok {
				seen = append(seen, tag+":"+m.Name().String())
			}
			b.With(e)
		})
	}
	dropSum := Dropping[ClassElement, *ClassBuilder](func(e ClassElement) bool {
		m, ok := e.(*MethodModel)
		return ok && m.Name().Equals("sum")
	})

	out, err := Default().Transform(model, dropSum.AndThen(record("second")))
	require.NoError(t, err)
	assert.Equal(t, []string{"second:<init>", "second:pick", "second:safe"}, seen)
	assert.Equal(t, []string{"<init>", "pick", "safe"}, methodNames(parseClassBytes(t, DefaultOptions(), out)))

	seen = nil
	_, err = Default().Transform(model, record("first").AndThen(dropSum))
	require.NoError(t, err)
	assert.Len(t, seen, 4)
}

func TestAndThenHooks(t *testing.T) {
	model := sampleModel(t)
	var order []string
	a := AcceptAllClass().AtStart(func(*ClassBuilder) { order = append(order, "a-start") }).
		AtEnd(func(*ClassBuilder) { order = append(order, "a-end") })
	b := AcceptAllClass().AtStart(func(*ClassBuilder) { order = append(order, "b-start") }).
		AtEnd(func(*ClassBuilder) { order = append(order, "b-end") })
	_, err := Default().Transform(model, a.AndThen(b))
	require.NoError(t, err)
	assert.Equal(t, []string{"b-start", "a-start", "a-end", "b-end"}, order)
}

func TestAccumulatingFreshState(t *testing.T) {
	model := sampleModel(t)
	var counts []int
	count := Accumulating(
		func() int { return 0 },
		func(b *CodeBuilder, n *int, e CodeElement) {
			if _, ok := e.(Instruction); ok {
				*n++
			}
			b.With(e)
		},
		func(b *CodeBuilder, n *int) { counts = append(counts, *n) },
	)
	out, err := Default().Transform(model, TransformingMethodBodies(count))
	require.NoError(t, err)
	require.Len(t, counts, 4)

	for i, name := range []string{"<init>", "sum", "pick", "safe"} {
		assert.Equal(t, len(instructionsOf(t, methodCode(t, model, name))), counts[i], name)
	}
	assert.Equal(t, 3, counts[0])

	counts = nil
	_, err = Default().Transform(parseClassBytes(t, DefaultOptions(), out), TransformingMethodBodies(count))
	require.NoError(t, err)
	assert.Equal(t, 3, counts[0])
}

func TestStatefulFactory(t *testing.T) {
	model := sampleModel(t)
	created := 0
	st := Stateful(func() CodeTransform {
		created++
		return AcceptAllCode()
	})
	_, err := Default().Transform(model, TransformingMethodBodies(st))
	require.NoError(t, err)
	assert.Equal(t, 4, created)
}

func TestTransformingMethodsIf(t *testing.T) {
	model := sampleModel(t)
	markDeprecated := TransformingMethodsIf(func(m *MethodModel) bool {
		return m.IsStatic()
	}, EndHandler[MethodElement](func(b *MethodBuilder) {
		b.With(DeprecatedAttribute{})
	}))
	out, err := Default().Transform(model, markDeprecated)
	require.NoError(t, err)

	got := parseClassBytes(t, DefaultOptions(), out)
	for _, m := range got.Methods() {
		attrs, err := m.Attributes()
		require.NoError(t, err)
		_, deprecated := FindAttribute[DeprecatedAttribute](attrs)
		assert.Equal(t, m.IsStatic(), deprecated, m.Name().String())
	}
}

func TestCodeTransformReplacesInstructions(t *testing.T) {
	model := sampleModel(t)
	swap := NewTransform(func(b *CodeBuilder, e CodeElement) {
		if ins, ok := e.(Instruction); ok && ins.Op == OpIadd {
			b.Op(OpIsub)
			return
		}
		b.With(e)
	})
	out, err := Default().Transform(model, TransformingMethodsIf(func(m *MethodModel) bool {
		return m.Name().Equals("sum")
	}, TransformingCode(swap)))
	require.NoError(t, err)

	got := parseClassBytes(t, DefaultOptions(), out)
	ops := opsOf(instructionsOf(t, methodCode(t, got, "sum")))
	assert.Contains(t, ops, OpIsub)
	assert.NotContains(t, ops, OpIadd)
	assert.Equal(t,
		opsOf(instructionsOf(t, methodCode(t, model, "pick"))),
		opsOf(instructionsOf(t, methodCode(t, got, "pick"))))
}

func TestTransformingFields(t *testing.T) {
	model := sampleModel(t)
	out, err := Default().Transform(model, TransformingFields(EndHandler[FieldElement](func(b *FieldBuilder) {
		b.WithFlagSet(AccPublic, AccVolatile)
	})))
	require.NoError(t, err)
	got := parseClassBytes(t, DefaultOptions(), out)
	require.Len(t, got.Fields(), 1)
	assert.Equal(t, []AccessFlag{AccPublic, AccVolatile}, got.Fields()[0].Flags().Flags())
}

func TestTransformingInsideBuilder(t *testing.T) {
	dropNops := Dropping[CodeElement, *CodeBuilder](func(e CodeElement) bool {
		ins, ok := e.(Instruction)
		return ok && ins.Op == OpNop
	})
	data := buildClass(t, DefaultOptions(), "a/Inner", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", voidMethod, publicStatic, func(b *CodeBuilder) {
			b.Transforming(dropNops, func(tb *CodeBuilder) {
				tb.Nop().Nop().Op(OpIconst1).Pop().Nop()
			})
			b.Return(descriptor.KindVoid)
		})
	})
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "f")
	assert.Equal(t, []Opcode{OpIconst1, OpPop, OpReturn}, opsOf(instructionsOf(t, c)))
}

func TestTransformWithoutSuperclass(t *testing.T) {
	data := buildClass(t, DefaultOptions(), hierarchy.ObjectName, func(cb *ClassBuilder) {
		cb.With(Superclass{})
		cb.WithMethodBody("hashCode", descriptor.MethodOf(descriptor.Int), AccPublic.Mask(), func(b *CodeBuilder) {
			b.LoadConstant(0).Return(descriptor.KindInt)
		})
	})
	m := parseClassBytes(t, DefaultOptions(), data)
	assert.Nil(t, m.Superclass())

	for _, ct := range []ClassTransform{AcceptAllClass(), TransformingMethodBodies(AcceptAllCode())} {
		out, err := Default().Transform(m, ct)
		require.NoError(t, err)
		assert.Nil(t, parseClassBytes(t, DefaultOptions(), out).Superclass())
	}
}

func TestTransformCatchAllHandler(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/CatchAll", func(cb *ClassBuilder) {
		cb.WithMethodBody("f", intToInt, publicStatic, func(b *CodeBuilder) {
			start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
			b.LabelBinding(start)
			b.LoadLocal(descriptor.KindInt, 0).LoadConstant(3).Op(OpIdiv).Return(descriptor.KindInt)
			b.LabelBinding(end)
			b.LabelBinding(handler).Pop().LoadConstant(0).Return(descriptor.KindInt)
			b.ExceptionCatch(start, end, handler, nil)
		})
		cb.WithMethodBody("g", intToInt, publicStatic, func(b *CodeBuilder) {
			b.TryWithFinalizer(func(tb *CodeBuilder) {
				tb.LoadLocal(descriptor.KindInt, 0).Return(descriptor.KindInt)
			}, func(fb *CodeBuilder) {
				fb.Nop()
			})
		})
	})
	m := parseClassBytes(t, DefaultOptions(), data)

	for _, ct := range []ClassTransform{AcceptAllClass(), TransformingMethodBodies(AcceptAllCode())} {
		out, err := Default().Transform(m, ct)
		require.NoError(t, err)
		got := parseClassBytes(t, DefaultOptions(), out)
		for _, name := range []string{"f", "g"} {
			handlers, err := methodCode(t, got, name).ExceptionHandlers()
			require.NoError(t, err)
			require.Len(t, handlers, 1, name)
			assert.Nil(t, handlers[0].CatchType, name)
		}
	}
}
