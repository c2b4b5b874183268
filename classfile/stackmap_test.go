package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
	"github.com/wippyai/jclassfile/hierarchy"
)

func frameClassNames(t *testing.T, c *CodeModel) []string {
	t.Helper()
	smt, ok := stackMapOf(t, c)
	require.True(t, ok)
	var names []string
	for _, f := range smt.Frames {
		for _, v := range append(append([]VerificationType(nil), f.Locals...), f.Stack...) {
			if v.Tag == ItemObject {
				names = append(names, v.Class.InternalName())
			}
		}
	}
	return names
}

func mergeClass(cb *ClassBuilder) {
	cb.WithMethodBody("choose", descriptor.MethodOf(descriptor.Object, descriptor.Int), publicStatic, func(b *CodeBuilder) {
		v := b.AllocateLocal(descriptor.KindReference)
		b.LoadLocal(descriptor.KindInt, 0)
		b.IfThenElse(OpIfne, func(t *CodeBuilder) {
			t.InvokeStatic("a/Factory", "left", descriptor.MethodOf(descriptor.Of("a/Left")))
			t.StoreLocal(descriptor.KindReference, v)
		}, func(e *CodeBuilder) {
			e.InvokeStatic("a/Factory", "right", descriptor.MethodOf(descriptor.Of("a/Right")))
			e.StoreLocal(descriptor.KindReference, v)
		})
		b.LoadLocal(descriptor.KindReference, v).Return(descriptor.KindReference)
	})
}

func TestFrameMergeUnknownHierarchy(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Merge", mergeClass)
	names := frameClassNames(t, methodCode(t, parseClassBytes(t, DefaultOptions(), data), "choose"))
	assert.Contains(t, names, "java/lang/Object")
	assert.NotContains(t, names, "a/Base")
}

func TestFrameMergeStrictHierarchy(t *testing.T) {
	opts := DefaultOptions()
	opts.StrictHierarchy = true
	_, err := New(opts).Build(descriptor.Of("a/Merge"), mergeClass)
	assert.ErrorIs(t, err, errors.ErrHierarchyResolution)
}

func TestFrameMergeWithResolver(t *testing.T) {
	opts := DefaultOptions()
	opts.StrictHierarchy = true
	opts.Resolver = hierarchy.Of(nil, map[string]string{
		"a/Left":  "a/Base",
		"a/Right": "a/Base",
		"a/Base":  hierarchy.ObjectName,
	})
	data := buildClass(t, opts, "a/Merge", mergeClass)
	names := frameClassNames(t, methodCode(t, parseClassBytes(t, opts, data), "choose"))
	assert.Contains(t, names, "a/Base")
}

func TestFrameMergeCircularHierarchy(t *testing.T) {
	for _, strict := range []bool{false, true} {
		opts := DefaultOptions()
		opts.StrictHierarchy = strict
		opts.Resolver = hierarchy.Of(nil, map[string]string{
			"a/Left":  "a/Base",
			"a/Right": "a/Other",
			"a/Base":  "a/Left",
			"a/Other": "a/Right",
		})
		_, err := New(opts).Build(descriptor.Of("a/Merge"), mergeClass)
		require.ErrorIs(t, err, errors.ErrHierarchyResolution, "strict %v", strict)
		assert.Contains(t, err.Error(), "circular superclass chain")
	}
}

func TestFrameMergeInterface(t *testing.T) {
	opts := DefaultOptions()
	opts.Resolver = hierarchy.Of([]string{"a/Left"}, map[string]string{
		"a/Right": "a/Base",
		"a/Base":  hierarchy.ObjectName,
	})
	data := buildClass(t, opts, "a/Merge", mergeClass)
	names := frameClassNames(t, methodCode(t, parseClassBytes(t, opts, data), "choose"))
	assert.Contains(t, names, "java/lang/Object")
	assert.NotContains(t, names, "a/Base")
}

func switchMergeClass(cb *ClassBuilder) {
	cb.WithMethodBody("mix", descriptor.MethodOf(descriptor.Void, descriptor.Int), publicStatic, func(b *CodeBuilder) {
		v := b.AllocateLocal(descriptor.KindInt)
		join, dflt := b.NewLabel(), b.NewLabel()
		cases := []*Label{b.NewLabel(), b.NewLabel(), b.NewLabel()}
		b.LoadLocal(descriptor.KindInt, 0).TableSwitch(0, 2, dflt, cases)
		b.LabelBinding(cases[0]).LoadConstant(1).StoreLocal(descriptor.KindInt, v).Goto(join)
		b.LabelBinding(cases[1]).LoadConstant(float32(1.5)).StoreLocal(descriptor.KindFloat, v).Goto(join)
		b.LabelBinding(cases[2]).LoadConstant(3).StoreLocal(descriptor.KindInt, v).Goto(join)
		b.LabelBinding(dflt).LoadConstant(float32(2.5)).StoreLocal(descriptor.KindFloat, v)
		b.LabelBinding(join).Return(descriptor.KindVoid)
	})
}

func TestJoinThresholdFallback(t *testing.T) {
	want := buildClass(t, DefaultOptions(), "a/Switch", switchMergeClass)

	opts := DefaultOptions()
	opts.JoinThreshold = 1
	assert.Equal(t, want, buildClass(t, opts, "a/Switch", switchMergeClass))

	opts.JoinThreshold = 0
	assert.Equal(t, want, buildClass(t, opts, "a/Switch", switchMergeClass))

	c := methodCode(t, parseClassBytes(t, DefaultOptions(), want), "mix")
	smt, ok := stackMapOf(t, c)
	require.True(t, ok)
	last := smt.Frames[len(smt.Frames)-1]
	for _, v := range last.Locals {
		assert.NotEqual(t, ItemFloat, v.Tag)
	}
}

func jsrClass(major int) func(*ClassBuilder) {
	return func(cb *ClassBuilder) {
		cb.WithVersion(major, 0)
		cb.WithMethodBody("sub", voidMethod, publicStatic, func(b *CodeBuilder) {
			ret := b.AllocateLocal(descriptor.KindReference)
			sub := b.NewLabel()
			b.Jsr(sub)
			b.Return(descriptor.KindVoid)
			b.LabelBinding(sub)
			b.StoreLocal(descriptor.KindReference, ret)
			b.Ret(ret)
		})
	}
}

func TestSubroutines(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Jsr", jsrClass(MajorJava6))
	m := parseClassBytes(t, DefaultOptions(), data)
	c := methodCode(t, m, "sub")
	_, hasFrames := stackMapOf(t, c)
	assert.False(t, hasFrames)
	assert.Equal(t, []Opcode{OpJsr, OpReturn, OpAstore0, OpRet}, opsOf(instructionsOf(t, c)))
	assert.Equal(t, 1, c.MaxStack())
	assert.Equal(t, 1, c.MaxLocals())

	out, err := Default().Transform(m, TransformingMethodBodies(AcceptAllCode()))
	require.NoError(t, err)
	assert.Equal(t, data, out)

	opts := DefaultOptions()
	opts.StackMaps = StackMapsDrop
	_, err = New(opts).Transform(m, TransformingMethodBodies(AcceptAllCode()))
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)

	_, err = Default().Build(descriptor.Of("a/Jsr"), jsrClass(MajorJava7))
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)

	buildClass(t, opts, "a/Jsr", jsrClass(MajorJava5))
}

func TestFramesByVersion(t *testing.T) {
	build := func(opts Options, major int) *CodeModel {
		data := buildClass(t, opts, "a/Loop", func(cb *ClassBuilder) {
			cb.WithVersion(major, 0)
			sampleClass(cb)
		})
		return methodCode(t, parseClassBytes(t, opts, data), "sum")
	}

	_, ok := stackMapOf(t, build(DefaultOptions(), MajorJava5))
	assert.False(t, ok)
	_, ok = stackMapOf(t, build(DefaultOptions(), MajorJava6))
	assert.True(t, ok)

	opts := DefaultOptions()
	opts.StackMaps = StackMapsGenerate
	_, ok = stackMapOf(t, build(opts, MajorJava5))
	assert.True(t, ok)

	opts.StackMaps = StackMapsDrop
	_, ok = stackMapOf(t, build(opts, MajorJava5))
	assert.False(t, ok)
	_, err := New(opts).Build(descriptor.Of("a/Loop"), sampleClass)
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)
}

func TestFrameLocalsForInstanceMethod(t *testing.T) {
	data := buildClass(t, DefaultOptions(), "a/Self", func(cb *ClassBuilder) {
		withConstructor(cb)
		cb.WithMethodBody("loop", voidMethod, AccPublic.Mask(), func(b *CodeBuilder) {
			top := b.NewLabel()
			b.LabelBinding(top)
			b.LoadLocal(descriptor.KindReference, b.ReceiverSlot())
			b.InvokeVirtual("a/Self", "ready", descriptor.MethodOf(descriptor.Boolean))
			b.Branch(OpIfeq, top)
			b.Return(descriptor.KindVoid)
		})
	})
	c := methodCode(t, parseClassBytes(t, DefaultOptions(), data), "loop")
	smt, ok := stackMapOf(t, c)
	require.True(t, ok)
	require.Len(t, smt.Frames, 1)
	assert.Equal(t, 0, smt.Frames[0].Offset)
	assert.Equal(t, 1, c.MaxLocals())
}
