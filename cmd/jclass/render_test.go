package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/jclassfile/classfile"
	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

var publicStatic = classfile.AccPublic.Mask() | classfile.AccStatic.Mask()

func demoClass(cb *classfile.ClassBuilder) {
	cb.With(classfile.NewSourceFile("Demo.java"))
	cb.WithField("count", descriptor.Int, classfile.AccPrivate.Mask(), nil)
	cb.WithMethodBody("sum", descriptor.MethodOf(descriptor.Int, descriptor.Int), publicStatic, func(b *classfile.CodeBuilder) {
		acc := b.AllocateLocal(descriptor.KindInt)
		loop, done := b.NewLabel(), b.NewLabel()
		b.LineNumber(10)
		b.LoadConstant(0).StoreLocal(descriptor.KindInt, acc)
		b.LabelBinding(loop)
		b.LoadLocal(descriptor.KindInt, 0).Branch(classfile.OpIfle, done)
		b.LoadLocal(descriptor.KindInt, acc).LoadLocal(descriptor.KindInt, 0).Op(classfile.OpIadd).StoreLocal(descriptor.KindInt, acc)
		b.Iinc(0, -1).Goto(loop)
		b.LabelBinding(done)
		b.LineNumber(11)
		b.LoadLocal(descriptor.KindInt, acc).Return(descriptor.KindInt)
	})
	cb.WithMethodBody("safe", descriptor.MethodOf(descriptor.Int), publicStatic, func(b *classfile.CodeBuilder) {
		b.Trying(func(tb *classfile.CodeBuilder) {
			tb.LoadConstant("42")
			tb.InvokeStatic("java/lang/Integer", "parseInt", descriptor.MethodOf(descriptor.Int, descriptor.String))
			tb.Return(descriptor.KindInt)
		}, func(c *classfile.CatchBuilder) {
			c.Catching(descriptor.Of("java/lang/NumberFormatException"), func(hb *classfile.CodeBuilder) {
				hb.Pop()
				hb.LoadConstant(-1).Return(descriptor.KindInt)
			})
		})
	})
}

func writeClass(t *testing.T, dir, name string, handler func(*classfile.ClassBuilder)) string {
	t.Helper()
	data, err := classfile.Default().Build(descriptor.Of(name), handler)
	require.NoError(t, err)
	path := filepath.Join(dir, filepath.FromSlash(name)+".class")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func parseFile(t *testing.T, path string) *classfile.ClassModel {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	m, err := classfile.Default().Parse(data)
	require.NoError(t, err)
	return m
}

func TestRenderClass(t *testing.T) {
	m := parseFile(t, writeClass(t, t.TempDir(), "a/Demo", demoClass))

	var out bytes.Buffer
	require.NoError(t, renderClass(&out, m, plainPalette()))

	s := out.String()
	assert.Contains(t, s, "a/Demo")
	assert.Contains(t, s, "super:      java/lang/Object")
	assert.Contains(t, s, "private count I")
	assert.Contains(t, s, "public static sum(I)I")
	assert.Contains(t, s, "attributes: SourceFile")
}

func TestRenderCode(t *testing.T) {
	m := parseFile(t, writeClass(t, t.TempDir(), "a/Demo", demoClass))

	var out bytes.Buffer
	sum := findMethods(m, "sum")
	require.Len(t, sum, 1)
	require.NoError(t, renderCode(&out, sum[0], plainPalette()))

	s := out.String()
	assert.Contains(t, s, "L0:\n")
	assert.Contains(t, s, "    ifle L1\n")
	assert.Contains(t, s, "    iinc 0 -1\n")
	assert.Contains(t, s, "    goto L0\n")
	assert.Contains(t, s, "    istore_1\n")
	assert.Contains(t, s, "    line 10\n")
	assert.Contains(t, s, "    line 11\n")

	out.Reset()
	safe := findMethods(m, "safe()I")
	require.Len(t, safe, 1)
	require.NoError(t, renderCode(&out, safe[0], plainPalette()))
	s = out.String()
	assert.Contains(t, s, `ldc "42"`)
	assert.Contains(t, s, "invokestatic java/lang/Integer.parseInt:(Ljava/lang/String;)I")
	assert.Contains(t, s, "catch java/lang/NumberFormatException ->")
}

func TestFindMethods(t *testing.T) {
	m := parseFile(t, writeClass(t, t.TempDir(), "a/Demo", demoClass))

	assert.Len(t, findMethods(m, "sum"), 1)
	assert.Len(t, findMethods(m, "sum(I)I"), 1)
	assert.Empty(t, findMethods(m, "sum(J)J"))
	assert.Empty(t, findMethods(m, "missing"))
}

func TestRunRewrite(t *testing.T) {
	dir := t.TempDir()
	in := writeClass(t, dir, "a/Demo", demoClass)
	dest := filepath.Join(dir, "out.class")

	cfg := config{strip: true, target: "1.8", out: dest}
	var log bytes.Buffer
	require.NoError(t, run(context.Background(), classfile.New(cfg.options()), cfg, []string{in}, &log))
	assert.Contains(t, log.String(), "-> "+dest)

	m := parseFile(t, dest)
	assert.Equal(t, 52, m.Version().Major)

	attrs, err := m.Attributes()
	require.NoError(t, err)
	for _, a := range attrs {
		assert.NotEqual(t, classfile.AttrSourceFile, a.AttributeName())
	}

	elems, err := findMethods(m, "sum")[0].Code().Elements()
	require.NoError(t, err)
	for _, e := range elems {
		_, isLine := e.(classfile.LineNumber)
		assert.False(t, isLine)
	}
}

func TestRunSeveralInputs(t *testing.T) {
	dir := t.TempDir()
	a := writeClass(t, dir, "a/One", demoClass)
	b := writeClass(t, dir, "a/Two", demoClass)
	outDir := filepath.Join(dir, "out")

	cfg := config{regen: true, out: outDir}
	var log bytes.Buffer
	require.NoError(t, run(context.Background(), classfile.New(cfg.options()), cfg, []string{a, b}, &log))

	assert.Equal(t, "a/One", parseFile(t, filepath.Join(outDir, "One.class")).ThisClass().InternalName())
	assert.Equal(t, "a/Two", parseFile(t, filepath.Join(outDir, "Two.class")).ThisClass().InternalName())
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	in := writeClass(t, dir, "a/Demo", demoClass)
	ctx := context.Background()
	var out bytes.Buffer

	cfg := config{regen: true}
	assert.ErrorContains(t, run(ctx, classfile.Default(), cfg, []string{in}, &out), "-out is required")

	cfg = config{target: "99.1", out: filepath.Join(dir, "x.class")}
	assert.Error(t, run(ctx, classfile.Default(), cfg, []string{in}, &out))

	cfg = config{dump: "nope"}
	assert.ErrorContains(t, run(ctx, classfile.Default(), cfg, []string{in}, &out), `no method "nope"`)

	bad := filepath.Join(dir, "bad.class")
	require.NoError(t, os.WriteFile(bad, []byte{0xCA, 0xFE}, 0o644))
	assert.ErrorIs(t, run(ctx, classfile.Default(), config{list: true}, []string{bad}, &out), errors.ErrMalformedInput)
}

func TestClasspathResolver(t *testing.T) {
	dir := t.TempDir()
	writeClass(t, dir, "a/Base", func(*classfile.ClassBuilder) {})
	writeClass(t, dir, "a/Sub", func(cb *classfile.ClassBuilder) { cb.WithSuperclass("a/Base") })
	writeClass(t, dir, "a/Shape", func(cb *classfile.ClassBuilder) {
		cb.WithFlagSet(classfile.AccPublic, classfile.AccInterface, classfile.AccAbstract)
	})

	r := classpathResolver(classfile.Default(), []string{filepath.Join(dir, "missing"), dir})

	info, ok := r.Resolve("a/Sub")
	require.True(t, ok)
	assert.Equal(t, "a/Base", info.Superclass)
	assert.False(t, info.IsInterface)

	info, ok = r.Resolve("a/Shape")
	require.True(t, ok)
	assert.True(t, info.IsInterface)

	_, ok = r.Resolve("a/Missing")
	assert.False(t, ok)
}
