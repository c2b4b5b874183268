package classfile

import (
	"bytes"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/jclassfile/descriptor"
	"github.com/wippyai/jclassfile/errors"
)

// Context carries the options used to parse, build and transform classes.
// A Context holds no mutable state and may be shared between goroutines.
type Context struct {
	opts Options
}

// New returns a context with the given options.
func New(opts Options) *Context {
	return &Context{opts: opts}
}

// Default returns a context with DefaultOptions.
func Default() *Context { return New(DefaultOptions()) }

// Options returns the context options.
func (c *Context) Options() Options { return c.opts }

// Parse decodes a class file. The model keeps a reference to data, which
// must not be modified while the model is in use.
func (c *Context) Parse(data []byte) (*ClassModel, error) {
	m, err := parseClass(data, c.opts)
	if err != nil {
		Logger().Debug("parse failed", zap.Int("size", len(data)), zap.Error(err))
		return nil, err
	}
	return m, nil
}

// ParseBuffer decodes the unread contents of buf without consuming them.
func (c *Context) ParseBuffer(buf *bytes.Buffer) (*ClassModel, error) {
	return c.Parse(buf.Bytes())
}

// ParseReaderAt decodes size bytes of r starting at offset zero.
func (c *Context) ParseReaderAt(r io.ReaderAt, size int64) (*ClassModel, error) {
	if size < 0 || size > int64(^uint32(0)) {
		return nil, errors.IllegalArgument(errors.PhaseParse, "invalid class file size %d", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, size), data); err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindMalformedInput, err, "read class file")
	}
	return c.Parse(data)
}

// Build creates a class. handler receives a builder with a fresh constant
// pool; the class defaults to the latest version, public and super flags
// and java/lang/Object as superclass.
func (c *Context) Build(this descriptor.ClassDesc, handler func(*ClassBuilder)) ([]byte, error) {
	pool := NewPoolBuilder()
	ce, err := pool.ClassDesc(this)
	if err != nil {
		return nil, err
	}
	st := newClassState(c.opts, pool, ce)
	handler(&ClassBuilder{st: st, sink: st.accept})
	out, err := writeClass(st)
	if err != nil {
		return nil, errors.In(err, ce.InternalName(), "")
	}
	return out, nil
}

// Transform rewrites model through t. The output pool extends the
// model's pool, so parts t passes through unchanged are copied as they
// were read.
func (c *Context) Transform(model *ClassModel, t ClassTransform) ([]byte, error) {
	st := newClassState(c.opts, SharedPoolBuilder(model.pool), model.thisClass)
	st.source = model
	b := &ClassBuilder{st: st, sink: st.accept}
	b.Transform(model, t)
	out, err := writeClass(st)
	if err != nil {
		return nil, errors.In(err, model.thisClass.InternalName(), "")
	}
	return out, nil
}
