package classfile

// builder is implemented by the four element builders. chain returns a view
// of the same build whose emitted elements go to sink instead.
type builder[E any, B any] interface {
	With(e E) B
	chain(sink func(E)) B
}

// boundTransform is a transform attached to one downstream builder.
type boundTransform[E any] struct {
	accept func(E)
	start  func()
	end    func()
}

// Transform rewrites a stream of elements E into a builder B. For each
// element the transform may emit it unchanged, emit replacements, or emit
// nothing. Optional start and end hooks run once around the stream.
//
// A Transform value is a recipe: each application binds it to a builder,
// and stateful transforms obtain fresh state per binding.
type Transform[E any, B builder[E, B]] struct {
	bind func(b B) boundTransform[E]
}

// Type aliases for each level of the pipeline.
type (
	ClassTransform  = Transform[ClassElement, *ClassBuilder]
	MethodTransform = Transform[MethodElement, *MethodBuilder]
	FieldTransform  = Transform[FieldElement, *FieldBuilder]
	CodeTransform   = Transform[CodeElement, *CodeBuilder]
)

// NewTransform returns a stateless transform from an element handler.
func NewTransform[E any, B builder[E, B]](accept func(b B, e E)) Transform[E, B] {
	return Transform[E, B]{bind: func(b B) boundTransform[E] {
		return boundTransform[E]{accept: func(e E) { accept(b, e) }}
	}}
}

// Accept returns the transform that passes every element through.
func Accept[E any, B builder[E, B]]() Transform[E, B] {
	return NewTransform(func(b B, e E) { b.With(e) })
}

// Dropping passes every element except those matching drop.
func Dropping[E any, B builder[E, B]](drop func(E) bool) Transform[E, B] {
	return NewTransform(func(b B, e E) {
		if !drop(e) {
			b.With(e)
		}
	})
}

// EndHandler passes every element and then runs end.
func EndHandler[E any, B builder[E, B]](end func(b B)) Transform[E, B] {
	return Accept[E, B]().AtEnd(end)
}

// Accumulating builds a transform whose state is created fresh for each
// application and threaded explicitly through the handlers.
func Accumulating[S any, E any, B builder[E, B]](
	init func() S,
	accept func(b B, state *S, e E),
	end func(b B, state *S),
) Transform[E, B] {
	return Transform[E, B]{bind: func(b B) boundTransform[E] {
		state := init()
		t := boundTransform[E]{accept: func(e E) { accept(b, &state, e) }}
		if end != nil {
			t.end = func() { end(b, &state) }
		}
		return t
	}}
}

// Stateful builds a transform from a factory called once per application.
func Stateful[E any, B builder[E, B]](factory func() Transform[E, B]) Transform[E, B] {
	return Transform[E, B]{bind: func(b B) boundTransform[E] {
		return factory().bind(b)
	}}
}

// AtStart returns t with an additional hook run before the first element.
func (t Transform[E, B]) AtStart(start func(b B)) Transform[E, B] {
	return Transform[E, B]{bind: func(b B) boundTransform[E] {
		r := t.bind(b)
		r.start = sequence(r.start, func() { start(b) })
		return r
	}}
}

// AtEnd returns t with an additional hook run after the last element.
func (t Transform[E, B]) AtEnd(end func(b B)) Transform[E, B] {
	return Transform[E, B]{bind: func(b B) boundTransform[E] {
		r := t.bind(b)
		r.end = sequence(r.end, func() { end(b) })
		return r
	}}
}

// AndThen composes t with next: everything t emits becomes input to next.
func (t Transform[E, B]) AndThen(next Transform[E, B]) Transform[E, B] {
	return Transform[E, B]{bind: func(b B) boundTransform[E] {
		down := next.bind(b)
		up := t.bind(b.chain(down.accept))
		return boundTransform[E]{
			accept: up.accept,
			start:  sequence(down.start, up.start),
			end:    sequence(up.end, down.end),
		}
	}}
}

func sequence(a, b func()) func() {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func() {
		a()
		b()
	}
}

// apply runs t over elems into b.
func apply[E any, B builder[E, B]](b B, elems []E, t Transform[E, B]) {
	r := t.bind(b)
	if r.start != nil {
		r.start()
	}
	for _, e := range elems {
		r.accept(e)
	}
	if r.end != nil {
		r.end()
	}
}

// TransformingMethods applies mt to every method of the class.
func TransformingMethods(mt MethodTransform) ClassTransform {
	return TransformingMethodsIf(func(*MethodModel) bool { return true }, mt)
}

// TransformingMethodsIf applies mt to the methods matching filter and passes
// the rest through.
func TransformingMethodsIf(filter func(*MethodModel) bool, mt MethodTransform) ClassTransform {
	return NewTransform(func(b *ClassBuilder, e ClassElement) {
		if m, ok := e.(*MethodModel); ok && filter(m) {
			b.TransformMethod(m, mt)
			return
		}
		b.With(e)
	})
}

// TransformingFields applies ft to every field of the class.
func TransformingFields(ft FieldTransform) ClassTransform {
	return NewTransform(func(b *ClassBuilder, e ClassElement) {
		if f, ok := e.(*FieldModel); ok {
			b.TransformField(f, ft)
			return
		}
		b.With(e)
	})
}

// TransformingCode applies ct to the method body.
func TransformingCode(ct CodeTransform) MethodTransform {
	return NewTransform(func(b *MethodBuilder, e MethodElement) {
		if c, ok := e.(*CodeModel); ok {
			b.TransformCode(c, ct)
			return
		}
		b.With(e)
	})
}

// TransformingMethodBodies applies ct to every method body of the class.
func TransformingMethodBodies(ct CodeTransform) ClassTransform {
	return TransformingMethods(TransformingCode(ct))
}

// AcceptAllClass passes class elements through.
func AcceptAllClass() ClassTransform { return Accept[ClassElement, *ClassBuilder]() }

// AcceptAllMethod passes method elements through.
func AcceptAllMethod() MethodTransform { return Accept[MethodElement, *MethodBuilder]() }

// AcceptAllField passes field elements through.
func AcceptAllField() FieldTransform { return Accept[FieldElement, *FieldBuilder]() }

// AcceptAllCode passes code elements through.
func AcceptAllCode() CodeTransform { return Accept[CodeElement, *CodeBuilder]() }
