// Package jclassfile parses, builds and transforms JVM class files.
//
// Class files are read into immutable, lazily decoded models and written by
// builders. A transform connects the two: it consumes the elements of a model
// and emits elements into a builder, so the untouched parts of a class are
// copied as they were read.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	jclassfile/          Module documentation
//	├── classfile/       Models, builders, transforms, stack maps and the writer
//	├── descriptor/      Field and method type descriptors
//	├── hierarchy/       Class hierarchy resolvers used for frame generation
//	├── errors/          Structured error types for debugging
//	└── cmd/jclass/      Inspect and rewrite class files from the command line
//
// # Quick Start
//
// Parse a class, drop one method and write it back:
//
//	cc := classfile.Default()
//	model, err := cc.Parse(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	out, err := cc.Transform(model, classfile.Dropping[classfile.ClassElement, *classfile.ClassBuilder](
//	    func(e classfile.ClassElement) bool {
//	        m, ok := e.(*classfile.MethodModel)
//	        return ok && m.Name().Equals("debug")
//	    }))
//
// Build a class from scratch:
//
//	out, err := classfile.Default().Build(descriptor.Of("com/example/Hello"), func(cb *classfile.ClassBuilder) {
//	    cb.WithMethodBody("answer", descriptor.MethodOf(descriptor.Int), flags, func(b *classfile.CodeBuilder) {
//	        b.LoadConstant(42).Return(descriptor.KindInt)
//	    })
//	})
//
// Max stack, max locals and the StackMapTable are computed when code is
// written. Frame generation asks a hierarchy.Resolver for superclass
// information when two reference types meet at a branch target.
//
// # Thread Safety
//
// Models are safe for concurrent reads; lazy decoding is synchronized.
// Builders belong to the goroutine running the build or transform.
// Context.ParseAll parses many class files concurrently.
package jclassfile
