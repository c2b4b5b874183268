// Package classfile parses, builds and transforms JVM class files.
//
// Parsing is lazy. The header, constant pool and member skeleton are
// decoded up front; attributes and method bodies are decoded on first
// access and cached in the model.
//
//	ctx := classfile.New(classfile.DefaultOptions())
//	model, err := ctx.Parse(data)
//
// Classes are built through element builders. Each level (class, field,
// method, code) accepts a stream of elements, and transforms rewrite such
// streams:
//
//	out, err := ctx.Transform(model, classfile.TransformingMethodBodies(
//	    classfile.Dropping[classfile.CodeElement, *classfile.CodeBuilder](
//	        func(e classfile.CodeElement) bool {
//	            _, ok := e.(classfile.LineNumber)
//	            return ok
//	        })))
//
// # Constant pools
//
// A transform writes against a PoolBuilder that extends the parsed pool,
// so existing indices stay valid and untouched members, attributes and
// method bodies are copied byte for byte. Entries from unrelated pools are
// re-interned by value.
//
// # Stack maps
//
// When a method body is written for class-file version 50 or later, its
// StackMapTable, max_stack and max_locals are recomputed by dataflow over
// verification types. Reference merges ask Options.Resolver for the class
// hierarchy; unknown classes merge to java/lang/Object unless
// Options.StrictHierarchy is set.
package classfile
