// Package hierarchy provides the class hierarchy lookup consumed by stack map
// generation.
//
// A Resolver answers two questions about a class named by its internal name
// (for example "java/util/ArrayList"): is it an interface, and what is its
// direct superclass. Either answer may be unknown. The package deliberately
// has no default resolver that scans the file system or a runtime image;
// callers assemble one from explicit maps, lookup callbacks, and composition.
package hierarchy

import (
	"sync"

	"go.uber.org/zap"
)

// ObjectName is the internal name of the root class.
const ObjectName = "java/lang/Object"

// ClassInfo describes one class or interface.
type ClassInfo struct {
	// Superclass is the internal name of the direct superclass, or "" for
	// java/lang/Object. Interfaces report java/lang/Object.
	Superclass  string
	IsInterface bool
}

// Resolver looks up hierarchy information. The boolean result is false when
// the class is unknown to this resolver.
type Resolver interface {
	Resolve(name string) (ClassInfo, bool)
}

// Func adapts an ordinary function to a Resolver.
type Func func(name string) (ClassInfo, bool)

// Resolve implements Resolver.
func (f Func) Resolve(name string) (ClassInfo, bool) {
	return f(name)
}

// IsInterface reports whether name is an interface; known is false when the
// resolver cannot answer.
func IsInterface(r Resolver, name string) (isInterface, known bool) {
	if r == nil {
		return false, false
	}
	info, ok := r.Resolve(name)
	if !ok {
		return false, false
	}
	return info.IsInterface, true
}

// Superclass returns the direct superclass of name; known is false when the
// resolver cannot answer.
func Superclass(r Resolver, name string) (super string, known bool) {
	if r == nil {
		return "", false
	}
	info, ok := r.Resolve(name)
	if !ok {
		return "", false
	}
	return info.Superclass, true
}

type staticResolver struct {
	interfaces map[string]struct{}
	supers     map[string]string
}

// Of builds a resolver from an explicit interface set and a class to
// superclass map. A name is known if it appears in either.
func Of(interfaces []string, superclasses map[string]string) Resolver {
	r := &staticResolver{
		interfaces: make(map[string]struct{}, len(interfaces)),
		supers:     make(map[string]string, len(superclasses)),
	}
	for _, name := range interfaces {
		r.interfaces[name] = struct{}{}
	}
	for k, v := range superclasses {
		r.supers[k] = v
	}
	return r
}

func (r *staticResolver) Resolve(name string) (ClassInfo, bool) {
	if name == ObjectName {
		return ClassInfo{}, true
	}
	if _, ok := r.interfaces[name]; ok {
		return ClassInfo{IsInterface: true, Superclass: ObjectName}, true
	}
	if super, ok := r.supers[name]; ok {
		return ClassInfo{Superclass: super}, true
	}
	return ClassInfo{}, false
}

type cachedResolver struct {
	lookup Func
	mu     sync.Mutex
	cache  map[string]cacheEntry
}

type cacheEntry struct {
	info  ClassInfo
	known bool
}

// Cached wraps a lookup callback so that each name is resolved at most once,
// including negative answers. Safe for concurrent use.
func Cached(lookup func(name string) (ClassInfo, bool)) Resolver {
	return &cachedResolver{lookup: lookup, cache: make(map[string]cacheEntry)}
}

func (r *cachedResolver) Resolve(name string) (ClassInfo, bool) {
	r.mu.Lock()
	e, ok := r.cache[name]
	r.mu.Unlock()
	if ok {
		return e.info, e.known
	}

	info, known := r.lookup(name)
	Logger().Debug("resolved class", zap.String("class", name), zap.Bool("known", known))

	r.mu.Lock()
	r.cache[name] = cacheEntry{info: info, known: known}
	r.mu.Unlock()
	return info, known
}

type chain []Resolver

// Chain composes resolvers: each lookup is answered by the first resolver that
// knows the class.
func Chain(resolvers ...Resolver) Resolver {
	var c chain
	for _, r := range resolvers {
		if r == nil {
			continue
		}
		if inner, ok := r.(chain); ok {
			c = append(c, inner...)
			continue
		}
		c = append(c, r)
	}
	return c
}

func (c chain) Resolve(name string) (ClassInfo, bool) {
	for _, r := range c {
		if info, ok := r.Resolve(name); ok {
			return info, true
		}
	}
	return ClassInfo{}, false
}

// OrElse returns a resolver that consults r first and other when r does not
// know the class.
func OrElse(r, other Resolver) Resolver {
	return Chain(r, other)
}
