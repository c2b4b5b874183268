package hierarchy

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf(t *testing.T) {
	r := Of([]string{"java/util/List"}, map[string]string{
		"java/util/ArrayList":    "java/util/AbstractList",
		"java/util/AbstractList": ObjectName,
	})

	isIface, known := IsInterface(r, "java/util/List")
	assert.True(t, known)
	assert.True(t, isIface)

	super, known := Superclass(r, "java/util/ArrayList")
	assert.True(t, known)
	assert.Equal(t, "java/util/AbstractList", super)

	super, known = Superclass(r, ObjectName)
	assert.True(t, known)
	assert.Empty(t, super)

	_, known = Superclass(r, "com/example/Missing")
	assert.False(t, known)
}

func TestNilResolverIsUnknown(t *testing.T) {
	_, known := IsInterface(nil, "a/B")
	assert.False(t, known)
	_, known = Superclass(nil, "a/B")
	assert.False(t, known)
}

func TestChainFallsBack(t *testing.T) {
	first := Of(nil, map[string]string{"a/A": ObjectName})
	second := Of([]string{"a/I"}, map[string]string{"a/A": "a/Other"})

	r := OrElse(first, second)

	super, known := Superclass(r, "a/A")
	require.True(t, known)
	assert.Equal(t, ObjectName, super, "first resolver wins when it knows the class")

	isIface, known := IsInterface(r, "a/I")
	require.True(t, known)
	assert.True(t, isIface)

	_, known = Superclass(r, "a/Z")
	assert.False(t, known)

	// nested chains flatten
	nested := Chain(nil, r, Func(func(name string) (ClassInfo, bool) {
		return ClassInfo{Superclass: "x/Y"}, name == "a/Z"
	}))
	assert.Len(t, nested.(chain), 3)
	super, known = Superclass(nested, "a/Z")
	assert.True(t, known)
	assert.Equal(t, "x/Y", super)
}

func TestCachedCallsLookupOnce(t *testing.T) {
	var calls atomic.Int32
	r := Cached(func(name string) (ClassInfo, bool) {
		calls.Add(1)
		if name == "a/B" {
			return ClassInfo{Superclass: ObjectName}, true
		}
		return ClassInfo{}, false
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Resolve("a/B")
		}()
	}
	wg.Wait()

	before := calls.Load()
	assert.LessOrEqual(t, before, int32(16))
	for i := 0; i < 5; i++ {
		info, ok := r.Resolve("a/B")
		require.True(t, ok)
		assert.Equal(t, ObjectName, info.Superclass)
		_, ok = r.Resolve("missing")
		assert.False(t, ok)
	}
	assert.Equal(t, before+1, calls.Load(), "negative answers are cached too")
}
