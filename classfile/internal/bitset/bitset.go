// Package bitset provides a compact growable set of small non-negative
// integers, used for bytecode offset and local slot bookkeeping.
package bitset

import "math/bits"

// BitSet is a compact set of int values using a bitmap.
// Optimized for dense sets such as bytecode offsets or local slots.
type BitSet struct {
	bits []uint64
}

// New creates a BitSet that can hold values up to maxVal (inclusive)
// without growing.
func New(maxVal int) *BitSet {
	words := (maxVal + 64) / 64
	return &BitSet{bits: make([]uint64, words)}
}

// Set adds val to the set.
func (b *BitSet) Set(val int) {
	word := val / 64
	if word >= len(b.bits) {
		b.grow(word + 1)
	}
	b.bits[word] |= 1 << (uint(val) % 64)
}

// Clear removes val from the set.
func (b *BitSet) Clear(val int) {
	word := val / 64
	if word < len(b.bits) {
		b.bits[word] &^= 1 << (uint(val) % 64)
	}
}

// Has returns true if val is in the set.
func (b *BitSet) Has(val int) bool {
	if val < 0 {
		return false
	}
	word := val / 64
	if word >= len(b.bits) {
		return false
	}
	return b.bits[word]&(1<<(uint(val)%64)) != 0
}

// Union adds all elements from other into this set.
func (b *BitSet) Union(other *BitSet) {
	if len(other.bits) > len(b.bits) {
		b.grow(len(other.bits))
	}
	for i := range other.bits {
		b.bits[i] |= other.bits[i]
	}
}

// Reset clears all elements from the set.
func (b *BitSet) Reset() {
	for i := range b.bits {
		b.bits[i] = 0
	}
}

// Next returns the smallest element >= from, or -1.
func (b *BitSet) Next(from int) int {
	if from < 0 {
		from = 0
	}
	word := from / 64
	if word >= len(b.bits) {
		return -1
	}
	w := b.bits[word] >> (uint(from) % 64)
	if w != 0 {
		return from + bits.TrailingZeros64(w)
	}
	for word++; word < len(b.bits); word++ {
		if b.bits[word] != 0 {
			return word*64 + bits.TrailingZeros64(b.bits[word])
		}
	}
	return -1
}

// ToSlice returns sorted slice of all values in the set.
func (b *BitSet) ToSlice() []int {
	var result []int
	for i := b.Next(0); i >= 0; i = b.Next(i + 1) {
		result = append(result, i)
	}
	return result
}

// Count returns the number of elements in the set.
func (b *BitSet) Count() int {
	count := 0
	for _, word := range b.bits {
		count += bits.OnesCount64(word)
	}
	return count
}

// grow expands the bitset to n words.
// Callers guarantee n > len(b.bits).
func (b *BitSet) grow(n int) {
	newBits := make([]uint64, n)
	copy(newBits, b.bits)
	b.bits = newBits
}
