// Package bitvec implements a fixed-width bit set over caller-supplied storage.
//
// The allocator uses it as transient scratch space while sorting a page's free
// list, so the vector never allocates: callers size the backing words with
// WordLength and bind them with SetVector.
package bitvec

import "math/bits"

const (
	// WordBits is the number of bits held by one storage word.
	WordBits = 64

	// NotFound is returned by FindNext when no set bit exists at or after the index.
	NotFound = -1
)

// Vector is a bit set of Len() bits backed by external []uint64 storage.
type Vector struct {
	length int
	v      []uint64
}

// WordLength returns the number of storage words needed to hold nbits bits.
func WordLength(nbits int) int {
	if nbits <= 0 {
		return 0
	}
	return (nbits + WordBits - 1) / WordBits
}

// ByteLength returns the storage size in bytes for nbits bits, rounded up to a
// whole word.
func ByteLength(nbits int) int {
	return WordLength(nbits) * (WordBits / 8)
}

// New binds words as the storage of an nbits wide vector. The storage is not
// cleared; use Clear when reusing a buffer.
func New(nbits int, words []uint64) Vector {
	var v Vector
	v.length = nbits
	v.SetVector(words)
	return v
}

// SetVector binds external storage. words must hold at least WordLength(Len()) words.
func (bv *Vector) SetVector(words []uint64) {
	if len(words) < WordLength(bv.length) {
		panic("bitvec: storage too small for vector length")
	}
	bv.v = words
}

// Len returns the configured number of bits.
func (bv *Vector) Len() int { return bv.length }

// Truncate shortens the vector to n bits. Bits beyond n are ignored by FindNext.
func (bv *Vector) Truncate(n int) {
	if n < bv.length {
		bv.length = n
	}
}

// Clear zeroes the bound storage.
func (bv *Vector) Clear() {
	clear(bv.v[:WordLength(bv.length)])
}

// Set sets bit n to value.
func (bv *Vector) Set(n int, value bool) {
	bit := uint(n % WordBits)
	c := n / WordBits
	if value {
		bv.v[c] |= 1 << bit
	} else {
		bv.v[c] &^= 1 << bit
	}
}

// Get reports whether bit n is set.
func (bv *Vector) Get(n int) bool {
	bit := uint(n % WordBits)
	c := n / WordBits
	return bv.v[c]&(1<<bit) != 0
}

// FindNext returns the smallest set bit index >= n, or NotFound.
func (bv *Vector) FindNext(n int) int {
	if n < 0 {
		n = 0
	}
	if n >= bv.length {
		return NotFound
	}

	c := n / WordBits
	w := bv.v[c] & (^uint64(0) << uint(n%WordBits))
	bit := c * WordBits

	for w == 0 {
		bit += WordBits
		if bit >= bv.length {
			return NotFound
		}
		c++
		w = bv.v[c]
	}

	bit += bits.TrailingZeros64(w)
	if bit >= bv.length {
		return NotFound
	}
	return bit
}

// String renders the vector as a string of 0s and 1s, lowest bit first.
func (bv *Vector) String() string {
	out := make([]byte, bv.length)
	for i := range bv.length {
		if bv.Get(i) {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out)
}
