// Copyright 2024 The probemap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package probemap provides Map, a generic open-addressing hash table with
// linear probing. Unlike Go's builtin map, the hash and equality functions
// are supplied by the caller, which allows non-comparable key types and
// application-specific notions of key identity.
//
// # Layout and probing
//
// All entries are stored directly in a single array of slots. Each slot is
// either empty or holds a key/value pair. The slot array length (the
// capacity) is always a power of two so that probe wraparound is a bitwise
// AND with capacity-1 rather than a modulo. A lookup for key k starts at
// slot hash(k)&(capacity-1) and scans forward, wrapping at the end of the
// array, until it finds a slot whose key is equal to k or an empty slot.
// The structural invariant that makes this correct is that for every key in
// the table, the scan from the key's home slot reaches the key before it
// reaches any empty slot.
//
// # Growth
//
// An insertion that raises the occupancy above 50% (capacity < 2*len)
// triggers an immediate rehash. The new capacity is the smallest power of
// two that is at least 4 times the occupancy, with a floor of 8, so a
// freshly grown table is at most 25% full. Growth is never deferred or
// amortized: the triggering Put performs the whole reallocation and
// redistribution before it returns.
//
// # Deletion
//
// Deletion uses no tombstones. The vacated slot is marked empty, which can
// break the probe invariant for entries that were placed past it by earlier
// collisions. To repair it, every entry in the contiguous occupied run that
// follows the vacated slot is removed and reinserted through the normal
// insertion path. The cost of a deletion is therefore proportional to the
// length of the run it lands in, which stays short while occupancy is kept
// below 50% by the growth policy and the hash function distributes keys
// well.
//
// # Caller contract
//
// The hash and equality functions must agree: if equal(a, b) then
// hash(a) == hash(b). The equality function must be a true equivalence
// relation over the keys actually used. Violations are not detected at
// runtime and silently lose or duplicate entries. Beware of equality
// defined as a raw memory comparison over struct keys: padding bytes are
// not reliably zeroed across copies. Beware also of hash functions that
// depend on floating point arithmetic whose results can vary with
// compilation mode.
//
// A Map is NOT goroutine-safe.
package probemap

import (
	"fmt"
	"math/bits"
	"unsafe"
)

const (
	debug = false

	// A rehash is triggered whenever capacity < loadFactor*len, i.e. when
	// occupancy exceeds 50%.
	loadFactor = 2
	// When allocating for a target occupancy (at creation, growth, or
	// clone), the capacity is sized to growthFactor*target, rounded up to a
	// power of two with a floor of minCapacity.
	growthFactor = 4
	minCapacity  = 8

	// The capacity hint used when the caller supplies none.
	defaultCapacityHint = 8
)

// HashFn is a hash function over keys of type K. It must be deterministic,
// and it must be consistent with the table's equality function: equal keys
// must hash identically.
type HashFn[K any] func(key K) uint32

// EqualFn reports whether two keys of type K are the same key. It must be
// reflexive, symmetric, and transitive over the key domain in use.
type EqualFn[K any] func(a, b K) bool

// Slot holds a key and value, or nothing. The used flag distinguishes the
// two states; there is no deleted state.
type Slot[K any, V any] struct {
	used  bool
	key   K
	value V
}

// Map is an unordered map from keys to values with Put, Get, GetRef,
// Delete, Clone, and iteration operations. It is an open-addressing table
// with linear probing and tombstone-free deletion; see the package
// documentation for the design.
//
// A Map is NOT goroutine-safe.
type Map[K any, V any] struct {
	// The caller-supplied hash and equality functions binding the key type
	// to the table.
	hash  HashFn[K]
	equal EqualFn[K]
	// The allocator to use for the slots slice.
	allocator Allocator[K, V]
	// slots is capacity in length.
	slots unsafeSlice[Slot[K, V]]
	// The length of the slots array. Always a power of two, so capacity-1
	// serves as the probe mask.
	capacity uint32
	// The number of occupied slots. Always less than capacity.
	used int
}

// New constructs a Map sized so that capacityHint entries can be inserted
// without growing. A non-positive hint selects a small default. The hash
// and equality functions must satisfy the contract described in the package
// documentation; they cannot be changed after construction.
func New[K any, V any](
	capacityHint int, hash HashFn[K], equal EqualFn[K], options ...option[K, V],
) *Map[K, V] {
	m := &Map[K, V]{}
	m.Init(capacityHint, hash, equal, options...)
	return m
}

// Init initializes a Map, discarding any previous contents without
// releasing them (use Close first if the previous slots were manually
// allocated). It allows a zero-valued or reused Map variable to be prepared
// in place, which avoids an allocation in reuse loops.
func (m *Map[K, V]) Init(
	capacityHint int, hash HashFn[K], equal EqualFn[K], options ...option[K, V],
) {
	if hash == nil || equal == nil {
		panic("probemap: nil hash or equal function")
	}
	*m = Map[K, V]{
		hash:      hash,
		equal:     equal,
		allocator: defaultAllocator[K, V]{},
	}
	for _, op := range options {
		op.apply(m)
	}

	if capacityHint <= 0 {
		capacityHint = defaultCapacityHint
	}
	m.alloc(capacityFor(capacityHint))
	m.checkInvariants()
}

// Close releases the slot array back to the configured allocator. It is
// unnecessary to close a map using the default allocator. It is invalid to
// use a Map after it has been closed, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	if m == nil {
		return
	}
	if m.capacity > 0 {
		m.allocator.FreeSlots(m.slots.Slice(0, uintptr(m.capacity)))
		m.capacity = 0
		m.used = 0
	}
	m.slots = makeUnsafeSlice([]Slot[K, V](nil))
	m.allocator = nil
}

// Get retrieves the value stored for the specified key, returning ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	i, found := m.find(key)
	if !found {
		return value, false
	}
	return m.slots.At(i).value, true
}

// GetRef returns a pointer to the value stored for the specified key,
// allowing in-place mutation without a full Put, or nil if the key is not
// present.
//
// The pointer is invalidated by any subsequent Put, Delete, Clear, Close,
// or Iterator.Delete on the map: the entry it refers to may have been
// relocated or discarded, so writes through a stale pointer are silently
// lost. Do not retain the pointer across structural mutations.
func (m *Map[K, V]) GetRef(key K) *V {
	i, found := m.find(key)
	if !found {
		return nil
	}
	return &m.slots.At(i).value
}

// Put inserts an entry into the map. If an entry with an equal key is
// already present, its key and value are overwritten with the new ones and
// the previous pair is returned with replaced=true. Otherwise the entry is
// inserted and replaced is false. An insertion that pushes the occupancy
// above 50% grows the table before Put returns.
func (m *Map[K, V]) Put(key K, value V) (oldKey K, oldValue V, replaced bool) {
	i, found := m.find(key)
	s := m.slots.At(i)
	if found {
		if debug {
			fmt.Printf("put(%v): updating slot %d\n", key, i)
		}
		oldKey, oldValue = s.key, s.value
		s.key, s.value = key, value
		m.checkInvariants()
		return oldKey, oldValue, true
	}

	if debug {
		fmt.Printf("put(%v): inserting at slot %d\n", key, i)
	}
	s.used = true
	s.key, s.value = key, value
	m.used++

	if m.capacity < loadFactor*uint32(m.used) {
		m.grow()
	}
	m.checkInvariants()
	return oldKey, oldValue, false
}

// Delete deletes the entry corresponding to the specified key from the map,
// returning the stored key/value pair, or ok=false if no such entry exists.
// The occupied run following the vacated slot is reinserted to restore the
// probe invariant.
func (m *Map[K, V]) Delete(key K) (oldKey K, oldValue V, ok bool) {
	i, found := m.find(key)
	if !found {
		return oldKey, oldValue, false
	}

	s := m.slots.At(i)
	oldKey, oldValue = s.key, s.value
	*s = Slot[K, V]{}
	m.used--

	if debug {
		fmt.Printf("delete(%v): vacated slot %d used=%d\n", key, i, m.used)
	}

	m.reinsertRun(uint32(i+1) & (m.capacity - 1))
	m.checkInvariants()
	return oldKey, oldValue, true
}

// Clear removes all entries, retaining the current slot array. The capacity
// is unchanged.
func (m *Map[K, V]) Clear() {
	for i := uintptr(0); i < uintptr(m.capacity); i++ {
		*m.slots.At(i) = Slot[K, V]{}
	}
	m.used = 0
	m.checkInvariants()
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// Clone returns a new independent Map holding the same entries. The clone
// is rebuilt by reinsertion into an array sized for the source's length, so
// its capacity and physical slot order may differ from the source's.
func (m *Map[K, V]) Clone() *Map[K, V] {
	c := &Map[K, V]{
		hash:      m.hash,
		equal:     m.equal,
		allocator: m.allocator,
	}
	c.alloc(capacityFor(m.used))

	for i := uintptr(0); i < uintptr(m.capacity); i++ {
		s := m.slots.At(i)
		if s.used {
			c.uncheckedPut(s.key, s.value)
			c.used++
		}
	}

	c.checkInvariants()
	return c
}

// All calls yield sequentially for each key and value present in the map,
// in slot order. If yield returns false, iteration stops. There is no
// guarantee that mutations performed during iteration will be visible.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	// Snapshot the capacity and slots so that iteration remains valid if
	// the map is grown during iteration.
	capacity := m.capacity
	slots := m.slots

	for i := uintptr(0); i < uintptr(capacity); i++ {
		s := slots.At(i)
		if s.used {
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

// find runs the linear probe for key. It returns the index of the slot
// holding an equal key with found=true, or the index of the empty slot that
// terminated the scan with found=false. The scan always terminates because
// used < capacity guarantees at least one empty slot.
func (m *Map[K, V]) find(key K) (i uintptr, found bool) {
	mask := uintptr(m.capacity - 1)
	i = uintptr(m.hash(key)) & mask
	for {
		s := m.slots.At(i)
		if !s.used {
			return i, false
		}
		if m.equal(key, s.key) {
			return i, true
		}
		i = (i + 1) & mask
	}
}

// uncheckedPut inserts an entry known not to be in the table. It is used
// for the bulk reinsertions performed by grow, Clone, and reinsertRun,
// which by construction never insert a duplicate. It does not update used
// and never triggers growth.
func (m *Map[K, V]) uncheckedPut(key K, value V) {
	i, found := m.find(key)
	if found {
		// Reaching an equal key here means two distinct keys in the source
		// table were judged equal, i.e. the hash/equality contract is
		// broken or the table was corrupted.
		panic(fmt.Sprintf("probemap: reinsertion found existing key %v", key))
	}
	s := m.slots.At(i)
	s.used = true
	s.key, s.value = key, value
}

// reinsertRun removes and reinserts every entry in the contiguous occupied
// run starting at slot i, stopping at the first empty slot. Called after a
// slot has been vacated to restore the probe invariant for entries that had
// been displaced past it. A reinserted entry may land back in its old slot,
// in the vacated slot, or in any earlier empty slot of its probe sequence.
func (m *Map[K, V]) reinsertRun(i uint32) {
	mask := m.capacity - 1
	for {
		s := m.slots.At(uintptr(i))
		if !s.used {
			return
		}
		key, value := s.key, s.value
		*s = Slot[K, V]{}
		m.uncheckedPut(key, value)
		i = (i + 1) & mask
	}
}

// grow reallocates the slot array at the growth-target capacity for the
// current length and redistributes every entry into it.
func (m *Map[K, V]) grow() {
	newCapacity := capacityFor(m.used + 1)
	oldSlots, oldCapacity := m.slots, m.capacity
	m.alloc(newCapacity)

	if debug {
		fmt.Printf("grow: capacity=%d->%d used=%d\n", oldCapacity, newCapacity, m.used)
	}

	for i := uintptr(0); i < uintptr(oldCapacity); i++ {
		s := oldSlots.At(i)
		if s.used {
			m.uncheckedPut(s.key, s.value)
		}
	}

	m.allocator.FreeSlots(oldSlots.Slice(0, uintptr(oldCapacity)))
}

// alloc installs a fresh all-empty slot array of the given capacity, which
// must be a power of two.
func (m *Map[K, V]) alloc(capacity uint32) {
	m.slots = makeUnsafeSlice(m.allocator.AllocSlots(int(capacity)))
	m.capacity = capacity
}

// capacityFor returns the capacity to allocate for a table intended to hold
// target entries without growing: the smallest power of two that is at
// least growthFactor*target, with a floor of minCapacity. The result is
// always more than loadFactor*target, so a table allocated with it never
// immediately re-triggers growth.
func capacityFor(target int) uint32 {
	c := growthFactor * target
	if c < minCapacity {
		c = minCapacity
	}
	return uint32(1) << bits.Len(uint(c-1))
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if m.capacity&(m.capacity-1) != 0 {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a power of two", m.capacity))
		}

		// Count the occupied slots and verify that every stored key is
		// reachable by a probe from its home slot.
		var used int
		for i := uintptr(0); i < uintptr(m.capacity); i++ {
			s := m.slots.At(i)
			if !s.used {
				continue
			}
			used++
			if j, found := m.find(s.key); !found {
				panic(fmt.Sprintf("invariant failed: slot(%d): key %v not found\n%s",
					i, s.key, m.debugString()))
			} else if j != i {
				panic(fmt.Sprintf("invariant failed: slot(%d): key %v found at slot %d\n%s",
					i, s.key, j, m.debugString()))
			}
		}

		if used != m.used {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, m.used, m.debugString()))
		}
		if m.used >= int(m.capacity) {
			panic(fmt.Sprintf("invariant failed: used %d >= capacity %d", m.used, m.capacity))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf []byte
	buf = fmt.Appendf(buf, "capacity=%d  used=%d\n", m.capacity, m.used)
	for i := uintptr(0); i < uintptr(m.capacity); i++ {
		s := m.slots.At(i)
		if s.used {
			buf = fmt.Appendf(buf, "  %4d: %v [home=%d]\n",
				i, s.key, uintptr(m.hash(s.key))&uintptr(m.capacity-1))
		} else {
			buf = fmt.Appendf(buf, "  %4d: empty\n", i)
		}
	}
	return string(buf)
}

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

// At returns a pointer to the element at index i.
func (s unsafeSlice[T]) At(i uintptr) *T {
	var t T
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(t)*i))
}

// Slice returns a Go slice akin to slice[start:end] for a Go builtin slice.
func (s unsafeSlice[T]) Slice(start, end uintptr) []T {
	return unsafe.Slice((*T)(s.ptr), end)[start:end]
}

func unsafeConvertSlice[Dest any, Src any](s []Src) []Dest {
	return unsafe.Slice((*Dest)(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}
