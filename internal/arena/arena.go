// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package arena implements a generational slot arena: a single-owner store
// of values of type T addressed by small, typed, copyable handles instead of
// pointers. A handle is only meaningful in the arena that issued it: each
// arena's generation counter is private, so two arenas of the same T can hand
// out equal handles. Within one arena, a handle from a freed slot is caught at
// Get time rather than silently aliasing whatever got allocated into that
// slot afterward.
//
// This stands in for the intrusive doubly-linked list the layout core would
// otherwise use to hold a layout on exactly one of a file's layout list or a
// recall's layout list at a time: instead of two sets of prev/next pointers
// threaded through the same struct, a Layout lives in one arena and is moved
// between collections by passing its Handle around. The compiler's type
// system, not a runtime assertion, is what stops a Handle[Layout] from being
// used against an Arena[Recall].
package arena

// Handle addresses a single slot in an Arena[T]. The zero Handle never
// refers to a live value; Arena.Insert never returns it.
type Handle[T any] struct {
	index      uint32
	generation uint32
}

// Valid reports whether h is anything other than the zero Handle. It does
// not tell you whether the slot it names is still live in any particular
// Arena; only Get/MustGet can answer that.
func (h Handle[T]) Valid() bool {
	return h.generation != 0
}

type slot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Arena is a single-owner store of T values addressed by Handle[T]. The zero
// Arena is ready to use. An Arena is not safe for concurrent use; callers
// needing concurrent access (every caller in this module) guard it with
// their own mutex, the same way a plain slice or map would need to be.
type Arena[T any] struct {
	slots   []slot[T]
	free    []uint32
	nextGen uint32
	count   int
}

// Insert adds value to the arena and returns a handle to it.
func (a *Arena[T]) Insert(value T) Handle[T] {
	a.nextGen++
	gen := a.nextGen

	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[index] = slot[T]{value: value, generation: gen, occupied: true}
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{value: value, generation: gen, occupied: true})
	}

	a.count++
	return Handle[T]{index: index, generation: gen}
}

// Get returns the value h refers to and true, or the zero T and false if h
// does not name a currently-occupied slot in a (including the case where it
// named a slot that has since been removed and reused).
func (a *Arena[T]) Get(h Handle[T]) (T, bool) {
	var zero T
	if !h.Valid() || int(h.index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return zero, false
	}
	return s.value, true
}

// MustGet is Get but panics if h does not name a live value. Callers use it
// where a stale handle would indicate an invariant violation rather than an
// expected race (e.g. dereferencing a handle this package itself just
// produced, under the same lock, a few lines earlier).
func (a *Arena[T]) MustGet(h Handle[T]) T {
	v, ok := a.Get(h)
	if !ok {
		panic("arena: MustGet called with a stale or invalid handle")
	}
	return v
}

// GetPointer returns a pointer to the slot's value for in-place mutation, or
// nil if h does not name a currently-occupied slot. The pointer is only
// valid until the next Insert, which may move slots around as the backing
// slice grows.
func (a *Arena[T]) GetPointer(h Handle[T]) *T {
	if !h.Valid() || int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return nil
	}
	return &s.value
}

// Remove deletes the value h refers to, returning it and true, or the zero
// value and false if h did not name a live slot. The slot is recycled by a
// later Insert, under a new generation, so any handle still referring to it
// keeps failing Get/GetPointer as intended.
func (a *Arena[T]) Remove(h Handle[T]) (T, bool) {
	var zero T
	if !h.Valid() || int(h.index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return zero, false
	}

	value := s.value
	*s = slot[T]{}
	a.free = append(a.free, h.index)
	a.count--
	return value, true
}

// Len returns the number of values currently stored in a.
func (a *Arena[T]) Len() int {
	return a.count
}

// Each calls fn once for every occupied slot, in index order. fn must not
// call Insert or Remove on a.
func (a *Arena[T]) Each(fn func(Handle[T], T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.occupied {
			fn(Handle[T]{index: uint32(i), generation: s.generation}, s.value)
		}
	}
}
