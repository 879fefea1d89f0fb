// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implement a set type as a `map[T]struct{}` but with better ergonomics, and an insertion
// ordered set, used wherever iteration order must be deterministic (graph traversals, schedules).
package sets

import (
	"iter"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func Make[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// MakeWith creates a Set[T] with the given elements inserted.
func MakeWith[T comparable](elements ...T) Set[T] {
	s := Make[T](len(elements))
	for _, element := range elements {
		s.Insert(element)
	}
	return s
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Sub returns `s - s2`, that is, all elements in `s` that are not in `s2`.
func (s Set[T]) Sub(s2 Set[T]) Set[T] {
	sub := Make[T]()
	for k := range s {
		if !s2.Has(k) {
			sub.Insert(k)
		}
	}
	return sub
}

// Equal returns whether s and s2 have the exact same elements.
func (s Set[T]) Equal(s2 Set[T]) bool {
	if len(s) != len(s2) {
		return false
	}
	for k := range s {
		if !s2.Has(k) {
			return false
		}
	}
	return true
}

// Ordered is a set that remembers insertion order.
//
// Re-inserting an existing element doesn't change its position. The zero value is not usable, create it
// with MakeOrdered.
type Ordered[T comparable] struct {
	m *orderedmap.OrderedMap[T, struct{}]
}

// MakeOrdered returns an Ordered set with the given elements inserted in order.
func MakeOrdered[T comparable](elements ...T) *Ordered[T] {
	s := &Ordered[T]{m: orderedmap.New[T, struct{}]()}
	s.Insert(elements...)
	return s
}

// Len returns the number of elements.
func (s *Ordered[T]) Len() int { return s.m.Len() }

// Has returns whether key is in the set.
func (s *Ordered[T]) Has(key T) bool {
	_, found := s.m.Get(key)
	return found
}

// Insert appends the keys not yet present, in order. It returns the number of new elements.
func (s *Ordered[T]) Insert(keys ...T) (added int) {
	for _, key := range keys {
		if _, present := s.m.Set(key, struct{}{}); !present {
			added++
		}
	}
	return
}

// Remove key from the set, it returns whether it was present.
func (s *Ordered[T]) Remove(key T) bool {
	_, present := s.m.Delete(key)
	return present
}

// PopLast removes and returns the most recently inserted element.
// It returns false if the set is empty.
func (s *Ordered[T]) PopLast() (key T, ok bool) {
	pair := s.m.Newest()
	if pair == nil {
		return
	}
	key = pair.Key
	s.m.Delete(key)
	return key, true
}

// All iterates over the elements in insertion order.
// The set must not be modified during the iteration.
func (s *Ordered[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key) {
				return
			}
		}
	}
}

// Slice returns the elements in insertion order.
func (s *Ordered[T]) Slice() []T {
	keys := make([]T, 0, s.m.Len())
	for key := range s.All() {
		keys = append(keys, key)
	}
	return keys
}
