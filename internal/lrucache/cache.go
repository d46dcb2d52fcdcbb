// Copyright 2026 Google LLC
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

// Package lrucache provides a bounded map that evicts the least recently used
// entry.
package lrucache

import (
	"container/list"
	"fmt"
	"sync"
)

// Cache maps string keys to values of type V, holding at most capacity
// entries. It is safe for concurrent use. Must be created with New.
type Cache[V any] struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	// INVARIANT: capacity > 0
	capacity int

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu sync.Mutex

	// Entries with the least recently used at the back.
	//
	// INVARIANT: entries.Len() <= capacity
	// INVARIANT: Each element is of type *entry[V]
	entries list.List

	// INVARIANT: For each k, v: v.Value.(*entry[V]).key == k
	// INVARIANT: Contains all and only the elements of entries
	index map[string]*list.Element
}

type entry[V any] struct {
	key   string
	value V
}

// New returns a cache holding up to capacity entries, which must be greater
// than zero.
func New[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		panic(fmt.Sprintf("Invalid capacity: %d", capacity))
	}
	return &Cache[V]{
		capacity: capacity,
		index:    make(map[string]*list.Element),
	}
}

// CheckInvariants panics if any internal invariant has been violated.
func (c *Cache[V]) CheckInvariants() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !(c.capacity > 0) {
		panic(fmt.Sprintf("Invalid capacity: %d", c.capacity))
	}

	if c.entries.Len() > c.capacity {
		panic(fmt.Sprintf("Length %d over capacity %d", c.entries.Len(), c.capacity))
	}

	if c.entries.Len() != len(c.index) {
		panic(fmt.Sprintf("Length mismatch: %d vs. %d", c.entries.Len(), len(c.index)))
	}

	for e := c.entries.Front(); e != nil; e = e.Next() {
		ent, ok := e.Value.(*entry[V])
		if !ok {
			panic(fmt.Sprintf("Unexpected element type: %T", e.Value))
		}
		if c.index[ent.key] != e {
			panic(fmt.Sprintf("Mismatch for key %q", ent.key))
		}
	}
}

// Insert stores value under key, replacing any previous entry, and returns
// the keys evicted to make room.
func (c *Cache[V]) Insert(key string, value V) (evicted []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.index[key]; ok {
		e.Value.(*entry[V]).value = value
		c.entries.MoveToFront(e)
		return nil
	}

	c.index[key] = c.entries.PushFront(&entry[V]{key: key, value: value})
	for c.entries.Len() > c.capacity {
		back := c.entries.Back()
		k := back.Value.(*entry[V]).key
		c.entries.Remove(back)
		delete(c.index, k)
		evicted = append(evicted, k)
	}
	return evicted
}

// LookUp returns the value stored under key and marks it most recently used.
func (c *Cache[V]) LookUp(key string) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.index[key]
	if e == nil {
		return value, false
	}
	c.entries.MoveToFront(e)
	return e.Value.(*entry[V]).value, true
}

// Erase drops any entry for key.
func (c *Cache[V]) Erase(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.index[key]; e != nil {
		c.entries.Remove(e)
		delete(c.index, key)
	}
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
