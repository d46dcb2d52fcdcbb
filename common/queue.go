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

package common

type node[T any] struct {
	value T
	next  *node[T]
}

// Queue is a FIFO backed by a singly linked list. It is not safe for
// concurrent use; callers hold their own lock.
type Queue[T any] struct {
	head, tail *node[T]
	size       int
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) IsEmpty() bool {
	return q.size == 0
}

// Peek returns the oldest item, or the zero value when empty.
func (q *Queue[T]) Peek() T {
	if q.head == nil {
		var zero T
		return zero
	}
	return q.head.value
}

func (q *Queue[T]) Push(value T) {
	n := &node[T]{value: value}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.size++
}

// Pop removes and returns the oldest item, or the zero value when empty.
func (q *Queue[T]) Pop() T {
	if q.head == nil {
		var zero T
		return zero
	}
	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.size--
	return n.value
}

// Range calls f on each item from oldest to newest until f returns false.
func (q *Queue[T]) Range(f func(T) bool) {
	for n := q.head; n != nil; n = n.next {
		if !f(n.value) {
			return
		}
	}
}

func (q *Queue[T]) Len() int {
	return q.size
}
