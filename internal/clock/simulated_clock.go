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

package clock

import (
	"sync"
	"time"
)

type afterRequest struct {
	deadline time.Time
	ch       chan time.Time
}

// SimulatedClock only moves when told to. Channels returned by After fire
// when SetTime or AdvanceTime moves the clock to or past their deadline.
type SimulatedClock struct {
	mu      sync.Mutex
	t       time.Time
	waiters []afterRequest
}

func NewSimulatedClock(t time.Time) *SimulatedClock {
	return &SimulatedClock{t: t}
}

func (sc *SimulatedClock) Now() time.Time {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.t
}

func (sc *SimulatedClock) After(d time.Duration) <-chan time.Time {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- sc.t
		return ch
	}
	sc.waiters = append(sc.waiters, afterRequest{deadline: sc.t.Add(d), ch: ch})
	return ch
}

// PendingWaiters returns the number of After channels yet to fire.
func (sc *SimulatedClock) PendingWaiters() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.waiters)
}

func (sc *SimulatedClock) SetTime(t time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.t = t
	sc.fireLocked()
}

func (sc *SimulatedClock) AdvanceTime(d time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.t = sc.t.Add(d)
	sc.fireLocked()
}

// LOCKS_REQUIRED(sc.mu)
func (sc *SimulatedClock) fireLocked() {
	remaining := sc.waiters[:0]
	for _, w := range sc.waiters {
		if sc.t.Before(w.deadline) {
			remaining = append(remaining, w)
			continue
		}
		w.ch <- w.deadline
	}
	sc.waiters = remaining
}
