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

// Package locker provides reader/writer locks that optionally check
// invariants on every transition and report locks held for too long.
package locker

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gvfs-go/gvfsd/internal/logger"
)

var (
	gEnableInvariantsCheck atomic.Bool
	gEnableDebugMessages   atomic.Bool

	// holdWarnAfter is how long a writer may hold a debug lock before it is
	// reported.
	holdWarnAfter = 5 * time.Second
)

// EnableInvariantsCheck makes locks created afterwards run their check
// function on every lock and unlock.
func EnableInvariantsCheck() {
	gEnableInvariantsCheck.Store(true)
}

// EnableDebugMessages makes locks created afterwards log when a writer holds
// them for too long.
func EnableDebugMessages() {
	gEnableDebugMessages.Store(true)
}

type RWLocker interface {
	sync.Locker
	RLock()
	RUnlock()
}

// NewRW returns a RW locker named name. check runs while the lock is held
// and should panic when the protected state is inconsistent.
//
// Only writers are tracked for long holds.
func NewRW(name string, check func()) RWLocker {
	var l RWLocker = &sync.RWMutex{}

	if gEnableInvariantsCheck.Load() {
		l = &rwChecker{
			locker: l,
			check:  check,
		}
	}

	if gEnableDebugMessages.Load() {
		l = &rwDebugger{
			locker: l,
			name:   name,
		}
	}

	return l
}

type rwChecker struct {
	locker RWLocker
	check  func()
}

func (c *rwChecker) Lock() {
	c.locker.Lock()
	c.check()
}

func (c *rwChecker) Unlock() {
	c.check()
	c.locker.Unlock()
}

func (c *rwChecker) RLock() {
	c.locker.RLock()
	c.check()
}

func (c *rwChecker) RUnlock() {
	c.check()
	c.locker.RUnlock()
}

type rwDebugger struct {
	locker RWLocker
	name   string
	holder string
	timer  *time.Timer
}

func (d *rwDebugger) Lock() {
	d.locker.Lock()

	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false /* all */)
	d.holder = string(buf[:n])

	name, holder := d.name, d.holder
	d.timer = time.AfterFunc(holdWarnAfter, func() {
		logger.Tracef("debug_mutex: Potential dead lock detected for a lock %q held by: %v\n", name, holder)
	})
}

func (d *rwDebugger) Unlock() {
	d.holder = ""
	d.timer.Stop()
	d.timer = nil

	d.locker.Unlock()
}

func (d *rwDebugger) RLock() {
	d.locker.RLock()
}

func (d *rwDebugger) RUnlock() {
	d.locker.RUnlock()
}
