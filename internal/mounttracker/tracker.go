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

// Package mounttracker keeps the list of live mounts announced on the bus
// and tells listeners when mounts come and go.
package mounttracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
	"github.com/jacobsa/syncutil"
)

// Lister returns the mounts currently registered with the mount tracker
// service.
type Lister interface {
	ListMounts(ctx context.Context, userVisibleOnly bool) ([]*mountspec.MountInfo, error)
}

// Listener is told about one mount. It runs without the tracker lock held
// and may call back into the tracker.
type Listener func(info *mountspec.MountInfo)

type Tracker struct {
	userVisibleOnly bool

	mu syncutil.InvariantMutex

	// INVARIANT: no two entries are Equal
	// INVARIANT: with userVisibleOnly, every entry is user visible
	//
	// GUARDED_BY(mu)
	mounts []*mountspec.MountInfo

	listenersMu sync.Mutex
	onMounted   []Listener
	onUnmounted []Listener

	closeOnce sync.Once
	stop      func()
}

// New creates a tracker and fills it from lister. A failing or nil lister
// leaves the tracker empty; it then learns about mounts only through
// Mounted and Unmounted.
func New(ctx context.Context, lister Lister, userVisibleOnly bool) *Tracker {
	t := &Tracker{userVisibleOnly: userVisibleOnly}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)

	if lister == nil {
		return t
	}
	infos, err := lister.ListMounts(ctx, userVisibleOnly)
	if err != nil {
		logger.Warnf("Listing mounts: %v; starting with no mounts", err)
		return t
	}
	for _, info := range infos {
		t.Mounted(info)
	}
	return t
}

func (t *Tracker) checkInvariants() {
	for i, a := range t.mounts {
		if t.userVisibleOnly && !a.UserVisible {
			panic(fmt.Sprintf("invisible mount %s tracked", a.ObjectPath))
		}
		for _, b := range t.mounts[i+1:] {
			if a.Equal(b) {
				panic(fmt.Sprintf("mount %s of %s tracked twice", a.ObjectPath, a.DBusID))
			}
		}
	}
}

// LOCKS_REQUIRED(t.mu)
func (t *Tracker) findLocked(info *mountspec.MountInfo) int {
	for i, m := range t.mounts {
		if m.Equal(info) {
			return i
		}
	}
	return -1
}

// Mounted records info. Known mounts, and invisible ones when the tracker
// only tracks visible mounts, are ignored. Listeners run only when the mount
// is new.
func (t *Tracker) Mounted(info *mountspec.MountInfo) {
	t.mu.Lock()
	if t.findLocked(info) >= 0 || (t.userVisibleOnly && !info.UserVisible) {
		t.mu.Unlock()
		return
	}
	stored := info.Clone()
	t.mounts = append(t.mounts, stored)
	t.mu.Unlock()

	logger.Debugf("Mount tracker: %s mounted at %s", stored.DisplayName, stored.ObjectPath)
	t.emit(t.mountedListeners(), stored)
}

// Unmounted forgets info. Unknown mounts are ignored.
func (t *Tracker) Unmounted(info *mountspec.MountInfo) {
	t.mu.Lock()
	i := t.findLocked(info)
	if i < 0 {
		t.mu.Unlock()
		return
	}
	old := t.mounts[i]
	t.mounts = append(t.mounts[:i], t.mounts[i+1:]...)
	t.mu.Unlock()

	logger.Debugf("Mount tracker: %s unmounted from %s", old.DisplayName, old.ObjectPath)
	t.emit(t.unmountedListeners(), old)
}

func (t *Tracker) emit(listeners []Listener, info *mountspec.MountInfo) {
	for _, l := range listeners {
		l(info.Clone())
	}
}

// ListMounts returns copies of all tracked mounts.
func (t *Tracker) ListMounts() []*mountspec.MountInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*mountspec.MountInfo, 0, len(t.mounts))
	for _, m := range t.mounts {
		out = append(out, m.Clone())
	}
	return out
}

// FindByMountSpec returns a copy of the mount whose spec equals spec, or nil.
func (t *Tracker) FindByMountSpec(spec *mountspec.MountSpec) *mountspec.MountInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range t.mounts {
		if m.Spec.Equal(spec) {
			return m.Clone()
		}
	}
	return nil
}

func (t *Tracker) HasMountSpec(spec *mountspec.MountSpec) bool {
	return t.FindByMountSpec(spec) != nil
}

// FindByPath returns the mount serving path under spec. When several mounts
// match, the one with the longest prefix wins.
func (t *Tracker) FindByPath(spec *mountspec.MountSpec, path string) *mountspec.MountInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best *mountspec.MountInfo
	for _, m := range t.mounts {
		if m.Spec == nil || !m.Spec.MatchWithPath(spec, path) {
			continue
		}
		if best == nil || len(m.Spec.MountPrefix()) > len(best.Spec.MountPrefix()) {
			best = m
		}
	}
	if best == nil {
		return nil
	}
	return best.Clone()
}

func (t *Tracker) OnMounted(l Listener) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.onMounted = append(t.onMounted, l)
}

func (t *Tracker) OnUnmounted(l Listener) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.onUnmounted = append(t.onUnmounted, l)
}

func (t *Tracker) mountedListeners() []Listener {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	return append([]Listener(nil), t.onMounted...)
}

func (t *Tracker) unmountedListeners() []Listener {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	return append([]Listener(nil), t.onUnmounted...)
}

// Close stops feeding bus signals into the tracker. The tracker stays
// usable.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		if t.stop != nil {
			t.stop()
		}
	})
}
