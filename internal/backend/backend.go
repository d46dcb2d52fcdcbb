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

// Package backend defines what the daemon needs from a protocol backend: the
// state common to every mount and a set of optional capabilities.
package backend

import (
	"sync"
	"sync/atomic"

	"github.com/gvfs-go/gvfsd/internal/mountspec"
)

// Handle is the backend specific token of an open file. It is owned by the
// channel serving that file.
type Handle any

// Backend is one mount. Everything beyond the shared Base is optional and discovered
// through the capability interfaces.
type Backend interface {
	BackendBase() *Base
}

// Base holds the state shared by all backends.
type Base struct {
	mu sync.Mutex

	objectPath   string
	displayName  string
	stableName   string
	contentTypes string
	icon         string
	symbolicIcon string
	encoding     string
	location     string
	userVisible  bool
	spec         *mountspec.MountSpec
	maxThreads   uint32

	blocked atomic.Bool
}

func NewBase() *Base {
	return &Base{userVisible: true, spec: mountspec.New("")}
}

func (b *Base) BackendBase() *Base { return b }

func (b *Base) ObjectPath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objectPath
}

// SetObjectPath is called once by the daemon when the mount is created.
func (b *Base) SetObjectPath(p string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objectPath = p
}

func (b *Base) SetDisplayName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.displayName = name
}

func (b *Base) DisplayName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.displayName
}

func (b *Base) SetStableName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stableName = name
}

func (b *Base) SetXContentTypes(types string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contentTypes = types
}

func (b *Base) SetIcon(icon, symbolic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.icon = icon
	b.symbolicIcon = symbolic
}

func (b *Base) SetPreferredFilenameEncoding(enc string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.encoding = enc
}

func (b *Base) SetDefaultLocation(loc string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.location = loc
}

// SetMaxThreads asks the daemon for at least n concurrent jobs once the mount
// succeeded. Zero leaves the daemon's setting alone.
func (b *Base) SetMaxThreads(n uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxThreads = n
}

func (b *Base) MaxThreads() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxThreads
}

func (b *Base) SetUserVisible(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userVisible = v
}

// SetMountSpec stores a copy of spec.
func (b *Base) SetMountSpec(spec *mountspec.MountSpec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spec = spec.Copy()
}

// MountSpec returns a copy of the mount spec.
func (b *Base) MountSpec() *mountspec.MountSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spec.Copy()
}

// BlockRequests makes channels of this backend refuse new requests. It is set
// while unmounting.
func (b *Base) BlockRequests() {
	b.blocked.Store(true)
}

func (b *Base) UnblockRequests() {
	b.blocked.Store(false)
}

func (b *Base) IsBlocked() bool {
	return b.blocked.Load()
}

// MountInfo describes the mount as served by the daemon owning dbusID.
func (b *Base) MountInfo(dbusID string) *mountspec.MountInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	icon := b.icon
	if icon == "" {
		icon = mountspec.DefaultIcon
	}
	symbolic := b.symbolicIcon
	if symbolic == "" {
		symbolic = mountspec.DefaultSymbolicIcon
	}
	return &mountspec.MountInfo{
		DisplayName:               b.displayName,
		StableName:                b.stableName,
		XContentTypes:             b.contentTypes,
		Icon:                      icon,
		SymbolicIcon:              symbolic,
		DBusID:                    dbusID,
		ObjectPath:                b.objectPath,
		Spec:                      b.spec.Copy(),
		UserVisible:               b.userVisible,
		PreferredFilenameEncoding: b.encoding,
		DefaultLocation:           b.location,
	}
}
