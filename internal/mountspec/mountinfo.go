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

package mountspec

import (
	"path"
	"strings"
)

const (
	DefaultIcon         = "drive-removable-media"
	DefaultSymbolicIcon = "drive-removable-media-symbolic"
)

// MountInfo describes one live mount. Two infos are the same mount when they
// share the bus id of the serving daemon and the object path of the mount;
// the other fields do not take part in identity.
type MountInfo struct {
	DisplayName               string
	StableName                string
	XContentTypes             string
	Icon                      string
	SymbolicIcon              string
	DBusID                    string
	ObjectPath                string
	Spec                      *MountSpec
	UserVisible               bool
	PreferredFilenameEncoding string
	FuseMountpoint            string
	DefaultLocation           string
}

// Equal compares identities only.
func (m *MountInfo) Equal(other *MountInfo) bool {
	return m.DBusID == other.DBusID && m.ObjectPath == other.ObjectPath
}

// Clone returns a deep copy of m.
func (m *MountInfo) Clone() *MountInfo {
	c := *m
	if m.Spec != nil {
		c.Spec = m.Spec.Copy()
	}
	return &c
}

// fillDefaults sets the icons that a serving daemon left empty.
func (m *MountInfo) fillDefaults() {
	if m.Icon == "" {
		m.Icon = DefaultIcon
	}
	if m.SymbolicIcon == "" {
		m.SymbolicIcon = DefaultSymbolicIcon
	}
}

// ResolvePath turns a path as seen by a client of the mount into the path
// relative to the mount prefix. An empty result becomes "/".
func (m *MountInfo) ResolvePath(p string) string {
	prefix := ""
	if m.Spec != nil {
		prefix = strings.TrimSuffix(m.Spec.MountPrefix(), "/")
	}

	rest := p
	if prefix != "" && strings.HasPrefix(p, prefix) {
		rest = p[len(prefix):]
	}
	if rest == "" {
		return "/"
	}
	return rest
}

// ApplyPrefix is the inverse of ResolvePath.
func (m *MountInfo) ApplyPrefix(p string) string {
	if m.Spec == nil || m.Spec.MountPrefix() == "" {
		return p
	}
	return path.Join(m.Spec.MountPrefix(), p)
}
