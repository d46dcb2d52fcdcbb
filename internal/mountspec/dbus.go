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
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// SpecWire is the bus form of a MountSpec, signature (aya{sv}). Byte strings
// carry a trailing NUL and item values are variants holding byte strings.
type SpecWire struct {
	Prefix []byte
	Items  map[string]dbus.Variant
}

// InfoWire is the bus form of a MountInfo, signature
// (sossssssbay(aya{sv})ay).
type InfoWire struct {
	DBusID                    string
	ObjectPath                dbus.ObjectPath
	DisplayName               string
	StableName                string
	XContentTypes             string
	Icon                      string
	SymbolicIcon              string
	PreferredFilenameEncoding string
	UserVisible               bool
	FuseMountpoint            []byte
	Spec                      SpecWire
	DefaultLocation           []byte
}

func toByteString(s string) []byte {
	return append([]byte(s), 0)
}

func fromByteString(b []byte) string {
	return strings.TrimSuffix(string(b), "\x00")
}

// ToDBus returns the bus form of s.
func (s *MountSpec) ToDBus() SpecWire {
	w := SpecWire{
		Prefix: toByteString(s.prefix),
		Items:  make(map[string]dbus.Variant, len(s.items)),
	}
	for _, it := range s.items {
		w.Items[it.Key] = dbus.MakeVariant(toByteString(it.Value))
	}
	return w
}

// SpecFromDBus rebuilds a MountSpec. Values may be byte strings or strings.
func SpecFromDBus(w SpecWire) (*MountSpec, error) {
	s := New("")
	s.SetMountPrefix(fromByteString(w.Prefix))
	for k, v := range w.Items {
		switch value := v.Value().(type) {
		case []byte:
			s.Set(k, fromByteString(value))
		case string:
			s.Set(k, value)
		default:
			return nil, fmt.Errorf("mount spec item %q has signature %s", k, v.Signature())
		}
	}
	return s, nil
}

// ToDBus returns the bus form of m.
func (m *MountInfo) ToDBus() InfoWire {
	spec := m.Spec
	if spec == nil {
		spec = New("")
	}
	return InfoWire{
		DBusID:                    m.DBusID,
		ObjectPath:                dbus.ObjectPath(m.ObjectPath),
		DisplayName:               m.DisplayName,
		StableName:                m.StableName,
		XContentTypes:             m.XContentTypes,
		Icon:                      m.Icon,
		SymbolicIcon:              m.SymbolicIcon,
		PreferredFilenameEncoding: m.PreferredFilenameEncoding,
		UserVisible:               m.UserVisible,
		FuseMountpoint:            toByteString(m.FuseMountpoint),
		Spec:                      spec.ToDBus(),
		DefaultLocation:           toByteString(m.DefaultLocation),
	}
}

// InfoFromDBus rebuilds a MountInfo, filling in default icons.
func InfoFromDBus(w InfoWire) (*MountInfo, error) {
	spec, err := SpecFromDBus(w.Spec)
	if err != nil {
		return nil, err
	}
	m := &MountInfo{
		DisplayName:               w.DisplayName,
		StableName:                w.StableName,
		XContentTypes:             w.XContentTypes,
		Icon:                      w.Icon,
		SymbolicIcon:              w.SymbolicIcon,
		DBusID:                    w.DBusID,
		ObjectPath:                string(w.ObjectPath),
		Spec:                      spec,
		UserVisible:               w.UserVisible,
		PreferredFilenameEncoding: w.PreferredFilenameEncoding,
		FuseMountpoint:            fromByteString(w.FuseMountpoint),
		DefaultLocation:           fromByteString(w.DefaultLocation),
	}
	m.fillDefaults()
	return m, nil
}
