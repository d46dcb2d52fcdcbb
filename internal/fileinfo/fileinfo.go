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

// Package fileinfo holds the attribute set returned by info queries and its
// binary serialization, the body of INFO replies.
package fileinfo

import (
	"fmt"
	"reflect"
	"slices"
)

// AttributeType is the type tag of an attribute value.
type AttributeType uint8

const (
	TypeInvalid AttributeType = iota
	TypeString
	TypeByteString
	TypeBoolean
	TypeUint32
	TypeInt32
	TypeUint64
	TypeInt64
	TypeObject
	TypeStringV
)

func (t AttributeType) String() string {
	switch t {
	case TypeInvalid:
		return "invalid"
	case TypeString:
		return "string"
	case TypeByteString:
		return "bytestring"
	case TypeBoolean:
		return "boolean"
	case TypeUint32:
		return "uint32"
	case TypeInt32:
		return "int32"
	case TypeUint64:
		return "uint64"
	case TypeInt64:
		return "int64"
	case TypeObject:
		return "object"
	case TypeStringV:
		return "stringv"
	}
	return fmt.Sprintf("AttributeType(%d)", uint8(t))
}

// AttributeStatus records whether an attribute value was set successfully.
type AttributeStatus uint8

const (
	StatusUnset AttributeStatus = iota
	StatusSet
	StatusErrorSetting
)

// Frequently used attribute names.
const (
	StandardType        = "standard::type"
	StandardName        = "standard::name"
	StandardDisplayName = "standard::display-name"
	StandardSize        = "standard::size"
	StandardContentType = "standard::content-type"
	StandardIcon        = "standard::icon"
	TimeModified        = "time::modified"
	TimeModifiedUsec    = "time::modified-usec"
	EtagValue           = "etag::value"
	UnixMode            = "unix::mode"
	AccessCanRead       = "access::can-read"
	AccessCanWrite      = "access::can-write"
)

// File types stored under StandardType.
const (
	FileTypeUnknown uint32 = iota
	FileTypeRegular
	FileTypeDirectory
	FileTypeSymbolicLink
	FileTypeSpecial
)

// Icon is an object value that serializes as a string.
type Icon string

// Attribute is one named value. Value holds the Go type matching Type:
//
//	string, bytestring -> string
//	boolean            -> bool
//	uint32/int32       -> uint32/int32
//	uint64/int64       -> uint64/int64
//	stringv            -> []string
//	object             -> Icon, or nil for no object
//	invalid            -> nil
type Attribute struct {
	Type   AttributeType
	Status AttributeStatus
	Value  any
}

// FileInfo is a set of attributes keyed by name.
type FileInfo struct {
	attrs map[string]Attribute
}

func New() *FileInfo {
	return &FileInfo{attrs: make(map[string]Attribute)}
}

// Len returns the number of attributes.
func (fi *FileInfo) Len() int {
	return len(fi.attrs)
}

// Names returns the attribute names in sorted order.
func (fi *FileInfo) Names() []string {
	names := make([]string, 0, len(fi.attrs))
	for name := range fi.attrs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Get returns the named attribute.
func (fi *FileInfo) Get(name string) (Attribute, bool) {
	a, ok := fi.attrs[name]
	return a, ok
}

// Set stores an attribute as is. It does not check that Value matches Type.
func (fi *FileInfo) Set(name string, a Attribute) {
	fi.attrs[name] = a
}

func (fi *FileInfo) Remove(name string) {
	delete(fi.attrs, name)
}

func (fi *FileInfo) set(name string, t AttributeType, v any) {
	fi.attrs[name] = Attribute{Type: t, Status: StatusSet, Value: v}
}

func (fi *FileInfo) SetString(name, v string) { fi.set(name, TypeString, v) }
func (fi *FileInfo) SetByteString(name, v string) { fi.set(name, TypeByteString, v) }
func (fi *FileInfo) SetBool(name string, v bool) { fi.set(name, TypeBoolean, v) }
func (fi *FileInfo) SetUint32(name string, v uint32) { fi.set(name, TypeUint32, v) }
func (fi *FileInfo) SetInt32(name string, v int32) { fi.set(name, TypeInt32, v) }
func (fi *FileInfo) SetUint64(name string, v uint64) { fi.set(name, TypeUint64, v) }
func (fi *FileInfo) SetInt64(name string, v int64) { fi.set(name, TypeInt64, v) }
func (fi *FileInfo) SetIcon(name string, v Icon) { fi.set(name, TypeObject, v) }

func (fi *FileInfo) SetStringV(name string, v []string) {
	if v == nil {
		v = []string{}
	}
	fi.set(name, TypeStringV, slices.Clone(v))
}

// String returns the value of a string or bytestring attribute.
func (fi *FileInfo) String(name string) (string, bool) {
	a, ok := fi.attrs[name]
	if !ok {
		return "", false
	}
	s, ok := a.Value.(string)
	return s, ok
}

// Uint64 returns the value of a uint64 attribute.
func (fi *FileInfo) Uint64(name string) (uint64, bool) {
	a, ok := fi.attrs[name]
	if !ok {
		return 0, false
	}
	v, ok := a.Value.(uint64)
	return v, ok
}

// Equal reports whether both sets hold the same names with equal types,
// statuses and values.
func (fi *FileInfo) Equal(other *FileInfo) bool {
	if fi.Len() != other.Len() {
		return false
	}
	for name, a := range fi.attrs {
		b, ok := other.attrs[name]
		if !ok {
			return false
		}
		if a.Type != b.Type || a.Status != b.Status {
			return false
		}
		if !reflect.DeepEqual(a.Value, b.Value) {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of fi.
func (fi *FileInfo) Copy() *FileInfo {
	c := New()
	for name, a := range fi.attrs {
		if v, ok := a.Value.([]string); ok {
			a.Value = slices.Clone(v)
		}
		c.attrs[name] = a
	}
	return c
}
