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

// Package mountspec describes mounts: the key/value parameters that identify
// a mount (MountSpec) and the identity of a live mount on the bus
// (MountInfo).
package mountspec

import (
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"
)

// TypeKey is the item naming the backend that serves a mount.
const TypeKey = "type"

// prefixKey carries the mount prefix in the string form of a spec.
const prefixKey = "prefix"

type Item struct {
	Key   string
	Value string
}

// MountSpec is a set of key/value items, kept sorted by key, plus an optional
// mount prefix path.
type MountSpec struct {
	items  []Item
	prefix string
}

// New returns a spec holding only the type item. An empty type yields an
// empty spec.
func New(typ string) *MountSpec {
	s := &MountSpec{}
	if typ != "" {
		s.Set(TypeKey, typ)
	}
	return s
}

// Set stores value under key, replacing any previous value.
func (s *MountSpec) Set(key, value string) {
	i, found := slices.BinarySearchFunc(s.items, key, func(it Item, k string) int {
		return strings.Compare(it.Key, k)
	})
	if found {
		s.items[i].Value = value
		return
	}
	s.items = slices.Insert(s.items, i, Item{Key: key, Value: value})
}

func (s *MountSpec) Get(key string) (string, bool) {
	i, found := slices.BinarySearchFunc(s.items, key, func(it Item, k string) int {
		return strings.Compare(it.Key, k)
	})
	if !found {
		return "", false
	}
	return s.items[i].Value, true
}

// Type returns the backend type, or "" when unset.
func (s *MountSpec) Type() string {
	t, _ := s.Get(TypeKey)
	return t
}

// Items returns a copy of the items in key order.
func (s *MountSpec) Items() []Item {
	return slices.Clone(s.items)
}

func (s *MountSpec) MountPrefix() string {
	return s.prefix
}

// SetMountPrefix stores p in canonical form: absolute, cleaned, and without a
// trailing slash. The root prefix is stored as "".
func (s *MountSpec) SetMountPrefix(p string) {
	s.prefix = canonicalPrefix(p)
}

func canonicalPrefix(p string) string {
	if p == "" {
		return ""
	}
	p = path.Clean("/" + p)
	if p == "/" {
		return ""
	}
	return p
}

// Copy returns a deep copy of s.
func (s *MountSpec) Copy() *MountSpec {
	return &MountSpec{
		items:  slices.Clone(s.items),
		prefix: s.prefix,
	}
}

// Equal compares the item sets and the prefixes. Insertion order does not
// matter since items are kept sorted.
func (s *MountSpec) Equal(other *MountSpec) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.prefix == other.prefix && slices.Equal(s.items, other.items)
}

// MatchWithPath reports whether other names the same mount as s and p lies
// under the mount prefix of s.
func (s *MountSpec) MatchWithPath(other *MountSpec, p string) bool {
	return slices.Equal(s.items, other.items) && pathHasPrefix(p, s.prefix)
}

// Match is MatchWithPath using the prefix of other as the path.
func (s *MountSpec) Match(other *MountSpec) bool {
	return s.MatchWithPath(other, other.prefix)
}

func pathHasPrefix(p, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	rest := p[len(prefix):]
	return rest == "" || rest[0] == '/'
}

// String renders the spec as "key=value,..." with values query escaped and
// the prefix, if any, last.
func (s *MountSpec) String() string {
	parts := make([]string, 0, len(s.items)+1)
	for _, it := range s.items {
		parts = append(parts, url.QueryEscape(it.Key)+"="+url.QueryEscape(it.Value))
	}
	if s.prefix != "" {
		parts = append(parts, prefixKey+"="+url.QueryEscape(s.prefix))
	}
	return strings.Join(parts, ",")
}

// Parse is the inverse of String.
func Parse(str string) (*MountSpec, error) {
	s := New("")
	if str == "" {
		return s, nil
	}

	for _, part := range strings.Split(str, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("mount spec item %q has no '='", part)
		}
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("mount spec key %q: %w", k, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("mount spec value %q: %w", v, err)
		}
		if key == prefixKey {
			s.SetMountPrefix(value)
			continue
		}
		s.Set(key, value)
	}

	return s, nil
}
