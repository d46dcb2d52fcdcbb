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

package fileinfo

import "strings"

// Matcher selects attributes by a comma separated list of names, where an
// entry may be "*" (everything) or "namespace::*" (a whole namespace).
type Matcher struct {
	all        bool
	namespaces map[string]bool
	names      map[string]bool
}

// ParseMatcher parses an attributes string such as
// "standard::*,time::modified". The empty string matches nothing.
func ParseMatcher(attributes string) *Matcher {
	m := &Matcher{
		namespaces: make(map[string]bool),
		names:      make(map[string]bool),
	}

	for _, entry := range strings.Split(attributes, ",") {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case entry == "*":
			m.all = true
		case strings.HasSuffix(entry, "::*"):
			m.namespaces[strings.TrimSuffix(entry, "::*")] = true
		default:
			m.names[entry] = true
		}
	}

	return m
}

// Matches reports whether the named attribute was requested.
func (m *Matcher) Matches(name string) bool {
	if m.all || m.names[name] {
		return true
	}
	ns, _, ok := strings.Cut(name, "::")
	return ok && m.namespaces[ns]
}

// Filter drops from fi every attribute m does not match.
func (m *Matcher) Filter(fi *FileInfo) *FileInfo {
	for _, name := range fi.Names() {
		if !m.Matches(name) {
			fi.Remove(name)
		}
	}
	return fi
}
