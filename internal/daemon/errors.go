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

package daemon

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/gvfs-go/gvfsd/internal/protocol"
)

const unmappedErrorPrefix = "org.gtk.GDBus.UnmappedGError.Quark._"

// quarkEscape encodes an error domain the way GDBus does for errors it has
// no registered name for: letters and digits stay, every other byte
// becomes _xx.
func quarkEscape(domain string) string {
	var b strings.Builder
	for i := 0; i < len(domain); i++ {
		c := domain[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "_%02x", c)
	}
	return b.String()
}

// errorName returns the bus error name for a domain/code pair, for example
// org.gtk.GDBus.UnmappedGError.Quark._g_2dio_2derror_2dquark.Code14.
func errorName(domain string, code protocol.ErrorCode) string {
	return fmt.Sprintf("%s%s.Code%d", unmappedErrorPrefix, quarkEscape(domain), uint32(code))
}

// toDBusError converts err for a bus reply. Clients map the name back to
// the original domain and code.
func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	perr := protocol.ToError(err)
	return dbus.NewError(errorName(perr.Domain, perr.Code), []interface{}{perr.Message})
}
