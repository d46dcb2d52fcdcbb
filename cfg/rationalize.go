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

package cfg

import (
	"os"
	"path/filepath"
	"runtime"
)

// isSet interface is abstraction over the IsSet() method of viper, specially
// added to keep rationalize method simple.
type isSet interface {
	IsSet(string) bool
}

func resolveLoggingConfig(v isSet, c *Config) {
	// The mutex debugger reports at TRACE.
	if c.Debug.LogMutex && !v.IsSet(LoggingSeverityConfigKey) {
		c.Logging.Severity = TraceLogSeverity
	}
}

// resolveSocketDir picks the socket directory where abstract sockets are
// not available.
func resolveSocketDir(c *Config, goos string) {
	if c.Daemon.SocketDir != "" || goos == "linux" {
		return
	}
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
	}
	c.Daemon.SocketDir = ResolvedPath(filepath.Join(base, "gvfsd"))
}

// Rationalize updates the config fields based on the values of other fields.
func Rationalize(v isSet, c *Config) error {
	resolveLoggingConfig(v, c)
	resolveSocketDir(c, runtime.GOOS)
	return nil
}
