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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSeverity_UnmarshalText(t *testing.T) {
	testCases := []struct {
		input    string
		expected LogSeverity
		wantErr  bool
	}{
		{"trace", TraceLogSeverity, false},
		{"Debug", DebugLogSeverity, false},
		{"INFO", InfoLogSeverity, false},
		{"warning", WarningLogSeverity, false},
		{"error", ErrorLogSeverity, false},
		{"off", OffLogSeverity, false},
		{"verbose", "", true},
		{"", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			var l LogSeverity

			err := l.UnmarshalText([]byte(tc.input))

			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, l)
		})
	}
}

func TestLogSeverity_Rank(t *testing.T) {
	assert.Less(t, TraceLogSeverity.Rank(), DebugLogSeverity.Rank())
	assert.Less(t, DebugLogSeverity.Rank(), InfoLogSeverity.Rank())
	assert.Less(t, InfoLogSeverity.Rank(), WarningLogSeverity.Rank())
	assert.Less(t, WarningLogSeverity.Rank(), ErrorLogSeverity.Rank())
	assert.Less(t, ErrorLogSeverity.Rank(), OffLogSeverity.Rank())
	assert.Equal(t, -1, LogSeverity("LOUD").Rank())
}

func TestResolvedPath_UnmarshalText(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	cwd, err := os.Getwd()
	require.NoError(t, err)

	testCases := []struct {
		name      string
		input     string
		parentDir string
		expected  string
	}{
		{"empty", "", "", ""},
		{"absolute", "/var/log/gvfsd.log", "/ignored", "/var/log/gvfsd.log"},
		{"home", "~/gvfsd.log", "", filepath.Join(home, "gvfsd.log")},
		{"relative to parent process", "logs/gvfsd.log", "/srv/app", "/srv/app/logs/gvfsd.log"},
		{"relative to cwd", "gvfsd.log", "", filepath.Join(cwd, "gvfsd.log")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(ParentProcessDirEnv, tc.parentDir)
			var p ResolvedPath

			err := p.UnmarshalText([]byte(tc.input))

			require.NoError(t, err)
			assert.Equal(t, ResolvedPath(tc.expected), p)
		})
	}
}
