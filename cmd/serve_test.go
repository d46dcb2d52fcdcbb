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

package cmd

import (
	"testing"
	"time"

	"github.com/gvfs-go/gvfsd/cfg"
	"github.com/gvfs-go/gvfsd/internal/backend/gcs"
	"github.com/gvfs-go/gvfsd/internal/backend/localtest"
	"github.com/gvfs-go/gvfsd/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecs(t *testing.T) {
	specs, err := parseSpecs([]string{"type=gcs,bucket=b1", "bucket=b2,type=gcs,prefix=%2Fdir"})

	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, gcs.Type, specs[0].Type())
	bucket, _ := specs[1].Get(gcs.BucketKey)
	assert.Equal(t, "b2", bucket)
	assert.Equal(t, "/dir", specs[1].MountPrefix())
}

func TestParseSpecs_Errors(t *testing.T) {
	testCases := map[string]string{
		"no type":   "bucket=b1",
		"malformed": "type=gcs,bucket",
	}

	for name, arg := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := parseSpecs([]string{arg})

			assert.Error(t, err)
		})
	}
}

func TestNewRegistry(t *testing.T) {
	r := newRegistry(&cfg.Config{})

	assert.Equal(t, []string{gcs.Type, localtest.Type}, r.Types())
}

func TestDaemonConfig(t *testing.T) {
	c := &cfg.Config{
		Daemon: cfg.DaemonConfig{
			MaxThreads:        3,
			IdleTimeout:       2 * time.Second,
			ReadAheadBudgetMb: 4,
			SocketDir:         "/run/user/1/gvfsd",
		},
	}
	mh := metrics.NewNoopMetrics()

	dc := daemonConfig(c, mh)

	assert.Equal(t, uint32(3), dc.MaxThreads)
	assert.Equal(t, 2*time.Second, dc.IdleTimeout)
	assert.Equal(t, int64(4<<20), dc.ReadAheadBudget)
	assert.Equal(t, "/run/user/1/gvfsd", dc.SocketDir)
	assert.NotNil(t, dc.Registry)
	assert.Equal(t, mh, dc.Metrics)
}

func TestSetupMetrics_DisabledWithoutPort(t *testing.T) {
	mh, shutdownFn := setupMetrics(t.Context(), &cfg.Config{})

	assert.Nil(t, shutdownFn)
	assert.Equal(t, metrics.NewNoopMetrics(), mh)
}
