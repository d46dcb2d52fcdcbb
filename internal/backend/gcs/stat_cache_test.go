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

package gcs

import (
	"context"
	"time"

	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/clock"
	"github.com/gvfs-go/gvfsd/internal/fileinfo"
	"github.com/gvfs-go/gvfsd/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStatTTL = time.Minute

// enableStatCache swaps in a cache driven by a simulated clock.
func (t *GCSBackendTest) enableStatCache() *clock.SimulatedClock {
	c := clock.NewSimulatedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	t.b.stats = newStatCache(testStatTTL, c)
	return c
}

// putObject writes an object behind the backend's back.
func (t *GCSBackendTest) putObject(name, content string) {
	w := t.server.Client().Bucket(testBucketName).Object(name).NewWriter(context.Background())
	_, err := w.Write([]byte(content))
	require.NoError(t.T(), err)
	require.NoError(t.T(), w.Close())
}

func (t *GCSBackendTest) sizeOf(path string) (uint64, error) {
	info, err := t.b.QueryInfo(t.ctx, path, fileinfo.ParseMatcher("standard::size"))
	if err != nil {
		return 0, err
	}
	size, _ := info.Uint64(fileinfo.StandardSize)
	return size, nil
}

func (t *GCSBackendTest) TestStatCache_ServesUntilExpiry() {
	c := t.enableStatCache()
	size, err := t.sizeOf("/" + testObjectName)
	require.NoError(t.T(), err)
	require.Equal(t.T(), uint64(len(testContent)), size)

	t.putObject(testObjectName, "changed")

	size, err = t.sizeOf("/" + testObjectName)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), uint64(len(testContent)), size)

	c.AdvanceTime(testStatTTL)
	size, err = t.sizeOf("/" + testObjectName)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), uint64(len("changed")), size)
}

func (t *GCSBackendTest) TestStatCache_RemembersMissingObjects() {
	c := t.enableStatCache()
	_, err := t.sizeOf("/later.txt")
	require.Equal(t.T(), protocol.CodeNotFound, protocol.ToError(err).Code)

	t.putObject("later.txt", "abc")

	_, err = t.sizeOf("/later.txt")
	assert.Equal(t.T(), protocol.CodeNotFound, protocol.ToError(err).Code)
	c.AdvanceTime(testStatTTL + time.Second)
	size, err := t.sizeOf("/later.txt")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), uint64(3), size)
}

func (t *GCSBackendTest) TestStatCache_WriteInvalidates() {
	t.enableStatCache()
	_, err := t.sizeOf("/fresh.txt")
	require.Equal(t.T(), protocol.CodeNotFound, protocol.ToError(err).Code)

	h, _, _, err := t.b.OpenForWrite(t.ctx, backend.WriteRequest{Path: "/fresh.txt", Mode: backend.WriteReplace})
	require.NoError(t.T(), err)
	_, err = t.b.Write(t.ctx, h, []byte("0123456789"))
	require.NoError(t.T(), err)
	_, err = t.b.CloseWrite(t.ctx, h)
	require.NoError(t.T(), err)

	size, err := t.sizeOf("/fresh.txt")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), uint64(10), size)
}

func (t *GCSBackendTest) TestStatCache_DisabledByZeroTTL() {
	assert.Nil(t.T(), newStatCache(0, clock.RealClock{}))

	t.putObject("direct.txt", "xy")

	size, err := t.sizeOf("/direct.txt")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), uint64(2), size)
}
