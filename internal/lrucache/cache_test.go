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

package lrucache_test

import (
	"testing"

	"github.com/gvfs-go/gvfsd/internal/lrucache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const capacity = 3

type CacheTest struct {
	suite.Suite
	cache *lrucache.Cache[int]
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTest))
}

func (t *CacheTest) SetupTest() {
	t.cache = lrucache.New[int](capacity)
}

func (t *CacheTest) TearDownTest() {
	t.cache.CheckInvariants()
}

func (t *CacheTest) TestLookUpInEmptyCache() {
	_, ok := t.cache.LookUp("")
	assert.False(t.T(), ok)

	_, ok = t.cache.LookUp("taco")
	assert.False(t.T(), ok)
}

func (t *CacheTest) TestInsertAndLookUp() {
	assert.Empty(t.T(), t.cache.Insert("burrito", 23))
	assert.Empty(t.T(), t.cache.Insert("taco", 26))

	v, ok := t.cache.LookUp("burrito")
	assert.True(t.T(), ok)
	assert.Equal(t.T(), 23, v)
	v, ok = t.cache.LookUp("taco")
	assert.True(t.T(), ok)
	assert.Equal(t.T(), 26, v)
	assert.Equal(t.T(), 2, t.cache.Len())
}

func (t *CacheTest) TestInsertReplacesValue() {
	t.cache.Insert("taco", 1)
	evicted := t.cache.Insert("taco", 2)

	v, _ := t.cache.LookUp("taco")
	assert.Empty(t.T(), evicted)
	assert.Equal(t.T(), 2, v)
	assert.Equal(t.T(), 1, t.cache.Len())
}

func (t *CacheTest) TestEvictsLeastRecentlyUsed() {
	t.cache.Insert("a", 1)
	t.cache.Insert("b", 2)
	t.cache.Insert("c", 3)
	// Touch a so that b becomes the oldest.
	t.cache.LookUp("a")

	evicted := t.cache.Insert("d", 4)

	assert.Equal(t.T(), []string{"b"}, evicted)
	_, ok := t.cache.LookUp("b")
	assert.False(t.T(), ok)
	for _, k := range []string{"a", "c", "d"} {
		_, ok := t.cache.LookUp(k)
		assert.True(t.T(), ok, k)
	}
}

func (t *CacheTest) TestErase() {
	t.cache.Insert("a", 1)
	t.cache.Insert("b", 2)

	t.cache.Erase("a")
	t.cache.Erase("missing")

	_, ok := t.cache.LookUp("a")
	assert.False(t.T(), ok)
	assert.Equal(t.T(), 1, t.cache.Len())
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { lrucache.New[string](0) })
}
