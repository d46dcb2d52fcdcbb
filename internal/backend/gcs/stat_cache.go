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
	"errors"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gvfs-go/gvfsd/internal/clock"
	"github.com/gvfs-go/gvfsd/internal/lrucache"
)

const statCacheCapacity = 4096

// statCache remembers object attributes, and the absence of objects, for a
// fixed time.
type statCache struct {
	ttl   time.Duration
	clock clock.Clock
	lru   *lrucache.Cache[statEntry]
}

type statEntry struct {
	// nil when the object does not exist.
	attrs      *storage.ObjectAttrs
	expiration time.Time
}

// newStatCache returns nil when ttl is zero; a nil cache never hits.
func newStatCache(ttl time.Duration, c clock.Clock) *statCache {
	if ttl <= 0 {
		return nil
	}
	return &statCache{
		ttl:   ttl,
		clock: c,
		lru:   lrucache.New[statEntry](statCacheCapacity),
	}
}

func (sc *statCache) lookUp(name string) (attrs *storage.ObjectAttrs, hit bool) {
	if sc == nil {
		return nil, false
	}
	e, ok := sc.lru.LookUp(name)
	if !ok {
		return nil, false
	}
	if !sc.clock.Now().Before(e.expiration) {
		sc.lru.Erase(name)
		return nil, false
	}
	return e.attrs, true
}

func (sc *statCache) insert(name string, attrs *storage.ObjectAttrs) {
	if sc == nil {
		return
	}
	sc.lru.Insert(name, statEntry{attrs: attrs, expiration: sc.clock.Now().Add(sc.ttl)})
}

func (sc *statCache) erase(name string) {
	if sc == nil {
		return
	}
	sc.lru.Erase(name)
}

// statObject returns the attributes of the named object, consulting the cache
// first. Missing objects are cached as well.
func (b *Backend) statObject(ctx context.Context, name string) (*storage.ObjectAttrs, error) {
	if attrs, hit := b.stats.lookUp(name); hit {
		if attrs == nil {
			return nil, storage.ErrObjectNotExist
		}
		return attrs, nil
	}

	attrs, err := b.bucket.Object(name).Attrs(ctx)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		b.stats.insert(name, nil)
	case err == nil:
		b.stats.insert(name, attrs)
	}
	return attrs, err
}
