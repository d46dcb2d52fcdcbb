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

package ratelimit

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// An io.Reader that defers to a function.
type funcReader struct {
	f func([]byte) (int, error)
}

func (fr *funcReader) Read(p []byte) (n int, err error) {
	return fr.f(p)
}

// A throttle that defers to a function.
type funcThrottle struct {
	f func(context.Context, uint64) error
}

func (ft *funcThrottle) Capacity() (c uint64) {
	return 1024
}

func (ft *funcThrottle) Wait(ctx context.Context, tokens uint64) (err error) {
	return ft.f(ctx, tokens)
}

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type ThrottledReaderTest struct {
	suite.Suite
	ctx context.Context

	wrapped  funcReader
	throttle funcThrottle

	reader io.Reader
}

func TestThrottledReaderSuite(t *testing.T) {
	suite.Run(t, new(ThrottledReaderTest))
}

func (t *ThrottledReaderTest) SetupTest() {
	t.ctx = context.Background()
	t.throttle.f = func(ctx context.Context, tokens uint64) error { return nil }
	t.wrapped.f = func(p []byte) (int, error) { return 0, io.EOF }
	t.reader = ThrottledReader(t.ctx, &t.wrapped, &t.throttle)
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *ThrottledReaderTest) TestCallsThrottleWithReadSize() {
	const readSize = 17
	var tokensSeen uint64
	t.throttle.f = func(ctx context.Context, tokens uint64) error {
		tokensSeen = tokens
		return errors.New("taco")
	}

	n, err := t.reader.Read(make([]byte, readSize))

	assert.Equal(t.T(), 0, n)
	assert.EqualError(t.T(), err, "taco")
	assert.Equal(t.T(), uint64(readSize), tokensSeen)
}

func (t *ThrottledReaderTest) TestCapsReadAtCapacity() {
	var tokensSeen uint64
	var lenSeen int
	t.throttle.f = func(ctx context.Context, tokens uint64) error {
		tokensSeen = tokens
		return nil
	}
	t.wrapped.f = func(p []byte) (int, error) {
		lenSeen = len(p)
		return len(p), nil
	}

	n, err := t.reader.Read(make([]byte, 4096))

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 1024, n)
	assert.Equal(t.T(), uint64(1024), tokensSeen)
	assert.Equal(t.T(), 1024, lenSeen)
}

func (t *ThrottledReaderTest) TestFillsAcquiredAmountAcrossShortReads() {
	calls := 0
	t.wrapped.f = func(p []byte) (int, error) {
		calls++
		p[0] = 'x'
		return 1, nil
	}

	buf := make([]byte, 4)
	n, err := t.reader.Read(buf)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), 4, n)
	assert.Equal(t.T(), 4, calls)
	assert.Equal(t.T(), "xxxx", string(buf))
}

func (t *ThrottledReaderTest) TestStopsAtEOF() {
	t.reader = ThrottledReader(t.ctx, strings.NewReader("ab"), &t.throttle)

	buf := make([]byte, 8)
	n, err := t.reader.Read(buf)

	assert.Equal(t.T(), 2, n)
	assert.ErrorIs(t.T(), err, io.EOF)
	assert.Equal(t.T(), "ab", string(buf[:n]))
}

func TestNewThrottle_CancelledContext(t *testing.T) {
	throttle := NewThrottle(1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, throttle.Wait(ctx, 10))
	cancel()

	err := throttle.Wait(ctx, 10)

	assert.Error(t, err)
	assert.Equal(t, uint64(10), throttle.Capacity())
}

func TestChooseLimiterCapacity(t *testing.T) {
	testCases := []struct {
		name     string
		rateHz   float64
		window   time.Duration
		expected uint64
		wantErr  bool
	}{
		{"zero rate", 0, time.Second, 0, true},
		{"negative rate", -1, time.Second, 0, true},
		{"infinite rate", math.Inf(1), time.Second, 0, true},
		{"NaN rate", math.NaN(), time.Second, 0, true},
		{"zero window", 1, 0, 0, true},
		{"too small", 0.5, time.Second, 0, true},
		{"exact", 100, 30 * time.Second, 3000, false},
		{"floored", 1.5, 3 * time.Second, 4, false},
		{"huge", 1e12, time.Hour, math.MaxInt32, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := ChooseLimiterCapacity(tc.rateHz, tc.window)

			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, c)
		})
	}
}
