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

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	referenceTime    = time.Date(2020, time.January, 1, 12, 0, 0, 0, time.UTC)
	shortTestTimeout = 10 * time.Millisecond // For non-blocking channel checks
	fireTestTimeout  = 50 * time.Millisecond // When expecting a channel to fire
)

func expectFire(t *testing.T, ch <-chan time.Time, expected time.Time) {
	t.Helper()
	select {
	case got := <-ch:
		assert.True(t, expected.Equal(got), "received %v, expected %v", got, expected)
	case <-time.After(fireTestTimeout):
		t.Fatalf("timeout waiting for %v", expected)
	}
}

func expectNoFire(t *testing.T, ch <-chan time.Time) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected fire at %v", got)
	case <-time.After(shortTestTimeout):
	}
}

func TestSimulatedClock_SetAndAdvance(t *testing.T) {
	sc := NewSimulatedClock(referenceTime)
	assert.True(t, sc.Now().Equal(referenceTime))

	sc.AdvanceTime(time.Hour)
	assert.True(t, sc.Now().Equal(referenceTime.Add(time.Hour)))

	sc.AdvanceTime(-2 * time.Hour)
	assert.True(t, sc.Now().Equal(referenceTime.Add(-time.Hour)))

	sc.SetTime(time.Time{})
	assert.True(t, sc.Now().IsZero())
}

func TestSimulatedClock_After_FiresImmediatelyForNonPositiveDuration(t *testing.T) {
	for _, d := range []time.Duration{0, -5 * time.Second} {
		sc := NewSimulatedClock(referenceTime)

		ch := sc.After(d)

		require.NotNil(t, ch)
		expectFire(t, ch, referenceTime)
		assert.Equal(t, 0, sc.PendingWaiters())
	}
}

func TestSimulatedClock_After_FiresOnceDeadlinePassed(t *testing.T) {
	testCases := []struct {
		name   string
		action func(sc *SimulatedClock)
	}{
		{"advance", func(sc *SimulatedClock) { sc.AdvanceTime(15 * time.Second) }},
		{"set", func(sc *SimulatedClock) { sc.SetTime(referenceTime.Add(15 * time.Second)) }},
		{"advance exactly", func(sc *SimulatedClock) { sc.AdvanceTime(10 * time.Second) }},
		{"advance in steps", func(sc *SimulatedClock) {
			sc.AdvanceTime(6 * time.Second)
			sc.AdvanceTime(6 * time.Second)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sc := NewSimulatedClock(referenceTime)
			ch := sc.After(10 * time.Second)

			tc.action(sc)

			expectFire(t, ch, referenceTime.Add(10*time.Second))
			assert.Equal(t, 0, sc.PendingWaiters())
		})
	}
}

func TestSimulatedClock_After_DoesNotFireEarly(t *testing.T) {
	sc := NewSimulatedClock(referenceTime)
	early := sc.After(10 * time.Second)
	late := sc.After(time.Minute)

	sc.AdvanceTime(5 * time.Second)
	expectNoFire(t, early)

	sc.AdvanceTime(5 * time.Second)
	expectFire(t, early, referenceTime.Add(10*time.Second))
	expectNoFire(t, late)
	assert.Equal(t, 1, sc.PendingWaiters())
}

func TestRealClock_After(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()

	<-c.After(time.Millisecond)

	assert.GreaterOrEqual(t, c.Now().Sub(start), time.Millisecond)
}
