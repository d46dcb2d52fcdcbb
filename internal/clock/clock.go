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

// Package clock abstracts the passage of time so that timers such as the
// daemon idle timeout can be driven from tests.
package clock

import "time"

type Clock interface {
	Now() time.Time

	// After delivers the clock time on the returned channel once d has
	// elapsed. Zero or negative durations fire immediately.
	After(d time.Duration) <-chan time.Time
}
