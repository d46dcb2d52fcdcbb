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
	"fmt"
	"math"
	"time"
)

// ChooseLimiterCapacity picks a token bucket capacity for limiting to rateHz
// averaged over window. A bucket that fills up over the whole window lets
// bursts through while keeping the long-term rate.
func ChooseLimiterCapacity(rateHz float64, window time.Duration) (capacity uint64, err error) {
	if !(rateHz > 0) || math.IsInf(rateHz, 0) {
		err = fmt.Errorf("illegal rate: %f", rateHz)
		return
	}

	if !(window > 0) {
		err = fmt.Errorf("illegal window: %v", window)
		return
	}

	c := math.Floor(window.Seconds() * rateHz)
	if !(c >= 1) {
		err = fmt.Errorf("can't limit to %f Hz over a window of %v (capacity %f)", rateHz, window, c)
		return
	}
	if c > math.MaxInt32 {
		c = math.MaxInt32
	}

	capacity = uint64(c)
	return
}
