// Copyright 2026 The Bokaka Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package hwtest

// FakeClock is a manually stepped clock for tests that do not involve
// the wire. Delays advance it; tests can also jump it forward.
type FakeClock struct {
	nowUS uint64
}

// NewFakeClock creates a clock at the given starting microsecond value.
func NewFakeClock(startMicros uint64) *FakeClock {
	return &FakeClock{nowUS: startMicros}
}

// Micros returns the wrapped 32-bit microsecond counter.
func (c *FakeClock) Micros() uint32 {
	return uint32(c.nowUS)
}

// DelayMicros advances the clock; there is nothing to actually wait for.
func (c *FakeClock) DelayMicros(us uint32) {
	c.nowUS += uint64(us)
}

// Millis returns the wrapped millisecond counter.
func (c *FakeClock) Millis() uint32 {
	return uint32(c.nowUS / 1000)
}

// AdvanceMillis jumps the clock forward.
func (c *FakeClock) AdvanceMillis(ms uint64) {
	c.nowUS += ms * 1000
}

// AdvanceMicros jumps the clock forward.
func (c *FakeClock) AdvanceMicros(us uint64) {
	c.nowUS += us
}
