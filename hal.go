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

package bokaka

// Hardware abstraction contracts consumed by the core. Implementations
// live in hal/gpio (real pins via periph.io) and internal/hwtest
// (simulated wire and memory for tests).

// Line is the single open-drain tap wire shared with the peer badge.
// At rest the passive pull-up holds it HIGH; it reads LOW only while
// some participant asserts.
type Line interface {
	// ReadLine samples the wire. true = HIGH, false = LOW.
	ReadLine() bool
	// DriveLow asserts the open-drain driver when on is true, and
	// releases to Hi-Z (pull-up) when on is false.
	DriveLow(on bool)
}

// Clock is the monotonic timebase. Micros wraps every ~71 minutes;
// ElapsedMicros handles the wrap.
type Clock interface {
	// Micros returns the microsecond counter.
	Micros() uint32
	// DelayMicros busy-waits for the given number of microseconds,
	// accurate to about ±5%.
	DelayMicros(us uint32)
	// Millis returns the millisecond counter.
	Millis() uint32
}

// NVM is byte-addressable non-volatile memory holding the persisted image.
// Writes may be buffered until Commit.
type NVM interface {
	// Begin prepares the region; size is the number of bytes the store
	// will address, starting at 0.
	Begin(size int) error
	// ReadByte returns the byte at addr.
	ReadByte(addr int) byte
	// WriteByte stages the byte at addr.
	WriteByte(addr int, b byte) error
	// Commit flushes staged writes to the underlying medium.
	Commit() error
}

// LEDPin drives a single status LED.
type LEDPin interface {
	Set(on bool)
}

// TonePlayer drives the feedback buzzer.
type TonePlayer interface {
	// Tone plays freqHz for durMs milliseconds, then stops on its own.
	Tone(freqHz, durMs uint32)
	// Stop silences the buzzer immediately.
	Stop()
}

// ElapsedMicros returns the microseconds elapsed since start on clk,
// treating start as earlier across a counter wrap.
func ElapsedMicros(clk Clock, start uint32) uint32 {
	return clk.Micros() - start
}
