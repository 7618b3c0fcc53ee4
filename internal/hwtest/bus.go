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

// Package hwtest provides simulated badge hardware for tests: the shared
// open-drain wire with a virtual microsecond clock, in-memory NVM, and
// recording feedback outputs.
//
// The wire simulator runs each endpoint's engine on its own goroutine
// against a conservative lockstep clock: an endpoint may only advance its
// local time past the other endpoint's while that endpoint is itself
// blocked in a delay. Every ReadLine/Micros call costs one virtual
// microsecond, so spin loops make progress instead of hanging the peer.
// Tests finish in milliseconds of real time regardless of how many
// simulated seconds elapse.
package hwtest

import (
	"math"
	"sync"

	"github.com/BokakaProject/go-bokaka/internal/syncutil"
)

// Bus is the shared open-drain wire. The line reads HIGH iff every
// endpoint has released its driver (wired-AND with pull-up).
type Bus struct {
	mu   syncutil.Mutex
	cond *sync.Cond
	eps  []*Endpoint

	// start offsets the virtual clock, e.g. to place a test just below
	// the uint32 microsecond wrap.
	start uint64
}

// NewBus creates a wire starting at virtual time 0.
func NewBus() *Bus {
	return NewBusAt(0)
}

// NewBusAt creates a wire whose clocks start at the given microsecond
// value. Pass something near math.MaxUint32 to exercise counter wrap.
func NewBusAt(startMicros uint64) *Bus {
	b := &Bus{start: startMicros}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Endpoint attaches a new participant to the wire. At most two endpoints
// make physical sense; the simulator does not enforce it.
func (b *Bus) Endpoint() *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep := &Endpoint{bus: b}
	b.eps = append(b.eps, ep)
	return ep
}

// lineHigh computes the wired-AND level as seen by self. A detached
// endpoint only sees its own driver, and nobody sees its: that is what
// physically separating the wire looks like. Callers hold b.mu.
func (b *Bus) lineHigh(self *Endpoint) bool {
	for _, ep := range b.eps {
		if !ep.driving {
			continue
		}
		if ep == self || (!self.detached && !ep.detached) {
			return false
		}
	}
	return true
}

// bound returns how far endpoint self may advance: the minimum over the
// other endpoints of their current time (while running) or their wait
// target (while blocked). Finished endpoints do not constrain anyone.
// Callers hold b.mu.
func (b *Bus) bound(self *Endpoint) uint64 {
	bound := uint64(math.MaxUint64)
	for _, ep := range b.eps {
		if ep == self || ep.done {
			continue
		}
		t := ep.now
		if ep.waiting {
			t = ep.target
		}
		if t < bound {
			bound = t
		}
	}
	return bound
}

// Endpoint is one side of the wire. It implements the badge's Line and
// Clock contracts, so it plugs straight into an engine or a whole
// application.
//
// All methods must be called from the single goroutine that owns this
// endpoint.
type Endpoint struct {
	bus *Bus

	now     uint64
	target  uint64
	waiting bool
	done    bool

	driving  bool
	detached bool
}

// Detach separates this endpoint from the shared wire (or reattaches it).
// While detached its pull-up still works, so it reads HIGH unless it is
// driving itself.
func (e *Endpoint) Detach(detached bool) {
	b := e.bus
	b.mu.Lock()
	e.detached = detached
	b.cond.Broadcast()
	b.mu.Unlock()
}

// advance moves this endpoint's clock forward by us virtual microseconds,
// yielding to the other endpoint whenever it lags behind.
func (e *Endpoint) advance(us uint64) {
	b := e.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	e.target = e.now + us
	e.waiting = true
	b.cond.Broadcast()

	for e.now < e.target {
		limit := b.bound(e)
		t := e.target
		if limit < t {
			t = limit
		}
		if t > e.now {
			e.now = t
			b.cond.Broadcast()
		}
		if e.now >= e.target {
			break
		}
		b.cond.Wait()
	}

	e.waiting = false
	b.cond.Broadcast()
}

// ReadLine samples the wire. Costs one virtual microsecond.
func (e *Endpoint) ReadLine() bool {
	e.advance(1)

	b := e.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lineHigh(e)
}

// DriveLow asserts or releases this endpoint's open-drain driver.
func (e *Endpoint) DriveLow(on bool) {
	b := e.bus
	b.mu.Lock()
	e.driving = on
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Micros returns the wrapped 32-bit microsecond counter. Costs one
// virtual microsecond.
func (e *Endpoint) Micros() uint32 {
	e.advance(1)
	return uint32(e.abs())
}

// DelayMicros busy-waits in virtual time.
func (e *Endpoint) DelayMicros(us uint32) {
	e.advance(uint64(us))
}

// Millis returns the wrapped millisecond counter.
func (e *Endpoint) Millis() uint32 {
	e.advance(1)
	return uint32(e.abs() / 1000)
}

// Now returns this endpoint's local virtual time in microseconds since
// the bus start, for loop bounds in tests.
func (e *Endpoint) Now() uint64 {
	return e.now
}

// Finish releases the other endpoint from this one's time constraint.
// Call it (usually deferred) when the endpoint's goroutine is done.
func (e *Endpoint) Finish() {
	b := e.bus
	b.mu.Lock()
	e.done = true
	e.driving = false
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (e *Endpoint) abs() uint64 {
	return e.bus.start + e.now
}
