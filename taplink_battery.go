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

// BatteryLink is the battery-powered tap link engine. Instead of emitting
// presence pulses it sleeps until the HAL reports a line edge, validates
// the connection is stable, then negotiates and runs the same connected
// protocol as the USB variant.
//
// States map onto the shared enum: Sleeping = LinkIdle, Waking =
// LinkDetecting, Disconnected = LinkCooldown.
type BatteryLink struct {
	linkCore

	stateStart uint32
	wakeTime   uint32

	wakePending bool

	// disconnect debounce inside Connected
	wasStable bool

	cooldownStart uint32
}

var _ Engine = (*BatteryLink)(nil)

// cooldownHoldUS keeps the engine in LinkCooldown briefly after a lost
// connection so a bouncing contact does not immediately re-wake it.
const cooldownHoldUS = 500_000

// NewBatteryLink creates a battery-variant engine over the given line and
// clock.
func NewBatteryLink(line Line, clock Clock, selfID DeviceID) *BatteryLink {
	l := &BatteryLink{
		linkCore: linkCore{
			wireOps:   wireOps{line: line, clock: clock},
			selfID:    selfID,
			state:     LinkIdle,
			dropState: LinkCooldown,
		},
	}
	l.rng.seedFrom(clock, selfID)
	return l
}

// WakeUp records a line-edge wake signal delivered by the HAL. The next
// Tick leaves the sleeping state. Call from the same goroutine as Tick;
// interrupt sources should latch the edge and deliver it in-loop.
func (l *BatteryLink) WakeUp() {
	if l.state == LinkIdle {
		l.wakePending = true
	}
}

// Tick advances the sleep/wake state machine. As with the USB variant,
// the tick that enters negotiation blocks until the election finishes.
func (l *BatteryLink) Tick() {
	now := l.clock.Micros()

	switch l.state {
	case LinkIdle:
		// sleeping; nothing to do until the wake edge arrives
		if l.wakePending {
			l.wakePending = false
			l.wakeTime = now
			l.stateStart = now
			l.state = LinkDetecting
		}

	case LinkDetecting:
		// just woken: the connection must hold steady before it counts
		if !l.lineStable() {
			l.state = LinkIdle
			return
		}
		if l.elapsed(l.wakeTime) >= validationTimeUS {
			l.connectionDetected = true
			l.negotiate()
			l.wasStable = true
		}

	case LinkNegotiating:
		// negotiate runs to completion inside the Detecting arm

	case LinkConnected:
		if l.roleKnown && !l.isMaster {
			if l.elapsed(l.lastCommandTime) > slaveIdleTimeoutUS {
				l.dropLink()
				l.cooldownStart = l.clock.Micros()
				return
			}
		}

		// Between exchanges the line should rest HIGH and steady. A
		// line that stays unstable or reads like a floating contact for
		// disconnectDebounceUS means the wire physically separated.
		if l.lineStable() {
			l.wasStable = true
		} else if l.wasStable {
			l.stateStart = now
			l.wasStable = false
		} else if l.elapsed(l.stateStart) >= disconnectDebounceUS {
			l.dropLink()
			l.cooldownStart = l.clock.Micros()
		}

	case LinkCooldown:
		if l.elapsed(l.cooldownStart) >= cooldownHoldUS {
			l.state = LinkIdle
		}
	}
}

// Reset drops the link and returns to sleep.
func (l *BatteryLink) Reset() {
	l.dropLink()
	l.state = LinkIdle
	l.connectionDetected = false
	l.negotiationComplete = false
	l.wakePending = false
	l.wasStable = false
	l.line.DriveLow(false)
}

// lineStable samples the line five times 100 µs apart and reports whether
// every reading agreed.
func (l *BatteryLink) lineStable() bool {
	first := l.line.ReadLine()
	for i := 0; i < 4; i++ {
		l.clock.DelayMicros(100)
		if l.line.ReadLine() != first {
			return false
		}
	}
	return true
}
