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

// Link is the USB-powered tap link engine: continuous monitoring with
// periodic presence pulses. Idle → Detecting → Negotiating → Connected,
// back to Idle on disconnect.
//
// Link is not safe for concurrent use; the orchestrator owns it.
type Link struct {
	linkCore

	stateStart uint32

	lastLineState  bool
	lastLineChange uint32

	// presence pulse bookkeeping
	lastPulseTime uint32
	pulsing       bool
	pulseStart    uint32
}

var _ Engine = (*Link)(nil)

// NewLink creates a USB-variant engine over the given line and clock.
// selfID is the identifier raced during negotiation and exchanged once
// connected.
func NewLink(line Line, clock Clock, selfID DeviceID) *Link {
	l := &Link{
		linkCore: linkCore{
			wireOps:   wireOps{line: line, clock: clock},
			selfID:    selfID,
			state:     LinkIdle,
			dropState: LinkIdle,
		},
	}
	l.rng.seedFrom(clock, selfID)

	l.lastLineState = line.ReadLine()
	now := clock.Micros()
	l.lastLineChange = now
	l.lastPulseTime = now
	return l
}

// Tick advances detection, negotiation and the slave idle timer. In
// LinkIdle and LinkDetecting it returns quickly; the tick that enters
// LinkNegotiating blocks for the duration of the sync handshake and the
// bit race (a few hundred milliseconds).
func (l *Link) Tick() {
	now := l.clock.Micros()

	// finish an in-flight presence pulse; while pulsing we are driving
	// the line ourselves and cannot detect
	if l.pulsing {
		if l.elapsed(l.pulseStart) >= presencePulseUS {
			l.line.DriveLow(false)
			l.pulsing = false
			l.lastPulseTime = now
		}
		return
	}

	lineState := l.line.ReadLine()
	if lineState != l.lastLineState {
		l.lastLineChange = now
		l.lastLineState = lineState
	}

	switch l.state {
	case LinkIdle:
		if !lineState {
			// line went LOW: a peer's presence pulse
			l.state = LinkDetecting
			l.stateStart = now
		} else if l.elapsed(l.lastPulseTime) >= pulseIntervalUS {
			l.sendPresencePulse()
		}

	case LinkDetecting:
		if lineState {
			// returned HIGH before the debounce window: a completed
			// peer pulse, which is exactly what a peer looks like
			l.connectionDetected = true
			l.negotiate()
			l.lastPulseTime = l.clock.Micros()
		} else if l.elapsed(l.stateStart) >= debounceTimeUS {
			// still LOW after the debounce window: peer is holding
			l.connectionDetected = true
			l.negotiate()
			l.lastPulseTime = l.clock.Micros()
		}

	case LinkNegotiating:
		// negotiate runs the whole election before returning, so this
		// arm is never reached; kept for state completeness

	case LinkConnected:
		// presence pulses stop here; liveness is the command protocol.
		// The master drops after repeated command failures (counted in
		// the command path); the slave drops when the master goes quiet.
		if l.roleKnown && !l.isMaster {
			if l.elapsed(l.lastCommandTime) > slaveIdleTimeoutUS {
				l.dropLink()
				l.lastPulseTime = l.clock.Micros()
			}
		}

	case LinkCooldown:
		// not used by the USB variant
	}
}

// Reset drops the link and reinitializes every piece of ephemeral state.
func (l *Link) Reset() {
	l.dropLink()
	l.connectionDetected = false
	l.negotiationComplete = false
	l.pulsing = false
	l.lastPulseTime = l.clock.Micros()
	l.line.DriveLow(false)
}

// sendPresencePulse asserts the line LOW; Tick releases it after
// presencePulseUS.
func (l *Link) sendPresencePulse() {
	l.line.DriveLow(true)
	l.pulsing = true
	l.pulseStart = l.clock.Micros()
}
