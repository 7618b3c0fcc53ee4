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

// Status LED driver. LED 0 shows readiness and handshake progress, LED 1
// shows the negotiated role. Patterns are latched by the setters and
// advanced by Tick, so setting the same pattern every loop is free.

// ReadyPattern is the readiness/handshake indication on LED 0.
type ReadyPattern int

const (
	ReadyBooting ReadyPattern = iota
	ReadyIdle
	ReadyDetecting
	ReadyNegotiating
	ReadyWaitingAck
	ReadyExchanging
	ReadySuccess
	// ReadyPeerReady: the peer answered CHECK_READY - distinct pattern
	ReadyPeerReady
	ReadyError
)

// RolePattern is the role indication on LED 1.
type RolePattern int

const (
	// RoleNone: steady off, not connected.
	RoleNone RolePattern = iota
	// RoleUnknown: short blink while negotiating.
	RoleUnknown
	// RoleMaster: steady on.
	RoleMaster
	// RoleSlave: slow blink.
	RoleSlave
)

// blinkStep is one segment of a blink sequence.
type blinkStep struct {
	durationMs uint16
	levelHigh  bool
}

// ledPattern is either a steady level or a repeating step sequence.
type ledPattern struct {
	steps       []blinkStep
	isSteady    bool
	steadyLevel bool
}

var (
	patternBooting     = &ledPattern{steps: []blinkStep{{120, true}, {380, false}}}
	patternIdle        = &ledPattern{steps: []blinkStep{{120, true}, {880, false}}}
	patternDetecting   = &ledPattern{steps: []blinkStep{{120, true}, {120, false}, {120, true}, {640, false}}}
	patternNegotiating = &ledPattern{steps: []blinkStep{{150, true}, {150, false}}}
	patternWaitingAck  = &ledPattern{steps: []blinkStep{{80, true}, {120, false}, {80, true}, {720, false}}}
	patternExchanging  = &ledPattern{steps: []blinkStep{{220, true}, {220, false}}}
	patternSuccess     = &ledPattern{steps: []blinkStep{{500, true}, {500, false}}}
	patternPeerReady   = &ledPattern{steps: []blinkStep{{300, true}, {100, false}}}
	patternError       = &ledPattern{steps: []blinkStep{{80, true}, {80, false}, {80, true}, {80, false}, {80, true}, {500, false}}}

	patternRoleNone    = &ledPattern{isSteady: true, steadyLevel: false}
	patternRoleUnknown = &ledPattern{steps: []blinkStep{{90, true}, {910, false}}}
	patternRoleMaster  = &ledPattern{isSteady: true, steadyLevel: true}
	// slave is a slow blink, distinct from master's steady on
	patternRoleSlave = &ledPattern{steps: []blinkStep{{500, true}, {1500, false}}}
)

func (p ReadyPattern) pattern() *ledPattern {
	switch p {
	case ReadyBooting:
		return patternBooting
	case ReadyDetecting:
		return patternDetecting
	case ReadyNegotiating:
		return patternNegotiating
	case ReadyWaitingAck:
		return patternWaitingAck
	case ReadyExchanging:
		return patternExchanging
	case ReadySuccess:
		return patternSuccess
	case ReadyPeerReady:
		return patternPeerReady
	case ReadyError:
		return patternError
	case ReadyIdle:
		return patternIdle
	default:
		return patternIdle
	}
}

func (p RolePattern) pattern() *ledPattern {
	switch p {
	case RoleMaster:
		return patternRoleMaster
	case RoleSlave:
		return patternRoleSlave
	case RoleUnknown:
		return patternRoleUnknown
	case RoleNone:
		return patternRoleNone
	default:
		return patternRoleNone
	}
}

// ledState tracks pattern playback for one LED.
type ledState struct {
	pattern      *ledPattern
	stepIndex    int
	lastChangeMs uint32
}

// StatusDisplay drives the two status LEDs.
type StatusDisplay struct {
	clock Clock
	leds  []LEDPin
	state []ledState
}

// NewStatusDisplay creates a display over the given LED pins. leds[0] is
// the readiness LED, leds[1] (when present) the role LED.
func NewStatusDisplay(clock Clock, leds ...LEDPin) *StatusDisplay {
	d := &StatusDisplay{
		clock: clock,
		leds:  leds,
		state: make([]ledState, len(leds)),
	}
	for i := range d.leds {
		d.leds[i].Set(false)
	}
	return d
}

// SetReady latches the readiness pattern on LED 0.
func (d *StatusDisplay) SetReady(p ReadyPattern) {
	d.apply(0, p.pattern())
}

// SetRole latches the role pattern on LED 1.
func (d *StatusDisplay) SetRole(p RolePattern) {
	d.apply(1, p.pattern())
}

// Tick advances blink sequences. Call once per main-loop iteration.
func (d *StatusDisplay) Tick() {
	now := d.clock.Millis()
	for i := range d.state {
		st := &d.state[i]
		if st.pattern == nil || st.pattern.isSteady || len(st.pattern.steps) == 0 {
			continue
		}

		step := st.pattern.steps[st.stepIndex]
		if now-st.lastChangeMs >= uint32(step.durationMs) {
			st.stepIndex = (st.stepIndex + 1) % len(st.pattern.steps)
			d.leds[i].Set(st.pattern.steps[st.stepIndex].levelHigh)
			st.lastChangeMs = now
		}
	}
}

// apply latches a pattern; re-applying the active pattern is a no-op so
// playback phase is preserved.
func (d *StatusDisplay) apply(ledIndex int, p *ledPattern) {
	if ledIndex >= len(d.leds) {
		return
	}

	st := &d.state[ledIndex]
	if st.pattern == p {
		return
	}

	st.pattern = p
	st.stepIndex = 0
	st.lastChangeMs = d.clock.Millis()

	if p.isSteady || len(p.steps) == 0 {
		d.leds[ledIndex].Set(p.steadyLevel)
		return
	}
	d.leds[ledIndex].Set(p.steps[0].levelHigh)
}
