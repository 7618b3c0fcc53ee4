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

import (
	"context"
	"fmt"
)

// Orchestrator policy constants.
const (
	// commandIntervalMs throttles the master to one command exchange per
	// interval.
	commandIntervalMs = 500
	// successDisplayMs keeps the success LED pattern up after a tap.
	successDisplayMs = 2000
	// successToneDelayMs pushes the success melody back so it lands when
	// the user expects it; the identifier exchange itself is faster than
	// the tap feels.
	successToneDelayMs = 150
)

// Variant selects which tap link engine the application builds.
type Variant int

const (
	// VariantUSB is the continuously powered engine with presence pulses.
	VariantUSB Variant = iota
	// VariantBattery is the sleep/wake engine for coin-cell builds.
	VariantBattery
)

// CommandLink is the full engine contract the orchestrator drives: the
// detection state machine plus the connected-phase command operations.
// Both engine variants implement it.
type CommandLink interface {
	Engine

	PeerReady() bool
	IDExchangeDone() bool

	MasterSendCommand(Command) (Response, error)
	MasterRequestID() (DeviceID, error)
	MasterSendID() error

	SlaveHasCommand() bool
	SlaveReceiveCommand() Command
	SlaveSendResponse(Response)
	SlaveHandleRequestID()
	SlaveHandleSendID() (DeviceID, error)
}

// Console is the serial command surface the application polls between
// ticks. Implemented by hostcmd.Processor.
type Console interface {
	Poll()
}

// Hardware collects the platform pieces the application composes over.
// Line, Clock, NVM and UID are required; LED and tone outputs are
// optional and default to no-ops.
type Hardware struct {
	Line  Line
	Clock Clock
	NVM   NVM
	// UID is the hardware-unique identifier captured on first boot.
	UID  DeviceID
	LED0 LEDPin
	LED1 LEDPin
	Tone TonePlayer
}

// Application is the badge's cooperative main loop: one thread of
// control, every subsystem polled once per ~1 ms iteration. There is no
// task queue and no preemption; the only blocking happens inside tap link
// bit slots where monopolizing the CPU is the point.
type Application struct {
	clock   Clock
	store   *Store
	link    CommandLink
	display *StatusDisplay
	buzzer  *Buzzer
	console Console

	variant Variant

	connectionDetectedTime uint32
	lastCommandTime        uint32
}

// New composes an application from the given hardware. The persistent
// store is created but not loaded; Begin does that.
func New(hw Hardware, opts ...Option) (*Application, error) {
	if hw.Line == nil || hw.Clock == nil || hw.NVM == nil {
		return nil, fmt.Errorf("%w: line, clock and NVM are required", ErrInvalidParameter)
	}

	led0 := hw.LED0
	if led0 == nil {
		led0 = nopLED{}
	}
	led1 := hw.LED1
	if led1 == nil {
		led1 = nopLED{}
	}
	tone := hw.Tone
	if tone == nil {
		tone = nopTone{}
	}

	app := &Application{
		clock:   hw.Clock,
		store:   NewStore(hw.NVM, hw.Clock),
		display: NewStatusDisplay(hw.Clock, led0, led1),
		buzzer:  NewBuzzer(tone, hw.Clock),
	}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.link == nil {
		switch app.variant {
		case VariantBattery:
			app.link = NewBatteryLink(hw.Line, hw.Clock, hw.UID)
		default:
			app.link = NewLink(hw.Line, hw.Clock, hw.UID)
		}
	}

	app.display.SetReady(ReadyBooting)
	app.display.SetRole(RoleUnknown)
	return app, nil
}

// Begin loads or initializes the persistent store.
func (a *Application) Begin() error {
	return a.store.Begin(a.link.SelfID())
}

// Store returns the persistent store, e.g. to wire up a command processor.
func (a *Application) Store() *Store {
	return a.store
}

// Link returns the tap link engine.
func (a *Application) Link() CommandLink {
	return a.link
}

// Buzzer returns the feedback buzzer.
func (a *Application) Buzzer() *Buzzer {
	return a.buzzer
}

// AttachConsole registers the serial command processor polled between
// ticks.
func (a *Application) AttachConsole(c Console) {
	a.console = c
}

// Run ticks the application until ctx is cancelled. The trailing 1 ms
// delay bounds the loop rate; 2 ms presence pulses cannot slip between
// iterations.
func (a *Application) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		a.Tick()
		a.clock.DelayMicros(1000)
	}
}

// Tick is one main-loop iteration:
//
//  1. poll the serial command surface (state mutations happen here,
//     between link activity, never inside a bit slot)
//  2. advance the tap link engine and consume its one-shot events
//  3. run the role-specific command policy
//  4. advance LEDs and buzzer
//  5. give the store its chance to flush coalesced writes
func (a *Application) Tick() {
	nowMs := a.clock.Millis()

	if a.console != nil {
		a.console.Poll()
	}

	a.link.Tick()

	if a.link.ConnectionDetected() {
		a.buzzer.PlayDetectionTone()
	}

	if a.link.NegotiationComplete() {
		a.onNegotiationComplete(nowMs)
	}

	if a.link.State() == LinkConnected && a.link.HasRole() {
		if a.link.IsMaster() {
			a.handleMasterCommands(nowMs)
		} else {
			a.handleSlaveCommands()
		}
	}

	a.updateStatusDisplay(nowMs)
	a.display.Tick()
	a.buzzer.Tick()

	a.store.Tick()
}

// onNegotiationComplete records the tap. The counter is persisted with
// the fast path immediately: a tap can be very brief and the count must
// survive even if the badges separate before the identifier exchange.
func (a *Application) onNegotiationComplete(nowMs uint32) {
	a.connectionDetectedTime = nowMs
	a.lastCommandTime = nowMs

	a.store.IncrementTapCount()
	a.store.SaveTapCountFast()
}

// handleMasterCommands runs at most one command exchange per
// commandIntervalMs: readiness probes until the peer answers, then the
// two-way identifier exchange, then keep-alives.
func (a *Application) handleMasterCommands(nowMs uint32) {
	if nowMs-a.lastCommandTime < commandIntervalMs {
		return
	}

	switch {
	case !a.link.PeerReady():
		_, _ = a.link.MasterSendCommand(CmdCheckReady)
	case !a.link.IDExchangeDone():
		if peer, err := a.link.MasterRequestID(); err == nil {
			if err := a.link.MasterSendID(); err == nil {
				if a.store.AddLink(peer) == AddedNew {
					a.store.SaveLinkFast()
				}
				a.buzzer.ScheduleSuccessTone(successToneDelayMs)
			}
		}
	default:
		// keep-alive; also how the master notices the peer left
		_, _ = a.link.MasterSendCommand(CmdCheckReady)
	}

	a.lastCommandTime = nowMs
}

// handleSlaveCommands processes at most one inbound command per tick.
func (a *Application) handleSlaveCommands() {
	if !a.link.SlaveHasCommand() {
		return
	}

	switch cmd := a.link.SlaveReceiveCommand(); cmd {
	case CmdCheckReady:
		a.link.SlaveSendResponse(RespACK)

	case CmdRequestID:
		a.link.SlaveHandleRequestID()

	case CmdSendID:
		if peer, err := a.link.SlaveHandleSendID(); err == nil {
			if a.store.AddLink(peer) == AddedNew {
				a.store.SaveLinkFast()
			}
			a.buzzer.ScheduleSuccessTone(successToneDelayMs)
		}

	case CmdNone:
		// was just a presence pulse, ignore

	default:
		a.link.SlaveSendResponse(RespNAK)
	}
}

// updateStatusDisplay maps link state onto the two LEDs. LED 0 prefers
// the peer-ready pattern, then the post-tap success window, then the
// plain state mapping. LED 1 shows the role: master steady on, slave
// slow blink.
func (a *Application) updateStatusDisplay(nowMs uint32) {
	showSuccess := a.connectionDetectedTime != 0 &&
		nowMs-a.connectionDetectedTime < successDisplayMs

	state := a.link.State()

	switch {
	case state == LinkConnected && a.link.IsMaster() && a.link.PeerReady():
		a.display.SetReady(ReadyPeerReady)
	case showSuccess:
		a.display.SetReady(ReadySuccess)
	default:
		a.display.SetReady(readyPatternFor(state))
	}

	switch {
	case a.link.HasRole() && a.link.IsMaster():
		a.display.SetRole(RoleMaster)
	case a.link.HasRole():
		a.display.SetRole(RoleSlave)
	case state == LinkNegotiating:
		a.display.SetRole(RoleUnknown)
	default:
		a.display.SetRole(RoleNone)
	}
}

func readyPatternFor(state LinkState) ReadyPattern {
	switch state {
	case LinkIdle:
		return ReadyIdle
	case LinkDetecting:
		return ReadyDetecting
	case LinkNegotiating:
		return ReadyNegotiating
	case LinkConnected:
		return ReadySuccess
	case LinkCooldown:
		return ReadyError
	default:
		return ReadyIdle
	}
}

// nopLED and nopTone stand in for absent feedback hardware.
type nopLED struct{}

func (nopLED) Set(bool) {}

type nopTone struct{}

func (nopTone) Tone(uint32, uint32) {}
func (nopTone) Stop()               {}
