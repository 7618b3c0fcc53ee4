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
	"fmt"
	"testing"

	"github.com/BokakaProject/go-bokaka/internal/hwtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleLine is a disconnected wire: always HIGH, drives go nowhere.
type idleLine struct{}

func (idleLine) ReadLine() bool { return true }
func (idleLine) DriveLow(bool)  {}

// fakeEngine scripts the engine side of the orchestrator contract and
// records every command-layer call.
type fakeEngine struct {
	selfID    DeviceID
	state     LinkState
	hasRole   bool
	master    bool
	peerReady bool
	idDone    bool

	connDetected bool
	negComplete  bool

	peer     DeviceID
	inbound  []Command
	requests []string

	failRequestID bool
}

func (f *fakeEngine) Tick()                {}
func (f *fakeEngine) Reset()               {}
func (f *fakeEngine) State() LinkState     { return f.state }
func (f *fakeEngine) HasRole() bool        { return f.hasRole }
func (f *fakeEngine) IsMaster() bool       { return f.hasRole && f.master }
func (f *fakeEngine) SelfID() DeviceID     { return f.selfID }
func (f *fakeEngine) PeerReady() bool      { return f.peerReady }
func (f *fakeEngine) IDExchangeDone() bool { return f.idDone }

func (f *fakeEngine) ConnectionDetected() bool {
	v := f.connDetected
	f.connDetected = false
	return v
}

func (f *fakeEngine) NegotiationComplete() bool {
	v := f.negComplete
	f.negComplete = false
	return v
}

func (f *fakeEngine) MasterSendCommand(cmd Command) (Response, error) {
	f.requests = append(f.requests, fmt.Sprintf("cmd:%02X", byte(cmd)))
	if cmd == CmdCheckReady {
		f.peerReady = true
	}
	return RespACK, nil
}

func (f *fakeEngine) MasterRequestID() (DeviceID, error) {
	f.requests = append(f.requests, "requestID")
	if f.failRequestID {
		return DeviceID{}, NewLinkError("masterRequestID", ErrNoResponse)
	}
	return f.peer, nil
}

func (f *fakeEngine) MasterSendID() error {
	f.requests = append(f.requests, "sendID")
	f.idDone = true
	return nil
}

func (f *fakeEngine) SlaveHasCommand() bool { return len(f.inbound) > 0 }

func (f *fakeEngine) SlaveReceiveCommand() Command {
	cmd := f.inbound[0]
	f.inbound = f.inbound[1:]
	return cmd
}

func (f *fakeEngine) SlaveSendResponse(r Response) {
	f.requests = append(f.requests, fmt.Sprintf("resp:%02X", byte(r)))
}

func (f *fakeEngine) SlaveHandleRequestID() {
	f.requests = append(f.requests, "handleRequestID")
}

func (f *fakeEngine) SlaveHandleSendID() (DeviceID, error) {
	f.requests = append(f.requests, "handleSendID")
	f.idDone = true
	return f.peer, nil
}

func newFakeApp(t *testing.T, fe *fakeEngine) (*Application, *hwtest.FakeClock, *hwtest.RecordingTone, *hwtest.MemNVM) {
	t.Helper()

	clock := hwtest.NewFakeClock(0)
	nvm := hwtest.NewMemNVM()
	tone := &hwtest.RecordingTone{}

	app, err := New(Hardware{
		Line:  idleLine{},
		Clock: clock,
		NVM:   nvm,
		UID:   fe.selfID,
		Tone:  tone,
	}, WithEngine(fe))
	require.NoError(t, err)
	require.NoError(t, app.Begin())
	return app, clock, tone, nvm
}

func TestOrchestratorDetectionAndTapEvents(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{selfID: mustID(t, idBigHex), state: LinkIdle}
	app, clock, tone, nvm := newFakeApp(t, fe)

	// detection event plays the short cue
	fe.connDetected = true
	app.Tick()
	require.Len(t, tone.Tones, 1)
	assert.Equal(t, uint32(2700), tone.Tones[0].FreqHz)

	// negotiation completion counts the tap and fast-saves it
	nvm.ResetCounters()
	fe.negComplete = true
	clock.AdvanceMillis(5)
	app.Tick()
	assert.Equal(t, uint32(1), app.Store().State().TotalTapCount)
	assert.Equal(t, 8, nvm.WriteCount(), "tap count fast save is 8 bytes")
	assert.False(t, app.Store().Dirty())
}

func TestOrchestratorMasterCommandPolicy(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{
		selfID: mustID(t, idBigHex),
		peer:   mustID(t, idSmallHex),
		state:  LinkConnected, hasRole: true, master: true,
	}
	app, clock, _, _ := newFakeApp(t, fe)

	// throttled: nothing within the command interval
	app.Tick()
	assert.Empty(t, fe.requests)

	// first interval: readiness probe
	clock.AdvanceMillis(600)
	app.Tick()
	require.Equal(t, []string{"cmd:01"}, fe.requests)

	// probe again inside the window does not happen
	clock.AdvanceMillis(100)
	app.Tick()
	require.Len(t, fe.requests, 1)

	// next interval: peer is ready, run both directions of the exchange
	clock.AdvanceMillis(500)
	app.Tick()
	assert.Equal(t, []string{"cmd:01", "requestID", "sendID"}, fe.requests)
	assert.Equal(t, uint16(1), app.Store().State().LinkCount)
	assert.Equal(t, fe.peer, app.Store().State().Links[0])

	// after the exchange: keep-alives
	clock.AdvanceMillis(500)
	app.Tick()
	assert.Equal(t, "cmd:01", fe.requests[len(fe.requests)-1])
}

func TestOrchestratorMasterRequestFailureDoesNotRecord(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{
		selfID: mustID(t, idBigHex),
		peer:   mustID(t, idSmallHex),
		state:  LinkConnected, hasRole: true, master: true,
		peerReady: true, failRequestID: true,
	}
	app, clock, tone, _ := newFakeApp(t, fe)

	clock.AdvanceMillis(600)
	app.Tick()

	assert.Equal(t, []string{"requestID"}, fe.requests)
	assert.Zero(t, app.Store().State().LinkCount)
	assert.Empty(t, tone.Tones, "no success cue for a failed exchange")
}

func TestOrchestratorSlaveCommandPolicy(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{
		selfID: mustID(t, idSmallHex),
		peer:   mustID(t, idBigHex),
		state:  LinkConnected, hasRole: true, master: false,
		inbound: []Command{CmdCheckReady, CmdRequestID, CmdNone, Command(0x7F), CmdSendID},
	}
	app, clock, tone, _ := newFakeApp(t, fe)

	app.Tick() // CHECK_READY -> ACK
	assert.Equal(t, []string{"resp:06"}, fe.requests)

	app.Tick() // REQUEST_ID
	assert.Equal(t, "handleRequestID", fe.requests[len(fe.requests)-1])

	app.Tick() // stray presence pulse: no call
	assert.Len(t, fe.requests, 2)

	app.Tick() // unknown command -> NAK
	assert.Equal(t, "resp:15", fe.requests[len(fe.requests)-1])

	app.Tick() // SEND_ID: record the link, schedule the success cue
	assert.Equal(t, "handleSendID", fe.requests[len(fe.requests)-1])
	assert.Equal(t, uint16(1), app.Store().State().LinkCount)
	assert.Equal(t, fe.peer, app.Store().State().Links[0])

	// the scheduled melody starts after its delay
	clock.AdvanceMillis(200)
	app.Tick()
	require.NotEmpty(t, tone.Tones)
	assert.Equal(t, uint32(2000), tone.Tones[0].FreqHz, "success melody starts on the low note")
}

func TestOrchestratorStoreCoalesceRuns(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{selfID: mustID(t, idBigHex), state: LinkIdle}
	app, clock, _, nvm := newFakeApp(t, fe)

	app.Store().IncrementTapCount()
	nvm.ResetCounters()

	app.Tick()
	assert.Zero(t, nvm.CommitCount())

	clock.AdvanceMillis(31_000)
	app.Tick()
	assert.Equal(t, 1, nvm.CommitCount(), "tick flushes the coalesced write")
}

// badgeHarness is one full application on the simulated wire.
type badgeHarness struct {
	ep   *hwtest.Endpoint
	nvm  *hwtest.MemNVM
	tone *hwtest.RecordingTone
	app  *Application
}

// run builds the application inside the endpoint's goroutine (every
// clock access must happen there) and ticks it until the deadline.
func (b *badgeHarness) run(t *testing.T, uid DeviceID, limitUS uint64) {
	t.Helper()
	defer b.ep.Finish()

	app, err := New(Hardware{
		Line:  b.ep,
		Clock: b.ep,
		NVM:   b.nvm,
		UID:   uid,
		Tone:  b.tone,
	})
	// assert, not require: this runs on the harness goroutine and must
	// not Goexit past the completion signal
	if !assert.NoError(t, err) {
		return
	}
	if !assert.NoError(t, app.Begin()) {
		return
	}
	b.app = app

	for b.ep.Now() < limitUS {
		app.Tick()
		b.ep.DelayMicros(300)
	}
}

func newBadgeHarness(bus *hwtest.Bus) *badgeHarness {
	return &badgeHarness{
		ep:   bus.Endpoint(),
		nvm:  hwtest.NewMemNVM(),
		tone: &hwtest.RecordingTone{},
	}
}

// fingerTap drives the wire LOW for 3 ms from the finger endpoint. Both badges
// see the release in the same tick window and enter negotiation aligned.
func fingerTap(f *hwtest.Endpoint) {
	f.DriveLow(true)
	f.DelayMicros(3000)
	f.DriveLow(false)
}

func fingerSleepUntil(f *hwtest.Endpoint, untilUS uint64) {
	for f.Now() < untilUS {
		f.DelayMicros(5000)
	}
}

// TestTapEndToEnd runs two complete badges through a physical tap on the
// simulated wire: detection, negotiation, identifier exchange, and
// persistence on both sides.
func TestTapEndToEnd(t *testing.T) {
	const limit = 4_000_000 // 4 s of simulated time

	bus := hwtest.NewBus()
	a := newBadgeHarness(bus)
	b := newBadgeHarness(bus)
	finger := bus.Endpoint()

	uidA := mustID(t, idBigHex)
	uidB := mustID(t, idSmallHex)

	done := make(chan struct{}, 3)

	go func() { a.run(t, uidA, limit); done <- struct{}{} }()
	go func() { b.run(t, uidB, limit); done <- struct{}{} }()
	go func() {
		defer func() { done <- struct{}{} }()
		defer finger.Finish()

		// tap at 40 ms, before the first presence pulses fire at 50 ms
		fingerSleepUntil(finger, 40_000)
		fingerTap(finger)
		fingerSleepUntil(finger, limit)
	}()

	for i := 0; i < 3; i++ {
		<-done
	}

	// the larger identifier is master
	require.NotNil(t, a.app)
	require.NotNil(t, b.app)
	assert.True(t, a.app.Link().IsMaster())
	assert.True(t, b.app.Link().HasRole())
	assert.False(t, b.app.Link().IsMaster())

	// both sides counted the tap and recorded the peer
	stA := a.app.Store().State()
	stB := b.app.Store().State()
	assert.Equal(t, uint32(1), stA.TotalTapCount)
	assert.Equal(t, uint32(1), stB.TotalTapCount)
	require.Equal(t, uint16(1), stA.LinkCount)
	require.Equal(t, uint16(1), stB.LinkCount)
	assert.Equal(t, uidB, stA.Links[0])
	assert.Equal(t, uidA, stB.Links[0])

	// both got audible feedback: the detection beep plus the success
	// melody
	assert.GreaterOrEqual(t, len(a.tone.Tones), 2)
	assert.GreaterOrEqual(t, len(b.tone.Tones), 2)

	// the exchange is idempotent at rest: both images reload cleanly
	reload := NewStore(a.nvm, hwtest.NewFakeClock(0))
	require.NoError(t, reload.Begin(DeviceID{}))
	assert.Equal(t, uint32(1), reload.State().TotalTapCount)
	assert.Equal(t, uidB, reload.State().Links[0])
}

// TestRepeatedTapSamePeer separates the badges after the first exchange,
// lets both sides time out back to idle, and taps again. The second tap
// counts, but the link stays deduplicated.
func TestRepeatedTapSamePeer(t *testing.T) {
	const limit = 11_000_000 // 11 s of simulated time

	bus := hwtest.NewBus()
	a := newBadgeHarness(bus)
	b := newBadgeHarness(bus)
	finger := bus.Endpoint()

	uidA := mustID(t, idBigHex)
	uidB := mustID(t, idSmallHex)

	done := make(chan struct{}, 3)

	go func() { a.run(t, uidA, limit); done <- struct{}{} }()
	go func() { b.run(t, uidB, limit); done <- struct{}{} }()
	go func() {
		defer func() { done <- struct{}{} }()
		defer finger.Finish()

		// first tap
		fingerSleepUntil(finger, 40_000)
		fingerTap(finger)

		// separate the wire after the exchange settles (the identifier
		// exchange alone takes ~1.6 s of wire time); the master then
		// runs out of failures, the slave runs out of patience
		fingerSleepUntil(finger, 3_600_000)
		a.ep.Detach(true)

		// reattach at the instant of the second tap so organic presence
		// pulses cannot start a skewed negotiation first
		fingerSleepUntil(finger, 6_500_000)
		finger.DriveLow(true)
		a.ep.Detach(false)
		finger.DelayMicros(3000)
		finger.DriveLow(false)

		fingerSleepUntil(finger, limit)
	}()

	for i := 0; i < 3; i++ {
		<-done
	}

	stA := a.app.Store().State()
	stB := b.app.Store().State()

	assert.Equal(t, uint32(2), stA.TotalTapCount, "both taps count")
	assert.Equal(t, uint32(2), stB.TotalTapCount)
	assert.Equal(t, uint16(1), stA.LinkCount, "repeat peer is not re-recorded")
	assert.Equal(t, uint16(1), stB.LinkCount)
	assert.Equal(t, uidB, stA.Links[0])
	assert.Equal(t, uidA, stB.Links[0])
}
