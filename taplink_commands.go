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

// Connected-phase command protocol. Every master-initiated exchange is:
// START pulse, turnaround, command byte (plus payload for SEND_ID),
// turnaround, one response byte (plus payload for REQUEST_ID with ACK).
// The slave tells a START pulse from a stray presence pulse by width
// alone: >= startPulseMinUS is a command frame.

// masterGuard validates that a master-side operation is legal right now.
func (l *linkCore) masterGuard(op string) error {
	if l.state != LinkConnected {
		return NewLinkError(op, ErrNotConnected)
	}
	if !l.roleKnown {
		return NewLinkError(op, ErrRoleUndecided)
	}
	if !l.isMaster {
		return NewLinkError(op, ErrWrongRole)
	}
	return nil
}

// slaveGuard validates that a slave-side operation is legal right now.
func (l *linkCore) slaveGuard(op string) error {
	if l.state != LinkConnected {
		return NewLinkError(op, ErrNotConnected)
	}
	if !l.roleKnown {
		return NewLinkError(op, ErrRoleUndecided)
	}
	if l.isMaster {
		return NewLinkError(op, ErrWrongRole)
	}
	return nil
}

// commandFailed counts one consecutive failure; at maxCommandFailures the
// master declares the peer gone and drops to Idle.
func (l *linkCore) commandFailed() {
	l.commandFailures++
	if l.commandFailures >= maxCommandFailures {
		Debugln("taplink: command failure budget exhausted, dropping link")
		l.dropLink()
	}
}

// MasterSendCommand sends a bare command and reads one response byte.
// With no peer driving, the response slots sample as 0xFF, which is not a
// valid response and counts as a failure. For CmdCheckReady the ACK/NAK
// outcome is cached in PeerReady.
func (l *linkCore) MasterSendCommand(cmd Command) (Response, error) {
	const op = "masterSendCommand"
	if err := l.masterGuard(op); err != nil {
		return RespNone, err
	}

	l.sendStartPulse()
	l.clock.DelayMicros(cmdTurnaroundUS)
	l.sendByte(byte(cmd))
	l.clock.DelayMicros(cmdTurnaroundUS)

	response := Response(l.receiveByte())
	if response != RespACK && response != RespNAK {
		if cmd == CmdCheckReady {
			l.peerReady = false
		}
		l.commandFailed()
		return RespNone, NewLinkError(op, ErrNoResponse)
	}

	l.commandFailures = 0
	if cmd == CmdCheckReady {
		l.peerReady = response == RespACK
	}
	l.lastCommandTime = l.clock.Micros()
	return response, nil
}

// MasterRequestID asks the slave for its identifier: REQUEST_ID, then
// ACK + 12 payload bytes.
func (l *linkCore) MasterRequestID() (DeviceID, error) {
	const op = "masterRequestID"
	var peer DeviceID

	if err := l.masterGuard(op); err != nil {
		return peer, err
	}

	l.sendStartPulse()
	l.clock.DelayMicros(cmdTurnaroundUS)
	l.sendByte(byte(CmdRequestID))
	l.clock.DelayMicros(cmdTurnaroundUS)

	if Response(l.receiveByte()) != RespACK {
		l.commandFailed()
		return peer, NewLinkError(op, ErrNoResponse)
	}

	l.receiveBytes(peer[:])

	l.commandFailures = 0
	l.lastCommandTime = l.clock.Micros()
	return peer, nil
}

// MasterSendID transmits our identifier: SEND_ID + 12 payload bytes, then
// expects ACK. Success marks the identifier exchange complete; it runs
// after MasterRequestID, so both directions have now succeeded.
func (l *linkCore) MasterSendID() error {
	const op = "masterSendID"
	if err := l.masterGuard(op); err != nil {
		return err
	}

	l.sendStartPulse()
	l.clock.DelayMicros(cmdTurnaroundUS)
	l.sendByte(byte(CmdSendID))
	l.sendBytes(l.selfID[:])
	l.clock.DelayMicros(cmdTurnaroundUS)

	response := Response(l.receiveByte())
	if response != RespACK {
		l.commandFailed()
		if response == RespNAK {
			return NewLinkError(op, ErrNAKReceived)
		}
		return NewLinkError(op, ErrNoResponse)
	}

	l.commandFailures = 0
	l.lastCommandTime = l.clock.Micros()
	l.idExchangeDone = true
	return nil
}

// SlaveHasCommand reports whether the line is LOW, i.e. a possible START
// pulse is in progress. Non-blocking.
func (l *linkCore) SlaveHasCommand() bool {
	if l.state != LinkConnected || !l.roleKnown || l.isMaster {
		return false
	}
	return !l.line.ReadLine()
}

// SlaveReceiveCommand measures the LOW pulse and, when it is wide enough
// to be a START frame, reads the command byte. It returns CmdNone for
// presence-pulse artifacts and on timeout. Any received byte refreshes
// the slave idle timer.
func (l *linkCore) SlaveReceiveCommand() Command {
	if err := l.slaveGuard("slaveReceiveCommand"); err != nil {
		return CmdNone
	}

	start := l.clock.Micros()
	for !l.line.ReadLine() {
		if l.elapsed(start) > cmdTimeoutUS {
			return CmdNone
		}
	}
	pulseWidth := l.elapsed(start)

	if pulseWidth < startPulseMinUS {
		// a 2 ms presence pulse, not a command frame
		return CmdNone
	}

	l.clock.DelayMicros(cmdTurnaroundUS)

	cmd := Command(l.receiveByte())
	l.lastCommandTime = l.clock.Micros()
	return cmd
}

// SlaveSendResponse sends a single response byte after the turnaround gap.
func (l *linkCore) SlaveSendResponse(response Response) {
	if err := l.slaveGuard("slaveSendResponse"); err != nil {
		return
	}
	l.clock.DelayMicros(cmdTurnaroundUS)
	l.sendByte(byte(response))
}

// SlaveHandleRequestID answers REQUEST_ID: ACK followed by our identifier.
func (l *linkCore) SlaveHandleRequestID() {
	if err := l.slaveGuard("slaveHandleRequestID"); err != nil {
		return
	}
	l.clock.DelayMicros(cmdTurnaroundUS)
	l.sendByte(byte(RespACK))
	l.sendBytes(l.selfID[:])
	l.lastCommandTime = l.clock.Micros()
}

// SlaveHandleSendID receives the master's 12-byte identifier and ACKs it.
// An all-ones read means no master drove the line for the whole payload
// (a payload cut off part-way is not detected); that is NAKed so
// the master retries rather than recording garbage. Success marks the
// identifier exchange complete on this side.
func (l *linkCore) SlaveHandleSendID() (DeviceID, error) {
	const op = "slaveHandleSendID"
	var peer DeviceID

	if err := l.slaveGuard(op); err != nil {
		return peer, err
	}

	l.receiveBytes(peer[:])
	if peerAbsent(peer) {
		l.clock.DelayMicros(cmdTurnaroundUS)
		l.sendByte(byte(RespNAK))
		return DeviceID{}, NewLinkError(op, ErrLineTimeout)
	}

	l.clock.DelayMicros(cmdTurnaroundUS)
	l.sendByte(byte(RespACK))
	l.lastCommandTime = l.clock.Micros()
	l.idExchangeDone = true
	return peer, nil
}

// peerAbsent recognizes the sample pattern of a released line: every slot
// HIGH, i.e. 12 bytes of 0xFF. No real identifier is all-ones.
func peerAbsent(id DeviceID) bool {
	for _, b := range id {
		if b != 0xFF {
			return false
		}
	}
	return true
}
