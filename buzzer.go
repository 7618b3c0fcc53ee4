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

// Buzzer gives audible feedback: a short beep on detection, an ascending
// melody after a completed identifier exchange. The target part is an
// HS-F02A passive piezo, resonant around 2.7 kHz, usable 2-4 kHz.

// Tone frequencies in Hz.
const (
	freqLow     = 2000
	freqMid     = 2700 // resonant
	freqHigh    = 3500
	freqConfirm = 3200
)

// Tone durations in ms.
const (
	durShort  = 50
	durMedium = 100
	durLong   = 200
)

// note is one melody element: a tone followed by a pause.
type note struct {
	freqHz  uint32
	durMs   uint32
	pauseMs uint32
}

// Success melody: ascending three-note arpeggio.
var melodySuccess = []note{
	{freqLow, durShort, 30},
	{freqMid, durShort, 30},
	{freqHigh, durMedium, 0},
}

// Error melody: descending two-note.
var melodyError = []note{
	{freqMid, durMedium, 50},
	{freqLow, durLong, 0},
}

// Buzzer sequences tones and melodies over a TonePlayer. Melodies and
// scheduled tones advance from Tick.
type Buzzer struct {
	player TonePlayer
	clock  Clock

	melody      []note
	melodyIndex int
	melodyOn    bool
	inPause     bool
	noteStartMs uint32

	scheduledPending bool
	scheduledStartMs uint32
	scheduledDelayMs uint32
}

// NewBuzzer creates a buzzer over the given tone player.
func NewBuzzer(player TonePlayer, clock Clock) *Buzzer {
	return &Buzzer{player: player, clock: clock}
}

// PlayDetectionTone plays the short beep for a detected connection.
func (b *Buzzer) PlayDetectionTone() {
	b.player.Tone(freqMid, durShort)
}

// PlaySuccessTone starts the ascending success melody.
func (b *Buzzer) PlaySuccessTone() {
	b.startMelody(melodySuccess)
}

// PlayErrorTone starts the descending error melody.
func (b *Buzzer) PlayErrorTone() {
	b.startMelody(melodyError)
}

// PlayConfirmTone plays a single confirmation beep.
func (b *Buzzer) PlayConfirmTone() {
	b.player.Tone(freqConfirm, durMedium)
}

// ScheduleSuccessTone plays the success melody after delayMs. The
// identifier exchange completes faster than a tap feels, so the tone is
// pushed back to land when the user expects it.
func (b *Buzzer) ScheduleSuccessTone(delayMs uint32) {
	b.scheduledPending = true
	b.scheduledStartMs = b.clock.Millis()
	b.scheduledDelayMs = delayMs
}

// Stop silences everything, including pending scheduled tones.
func (b *Buzzer) Stop() {
	b.player.Stop()
	b.melodyOn = false
	b.melody = nil
	b.scheduledPending = false
}

// Tick advances melodies and fires scheduled tones. Call once per
// main-loop iteration.
func (b *Buzzer) Tick() {
	now := b.clock.Millis()

	if b.scheduledPending && now-b.scheduledStartMs >= b.scheduledDelayMs {
		b.scheduledPending = false
		b.startMelody(melodySuccess)
		return
	}

	if !b.melodyOn {
		return
	}

	current := b.melody[b.melodyIndex]
	if !b.inPause {
		if now-b.noteStartMs >= current.durMs {
			b.inPause = true
			b.noteStartMs = now
		}
		return
	}

	if now-b.noteStartMs < current.pauseMs {
		return
	}

	b.melodyIndex++
	if b.melodyIndex >= len(b.melody) {
		b.melodyOn = false
		b.melody = nil
		return
	}
	b.playNote(b.melody[b.melodyIndex])
}

func (b *Buzzer) startMelody(m []note) {
	b.melody = m
	b.melodyIndex = 0
	b.melodyOn = true
	b.playNote(m[0])
}

func (b *Buzzer) playNote(n note) {
	b.inPause = false
	b.noteStartMs = b.clock.Millis()
	b.player.Tone(n.freqHz, n.durMs)
}
