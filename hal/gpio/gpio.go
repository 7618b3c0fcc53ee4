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

// Package gpio binds the badge's hardware contracts to real pins via
// periph.io. It provides the open-drain tap line, status LEDs, the
// buzzer, and a monotonic microsecond clock.
package gpio

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Init loads the periph.io host drivers. Call once before opening pins.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to init periph host: %w", err)
	}
	return nil
}

// Line is the open-drain tap wire on a GPIO pin. Released means input
// with pull-up; asserted means output LOW. That is exactly the open-drain
// idiom on controllers without a dedicated open-drain mode.
type Line struct {
	pin gpio.PinIO
}

// NewLine opens the tap line pin by periph name (e.g. "GPIO17").
func NewLine(name string) (*Line, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("tap line pin %q not found", name)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure tap line %q: %w", name, err)
	}
	return &Line{pin: pin}, nil
}

// ReadLine samples the wire. true = HIGH.
func (l *Line) ReadLine() bool {
	return l.pin.Read() == gpio.High
}

// DriveLow asserts LOW or releases to the pull-up.
func (l *Line) DriveLow(on bool) {
	if on {
		_ = l.pin.Out(gpio.Low)
		return
	}
	_ = l.pin.In(gpio.PullUp, gpio.NoEdge)
}

// Clock is the process-monotonic microsecond timebase.
type Clock struct {
	epoch time.Time
}

// NewClock creates a clock anchored at construction time.
func NewClock() *Clock {
	return &Clock{epoch: time.Now()}
}

// Micros returns the wrapped 32-bit microsecond counter.
func (c *Clock) Micros() uint32 {
	return uint32(time.Since(c.epoch).Microseconds())
}

// DelayMicros waits at least us microseconds. Short waits spin so the
// bit-slot timing stays inside its ±5% budget; longer waits sleep and
// spin the remainder, since a bare sleep can overshoot by a scheduler
// quantum.
func (c *Clock) DelayMicros(us uint32) {
	deadline := time.Now().Add(time.Duration(us) * time.Microsecond)
	if us > 300 {
		time.Sleep(time.Duration(us-200) * time.Microsecond)
	}
	for time.Now().Before(deadline) {
	}
}

// Millis returns the wrapped millisecond counter.
func (c *Clock) Millis() uint32 {
	return uint32(time.Since(c.epoch).Milliseconds())
}

// LED drives one status LED pin.
type LED struct {
	pin gpio.PinIO
}

// NewLED opens a status LED pin by periph name.
func NewLED(name string) (*LED, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("LED pin %q not found", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure LED %q: %w", name, err)
	}
	return &LED{pin: pin}, nil
}

// Set switches the LED.
func (l *LED) Set(on bool) {
	if on {
		_ = l.pin.Out(gpio.High)
		return
	}
	_ = l.pin.Out(gpio.Low)
}

// Buzzer drives a passive piezo with PWM at the requested frequency.
type Buzzer struct {
	pin   gpio.PinIO
	timer *time.Timer
}

// NewBuzzer opens the buzzer pin by periph name.
func NewBuzzer(name string) (*Buzzer, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("buzzer pin %q not found", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure buzzer %q: %w", name, err)
	}
	return &Buzzer{pin: pin}, nil
}

// Tone plays freqHz for durMs, then silences. The PWM duty is 50%; a
// passive piezo wants a square wave at its drive frequency.
func (b *Buzzer) Tone(freqHz, durMs uint32) {
	if b.timer != nil {
		b.timer.Stop()
	}
	_ = b.pin.PWM(gpio.DutyHalf, physic.Frequency(freqHz)*physic.Hertz)
	b.timer = time.AfterFunc(time.Duration(durMs)*time.Millisecond, func() {
		_ = b.pin.Out(gpio.Low)
	})
}

// Stop silences the buzzer immediately.
func (b *Buzzer) Stop() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	_ = b.pin.Out(gpio.Low)
}
