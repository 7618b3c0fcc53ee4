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

// Package bokaka implements the Bokaka tap badge: a device that records
// momentary physical "taps" with peer badges over a single open-drain wire.
//
// When two badges touch, each detects the other's presence pulses,
// negotiates master/slave by racing its 96-bit unique identifier on the
// wired-AND line, exchanges identifiers over a byte-framed command
// protocol, and persists the peer identifier together with a monotonic tap
// counter in non-volatile memory. A host connected over a serial line can
// query state, provision a per-device secret, and request an HMAC-SHA256
// signature over the persisted state.
//
// The package is organized the way the hardware is:
//
//   - Application (application.go) is the cooperative main loop. It ticks
//     the tap link engine, the persistent store, the status LEDs, the
//     buzzer, and the host command processor, once per millisecond.
//   - Store (storage.go) owns the versioned, CRC-protected NVM image and
//     its write-coalescing and partial-save policies.
//   - Link and BatteryLink (taplink*.go) hold the wire protocol engine in
//     its two variants (USB-powered and battery-powered).
//   - Package hostcmd implements the line-oriented serial command surface.
//   - Package hal/gpio binds the abstract Line/NVM/feedback contracts in
//     hal.go to real pins via periph.io.
//
// Basic usage:
//
//	app, err := bokaka.New(bokaka.Hardware{
//	    Line:  line,
//	    Clock: clock,
//	    NVM:   nvm,
//	    UID:   uid,
//	})
//	if err != nil {
//	    return err
//	}
//	app.Run(ctx)
//
// Thread safety: Application is NOT safe for concurrent use. All methods
// must be called from a single goroutine; the command processor hands
// complete lines over from its reader goroutine and mutates state only
// inside Application.Tick.
package bokaka
