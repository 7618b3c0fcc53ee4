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

// Package detection enumerates serial ports where a badge may be
// connected, so the host tools can auto-pick a port instead of requiring
// an explicit path.
package detection

import (
	"errors"
	"slices"
	"strings"
)

// DeviceInfo describes one candidate serial port.
type DeviceInfo struct {
	// Metadata carries extra attributes, e.g. "vid" and "pid" for USB
	// serial adapters.
	Metadata map[string]string
	// Path is the OS port path ("/dev/ttyACM0", "COM3").
	Path string
	// Name is a human-readable device name when the OS exposes one.
	Name string
}

// String returns a human-readable representation of the device.
func (d DeviceInfo) String() string {
	if d.Name != "" {
		return d.Path + " (" + d.Name + ")"
	}
	return d.Path
}

// Options configures detection.
type Options struct {
	// IgnorePaths lists port paths to skip.
	IgnorePaths []string
	// PreferUSB sorts USB CDC ports (the badge enumerates as one) ahead
	// of built-in UARTs.
	PreferUSB bool
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{PreferUSB: true}
}

// ErrNoPorts means no candidate serial port was found.
var ErrNoPorts = errors.New("no serial ports found")

// DetectAll returns candidate ports, best candidates first.
func DetectAll(opts *Options) ([]DeviceInfo, error) {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}

	ports, err := getSerialPorts()
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceInfo, 0, len(ports))
	for _, port := range ports {
		if slices.Contains(o.IgnorePaths, port.Path) {
			continue
		}
		devices = append(devices, port)
	}

	if o.PreferUSB {
		slices.SortStableFunc(devices, func(a, b DeviceInfo) int {
			ua, ub := isUSBPath(a), isUSBPath(b)
			switch {
			case ua && !ub:
				return -1
			case !ua && ub:
				return 1
			default:
				return 0
			}
		})
	}

	if len(devices) == 0 {
		return nil, ErrNoPorts
	}
	return devices, nil
}

// isUSBPath recognizes USB serial port naming across platforms.
func isUSBPath(d DeviceInfo) bool {
	if d.Metadata["vid"] != "" {
		return true
	}
	p := strings.ToLower(d.Path)
	return strings.Contains(p, "ttyacm") ||
		strings.Contains(p, "ttyusb") ||
		strings.Contains(p, "cu.usb")
}
