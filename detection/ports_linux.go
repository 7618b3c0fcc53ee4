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

//go:build linux

package detection

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// getSerialPorts scans /sys/class/tty for ports that have a real device
// behind them, collecting USB VID/PID metadata where present.
func getSerialPorts() ([]DeviceInfo, error) {
	const ttyDir = "/sys/class/tty"

	entries, err := os.ReadDir(ttyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ttyDir, err)
	}

	var ports []DeviceInfo
	for _, entry := range entries {
		name := entry.Name()

		// Only entries with a device/ symlink are backed by hardware;
		// the rest are virtual consoles.
		devLink := filepath.Join(ttyDir, name, "device")
		if _, err := os.Stat(devLink); err != nil {
			continue
		}

		info := DeviceInfo{Path: "/dev/" + name}

		if vid, pid, product, ok := usbAttributes(devLink); ok {
			info.Metadata = map[string]string{"vid": vid, "pid": pid}
			info.Name = product
		}

		ports = append(ports, info)
	}
	return ports, nil
}

// usbAttributes walks up the sysfs device chain looking for the USB
// interface's idVendor/idProduct.
func usbAttributes(devLink string) (vid, pid, product string, ok bool) {
	dir, err := filepath.EvalSymlinks(devLink)
	if err != nil {
		return "", "", "", false
	}

	// Walk up a few levels; the USB device directory carries idVendor.
	for range 4 {
		vidRaw, errV := os.ReadFile(filepath.Join(dir, "idVendor"))
		pidRaw, errP := os.ReadFile(filepath.Join(dir, "idProduct"))
		if errV == nil && errP == nil {
			productRaw, _ := os.ReadFile(filepath.Join(dir, "product"))
			return strings.TrimSpace(string(vidRaw)),
				strings.TrimSpace(string(pidRaw)),
				strings.TrimSpace(string(productRaw)),
				true
		}
		dir = filepath.Dir(dir)
	}
	return "", "", "", false
}
