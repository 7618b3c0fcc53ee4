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

// Package hostid derives the badge's 96-bit device identifier on hosts
// that have no MCU hardware UID register. The identifier must be stable
// across reboots and distinct between machines; a digest of the machine
// identity gives both.
package hostid

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	bokaka "github.com/BokakaProject/go-bokaka"
)

// machineIDPaths are tried in order for a stable host identity.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// DeviceUID returns this host's stable 96-bit identifier: the first 12
// bytes of SHA-256 over the machine id (hostname as a last resort).
func DeviceUID() (bokaka.DeviceID, error) {
	var id bokaka.DeviceID

	identity, err := machineIdentity()
	if err != nil {
		return id, err
	}

	sum := sha256.Sum256([]byte("bokaka-device-uid:" + identity))
	copy(id[:], sum[:bokaka.DeviceIDLen])
	return id, nil
}

func machineIdentity() (string, error) {
	for _, path := range machineIDPaths {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(raw)); s != "" {
			return s, nil
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("no machine id and no hostname: %w", err)
	}
	return hostname, nil
}
