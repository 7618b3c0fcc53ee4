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

//go:build darwin

package detection

import (
	"fmt"
	"path/filepath"
)

// getSerialPorts lists callout devices; cu.* nodes do not block on
// carrier detect the way tty.* nodes do.
func getSerialPorts() ([]DeviceInfo, error) {
	matches, err := filepath.Glob("/dev/cu.*")
	if err != nil {
		return nil, fmt.Errorf("failed to glob /dev/cu.*: %w", err)
	}

	ports := make([]DeviceInfo, 0, len(matches))
	for _, path := range matches {
		ports = append(ports, DeviceInfo{Path: path})
	}
	return ports, nil
}
