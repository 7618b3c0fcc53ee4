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

//go:build windows

package detection

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// getSerialPorts reads the COM port map from the Windows registry. The
// value names under SERIALCOMM encode the driver (e.g. \Device\USBSER000
// for USB CDC), which is enough metadata to prefer USB ports.
func getSerialPorts() ([]DeviceInfo, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`HARDWARE\DEVICEMAP\SERIALCOMM`, registry.QUERY_VALUE)
	if err != nil {
		return nil, fmt.Errorf("failed to open SERIALCOMM registry key: %w", err)
	}
	defer key.Close()

	values, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, fmt.Errorf("failed to read SERIALCOMM values: %w", err)
	}

	ports := make([]DeviceInfo, 0, len(values))
	for _, value := range values {
		portName, _, err := key.GetStringValue(value)
		if err != nil {
			continue
		}

		info := DeviceInfo{Path: portName, Name: value}
		if strings.Contains(strings.ToUpper(value), "USBSER") {
			info.Metadata = map[string]string{"vid": "usb"}
		}
		ports = append(ports, info)
	}
	return ports, nil
}
