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

// Package filenvm implements the badge's NVM contract over a plain file,
// for builds where the persisted image lives on a filesystem instead of
// an EEPROM. A region that has never been written reads as 0xFF, like
// erased flash, so the store's first-boot path behaves identically.
package filenvm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// NVM is a file-backed byte-addressable region. Writes stage in memory;
// Commit writes the whole region back and syncs.
type NVM struct {
	path string
	data []byte
}

// New creates a region backed by path. The file is created on the first
// Commit if it does not exist.
func New(path string) *NVM {
	return &NVM{path: path}
}

// Begin sizes the region and loads existing content. A short or missing
// file leaves the remainder reading 0xFF.
func (n *NVM) Begin(size int) error {
	n.data = make([]byte, size)
	for i := range n.data {
		n.data[i] = 0xFF
	}

	existing, err := os.ReadFile(n.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read NVM file %s: %w", n.path, err)
	}
	copy(n.data, existing)
	return nil
}

// ReadByte returns the byte at addr; out-of-range reads float high.
func (n *NVM) ReadByte(addr int) byte {
	if addr < 0 || addr >= len(n.data) {
		return 0xFF
	}
	return n.data[addr]
}

// WriteByte stages one byte.
func (n *NVM) WriteByte(addr int, b byte) error {
	if addr < 0 || addr >= len(n.data) {
		return fmt.Errorf("NVM write out of range: %d", addr)
	}
	n.data[addr] = b
	return nil
}

// Commit persists the staged region atomically: write a temp file, sync,
// rename over the old image.
func (n *NVM) Commit() error {
	tmp := n.path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create NVM temp file: %w", err)
	}
	if _, err := f.Write(n.data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write NVM temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync NVM temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close NVM temp file: %w", err)
	}

	if err := os.Rename(tmp, n.path); err != nil {
		return fmt.Errorf("failed to replace NVM file: %w", err)
	}
	return nil
}
