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

package filenvm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshRegionReadsErased(t *testing.T) {
	t.Parallel()

	nvm := New(filepath.Join(t.TempDir(), "image.nvm"))
	require.NoError(t, nvm.Begin(64))

	for _, addr := range []int{0, 31, 63} {
		assert.Equal(t, byte(0xFF), nvm.ReadByte(addr))
	}
	assert.Equal(t, byte(0xFF), nvm.ReadByte(1000), "out of range floats high")
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image.nvm")

	nvm := New(path)
	require.NoError(t, nvm.Begin(16))
	for i := 0; i < 16; i++ {
		require.NoError(t, nvm.WriteByte(i, byte(i*3)))
	}
	require.NoError(t, nvm.Commit())

	other := New(path)
	require.NoError(t, other.Begin(16))
	for i := 0; i < 16; i++ {
		assert.Equal(t, byte(i*3), other.ReadByte(i))
	}
}

func TestUncommittedWritesDoNotPersist(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image.nvm")

	nvm := New(path)
	require.NoError(t, nvm.Begin(8))
	require.NoError(t, nvm.WriteByte(0, 0x42))
	// no Commit

	other := New(path)
	require.NoError(t, other.Begin(8))
	assert.Equal(t, byte(0xFF), other.ReadByte(0))
}

func TestShortExistingFilePadsErased(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image.nvm")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))

	nvm := New(path)
	require.NoError(t, nvm.Begin(8))
	assert.Equal(t, byte(1), nvm.ReadByte(0))
	assert.Equal(t, byte(3), nvm.ReadByte(2))
	assert.Equal(t, byte(0xFF), nvm.ReadByte(3))
}

func TestWriteOutOfRange(t *testing.T) {
	t.Parallel()

	nvm := New(filepath.Join(t.TempDir(), "image.nvm"))
	require.NoError(t, nvm.Begin(8))
	assert.Error(t, nvm.WriteByte(8, 0x00))
	assert.Error(t, nvm.WriteByte(-1, 0x00))
}
