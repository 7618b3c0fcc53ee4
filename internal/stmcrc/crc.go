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

// Package stmcrc computes the CRC-32 used by the persisted badge image.
//
// The image format was defined against the STM32 CRC peripheral, which
// processes 32-bit words MSB-first with the Ethernet polynomial
// 0x04C11DB7, initial value 0xFFFFFFFF, no bit reflection and no final
// XOR. That is NOT the reflected IEEE variant hash/crc32 computes, so the
// word-wise algorithm is implemented here directly. Images written by
// existing devices validate against this implementation byte-for-byte.
package stmcrc

import "encoding/binary"

const poly = 0x04C11DB7

const initValue = 0xFFFFFFFF

// table is indexed by the top byte of the running CRC.
var table [256]uint32

func init() {
	for i := range table {
		crc := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
}

// Sum computes the CRC over data interpreted as a sequence of 32-bit
// little-endian words. len(data) must be a multiple of 4; Sum returns 0
// otherwise, which never matches a stored CRC and therefore fails
// validation the same way the firmware does.
func Sum(data []byte) uint32 {
	if len(data)%4 != 0 {
		return 0
	}

	crc := uint32(initValue)
	for off := 0; off < len(data); off += 4 {
		word := binary.LittleEndian.Uint32(data[off:])
		crc = update(crc, word)
	}
	return crc
}

// update feeds one 32-bit word through the CRC, MSB first, matching the
// hardware peripheral's word granularity.
func update(crc, word uint32) uint32 {
	crc ^= word
	crc = crc<<8 ^ table[crc>>24]
	crc = crc<<8 ^ table[crc>>24]
	crc = crc<<8 ^ table[crc>>24]
	crc = crc<<8 ^ table[crc>>24]
	return crc
}
