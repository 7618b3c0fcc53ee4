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

package bokaka

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// MaxNonceLen is the longest host-provided nonce accepted by SIGN_STATE.
const MaxNonceLen = 32

// SignedMessage builds the canonical byte string covered by the state
// signature:
//
//	selfId (12) ‖ nonce (1..32) ‖ totalTapCount (u32 LE) ‖
//	linkCount (u16 LE) ‖ links[0..linkCount-1] (12 each)
//
// Host verifiers must reproduce this layout byte-for-byte.
func SignedMessage(state *PersistedState, nonce []byte) ([]byte, error) {
	if len(nonce) == 0 || len(nonce) > MaxNonceLen {
		return nil, fmt.Errorf("%w: nonce length %d", ErrInvalidNonce, len(nonce))
	}

	count := state.LinkCount
	if count > MaxLinks {
		count = MaxLinks
	}

	msg := make([]byte, 0, DeviceIDLen+MaxNonceLen+4+2+int(count)*DeviceIDLen)
	msg = append(msg, state.SelfID[:]...)
	msg = append(msg, nonce...)
	msg = binary.LittleEndian.AppendUint32(msg, state.TotalTapCount)
	msg = binary.LittleEndian.AppendUint16(msg, count)
	for i := uint16(0); i < count; i++ {
		msg = append(msg, state.Links[i][:]...)
	}
	return msg, nil
}

// SignState computes the HMAC-SHA256 tag over the canonical message under
// the 32-byte provisioned key. The same state and nonce always yield the
// same tag.
func SignState(state *PersistedState, key [32]byte, nonce []byte) ([32]byte, error) {
	var tag [32]byte

	msg, err := SignedMessage(state, nonce)
	if err != nil {
		return tag, err
	}

	mac := hmac.New(sha256.New, key[:])
	mac.Write(msg)
	copy(tag[:], mac.Sum(nil))
	return tag, nil
}

// VerifyStateSignature checks a tag produced by SignState in constant time.
// Host-side tools use this to validate a badge's SIGNED_STATE response.
func VerifyStateSignature(state *PersistedState, key [32]byte, nonce, tag []byte) (bool, error) {
	want, err := SignState(state, key, nonce)
	if err != nil {
		return false, err
	}
	return hmac.Equal(want[:], tag), nil
}
