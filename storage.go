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
	"encoding/binary"
	"fmt"

	"github.com/BokakaProject/go-bokaka/internal/stmcrc"
)

// MaxLinks is the number of peer identifier slots in the persisted image.
const MaxLinks = 64

// Persisted image layout, version 1. Little-endian, packed, 4-byte
// aligned so the payload CRC can run word-wise.
const (
	ImageMagic   = 0x424F4B41 // "BOKA"
	ImageVersion = 1

	offMagic      = 0x00
	offVersion    = 0x04
	offLength     = 0x06
	offCRC        = 0x08
	offPayload    = 0x0C
	offSelfID     = 0x0C
	offTapCount   = 0x18
	offLinkCount  = 0x1C
	offKeyVersion = 0x1E
	offLinks      = 0x20
	offSecretKey  = 0x320

	// PayloadLen is the serialized size of PersistedState including the
	// trailing reserved region. Must stay a multiple of 4.
	PayloadLen = 884

	// ImageSize is the full container: 12-byte header plus payload.
	ImageSize = offPayload + PayloadLen
)

// coalesceWindowMs batches dirty-state writes so a burst of taps costs one
// erase cycle instead of one per tap. The underlying pages survive roughly
// 10^4 erase/write cycles.
const coalesceWindowMs = 30_000

// fullSaveChunk is how many bytes a full save writes between yields. Each
// yield is at least 1 ms so serial receive can drain its FIFO during the
// multi-hundred-millisecond program cycle.
const fullSaveChunk = 32

// PersistedState is the in-memory mirror of the stored payload.
type PersistedState struct {
	SelfID        DeviceID
	TotalTapCount uint32
	LinkCount     uint16
	KeyVersion    uint8
	Links         [MaxLinks]DeviceID
	SecretKey     [32]byte
}

// AddResult is the outcome of Store.AddLink.
type AddResult int

const (
	// AddedNew means the peer was not recorded before and now occupies a
	// link slot.
	AddedNew AddResult = iota
	// AlreadyPresent means the peer was already recorded; nothing changed.
	AlreadyPresent
)

// Store owns the persisted badge state: the single in-memory mirror, the
// NVM image, and the write-coalescing policy that keeps erase counts low.
//
// Store is not safe for concurrent use. The orchestrator is the single
// writer; the command processor mutates only between ticks.
type Store struct {
	nvm   NVM
	clock Clock

	state      PersistedState
	dirty      bool
	lastSaveMs uint32

	// partial-save bookkeeping for SaveLinkFast
	lastLinkIndex    int
	linkCountChanged bool
}

// NewStore creates a store over the given NVM region and clock.
func NewStore(nvm NVM, clock Clock) *Store {
	return &Store{nvm: nvm, clock: clock}
}

// Begin loads the image from NVM. An invalid image (bad magic, version,
// length or CRC) is silently replaced by a freshly initialized one carrying
// uid as selfId. A valid image whose selfId was never captured gets uid
// filled in and saved immediately.
func (s *Store) Begin(uid DeviceID) error {
	if err := s.nvm.Begin(ImageSize); err != nil {
		return fmt.Errorf("%w: %v", ErrNVMInit, err)
	}

	if !s.load() {
		s.state = PersistedState{SelfID: uid}
		if err := s.SaveFull(); err != nil {
			return err
		}
	} else if s.state.SelfID.IsZero() {
		s.state.SelfID = uid
		s.markDirty()
		if err := s.SaveFull(); err != nil {
			return err
		}
	}

	s.dirty = false
	s.lastSaveMs = s.clock.Millis()
	return nil
}

// Tick performs the coalesced save: if the mirror is dirty and the window
// has elapsed since the last save, write the full image.
func (s *Store) Tick() {
	if !s.dirty {
		return
	}
	if s.clock.Millis()-s.lastSaveMs >= coalesceWindowMs {
		if err := s.SaveFull(); err != nil {
			// dirty stays set; a later tick retries
			Debugf("coalesced save failed: %v", err)
		}
	}
}

// Dirty reports whether the mirror has unsaved changes.
func (s *Store) Dirty() bool {
	return s.dirty
}

// State returns the in-memory mirror. Callers must treat it as read-only;
// mutations go through the Store methods so dirtiness and the partial-save
// bookkeeping stay correct.
func (s *Store) State() *PersistedState {
	return &s.state
}

// HasLink reports whether peer is among the first LinkCount recorded links.
func (s *Store) HasLink(peer DeviceID) bool {
	count := s.state.LinkCount
	if count > MaxLinks {
		count = MaxLinks
	}
	for i := uint16(0); i < count; i++ {
		if s.state.Links[i] == peer {
			return true
		}
	}
	return false
}

// AddLink records peer if it is not already present. When all MaxLinks
// slots are in use the new link is written to slot LinkCount modulo
// MaxLinks, which is slot 0 because LinkCount stays at MaxLinks; every
// overflow after the first therefore replaces the previous overflow link. The link is only staged in
// memory; call SaveLinkFast to persist it.
func (s *Store) AddLink(peer DeviceID) AddResult {
	if s.HasLink(peer) {
		return AlreadyPresent
	}

	idx := int(s.state.LinkCount)
	if idx >= MaxLinks {
		idx %= MaxLinks
		s.linkCountChanged = false
	} else {
		s.state.LinkCount++
		s.linkCountChanged = true
	}

	s.state.Links[idx] = peer
	s.lastLinkIndex = idx
	s.markDirty()
	return AddedNew
}

// IncrementTapCount bumps the monotonic tap counter by one.
func (s *Store) IncrementTapCount() {
	s.state.TotalTapCount++
	s.markDirty()
}

// ClearAll resets counters, links and the secret key while preserving
// selfId, then saves immediately so a user-issued clear survives power loss.
func (s *Store) ClearAll() error {
	selfID := s.state.SelfID
	s.state = PersistedState{SelfID: selfID}
	s.markDirty()
	return s.SaveFull()
}

// HasSecretKey reports whether a signing key is provisioned. A nonzero
// key version is authoritative; the key bytes themselves are allowed to
// be anything the provisioner chose, including zeros.
func (s *Store) HasSecretKey() bool {
	return s.state.KeyVersion != 0
}

// SecretKey returns the provisioned 32-byte key.
func (s *Store) SecretKey() [32]byte {
	return s.state.SecretKey
}

// KeyVersion returns the provisioned key version; 0 means not provisioned.
func (s *Store) KeyVersion() uint8 {
	return s.state.KeyVersion
}

// SetSecretKey stores the key and saves immediately. Provisioning is rare
// and security-critical, so it is never left sitting in the coalesce
// window.
func (s *Store) SetSecretKey(version uint8, key [32]byte) error {
	s.state.KeyVersion = version
	s.state.SecretKey = key
	s.markDirty()
	return s.SaveFull()
}

// SaveFull stamps the header, recomputes the CRC and writes the whole
// container in chunks, yielding at least 1 ms between chunks so serial
// bytes arriving during the program cycle are not lost. On success the
// dirty flag clears and the coalesce timer restarts; on failure the dirty
// flag stays set so a later Tick retries.
func (s *Store) SaveFull() error {
	img := s.marshalImage()

	for i, b := range img {
		if err := s.nvm.WriteByte(i, b); err != nil {
			return fmt.Errorf("%w: offset %d: %v", ErrNVMWrite, i, err)
		}
		if i%fullSaveChunk == fullSaveChunk-1 {
			s.clock.DelayMicros(1000)
		}
	}
	if err := s.nvm.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrNVMWrite, err)
	}

	s.dirty = false
	s.lastSaveMs = s.clock.Millis()
	return nil
}

// SaveTapCountFast persists only the tap counter and the CRC: 8 bytes
// instead of the whole image. The CRC is recomputed over the full
// in-memory payload and written last, so a power cut mid-save leaves an
// image that fails validation rather than one that lies.
func (s *Store) SaveTapCountFast() {
	payload := s.marshalPayload()
	crc := stmcrc.Sum(payload[:])

	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], s.state.TotalTapCount)
	s.writeBytes(offTapCount, word[:])

	binary.LittleEndian.PutUint32(word[:], crc)
	s.writeBytes(offCRC, word[:])

	_ = s.nvm.Commit()

	s.dirty = false
	s.lastSaveMs = s.clock.Millis()
}

// SaveLinkFast persists the link slot most recently staged by AddLink,
// the link count when it was incremented, and the CRC. CRC goes last,
// same crash rule as SaveTapCountFast.
func (s *Store) SaveLinkFast() {
	payload := s.marshalPayload()
	crc := stmcrc.Sum(payload[:])

	if s.linkCountChanged {
		var count [2]byte
		binary.LittleEndian.PutUint16(count[:], s.state.LinkCount)
		s.writeBytes(offLinkCount, count[:])
	}

	slot := s.state.Links[s.lastLinkIndex]
	s.writeBytes(offLinks+s.lastLinkIndex*DeviceIDLen, slot[:])

	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], crc)
	s.writeBytes(offCRC, word[:])

	_ = s.nvm.Commit()

	s.dirty = false
	s.linkCountChanged = false
	s.lastSaveMs = s.clock.Millis()
}

func (s *Store) markDirty() {
	s.dirty = true
}

// writeBytes stages a small byte range. Fast saves assume the HAL commits
// the image region atomically, so individual write errors are not
// propagated here.
func (s *Store) writeBytes(addr int, data []byte) {
	for i, b := range data {
		_ = s.nvm.WriteByte(addr+i, b)
	}
}

// load reads and validates the image, replacing the mirror on success.
func (s *Store) load() bool {
	var img [ImageSize]byte
	for i := range img {
		img[i] = s.nvm.ReadByte(i)
	}

	if binary.LittleEndian.Uint32(img[offMagic:]) != ImageMagic {
		return false
	}
	if binary.LittleEndian.Uint16(img[offVersion:]) != ImageVersion {
		return false
	}
	if binary.LittleEndian.Uint16(img[offLength:]) != PayloadLen {
		return false
	}
	if binary.LittleEndian.Uint32(img[offCRC:]) != stmcrc.Sum(img[offPayload:]) {
		return false
	}

	s.unmarshalPayload(img[offPayload:])
	return true
}

// marshalPayload serializes the mirror into the canonical payload bytes.
func (s *Store) marshalPayload() [PayloadLen]byte {
	var p [PayloadLen]byte
	base := -offPayload // payload offsets below are image-relative

	copy(p[base+offSelfID:], s.state.SelfID[:])
	binary.LittleEndian.PutUint32(p[base+offTapCount:], s.state.TotalTapCount)
	binary.LittleEndian.PutUint16(p[base+offLinkCount:], s.state.LinkCount)
	p[base+offKeyVersion] = s.state.KeyVersion
	for i := range s.state.Links {
		copy(p[base+offLinks+i*DeviceIDLen:], s.state.Links[i][:])
	}
	copy(p[base+offSecretKey:], s.state.SecretKey[:])
	return p
}

func (s *Store) unmarshalPayload(p []byte) {
	base := -offPayload

	copy(s.state.SelfID[:], p[base+offSelfID:])
	s.state.TotalTapCount = binary.LittleEndian.Uint32(p[base+offTapCount:])
	s.state.LinkCount = binary.LittleEndian.Uint16(p[base+offLinkCount:])
	s.state.KeyVersion = p[base+offKeyVersion]
	for i := range s.state.Links {
		copy(s.state.Links[i][:], p[base+offLinks+i*DeviceIDLen:])
	}
	copy(s.state.SecretKey[:], p[base+offSecretKey:])
}

// marshalImage serializes header plus payload.
func (s *Store) marshalImage() [ImageSize]byte {
	var img [ImageSize]byte
	payload := s.marshalPayload()

	binary.LittleEndian.PutUint32(img[offMagic:], ImageMagic)
	binary.LittleEndian.PutUint16(img[offVersion:], ImageVersion)
	binary.LittleEndian.PutUint16(img[offLength:], PayloadLen)
	binary.LittleEndian.PutUint32(img[offCRC:], stmcrc.Sum(payload[:]))
	copy(img[offPayload:], payload[:])
	return img
}
