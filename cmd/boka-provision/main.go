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

// boka-provision is the host-side tool for the badge's serial surface.
// It queries identity and state, provisions a signing key, then requests
// a signed state report and verifies the HMAC locally against the
// canonical byte layout.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	bokaka "github.com/BokakaProject/go-bokaka"
	"github.com/BokakaProject/go-bokaka/detection"
	"go.bug.st/serial"
)

var (
	flagPort    = flag.String("port", "auto", "Badge serial port (\"auto\" = detect)")
	flagVersion = flag.Int("version", 1, "Key version to provision (1-255)")
	flagKey     = flag.String("key", "", "64-hex key (empty = random)")
	flagNonce   = flag.String("nonce", "", "Nonce hex for SIGN_STATE (empty = random 8 bytes)")
	flagTimeout = flag.Duration("timeout", 3*time.Second, "Per-response timeout")
	flagVerify  = flag.Bool("verify", true, "Verify the returned HMAC locally")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "boka-provision: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	keyHex := *flagKey
	if keyHex == "" {
		var key [32]byte
		if _, err := rand.Read(key[:]); err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		keyHex = hex.EncodeToString(key[:])
	}
	if *flagVersion < 1 || *flagVersion > 255 {
		return errors.New("key version must be 1-255")
	}

	nonceHex := *flagNonce
	if nonceHex == "" {
		var nonce [8]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return fmt.Errorf("failed to generate nonce: %w", err)
		}
		nonceHex = hex.EncodeToString(nonce[:])
	}

	badge, err := dial(*flagPort)
	if err != nil {
		return err
	}
	defer badge.close()

	// identity
	var hello struct {
		DeviceID string `json:"device_id"`
		FW       string `json:"fw"`
	}
	if err := badge.roundTrip("HELLO", "hello", &hello); err != nil {
		return err
	}
	fmt.Printf("device %s (fw %s)\n", hello.DeviceID, hello.FW)

	// state before provisioning
	var state struct {
		TotalTapCount uint32 `json:"totalTapCount"`
		LinkCount     uint16 `json:"linkCount"`
	}
	if err := badge.roundTrip("GET_STATE", "state", &state); err != nil {
		return err
	}
	fmt.Printf("taps=%d links=%d\n", state.TotalTapCount, state.LinkCount)

	// provision
	var ack struct {
		Cmd        string `json:"cmd"`
		KeyVersion int    `json:"keyVersion"`
	}
	cmd := fmt.Sprintf("PROVISION_KEY %d %s", *flagVersion, keyHex)
	if err := badge.roundTrip(cmd, "ack", &ack); err != nil {
		return err
	}
	fmt.Printf("provisioned key version %d\n", ack.KeyVersion)

	// signed report
	var signed signedState
	if err := badge.roundTrip("SIGN_STATE "+nonceHex, "SIGNED_STATE", &signed); err != nil {
		return err
	}
	fmt.Printf("hmac %s\n", signed.HMAC)

	if !*flagVerify {
		return nil
	}
	return verify(badge, keyHex, nonceHex, &signed)
}

// signedState is the SIGNED_STATE response body.
type signedState struct {
	DeviceID      string `json:"device_id"`
	Nonce         string `json:"nonce"`
	TotalTapCount uint32 `json:"totalTapCount"`
	LinkCount     uint16 `json:"linkCount"`
	KeyVersion    uint8  `json:"keyVersion"`
	HMAC          string `json:"hmac"`
}

// verify rebuilds the canonical signed message from the badge's own
// answers (identity, counters, and the dumped link list) and checks the
// tag.
func verify(badge *client, keyHex, nonceHex string, signed *signedState) error {
	selfID, err := bokaka.ParseDeviceID(signed.DeviceID)
	if err != nil {
		return fmt.Errorf("bad device_id in response: %w", err)
	}

	st := bokaka.PersistedState{
		SelfID:        selfID,
		TotalTapCount: signed.TotalTapCount,
		LinkCount:     signed.LinkCount,
	}

	var links struct {
		Items []struct {
			Peer string `json:"peer"`
		} `json:"items"`
	}
	cmd := fmt.Sprintf("DUMP 0 %d", bokaka.MaxLinks)
	if err := badge.roundTrip(cmd, "links", &links); err != nil {
		return err
	}
	for i, item := range links.Items {
		peer, err := bokaka.ParseDeviceID(item.Peer)
		if err != nil {
			return fmt.Errorf("bad peer id in dump: %w", err)
		}
		st.Links[i] = peer
	}

	rawKey, err := hex.DecodeString(keyHex)
	if err != nil || len(rawKey) != 32 {
		return errors.New("bad key hex")
	}
	var key [32]byte
	copy(key[:], rawKey)

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return errors.New("bad nonce hex")
	}
	tag, err := hex.DecodeString(signed.HMAC)
	if err != nil {
		return errors.New("bad hmac hex in response")
	}

	ok, err := bokaka.VerifyStateSignature(&st, key, nonce, tag)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("HMAC verification FAILED")
	}
	fmt.Println("hmac verified OK")
	return nil
}

// client wraps the badge's line-oriented serial surface.
type client struct {
	port serial.Port
}

func dial(path string) (*client, error) {
	if path == "auto" {
		devices, err := detection.DetectAll(nil)
		if err != nil {
			return nil, fmt.Errorf("port auto-detect: %w", err)
		}
		path = devices[0].Path
		fmt.Printf("using port %s\n", path)
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return &client{port: port}, nil
}

func (c *client) close() {
	_ = c.port.Close()
}

// roundTrip sends one command and decodes the next event of the wanted
// type into out. Other events (stale responses, debug chatter) are
// skipped until the timeout.
func (c *client) roundTrip(cmd, wantEvent string, out any) error {
	if _, err := c.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}

	deadline := time.Now().Add(*flagTimeout)
	for {
		line, err := c.readLine(deadline)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}

		var envelope struct {
			Event string `json:"event"`
			Msg   string `json:"msg"`
		}
		if err := json.Unmarshal([]byte(line), &envelope); err != nil {
			continue // not JSON, skip
		}
		if envelope.Event == "error" {
			return fmt.Errorf("%s: badge error: %s", cmd, envelope.Msg)
		}
		if envelope.Event != wantEvent {
			continue
		}
		if err := json.Unmarshal([]byte(line), out); err != nil {
			return fmt.Errorf("%s: decode response: %w", cmd, err)
		}
		return nil
	}
}

// readLine accumulates bytes until '\n' or the deadline. '\r' is
// tolerated and dropped.
func (c *client) readLine(deadline time.Time) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)

	for time.Now().Before(deadline) {
		n, err := c.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			continue // read timeout slice, poll again
		}
		switch buf[0] {
		case '\r':
		case '\n':
			if sb.Len() > 0 {
				return sb.String(), nil
			}
		default:
			sb.WriteByte(buf[0])
		}
	}
	return "", errors.New("response timeout")
}
