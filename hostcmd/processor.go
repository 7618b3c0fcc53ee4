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

// Package hostcmd implements the badge's line-oriented serial command
// surface.
//
// Commands are ASCII lines terminated by '\n' ('\r' is tolerated and
// ignored), case-insensitive, with whitespace-separated arguments.
// Every response is a single-line JSON object.
//
//	HELLO
//	GET_STATE
//	CLEAR
//	DUMP <offset> <count>
//	PROVISION_KEY <version> <64 hex>
//	SIGN_STATE <nonceHex>
//
// A reader goroutine turns the stream into complete lines; Poll drains
// them and runs the handlers, so state only mutates between application
// ticks.
package hostcmd

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	bokaka "github.com/BokakaProject/go-bokaka"
)

// maxLineLen bounds a command line; longer lines are discarded whole.
const maxLineLen = 256

// dumpDefaultCount is how many links DUMP returns when no count is given.
const dumpDefaultCount = 10

// Processor parses command lines and answers with JSON events.
//
// Poll must be called from the application loop's goroutine; the handlers
// mutate the store and rely on the loop's single-writer discipline.
type Processor struct {
	w     io.Writer
	store *bokaka.Store
	lines chan string
}

// New creates a processor over rw and starts its reader goroutine. The
// goroutine exits when the reader returns an error or EOF.
func New(rw io.ReadWriter, store *bokaka.Store) *Processor {
	p := &Processor{
		w:     rw,
		store: store,
		lines: make(chan string, 8),
	}
	go p.readLines(rw)
	return p
}

// Poll handles every complete line received since the last call.
func (p *Processor) Poll() {
	for {
		select {
		case line := <-p.lines:
			p.handleLine(line)
		default:
			return
		}
	}
}

// readLines accumulates bytes into lines, tolerating '\r' and dropping
// oversized lines the way the firmware's fixed buffer did.
func (p *Processor) readLines(r io.Reader) {
	br := bufio.NewReader(r)
	buf := make([]byte, 0, maxLineLen)
	overflow := false

	for {
		c, err := br.ReadByte()
		if err != nil {
			return
		}

		switch c {
		case '\r':
			// tolerated, ignored
		case '\n':
			if !overflow && len(buf) > 0 {
				p.lines <- string(buf)
			}
			buf = buf[:0]
			overflow = false
		default:
			if len(buf) >= maxLineLen-1 {
				// too long - discard this line
				buf = buf[:0]
				overflow = true
				continue
			}
			if !overflow {
				buf = append(buf, c)
			}
		}
	}
}

func (p *Processor) handleLine(line string) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return
	}

	cmd := strings.ToUpper(tokens[0])
	args := tokens[1:]

	switch cmd {
	case "HELLO":
		p.cmdHello()
	case "GET_STATE":
		p.cmdGetState()
	case "CLEAR":
		p.cmdClear()
	case "DUMP":
		p.cmdDump(args)
	case "PROVISION_KEY":
		p.cmdProvisionKey(args)
	case "SIGN_STATE":
		p.cmdSignState(args)
	default:
		p.emitError("unknown command: " + cmd)
	}
}

// emit writes v as one JSON line. Write failures are not recoverable from
// here; the host simply sees a dropped response.
func (p *Processor) emit(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		bokaka.Debugf("hostcmd: marshal: %v", err)
		return
	}
	_, _ = fmt.Fprintf(p.w, "%s\n", data)
}

type errorEvent struct {
	Event string `json:"event"`
	Msg   string `json:"msg"`
}

func (p *Processor) emitError(msg string) {
	p.emit(errorEvent{Event: "error", Msg: msg})
}

type helloEvent struct {
	Event    string `json:"event"`
	DeviceID string `json:"device_id"`
	FW       string `json:"fw"`
	Build    string `json:"build"`
	Hash     string `json:"hash"`
}

func (p *Processor) cmdHello() {
	p.emit(helloEvent{
		Event:    "hello",
		DeviceID: p.store.State().SelfID.Hex(),
		FW:       bokaka.Version,
		Build:    bokaka.BuildDate,
		Hash:     bokaka.BuildHash,
	})
}

type stateEvent struct {
	Event         string `json:"event"`
	TotalTapCount uint32 `json:"totalTapCount"`
	LinkCount     uint16 `json:"linkCount"`
}

func (p *Processor) cmdGetState() {
	st := p.store.State()
	p.emit(stateEvent{
		Event:         "state",
		TotalTapCount: st.TotalTapCount,
		LinkCount:     st.LinkCount,
	})
}

type ackEvent struct {
	Event string `json:"event"`
	Cmd   string `json:"cmd"`
}

// cmdClear acknowledges first: the erase that follows blocks for long
// enough that a host waiting on the ack would time out.
func (p *Processor) cmdClear() {
	p.emit(ackEvent{Event: "ack", Cmd: "CLEAR"})

	if err := p.store.ClearAll(); err != nil {
		bokaka.Debugf("hostcmd: clear: %v", err)
	}
}

type linkItem struct {
	Peer string `json:"peer"`
}

type linksEvent struct {
	Event  string     `json:"event"`
	Offset int        `json:"offset"`
	Count  int        `json:"count"`
	Items  []linkItem `json:"items"`
}

type linksEmptyEvent struct {
	Event string     `json:"event"`
	Items []linkItem `json:"items"`
}

func (p *Processor) cmdDump(args []string) {
	offset := 0
	count := dumpDefaultCount
	if len(args) >= 1 {
		if v, err := strconv.Atoi(args[0]); err == nil {
			offset = v
		}
	}
	if len(args) >= 2 {
		if v, err := strconv.Atoi(args[1]); err == nil {
			count = v
		}
	}
	if offset < 0 {
		offset = 0
	}
	if count < 0 {
		count = 0
	}

	if offset >= bokaka.MaxLinks {
		p.emit(linksEmptyEvent{Event: "links", Items: []linkItem{}})
		return
	}

	st := p.store.State()
	available := int(st.LinkCount)
	if available > bokaka.MaxLinks {
		available = bokaka.MaxLinks
	}

	end := offset + count
	if end > available {
		end = available
	}

	items := make([]linkItem, 0, max(end-offset, 0))
	for i := offset; i < end; i++ {
		items = append(items, linkItem{Peer: st.Links[i].Hex()})
	}

	p.emit(linksEvent{
		Event:  "links",
		Offset: offset,
		Count:  len(items),
		Items:  items,
	})
}

type provisionAckEvent struct {
	Event      string `json:"event"`
	Cmd        string `json:"cmd"`
	KeyVersion int    `json:"keyVersion"`
}

// cmdProvisionKey stores a new signing key. Like CLEAR, the ack goes out
// before the blocking save.
func (p *Processor) cmdProvisionKey(args []string) {
	if len(args) < 2 {
		p.emitError("PROVISION_KEY args")
		return
	}

	version, err := strconv.Atoi(args[0])
	if err != nil || version <= 0 || version > 255 {
		p.emitError("invalid keyVersion")
		return
	}

	raw, err := hex.DecodeString(args[1])
	if err != nil || len(raw) != 32 {
		p.emitError("invalid key hex")
		return
	}
	var key [32]byte
	copy(key[:], raw)

	p.emit(provisionAckEvent{Event: "ack", Cmd: "PROVISION_KEY", KeyVersion: version})

	if err := p.store.SetSecretKey(uint8(version), key); err != nil {
		bokaka.Debugf("hostcmd: provision: %v", err)
	}
}

type signedStateEvent struct {
	Event         string `json:"event"`
	DeviceID      string `json:"device_id"`
	Nonce         string `json:"nonce"`
	TotalTapCount uint32 `json:"totalTapCount"`
	LinkCount     uint16 `json:"linkCount"`
	KeyVersion    uint8  `json:"keyVersion"`
	HMAC          string `json:"hmac"`
}

func (p *Processor) cmdSignState(args []string) {
	if len(args) < 1 {
		p.emitError("SIGN_STATE args")
		return
	}
	nonceHex := args[0]

	if !p.store.HasSecretKey() {
		p.emitError("no_key")
		return
	}

	if len(nonceHex) == 0 || len(nonceHex)%2 != 0 || len(nonceHex) > bokaka.MaxNonceLen*2 {
		p.emitError("invalid nonce")
		return
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		p.emitError("invalid nonce hex")
		return
	}

	st := p.store.State()
	tag, err := bokaka.SignState(st, p.store.SecretKey(), nonce)
	if err != nil {
		p.emitError("invalid nonce")
		return
	}

	count := st.LinkCount
	if count > bokaka.MaxLinks {
		count = bokaka.MaxLinks
	}

	p.emit(signedStateEvent{
		Event:         "SIGNED_STATE",
		DeviceID:      st.SelfID.Hex(),
		Nonce:         nonceHex,
		TotalTapCount: st.TotalTapCount,
		LinkCount:     count,
		KeyVersion:    p.store.KeyVersion(),
		HMAC:          strings.ToUpper(hex.EncodeToString(tag[:])),
	})
}
