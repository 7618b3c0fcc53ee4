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

package hostcmd

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	bokaka "github.com/BokakaProject/go-bokaka"
	"github.com/BokakaProject/go-bokaka/internal/hwtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUIDHex = "A1B2C3D4E5F6010203040506"

func newTestStore(t *testing.T) *bokaka.Store {
	t.Helper()

	uid, err := bokaka.ParseDeviceID(testUIDHex)
	require.NoError(t, err)

	store := bokaka.NewStore(hwtest.NewMemNVM(), hwtest.NewFakeClock(0))
	require.NoError(t, store.Begin(uid))
	return store
}

// rwPair joins the scripted input stream with the captured output.
type rwPair struct {
	io.Reader
	io.Writer
}

// runCommands feeds the input to a processor and polls until wantLines
// responses arrived or the deadline passes.
func runCommands(t *testing.T, store *bokaka.Store, input string, wantLines int) []string {
	t.Helper()

	var out bytes.Buffer
	p := New(rwPair{strings.NewReader(input), &out}, store)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p.Poll()
		if len(splitLines(out.String())) >= wantLines {
			break
		}
		time.Sleep(time.Millisecond)
	}

	lines := splitLines(out.String())
	require.Len(t, lines, wantLines, "responses: %q", out.String())
	return lines
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestHelloAndGetStateFreshBoot(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	lines := runCommands(t, store, "HELLO\nGET_STATE\n", 2)

	assert.Equal(t,
		`{"event":"hello","device_id":"A1B2C3D4E5F6010203040506","fw":"1.0.0","build":"dev","hash":"dev"}`,
		lines[0])
	assert.Equal(t,
		`{"event":"state","totalTapCount":0,"linkCount":0}`,
		lines[1])
}

func TestCommandsAreCaseInsensitiveAndTolerateCR(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	lines := runCommands(t, store, "hello\r\nGet_State\r\n", 2)

	assert.Contains(t, lines[0], `"event":"hello"`)
	assert.Contains(t, lines[1], `"event":"state"`)
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	lines := runCommands(t, store, "BOGUS 1 2\n", 1)

	assert.Equal(t,
		`{"event":"error","msg":"unknown command: BOGUS"}`,
		lines[0])
}

func TestClearResetsCountersButKeepsIdentity(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.IncrementTapCount()
	peer, err := bokaka.ParseDeviceID("51B2C3D4E5F6010203040506")
	require.NoError(t, err)
	store.AddLink(peer)

	lines := runCommands(t, store, "CLEAR\nGET_STATE\nHELLO\n", 3)

	assert.Equal(t, `{"event":"ack","cmd":"CLEAR"}`, lines[0])
	assert.Equal(t, `{"event":"state","totalTapCount":0,"linkCount":0}`, lines[1])
	assert.Contains(t, lines[2], testUIDHex, "selfId survives CLEAR")
}

func TestDumpLinks(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	for _, hex := range []string{
		"111111111111111111111111",
		"222222222222222222222222",
		"333333333333333333333333",
	} {
		peer, err := bokaka.ParseDeviceID(hex)
		require.NoError(t, err)
		require.Equal(t, bokaka.AddedNew, store.AddLink(peer))
	}

	lines := runCommands(t, store,
		"DUMP 0 10\nDUMP 1 1\nDUMP 100 5\nDUMP\n", 4)

	assert.Equal(t,
		`{"event":"links","offset":0,"count":3,"items":[`+
			`{"peer":"111111111111111111111111"},`+
			`{"peer":"222222222222222222222222"},`+
			`{"peer":"333333333333333333333333"}]}`,
		lines[0])
	assert.Equal(t,
		`{"event":"links","offset":1,"count":1,"items":[{"peer":"222222222222222222222222"}]}`,
		lines[1])
	assert.Equal(t, `{"event":"links","items":[]}`, lines[2],
		"offset past capacity returns the empty form")
	assert.Equal(t, lines[0], lines[3], "defaults are offset 0, count 10")
}

func TestProvisionKeyValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	zeros := strings.Repeat("0", 64)

	lines := runCommands(t, store,
		"PROVISION_KEY\n"+
			"PROVISION_KEY 0 "+zeros+"\n"+
			"PROVISION_KEY 300 "+zeros+"\n"+
			"PROVISION_KEY 1 deadbeef\n"+
			"PROVISION_KEY 1 "+strings.Repeat("1", 64)+"\n",
		5)

	assert.Equal(t, `{"event":"error","msg":"PROVISION_KEY args"}`, lines[0])
	assert.Equal(t, `{"event":"error","msg":"invalid keyVersion"}`, lines[1])
	assert.Equal(t, `{"event":"error","msg":"invalid keyVersion"}`, lines[2])
	assert.Equal(t, `{"event":"error","msg":"invalid key hex"}`, lines[3])
	assert.Equal(t, `{"event":"ack","cmd":"PROVISION_KEY","keyVersion":1}`, lines[4])

	assert.True(t, store.HasSecretKey())
	assert.Equal(t, uint8(1), store.KeyVersion())
}

func TestSignStateRequiresKey(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	lines := runCommands(t, store, "SIGN_STATE deadbeef\n", 1)

	assert.Equal(t, `{"event":"error","msg":"no_key"}`, lines[0])
}

func TestSignStateNonceValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	var key [32]byte
	key[0] = 1
	require.NoError(t, store.SetSecretKey(1, key))

	lines := runCommands(t, store,
		"SIGN_STATE\n"+
			"SIGN_STATE abc\n"+ // odd length
			"SIGN_STATE "+strings.Repeat("ab", 33)+"\n"+ // too long
			"SIGN_STATE zz\n", // not hex
		4)

	assert.Equal(t, `{"event":"error","msg":"SIGN_STATE args"}`, lines[0])
	assert.Equal(t, `{"event":"error","msg":"invalid nonce"}`, lines[1])
	assert.Equal(t, `{"event":"error","msg":"invalid nonce"}`, lines[2])
	assert.Equal(t, `{"event":"error","msg":"invalid nonce hex"}`, lines[3])
}

// TestSignStateScenario is the serial-surface half of the signing
// known-answer vector: two taps, one recorded peer, all-zero key, nonce
// deadbeef.
func TestSignStateScenario(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.IncrementTapCount()
	store.IncrementTapCount()
	peer, err := bokaka.ParseDeviceID("51B2C3D4E5F6010203040506")
	require.NoError(t, err)
	require.Equal(t, bokaka.AddedNew, store.AddLink(peer))

	zeros := strings.Repeat("0", 64)
	lines := runCommands(t, store,
		"PROVISION_KEY 1 "+zeros+"\nSIGN_STATE deadbeef\n", 2)

	assert.Equal(t,
		`{"event":"SIGNED_STATE","device_id":"A1B2C3D4E5F6010203040506",`+
			`"nonce":"deadbeef","totalTapCount":2,"linkCount":1,"keyVersion":1,`+
			`"hmac":"B87F55E0B272B63B3F6302A9444F51E95F5D135F058BDA73A544AB5745953FB3"}`,
		lines[1])
}

func TestSignStateDeterminism(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	var key [32]byte
	key[5] = 0xAB
	require.NoError(t, store.SetSecretKey(2, key))

	lines := runCommands(t, store,
		"SIGN_STATE 0102\nSIGN_STATE 0102\n", 2)
	assert.Equal(t, lines[0], lines[1], "same nonce, same tag")
}

func TestOversizedLineIsDiscarded(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	long := strings.Repeat("X", 400)

	lines := runCommands(t, store, long+"\nHELLO\n", 1)
	assert.Contains(t, lines[0], `"event":"hello"`,
		"the oversized line is dropped whole, the next command still works")
}

func TestErrorPathsDoNotMutateState(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	runCommands(t, store,
		"PROVISION_KEY 1 nothex\nSIGN_STATE zz\nBOGUS\n", 3)

	assert.False(t, store.HasSecretKey())
	assert.Zero(t, store.State().TotalTapCount)
	assert.False(t, store.Dirty())
}
