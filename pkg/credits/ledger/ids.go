// Copyright 2025 Kadir Pekel
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

package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/kadirpekel/lettergate/pkg/credits"
)

// ID128 maps a label to a deterministic TigerBeetle id. Zero and all-ones
// are reserved by TigerBeetle, so those digests are nudged.
func ID128(label string) types.Uint128 {
	sum := sha256.Sum256([]byte("lettergate:" + label))
	var raw [16]byte
	copy(raw[:], sum[:16])
	if raw == [16]byte{} || raw == allOnes {
		raw[0] ^= 0x01
	}
	return types.BytesToUint128(raw)
}

var allOnes = [16]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func operatorAccountID() types.Uint128 { return ID128("acct:operator") }
func trialAccountID() types.Uint128    { return ID128("acct:trial") }

func userHash(userID string) types.Uint128 { return ID128("user:" + userID) }

func lettersAccountID(userID string) types.Uint128 { return ID128("acct:letters:" + userID) }

func periodAccountID(user types.Uint128, periodEndMs uint64) types.Uint128 {
	b := user.Bytes()
	return ID128(fmt.Sprintf("acct:period:%x:%d", b[:], periodEndMs))
}

func trialTransferID(userID string) types.Uint128 { return ID128("xfer:trial:" + userID) }

// maxKeyGenerations bounds how often one idempotency key can be consumed,
// released, or refused before the store gives up on it. Every release and
// every refused attempt moves the key to its next generation, because
// TigerBeetle never accepts a failed or finished transfer id twice.
const maxKeyGenerations = 64

// The user id is length-prefixed so no (user, key) pair can collide with
// another after concatenation.
func adjustTransferID(userID, key string, gen int) types.Uint128 {
	return ID128(fmt.Sprintf("xfer:adjust:%d:%s:%s:%d", len(userID), userID, key, gen))
}

func releaseTransferID(userID, key string, gen int) types.Uint128 {
	return ID128(fmt.Sprintf("xfer:release:%d:%s:%s:%d", len(userID), userID, key, gen))
}

func fundTransferID(account types.Uint128) types.Uint128 {
	b := account.Bytes()
	return ID128(fmt.Sprintf("xfer:fund:%x", b[:]))
}

// Plan codes are stored in UserData32. Zero is a query wildcard, so codes
// start at one.
var planCodes = map[credits.PlanType]uint32{
	credits.PlanMonthly:      1,
	credits.PlanAnnual:       2,
	credits.PlanPayPerLetter: 3,
}

func planCode(p credits.PlanType) (uint32, error) {
	code, ok := planCodes[p]
	if !ok {
		return 0, fmt.Errorf("%w: plan %q has no ledger code", credits.ErrNotSupported, p)
	}
	return code, nil
}

func planFromCode(code uint32) credits.PlanType {
	for p, c := range planCodes {
		if c == code {
			return p
		}
	}
	return ""
}

// u64 decodes the low 64 bits of a little-endian Uint128.
func u64(v types.Uint128) uint64 {
	b := v.Bytes()
	return binary.LittleEndian.Uint64(b[:8])
}

func balance(a types.Account) int64 {
	return int64(u64(a.CreditsPosted)) - int64(u64(a.DebitsPosted))
}
