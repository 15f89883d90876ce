// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package leakage maps (payload, key-byte guess, byte index) to a scalar
// hypothetical power value under one of four named AES-128 leakage models.
// Every model returns HW(v)^beta, where HW is the Hamming weight of a
// model-specific intermediate v and beta lets the caller tune the
// nonlinearity of the leakage hypothesis (beta=1 is plain Hamming weight).
package leakage

import (
	"math"
	"math/bits"

	"github.com/courk/cpa-engine/internal/aes"
)

// Model is the closed set of leakage hypotheses this package supports. The
// set is fixed by the cryptographic scope (AES-128 first/second round,
// encryption and decryption T-table variants) so a small interface with
// four implementations is used instead of an open-ended registry.
type Model interface {
	// Estimate returns the hypothesized leakage for payload under guess at
	// byte index (index must be in [0,16)).
	Estimate(payload [16]byte, guess byte, index int) float64
}

func hwPow(v uint32, beta float64) float64 {
	return math.Pow(float64(bits.OnesCount32(v)), beta)
}

// Round0 models the classic first-round S-box output:
// sbox(payload[index] ^ guess).
type Round0 struct {
	BetaModifier float64
}

// NewRound0 constructs a Round0 model with the given beta modifier.
func NewRound0(betaModifier float64) Round0 {
	return Round0{BetaModifier: betaModifier}
}

// Estimate implements Model.
func (m Round0) Estimate(payload [16]byte, guess byte, index int) float64 {
	v := aes.Sbox(payload[index] ^ guess)
	return hwPow(uint32(v), m.BetaModifier)
}

// Round1 models a second-round S-box output leaking jointly with the
// corresponding round-0 term, requiring the round-0 key k0.
type Round1 struct {
	BetaModifier float64
	K0           [16]byte
}

// NewRound1 constructs a Round1 model bound to the given round-0 key.
func NewRound1(k0 [16]byte, betaModifier float64) Round1 {
	return Round1{BetaModifier: betaModifier, K0: k0}
}

// Estimate implements Model.
func (m Round1) Estimate(payload [16]byte, guess byte, index int) float64 {
	s := aes.NewState(payload)
	s.AddRoundKey(m.K0)
	s.SubBytes()
	s.ShiftRows()
	s.MixColumns()
	mixed := s.Bytes()

	v := aes.Sbox(mixed[index]^guess) ^ aes.Sbox(payload[index]^m.K0[index])
	return hwPow(uint32(v), m.BetaModifier)
}

// decTableRow packs the 32-bit decryption T-table row for byte i, as the
// standard AES decryption T-tables compute it:
// gal9(i) | gal11(i)<<8 | gal13(i)<<16 | gal14(i)<<24.
func decTableRow(i byte) uint32 {
	return uint32(aes.Gal9(i)) |
		uint32(aes.Gal11(i))<<8 |
		uint32(aes.Gal13(i))<<16 |
		uint32(aes.Gal14(i))<<24
}

// Round0DecTable models the round-0 decryption T-table lookup leakage.
type Round0DecTable struct {
	BetaModifier float64
}

// NewRound0DecTable constructs a Round0DecTable model.
func NewRound0DecTable(betaModifier float64) Round0DecTable {
	return Round0DecTable{BetaModifier: betaModifier}
}

// Estimate implements Model.
func (m Round0DecTable) Estimate(payload [16]byte, guess byte, index int) float64 {
	i := aes.InvSbox(payload[index] ^ guess)
	return hwPow(decTableRow(i), m.BetaModifier)
}

// Round1DecTable models the same decryption T-table leakage one round
// later: the lookup is taken after an inverse round (AddRoundKey(tk0),
// ShiftRowsInv, SubBytesInv, MixColumnsInv), requiring the round-0 key tk0.
type Round1DecTable struct {
	BetaModifier float64
	Tk0          [16]byte
}

// NewRound1DecTable constructs a Round1DecTable model bound to tk0.
func NewRound1DecTable(tk0 [16]byte, betaModifier float64) Round1DecTable {
	return Round1DecTable{BetaModifier: betaModifier, Tk0: tk0}
}

// Estimate implements Model.
func (m Round1DecTable) Estimate(payload [16]byte, guess byte, index int) float64 {
	s := aes.NewState(payload)
	s.AddRoundKey(m.Tk0)
	s.ShiftRowsInv()
	s.SubBytesInv()
	s.MixColumnsInv()
	mixed := s.Bytes()

	i := aes.InvSbox(mixed[index] ^ guess)
	return hwPow(decTableRow(i), m.BetaModifier)
}

// StateHammingWeight returns the total Hamming weight of all 16 bytes of
// state, used by the assessment driver to turn a full-round intermediate
// state into a single hypothesis scalar.
func StateHammingWeight(state [16]byte) float64 {
	var total float64
	for _, b := range state {
		total += float64(bits.OnesCount8(b))
	}
	return total
}
