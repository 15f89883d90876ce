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

// Package aes implements the byte-level AES-128 primitives that the leakage
// models in package leakage need: the S-box and its inverse, ShiftRows,
// MixColumns and their inverses, AddRoundKey, the Galois multipliers used by
// the decryption T-tables, and a full-schedule state walk for assessment mode.
//
// State bytes are addressed in the standard column-major 4x4 layout:
// state[r+4*c], row r in [0,4), column c in [0,4).
package aes

// Copied from third_party/tiny-AES-c/aes.c
var sbox = [256]byte{
	0x63, 0x7c, 0x77, 0x7b, 0xf2, 0x6b, 0x6f, 0xc5, 0x30, 0x01, 0x67, 0x2b, 0xfe, 0xd7, 0xab, 0x76,
	0xca, 0x82, 0xc9, 0x7d, 0xfa, 0x59, 0x47, 0xf0, 0xad, 0xd4, 0xa2, 0xaf, 0x9c, 0xa4, 0x72, 0xc0,
	0xb7, 0xfd, 0x93, 0x26, 0x36, 0x3f, 0xf7, 0xcc, 0x34, 0xa5, 0xe5, 0xf1, 0x71, 0xd8, 0x31, 0x15,
	0x04, 0xc7, 0x23, 0xc3, 0x18, 0x96, 0x05, 0x9a, 0x07, 0x12, 0x80, 0xe2, 0xeb, 0x27, 0xb2, 0x75,
	0x09, 0x83, 0x2c, 0x1a, 0x1b, 0x6e, 0x5a, 0xa0, 0x52, 0x3b, 0xd6, 0xb3, 0x29, 0xe3, 0x2f, 0x84,
	0x53, 0xd1, 0x00, 0xed, 0x20, 0xfc, 0xb1, 0x5b, 0x6a, 0xcb, 0xbe, 0x39, 0x4a, 0x4c, 0x58, 0xcf,
	0xd0, 0xef, 0xaa, 0xfb, 0x43, 0x4d, 0x33, 0x85, 0x45, 0xf9, 0x02, 0x7f, 0x50, 0x3c, 0x9f, 0xa8,
	0x51, 0xa3, 0x40, 0x8f, 0x92, 0x9d, 0x38, 0xf5, 0xbc, 0xb6, 0xda, 0x21, 0x10, 0xff, 0xf3, 0xd2,
	0xcd, 0x0c, 0x13, 0xec, 0x5f, 0x97, 0x44, 0x17, 0xc4, 0xa7, 0x7e, 0x3d, 0x64, 0x5d, 0x19, 0x73,
	0x60, 0x81, 0x4f, 0xdc, 0x22, 0x2a, 0x90, 0x88, 0x46, 0xee, 0xb8, 0x14, 0xde, 0x5e, 0x0b, 0xdb,
	0xe0, 0x32, 0x3a, 0x0a, 0x49, 0x06, 0x24, 0x5c, 0xc2, 0xd3, 0xac, 0x62, 0x91, 0x95, 0xe4, 0x79,
	0xe7, 0xc8, 0x37, 0x6d, 0x8d, 0xd5, 0x4e, 0xa9, 0x6c, 0x56, 0xf4, 0xea, 0x65, 0x7a, 0xae, 0x08,
	0xba, 0x78, 0x25, 0x2e, 0x1c, 0xa6, 0xb4, 0xc6, 0xe8, 0xdd, 0x74, 0x1f, 0x4b, 0xbd, 0x8b, 0x8a,
	0x70, 0x3e, 0xb5, 0x66, 0x48, 0x03, 0xf6, 0x0e, 0x61, 0x35, 0x57, 0xb9, 0x86, 0xc1, 0x1d, 0x9e,
	0xe1, 0xf8, 0x98, 0x11, 0x69, 0xd9, 0x8e, 0x94, 0x9b, 0x1e, 0x87, 0xe9, 0xce, 0x55, 0x28, 0xdf,
	0x8c, 0xa1, 0x89, 0x0d, 0xbf, 0xe6, 0x42, 0x68, 0x41, 0x99, 0x2d, 0x0f, 0xb0, 0x54, 0xbb, 0x16,
}

var invSbox [256]byte

var rcon = [11]byte{
	0x00, 0x01, 0x02, 0x04, 0x08, 0x10, 0x20, 0x40, 0x80, 0x1b, 0x36,
}

func init() {
	for i, v := range sbox {
		invSbox[v] = byte(i)
	}
}

// Sbox is the standard AES forward S-box lookup.
func Sbox(b byte) byte { return sbox[b] }

// InvSbox is the standard AES inverse S-box lookup.
func InvSbox(b byte) byte { return invSbox[b] }

// xtime multiplies a GF(2^8) element by x, reducing modulo the AES
// irreducible polynomial 0x11B when the top bit would otherwise overflow.
func xtime(b byte) byte {
	if b&0x80 != 0 {
		return (b << 1) ^ 0x1b
	}
	return b << 1
}

// gmul multiplies two bytes in GF(2^8) mod 0x11B via peasant multiplication.
func gmul(a, b byte) byte {
	var p byte
	for i := 0; i < 8; i++ {
		if b&1 != 0 {
			p ^= a
		}
		hi := a & 0x80
		a <<= 1
		if hi != 0 {
			a ^= 0x1b
		}
		b >>= 1
	}
	return p
}

// Gal2 multiplies b by 2 in GF(2^8).
func Gal2(b byte) byte { return xtime(b) }

// Gal3 multiplies b by 3 in GF(2^8).
func Gal3(b byte) byte { return xtime(b) ^ b }

// Gal9 multiplies b by 9 in GF(2^8).
func Gal9(b byte) byte { return gmul(b, 0x09) }

// Gal11 multiplies b by 11 in GF(2^8).
func Gal11(b byte) byte { return gmul(b, 0x0b) }

// Gal13 multiplies b by 13 in GF(2^8).
func Gal13(b byte) byte { return gmul(b, 0x0d) }

// Gal14 multiplies b by 14 in GF(2^8).
func Gal14(b byte) byte { return gmul(b, 0x0e) }

// State is a 16-byte AES-128 state, addressed column-major: state[r+4*c].
type State [16]byte

// NewState copies payload into a fresh State.
func NewState(payload [16]byte) State {
	return State(payload)
}

// AddRoundKey XORs the 16-byte round key into the state.
func (s *State) AddRoundKey(k [16]byte) {
	for i := range s {
		s[i] ^= k[i]
	}
}

// SubBytes applies the forward S-box to every byte.
func (s *State) SubBytes() {
	for i := range s {
		s[i] = Sbox(s[i])
	}
}

// SubBytesInv applies the inverse S-box to every byte.
func (s *State) SubBytesInv() {
	for i := range s {
		s[i] = InvSbox(s[i])
	}
}

// ShiftRows rotates row r left by r positions.
func (s *State) ShiftRows() {
	old := *s
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			s[r+4*c] = old[r+4*((c+r)%4)]
		}
	}
}

// ShiftRowsInv rotates row r right by r positions.
func (s *State) ShiftRowsInv() {
	old := *s
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			s[r+4*c] = old[r+4*((c-r+4)%4)]
		}
	}
}

// MixColumns mixes each column in GF(2^8) with the standard AES MDS matrix.
func (s *State) MixColumns() {
	for c := 0; c < 4; c++ {
		s0, s1, s2, s3 := s[4*c], s[4*c+1], s[4*c+2], s[4*c+3]
		s[4*c+0] = Gal2(s0) ^ Gal3(s1) ^ s2 ^ s3
		s[4*c+1] = s0 ^ Gal2(s1) ^ Gal3(s2) ^ s3
		s[4*c+2] = s0 ^ s1 ^ Gal2(s2) ^ Gal3(s3)
		s[4*c+3] = Gal3(s0) ^ s1 ^ s2 ^ Gal2(s3)
	}
}

// MixColumnsInv applies the inverse MixColumns transform.
func (s *State) MixColumnsInv() {
	for c := 0; c < 4; c++ {
		s0, s1, s2, s3 := s[4*c], s[4*c+1], s[4*c+2], s[4*c+3]
		s[4*c+0] = Gal14(s0) ^ Gal11(s1) ^ Gal13(s2) ^ Gal9(s3)
		s[4*c+1] = Gal9(s0) ^ Gal14(s1) ^ Gal11(s2) ^ Gal13(s3)
		s[4*c+2] = Gal13(s0) ^ Gal9(s1) ^ Gal14(s2) ^ Gal11(s3)
		s[4*c+3] = Gal11(s0) ^ Gal13(s1) ^ Gal9(s2) ^ Gal14(s3)
	}
}

// Bytes returns the state as a plain [16]byte.
func (s State) Bytes() [16]byte { return [16]byte(s) }

// ExpandKey runs the standard AES-128 (Rijndael) key schedule, returning the
// 11 round keys RK[0]..RK[10], RK[0] being the original key.
func ExpandKey(key [16]byte) [11][16]byte {
	var w [44][4]byte
	for i := 0; i < 4; i++ {
		copy(w[i][:], key[4*i:4*i+4])
	}
	for i := 4; i < 44; i++ {
		temp := w[i-1]
		if i%4 == 0 {
			// RotWord
			temp = [4]byte{temp[1], temp[2], temp[3], temp[0]}
			// SubWord
			for j := range temp {
				temp[j] = Sbox(temp[j])
			}
			temp[0] ^= rcon[i/4]
		}
		for j := range temp {
			w[i][j] = w[i-4][j] ^ temp[j]
		}
	}

	var rk [11][16]byte
	for round := 0; round < 11; round++ {
		for c := 0; c < 4; c++ {
			word := w[round*4+c]
			for r := 0; r < 4; r++ {
				rk[round][r+4*c] = word[r]
			}
		}
	}
	return rk
}

// ComputeAllStates runs, for each supplied 16-byte key, a full AES-128
// encryption of payload and emits the deterministic, fixed-length sequence of
// intermediate 16-byte states the assessment driver correlates against:
// post-AddRoundKey(k0), then for rounds 1..9 post-SubBytes,
// post-ShiftRows, post-MixColumns, post-AddRoundKey(k_round), then for the
// final round post-SubBytes, post-ShiftRows, post-AddRoundKey(k10) (no final
// MixColumns, per the AES-128 spec). That is exactly 40 states per key:
// len(result) == 40*len(keys), always.
func ComputeAllStates(payload [16]byte, keys [][16]byte) [][16]byte {
	states := make([][16]byte, 0, 40*len(keys))
	for _, key := range keys {
		rk := ExpandKey(key)

		s := NewState(payload)
		s.AddRoundKey(rk[0])
		states = append(states, s.Bytes())

		for round := 1; round <= 9; round++ {
			s.SubBytes()
			states = append(states, s.Bytes())
			s.ShiftRows()
			states = append(states, s.Bytes())
			s.MixColumns()
			states = append(states, s.Bytes())
			s.AddRoundKey(rk[round])
			states = append(states, s.Bytes())
		}

		s.SubBytes()
		states = append(states, s.Bytes())
		s.ShiftRows()
		states = append(states, s.Bytes())
		s.AddRoundKey(rk[10])
		states = append(states, s.Bytes())
	}
	return states
}

// StatesPerKey is the fixed number of intermediate states ComputeAllStates
// emits for each key.
const StatesPerKey = 40
