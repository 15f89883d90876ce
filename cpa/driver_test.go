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

package cpa_test

import (
	"errors"
	"math"
	"math/bits"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/courk/cpa-engine/cpa"
	"github.com/courk/cpa-engine/internal/aes"
)

func TestNewAttackDriverRejectsUnknownModel(t *testing.T) {
	if _, err := cpa.NewAttackDriver("not-a-model", 0, 1, nil); !errors.Is(err, cpa.ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}

func TestNewAttackDriverRequiresK0ForRound1(t *testing.T) {
	if _, err := cpa.NewAttackDriver("round1", 0, 1, nil); !errors.Is(err, cpa.ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
	var k0 [16]byte
	if _, err := cpa.NewAttackDriver("round1", 0, 1, map[string][16]byte{"k0": k0}); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestGetResultBeforeUpdateFails(t *testing.T) {
	d, err := cpa.NewAttackDriver("round0", 0, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Result(); err == nil {
		t.Error("Result() before Update = nil error, want failure")
	}
}

// V6 (attack recovery, round0 model): build synthetic traces whose value at
// a single time index t0 is the Hamming weight of sbox(payload[k_index]^k*)
// plus noise, pure noise elsewhere, and recover k* as the argmax of
// correlation at t0.
func TestAttackRecoversKeyByte(t *testing.T) {
	rng := rand.New(rand.NewSource(1234))
	const kIndex = 3
	trueKey := byte(0xA5)
	const s = 5000
	const tDim = 8
	const t0 = 5
	const sigma = 0.5

	driver, err := cpa.NewAttackDriver("round0", kIndex, 1, nil)
	if err != nil {
		t.Fatal(err)
	}

	payloads := make([][16]byte, s)
	samplesData := make([]float64, s*tDim)
	for i := 0; i < s; i++ {
		var p [16]byte
		rng.Read(p[:])
		payloads[i] = p

		leak := float64(bits.OnesCount8(aes.Sbox(p[kIndex] ^ trueKey)))
		for t := 0; t < tDim; t++ {
			v := rng.NormFloat64() * 2 // pure noise baseline
			if t == t0 {
				v = leak + rng.NormFloat64()*sigma
			}
			samplesData[i*tDim+t] = v
		}
	}
	samples := mat.NewDense(s, tDim, samplesData)

	if err := driver.Update(payloads, samples); err != nil {
		t.Fatal(err)
	}
	res, err := driver.Result()
	if err != nil {
		t.Fatal(err)
	}

	bestGuess := 0
	bestCorr := -1.0
	for guess := 0; guess < 256; guess++ {
		v := res.At(guess, t0)
		if v < 0 {
			v = -v
		}
		if v > bestCorr {
			bestCorr = v
			bestGuess = guess
		}
	}
	if byte(bestGuess) != trueKey {
		t.Fatalf("argmax guess = 0x%02x, want 0x%02x (corr=%v)", bestGuess, trueKey, bestCorr)
	}

	// Cross-check the driver's winning cell against gonum/stat's one-shot
	// Pearson implementation, computed directly from the same payloads and
	// samples rather than through the streaming engine.
	xCol := make([]float64, s)
	yRow := make([]float64, s)
	for i := 0; i < s; i++ {
		xCol[i] = samplesData[i*tDim+t0]
		yRow[i] = float64(bits.OnesCount8(aes.Sbox(payloads[i][kIndex] ^ trueKey)))
	}
	wantCorr := stat.Correlation(xCol, yRow, nil)
	if diff := math.Abs(res.At(int(trueKey), t0) - wantCorr); diff > 1e-9 {
		t.Fatalf("driver rho[%d,%d]=%v stat.Correlation=%v diff=%v", trueKey, t0, res.At(int(trueKey), t0), wantCorr, diff)
	}
}

func TestAssessmentDriverShape(t *testing.T) {
	keys := [][16]byte{{}, {1, 2, 3}}
	driver, err := cpa.NewAssessmentDriver(keys)
	if err != nil {
		t.Fatal(err)
	}

	const s = 10
	const tDim = 4
	payloads := make([][16]byte, s)
	rng := rand.New(rand.NewSource(9))
	samplesData := make([]float64, s*tDim)
	for i := range payloads {
		rng.Read(payloads[i][:])
	}
	for i := range samplesData {
		samplesData[i] = rng.NormFloat64()
	}
	samples := mat.NewDense(s, tDim, samplesData)

	if err := driver.Update(payloads, samples); err != nil {
		t.Fatal(err)
	}
	res, err := driver.Result()
	if err != nil {
		t.Fatal(err)
	}
	r, c := res.Dims()
	wantH := len(keys) * aes.StatesPerKey
	if r != wantH || c != tDim {
		t.Fatalf("Result dims = (%d,%d), want (%d,%d)", r, c, wantH, tDim)
	}
}
