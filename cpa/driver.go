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

// Package cpa wires the AES leakage models (package leakage) and the
// streaming correlation engine (package correlation) into the two drivers
// spec.md section 6 describes: AttackDriver, which tries all 256 guesses for
// one key byte, and AssessmentDriver, which scores a caller-supplied list of
// full 16-byte key candidates end to end through every AES round.
package cpa

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/courk/cpa-engine/correlation"
	"github.com/courk/cpa-engine/internal/aes"
	"github.com/courk/cpa-engine/leakage"
)

// ErrConfig is returned by constructors when the caller passes an unknown
// model name or a missing/mis-sized round-0 key.
var ErrConfig = errors.New("cpa: invalid configuration")

// NumByteGuesses is H for attack mode: every possible value of one key byte.
const NumByteGuesses = 256

// AttackDriver lazily builds a 256-hypothesis correlation engine on the
// first Update call (T is only known once the first sample batch arrives)
// and, on every Update, turns a batch of payloads into a 256xS hypothesis
// matrix via the configured leakage model before forwarding to the engine.
type AttackDriver struct {
	model  leakage.Model
	kIndex int

	engine *correlation.Engine
}

// NewAttackDriver constructs an AttackDriver for the named model
// ("round0", "round0dectable", "round1", "round1dectable"), attacking byte
// kIndex of the key with the given beta modifier. round1 requires k0 in
// extras; round1dectable requires tk0. Unknown names or missing/mis-sized
// keys return ErrConfig.
func NewAttackDriver(modelName string, kIndex int, betaModifier float64, extras map[string][16]byte) (*AttackDriver, error) {
	if kIndex < 0 || kIndex >= 16 {
		return nil, fmt.Errorf("%w: k_index %d out of range [0,16)", ErrConfig, kIndex)
	}

	var model leakage.Model
	switch modelName {
	case "round0":
		model = leakage.NewRound0(betaModifier)
	case "round0dectable":
		model = leakage.NewRound0DecTable(betaModifier)
	case "round1":
		k0, ok := extras["k0"]
		if !ok {
			return nil, fmt.Errorf("%w: round1 requires a 16-byte k0", ErrConfig)
		}
		model = leakage.NewRound1(k0, betaModifier)
	case "round1dectable":
		tk0, ok := extras["tk0"]
		if !ok {
			return nil, fmt.Errorf("%w: round1dectable requires a 16-byte tk0", ErrConfig)
		}
		model = leakage.NewRound1DecTable(tk0, betaModifier)
	default:
		return nil, fmt.Errorf("%w: unknown model %q", ErrConfig, modelName)
	}

	return &AttackDriver{model: model, kIndex: kIndex}, nil
}

// Update feeds one batch of S synchronized (payload, sample trace) pairs
// into the engine. samples must be S x T (one row per trace); payloads must
// have length S.
func (d *AttackDriver) Update(payloads [][16]byte, samples *mat.Dense) error {
	s, tDim := samples.Dims()
	if len(payloads) != s {
		return fmt.Errorf("%w: %d payloads but %d sample rows", correlation.ErrShape, len(payloads), s)
	}

	if d.engine == nil {
		d.engine = correlation.New(tDim, NumByteGuesses)
	}

	hyp := mat.NewDense(NumByteGuesses, s, nil)
	for guess := 0; guess < NumByteGuesses; guess++ {
		for i, payload := range payloads {
			hyp.Set(guess, i, d.model.Estimate(payload, byte(guess), d.kIndex))
		}
	}

	// The engine takes samples row-per-trace (S,T), as given.
	return d.engine.Update(samples, hyp)
}

// Result returns the current 256xT correlation matrix. It fails with
// correlation.ErrEmpty if Update has never succeeded.
func (d *AttackDriver) Result() (*mat.Dense, error) {
	if d.engine == nil {
		return nil, correlation.ErrEmpty
	}
	return d.engine.Result()
}

// AssessmentDriver evaluates a supplied list of candidate 16-byte keys
// end-to-end through all AES rounds, rather than guessing one byte at a
// time: H is fixed by len(keys) * aes.StatesPerKey.
type AssessmentDriver struct {
	keys [][16]byte

	engine *correlation.Engine
}

// NewAssessmentDriver constructs an AssessmentDriver for the given candidate
// keys.
func NewAssessmentDriver(keys [][16]byte) (*AssessmentDriver, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: assessment requires at least one key", ErrConfig)
	}
	return &AssessmentDriver{keys: keys}, nil
}

// Update feeds one batch of S synchronized (payload, sample trace) pairs
// into the engine, scoring every candidate key's full intermediate-state
// sequence by Hamming weight.
func (d *AssessmentDriver) Update(payloads [][16]byte, samples *mat.Dense) error {
	s, tDim := samples.Dims()
	if len(payloads) != s {
		return fmt.Errorf("%w: %d payloads but %d sample rows", correlation.ErrShape, len(payloads), s)
	}

	h := len(d.keys) * aes.StatesPerKey
	if d.engine == nil {
		d.engine = correlation.New(tDim, h)
	}

	hyp := mat.NewDense(h, s, nil)
	for i, payload := range payloads {
		states := aes.ComputeAllStates(payload, d.keys)
		for row, state := range states {
			hyp.Set(row, i, leakage.StateHammingWeight(state))
		}
	}

	return d.engine.Update(samples, hyp)
}

// Result returns the current HxT correlation matrix, H = len(keys) *
// aes.StatesPerKey.
func (d *AssessmentDriver) Result() (*mat.Dense, error) {
	if d.engine == nil {
		return nil, correlation.ErrEmpty
	}
	return d.engine.Result()
}
