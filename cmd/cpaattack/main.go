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

// Recovers an AES-128 key from a capture file using correlation power
// analysis.
// https://wiki.newae.com/Correlation_Power_Analysis
//
// $ go run ./cmd/cpaattack -logtostderr -v=1 -model=round0
// [main.go:106] Loaded capture with 5000 traces / 5000 samples per trace
// [main.go:146] Best guess for index 0: <Key:0x2b, Corr:0.919985, Loc:1022>
// ...
// [main.go:152] Fully recovered key: 2b7e151628aed2a6abf7158809cf4f3c
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"math"
	"sync"

	"github.com/golang/glog"

	"github.com/courk/cpa-engine/capture"
	"github.com/courk/cpa-engine/cpa"
)

var (
	inputFlag = flag.String("input", "captures/attack.json.gz", "Capture input file")
	modelFlag = flag.String("model", "round0",
		"Leakage model: round0, round0dectable, round1, round1dectable")
	betaFlag = flag.Float64("beta", 1.0, "Leakage model beta modifier")
	k0Flag   = flag.String("k0", "",
		"16-byte hex round-0 key, required by -model=round1")
	tk0Flag = flag.String("tk0", "",
		"16-byte hex round-0 decryption-table key, required by -model=round1dectable")
)

// parseHexKey16 decodes a 32-character hex string into a 16-byte key.
func parseHexKey16(s string) ([16]byte, error) {
	var key [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 16 {
		return key, fmt.Errorf("want 16 bytes, got %d", len(b))
	}
	copy(key[:], b)
	return key, nil
}

// modelExtras builds the extras map NewAttackDriver needs for -model, hex
// decoding -k0/-tk0 only when the selected model requires them.
func modelExtras(model, k0Hex, tk0Hex string) (map[string][16]byte, error) {
	switch model {
	case "round1":
		k0, err := parseHexKey16(k0Hex)
		if err != nil {
			return nil, fmt.Errorf("-k0: %w", err)
		}
		return map[string][16]byte{"k0": k0}, nil
	case "round1dectable":
		tk0, err := parseHexKey16(tk0Hex)
		if err != nil {
			return nil, fmt.Errorf("-tk0: %w", err)
		}
		return map[string][16]byte{"tk0": tk0}, nil
	default:
		return nil, nil
	}
}

type keyGuess struct {
	key         byte
	maxCorr     float64
	maxLocation int
}

func (g keyGuess) String() string {
	return fmt.Sprintf("<Key:0x%02x, Corr:%f, Loc:%d>", g.key, g.maxCorr, g.maxLocation)
}

func init() {
	flag.Parse()
}

func main() {
	defer glog.Flush()

	c, err := capture.Load(*inputFlag)
	if err != nil {
		glog.Fatal(err)
	}
	glog.Infof("Loaded capture with %d traces / %d samples per trace",
		len(c), len(c[0].PowerMeasurements))

	payloads := c.Payloads()
	samples := c.SamplesMatrix()

	extras, err := modelExtras(*modelFlag, *k0Flag, *tk0Flag)
	if err != nil {
		glog.Fatal(err)
	}

	fullKey := make([]byte, 16)
	var wg sync.WaitGroup
	wg.Add(16)
	for k := 0; k < 16; k++ {
		go func(kIndex int) {
			defer wg.Done()

			driver, err := cpa.NewAttackDriver(*modelFlag, kIndex, *betaFlag, extras)
			if err != nil {
				glog.Fatal(err)
			}
			if err := driver.Update(payloads, samples); err != nil {
				glog.Fatal(err)
			}
			rho, err := driver.Result()
			if err != nil {
				glog.Fatal(err)
			}

			_, numSamples := rho.Dims()
			best := keyGuess{}
			for guess := 0; guess < cpa.NumByteGuesses; guess++ {
				for t := 0; t < numSamples; t++ {
					v := math.Abs(rho.At(guess, t))
					if v > best.maxCorr {
						best = keyGuess{byte(guess), v, t}
					}
				}
			}
			glog.V(1).Infof("Best guess for index %d: %v", kIndex, best)
			fullKey[kIndex] = best.key
		}(k)
	}
	wg.Wait()

	glog.Infof("Fully recovered key: %v", hex.EncodeToString(fullKey))
}
