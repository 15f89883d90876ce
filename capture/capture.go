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

// Package capture holds synchronized (payload, sample trace) batches on disk
// as gzip-compressed JSON, the on-disk format the cmd/cpaattack demo and the
// viewer read. This is explicitly outside the CPA core (spec.md section 1
// names "trace I/O and dataset loading" an external collaborator) but every
// driver needs some batch container to hand the core, so this package plays
// that role the way the teacher's own capture.go does for its hardware
// captures.
package capture

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Trace is one synchronized (payload, power trace) pair.
type Trace struct {
	Payload           [16]byte  `json:"payload"`
	PowerMeasurements []float64 `json:"pm"`
}

// Capture is an ordered batch of traces, all sharing the same sample
// duration.
type Capture []Trace

// Payloads returns the 16-byte payloads of every trace, in order.
func (c Capture) Payloads() [][16]byte {
	out := make([][16]byte, len(c))
	for i, tr := range c {
		out[i] = tr.Payload
	}
	return out
}

// SamplesMatrix collects every trace's power measurements into a single
// (len(c) x T) matrix, one row per trace, as spec.md's "sample batch" shape
// expects.
func (c Capture) SamplesMatrix() *mat.Dense {
	rows := len(c)
	if rows == 0 {
		return mat.NewDense(0, 0, nil)
	}
	cols := len(c[0].PowerMeasurements)
	data := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		copy(data[i*cols:(i+1)*cols], c[i].PowerMeasurements)
	}
	return mat.NewDense(rows, cols, data)
}

// LoadIo decodes a gzip+JSON capture from src. Exported for testing.
func LoadIo(src io.Reader) (Capture, error) {
	zipper, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("gzip NewReader failed: %w", err)
	}
	defer zipper.Close()

	var c Capture
	if err := json.NewDecoder(zipper).Decode(&c); err != nil {
		return nil, fmt.Errorf("JSON decoder failed: %w", err)
	}
	return c, nil
}

// Load reads a capture from a gzip+JSON file on disk.
func Load(filename string) (Capture, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("error opening capture file: %w", err)
	}
	defer f.Close()
	return LoadIo(f)
}

// SaveIo encodes c as gzip+JSON to dst. Exported for testing.
func (c Capture) SaveIo(dst io.Writer) error {
	zipper := gzip.NewWriter(dst)
	if err := json.NewEncoder(zipper).Encode(c); err != nil {
		return fmt.Errorf("JSON encoder failed: %w", err)
	}
	return zipper.Close()
}

// Save writes c as a gzip+JSON file on disk.
func (c Capture) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("error creating capture file: %w", err)
	}
	defer f.Close()
	return c.SaveIo(f)
}
