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

package capture_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/courk/cpa-engine/capture"
)

func TestSaveLoad(t *testing.T) {
	c1 := capture.Capture{
		{Payload: [16]byte{1, 2, 3}, PowerMeasurements: []float64{4.5, 6.7}},
		{Payload: [16]byte{4, 5, 6}, PowerMeasurements: []float64{1.1, 2.2}},
	}

	var buf bytes.Buffer
	if err := c1.SaveIo(&buf); err != nil {
		t.Fatalf("SaveIo: %v", err)
	}

	c2, err := capture.LoadIo(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("LoadIo: %v", err)
	}
	if !reflect.DeepEqual(c1, c2) {
		t.Errorf("loaded capture %v != original %v", c2, c1)
	}
}

func TestSamplesMatrixShape(t *testing.T) {
	c := capture.Capture{
		{Payload: [16]byte{}, PowerMeasurements: []float64{1, 2, 3}},
		{Payload: [16]byte{}, PowerMeasurements: []float64{4, 5, 6}},
	}
	m := c.SamplesMatrix()
	r, cols := m.Dims()
	if r != 2 || cols != 3 {
		t.Fatalf("Dims = (%d,%d), want (2,3)", r, cols)
	}
	if m.At(1, 2) != 6 {
		t.Errorf("m.At(1,2) = %v, want 6", m.At(1, 2))
	}
}

func TestPayloads(t *testing.T) {
	c := capture.Capture{
		{Payload: [16]byte{1}, PowerMeasurements: []float64{0}},
		{Payload: [16]byte{2}, PowerMeasurements: []float64{0}},
	}
	got := c.Payloads()
	if len(got) != 2 || got[0][0] != 1 || got[1][0] != 2 {
		t.Fatalf("Payloads() = %v", got)
	}
}
