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

// Package correlation implements the streaming Pearson correlation engine at
// the heart of CPA: it accepts successive (samples, hypotheses) batches and
// maintains running sums so that the correlation matrix rho[h,t] between H
// hypothesis series and T sample-time-columns can be updated incrementally,
// without ever re-reading past batches.
//
// The source this engine is modeled on dispatches the per-(h,t) reduction to
// an OpenCL accelerator grid. This is a CPU-parallel reimplementation: the
// design explicitly allows it ("a pure-CPU implementation remains conformant
// ... tile along (h,t) for cache friendliness"), so Update fans the (h,t)
// cross-sum and the final normalization out across a worker pool sized to
// runtime.GOMAXPROCS(0), the same fan-out shape the teacher uses across the
// 16 key-byte indices in its attack binaries.
package correlation

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Sentinel errors, one per failure kind named in the design's error table.
var (
	// ErrShape is returned by Update when the batch dimensions don't match
	// the engine's fixed T (sample duration) or H (hypothesis count).
	ErrShape = errors.New("correlation: mismatched batch shape")

	// ErrAccelerator marks the engine instance as unusable: the host could
	// not build or submit a dispatch. A CPU engine only returns this for
	// resource exhaustion it cannot recover from (e.g. worker allocation);
	// the caller's only recourse is to construct a new Engine.
	ErrAccelerator = errors.New("correlation: accelerator dispatch failed")

	// ErrEmpty is returned by Result when called before any successful
	// Update.
	ErrEmpty = errors.New("correlation: no data accumulated yet")
)

// Engine is a streaming Pearson correlation accumulator over H hypotheses and
// T sample-time columns. It is created once with (T, H), mutated only by
// Update, and read non-destructively by Result. It is not safe for
// concurrent use by multiple goroutines without external synchronization —
// the design assumes a single-threaded sequential driver per instance.
type Engine struct {
	t, h int

	n int // running count of traces observed so far

	sumY  []float64 // Sigma y[h]
	sumY2 []float64 // Sigma y^2[h]
	sumX  []float64 // Sigma x[t]
	sumX2 []float64 // Sigma x^2[t]
	sumXY []float64 // Sigma x*y[h,t], row-major h*T+t

	result []float64 // rho[h,t], row-major h*T+t, recomputed on each Update

	updated bool
}

// New allocates a fresh engine for a fixed sample duration T and hypothesis
// count H, with all accumulators zero-initialized.
func New(t, h int) *Engine {
	return &Engine{
		t:      t,
		h:      h,
		sumY:   make([]float64, h),
		sumY2:  make([]float64, h),
		sumX:   make([]float64, t),
		sumX2:  make([]float64, t),
		sumXY:  make([]float64, h*t),
		result: make([]float64, h*t),
	}
}

// T returns the engine's fixed sample duration.
func (e *Engine) T() int { return e.t }

// H returns the engine's fixed hypothesis count.
func (e *Engine) H() int { return e.h }

// N returns the running count of traces observed across all Update calls.
func (e *Engine) N() int { return e.n }

// Update folds one batch of S traces into the running statistics. samples
// must be an S x T matrix (S traces, each of length T); hypotheses must be
// an H x S matrix (H hypotheses, each with one scalar per trace in the
// batch). Update transposes neither argument — callers (the cpa package's
// drivers) pass samples row-per-trace and hypotheses hypothesis-major, in
// exactly these shapes.
func (e *Engine) Update(samples, hypotheses mat.Matrix) error {
	s, tc := samples.Dims()
	hc, sy := hypotheses.Dims()
	if tc != e.t {
		return fmt.Errorf("%w: samples has %d columns, engine T=%d", ErrShape, tc, e.t)
	}
	if hc != e.h {
		return fmt.Errorf("%w: hypotheses has %d rows, engine H=%d", ErrShape, hc, e.h)
	}
	if sy != s {
		return fmt.Errorf("%w: samples has %d rows but hypotheses has %d columns", ErrShape, s, sy)
	}

	// Snapshot the batch into plain slices once; every worker below reads
	// only from these, matching the "reads a snapshot of prior state"
	// atomicity the design requires of a single dispatch.
	x := make([][]float64, s) // x[i] = sample trace i, length T
	for i := 0; i < s; i++ {
		row := make([]float64, tc)
		mat.Row(row, i, samples)
		x[i] = row
	}
	y := make([][]float64, hc) // y[h] = hypothesis row h, length S
	for hIdx := 0; hIdx < hc; hIdx++ {
		row := make([]float64, sy)
		mat.Row(row, hIdx, hypotheses)
		y[hIdx] = row
	}

	if err := e.fanOutUpdate(x, y, s); err != nil {
		return err
	}

	e.n += s
	e.recompute()
	e.updated = true
	return nil
}

// fanOutUpdate performs the three running-sum updates described in spec
// section 4.3, tiled across workers keyed on h (for the per-hypothesis and
// cross-sum accumulation) and t (for the per-time-column accumulation).
// There is no shared mutable state written by more than one worker, so no
// locking is required; floating point summation order across workers is not
// guaranteed to match a serial left-to-right sum, which the design
// explicitly permits ("floating-point associativity order is not
// observable externally").
func (e *Engine) fanOutUpdate(x, y [][]float64, s int) error {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		return fmt.Errorf("%w: non-positive worker count", ErrAccelerator)
	}

	var wg sync.WaitGroup

	// Sigma x[t], Sigma x^2[t], tiled over t.
	wg.Add(1)
	go func() {
		defer wg.Done()
		tileRange(e.t, workers, func(tStart, tEnd int) {
			for t := tStart; t < tEnd; t++ {
				var sx, sx2 float64
				for i := 0; i < s; i++ {
					v := x[i][t]
					sx += v
					sx2 += v * v
				}
				e.sumX[t] += sx
				e.sumX2[t] += sx2
			}
		})
	}()

	// Sigma y[h], Sigma y^2[h], and Sigma x*y[h,t], tiled over h.
	wg.Add(1)
	go func() {
		defer wg.Done()
		tileRange(e.h, workers, func(hStart, hEnd int) {
			for hIdx := hStart; hIdx < hEnd; hIdx++ {
				var sy, sy2 float64
				row := y[hIdx]
				for i := 0; i < s; i++ {
					sy += row[i]
					sy2 += row[i] * row[i]
				}
				e.sumY[hIdx] += sy
				e.sumY2[hIdx] += sy2

				base := hIdx * e.t
				for t := 0; t < e.t; t++ {
					var sxy float64
					for i := 0; i < s; i++ {
						sxy += row[i] * x[i][t]
					}
					e.sumXY[base+t] += sxy
				}
			}
		})
	}()

	wg.Wait()
	return nil
}

// tileRange splits [0,n) into up to workers contiguous tiles and runs fn on
// each tile concurrently, waiting for all of them to finish.
func tileRange(n, workers int, fn func(start, end int)) {
	if n == 0 {
		return
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

// recompute derives rho[h,t] from the running sums, tiled the same way a
// (H,T) accelerator grid would dispatch the finalization stage.
func (e *Engine) recompute() {
	n := float64(e.n)
	workers := runtime.GOMAXPROCS(0)
	tileRange(e.h, workers, func(hStart, hEnd int) {
		for hIdx := hStart; hIdx < hEnd; hIdx++ {
			sy := e.sumY[hIdx]
			sy2 := e.sumY2[hIdx]
			denY := n*sy2 - sy*sy
			base := hIdx * e.t
			for t := 0; t < e.t; t++ {
				sx := e.sumX[t]
				sx2 := e.sumX2[t]
				denX := n*sx2 - sx*sx

				num := n*e.sumXY[base+t] - sx*sy

				var rho float64
				if denX > 0 && denY > 0 {
					rho = num / math.Sqrt(denX*denY)
					if math.IsNaN(rho) || math.IsInf(rho, 0) {
						rho = 0
					}
				}
				e.result[base+t] = rho
			}
		}
	})
}

// Result reads the current correlation matrix back as an H x T gonum
// matrix. It is legal any time after at least one successful Update; it
// returns ErrEmpty if called before the first Update.
func (e *Engine) Result() (*mat.Dense, error) {
	if !e.updated {
		return nil, ErrEmpty
	}
	return mat.NewDense(e.h, e.t, append([]float64(nil), e.result...)), nil
}
