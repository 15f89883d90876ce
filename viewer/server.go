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

// Serves a live view of an in-progress CPA attack: watches a directory for
// newly landed capture files, feeds each one through an AttackDriver as it
// arrives, and exposes the running best-guess-per-index table over HTTP.
// This generalizes the teacher's live capture-listing viewer (which served
// raw trace metadata for a human to browse) to serve attack progress
// instead, reusing the same fsnotify-watcher + broker-broadcast shape.
//
// $ go run ./viewer -logtostderr -dir=captures -model=round0
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"math"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
	"github.com/labstack/echo"

	"github.com/courk/cpa-engine/capture"
	"github.com/courk/cpa-engine/cpa"
	"github.com/courk/cpa-engine/util"
)

var (
	portFlag  = flag.Int("port", 8080, "Server HTTP port number")
	dirFlag   = flag.String("dir", "captures", "Input captures directory to watch")
	modelFlag = flag.String("model", "round0",
		"Leakage model to attack with: round0, round0dectable, round1, round1dectable")
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

const capExt = ".json.gz"

// attackState holds, for each of the 16 key byte indices, the long-lived
// driver tracking correlation across every capture file seen so far.
type attackState struct {
	mu      sync.Mutex
	drivers [16]*cpa.AttackDriver
}

func newAttackState() *attackState {
	extras, err := modelExtras(*modelFlag, *k0Flag, *tk0Flag)
	if err != nil {
		glog.Fatal(err)
	}

	s := &attackState{}
	for i := range s.drivers {
		d, err := cpa.NewAttackDriver(*modelFlag, i, *betaFlag, extras)
		if err != nil {
			glog.Fatalf("NewAttackDriver(%d): %v", i, err)
		}
		s.drivers[i] = d
	}
	return s
}

// ingest feeds one capture file through every key-index driver.
func (s *attackState) ingest(c capture.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloads := c.Payloads()
	samples := c.SamplesMatrix()
	for _, d := range s.drivers {
		if err := d.Update(payloads, samples); err != nil {
			return err
		}
	}
	return nil
}

// bestGuessRow is the best-correlating guess (and its sample-time location)
// currently known for one key byte index.
type bestGuessRow struct {
	Index    int     `json:"index"`
	Guess    int     `json:"guess"`
	Corr     float64 `json:"corr"`
	Location int     `json:"location"`
}

func (s *attackState) snapshot() []bestGuessRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]bestGuessRow, 16)
	for i, d := range s.drivers {
		res, err := d.Result()
		if err != nil {
			rows[i] = bestGuessRow{Index: i}
			continue
		}
		_, tDim := res.Dims()
		best := bestGuessRow{Index: i}
		for guess := 0; guess < cpa.NumByteGuesses; guess++ {
			for t := 0; t < tDim; t++ {
				v := math.Abs(res.At(guess, t))
				if v > best.Corr {
					best = bestGuessRow{Index: i, Guess: guess, Corr: v, Location: t}
				}
			}
		}
		rows[i] = best
	}
	return rows
}

func capturesDirectory() string {
	return *dirFlag
}

// watchDirectoryChanges notifies broker whenever a new capture file lands,
// the teacher's watchDirectoryChanges narrowed to the events that matter
// here (existing captures at startup are loaded directly by main, not
// re-discovered through the watcher).
func watchDirectoryChanges(broker *util.Broker) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		glog.Errorf("NewWatcher failed: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(capturesDirectory()); err != nil {
		glog.Errorf("watcher.Add failed: %v", err)
		return
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				glog.Warning("watcher.Events closed, aborting")
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && strings.HasSuffix(event.Name, capExt) {
				broker.Publish(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				glog.Warning("watcher.Errors closed, aborting")
				return
			}
			glog.Warningf("watcher error: %v", err)
		}
	}
}

// ingestLoop subscribes to the broker and feeds every newly-seen capture
// file into state, retrying a transient load error once after a short delay
// (a file can be observed mid-write).
func ingestLoop(state *attackState, broker *util.Broker) {
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	for msg := range ch {
		name, ok := msg.(string)
		if !ok {
			continue
		}
		c, err := capture.Load(name)
		if err != nil {
			glog.Warningf("Load(%s) failed, retrying once: %v", name, err)
			time.Sleep(200 * time.Millisecond)
			if c, err = capture.Load(name); err != nil {
				glog.Errorf("Load(%s) failed: %v", name, err)
				continue
			}
		}
		if err := state.ingest(c); err != nil {
			glog.Errorf("ingest(%s) failed: %v", name, err)
		}
	}
}

func init() {
	flag.Parse()
}

func main() {
	defer glog.Flush()

	state := newAttackState()

	watchBroker := util.NewBroker()
	go watchBroker.Start()
	go watchDirectoryChanges(watchBroker)
	go ingestLoop(state, watchBroker)

	existing, err := filepath.Glob(path.Join(capturesDirectory(), "*"+capExt))
	if err != nil {
		glog.Errorf("Glob failed: %v", err)
	}
	for _, f := range existing {
		c, err := capture.Load(f)
		if err != nil {
			glog.Errorf("Load(%s) failed: %v", f, err)
			continue
		}
		if err := state.ingest(c); err != nil {
			glog.Errorf("ingest(%s) failed: %v", f, err)
		}
	}

	e := echo.New()

	// Returns the current best-guess-per-index table as the attack
	// progresses.
	e.GET("/guesses", func(c echo.Context) error {
		return c.JSON(http.StatusOK, state.snapshot())
	})

	glog.Fatal(e.Start(fmt.Sprintf(":%d", *portFlag)))
}
