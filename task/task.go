// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package task implements the ITS FEE monitoring task: it decodes readout
// pages, feeds the status aggregator and drives the monitoring cycles.
package task // import "github.com/go-lpc/itsfee/task"

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/itsfee/config"
	"github.com/go-lpc/itsfee/cycle"
	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
	"github.com/go-lpc/itsfee/status"
)

// Task decodes readout pages into status counters.
type Task struct {
	cfg config.Task
	geo *geom.Table
	agg *status.Aggregator
	ctl *cycle.Controller
	msg log.MsgStream

	mu    sync.Mutex
	stats Stats

	tfs     uint64 // distinct time frames seen since the start of the activity
	tfOrbit uint32 // orbit of the last time frame
}

// Stats holds the processing statistics of a task.
type Stats struct {
	Pages   uint64        // processed readout pages
	Skipped uint64        // readout pages whose payload was not decoded
	Words   uint64        // decoded GBT words
	Elapsed time.Duration // time spent processing readout pages
}

// New creates a new monitoring task from a validated configuration.
func New(cfg config.Task, msg log.MsgStream) (*Task, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("task: invalid configuration: %w", err)
	}

	geo, err := cfg.Table()
	if err != nil {
		return nil, fmt.Errorf("task: could not build geometry: %w", err)
	}

	agg := status.New(geo, msg)
	ctl, err := cycle.New(agg, cfg.ResetEveryNCycles, msg)
	if err != nil {
		return nil, fmt.Errorf("task: could not create cycle controller: %w", err)
	}
	ctl.OnReady(func(pub cycle.Publication) {
		msg.Debugf(
			"closing per-cycle window: run=%d, cycle=%d, faults=%d",
			pub.Run, pub.Cycle, pub.PerCycle.Global(status.Fault),
		)
	})

	return &Task{
		cfg: cfg,
		geo: geo,
		agg: agg,
		ctl: ctl,
		msg: msg,
	}, nil
}

// Config returns the configuration of the task.
func (t *Task) Config() config.Task { return t.cfg }

// Geometry returns the geometry used to decode readout pages.
func (t *Task) Geometry() *geom.Table { return t.geo }

// Aggregator returns the status aggregator of the task.
func (t *Task) Aggregator() *status.Aggregator { return t.agg }

// Stats returns the processing statistics accumulated so far.
func (t *Task) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// ProcessPage decodes a readout page and records its content.
// Decoding failures are logged, counted and skipped.
func (t *Task) ProcessPage(page *gbt.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processPage(page)
}

func (t *Task) processPage(page *gbt.Page) {
	start := time.Now()
	defer func() {
		t.stats.Elapsed += time.Since(start)
	}()
	t.stats.Pages++

	rdh := &page.RDH
	trgs, dets := gbt.Classify(*rdh)
	if rdh.PageCount == 0 && rdh.HasTrigger(gbt.TrgTF) {
		t.timeFrame(rdh.Orbit)
	}

	fee, err := t.geo.FEEIndex(rdh.FEEID)
	if err != nil {
		t.msg.Warnf("could not identify FEE of readout page: %+v", err)
		t.agg.RecordHeader(-1, trgs, dets)
		t.agg.RecordDecodeError(-1, fmt.Errorf("task: unknown FEE 0x%04x: %v: %w", rdh.FEEID, err, gbt.ErrUnknownWordID))
		return
	}
	t.agg.RecordHeader(fee, trgs, dets)
	_ = t.agg.RecordPayload(fee, len(page.Payload))

	if !t.cfg.ParsePayload(t.tfIndex(), uint64(rdh.Orbit-t.tfOrbit)) {
		t.stats.Skipped++
		return
	}

	payload := page.Payload
	if n := len(payload) % gbt.WordSize; n != 0 {
		err := fmt.Errorf(
			"task: FEE %d payload has %d trailing bytes: %w",
			fee, n, gbt.ErrMalformedWord,
		)
		t.msg.Warnf("%+v", err)
		t.agg.RecordDecodeError(fee, err)
		payload = payload[:len(payload)-n]
	}

	for beg := 0; beg < len(payload); beg += gbt.WordSize {
		t.stats.Words++
		t.processWord(fee, payload[beg:beg+gbt.WordSize])
	}
}

// timeFrame records the time frame starting at the provided orbit.
// All the readout links send the first page of a time frame: only the
// first one seen for an orbit opens a new time frame.
func (t *Task) timeFrame(orbit uint32) {
	if t.tfs > 0 && int32(orbit-t.tfOrbit) <= 0 {
		return
	}
	t.tfs++
	t.tfOrbit = orbit
	t.agg.RecordTimeFrame()
}

// tfIndex returns the index of the current time frame within the activity.
func (t *Task) tfIndex() uint64 {
	if t.tfs == 0 {
		return 0
	}
	return t.tfs - 1
}

func (t *Task) processWord(fee int, raw []byte) {
	id, err := gbt.WordID(raw)
	if err != nil {
		t.agg.RecordDecodeError(fee, err)
		return
	}

	switch id {
	case gbt.IDHeaderWord:
		if !t.cfg.EnableIHWReading {
			return
		}
		ihw, err := gbt.DecodeHeaderWord(raw)
		if err != nil {
			t.decodeError(fee, "header word", err)
			return
		}
		err = t.agg.RecordActiveLanes(fee, ihw)
		if err != nil {
			t.decodeError(fee, "header word", err)
		}

	case gbt.IDDiagnosticWord:
		evt, err := gbt.DecodeLaneStatus(raw, fee, t.geo)
		if err != nil {
			t.decodeError(fee, "diagnostic word", err)
			return
		}
		// lane errors are logged and counted by the aggregator.
		_ = t.agg.RecordLaneStatus(evt)

	case gbt.IDTrailerWord:
		tdt, err := gbt.DecodeTrailerWord(raw)
		if err != nil {
			t.decodeError(fee, "trailer word", err)
			return
		}
		err = t.agg.RecordTrailer(fee, tdt)
		if err != nil {
			t.decodeError(fee, "trailer word", err)
		}

	case gbt.IDCalibrationWord:
		if !t.cfg.DecodeCDW {
			return
		}
		cdw, err := gbt.DecodeCalibrationWord(raw)
		if err != nil {
			t.decodeError(fee, "calibration word", err)
			return
		}
		err = t.agg.RecordCalibration(fee, cdw.Fields)
		if err != nil {
			t.decodeError(fee, "calibration word", err)
		}
	}
}

func (t *Task) decodeError(fee int, name string, err error) {
	t.msg.Warnf("could not decode %s of FEE %d: %+v", name, fee, err)
	t.agg.RecordDecodeError(fee, err)
}

// ProcessStream decodes and processes all the readout pages of r.
// ProcessStream returns the number of processed pages.
func (t *Task) ProcessStream(r io.Reader) (int, error) {
	var (
		dec  = gbt.NewDecoder(r)
		page gbt.Page
		n    int
	)
	for {
		err := dec.Decode(&page)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			err = fmt.Errorf("task: could not decode readout page %d: %w", n, err)
			t.agg.RecordDecodeError(-1, err)
			return n, err
		}
		t.ProcessPage(&page)
		n++
	}
}

// StartOfActivity clears all counters and starts a new activity.
func (t *Task) StartOfActivity(run uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctl.StartOfActivity(run)
	t.tfs = 0
	t.tfOrbit = 0
}

// EndOfCycle signals a cycle boundary.
func (t *Task) EndOfCycle() (cycle.Publication, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctl.EndOfCycle()
}

// EndOfCycleAndRestart signals a cycle boundary coinciding with the
// start of a new activity.
func (t *Task) EndOfCycleAndRestart(run uint32) (cycle.Publication, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pub, err := t.ctl.EndOfCycleAndRestart(run)
	t.tfs = 0
	t.tfOrbit = 0
	return pub, err
}

// EndOfActivity publishes the counters one last time and stops the activity.
func (t *Task) EndOfActivity() (cycle.Publication, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctl.EndOfActivity()
}

// State returns the state of the cycle controller.
func (t *Task) State() cycle.State {
	return t.ctl.State()
}
