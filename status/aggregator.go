// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package status

import (
	"fmt"
	"sync"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
)

// Aggregator owns the two tiers of status counters.
// Aggregator is safe for concurrent use.
type Aggregator struct {
	geo *geom.Table
	msg log.MsgStream

	lofs  [geom.NLayers]int
	lps   [geom.NLayers]int // lanes per stave
	parts [geom.NLayers]geom.Partition

	mu    sync.Mutex
	tiers [NTiers]*counters
}

// New creates a new aggregator over the provided geometry.
// Lane-level data-quality issues are reported to msg.
func New(geo *geom.Table, msg log.MsgStream) *Aggregator {
	agg := &Aggregator{
		geo:  geo,
		msg:  msg,
		lofs: laneOffsets(geo),
	}
	for i := range agg.lps {
		agg.lps[i] = geo.Layer(i).LanesPerStave()
		agg.parts[i] = geo.PartitionOf(i)
	}
	for i := range agg.tiers {
		agg.tiers[i] = newCounters(geo)
	}
	return agg
}

// Geometry returns the geometry of the aggregator.
func (agg *Aggregator) Geometry() *geom.Table { return agg.geo }

// RecordLaneStatus records the non-OK lanes of a decoded diagnostic word
// into both tiers.
//
// A word index outside the FEE capacity rejects the whole event.
// Otherwise lanes that can not be resolved are skipped and reported in
// the returned *LaneErrors, while the other lanes are recorded.
func (agg *Aggregator) RecordLaneStatus(evt gbt.LaneStatusEvent) error {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	n, err := agg.geo.WordsPerFEE(evt.FEE)
	if err != nil {
		agg.recordError(-1, err)
		return fmt.Errorf("status: could not record lane status: %w", err)
	}
	if evt.Index < 0 || evt.Index >= n {
		err = fmt.Errorf(
			"status: FEE %d word index %d not in [0, %d): %w",
			evt.FEE, evt.Index, n, geom.ErrIndexOutOfRange,
		)
		agg.recordError(evt.FEE, err)
		return err
	}

	var errs []*LaneError
	for bit, st := range evt.Lanes {
		flag, ok := FlagOf(st)
		if !ok {
			continue
		}
		c, err := agg.geo.Resolve(evt.FEE, bit, evt.Index)
		if err != nil {
			lerr := &LaneError{FEE: evt.FEE, Word: evt.Index, Bit: bit, Err: err}
			agg.recordError(evt.FEE, lerr)
			agg.msg.Warnf("could not record %v lane: %+v", flag, lerr)
			errs = append(errs, lerr)
			continue
		}
		lane := agg.lofs[c.Layer] + c.Stave*agg.lps[c.Layer] + c.Lane
		part := agg.parts[c.Layer]
		for _, tier := range agg.tiers {
			tier.lanes[lane*NFlags+int(flag)]++
			tier.layers[c.Layer][flag]++
			tier.parts[part][flag]++
			tier.parts[geom.Global][flag]++
		}
	}

	if len(errs) > 0 {
		return &LaneErrors{Errs: errs}
	}
	return nil
}

// RecordHeader records the trigger categories and detector flags of a
// readout header. A negative fee only updates the detector-wide tables.
func (agg *Aggregator) RecordHeader(fee int, trgs []gbt.Trigger, dets []gbt.DetField) {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	if fee >= agg.geo.FEEs() {
		agg.msg.Warnf("readout header from unknown FEE %d", fee)
		fee = -1
	}

	for _, tier := range agg.tiers {
		for _, trg := range trgs {
			tier.trgs[trg]++
			if fee >= 0 {
				tier.feeTrgs[fee*gbt.NTriggers+int(trg)]++
			}
		}
		for _, df := range dets {
			tier.dets[df]++
			if fee >= 0 {
				tier.feeDets[fee*gbt.NDetFields+int(df)]++
			}
		}
	}
}

// RecordDecodeError counts a decoding error. A negative fee only updates
// the detector-wide table.
func (agg *Aggregator) RecordDecodeError(fee int, err error) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	agg.recordError(fee, err)
}

func (agg *Aggregator) recordError(fee int, err error) {
	k := KindOf(err)
	if fee >= agg.geo.FEEs() {
		fee = -1
	}
	for _, tier := range agg.tiers {
		tier.errs[k]++
		if fee >= 0 {
			tier.feeErrs[fee*NErrKinds+int(k)]++
		}
	}
}

// RecordCalibration records a calibration word received from the FEE.
func (agg *Aggregator) RecordCalibration(fee int, cf gbt.CalibrationFields) error {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	if fee < 0 || fee >= agg.geo.FEEs() {
		return fmt.Errorf("status: calibration word from unknown FEE %d: %w", fee, geom.ErrFEEOutOfRange)
	}
	for _, tier := range agg.tiers {
		tier.feeCDWs[fee]++
		tier.calibs[fee] = cf
	}
	return nil
}

// RecordActiveLanes records the active lanes mask of an ITS header word
// received from the FEE.
func (agg *Aggregator) RecordActiveLanes(fee int, ihw gbt.HeaderWord) error {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	if fee < 0 || fee >= agg.geo.FEEs() {
		return fmt.Errorf("status: header word from unknown FEE %d: %w", fee, geom.ErrFEEOutOfRange)
	}
	for _, tier := range agg.tiers {
		tier.active[fee] = ihw.ActiveLanes
	}
	return nil
}

// RecordTimeFrame counts a new time frame.
func (agg *Aggregator) RecordTimeFrame() {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	for _, tier := range agg.tiers {
		tier.tfs++
	}
}

// RecordTrailer records a trailer word received from a FEE.
func (agg *Aggregator) RecordTrailer(fee int, tdt gbt.TrailerWord) error {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	if fee < 0 || fee >= agg.geo.FEEs() {
		return fmt.Errorf("status: trailer word from unknown FEE %d: %w", fee, geom.ErrFEEOutOfRange)
	}
	for _, tier := range agg.tiers {
		tier.feeTDTs[fee]++
		for f := gbt.TrailerFlag(0); int(f) < gbt.NTrailerFlags; f++ {
			if !tdt.Has(f) {
				continue
			}
			tier.tdts[f]++
			tier.feeFlags[fee*gbt.NTrailerFlags+int(f)]++
		}
	}
	return nil
}

// RecordPayload records a readout page of n payload bytes received from a FEE.
func (agg *Aggregator) RecordPayload(fee, n int) error {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	if fee < 0 || fee >= agg.geo.FEEs() {
		return fmt.Errorf("status: payload from unknown FEE %d: %w", fee, geom.ErrFEEOutOfRange)
	}
	for _, tier := range agg.tiers {
		tier.feeBytes[fee] += uint64(n)
		tier.feePages[fee]++
	}
	return nil
}

// Snapshot returns a deep copy of the requested tier.
func (agg *Aggregator) Snapshot(tier Tier) *Snapshot {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	return agg.snapshot(tier)
}

func (agg *Aggregator) snapshot(tier Tier) *Snapshot {
	return newSnapshot(agg.geo, tier, agg.tiers[tier].clone())
}

// Reset zeroes every counter of the requested tier.
func (agg *Aggregator) Reset(tier Tier) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	agg.tiers[tier].reset()
}

// ResetAll zeroes every counter of both tiers.
func (agg *Aggregator) ResetAll() {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	for _, tier := range agg.tiers {
		tier.reset()
	}
}

// EndCycle snapshots both tiers and, if resetPerCycle is set, zeroes the
// per-cycle tier, as one atomic operation.
func (agg *Aggregator) EndCycle(resetPerCycle bool) (perCycle, cumulative *Snapshot) {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	perCycle = agg.snapshot(PerCycle)
	cumulative = agg.snapshot(Cumulative)
	if resetPerCycle {
		agg.tiers[PerCycle].reset()
	}
	return perCycle, cumulative
}
