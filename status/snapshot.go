// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package status

import (
	"fmt"

	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
)

// counters is one tier of status counters.
type counters struct {
	lanes  []uint64 // [lane][flag], lanes in global order
	layers [geom.NLayers][NFlags]uint64
	parts  [geom.NPartitions][NFlags]uint64

	trgs [gbt.NTriggers]uint64
	dets [gbt.NDetFields]uint64
	errs [NErrKinds]uint64

	feeTrgs []uint64 // [fee][trigger]
	feeDets []uint64 // [fee][detfield]
	feeErrs []uint64 // [fee][errkind]
	feeCDWs []uint64 // [fee]
	calibs  []gbt.CalibrationFields
	active  []uint32 // last active lanes mask, per FEE

	tdts     [gbt.NTrailerFlags]uint64
	feeTDTs  []uint64 // [fee], trailer words
	feeFlags []uint64 // [fee][trailer flag]
	feeBytes []uint64 // [fee], payload bytes
	feePages []uint64 // [fee], readout pages

	tfs uint64 // time frames
}

// nfeeU64s is the number of per-FEE uint64 counters.
const nfeeU64s = gbt.NTriggers + gbt.NDetFields + NErrKinds + 1 + 1 + gbt.NTrailerFlags + 1 + 1

func newCounters(geo *geom.Table) *counters {
	nfees := geo.FEEs()
	return &counters{
		lanes:   make([]uint64, geo.Lanes()*NFlags),
		feeTrgs: make([]uint64, nfees*gbt.NTriggers),
		feeDets: make([]uint64, nfees*gbt.NDetFields),
		feeErrs: make([]uint64, nfees*NErrKinds),
		feeCDWs: make([]uint64, nfees),
		calibs:  make([]gbt.CalibrationFields, nfees),
		active:  make([]uint32, nfees),

		feeTDTs:  make([]uint64, nfees),
		feeFlags: make([]uint64, nfees*gbt.NTrailerFlags),
		feeBytes: make([]uint64, nfees),
		feePages: make([]uint64, nfees),
	}
}

func (c *counters) reset() {
	zero(c.lanes)
	c.layers = [geom.NLayers][NFlags]uint64{}
	c.parts = [geom.NPartitions][NFlags]uint64{}
	c.trgs = [gbt.NTriggers]uint64{}
	c.dets = [gbt.NDetFields]uint64{}
	c.errs = [NErrKinds]uint64{}
	zero(c.feeTrgs)
	zero(c.feeDets)
	zero(c.feeErrs)
	zero(c.feeCDWs)
	for i := range c.calibs {
		c.calibs[i] = gbt.CalibrationFields{}
	}
	for i := range c.active {
		c.active[i] = 0
	}
	c.tdts = [gbt.NTrailerFlags]uint64{}
	zero(c.feeTDTs)
	zero(c.feeFlags)
	zero(c.feeBytes)
	zero(c.feePages)
	c.tfs = 0
}

func (c *counters) clone() *counters {
	o := *c
	o.lanes = append([]uint64(nil), c.lanes...)
	o.feeTrgs = append([]uint64(nil), c.feeTrgs...)
	o.feeDets = append([]uint64(nil), c.feeDets...)
	o.feeErrs = append([]uint64(nil), c.feeErrs...)
	o.feeCDWs = append([]uint64(nil), c.feeCDWs...)
	o.calibs = append([]gbt.CalibrationFields(nil), c.calibs...)
	o.active = append([]uint32(nil), c.active...)
	o.feeTDTs = append([]uint64(nil), c.feeTDTs...)
	o.feeFlags = append([]uint64(nil), c.feeFlags...)
	o.feeBytes = append([]uint64(nil), c.feeBytes...)
	o.feePages = append([]uint64(nil), c.feePages...)
	return &o
}

func zero(vs []uint64) {
	for i := range vs {
		vs[i] = 0
	}
}

// Snapshot is an immutable copy of one tier of status counters.
type Snapshot struct {
	geo  *geom.Table
	tier Tier
	lofs [geom.NLayers]int // global index of the first lane of each layer
	c    *counters
}

func newSnapshot(geo *geom.Table, tier Tier, c *counters) *Snapshot {
	return &Snapshot{
		geo:  geo,
		tier: tier,
		lofs: laneOffsets(geo),
		c:    c,
	}
}

// NewSnapshot returns an empty snapshot over the provided geometry.
func NewSnapshot(geo *geom.Table, tier Tier) *Snapshot {
	return newSnapshot(geo, tier, newCounters(geo))
}

func laneOffsets(geo *geom.Table) [geom.NLayers]int {
	var (
		offs [geom.NLayers]int
		n    int
	)
	for i := range offs {
		offs[i] = n
		n += geo.Layer(i).LaneCapacity()
	}
	return offs
}

// Geometry returns the geometry the snapshot was taken over.
func (s *Snapshot) Geometry() *geom.Table { return s.geo }

// Tier returns the tier the snapshot was taken from.
func (s *Snapshot) Tier() Tier { return s.tier }

// Lane returns the number of times the lane was flagged with f.
// Lane panics if c does not locate a lane of the snapshot geometry.
func (s *Snapshot) Lane(c geom.Coord, f Flag) uint64 {
	return s.c.lanes[s.laneIndex(c)*NFlags+int(f)]
}

func (s *Snapshot) laneIndex(c geom.Coord) int {
	if c.Layer < 0 || c.Layer >= geom.NLayers {
		panic(fmt.Errorf("status: invalid lane coordinates %+v", c))
	}
	lay := s.geo.Layer(c.Layer)
	if c.Stave < 0 || c.Stave >= lay.Staves || c.Lane < 0 || c.Lane >= lay.LanesPerStave() {
		panic(fmt.Errorf("status: invalid lane coordinates %+v", c))
	}
	return s.lofs[c.Layer] + c.Stave*lay.LanesPerStave() + c.Lane
}

// Layer returns the number of lanes flagged with f in the layer.
func (s *Snapshot) Layer(layer int, f Flag) uint64 { return s.c.layers[layer][f] }

// Partition returns the number of lanes flagged with f in the partition.
func (s *Snapshot) Partition(p geom.Partition, f Flag) uint64 { return s.c.parts[p][f] }

// Global returns the number of lanes flagged with f in the whole detector.
func (s *Snapshot) Global(f Flag) uint64 { return s.c.parts[geom.Global][f] }

// Trigger returns the number of readout headers carrying the trigger.
func (s *Snapshot) Trigger(trg gbt.Trigger) uint64 { return s.c.trgs[trg] }

// DetField returns the number of readout headers carrying the detector flag.
func (s *Snapshot) DetField(df gbt.DetField) uint64 { return s.c.dets[df] }

// Errors returns the number of decoding errors of the provided kind.
func (s *Snapshot) Errors(k ErrKind) uint64 { return s.c.errs[k] }

// FEETrigger returns the number of readout headers from the FEE carrying the trigger.
func (s *Snapshot) FEETrigger(fee int, trg gbt.Trigger) uint64 {
	return s.c.feeTrgs[fee*gbt.NTriggers+int(trg)]
}

// FEEDetField returns the number of readout headers from the FEE carrying the detector flag.
func (s *Snapshot) FEEDetField(fee int, df gbt.DetField) uint64 {
	return s.c.feeDets[fee*gbt.NDetFields+int(df)]
}

// FEEErrors returns the number of decoding errors of the provided kind for the FEE.
func (s *Snapshot) FEEErrors(fee int, k ErrKind) uint64 {
	return s.c.feeErrs[fee*NErrKinds+int(k)]
}

// Calibrations returns the number of calibration words received from the
// FEE and the last decoded calibration fields.
func (s *Snapshot) Calibrations(fee int) (uint64, gbt.CalibrationFields) {
	return s.c.feeCDWs[fee], s.c.calibs[fee]
}

// ActiveLanes returns the last active lanes mask received from the FEE.
func (s *Snapshot) ActiveLanes(fee int) uint32 { return s.c.active[fee] }

// TimeFrames returns the number of time frames seen.
func (s *Snapshot) TimeFrames() uint64 { return s.c.tfs }

// TrailerFlag returns the number of trailer words carrying the flag.
func (s *Snapshot) TrailerFlag(f gbt.TrailerFlag) uint64 { return s.c.tdts[f] }

// Trailers returns the number of trailer words received from the FEE.
func (s *Snapshot) Trailers(fee int) uint64 { return s.c.feeTDTs[fee] }

// FEETrailerFlag returns the number of trailer words from the FEE carrying the flag.
func (s *Snapshot) FEETrailerFlag(fee int, f gbt.TrailerFlag) uint64 {
	return s.c.feeFlags[fee*gbt.NTrailerFlags+int(f)]
}

// Payload returns the number of payload bytes and readout pages received
// from the FEE.
func (s *Snapshot) Payload(fee int) (bytes, pages uint64) {
	return s.c.feeBytes[fee], s.c.feePages[fee]
}

// PayloadSize returns the average payload size, in bytes, of the readout
// pages received from the FEE.
func (s *Snapshot) PayloadSize(fee int) float64 {
	n, pages := s.Payload(fee)
	if pages == 0 {
		return 0
	}
	return float64(n) / float64(pages)
}

// Add merges the counters of o into s.
// Last-value quantities (calibration fields and active lanes) are taken
// from o when o holds any.
func (s *Snapshot) Add(o *Snapshot) error {
	if !sameGeometry(s.geo, o.geo) {
		return fmt.Errorf("status: can not merge snapshots with different geometries")
	}
	sum(s.c.lanes, o.c.lanes)
	for i := range s.c.layers {
		sum(s.c.layers[i][:], o.c.layers[i][:])
	}
	for i := range s.c.parts {
		sum(s.c.parts[i][:], o.c.parts[i][:])
	}
	sum(s.c.trgs[:], o.c.trgs[:])
	sum(s.c.dets[:], o.c.dets[:])
	sum(s.c.errs[:], o.c.errs[:])
	sum(s.c.feeTrgs, o.c.feeTrgs)
	sum(s.c.feeDets, o.c.feeDets)
	sum(s.c.feeErrs, o.c.feeErrs)
	for i, n := range o.c.feeCDWs {
		if n > 0 {
			s.c.calibs[i] = o.c.calibs[i]
		}
	}
	sum(s.c.feeCDWs, o.c.feeCDWs)
	for i, v := range o.c.active {
		if v != 0 {
			s.c.active[i] = v
		}
	}
	sum(s.c.tdts[:], o.c.tdts[:])
	sum(s.c.feeTDTs, o.c.feeTDTs)
	sum(s.c.feeFlags, o.c.feeFlags)
	sum(s.c.feeBytes, o.c.feeBytes)
	sum(s.c.feePages, o.c.feePages)
	s.c.tfs += o.c.tfs
	return nil
}

func sum(dst, src []uint64) {
	for i, v := range src {
		dst[i] += v
	}
}

func sameGeometry(a, b *geom.Table) bool {
	if a == b {
		return true
	}
	if a.FEEs() != b.FEEs() || a.Lanes() != b.Lanes() {
		return false
	}
	for i := 0; i < geom.NLayers; i++ {
		la, lb := a.Layer(i), b.Layer(i)
		if la.Staves != lb.Staves ||
			la.FEEsPerStave != lb.FEEsPerStave ||
			la.LanesPerFEE != lb.LanesPerFEE ||
			la.Partition != lb.Partition {
			return false
		}
		for j := range la.Windows {
			if la.Windows[j] != lb.Windows[j] {
				return false
			}
		}
	}
	return true
}
