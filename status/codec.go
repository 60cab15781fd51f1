// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package status

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
)

const codecVersion = 2

// MarshalTDAQ encodes the snapshot, together with its geometry.
func (s *Snapshot) MarshalTDAQ() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)

	enc.WriteU8(codecVersion)
	enc.WriteU8(uint8(s.tier))
	for i := 0; i < geom.NLayers; i++ {
		lay := s.geo.Layer(i)
		enc.WriteU32(uint32(lay.Staves))
		enc.WriteU32(uint32(lay.FEEsPerStave))
		enc.WriteU32(uint32(lay.LanesPerFEE))
		enc.WriteU8(uint8(lay.Partition))
		for _, w := range lay.Windows {
			enc.WriteU8(uint8(w.Lo))
			enc.WriteU8(uint8(w.Hi))
		}
	}

	c := s.c
	writeU64s(enc, c.lanes)
	for i := range c.layers {
		writeU64s(enc, c.layers[i][:])
	}
	for i := range c.parts {
		writeU64s(enc, c.parts[i][:])
	}
	writeU64s(enc, c.trgs[:])
	writeU64s(enc, c.dets[:])
	writeU64s(enc, c.errs[:])
	writeU64s(enc, c.feeTrgs)
	writeU64s(enc, c.feeDets)
	writeU64s(enc, c.feeErrs)
	writeU64s(enc, c.feeCDWs)
	for _, cf := range c.calibs {
		enc.WriteU32(uint32(cf.Row))
		enc.WriteU8(cf.RunType)
		enc.WriteU32(uint32(cf.Loop))
		enc.WriteU32(uint32(cf.ConfDB))
		enc.WriteU8(cf.Version)
	}
	for _, v := range c.active {
		enc.WriteU32(v)
	}
	writeU64s(enc, c.tdts[:])
	writeU64s(enc, c.feeTDTs)
	writeU64s(enc, c.feeFlags)
	writeU64s(enc, c.feeBytes)
	writeU64s(enc, c.feePages)
	enc.WriteU64(c.tfs)

	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("status: could not encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func writeU64s(enc *tdaq.Encoder, vs []uint64) {
	enc.WriteU32(uint32(len(vs)))
	for _, v := range vs {
		enc.WriteU64(v)
	}
}

// UnmarshalTDAQ decodes a snapshot previously encoded with MarshalTDAQ.
func (s *Snapshot) UnmarshalTDAQ(p []byte) error {
	r := bytes.NewReader(p)
	dec := tdaq.NewDecoder(r)

	vers := dec.ReadU8()
	if err := dec.Err(); err != nil {
		return fmt.Errorf("status: could not decode snapshot version: %w", err)
	}
	if vers != codecVersion {
		return fmt.Errorf("status: invalid snapshot version (got=%d, want=%d)", vers, codecVersion)
	}

	tier := Tier(dec.ReadU8())
	var layers [geom.NLayers]geom.Layer
	for i := range layers {
		lay := &layers[i]
		lay.Staves = int(dec.ReadU32())
		lay.FEEsPerStave = int(dec.ReadU32())
		lay.LanesPerFEE = int(dec.ReadU32())
		lay.Partition = geom.Partition(dec.ReadU8())
		if err := dec.Err(); err != nil {
			return fmt.Errorf("status: could not decode layer %d: %w", i, err)
		}
		if lay.FEEsPerStave < 0 || lay.FEEsPerStave > 16 {
			return fmt.Errorf("status: invalid number of FEEs per stave %d", lay.FEEsPerStave)
		}
		lay.Windows = make([]geom.Window, lay.FEEsPerStave)
		for j := range lay.Windows {
			lay.Windows[j].Lo = int(dec.ReadU8())
			lay.Windows[j].Hi = int(dec.ReadU8())
		}
	}
	if err := dec.Err(); err != nil {
		return fmt.Errorf("status: could not decode geometry: %w", err)
	}
	if tier < PerCycle || int(tier) >= NTiers {
		return fmt.Errorf("status: invalid snapshot tier %d", tier)
	}

	geo, err := geom.New(layers)
	if err != nil {
		return fmt.Errorf("status: could not rebuild geometry: %w", err)
	}
	if sameGeometry(geo, geom.Default()) {
		geo = geom.Default()
	}

	if need := encodedSize(geo); int64(r.Len()) < need {
		return fmt.Errorf(
			"status: snapshot payload too short for its geometry (got=%d, want=%d bytes): %w",
			r.Len(), need, io.ErrUnexpectedEOF,
		)
	}

	c := newCounters(geo)
	rd := u64sReader{dec: dec}
	rd.read("lanes", c.lanes)
	for i := range c.layers {
		rd.read("layers", c.layers[i][:])
	}
	for i := range c.parts {
		rd.read("partitions", c.parts[i][:])
	}
	rd.read("triggers", c.trgs[:])
	rd.read("detector fields", c.dets[:])
	rd.read("errors", c.errs[:])
	rd.read("FEE triggers", c.feeTrgs)
	rd.read("FEE detector fields", c.feeDets)
	rd.read("FEE errors", c.feeErrs)
	rd.read("FEE calibration words", c.feeCDWs)
	if rd.err != nil {
		return rd.err
	}
	for i := range c.calibs {
		c.calibs[i] = gbt.CalibrationFields{
			Row:     uint16(dec.ReadU32()),
			RunType: dec.ReadU8(),
			Loop:    uint16(dec.ReadU32()),
			ConfDB:  uint16(dec.ReadU32()),
			Version: dec.ReadU8(),
		}
	}
	for i := range c.active {
		c.active[i] = dec.ReadU32()
	}
	if err := dec.Err(); err != nil {
		return fmt.Errorf("status: could not decode snapshot: %w", err)
	}
	rd.read("trailer flags", c.tdts[:])
	rd.read("FEE trailer words", c.feeTDTs)
	rd.read("FEE trailer flags", c.feeFlags)
	rd.read("FEE payload bytes", c.feeBytes)
	rd.read("FEE readout pages", c.feePages)
	if rd.err != nil {
		return rd.err
	}
	c.tfs = dec.ReadU64()
	if err := dec.Err(); err != nil {
		return fmt.Errorf("status: could not decode snapshot: %w", err)
	}

	*s = *newSnapshot(geo, tier, c)
	return nil
}

// calibSize is the encoded size of one calibration fields record.
const calibSize = 4 + 1 + 4 + 4 + 1

// encodedSize returns the size in bytes of the counters of a snapshot over
// geo, as written after the geometry.
func encodedSize(geo *geom.Table) int64 {
	const (
		arrays = 1 + geom.NLayers + geom.NPartitions + 3 + 4 + 1 + 4 // length-prefixed
		fixed  = (geom.NLayers+geom.NPartitions)*NFlags +
			gbt.NTriggers + gbt.NDetFields + NErrKinds + gbt.NTrailerFlags
	)
	var (
		nfees  = int64(geo.FEEs())
		nlanes = int64(geo.Lanes())
	)
	n := int64(4*arrays + 8*fixed + 8)
	n += 8 * nlanes * int64(NFlags)
	n += nfees * int64(8*nfeeU64s+calibSize+4)
	return n
}

type u64sReader struct {
	dec *tdaq.Decoder
	err error
}

func (r *u64sReader) read(name string, dst []uint64) {
	if r.err != nil {
		return
	}
	n := int(r.dec.ReadU32())
	if err := r.dec.Err(); err != nil {
		r.err = fmt.Errorf("status: could not decode %s: %w", name, err)
		return
	}
	if n != len(dst) {
		r.err = fmt.Errorf("status: invalid number of %s counters (got=%d, want=%d)", name, n, len(dst))
		return
	}
	for i := range dst {
		dst[i] = r.dec.ReadU64()
	}
	if err := r.dec.Err(); err != nil {
		r.err = fmt.Errorf("status: could not decode %s: %w", name, err)
	}
}
