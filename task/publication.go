// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package task

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/itsfee/cycle"
	"github.com/go-lpc/itsfee/status"
)

// MarshalPublication encodes a publication into the payload of the /qc
// output port.
func MarshalPublication(pub cycle.Publication) ([]byte, error) {
	if pub.PerCycle == nil || pub.Cumulative == nil {
		return nil, fmt.Errorf("task: publication without snapshots")
	}

	pc, err := pub.PerCycle.MarshalTDAQ()
	if err != nil {
		return nil, fmt.Errorf("task: could not encode per-cycle snapshot: %w", err)
	}
	cu, err := pub.Cumulative.MarshalTDAQ()
	if err != nil {
		return nil, fmt.Errorf("task: could not encode cumulative snapshot: %w", err)
	}

	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(pub.Run)
	enc.WriteU64(uint64(pub.Cycle))
	final := uint8(0)
	if pub.Final {
		final = 1
	}
	enc.WriteU8(final)
	enc.WriteU32(uint32(len(pc)))
	enc.WriteU32(uint32(len(cu)))
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("task: could not encode publication: %w", err)
	}
	buf.Write(pc)
	buf.Write(cu)

	return buf.Bytes(), nil
}

// UnmarshalPublication decodes a publication encoded with MarshalPublication.
func UnmarshalPublication(p []byte) (cycle.Publication, error) {
	var (
		pub cycle.Publication
		r   = bytes.NewReader(p)
		dec = tdaq.NewDecoder(r)
	)

	pub.Run = dec.ReadU32()
	pub.Cycle = int64(dec.ReadU64())
	pub.Final = dec.ReadU8() == 1
	npc := int(dec.ReadU32())
	ncu := int(dec.ReadU32())
	if err := dec.Err(); err != nil {
		return pub, fmt.Errorf("task: could not decode publication header: %w", err)
	}
	if npc+ncu != r.Len() {
		return pub, fmt.Errorf(
			"task: invalid publication payload size (got=%d, want=%d): %w",
			r.Len(), npc+ncu, io.ErrUnexpectedEOF,
		)
	}

	raw := make([]byte, npc+ncu)
	_, err := io.ReadFull(r, raw)
	if err != nil {
		return pub, fmt.Errorf("task: could not read publication snapshots: %w", err)
	}

	pub.PerCycle = new(status.Snapshot)
	err = pub.PerCycle.UnmarshalTDAQ(raw[:npc])
	if err != nil {
		return pub, fmt.Errorf("task: could not decode per-cycle snapshot: %w", err)
	}
	pub.Cumulative = new(status.Snapshot)
	err = pub.Cumulative.UnmarshalTDAQ(raw[npc:])
	if err != nil {
		return pub, fmt.Errorf("task: could not decode cumulative snapshot: %w", err)
	}

	return pub, nil
}
