// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import (
	"fmt"
	"strings"

	"github.com/go-lpc/itsfee/geom"
	"golang.org/x/xerrors"
)

// TrailerFlag is a status bit of an ITS trailer word.
type TrailerFlag uint8

const (
	PacketDone TrailerFlag = iota
	TransmissionTimeout
	PacketOverflow
	LaneStartsViolation
	LaneTimeouts

	NTrailerFlags = int(LaneTimeouts) + 1
)

var trailerFlagNames = [NTrailerFlags]string{
	"PacketDone",
	"TransmissionTimeout",
	"PacketOverflow",
	"LaneStartsViolation",
	"LaneTimeouts",
}

func (f TrailerFlag) String() string {
	if int(f) < NTrailerFlags {
		return trailerFlagNames[f]
	}
	return fmt.Sprintf("TrailerFlag(%d)", uint8(f))
}

// Layout of an ITS trailer word (TDT).
var (
	fieldLaneStops    = Field{Shift: 0, Width: geom.NLanesMax}      // in word0
	fieldLaneTimeouts = Field{Shift: 28, Width: geom.NLanesMax}     // in word0
	fieldTDTFlags     = Field{Shift: 0, Width: uint(NTrailerFlags)} // in word1
)

// TrailerWord is an ITS trailer word (TDT), closing the payload of a
// readout link for one heart-beat frame.
type TrailerWord struct {
	LaneStops    uint32 // one bit per lane which sent its stop
	LaneTimeouts uint32 // one bit per lane which timed out
	Flags        uint8  // one bit per TrailerFlag
	ID           uint8
}

// Has reports whether the trailer flag is set.
func (tdt TrailerWord) Has(f TrailerFlag) bool {
	return tdt.Flags&(1<<f) != 0
}

// FlagNames returns the names of the trailer flags set, joined by '|'.
func (tdt TrailerWord) FlagNames() string {
	var names []string
	for f := TrailerFlag(0); int(f) < NTrailerFlags; f++ {
		if tdt.Has(f) {
			names = append(names, f.String())
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}

// DecodeTrailerWord decodes a 16-byte padded ITS trailer word.
func DecodeTrailerWord(raw []byte) (TrailerWord, error) {
	err := checkWord("trailer word", raw)
	if err != nil {
		return TrailerWord{}, err
	}
	w0, w1 := split(raw)
	id := uint8(fieldWordID.Get(w1))
	if id != IDTrailerWord {
		return TrailerWord{}, xerrors.Errorf(
			"gbt: invalid trailer word id (got=0x%02x, want=0x%02x): %w",
			id, IDTrailerWord, ErrUnknownWordID,
		)
	}
	return TrailerWord{
		LaneStops:    uint32(fieldLaneStops.Get(w0)),
		LaneTimeouts: uint32(fieldLaneTimeouts.Get(w0)),
		Flags:        uint8(fieldTDTFlags.Get(w1)),
		ID:           id,
	}, nil
}

// Encode encodes the trailer word into a 16-byte padded GBT word.
func (tdt TrailerWord) Encode(dst []byte) error {
	err := checkWord("trailer word", dst)
	if err != nil {
		return err
	}
	switch {
	case !fieldLaneStops.Fits(uint64(tdt.LaneStops)):
		return fmt.Errorf("gbt: lane stops 0x%x overflow %d bits", tdt.LaneStops, fieldLaneStops.Width)
	case !fieldLaneTimeouts.Fits(uint64(tdt.LaneTimeouts)):
		return fmt.Errorf("gbt: lane timeouts 0x%x overflow %d bits", tdt.LaneTimeouts, fieldLaneTimeouts.Width)
	case !fieldTDTFlags.Fits(uint64(tdt.Flags)):
		return fmt.Errorf("gbt: trailer flags 0x%x overflow %d bits", tdt.Flags, fieldTDTFlags.Width)
	}
	w0 := fieldLaneStops.Set(0, uint64(tdt.LaneStops))
	w0 = fieldLaneTimeouts.Set(w0, uint64(tdt.LaneTimeouts))
	w1 := fieldTDTFlags.Set(0, uint64(tdt.Flags))
	w1 = fieldWordID.Set(w1, uint64(tdt.ID))
	join(dst, w0, w1)
	return nil
}
