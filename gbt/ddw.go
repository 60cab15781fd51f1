// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import (
	"fmt"
	"math/bits"

	"github.com/go-lpc/itsfee/geom"
	"golang.org/x/xerrors"
)

// LaneStatus is the 2-bit status code of a lane.
type LaneStatus uint8

const (
	LaneOK LaneStatus = iota
	LaneWarning
	LaneError
	LaneFault
)

func (st LaneStatus) String() string {
	switch st {
	case LaneOK:
		return "OK"
	case LaneWarning:
		return "WARNING"
	case LaneError:
		return "ERROR"
	case LaneFault:
		return "FAULT"
	}
	return fmt.Sprintf("LaneStatus(%d)", uint8(st))
}

// Layout of a diagnostic word (DDW).
var (
	fieldLaneStatus = Field{Shift: 0, Width: 2 * geom.NLanesMax} // in word0
	fieldDDWZero    = Field{Shift: 56, Width: 8}                 // in word0, must be zero
	fieldFlag1      = Field{Shift: 0, Width: 4}                  // in word1

	// word index, wide enough to address geom.MaxWordsPerFEE words. In word1.
	fieldIndex = Field{Shift: 4, Width: uint(bits.Len(geom.MaxWordsPerFEE - 1))}
)

// laneField returns the bit-field holding the status of the i-th lane.
func laneField(i int) Field {
	return Field{Shift: uint(2 * i), Width: 2}
}

// DiagnosticWord is the geometry-free content of a diagnostic word.
type DiagnosticWord struct {
	Lanes [geom.NLanesMax]LaneStatus
	Flag1 uint8 // reserved flags, decoded but not interpreted
	Index uint8 // word index for FEEs with more than 28 lanes
	ID    uint8
}

// DecodeDiagnosticWord extracts the fields of a 16-byte padded
// diagnostic word. It does not check the word identifier.
func DecodeDiagnosticWord(raw []byte) (DiagnosticWord, error) {
	var ddw DiagnosticWord
	err := checkWord("diagnostic word", raw)
	if err != nil {
		return ddw, err
	}

	w0, w1 := split(raw)
	if v := fieldDDWZero.Get(w0); v != 0 {
		return ddw, xerrors.Errorf(
			"gbt: diagnostic word has non-zero reserved bits (0x%02x): %w",
			v, ErrMalformedWord,
		)
	}

	lanes := fieldLaneStatus.Get(w0)
	for i := range ddw.Lanes {
		ddw.Lanes[i] = LaneStatus(laneField(i).Get(lanes))
	}
	ddw.Flag1 = uint8(fieldFlag1.Get(w1))
	ddw.Index = uint8(fieldIndex.Get(w1))
	ddw.ID = uint8(fieldWordID.Get(w1))
	return ddw, nil
}

// Encode encodes the diagnostic word into a 16-byte padded GBT word.
func (ddw DiagnosticWord) Encode(dst []byte) error {
	err := checkWord("diagnostic word", dst)
	if err != nil {
		return err
	}
	switch {
	case !fieldFlag1.Fits(uint64(ddw.Flag1)):
		return fmt.Errorf("gbt: flag1 0x%x overflows %d bits", ddw.Flag1, fieldFlag1.Width)
	case !fieldIndex.Fits(uint64(ddw.Index)):
		return fmt.Errorf("gbt: index %d overflows %d bits", ddw.Index, fieldIndex.Width)
	}

	var w0, w1 uint64
	for i, st := range ddw.Lanes {
		if st > LaneFault {
			return fmt.Errorf("gbt: lane %d has invalid status %d", i, st)
		}
		w0 = laneField(i).Set(w0, uint64(st))
	}
	w1 = fieldFlag1.Set(w1, uint64(ddw.Flag1))
	w1 = fieldIndex.Set(w1, uint64(ddw.Index))
	w1 = fieldWordID.Set(w1, uint64(ddw.ID))
	join(dst, w0, w1)
	return nil
}

// LaneStatusEvent is a diagnostic word attributed to a FEE.
type LaneStatusEvent struct {
	FEE   int // global FEE index
	Index int // word index
	Flag1 uint8
	Lanes [geom.NLanesMax]LaneStatus
}

// DecodeLaneStatus decodes a diagnostic word sent by the FEE with global
// index fee, and validates it against the provided geometry.
func DecodeLaneStatus(raw []byte, fee int, geo *geom.Table) (LaneStatusEvent, error) {
	ddw, err := DecodeDiagnosticWord(raw)
	if err != nil {
		return LaneStatusEvent{}, err
	}

	if ddw.ID != IDDiagnosticWord {
		return LaneStatusEvent{}, xerrors.Errorf(
			"gbt: invalid diagnostic word id (got=0x%02x, want=0x%02x): %w",
			ddw.ID, IDDiagnosticWord, ErrUnknownWordID,
		)
	}

	n, err := geo.WordsPerFEE(fee)
	if err != nil {
		return LaneStatusEvent{}, xerrors.Errorf(
			"gbt: diagnostic word from unknown FEE %d: %v: %w",
			fee, err, ErrUnknownWordID,
		)
	}

	if int(ddw.Index) >= n {
		return LaneStatusEvent{}, xerrors.Errorf(
			"gbt: FEE %d diagnostic word index %d not in [0, %d): %w",
			fee, ddw.Index, n, geom.ErrIndexOutOfRange,
		)
	}

	return LaneStatusEvent{
		FEE:   fee,
		Index: int(ddw.Index),
		Flag1: ddw.Flag1,
		Lanes: ddw.Lanes,
	}, nil
}
