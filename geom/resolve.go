// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package geom

import (
	"golang.org/x/xerrors"
)

// Resolve maps the lane at position bit of the word-th diagnostic word
// sent by the FEE with global index fee to its detector coordinates.
func (tbl *Table) Resolve(fee, bit, word int) (Coord, error) {
	layer, stave, link, err := tbl.Locate(fee)
	if err != nil {
		return Coord{}, err
	}

	lay := &tbl.layers[layer]
	if word < 0 || word >= lay.WordsPerFEE() {
		return Coord{}, xerrors.Errorf(
			"geom: FEE %d word index %d not in [0, %d): %w",
			fee, word, lay.WordsPerFEE(), ErrIndexOutOfRange,
		)
	}

	win := lay.Windows[link]
	if bit < win.Lo || bit >= win.Hi {
		return Coord{}, xerrors.Errorf(
			"geom: FEE %d lane position %d outside link window [%d, %d): %w",
			fee, bit, win.Lo, win.Hi, ErrLaneOutOfRange,
		)
	}

	off := word*NLanesMax + bit - win.Lo
	if off >= lay.LanesPerFEE {
		return Coord{}, xerrors.Errorf(
			"geom: FEE %d lane %d (word=%d) beyond %d lanes per FEE: %w",
			fee, off, word, lay.LanesPerFEE, ErrLaneOutOfRange,
		)
	}

	return Coord{
		Layer: layer,
		Stave: stave,
		Lane:  link*lay.LanesPerFEE + off,
	}, nil
}

// FEEIndex converts a hardware FEE identifier, as found in readout
// headers, into a global FEE index.
//
// The hardware identifier is laid out as:
//
//	bits 12-14: layer
//	bits  8-11: link position within the stave
//	bits  0- 7: stave
func (tbl *Table) FEEIndex(hwid uint16) (int, error) {
	var (
		layer = int(hwid>>12) & 0x7
		link  = int(hwid>>8) & 0xf
		stave = int(hwid) & 0xff
	)
	if layer >= NLayers {
		return -1, xerrors.Errorf("geom: FEE id 0x%04x has invalid layer %d: %w", hwid, layer, ErrFEEOutOfRange)
	}
	lay := &tbl.layers[layer]
	if stave >= lay.Staves || link >= lay.FEEsPerStave {
		return -1, xerrors.Errorf(
			"geom: FEE id 0x%04x (layer=%d, stave=%d, link=%d) not in geometry: %w",
			hwid, layer, stave, link, ErrFEEOutOfRange,
		)
	}
	return tbl.lo[layer] + stave*lay.FEEsPerStave + link, nil
}

// HardwareID converts a global FEE index into its hardware identifier.
func (tbl *Table) HardwareID(fee int) (uint16, error) {
	layer, stave, link, err := tbl.Locate(fee)
	if err != nil {
		return 0, err
	}
	return uint16(layer<<12 | link<<8 | stave), nil
}
