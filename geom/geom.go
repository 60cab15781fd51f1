// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package geom describes the layer/stave/lane/FEE topology of the ITS
// detector, as seen by its readout links.
package geom // import "github.com/go-lpc/itsfee/geom"

import (
	"sort"

	"golang.org/x/xerrors"
)

const (
	NLayers   = 7  // number of detector layers
	NLanesMax = 28 // number of lanes carried by one diagnostic word

	MaxWordsPerFEE = 16                        // diagnostic words addressable by the 4-bit word index
	MaxLanesPerFEE = MaxWordsPerFEE * NLanesMax // lanes of a readout link
)

var (
	ErrFEEOutOfRange   = xerrors.New("geom: FEE identifier out of range")
	ErrLaneOutOfRange  = xerrors.New("geom: lane index out of range")
	ErrIndexOutOfRange = xerrors.New("geom: word index out of range")
	ErrInvalidTable    = xerrors.New("geom: invalid geometry table")
)

// Partition is a coarse grouping of layers.
type Partition int

const (
	InnerBarrel Partition = iota
	MiddleLayers
	OuterLayers
	Global

	NPartitions = int(Global) + 1
)

func (p Partition) String() string {
	switch p {
	case InnerBarrel:
		return "IB"
	case MiddleLayers:
		return "ML"
	case OuterLayers:
		return "OL"
	case Global:
		return "Global"
	}
	return "N/A"
}

// MarshalText implements encoding.TextMarshaler.
func (p Partition) MarshalText() ([]byte, error) {
	if p < InnerBarrel || p > Global {
		return nil, xerrors.Errorf("geom: invalid partition %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Partition) UnmarshalText(txt []byte) error {
	switch string(txt) {
	case "IB":
		*p = InnerBarrel
	case "ML":
		*p = MiddleLayers
	case "OL":
		*p = OuterLayers
	case "Global":
		*p = Global
	default:
		return xerrors.Errorf("geom: invalid partition name %q", txt)
	}
	return nil
}

// Window is the half-open range [Lo, Hi) of lane positions a readout
// link occupies within a diagnostic word.
type Window struct {
	Lo int `yaml:"lo"`
	Hi int `yaml:"hi"`
}

// Layer describes the readout topology of a single layer.
type Layer struct {
	Staves       int       `yaml:"staves"`         // number of staves
	FEEsPerStave int       `yaml:"fees_per_stave"` // number of readout links per stave
	LanesPerFEE  int       `yaml:"lanes_per_fee"`  // number of lanes per readout link
	Windows      []Window  `yaml:"windows"`        // lane window of each link position
	Partition    Partition `yaml:"partition"`
}

// LanesPerStave returns the number of lanes of a stave of that layer.
func (l Layer) LanesPerStave() int { return l.FEEsPerStave * l.LanesPerFEE }

// LaneCapacity returns the number of lanes of that layer.
func (l Layer) LaneCapacity() int { return l.Staves * l.LanesPerStave() }

// FEEs returns the number of readout links of that layer.
func (l Layer) FEEs() int { return l.Staves * l.FEEsPerStave }

// WordsPerFEE returns the number of diagnostic words needed to carry the
// status of all the lanes of one readout link.
func (l Layer) WordsPerFEE() int {
	return (l.LanesPerFEE + NLanesMax - 1) / NLanesMax
}

// Coord locates a lane in the detector.
type Coord struct {
	Layer int
	Stave int // stave index within the layer
	Lane  int // lane index within the stave
}

// Table is the immutable geometry of the detector.
// A Table is safe for concurrent use.
type Table struct {
	layers [NLayers]Layer
	lo     [NLayers]int // first global FEE index of each layer
	hi     [NLayers]int // last global FEE index of each layer
	staves [NLayers]int // global index of the first stave of each layer
	nfees  int
	nstvs  int
	nlanes int
}

// New creates a new geometry table from the provided layers description.
func New(layers [NLayers]Layer) (*Table, error) {
	tbl := &Table{layers: layers}
	for i := range tbl.layers {
		lay := &tbl.layers[i]
		lay.Windows = append([]Window(nil), lay.Windows...)
		err := validate(i, *lay)
		if err != nil {
			return nil, err
		}
		tbl.lo[i] = tbl.nfees
		tbl.nfees += lay.FEEs()
		tbl.hi[i] = tbl.nfees - 1
		tbl.staves[i] = tbl.nstvs
		tbl.nstvs += lay.Staves
		tbl.nlanes += lay.LaneCapacity()
	}
	return tbl, nil
}

func validate(i int, lay Layer) error {
	switch {
	case lay.Staves <= 0:
		return xerrors.Errorf("geom: layer %d has %d staves: %w", i, lay.Staves, ErrInvalidTable)
	case lay.FEEsPerStave <= 0:
		return xerrors.Errorf("geom: layer %d has %d FEEs per stave: %w", i, lay.FEEsPerStave, ErrInvalidTable)
	case lay.FEEsPerStave > 0xf+1:
		return xerrors.Errorf("geom: layer %d has too many FEEs per stave (%d): %w", i, lay.FEEsPerStave, ErrInvalidTable)
	case lay.Staves > 0xff+1:
		return xerrors.Errorf("geom: layer %d has too many staves (%d): %w", i, lay.Staves, ErrInvalidTable)
	case lay.LanesPerFEE <= 0:
		return xerrors.Errorf("geom: layer %d has %d lanes per FEE: %w", i, lay.LanesPerFEE, ErrInvalidTable)
	case lay.LanesPerFEE > MaxLanesPerFEE:
		return xerrors.Errorf(
			"geom: layer %d has too many lanes per FEE (%d > %d): %w",
			i, lay.LanesPerFEE, MaxLanesPerFEE, ErrInvalidTable,
		)
	case len(lay.Windows) != lay.FEEsPerStave:
		return xerrors.Errorf(
			"geom: layer %d has %d lane windows for %d FEEs per stave: %w",
			i, len(lay.Windows), lay.FEEsPerStave, ErrInvalidTable,
		)
	case lay.Partition < InnerBarrel || lay.Partition >= Global:
		return xerrors.Errorf("geom: layer %d has invalid partition %d: %w", i, lay.Partition, ErrInvalidTable)
	}

	width := lay.LanesPerFEE
	if width > NLanesMax {
		width = NLanesMax
	}
	for j, w := range lay.Windows {
		if w.Lo < 0 || w.Hi > NLanesMax || w.Hi-w.Lo != width {
			return xerrors.Errorf(
				"geom: layer %d link %d has invalid lane window [%d, %d) (want width=%d): %w",
				i, j, w.Lo, w.Hi, width, ErrInvalidTable,
			)
		}
	}
	return nil
}

// Layer returns the description of the i-th layer.
func (tbl *Table) Layer(i int) Layer {
	lay := tbl.layers[i]
	lay.Windows = append([]Window(nil), lay.Windows...)
	return lay
}

// FEEs returns the total number of readout links.
func (tbl *Table) FEEs() int { return tbl.nfees }

// Staves returns the total number of staves.
func (tbl *Table) Staves() int { return tbl.nstvs }

// Lanes returns the total number of lanes.
func (tbl *Table) Lanes() int { return tbl.nlanes }

// FEERange returns the first and last global FEE indices owned by a layer.
func (tbl *Table) FEERange(layer int) (lo, hi int) {
	return tbl.lo[layer], tbl.hi[layer]
}

// StaveOffset returns the global index of the first stave of a layer.
func (tbl *Table) StaveOffset(layer int) int {
	return tbl.staves[layer]
}

// PartitionOf returns the partition a layer belongs to.
func (tbl *Table) PartitionOf(layer int) Partition {
	return tbl.layers[layer].Partition
}

// LayerOf returns the layer owning the provided global FEE index.
func (tbl *Table) LayerOf(fee int) (int, error) {
	if fee < 0 || fee >= tbl.nfees {
		return -1, xerrors.Errorf("geom: no layer for FEE %d: %w", fee, ErrFEEOutOfRange)
	}
	return sort.SearchInts(tbl.hi[:], fee), nil
}

// WordsPerFEE returns the number of diagnostic words expected from a FEE.
func (tbl *Table) WordsPerFEE(fee int) (int, error) {
	layer, err := tbl.LayerOf(fee)
	if err != nil {
		return 0, err
	}
	return tbl.layers[layer].WordsPerFEE(), nil
}

// Locate returns the layer, stave and link position of a global FEE index.
func (tbl *Table) Locate(fee int) (layer, stave, link int, err error) {
	layer, err = tbl.LayerOf(fee)
	if err != nil {
		return -1, -1, -1, err
	}
	var (
		lay = tbl.layers[layer]
		pos = fee - tbl.lo[layer]
	)
	return layer, pos / lay.FEEsPerStave, pos % lay.FEEsPerStave, nil
}
