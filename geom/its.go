// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package geom

import "fmt"

var its = mustNew(ITSLayers())

// Default returns the geometry of the ITS detector.
func Default() *Table { return its }

// ITSLayers returns the layers description of the ITS detector.
func ITSLayers() [NLayers]Layer {
	var (
		ib = []Window{{0, 3}, {3, 6}, {6, 9}}
		ml = []Window{{3, 11}, {17, 25}}
		ol = []Window{{0, 14}, {14, 28}}
	)
	return [NLayers]Layer{
		{Staves: 12, FEEsPerStave: 3, LanesPerFEE: 3, Windows: ib, Partition: InnerBarrel},
		{Staves: 16, FEEsPerStave: 3, LanesPerFEE: 3, Windows: ib, Partition: InnerBarrel},
		{Staves: 20, FEEsPerStave: 3, LanesPerFEE: 3, Windows: ib, Partition: InnerBarrel},
		{Staves: 24, FEEsPerStave: 2, LanesPerFEE: 8, Windows: ml, Partition: MiddleLayers},
		{Staves: 30, FEEsPerStave: 2, LanesPerFEE: 8, Windows: ml, Partition: MiddleLayers},
		{Staves: 42, FEEsPerStave: 2, LanesPerFEE: 14, Windows: ol, Partition: OuterLayers},
		{Staves: 48, FEEsPerStave: 2, LanesPerFEE: 14, Windows: ol, Partition: OuterLayers},
	}
}

func mustNew(layers [NLayers]Layer) *Table {
	tbl, err := New(layers)
	if err != nil {
		panic(fmt.Errorf("geom: could not create default geometry: %w", err))
	}
	return tbl
}
