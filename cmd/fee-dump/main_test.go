// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
)

func encodeWords(t *testing.T, words ...interface{ Encode([]byte) error }) []byte {
	t.Helper()
	var out []byte
	for _, w := range words {
		raw := make([]byte, gbt.WordSize)
		err := w.Encode(raw)
		if err != nil {
			t.Fatalf("could not encode word: %+v", err)
		}
		out = append(out, raw...)
	}
	return out
}

func TestProcess(t *testing.T) {
	tmp, err := os.MkdirTemp("", "itsfee-fee-dump-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	var ddw gbt.DiagnosticWord
	ddw.ID = gbt.IDDiagnosticWord
	ddw.Lanes[17] = gbt.LaneError
	ddw.Lanes[24] = gbt.LaneFault

	pages := []gbt.Page{
		{
			RDH: gbt.RDH{
				Version:     7,
				FEEID:       0x3101,
				Orbit:       12345,
				BC:          100,
				TriggerType: 1<<1 | 1<<11,
			},
			Payload: encodeWords(t,
				gbt.HeaderWord{ActiveLanes: 0xff, ID: gbt.IDHeaderWord},
				ddw,
				gbt.TrailerWord{
					LaneStops: 0xff,
					Flags:     1<<gbt.PacketDone | 1<<gbt.TransmissionTimeout,
					ID:        gbt.IDTrailerWord,
				},
			),
		},
		{
			RDH: gbt.RDH{
				Version:   7,
				FEEID:     0x7000,
				PageCount: 1,
				Stop:      1,
				DetField:  1 << 2,
			},
			Payload: append(encodeWords(t,
				gbt.CalibrationWord{
					Fields:  gbt.CalibrationFields{Row: 300, RunType: 5, Loop: 1234, ConfDB: 42, Version: 3},
					Counter: 7,
					ID:      gbt.IDCalibrationWord,
				},
			), make([]byte, gbt.WordSize)...),
		},
	}

	for _, tc := range []struct {
		name  string
		pages []gbt.Page
		raw   []byte
		want  string
		err   error
	}{
		{
			name:  "pages",
			pages: pages,
			want: `=== page 0: FEE-ID 0x3101 ===
FEE:             147 (L3_01 link 1)
Orbit:         12345
BC:              100
Page:              0
Stop:              0
Triggers: [HB TF]
DetField: []
Words:             3
  [000] IHW active=0x00000ff
  [001] DDW index=0 flag1=0x0 lanes=.................E......F...
  [002] TDT stops=0x00000ff timeouts=0x0000000 flags=PacketDone|TransmissionTimeout
=== page 1: FEE-ID 0x7000 ===
FEE:             N/A
Orbit:             0
BC:                0
Page:              1
Stop:              1
Triggers: []
DetField: [Error]
Words:             2
  [000] CDW row=300 run-type=5 loop=1234 confdb=42 version=3 counter=7
  [001] 0x00 00000000000000000000000000000000
`,
		},
		{
			name: "truncated",
			raw:  []byte{7, 64, 0x01, 0x31},
			err: fmt.Errorf(
				"could not decode readout page: gbt: could not read readout header: %w",
				io.ErrUnexpectedEOF,
			),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(tmp, tc.name+".raw")
			f, err := os.Create(fname)
			if err != nil {
				t.Fatalf("could not create raw file: %+v", err)
			}
			defer f.Close()

			switch {
			case tc.raw != nil:
				_, err = f.Write(tc.raw)
				if err != nil {
					t.Fatalf("could not write raw file: %+v", err)
				}
			default:
				enc := gbt.NewEncoder(f)
				for i := range tc.pages {
					err = enc.Encode(&tc.pages[i])
					if err != nil {
						t.Fatalf("could not encode page %d: %+v", i, err)
					}
				}
			}

			err = f.Close()
			if err != nil {
				t.Fatalf("could not close raw file: %+v", err)
			}

			out := new(strings.Builder)
			err = process(out, fname, geom.Default())
			switch {
			case err != nil && tc.err != nil:
				if got, want := err.Error(), tc.err.Error(); got != want {
					t.Fatalf("invalid error:\ngot= %v\nwant=%v\n", got, want)
				}
			case err != nil && tc.err == nil:
				t.Fatalf("could not fee-dump: %+v", err)
			case err == nil && tc.err == nil:
				if got, want := out.String(), tc.want; got != want {
					t.Fatalf("invalid fee-dump output:\ngot:\n%s\nwant:\n%s\n", got, want)
				}
			case err == nil && tc.err != nil:
				t.Fatalf("invalid error:\ngot= %v\nwant=%v\n", err, tc.err)
			}
		})
	}
}
