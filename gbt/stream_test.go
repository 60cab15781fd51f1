// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func TestRDH(t *testing.T) {
	want := RDH{
		Version:       7,
		HeaderSize:    RDHSize,
		FEEID:         0x3101,
		SourceID:      32,
		OffsetToNext:  8192,
		MemorySize:    RDHSize + 3*WordSize,
		LinkID:        11,
		PacketCounter: 42,
		CRUID:         0x123,
		EndPoint:      1,
		BC:            0xdea,
		Orbit:         0xcafebabe,
		TriggerType:   1<<0 | 1<<1 | 1<<11,
		PageCount:     3,
		Stop:          1,
		DetField:      1<<2 | 1<<25,
		PAR:           0xbeef,
	}

	raw := make([]byte, RDHSize)
	err := PutRDH(raw, want)
	if err != nil {
		t.Fatalf("could not encode RDH: %+v", err)
	}

	for _, tc := range []struct {
		off  int
		want byte
	}{
		{0, 7},
		{1, RDHSize},
		{2, 0x01},
		{3, 0x31},
		{5, 32},
		{12, 11},
		{14, 0x23},
		{15, 0x11}, // end-point (1) in the upper nibble, CRU id upper bits (0x1)
		{16, 0xea},
		{17, 0x0d},
		{38, 1},
		{52, 0xef},
		{53, 0xbe},
	} {
		if got := raw[tc.off]; got != tc.want {
			t.Fatalf("invalid RDH byte %d: got=0x%02x, want=0x%02x", tc.off, got, tc.want)
		}
	}

	got, err := DecodeRDH(raw)
	if err != nil {
		t.Fatalf("could not decode RDH: %+v", err)
	}
	if got != want {
		t.Fatalf("invalid RDH:\ngot= %+v\nwant=%+v", got, want)
	}

	// trailing bytes are ignored.
	got, err = DecodeRDH(append(raw, 1, 2, 3))
	if err != nil {
		t.Fatalf("could not decode RDH: %+v", err)
	}
	if got != want {
		t.Fatalf("invalid RDH:\ngot= %+v\nwant=%+v", got, want)
	}
}

func TestRDHMalformed(t *testing.T) {
	valid := make([]byte, RDHSize)
	if err := PutRDH(valid, RDH{Version: 6}); err != nil {
		t.Fatalf("could not encode RDH: %+v", err)
	}
	badsz := append([]byte(nil), valid...)
	badsz[1] = 32

	for _, tc := range []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"short", valid[:RDHSize-1]},
		{"half", valid[:32]},
		{"header-size", badsz},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRDH(tc.raw)
			if !errors.Is(err, ErrMalformedHeader) {
				t.Fatalf("invalid error: got=%v, want=%v", err, ErrMalformedHeader)
			}
			if !errors.Is(err, ErrMalformedWord) {
				t.Fatalf("invalid error: got=%v, want=%v", err, ErrMalformedWord)
			}
		})
	}

	for _, rdh := range []RDH{
		{CRUID: 1 << 12},
		{EndPoint: 16},
		{BC: 1 << 12},
	} {
		err := PutRDH(make([]byte, RDHSize), rdh)
		if err == nil {
			t.Fatalf("expected an overflow error for %+v", rdh)
		}
	}
}

func TestStreamRoundTrip(t *testing.T) {
	ddw := make([]byte, WordSize)
	var w DiagnosticWord
	w.ID = IDDiagnosticWord
	w.Lanes[3] = LaneFault
	if err := w.Encode(ddw); err != nil {
		t.Fatalf("could not encode DDW: %+v", err)
	}

	pages := []Page{
		{
			RDH:     RDH{Version: 6, FEEID: 0x0001, TriggerType: 1<<1 | 1<<11},
			Payload: nil,
		},
		{
			RDH:     RDH{Version: 6, FEEID: 0x3000, PageCount: 1, OffsetToNext: 256},
			Payload: ddw,
		},
		{
			RDH:     RDH{Version: 7, FEEID: 0x612f, Stop: 1, DetField: 1 << 3},
			Payload: append(append([]byte(nil), ddw...), ddw...),
		},
	}

	buf := new(bytes.Buffer)
	enc := NewEncoder(buf)
	for i := range pages {
		err := enc.Encode(&pages[i])
		if err != nil {
			t.Fatalf("could not encode page %d: %+v", i, err)
		}
	}

	if got, want := buf.Len(), RDHSize+256+RDHSize+2*WordSize; got != want {
		t.Fatalf("invalid stream size: got=%d, want=%d", got, want)
	}

	dec := NewDecoder(buf)
	for i := range pages {
		var page Page
		err := dec.Decode(&page)
		if err != nil {
			t.Fatalf("could not decode page %d: %+v", i, err)
		}
		want := pages[i].RDH
		want.HeaderSize = RDHSize
		want.MemorySize = uint16(RDHSize + len(pages[i].Payload))
		if int(want.OffsetToNext) < int(want.MemorySize) {
			want.OffsetToNext = want.MemorySize
		}
		if page.RDH != want {
			t.Fatalf("page %d: invalid RDH:\ngot= %+v\nwant=%+v", i, page.RDH, want)
		}
		if len(page.Payload) != len(pages[i].Payload) {
			t.Fatalf("page %d: invalid payload size: got=%d, want=%d", i, len(page.Payload), len(pages[i].Payload))
		}
		if len(page.Payload) > 0 && !reflect.DeepEqual(page.Payload, pages[i].Payload) {
			t.Fatalf("page %d: invalid payload:\ngot= %x\nwant=%x", i, page.Payload, pages[i].Payload)
		}
	}

	var page Page
	err := dec.Decode(&page)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid error: got=%v, want=%v", err, io.EOF)
	}
}

func TestDecoderErrors(t *testing.T) {
	hdr := func(rdh RDH) []byte {
		raw := make([]byte, RDHSize)
		if err := PutRDH(raw, rdh); err != nil {
			t.Fatalf("could not encode RDH: %+v", err)
		}
		return raw
	}

	for _, tc := range []struct {
		name string
		raw  []byte
		err  error
	}{
		{
			name: "truncated-header",
			raw:  hdr(RDH{MemorySize: RDHSize})[:10],
			err:  io.ErrUnexpectedEOF,
		},
		{
			name: "truncated-payload",
			raw:  append(hdr(RDH{MemorySize: RDHSize + WordSize}), 1, 2, 3),
			err:  io.ErrUnexpectedEOF,
		},
		{
			name: "truncated-padding",
			raw:  hdr(RDH{MemorySize: RDHSize, OffsetToNext: 128}),
			err:  io.ErrUnexpectedEOF,
		},
		{
			name: "memory-size",
			raw:  hdr(RDH{MemorySize: 10}),
			err:  ErrMalformedHeader,
		},
		{
			name: "offset-to-next",
			raw:  append(hdr(RDH{MemorySize: RDHSize + WordSize, OffsetToNext: RDHSize}), make([]byte, WordSize)...),
			err:  ErrMalformedHeader,
		},
		{
			name: "header-size",
			raw: func() []byte {
				raw := hdr(RDH{MemorySize: RDHSize})
				raw[1] = 0
				return raw
			}(),
			err: ErrMalformedHeader,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				dec  = NewDecoder(bytes.NewReader(tc.raw))
				page Page
			)
			err := dec.Decode(&page)
			if !errors.Is(err, tc.err) {
				t.Fatalf("invalid error: got=%v, want=%v", err, tc.err)
			}
			err = dec.Decode(&page)
			if err == nil {
				t.Fatalf("expected a sticky error")
			}
		})
	}
}
