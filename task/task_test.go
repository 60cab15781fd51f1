// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package task

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/itsfee/config"
	"github.com/go-lpc/itsfee/cycle"
	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
	"github.com/go-lpc/itsfee/status"
)

func newTestTask(t *testing.T, cfg config.Task) *Task {
	t.Helper()
	var msg log.MsgStream = log.NewMsgStream("task", log.LvlDebug, io.Discard)
	task, err := New(cfg, msg)
	if err != nil {
		t.Fatalf("could not create task: %+v", err)
	}
	return task
}

func ddwWord(t *testing.T, index int, lanes map[int]gbt.LaneStatus) []byte {
	t.Helper()
	ddw := gbt.DiagnosticWord{Index: uint8(index), ID: gbt.IDDiagnosticWord}
	for bit, st := range lanes {
		ddw.Lanes[bit] = st
	}
	raw := make([]byte, gbt.WordSize)
	if err := ddw.Encode(raw); err != nil {
		t.Fatalf("could not encode diagnostic word: %+v", err)
	}
	return raw
}

func ihwWord(t *testing.T, mask uint32) []byte {
	t.Helper()
	raw := make([]byte, gbt.WordSize)
	err := gbt.HeaderWord{ActiveLanes: mask, ID: gbt.IDHeaderWord}.Encode(raw)
	if err != nil {
		t.Fatalf("could not encode header word: %+v", err)
	}
	return raw
}

func cdwWord(t *testing.T, cf gbt.CalibrationFields) []byte {
	t.Helper()
	raw := make([]byte, gbt.WordSize)
	err := gbt.CalibrationWord{Fields: cf, Counter: 1, ID: gbt.IDCalibrationWord}.Encode(raw)
	if err != nil {
		t.Fatalf("could not encode calibration word: %+v", err)
	}
	return raw
}

const (
	trgHB = 1 << 1
	trgTF = 1 << 11
)

func newPage(hwid uint16, trg uint32, pageCnt uint16, words ...[]byte) gbt.Page {
	page := gbt.Page{
		RDH: gbt.RDH{
			Version:     7,
			HeaderSize:  gbt.RDHSize,
			FEEID:       hwid,
			TriggerType: trg,
			PageCount:   pageCnt,
		},
	}
	for _, w := range words {
		page.Payload = append(page.Payload, w...)
	}
	return page
}

func encodeStream(t *testing.T, pages ...gbt.Page) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	enc := gbt.NewEncoder(buf)
	for i := range pages {
		err := enc.Encode(&pages[i])
		if err != nil {
			t.Fatalf("could not encode page %d: %+v", i, err)
		}
	}
	return buf.Bytes()
}

func TestProcessPage(t *testing.T) {
	task := newTestTask(t, config.Default())
	task.StartOfActivity(1)

	// FEE 0x3101: layer 3, stave 1, link 1 (global FEE 147), window [17, 25).
	page := newPage(0x3101, trgHB|trgTF, 0,
		ihwWord(t, 0xff),
		ddwWord(t, 0, map[int]gbt.LaneStatus{
			17: gbt.LaneError,
			24: gbt.LaneFault,
			3:  gbt.LaneWarning, // outside of the link window
		}),
		cdwWord(t, gbt.CalibrationFields{Row: 12}),
		make([]byte, gbt.WordSize), // data word, ignored
	)
	task.ProcessPage(&page)

	s := task.Aggregator().Snapshot(status.PerCycle)
	for _, tc := range []struct {
		name string
		got  uint64
		want uint64
	}{
		{"lane-error", s.Lane(geom.Coord{Layer: 3, Stave: 1, Lane: 8}, status.Error), 1},
		{"lane-fault", s.Lane(geom.Coord{Layer: 3, Stave: 1, Lane: 15}, status.Fault), 1},
		{"layer-warning", s.Layer(3, status.Warning), 0},
		{"global-error", s.Global(status.Error), 1},
		{"global-fault", s.Global(status.Fault), 1},
		{"lane-out-of-range", s.Errors(status.ErrLaneOutOfRange), 1},
		{"fee-lane-out-of-range", s.FEEErrors(147, status.ErrLaneOutOfRange), 1},
		{"trigger-hb", s.Trigger(gbt.TrgHB), 1},
		{"trigger-tf", s.FEETrigger(147, gbt.TrgTF), 1},
		{"time-frames", s.TimeFrames(), 1},
		{"active-lanes", uint64(s.ActiveLanes(147)), 0},
	} {
		if tc.got != tc.want {
			t.Fatalf("invalid %s count: got=%d, want=%d", tc.name, tc.got, tc.want)
		}
	}
	if n, _ := s.Calibrations(147); n != 0 {
		t.Fatalf("calibration words decoded while disabled: %d", n)
	}

	stats := task.Stats()
	if stats.Pages != 1 || stats.Words != 4 || stats.Skipped != 0 {
		t.Fatalf("invalid stats: %+v", stats)
	}
}

func TestProcessPageOptionalWords(t *testing.T) {
	cfg := config.Default()
	cfg.EnableIHWReading = true
	cfg.DecodeCDW = true
	task := newTestTask(t, cfg)
	task.StartOfActivity(1)

	cf := gbt.CalibrationFields{Row: 300, RunType: 5, Loop: 1234, ConfDB: 42, Version: 3}
	page := newPage(0x0000, 0, 1, ihwWord(t, 0x7), cdwWord(t, cf))
	task.ProcessPage(&page)

	s := task.Aggregator().Snapshot(status.Cumulative)
	if got, want := s.ActiveLanes(0), uint32(0x7); got != want {
		t.Fatalf("invalid active lanes: got=0x%x, want=0x%x", got, want)
	}
	n, last := s.Calibrations(0)
	if n != 1 || last != cf {
		t.Fatalf("invalid calibrations: n=%d, last=%+v", n, last)
	}
	if got := s.TimeFrames(); got != 0 {
		t.Fatalf("invalid time frames: got=%d, want=0", got)
	}
}

func TestProcessPageErrors(t *testing.T) {
	task := newTestTask(t, config.Default())
	task.StartOfActivity(1)

	malformed := ddwWord(t, 0, map[int]gbt.LaneStatus{0: gbt.LaneFault})
	malformed[7] = 0xff // reserved bits

	// FEE 0x0100, 0x0200 and 0x0001 are the global FEEs 1, 2 and 3.
	for _, page := range []gbt.Page{
		newPage(0x7000, trgHB, 0, ddwWord(t, 0, map[int]gbt.LaneStatus{0: gbt.LaneFault})),
		newPage(0x0100, 0, 0, malformed),
		newPage(0x0200, 0, 0, ddwWord(t, 1, map[int]gbt.LaneStatus{0: gbt.LaneFault})),
		newPage(0x0001, 0, 0, make([]byte, gbt.WordSize+4)),
	} {
		task.ProcessPage(&page)
	}

	s := task.Aggregator().Snapshot(status.PerCycle)
	for _, tc := range []struct {
		name string
		got  uint64
		want uint64
	}{
		{"unknown-fee", s.Errors(status.ErrUnknownWordID), 1},
		{"malformed", s.Errors(status.ErrMalformedWord), 2},
		{"fee-malformed", s.FEEErrors(1, status.ErrMalformedWord), 1},
		{"index", s.Errors(status.ErrIndexOutOfRange), 1},
		{"fee-index", s.FEEErrors(2, status.ErrIndexOutOfRange), 1},
		{"trailing", s.FEEErrors(3, status.ErrMalformedWord), 1},
		{"trigger", s.Trigger(gbt.TrgHB), 1},
		{"faults", s.Global(status.Fault), 0},
	} {
		if tc.got != tc.want {
			t.Fatalf("invalid %s count: got=%d, want=%d", tc.name, tc.got, tc.want)
		}
	}
}

func TestProcessStream(t *testing.T) {
	task := newTestTask(t, config.Default())
	task.StartOfActivity(1)

	raw := encodeStream(t,
		newPage(0x0000, trgTF, 0, ddwWord(t, 0, map[int]gbt.LaneStatus{1: gbt.LaneWarning})),
		newPage(0x0000, trgTF, 1, ddwWord(t, 0, map[int]gbt.LaneStatus{1: gbt.LaneWarning})),
		newPage(0x612f, trgTF, 0, ddwWord(t, 0, map[int]gbt.LaneStatus{27: gbt.LaneError})),
	)

	n, err := task.ProcessStream(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("could not process stream: %+v", err)
	}
	if n != 3 {
		t.Fatalf("invalid number of pages: got=%d, want=3", n)
	}

	s := task.Aggregator().Snapshot(status.Cumulative)
	if got := s.Lane(geom.Coord{Layer: 0, Stave: 0, Lane: 1}, status.Warning); got != 2 {
		t.Fatalf("invalid warning count: got=%d, want=2", got)
	}
	if got := s.Lane(geom.Coord{Layer: 6, Stave: 47, Lane: 27}, status.Error); got != 1 {
		t.Fatalf("invalid error count: got=%d, want=1", got)
	}
	// the first pages of FEEs 0x0000 and 0x612f belong to the same time frame.
	if got := s.TimeFrames(); got != 1 {
		t.Fatalf("invalid time frames: got=%d, want=1", got)
	}

	n, err = task.ProcessStream(bytes.NewReader(raw[:len(raw)-8]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid error: got=%v, want=%v", err, io.ErrUnexpectedEOF)
	}
	if n != 2 {
		t.Fatalf("invalid number of pages: got=%d, want=2", n)
	}
}

func orbitPage(hwid uint16, trg uint32, orbit uint32, words ...[]byte) gbt.Page {
	page := newPage(hwid, trg, 0, words...)
	page.RDH.Orbit = orbit
	return page
}

func TestTimeFramesAcrossLinks(t *testing.T) {
	task := newTestTask(t, config.Default())
	task.StartOfActivity(1)

	for _, tc := range []struct {
		name  string
		pages []gbt.Page
		want  uint64
	}{
		{
			name: "first-time-frame",
			pages: []gbt.Page{
				orbitPage(0x0000, trgHB|trgTF, 42),
				orbitPage(0x0100, trgHB|trgTF, 42),
				orbitPage(0x0200, trgHB|trgTF, 42),
			},
			want: 1,
		},
		{
			name: "heart-beats",
			pages: []gbt.Page{
				orbitPage(0x0000, trgHB, 43),
				orbitPage(0x0100, trgHB, 43),
			},
			want: 1,
		},
		{
			name: "next-time-frame",
			pages: []gbt.Page{
				orbitPage(0x0100, trgHB|trgTF, 298),
				orbitPage(0x0000, trgHB|trgTF, 298),
			},
			want: 2,
		},
		{
			name: "late-link",
			pages: []gbt.Page{
				orbitPage(0x0001, trgHB|trgTF, 42),
			},
			want: 2,
		},
	} {
		for i := range tc.pages {
			task.ProcessPage(&tc.pages[i])
		}
		s := task.Aggregator().Snapshot(status.Cumulative)
		if got := s.TimeFrames(); got != tc.want {
			t.Fatalf("%s: invalid time frames: got=%d, want=%d", tc.name, got, tc.want)
		}
	}

	// a new activity may restart from any orbit.
	task.StartOfActivity(2)
	page := orbitPage(0x0000, trgTF, 7)
	task.ProcessPage(&page)
	if got := task.Aggregator().Snapshot(status.Cumulative).TimeFrames(); got != 1 {
		t.Fatalf("invalid time frames after restart: got=%d, want=1", got)
	}
}

func tdtWord(t *testing.T, flags ...gbt.TrailerFlag) []byte {
	t.Helper()
	tdt := gbt.TrailerWord{ID: gbt.IDTrailerWord}
	for _, f := range flags {
		tdt.Flags |= 1 << f
	}
	raw := make([]byte, gbt.WordSize)
	if err := tdt.Encode(raw); err != nil {
		t.Fatalf("could not encode trailer word: %+v", err)
	}
	return raw
}

func TestProcessPageTrailerAndPayload(t *testing.T) {
	task := newTestTask(t, config.Default())
	task.StartOfActivity(1)

	for _, page := range []gbt.Page{
		newPage(0x0000, trgHB, 0,
			ddwWord(t, 0, nil),
			tdtWord(t, gbt.PacketDone),
		),
		newPage(0x0000, trgHB, 0,
			ddwWord(t, 0, nil),
			tdtWord(t, gbt.PacketDone, gbt.TransmissionTimeout),
			make([]byte, gbt.WordSize),
			make([]byte, gbt.WordSize),
		),
	} {
		task.ProcessPage(&page)
	}

	s := task.Aggregator().Snapshot(status.Cumulative)
	for _, tc := range []struct {
		name string
		got  uint64
		want uint64
	}{
		{"trailers", s.Trailers(0), 2},
		{"packet-done", s.FEETrailerFlag(0, gbt.PacketDone), 2},
		{"transmission-timeout", s.FEETrailerFlag(0, gbt.TransmissionTimeout), 1},
		{"packet-overflow", s.TrailerFlag(gbt.PacketOverflow), 0},
	} {
		if tc.got != tc.want {
			t.Fatalf("invalid %s count: got=%d, want=%d", tc.name, tc.got, tc.want)
		}
	}
	if got, want := s.PayloadSize(0), float64(3*gbt.WordSize); got != want {
		t.Fatalf("invalid payload size: got=%v, want=%v", got, want)
	}
}

func TestPayloadParseCadence(t *testing.T) {
	fault := func() []byte {
		return ddwWord(t, 0, map[int]gbt.LaneStatus{0: gbt.LaneFault})
	}

	for _, tc := range []struct {
		name    string
		hbf, tf int
		faults  uint64
		skipped uint64
	}{
		{"all", 1, 1, 6, 0},
		{"every-2nd-hbf", 2, 1, 4, 2},
		{"every-2nd-tf", 1, 2, 3, 3},
		{"disabled", -1, 1, 0, 6},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.PayloadParseEveryNHBF = tc.hbf
			cfg.PayloadParseEveryNTF = tc.tf
			task := newTestTask(t, cfg)
			task.StartOfActivity(1)

			// two time frames of three heart-beat frames each.
			for _, orbit := range []uint32{256, 257, 258, 512, 513, 514} {
				trg := uint32(trgHB)
				if orbit%256 == 0 {
					trg |= trgTF
				}
				page := orbitPage(0x0000, trg, orbit, fault())
				task.ProcessPage(&page)
			}

			s := task.Aggregator().Snapshot(status.Cumulative)
			if got := s.Global(status.Fault); got != tc.faults {
				t.Fatalf("invalid faults: got=%d, want=%d", got, tc.faults)
			}
			if got := s.TimeFrames(); got != 2 {
				t.Fatalf("invalid time frames: got=%d, want=2", got)
			}
			if _, pages := s.Payload(0); pages != 6 {
				t.Fatalf("invalid payload pages: got=%d, want=6", pages)
			}
			stats := task.Stats()
			if stats.Pages != 6 || stats.Skipped != tc.skipped {
				t.Fatalf("invalid stats: got=%+v, want pages=6, skipped=%d", stats, tc.skipped)
			}
		})
	}
}

func TestTaskCycles(t *testing.T) {
	cfg := config.Default()
	cfg.ResetEveryNCycles = 2
	task := newTestTask(t, cfg)

	if _, err := task.EndOfCycle(); !errors.Is(err, cycle.ErrIdle) {
		t.Fatalf("invalid error: got=%v, want=%v", err, cycle.ErrIdle)
	}

	task.StartOfActivity(10)
	page := newPage(0x0000, 0, 0, ddwWord(t, 0, map[int]gbt.LaneStatus{0: gbt.LaneFault}))

	for i, want := range []uint64{1, 2, 1} {
		task.ProcessPage(&page)
		pub, err := task.EndOfCycle()
		if err != nil {
			t.Fatalf("could not end cycle: %+v", err)
		}
		if got := pub.PerCycle.Global(status.Fault); got != want {
			t.Fatalf("cycle %d: invalid per-cycle faults: got=%d, want=%d", i, got, want)
		}
		if got := pub.Cumulative.Global(status.Fault); got != uint64(i+1) {
			t.Fatalf("cycle %d: invalid cumulative faults: got=%d, want=%d", i, got, i+1)
		}
	}

	pub, err := task.EndOfCycleAndRestart(11)
	if err != nil {
		t.Fatalf("could not restart: %+v", err)
	}
	if pub.Run != 10 || pub.Cycle != 4 || !pub.Final {
		t.Fatalf("invalid publication: run=%d, cycle=%d, final=%v", pub.Run, pub.Cycle, pub.Final)
	}

	pub, err = task.EndOfActivity()
	if err != nil {
		t.Fatalf("could not end activity: %+v", err)
	}
	if pub.Run != 11 || pub.Cumulative.Global(status.Fault) != 0 {
		t.Fatalf("invalid final publication: run=%d", pub.Run)
	}
	if got, want := task.State(), cycle.Idle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestPublicationCodec(t *testing.T) {
	task := newTestTask(t, config.Default())
	task.StartOfActivity(3)
	page := newPage(0x0000, trgTF, 0, ddwWord(t, 0, map[int]gbt.LaneStatus{2: gbt.LaneError}))
	task.ProcessPage(&page)

	want, err := task.EndOfCycle()
	if err != nil {
		t.Fatalf("could not end cycle: %+v", err)
	}

	raw, err := MarshalPublication(want)
	if err != nil {
		t.Fatalf("could not encode publication: %+v", err)
	}
	got, err := UnmarshalPublication(raw)
	if err != nil {
		t.Fatalf("could not decode publication: %+v", err)
	}
	if got.Run != want.Run || got.Cycle != want.Cycle || got.Final != want.Final {
		t.Fatalf("invalid publication header: got=%+v, want=%+v", got, want)
	}
	for _, tc := range []struct {
		name      string
		got, want *status.Snapshot
	}{
		{"per-cycle", got.PerCycle, want.PerCycle},
		{"cumulative", got.Cumulative, want.Cumulative},
	} {
		if tc.got.Global(status.Error) != tc.want.Global(status.Error) ||
			tc.got.TimeFrames() != tc.want.TimeFrames() ||
			tc.got.Tier() != tc.want.Tier() {
			t.Fatalf("invalid %s snapshot", tc.name)
		}
	}

	_, err = UnmarshalPublication(raw[:len(raw)-1])
	if err == nil {
		t.Fatalf("expected an error decoding a truncated publication")
	}

	_, err = MarshalPublication(cycle.Publication{})
	if err == nil {
		t.Fatalf("expected an error encoding an empty publication")
	}
}
