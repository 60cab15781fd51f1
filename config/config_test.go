// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/itsfee/geom"
)

func TestDecode(t *testing.T) {
	const src = `
reset_every_n_cycles: 3
cycle_duration: 30s
enable_ihw_reading: true
decode_cdw: true
payload_parse_every_n_hbf_per_tf: 32
log:
  level: debug
  file: /var/log/its-fee.log
alert:
  smtp: smtp.example.org
  from: qc@example.org
  to: [shifter@example.org]
  fault_threshold: 10
conddb:
  name: itsqc
`
	cfg, err := Decode(strings.NewReader(src))
	if err != nil {
		t.Fatalf("could not decode config: %+v", err)
	}

	for _, tc := range []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"reset", cfg.ResetEveryNCycles, 3},
		{"cycle", cfg.CycleDuration, 30 * time.Second},
		{"ihw", cfg.EnableIHWReading, true},
		{"cdw", cfg.DecodeCDW, true},
		{"parse-hbf", cfg.PayloadParseEveryNHBF, 32},
		{"parse-tf", cfg.PayloadParseEveryNTF, 1},
		{"log-level", cfg.Log.Level, "debug"},
		{"log-file", cfg.Log.File, "/var/log/its-fee.log"},
		{"log-size", cfg.Log.MaxSizeMB, 25},
		{"pmon-freq", cfg.PMon.Freq, time.Second},
		{"alert-port", cfg.Alert.Port, 587},
		{"alert-threshold", cfg.Alert.Threshold, uint64(10)},
		{"conddb-name", cfg.CondDB.Name, "itsqc"},
		{"conddb-task", cfg.CondDB.Task, "ITSFEE"},
	} {
		if tc.got != tc.want {
			t.Fatalf("invalid %s: got=%v, want=%v", tc.name, tc.got, tc.want)
		}
	}

	tbl, err := cfg.Table()
	if err != nil {
		t.Fatalf("could not get geometry: %+v", err)
	}
	if tbl != geom.Default() {
		t.Fatalf("expected the default geometry")
	}
}

func TestDecodeEmpty(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("could not decode empty config: %+v", err)
	}
	if got, want := cfg.ResetEveryNCycles, 1; got != want {
		t.Fatalf("invalid default reset cadence: got=%d, want=%d", got, want)
	}
}

func TestDecodeGeometry(t *testing.T) {
	const src = `
geometry:
  - {staves: 2, fees_per_stave: 3, lanes_per_fee: 3, windows: [{lo: 0, hi: 3}, {lo: 3, hi: 6}, {lo: 6, hi: 9}], partition: IB}
  - {staves: 2, fees_per_stave: 3, lanes_per_fee: 3, windows: [{lo: 0, hi: 3}, {lo: 3, hi: 6}, {lo: 6, hi: 9}], partition: IB}
  - {staves: 2, fees_per_stave: 3, lanes_per_fee: 3, windows: [{lo: 0, hi: 3}, {lo: 3, hi: 6}, {lo: 6, hi: 9}], partition: IB}
  - {staves: 1, fees_per_stave: 2, lanes_per_fee: 8, windows: [{lo: 3, hi: 11}, {lo: 17, hi: 25}], partition: ML}
  - {staves: 1, fees_per_stave: 2, lanes_per_fee: 8, windows: [{lo: 3, hi: 11}, {lo: 17, hi: 25}], partition: ML}
  - {staves: 1, fees_per_stave: 2, lanes_per_fee: 14, windows: [{lo: 0, hi: 14}, {lo: 14, hi: 28}], partition: OL}
  - {staves: 1, fees_per_stave: 2, lanes_per_fee: 14, windows: [{lo: 0, hi: 14}, {lo: 14, hi: 28}], partition: OL}
`
	cfg, err := Decode(strings.NewReader(src))
	if err != nil {
		t.Fatalf("could not decode config: %+v", err)
	}
	tbl, err := cfg.Table()
	if err != nil {
		t.Fatalf("could not get geometry: %+v", err)
	}
	if got, want := tbl.FEEs(), 3*6+4*2; got != want {
		t.Fatalf("invalid number of FEEs: got=%d, want=%d", got, want)
	}
	if got, want := tbl.PartitionOf(4), geom.MiddleLayers; got != want {
		t.Fatalf("invalid partition: got=%v, want=%v", got, want)
	}
}

func TestInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
	}{
		{"reset-zero", "reset_every_n_cycles: 0"},
		{"reset-negative", "reset_every_n_cycles: -2"},
		{"cycle-duration", "cycle_duration: -1s"},
		{"parse-hbf-zero", "payload_parse_every_n_hbf_per_tf: 0"},
		{"parse-hbf-negative", "payload_parse_every_n_hbf_per_tf: -2"},
		{"parse-tf-zero", "payload_parse_every_n_tf: 0"},
		{"parse-tf-disabled", "payload_parse_every_n_tf: -1"},
		{"unknown-field", "reset_every: 2"},
		{"not-yaml", "reset_every_n_cycles: [1"},
		{"log-level", "log: {level: chatty}"},
		{"alert-no-rcpt", "alert: {smtp: smtp.example.org, from: a@example.org}"},
		{"geometry-layers", "geometry: [{staves: 1, fees_per_stave: 1, lanes_per_fee: 3, windows: [{lo: 0, hi: 3}]}]"},
		{"partition-name", "geometry: [{partition: XX}]"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.src))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("invalid error: got=%v, want=%v", err, ErrInvalid)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	tmp, err := os.MkdirTemp("", "itsfee-config-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	fname := filepath.Join(tmp, "task.yaml")
	err = os.WriteFile(fname, []byte("reset_every_n_cycles: 5\ndecode_cdw: true\n"), 0644)
	if err != nil {
		t.Fatalf("could not write config file: %+v", err)
	}

	cfg, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}
	if cfg.ResetEveryNCycles != 5 || !cfg.DecodeCDW {
		t.Fatalf("invalid config: %+v", cfg)
	}

	_, err = Load(filepath.Join(tmp, "not-there.yaml"))
	if err == nil {
		t.Fatalf("expected an error loading a missing file")
	}
}

func TestFromParams(t *testing.T) {
	cfg, err := FromParams(Default(), map[string]string{
		"reset_every_n_cycles": "4",
		"cycle_duration":       "1m",
		"enable_ihw_reading":   "true",
		"decode_cdw":           "1",
		"fault_threshold":      "12",

		"payload_parse_every_n_hbf_per_tf": "-1",
		"payload_parse_every_n_tf":         "4",
	})
	if err != nil {
		t.Fatalf("could not apply parameters: %+v", err)
	}
	if cfg.ResetEveryNCycles != 4 ||
		cfg.CycleDuration != time.Minute ||
		!cfg.EnableIHWReading ||
		!cfg.DecodeCDW ||
		cfg.Alert.Threshold != 12 ||
		cfg.PayloadParseEveryNHBF != -1 ||
		cfg.PayloadParseEveryNTF != 4 {
		t.Fatalf("invalid config: %+v", cfg)
	}

	for _, params := range []map[string]string{
		{"reset_every_n_cycles": "0"},
		{"reset_every_n_cycles": "many"},
		{"decode_cdw": "maybe"},
		{"payload_parse_every_n_tf": "0"},
		{"no_such_param": "1"},
	} {
		_, err := FromParams(Default(), params)
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("params %v: invalid error: got=%v, want=%v", params, err, ErrInvalid)
		}
	}
}

func TestParsePayload(t *testing.T) {
	for _, tc := range []struct {
		hbf, tf int
		want    []bool // for (tf, hbf) in {0,1,2}x{0,1,2}
	}{
		{1, 1, []bool{true, true, true, true, true, true, true, true, true}},
		{2, 1, []bool{true, false, true, true, false, true, true, false, true}},
		{1, 2, []bool{true, true, true, false, false, false, true, true, true}},
		{-1, 1, []bool{false, false, false, false, false, false, false, false, false}},
	} {
		cfg := Default()
		cfg.PayloadParseEveryNHBF = tc.hbf
		cfg.PayloadParseEveryNTF = tc.tf
		for i, want := range tc.want {
			tf, hbf := uint64(i/3), uint64(i%3)
			if got := cfg.ParsePayload(tf, hbf); got != want {
				t.Fatalf("every (hbf=%d, tf=%d): tf=%d, hbf=%d: got=%v, want=%v",
					tc.hbf, tc.tf, tf, hbf, got, want,
				)
			}
		}
	}
}

func TestMsgLevel(t *testing.T) {
	for _, tc := range []struct {
		lvl  string
		want log.Level
	}{
		{"debug", log.LvlDebug},
		{"info", log.LvlInfo},
		{"", log.LvlInfo},
		{"WARN", log.LvlWarning},
		{"warning", log.LvlWarning},
		{"error", log.LvlError},
	} {
		if got := (Log{Level: tc.lvl}).MsgLevel(); got != tc.want {
			t.Fatalf("level %q: got=%v, want=%v", tc.lvl, got, tc.want)
		}
	}
}
