// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the configuration of an ITS FEE monitoring task.
package config // import "github.com/go-lpc/itsfee/config"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/itsfee/geom"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned (wrapped) for any invalid configuration.
var ErrInvalid = errors.New("config: invalid configuration")

// Task is the configuration of a monitoring task.
type Task struct {
	ResetEveryNCycles int           `yaml:"reset_every_n_cycles"`
	CycleDuration     time.Duration `yaml:"cycle_duration"`
	EnableIHWReading  bool          `yaml:"enable_ihw_reading"`
	DecodeCDW         bool          `yaml:"decode_cdw"`

	// Payload parsing cadence. Pages of skipped heart-beat frames and time
	// frames are counted but their GBT words are not decoded.
	PayloadParseEveryNHBF int `yaml:"payload_parse_every_n_hbf_per_tf"` // -1 to disable payload parsing
	PayloadParseEveryNTF  int `yaml:"payload_parse_every_n_tf"`

	// Geometry overrides the default ITS geometry, one entry per layer.
	Geometry []geom.Layer `yaml:"geometry,omitempty"`

	Log    Log    `yaml:"log"`
	PMon   PMon   `yaml:"pmon"`
	Alert  Alert  `yaml:"alert"`
	CondDB CondDB `yaml:"conddb"`
}

// Log configures the log file of the monitoring process.
type Log struct {
	Level      string `yaml:"level"` // debug, info, warn or error
	File       string `yaml:"file"`  // rotated log file; empty to only log to stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// MsgLevel returns the verbosity of the message streams.
func (l Log) MsgLevel() log.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return log.LvlDebug
	case "warn", "warning":
		return log.LvlWarning
	case "error":
		return log.LvlError
	}
	return log.LvlInfo
}

// PMon configures the self-monitoring of the process.
type PMon struct {
	File string        `yaml:"file"` // empty to disable
	Freq time.Duration `yaml:"freq"`
}

// Alert configures mail notifications sent when faulty lanes show up.
type Alert struct {
	SMTP      string   `yaml:"smtp"` // empty to disable
	Port      int      `yaml:"port"`
	User      string   `yaml:"user"`
	Password  string   `yaml:"password"`
	From      string   `yaml:"from"`
	To        []string `yaml:"to"`
	Threshold uint64   `yaml:"fault_threshold"` // number of faulty lanes per cycle
}

// CondDB configures the condition database the task parameters may be
// read from.
type CondDB struct {
	Name string `yaml:"name"` // database name; empty to disable
	Task string `yaml:"task"` // task name the parameters are stored under
}

// Default returns the default configuration.
func Default() Task {
	return Task{
		ResetEveryNCycles:     1,
		CycleDuration:         10 * time.Second,
		PayloadParseEveryNHBF: 1,
		PayloadParseEveryNTF:  1,
		Log: Log{
			Level:      "info",
			MaxSizeMB:  25,
			MaxAgeDays: 7,
			MaxBackups: 5,
		},
		PMon: PMon{
			Freq: time.Second,
		},
		Alert: Alert{
			Port:      587,
			Threshold: 1,
		},
		CondDB: CondDB{
			Task: "ITSFEE",
		},
	}
}

// Load loads and validates the configuration from the named YAML file.
func Load(fname string) (Task, error) {
	f, err := os.Open(fname)
	if err != nil {
		return Task{}, fmt.Errorf("config: could not open %q: %w", fname, err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return cfg, fmt.Errorf("config: could not load %q: %w", fname, err)
	}
	return cfg, nil
}

// Decode decodes and validates a YAML configuration.
// Missing values are taken from Default.
func Decode(r io.Reader) (Task, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: could not decode YAML: %v: %w", err, ErrInvalid)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (cfg *Task) normalize() {
	def := Default()
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = def.Log.MaxAgeDays
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = def.Log.MaxBackups
	}
	if cfg.PMon.Freq <= 0 {
		cfg.PMon.Freq = def.PMon.Freq
	}
	if cfg.Alert.Port == 0 {
		cfg.Alert.Port = def.Alert.Port
	}
	if cfg.CondDB.Task == "" {
		cfg.CondDB.Task = def.CondDB.Task
	}
}

// Validate checks the configuration.
// All returned errors wrap ErrInvalid.
func (cfg Task) Validate() error {
	if cfg.ResetEveryNCycles < 1 {
		return fmt.Errorf("config: reset_every_n_cycles must be >= 1 (got=%d): %w", cfg.ResetEveryNCycles, ErrInvalid)
	}
	if cfg.CycleDuration <= 0 {
		return fmt.Errorf("config: cycle_duration must be > 0 (got=%v): %w", cfg.CycleDuration, ErrInvalid)
	}
	if cfg.PayloadParseEveryNHBF < 1 && cfg.PayloadParseEveryNHBF != -1 {
		return fmt.Errorf(
			"config: payload_parse_every_n_hbf_per_tf must be -1 or >= 1 (got=%d): %w",
			cfg.PayloadParseEveryNHBF, ErrInvalid,
		)
	}
	if cfg.PayloadParseEveryNTF < 1 {
		return fmt.Errorf("config: payload_parse_every_n_tf must be >= 1 (got=%d): %w", cfg.PayloadParseEveryNTF, ErrInvalid)
	}
	if _, err := cfg.Table(); err != nil {
		return err
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: invalid log level %q: %w", cfg.Log.Level, ErrInvalid)
	}
	if cfg.Alert.SMTP != "" {
		if cfg.Alert.From == "" || len(cfg.Alert.To) == 0 {
			return fmt.Errorf("config: alert needs a sender and at least one recipient: %w", ErrInvalid)
		}
		if cfg.Alert.Port <= 0 || cfg.Alert.Port > 0xffff {
			return fmt.Errorf("config: invalid alert SMTP port %d: %w", cfg.Alert.Port, ErrInvalid)
		}
		if cfg.Alert.Threshold == 0 {
			return fmt.Errorf("config: alert fault_threshold must be > 0: %w", ErrInvalid)
		}
	}
	return nil
}

// ParsePayload reports whether the payload of the hbf-th heart-beat frame
// of the tf-th time frame, both counted from 0, should be decoded.
func (cfg Task) ParsePayload(tf, hbf uint64) bool {
	if cfg.PayloadParseEveryNHBF < 1 || cfg.PayloadParseEveryNTF < 1 {
		return false
	}
	return tf%uint64(cfg.PayloadParseEveryNTF) == 0 &&
		hbf%uint64(cfg.PayloadParseEveryNHBF) == 0
}

// Table returns the geometry described by the configuration.
func (cfg Task) Table() (*geom.Table, error) {
	if len(cfg.Geometry) == 0 {
		return geom.Default(), nil
	}
	if len(cfg.Geometry) != geom.NLayers {
		return nil, fmt.Errorf(
			"config: geometry override needs %d layers (got=%d): %w",
			geom.NLayers, len(cfg.Geometry), ErrInvalid,
		)
	}
	var layers [geom.NLayers]geom.Layer
	copy(layers[:], cfg.Geometry)
	tbl, err := geom.New(layers)
	if err != nil {
		return nil, fmt.Errorf("config: invalid geometry override: %v: %w", err, ErrInvalid)
	}
	return tbl, nil
}

// FromParams overrides the configuration with the provided key/value
// parameters, as stored in the condition database, and validates it.
func FromParams(cfg Task, params map[string]string) (Task, error) {
	for k, v := range params {
		var err error
		switch k {
		case "reset_every_n_cycles":
			cfg.ResetEveryNCycles, err = strconv.Atoi(v)
		case "cycle_duration":
			cfg.CycleDuration, err = time.ParseDuration(v)
		case "enable_ihw_reading":
			cfg.EnableIHWReading, err = strconv.ParseBool(v)
		case "decode_cdw":
			cfg.DecodeCDW, err = strconv.ParseBool(v)
		case "payload_parse_every_n_hbf_per_tf":
			cfg.PayloadParseEveryNHBF, err = strconv.Atoi(v)
		case "payload_parse_every_n_tf":
			cfg.PayloadParseEveryNTF, err = strconv.Atoi(v)
		case "fault_threshold":
			cfg.Alert.Threshold, err = strconv.ParseUint(v, 10, 64)
		default:
			return cfg, fmt.Errorf("config: unknown parameter %q: %w", k, ErrInvalid)
		}
		if err != nil {
			return cfg, fmt.Errorf("config: invalid value %q for parameter %q: %v: %w", v, k, err, ErrInvalid)
		}
	}
	return cfg, cfg.Validate()
}
