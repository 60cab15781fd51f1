// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package status aggregates decoded ITS diagnostic words into per-lane,
// per-layer, per-partition and global status counters.
//
// Counters are kept in two tiers: a per-cycle tier, cleared at a
// configurable cadence, and a cumulative tier, cleared only at the start
// of a new activity. Both tiers are updated together on every event.
package status // import "github.com/go-lpc/itsfee/status"

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
)

// Flag is a non-OK lane status.
type Flag int

const (
	Warning Flag = iota
	Error
	Fault

	NFlags = int(Fault) + 1
)

// FlagOf converts a lane status code into a flag.
// FlagOf returns false for OK lanes.
func FlagOf(st gbt.LaneStatus) (Flag, bool) {
	switch st {
	case gbt.LaneWarning:
		return Warning, true
	case gbt.LaneError:
		return Error, true
	case gbt.LaneFault:
		return Fault, true
	}
	return -1, false
}

func (f Flag) String() string {
	switch f {
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Fault:
		return "FAULT"
	}
	return fmt.Sprintf("Flag(%d)", int(f))
}

// Tier selects one of the two counter sets.
type Tier int

const (
	PerCycle Tier = iota
	Cumulative

	NTiers = int(Cumulative) + 1
)

func (t Tier) String() string {
	switch t {
	case PerCycle:
		return "per-cycle"
	case Cumulative:
		return "cumulative"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// ErrKind classifies decoding errors.
type ErrKind int

const (
	ErrOther ErrKind = iota
	ErrMalformedWord
	ErrUnknownWordID
	ErrFEEOutOfRange
	ErrIndexOutOfRange
	ErrLaneOutOfRange

	NErrKinds = int(ErrLaneOutOfRange) + 1
)

func (k ErrKind) String() string {
	switch k {
	case ErrOther:
		return "Other"
	case ErrMalformedWord:
		return "MalformedWord"
	case ErrUnknownWordID:
		return "UnknownWordID"
	case ErrFEEOutOfRange:
		return "FEEOutOfRange"
	case ErrIndexOutOfRange:
		return "IndexOutOfRange"
	case ErrLaneOutOfRange:
		return "LaneOutOfRange"
	}
	return fmt.Sprintf("ErrKind(%d)", int(k))
}

// KindOf classifies an error returned by the gbt or geom packages.
func KindOf(err error) ErrKind {
	switch {
	case err == nil:
		return ErrOther
	case errors.Is(err, geom.ErrIndexOutOfRange):
		return ErrIndexOutOfRange
	case errors.Is(err, geom.ErrLaneOutOfRange):
		return ErrLaneOutOfRange
	case errors.Is(err, gbt.ErrUnknownWordID):
		return ErrUnknownWordID
	case errors.Is(err, geom.ErrFEEOutOfRange):
		return ErrFEEOutOfRange
	case errors.Is(err, gbt.ErrMalformedWord):
		return ErrMalformedWord
	}
	return ErrOther
}

// LaneError is a failure to record the status of a single lane.
type LaneError struct {
	FEE  int
	Word int
	Bit  int // lane position within the diagnostic word
	Err  error
}

func (e *LaneError) Error() string {
	return fmt.Sprintf("status: FEE %d word %d lane %d: %v", e.FEE, e.Word, e.Bit, e.Err)
}

func (e *LaneError) Unwrap() error { return e.Err }

// LaneErrors collects the lane failures of a single diagnostic word.
type LaneErrors struct {
	Errs []*LaneError
}

func (e *LaneErrors) Error() string {
	switch len(e.Errs) {
	case 0:
		return "status: no lane error"
	case 1:
		return e.Errs[0].Error()
	}
	o := new(strings.Builder)
	fmt.Fprintf(o, "status: %d lane errors:", len(e.Errs))
	for _, err := range e.Errs {
		fmt.Fprintf(o, "\n\t%v", err)
	}
	return o.String()
}

func (e *LaneErrors) Unwrap() []error {
	errs := make([]error, len(e.Errs))
	for i, err := range e.Errs {
		errs[i] = err
	}
	return errs
}
