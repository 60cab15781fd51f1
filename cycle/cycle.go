// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cycle drives the reset policy of the status counters over
// monitoring cycles and activities.
package cycle // import "github.com/go-lpc/itsfee/cycle"

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/itsfee/config"
	"github.com/go-lpc/itsfee/status"
)

// ErrIdle is returned when a cycle boundary is signalled outside of an activity.
var ErrIdle = errors.New("cycle: no activity started")

// State is the state of a Controller.
type State int

const (
	Idle State = iota
	Accumulating
	ReadyForReset
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Accumulating:
		return "Accumulating"
	case ReadyForReset:
		return "ReadyForReset"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Publication holds the snapshots taken at a cycle boundary.
type Publication struct {
	Run        uint32
	Cycle      int64 // cycle counter since the start of the activity
	PerCycle   *status.Snapshot
	Cumulative *status.Snapshot

	// Final reports whether the per-cycle window closed with this
	// publication, ie: whether the per-cycle tier was reset after it.
	// Publications at the end of an activity are always final.
	Final bool
}

// Controller applies the two-tier reset policy to an aggregator.
type Controller struct {
	agg   *status.Aggregator
	every int
	msg   log.MsgStream

	state atomic.Int32

	mu    sync.Mutex
	ready func(Publication)
	run   uint32
	cycle int64
}

// New creates a controller resetting the per-cycle tier of agg every
// `every` cycles.
func New(agg *status.Aggregator, every int, msg log.MsgStream) (*Controller, error) {
	if every < 1 {
		return nil, fmt.Errorf("cycle: reset cadence must be >= 1 (got=%d): %w", every, config.ErrInvalid)
	}
	ctl := &Controller{
		agg:   agg,
		every: every,
		msg:   msg,
	}
	ctl.setState(Idle)
	return ctl, nil
}

// State returns the current state of the controller.
func (ctl *Controller) State() State {
	return State(ctl.state.Load())
}

func (ctl *Controller) setState(s State) {
	ctl.state.Store(int32(s))
}

// OnReady registers f to be called with every final publication, while the
// controller is in the ReadyForReset state and before the per-cycle tier
// is cleared.
// Recording into the aggregator must not race with f.
func (ctl *Controller) OnReady(f func(Publication)) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.ready = f
}

// Cycle returns the number of cycle boundaries since the start of the
// current activity.
func (ctl *Controller) Cycle() int64 {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.cycle
}

// StartOfActivity clears both tiers and restarts the cycle counter.
func (ctl *Controller) StartOfActivity(run uint32) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.startOfActivity(run)
}

func (ctl *Controller) startOfActivity(run uint32) {
	ctl.agg.ResetAll()
	ctl.run = run
	ctl.cycle = 0
	ctl.setState(Accumulating)
	ctl.msg.Infof("start of activity: run=%d, reset every %d cycle(s)", run, ctl.every)
}

// EndOfCycle publishes both tiers and clears the per-cycle tier when the
// cycle counter reaches a multiple of the reset cadence.
func (ctl *Controller) EndOfCycle() (Publication, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.endOfCycle()
}

func (ctl *Controller) endOfCycle() (Publication, error) {
	if ctl.State() == Idle {
		return Publication{}, ErrIdle
	}

	ctl.cycle++
	pub := ctl.publish(ctl.cycle%int64(ctl.every) == 0)
	if pub.Final {
		ctl.closeWindow(pub)
	}
	ctl.setState(Accumulating)

	ctl.msg.Debugf("end of cycle: run=%d, cycle=%d, final=%v", ctl.run, ctl.cycle, pub.Final)
	return pub, nil
}

func (ctl *Controller) publish(final bool) Publication {
	pc, cu := ctl.agg.EndCycle(false)
	return Publication{
		Run:        ctl.run,
		Cycle:      ctl.cycle,
		PerCycle:   pc,
		Cumulative: cu,
		Final:      final,
	}
}

// closeWindow hands a final publication to the OnReady callback and clears
// the per-cycle tier.
func (ctl *Controller) closeWindow(pub Publication) {
	ctl.setState(ReadyForReset)
	if ctl.ready != nil {
		ctl.ready(pub)
	}
	ctl.agg.Reset(status.PerCycle)
}

// EndOfCycleAndRestart handles a cycle boundary coinciding with the
// start of a new activity: the cycle boundary is processed first, then
// both tiers are cleared.
func (ctl *Controller) EndOfCycleAndRestart(run uint32) (Publication, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	pub, err := ctl.endOfCycle()
	if err != nil && !errors.Is(err, ErrIdle) {
		return pub, err
	}
	ctl.startOfActivity(run)
	return pub, err
}

// EndOfActivity publishes both tiers one last time, clears the per-cycle
// tier and stops accumulating.
// The returned publication is always final.
func (ctl *Controller) EndOfActivity() (Publication, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.State() == Idle {
		return Publication{}, ErrIdle
	}
	pub := ctl.publish(true)
	ctl.closeWindow(pub)
	ctl.setState(Idle)
	ctl.msg.Infof("end of activity: run=%d, cycles=%d", ctl.run, ctl.cycle)
	return pub, nil
}
