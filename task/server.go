// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/itsfee/config"
	"github.com/go-lpc/itsfee/cycle"
	"github.com/go-lpc/itsfee/internal/alert"
)

// CondDB provides task parameters and run numbers from the condition
// database.
type CondDB interface {
	TaskParams(ctx context.Context, task string) (map[string]string, error)
	LastRun(ctx context.Context) (uint32, error)
}

// Option configures a Server.
type Option func(srv *Server)

// WithConfigFile sets the YAML configuration file loaded at /config.
func WithConfigFile(fname string) Option {
	return func(srv *Server) {
		srv.fname = fname
	}
}

// WithCondDB sets the condition database the task parameters and run
// numbers are read from.
func WithCondDB(db CondDB) Option {
	return func(srv *Server) {
		srv.db = db
	}
}

// Server exposes a monitoring task to the tdaq run control.
type Server struct {
	fname string
	db    CondDB

	mu    sync.Mutex
	cfg   config.Task
	task  *Task
	alert *alert.Notifier
	run   uint32
	qc    chan []byte
}

// NewServer creates a new run-control server for a monitoring task.
func NewServer(cfg config.Task, opts ...Option) *Server {
	srv := &Server{
		cfg: cfg,
		qc:  make(chan []byte, 16),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Task returns the current monitoring task, if any.
func (srv *Server) Task() *Task {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.task
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	fname := srv.fname
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		fname = dec.ReadStr()
		if err := dec.Err(); err != nil {
			return fmt.Errorf("could not decode /config request: %w", err)
		}
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	cfg := srv.cfg
	if fname != "" {
		var err error
		cfg, err = config.Load(fname)
		if err != nil {
			ctx.Msg.Errorf("could not load configuration %q: %+v", fname, err)
			return fmt.Errorf("could not load configuration %q: %w", fname, err)
		}
	}

	if srv.db != nil && cfg.CondDB.Name != "" {
		params, err := srv.db.TaskParams(ctx.Ctx, cfg.CondDB.Task)
		if err != nil {
			return fmt.Errorf("could not retrieve parameters of task %q: %w", cfg.CondDB.Task, err)
		}
		cfg, err = config.FromParams(cfg, params)
		if err != nil {
			ctx.Msg.Errorf("invalid parameters for task %q: %+v", cfg.CondDB.Task, err)
			return fmt.Errorf("invalid parameters for task %q: %w", cfg.CondDB.Task, err)
		}
		ctx.Msg.Infof("loaded %d parameter(s) of task %q from conddb", len(params), cfg.CondDB.Task)
	}

	err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	srv.cfg = cfg
	ctx.Msg.Infof(
		"config: reset-every=%d, cycle=%v, ihw=%v, cdw=%v",
		cfg.ResetEveryNCycles, cfg.CycleDuration, cfg.EnableIHWReading, cfg.DecodeCDW,
	)
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.init(ctx)
}

func (srv *Server) init(ctx tdaq.Context) error {
	task, err := New(srv.cfg, ctx.Msg)
	if err != nil {
		return fmt.Errorf("could not create monitoring task: %w", err)
	}
	srv.task = task
	srv.alert = alert.New(srv.cfg.Alert, ctx.Msg)
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.init(ctx)
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.task == nil {
		return fmt.Errorf("could not start: task not initialized")
	}

	run := srv.run + 1
	switch {
	case len(req.Body) > 0:
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		run = dec.ReadU32()
		if err := dec.Err(); err != nil {
			return fmt.Errorf("could not decode /start request: %w", err)
		}
	case srv.db != nil:
		v, err := srv.db.LastRun(ctx.Ctx)
		if err != nil {
			return fmt.Errorf("could not retrieve last run number: %w", err)
		}
		run = v
	}
	ctx.Msg.Debugf("received /start command... (run=%d)", run)

	if srv.task.State() != cycle.Idle {
		pub, err := srv.task.EndOfCycleAndRestart(run)
		if err != nil {
			return fmt.Errorf("could not restart activity: %w", err)
		}
		srv.publish(ctx, pub)
	} else {
		srv.task.StartOfActivity(run)
	}
	srv.run = run
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.task == nil {
		return fmt.Errorf("could not stop: task not initialized")
	}

	stats := srv.task.Stats()
	ctx.Msg.Debugf(
		"received /stop command... -> pages=%d (skipped=%d), words=%d, processing=%v",
		stats.Pages, stats.Skipped, stats.Words, stats.Elapsed,
	)

	pub, err := srv.task.EndOfActivity()
	switch {
	case errors.Is(err, cycle.ErrIdle):
		ctx.Msg.Warnf("received /stop command while idle")
		return nil
	case err != nil:
		return fmt.Errorf("could not stop activity: %w", err)
	}
	srv.publish(ctx, pub)
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return nil
}

// Raw processes the readout pages received on the /raw input port.
func (srv *Server) Raw(ctx tdaq.Context, src tdaq.Frame) error {
	task := srv.Task()
	if task == nil {
		return fmt.Errorf("could not process readout pages: task not initialized")
	}

	n, err := task.ProcessStream(bytes.NewReader(src.Body))
	if err != nil {
		ctx.Msg.Errorf("could not process readout pages (pages=%d): %+v", n, err)
	}
	return nil
}

// QC sends the encoded publications on the /qc output port.
func (srv *Server) QC(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.qc:
		dst.Body = data
	}
	return nil
}

// Loop signals a cycle boundary every cycle duration.
func (srv *Server) Loop(ctx tdaq.Context) error {
	srv.mu.Lock()
	freq := srv.cfg.CycleDuration
	srv.mu.Unlock()
	if freq <= 0 {
		freq = config.Default().CycleDuration
	}

	tick := time.NewTicker(freq)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tick.C:
			srv.endOfCycle(ctx)
		}
	}
}

func (srv *Server) endOfCycle(ctx tdaq.Context) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.task == nil {
		return
	}

	pub, err := srv.task.EndOfCycle()
	switch {
	case errors.Is(err, cycle.ErrIdle):
		return
	case err != nil:
		ctx.Msg.Errorf("could not end cycle: %+v", err)
		return
	}
	srv.publish(ctx, pub)
}

func (srv *Server) publish(ctx tdaq.Context, pub cycle.Publication) {
	if _, err := srv.alert.Check(pub); err != nil {
		ctx.Msg.Errorf("%+v", err)
	}

	raw, err := MarshalPublication(pub)
	if err != nil {
		ctx.Msg.Errorf("could not encode publication: %+v", err)
		return
	}

	select {
	case srv.qc <- raw:
	default:
		ctx.Msg.Warnf("dropping publication (run=%d, cycle=%d): /qc output port is full", pub.Run, pub.Cycle)
	}
}
