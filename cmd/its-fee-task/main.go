// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command its-fee-task starts a TDAQ server running the ITS FEE
// monitoring task.
//
// The task consumes raw readout pages on its /raw input and publishes
// the status counters on its /qc output at every cycle boundary.
//
// The YAML configuration file is read from the first positional
// argument, or from the $ITSFEE_CONFIG environment variable.
package main // import "github.com/go-lpc/itsfee/cmd/its-fee-task"

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/itsfee"
	"github.com/go-lpc/itsfee/conddb"
	"github.com/go-lpc/itsfee/config"
	"github.com/go-lpc/itsfee/task"
	"github.com/sbinet/pmon"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cmd := flags.New()

	fname := os.Getenv("ITSFEE_CONFIG")
	if len(cmd.Args) > 0 {
		fname = cmd.Args[0]
	}

	cfg := config.Default()
	if fname != "" {
		var err error
		cfg, err = config.Load(fname)
		if err != nil {
			log.Fatalf("could not load configuration: %+v", err)
		}
		cmd.Level = cfg.Log.MsgLevel()
	}

	var stdout io.Writer = os.Stdout
	if cfg.Log.File != "" {
		rotator := newRotator(cfg.Log)
		defer rotator.Close()
		stdout = io.MultiWriter(os.Stdout, rotator)
	}

	if cfg.PMon.File != "" {
		stop, err := monitor(cfg.PMon)
		if err != nil {
			log.Fatalf("could not start process monitoring: %+v", err)
		}
		defer stop()
	}

	var opts []task.Option
	if fname != "" {
		opts = append(opts, task.WithConfigFile(fname))
	}
	if cfg.CondDB.Name != "" {
		db, err := conddb.Open(cfg.CondDB.Name)
		if err != nil {
			log.Fatalf("could not open condition db: %+v", err)
		}
		defer db.Close()
		opts = append(opts, task.WithCondDB(db))
	}

	dev := task.NewServer(cfg, opts...)

	srv := tdaq.New(cmd, stdout)
	if vers, _ := itsfee.Version(); vers != "" {
		fmt.Fprintf(stdout, "its-fee-task %s\n", vers)
	}
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.InputHandle("/raw", dev.Raw)
	srv.OutputHandle("/qc", dev.QC)

	srv.RunHandle(dev.Loop)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func newRotator(cfg config.Log) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
}

// monitor starts monitoring the resources used by the current process.
func monitor(cfg config.PMon) (func(), error) {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not monitor process (pid=%d): %w", pid, err)
	}

	f, err := os.Create(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = cfg.Freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run process monitoring: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop process monitoring: %+v", err)
		}
		err = f.Close()
		if err != nil {
			log.Printf("could not close pmon log file: %+v", err)
		}
	}, nil
}
