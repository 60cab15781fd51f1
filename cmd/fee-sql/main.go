// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fee-sql inspects the parameters of the ITS FEE monitoring task stored
// in the condition database.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/go-lpc/itsfee/conddb"
	"github.com/go-lpc/itsfee/config"
)

type condDB interface {
	TaskParams(ctx context.Context, task string) (map[string]string, error)
	LastRun(ctx context.Context) (uint32, error)
}

func main() {
	log.SetPrefix("fee-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "itsqc", "name of the condition database")
		task   = flag.String("task", config.Default().CondDB.Task, "name of the task to inspect")
	)

	flag.Parse()

	db, err := conddb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open ITS QC db: %+v", err)
	}
	defer db.Close()

	err = doQuery(os.Stdout, db, *task)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(w io.Writer, db condDB, task string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := db.LastRun(ctx)
	if err != nil {
		return fmt.Errorf("could not get last run: %w", err)
	}
	fmt.Fprintf(w, "run:    %d\n", run)

	params, err := db.TaskParams(ctx, task)
	if err != nil {
		return fmt.Errorf("could not get parameters of task %q: %w", task, err)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "task:   %q (%d parameters)\n", task, len(params))
	for _, k := range keys {
		fmt.Fprintf(w, "  %-24s %s\n", k, params[k])
	}

	cfg, err := config.FromParams(config.Default(), params)
	if err != nil {
		return fmt.Errorf("invalid parameters of task %q: %w", task, err)
	}
	fmt.Fprintf(w, "config:\n")
	fmt.Fprintf(w, "  %-24s %d\n", "reset_every_n_cycles", cfg.ResetEveryNCycles)
	fmt.Fprintf(w, "  %-24s %v\n", "cycle_duration", cfg.CycleDuration)
	fmt.Fprintf(w, "  %-24s %v\n", "enable_ihw_reading", cfg.EnableIHWReading)
	fmt.Fprintf(w, "  %-24s %v\n", "decode_cdw", cfg.DecodeCDW)
	fmt.Fprintf(w, "  %-24s %d\n", "payload_parse_every_n_hbf_per_tf", cfg.PayloadParseEveryNHBF)
	fmt.Fprintf(w, "  %-24s %d\n", "payload_parse_every_n_tf", cfg.PayloadParseEveryNTF)
	fmt.Fprintf(w, "  %-24s %d\n", "fault_threshold", cfg.Alert.Threshold)
	return nil
}
