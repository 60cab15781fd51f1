// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fee-replay replays ITS raw readout files through the FEE monitoring
// task and displays the accumulated status counters.
//
// Usage: fee-replay [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Files are processed concurrently, each one as a separate activity, and
// their counters are summed up at the end.
//
// Example:
//
//	$> fee-replay -o qc.yoda ./run-505000-*.raw
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/itsfee/config"
	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
	"github.com/go-lpc/itsfee/internal/mmap"
	"github.com/go-lpc/itsfee/publish"
	"github.com/go-lpc/itsfee/status"
	"github.com/go-lpc/itsfee/task"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetPrefix("fee-replay: ")
	log.SetFlags(0)

	var (
		cfgName = flag.String("cfg", "", "path to a YAML configuration file")
		oname   = flag.String("o", "", "path to an output YODA file")
		verbose = flag.Bool("v", false, "enable verbose mode")
	)

	flag.Usage = func() {
		fmt.Printf(`fee-replay replays ITS raw readout files through the FEE monitoring task.

Usage: fee-replay [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> fee-replay -o qc.yoda ./run-505000-*.raw

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input raw file")
	}

	cfg := config.Default()
	if *cfgName != "" {
		var err error
		cfg, err = config.Load(*cfgName)
		if err != nil {
			log.Fatalf("could not load configuration: %+v", err)
		}
	}

	lvl := tlog.LvlInfo
	if *verbose {
		lvl = tlog.LvlDebug
	}

	err := run(os.Stdout, cfg, flag.Args(), *oname, lvl)
	if err != nil {
		log.Fatalf("could not replay files: %+v", err)
	}
}

func run(w io.Writer, cfg config.Task, fnames []string, oname string, lvl tlog.Level) error {
	var (
		grp   errgroup.Group
		snaps = make([]*status.Snapshot, len(fnames))
	)
	for i := range fnames {
		i := i
		grp.Go(func() error {
			s, err := replay(cfg, fnames[i], uint32(i), lvl)
			if err != nil {
				return fmt.Errorf("could not replay %q: %w", fnames[i], err)
			}
			snaps[i] = s
			return nil
		})
	}

	err := grp.Wait()
	if err != nil {
		return err
	}

	total := snaps[0]
	for _, s := range snaps[1:] {
		err = total.Add(s)
		if err != nil {
			return fmt.Errorf("could not merge counters: %w", err)
		}
	}

	summary(w, total)

	if oname != "" {
		f, err := os.Create(oname)
		if err != nil {
			return fmt.Errorf("could not create output file: %w", err)
		}
		defer f.Close()

		err = publish.WriteYODA(f, total)
		if err != nil {
			return fmt.Errorf("could not write histograms: %w", err)
		}

		err = f.Close()
		if err != nil {
			return fmt.Errorf("could not close output file: %w", err)
		}
	}

	return nil
}

func replay(cfg config.Task, fname string, run uint32, lvl tlog.Level) (*status.Snapshot, error) {
	var msg tlog.MsgStream = tlog.NewMsgStream("fee-replay", lvl, os.Stderr)
	t, err := task.New(cfg, msg)
	if err != nil {
		return nil, fmt.Errorf("could not create task: %w", err)
	}

	f, err := mmap.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t.StartOfActivity(run)
	n, err := t.ProcessStream(f.Reader())
	if err != nil {
		// the decoding error is counted: keep what was decoded so far.
		msg.Errorf("file %q: stopped after %d pages: %+v", fname, n, err)
	}
	stats := t.Stats()
	msg.Debugf(
		"file %q: %d pages (skipped=%d), %d words, processing=%v",
		fname, stats.Pages, stats.Skipped, stats.Words, stats.Elapsed,
	)

	pub, err := t.EndOfActivity()
	if err != nil {
		return nil, fmt.Errorf("could not end activity: %w", err)
	}
	return pub.Cumulative, nil
}

func summary(w io.Writer, s *status.Snapshot) {
	fmt.Fprintf(w, "%-8s %10s %10s %10s\n", "", "WARNING", "ERROR", "FAULT")
	for i := 0; i < geom.NLayers; i++ {
		fmt.Fprintf(w, "%-8s %10d %10d %10d\n", fmt.Sprintf("layer-%d", i),
			s.Layer(i, status.Warning), s.Layer(i, status.Error), s.Layer(i, status.Fault),
		)
	}
	for p := geom.InnerBarrel; int(p) < geom.NPartitions; p++ {
		fmt.Fprintf(w, "%-8s %10d %10d %10d\n", p,
			s.Partition(p, status.Warning), s.Partition(p, status.Error), s.Partition(p, status.Fault),
		)
	}

	fmt.Fprintf(w, "\ntriggers:\n")
	for trg := gbt.Trigger(0); int(trg) < gbt.NTriggers; trg++ {
		if v := s.Trigger(trg); v > 0 {
			fmt.Fprintf(w, "  %-17s %10d\n", trg, v)
		}
	}
	fmt.Fprintf(w, "detector fields:\n")
	for df := gbt.DetField(0); int(df) < gbt.NDetFields; df++ {
		if v := s.DetField(df); v > 0 {
			fmt.Fprintf(w, "  %-17s %10d\n", df, v)
		}
	}
	fmt.Fprintf(w, "decoding errors:\n")
	for k := status.ErrKind(0); int(k) < status.NErrKinds; k++ {
		if v := s.Errors(k); v > 0 {
			fmt.Fprintf(w, "  %-17s %10d\n", k, v)
		}
	}
	fmt.Fprintf(w, "trailer flags:\n")
	for f := gbt.TrailerFlag(0); int(f) < gbt.NTrailerFlags; f++ {
		if v := s.TrailerFlag(f); v > 0 {
			fmt.Fprintf(w, "  %-19s %10d\n", f, v)
		}
	}
	fmt.Fprintf(w, "time frames: %d\n", s.TimeFrames())
}
