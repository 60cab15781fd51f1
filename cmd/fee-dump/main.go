// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fee-dump decodes and displays ITS raw readout files.
//
// Usage: fee-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> fee-dump ./testdata/its-raw.dat
//	=== page 0: FEE-ID 0x3101 ===
//	FEE:             147 (L3_01 link 1)
//	Orbit:         12345
//	BC:              100
//	Page:              0
//	Stop:              0
//	Triggers: [HB TF]
//	DetField: []
//	Words:             2
//	  [000] IHW active=0x00000ff
//	  [001] DDW index=0 flag1=0x0 lanes=.................E......F...
//	[...]
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/go-lpc/itsfee/config"
	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
	"github.com/go-lpc/itsfee/internal/mmap"
)

func main() {
	log.SetPrefix("fee-dump: ")
	log.SetFlags(0)

	cfgName := flag.String("cfg", "", "path to a YAML configuration file with a geometry override")

	flag.Usage = func() {
		fmt.Printf(`fee-dump decodes and displays ITS raw readout files.

Usage: fee-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> fee-dump ./testdata/its-raw.dat
 === page 0: FEE-ID 0x3101 ===
 FEE:             147 (L3_01 link 1)
 Orbit:         12345
 BC:              100
 Page:              0
 Stop:              0
 Triggers: [HB TF]
 DetField: []
 Words:             2
   [000] IHW active=0x00000ff
   [001] DDW index=0 flag1=0x0 lanes=.................E......F...
 [...]

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input raw file")
	}

	geo := geom.Default()
	if *cfgName != "" {
		cfg, err := config.Load(*cfgName)
		if err != nil {
			log.Fatalf("could not load configuration: %+v", err)
		}
		geo, err = cfg.Table()
		if err != nil {
			log.Fatalf("could not load geometry: %+v", err)
		}
	}

	for _, fname := range flag.Args() {
		err := process(os.Stdout, fname, geo)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, geo *geom.Table) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	f, err := mmap.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	dec := gbt.NewDecoder(f.Reader())
	for i := 0; ; i++ {
		var page gbt.Page
		err := dec.Decode(&page)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("could not decode readout page: %w", err)
		}
		dump(wbuf, i, &page, geo)
	}

	return nil
}

func dump(w io.Writer, i int, page *gbt.Page, geo *geom.Table) {
	var (
		rdh        = page.RDH
		trgs, dets = gbt.Classify(rdh)
	)
	fmt.Fprintf(w, "=== page %d: FEE-ID 0x%04x ===\n", i, rdh.FEEID)
	fee, err := geo.FEEIndex(rdh.FEEID)
	switch err {
	case nil:
		layer, stave, link, _ := geo.Locate(fee)
		fmt.Fprintf(w, "FEE:      %10d (L%d_%02d link %d)\n", fee, layer, stave, link)
	default:
		fmt.Fprintf(w, "FEE:      %10s\n", "N/A")
	}
	fmt.Fprintf(w, "Orbit:    %10d\n", rdh.Orbit)
	fmt.Fprintf(w, "BC:       %10d\n", rdh.BC)
	fmt.Fprintf(w, "Page:     %10d\n", rdh.PageCount)
	fmt.Fprintf(w, "Stop:     %10d\n", rdh.Stop)
	fmt.Fprintf(w, "Triggers: %v\n", trgs)
	fmt.Fprintf(w, "DetField: %v\n", dets)
	fmt.Fprintf(w, "Words:    %10d\n", len(page.Payload)/gbt.WordSize)

	for j := 0; j+gbt.WordSize <= len(page.Payload); j += gbt.WordSize {
		raw := page.Payload[j : j+gbt.WordSize]
		fmt.Fprintf(w, "  [%03d] %s\n", j/gbt.WordSize, describe(raw))
	}
}

func describe(raw []byte) string {
	id, err := gbt.WordID(raw)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}

	switch id {
	case gbt.IDHeaderWord:
		ihw, err := gbt.DecodeHeaderWord(raw)
		if err != nil {
			return fmt.Sprintf("IHW error: %v", err)
		}
		return fmt.Sprintf("IHW active=0x%07x", ihw.ActiveLanes)

	case gbt.IDDiagnosticWord:
		ddw, err := gbt.DecodeDiagnosticWord(raw)
		if err != nil {
			return fmt.Sprintf("DDW error: %v", err)
		}
		return fmt.Sprintf("DDW index=%d flag1=0x%x lanes=%s", ddw.Index, ddw.Flag1, lanes(ddw.Lanes[:]))

	case gbt.IDTrailerWord:
		tdt, err := gbt.DecodeTrailerWord(raw)
		if err != nil {
			return fmt.Sprintf("TDT error: %v", err)
		}
		return fmt.Sprintf(
			"TDT stops=0x%07x timeouts=0x%07x flags=%s",
			tdt.LaneStops, tdt.LaneTimeouts, tdt.FlagNames(),
		)

	case gbt.IDCalibrationWord:
		cdw, err := gbt.DecodeCalibrationWord(raw)
		if err != nil {
			return fmt.Sprintf("CDW error: %v", err)
		}
		cf := cdw.Fields
		return fmt.Sprintf(
			"CDW row=%d run-type=%d loop=%d confdb=%d version=%d counter=%d",
			cf.Row, cf.RunType, cf.Loop, cf.ConfDB, cf.Version, cdw.Counter,
		)
	}
	return fmt.Sprintf("0x%02x %x", id, raw)
}

func lanes(sts []gbt.LaneStatus) string {
	var o strings.Builder
	for _, st := range sts {
		switch st {
		case gbt.LaneOK:
			o.WriteByte('.')
		case gbt.LaneWarning:
			o.WriteByte('W')
		case gbt.LaneError:
			o.WriteByte('E')
		case gbt.LaneFault:
			o.WriteByte('F')
		default:
			o.WriteByte('?')
		}
	}
	return o.String()
}
