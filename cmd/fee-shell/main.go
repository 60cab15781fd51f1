// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fee-shell is an interactive shell to inspect the ITS readout geometry
// and to decode hex-encoded readout headers and GBT words.
//
// Usage: fee-shell [OPTIONS]
//
// Example:
//
//	$> fee-shell
//	fee> fee 0x3101
//	FEE-ID 0x3101: FEE 147 (L3_01 link 1), window=[17, 25)
//	fee> hw 431
//	FEE 431: FEE-ID 0x612f (L6_47 link 1)
//	fee> quit
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/itsfee/config"
	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
	"github.com/peterh/liner"
)

var errQuit = errors.New("fee-shell: quit")

func main() {
	log.SetPrefix("fee-shell: ")
	log.SetFlags(0)

	var (
		cfgName = flag.String("cfg", "", "path to a YAML configuration file with a geometry override")
		hist    = flag.String("history", defaultHistory(), "path to the history file")
	)

	flag.Usage = func() {
		fmt.Printf(`fee-shell is an interactive shell to inspect the ITS readout geometry
and to decode hex-encoded readout headers and GBT words.

Usage: fee-shell [OPTIONS]

Example:

 $> fee-shell
 fee> fee 0x3101
 fee> ddw 147 000000000c00000000e4000000000000

`)
		flag.PrintDefaults()
	}

	flag.Parse()

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

	err := shell(os.Stdout, geo, *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func defaultHistory() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".fee-shell.history")
}

func shell(w io.Writer, geo *geom.Table, hist string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(complete)

	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			_, _ = term.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			f, err := os.Create(hist)
			if err != nil {
				log.Printf("could not save history: %+v", err)
				return
			}
			defer f.Close()
			_, _ = term.WriteHistory(f)
		}()
	}

	for {
		line, err := term.Prompt("fee> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintf(w, "\n")
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		term.AppendHistory(line)

		err = eval(w, geo, line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
}

type command struct {
	args string
	help string
	fct  func(w io.Writer, geo *geom.Table, args []string) error
}

var cmds map[string]command

func init() {
	cmds = map[string]command{
		"help":  {"", "display this help message", cmdHelp},
		"quit":  {"", "leave the shell", cmdQuit},
		"fee":   {"HWID", "resolve a hardware FEE identifier", cmdFEE},
		"hw":    {"FEE", "display the hardware identifier of a FEE index", cmdHW},
		"layer": {"LAYER", "display the geometry of a layer", cmdLayer},
		"rdh":   {"HEX", "decode a 64-byte readout data header", cmdRDH},
		"word":  {"HEX", "decode a GBT word", cmdWord},
		"ddw":   {"FEE HEX", "decode a diagnostic word sent by a FEE", cmdDDW},
	}
}

func complete(line string) []string {
	var out []string
	for name := range cmds {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func eval(w io.Writer, geo *geom.Table, line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	name := toks[0]
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try \"help\")", toks[0])
	}
	return cmd.fct(w, geo, toks[1:])
}

func cmdHelp(w io.Writer, geo *geom.Table, args []string) error {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := cmds[name]
		fmt.Fprintf(w, "  %-16s %s\n", strings.TrimSpace(name+" "+cmd.args), cmd.help)
	}
	return nil
}

func cmdQuit(w io.Writer, geo *geom.Table, args []string) error {
	return errQuit
}

func cmdFEE(w io.Writer, geo *geom.Table, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: fee HWID")
	}
	v, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid hardware identifier %q: %w", args[0], err)
	}
	hwid := uint16(v)
	fee, err := geo.FEEIndex(hwid)
	if err != nil {
		return err
	}
	layer, stave, link, err := geo.Locate(fee)
	if err != nil {
		return err
	}
	win := geo.Layer(layer).Windows[link]
	fmt.Fprintf(w, "FEE-ID 0x%04x: FEE %d (L%d_%02d link %d), window=[%d, %d)\n",
		hwid, fee, layer, stave, link, win.Lo, win.Hi,
	)
	return nil
}

func cmdHW(w io.Writer, geo *geom.Table, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: hw FEE")
	}
	fee, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid FEE index %q: %w", args[0], err)
	}
	hwid, err := geo.HardwareID(fee)
	if err != nil {
		return err
	}
	layer, stave, link, _ := geo.Locate(fee)
	fmt.Fprintf(w, "FEE %d: FEE-ID 0x%04x (L%d_%02d link %d)\n", fee, hwid, layer, stave, link)
	return nil
}

func cmdLayer(w io.Writer, geo *geom.Table, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: layer LAYER")
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid layer %q: %w", args[0], err)
	}
	if i < 0 || i >= geom.NLayers {
		return fmt.Errorf("layer %d not in [0, %d)", i, geom.NLayers)
	}
	var (
		lay    = geo.Layer(i)
		lo, hi = geo.FEERange(i)
	)
	fmt.Fprintf(w, "layer %d (%v): staves=%d, FEEs/stave=%d, lanes/FEE=%d, FEEs=[%d, %d]\n",
		i, lay.Partition, lay.Staves, lay.FEEsPerStave, lay.LanesPerFEE, lo, hi,
	)
	for j, win := range lay.Windows {
		fmt.Fprintf(w, "  link %d: window=[%d, %d)\n", j, win.Lo, win.Hi)
	}
	return nil
}

func cmdRDH(w io.Writer, geo *geom.Table, args []string) error {
	raw, err := decodeHex(args)
	if err != nil {
		return err
	}
	rdh, err := gbt.DecodeRDH(raw)
	if err != nil {
		return err
	}
	trgs, dets := gbt.Classify(rdh)
	fmt.Fprintf(w, "version=%d FEE-ID=0x%04x orbit=%d bc=%d page=%d stop=%d\n",
		rdh.Version, rdh.FEEID, rdh.Orbit, rdh.BC, rdh.PageCount, rdh.Stop,
	)
	fmt.Fprintf(w, "triggers=%v\n", trgs)
	fmt.Fprintf(w, "detfield=%v\n", dets)
	return nil
}

func cmdWord(w io.Writer, geo *geom.Table, args []string) error {
	raw, err := decodeWord(args)
	if err != nil {
		return err
	}
	id, err := gbt.WordID(raw)
	if err != nil {
		return err
	}

	switch id {
	case gbt.IDHeaderWord:
		ihw, err := gbt.DecodeHeaderWord(raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "IHW active=0x%07x\n", ihw.ActiveLanes)

	case gbt.IDDiagnosticWord:
		ddw, err := gbt.DecodeDiagnosticWord(raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "DDW index=%d flag1=0x%x\n", ddw.Index, ddw.Flag1)
		for bit, st := range ddw.Lanes {
			if st == gbt.LaneOK {
				continue
			}
			fmt.Fprintf(w, "  bit %2d: %v\n", bit, st)
		}

	case gbt.IDTrailerWord:
		tdt, err := gbt.DecodeTrailerWord(raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "TDT stops=0x%07x timeouts=0x%07x flags=%s\n",
			tdt.LaneStops, tdt.LaneTimeouts, tdt.FlagNames(),
		)

	case gbt.IDCalibrationWord:
		cdw, err := gbt.DecodeCalibrationWord(raw)
		if err != nil {
			return err
		}
		cf := cdw.Fields
		fmt.Fprintf(w, "CDW row=%d run-type=%d loop=%d confdb=%d version=%d counter=%d\n",
			cf.Row, cf.RunType, cf.Loop, cf.ConfDB, cf.Version, cdw.Counter,
		)

	default:
		return fmt.Errorf("word id 0x%02x: %w", id, gbt.ErrUnknownWordID)
	}
	return nil
}

func cmdDDW(w io.Writer, geo *geom.Table, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: ddw FEE HEX")
	}
	fee, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid FEE index %q: %w", args[0], err)
	}
	raw, err := decodeWord(args[1:])
	if err != nil {
		return err
	}
	evt, err := gbt.DecodeLaneStatus(raw, fee, geo)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "DDW FEE %d index=%d flag1=0x%x\n", evt.FEE, evt.Index, evt.Flag1)
	for bit, st := range evt.Lanes {
		if st == gbt.LaneOK {
			continue
		}
		c, err := geo.Resolve(evt.FEE, bit, evt.Index)
		if err != nil {
			fmt.Fprintf(w, "  bit %2d: %v (not mapped)\n", bit, st)
			continue
		}
		fmt.Fprintf(w, "  L%d_%02d lane %2d: %v\n", c.Layer, c.Stave, c.Lane, st)
	}
	return nil
}

// decodeHex decodes the hex-encoded bytes held by args, in stream order.
func decodeHex(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing hex-encoded data")
	}
	txt := strings.TrimPrefix(strings.Join(args, ""), "0x")
	raw, err := hex.DecodeString(txt)
	if err != nil {
		return nil, fmt.Errorf("invalid hex-encoded data: %w", err)
	}
	return raw, nil
}

// decodeWord decodes a hex-encoded GBT word, either as the 10 bytes of
// the 80-bit word or as the 16 bytes of the padded word.
func decodeWord(args []string) ([]byte, error) {
	raw, err := decodeHex(args)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case gbt.WordSize:
		return raw, nil
	case 10:
		word := make([]byte, gbt.WordSize)
		copy(word, raw)
		return word, nil
	}
	return nil, fmt.Errorf(
		"invalid GBT word size (got=%d, want=10 or %d): %w",
		len(raw), gbt.WordSize, gbt.ErrMalformedWord,
	)
}
