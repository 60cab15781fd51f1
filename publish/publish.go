// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package publish converts status snapshots into histograms, the payload
// handed over to the publication layer.
package publish // import "github.com/go-lpc/itsfee/publish"

import (
	"fmt"
	"io"

	"github.com/go-lpc/itsfee/gbt"
	"github.com/go-lpc/itsfee/geom"
	"github.com/go-lpc/itsfee/status"
	"go-hep.org/x/hep/hbook"
)

// Histos holds the histograms booked for one snapshot.
type Histos struct {
	Lanes      [status.NFlags]*hbook.H2D    // lane status maps: global stave vs lane
	Layers     [geom.NLayers]*hbook.H1D     // per-layer counts vs flag
	Partitions [geom.NPartitions]*hbook.H1D // per-partition counts vs flag
	Triggers   *hbook.H1D                   // trigger occurrences
	DetFields  *hbook.H1D                   // detector field occurrences
	Errors     *hbook.H1D                   // decoding errors vs kind
	Trailers   *hbook.H2D                   // trailer flags: FEE vs flag
	Payload    *hbook.H1D                   // average payload size vs FEE
}

// New books and fills the histograms of a snapshot.
func New(s *status.Snapshot) *Histos {
	var (
		geo    = s.Geometry()
		prefix = "its-fee/" + s.Tier().String()
		hs     = new(Histos)
		lanes  = 0
	)
	for i := 0; i < geom.NLayers; i++ {
		if n := geo.Layer(i).LanesPerStave(); n > lanes {
			lanes = n
		}
	}

	for f := status.Flag(0); int(f) < status.NFlags; f++ {
		h := hbook.NewH2D(geo.Staves(), 0, float64(geo.Staves()), lanes, 0, float64(lanes))
		annotate(h.Annotation(),
			fmt.Sprintf("%s/lanes-%s", prefix, f),
			fmt.Sprintf("Lanes with %s status", f),
		)
		hs.Lanes[f] = h
	}

	for layer := 0; layer < geom.NLayers; layer++ {
		var (
			lay = geo.Layer(layer)
			off = geo.StaveOffset(layer)
		)
		for stave := 0; stave < lay.Staves; stave++ {
			for lane := 0; lane < lay.LanesPerStave(); lane++ {
				c := geom.Coord{Layer: layer, Stave: stave, Lane: lane}
				for f := status.Flag(0); int(f) < status.NFlags; f++ {
					v := s.Lane(c, f)
					if v == 0 {
						continue
					}
					hs.Lanes[f].Fill(float64(off+stave)+0.5, float64(lane)+0.5, float64(v))
				}
			}
		}

		h := newFlagsH1D(
			fmt.Sprintf("%s/layer-%d", prefix, layer),
			fmt.Sprintf("Lane status of layer %d", layer),
		)
		for f := status.Flag(0); int(f) < status.NFlags; f++ {
			fill(h, int(f), s.Layer(layer, f))
		}
		hs.Layers[layer] = h
	}

	for p := geom.InnerBarrel; int(p) < geom.NPartitions; p++ {
		h := newFlagsH1D(
			fmt.Sprintf("%s/partition-%s", prefix, p),
			fmt.Sprintf("Lane status of %s", p),
		)
		for f := status.Flag(0); int(f) < status.NFlags; f++ {
			fill(h, int(f), s.Partition(p, f))
		}
		hs.Partitions[p] = h
	}

	hs.Triggers = hbook.NewH1D(gbt.NTriggers, 0, float64(gbt.NTriggers))
	annotate(hs.Triggers.Annotation(), prefix+"/triggers", "Trigger flags")
	for trg := gbt.Trigger(0); int(trg) < gbt.NTriggers; trg++ {
		fill(hs.Triggers, int(trg), s.Trigger(trg))
	}

	hs.DetFields = hbook.NewH1D(gbt.NDetFields, 0, float64(gbt.NDetFields))
	annotate(hs.DetFields.Annotation(), prefix+"/detfields", "Detector field flags")
	for df := gbt.DetField(0); int(df) < gbt.NDetFields; df++ {
		fill(hs.DetFields, int(df), s.DetField(df))
	}

	hs.Errors = hbook.NewH1D(status.NErrKinds, 0, float64(status.NErrKinds))
	annotate(hs.Errors.Annotation(), prefix+"/errors", "Decoding errors")
	for k := status.ErrKind(0); int(k) < status.NErrKinds; k++ {
		fill(hs.Errors, int(k), s.Errors(k))
	}

	nfees := geo.FEEs()
	hs.Trailers = hbook.NewH2D(nfees, 0, float64(nfees), gbt.NTrailerFlags, 0, float64(gbt.NTrailerFlags))
	annotate(hs.Trailers.Annotation(), prefix+"/trailers", "Trailer flags vs FEE")
	hs.Payload = hbook.NewH1D(nfees, 0, float64(nfees))
	annotate(hs.Payload.Annotation(), prefix+"/payload-size", "Average payload size (bytes) vs FEE")
	for fee := 0; fee < nfees; fee++ {
		for f := gbt.TrailerFlag(0); int(f) < gbt.NTrailerFlags; f++ {
			if v := s.FEETrailerFlag(fee, f); v > 0 {
				hs.Trailers.Fill(float64(fee)+0.5, float64(f)+0.5, float64(v))
			}
		}
		if v := s.PayloadSize(fee); v > 0 {
			hs.Payload.Fill(float64(fee)+0.5, v)
		}
	}

	return hs
}

func newFlagsH1D(name, title string) *hbook.H1D {
	h := hbook.NewH1D(status.NFlags, 0, float64(status.NFlags))
	annotate(h.Annotation(), name, title)
	return h
}

func annotate(ann hbook.Annotation, name, title string) {
	ann["name"] = name
	ann["title"] = title
}

func fill(h *hbook.H1D, bin int, v uint64) {
	if v == 0 {
		return
	}
	h.Fill(float64(bin)+0.5, float64(v))
}

// WriteYODA writes the histograms of a snapshot to w, in YODA format.
func WriteYODA(w io.Writer, s *status.Snapshot) error {
	return New(s).WriteYODA(w)
}

// WriteYODA writes all the histograms to w, in YODA format.
func (hs *Histos) WriteYODA(w io.Writer) error {
	type yodaMarshaler interface {
		MarshalYODA() ([]byte, error)
	}

	hists := make([]yodaMarshaler, 0, len(hs.Lanes)+len(hs.Layers)+len(hs.Partitions)+5)
	for _, h := range hs.Lanes {
		hists = append(hists, h)
	}
	for _, h := range hs.Layers {
		hists = append(hists, h)
	}
	for _, h := range hs.Partitions {
		hists = append(hists, h)
	}
	hists = append(hists, hs.Triggers, hs.DetFields, hs.Errors, hs.Trailers, hs.Payload)

	for _, h := range hists {
		raw, err := h.MarshalYODA()
		if err != nil {
			return fmt.Errorf("publish: could not marshal histogram to YODA: %w", err)
		}
		_, err = w.Write(raw)
		if err != nil {
			return fmt.Errorf("publish: could not write YODA histogram: %w", err)
		}
	}
	return nil
}
