// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import (
	"fmt"

	"github.com/go-lpc/itsfee/geom"
	"golang.org/x/xerrors"
)

var fieldActiveLanes = Field{Shift: 0, Width: geom.NLanesMax} // in word0

// HeaderWord is an ITS header word (IHW).
type HeaderWord struct {
	ActiveLanes uint32 // one bit per active lane
	ID          uint8
}

// Active reports whether the i-th lane is flagged as active.
func (ihw HeaderWord) Active(i int) bool {
	return ihw.ActiveLanes&(1<<uint(i)) != 0
}

// DecodeHeaderWord decodes a 16-byte padded ITS header word.
func DecodeHeaderWord(raw []byte) (HeaderWord, error) {
	err := checkWord("header word", raw)
	if err != nil {
		return HeaderWord{}, err
	}
	w0, w1 := split(raw)
	id := uint8(fieldWordID.Get(w1))
	if id != IDHeaderWord {
		return HeaderWord{}, xerrors.Errorf(
			"gbt: invalid header word id (got=0x%02x, want=0x%02x): %w",
			id, IDHeaderWord, ErrUnknownWordID,
		)
	}
	return HeaderWord{
		ActiveLanes: uint32(fieldActiveLanes.Get(w0)),
		ID:          id,
	}, nil
}

// Encode encodes the header word into a 16-byte padded GBT word.
func (ihw HeaderWord) Encode(dst []byte) error {
	err := checkWord("header word", dst)
	if err != nil {
		return err
	}
	if !fieldActiveLanes.Fits(uint64(ihw.ActiveLanes)) {
		return fmt.Errorf("gbt: active lanes 0x%x overflow %d bits", ihw.ActiveLanes, fieldActiveLanes.Width)
	}
	join(dst,
		fieldActiveLanes.Set(0, uint64(ihw.ActiveLanes)),
		fieldWordID.Set(0, uint64(ihw.ID)),
	)
	return nil
}
