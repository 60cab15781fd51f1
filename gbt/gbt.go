// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gbt decodes the readout data headers (RDH) and the GBT words
// (ITS header, trailer, diagnostic and calibration words) sent by the ITS
// front-end electronics.
//
// All multi-byte quantities are little-endian. GBT words are 80 bits wide
// and are transmitted padded to 16 bytes.
package gbt // import "github.com/go-lpc/itsfee/gbt"

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

const (
	WordSize = 16 // size in bytes of a padded GBT word
	RDHSize  = 64 // size in bytes of a readout data header
)

// GBT word identifiers.
const (
	IDHeaderWord      = 0xe0 // ITS header word (IHW)
	IDDiagnosticWord  = 0xe4 // lane status diagnostic word (DDW)
	IDTrailerWord     = 0xf0 // ITS trailer word (TDT)
	IDCalibrationWord = 0xf8 // calibration data word (CDW)
)

var (
	ErrMalformedWord   = xerrors.New("gbt: malformed word")
	ErrMalformedHeader = xerrors.Errorf("gbt: malformed readout header: %w", ErrMalformedWord)
	ErrUnknownWordID   = xerrors.New("gbt: unknown word id")
)

// Field describes a bit-field within an unsigned word, by its bit offset
// and its width in bits.
type Field struct {
	Shift uint
	Width uint
}

func (f Field) mask() uint64 {
	if f.Width >= 64 {
		return ^uint64(0)
	}
	return 1<<f.Width - 1
}

// Get extracts the field from v.
func (f Field) Get(v uint64) uint64 {
	return (v >> f.Shift) & f.mask()
}

// Set returns v with the field replaced by x.
// Bits of x beyond the field width are dropped.
func (f Field) Set(v, x uint64) uint64 {
	m := f.mask() << f.Shift
	return (v &^ m) | ((x << f.Shift) & m)
}

// Fits reports whether x can be stored in the field.
func (f Field) Fits(x uint64) bool {
	return x&^f.mask() == 0
}

// Layout of the two 64-bit halves of a padded GBT word.
var (
	fieldWordID = Field{Shift: 8, Width: 8} // in word1
)

// WordID returns the identifier of a padded GBT word.
func WordID(raw []byte) (uint8, error) {
	if len(raw) != WordSize {
		return 0, xerrors.Errorf(
			"gbt: invalid GBT word size (got=%d, want=%d): %w",
			len(raw), WordSize, ErrMalformedWord,
		)
	}
	_, w1 := split(raw)
	return uint8(fieldWordID.Get(w1)), nil
}

// split returns the two little-endian 64-bit halves of a padded GBT word.
func split(raw []byte) (w0, w1 uint64) {
	w0 = binary.LittleEndian.Uint64(raw[0:8])
	w1 = binary.LittleEndian.Uint64(raw[8:16])
	return w0, w1
}

func join(dst []byte, w0, w1 uint64) {
	binary.LittleEndian.PutUint64(dst[0:8], w0)
	binary.LittleEndian.PutUint64(dst[8:16], w1)
}

func checkWord(name string, raw []byte) error {
	if len(raw) != WordSize {
		return xerrors.Errorf(
			"gbt: invalid %s size (got=%d, want=%d): %w",
			name, len(raw), WordSize, ErrMalformedWord,
		)
	}
	return nil
}
