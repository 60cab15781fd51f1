// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/xerrors"
)

const cdwUserSize = 6 // size in bytes of the CDW user field

// Layout of the three 16-bit user fields of a calibration word.
var (
	fieldRow     = Field{Shift: 0, Width: 9}  // user field 0
	fieldRunType = Field{Shift: 9, Width: 7}  // user field 0
	fieldLoop    = Field{Shift: 0, Width: 16} // user field 1
	fieldConfDB  = Field{Shift: 0, Width: 13} // user field 2
	fieldCDWVers = Field{Shift: 13, Width: 3} // user field 2
)

const counterBits = 24 // width of the CDW counter, held in bytes 6 to 8

// CalibrationFields are the user fields of a calibration data word.
type CalibrationFields struct {
	Row     uint16 // mask stage or row
	RunType uint8
	Loop    uint16
	ConfDB  uint16 // configuration database version
	Version uint8  // CDW version
}

// DecodeCalibrationFields decodes the three little-endian 16-bit user
// fields of a calibration data word.
func DecodeCalibrationFields(raw []byte) (CalibrationFields, error) {
	if len(raw) != cdwUserSize {
		return CalibrationFields{}, xerrors.Errorf(
			"gbt: invalid calibration user field size (got=%d, want=%d): %w",
			len(raw), cdwUserSize, ErrMalformedWord,
		)
	}

	var (
		le = binary.LittleEndian
		u0 = uint64(le.Uint16(raw[0:2]))
		u1 = uint64(le.Uint16(raw[2:4]))
		u2 = uint64(le.Uint16(raw[4:6]))
	)
	return CalibrationFields{
		Row:     uint16(fieldRow.Get(u0)),
		RunType: uint8(fieldRunType.Get(u0)),
		Loop:    uint16(fieldLoop.Get(u1)),
		ConfDB:  uint16(fieldConfDB.Get(u2)),
		Version: uint8(fieldCDWVers.Get(u2)),
	}, nil
}

func (cf CalibrationFields) encode(dst []byte) error {
	switch {
	case !fieldRow.Fits(uint64(cf.Row)):
		return fmt.Errorf("gbt: calibration row %d overflows %d bits", cf.Row, fieldRow.Width)
	case !fieldRunType.Fits(uint64(cf.RunType)):
		return fmt.Errorf("gbt: calibration run type %d overflows %d bits", cf.RunType, fieldRunType.Width)
	case !fieldConfDB.Fits(uint64(cf.ConfDB)):
		return fmt.Errorf("gbt: calibration conf-db %d overflows %d bits", cf.ConfDB, fieldConfDB.Width)
	case !fieldCDWVers.Fits(uint64(cf.Version)):
		return fmt.Errorf("gbt: calibration version %d overflows %d bits", cf.Version, fieldCDWVers.Width)
	}

	u0 := fieldRow.Set(0, uint64(cf.Row))
	u0 = fieldRunType.Set(u0, uint64(cf.RunType))
	u2 := fieldConfDB.Set(0, uint64(cf.ConfDB))
	u2 = fieldCDWVers.Set(u2, uint64(cf.Version))

	le := binary.LittleEndian
	le.PutUint16(dst[0:2], uint16(u0))
	le.PutUint16(dst[2:4], cf.Loop)
	le.PutUint16(dst[4:6], uint16(u2))
	return nil
}

// CalibrationWord is a calibration data word (CDW).
type CalibrationWord struct {
	Fields  CalibrationFields
	Counter uint32 // 24-bit word counter
	ID      uint8
}

// DecodeCalibrationWord decodes a 16-byte padded calibration data word.
func DecodeCalibrationWord(raw []byte) (CalibrationWord, error) {
	err := checkWord("calibration word", raw)
	if err != nil {
		return CalibrationWord{}, err
	}

	_, w1 := split(raw)
	id := uint8(fieldWordID.Get(w1))
	if id != IDCalibrationWord {
		return CalibrationWord{}, xerrors.Errorf(
			"gbt: invalid calibration word id (got=0x%02x, want=0x%02x): %w",
			id, IDCalibrationWord, ErrUnknownWordID,
		)
	}

	cf, err := DecodeCalibrationFields(raw[:cdwUserSize])
	if err != nil {
		return CalibrationWord{}, err
	}

	return CalibrationWord{
		Fields:  cf,
		Counter: counterOf(raw),
		ID:      id,
	}, nil
}

// Encode encodes the calibration word into a 16-byte padded GBT word.
func (cdw CalibrationWord) Encode(dst []byte) error {
	err := checkWord("calibration word", dst)
	if err != nil {
		return err
	}
	if cdw.Counter>>counterBits != 0 {
		return fmt.Errorf("gbt: calibration counter %d overflows %d bits", cdw.Counter, counterBits)
	}
	for i := range dst {
		dst[i] = 0
	}
	err = cdw.Fields.encode(dst[:cdwUserSize])
	if err != nil {
		return err
	}
	dst[6] = byte(cdw.Counter)
	dst[7] = byte(cdw.Counter >> 8)
	dst[8] = byte(cdw.Counter >> 16)
	dst[9] = cdw.ID
	return nil
}

func counterOf(raw []byte) uint32 {
	return uint32(raw[6]) | uint32(raw[7])<<8 | uint32(raw[8])<<16
}
