// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/xerrors"
)

// RDH is a readout data header (version 6 or 7), as prepended by the
// common readout unit (CRU) to every readout page.
type RDH struct {
	Version       uint8
	HeaderSize    uint8
	FEEID         uint16 // hardware FEE identifier
	SourceID      uint8
	OffsetToNext  uint16 // offset in bytes to the next readout page
	MemorySize    uint16 // size in bytes of the header and its payload
	LinkID        uint8
	PacketCounter uint8
	CRUID         uint16
	EndPoint      uint8
	BC            uint16 // bunch crossing
	Orbit         uint32
	TriggerType   uint32
	PageCount     uint16
	Stop          uint8
	DetField      uint32 // detector field
	PAR           uint16
}

// Byte offsets of the RDH fields.
const (
	rdhVersion    = 0
	rdhHeaderSize = 1
	rdhFEEID      = 2
	rdhSourceID   = 5
	rdhOffset     = 8
	rdhMemSize    = 10
	rdhLinkID     = 12
	rdhPacketCnt  = 13
	rdhCRU        = 14
	rdhBC         = 16
	rdhOrbit      = 20
	rdhTrgType    = 32
	rdhPageCnt    = 36
	rdhStop       = 38
	rdhDetField   = 48
	rdhPAR        = 52
)

var (
	fieldCRUID    = Field{Shift: 0, Width: 12} // in the 16-bit CRU word
	fieldEndPoint = Field{Shift: 12, Width: 4} // in the 16-bit CRU word
	fieldBC       = Field{Shift: 0, Width: 12} // in the 32-bit BC word
)

// DecodeRDH decodes a readout data header from the first RDHSize bytes of raw.
func DecodeRDH(raw []byte) (RDH, error) {
	if len(raw) < RDHSize {
		return RDH{}, xerrors.Errorf(
			"gbt: readout header too short (got=%d, want=%d): %w",
			len(raw), RDHSize, ErrMalformedHeader,
		)
	}
	if sz := raw[rdhHeaderSize]; sz != RDHSize {
		return RDH{}, xerrors.Errorf(
			"gbt: invalid readout header size field (got=%d, want=%d): %w",
			sz, RDHSize, ErrMalformedHeader,
		)
	}

	var (
		le  = binary.LittleEndian
		cru = uint64(le.Uint16(raw[rdhCRU:]))
	)

	return RDH{
		Version:       raw[rdhVersion],
		HeaderSize:    raw[rdhHeaderSize],
		FEEID:         le.Uint16(raw[rdhFEEID:]),
		SourceID:      raw[rdhSourceID],
		OffsetToNext:  le.Uint16(raw[rdhOffset:]),
		MemorySize:    le.Uint16(raw[rdhMemSize:]),
		LinkID:        raw[rdhLinkID],
		PacketCounter: raw[rdhPacketCnt],
		CRUID:         uint16(fieldCRUID.Get(cru)),
		EndPoint:      uint8(fieldEndPoint.Get(cru)),
		BC:            uint16(fieldBC.Get(uint64(le.Uint32(raw[rdhBC:])))),
		Orbit:         le.Uint32(raw[rdhOrbit:]),
		TriggerType:   le.Uint32(raw[rdhTrgType:]),
		PageCount:     le.Uint16(raw[rdhPageCnt:]),
		Stop:          raw[rdhStop],
		DetField:      le.Uint32(raw[rdhDetField:]),
		PAR:           le.Uint16(raw[rdhPAR:]),
	}, nil
}

// PutRDH encodes the readout data header into the first RDHSize bytes of dst.
// The header size field is always written as RDHSize.
func PutRDH(dst []byte, rdh RDH) error {
	if len(dst) < RDHSize {
		return fmt.Errorf("gbt: buffer too short for readout header (got=%d, want=%d)", len(dst), RDHSize)
	}
	switch {
	case !fieldCRUID.Fits(uint64(rdh.CRUID)):
		return fmt.Errorf("gbt: CRU id 0x%x overflows %d bits", rdh.CRUID, fieldCRUID.Width)
	case !fieldEndPoint.Fits(uint64(rdh.EndPoint)):
		return fmt.Errorf("gbt: end-point %d overflows %d bits", rdh.EndPoint, fieldEndPoint.Width)
	case !fieldBC.Fits(uint64(rdh.BC)):
		return fmt.Errorf("gbt: bunch crossing %d overflows %d bits", rdh.BC, fieldBC.Width)
	}

	for i := range dst[:RDHSize] {
		dst[i] = 0
	}

	le := binary.LittleEndian
	dst[rdhVersion] = rdh.Version
	dst[rdhHeaderSize] = RDHSize
	le.PutUint16(dst[rdhFEEID:], rdh.FEEID)
	dst[rdhSourceID] = rdh.SourceID
	le.PutUint16(dst[rdhOffset:], rdh.OffsetToNext)
	le.PutUint16(dst[rdhMemSize:], rdh.MemorySize)
	dst[rdhLinkID] = rdh.LinkID
	dst[rdhPacketCnt] = rdh.PacketCounter

	cru := fieldCRUID.Set(0, uint64(rdh.CRUID))
	cru = fieldEndPoint.Set(cru, uint64(rdh.EndPoint))
	le.PutUint16(dst[rdhCRU:], uint16(cru))
	le.PutUint32(dst[rdhBC:], uint32(fieldBC.Set(0, uint64(rdh.BC))))
	le.PutUint32(dst[rdhOrbit:], rdh.Orbit)
	le.PutUint32(dst[rdhTrgType:], rdh.TriggerType)
	le.PutUint16(dst[rdhPageCnt:], rdh.PageCount)
	dst[rdhStop] = rdh.Stop
	le.PutUint32(dst[rdhDetField:], rdh.DetField)
	le.PutUint16(dst[rdhPAR:], rdh.PAR)
	return nil
}
