// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import (
	"fmt"
	"io"

	"golang.org/x/xerrors"
)

// Page is a readout page: a readout data header followed by its payload.
type Page struct {
	RDH     RDH
	Payload []byte // GBT words, padded to WordSize
}

// Decoder reads readout pages from an underlying data source.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error
}

// NewDecoder creates a decoder that reads readout pages from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, RDHSize),
	}
}

// Decode reads the next readout page.
// Decode returns io.EOF when no more pages are available.
// Errors are sticky: once a page could not be decoded, all subsequent
// calls fail.
// The payload of page is reused between calls.
func (dec *Decoder) Decode(page *Page) error {
	dec.load(RDHSize)
	if dec.err != nil {
		if xerrors.Is(dec.err, io.ErrUnexpectedEOF) {
			return xerrors.Errorf("gbt: could not read readout header: %w", dec.err)
		}
		return dec.err
	}

	rdh, err := DecodeRDH(dec.buf[:RDHSize])
	if err != nil {
		dec.err = xerrors.Errorf("gbt: could not decode readout header: %w", err)
		return dec.err
	}

	var (
		msize = int(rdh.MemorySize)
		onext = int(rdh.OffsetToNext)
	)
	switch {
	case msize < RDHSize:
		dec.err = xerrors.Errorf(
			"gbt: FEE 0x%04x memory size %d smaller than header: %w",
			rdh.FEEID, msize, ErrMalformedHeader,
		)
	case onext < msize:
		dec.err = xerrors.Errorf(
			"gbt: FEE 0x%04x offset to next page %d smaller than memory size %d: %w",
			rdh.FEEID, onext, msize, ErrMalformedHeader,
		)
	}
	if dec.err != nil {
		// the stream can not be re-synchronized.
		return dec.err
	}

	page.RDH = rdh
	n := msize - RDHSize
	if cap(page.Payload) < n {
		page.Payload = make([]byte, n)
	}
	page.Payload = page.Payload[:n]
	dec.read(page.Payload)
	dec.skip(onext - msize)
	if dec.err != nil {
		if xerrors.Is(dec.err, io.EOF) {
			dec.err = io.ErrUnexpectedEOF
		}
		return xerrors.Errorf("gbt: FEE 0x%04x could not read page payload: %w", rdh.FEEID, dec.err)
	}
	return nil
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, p)
}

func (dec *Decoder) skip(n int) {
	if dec.err != nil || n <= 0 {
		return
	}
	_, dec.err = io.CopyN(io.Discard, dec.r, int64(n))
}

func (dec *Decoder) load(n int) {
	if dec.err != nil {
		return
	}
	if cap(dec.buf) < n {
		dec.buf = append(dec.buf[:len(dec.buf)], make([]byte, n-cap(dec.buf))...)
	}
	dec.buf = dec.buf[:n]
	_, dec.err = io.ReadFull(dec.r, dec.buf[:n])
}

// Encoder writes readout pages to an output stream.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, RDHSize),
	}
}

// Encode writes the readout page to the stream.
// The memory size of the header is computed from the payload size.
// The page is padded with zeros up to the header offset to next page,
// if that offset is larger than the memory size.
func (enc *Encoder) Encode(page *Page) error {
	if page == nil {
		return nil
	}
	if enc.err != nil {
		return enc.err
	}

	msize := RDHSize + len(page.Payload)
	if msize > 0xffff {
		return fmt.Errorf("gbt: page payload too large (%d bytes)", len(page.Payload))
	}

	rdh := page.RDH
	rdh.MemorySize = uint16(msize)
	if int(rdh.OffsetToNext) < msize {
		rdh.OffsetToNext = uint16(msize)
	}

	err := PutRDH(enc.buf[:RDHSize], rdh)
	if err != nil {
		return fmt.Errorf("gbt: could not encode readout header: %w", err)
	}
	enc.write(enc.buf[:RDHSize])
	enc.write(page.Payload)
	enc.pad(int(rdh.OffsetToNext) - msize)
	if enc.err != nil {
		return fmt.Errorf("gbt: could not write readout page: %w", enc.err)
	}
	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
}

func (enc *Encoder) pad(n int) {
	for n > 0 && enc.err == nil {
		sz := n
		if sz > len(enc.buf) {
			sz = len(enc.buf)
		}
		for i := range enc.buf[:sz] {
			enc.buf[i] = 0
		}
		enc.write(enc.buf[:sz])
		n -= sz
	}
}
