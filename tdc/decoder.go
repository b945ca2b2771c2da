// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

const (
	dlmHitBit     = 0x80000000 // hit (set) vs epoch (clear) selector
	dlmEpochMask  = 0x0fffffff // epoch: 28-bit wrapping counter
	dlmChMask     = 0x1fc00000 // hit: channel, bits 22-28
	dlmChShift    = 22
	dlmFTMask     = 0x001ff000 // hit: fine-time code, bits 12-20
	dlmFTShift    = 12
	dlmCoarseLSB  = 0x00200000 // hit: coarse LSB extension, bit 21
	dlmCoarseMask = 0x000007ff // hit: coarse count, bits 0-10

	epochWrap = 1 << 28
)

// Decoder reads (and validates) DLM data from an underlying data source:
// a stream of 32-bit big-endian words where each epoch word is followed
// by a pair of hit words on the same channel.
//
// A Decoder is a single forward pass over the stream; io.EOF marks the
// normal end of data, even in the middle of an epoch/hit/hit group or
// with a partial trailing word left by a capture stopped mid-write.
type Decoder struct {
	r   io.Reader
	lut *Table

	period float64 // nominal DLM period, in ns

	buf   []byte
	epoch uint32
	first bool

	// Strays counts hit words found where an epoch word was expected.
	// They are skipped without aborting the decode pass.
	Strays int
}

// NewDecoder creates a decoder that reads DLM words from r, correcting
// hit fine times with the calibration table lut. period is the nominal
// DLM period, in ns, used to classify epoch spacings.
func NewDecoder(lut *Table, r io.Reader, period float64) *Decoder {
	return &Decoder{
		r:      r,
		lut:    lut,
		period: period,
		buf:    make([]byte, 4),
		first:  true,
	}
}

// Decode reads words until one full epoch/hit/hit group has been
// consumed and stores the resulting measurement in evt.
//
// Decode returns io.EOF at the end of the stream. Structural violations
// (a second epoch where the first hit is required, or a hit pair with
// mixed-up channels) abort the pass with an error identifying the
// offending word.
func (dec *Decoder) Decode(evt *Event) error {
	for {
		w, err := dec.next(true)
		if err != nil {
			return err
		}

		if w&dlmHitBit != 0 {
			// hit word outside an epoch-led group.
			dec.Strays++
			continue
		}

		diff, ok := dec.epochDiff(w)
		if !ok {
			// first epoch only seeds the state.
			continue
		}

		var mode int
		switch {
		case 0.95*dec.period < diff && diff <= 1.05*dec.period:
			mode = 0
		case 1.90*dec.period < diff && diff <= 2.10*dec.period:
			mode = 1
		default:
			mode = -1
		}

		w, err = dec.next(false)
		if err != nil {
			return err
		}
		if w&dlmHitBit == 0 {
			return xerrors.Errorf("tdc: wrong structure: epoch word 0x%08x where hit expected", w)
		}
		chA, hitA := dec.hit(w)

		w, err = dec.next(false)
		if err != nil {
			return err
		}
		if w&dlmHitBit == 0 {
			// unsolicited epoch between the two hits: fold it into the
			// epoch state and fetch the hit again.
			dec.epochDiff(w)
			w, err = dec.next(false)
			if err != nil {
				return err
			}
		}
		chB, hitB := dec.hit(w)

		if chA != chB {
			return xerrors.Errorf("tdc: channel mixup: hit pair on channels %d and %d", chA, chB)
		}

		dt := hitB - hitA
		if dt < 0 {
			dt += EpochUnit
		}

		evt.Ch = chA
		evt.DeltaT = dt
		evt.Mode = mode
		return nil
	}
}

// epochDiff folds the epoch word w into the decoder state and returns
// the spacing to the previous epoch, in ns. ok is false for the very
// first epoch of the stream.
func (dec *Decoder) epochDiff(w uint32) (diff float64, ok bool) {
	e := w & dlmEpochMask
	if dec.first {
		dec.epoch = e
		dec.first = false
		return 0, false
	}

	d := int64(e) - int64(dec.epoch)
	if d < 0 {
		d += epochWrap
	}
	dec.epoch = e
	return float64(d) * EpochUnit, true
}

func (dec *Decoder) hit(w uint32) (ch uint8, t float64) {
	ch = uint8((w & dlmChMask) >> dlmChShift)
	ct := (w & dlmCoarseMask) << 1
	if w&dlmCoarseLSB != 0 {
		ct++
	}
	ft := uint16((w & dlmFTMask) >> dlmFTShift)

	coarse := float64(ct) * 1000.0 / TDCFreq
	fine := dec.lut.BinCenter(ft) / 1000.0
	return ch, coarse - fine
}

// next fetches the next 32-bit word. boundary tells whether the fetch
// starts a new epoch/hit/hit group: there, a partial trailing word is
// the normal tail of a capture stopped mid-write and maps to io.EOF.
// Inside a group it is a decode error.
func (dec *Decoder) next(boundary bool) (uint32, error) {
	_, err := io.ReadFull(dec.r, dec.buf)
	switch {
	case err == nil:
		return binary.BigEndian.Uint32(dec.buf), nil
	case err == io.EOF:
		return 0, io.EOF
	case err == io.ErrUnexpectedEOF && boundary:
		return 0, io.EOF
	}
	return 0, xerrors.Errorf("tdc: could not read DLM word: %w", err)
}
