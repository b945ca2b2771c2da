// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"golang.org/x/xerrors"
)

const (
	// NumUSBChannels is the number of TDC channels of an external USB device.
	NumUSBChannels = 4

	// NumPairs is the number of channel pairs reported per measurement block.
	NumPairs = NumUSBChannels * (NumUSBChannels - 1) / 2

	usbWordLen     = 5
	usbChShift     = 36
	usbCoarseShift = 18
	usbCoarseMask  = 0x3ffff
	usbFineMask    = 0x3ffff

	usbTempChannel = 4

	i2cMAX31726   = 0x9e
	i2cLM75B      = 0x92
	max31726Scale = 0.00390625
	lm75bScale    = 0.125
	lm75bDivisor  = 32

	msgOK = 0x4f4b0d0a // "OK\r\n", advisory stream header

	maxPairDiff = 11000.0 // largest credible in-block pair difference, in ns

	// TempInvalid is reported when a temperature record carries no usable
	// reading.
	TempInvalid = -66.6666
)

// USBRecordKind tags the two record types of the USB protocol.
type USBRecordKind int

const (
	USBBlock USBRecordKind = iota // pairwise time-difference matrix
	USBTemp                       // I2C temperature reading
)

// PairDiff is the absolute time difference between two TDC channels of
// one measurement block, in ns.
type PairDiff struct {
	I, J int
	Diff float64
}

// BlockDiffs is the pairwise time-difference matrix of one measurement
// block: one entry per channel pair, highest channel first.
type BlockDiffs struct {
	Mode  int // 0: nominal block period, 1: double period
	Pairs [NumPairs]PairDiff
}

func (blk BlockDiffs) String() string {
	var b strings.Builder
	for _, p := range blk.Pairs {
		fmt.Fprintf(&b, "%d.%d %11.5f ", p.I, p.J, p.Diff)
	}
	fmt.Fprintf(&b, "%d", blk.Mode)
	return b.String()
}

// Temperature is one decoded I2C temperature record.
type Temperature struct {
	Sensor string
	Value  float64 // in degrees Celsius, TempInvalid when unusable
}

func (t Temperature) String() string {
	return fmt.Sprintf("%8.4f # TMP %s", t.Value, t.Sensor)
}

// USBRecord is one decoded record from an external USB TDC stream.
type USBRecord struct {
	Kind  USBRecordKind
	Block BlockDiffs  // valid when Kind == USBBlock
	Temp  Temperature // valid when Kind == USBTemp
}

// USBDecoder reads (and validates) data from an external USB TDC: a
// stream of 40-bit big-endian words carrying per-channel hits and
// temperature records. The device is self-calibrated, so no fine-time
// look-up table is involved.
//
// A USBDecoder is a single forward pass over the stream; io.EOF marks
// the normal end of data, including a partial trailing word left by a
// capture stopped mid-write.
type USBDecoder struct {
	r io.Reader

	period  float64 // nominal block period, in ns
	maxDiff float64 // largest in-block time difference, in ns
	skip    int     // leading blocks to suppress

	buf [usbWordLen]byte

	times   [NumUSBChannels]float64
	hits    [NumUSBChannels]int
	counter int
	oldTime float64
	first   bool

	// Spurious counts sub-threshold hits between blocks, Unknown the
	// block boundaries with unclassifiable timing. Both are skipped
	// without aborting the decode pass.
	Spurious int
	Unknown  int
}

// NewUSBDecoder creates a decoder that reads USB TDC words from r.
// period is the nominal block period and maxDiff the largest in-block
// time difference, both in ns; skip is a budget of leading blocks to
// decode but not report.
//
// The stream may start with an advisory "OK\r\n" token; when absent, r
// is rewound to offset 0 and decoded as-is.
func NewUSBDecoder(r io.ReadSeeker, period, maxDiff float64, skip int) (*USBDecoder, error) {
	var hdr [4]byte
	_, err := io.ReadFull(r, hdr[:])
	if err != nil || binary.BigEndian.Uint32(hdr[:]) != msgOK {
		_, err = r.Seek(0, io.SeekStart)
		if err != nil {
			return nil, xerrors.Errorf("tdc: could not rewind USB stream: %w", err)
		}
	}

	return &USBDecoder{
		r:       r,
		period:  period,
		maxDiff: maxDiff,
		skip:    skip,
		first:   true,
	}, nil
}

// Decode reads words until a record is emitted and stores it in rec.
//
// Decode returns io.EOF at the end of the stream. An invalid fine time,
// a channel nibble above the temperature channel, or an unrecoverable
// pair-difference overflow aborts the pass with an error identifying the
// offending word.
func (dec *USBDecoder) Decode(rec *USBRecord) error {
	for {
		w, err := dec.next()
		if err != nil {
			return err
		}

		ch := int(w >> usbChShift & 0xf)
		switch {
		case ch < NumUSBChannels:
			emitted, err := dec.hit(ch, w, rec)
			if err != nil {
				return err
			}
			if emitted {
				return nil
			}

		case ch == usbTempChannel:
			dec.temperature(w, rec)
			return nil

		default:
			return xerrors.Errorf("tdc: broken channel: 0x%010x", w)
		}
	}
}

func (dec *USBDecoder) hit(ch int, w uint64, rec *USBRecord) (bool, error) {
	var (
		coarse = float64(w >> usbCoarseShift & usbCoarseMask)
		fine   = float64(w & usbFineMask)
	)
	if fine >= CoarseUnit {
		return false, xerrors.Errorf("tdc: invalid fine time %g in word 0x%010x", fine, w)
	}

	t := (coarse*CoarseUnit + fine) / 1000.0

	var diff float64
	switch {
	case dec.first:
		diff = -1
		dec.first = false
	default:
		diff = t - dec.oldTime
		switch {
		case diff < 0 && -diff > dec.maxDiff:
			diff += USBEpochUnit
		default:
			diff = math.Abs(diff)
		}
	}
	dec.oldTime = t

	if diff <= dec.maxDiff*1.10 {
		dec.record(ch, t)
		return false, nil
	}

	var mode int
	switch {
	case 0.90*dec.period < diff && diff <= 1.10*dec.period:
		mode = 0
	case 1.80*dec.period < diff && diff <= 2.20*dec.period:
		mode = 1
	case diff <= 0.90*dec.period:
		// spurious hit between blocks.
		dec.Spurious++
		return false, nil
	default:
		dec.Unknown++
		return false, nil
	}

	emitted := false
	switch {
	case dec.counter != NumUSBChannels:
		// incomplete block: report a zeroed diagnostic matrix.
		rec.Kind = USBBlock
		rec.Block = placeholderBlock(mode)
		emitted = true
	case dec.skip > 0:
		dec.skip--
	case dec.complete():
		blk, err := dec.block(mode)
		if err != nil {
			return false, err
		}
		rec.Kind = USBBlock
		rec.Block = blk
		emitted = true
	default:
		// at least one channel fired more than once.
		rec.Kind = USBBlock
		rec.Block = placeholderBlock(mode)
		emitted = true
	}

	// reset the block and seed it with the boundary hit.
	dec.times = [NumUSBChannels]float64{}
	dec.hits = [NumUSBChannels]int{}
	dec.counter = 0
	dec.record(ch, t)

	return emitted, nil
}

func (dec *USBDecoder) record(ch int, t float64) {
	dec.hits[ch]++
	dec.times[ch] = t
	dec.counter++
}

func (dec *USBDecoder) complete() bool {
	for _, n := range dec.hits {
		if n != 1 {
			return false
		}
	}
	return true
}

// block computes the pairwise time-difference matrix of the current
// block. Differences beyond maxPairDiff are unwrapped once by one USB
// epoch; a difference that still overflows aborts the decode.
func (dec *USBDecoder) block(mode int) (BlockDiffs, error) {
	blk := BlockDiffs{Mode: mode}
	k := 0
	for i := NumUSBChannels; i > 0; i-- {
		for j := 0; j < i-1; j++ {
			diff := dec.times[i-1] - dec.times[j]
			if math.Abs(diff) > maxPairDiff {
				switch {
				case diff > 0:
					diff -= USBEpochUnit
				default:
					diff += USBEpochUnit
				}
			}
			if math.Abs(diff) > maxPairDiff {
				return blk, xerrors.Errorf("tdc: time difference overflow: %.4f", diff)
			}
			blk.Pairs[k] = PairDiff{I: i - 1, J: j, Diff: math.Abs(diff)}
			k++
		}
	}
	return blk, nil
}

func placeholderBlock(mode int) BlockDiffs {
	blk := BlockDiffs{Mode: mode}
	k := 0
	for i := NumUSBChannels; i > 0; i-- {
		for j := 0; j < i-1; j++ {
			blk.Pairs[k] = PairDiff{I: i - 1, J: j}
			k++
		}
	}
	return blk
}

func (dec *USBDecoder) temperature(w uint64, rec *USBRecord) {
	var (
		addr   = w >> 24 & 0xff
		status = w >> 16 & 0xff
		data   = w & 0xffff
	)

	t := Temperature{Sensor: "error", Value: TempInvalid}
	if status == 0 {
		switch addr {
		case i2cMAX31726:
			t = Temperature{Sensor: "MAX31726", Value: float64(data) * max31726Scale}
		case i2cLM75B:
			t = Temperature{Sensor: "LM75B", Value: float64(data/lm75bDivisor) * lm75bScale}
		default:
			t.Sensor = "unknown I2C"
		}
	}

	rec.Kind = USBTemp
	rec.Temp = t
}

func (dec *USBDecoder) next() (uint64, error) {
	_, err := io.ReadFull(dec.r, dec.buf[:])
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		// every word starts at a clean boundary, so a partial trailing
		// word is the normal tail of a capture stopped mid-write.
		return 0, io.EOF
	case err != nil:
		return 0, xerrors.Errorf("tdc: could not read USB word: %w", err)
	}

	var w uint64
	for _, b := range dec.buf {
		w = w<<8 | uint64(b)
	}
	return w, nil
}
