// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tdc holds functions to decode raw data from BlackCat TDCs.
//
// Two raw formats are supported: the internal link protocol (32-bit
// big-endian words carrying DLM epochs and hit pairs, see Decoder) and
// the external USB device protocol (40-bit big-endian words carrying
// measurement blocks and temperature records, see USBDecoder).
package tdc // import "github.com/blackcat-daq/blackcat/tdc"

import "fmt"

const (
	// TDCFreq is the reference clock frequency of a BlackCat TDC, in MHz.
	TDCFreq = 340.0

	// FTUnit is the period of one reference clock cycle, in ps.
	FTUnit = 1000000.0 / TDCFreq

	// EpochUnit is the duration of one DLM epoch counter increment, in ns.
	EpochUnit = 4096.0 * 1000.0 / TDCFreq

	// NumBins is the number of slots of the fine-time calibration histogram.
	NumBins = 512

	// CoarseUnit is the coarse time quantum of an external USB TDC, in ps.
	CoarseUnit = 200000.0

	// USBEpochUnit is the wrap-around period of the USB coarse counter, in ns.
	USBEpochUnit = 262144 * CoarseUnit / 1000.0
)

// Event is one decoded round-trip delay measurement on a DLM link channel.
type Event struct {
	Ch     uint8   // TDC channel
	DeltaT float64 // absolute time difference between the two hits, in ns
	Mode   int     // 0: nominal DLM period, 1: double period, -1: unknown
}

func (evt Event) String() string {
	return fmt.Sprintf("%2d %11.5f %d", evt.Ch, evt.DeltaT, evt.Mode)
}
