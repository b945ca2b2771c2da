// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blackcat-daq/blackcat/tdc"
)

func dlmRaw(words ...uint32) []byte {
	buf := new(bytes.Buffer)
	for _, w := range words {
		_ = binary.Write(buf, binary.BigEndian, w)
	}
	return buf.Bytes()
}

func dlmHit(ch uint8, coarse uint32) uint32 {
	return 0x80000000 | uint32(ch)<<22 | coarse&0x7ff
}

func usbWord(ch int, coarse, fine uint32) []byte {
	w := uint64(ch)<<36 | uint64(coarse)<<18 | uint64(fine)
	return []byte{
		byte(w >> 32), byte(w >> 24), byte(w >> 16), byte(w >> 8), byte(w),
	}
}

func calFile(t *testing.T, dir string) string {
	t.Helper()

	tbl, err := tdc.NewTable(strings.NewReader(""))
	if err != nil {
		t.Fatalf("could not build calibration table: %+v", err)
	}

	fname := filepath.Join(dir, "fine_time.cal")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create calibration table file: %+v", err)
	}
	defer f.Close()

	err = tbl.Write(f)
	if err != nil {
		t.Fatalf("could not write calibration table: %+v", err)
	}
	err = f.Close()
	if err != nil {
		t.Fatalf("could not close calibration table file: %+v", err)
	}
	return fname
}

func TestProcessDLM(t *testing.T) {
	tmp, err := os.MkdirTemp("", "bc-delay-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	// five events on alternating channels 1, 0, 1, 0, 1: the leading
	// partial cycle is discarded, two complete cycles remain.
	raw := dlmRaw(
		0x00000000,
		0x00000001, dlmHit(1, 2), dlmHit(1, 2),
		0x00000002, dlmHit(0, 2), dlmHit(0, 2),
		0x00000003, dlmHit(1, 2), dlmHit(1, 2),
		0x00000004, dlmHit(0, 2), dlmHit(0, 2),
		0x00000005, dlmHit(1, 2), dlmHit(1, 2),
	)
	fname := filepath.Join(tmp, "dlm.raw")
	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		t.Fatalf("could not create raw file: %+v", err)
	}

	out := new(strings.Builder)
	err = process(out, fname, config{
		cal:    calFile(t, tmp),
		period: tdc.EpochUnit,
		mean:   1,
		nch:    2,
	})
	if err != nil {
		t.Fatalf("could not process: %+v", err)
	}

	want := "0 0.00000 1 0.00000\n" +
		"0 0.00000 1 0.00000\n"
	if got := out.String(); got != want {
		t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestProcessUSB(t *testing.T) {
	tmp, err := os.MkdirTemp("", "bc-delay-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	var raw []byte
	for _, w := range [][]byte{
		usbWord(0, 5, 0),
		usbWord(1, 6, 0),
		usbWord(2, 7, 0),
		usbWord(3, 8, 0),
		usbWord(0, 58, 0), // boundary, one nominal period later
	} {
		raw = append(raw, w...)
	}
	fname := filepath.Join(tmp, "usb.raw")
	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		t.Fatalf("could not create raw file: %+v", err)
	}

	out := new(strings.Builder)
	err = process(out, fname, config{
		usb:     true,
		period:  10000,
		maxDiff: 1000,
		mean:    1,
	})
	if err != nil {
		t.Fatalf("could not process: %+v", err)
	}

	want := "3.0   600.00000  3.1   400.00000  3.2   200.00000  2.0   400.00000  2.1   200.00000  1.0   200.00000\n"
	if got := out.String(); got != want {
		t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestProcessErrors(t *testing.T) {
	tmp, err := os.MkdirTemp("", "bc-delay-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	fname := filepath.Join(tmp, "broken.raw")
	err = os.WriteFile(fname, usbWord(5, 0, 0), 0644)
	if err != nil {
		t.Fatalf("could not create raw file: %+v", err)
	}

	err = process(new(strings.Builder), fname, config{
		usb:     true,
		period:  10000,
		maxDiff: 1000,
		mean:    1,
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !strings.Contains(err.Error(), "tdc: broken channel") {
		t.Fatalf("invalid error: %+v", err)
	}
}
