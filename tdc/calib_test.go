// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestNewTable(t *testing.T) {
	dump := strings.Join([]string{
		fmt.Sprintf("%d", 0<<calBinShift|100),
		fmt.Sprintf("0x%x", 1<<calBinShift|300),
		fmt.Sprintf("%d", 511<<calBinShift|600),
		fmt.Sprintf("0x%x", 1<<calBinShift|200), // re-dump of bin 1: last value wins
		"",
	}, "\n")

	tbl, err := NewTable(strings.NewReader(dump))
	if err != nil {
		t.Fatalf("could not build table: %+v", err)
	}

	if got, want := tbl.SumEntries, int64(900); got != want {
		t.Fatalf("invalid sum of entries: got=%d, want=%d", got, want)
	}
	if got, want := tbl.Entries[1], int64(200); got != want {
		t.Fatalf("invalid entries for bin 1: got=%d, want=%d", got, want)
	}
	if got, want := tbl.BinLSB, FTUnit/900; got != want {
		t.Fatalf("invalid bin LSB: got=%v, want=%v", got, want)
	}

	if got, want := tbl.Width[0], 100*tbl.BinLSB; math.Abs(got-want) > 1e-9 {
		t.Fatalf("invalid width for bin 0: got=%v, want=%v", got, want)
	}
	if got, want := tbl.Center[0], 0.5*tbl.Width[0]; math.Abs(got-want) > 1e-9 {
		t.Fatalf("invalid center for bin 0: got=%v, want=%v", got, want)
	}

	for i := 1; i < NumBins; i++ {
		if tbl.CumSum[i] < tbl.CumSum[i-1] {
			t.Fatalf("cumulative sum decreases at bin %d: %v < %v", i, tbl.CumSum[i], tbl.CumSum[i-1])
		}
	}
	if got, want := tbl.CumSum[NumBins-1], FTUnit; math.Abs(got-want) > 1e-9 {
		t.Fatalf("invalid total bin sum: got=%v, want=%v", got, want)
	}
}

func TestNewTableDegenerate(t *testing.T) {
	tbl, err := NewTable(strings.NewReader(""))
	if err != nil {
		t.Fatalf("could not build table from empty dump: %+v", err)
	}

	if got, want := tbl.BinLSB, 0.0; got != want {
		t.Fatalf("invalid bin LSB: got=%v, want=%v", got, want)
	}
	for i, v := range tbl.Width {
		if v != 0 {
			t.Fatalf("non-zero width for bin %d: %v", i, v)
		}
	}
}

func TestNewTableInvalid(t *testing.T) {
	_, err := NewTable(strings.NewReader("not-a-number\n"))
	if err == nil {
		t.Fatalf("expected an error for a malformed dump")
	}
	if !strings.Contains(err.Error(), "could not parse calibration value") {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestTableRoundTrip(t *testing.T) {
	var dump strings.Builder
	for i := 0; i < NumBins; i++ {
		fmt.Fprintf(&dump, "%d\n", i<<calBinShift|(i%97+1))
	}

	tbl, err := NewTable(strings.NewReader(dump.String()))
	if err != nil {
		t.Fatalf("could not build table: %+v", err)
	}

	buf := new(bytes.Buffer)
	err = tbl.Write(buf)
	if err != nil {
		t.Fatalf("could not write table: %+v", err)
	}

	got, err := ReadTable(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("could not read table back: %+v", err)
	}

	if got.SumEntries != tbl.SumEntries {
		t.Fatalf("invalid sum of entries: got=%d, want=%d", got.SumEntries, tbl.SumEntries)
	}
	for i := range tbl.Center {
		// the text format keeps 5 decimals.
		if math.Abs(got.Center[i]-tbl.Center[i]) > 1e-4 {
			t.Fatalf("bin %d center differs: got=%v, want=%v", i, got.Center[i], tbl.Center[i])
		}
	}
}

func TestReadTableInvalid(t *testing.T) {
	tbl, err := NewTable(strings.NewReader("0\n"))
	if err != nil {
		t.Fatalf("could not build table: %+v", err)
	}
	buf := new(bytes.Buffer)
	err = tbl.Write(buf)
	if err != nil {
		t.Fatalf("could not write table: %+v", err)
	}

	for _, tc := range []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "empty",
			raw:  "",
			want: "tdc: calibration table must contain exactly 512 bins (got=0)",
		},
		{
			name: "truncated",
			raw: func() string {
				lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
				return strings.Join(lines[:len(lines)-1], "\n") + "\n"
			}(),
			want: "tdc: calibration table must contain exactly 512 bins (got=511)",
		},
		{
			name: "garbled-row",
			raw:  strings.Replace(buf.String(), "   0        0", "   0     zero", 1),
			want: "tdc: invalid calibration row",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadTable(strings.NewReader(tc.raw))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.HasPrefix(err.Error(), tc.want) {
				t.Fatalf("invalid error:\ngot= %v\nwant=%v", err, tc.want)
			}
		})
	}
}
