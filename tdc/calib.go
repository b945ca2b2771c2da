// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

const (
	calBinMask  = 0x1ff00000 // bits 20-28: bin number
	calBinShift = 20
	calEntMask  = 0x0003ffff // bits 0-17: entry count
)

// Table is the per-device fine-time calibration look-up table of a
// BlackCat TDC: a 512-bin histogram of raw fine-time codes, reduced to
// per-bin widths and centers in ps.
type Table struct {
	SumEntries int64   // total number of histogram entries
	FTUnit     float64 // reference clock period, in ps
	BinLSB     float64 // time value of one histogram entry, in ps

	Entries [NumBins]int64
	Width   [NumBins]float64 // bin width, in ps
	Center  [NumBins]float64 // bin center, in ps
	CumSum  [NumBins]float64 // cumulative bin width, in ps
}

// NewTable builds a calibration table from a raw calibration dump: one
// integer per line (any base prefix accepted), bits 20-28 holding the bin
// number and bits 0-17 the entry count.
//
// The hardware dumps the histogram RAM repeatedly; the last value seen for
// a bin wins. An all-zero histogram is not an error: it yields a table
// with zero-width bins.
func NewTable(r io.Reader) (*Table, error) {
	var tbl Table
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseInt(line, 0, 64)
		if err != nil {
			return nil, xerrors.Errorf("tdc: could not parse calibration value %q: %w", line, err)
		}
		bin := (v & calBinMask) >> calBinShift
		tbl.Entries[bin] = v & calEntMask
	}
	if err := sc.Err(); err != nil {
		return nil, xerrors.Errorf("tdc: could not read calibration dump: %w", err)
	}

	tbl.compute()
	return &tbl, nil
}

func (tbl *Table) compute() {
	tbl.FTUnit = FTUnit

	var sum int64
	for _, v := range tbl.Entries {
		sum += v
	}
	tbl.SumEntries = sum
	tbl.BinLSB = 0
	if sum != 0 {
		tbl.BinLSB = FTUnit / float64(sum)
	}

	var cum float64
	for i, v := range tbl.Entries {
		w := float64(v) * tbl.BinLSB
		cum += w
		tbl.Width[i] = w
		tbl.Center[i] = cum - 0.5*w
		tbl.CumSum[i] = cum
	}
}

// BinCenter returns the fine-time correction, in ps, for the 9-bit
// fine-time code ft.
func (tbl *Table) BinCenter(ft uint16) float64 {
	return tbl.Center[ft&0x1ff]
}

// Write writes tbl to w in the text format understood by ReadTable.
func (tbl *Table) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# SUM %10d %10.5f %10.5e\n\n", tbl.SumEntries, tbl.FTUnit, tbl.BinLSB)
	fmt.Fprintf(bw, "BIN   ENTRIES   BIN_WIDTH   BIN_CENTER   BIN_SUM\n")
	for i := range tbl.Entries {
		fmt.Fprintf(bw, "%4d %8d %10.5f %10.5f %10.5f\n",
			i, tbl.Entries[i], tbl.Width[i], tbl.Center[i], tbl.CumSum[i],
		)
	}
	err := bw.Flush()
	if err != nil {
		return xerrors.Errorf("tdc: could not write calibration table: %w", err)
	}
	return nil
}

// ReadTable parses a calibration table previously produced by Write.
// The table must hold exactly NumBins rows.
func ReadTable(r io.Reader) (*Table, error) {
	var (
		tbl Table
		n   int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "# SUM"):
			toks := strings.Fields(line)
			if len(toks) != 5 {
				return nil, xerrors.Errorf("tdc: invalid calibration summary %q", line)
			}
			var err error
			tbl.SumEntries, err = strconv.ParseInt(toks[2], 10, 64)
			if err != nil {
				return nil, xerrors.Errorf("tdc: invalid calibration summary %q: %w", line, err)
			}
			tbl.FTUnit, err = strconv.ParseFloat(toks[3], 64)
			if err != nil {
				return nil, xerrors.Errorf("tdc: invalid calibration summary %q: %w", line, err)
			}
			tbl.BinLSB, err = strconv.ParseFloat(toks[4], 64)
			if err != nil {
				return nil, xerrors.Errorf("tdc: invalid calibration summary %q: %w", line, err)
			}
			continue
		case strings.HasPrefix(line, "#") || strings.HasPrefix(line, "BIN"):
			continue
		}

		if n >= NumBins {
			n++
			continue
		}
		toks := strings.Fields(line)
		if len(toks) != 5 {
			return nil, xerrors.Errorf("tdc: invalid calibration row %q", line)
		}
		var (
			err  error
			cols [4]float64
		)
		tbl.Entries[n], err = strconv.ParseInt(toks[1], 10, 64)
		if err != nil {
			return nil, xerrors.Errorf("tdc: invalid calibration row %q: %w", line, err)
		}
		for i, tok := range toks[2:] {
			cols[i], err = strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, xerrors.Errorf("tdc: invalid calibration row %q: %w", line, err)
			}
		}
		tbl.Width[n] = cols[0]
		tbl.Center[n] = cols[1]
		tbl.CumSum[n] = cols[2]
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, xerrors.Errorf("tdc: could not read calibration table: %w", err)
	}
	if n != NumBins {
		return nil, xerrors.Errorf("tdc: calibration table must contain exactly %d bins (got=%d)", NumBins, n)
	}

	return &tbl, nil
}

// Convert processes the raw calibration dump infile and writes the
// resulting calibration table to outfile.
func Convert(infile, outfile string) error {
	fin, err := os.Open(infile)
	if err != nil {
		return xerrors.Errorf("tdc: could not open calibration dump: %w", err)
	}
	defer fin.Close()

	tbl, err := NewTable(fin)
	if err != nil {
		return err
	}

	fout, err := os.Create(outfile)
	if err != nil {
		return xerrors.Errorf("tdc: could not create calibration table file: %w", err)
	}
	defer fout.Close()

	err = tbl.Write(fout)
	if err != nil {
		return err
	}

	err = fout.Close()
	if err != nil {
		return xerrors.Errorf("tdc: could not close calibration table file: %w", err)
	}
	return nil
}
