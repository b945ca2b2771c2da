// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bc-usb-dump decodes a raw capture of an external USB TDC into
// per-block pairwise delay lines and temperature records.
//
// Usage: bc-usb-dump [OPTIONS] FILE.raw
//
// Example:
//
//	$> bc-usb-dump -period 10000000 -max-diff 11000 ./usb.raw
//	3.0   600.00000 3.1   400.00000 3.2   200.00000 2.0   400.00000 2.1   200.00000 1.0   200.00000 0
//	 25.1250 # TMP MAX31726
//	[...]
package main // import "github.com/blackcat-daq/blackcat/cmd/bc-usb-dump"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/blackcat-daq/blackcat/internal/mmap"
	"github.com/blackcat-daq/blackcat/tdc"
)

func main() {
	log.SetPrefix("bc-usb-dump: ")
	log.SetFlags(0)

	var (
		period  = flag.Float64("period", 10e6, "nominal block period, in ns")
		maxDiff = flag.Float64("max-diff", 11000, "largest in-block time difference, in ns")
		skip    = flag.Int("skip", 0, "number of leading blocks to decode but not report")
		oname   = flag.String("o", "", "path to output file (default: stdout)")
	)

	flag.Usage = func() {
		fmt.Printf(`bc-usb-dump decodes a raw capture of an external USB TDC into
per-block pairwise delay lines and temperature records.

Usage: bc-usb-dump [OPTIONS] FILE.raw

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to input raw file")
	}

	out := os.Stdout
	if *oname != "" {
		f, err := os.Create(*oname)
		if err != nil {
			log.Fatalf("could not create output file %q: %+v", *oname, err)
		}
		defer f.Close()
		out = f
	}

	err := process(out, flag.Arg(0), *period, *maxDiff, *skip)
	if err != nil {
		log.Fatalf("could not dump file %q: %+v", flag.Arg(0), err)
	}
}

func process(w io.Writer, fname string, period, maxDiff float64, skip int) error {
	raw, err := mmap.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open raw file %q: %w", fname, err)
	}
	defer raw.Close()

	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	r := io.NewSectionReader(raw, 0, int64(raw.Len()))
	dec, err := tdc.NewUSBDecoder(r, period, maxDiff, skip)
	if err != nil {
		return fmt.Errorf("could not create USB decoder: %w", err)
	}
	for {
		var rec tdc.USBRecord
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("could not decode USB record: %w", err)
		}
		switch rec.Kind {
		case tdc.USBBlock:
			fmt.Fprintln(wbuf, rec.Block)
		case tdc.USBTemp:
			fmt.Fprintln(wbuf, rec.Temp)
		}
	}
	if dec.Spurious > 0 {
		log.Printf("skipped %d spurious inter-block hit(s)", dec.Spurious)
	}
	if dec.Unknown > 0 {
		log.Printf("skipped %d block boundaries with unknown timing", dec.Unknown)
	}

	return nil
}
