// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bc-dlm-dump decodes a raw capture of the internal timing link into
// per-event delay lines.
//
// Usage: bc-dlm-dump [OPTIONS] FILE.raw
//
// Example:
//
//	$> bc-dlm-dump -cal fine_time.cal -period 10000000 ./dlm.raw
//	 3 12044.11765 0
//	 4 12044.25882 0
//	[...]
package main // import "github.com/blackcat-daq/blackcat/cmd/bc-dlm-dump"

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
	log.SetPrefix("bc-dlm-dump: ")
	log.SetFlags(0)

	var (
		cal    = flag.String("cal", "", "path to the calibration table file")
		period = flag.Float64("period", 10e6, "nominal DLM period, in ns")
		oname  = flag.String("o", "", "path to output file (default: stdout)")
	)

	flag.Usage = func() {
		fmt.Printf(`bc-dlm-dump decodes a raw capture of the internal timing link into
per-event delay lines.

Usage: bc-dlm-dump [OPTIONS] FILE.raw

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to input raw file")
	}
	if *cal == "" {
		flag.Usage()
		log.Fatalf("missing path to calibration table file")
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

	err := process(out, flag.Arg(0), *cal, *period)
	if err != nil {
		log.Fatalf("could not dump file %q: %+v", flag.Arg(0), err)
	}
}

func process(w io.Writer, fname, cal string, period float64) error {
	fcal, err := os.Open(cal)
	if err != nil {
		return fmt.Errorf("could not open calibration table %q: %w", cal, err)
	}
	defer fcal.Close()

	lut, err := tdc.ReadTable(fcal)
	if err != nil {
		return fmt.Errorf("could not read calibration table %q: %w", cal, err)
	}

	raw, err := mmap.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open raw file %q: %w", fname, err)
	}
	defer raw.Close()

	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	var (
		r   = io.NewSectionReader(raw, 0, int64(raw.Len()))
		dec = tdc.NewDecoder(lut, r, period)
	)
	for {
		var evt tdc.Event
		err := dec.Decode(&evt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("could not decode DLM event: %w", err)
		}
		fmt.Fprintln(wbuf, evt)
	}
	if dec.Strays > 0 {
		log.Printf("skipped %d stray hit word(s) before the first epoch", dec.Strays)
	}

	return nil
}
