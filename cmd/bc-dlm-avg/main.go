// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bc-dlm-avg averages decoded timing-link delay lines per measurement
// cycle.
//
// Usage: bc-dlm-avg [OPTIONS] FILE.txt
//
// Example:
//
//	$> bc-dlm-avg -mean 10 -nch 10 ./dlm.txt
//	0 12044.11765 1 12040.00042 [...]
package main // import "github.com/blackcat-daq/blackcat/cmd/bc-dlm-avg"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/blackcat-daq/blackcat/delay"
)

func main() {
	log.SetPrefix("bc-dlm-avg: ")
	log.SetFlags(0)

	var (
		mean  = flag.Int("mean", 10, "number of samples per channel average")
		nch   = flag.Int("nch", 10, "number of channels per cycle")
		oname = flag.String("o", "", "path to output file (default: stdout)")
	)

	flag.Usage = func() {
		fmt.Printf(`bc-dlm-avg averages decoded timing-link delay lines per measurement cycle.

Usage: bc-dlm-avg [OPTIONS] FILE.txt

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to input file")
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

	err := process(out, flag.Arg(0), *mean, *nch)
	if err != nil {
		log.Fatalf("could not average file %q: %+v", flag.Arg(0), err)
	}
}

func process(w io.Writer, fname string, mean, nch int) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	avg := delay.CycleAverager{Mean: mean, NumCh: nch}
	err = avg.Run(f, w)
	if err != nil {
		return err
	}
	if avg.Skipped > 0 {
		log.Printf("skipped %d incomplete sample buffer entries (mean=%d)", avg.Skipped, mean)
	}

	return nil
}
