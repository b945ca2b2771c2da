// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bc-usb-avg averages decoded USB pairwise delay lines per batch.
//
// Usage: bc-usb-avg [OPTIONS] FILE.txt
//
// Example:
//
//	$> bc-usb-avg -mean 10 -summary ./usb.txt
//	3.0   600.00000  3.1   400.00000 [...]
//	# MIN 0   599.12000
//	# MAX 0   601.08000
//	# DIF 0     1.96000
package main // import "github.com/blackcat-daq/blackcat/cmd/bc-usb-avg"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/blackcat-daq/blackcat/delay"
)

func main() {
	log.SetPrefix("bc-usb-avg: ")
	log.SetFlags(0)

	var (
		mean    = flag.Int("mean", 10, "number of lines per batch average")
		summary = flag.Bool("summary", false, "append a per-pair min/max/spread summary")
		oname   = flag.String("o", "", "path to output file (default: stdout)")
	)

	flag.Usage = func() {
		fmt.Printf(`bc-usb-avg averages decoded USB pairwise delay lines per batch.

Usage: bc-usb-avg [OPTIONS] FILE.txt

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

	err := process(out, flag.Arg(0), *mean, *summary)
	if err != nil {
		log.Fatalf("could not average file %q: %+v", flag.Arg(0), err)
	}
}

func process(w io.Writer, fname string, mean int, summary bool) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	avg := delay.BatchAverager{Mean: mean, Summary: summary}
	return avg.Run(f, w)
}
