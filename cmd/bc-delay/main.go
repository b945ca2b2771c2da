// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bc-delay decodes a raw capture and averages the resulting delay lines
// in a single pass.
//
// Usage: bc-delay [OPTIONS] FILE.raw
//
// Example:
//
//	$> bc-delay -cal fine_time.cal -mean 10 -nch 10 ./dlm.raw
//	$> bc-delay -usb -mean 10 -summary ./usb.raw
package main // import "github.com/blackcat-daq/blackcat/cmd/bc-delay"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/blackcat-daq/blackcat/delay"
	"github.com/blackcat-daq/blackcat/internal/mmap"
	"github.com/blackcat-daq/blackcat/tdc"
)

func main() {
	log.SetPrefix("bc-delay: ")
	log.SetFlags(0)

	var (
		usb     = flag.Bool("usb", false, "decode an external USB TDC capture instead of a timing-link one")
		cal     = flag.String("cal", "", "path to the calibration table file (timing-link mode)")
		period  = flag.Float64("period", 10e6, "nominal period, in ns")
		maxDiff = flag.Float64("max-diff", 11000, "largest in-block time difference, in ns (USB mode)")
		skip    = flag.Int("skip", 0, "number of leading blocks to decode but not report (USB mode)")
		mean    = flag.Int("mean", 10, "number of samples per average")
		nch     = flag.Int("nch", 10, "number of channels per cycle (timing-link mode)")
		summary = flag.Bool("summary", false, "append a per-pair min/max/spread summary (USB mode)")
		oname   = flag.String("o", "", "path to output file (default: stdout)")
	)

	flag.Usage = func() {
		fmt.Printf(`bc-delay decodes a raw capture and averages the resulting delay lines
in a single pass.

Usage: bc-delay [OPTIONS] FILE.raw

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to input raw file")
	}
	if !*usb && *cal == "" {
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

	cfg := config{
		usb:     *usb,
		cal:     *cal,
		period:  *period,
		maxDiff: *maxDiff,
		skip:    *skip,
		mean:    *mean,
		nch:     *nch,
		summary: *summary,
	}
	err := process(out, flag.Arg(0), cfg)
	if err != nil {
		log.Fatalf("could not process file %q: %+v", flag.Arg(0), err)
	}
}

type config struct {
	usb     bool
	cal     string
	period  float64
	maxDiff float64
	skip    int
	mean    int
	nch     int
	summary bool
}

// process pipes the decode stage into the averaging stage: the decoder
// writes per-event text lines to one end of an io.Pipe, the averager
// scans them from the other.
func process(w io.Writer, fname string, cfg config) error {
	raw, err := mmap.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open raw file %q: %w", fname, err)
	}
	defer raw.Close()

	var (
		r      = io.NewSectionReader(raw, 0, int64(raw.Len()))
		pr, pw = io.Pipe()

		grp errgroup.Group
	)

	switch {
	case cfg.usb:
		dec, err := tdc.NewUSBDecoder(r, cfg.period, cfg.maxDiff, cfg.skip)
		if err != nil {
			return fmt.Errorf("could not create USB decoder: %w", err)
		}
		grp.Go(func() error {
			err := decodeUSB(pw, dec)
			pw.CloseWithError(err)
			return err
		})
		grp.Go(func() error {
			avg := delay.BatchAverager{Mean: cfg.mean, Summary: cfg.summary}
			err := avg.Run(pr, w)
			pr.CloseWithError(err)
			return err
		})

	default:
		fcal, err := os.Open(cfg.cal)
		if err != nil {
			return fmt.Errorf("could not open calibration table %q: %w", cfg.cal, err)
		}
		defer fcal.Close()

		lut, err := tdc.ReadTable(fcal)
		if err != nil {
			return fmt.Errorf("could not read calibration table %q: %w", cfg.cal, err)
		}

		dec := tdc.NewDecoder(lut, r, cfg.period)
		grp.Go(func() error {
			err := decodeDLM(pw, dec)
			pw.CloseWithError(err)
			return err
		})
		grp.Go(func() error {
			avg := delay.CycleAverager{Mean: cfg.mean, NumCh: cfg.nch}
			err := avg.Run(pr, w)
			pr.CloseWithError(err)
			return err
		})
	}

	return grp.Wait()
}

func decodeDLM(w io.Writer, dec *tdc.Decoder) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	for {
		var evt tdc.Event
		err := dec.Decode(&evt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not decode DLM event: %w", err)
		}
		fmt.Fprintln(wbuf, evt)
	}
}

func decodeUSB(w io.Writer, dec *tdc.USBDecoder) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	for {
		var rec tdc.USBRecord
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
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
}
