// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bc-hist fills per-channel histograms of decoded timing-link delays
// and writes them out as YODA.
//
// Usage: bc-hist [OPTIONS] FILE.txt
//
// Example:
//
//	$> bc-hist -bins 100 -o delays.yoda ./dlm.txt
package main // import "github.com/blackcat-daq/blackcat/cmd/bc-hist"

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/floats"
)

func main() {
	log.SetPrefix("bc-hist: ")
	log.SetFlags(0)

	var (
		bins  = flag.Int("bins", 100, "number of histogram bins per channel")
		oname = flag.String("o", "delays.yoda", "path to output YODA file")
	)

	flag.Usage = func() {
		fmt.Printf(`bc-hist fills per-channel histograms of decoded timing-link delays
and writes them out as YODA.

Usage: bc-hist [OPTIONS] FILE.txt

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to input file")
	}

	f, err := os.Create(*oname)
	if err != nil {
		log.Fatalf("could not create output file %q: %+v", *oname, err)
	}
	defer f.Close()

	err = process(f, flag.Arg(0), *bins)
	if err != nil {
		log.Fatalf("could not histogram file %q: %+v", flag.Arg(0), err)
	}

	err = f.Close()
	if err != nil {
		log.Fatalf("could not close output file %q: %+v", *oname, err)
	}
}

func process(w io.Writer, fname string, bins int) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	delays, err := collect(f)
	if err != nil {
		return err
	}
	if len(delays) == 0 {
		return fmt.Errorf("no delay samples found in %q", fname)
	}

	chans := make([]int, 0, len(delays))
	for ch := range delays {
		chans = append(chans, ch)
	}
	sort.Ints(chans)

	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	for _, ch := range chans {
		var (
			vs       = delays[ch]
			min, max = floats.Min(vs), floats.Max(vs)
		)
		if min == max {
			// degenerate range: pad by one time quantum.
			min, max = min-0.5, max+0.5
		}

		h := hbook.NewH1D(bins, min, max)
		h.Ann["Path"] = fmt.Sprintf("/delays/ch%03d", ch)
		h.Ann["Title"] = fmt.Sprintf("channel %d delay (ns)", ch)
		for _, v := range vs {
			h.Fill(v, 1)
		}

		raw, err := h.MarshalYODA()
		if err != nil {
			return fmt.Errorf("could not marshal histogram for channel %d: %w", ch, err)
		}
		_, err = wbuf.Write(raw)
		if err != nil {
			return fmt.Errorf("could not write histogram for channel %d: %w", ch, err)
		}
	}

	return nil
}

// collect groups the delay samples of decoded event lines by channel.
// Comments and malformed lines are skipped.
func collect(r io.Reader) (map[int][]float64, error) {
	delays := make(map[int][]float64)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) < 2 {
			continue
		}
		ch, err := strconv.Atoi(cols[0])
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(cols[1], 64)
		if err != nil {
			continue
		}
		delays[ch] = append(delays[ch], v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("could not read event lines: %w", err)
	}
	return delays, nil
}
