// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package delay

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// BatchAverager reduces a stream of pairwise delay lines ("<label>
// <value> ... <mode>") into one mean line per batch of Mean input lines.
//
// The number of label/value pairs is inferred from the first valid line;
// lines with a different shape are skipped. A line whose values sum to a
// non-positive total is hardware-invalid: it still counts toward the
// batch size but is excluded from the mean.
type BatchAverager struct {
	Mean    int  // input lines per batch
	Summary bool // append a # MIN/# MAX/# DIF spread summary at end of run
}

// Run consumes decoded block lines from r and writes one averaged line
// per batch to w.
func (avg *BatchAverager) Run(r io.Reader, w io.Writer) error {
	if avg.Mean <= 0 {
		return fmt.Errorf("delay: averaging window must be positive (got=%d)", avg.Mean)
	}

	var (
		bw = bufio.NewWriter(w)
		sc = bufio.NewScanner(r)

		npairs int
		labels []string
		sums   []float64
		min    []float64
		max    []float64
		vals   []float64

		read  int
		valid int
	)

	process := func(cols []string) {
		for i := 0; i < npairs; i++ {
			v, err := strconv.ParseFloat(cols[2*i+1], 64)
			if err != nil {
				return
			}
			vals[i] = v
			if labels[i] == "" {
				labels[i] = cols[2*i]
			}
		}

		read++
		if floats.Sum(vals) > 0 {
			valid++
			floats.Add(sums, vals)
		}

		if read < avg.Mean {
			return
		}

		for i := range sums {
			mean := 0.0
			if valid > 0 {
				mean = sums[i] / float64(valid)
			}
			if i > 0 {
				fmt.Fprintf(bw, "  ")
			}
			fmt.Fprintf(bw, "%s %11.5f", labels[i], mean)
			if mean > 0 {
				if mean < min[i] {
					min[i] = mean
				}
				if mean > max[i] {
					max[i] = mean
				}
			}
		}
		fmt.Fprintln(bw)

		read = 0
		valid = 0
		for i := range sums {
			sums[i] = 0
		}
	}

	for sc.Scan() {
		cols, ok := parseBlock(sc.Text())
		if !ok {
			continue
		}

		if npairs == 0 {
			npairs = (len(cols) - 1) / 2
			labels = make([]string, npairs)
			sums = make([]float64, npairs)
			vals = make([]float64, npairs)
			min = make([]float64, npairs)
			max = make([]float64, npairs)
			for i := range min {
				min[i] = math.Inf(1)
			}
		} else if len(cols) != 2*npairs+1 {
			continue
		}
		process(cols)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("delay: could not read block stream: %w", err)
	}
	if npairs == 0 {
		return fmt.Errorf("delay: no valid data lines found in input")
	}

	if avg.Summary {
		for i := range min {
			fmt.Fprintf(bw, "# MIN %d %11.5f\n", i, min[i])
			fmt.Fprintf(bw, "# MAX %d %11.5f\n", i, max[i])
			fmt.Fprintf(bw, "# DIF %d %11.5f\n", i, max[i]-min[i])
		}
	}

	err := bw.Flush()
	if err != nil {
		return fmt.Errorf("delay: could not write batch report: %w", err)
	}
	return nil
}

func parseBlock(line string) ([]string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, false
	}
	cols := strings.Fields(line)
	if len(cols) < 3 || (len(cols)-1)%2 != 0 {
		return nil, false
	}
	return cols, true
}
