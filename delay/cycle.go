// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package delay

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// CycleAverager reduces a stream of "<channel> <delay> ..." lines into
// one line per measurement cycle, where a cycle is delimited by the
// channel index wrapping back to a lower value.
//
// Within a cycle, every channel contributes the mean of Mean consecutive
// samples. Data seen before the first rollover belongs to a partial
// leading cycle and is discarded.
type CycleAverager struct {
	Mean  int // samples per channel average
	NumCh int // channels per cycle

	// Skipped counts samples dropped in incomplete same-channel buffers
	// at cycle boundaries.
	Skipped int
}

type chMean struct {
	ch   int
	mean float64
}

// Run consumes decoded event lines from r and writes one averaged line
// per complete cycle to w. A cycle holding a number of channels other
// than NumCh at rollover aborts with an error.
func (avg *CycleAverager) Run(r io.Reader, w io.Writer) error {
	if avg.Mean <= 0 {
		return fmt.Errorf("delay: averaging window must be positive (got=%d)", avg.Mean)
	}
	if avg.NumCh <= 0 {
		return fmt.Errorf("delay: number of channels must be positive (got=%d)", avg.NumCh)
	}

	var (
		bw  = bufio.NewWriter(w)
		buf []float64
		row []chMean

		prev     int
		havePrev bool
		dataOK   bool
	)

	flush := func() error {
		if len(row) != avg.NumCh {
			return fmt.Errorf("delay: expected %d channels in cycle, got %d", avg.NumCh, len(row))
		}
		for i, v := range row {
			if i > 0 {
				fmt.Fprintf(bw, " ")
			}
			fmt.Fprintf(bw, "%d %.5f", v.ch, v.mean)
		}
		fmt.Fprintln(bw)
		return nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		ch, d, ok := parseEvent(sc.Text())
		if !ok {
			continue
		}

		if !havePrev {
			prev = ch
			havePrev = true
		}

		if ch != prev {
			switch {
			case dataOK && len(buf) == avg.Mean:
				row = append(row, chMean{prev, stat.Mean(buf, nil)})
			case dataOK:
				avg.Skipped += len(buf)
			}

			if ch < prev {
				// cycle rollover.
				if dataOK {
					if err := flush(); err != nil {
						return err
					}
				}
				dataOK = true
				row = row[:0]
			}

			buf = buf[:0]
			prev = ch
		}
		buf = append(buf, d)

		if dataOK && len(buf) == avg.Mean {
			row = append(row, chMean{ch, stat.Mean(buf, nil)})
			buf = buf[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("delay: could not read event stream: %w", err)
	}

	// trailing complete cycle without a closing rollover.
	if dataOK && len(row) == avg.NumCh {
		if err := flush(); err != nil {
			return err
		}
	}

	err := bw.Flush()
	if err != nil {
		return fmt.Errorf("delay: could not write cycle report: %w", err)
	}
	return nil
}

func parseEvent(line string) (ch int, d float64, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return 0, 0, false
	}
	cols := strings.Fields(line)
	if len(cols) < 2 {
		return 0, 0, false
	}
	ch, err := strconv.Atoi(cols[0])
	if err != nil {
		return 0, 0, false
	}
	d, err = strconv.ParseFloat(cols[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return ch, d, true
}
