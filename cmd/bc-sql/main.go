// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bc-sql stores averaged delay reports in the run database and inspects
// past runs.
//
// Usage: bc-sql [OPTIONS]
//
// Example:
//
//	$> bc-sql -load dlm-avg.txt -name dlm-2026-08-30
//	$> bc-sql -run 42
package main // import "github.com/blackcat-daq/blackcat/cmd/bc-sql"

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blackcat-daq/blackcat/rundb"
	_ "github.com/go-sql-driver/mysql"
)

const (
	dbname = "blackcat"
)

func main() {
	log.SetPrefix("bc-sql: ")
	log.SetFlags(0)

	var (
		load = flag.String("load", "", "path to an averaged delay report to store")
		name = flag.String("name", "", "name of the run to create (with -load)")
		run  = flag.Int64("run", 0, "run to inspect (default: last run)")
	)

	flag.Parse()

	db, err := rundb.Open(dbname)
	if err != nil {
		log.Fatalf("could not open run db: %+v", err)
	}
	defer db.Close()

	switch {
	case *load != "":
		err = doLoad(db, *load, *name)
	default:
		err = doQuery(db, *run)
	}
	if err != nil {
		log.Fatalf("could not process request: %+v", err)
	}
}

func doLoad(db *rundb.DB, fname, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if name == "" {
		name = time.Now().UTC().Format("run-2006-01-02T15:04:05")
	}

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	run, err := db.NewRun(ctx, name)
	if err != nil {
		return fmt.Errorf("could not create run %q: %w", name, err)
	}
	log.Printf("run: %d (%s)", run, name)

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Fields(line)
		if len(cols)%2 != 0 {
			// trailing mode token of a raw (non-averaged) line.
			cols = cols[:len(cols)-1]
		}
		for i := 0; i+1 < len(cols); i += 2 {
			v, err := strconv.ParseFloat(cols[i+1], 64)
			if err != nil {
				return fmt.Errorf("could not parse delay value %q: %w", cols[i+1], err)
			}
			err = db.AddDelay(ctx, run, cols[i], v)
			if err != nil {
				return fmt.Errorf("could not store delay (label=%q): %w", cols[i], err)
			}
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("could not read report %q: %w", fname, err)
	}

	log.Printf("stored %d delay values", n)
	return nil
}

func doQuery(db *rundb.DB, run int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if run == 0 {
		v, err := db.LastRun(ctx)
		if err != nil {
			return fmt.Errorf("could not get last run: %w", err)
		}
		run = v
		log.Printf("run: %d", run)
	}

	delays, err := db.Delays(ctx, run)
	if err != nil {
		return fmt.Errorf("could not get delays for run %d: %w", run, err)
	}
	log.Printf("delays: %d", len(delays))
	for _, d := range delays {
		log.Printf(">>> %s %11.5f", d.Label, d.Value)
	}

	return nil
}
