// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bc-calib builds a fine-time calibration table from a raw calibration
// dump.
//
// Usage: bc-calib [OPTIONS] FILE.dump
//
// Example:
//
//	$> bc-calib -o fine_time.cal ./calib.dump
package main // import "github.com/blackcat-daq/blackcat/cmd/bc-calib"

import (
	"flag"
	"fmt"
	"log"

	"github.com/blackcat-daq/blackcat"
	"github.com/blackcat-daq/blackcat/tdc"
)

func main() {
	log.SetPrefix("bc-calib: ")
	log.SetFlags(0)

	var (
		oname   = flag.String("o", "fine_time.cal", "path to output calibration table file")
		version = flag.Bool("version", false, "print version and exit")
	)

	flag.Usage = func() {
		fmt.Printf(`bc-calib builds a fine-time calibration table from a raw calibration dump.

Usage: bc-calib [OPTIONS] FILE.dump

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *version {
		fmt.Println(versionOf())
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to input calibration dump")
	}

	err := tdc.Convert(flag.Arg(0), *oname)
	if err != nil {
		log.Fatalf("could not convert calibration dump %q: %+v", flag.Arg(0), err)
	}
}

func versionOf() string {
	version, sum := blackcat.Version()
	return fmt.Sprintf("bc-calib version=%q sum=%q", version, sum)
}
