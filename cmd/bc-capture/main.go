// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bc-capture records a raw TDC data stream to a file, from a UDP port
// of the timing network or from an external USB TDC, and optionally
// mails an alert when the output file stops growing.
//
// Usage: bc-capture [OPTIONS] -c capture.yml FILE.raw
//
// Example:
//
//	$> bc-capture -c capture.yml -t 30m ./run042-dlm.raw
package main // import "github.com/blackcat-daq/blackcat/cmd/bc-capture"

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	mail "gopkg.in/gomail.v2"

	"github.com/blackcat-daq/blackcat/capture"
)

func main() {
	log.SetPrefix("bc-capture: ")
	log.SetFlags(0)

	var (
		cname   = flag.String("c", "capture.yml", "path to the capture configuration file")
		timeout = flag.Duration("t", 0, "capture duration (0: until interrupted)")
		freq    = flag.Duration("freq", 30*time.Second, "stall probing interval")
	)

	flag.Usage = func() {
		fmt.Printf(`bc-capture records a raw TDC data stream to a file.

Usage: bc-capture [OPTIONS] -c capture.yml FILE.raw

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to output raw file")
	}

	cfg, err := capture.LoadConfig(*cname)
	if err != nil {
		log.Fatalf("could not load config: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	err = run(ctx, cfg, flag.Arg(0), *freq)
	if err != nil {
		log.Fatalf("could not capture to %q: %+v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, cfg *capture.Config, fname string, freq time.Duration) error {
	oname := fname
	if cfg.OutDir != "" {
		oname = filepath.Join(cfg.OutDir, fname)
	}

	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output file %q: %w", oname, err)
	}
	defer f.Close()

	var stage func(context.Context) error
	switch {
	case cfg.Device.Enabled():
		dev, err := capture.NewUSBReader(cfg.Device.VID, cfg.Device.PID, f, log.Default())
		if err != nil {
			return err
		}
		defer dev.Close()
		stage = dev.Run
	default:
		lst, err := capture.NewUDPListener(cfg.Addr, f, log.Default())
		if err != nil {
			return err
		}
		stage = lst.Run
	}

	mon := &monitor{cfg: cfg.Mail, freq: freq}
	err = supervise(ctx, stage, mon, oname)
	if err != nil {
		return err
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output file %q: %w", oname, err)
	}
	return nil
}

// supervise runs the capture stage and the stall monitor off a shared
// derived context: a failing stage cancels the monitor instead of
// leaving it probing a dead file until an external interrupt.
func supervise(ctx context.Context, stage func(context.Context) error, mon *monitor, fname string) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return stage(ctx) })
	grp.Go(func() error { mon.run(ctx, fname); return nil })
	return grp.Wait()
}

// monitor watches the output file size and raises an alert when a probe
// interval elapses without growth.
type monitor struct {
	cfg    capture.AlertConfig
	freq   time.Duration
	alerts int
}

func (mon *monitor) run(ctx context.Context, fname string) {
	tick := time.NewTicker(mon.freq)
	defer tick.Stop()

	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			fi, err := os.Stat(fname)
			if err != nil {
				log.Printf("could not stat %q: %+v", fname, err)
				continue
			}
			size := fi.Size()
			if size == last {
				mon.alert(fname, size)
			}
			last = size
		}
	}
}

func (mon *monitor) alert(fname string, size int64) {
	log.Printf("file %q didn't change in the last %v (size=%d bytes)",
		fname, mon.freq, size,
	)
	mon.alerts++

	const maxAlerts = 5
	if mon.alerts < maxAlerts {
		mon.alertMail(fname, size)
	}
}

func (mon *monitor) alertMail(fname string, size int64) {
	if !mon.cfg.Enabled() {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", mon.cfg.Username)
	msg.SetHeader("Bcc", mon.cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf("[bc-capture] file alert: %q", fname))
	msg.SetBody("text/plain", fmt.Sprintf("file: %q\nsize: %d bytes\nfreq: %v",
		fname, size, mon.freq,
	))

	dial := mail.NewDialer(mon.cfg.Server, mon.cfg.Port, mon.cfg.Username, mon.cfg.Password)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}
