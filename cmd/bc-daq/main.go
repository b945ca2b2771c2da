// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command bc-daq starts a TDAQ server wrapping the capture stage: raw
// timing-link datagrams are recorded to one file per run, driven by the
// usual /config /init /start /stop /quit run-control commands.
package main // import "github.com/blackcat-daq/blackcat/cmd/bc-daq"

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"

	"github.com/blackcat-daq/blackcat/capture"
)

func main() {
	cmd := flags.New()

	dev := daq{
		cfg: os.Getenv("BC_CAPTURE_CFG"),
	}
	if dev.cfg == "" {
		dev.cfg = "capture.yml"
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type daq struct {
	cfg  string
	conf *capture.Config

	mu     sync.Mutex
	runnbr int
	out    *os.File
	lst    *capture.UDPListener
	cancel context.CancelFunc
	done   chan error
}

func (dev *daq) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	conf, err := capture.LoadConfig(dev.cfg)
	if err != nil {
		return err
	}
	dev.conf = conf
	return nil
}

func (dev *daq) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	if dev.conf == nil {
		return fmt.Errorf("bc-daq: not configured")
	}
	dev.runnbr = 0
	return nil
}

func (dev *daq) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev.stopRun()
	dev.runnbr = 0
	return nil
}

func (dev *daq) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.startRun()
	if err != nil {
		return err
	}
	ctx.Msg.Debugf("received /start command... -> run=%03d", dev.runnbr)
	return nil
}

func (dev *daq) startRun() error {
	if dev.conf == nil {
		return fmt.Errorf("bc-daq: not configured")
	}

	dev.runnbr++
	oname := fmt.Sprintf("bc-run%03d.raw", dev.runnbr)
	if dev.conf.OutDir != "" {
		oname = filepath.Join(dev.conf.OutDir, oname)
	}

	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("bc-daq: could not create output file %q: %w", oname, err)
	}

	lst, err := capture.NewUDPListener(dev.conf.Addr, f, nil)
	if err != nil {
		f.Close()
		return err
	}

	runctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lst.Run(runctx) }()

	dev.out = f
	dev.lst = lst
	dev.cancel = cancel
	dev.done = done
	return nil
}

func (dev *daq) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	err := dev.stopRun()
	if dev.lst != nil {
		ctx.Msg.Debugf("received /stop command... -> packets=%d", dev.lst.Packets)
	}
	return err
}

func (dev *daq) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return dev.stopRun()
}

func (dev *daq) stopRun() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.cancel == nil {
		return nil
	}
	dev.cancel()
	err := <-dev.done

	cerr := dev.out.Close()
	if err == nil {
		err = cerr
	}

	dev.cancel = nil
	dev.done = nil
	dev.out = nil
	return err
}

func (dev *daq) run(ctx tdaq.Context) error {
	<-ctx.Ctx.Done()
	return dev.stopRun()
}
