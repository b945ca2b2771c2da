// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ziutek/ftdi"
)

type ftdiDevice interface {
	Reset() error

	SetBitmode(iomask byte, mode ftdi.Mode) error
	SetFlowControl(flowctrl ftdi.FlowCtrl) error
	SetLatencyTimer(lt int) error
	SetWriteChunkSize(cs int) error
	SetReadChunkSize(cs int) error
	PurgeBuffers() error

	io.Writer
	io.Reader
	io.Closer
}

var (
	ftdiOpen = ftdiOpenImpl
)

func ftdiOpenImpl(vid, pid uint16) (ftdiDevice, error) {
	dev, err := ftdi.OpenFirst(int(vid), int(pid), ftdi.ChannelAny)
	return dev, err
}

// USBReader drains the byte stream of an external USB TDC and writes it
// to w. The device is opened and initialized by NewUSBReader; Run only
// pumps bytes.
type USBReader struct {
	vid uint16
	pid uint16
	ft  ftdiDevice
	w   io.Writer
	msg *log.Logger

	// Bytes counts the payload bytes written so far.
	Bytes int64
}

// NewUSBReader opens the first FTDI device matching vid/pid and
// prepares it for streaming.
func NewUSBReader(vid, pid uint16, w io.Writer, msg *log.Logger) (*USBReader, error) {
	if msg == nil {
		msg = log.New(os.Stderr, "capture: ", 0)
	}

	ft, err := ftdiOpen(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("capture: could not open FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	dev := &USBReader{vid: vid, pid: pid, ft: ft, w: w, msg: msg}
	err = dev.init()
	if err != nil {
		ft.Close()
		return nil, fmt.Errorf("capture: could not initialize FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	return dev, nil
}

func (dev *USBReader) init() error {
	var err error

	err = dev.ft.Reset()
	if err != nil {
		return fmt.Errorf("could not reset USB: %w", err)
	}

	err = dev.ft.SetBitmode(0, ftdi.ModeBitbang)
	if err != nil {
		return fmt.Errorf("could not disable bitbang: %w", err)
	}

	err = dev.ft.SetFlowControl(ftdi.FlowCtrlDisable)
	if err != nil {
		return fmt.Errorf("could not disable flow control: %w", err)
	}

	err = dev.ft.SetLatencyTimer(2)
	if err != nil {
		return fmt.Errorf("could not set latency timer to 2: %w", err)
	}

	err = dev.ft.SetWriteChunkSize(0xffff)
	if err != nil {
		return fmt.Errorf("could not set write chunk-size to 0xffff: %w", err)
	}

	err = dev.ft.SetReadChunkSize(0xffff)
	if err != nil {
		return fmt.Errorf("could not set read chunk-size to 0xffff: %w", err)
	}

	if dev.pid == 0x6014 {
		err = dev.ft.SetBitmode(0, ftdi.ModeReset)
		if err != nil {
			return fmt.Errorf("could not reset bit mode: %w", err)
		}
	}

	err = dev.ft.PurgeBuffers()
	if err != nil {
		return fmt.Errorf("could not purge USB buffers: %w", err)
	}

	return err
}

// Close releases the FTDI device handle.
func (dev *USBReader) Close() error {
	return dev.ft.Close()
}

// Run pumps bytes from the device to the output writer until ctx is
// cancelled. An idle device (an empty read) backs off briefly instead
// of spinning.
func (dev *USBReader) Run(ctx context.Context) error {
	dev.msg.Printf("reading FTDI device (vid=0x%x, pid=0x%x)...", dev.vid, dev.pid)

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			dev.msg.Printf("FTDI reader (vid=0x%x, pid=0x%x) stopped", dev.vid, dev.pid)
			return nil
		default:
		}

		n, err := dev.ft.Read(buf)
		if err != nil {
			return fmt.Errorf("capture: could not read from FTDI device: %w", err)
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		_, err = dev.w.Write(buf[:n])
		if err != nil {
			return fmt.Errorf("capture: could not write FTDI payload: %w", err)
		}
		dev.Bytes += int64(n)
	}
}
