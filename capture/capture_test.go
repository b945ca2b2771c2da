// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"bytes"
	"context"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ziutek/ftdi"
)

// syncBuffer guards a bytes.Buffer written from the capture goroutine
// while the test polls it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}

func TestUDPListener(t *testing.T) {
	out := new(syncBuffer)
	msg := log.New(io.Discard, "", 0)

	lst, err := NewUDPListener("127.0.0.1:0", out, msg)
	if err != nil {
		t.Fatalf("could not create listener: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() { errc <- lst.Run(ctx) }()

	conn, err := net.Dial("udp", lst.Addr().String())
	if err != nil {
		cancel()
		t.Fatalf("could not dial listener: %+v", err)
	}
	defer conn.Close()

	want := []byte("\x00\x00\x00\x01\x80\x00\x00\x02")
	_, err = conn.Write(want)
	if err != nil {
		cancel()
		t.Fatalf("could not send datagram: %+v", err)
	}

	// wait for the payload to land before cancelling.
	timeout := time.After(5 * time.Second)
	for out.Len() < len(want) {
		select {
		case <-timeout:
			cancel()
			t.Fatalf("timeout waiting for datagram")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	err = <-errc
	if err != nil {
		t.Fatalf("listener failed: %+v", err)
	}

	if got := out.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("invalid payload:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := lst.Packets, 1; got != want {
		t.Fatalf("invalid packet count: got=%d, want=%d", got, want)
	}
}

func TestUDPListenerInvalidAddr(t *testing.T) {
	_, err := NewUDPListener("not-an-addr:port", io.Discard, log.New(io.Discard, "", 0))
	if err == nil {
		t.Fatalf("expected an error")
	}
}

type fakeFTDI struct {
	mu   sync.Mutex
	data []byte

	resets int
	purged bool
}

func (dev *fakeFTDI) Reset() error                               { dev.resets++; return nil }
func (dev *fakeFTDI) SetBitmode(mask byte, mode ftdi.Mode) error { return nil }
func (dev *fakeFTDI) SetFlowControl(fc ftdi.FlowCtrl) error      { return nil }
func (dev *fakeFTDI) SetLatencyTimer(lt int) error               { return nil }
func (dev *fakeFTDI) SetWriteChunkSize(cs int) error             { return nil }
func (dev *fakeFTDI) SetReadChunkSize(cs int) error              { return nil }
func (dev *fakeFTDI) PurgeBuffers() error                        { dev.purged = true; return nil }
func (dev *fakeFTDI) Close() error                               { return nil }

func (dev *fakeFTDI) Write(p []byte) (int, error) { return len(p), nil }

func (dev *fakeFTDI) Read(p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	n := copy(p, dev.data)
	dev.data = dev.data[n:]
	return n, nil
}

func TestUSBReader(t *testing.T) {
	fake := &fakeFTDI{data: []byte("OK\r\n\x00\x00\x17\x0d\x00")}
	ftdiOpen = func(vid, pid uint16) (ftdiDevice, error) {
		return fake, nil
	}
	defer func() { ftdiOpen = ftdiOpenImpl }()

	out := new(syncBuffer)
	dev, err := NewUSBReader(0x0403, 0x6014, out, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("could not create USB reader: %+v", err)
	}
	defer dev.Close()

	if fake.resets == 0 || !fake.purged {
		t.Fatalf("device not initialized: resets=%d purged=%v", fake.resets, fake.purged)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() { errc <- dev.Run(ctx) }()

	timeout := time.After(5 * time.Second)
	for {
		if out.Len() == 9 {
			break
		}
		select {
		case <-timeout:
			cancel()
			t.Fatalf("timeout waiting for device bytes")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	err = <-errc
	if err != nil {
		t.Fatalf("reader failed: %+v", err)
	}

	if got, want := string(out.Bytes()), "OK\r\n\x00\x00\x17\x0d\x00"; got != want {
		t.Fatalf("invalid payload: got=%q, want=%q", got, want)
	}
	if got, want := dev.Bytes, int64(9); got != want {
		t.Fatalf("invalid byte count: got=%d, want=%d", got, want)
	}
}

func TestLoadConfig(t *testing.T) {
	tmp, err := os.MkdirTemp("", "blackcat-capture-")
	if err != nil {
		t.Fatalf("could not create tmpdir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	fname := filepath.Join(tmp, "capture.yml")
	err = os.WriteFile(fname, []byte(`
addr: ":8877"
device:
  vid: 0x0403
  pid: 0x6014
outdir: /data/runs
mail:
  server: smtp.example.org
  port: 587
  username: daq
  password: s3cr3t
  to: [shift@example.org]
`), 0644)
	if err != nil {
		t.Fatalf("could not create config file: %+v", err)
	}

	cfg, err := LoadConfig(fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}

	if got, want := cfg.Addr, ":8877"; got != want {
		t.Fatalf("invalid addr: got=%q, want=%q", got, want)
	}
	if got, want := cfg.Device, (FTDIConfig{VID: 0x0403, PID: 0x6014}); got != want {
		t.Fatalf("invalid device: got=%+v, want=%+v", got, want)
	}
	if !cfg.Device.Enabled() {
		t.Fatalf("device not enabled")
	}
	if got, want := cfg.OutDir, "/data/runs"; got != want {
		t.Fatalf("invalid outdir: got=%q, want=%q", got, want)
	}
	if !cfg.Mail.Enabled() {
		t.Fatalf("mail alerts not enabled")
	}

	t.Run("no-source", func(t *testing.T) {
		fname := filepath.Join(tmp, "empty.yml")
		err := os.WriteFile(fname, []byte("outdir: /data/runs\n"), 0644)
		if err != nil {
			t.Fatalf("could not create config file: %+v", err)
		}

		_, err = LoadConfig(fname)
		if err == nil {
			t.Fatalf("expected an error")
		}
	})

	t.Run("missing-file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(tmp, "does-not-exist.yml"))
		if err == nil {
			t.Fatalf("expected an error")
		}
	})
}
