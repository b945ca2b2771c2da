// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capture acquires raw TDC data streams, either as UDP
// datagrams from the timing network or as a byte stream from an
// external USB TDC, and appends them verbatim to an output file.
// Decoding is done offline by the tdc package.
package capture // import "github.com/blackcat-daq/blackcat/capture"

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"
)

const pollTimeout = 2 * time.Second

// UDPListener receives raw datagrams on a UDP port and writes their
// payloads to w, in arrival order.
type UDPListener struct {
	conn *net.UDPConn
	w    io.Writer
	msg  *log.Logger

	// Packets counts the datagrams written so far.
	Packets int
}

// NewUDPListener binds a UDP socket on addr. The socket is bound (and
// the port allocated) before Run starts, so callers may start the
// upstream data source as soon as NewUDPListener returns.
func NewUDPListener(addr string, w io.Writer, msg *log.Logger) (*UDPListener, error) {
	if msg == nil {
		msg = log.New(os.Stderr, "capture: ", 0)
	}

	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("capture: could not resolve UDP address %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("capture: could not listen on %q: %w", addr, err)
	}

	return &UDPListener{conn: conn, w: w, msg: msg}, nil
}

// Addr returns the local address of the bound socket.
func (lst *UDPListener) Addr() net.Addr {
	return lst.conn.LocalAddr()
}

// Run receives datagrams until ctx is cancelled. The read loop wakes up
// every couple of seconds to check for cancellation.
func (lst *UDPListener) Run(ctx context.Context) error {
	defer lst.conn.Close()

	lst.msg.Printf("listening on %v...", lst.Addr())

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			lst.msg.Printf("listener on %v closed", lst.Addr())
			return nil
		default:
		}

		err := lst.conn.SetReadDeadline(time.Now().Add(pollTimeout))
		if err != nil {
			return fmt.Errorf("capture: could not set read deadline: %w", err)
		}

		n, _, err := lst.conn.ReadFromUDP(buf)
		if err != nil {
			if e, ok := err.(net.Error); ok && e.Timeout() {
				continue
			}
			return fmt.Errorf("capture: could not read datagram: %w", err)
		}

		_, err = lst.w.Write(buf[:n])
		if err != nil {
			return fmt.Errorf("capture: could not write datagram payload: %w", err)
		}
		lst.Packets++
	}
}
