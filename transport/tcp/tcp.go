// go-uhf
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-uhf.
//
// go-uhf is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-uhf is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-uhf; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package tcp provides a transport for modules reached through a
// serial-to-TCP bridge. The bridge owns the physical line, so the baud rate
// is only recorded.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	uhf "github.com/ZaparooProject/go-uhf"
	"github.com/ZaparooProject/go-uhf/internal/transport"
)

// Defaults for dialing the bridge
const (
	DefaultDialTimeout = 2 * time.Second
	DefaultDialRetries = 2
	DefaultRetryDelay  = 100 * time.Millisecond
)

// Option configures a Transport
type Option func(*Transport)

// WithDialTimeout bounds each connection attempt
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.dialer.Timeout = d
	}
}

// WithRetry sets how many times a failed dial is repeated and the pause
// between attempts
func WithRetry(retries int, delay time.Duration) Option {
	return func(t *Transport) {
		t.retries = retries
		t.retryDelay = delay
	}
}

// Transport implements uhf.Transport over a TCP connection
type Transport struct {
	conn       net.Conn
	dialer     net.Dialer
	address    string
	rx         []byte
	retryDelay time.Duration
	retries    int
	baud       int
	mu         sync.Mutex
	rxMu       sync.Mutex
}

// New creates a transport for the bridge at address (host:port)
func New(address string, opts ...Option) *Transport {
	t := &Transport{
		address:    address,
		dialer:     net.Dialer{Timeout: DefaultDialTimeout},
		retries:    DefaultDialRetries,
		retryDelay: DefaultRetryDelay,
		baud:       115200,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open dials the bridge, retrying failed attempts
func (t *Transport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	var lastErr error
	conn, err := transport.WithRetry(transport.RetryConfig{
		Op:         "dial",
		Port:       t.address,
		MaxRetries: t.retries,
		RetryDelay: t.retryDelay,
		OnRetryFailed: func() error {
			return uhf.NewTransportError("dial", t.address, lastErr, uhf.ErrorTypeTransient)
		},
	}, func() (net.Conn, bool, error) {
		conn, err := t.dialer.DialContext(context.Background(), "tcp", t.address)
		if err != nil {
			lastErr = err
			return nil, true, nil
		}
		return conn, false, nil
	})
	if err != nil {
		return err
	}
	t.conn = conn
	t.rx = nil
	return nil
}

func (t *Transport) current() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, uhf.NewTransportError("io", t.address, uhf.ErrTransportClosed, uhf.ErrorTypePermanent)
	}
	return t.conn, nil
}

// Send writes data within timeout
func (t *Transport) Send(data []byte, timeout time.Duration) error {
	conn, err := t.current()
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return t.ioError("send", uhf.ErrTransportWrite, err)
	}
	for written := 0; written < len(data); {
		n, err := conn.Write(data[written:])
		if err != nil {
			return t.ioError("send", uhf.ErrTransportWrite, err)
		}
		written += n
	}
	return nil
}

// Receive reads exactly n bytes within timeout. Bytes that arrived before
// a timeout are kept for the next call.
func (t *Transport) Receive(n int, timeout time.Duration) ([]byte, error) {
	conn, err := t.current()
	if err != nil {
		return nil, err
	}

	t.rxMu.Lock()
	defer t.rxMu.Unlock()

	if len(t.rx) < n {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, t.ioError("receive", uhf.ErrTransportRead, err)
		}
	}
	buf := make([]byte, 256)
	for len(t.rx) < n {
		k, err := conn.Read(buf)
		t.rx = append(t.rx, buf[:k]...)
		if err != nil && len(t.rx) < n {
			return nil, t.ioError("receive", uhf.ErrTransportRead, err)
		}
	}

	out := make([]byte, n)
	copy(out, t.rx)
	t.rx = t.rx[n:]
	return out, nil
}

func (t *Transport) ioError(op string, sentinel, err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return uhf.NewTimeoutError(op, t.address)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return uhf.NewTransportError(op, t.address, fmt.Errorf("%w: %w", uhf.ErrTransportClosed, err), uhf.ErrorTypePermanent)
	default:
		return uhf.NewTransportError(op, t.address, fmt.Errorf("%w: %w", sentinel, err), uhf.ErrorTypeTransient)
	}
}

// BaudRate returns the recorded line rate
func (t *Transport) BaudRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baud
}

// SetBaudRate records rate. The bridge keeps its own line settings.
func (t *Transport) SetBaudRate(rate int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.baud = rate
	return nil
}

// Flush drops bytes received but not yet consumed
func (t *Transport) Flush() error {
	if _, err := t.current(); err != nil {
		return err
	}
	t.rxMu.Lock()
	defer t.rxMu.Unlock()
	t.rx = nil
	return nil
}

// Close closes the connection. A blocked Receive returns ErrTransportClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close %s: %w", t.address, err)
	}
	return nil
}

// IsConnected returns true if the connection is open
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Type returns TransportTCP
func (*Transport) Type() uhf.TransportType {
	return uhf.TransportTCP
}

// HasCapability reports no settable baud rate, so baud negotiation only
// probes the recorded rate
func (*Transport) HasCapability(uhf.TransportCapability) bool {
	return false
}
