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

// Package uart provides a serial transport for modules attached to a UART
// or a USB-CDC adapter.
package uart

import (
	"errors"
	"fmt"
	"sync"
	"time"

	uhf "github.com/ZaparooProject/go-uhf"
	"github.com/ZaparooProject/go-uhf/internal/transport"
	"go.bug.st/serial"
)

// readSlice bounds one driver read so Close and short frames are noticed
// without waiting for the full receive timeout
const readSlice = 50 * time.Millisecond

// OpenFunc opens a serial port. It matches serial.Open.
type OpenFunc func(portName string, mode *serial.Mode) (serial.Port, error)

// Transport implements uhf.Transport over go.bug.st/serial
type Transport struct {
	port     serial.Port
	open     OpenFunc
	portName string
	baud     int
	mu       sync.Mutex
}

// New creates a serial transport for portName at the initial baud rate.
// The port is opened by Open.
func New(portName string, baud int) *Transport {
	return &Transport{
		portName: portName,
		baud:     baud,
		open:     serial.Open,
	}
}

// WithOpenFunc replaces the function used to open the port
func (t *Transport) WithOpenFunc(open OpenFunc) *Transport {
	t.open = open
	return t
}

func (t *Transport) mode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Open opens the serial port
func (t *Transport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}

	port, err := t.open(t.portName, t.mode(t.baud))
	if err != nil {
		return uhf.NewTransportError("open", t.portName, err, classify(err))
	}
	t.port = port
	return nil
}

func (t *Transport) current() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, uhf.NewTransportError("io", t.portName, uhf.ErrTransportClosed, uhf.ErrorTypePermanent)
	}
	return t.port, nil
}

// Send writes data. The driver has no write deadline, so timeout only
// bounds retries of short writes.
func (t *Transport) Send(data []byte, timeout time.Duration) error {
	port, err := t.current()
	if err != nil {
		return err
	}

	written := 0
	_, err = transport.TimeoutRetry("send", t.portName, timeout, func() (struct{}, bool, error) {
		n, err := port.Write(data[written:])
		if err != nil {
			return struct{}{}, false, t.ioError("send", uhf.ErrTransportWrite, err)
		}
		written += n
		return struct{}{}, written < len(data), nil
	})
	return err
}

// Receive reads exactly n bytes or fails with a timeout error
func (t *Transport) Receive(n int, timeout time.Duration) ([]byte, error) {
	port, err := t.current()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(timeout)
	return transport.TimeoutRetry("receive", t.portName, timeout, func() ([]byte, bool, error) {
		slice := min(time.Until(deadline), readSlice)
		if slice <= 0 {
			slice = time.Millisecond
		}
		if err := port.SetReadTimeout(slice); err != nil {
			return nil, false, uhf.NewTransportError("receive", t.portName, err, classify(err))
		}
		k, err := port.Read(buf[got:])
		if err != nil {
			return nil, false, t.ioError("receive", uhf.ErrTransportRead, err)
		}
		got += k
		if got < n {
			return nil, true, nil
		}
		return buf, false, nil
	})
}

// BaudRate returns the host side line rate
func (t *Transport) BaudRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baud
}

// SetBaudRate changes the host side line rate. Before Open it only sets
// the rate Open will use.
func (t *Transport) SetBaudRate(rate int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		if err := t.port.SetMode(t.mode(rate)); err != nil {
			return uhf.NewTransportError("set baud", t.portName, err, classify(err))
		}
	}
	t.baud = rate
	return nil
}

// Flush discards buffered input and output
func (t *Transport) Flush() error {
	port, err := t.current()
	if err != nil {
		return err
	}
	if err := port.ResetInputBuffer(); err != nil {
		return uhf.NewTransportError("flush", t.portName, err, classify(err))
	}
	if err := port.ResetOutputBuffer(); err != nil {
		return uhf.NewTransportError("flush", t.portName, err, classify(err))
	}
	return nil
}

// Close closes the port. A blocked Receive returns ErrTransportClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	port := t.port
	t.port = nil
	t.mu.Unlock()

	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("close %s: %w", t.portName, err)
	}
	return nil
}

// IsConnected returns true if the port is open
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type returns TransportUART
func (*Transport) Type() uhf.TransportType {
	return uhf.TransportUART
}

// HasCapability reports that the host controls the line rate
func (*Transport) HasCapability(capability uhf.TransportCapability) bool {
	return capability == uhf.CapabilitySettableBaud
}

func (t *Transport) ioError(op string, sentinel, err error) error {
	if code, ok := portErrorCode(err); ok && code == serial.PortClosed {
		sentinel = uhf.ErrTransportClosed
	}
	return uhf.NewTransportError(op, t.portName, fmt.Errorf("%w: %w", sentinel, err), classify(err))
}

// classify maps serial library errors onto retry classes. An unplugged or
// closed port is permanent, so a blocked session ends instead of retrying.
func classify(err error) uhf.ErrorType {
	code, ok := portErrorCode(err)
	if !ok {
		return uhf.ErrorTypeTransient
	}
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort,
		serial.PermissionDenied, serial.PortBusy:
		return uhf.ErrorTypePermanent
	default:
		return uhf.ErrorTypeTransient
	}
}

func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var ptr *serial.PortError
	if errors.As(err, &ptr) {
		return ptr.Code(), true
	}
	var val serial.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}
