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

package uhf

import (
	"time"
)

// Transport defines the byte stream a module is attached to.
// This can be implemented by serial ports, USB-CDC devices or TCP bridges.
type Transport interface {
	// Open opens the underlying connection
	Open() error

	// Send writes data, failing if it cannot be written within timeout
	Send(data []byte, timeout time.Duration) error

	// Receive blocks until exactly n bytes arrived or timeout elapsed
	Receive(n int, timeout time.Duration) ([]byte, error)

	// BaudRate returns the current line rate
	BaudRate() int

	// SetBaudRate changes the host side line rate
	SetBaudRate(rate int) error

	// Flush discards any buffered input and output
	Flush() error

	// Close closes the transport connection
	Close() error

	// IsConnected returns true if the transport is open
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents a serial or USB-CDC transport.
	TransportUART TransportType = "uart"
	// TransportTCP represents a serial-over-TCP bridge.
	TransportTCP TransportType = "tcp"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// TransportCapability represents specific capabilities or behaviors of a transport
type TransportCapability string

const (
	// CapabilitySettableBaud indicates the host can change the line rate,
	// so baud negotiation walks the probe ladder.
	CapabilitySettableBaud TransportCapability = "settable_baud"
)

// TransportCapabilityChecker defines an interface for querying transport capabilities
type TransportCapabilityChecker interface {
	// HasCapability returns true if the transport has the specified capability
	HasCapability(capability TransportCapability) bool
}

// hasCapability reports whether t advertises capability. Transports that do
// not implement TransportCapabilityChecker are assumed to be serial lines.
func hasCapability(t Transport, capability TransportCapability) bool {
	if checker, ok := t.(TransportCapabilityChecker); ok {
		return checker.HasCapability(capability)
	}
	return t.Type() == TransportUART
}
