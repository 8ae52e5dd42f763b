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
	"errors"
	"sync"
	"time"

	"github.com/ZaparooProject/go-uhf/internal/frame"
)

// MockRequest is a request frame received by MockTransport
type MockRequest struct {
	Payload []byte
	Opcode  byte
}

// MockResponder returns the raw frames a scripted module sends back for a
// request. Returning nil sends nothing.
type MockResponder func(req MockRequest) [][]byte

// MockTransport is a scripted module for tests. Requests are parsed from
// written frames and answered by responders keyed by opcode; frames can
// also be injected at any time to emulate unsolicited stream traffic.
type MockTransport struct {
	responders map[byte]MockResponder
	signal     chan struct{}
	openErr    error
	rx         []byte
	pending    []byte
	requests   []MockRequest
	baud       int
	deviceBaud int
	wakeBytes  int
	wakeWrites int
	mu         sync.Mutex
	connected  bool
}

// NewMockTransport creates a closed mock transport at 115200 baud
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responders: make(map[byte]MockResponder),
		signal:     make(chan struct{}, 1),
		baud:       115200,
	}
}

// MockFrame encodes a response frame, panicking on oversized payloads.
func MockFrame(opcode byte, status uint16, payload []byte) []byte {
	raw, err := frame.EncodeResponse(opcode, status, payload)
	if err != nil {
		panic(err)
	}
	return raw
}

// Respond registers r for opcode
func (m *MockTransport) Respond(opcode byte, r MockResponder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responders[opcode] = r
}

// RespondStatus answers every request for opcode with one fixed frame
func (m *MockTransport) RespondStatus(opcode byte, status uint16, payload []byte) {
	raw := MockFrame(opcode, status, payload)
	m.Respond(opcode, func(MockRequest) [][]byte {
		return [][]byte{raw}
	})
}

// Inject queues raw bytes for the host to receive
func (m *MockTransport) Inject(frames ...[]byte) {
	m.mu.Lock()
	for _, f := range frames {
		m.rx = append(m.rx, f...)
	}
	m.mu.Unlock()
	m.notify()
}

func (m *MockTransport) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// SetDeviceBaud makes the scripted module ignore requests unless the host
// runs at rate. Zero accepts every rate.
func (m *MockTransport) SetDeviceBaud(rate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceBaud = rate
}

// SetOpenError makes Open fail with err
func (m *MockTransport) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// Requests returns all requests received so far
func (m *MockTransport) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// RequestsFor returns the requests received for opcode
func (m *MockTransport) RequestsFor(opcode byte) []MockRequest {
	var out []MockRequest
	for _, r := range m.Requests() {
		if r.Opcode == opcode {
			out = append(out, r)
		}
	}
	return out
}

// WakeWrites returns the number of writes made of marker bytes only
func (m *MockTransport) WakeWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wakeWrites
}

// WakeBytes returns the number of wake preamble bytes written
func (m *MockTransport) WakeBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wakeBytes
}

// Open marks the transport connected
func (m *MockTransport) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.connected = true
	return nil
}

func allMarkers(data []byte) bool {
	for _, b := range data {
		if b != frame.Marker {
			return false
		}
	}
	return len(data) > 0
}

// Send parses request frames out of data and runs their responders
func (m *MockTransport) Send(data []byte, _ time.Duration) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return NewTransportError("send", "mock", ErrTransportClosed, ErrorTypePermanent)
	}
	if len(m.pending) == 0 && allMarkers(data) {
		m.wakeBytes += len(data)
		m.wakeWrites++
		m.mu.Unlock()
		return nil
	}

	m.pending = append(m.pending, data...)
	var reqs []MockRequest
	for len(m.pending) > 0 {
		opcode, payload, n, err := frame.DecodeRequest(m.pending)
		if errors.Is(err, frame.ErrShort) {
			break
		}
		if err != nil {
			m.pending = nil
			break
		}
		req := MockRequest{Opcode: opcode, Payload: append([]byte(nil), payload...)}
		m.pending = m.pending[n:]
		m.requests = append(m.requests, req)
		if m.deviceBaud == 0 || m.deviceBaud == m.baud {
			reqs = append(reqs, req)
		}
	}
	responders := make([]MockResponder, len(reqs))
	for i, req := range reqs {
		responders[i] = m.responders[req.Opcode]
	}
	m.mu.Unlock()

	for i, req := range reqs {
		if responders[i] == nil {
			continue
		}
		if frames := responders[i](req); len(frames) > 0 {
			m.Inject(frames...)
		}
	}
	return nil
}

// Receive waits until n bytes are queued or timeout elapses
func (m *MockTransport) Receive(n int, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if !m.connected {
			m.mu.Unlock()
			return nil, NewTransportError("receive", "mock", ErrTransportClosed, ErrorTypePermanent)
		}
		if len(m.rx) >= n {
			out := append([]byte(nil), m.rx[:n]...)
			m.rx = m.rx[n:]
			more := len(m.rx) > 0
			m.mu.Unlock()
			if more {
				m.notify()
			}
			return out, nil
		}
		m.mu.Unlock()

		select {
		case <-m.signal:
		case <-timer.C:
			return nil, NewTimeoutError("receive", "mock")
		}
	}
}

// BaudRate returns the host side baud rate
func (m *MockTransport) BaudRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baud
}

// SetBaudRate changes the host side baud rate
func (m *MockTransport) SetBaudRate(rate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baud = rate
	return nil
}

// Flush drops queued input and partial requests
func (m *MockTransport) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rx = nil
	m.pending = nil
	return nil
}

// Close marks the transport closed and wakes blocked receivers
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.notify()
	return nil
}

// IsConnected reports whether Open succeeded and Close was not called
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Type returns TransportMock
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// HasCapability reports the mock's capabilities
func (*MockTransport) HasCapability(capability TransportCapability) bool {
	return capability == CapabilitySettableBaud
}
