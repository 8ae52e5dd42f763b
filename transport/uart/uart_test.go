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

package uart

import (
	"errors"
	"sync"
	"testing"
	"time"

	uhf "github.com/ZaparooProject/go-uhf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// fakePort is an in-memory serial.Port. Methods the transport does not
// use fall through to the nil embedded interface.
type fakePort struct {
	serial.Port
	readErr     error
	mode        *serial.Mode
	rx          []byte
	tx          []byte
	timeouts    []time.Duration
	chunk       int
	inputResets int
	mu          sync.Mutex
	closed      bool
}

func (p *fakePort) SetMode(mode *serial.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts = append(p.timeouts, t)
	return nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		defer p.mu.Unlock()
		return 0, p.readErr
	}
	if len(p.rx) == 0 {
		timeout := p.timeouts[len(p.timeouts)-1]
		p.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	defer p.mu.Unlock()
	n := len(b)
	if p.chunk > 0 && n > p.chunk {
		n = p.chunk
	}
	n = copy(b[:n], p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tx = append(p.tx, b...)
	return len(b), nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputResets++
	p.rx = nil
	return nil
}

func (*fakePort) ResetOutputBuffer() error {
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func openFake(t *testing.T, port *fakePort) (*Transport, *serial.Mode) {
	t.Helper()
	var opened *serial.Mode
	tr := New("/dev/ttyUSB0", 115200).WithOpenFunc(func(name string, mode *serial.Mode) (serial.Port, error) {
		assert.Equal(t, "/dev/ttyUSB0", name)
		opened = mode
		return port, nil
	})
	require.NoError(t, tr.Open())
	return tr, opened
}

func TestTransportCreation(t *testing.T) {
	t.Parallel()

	tr := New("/dev/ttyUSB0", 9600)
	assert.Equal(t, uhf.TransportUART, tr.Type())
	assert.Equal(t, 9600, tr.BaudRate())
	assert.False(t, tr.IsConnected())
	assert.True(t, tr.HasCapability(uhf.CapabilitySettableBaud))

	err := tr.Send([]byte{0xFF}, time.Second)
	require.ErrorIs(t, err, uhf.ErrTransportClosed)
	_, err = tr.Receive(1, time.Millisecond)
	require.ErrorIs(t, err, uhf.ErrTransportClosed)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	tr, mode := openFake(t, port)
	assert.True(t, tr.IsConnected())
	assert.Equal(t, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, mode)

	// already open
	require.NoError(t, tr.Open())
}

func TestOpen_Error(t *testing.T) {
	t.Parallel()

	boom := errors.New("no such file")
	tr := New("/dev/missing", 115200).WithOpenFunc(func(string, *serial.Mode) (serial.Port, error) {
		return nil, boom
	})
	err := tr.Open()
	require.ErrorIs(t, err, boom)
	assert.False(t, tr.IsConnected())
	assert.True(t, uhf.IsRetryable(err))
}

func TestSend(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	tr, _ := openFake(t, port)
	require.NoError(t, tr.Send([]byte{0xFF, 0x00, 0x03, 0x1D, 0x0C}, time.Second))
	assert.Equal(t, []byte{0xFF, 0x00, 0x03, 0x1D, 0x0C}, port.tx)
}

func TestReceive_GathersChunks(t *testing.T) {
	t.Parallel()

	port := &fakePort{rx: []byte{1, 2, 3, 4, 5, 6}, chunk: 2}
	tr, _ := openFake(t, port)

	got, err := tr.Receive(5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, got)
	assert.Equal(t, []byte{6}, port.rx)
	for _, timeout := range port.timeouts {
		assert.LessOrEqual(t, timeout, readSlice)
	}
}

func TestReceive_Timeout(t *testing.T) {
	t.Parallel()

	port := &fakePort{rx: []byte{1}}
	tr, _ := openFake(t, port)

	start := time.Now()
	_, err := tr.Receive(2, 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, uhf.IsTimeout(err))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestReceive_ReadError(t *testing.T) {
	t.Parallel()

	port := &fakePort{readErr: errors.New("input/output error")}
	tr, _ := openFake(t, port)

	_, err := tr.Receive(1, time.Second)
	require.ErrorIs(t, err, uhf.ErrTransportRead)
	assert.False(t, uhf.IsTimeout(err))
}

func TestSetBaudRate(t *testing.T) {
	t.Parallel()

	var opened *serial.Mode
	port := &fakePort{}
	tr := New("/dev/ttyUSB0", 115200).WithOpenFunc(func(_ string, mode *serial.Mode) (serial.Port, error) {
		opened = mode
		return port, nil
	})

	require.NoError(t, tr.SetBaudRate(9600))
	require.NoError(t, tr.Open())
	assert.Equal(t, 9600, opened.BaudRate)
	assert.Nil(t, port.mode)

	require.NoError(t, tr.SetBaudRate(921600))
	assert.Equal(t, 921600, tr.BaudRate())
	require.NotNil(t, port.mode)
	assert.Equal(t, 921600, port.mode.BaudRate)
}

func TestFlushAndClose(t *testing.T) {
	t.Parallel()

	port := &fakePort{rx: []byte{0xFF, 0xFF}}
	tr, _ := openFake(t, port)

	require.NoError(t, tr.Flush())
	assert.Equal(t, 1, port.inputResets)
	assert.Empty(t, port.rx)

	require.NoError(t, tr.Close())
	assert.True(t, port.closed)
	assert.False(t, tr.IsConnected())
	require.NoError(t, tr.Close())
	require.ErrorIs(t, tr.Flush(), uhf.ErrTransportClosed)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uhf.ErrorTypeTransient, classify(errors.New("resource temporarily unavailable")))
	_, ok := portErrorCode(errors.New("plain"))
	assert.False(t, ok)
}
