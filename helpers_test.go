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
	"context"
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-uhf/internal/testing"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

// newTestModule returns a mock module answering the commands every
// connect and read issues.
func newTestModule(hardware byte) *MockTransport {
	m := NewMockTransport()
	m.RespondStatus(cmdVersion, 0, testutil.BuildVersionPayload(hardware))
	m.RespondStatus(cmdGetPowerMode, 0, []byte{0x00})
	m.RespondStatus(cmdSetTagProtocol, 0, nil)
	m.RespondStatus(cmdSetAntennaPort, 0, nil)
	m.RespondStatus(cmdClearTagBuffer, 0, nil)
	return m
}

// testConfig keeps failure paths fast
func testConfig() *Config {
	cfg := DefaultConfig()
	_ = cfg.SetTransportTimeout(50 * time.Millisecond)
	cfg.SetRestartInterval(time.Millisecond)
	return cfg
}

func newConnectedDevice(t *testing.T, m *MockTransport, opts ...Option) *Device {
	t.Helper()
	opts = append([]Option{WithConfig(testConfig())}, opts...)
	d, err := New(m, opts...)
	require.NoError(t, err)
	require.NoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// streamModule answers continuous start and stop requests. onStart returns
// the frames sent after the start ack, numbered from zero.
func streamModule(m *MockTransport, onStart func(n int) [][]byte) {
	starts := 0
	m.Respond(cmdMultiProtocolTagOp, func(req MockRequest) [][]byte {
		switch req.Payload[2] {
		case continuousStart:
			frames := [][]byte{MockFrame(cmdMultiProtocolTagOp, 0, testutil.BuildStartAckPayload())}
			frames = append(frames, onStart(starts)...)
			starts++
			return frames
		case continuousStop:
			return [][]byte{MockFrame(cmdMultiProtocolTagOp, 0, testutil.BuildStopAckPayload())}
		default:
			return nil
		}
	})
}

func tagFrame(meta uint16, tag *testutil.VirtualTag) []byte {
	return MockFrame(cmdReadTagMultiple, 0, testutil.BuildStreamTagPayload(meta, tag))
}

func waitTag(t *testing.T, ch <-chan TagReadRecord) TagReadRecord {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(testWait):
		t.Fatal("timed out waiting for tag")
		return TagReadRecord{}
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testWait):
		t.Fatal("timed out waiting for session to end")
		return nil
	}
}
