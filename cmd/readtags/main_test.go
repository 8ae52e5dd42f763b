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

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	uhf "github.com/ZaparooProject/go-uhf"
	"github.com/ZaparooProject/go-uhf/internal/config"
	testutil "github.com/ZaparooProject/go-uhf/internal/testing"
	"github.com/ZaparooProject/go-uhf/polling"
	"github.com/ZaparooProject/go-uhf/transport/tcp"
	"github.com/ZaparooProject/go-uhf/transport/uart"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlags_Apply(t *testing.T) {
	t.Parallel()

	f, err := parseFlags([]string{
		"-device", "/dev/ttyUSB1", "-baud", "921600", "-metrics", ":9999",
		"-debug", "-log-file", "/tmp/readtags.log", "-stream", "-duration", "3s",
	})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Logging.Level = "info"
	f.apply(cfg)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Device.Port)
	assert.Equal(t, 921600, cfg.Device.BaudRate)
	assert.True(t, cfg.Metrics.Enable)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/readtags.log", cfg.Logging.File.Filename)
	assert.True(t, *f.stream)
	assert.Equal(t, 3*time.Second, *f.duration)
}

func TestFlags_ApplyKeepsConfig(t *testing.T) {
	t.Parallel()

	f, err := parseFlags(nil)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Device.Port = "/dev/ttyACM0"
	cfg.Device.BaudRate = 115200
	cfg.Logging.Level = "warn"
	f.apply(cfg)

	assert.Equal(t, "/dev/ttyACM0", cfg.Device.Port)
	assert.Equal(t, 115200, cfg.Device.BaudRate)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enable)
}

func TestParseFlags_Invalid(t *testing.T) {
	t.Parallel()

	_, err := parseFlags([]string{"-baud", "fast"})
	require.Error(t, err)
}

func TestNewTransport(t *testing.T) {
	t.Parallel()

	tr, err := newTransport(config.DeviceConfig{Port: "/dev/ttyUSB0", BaudRate: 115200})
	require.NoError(t, err)
	assert.IsType(t, &uart.Transport{}, tr)
	assert.Equal(t, uhf.TransportUART, tr.Type())

	tr, err = newTransport(config.DeviceConfig{Port: "/dev/ttyUSB0", TCP: "127.0.0.1:4001"})
	require.NoError(t, err)
	assert.IsType(t, &tcp.Transport{}, tr)

	_, err = newTransport(config.DeviceConfig{})
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, closer, err := newLogger(config.LoggingConfig{Level: "warn"}, &buf)
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	_, _, err = newLogger(config.LoggingConfig{Level: "loud"}, &buf)
	require.Error(t, err)
}

func TestNewLogger_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "readtags.log")
	var buf bytes.Buffer
	log, closer, err := newLogger(config.LoggingConfig{
		Level: "info",
		File:  config.LumberjackConfig{Filename: path, MaxSizeMB: 1},
	}, &buf)
	require.NoError(t, err)

	log.Info().Str("epc", "E200").Msg("tag")
	require.NoError(t, closer.Close())

	assert.Contains(t, buf.String(), "tag")
	assert.FileExists(t, path)
}

func TestPrintTag(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printTag(&buf, uhf.TagReadRecord{
		EPC:       []byte{0xE2, 0x00, 0x12, 0x34},
		Antenna:   2,
		RSSI:      -60,
		ReadCount: 3,
		Protocol:  uhf.ProtocolGen2,
		Timestamp: time.Now(),
	})
	out := buf.String()
	assert.Contains(t, out, "epc=E2001234")
	assert.Contains(t, out, "ant=2")
	assert.Contains(t, out, "rssi=-60")
	assert.Contains(t, out, "reads=3")
}

// newStreamingReader connects a reader to a scripted module that acks
// continuous start and stop requests and sends frames after each start
func newStreamingReader(t *testing.T, frames ...[]byte) *polling.Reader {
	t.Helper()

	m := uhf.NewMockTransport()
	m.RespondStatus(testutil.OpVersion, 0, testutil.BuildVersionPayload(testutil.HardwareM6e))
	m.RespondStatus(testutil.OpGetPowerMode, 0, []byte{0x00})
	m.RespondStatus(testutil.OpSetTagProtocol, 0, nil)
	m.RespondStatus(testutil.OpSetAntennaPort, 0, nil)
	m.Respond(testutil.OpMultiProtocol, func(req uhf.MockRequest) [][]byte {
		switch req.Payload[2] {
		case 0x01:
			out := [][]byte{uhf.MockFrame(testutil.OpMultiProtocol, 0, testutil.BuildStartAckPayload())}
			return append(out, frames...)
		case 0x02:
			return [][]byte{uhf.MockFrame(testutil.OpMultiProtocol, 0, testutil.BuildStopAckPayload())}
		default:
			return nil
		}
	})

	cfg := uhf.DefaultConfig()
	require.NoError(t, cfg.SetTransportTimeout(50*time.Millisecond))
	device, err := uhf.New(m, uhf.WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, device.Connect(context.Background()))

	reader, err := polling.NewReader(device, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })
	return reader
}

func TestReaderActor_EndsWhenReadingFails(t *testing.T) {
	t.Parallel()

	reader := newStreamingReader(t, uhf.MockFrame(testutil.OpReadTagMultiple, testutil.StatusInvalidParam, nil))
	execute, interrupt := readerActor(reader)

	result := make(chan error, 1)
	go func() { result <- execute() }()

	select {
	case err := <-result:
		require.ErrorIs(t, err, uhf.ErrInvalidParameter)
	case <-time.After(2 * time.Second):
		t.Fatal("actor kept running after reading stopped")
	}
	interrupt(nil)
	assert.False(t, reader.IsReading())
}

func TestReaderActor_Interrupt(t *testing.T) {
	t.Parallel()

	reader := newStreamingReader(t)
	execute, interrupt := readerActor(reader)

	result := make(chan error, 1)
	go func() { result <- execute() }()
	require.Eventually(t, func() bool {
		return reader.Device().Session().State == uhf.StateStreaming
	}, 2*time.Second, time.Millisecond)

	interrupt(nil)
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not return after interrupt")
	}
	assert.False(t, reader.IsReading())
}
