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
	"errors"
	"sync"
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-uhf/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamMeta = testutil.MetaRSSI | testutil.MetaAntenna

// startStream runs StartStreaming in the background and returns its result
func startStream(ctx context.Context, d *Device, h StreamHandler) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.StartStreaming(ctx, h)
	}()
	return errCh
}

func tagSink() (chan TagReadRecord, func(TagReadRecord)) {
	ch := make(chan TagReadRecord, 16)
	return ch, func(r TagReadRecord) { ch <- r }
}

func stopRequests(m *MockTransport) int {
	n := 0
	for _, r := range m.RequestsFor(cmdMultiProtocolTagOp) {
		if len(r.Payload) >= 3 && r.Payload[2] == continuousStop {
			n++
		}
	}
	return n
}

func startRequests(m *MockTransport) []MockRequest {
	var out []MockRequest
	for _, r := range m.RequestsFor(cmdMultiProtocolTagOp) {
		if len(r.Payload) >= 3 && r.Payload[2] == continuousStart {
			out = append(out, r)
		}
	}
	return out
}

func waitStreaming(t *testing.T, d *Device) {
	t.Helper()
	require.Eventually(t, func() bool {
		return d.Session().State == StateStreaming
	}, testWait, time.Millisecond)
}

func TestStreaming_Lifecycle(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualGen2Tag(testutil.TestEPC1)
	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, func(int) [][]byte {
		return [][]byte{tagFrame(streamMeta, tag)}
	})
	obs := newRecordingObserver()
	d := newConnectedDevice(t, m, WithObserver(obs))

	tags, onTag := tagSink()
	errCh := startStream(context.Background(), d, StreamHandler{OnTag: onTag})

	got := waitTag(t, tags)
	assert.Equal(t, tag.EPCString(), got.EPCString())
	assert.Equal(t, 1, got.Antenna)
	assert.Equal(t, -55, got.RSSI)
	assert.Equal(t, ProtocolGen2, got.Protocol)

	require.NoError(t, d.StopStreaming(context.Background()))
	require.NoError(t, waitErr(t, errCh))

	// A second stop has nothing to do.
	require.NoError(t, d.StopStreaming(context.Background()))
	assert.Equal(t, 1, stopRequests(m))

	// The terminal frame was consumed, so the next command reads its own
	// response instead of a leftover stop ack.
	v, err := d.Version(context.Background())
	var reset *DeviceResetError
	require.False(t, errors.As(err, &reset), "got %v", err)
	require.NoError(t, err)
	assert.Equal(t, ModelM6e, v.Model())

	s := d.Session()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, ReadModeStreaming, s.Mode)
	assert.Equal(t, 1, s.SuccessCount)
	assert.False(t, s.StopRequested)
	assert.Equal(t, 1, obs.tagCount(ReadModeStreaming))

	starts := startRequests(m)
	require.Len(t, starts, 1)
	want := []byte{
		0x00, 0x00, 0x01, // start
		0x01, 0x05, // one protocol: Gen2
		0x22, 0x00, // read multiple
		0x00, 0x01, // search flags
		0x00, 0x7F, // metadata
		0x00, 0x00, // report flags
		0x00, 0xFA, // on time
	}
	assert.Equal(t, want, starts[0].Payload)
}

func TestStreaming_StopBeforeStartAck(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	release := make(chan struct{})
	m.Respond(cmdMultiProtocolTagOp, func(req MockRequest) [][]byte {
		switch req.Payload[2] {
		case continuousStart:
			// Hold the ack until the test has asked to stop.
			go func() {
				<-release
				m.Inject(MockFrame(cmdMultiProtocolTagOp, 0, testutil.BuildStartAckPayload()))
			}()
			return nil
		case continuousStop:
			return [][]byte{MockFrame(cmdMultiProtocolTagOp, 0, testutil.BuildStopAckPayload())}
		}
		return nil
	})
	d := newConnectedDevice(t, m)

	errCh := startStream(context.Background(), d, StreamHandler{})
	require.Eventually(t, func() bool {
		return len(startRequests(m)) == 1
	}, testWait, time.Millisecond)
	assert.Equal(t, StateRequested, d.Session().State)

	stopped := make(chan error, 1)
	go func() {
		stopped <- d.StopStreaming(context.Background())
	}()
	require.Eventually(t, func() bool {
		return d.Session().StopRequested
	}, testWait, time.Millisecond)
	assert.Zero(t, stopRequests(m))

	close(release)
	require.NoError(t, waitErr(t, errCh))
	require.NoError(t, waitErr(t, stopped))
	assert.Equal(t, 1, stopRequests(m))
}

func TestStreaming_Heartbeat(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualGen2Tag(testutil.TestEPC2)
	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, func(int) [][]byte {
		return [][]byte{
			MockFrame(cmdReadTagMultiple, testutil.StatusNoTags, nil),
			MockFrame(cmdReadTagMultiple, testutil.StatusNoTags, nil),
			tagFrame(streamMeta, tag),
		}
	})
	d := newConnectedDevice(t, m)

	tags, onTag := tagSink()
	errCh := startStream(context.Background(), d, StreamHandler{OnTag: onTag})

	assert.Equal(t, tag.EPCString(), waitTag(t, tags).EPCString())
	require.NoError(t, d.StopStreaming(context.Background()))
	require.NoError(t, waitErr(t, errCh))
	assert.Zero(t, d.Session().FailureCount)
}

func TestStreaming_AntennaNotice(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualGen2Tag(testutil.TestEPC1)
	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, func(int) [][]byte {
		return [][]byte{
			MockFrame(cmdReadTagMultiple, testutil.StatusNoAntenna, nil),
			tagFrame(streamMeta, tag),
		}
	})
	d := newConnectedDevice(t, m)

	notices := make(chan error, 4)
	tags, onTag := tagSink()
	errCh := startStream(context.Background(), d, StreamHandler{
		OnTag:    onTag,
		OnNotice: func(err error) { notices <- err },
	})

	waitTag(t, tags)
	require.ErrorIs(t, waitErr(t, notices), ErrNoAntenna)
	require.NoError(t, d.StopStreaming(context.Background()))
	require.NoError(t, waitErr(t, errCh))
}

func TestStreaming_BufferFullRestarts(t *testing.T) {
	t.Parallel()

	dropped := testutil.NewVirtualGen2Tag(testutil.TestEPC1)
	kept := testutil.NewVirtualGen2Tag(testutil.TestEPC2)
	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, func(n int) [][]byte {
		if n == 0 {
			return [][]byte{
				MockFrame(cmdReadTagMultiple, testutil.StatusBufferFull, nil),
				tagFrame(streamMeta, dropped),
			}
		}
		return [][]byte{tagFrame(streamMeta, kept)}
	})
	d := newConnectedDevice(t, m)

	tags, onTag := tagSink()
	errCh := startStream(context.Background(), d, StreamHandler{OnTag: onTag})

	// The frame after the buffer-full fault is drained, not delivered.
	assert.Equal(t, kept.EPCString(), waitTag(t, tags).EPCString())
	require.NoError(t, d.StopStreaming(context.Background()))
	require.NoError(t, waitErr(t, errCh))

	assert.Len(t, startRequests(m), 2)
	assert.Equal(t, 1, stopRequests(m))
	assert.Empty(t, tags)
}

func TestStreaming_Authentication(t *testing.T) {
	t.Parallel()

	tests := []struct {
		handler  func(TagReadRecord) (uint32, error)
		name     string
		want     []byte
		password uint32
	}{
		{
			name:    "password from handler",
			handler: func(TagReadRecord) (uint32, error) { return 0x11223344, nil },
			want:    []byte{0x00, 0x00, 0x03, 0x11, 0x22, 0x33, 0x44},
		},
		{
			name:     "configured password",
			password: 0xCAFEBABE,
			want:     []byte{0x00, 0x00, 0x03, 0xCA, 0xFE, 0xBA, 0xBE},
		},
		{
			name:     "handler error falls back to configured password",
			handler:  func(TagReadRecord) (uint32, error) { return 0, errors.New("unknown tag") },
			password: 0x01020304,
			want:     []byte{0x00, 0x00, 0x03, 0x01, 0x02, 0x03, 0x04},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			asking := testutil.NewVirtualGen2Tag(testutil.TestEPC1)
			next := testutil.NewVirtualGen2Tag(testutil.TestEPC2)
			m := newTestModule(testutil.HardwareM6e)
			streamModule(m, func(int) [][]byte {
				return [][]byte{
					MockFrame(cmdReadTagMultiple, testutil.StatusAuthRequest, testutil.BuildStreamTagPayload(streamMeta, asking)),
					tagFrame(streamMeta, next),
				}
			})
			d := newConnectedDevice(t, m)
			d.Config().SetAccessPassword(tt.password)

			var mu sync.Mutex
			var asked []string
			h := StreamHandler{}
			if tt.handler != nil {
				h.OnAuthRequest = func(r TagReadRecord) (uint32, error) {
					mu.Lock()
					asked = append(asked, r.EPCString())
					mu.Unlock()
					return tt.handler(r)
				}
			}
			tags, onTag := tagSink()
			h.OnTag = onTag
			errCh := startStream(context.Background(), d, h)

			assert.Equal(t, next.EPCString(), waitTag(t, tags).EPCString())
			require.NoError(t, d.StopStreaming(context.Background()))
			require.NoError(t, waitErr(t, errCh))

			var auth []MockRequest
			for _, r := range m.RequestsFor(cmdMultiProtocolTagOp) {
				if r.Payload[2] == continuousAuthResp {
					auth = append(auth, r)
				}
			}
			require.Len(t, auth, 1)
			assert.Equal(t, tt.want, auth[0].Payload)

			if tt.handler != nil {
				mu.Lock()
				defer mu.Unlock()
				assert.Equal(t, []string{asking.EPCString()}, asked)
			}
		})
	}
}

func TestStreaming_ChecksumRetry(t *testing.T) {
	t.Parallel()

	corrupt := func(raw []byte) []byte {
		raw[len(raw)-1] ^= 0xFF
		return raw
	}

	t.Run("single corrupted frame is skipped", func(t *testing.T) {
		t.Parallel()

		tag1 := testutil.NewVirtualGen2Tag(testutil.TestEPC1)
		tag2 := testutil.NewVirtualGen2Tag(testutil.TestEPC2)
		m := newTestModule(testutil.HardwareM6e)
		streamModule(m, func(int) [][]byte {
			return [][]byte{corrupt(tagFrame(streamMeta, tag1)), tagFrame(streamMeta, tag2)}
		})
		d := newConnectedDevice(t, m)

		tags, onTag := tagSink()
		errCh := startStream(context.Background(), d, StreamHandler{OnTag: onTag})

		assert.Equal(t, tag2.EPCString(), waitTag(t, tags).EPCString())
		require.NoError(t, d.StopStreaming(context.Background()))
		require.NoError(t, waitErr(t, errCh))
	})

	t.Run("two corrupted frames end the session", func(t *testing.T) {
		t.Parallel()

		tag := testutil.NewVirtualGen2Tag(testutil.TestEPC1)
		m := newTestModule(testutil.HardwareM6e)
		streamModule(m, func(int) [][]byte {
			return [][]byte{corrupt(tagFrame(streamMeta, tag)), corrupt(tagFrame(streamMeta, tag))}
		})
		d := newConnectedDevice(t, m)

		err := waitErr(t, startStream(context.Background(), d, StreamHandler{}))
		require.ErrorIs(t, err, ErrChecksumMismatch)

		s := d.Session()
		assert.Equal(t, StateIdle, s.State)
		assert.Equal(t, 1, s.FailureCount)
	})
}

func TestStreaming_FatalTimeout(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, func(int) [][]byte { return nil })
	cfg := testConfig()
	require.NoError(t, cfg.SetAsyncOnTime(10*time.Millisecond))
	require.NoError(t, cfg.SetCommandTimeout(50*time.Millisecond))
	d := newConnectedDevice(t, m, WithConfig(cfg))

	err := waitErr(t, startStream(context.Background(), d, StreamHandler{}))
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, StateIdle, d.Session().State)
}

func TestStreaming_FirmwareAssertIsFatal(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, func(int) [][]byte {
		return [][]byte{MockFrame(cmdReadTagMultiple, 0x7F01, testutil.BuildAssertPayload(7, "tmr_gen2.c"))}
	})
	d := newConnectedDevice(t, m)

	err := waitErr(t, startStream(context.Background(), d, StreamHandler{}))
	assert.True(t, IsFatal(err))
}

func TestStreaming_ContextCancel(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, func(int) [][]byte { return nil })
	d := newConnectedDevice(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := startStream(ctx, d, StreamHandler{})
	waitStreaming(t, d)

	cancel()
	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, 1, stopRequests(m))
	assert.Equal(t, StateIdle, d.Session().State)
}

func TestStreaming_Rejections(t *testing.T) {
	t.Parallel()

	t.Run("status and stats listeners conflict", func(t *testing.T) {
		t.Parallel()
		d := newConnectedDevice(t, newTestModule(testutil.HardwareM6e))
		err := d.StartStreaming(context.Background(), StreamHandler{
			OnStatus: func(StatusReport) {},
			OnStats:  func(ReaderStats) {},
		})
		require.ErrorIs(t, err, ErrListenerConflict)
	})

	t.Run("M5e cannot stream", func(t *testing.T) {
		t.Parallel()
		d := newConnectedDevice(t, newTestModule(testutil.HardwareM5e))
		err := d.StartStreaming(context.Background(), StreamHandler{})
		require.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("commands wait for the session", func(t *testing.T) {
		t.Parallel()
		m := newTestModule(testutil.HardwareM6e)
		streamModule(m, func(int) [][]byte { return nil })
		d := newConnectedDevice(t, m)

		errCh := startStream(context.Background(), d, StreamHandler{})
		waitStreaming(t, d)

		_, err := d.Read(context.Background(), 10*time.Millisecond)
		require.ErrorIs(t, err, ErrReadInProgress)
		_, err = d.ExecuteTagOp(context.Background(), ReadData{Bank: BankTID, Words: 2})
		require.ErrorIs(t, err, ErrReadInProgress)
		require.ErrorIs(t, d.StartStreaming(context.Background(), StreamHandler{}), ErrReadInProgress)

		require.NoError(t, d.StopStreaming(context.Background()))
		require.NoError(t, waitErr(t, errCh))
	})
}

func TestStreaming_Reports(t *testing.T) {
	t.Parallel()

	// noise floor, temperature, antenna 2/2
	fields := []byte{0xA6, 0x28, 0x02, 0x02}
	flags := uint16(ReportNoiseFloor | ReportTemperature | ReportAntenna)

	t.Run("stats", func(t *testing.T) {
		t.Parallel()

		m := newTestModule(testutil.HardwareM6e)
		streamModule(m, func(int) [][]byte {
			return [][]byte{MockFrame(cmdReadTagMultiple, 0, testutil.BuildStreamReportPayload(flags, fields))}
		})
		d := newConnectedDevice(t, m)
		d.Config().SetStatsFlags(ReportAll)

		stats := make(chan ReaderStats, 1)
		errCh := startStream(context.Background(), d, StreamHandler{
			OnStats: func(s ReaderStats) { stats <- s },
		})

		select {
		case s := <-stats:
			assert.Equal(t, -90, s.NoiseFloor)
			assert.Equal(t, 40, s.Temperature)
			assert.Equal(t, 2, s.Antenna)
		case <-time.After(testWait):
			t.Fatal("timed out waiting for stats")
		}
		require.NoError(t, d.StopStreaming(context.Background()))
		require.NoError(t, waitErr(t, errCh))

		start := startRequests(m)[0].Payload
		assert.Equal(t, []byte{0x08, 0x01}, start[7:9])
		assert.Equal(t, []byte{0x00, 0x7F}, start[11:13])
	})

	t.Run("status", func(t *testing.T) {
		t.Parallel()

		m := newTestModule(testutil.HardwareM6e)
		streamModule(m, func(int) [][]byte {
			return [][]byte{MockFrame(cmdReadTagMultiple, 0, testutil.BuildStreamReportPayload(flags, fields))}
		})
		d := newConnectedDevice(t, m)
		d.Config().SetStatusFlags(ReportTemperature)

		status := make(chan StatusReport, 1)
		errCh := startStream(context.Background(), d, StreamHandler{
			OnStatus: func(s StatusReport) { status <- s },
		})

		select {
		case s := <-status:
			assert.Equal(t, 40, s.Temperature)
			assert.Equal(t, 2, s.Antenna)
		case <-time.After(testWait):
			t.Fatal("timed out waiting for status")
		}
		require.NoError(t, d.StopStreaming(context.Background()))
		require.NoError(t, waitErr(t, errCh))

		start := startRequests(m)[0].Payload
		assert.Equal(t, []byte{0x04, 0x01}, start[7:9])
		assert.Equal(t, []byte{0x00, 0x08}, start[11:13])
	})
}
