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

package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	uhf "github.com/ZaparooProject/go-uhf"
	testutil "github.com/ZaparooProject/go-uhf/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	testWait       = 2 * time.Second
	subStart  byte = 0x01
	subStop   byte = 0x02
	streamMeta     = testutil.MetaRSSI | testutil.MetaAntenna
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestModule(hardware byte) *uhf.MockTransport {
	m := uhf.NewMockTransport()
	m.RespondStatus(testutil.OpVersion, 0, testutil.BuildVersionPayload(hardware))
	m.RespondStatus(testutil.OpGetPowerMode, 0, []byte{0x00})
	m.RespondStatus(testutil.OpSetTagProtocol, 0, nil)
	m.RespondStatus(testutil.OpSetAntennaPort, 0, nil)
	m.RespondStatus(testutil.OpClearTagBuffer, 0, nil)
	return m
}

// streamModule answers continuous start and stop requests; frames follow
// every start ack
func streamModule(m *uhf.MockTransport, frames ...[]byte) {
	m.Respond(testutil.OpMultiProtocol, func(req uhf.MockRequest) [][]byte {
		switch req.Payload[2] {
		case subStart:
			out := [][]byte{uhf.MockFrame(testutil.OpMultiProtocol, 0, testutil.BuildStartAckPayload())}
			return append(out, frames...)
		case subStop:
			return [][]byte{uhf.MockFrame(testutil.OpMultiProtocol, 0, testutil.BuildStopAckPayload())}
		default:
			return nil
		}
	})
}

func stopRequests(m *uhf.MockTransport) int {
	n := 0
	for _, r := range m.RequestsFor(testutil.OpMultiProtocol) {
		if r.Payload[2] == subStop {
			n++
		}
	}
	return n
}

func newTestReader(t *testing.T, m *uhf.MockTransport, offTime time.Duration, cfg *Config) *Reader {
	t.Helper()
	dcfg := uhf.DefaultConfig()
	require.NoError(t, dcfg.SetTransportTimeout(50*time.Millisecond))
	require.NoError(t, dcfg.SetAsyncOffTime(offTime))
	dcfg.SetRestartInterval(time.Millisecond)

	d, err := uhf.New(m, uhf.WithConfig(dcfg))
	require.NoError(t, err)
	require.NoError(t, d.Connect(context.Background()))

	r, err := NewReader(d, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testWait):
		t.Fatal("timed out waiting for listener")
		var zero T
		return zero
	}
}

func TestNewReader(t *testing.T) {
	t.Parallel()

	_, err := NewReader(nil, nil)
	require.Error(t, err)

	m := newTestModule(testutil.HardwareM6e)
	d, err := uhf.New(m)
	require.NoError(t, err)

	r, err := NewReader(d, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), r.config)
	assert.Same(t, d, r.Device())
	assert.False(t, r.IsReading())

	_, err = NewReader(d, &Config{RetryBackoff: -time.Second})
	require.ErrorIs(t, err, uhf.ErrInvalidParameter)
}

func TestReader_Streaming(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualGen2Tag(testutil.TestEPC1)
	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, uhf.MockFrame(testutil.OpReadTagMultiple, 0, testutil.BuildStreamTagPayload(streamMeta, tag)))
	r := newTestReader(t, m, 0, nil)

	tags := make(chan uhf.TagReadRecord, 16)
	r.AddReadListener(func(rec uhf.TagReadRecord) { tags <- rec })

	require.NoError(t, r.StartReading(context.Background()))
	assert.True(t, r.IsReading())

	got := waitFor(t, tags)
	assert.Equal(t, tag.EPCString(), got.EPCString())
	assert.Equal(t, uhf.ReadModeStreaming, r.Device().ReadMode())

	r.StopReading()
	assert.False(t, r.IsReading())
	assert.Equal(t, 1, stopRequests(m))
	assert.Equal(t, uhf.StateIdle, r.Device().Session().State)
	assert.Equal(t, int64(1), r.Stats().Sessions)
	assert.Equal(t, int64(1), r.Stats().Tags)
}

func TestReader_StopReadingIdempotent(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	streamModule(m)
	r := newTestReader(t, m, 0, nil)

	r.StopReading()
	require.NoError(t, r.StartReading(context.Background()))

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.StopReading()
		}()
	}
	wg.Wait()
	r.StopReading()

	assert.False(t, r.IsReading())
	assert.LessOrEqual(t, stopRequests(m), 1)
}

func TestReader_Buffered(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualGen2Tag(testutil.TestEPC2)
	m := newTestModule(testutil.HardwareM6e)
	m.RespondStatus(testutil.OpReadTagMultiple, 0, testutil.BuildReadMultiplePayload(1))
	m.RespondStatus(testutil.OpGetTagBuffer, 0, testutil.BuildTagBufferPayload(streamMeta, tag))
	r := newTestReader(t, m, 10*time.Millisecond, nil)

	tags := make(chan uhf.TagReadRecord, 64)
	r.AddReadListener(func(rec uhf.TagReadRecord) {
		select {
		case tags <- rec:
		default:
		}
	})

	require.NoError(t, r.StartReading(context.Background()))
	got := waitFor(t, tags)
	assert.Equal(t, tag.EPCString(), got.EPCString())
	require.Eventually(t, func() bool { return r.Stats().Cycles >= 2 }, testWait, time.Millisecond)

	r.StopReading()
	assert.Empty(t, m.RequestsFor(testutil.OpMultiProtocol))
	assert.Equal(t, uhf.ReadModeBuffered, r.Device().Session().Mode)
}

func TestReader_Rejections(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	streamModule(m)
	r := newTestReader(t, m, 0, nil)

	require.NoError(t, r.StartReading(context.Background()))
	require.ErrorIs(t, r.StartReading(context.Background()), uhf.ErrReadInProgress)
	_, err := r.Read(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, uhf.ErrReadInProgress)
	r.StopReading()

	require.NoError(t, r.Close())
	require.ErrorIs(t, r.StartReading(context.Background()), uhf.ErrReaderClosed)
	_, err = r.Read(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, uhf.ErrReaderClosed)
	require.NoError(t, r.Close())
}

func TestReader_SynchronousRead(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	m.RespondStatus(testutil.OpReadTagMultiple, testutil.StatusNoTags, nil)
	r := newTestReader(t, m, 0, nil)

	reads, err := r.Read(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, reads)
}

func TestReader_ListenerConflict(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	r := newTestReader(t, m, 0, nil)

	require.NoError(t, r.AddStatusListener(func(uhf.StatusReport) {}))
	require.ErrorIs(t, r.AddStatsListener(func(uhf.ReaderStats) {}), uhf.ErrListenerConflict)

	m2 := newTestModule(testutil.HardwareM6e)
	r2 := newTestReader(t, m2, 0, nil)
	require.NoError(t, r2.AddStatsListener(func(uhf.ReaderStats) {}))
	require.ErrorIs(t, r2.AddStatusListener(func(uhf.StatusReport) {}), uhf.ErrListenerConflict)
}

func TestReader_StatsListener(t *testing.T) {
	t.Parallel()

	fields := []byte{0xA6, 0x28, 0x02, 0x02}
	flags := uint16(uhf.ReportNoiseFloor | uhf.ReportTemperature | uhf.ReportAntenna)
	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, uhf.MockFrame(testutil.OpReadTagMultiple, 0, testutil.BuildStreamReportPayload(flags, fields)))
	r := newTestReader(t, m, 0, nil)
	r.Device().Config().SetStatsFlags(uhf.ReportAll)

	stats := make(chan uhf.ReaderStats, 1)
	require.NoError(t, r.AddStatsListener(func(s uhf.ReaderStats) {
		select {
		case stats <- s:
		default:
		}
	}))

	require.NoError(t, r.StartReading(context.Background()))
	s := waitFor(t, stats)
	r.StopReading()

	assert.Equal(t, -90, s.NoiseFloor)
	assert.Equal(t, 40, s.Temperature)
	assert.Equal(t, 2, s.Antenna)
}

func TestReader_FatalErrorStopsReading(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, uhf.MockFrame(testutil.OpReadTagMultiple, 0x7F01, testutil.BuildAssertPayload(7, "tmr_gen2.c")))
	r := newTestReader(t, m, 0, nil)

	errs := make(chan error, 4)
	r.AddExceptionListener(func(err error) { errs <- err })

	require.NoError(t, r.StartReading(context.Background()))
	err := waitFor(t, errs)
	assert.True(t, uhf.IsFatal(err))

	require.Eventually(t, func() bool { return !r.IsReading() }, testWait, time.Millisecond)
	assert.Equal(t, int64(1), r.Stats().Failures)
	r.StopReading()
}

func startRequests(m *uhf.MockTransport) int {
	n := 0
	for _, r := range m.RequestsFor(testutil.OpMultiProtocol) {
		if r.Payload[2] == subStart {
			n++
		}
	}
	return n
}

func TestReader_StreamingErrorEndsReading(t *testing.T) {
	t.Parallel()

	tests := []struct {
		check  func(t *testing.T, err error)
		name   string
		frames [][]byte
	}{
		{
			name: "timeout",
			check: func(t *testing.T, err error) {
				assert.True(t, uhf.IsTimeout(err), "got %v", err)
			},
		},
		{
			name:   "invalid parameter",
			frames: [][]byte{uhf.MockFrame(testutil.OpReadTagMultiple, testutil.StatusInvalidParam, nil)},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, uhf.ErrInvalidParameter)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := newTestModule(testutil.HardwareM6e)
			streamModule(m, tt.frames...)
			r := newTestReader(t, m, 0, &Config{RetryBackoff: time.Millisecond, MaxRetries: 3})
			require.NoError(t, r.Device().Config().SetAsyncOnTime(20*time.Millisecond))
			require.NoError(t, r.Device().Config().SetCommandTimeout(20*time.Millisecond))

			var mu sync.Mutex
			var got []error
			r.AddExceptionListener(func(err error) {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, err)
			})

			require.NoError(t, r.StartReading(context.Background()))
			select {
			case <-r.Done():
			case <-time.After(testWait):
				t.Fatal("background reading did not end")
			}
			assert.False(t, r.IsReading())

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, got, 1)
			tt.check(t, got[0])
			tt.check(t, r.Err())
			assert.Equal(t, 1, startRequests(m))
			assert.Equal(t, int64(1), r.Stats().Failures)
			assert.Equal(t, int64(1), r.Stats().Sessions)
		})
	}
}

func TestReader_DoneAndErr(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	streamModule(m)
	r := newTestReader(t, m, 0, nil)

	select {
	case <-r.Done():
	default:
		t.Fatal("Done should be closed before reading starts")
	}

	require.NoError(t, r.StartReading(context.Background()))
	done := r.Done()
	select {
	case <-done:
		t.Fatal("Done closed while reading")
	default:
	}

	r.StopReading()
	select {
	case <-done:
	default:
		t.Fatal("Done still open after StopReading")
	}
	assert.NoError(t, r.Err())
}

func TestReader_RetriesThenGivesUp(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	m.RespondStatus(testutil.OpReadTagMultiple, testutil.StatusNoAntenna, nil)
	r := newTestReader(t, m, 10*time.Millisecond, &Config{RetryBackoff: time.Millisecond, MaxRetries: 2})

	var mu sync.Mutex
	var got []error
	r.AddExceptionListener(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, err)
	})

	require.NoError(t, r.StartReading(context.Background()))
	require.Eventually(t, func() bool { return !r.IsReading() }, testWait, time.Millisecond)
	r.StopReading()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 4)
	for _, err := range got[:3] {
		assert.ErrorIs(t, err, uhf.ErrNoAntenna)
	}
	assert.ErrorIs(t, got[3], ErrTooManyFailures)
	assert.Equal(t, int64(3), r.Stats().Failures)
	assert.Len(t, m.RequestsFor(testutil.OpReadTagMultiple), 3)
}

func TestReader_ListenerPanicRecovered(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualGen2Tag(testutil.TestEPC1)
	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, uhf.MockFrame(testutil.OpReadTagMultiple, 0, testutil.BuildStreamTagPayload(streamMeta, tag)))
	r := newTestReader(t, m, 0, nil)

	tags := make(chan uhf.TagReadRecord, 16)
	r.AddReadListener(func(uhf.TagReadRecord) { panic("listener bug") })
	r.AddReadListener(func(rec uhf.TagReadRecord) { tags <- rec })

	require.NoError(t, r.StartReading(context.Background()))
	got := waitFor(t, tags)
	r.StopReading()
	assert.Equal(t, tag.EPCString(), got.EPCString())
}

func TestReader_AuthHandler(t *testing.T) {
	t.Parallel()

	tag := testutil.NewVirtualGen2Tag(testutil.TestEPC1)
	m := newTestModule(testutil.HardwareM6e)
	streamModule(m, uhf.MockFrame(testutil.OpReadTagMultiple, testutil.StatusAuthRequest,
		testutil.BuildStreamTagPayload(streamMeta, tag)))
	r := newTestReader(t, m, 0, nil)

	asked := make(chan uhf.TagReadRecord, 1)
	r.SetAuthHandler(func(rec uhf.TagReadRecord) (uint32, error) {
		select {
		case asked <- rec:
		default:
		}
		return 0x11223344, nil
	})

	require.NoError(t, r.StartReading(context.Background()))
	got := waitFor(t, asked)
	r.StopReading()
	assert.Equal(t, tag.EPCString(), got.EPCString())
}

func TestReader_ContextCancelEndsReading(t *testing.T) {
	t.Parallel()

	m := newTestModule(testutil.HardwareM6e)
	streamModule(m)
	r := newTestReader(t, m, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.StartReading(ctx))
	require.Eventually(t, func() bool {
		return r.Device().Session().State == uhf.StateStreaming
	}, testWait, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !r.IsReading() }, testWait, time.Millisecond)
	r.StopReading()
	assert.Equal(t, 1, stopRequests(m))
	assert.False(t, errors.Is(ctx.Err(), context.DeadlineExceeded))
}
