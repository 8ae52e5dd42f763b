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
	"sync/atomic"
	"time"

	uhf "github.com/ZaparooProject/go-uhf"
	"github.com/rs/zerolog"
)

// ReadListener receives every tag read produced by background reading
type ReadListener func(uhf.TagReadRecord)

// ExceptionListener receives errors raised by background reading
type ExceptionListener func(error)

// StatusListener receives status reports while streaming
type StatusListener func(uhf.StatusReport)

// StatsListener receives statistics reports while streaming
type StatsListener func(uhf.ReaderStats)

// AuthHandler returns the access password for a tag that requested
// authentication during a streaming session
type AuthHandler func(uhf.TagReadRecord) (uint32, error)

// Config holds options for the background reader
type Config struct {
	// RetryBackoff is the pause before a failed read cycle or session is
	// started again
	RetryBackoff time.Duration

	// MaxRetries is the number of consecutive failures after which
	// background reading gives up. Zero retries forever.
	MaxRetries int
}

// DefaultConfig returns the default background reader options
func DefaultConfig() *Config {
	return &Config{
		RetryBackoff: 100 * time.Millisecond,
		MaxRetries:   3,
	}
}

// ErrTooManyFailures ends background reading after MaxRetries consecutive
// failed cycles
var ErrTooManyFailures = errors.New("background reading failed too many times")

// Reader runs reading in the background and delivers results to
// listeners. Background reading streams when the module and read plan
// allow it and otherwise repeats buffered reads of the configured async
// on-time, pausing for the off-time between them.
type Reader struct {
	device      *uhf.Device
	config      *Config
	log         zerolog.Logger
	listeners   listeners
	cancelFunc  context.CancelFunc
	done        chan struct{}
	err         error
	counters    counters
	stopMutex   sync.Mutex
	listenersMu sync.RWMutex
	running     atomic.Bool
	closed      atomic.Bool
}

type listeners struct {
	auth       AuthHandler
	reads      []ReadListener
	exceptions []ExceptionListener
	status     []StatusListener
	stats      []StatsListener
}

// NewReader creates a background reader for a connected device
func NewReader(device *uhf.Device, config *Config) (*Reader, error) {
	if device == nil {
		return nil, errors.New("device cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.RetryBackoff < 0 || config.MaxRetries < 0 {
		return nil, uhf.ErrInvalidParameter
	}

	return &Reader{
		device: device,
		config: config,
		log:    device.Logger().With().Str("component", "reader").Logger(),
	}, nil
}

// Device returns the underlying device
func (r *Reader) Device() *uhf.Device {
	return r.device
}

// AddReadListener registers a listener for tag reads
func (r *Reader) AddReadListener(l ReadListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners.reads = append(r.listeners.reads, l)
}

// AddExceptionListener registers a listener for background errors
func (r *Reader) AddExceptionListener(l ExceptionListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners.exceptions = append(r.listeners.exceptions, l)
}

// AddStatusListener registers a listener for status reports. It fails with
// ErrListenerConflict when a stats listener is registered. Report
// listeners added while a session runs take effect from the next session.
func (r *Reader) AddStatusListener(l StatusListener) error {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	if len(r.listeners.stats) > 0 {
		return uhf.ErrListenerConflict
	}
	r.listeners.status = append(r.listeners.status, l)
	return nil
}

// AddStatsListener registers a listener for statistics reports. It fails
// with ErrListenerConflict when a status listener is registered.
func (r *Reader) AddStatsListener(l StatsListener) error {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	if len(r.listeners.status) > 0 {
		return uhf.ErrListenerConflict
	}
	r.listeners.stats = append(r.listeners.stats, l)
	return nil
}

// SetAuthHandler sets the handler answering tag authentication requests.
// Without one the configured access password is sent.
func (r *Reader) SetAuthHandler(h AuthHandler) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners.auth = h
}

func (r *Reader) snapshotListeners() listeners {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	return listeners{
		auth:       r.listeners.auth,
		reads:      append([]ReadListener(nil), r.listeners.reads...),
		exceptions: append([]ExceptionListener(nil), r.listeners.exceptions...),
		status:     append([]StatusListener(nil), r.listeners.status...),
		stats:      append([]StatsListener(nil), r.listeners.stats...),
	}
}

// StartReading begins background reading (non-blocking). It fails with
// ErrReadInProgress when reading is already running.
func (r *Reader) StartReading(ctx context.Context) error {
	if r.closed.Load() {
		return uhf.ErrReaderClosed
	}
	if !r.running.CompareAndSwap(false, true) {
		return uhf.ErrReadInProgress
	}

	readCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.stopMutex.Lock()
	if r.cancelFunc != nil {
		// previous loop ended on its own
		r.cancelFunc()
	}
	r.cancelFunc = cancel
	r.done = done
	r.err = nil
	r.stopMutex.Unlock()

	n := newNotifiers(r.log, r.snapshotListeners)
	n.start()

	go func() {
		defer close(done)
		defer r.running.Store(false)
		defer n.stop()

		if err := r.readLoop(readCtx, n); err != nil && readCtx.Err() == nil {
			r.log.Error().Err(err).Msg("background reading stopped")
			r.stopMutex.Lock()
			r.err = err
			r.stopMutex.Unlock()
		}
	}()

	return nil
}

// StopReading stops background reading and blocks until the reader loop
// and both notifiers have finished. Calling it when reading is not running
// does nothing.
func (r *Reader) StopReading() {
	r.stopMutex.Lock()
	cancelFunc := r.cancelFunc
	done := r.done
	r.cancelFunc = nil
	r.done = nil
	r.stopMutex.Unlock()

	if cancelFunc == nil {
		return
	}
	cancelFunc()
	<-done
}

// Done returns a channel that is closed when background reading ends,
// whether it was stopped or failed. Without a running reader the channel
// is already closed.
func (r *Reader) Done() <-chan struct{} {
	r.stopMutex.Lock()
	defer r.stopMutex.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Err returns the error that ended the last background reading on its
// own. It is nil while reading runs and when reading was stopped.
func (r *Reader) Err() error {
	r.stopMutex.Lock()
	defer r.stopMutex.Unlock()
	return r.err
}

// IsReading returns whether background reading is active
func (r *Reader) IsReading() bool {
	return r.running.Load()
}

// Read runs a single synchronous read. It fails with ErrReadInProgress
// while background reading runs.
func (r *Reader) Read(ctx context.Context, d time.Duration) ([]uhf.TagReadRecord, error) {
	if r.closed.Load() {
		return nil, uhf.ErrReaderClosed
	}
	if r.running.Load() {
		return nil, uhf.ErrReadInProgress
	}
	return r.device.Read(ctx, d)
}

// Stats returns the background reading counters
func (r *Reader) Stats() Stats {
	return r.counters.snapshot()
}

// Close stops background reading and closes the device
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.StopReading()
	return r.device.Close()
}
