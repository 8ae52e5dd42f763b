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
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// errSessionRestart ends a stream that must be started again
var errSessionRestart = errors.New("continuous session restart")

// StreamHandler receives the output of a streaming session. Callbacks run
// on the goroutine that called StartStreaming and must not block for long.
type StreamHandler struct {
	OnTag    func(TagReadRecord)
	OnStatus func(StatusReport)
	OnStats  func(ReaderStats)
	// OnAuthRequest returns the access password for a tag that asked to be
	// authenticated. When nil the configured access password is sent.
	OnAuthRequest func(TagReadRecord) (uint32, error)
	// OnNotice receives faults that do not end the session
	OnNotice func(error)
}

func (h *StreamHandler) notice(err error) {
	if h.OnNotice != nil {
		h.OnNotice(err)
	}
}

// continuousEngine tracks the read session state machine:
// Idle -> Requested -> {BufferedPoll | Streaming} -> Stopping -> Idle.
type continuousEngine struct {
	d        *Device
	limiter  *rate.Limiter
	done     chan struct{}
	session  Session
	mu       sync.Mutex
	stopSent bool
}

func newContinuousEngine(d *Device) *continuousEngine {
	return &continuousEngine{
		d:       d,
		limiter: rate.NewLimiter(rate.Every(d.config.RestartInterval()), 1),
		session: Session{State: StateIdle},
	}
}

func (e *continuousEngine) snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *continuousEngine) activeLocked() bool {
	switch e.session.State {
	case StateRequested, StateStreaming, StateStopping:
		return true
	default:
		return false
	}
}

// active reports whether a streaming session owns the module
func (e *continuousEngine) active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked()
}

func (e *continuousEngine) beginPoll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeLocked() {
		return ErrReadInProgress
	}
	e.session.Mode = ReadModeBuffered
	e.session.State = StateBufferedPoll
	return nil
}

// endPoll leaves a streaming session started during the poll untouched.
func (e *continuousEngine) endPoll(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.State != StateBufferedPoll {
		return
	}
	if err != nil {
		e.session.FailureCount++
	} else {
		e.session.SuccessCount++
	}
	e.session.State = StateIdle
}

func (e *continuousEngine) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeLocked() {
		return ErrReadInProgress
	}
	e.session = Session{Mode: ReadModeStreaming, State: StateRequested}
	e.stopSent = false
	e.limiter.SetLimit(rate.Every(e.d.config.RestartInterval()))
	e.done = make(chan struct{})
	return nil
}

func (e *continuousEngine) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.State = StateIdle
	e.session.StopRequested = false
	e.stopSent = false
	if e.done != nil {
		close(e.done)
		e.done = nil
	}
}

func (e *continuousEngine) fail() {
	e.mu.Lock()
	e.session.FailureCount++
	e.mu.Unlock()
}

func (e *continuousEngine) succeed() {
	e.mu.Lock()
	e.session.SuccessCount++
	e.mu.Unlock()
}

// sendStopLocked sends the stop frame once per started session. The drain
// flag is already set when this runs.
func (e *continuousEngine) sendStopLocked() error {
	if e.stopSent {
		return nil
	}
	e.stopSent = true
	e.session.State = StateStopping
	e.d.log.Debug().Msg("stopping continuous reading")
	return e.d.channel.send(cmdMultiProtocolTagOp, []byte{0x00, 0x00, continuousStop})
}

// requestStop sets the drain flag and, if the module is streaming, sends
// the stop frame. It returns a channel closed when the session ends, or
// nil when no session is running.
func (e *continuousEngine) requestStop() (<-chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.activeLocked() {
		return nil, nil
	}
	done := e.done
	e.session.StopRequested = true
	if e.session.State == StateStreaming {
		return done, e.sendStopLocked()
	}
	// Still starting: the session sends the stop once the start is acked.
	return done, nil
}

// stopRequested reports whether the session should not (re)start.
func (e *continuousEngine) stopRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.StopRequested
}

// markStreaming records the start ack, sending a stop that arrived while
// the start was in flight.
func (e *continuousEngine) markStreaming() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.State = StateStreaming
	if e.session.StopRequested {
		return e.sendStopLocked()
	}
	return nil
}

func (e *continuousEngine) markRestart() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.State = StateRequested
	e.stopSent = false
}

// StartStreaming runs a continuous read session on the calling goroutine
// until StopStreaming completes the stop protocol, ctx is cancelled, or a
// session-fatal error occurs. Cancelling ctx stops the module the same way
// StopStreaming does. An orderly stop returns nil.
func (d *Device) StartStreaming(ctx context.Context, h StreamHandler) error {
	if h.OnStatus != nil && h.OnStats != nil {
		return ErrListenerConflict
	}
	plan := d.config.ReadPlan()
	if mode := SelectReadMode(plan, d.config, d.Model()); mode != ReadModeStreaming {
		return fmt.Errorf("%w: streaming with model %s and the current plan", ErrUnsupported, d.Model())
	}
	if err := d.engine.begin(); err != nil {
		return err
	}
	defer d.engine.finish()

	d.channel.exchangeMu.Lock()
	defer d.channel.exchangeMu.Unlock()

	plans := subPlans(plan)
	if err := d.applyAntennas(d.channel.exchangeLocked, plans[0].Antennas, false); err != nil {
		d.engine.fail()
		return err
	}
	if protocols := planProtocols(plan); len(protocols) == 1 {
		if err := d.applyProtocol(d.channel.exchangeLocked, protocols[0], false); err != nil {
			d.engine.fail()
			return err
		}
	}

	return d.engine.run(ctx, plan, h)
}

// StopStreaming stops a running session and waits until the module has
// confirmed the stop. Without a running session it does nothing.
func (d *Device) StopStreaming(ctx context.Context) error {
	done, sendErr := d.engine.requestStop()
	if done == nil {
		return nil
	}
	if sendErr != nil {
		d.log.Warn().Err(sendErr).Msg("failed to send stop frame")
	}

	select {
	case <-done:
		return sendErr
	case <-ctx.Done():
		return fmt.Errorf("waiting for continuous reading to stop: %w", ctx.Err())
	}
}

func (e *continuousEngine) startPayload(plan ReadPlan, h *StreamHandler) []byte {
	cfg := e.d.config
	protocols := planProtocols(plan)

	flags := searchFlags(subPlans(plan)[0])
	var report ReportFlag
	switch {
	case h.OnStatus != nil:
		flags |= searchFlagStatusReport
		report = cfg.StatusFlags()
	case h.OnStats != nil:
		flags |= searchFlagStatsReport
		report = cfg.StatsFlags()
	}

	p := []byte{0x00, 0x00, continuousStart, byte(len(protocols))}
	for _, proto := range protocols {
		p = append(p, byte(proto))
	}
	p = append(p, cmdReadTagMultiple, 0x00)
	p = appendUint16(p, flags)
	p = appendUint16(p, uint16(cfg.Metadata()))
	p = appendUint16(p, uint16(report))
	return appendUint16(p, timeoutMillis(cfg.AsyncOnTime()))
}

func (e *continuousEngine) run(ctx context.Context, plan ReadPlan, h StreamHandler) error {
	d := e.d
	start := e.startPayload(plan, &h)

	// Cancelling ctx runs the stop protocol while the stream is blocked
	// in receive.
	cancelStop := context.AfterFunc(ctx, func() {
		if _, err := e.requestStop(); err != nil {
			d.log.Warn().Err(err).Msg("failed to send stop frame")
		}
	})
	defer cancelStop()

	for {
		if e.stopRequested() {
			return nil
		}
		if _, err := d.channel.exchangeLocked(cmdMultiProtocolTagOp, start, d.config.CommandTimeout()); err != nil {
			e.fail()
			return fmt.Errorf("start continuous reading failed: %w", err)
		}
		if err := e.markStreaming(); err != nil {
			d.log.Warn().Err(err).Msg("failed to send stop frame")
		}
		d.log.Debug().Msg("continuous reading started")

		err := e.stream(plan, &h)
		if !errors.Is(err, errSessionRestart) {
			return err
		}

		e.markRestart()
		if err := e.limiter.Wait(ctx); err != nil {
			if e.stopRequested() {
				return nil
			}
			return err
		}
		d.log.Warn().Msg("restarting continuous reading after tag buffer filled")
	}
}

// stream receives frames until the terminal frame or a fatal error.
func (e *continuousEngine) stream(plan ReadPlan, h *StreamHandler) error {
	d := e.d
	dc := decodeContext{
		base:     time.Now(),
		antennas: d.config.AntennaMap(),
		log:      d.log,
		protocol: planProtocols(plan)[0],
	}
	if antennas := subPlans(plan)[0].Antennas; len(antennas) == 1 {
		dc.antenna = antennas[0]
	}
	wait := d.config.AsyncOnTime() + d.config.CommandTimeout()

	crcRetried := false
	for {
		resp, err := d.channel.receive(wait, cmdMultiProtocolTagOp, true)
		if err == nil {
			crcRetried = false
			if e.dispatch(resp, h, dc) {
				d.log.Debug().Msg("continuous reading stopped")
				return nil
			}
			continue
		}

		if errors.Is(err, ErrChecksumMismatch) && !crcRetried {
			crcRetried = true
			d.log.Warn().Err(err).Msg("discarding corrupted stream frame")
			continue
		}

		var fault *FaultError
		if !errors.As(err, &fault) {
			e.fail()
			d.log.Error().Err(err).Msg("continuous reading failed")
			return err
		}

		switch fault.Code {
		case FaultNoTagsFound:
			// Heartbeat: the module is alive and found nothing this cycle.
		case FaultAntennaNotConnected:
			d.log.Warn().Err(err).Msg("antenna not connected")
			h.notice(err)
		case FaultTagAuthRequest:
			if err := e.authenticate(resp, h, dc); err != nil {
				e.fail()
				return fmt.Errorf("tag authentication response failed: %w", err)
			}
		case FaultTagIDBufferFull:
			d.log.Warn().Msg("module tag buffer full")
			if _, err := d.channel.receive(wait, cmdMultiProtocolTagOp, true); IsFatal(err) {
				e.fail()
				return err
			}
			return errSessionRestart
		default:
			e.fail()
			d.log.Error().Err(err).Msg("continuous reading failed")
			return err
		}
	}
}

// dispatch delivers one streamed frame and reports whether it ended the
// session.
func (e *continuousEngine) dispatch(resp *Response, h *StreamHandler, dc decodeContext) bool {
	payload := resp.Payload
	if resp.Opcode == cmdMultiProtocolTagOp {
		return len(payload) >= 3 && payload[2] == continuousStop
	}

	if len(payload) < 4 {
		h.notice(fmt.Errorf("%w: streamed frame of %d bytes", ErrInvalidResponse, len(payload)))
		return false
	}
	body := payload[4:]

	switch payload[3] {
	case streamTagReport:
		rec, err := decodeStreamedTag(body, dc)
		if err != nil {
			e.d.log.Debug().Err(err).Msg("dropping streamed tag report")
			h.notice(err)
			return false
		}
		e.succeed()
		e.d.observer.TagsRead(ReadModeStreaming, 1)
		if h.OnTag != nil {
			h.OnTag(rec)
		}
	case streamStatusReport:
		stats, err := decodeReport(body, dc.antennas)
		if err != nil {
			h.notice(err)
			return false
		}
		switch {
		case h.OnStats != nil:
			h.OnStats(*stats)
		case h.OnStatus != nil:
			h.OnStatus(stats.Status())
		}
	default:
		e.d.log.Debug().Uint8("type", payload[3]).Msg("ignoring unknown streamed response type")
	}
	return false
}

// authenticate answers a tag authentication request with a password from
// the handler or the configuration.
func (e *continuousEngine) authenticate(resp *Response, h *StreamHandler, dc decodeContext) error {
	var tag TagReadRecord
	if resp != nil && len(resp.Payload) > 4 {
		if rec, err := decodeStreamedTag(resp.Payload[4:], dc); err == nil {
			tag = rec
		}
	}

	password := e.d.config.AccessPassword()
	if h.OnAuthRequest != nil {
		pw, err := h.OnAuthRequest(tag)
		if err != nil {
			h.notice(fmt.Errorf("authentication handler: %w", err))
		} else {
			password = pw
		}
	}

	payload := appendUint32([]byte{0x00, 0x00, continuousAuthResp}, password)
	return e.d.channel.send(cmdMultiProtocolTagOp, payload)
}
