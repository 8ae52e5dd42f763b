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
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-uhf/internal/frame"
	"github.com/rs/zerolog"
)

// wakeChunkSize is the write size used for the wake preamble
const wakeChunkSize = 64

// Response is a decoded response frame
type Response struct {
	Payload []byte
	Status  uint16
	Opcode  byte
}

// Observer receives protocol events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	FrameSent(opcode byte, size int)
	FrameReceived(opcode byte, status uint16, size int)
	CommandCompleted(opcode byte, elapsed time.Duration, err error)
	Resynced(skipped int)
	TagsRead(mode ReadMode, count int)
}

// NopObserver ignores all events
type NopObserver struct{}

func (NopObserver) FrameSent(byte, int)                          {}
func (NopObserver) FrameReceived(byte, uint16, int)              {}
func (NopObserver) CommandCompleted(byte, time.Duration, error) {}
func (NopObserver) Resynced(int)                                 {}
func (NopObserver) TagsRead(ReadMode, int)                       {}

// channel owns the framing and the request/response discipline on top of
// a Transport. One exchange is outstanding at a time; send-only frames
// take just the write lock so they can be issued while another goroutine
// is blocked receiving a stream.
type channel struct {
	transport  Transport
	config     *Config
	observer   Observer
	timing     func() *TimingParams
	log        zerolog.Logger
	port       string
	model      atomic.Int32
	exchangeMu sync.Mutex
	writeMu    sync.Mutex
}

func newChannel(t Transport, cfg *Config, obs Observer, timing func() *TimingParams, log zerolog.Logger) *channel {
	return &channel{
		transport: t,
		config:    cfg,
		observer:  obs,
		timing:    timing,
		log:       log,
		port:      string(t.Type()),
	}
}

func (c *channel) setModel(m Model) {
	c.model.Store(int32(m))
}

func (c *channel) getModel() Model {
	return Model(c.model.Load())
}

// exchange sends a command and waits for its response.
func (c *channel) exchange(ctx context.Context, opcode byte, payload []byte, timeout time.Duration) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	return c.exchangeLocked(opcode, payload, timeout)
}

// exchangeLocked is exchange for callers already holding exchangeMu.
func (c *channel) exchangeLocked(opcode byte, payload []byte, timeout time.Duration) (*Response, error) {
	start := time.Now()
	resp, err := c.transact(opcode, payload, timeout)
	c.observer.CommandCompleted(opcode, time.Since(start), err)
	return resp, err
}

func (c *channel) transact(opcode byte, payload []byte, timeout time.Duration) (*Response, error) {
	if err := c.send(opcode, payload); err != nil {
		return nil, err
	}
	return c.receive(timeout, opcode, false)
}

// send writes one request frame, preceded by the wake preamble when the
// module may be asleep.
func (c *channel) send(opcode byte, payload []byte) error {
	raw, err := frame.EncodeRequest(opcode, payload)
	if err != nil {
		return NewDataTooLargeError("send", c.port)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.wake(); err != nil {
		return err
	}
	if err := c.transport.Send(raw, c.timing().SendTimeout); err != nil {
		return c.wrapTransportErr("send", err)
	}

	c.observer.FrameSent(opcode, len(raw))
	c.log.Debug().Hex("tx", raw).Msg("frame sent")
	return nil
}

// wake writes baud/100 marker bytes, about 100 ms of line time, when the
// power state is unknown or sleep and the model needs it.
func (c *channel) wake() error {
	mode := c.config.PowerMode()
	if mode != PowerModeUnknown && mode != PowerModeSleep {
		return nil
	}
	if !c.getModel().needsWakePreamble() {
		return nil
	}

	n := c.transport.BaudRate() / 100
	if n <= 0 {
		return nil
	}
	chunk := bytes.Repeat([]byte{frame.Marker}, wakeChunkSize)
	sendTimeout := c.timing().SendTimeout
	for n > 0 {
		k := min(n, wakeChunkSize)
		if err := c.transport.Send(chunk[:k], sendTimeout); err != nil {
			return c.wrapTransportErr("wake", err)
		}
		n -= k
	}
	c.log.Debug().Int("baud", c.transport.BaudRate()).Str("power", mode.String()).Msg("sent wake preamble")
	return nil
}

// receive reads one response frame. The wait is bounded by timeout plus
// the transport receive margin. While streaming, the read-multiple
// opcode is accepted as a continuation of the control opcode.
func (c *channel) receive(timeout time.Duration, sent byte, streaming bool) (*Response, error) {
	deadline := time.Now().Add(timeout + c.timing().ReceiveMargin)
	buf := frame.NewBuffer()

	if err := c.fill(buf, frame.ResponseHeaderLen, deadline); err != nil {
		return nil, err
	}
	if head := buf.Bytes(); head[0] != frame.Marker {
		idx := frame.FindMarker(head, frame.ResponseHeaderLen)
		if idx < 0 {
			c.log.Debug().Hex("rx", head).Msg("no frame marker in header")
			return nil, NewFrameCorruptedError("receive", c.port)
		}
		buf.Shift(idx)
		c.observer.Resynced(idx)
		c.log.Debug().Int("skipped", idx).Msg("resynchronised on frame marker")
		if err := c.fill(buf, frame.ResponseHeaderLen-buf.Len(), deadline); err != nil {
			return nil, err
		}
	}

	h, err := frame.ParseHeader(buf.Bytes())
	if err != nil {
		return nil, NewFrameCorruptedError("receive", c.port)
	}
	if h.Length > frame.MaxPayloadLength {
		_ = c.transport.Flush()
		return nil, NewFrameCorruptedError("receive", c.port)
	}
	if err := c.fill(buf, h.Length+frame.CRCLen, deadline); err != nil {
		return nil, err
	}

	raw := buf.Bytes()
	c.log.Debug().Hex("rx", raw).Msg("frame received")
	if err := frame.VerifyCRC(raw); err != nil {
		c.log.Debug().Err(err).Msg("bad frame crc")
		return nil, NewChecksumError("receive", c.port)
	}

	resp := &Response{
		Opcode:  h.Opcode,
		Status:  h.Status,
		Payload: append([]byte(nil), raw[frame.ResponseHeaderLen:frame.ResponseHeaderLen+h.Length]...),
	}
	c.observer.FrameReceived(h.Opcode, h.Status, len(raw))

	if h.Opcode != sent && !(streaming && h.Opcode == cmdReadTagMultiple) {
		return resp, &DeviceResetError{Sent: sent, Received: h.Opcode}
	}
	if err := statusError(h.Opcode, h.Status, resp.Payload); err != nil {
		return resp, err
	}
	return resp, nil
}

// fill appends n bytes from the transport to buf.
func (c *channel) fill(buf *frame.Buffer, n int, deadline time.Time) error {
	if n <= 0 {
		return nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return NewTimeoutError("receive", c.port)
	}
	data, err := c.transport.Receive(n, remaining)
	if err != nil {
		return c.wrapTransportErr("receive", err)
	}
	if _, err := buf.Write(data); err != nil {
		return NewFrameCorruptedError("receive", c.port)
	}
	return nil
}

func (c *channel) wrapTransportErr(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return NewTransportError(op, c.port, err, GetErrorType(err))
}

// statusError converts a non-zero status word into an error.
// 0x7Fxx is a firmware assert carrying line(4) and file name.
func statusError(opcode byte, status uint16, payload []byte) error {
	if status == 0 {
		return nil
	}
	if status&0xFF00 == 0x7F00 {
		fa := &FirmwareAssertError{Status: status}
		if len(payload) >= 4 {
			fa.Line = binary.BigEndian.Uint32(payload)
			fa.File = strings.TrimRight(string(payload[4:]), "\x00")
		}
		return fa
	}
	return &FaultError{Code: FaultCode(status), Opcode: opcode}
}
