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
	"fmt"
	"time"
)

// MemoryBank is a Gen2 memory bank
type MemoryBank byte

// Gen2 memory banks
const (
	BankReserved MemoryBank = 0x00
	BankEPC      MemoryBank = 0x01
	BankTID      MemoryBank = 0x02
	BankUser     MemoryBank = 0x03
)

// TagOp is an operation executed on a singulated tag. It is one of
// ReadData, WriteData, WriteEPC, Lock, Kill or CustomOp.
type TagOp interface {
	tagOp()
}

// ReadData reads words from a memory bank. Zero Words reads the whole bank.
type ReadData struct {
	WordAddress uint32
	Bank        MemoryBank
	Words       uint8
}

// WriteData writes Data, an even number of bytes, at WordAddress
type WriteData struct {
	Data        []byte
	WordAddress uint32
	Bank        MemoryBank
}

// WriteEPC replaces the EPC of the tag
type WriteEPC struct {
	EPC []byte
}

// Lock applies a Gen2 lock mask and action
type Lock struct {
	Mask   uint16
	Action uint16
}

// Kill permanently disables the tag
type Kill struct {
	Password uint32
}

// CustomOp sends a payload produced by Build under Opcode. A positive
// ResponseLen requires the response payload to have exactly that length.
type CustomOp struct {
	Build       func() ([]byte, error)
	Opcode      byte
	ResponseLen int
}

func (ReadData) tagOp()  {}
func (WriteData) tagOp() {}
func (WriteEPC) tagOp()  {}
func (Lock) tagOp()      {}
func (Kill) tagOp()      {}
func (CustomOp) tagOp()  {}

func timeoutMillis(timeout time.Duration) uint16 {
	ms := timeout.Milliseconds()
	switch {
	case ms < 0:
		return 0
	case ms > 0xFFFF:
		return 0xFFFF
	default:
		return uint16(ms)
	}
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// buildTagOp maps op to its opcode and payload.
func buildTagOp(op TagOp, timeout time.Duration, password uint32) (byte, []byte, error) {
	ms := timeoutMillis(timeout)

	switch o := op.(type) {
	case ReadData:
		p := appendUint16(nil, ms)
		p = append(p, byte(o.Bank))
		p = appendUint32(p, o.WordAddress)
		p = append(p, o.Words)
		if password != 0 {
			p = appendUint32(p, password)
		}
		return cmdReadTagData, p, nil

	case WriteData:
		if len(o.Data) == 0 || len(o.Data)%2 != 0 {
			return 0, nil, fmt.Errorf("%w: write data must be whole words, got %d bytes", ErrInvalidParameter, len(o.Data))
		}
		p := appendUint16(nil, ms)
		p = append(p, 0x00)
		p = appendUint32(p, o.WordAddress)
		p = append(p, byte(o.Bank))
		return cmdWriteTagData, append(p, o.Data...), nil

	case WriteEPC:
		if len(o.EPC) == 0 || len(o.EPC)%2 != 0 {
			return 0, nil, fmt.Errorf("%w: EPC must be whole words, got %d bytes", ErrInvalidParameter, len(o.EPC))
		}
		p := appendUint16(nil, ms)
		p = append(p, 0x00)
		return cmdWriteTagEPC, append(p, o.EPC...), nil

	case Lock:
		p := appendUint16(nil, ms)
		p = append(p, 0x00)
		p = appendUint32(p, password)
		p = appendUint16(p, o.Mask)
		return cmdLockTag, appendUint16(p, o.Action), nil

	case Kill:
		p := appendUint16(nil, ms)
		p = append(p, 0x00)
		p = appendUint32(p, o.Password)
		return cmdKillTag, append(p, 0x00), nil

	case CustomOp:
		if o.Build == nil {
			return 0, nil, fmt.Errorf("%w: custom op without builder", ErrInvalidParameter)
		}
		p, err := o.Build()
		if err != nil {
			return 0, nil, fmt.Errorf("custom op build failed: %w", err)
		}
		opcode := o.Opcode
		if opcode == 0 {
			opcode = cmdTagSpecific
		}
		return opcode, p, nil

	default:
		return 0, nil, fmt.Errorf("%w: unsupported tag op %T", ErrInvalidParameter, op)
	}
}

// embeddedTagOp builds the block appended to a read-multiple command:
// count(1)=1 | len(1) | opcode(1) | payload.
func embeddedTagOp(op TagOp, timeout time.Duration, password uint32) ([]byte, error) {
	opcode, payload, err := buildTagOp(op, timeout, password)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0xFF {
		return nil, fmt.Errorf("%w: embedded op payload of %d bytes", ErrDataTooLarge, len(payload))
	}
	block := make([]byte, 0, 3+len(payload))
	block = append(block, 0x01, byte(len(payload)), opcode)
	return append(block, payload...), nil
}

func parseTagOpResult(op TagOp, payload []byte) ([]byte, error) {
	switch o := op.(type) {
	case ReadData:
		if o.Words > 0 && len(payload) != int(o.Words)*2 {
			return nil, fmt.Errorf("%w: read %d bytes, want %d", ErrInvalidResponse, len(payload), int(o.Words)*2)
		}
	case CustomOp:
		if o.ResponseLen > 0 && len(payload) != o.ResponseLen {
			return nil, fmt.Errorf("%w: custom op returned %d bytes, want %d", ErrInvalidResponse, len(payload), o.ResponseLen)
		}
	}
	return payload, nil
}

// ExecuteTagOp runs op on the first tag singulated on the current antenna
// and protocol and returns the response payload.
func (d *Device) ExecuteTagOp(ctx context.Context, op TagOp) ([]byte, error) {
	if d.engine.active() {
		return nil, ErrReadInProgress
	}
	timeout := d.config.CommandTimeout()
	opcode, payload, err := buildTagOp(op, timeout, d.config.AccessPassword())
	if err != nil {
		return nil, err
	}
	resp, err := d.channel.exchange(ctx, opcode, payload, timeout)
	if err != nil {
		return nil, fmt.Errorf("tag op 0x%02X failed: %w", opcode, err)
	}
	return parseTagOpResult(op, resp.Payload)
}
