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

package frame

import (
	"errors"
	"fmt"
)

// Frame errors
var (
	ErrPayloadTooLarge = errors.New("frame payload too large")
	ErrNoMarker        = errors.New("no frame marker found")
	ErrBadCRC          = errors.New("frame crc mismatch")
	ErrShort           = errors.New("frame too short")
)

// Header is the fixed-size head of a response frame.
type Header struct {
	Length int
	Status uint16
	Opcode byte
}

// EncodeRequest builds a host-to-module frame:
// marker, length, opcode, payload, crc(2). The CRC covers length..payload.
func EncodeRequest(opcode byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	out := make([]byte, 0, RequestHeaderLen+len(payload)+CRCLen)
	out = append(out, Marker, byte(len(payload)), opcode)
	out = append(out, payload...)
	crc := CRC16(out[1:])
	return append(out, byte(crc>>8), byte(crc)), nil
}

// EncodeResponse builds a module-to-host frame:
// marker, length, opcode, status(2), payload, crc(2).
// Hosts never send these; simulators and tests do.
func EncodeResponse(opcode byte, status uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	out := make([]byte, 0, ResponseHeaderLen+len(payload)+CRCLen)
	out = append(out, Marker, byte(len(payload)), opcode, byte(status>>8), byte(status))
	out = append(out, payload...)
	crc := CRC16(out[1:])
	return append(out, byte(crc>>8), byte(crc)), nil
}

// FindMarker returns the index of the first marker byte within the first
// window bytes of buf, or -1 when there is none.
func FindMarker(buf []byte, window int) int {
	if window > len(buf) {
		window = len(buf)
	}
	for i := 0; i < window; i++ {
		if buf[i] == Marker {
			return i
		}
	}
	return -1
}

// ParseHeader parses a response header. h must start with the marker.
func ParseHeader(h []byte) (Header, error) {
	if len(h) < ResponseHeaderLen {
		return Header{}, ErrShort
	}
	if h[0] != Marker {
		return Header{}, ErrNoMarker
	}
	return Header{
		Length: int(h[1]),
		Opcode: h[2],
		Status: uint16(h[3])<<8 | uint16(h[4]),
	}, nil
}

// VerifyCRC checks the trailing CRC of a complete frame starting at the marker.
func VerifyCRC(frame []byte) error {
	if len(frame) < 1+CRCLen {
		return ErrShort
	}
	body := frame[1 : len(frame)-CRCLen]
	want := uint16(frame[len(frame)-2])<<8 | uint16(frame[len(frame)-1])
	if got := CRC16(body); got != want {
		return fmt.Errorf("%w: got %04x, want %04x", ErrBadCRC, got, want)
	}
	return nil
}

// DecodeRequest decodes a complete request frame held in buf and returns
// its opcode, payload and the number of bytes consumed.
func DecodeRequest(buf []byte) (opcode byte, payload []byte, n int, err error) {
	if len(buf) < RequestHeaderLen+CRCLen {
		return 0, nil, 0, ErrShort
	}
	if buf[0] != Marker {
		return 0, nil, 0, ErrNoMarker
	}
	length := int(buf[1])
	n = RequestHeaderLen + length + CRCLen
	if len(buf) < n {
		return 0, nil, 0, ErrShort
	}
	if err := VerifyCRC(buf[:n]); err != nil {
		return 0, nil, 0, err
	}
	return buf[2], buf[RequestHeaderLen : RequestHeaderLen+length], n, nil
}
