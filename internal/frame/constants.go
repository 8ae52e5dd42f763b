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

// Package frame provides frame encoding, decoding and the CRC used by the
// embedded module serial protocol.
package frame

// Frame markers
const (
	Marker = 0xFF // Start of every request and response frame
)

// Frame size limits
const (
	BufferSize        = 256                                    // Size of a message buffer
	RequestHeaderLen  = 3                                      // marker + length + opcode
	ResponseHeaderLen = 5                                      // marker + length + opcode + status(2)
	CRCLen            = 2                                      // Trailing CRC16
	MaxPayloadLength  = BufferSize - ResponseHeaderLen - CRCLen // 249
)
