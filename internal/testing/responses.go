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

package testing

// Opcodes used by the builders
const (
	OpVersion          byte = 0x03
	OpSetBaudRate      byte = 0x06
	OpReadTagMultiple  byte = 0x22
	OpReadTagData      byte = 0x28
	OpGetTagBuffer     byte = 0x29
	OpClearTagBuffer   byte = 0x2A
	OpMultiProtocol    byte = 0x2F
	OpGetPowerMode     byte = 0x68
	OpGetTemperature   byte = 0x72
	OpSetAntennaPort   byte = 0x91
	OpSetTagProtocol   byte = 0x93
	OpSetReadTxPower   byte = 0x92
	OpSetRegion        byte = 0x97
	OpSetPowerMode     byte = 0x98
	OpTagSpecific      byte = 0x2D
	OpWriteTagEPC      byte = 0x23
	OpLockTag          byte = 0x25
	OpKillTag          byte = 0x26
	OpWriteTagData     byte = 0x24
	StatusNoTags       uint16 = 0x0400
	StatusBufferFull   uint16 = 0x0601
	StatusAuthRequest  uint16 = 0x0604
	StatusNoAntenna    uint16 = 0x0503
	StatusNotEnoughTag uint16 = 0x0600
	StatusInvalidParam uint16 = 0x0105
)

// Hardware model codes
const (
	HardwareM5e      byte = 0x00
	HardwareM6e      byte = 0x18
	HardwareM6eMicro byte = 0x20
	HardwareM6eNano  byte = 0x30
)

// BuildVersionPayload creates a version response payload for a model
func BuildVersionPayload(hardware byte) []byte {
	return []byte{
		0x12, 0x03, 0x00, 0x00, // bootloader
		hardware, 0x00, 0x00, 0x01, // hardware
		0x20, 0x24, 0x05, 0x17, // firmware date
		0x01, 0x0B, 0x02, 0x00, // firmware version
		0x00, 0x00, 0x00, 0x10, // protocols: Gen2
	}
}

// BuildReadMultiplePayload creates a read multiple response reporting count tags
func BuildReadMultiplePayload(count uint32) []byte {
	return []byte{0x00, 0x00, 0x01, byte(count >> 24), byte(count >> 16), byte(count >> 8), byte(count)}
}

// BuildTagBufferPayload creates a get tag buffer response with records for tags
func BuildTagBufferPayload(meta uint16, tags ...*VirtualTag) []byte {
	out := []byte{byte(meta >> 8), byte(meta), 0x00, byte(len(tags))}
	for _, t := range tags {
		out = append(out, t.Record(meta)...)
	}
	return out
}

// BuildStartAckPayload creates the acknowledgement of a continuous start
func BuildStartAckPayload() []byte {
	return []byte{0x00, 0x00, 0x01}
}

// BuildStopAckPayload creates the terminal frame payload of a continuous session
func BuildStopAckPayload() []byte {
	return []byte{0x00, 0x00, 0x02}
}

// BuildStreamTagPayload creates a streamed tag report
func BuildStreamTagPayload(meta uint16, tag *VirtualTag) []byte {
	out := []byte{0x00, 0x00, 0x01, 0x01, byte(meta >> 8), byte(meta)}
	return append(out, tag.Record(meta)...)
}

// BuildStreamReportPayload creates a streamed status or stats report
func BuildStreamReportPayload(flags uint16, fields []byte) []byte {
	out := []byte{0x00, 0x04, 0x00, 0x02, byte(flags >> 8), byte(flags)}
	return append(out, fields...)
}

// BuildAssertPayload creates the payload of a firmware assert response
func BuildAssertPayload(line uint32, file string) []byte {
	out := []byte{byte(line >> 24), byte(line >> 16), byte(line >> 8), byte(line)}
	return append(out, file...)
}
