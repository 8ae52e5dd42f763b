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

import (
	"encoding/hex"
	"strings"
)

// Metadata flags as encoded on the wire
const (
	MetaReadCount uint16 = 0x0001
	MetaRSSI      uint16 = 0x0002
	MetaAntenna   uint16 = 0x0004
	MetaFrequency uint16 = 0x0008
	MetaTimestamp uint16 = 0x0010
	MetaPhase     uint16 = 0x0020
	MetaProtocol  uint16 = 0x0040
	MetaData      uint16 = 0x0080
	MetaGPIO      uint16 = 0x0100
)

// Protocol codes as encoded on the wire
const (
	ProtocolISO180006B byte = 0x03
	ProtocolGen2       byte = 0x05
)

// Common test EPCs
var (
	TestEPC1 = []byte{0xE2, 0x00, 0x00, 0x17, 0x22, 0x11, 0x01, 0x44, 0x18, 0x90, 0x4F, 0x3A}
	TestEPC2 = []byte{0x30, 0x08, 0x33, 0xB2, 0xDD, 0xD9, 0x01, 0x40, 0x00, 0x00, 0x00, 0x01}
)

// VirtualTag represents a simulated UHF tag for testing
type VirtualTag struct {
	EPC       []byte
	XPC       []uint16 // Extended PC words; the XI/XEB bits are set from their presence
	Data      []byte   // Embedded op result reported with MetaData
	Timestamp uint32   // Milliseconds since the read base
	Frequency uint32   // kHz
	CRC       uint16
	Phase     uint16
	RSSI      int8
	Antenna   byte // tx<<4 | rx
	ReadCount byte
	Protocol  byte
	GPIO      byte
}

// NewVirtualGen2Tag creates a Gen2 tag seen once on antenna port 1/1
func NewVirtualGen2Tag(epc []byte) *VirtualTag {
	if epc == nil {
		epc = TestEPC1
	}
	tag := &VirtualTag{
		EPC:       epc,
		RSSI:      -55,
		Antenna:   0x11,
		ReadCount: 1,
		Frequency: 915250,
		Protocol:  ProtocolGen2,
	}
	tag.CRC = Gen2CRC(append(tag.PCBytes(), epc...))
	return tag
}

// EPCString returns the EPC as upper-case hex
func (v *VirtualTag) EPCString() string {
	return strings.ToUpper(hex.EncodeToString(v.EPC))
}

// PCBytes returns the PC word followed by the XPC words
func (v *VirtualTag) PCBytes() []byte {
	pc := uint16(len(v.EPC)/2) << 11
	xpc := append([]uint16(nil), v.XPC...)
	if len(xpc) > 0 {
		pc |= 0x0200
	}
	if len(xpc) > 1 {
		xpc[0] |= 0x8000
	}
	out := []byte{byte(pc >> 8), byte(pc)}
	for _, w := range xpc {
		out = append(out, byte(w>>8), byte(w))
	}
	return out
}

// IDBytes returns the id as reported in a record: for Gen2
// PC [XPC] EPC CRC, otherwise EPC CRC.
func (v *VirtualTag) IDBytes() []byte {
	var out []byte
	if v.Protocol == ProtocolGen2 {
		out = append(out, v.PCBytes()...)
	}
	out = append(out, v.EPC...)
	return append(out, byte(v.CRC>>8), byte(v.CRC))
}

// Record encodes the tag as a record carrying the fields selected by meta
func (v *VirtualTag) Record(meta uint16) []byte {
	var out []byte
	if meta&MetaReadCount != 0 {
		out = append(out, v.ReadCount)
	}
	if meta&MetaRSSI != 0 {
		out = append(out, byte(v.RSSI))
	}
	if meta&MetaAntenna != 0 {
		out = append(out, v.Antenna)
	}
	if meta&MetaFrequency != 0 {
		out = append(out, byte(v.Frequency>>16), byte(v.Frequency>>8), byte(v.Frequency))
	}
	if meta&MetaTimestamp != 0 {
		out = append(out, byte(v.Timestamp>>24), byte(v.Timestamp>>16), byte(v.Timestamp>>8), byte(v.Timestamp))
	}
	if meta&MetaPhase != 0 {
		out = append(out, byte(v.Phase>>8), byte(v.Phase))
	}
	if meta&MetaProtocol != 0 {
		out = append(out, v.Protocol)
	}
	if meta&MetaData != 0 {
		bits := len(v.Data) * 8
		out = append(out, byte(bits>>8), byte(bits))
		out = append(out, v.Data...)
	}
	if meta&MetaGPIO != 0 {
		out = append(out, v.GPIO)
	}

	id := v.IDBytes()
	bits := len(id) * 8
	out = append(out, byte(bits>>8), byte(bits))
	return append(out, id...)
}

// Gen2CRC computes the CRC-16 a Gen2 tag backscatters over PC and EPC
func Gen2CRC(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return ^crc
}
