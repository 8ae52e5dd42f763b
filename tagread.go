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
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TagProtocol is the air protocol code used by the module
type TagProtocol byte

// Air protocols
const (
	ProtocolNone         TagProtocol = 0x00
	ProtocolISO180006B   TagProtocol = 0x03
	ProtocolGen2         TagProtocol = 0x05
	ProtocolISO180006BUC TagProtocol = 0x06
	ProtocolIPX64        TagProtocol = 0x07
	ProtocolIPX256       TagProtocol = 0x08
	ProtocolATA          TagProtocol = 0x1D
)

func (p TagProtocol) String() string {
	switch p {
	case ProtocolGen2:
		return "GEN2"
	case ProtocolISO180006B:
		return "ISO180006B"
	case ProtocolISO180006BUC:
		return "ISO180006B_UCODE"
	case ProtocolIPX64:
		return "IPX64"
	case ProtocolIPX256:
		return "IPX256"
	case ProtocolATA:
		return "ATA"
	case ProtocolNone:
		return "NONE"
	default:
		return fmt.Sprintf("PROTOCOL(0x%02X)", byte(p))
	}
}

// ParseTagProtocol parses a protocol name as printed by String.
func ParseTagProtocol(s string) (TagProtocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GEN2", "EPC1G2", "":
		return ProtocolGen2, nil
	case "ISO180006B", "ISO18000-6B":
		return ProtocolISO180006B, nil
	case "ISO180006B_UCODE":
		return ProtocolISO180006BUC, nil
	case "IPX64":
		return ProtocolIPX64, nil
	case "IPX256":
		return ProtocolIPX256, nil
	case "ATA":
		return ProtocolATA, nil
	default:
		return ProtocolNone, fmt.Errorf("%w: unknown protocol %q", ErrInvalidParameter, s)
	}
}

// MetadataFlag selects the per-record fields reported by the module
type MetadataFlag uint16

// Metadata fields, in the order they appear in a record
const (
	MetadataReadCount MetadataFlag = 0x0001
	MetadataRSSI      MetadataFlag = 0x0002
	MetadataAntenna   MetadataFlag = 0x0004
	MetadataFrequency MetadataFlag = 0x0008
	MetadataTimestamp MetadataFlag = 0x0010
	MetadataPhase     MetadataFlag = 0x0020
	MetadataProtocol  MetadataFlag = 0x0040
	MetadataData      MetadataFlag = 0x0080
	MetadataGPIO      MetadataFlag = 0x0100

	MetadataNone MetadataFlag = 0x0000
	MetadataAll  MetadataFlag = 0x01FF
)

// Has reports whether all bits of f are set.
func (m MetadataFlag) Has(f MetadataFlag) bool {
	return m&f == f
}

// TagReadRecord is one observation of one tag
type TagReadRecord struct {
	Timestamp time.Time
	EPC       []byte
	// PC holds the protocol control word followed by any XPC words.
	PC        []byte
	Data      []byte
	CRC       uint16
	Antenna   int
	RSSI      int
	Phase     int
	Frequency int
	ReadCount int
	Protocol  TagProtocol
	GPIO      byte
}

// EPCString returns the EPC as upper-case hex
func (r TagReadRecord) EPCString() string {
	return strings.ToUpper(hex.EncodeToString(r.EPC))
}

// XPC returns the extended protocol control words, if any
func (r TagReadRecord) XPC() []uint16 {
	if len(r.PC) <= 2 {
		return nil
	}
	words := make([]uint16, 0, (len(r.PC)-2)/2)
	for i := 2; i+1 < len(r.PC); i += 2 {
		words = append(words, uint16(r.PC[i])<<8|uint16(r.PC[i+1]))
	}
	return words
}

func (r TagReadRecord) String() string {
	return fmt.Sprintf("EPC:%s ant:%d rssi:%d count:%d proto:%s",
		r.EPCString(), r.Antenna, r.RSSI, r.ReadCount, r.Protocol)
}
