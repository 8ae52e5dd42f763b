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
	"fmt"

	"github.com/ZaparooProject/go-uhf/internal/frame"
)

// Model identifies the module family from the hardware version
type Model int

// Module models
const (
	ModelUnknown Model = iota
	ModelM5e
	ModelM5eCompact
	ModelM6e
	ModelM6ePRC
	ModelM6eMicro
	ModelM6eNano
	ModelM3e
)

func modelFromHardware(code byte) Model {
	switch code {
	case 0x00:
		return ModelM5e
	case 0x01:
		return ModelM5eCompact
	case 0x18:
		return ModelM6e
	case 0x19:
		return ModelM6ePRC
	case 0x20:
		return ModelM6eMicro
	case 0x30:
		return ModelM6eNano
	case 0x80:
		return ModelM3e
	default:
		return ModelUnknown
	}
}

func (m Model) String() string {
	switch m {
	case ModelM5e:
		return "M5e"
	case ModelM5eCompact:
		return "M5e Compact"
	case ModelM6e:
		return "M6e"
	case ModelM6ePRC:
		return "M6e PRC"
	case ModelM6eMicro:
		return "M6e Micro"
	case ModelM6eNano:
		return "M6e Nano"
	case ModelM3e:
		return "M3e"
	default:
		return "unknown"
	}
}

func (m Model) isM5eFamily() bool {
	return m == ModelM5e || m == ModelM5eCompact
}

// SupportsStreaming reports whether the module can stream tag reports.
func (m Model) SupportsStreaming() bool {
	return m != ModelUnknown && !m.isM5eFamily()
}

// needsWakePreamble reports whether the module may sleep between commands.
// Unknown models are woken since the preamble is harmless.
func (m Model) needsWakePreamble() bool {
	return !m.isM5eFamily()
}

// VersionInfo is the decoded version response
type VersionInfo struct {
	Bootloader      [4]byte
	Hardware        [4]byte
	FirmwareDate    [4]byte
	FirmwareVersion [4]byte
	Protocols       uint32
}

// Model returns the module family encoded in the hardware version
func (v *VersionInfo) Model() Model {
	return modelFromHardware(v.Hardware[0])
}

// SupportsProtocol reports whether the firmware advertises protocol p
func (v *VersionInfo) SupportsProtocol(p TagProtocol) bool {
	if p == ProtocolNone || p > 32 {
		return false
	}
	return v.Protocols&(1<<(uint(p)-1)) != 0
}

func (v *VersionInfo) String() string {
	return fmt.Sprintf("%s hw %X fw %X (%X)", v.Model(), v.Hardware, v.FirmwareVersion, v.FirmwareDate)
}

func parseVersion(payload []byte) (*VersionInfo, error) {
	r := frame.NewReader(payload)
	v := &VersionInfo{}
	for _, dst := range [][]byte{v.Bootloader[:], v.Hardware[:], v.FirmwareDate[:], v.FirmwareVersion[:]} {
		p, err := r.Next(4)
		if err != nil {
			return nil, fmt.Errorf("%w: version payload of %d bytes", ErrInvalidResponse, len(payload))
		}
		copy(dst, p)
	}
	protocols, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: version payload of %d bytes", ErrInvalidResponse, len(payload))
	}
	v.Protocols = protocols
	return v, nil
}
