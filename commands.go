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

// Module opcodes
const (
	cmdVersion            = 0x03
	cmdSetBaudRate        = 0x06
	cmdReadTagMultiple    = 0x22
	cmdWriteTagEPC        = 0x23
	cmdWriteTagData       = 0x24
	cmdLockTag            = 0x25
	cmdKillTag            = 0x26
	cmdReadTagData        = 0x28
	cmdGetTagBuffer       = 0x29
	cmdClearTagBuffer     = 0x2A
	cmdTagSpecific        = 0x2D
	cmdMultiProtocolTagOp = 0x2F
	cmdGetPowerMode       = 0x68
	cmdGetTemperature     = 0x72
	cmdSetAntennaPort     = 0x91
	cmdSetReadTxPower     = 0x92
	cmdSetTagProtocol     = 0x93
	cmdSetRegion          = 0x97
	cmdSetPowerMode       = 0x98
)

// Sub-commands of cmdMultiProtocolTagOp used for continuous reading
const (
	continuousStart    = 0x01
	continuousStop     = 0x02
	continuousAuthResp = 0x03
)

// Streamed response types carried after options and search flags
const (
	streamTagReport    = 0x01
	streamStatusReport = 0x02
)

// Read multiple options and search flags
const (
	readOptionEmbeddedOp = 0x04

	searchFlagConfiguredList = 0x0001
	searchFlagFastSearch     = 0x0010
	searchFlagStatusReport   = 0x0400
	searchFlagStatsReport    = 0x0800
)

// antennaSearchList selects a tx/rx search list in cmdSetAntennaPort
const antennaSearchList = 0x02

// Region selects the regulatory region of the module
type Region byte

// Regulatory regions
const (
	RegionNA   Region = 0x01
	RegionEU   Region = 0x02
	RegionKR   Region = 0x03
	RegionIN   Region = 0x04
	RegionJP   Region = 0x05
	RegionPRC  Region = 0x06
	RegionEU2  Region = 0x07
	RegionEU3  Region = 0x08
	RegionAU   Region = 0x0B
	RegionNZ   Region = 0x0C
	RegionOpen Region = 0xFF
)

// PowerMode is the module's power saving state. Sleep and Unknown require
// a wake preamble before the next command.
type PowerMode int

// Power modes
const (
	PowerModeUnknown PowerMode = iota
	PowerModeFull
	PowerModeMinSave
	PowerModeMedSave
	PowerModeMaxSave
	PowerModeSleep
)

func (m PowerMode) String() string {
	switch m {
	case PowerModeFull:
		return "full"
	case PowerModeMinSave:
		return "min-save"
	case PowerModeMedSave:
		return "med-save"
	case PowerModeMaxSave:
		return "max-save"
	case PowerModeSleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// powerModeFromWire maps the module encoding (0 = full .. 4 = sleep).
func powerModeFromWire(b byte) PowerMode {
	if b > 4 {
		return PowerModeUnknown
	}
	return PowerMode(b) + PowerModeFull
}

func (m PowerMode) wire() (byte, bool) {
	if m < PowerModeFull || m > PowerModeSleep {
		return 0, false
	}
	return byte(m - PowerModeFull), true
}

// probeBaudRates is the ladder walked after the last-known rate fails
var probeBaudRates = []int{9600, 115200, 921600, 19200, 38400, 57600, 230400, 460800}
