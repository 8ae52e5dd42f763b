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
	"time"

	"github.com/ZaparooProject/go-uhf/internal/frame"
)

// ReportFlag selects fields of a streamed status or stats report
type ReportFlag uint16

// Report fields, in the order they appear in a report
const (
	ReportNoiseFloor        ReportFlag = 0x0001
	ReportRFOnTime          ReportFlag = 0x0002
	ReportFrequency         ReportFlag = 0x0004
	ReportTemperature       ReportFlag = 0x0008
	ReportAntenna           ReportFlag = 0x0010
	ReportProtocol          ReportFlag = 0x0020
	ReportConnectedAntennas ReportFlag = 0x0040

	ReportAll ReportFlag = 0x007F
)

// ReaderStats is a streamed stats report
type ReaderStats struct {
	ConnectedAntennas []int
	RFOnTime          time.Duration
	Flags             ReportFlag
	NoiseFloor        int
	Frequency         int
	Temperature       int
	Antenna           int
	Protocol          TagProtocol
}

// StatusReport is the subset of a report delivered to status listeners
type StatusReport struct {
	Flags       ReportFlag
	Frequency   int
	Temperature int
	Antenna     int
	Protocol    TagProtocol
}

// Status converts a stats report into a status report.
func (s *ReaderStats) Status() StatusReport {
	return StatusReport{
		Flags:       s.Flags,
		Frequency:   s.Frequency,
		Temperature: s.Temperature,
		Antenna:     s.Antenna,
		Protocol:    s.Protocol,
	}
}

// decodeReport parses reportFlags(2) followed by the flagged fields.
func decodeReport(body []byte, antennas *AntennaPortMapping) (*ReaderStats, error) {
	r := frame.NewReader(body)
	flags, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("%w: report flags: %w", ErrInvalidResponse, err)
	}

	stats := &ReaderStats{Flags: ReportFlag(flags)}
	if err := decodeReportFields(r, stats, antennas); err != nil {
		return nil, fmt.Errorf("%w: report: %w", ErrInvalidResponse, err)
	}
	return stats, nil
}

func decodeReportFields(r *frame.Buffer, s *ReaderStats, antennas *AntennaPortMapping) error {
	if s.Flags&ReportNoiseFloor != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		s.NoiseFloor = int(int8(b))
	}
	if s.Flags&ReportRFOnTime != 0 {
		ms, err := r.ReadUint32()
		if err != nil {
			return err
		}
		s.RFOnTime = time.Duration(ms) * time.Millisecond
	}
	if s.Flags&ReportFrequency != 0 {
		khz, err := r.ReadUint24()
		if err != nil {
			return err
		}
		s.Frequency = int(khz)
	}
	if s.Flags&ReportTemperature != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		s.Temperature = int(int8(b))
	}
	if s.Flags&ReportAntenna != 0 {
		p, err := r.Next(2)
		if err != nil {
			return err
		}
		s.Antenna, _ = antennas.Logical(PortPair{Tx: p[0], Rx: p[1]})
	}
	if s.Flags&ReportProtocol != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		s.Protocol = TagProtocol(b)
	}
	if s.Flags&ReportConnectedAntennas != 0 {
		n, err := r.ReadByte()
		if err != nil {
			return err
		}
		ports, err := r.Next(int(n))
		if err != nil {
			return err
		}
		for _, port := range ports {
			if l, ok := antennas.Logical(PortPair{Tx: port, Rx: port}); ok {
				s.ConnectedAntennas = append(s.ConnectedAntennas, l)
			}
		}
	}
	return nil
}
