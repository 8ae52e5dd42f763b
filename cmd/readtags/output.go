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

package main

import (
	"fmt"
	"io"
	"time"

	uhf "github.com/ZaparooProject/go-uhf"
)

func printTag(w io.Writer, r uhf.TagReadRecord) {
	_, _ = fmt.Fprintf(w, "%s  epc=%s ant=%d rssi=%d reads=%d freq=%d %s\n",
		r.Timestamp.Format(time.TimeOnly), r.EPCString(), r.Antenna, r.RSSI, r.ReadCount, r.Frequency, r.Protocol)
}

func printStatus(w io.Writer, s uhf.StatusReport) {
	_, _ = fmt.Fprintf(w, "status  ant=%d freq=%d temp=%dC\n", s.Antenna, s.Frequency, s.Temperature)
}

func printStats(w io.Writer, s uhf.ReaderStats) {
	_, _ = fmt.Fprintf(w, "stats  ant=%d freq=%d temp=%dC noise=%d rf-on=%s connected=%v\n",
		s.Antenna, s.Frequency, s.Temperature, s.NoiseFloor, s.RFOnTime, s.ConnectedAntennas)
}
