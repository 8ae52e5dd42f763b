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
	"time"
)

// TransportOptimizer provides transport-specific timing
type TransportOptimizer interface {
	// TimingParams returns the timing used when talking over this transport
	TimingParams() *TimingParams
}

// TimingParams contains transport-dependent timing
type TimingParams struct {
	// ReceiveMargin is added to every command timeout while waiting for a
	// response, covering line and bridge latency.
	ReceiveMargin time.Duration
	// ProbeTimeout bounds each version query during baud negotiation.
	ProbeTimeout time.Duration
	// SendTimeout bounds every write.
	SendTimeout time.Duration
}

// timingParams returns timing for the current transport. A non-zero
// transport timeout in the configuration overrides the receive margin.
func (d *Device) timingParams() *TimingParams {
	var params *TimingParams
	if optimizer, ok := d.transport.(TransportOptimizer); ok {
		params = optimizer.TimingParams()
	} else {
		params = defaultTimingParams(d.transport.Type())
	}

	if margin := d.config.TransportTimeout(); margin > 0 {
		tuned := *params
		tuned.ReceiveMargin = margin
		return &tuned
	}
	return params
}

func defaultTimingParams(t TransportType) *TimingParams {
	switch t {
	case TransportUART:
		return &TimingParams{
			ReceiveMargin: 2 * time.Second,
			ProbeTimeout:  100 * time.Millisecond,
			SendTimeout:   time.Second,
		}
	case TransportTCP:
		// Bridges add buffering and network latency
		return &TimingParams{
			ReceiveMargin: 3 * time.Second,
			ProbeTimeout:  500 * time.Millisecond,
			SendTimeout:   2 * time.Second,
		}
	case TransportMock:
		return &TimingParams{
			ReceiveMargin: 200 * time.Millisecond,
			ProbeTimeout:  50 * time.Millisecond,
			SendTimeout:   100 * time.Millisecond,
		}
	default:
		return &TimingParams{
			ReceiveMargin: 5 * time.Second,
			ProbeTimeout:  250 * time.Millisecond,
			SendTimeout:   2 * time.Second,
		}
	}
}
