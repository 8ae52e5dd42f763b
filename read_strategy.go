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

// ReadMode is the strategy used to read tags
type ReadMode string

const (
	// ReadModeBuffered issues timed read-multiple commands and fetches the
	// module's tag buffer after each one
	ReadModeBuffered ReadMode = "buffered"

	// ReadModeStreaming starts a continuous search and receives tag reports
	// as the module produces them
	ReadModeStreaming ReadMode = "streaming"
)

// SessionState is the state of the continuous read engine
type SessionState string

// Session states
const (
	StateIdle         SessionState = "idle"
	StateRequested    SessionState = "requested"
	StateBufferedPoll SessionState = "buffered_poll"
	StateStreaming    SessionState = "streaming"
	StateStopping     SessionState = "stopping"
)

// Session is a snapshot of the continuous read engine
type Session struct {
	Mode          ReadMode
	State         SessionState
	SuccessCount  int
	FailureCount  int
	StopRequested bool
}

// SelectReadMode chooses how background reading runs. Streaming is used
// only when the model supports it, there is no off-time and every sub-plan
// covers the same antennas.
func SelectReadMode(plan ReadPlan, cfg *Config, model Model) ReadMode {
	if !model.SupportsStreaming() {
		return ReadModeBuffered
	}
	if cfg.AsyncOffTime() != 0 {
		return ReadModeBuffered
	}
	if plan == nil || !antennaSetsIdentical(plan) {
		return ReadModeBuffered
	}
	for _, p := range subPlans(plan) {
		// Embedded operations need the per-command success counters.
		if p.TagOp != nil {
			return ReadModeBuffered
		}
	}
	return ReadModeStreaming
}
