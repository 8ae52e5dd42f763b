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

package polling

import (
	"context"
	"sync/atomic"
	"time"
)

// Stats are the background reading counters
type Stats struct {
	Cycles   int64 // buffered read cycles completed
	Sessions int64 // streaming sessions started
	Tags     int64 // tag reads delivered to the read notifier
	Failures int64 // failed cycles or sessions
}

type counters struct {
	cycles   atomic.Int64
	sessions atomic.Int64
	tags     atomic.Int64
	failures atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Cycles:   c.cycles.Load(),
		Sessions: c.sessions.Load(),
		Tags:     c.tags.Load(),
		Failures: c.failures.Load(),
	}
}

// safeTimerStop stops a timer and drains its channel if it already fired
func safeTimerStop(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer safeTimerStop(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
