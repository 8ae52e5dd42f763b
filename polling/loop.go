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
	"errors"

	uhf "github.com/ZaparooProject/go-uhf"
)

// readLoop is the reader task. Each iteration picks the read mode from the
// current configuration, so a changed plan or off-time applies from the
// next cycle or session. Failed buffered cycles are retried; a failed
// streaming session ends background reading.
func (r *Reader) readLoop(ctx context.Context, n *notifiers) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cfg := r.device.Config()
		mode := uhf.SelectReadMode(cfg.ReadPlan(), cfg, r.device.Model())
		tagsBefore := r.counters.tags.Load()

		if mode == uhf.ReadModeStreaming {
			err := r.streamSession(ctx, n)
			if err == nil || ctx.Err() != nil {
				// stopped by ctx or by a direct StopStreaming call
				return ctx.Err()
			}
			r.counters.failures.Add(1)
			n.exception(err)
			r.log.Error().Err(err).Msg("streaming session ended")
			return err
		}

		err := r.pollCycle(ctx, n)
		if err == nil {
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.counters.failures.Add(1)
		n.exception(err)
		if stopsReading(err) {
			return err
		}

		if r.counters.tags.Load() > tagsBefore {
			failures = 0
		}
		failures++
		if r.config.MaxRetries > 0 && failures > r.config.MaxRetries {
			n.exception(ErrTooManyFailures)
			return ErrTooManyFailures
		}
		r.log.Warn().Err(err).Int("failures", failures).Msg("background read failed, retrying")
		if err := sleepContext(ctx, r.config.RetryBackoff); err != nil {
			return err
		}
	}
}

// stopsReading reports whether a buffered cycle error ends background
// reading instead of being retried
func stopsReading(err error) bool {
	return uhf.IsFatal(err) ||
		errors.Is(err, uhf.ErrTransportClosed) ||
		errors.Is(err, uhf.ErrUnsupported) ||
		errors.Is(err, uhf.ErrListenerConflict) ||
		errors.Is(err, uhf.ErrInvalidParameter)
}

// pollCycle runs one buffered read for the async on-time, queues the
// reads, then sleeps for the off-time
func (r *Reader) pollCycle(ctx context.Context, n *notifiers) error {
	cfg := r.device.Config()
	records, err := r.device.ReadCycle(ctx, cfg.AsyncOnTime())
	if err != nil {
		return err
	}
	r.counters.cycles.Add(1)
	r.counters.tags.Add(int64(len(records)))
	for _, rec := range records {
		n.tag(rec)
	}
	if err := sleepContext(ctx, cfg.AsyncOffTime()); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// streamSession runs one streaming session until it stops or fails
func (r *Reader) streamSession(ctx context.Context, n *notifiers) error {
	l := r.snapshotListeners()
	h := uhf.StreamHandler{
		OnTag: func(rec uhf.TagReadRecord) {
			r.counters.tags.Add(1)
			n.tag(rec)
		},
		OnNotice: n.exception,
	}
	if len(l.status) > 0 {
		h.OnStatus = n.status
	}
	if len(l.stats) > 0 {
		h.OnStats = n.stats
	}
	if l.auth != nil {
		h.OnAuthRequest = l.auth
	}

	r.counters.sessions.Add(1)
	return r.device.StartStreaming(ctx, h)
}
