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
	"fmt"
	"sync"

	uhf "github.com/ZaparooProject/go-uhf"
	"github.com/rs/zerolog"
)

// readEvent is one item for the read notifier: a tag read or a report
type readEvent struct {
	tag    *uhf.TagReadRecord
	status *uhf.StatusReport
	stats  *uhf.ReaderStats
}

// notifiers owns the read and exception notifier goroutines and their
// queues for one background reading run
type notifiers struct {
	reads      *queue[readEvent]
	exceptions *queue[error]
	listeners  func() listeners
	log        zerolog.Logger
	wg         sync.WaitGroup
}

func newNotifiers(log zerolog.Logger, l func() listeners) *notifiers {
	return &notifiers{
		reads:      newQueue[readEvent](),
		exceptions: newQueue[error](),
		listeners:  l,
		log:        log,
	}
}

func (n *notifiers) start() {
	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		for {
			ev, ok := n.reads.pop()
			if !ok {
				return
			}
			n.deliverRead(ev)
		}
	}()
	go func() {
		defer n.wg.Done()
		for {
			err, ok := n.exceptions.pop()
			if !ok {
				return
			}
			for _, l := range n.listeners().exceptions {
				n.call("exception", func() { l(err) })
			}
		}
	}()
}

// stop closes both queues and waits until queued events are delivered
func (n *notifiers) stop() {
	n.reads.close()
	n.exceptions.close()
	n.wg.Wait()
}

func (n *notifiers) tag(rec uhf.TagReadRecord) {
	n.reads.push(readEvent{tag: &rec})
}

func (n *notifiers) status(s uhf.StatusReport) {
	n.reads.push(readEvent{status: &s})
}

func (n *notifiers) stats(s uhf.ReaderStats) {
	n.reads.push(readEvent{stats: &s})
}

func (n *notifiers) exception(err error) {
	n.exceptions.push(err)
}

func (n *notifiers) deliverRead(ev readEvent) {
	l := n.listeners()
	switch {
	case ev.tag != nil:
		for _, fn := range l.reads {
			n.call("read", func() { fn(*ev.tag) })
		}
	case ev.status != nil:
		for _, fn := range l.status {
			n.call("status", func() { fn(*ev.status) })
		}
	case ev.stats != nil:
		for _, fn := range l.stats {
			n.call("stats", func() { fn(*ev.stats) })
		}
	}
}

// call runs a listener and recovers its panic so one bad listener cannot
// stop delivery to the others
func (n *notifiers) call(kind string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			n.log.Error().
				Str("listener", kind).
				Err(fmt.Errorf("listener panic: %v", p)).
				Msg("recovered from listener panic")
		}
	}()
	fn()
}
