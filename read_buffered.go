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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-uhf/internal/frame"
)

// Read searches for tags for duration using the configured read plan and
// returns the deduplicated reads. It fails with ErrReadInProgress while a
// streaming session owns the module.
func (d *Device) Read(ctx context.Context, duration time.Duration) ([]TagReadRecord, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: read duration must be positive", ErrInvalidParameter)
	}
	if d.engine.active() {
		return nil, ErrReadInProgress
	}

	records, err := d.readOnce(ctx, duration)
	if err != nil {
		return nil, err
	}
	d.observer.TagsRead(ReadModeBuffered, len(records))
	return records, nil
}

// ReadCycle is one background polling cycle: a Read that is accounted in
// the session snapshot as buffered polling.
func (d *Device) ReadCycle(ctx context.Context, duration time.Duration) ([]TagReadRecord, error) {
	if err := d.engine.beginPoll(); err != nil {
		return nil, err
	}
	records, err := d.Read(ctx, duration)
	d.engine.endPoll(err)
	return records, err
}

func (d *Device) readOnce(ctx context.Context, duration time.Duration) ([]TagReadRecord, error) {
	plan := d.config.ReadPlan()

	d.channel.exchangeMu.Lock()
	defer d.channel.exchangeMu.Unlock()

	records, err := d.readBuffered(ctx, d.channel.exchangeLocked, plan, duration)
	if err != nil {
		return nil, err
	}
	return DedupReads(records, d.config.TagFilter()), nil
}

// readBuffered runs each sub-plan for its share of duration.
func (d *Device) readBuffered(ctx context.Context, x exchangeFunc, plan ReadPlan, duration time.Duration) ([]TagReadRecord, error) {
	durations := splitDuration(plan, duration)

	var out []TagReadRecord
	for i, p := range subPlans(plan) {
		if durations[i] <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := d.readSimple(ctx, x, p, durations[i])
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

func (d *Device) readSimple(ctx context.Context, x exchangeFunc, p *SimpleReadPlan, duration time.Duration) ([]TagReadRecord, error) {
	if err := d.applyProtocol(x, p.Protocol, false); err != nil {
		return nil, err
	}
	if err := d.applyAntennas(x, p.Antennas, false); err != nil {
		return nil, err
	}

	base := time.Now()
	count, err := d.readMultiple(x, p, duration)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := d.fetchTagBuffer(x, p, count, base)
	if err != nil {
		return nil, err
	}
	if _, err := x(cmdClearTagBuffer, nil, d.config.CommandTimeout()); err != nil {
		return nil, fmt.Errorf("clear tag buffer failed: %w", err)
	}
	return records, nil
}

func searchFlags(p *SimpleReadPlan) uint16 {
	flags := uint16(searchFlagConfiguredList)
	if p.UseFastSearch {
		flags |= searchFlagFastSearch
	}
	return flags
}

// readMultiple issues a timed search and returns the number of tags the
// module buffered. "No tags found" is an empty result.
func (d *Device) readMultiple(x exchangeFunc, p *SimpleReadPlan, duration time.Duration) (int, error) {
	options := byte(0x00)
	payload := []byte{options}
	payload = appendUint16(payload, searchFlags(p))
	payload = appendUint16(payload, timeoutMillis(duration))
	if p.TagOp != nil {
		block, err := embeddedTagOp(p.TagOp, d.config.CommandTimeout(), d.config.AccessPassword())
		if err != nil {
			return 0, err
		}
		payload[0] |= readOptionEmbeddedOp
		payload = append(payload, block...)
	}

	resp, err := x(cmdReadTagMultiple, payload, duration+d.config.CommandTimeout())
	if errors.Is(err, ErrNoTagsFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read multiple failed: %w", err)
	}

	r := frame.NewReader(resp.Payload)
	if _, err := r.Next(3); err != nil {
		return 0, fmt.Errorf("%w: read multiple response of %d bytes", ErrInvalidResponse, len(resp.Payload))
	}
	count, err := r.ReadUint32()
	if err != nil {
		return 0, fmt.Errorf("%w: read multiple response of %d bytes", ErrInvalidResponse, len(resp.Payload))
	}
	if p.TagOp != nil {
		succeeded, _ := r.ReadUint16()
		failed, _ := r.ReadUint16()
		d.log.Debug().Uint16("succeeded", succeeded).Uint16("failed", failed).Msg("embedded tag op results")
	}
	return int(count), nil
}

// fetchTagBuffer drains count records from the module's tag buffer.
func (d *Device) fetchTagBuffer(x exchangeFunc, p *SimpleReadPlan, count int, base time.Time) ([]TagReadRecord, error) {
	meta := d.config.Metadata()
	if p.TagOp != nil {
		meta |= MetadataData
	}
	dc := decodeContext{
		base:     base,
		antennas: d.config.AntennaMap(),
		log:      d.log,
		protocol: p.Protocol,
	}
	if len(p.Antennas) == 1 {
		dc.antenna = p.Antennas[0]
	}

	req := []byte{byte(meta >> 8), byte(meta), 0x00}
	out := make([]TagReadRecord, 0, count)
	for fetched := 0; fetched < count; {
		resp, err := x(cmdGetTagBuffer, req, d.config.CommandTimeout())
		if errors.Is(err, FaultNotEnoughTags) || errors.Is(err, ErrNoTagsFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("get tag buffer failed: %w", err)
		}

		records, declared, err := decodeTagBuffer(resp.Payload, dc)
		if err != nil {
			return nil, err
		}
		if declared == 0 {
			break
		}
		out = append(out, records...)
		fetched += declared
	}
	return out, nil
}
