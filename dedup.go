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

// FilterConfig controls how duplicate reads within one read burst are merged
type FilterConfig struct {
	// Enabled turns deduplication on
	Enabled bool
	// UniqueByAntenna keeps reads of one tag on different antennas apart
	UniqueByAntenna bool
	// UniqueByData keeps reads with different embedded op data apart
	UniqueByData bool
	// UniqueByProtocol keeps reads of one EPC on different protocols apart
	UniqueByProtocol bool
	// RecordHighestRSSI keeps the strongest read's metadata instead of the first
	RecordHighestRSSI bool
}

// DefaultFilterConfig merges by EPC and protocol, keeping the first read.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Enabled:          true,
		UniqueByProtocol: true,
	}
}

// DedupKey identifies reads that are considered the same tag
type DedupKey struct {
	EPC      string
	Data     string
	Antenna  int
	Protocol TagProtocol
}

// dedupKey builds the key of r. Components turned off in cfg are zeroed.
func dedupKey(r *TagReadRecord, cfg FilterConfig) DedupKey {
	key := DedupKey{EPC: string(r.EPC)}
	if cfg.UniqueByAntenna {
		key.Antenna = r.Antenna
	}
	if cfg.UniqueByData {
		key.Data = string(r.Data)
	}
	if cfg.UniqueByProtocol {
		key.Protocol = r.Protocol
	}
	return key
}

func readCount(r *TagReadRecord) int {
	if r.ReadCount <= 0 {
		return 1
	}
	return r.ReadCount
}

// DedupReads merges records with equal keys, preserving first-seen order.
// Merged records carry the sum of their read counts. Applying DedupReads to
// its own output returns the same records.
func DedupReads(records []TagReadRecord, cfg FilterConfig) []TagReadRecord {
	if !cfg.Enabled || len(records) < 2 {
		return records
	}

	index := make(map[DedupKey]int, len(records))
	out := make([]TagReadRecord, 0, len(records))
	for i := range records {
		r := records[i]
		key := dedupKey(&r, cfg)

		pos, seen := index[key]
		if !seen {
			r.ReadCount = readCount(&r)
			index[key] = len(out)
			out = append(out, r)
			continue
		}

		kept := &out[pos]
		total := kept.ReadCount + readCount(&r)
		if cfg.RecordHighestRSSI && r.RSSI > kept.RSSI {
			*kept = r
		}
		kept.ReadCount = total
	}
	return out
}
