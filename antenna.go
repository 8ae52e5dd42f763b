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
	"sort"
)

// PortPair is a physical transmit/receive port combination
type PortPair struct {
	Tx uint8
	Rx uint8
}

// code packs the pair the way records report it: tx in the high nibble.
func (p PortPair) code() byte {
	return p.Tx<<4 | p.Rx&0x0F
}

// AntennaPortMapping is a bijection between logical antenna numbers and
// physical port pairs. It is immutable once built.
type AntennaPortMapping struct {
	toPorts   map[int]PortPair
	toLogical map[PortPair]int
}

// NewAntennaPortMapping builds a mapping, rejecting duplicate port pairs
// and non-positive logical numbers.
func NewAntennaPortMapping(entries map[int]PortPair) (*AntennaPortMapping, error) {
	m := &AntennaPortMapping{
		toPorts:   make(map[int]PortPair, len(entries)),
		toLogical: make(map[PortPair]int, len(entries)),
	}
	for logical, pair := range entries {
		if logical <= 0 {
			return nil, fmt.Errorf("%w: logical antenna %d", ErrInvalidParameter, logical)
		}
		if pair.Tx > 0x0F || pair.Rx > 0x0F {
			return nil, fmt.Errorf("%w: port pair %d/%d out of range", ErrInvalidParameter, pair.Tx, pair.Rx)
		}
		if other, dup := m.toLogical[pair]; dup {
			return nil, fmt.Errorf("%w: port pair %d/%d mapped to antennas %d and %d",
				ErrInvalidParameter, pair.Tx, pair.Rx, other, logical)
		}
		m.toPorts[logical] = pair
		m.toLogical[pair] = logical
	}
	return m, nil
}

// DefaultAntennaPortMapping maps logical antenna i to ports (i, i) for 1..n.
func DefaultAntennaPortMapping(n int) *AntennaPortMapping {
	entries := make(map[int]PortPair, n)
	for i := 1; i <= n; i++ {
		entries[i] = PortPair{Tx: uint8(i), Rx: uint8(i)}
	}
	m, _ := NewAntennaPortMapping(entries)
	return m
}

// Ports returns the port pair for a logical antenna.
func (m *AntennaPortMapping) Ports(logical int) (PortPair, bool) {
	if m == nil {
		return PortPair{}, false
	}
	p, ok := m.toPorts[logical]
	return p, ok
}

// Logical returns the logical antenna for a port pair.
func (m *AntennaPortMapping) Logical(p PortPair) (int, bool) {
	if m == nil {
		return 0, false
	}
	l, ok := m.toLogical[p]
	return l, ok
}

// logicalFromCode decodes a tx<<4|rx antenna byte. Unmapped pairs yield 0.
func (m *AntennaPortMapping) logicalFromCode(code byte) int {
	l, _ := m.Logical(PortPair{Tx: code >> 4, Rx: code & 0x0F})
	return l
}

// Antennas returns the logical antenna numbers in ascending order.
func (m *AntennaPortMapping) Antennas() []int {
	if m == nil {
		return nil
	}
	out := make([]int, 0, len(m.toPorts))
	for l := range m.toPorts {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// resolve translates logical antennas into port pairs.
func (m *AntennaPortMapping) resolve(antennas []int) ([]PortPair, error) {
	out := make([]PortPair, 0, len(antennas))
	for _, a := range antennas {
		p, ok := m.Ports(a)
		if !ok {
			return nil, fmt.Errorf("%w: antenna %d is not mapped", ErrInvalidParameter, a)
		}
		out = append(out, p)
	}
	return out, nil
}
