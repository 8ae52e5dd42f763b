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
	"slices"
	"time"
)

// ReadPlan describes what a read covers. It is either a *SimpleReadPlan or
// a *MultiReadPlan.
type ReadPlan interface {
	// Validate reports configuration errors before any command is sent
	Validate() error
	weight() int
	readPlan()
}

// SimpleReadPlan reads one protocol on a set of logical antennas
type SimpleReadPlan struct {
	// TagOp is executed on every singulated tag when set
	TagOp         TagOp
	Antennas      []int
	Weight        int
	Protocol      TagProtocol
	UseFastSearch bool
}

// MultiReadPlan splits each read between its sub-plans by weight
type MultiReadPlan struct {
	Plans []*SimpleReadPlan
}

// NewSimpleReadPlan returns a Gen2 plan over antennas with weight 1000.
func NewSimpleReadPlan(antennas ...int) *SimpleReadPlan {
	return &SimpleReadPlan{
		Antennas: antennas,
		Protocol: ProtocolGen2,
		Weight:   1000,
	}
}

func (*SimpleReadPlan) readPlan() {}
func (*MultiReadPlan) readPlan()  {}

func (p *SimpleReadPlan) weight() int {
	return p.Weight
}

func (p *MultiReadPlan) weight() int {
	total := 0
	for _, sub := range p.Plans {
		total += sub.Weight
	}
	return total
}

// Validate checks the plan
func (p *SimpleReadPlan) Validate() error {
	if p.Weight < 0 {
		return fmt.Errorf("%w: negative plan weight %d", ErrInvalidParameter, p.Weight)
	}
	if p.Protocol == ProtocolNone {
		return fmt.Errorf("%w: read plan has no protocol", ErrInvalidParameter)
	}
	return nil
}

// Validate checks every sub-plan
func (p *MultiReadPlan) Validate() error {
	if len(p.Plans) == 0 {
		return fmt.Errorf("%w: empty multi read plan", ErrInvalidParameter)
	}
	for i, sub := range p.Plans {
		if sub == nil {
			return fmt.Errorf("%w: sub-plan %d is nil", ErrInvalidParameter, i)
		}
		if err := sub.Validate(); err != nil {
			return fmt.Errorf("sub-plan %d: %w", i, err)
		}
	}
	if p.weight() == 0 {
		return fmt.Errorf("%w: multi read plan has zero total weight", ErrInvalidParameter)
	}
	return nil
}

// subPlans flattens a plan into its simple plans.
func subPlans(plan ReadPlan) []*SimpleReadPlan {
	switch p := plan.(type) {
	case *SimpleReadPlan:
		return []*SimpleReadPlan{p}
	case *MultiReadPlan:
		return p.Plans
	default:
		return nil
	}
}

// antennaSetsIdentical reports whether every sub-plan reads the same
// antennas, ignoring order.
func antennaSetsIdentical(plan ReadPlan) bool {
	plans := subPlans(plan)
	if len(plans) <= 1 {
		return true
	}
	first := sortedCopy(plans[0].Antennas)
	for _, p := range plans[1:] {
		if !slices.Equal(first, sortedCopy(p.Antennas)) {
			return false
		}
	}
	return true
}

func sortedCopy(in []int) []int {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}

// splitDuration divides total between sub-plans in proportion to weight.
// Plans with zero weight get no time.
func splitDuration(plan ReadPlan, total time.Duration) []time.Duration {
	plans := subPlans(plan)
	out := make([]time.Duration, len(plans))
	if len(plans) == 1 {
		out[0] = total
		return out
	}

	sum := plan.weight()
	if sum == 0 {
		return out
	}
	for i, p := range plans {
		out[i] = total * time.Duration(p.Weight) / time.Duration(sum)
	}
	return out
}

// planProtocols lists the distinct protocols of a plan in order.
func planProtocols(plan ReadPlan) []TagProtocol {
	var out []TagProtocol
	for _, p := range subPlans(plan) {
		if !slices.Contains(out, p.Protocol) {
			out = append(out, p.Protocol)
		}
	}
	return out
}
