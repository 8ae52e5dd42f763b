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
	"time"

	"github.com/rs/zerolog"
)

// Option is a functional option for configuring a Device
type Option func(*Device) error

// WithConfig replaces the default configuration
func WithConfig(cfg *Config) Option {
	return func(d *Device) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidParameter)
		}
		d.config = cfg
		return nil
	}
}

// WithLogger sets the logger used by the device and its read engine
func WithLogger(log zerolog.Logger) Option {
	return func(d *Device) error {
		d.log = log
		return nil
	}
}

// WithObserver registers an observer for protocol events
func WithObserver(obs Observer) Option {
	return func(d *Device) error {
		if obs == nil {
			obs = NopObserver{}
		}
		d.observer = obs
		return nil
	}
}

// WithCommandTimeout sets the default timeout for commands
func WithCommandTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		return d.config.SetCommandTimeout(timeout)
	}
}

// WithReadPlan sets the read plan
func WithReadPlan(plan ReadPlan) Option {
	return func(d *Device) error {
		return d.config.SetReadPlan(plan)
	}
}

// WithAntennaMap sets the logical to physical antenna mapping
func WithAntennaMap(m *AntennaPortMapping) Option {
	return func(d *Device) error {
		return d.config.SetAntennaMap(m)
	}
}

// WithBaudRate sets the rate probed first during Connect
func WithBaudRate(rate int) Option {
	return func(d *Device) error {
		if rate <= 0 {
			return fmt.Errorf("%w: baud rate %d", ErrInvalidParameter, rate)
		}
		d.config.SetBaudRate(rate)
		return nil
	}
}
