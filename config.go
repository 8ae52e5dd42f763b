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
	"sync"
	"time"
)

// Config holds the reader parameters consulted while reading.
// All accessors are safe for concurrent use; the read engine reads it from
// the reader goroutine while callers may update it.
type Config struct {
	antennaMap       *AntennaPortMapping
	readPlan         ReadPlan
	probeBaudRates   []int
	filter           FilterConfig
	commandTimeout   time.Duration
	transportTimeout time.Duration
	asyncOnTime      time.Duration
	asyncOffTime     time.Duration
	restartInterval  time.Duration
	baudRate         int
	powerMode        PowerMode
	mu               sync.RWMutex
	accessPassword   uint32
	metadata         MetadataFlag
	statusFlags      ReportFlag
	statsFlags       ReportFlag
}

// DefaultConfig returns the configuration used by a new Device: Gen2 on
// antenna 1, all metadata, dedup by EPC and protocol, 250 ms on-time.
func DefaultConfig() *Config {
	return &Config{
		antennaMap:      DefaultAntennaPortMapping(4),
		readPlan:        NewSimpleReadPlan(1),
		probeBaudRates:  slices.Clone(probeBaudRates),
		filter:          DefaultFilterConfig(),
		commandTimeout:  time.Second,
		asyncOnTime:     250 * time.Millisecond,
		restartInterval: 500 * time.Millisecond,
		baudRate:        115200,
		powerMode:       PowerModeUnknown,
		metadata:        MetadataReadCount | MetadataRSSI | MetadataAntenna | MetadataFrequency | MetadataTimestamp | MetadataPhase | MetadataProtocol,
	}
}

// AntennaMap returns the logical to physical antenna mapping
func (c *Config) AntennaMap() *AntennaPortMapping {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.antennaMap
}

// SetAntennaMap replaces the antenna mapping
func (c *Config) SetAntennaMap(m *AntennaPortMapping) error {
	if m == nil {
		return fmt.Errorf("%w: nil antenna map", ErrInvalidParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.antennaMap = m
	return nil
}

// ReadPlan returns the current read plan
func (c *Config) ReadPlan() ReadPlan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readPlan
}

// SetReadPlan validates and installs a read plan
func (c *Config) SetReadPlan(p ReadPlan) error {
	if p == nil {
		return fmt.Errorf("%w: nil read plan", ErrInvalidParameter)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readPlan = p
	return nil
}

// AccessPassword returns the Gen2 access password
func (c *Config) AccessPassword() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessPassword
}

// SetAccessPassword sets the Gen2 access password
func (c *Config) SetAccessPassword(pw uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessPassword = pw
}

// CommandTimeout returns the default per-command timeout
func (c *Config) CommandTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.commandTimeout
}

// SetCommandTimeout sets the default per-command timeout
func (c *Config) SetCommandTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: command timeout must be positive", ErrInvalidParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commandTimeout = d
	return nil
}

// TransportTimeout returns the receive margin override, zero when the
// transport default applies
func (c *Config) TransportTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transportTimeout
}

// SetTransportTimeout overrides the receive margin added to every command
func (c *Config) SetTransportTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative transport timeout", ErrInvalidParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transportTimeout = d
	return nil
}

// AsyncOnTime returns how long each background read cycle searches
func (c *Config) AsyncOnTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.asyncOnTime
}

// SetAsyncOnTime sets the background search time
func (c *Config) SetAsyncOnTime(d time.Duration) error {
	if d <= 0 || d > 65535*time.Millisecond {
		return fmt.Errorf("%w: async on time %v out of range", ErrInvalidParameter, d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asyncOnTime = d
	return nil
}

// AsyncOffTime returns the pause between background read cycles
func (c *Config) AsyncOffTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.asyncOffTime
}

// SetAsyncOffTime sets the pause between background read cycles. A non-zero
// off time rules out streaming.
func (c *Config) SetAsyncOffTime(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative async off time", ErrInvalidParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asyncOffTime = d
	return nil
}

// RestartInterval returns the minimum spacing of streaming session restarts
func (c *Config) RestartInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.restartInterval
}

// SetRestartInterval sets the minimum spacing of streaming session restarts
func (c *Config) SetRestartInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartInterval = d
}

// BaudRate returns the last known working baud rate
func (c *Config) BaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baudRate
}

// SetBaudRate records the baud rate. Connect writes back the negotiated rate.
func (c *Config) SetBaudRate(rate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baudRate = rate
}

// ProbeBaudRates returns the negotiation ladder
func (c *Config) ProbeBaudRates() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.probeBaudRates)
}

// SetProbeBaudRates replaces the negotiation ladder
func (c *Config) SetProbeBaudRates(rates []int) error {
	for _, r := range rates {
		if r <= 0 {
			return fmt.Errorf("%w: baud rate %d", ErrInvalidParameter, r)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeBaudRates = slices.Clone(rates)
	return nil
}

// TagFilter returns the dedup configuration
func (c *Config) TagFilter() FilterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// SetTagFilter sets the dedup configuration
func (c *Config) SetTagFilter(f FilterConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = f
}

// Metadata returns the metadata requested with each record
func (c *Config) Metadata() MetadataFlag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metadata
}

// SetMetadata sets the metadata requested with each record
func (c *Config) SetMetadata(m MetadataFlag) error {
	if m&^MetadataAll != 0 {
		return fmt.Errorf("%w: unknown metadata bits 0x%04X", ErrInvalidParameter, uint16(m&^MetadataAll))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = m
	return nil
}

// StatusFlags returns the fields requested in streamed status reports
func (c *Config) StatusFlags() ReportFlag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusFlags
}

// SetStatusFlags sets the fields requested in streamed status reports
func (c *Config) SetStatusFlags(f ReportFlag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFlags = f
}

// StatsFlags returns the fields requested in streamed stats reports
func (c *Config) StatsFlags() ReportFlag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statsFlags
}

// SetStatsFlags sets the fields requested in streamed stats reports
func (c *Config) SetStatsFlags(f ReportFlag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsFlags = f
}

// PowerMode returns the last known power mode of the module
func (c *Config) PowerMode() PowerMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.powerMode
}

func (c *Config) setPowerMode(m PowerMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.powerMode = m
}
