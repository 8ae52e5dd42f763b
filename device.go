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
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// exchangeFunc performs one command/response exchange
type exchangeFunc func(opcode byte, payload []byte, timeout time.Duration) (*Response, error)

// Device represents one module attached to a Transport.
//
// Thread Safety: commands are serialized internally, so Device methods may
// be called from multiple goroutines. While a streaming session runs, the
// session owns the module and other commands wait until it stops.
type Device struct {
	transport       Transport
	observer        Observer
	config          *Config
	channel         *channel
	engine          *continuousEngine
	version         *VersionInfo
	log             zerolog.Logger
	currentAntennas []PortPair
	mu              sync.Mutex
	currentProtocol TagProtocol
}

// New creates a Device on transport. The transport is opened by Connect.
func New(transport Transport, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}

	d := &Device{
		transport: transport,
		config:    DefaultConfig(),
		observer:  NopObserver{},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	d.channel = newChannel(transport, d.config, d.observer, d.timingParams, d.log)
	d.engine = newContinuousEngine(d)
	return d, nil
}

// Transport returns the underlying transport
func (d *Device) Transport() Transport {
	return d.transport
}

// Config returns the live configuration
func (d *Device) Config() *Config {
	return d.config
}

// Logger returns the device logger
func (d *Device) Logger() zerolog.Logger {
	return d.log
}

// Observer returns the observer receiving protocol events
func (d *Device) Observer() Observer {
	return d.observer
}

// VersionInfo returns the version read during Connect, or nil
func (d *Device) VersionInfo() *VersionInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Model returns the connected module's model
func (d *Device) Model() Model {
	return d.channel.getModel()
}

// Connect opens the transport, finds the module's baud rate, reads its
// version and power mode. The negotiated baud rate is written back to the
// configuration.
func (d *Device) Connect(ctx context.Context) error {
	if !d.transport.IsConnected() {
		if err := d.transport.Open(); err != nil {
			return fmt.Errorf("failed to open transport: %w", err)
		}
	}
	d.config.setPowerMode(PowerModeUnknown)

	version, err := d.negotiateBaud(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.version = version
	d.currentProtocol = ProtocolNone
	d.currentAntennas = nil
	d.mu.Unlock()
	d.channel.setModel(version.Model())

	d.refreshPowerMode(ctx)

	d.log.Info().
		Str("model", version.Model().String()).
		Int("baud", d.transport.BaudRate()).
		Str("power", d.config.PowerMode().String()).
		Msg("connected to module")
	return nil
}

// baudCandidates lists the rates to probe: the last known rate twice,
// then the ladder.
func baudCandidates(last int, ladder []int) []int {
	out := make([]int, 0, len(ladder)+2)
	if last > 0 {
		out = append(out, last, last)
	}
	return append(out, ladder...)
}

func (d *Device) negotiateBaud(ctx context.Context) (*VersionInfo, error) {
	probe := d.timingParams().ProbeTimeout

	var rates []int
	if hasCapability(d.transport, CapabilitySettableBaud) {
		rates = baudCandidates(d.config.BaudRate(), d.config.ProbeBaudRates())
	} else {
		// The line rate is fixed elsewhere; only probe for the module.
		rates = []int{0, 0}
	}

	var lastErr error
	for _, rate := range rates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if rate > 0 && d.transport.BaudRate() != rate {
			if err := d.transport.SetBaudRate(rate); err != nil {
				lastErr = err
				continue
			}
		}
		if err := d.transport.Flush(); err != nil {
			d.log.Debug().Err(err).Msg("flush before probe failed")
		}

		version, err := d.probeVersion(ctx, probe)
		if err == nil {
			if rate > 0 {
				d.config.SetBaudRate(rate)
			}
			return version, nil
		}

		var fa *FirmwareAssertError
		if errors.As(err, &fa) {
			return nil, err
		}
		lastErr = err
		d.log.Debug().Err(err).Int("baud", d.transport.BaudRate()).Msg("version probe failed")
	}

	return nil, fmt.Errorf("%w: %w", ErrDeviceNotFound, lastErr)
}

func (d *Device) probeVersion(ctx context.Context, timeout time.Duration) (*VersionInfo, error) {
	resp, err := d.channel.exchange(ctx, cmdVersion, nil, timeout)
	if err != nil {
		return nil, err
	}
	return parseVersion(resp.Payload)
}

// Version queries the module version
func (d *Device) Version(ctx context.Context) (*VersionInfo, error) {
	version, err := d.probeVersion(ctx, d.config.CommandTimeout())
	if err != nil {
		return nil, fmt.Errorf("version query failed: %w", err)
	}
	d.mu.Lock()
	d.version = version
	d.mu.Unlock()
	d.channel.setModel(version.Model())
	return version, nil
}

// refreshPowerMode reads the module power mode. Firmware without the
// command is running at full power.
func (d *Device) refreshPowerMode(ctx context.Context) {
	resp, err := d.channel.exchange(ctx, cmdGetPowerMode, nil, d.config.CommandTimeout())
	if err != nil || len(resp.Payload) == 0 {
		d.log.Debug().Err(err).Msg("power mode query failed, assuming full power")
		d.config.setPowerMode(PowerModeFull)
		return
	}
	d.config.setPowerMode(powerModeFromWire(resp.Payload[0]))
}

// SetPowerMode changes the module power saving mode
func (d *Device) SetPowerMode(ctx context.Context, mode PowerMode) error {
	b, ok := mode.wire()
	if !ok {
		return fmt.Errorf("%w: power mode %s", ErrInvalidParameter, mode)
	}
	if _, err := d.channel.exchange(ctx, cmdSetPowerMode, []byte{b}, d.config.CommandTimeout()); err != nil {
		return fmt.Errorf("set power mode failed: %w", err)
	}
	d.config.setPowerMode(mode)
	return nil
}

// command returns an exchangeFunc that takes the exchange lock per call.
func (d *Device) command(ctx context.Context) exchangeFunc {
	return func(opcode byte, payload []byte, timeout time.Duration) (*Response, error) {
		return d.channel.exchange(ctx, opcode, payload, timeout)
	}
}

// SetProtocol selects the air protocol
func (d *Device) SetProtocol(ctx context.Context, p TagProtocol) error {
	return d.applyProtocol(d.command(ctx), p, true)
}

func (d *Device) applyProtocol(x exchangeFunc, p TagProtocol, force bool) error {
	d.mu.Lock()
	current := d.currentProtocol
	d.mu.Unlock()
	if !force && current == p {
		return nil
	}

	if _, err := x(cmdSetTagProtocol, []byte{0x00, byte(p)}, d.config.CommandTimeout()); err != nil {
		return fmt.Errorf("set protocol %s failed: %w", p, err)
	}
	d.mu.Lock()
	d.currentProtocol = p
	d.mu.Unlock()
	return nil
}

// SetAntennaSearchList selects the logical antennas searched by reads
func (d *Device) SetAntennaSearchList(ctx context.Context, antennas []int) error {
	return d.applyAntennas(d.command(ctx), antennas, true)
}

func (d *Device) applyAntennas(x exchangeFunc, antennas []int, force bool) error {
	if len(antennas) == 0 {
		all := d.config.AntennaMap().Antennas()
		if len(all) == 0 {
			return fmt.Errorf("%w: no antennas mapped", ErrInvalidParameter)
		}
		antennas = all[:1]
	}
	pairs, err := d.config.AntennaMap().resolve(antennas)
	if err != nil {
		return err
	}

	d.mu.Lock()
	same := slices.Equal(d.currentAntennas, pairs)
	d.mu.Unlock()
	if !force && same {
		return nil
	}

	payload := make([]byte, 0, 1+2*len(pairs))
	payload = append(payload, antennaSearchList)
	for _, p := range pairs {
		payload = append(payload, p.Tx, p.Rx)
	}
	if _, err := x(cmdSetAntennaPort, payload, d.config.CommandTimeout()); err != nil {
		return fmt.Errorf("set antenna search list failed: %w", err)
	}

	d.mu.Lock()
	d.currentAntennas = pairs
	d.mu.Unlock()
	return nil
}

// SetReadPower sets the read transmit power in centi-dBm
func (d *Device) SetReadPower(ctx context.Context, centiDBm int) error {
	if centiDBm < 0 || centiDBm > 3150 {
		return fmt.Errorf("%w: read power %d cdBm", ErrInvalidParameter, centiDBm)
	}
	payload := []byte{byte(centiDBm >> 8), byte(centiDBm)}
	if _, err := d.channel.exchange(ctx, cmdSetReadTxPower, payload, d.config.CommandTimeout()); err != nil {
		return fmt.Errorf("set read power failed: %w", err)
	}
	return nil
}

// SetRegion sets the regulatory region
func (d *Device) SetRegion(ctx context.Context, r Region) error {
	if _, err := d.channel.exchange(ctx, cmdSetRegion, []byte{byte(r)}, d.config.CommandTimeout()); err != nil {
		return fmt.Errorf("set region failed: %w", err)
	}
	return nil
}

// SetBaudRate switches the module and then the transport to rate
func (d *Device) SetBaudRate(ctx context.Context, rate int) error {
	if rate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidParameter, rate)
	}
	payload := []byte{byte(rate >> 24), byte(rate >> 16), byte(rate >> 8), byte(rate)}
	if _, err := d.channel.exchange(ctx, cmdSetBaudRate, payload, d.config.CommandTimeout()); err != nil {
		return fmt.Errorf("set baud rate failed: %w", err)
	}
	if hasCapability(d.transport, CapabilitySettableBaud) {
		if err := d.transport.SetBaudRate(rate); err != nil {
			return fmt.Errorf("failed to switch transport baud rate: %w", err)
		}
	}
	d.config.SetBaudRate(rate)
	return nil
}

// Temperature returns the module temperature in degrees Celsius
func (d *Device) Temperature(ctx context.Context) (int, error) {
	resp, err := d.channel.exchange(ctx, cmdGetTemperature, nil, d.config.CommandTimeout())
	if err != nil {
		return 0, fmt.Errorf("temperature query failed: %w", err)
	}
	if len(resp.Payload) < 1 {
		return 0, fmt.Errorf("%w: empty temperature response", ErrInvalidResponse)
	}
	return int(int8(resp.Payload[0])), nil
}

// ClearTagBuffer empties the module's tag buffer
func (d *Device) ClearTagBuffer(ctx context.Context) error {
	if _, err := d.channel.exchange(ctx, cmdClearTagBuffer, nil, d.config.CommandTimeout()); err != nil {
		return fmt.Errorf("clear tag buffer failed: %w", err)
	}
	return nil
}

// Session returns a snapshot of the continuous read engine
func (d *Device) Session() Session {
	return d.engine.snapshot()
}

// ReadMode returns the strategy background reading would use now
func (d *Device) ReadMode() ReadMode {
	return SelectReadMode(d.config.ReadPlan(), d.config, d.Model())
}

// Close stops any streaming session and closes the transport
func (d *Device) Close() error {
	if d.engine.active() {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.CommandTimeout()+d.timingParams().ReceiveMargin)
		if err := d.StopStreaming(ctx); err != nil {
			d.log.Warn().Err(err).Msg("failed to stop streaming before close")
		}
		cancel()
	}
	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}
