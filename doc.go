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

/*
Package uhf is a host-side driver for UHF RFID reader modules that speak
the embedded-module serial protocol (M5e, M6e, Micro and Nano families).

The host sends framed commands over a serial link and the module answers
each with a status word and a payload. The library handles framing and
CRC checks, the wake preamble, baud-rate negotiation at connect time and
both read styles the firmware offers.

Features:
  - Serial (go.bug.st/serial) and TCP serial-bridge transports
  - Buffered reads: timed inventory, then fetch the tag buffer
  - Streaming reads with the continuous-reading command, including
    status and statistics reports and Gen2 access-password handshakes
  - Per-antenna read plans, weighted multi-plans and tag filtering
  - Typed module faults and transport errors with retry classes
  - Optional observer hooks, with a Prometheus implementation in metrics

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-uhf"
	    "github.com/ZaparooProject/go-uhf/transport/uart"
	)

	transport := uart.New("/dev/ttyUSB0", 115200)

	device, err := uhf.New(transport)
	if err != nil {
	    return err
	}
	defer device.Close()

	if err := device.Connect(ctx); err != nil {
	    return err
	}

	tags, err := device.Read(ctx, 500*time.Millisecond)
	if err != nil {
	    return err
	}
	for _, tag := range tags {
	    fmt.Println(tag.EPCString(), tag.Antenna, tag.RSSI)
	}

Background reading with listeners lives in the polling package:

	reader, err := polling.NewReader(device, nil)
	if err != nil {
	    return err
	}
	reader.AddReadListener(func(r uhf.TagReadRecord) {
	    fmt.Println(r)
	})
	if err := reader.StartReading(ctx); err != nil {
	    return err
	}
	defer reader.StopReading()

Thread Safety:

Device serializes commands internally, so one device may be shared across
goroutines. Only one read (buffered or streaming) runs at a time; a second
one fails with ErrReadInProgress.
*/
package uhf
