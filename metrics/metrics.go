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

// Package metrics exports module traffic as Prometheus metrics
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	uhf "github.com/ZaparooProject/go-uhf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "uhf"

// NewRegistry creates a registry with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Collector implements uhf.Observer
type Collector struct {
	FramesSent       *prometheus.CounterVec   // labels: opcode
	FramesReceived   *prometheus.CounterVec   // labels: opcode
	Faults           *prometheus.CounterVec   // labels: kind
	ResyncBytes      prometheus.Counter
	TagReads         *prometheus.CounterVec   // labels: mode
	ExchangeDuration *prometheus.HistogramVec // labels: opcode
}

var _ uhf.Observer = (*Collector)(nil)

// New registers the module metrics with reg and returns the collector
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Request frames written to the module.",
		}, []string{"opcode"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Response frames read from the module.",
		}, []string{"opcode"}),
		Faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Failed exchanges by fault kind.",
		}, []string{"kind"}),
		ResyncBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_bytes_total",
			Help:      "Bytes skipped while searching for a frame marker.",
		}),
		TagReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tags_read_total",
			Help:      "Tag reads delivered by read mode.",
		}, []string{"mode"}),
		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Command round trip latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"opcode"}),
	}
	reg.MustRegister(c.FramesSent, c.FramesReceived, c.Faults, c.ResyncBytes, c.TagReads, c.ExchangeDuration)
	return c
}

func opcodeLabel(opcode byte) string {
	return fmt.Sprintf("0x%02X", opcode)
}

// FrameSent counts a request frame
func (c *Collector) FrameSent(opcode byte, _ int) {
	c.FramesSent.WithLabelValues(opcodeLabel(opcode)).Inc()
}

// FrameReceived counts a response frame
func (c *Collector) FrameReceived(opcode byte, _ uint16, _ int) {
	c.FramesReceived.WithLabelValues(opcodeLabel(opcode)).Inc()
}

// CommandCompleted records exchange latency and classifies failures
func (c *Collector) CommandCompleted(opcode byte, elapsed time.Duration, err error) {
	c.ExchangeDuration.WithLabelValues(opcodeLabel(opcode)).Observe(elapsed.Seconds())
	if err != nil {
		c.Faults.WithLabelValues(FaultKind(err)).Inc()
	}
}

// Resynced counts skipped bytes
func (c *Collector) Resynced(skipped int) {
	c.ResyncBytes.Add(float64(skipped))
}

// TagsRead counts delivered tag reads
func (c *Collector) TagsRead(mode uhf.ReadMode, count int) {
	c.TagReads.WithLabelValues(string(mode)).Add(float64(count))
}

// FaultKind names the class of err for the faults metric
func FaultKind(err error) string {
	var fa *uhf.FirmwareAssertError
	var dr *uhf.DeviceResetError
	var fe *uhf.FaultError
	switch {
	case errors.As(err, &fa):
		return "firmware_assert"
	case errors.As(err, &dr):
		return "device_reset"
	case errors.As(err, &fe):
		return "fault"
	case errors.Is(err, uhf.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, uhf.ErrFrameCorrupted):
		return "framing"
	case uhf.IsTimeout(err):
		return "timeout"
	case errors.Is(err, uhf.ErrTransportClosed),
		errors.Is(err, uhf.ErrTransportRead),
		errors.Is(err, uhf.ErrTransportWrite):
		return "transport"
	default:
		return "other"
	}
}
