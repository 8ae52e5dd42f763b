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

// Command readtags reads UHF tags from a module on a serial port or a TCP
// serial bridge, either once or continuously.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	uhf "github.com/ZaparooProject/go-uhf"
	"github.com/ZaparooProject/go-uhf/internal/config"
	"github.com/ZaparooProject/go-uhf/metrics"
	"github.com/ZaparooProject/go-uhf/polling"
	"github.com/ZaparooProject/go-uhf/transport/tcp"
	"github.com/ZaparooProject/go-uhf/transport/uart"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	connectTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

type flags struct {
	configPath *string
	device     *string
	tcpAddr    *string
	logFile    *string
	metrics    *string
	baud       *int
	duration   *time.Duration
	stream     *bool
	debug      *bool
}

func parseFlags(args []string) (*flags, error) {
	fs := flag.NewFlagSet("readtags", flag.ContinueOnError)
	f := &flags{
		configPath: fs.String("config", "", "Path to a YAML config file (default ./readtags.yaml)"),
		device:     fs.String("device", "", "Serial port (e.g. /dev/ttyUSB0)"),
		tcpAddr:    fs.String("tcp", "", "host:port of a TCP serial bridge, used instead of -device"),
		logFile:    fs.String("log-file", "", "Also write logs to this file, with rotation"),
		metrics:    fs.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9120)"),
		baud:       fs.Int("baud", 0, "Baud rate (default from config)"),
		duration:   fs.Duration("duration", time.Second, "Read duration; with -stream, stop after this long (0 runs until interrupted)"),
		stream:     fs.Bool("stream", false, "Read continuously until interrupted"),
		debug:      fs.Bool("debug", false, "Enable debug logging"),
	}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	return f, nil
}

// apply overrides file and environment settings with explicit flags
func (f *flags) apply(cfg *config.Config) {
	if *f.device != "" {
		cfg.Device.Port = *f.device
	}
	if *f.tcpAddr != "" {
		cfg.Device.TCP = *f.tcpAddr
	}
	if *f.baud > 0 {
		cfg.Device.BaudRate = *f.baud
	}
	if *f.logFile != "" {
		cfg.Logging.File.Filename = *f.logFile
	}
	if *f.metrics != "" {
		cfg.Metrics.Enable = true
		cfg.Metrics.Addr = *f.metrics
	}
	if *f.debug {
		cfg.Logging.Level = zerolog.DebugLevel.String()
	}
}

func newTransport(cfg config.DeviceConfig) (uhf.Transport, error) {
	switch {
	case cfg.TCP != "":
		return tcp.New(cfg.TCP), nil
	case cfg.Port != "":
		return uart.New(cfg.Port, cfg.BaudRate), nil
	default:
		return nil, errors.New("no device configured, use -device or -tcp")
	}
}

func main() {
	if err := realMain(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func realMain(args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		return err
	}
	f.apply(cfg)

	log, logCloser, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	rc, err := cfg.ReaderConfig()
	if err != nil {
		return err
	}
	t, err := newTransport(cfg.Device)
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	opts := []uhf.Option{uhf.WithConfig(rc), uhf.WithLogger(log)}
	if cfg.Metrics.Enable {
		reg = metrics.NewRegistry()
		opts = append(opts, uhf.WithObserver(metrics.New(reg)))
	}

	device, err := uhf.New(t, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = device.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	err = device.Connect(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if v := device.VersionInfo(); v != nil {
		log.Info().Stringer("version", v).Str("transport", string(t.Type())).Msg("connected")
	}

	if !*f.stream {
		return readOnce(device, *f.duration, stdout)
	}
	return stream(device, cfg, reg, *f.duration, log, stdout)
}

func readOnce(device *uhf.Device, d time.Duration, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), d+connectTimeout)
	defer cancel()

	records, err := device.Read(ctx, d)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	for _, r := range records {
		printTag(stdout, r)
	}
	_, _ = fmt.Fprintf(stdout, "%d tag(s)\n", len(records))
	return nil
}

// readerActor runs background reading until it is interrupted or ends on
// its own, returning the error that ended it
func readerActor(reader *polling.Reader) (execute func() error, interrupt func(error)) {
	stop := make(chan struct{})
	execute = func() error {
		if err := reader.StartReading(context.Background()); err != nil {
			return err
		}
		select {
		case <-stop:
			return nil
		case <-reader.Done():
			return reader.Err()
		}
	}
	interrupt = func(error) {
		reader.StopReading()
		close(stop)
	}
	return execute, interrupt
}

func stream(
	device *uhf.Device, cfg *config.Config, reg *prometheus.Registry,
	d time.Duration, log zerolog.Logger, stdout io.Writer,
) error {
	reader, err := polling.NewReader(device, nil)
	if err != nil {
		return err
	}

	reader.AddReadListener(func(r uhf.TagReadRecord) { printTag(stdout, r) })
	reader.AddExceptionListener(func(err error) {
		log.Warn().Err(err).Msg("reader exception")
	})
	switch strings.ToLower(cfg.Read.Reports) {
	case "status":
		if err := reader.AddStatusListener(func(s uhf.StatusReport) { printStatus(stdout, s) }); err != nil {
			return err
		}
	case "stats":
		if err := reader.AddStatsListener(func(s uhf.ReaderStats) { printStats(stdout, s) }); err != nil {
			return err
		}
	}

	var g run.Group
	g.Add(readerActor(reader))
	if reg != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Add(func() error {
			log.Info().Str("addr", cfg.Metrics.Addr).Str("path", cfg.Metrics.Path).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	if d > 0 {
		timer := time.NewTimer(d)
		cancelTimer := make(chan struct{})
		g.Add(func() error {
			select {
			case <-timer.C:
			case <-cancelTimer:
			}
			return nil
		}, func(error) {
			timer.Stop()
			close(cancelTimer)
		})
	}
	g.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	stats := reader.Stats()
	log.Info().
		Int64("cycles", stats.Cycles).
		Int64("sessions", stats.Sessions).
		Int64("tags", stats.Tags).
		Int64("failures", stats.Failures).
		Msg("reading stopped")

	var sig run.SignalError
	if errors.As(err, &sig) {
		return nil
	}
	return err
}
