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

// Package config loads the readtags configuration from a YAML file and
// UHF_ environment variables
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	uhf "github.com/ZaparooProject/go-uhf"
	"github.com/spf13/viper"
)

// DeviceConfig selects and tunes the connection to the module
type DeviceConfig struct {
	Port             string        `mapstructure:"port"`
	TCP              string        `mapstructure:"tcp"`
	BaudRate         int           `mapstructure:"baudRate"`
	CommandTimeout   time.Duration `mapstructure:"commandTimeout"`
	TransportTimeout time.Duration `mapstructure:"transportTimeout"`
}

// FilterConfig mirrors uhf.FilterConfig
type FilterConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	UniqueByAntenna   bool `mapstructure:"uniqueByAntenna"`
	UniqueByData      bool `mapstructure:"uniqueByData"`
	UniqueByProtocol  bool `mapstructure:"uniqueByProtocol"`
	RecordHighestRSSI bool `mapstructure:"recordHighestRSSI"`
}

// ReadConfig describes what and how to read
type ReadConfig struct {
	Protocol       string        `mapstructure:"protocol"`
	Reports        string        `mapstructure:"reports"`
	Antennas       []int         `mapstructure:"antennas"`
	Filter         FilterConfig  `mapstructure:"filter"`
	AntennaCount   int           `mapstructure:"antennaCount"`
	OnTime         time.Duration `mapstructure:"onTime"`
	OffTime        time.Duration `mapstructure:"offTime"`
	AccessPassword uint32        `mapstructure:"accessPassword"`
}

// LumberjackConfig configures the rotating log file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig configures zerolog output
type LoggingConfig struct {
	Level string           `mapstructure:"level"`
	File  LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr   string `mapstructure:"addr"`
	Path   string `mapstructure:"path"`
	Enable bool   `mapstructure:"enable"`
}

// Config is the file level configuration
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Read    ReadConfig    `mapstructure:"read"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Load reads path (optional) and applies UHF_ environment overrides, for
// example UHF_DEVICE_PORT or UHF_READ_ONTIME.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("readtags")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("UHF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// running without a file relies on defaults and the environment
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.port", "")
	v.SetDefault("device.tcp", "")
	v.SetDefault("device.baudRate", 115200)
	v.SetDefault("device.commandTimeout", "1s")
	v.SetDefault("device.transportTimeout", "0s")

	v.SetDefault("read.protocol", "GEN2")
	v.SetDefault("read.reports", "none")
	v.SetDefault("read.antennas", []int{1})
	v.SetDefault("read.antennaCount", 4)
	v.SetDefault("read.onTime", "250ms")
	v.SetDefault("read.offTime", "0s")
	v.SetDefault("read.accessPassword", 0)
	v.SetDefault("read.filter.enabled", true)
	v.SetDefault("read.filter.uniqueByAntenna", false)
	v.SetDefault("read.filter.uniqueByData", false)
	v.SetDefault("read.filter.uniqueByProtocol", true)
	v.SetDefault("read.filter.recordHighestRSSI", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 28)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("metrics.enable", false)
	v.SetDefault("metrics.addr", ":9120")
	v.SetDefault("metrics.path", "/metrics")
}

// ReaderConfig builds the library configuration
func (c *Config) ReaderConfig() (*uhf.Config, error) {
	out := uhf.DefaultConfig()

	if c.Read.AntennaCount < 1 {
		return nil, fmt.Errorf("%w: antenna count %d", uhf.ErrInvalidParameter, c.Read.AntennaCount)
	}
	if err := out.SetAntennaMap(uhf.DefaultAntennaPortMapping(c.Read.AntennaCount)); err != nil {
		return nil, err
	}

	protocol, err := uhf.ParseTagProtocol(c.Read.Protocol)
	if err != nil {
		return nil, err
	}
	plan := uhf.NewSimpleReadPlan(c.Read.Antennas...)
	plan.Protocol = protocol
	if err := out.SetReadPlan(plan); err != nil {
		return nil, err
	}

	if err := out.SetAsyncOnTime(c.Read.OnTime); err != nil {
		return nil, err
	}
	if err := out.SetAsyncOffTime(c.Read.OffTime); err != nil {
		return nil, err
	}
	if c.Device.CommandTimeout > 0 {
		if err := out.SetCommandTimeout(c.Device.CommandTimeout); err != nil {
			return nil, err
		}
	}
	if c.Device.TransportTimeout > 0 {
		if err := out.SetTransportTimeout(c.Device.TransportTimeout); err != nil {
			return nil, err
		}
	}
	if c.Device.BaudRate > 0 {
		out.SetBaudRate(c.Device.BaudRate)
	}
	out.SetAccessPassword(c.Read.AccessPassword)
	out.SetTagFilter(uhf.FilterConfig{
		Enabled:           c.Read.Filter.Enabled,
		UniqueByAntenna:   c.Read.Filter.UniqueByAntenna,
		UniqueByData:      c.Read.Filter.UniqueByData,
		UniqueByProtocol:  c.Read.Filter.UniqueByProtocol,
		RecordHighestRSSI: c.Read.Filter.RecordHighestRSSI,
	})

	switch strings.ToLower(c.Read.Reports) {
	case "", "none":
	case "status":
		out.SetStatusFlags(uhf.ReportFrequency | uhf.ReportTemperature | uhf.ReportAntenna)
	case "stats":
		out.SetStatsFlags(uhf.ReportAll)
	default:
		return nil, fmt.Errorf("%w: reports must be none, status or stats", uhf.ErrInvalidParameter)
	}
	return out, nil
}
