// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes one capture session: where the raw data comes from
// (a UDP port per timing link, or an FTDI USB device), where to put it,
// and whom to alert when an output file stalls.
type Config struct {
	Addr   string      `yaml:"addr"`   // UDP [host]:port to listen on
	Device FTDIConfig  `yaml:"device"` // external USB TDC, when set
	OutDir string      `yaml:"outdir"` // directory for raw output files
	Mail   AlertConfig `yaml:"mail"`   // stall alerting, optional
}

// FTDIConfig identifies an FTDI USB device by vendor and product ID.
type FTDIConfig struct {
	VID uint16 `yaml:"vid"`
	PID uint16 `yaml:"pid"`
}

// Enabled reports whether an FTDI device was configured.
func (cfg FTDIConfig) Enabled() bool {
	return cfg.VID != 0 || cfg.PID != 0
}

// AlertConfig holds the SMTP settings for stall alert mails.
type AlertConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	To       []string `yaml:"to"`
}

// Enabled reports whether the alert settings are complete enough to
// send mail.
func (cfg AlertConfig) Enabled() bool {
	return cfg.Server != "" && cfg.Port != 0 &&
		cfg.Username != "" && cfg.Password != "" &&
		len(cfg.To) != 0
}

// LoadConfig reads and parses a capture configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capture: could not read config %q: %w", path, err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("capture: could not parse config %q: %w", path, err)
	}

	if cfg.Addr == "" && !cfg.Device.Enabled() {
		return nil, fmt.Errorf("capture: config %q declares no data source", path)
	}
	return &cfg, nil
}
