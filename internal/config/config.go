/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package config holds the bridge's property bag, the module argument parser, and the
// command line configuration of the pal-bridge binary.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by -backend.
const (
	BackendMock      = "mock"
	BackendPortAudio = "portaudio"
	BackendPAL       = "pal"
)

// Config holds command line configuration.
type Config struct {
	Args       string
	Backend    string
	NATSURL    string
	Input      string
	Output     string
	Framed     bool
	LogLevel   string
	LogFormat  string
	Duration   time.Duration
	ModuleID   uint
	Properties *Properties
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend:   BackendPAL,
		Input:     "-",
		Output:    "-",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Parse reads command line arguments into a Config and parses the module argument string.
func Parse(name string, args []string) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.Args, "args", cfg.Args, "module arguments, e.g. '{ media.class = Audio/Sink node.name = pal_sink_speaker }'")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "HAL backend: pal, portaudio or mock")
	fs.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL for state events and volume control (disabled when empty)")
	fs.StringVar(&cfg.Input, "input", cfg.Input, "playback source file ('-' for stdin)")
	fs.StringVar(&cfg.Output, "output", cfg.Output, "capture destination file ('-' for stdout)")
	fs.BoolVar(&cfg.Framed, "framed", cfg.Framed, "use framed audio I/O instead of raw PCM")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "stop after this long (0 runs until input ends or a signal)")
	fs.UintVar(&cfg.ModuleID, "module-id", cfg.ModuleID, "module id used for the default node name")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	props, err := ParseProperties(cfg.Args)
	if err != nil {
		return nil, fmt.Errorf("invalid -args: %w", err)
	}
	cfg.Properties = props
	return cfg, nil
}

// Validate checks enumerated options.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMock, BackendPortAudio, BackendPAL:
	default:
		return fmt.Errorf("invalid backend: %s", c.Backend)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}
	if c.Duration < 0 {
		return fmt.Errorf("invalid duration: %s", c.Duration)
	}
	return nil
}
