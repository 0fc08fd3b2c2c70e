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

// Package logging provides the component-tagged slog logger shared by the bridge.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

const (
	ComponentBridge    Component = "bridge"
	ComponentPump      Component = "pump"
	ComponentHAL       Component = "hal"
	ComponentHost      Component = "host"
	ComponentNATS      Component = "nats"
	ComponentTransport Component = "transport"
)

// Format selects the handler used by the default logger.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var (
	level = new(slog.LevelVar)

	mu     sync.RWMutex
	output io.Writer = os.Stderr
	root   *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	root = slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))
}

// SetLevel sets the minimum level of the default logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Configure replaces the default logger with one writing to w in the given format.
func Configure(w io.Writer, format Format) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		root = slog.New(slog.NewJSONHandler(w, opts))
		return
	}
	root = slog.New(slog.NewTextHandler(w, opts))
}

// SetLogger replaces the default logger.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
}

// For returns the default logger tagged with component.
func For(c Component) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With("component", string(c))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
