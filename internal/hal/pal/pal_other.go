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

//go:build !linux

package pal

import (
	"errors"

	"github.com/loqalabs/loqa-pal-bridge/internal/hal"
)

// ErrUnsupported is returned on platforms without a PAL client library.
var ErrUnsupported = errors.New("pal backend is only available on linux")

// Backend is unavailable on this platform.
type Backend struct{}

// NewBackend returns a backend whose Init always fails.
func NewBackend() *Backend { return &Backend{} }

// Load always fails on this platform.
func Load() error { return ErrUnsupported }

func (b *Backend) Init() error   { return ErrUnsupported }
func (b *Backend) Deinit() error { return nil }

func (b *Backend) OpenStream(*hal.StreamAttributes, *hal.Device, hal.EventCallback) (hal.Stream, error) {
	return nil, ErrUnsupported
}
