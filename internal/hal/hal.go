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

// Package hal defines the audio hardware-abstraction layer the bridge drives, the
// process-wide service that owns its initialization, and the backends implementing it.
package hal

// Backend provides an abstraction layer over the vendor audio HAL.
// This enables dependency injection and makes testing hardware-independent.
type Backend interface {
	// Init initializes the HAL. Called once per process through Service.
	Init() error

	// Deinit releases the HAL.
	Deinit() error

	// OpenStream opens a stream on one physical device. The callback, when not nil,
	// receives asynchronous stream events.
	OpenStream(attrs *StreamAttributes, dev *Device, cb EventCallback) (Stream, error)
}

// Stream abstracts an open HAL stream handle.
type Stream interface {
	// SetBufferSize configures the input and output buffer geometry. The direction the
	// stream does not use carries a zero config.
	SetBufferSize(in, out *BufferConfig) error

	// Start the stream
	Start() error

	// Stop the stream
	Stop() error

	// Close the stream and release the handle
	Close() error

	// Write blocks until p is consumed by the HAL and returns the bytes written.
	Write(p []byte) (int, error)

	// Read blocks until up to len(p) bytes are captured and returns the bytes read.
	Read(p []byte) (int, error)

	// SetVolume applies a per-channel volume vector.
	SetVolume(v *Volume) error
}

// EventCallback is called by the HAL with stream events.
type EventCallback func(event uint32, data []byte)
