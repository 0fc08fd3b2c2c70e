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

// Package host defines the contract the bridge needs from the host stream framework and
// provides Local, an in-process clock-driven implementation.
package host

import (
	"fmt"

	"github.com/loqalabs/loqa-pal-bridge/internal/format"
)

// State is the lifecycle state of a host stream.
type State int

const (
	StateError State = iota - 1
	StateUnconnected
	StateConnecting
	StatePaused
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateError:
		return "error"
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StatePaused:
		return "paused"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Direction of a host stream relative to the graph.
type Direction int

const (
	// DirectionInput streams consume buffers produced by the graph (a sink).
	DirectionInput Direction = iota
	// DirectionOutput streams produce buffers for the graph (a source).
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionInput {
		return "input"
	}
	return "output"
}

// Stream connection flags.
const (
	FlagAutoConnect uint32 = 1 << iota
	FlagNoConvert
	FlagMapBuffers
	FlagRTProcess
)

// StreamParams describes how a stream connects: its direction, the single format it
// offers, and the buffer pool it needs.
type StreamParams struct {
	Direction  Direction
	Format     format.Info
	Buffers    uint32
	BufferSize uint32
	Stride     uint32
	Flags      uint32
}

// Chunk describes the valid region of a buffer.
type Chunk struct {
	Offset uint32
	Size   uint32
	Stride int32
}

// Buffer is one buffer of the exchange queue. len(Data) is the buffer's maximum size.
type Buffer struct {
	Data  []byte
	Chunk Chunk
	// Requested is the frame count the graph asks for, 0 when it has no preference.
	Requested uint64
	// Frames is the frame count produced, set by the producer.
	Frames uint64
}

// MaxSize returns the buffer capacity in bytes.
func (b *Buffer) MaxSize() uint32 {
	return uint32(len(b.Data))
}

// Listener receives stream events. StateChanged and FormatChanged arrive on the host's
// control thread; Process arrives on its real-time thread.
type Listener interface {
	StateChanged(old, state State, err error)
	Process()
	FormatChanged(info format.Info)
	Destroyed()
}

// CoreListener receives errors of the connection to the host server. Listeners may
// implement it in addition to Listener.
type CoreListener interface {
	CoreError(id uint32, res int, message string)
}

// CoreID is the object id of the core connection.
const CoreID = 0

// Stream is a host stream endpoint.
type Stream interface {
	AddListener(l Listener)
	RemoveListener(l Listener)
	Connect(params StreamParams) error
	// DequeueBuffer returns the next buffer to process, or nil when none is available.
	DequeueBuffer() *Buffer
	// QueueBuffer returns a dequeued buffer to the host.
	QueueBuffer(b *Buffer) error
	// RequestTeardown asks the host to destroy the owning endpoint. It does not block.
	RequestTeardown()
}
