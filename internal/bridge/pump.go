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

package bridge

import (
	"fmt"
	"sync/atomic"

	"github.com/loqalabs/loqa-pal-bridge/internal/hal"
	"github.com/loqalabs/loqa-pal-bridge/internal/host"
)

type pumpCounters struct {
	cycles   atomic.Uint64
	empty    atomic.Uint64
	inactive atomic.Uint64
	bytes    atomic.Uint64
	ioErrors atomic.Uint64
}

// PumpStats counts process cycle outcomes.
type PumpStats struct {
	Cycles   uint64
	Empty    uint64
	Inactive uint64
	Bytes    uint64
	IOErrors uint64
}

// Stats returns the process cycle counters.
func (b *Bridge) Stats() PumpStats {
	return PumpStats{
		Cycles:   b.stats.cycles.Load(),
		Empty:    b.stats.empty.Load(),
		Inactive: b.stats.inactive.Load(),
		Bytes:    b.stats.bytes.Load(),
		IOErrors: b.stats.ioErrors.Load(),
	}
}

// Process moves one buffer between the host and the HAL. The buffer is queued back exactly
// once whatever the HAL returns. A missing handle means the stream is between lifecycle
// transitions and the cycle is skipped.
func (b *Bridge) Process() {
	buf := b.endpoint.DequeueBuffer()
	if buf == nil {
		b.stats.empty.Add(1)
		b.pumpLog.Warn("out of buffers")
		return
	}
	b.stats.cycles.Add(1)
	defer b.queue(buf)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stream == nil {
		b.stats.inactive.Add(1)
	}
	if b.plan.Playback() {
		b.write(b.stream, buf)
	} else {
		b.read(b.stream, buf)
	}
}

func (b *Bridge) queue(buf *host.Buffer) {
	if err := b.endpoint.QueueBuffer(buf); err != nil {
		b.pumpLog.Error("failed to queue buffer", "error", err)
	}
}

// ClampChunk returns the region of a buffer of the given capacity that the chunk may
// address: the offset is clamped to the capacity and the size to what remains after it.
func ClampChunk(c host.Chunk, capacity uint32) (offset, size uint32) {
	offset = min(c.Offset, capacity)
	size = min(c.Size, capacity-offset)
	return offset, size
}

func (b *Bridge) write(s hal.Stream, buf *host.Buffer) {
	if s == nil {
		return
	}
	offset, size := ClampChunk(buf.Chunk, buf.MaxSize())
	n, err := s.Write(buf.Data[offset : offset+size])
	if err != nil {
		b.stats.ioErrors.Add(1)
		b.pumpLog.Warn("hal write failed", "size", size, "error", fmt.Errorf("%w: %w", ErrTransientIO, err))
		return
	}
	if n > 0 {
		b.stats.bytes.Add(uint64(n))
	}
}

// CaptureSize returns how many bytes a capture cycle asks the HAL for: the requested frame
// count when the host gave one, else the whole buffer, never more than the buffer holds.
func CaptureSize(requested uint64, frameSize, capacity uint32) uint32 {
	if requested == 0 {
		return capacity
	}
	if frameSize == 0 {
		return 0
	}
	if requested > uint64(capacity)/uint64(frameSize) {
		return capacity
	}
	return uint32(requested * uint64(frameSize))
}

func (b *Bridge) read(s hal.Stream, buf *host.Buffer) {
	frameSize := b.plan.FrameSize
	target := CaptureSize(buf.Requested, frameSize, buf.MaxSize())

	n := 0
	if s != nil {
		var err error
		n, err = s.Read(buf.Data[:target])
		if err != nil {
			b.stats.ioErrors.Add(1)
			b.pumpLog.Warn("hal read failed", "size", target, "error", fmt.Errorf("%w: %w", ErrTransientIO, err))
			n = 0
		}
		n = max(0, min(n, int(target)))
		b.stats.bytes.Add(uint64(n))
	}

	buf.Chunk = host.Chunk{Offset: 0, Size: uint32(n), Stride: int32(frameSize)}
	buf.Frames = 0
	if frameSize > 0 {
		buf.Frames = uint64(n) / uint64(frameSize)
	}
}
