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

// Package transport implements the framed PCM stream used by the bridge CLI for capture
// output and playback input.
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary frame protocol: a fixed big-endian header followed by the payload.

// FrameType represents the type of frame being transmitted
type FrameType uint8

const (
	// FrameTypeFormat carries the stream format and precedes the first PCM frame.
	FrameTypeFormat FrameType = 0x01
	// FrameTypePCM carries interleaved samples.
	FrameTypePCM FrameType = 0x02
	// FrameTypeEnd marks the end of the stream.
	FrameTypeEnd FrameType = 0x03
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeFormat:
		return "format"
	case FrameTypePCM:
		return "pcm"
	case FrameTypeEnd:
		return "end"
	}
	return fmt.Sprintf("frame-type(%d)", uint8(t))
}

// Frame represents a binary frame in the protocol
type Frame struct {
	Type      FrameType
	Sequence  uint32
	Timestamp uint64
	Data      []byte
}

// FrameHeader represents the fixed-size frame header (20 bytes)
type FrameHeader struct {
	Magic     uint32    // 0x50414C42 ("PALB")
	Type      FrameType // Frame type (1 byte)
	Reserved  uint8     // Reserved (1 byte)
	Length    uint16    // Data payload length (2 bytes)
	Sequence  uint32    // Sequence number (4 bytes)
	Timestamp uint64    // Unix timestamp microseconds (8 bytes)
}

const (
	FrameMagic = 0x50414C42 // "PALB" in big-endian

	MaxFrameSize = 8192
	HeaderSize   = 20
	MaxDataSize  = MaxFrameSize - HeaderSize
)

// Serialize converts a frame to binary format
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", len(f.Data), MaxDataSize)
	}

	header := FrameHeader{
		Magic:     FrameMagic,
		Type:      f.Type,
		Length:    uint16(len(f.Data)), //nolint:gosec // G115: bounded by MaxDataSize above
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(f.Data)))
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}
	buf.Write(f.Data)
	return buf.Bytes(), nil
}

// DeserializeFrame converts binary data to a frame
func DeserializeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too small: %d bytes (min %d)", len(data), HeaderSize)
	}

	header, err := parseFrameHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}

	expectedSize := HeaderSize + int(header.Length)
	if len(data) != expectedSize {
		return nil, fmt.Errorf("frame size mismatch: got %d bytes, expected %d", len(data), expectedSize)
	}

	frame := &Frame{
		Type:      header.Type,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}
	if header.Length > 0 {
		frame.Data = append([]byte(nil), data[HeaderSize:]...)
	}
	return frame, nil
}

// parseFrameHeader parses just the header portion of frame data
func parseFrameHeader(headerData []byte) (*FrameHeader, error) {
	if len(headerData) != HeaderSize {
		return nil, fmt.Errorf("invalid header size: %d bytes (expected %d)", len(headerData), HeaderSize)
	}

	var header FrameHeader
	if err := binary.Read(bytes.NewReader(headerData), binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	if header.Magic != FrameMagic {
		return nil, fmt.Errorf("invalid frame magic: 0x%08X (expected 0x%08X)", header.Magic, FrameMagic)
	}
	if header.Length > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", header.Length, MaxDataSize)
	}
	return &header, nil
}

// ReadFrame reads one frame from r. It returns io.EOF only when r ends on a frame
// boundary.
func ReadFrame(r io.Reader) (*Frame, error) {
	headerData := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerData); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated frame header: %w", err)
		}
		return nil, err
	}
	header, err := parseFrameHeader(headerData)
	if err != nil {
		return nil, err
	}

	frame := &Frame{
		Type:      header.Type,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}
	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		if _, err := io.ReadFull(r, frame.Data); err != nil {
			return nil, fmt.Errorf("failed to read frame data: %w", io.ErrUnexpectedEOF)
		}
	}
	return frame, nil
}

// NewFrame creates a new frame with the specified parameters
func NewFrame(frameType FrameType, sequence uint32, timestamp uint64, data []byte) *Frame {
	return &Frame{
		Type:      frameType,
		Sequence:  sequence,
		Timestamp: timestamp,
		Data:      data,
	}
}

// Size returns the total serialized size of the frame
func (f *Frame) Size() int {
	return HeaderSize + len(f.Data)
}
