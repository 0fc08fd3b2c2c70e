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

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-pal-bridge/internal/format"
	"github.com/loqalabs/loqa-pal-bridge/internal/logging"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("frame writer closed")

// EncodeFormat encodes info as a format frame payload: rate (4 bytes), channels (2 bytes),
// name length (1 byte), sample format name, then one byte per channel role.
func EncodeFormat(info format.Info) []byte {
	name := info.Format.String()
	buf := make([]byte, 0, 7+len(name)+len(info.Position))
	buf = binary.BigEndian.AppendUint32(buf, info.Rate)
	buf = binary.BigEndian.AppendUint16(buf, uint16(info.Channels)) //nolint:gosec // G115: at most format.MaxChannels
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	for _, ch := range info.Position {
		buf = append(buf, byte(ch))
	}
	return buf
}

// DecodeFormat decodes a format frame payload.
func DecodeFormat(data []byte) (format.Info, error) {
	var info format.Info
	if len(data) < 7 {
		return info, fmt.Errorf("format payload too small: %d bytes", len(data))
	}
	info.Rate = binary.BigEndian.Uint32(data[0:4])
	info.Channels = uint32(binary.BigEndian.Uint16(data[4:6]))
	n := int(data[6])
	if len(data) < 7+n {
		return info, fmt.Errorf("format payload truncated")
	}
	info.Format = format.ParseFormat(string(data[7 : 7+n]))
	if info.Format == format.FormatUnknown {
		return info, fmt.Errorf("unknown sample format %q", data[7:7+n])
	}
	roles := data[7+n:]
	if len(roles) != int(info.Channels) {
		return info, fmt.Errorf("format has %d channels and %d positions", info.Channels, len(roles))
	}
	for _, r := range roles {
		info.Position = append(info.Position, format.Channel(r))
	}
	return info, nil
}

// Writer frames PCM written to it. A format frame is sent before the first PCM frame and
// an end frame on Close.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	info     format.Info
	sequence uint32
	started  bool
	closed   bool
	now      func() time.Time
	log      *slog.Logger
}

// NewWriter creates a framed writer for a stream of the given format.
func NewWriter(w io.Writer, info format.Info) *Writer {
	return &Writer{
		w:    w,
		info: info,
		now:  time.Now,
		log:  logging.For(logging.ComponentTransport),
	}
}

func (fw *Writer) writeFrame(t FrameType, data []byte) error {
	frame := NewFrame(t, fw.sequence, uint64(fw.now().UnixMicro()), data) //nolint:gosec // G115: timestamps are positive
	raw, err := frame.Serialize()
	if err != nil {
		return err
	}
	if _, err := fw.w.Write(raw); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", t, err)
	}
	fw.sequence++
	return nil
}

// Write sends p as one or more PCM frames.
func (fw *Writer) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return 0, ErrClosed
	}
	if !fw.started {
		if err := fw.writeFrame(FrameTypeFormat, EncodeFormat(fw.info)); err != nil {
			return 0, err
		}
		fw.started = true
	}

	written := 0
	for written < len(p) {
		n := min(len(p)-written, MaxDataSize)
		if err := fw.writeFrame(FrameTypePCM, p[written:written+n]); err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Close sends the end frame. It does not close the underlying writer.
func (fw *Writer) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return nil
	}
	fw.closed = true
	fw.log.Debug("closing framed stream", "frames", fw.sequence)
	return fw.writeFrame(FrameTypeEnd, nil)
}

// Reader returns the PCM payload of a framed stream. It ends with io.EOF at the end frame
// or at a clean end of the underlying reader.
type Reader struct {
	r       io.Reader
	pending []byte
	info    format.Info
	hasInfo bool
	next    uint32
	done    bool
	log     *slog.Logger
}

// NewReader creates a reader of a framed stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, log: logging.For(logging.ComponentTransport)}
}

// Format returns the stream format, once a format frame has been read.
func (fr *Reader) Format() (format.Info, bool) {
	return fr.info, fr.hasInfo
}

// ReadFormat reads up to and including the format frame.
func (fr *Reader) ReadFormat() (format.Info, error) {
	for !fr.hasInfo && !fr.done {
		if err := fr.readFrame(); err != nil {
			return format.Info{}, err
		}
	}
	if !fr.hasInfo {
		return format.Info{}, fmt.Errorf("stream has no format frame")
	}
	return fr.info, nil
}

func (fr *Reader) readFrame() error {
	frame, err := ReadFrame(fr.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			fr.done = true
		}
		return err
	}
	if frame.Sequence != fr.next {
		fr.log.Warn("frame sequence gap", "expected", fr.next, "got", frame.Sequence)
	}
	fr.next = frame.Sequence + 1

	switch frame.Type {
	case FrameTypeFormat:
		info, err := DecodeFormat(frame.Data)
		if err != nil {
			return err
		}
		fr.info, fr.hasInfo = info, true
	case FrameTypePCM:
		fr.pending = frame.Data
	case FrameTypeEnd:
		fr.done = true
		return io.EOF
	default:
		fr.log.Debug("skipping unknown frame", "type", frame.Type.String())
	}
	return nil
}

// Read implements io.Reader.
func (fr *Reader) Read(p []byte) (int, error) {
	for len(fr.pending) == 0 {
		if fr.done {
			return 0, io.EOF
		}
		if err := fr.readFrame(); err != nil {
			return 0, err
		}
	}
	n := copy(p, fr.pending)
	fr.pending = fr.pending[n:]
	return n, nil
}
