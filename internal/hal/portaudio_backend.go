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

package hal

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const defaultPortAudioFrames = 256

// PortAudioBackend implements Backend on the host's default PortAudio devices. It stands in
// for the vendor HAL on development machines: 16-bit PCM only, volume applied in software,
// and the requested device id is not used.
type PortAudioBackend struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioBackend creates a new PortAudio backend.
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// Init initializes the PortAudio subsystem.
func (p *PortAudioBackend) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	p.initialized = true
	return nil
}

// Deinit terminates the PortAudio subsystem.
func (p *PortAudioBackend) Deinit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}
	p.initialized = false
	return portaudio.Terminate()
}

// OpenStream prepares a stream. The PortAudio stream itself is opened on Start, once the
// buffer geometry is known.
func (p *PortAudioBackend) OpenStream(attrs *StreamAttributes, dev *Device, cb EventCallback) (Stream, error) {
	p.mu.Lock()
	initialized := p.initialized
	p.mu.Unlock()

	if !initialized {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	media := attrs.Media()
	if media.BitWidth != 16 {
		return nil, fmt.Errorf("PortAudio backend supports 16-bit PCM only, got %d-bit", media.BitWidth)
	}
	if len(media.Channels) == 0 {
		return nil, fmt.Errorf("stream has no channels")
	}

	return &PortAudioStream{
		isInput:  attrs.Direction == DirectionInput,
		channels: len(media.Channels),
		rate:     float64(media.SampleRate),
		frames:   defaultPortAudioFrames,
		gain:     1,
	}, nil
}

// PortAudioStream implements Stream using PortAudio blocking I/O.
type PortAudioStream struct {
	mu       sync.Mutex
	stream   *portaudio.Stream
	buffer   []int16
	pending  []byte
	isInput  bool
	channels int
	rate     float64
	frames   int
	gain     float32
}

// SetBufferSize sets the PortAudio period from the buffer size of the stream's direction.
func (p *PortAudioStream) SetBufferSize(in, out *BufferConfig) error {
	cfg := out
	if p.isInput {
		cfg = in
	}
	if cfg == nil || cfg.Size == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return fmt.Errorf("buffer size must be set before start")
	}
	frames := int(cfg.Size) / (p.channels * 2)
	if frames == 0 {
		return fmt.Errorf("buffer size %d smaller than one frame", cfg.Size)
	}
	p.frames = frames
	return nil
}

// Start opens the PortAudio stream if needed and starts it.
func (p *PortAudioStream) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		p.buffer = make([]int16, p.frames*p.channels)
		in, out := 0, p.channels
		if p.isInput {
			in, out = p.channels, 0
		}
		stream, err := portaudio.OpenDefaultStream(in, out, p.rate, p.frames, p.buffer)
		if err != nil {
			return fmt.Errorf("failed to open PortAudio stream: %w", err)
		}
		p.stream = stream
	}
	return p.stream.Start()
}

// Stop stops the audio stream.
func (p *PortAudioStream) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	p.pending = p.pending[:0]
	return p.stream.Stop()
}

// Close closes the audio stream.
func (p *PortAudioStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	err := p.stream.Close()
	p.stream = nil
	return err
}

// Write queues p and plays every complete period. A trailing partial period is held
// until the next call.
func (p *PortAudioStream) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return 0, fmt.Errorf("stream is not started")
	}
	if p.isInput {
		return 0, fmt.Errorf("cannot write to input stream")
	}

	p.pending = append(p.pending, data...)
	period := len(p.buffer) * 2
	for len(p.pending) >= period {
		for i := range p.buffer {
			s := int16(binary.LittleEndian.Uint16(p.pending[2*i:]))
			p.buffer[i] = scale(s, p.gain)
		}
		if err := p.stream.Write(); err != nil {
			return 0, err
		}
		p.pending = p.pending[:copy(p.pending, p.pending[period:])]
	}
	return len(data), nil
}

// Read fills data with captured samples, one period at a time.
func (p *PortAudioStream) Read(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return 0, fmt.Errorf("stream is not started")
	}
	if !p.isInput {
		return 0, fmt.Errorf("cannot read from output stream")
	}

	n := 0
	for n+1 < len(data) {
		if len(p.pending) == 0 {
			if err := p.stream.Read(); err != nil {
				return n, err
			}
			for _, s := range p.buffer {
				p.pending = binary.LittleEndian.AppendUint16(p.pending, uint16(scale(s, p.gain)))
			}
		}
		c := copy(data[n:], p.pending)
		c -= c % 2
		n += c
		p.pending = p.pending[:copy(p.pending, p.pending[c:])]
	}
	return n, nil
}

// SetVolume applies the first pair's gain to every channel in software.
func (p *PortAudioStream) SetVolume(v *Volume) error {
	if v == nil || len(v.Pairs) == 0 {
		return fmt.Errorf("empty volume vector")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = v.Pairs[0].Gain
	return nil
}

func scale(s int16, gain float32) int16 {
	if gain == 1 {
		return s
	}
	v := math.Round(float64(s) * float64(gain))
	return int16(max(math.MinInt16, min(math.MaxInt16, v)))
}
