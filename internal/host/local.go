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

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-pal-bridge/internal/logging"
)

// ErrNotDequeued is returned when a buffer is queued that is not currently dequeued.
var ErrNotDequeued = errors.New("buffer is not dequeued")

// LocalConfig configures a Local stream.
type LocalConfig struct {
	// Source feeds input streams; each cycle fills one buffer from it.
	Source io.Reader
	// Sink receives the chunks produced by output streams.
	Sink io.Writer
	// RequestFrames is the frame count requested from output streams, 0 for none.
	RequestFrames uint64
	// Quantum overrides the cycle period derived from the buffer size and rate.
	Quantum time.Duration
	Logger  *slog.Logger
}

// Stats counts buffer traffic.
type Stats struct {
	Cycles      uint64
	Dequeued    uint64
	Queued      uint64
	BadQueues   uint64
	Outstanding int
}

// Local is an in-process host stream. Lifecycle changes are delivered on the caller's
// goroutine and process cycles on the goroutine running Run, as a real host would.
type Local struct {
	cfg LocalConfig
	log *slog.Logger

	mu          sync.Mutex
	listeners   []Listener
	params      StreamParams
	connected   bool
	state       State
	free        []*Buffer
	ready       []*Buffer
	returned    []*Buffer
	outstanding map[*Buffer]bool
	stats       Stats

	done      chan struct{}
	doneOnce  sync.Once
	drained   chan struct{}
	drainOnce sync.Once
}

// NewLocal creates an unconnected local stream.
func NewLocal(cfg LocalConfig) *Local {
	log := cfg.Logger
	if log == nil {
		log = logging.For(logging.ComponentHost)
	}
	return &Local{
		cfg:         cfg,
		log:         log,
		state:       StateUnconnected,
		outstanding: make(map[*Buffer]bool),
		done:        make(chan struct{}),
		drained:     make(chan struct{}),
	}
}

// AddListener registers l for stream events.
func (s *Local) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// RemoveListener unregisters l.
func (s *Local) RemoveListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Local) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Listener(nil), s.listeners...)
}

// Listeners returns the number of registered listeners.
func (s *Local) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Connect allocates the buffer pool, negotiates the offered format, and moves the stream
// through CONNECTING to PAUSED.
func (s *Local) Connect(params StreamParams) error {
	if params.Buffers == 0 || params.BufferSize == 0 {
		return fmt.Errorf("invalid buffer params: %d x %d", params.Buffers, params.BufferSize)
	}
	if params.Format.FrameSize() == 0 {
		return fmt.Errorf("format %s has no frame size", params.Format.Format)
	}

	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return fmt.Errorf("stream already connected")
	}
	s.connected = true
	s.params = params
	s.free = s.free[:0]
	for i := uint32(0); i < params.Buffers; i++ {
		s.free = append(s.free, &Buffer{Data: make([]byte, params.BufferSize)})
	}
	s.mu.Unlock()

	s.log.Debug("stream connected", "direction", params.Direction.String(),
		"buffers", params.Buffers, "size", params.BufferSize, "format", params.Format.Format.String())

	s.setState(StateConnecting, nil)
	for _, l := range s.snapshot() {
		l.FormatChanged(params.Format)
	}
	s.setState(StatePaused, nil)
	return nil
}

func (s *Local) setState(state State, err error) {
	s.mu.Lock()
	old := s.state
	s.state = state
	s.mu.Unlock()

	if old == state {
		return
	}
	for _, l := range s.snapshot() {
		l.StateChanged(old, state, err)
	}
}

// State returns the current state.
func (s *Local) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activate starts streaming.
func (s *Local) Activate() { s.setState(StateStreaming, nil) }

// Pause stops streaming.
func (s *Local) Pause() { s.setState(StatePaused, nil) }

// Fail moves the stream into the error state.
func (s *Local) Fail(err error) { s.setState(StateError, err) }

// Disconnect moves the stream to UNCONNECTED.
func (s *Local) Disconnect() { s.setState(StateUnconnected, nil) }

// CoreFailed reports a core connection error to listeners implementing CoreListener.
func (s *Local) CoreFailed(res int, message string) {
	for _, l := range s.snapshot() {
		if cl, ok := l.(CoreListener); ok {
			cl.CoreError(CoreID, res, message)
		}
	}
}

// CoreBrokenPipe reports the loss of the core connection.
func (s *Local) CoreBrokenPipe() {
	s.CoreFailed(-int(syscall.EPIPE), "connection lost")
}

// Destroy notifies listeners that the stream is gone and drops them.
func (s *Local) Destroy() {
	for _, l := range s.snapshot() {
		l.Destroyed()
	}
	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()
}

// RequestTeardown closes Done.
func (s *Local) RequestTeardown() {
	s.doneOnce.Do(func() {
		s.log.Info("teardown requested")
		close(s.done)
	})
}

// Done is closed once teardown has been requested.
func (s *Local) Done() <-chan struct{} { return s.done }

// Drained is closed once an input stream's source is exhausted.
func (s *Local) Drained() <-chan struct{} { return s.drained }

// DequeueBuffer returns a filled buffer for input streams and an empty one for output
// streams.
func (s *Local) DequeueBuffer() *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := &s.free
	if s.params.Direction == DirectionInput {
		pool = &s.ready
	}
	if len(*pool) == 0 {
		return nil
	}
	b := (*pool)[0]
	*pool = (*pool)[1:]
	s.outstanding[b] = true
	s.stats.Dequeued++
	return b
}

// QueueBuffer returns a dequeued buffer.
func (s *Local) QueueBuffer(b *Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.outstanding[b] {
		s.stats.BadQueues++
		return ErrNotDequeued
	}
	delete(s.outstanding, b)
	s.returned = append(s.returned, b)
	s.stats.Queued++
	return nil
}

// Stats returns the buffer counters.
func (s *Local) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Outstanding = len(s.outstanding)
	return st
}

// Cycle runs one process cycle if the stream is streaming.
func (s *Local) Cycle() error {
	s.mu.Lock()
	streaming := s.state == StateStreaming
	params := s.params
	s.mu.Unlock()
	if !streaming {
		return nil
	}

	if params.Direction == DirectionInput {
		if err := s.fill(params); err != nil {
			return err
		}
	} else {
		s.prepare()
	}

	for _, l := range s.snapshot() {
		l.Process()
	}

	s.mu.Lock()
	s.stats.Cycles++
	returned := s.returned
	s.returned = nil
	s.mu.Unlock()

	var err error
	if params.Direction == DirectionOutput {
		err = s.drain(returned)
	}

	s.mu.Lock()
	s.free = append(s.free, returned...)
	s.mu.Unlock()
	return err
}

// fill reads one buffer from the source into the ready queue.
func (s *Local) fill(params StreamParams) error {
	s.mu.Lock()
	if len(s.free) == 0 {
		s.mu.Unlock()
		return nil
	}
	b := s.free[0]
	s.free = s.free[1:]
	s.mu.Unlock()

	n := 0
	var err error
	if s.cfg.Source != nil {
		n, err = io.ReadFull(s.cfg.Source, b.Data)
	} else {
		clear(b.Data)
		n = len(b.Data)
	}
	b.Chunk = Chunk{Offset: 0, Size: uint32(n), Stride: int32(params.Format.FrameSize())}

	if err != nil {
		s.drainOnce.Do(func() { close(s.drained) })
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			s.mu.Lock()
			s.free = append(s.free, b)
			s.mu.Unlock()
			return fmt.Errorf("failed to read source: %w", err)
		}
	}

	s.mu.Lock()
	if n == 0 {
		s.free = append(s.free, b)
	} else {
		s.ready = append(s.ready, b)
	}
	s.mu.Unlock()
	return nil
}

func (s *Local) prepare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.free {
		b.Chunk = Chunk{}
		b.Requested = s.cfg.RequestFrames
		b.Frames = 0
	}
}

func (s *Local) drain(bufs []*Buffer) error {
	if s.cfg.Sink == nil {
		return nil
	}
	for _, b := range bufs {
		end := min(uint64(b.Chunk.Offset)+uint64(b.Chunk.Size), uint64(len(b.Data)))
		start := min(uint64(b.Chunk.Offset), end)
		if _, err := s.cfg.Sink.Write(b.Data[start:end]); err != nil {
			return fmt.Errorf("failed to write sink: %w", err)
		}
	}
	return nil
}

// QuantumFor returns the cycle period of params: one buffer's worth of frames.
func QuantumFor(params StreamParams) time.Duration {
	frameSize := params.Format.FrameSize()
	if frameSize == 0 || params.Format.Rate == 0 {
		return 10 * time.Millisecond
	}
	frames := params.BufferSize / frameSize
	return time.Duration(frames) * time.Second / time.Duration(params.Format.Rate)
}

// Run drives process cycles until ctx is done or teardown is requested.
func (s *Local) Run(ctx context.Context) error {
	s.mu.Lock()
	params := s.params
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return fmt.Errorf("stream not connected")
	}

	quantum := s.cfg.Quantum
	if quantum <= 0 {
		quantum = QuantumFor(params)
	}
	ticker := time.NewTicker(quantum)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			if err := s.Cycle(); err != nil {
				return err
			}
		}
	}
}

var _ Stream = (*Local)(nil)
