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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInjected is a convenience error for fault injection.
var ErrInjected = errors.New("injected hal failure")

// StreamFaults configures the errors returned by a MockStream.
type StreamFaults struct {
	SetBufferSize error
	Start         error
	Stop          error
	Close         error
	Write         error
	Read          error
	SetVolume     error
}

// MockBackend implements Backend for testing without hardware dependencies.
// It records every call and flags handle misuse: I/O after close, close while I/O is in
// flight, and deinit with streams still open.
type MockBackend struct {
	mu            sync.Mutex
	initialized   bool
	inits         int
	deinits       int
	initError     error
	deinitError   error
	openError     error
	faults        StreamFaults
	readGenerator func([]byte) int
	readLimit     int
	ioDelay       time.Duration
	streams       []*MockStream
	streamCounter int
	calls         []string
	writes        [][]byte
	violations    []string
}

// NewMockBackend creates a new mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// SetInitError configures the backend to return an error on Init().
func (m *MockBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetDeinitError configures the backend to return an error on Deinit().
func (m *MockBackend) SetDeinitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deinitError = err
}

// SetOpenError configures the backend to return an error on OpenStream().
func (m *MockBackend) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openError = err
}

// SetStreamFaults configures the faults of streams opened from now on.
func (m *MockBackend) SetStreamFaults(f StreamFaults) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = f
}

// SetReadGenerator sets a function that fills capture buffers and returns the byte
// count to report.
func (m *MockBackend) SetReadGenerator(gen func([]byte) int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readGenerator = gen
}

// SetReadLimit caps the bytes returned by a single Read. Zero means no cap.
func (m *MockBackend) SetReadLimit(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = n
}

// SetIODelay makes every Read and Write block for d, simulating hardware pacing.
func (m *MockBackend) SetIODelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ioDelay = d
}

// Init initializes the mock HAL.
func (m *MockBackend) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "init")
	if m.initError != nil {
		return m.initError
	}
	m.inits++
	m.initialized = true
	return nil
}

// Deinit releases the mock HAL.
func (m *MockBackend) Deinit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "deinit")
	if m.deinitError != nil {
		return m.deinitError
	}
	open := 0
	for _, s := range m.streams {
		if !s.isClosed() {
			open++
		}
	}
	if open > 0 {
		m.violations = append(m.violations, fmt.Sprintf("deinit with %d open streams", open))
	}
	m.deinits++
	m.initialized = false
	return nil
}

// OpenStream opens a mock stream.
func (m *MockBackend) OpenStream(attrs *StreamAttributes, dev *Device, cb EventCallback) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "open")
	if !m.initialized {
		return nil, fmt.Errorf("mock hal not initialized")
	}
	if m.openError != nil {
		return nil, m.openError
	}

	stream := &MockStream{
		id:       fmt.Sprintf("stream_%d", m.streamCounter),
		backend:  m,
		attrs:    *attrs,
		device:   *dev,
		callback: cb,
		faults:   m.faults,
	}
	m.streamCounter++
	m.streams = append(m.streams, stream)
	return stream, nil
}

func (m *MockBackend) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *MockBackend) violation(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, fmt.Sprintf(format, args...))
}

// Calls returns the ordered HAL call log, e.g. "open", "start", "stop", "close".
func (m *MockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CountCalls returns how often call appears in the call log.
func (m *MockBackend) CountCalls(call string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Streams returns every stream opened so far.
func (m *MockBackend) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockStream(nil), m.streams...)
}

// OpenStreams returns the number of streams not yet closed.
func (m *MockBackend) OpenStreams() int {
	n := 0
	for _, s := range m.Streams() {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

// Initialized reports whether Init succeeded without a later Deinit.
func (m *MockBackend) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Writes returns every buffer passed to a successful Write.
func (m *MockBackend) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]byte, len(m.writes))
	copy(result, m.writes)
	return result
}

// Violations returns the handle misuse detected so far.
func (m *MockBackend) Violations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.violations...)
}

// MockStream implements Stream for testing.
type MockStream struct {
	mu       sync.Mutex
	id       string
	backend  *MockBackend
	attrs    StreamAttributes
	device   Device
	callback EventCallback
	faults   StreamFaults
	in, out  BufferConfig
	started  bool
	closed   bool
	volumes  []Volume
	inflight atomic.Int32
}

// ID returns the stream identifier.
func (s *MockStream) ID() string { return s.id }

// Attributes returns the attributes the stream was opened with.
func (s *MockStream) Attributes() StreamAttributes { return s.attrs }

// Device returns the device the stream was opened on.
func (s *MockStream) Device() Device { return s.device }

// BufferConfig returns the configured input and output buffer geometry.
func (s *MockStream) BufferConfig() (in, out BufferConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.in, s.out
}

// Volumes returns every volume vector applied to the stream.
func (s *MockStream) Volumes() []Volume {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Volume(nil), s.volumes...)
}

// Started reports whether the stream is running.
func (s *MockStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Emit delivers an event to the stream's callback, if any.
func (s *MockStream) Emit(event uint32, data []byte) {
	if s.callback != nil {
		s.callback(event, data)
	}
}

func (s *MockStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockStream) checkOpen(op string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.backend.violation("%s on closed %s", op, s.id)
		return fmt.Errorf("%s: stream closed", op)
	}
	return nil
}

// SetBufferSize records the buffer geometry.
func (s *MockStream) SetBufferSize(in, out *BufferConfig) error {
	s.backend.record("set_buffer_size")
	if err := s.checkOpen("set_buffer_size"); err != nil {
		return err
	}
	if s.faults.SetBufferSize != nil {
		return s.faults.SetBufferSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in, s.out = *in, *out
	return nil
}

// Start starts the mock stream.
func (s *MockStream) Start() error {
	s.backend.record("start")
	if err := s.checkOpen("start"); err != nil {
		return err
	}
	if s.faults.Start != nil {
		return s.faults.Start
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("stream already started")
	}
	s.started = true
	return nil
}

// Stop stops the mock stream.
func (s *MockStream) Stop() error {
	s.backend.record("stop")
	if err := s.checkOpen("stop"); err != nil {
		return err
	}
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return s.faults.Stop
}

// Close closes the mock stream. The handle is released even when a close fault is
// configured.
func (s *MockStream) Close() error {
	s.backend.record("close")
	if err := s.checkOpen("close"); err != nil {
		return err
	}
	if n := s.inflight.Load(); n > 0 {
		s.backend.violation("close of %s with %d I/O calls in flight", s.id, n)
	}
	s.mu.Lock()
	s.closed = true
	s.started = false
	s.mu.Unlock()
	return s.faults.Close
}

// Write records p as played back.
func (s *MockStream) Write(p []byte) (int, error) {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	if err := s.checkOpen("write"); err != nil {
		return 0, err
	}
	if s.faults.Write != nil {
		return 0, s.faults.Write
	}

	data := make([]byte, len(p))
	copy(data, p)

	m := s.backend
	m.mu.Lock()
	m.writes = append(m.writes, data)
	delay := m.ioDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return len(p), nil
}

// Read fills p from the read generator, or with a ramp pattern by default.
func (s *MockStream) Read(p []byte) (int, error) {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	if err := s.checkOpen("read"); err != nil {
		return 0, err
	}
	if s.faults.Read != nil {
		return 0, s.faults.Read
	}

	m := s.backend
	m.mu.Lock()
	gen, limit, delay := m.readGenerator, m.readLimit, m.ioDelay
	m.mu.Unlock()

	if limit > 0 && limit < len(p) {
		p = p[:limit]
	}
	n := len(p)
	if gen != nil {
		n = min(gen(p), len(p))
	} else {
		for i := range p {
			p[i] = byte(i)
		}
	}

	if delay > 0 {
		time.Sleep(delay)
	}
	return n, nil
}

// SetVolume records v.
func (s *MockStream) SetVolume(v *Volume) error {
	s.backend.record("set_volume")
	if err := s.checkOpen("set_volume"); err != nil {
		return err
	}
	if s.faults.SetVolume != nil {
		return s.faults.SetVolume
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes = append(s.volumes, Volume{Pairs: append([]VolumePair(nil), v.Pairs...)})
	return nil
}
