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

// Package bridge connects one host stream endpoint to one HAL stream. The host drives
// the lifecycle through state notifications and the data path through process cycles;
// the bridge opens the HAL stream on STREAMING, closes it on PAUSED, and asks the host to
// tear the endpoint down on ERROR or UNCONNECTED.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/loqalabs/loqa-pal-bridge/internal/format"
	"github.com/loqalabs/loqa-pal-bridge/internal/hal"
	"github.com/loqalabs/loqa-pal-bridge/internal/host"
	"github.com/loqalabs/loqa-pal-bridge/internal/logging"
)

// State is the bridge lifecycle state.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StatePaused
	StateStreaming
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StatePaused:
		return "paused"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Observer is notified after every bridge state transition. It is called without the
// bridge lock held and must not block.
type Observer interface {
	BridgeStateChanged(name string, from, to State, err error)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithPumpLogger sets the logger used on the process path.
func WithPumpLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.pumpLog = l }
}

// WithObserver registers an observer for state transitions.
func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observers = append(b.observers, o) }
}

// Bridge owns at most one HAL stream for one host endpoint. The handle is non-nil only
// while streaming. Lifecycle handlers take the write lock to open and close it; process
// cycles hold the read lock across every HAL call, so a close never overlaps I/O.
type Bridge struct {
	plan      *Plan
	endpoint  host.Stream
	svc       *hal.Service
	log       *slog.Logger
	pumpLog   *slog.Logger
	observers []Observer

	mu         sync.RWMutex
	stream     hal.Stream
	state      State
	hostFormat format.Info
	destroyed  bool

	teardownOnce sync.Once
	teardowns    atomic.Int32
	stats        pumpCounters
}

// New resolves the plan, acquires the HAL service and connects endpoint. Configuration
// errors are reported before any HAL call.
func New(props, streamProps format.Getter, endpoint host.Stream, svc *hal.Service, opts ...Option) (*Bridge, error) {
	plan, err := NewPlan(props, streamProps)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		plan:     plan,
		endpoint: endpoint,
		svc:      svc,
		state:    StateUnconnected,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logging.For(logging.ComponentBridge)
	}
	if b.pumpLog == nil {
		b.pumpLog = logging.For(logging.ComponentPump)
	}
	b.log = b.log.With("node", plan.Name)
	b.pumpLog = b.pumpLog.With("node", plan.Name)

	if err := svc.Acquire(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}

	b.log.Info("bridge created", "plan", plan.String(), "frame_size", plan.FrameSize)

	endpoint.AddListener(b)
	if err := endpoint.Connect(plan.StreamParams()); err != nil {
		endpoint.RemoveListener(b)
		if rerr := svc.Release(); rerr != nil {
			b.log.Warn("failed to release hal", "error", rerr)
		}
		return nil, fmt.Errorf("failed to connect stream: %w", err)
	}
	return b, nil
}

// Plan returns the resolved stream plan.
func (b *Bridge) Plan() *Plan { return b.plan }

// Name returns the node name.
func (b *Bridge) Name() string { return b.plan.Name }

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// HandleOpen reports whether a HAL stream is open.
func (b *Bridge) HandleOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stream != nil
}

// HostFormat returns the format last negotiated by the host.
func (b *Bridge) HostFormat() format.Info {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hostFormat
}

// TeardownRequests returns how many times teardown was requested from the host.
func (b *Bridge) TeardownRequests() int {
	return int(b.teardowns.Load())
}

// StateChanged handles a host lifecycle notification.
func (b *Bridge) StateChanged(old, state host.State, err error) {
	b.log.Debug("host state changed", "old", old.String(), "state", state.String(), "error", err)

	switch state {
	case host.StateConnecting:
		b.transition(StateConnecting)
	case host.StatePaused:
		b.pause()
	case host.StateStreaming:
		b.start()
	case host.StateError, host.StateUnconnected:
		if err != nil {
			b.log.Error("host stream failed", "error", err)
		}
		b.shutdown(err)
	}
}

// transition moves to a state that involves no HAL work.
func (b *Bridge) transition(to State) {
	b.mu.Lock()
	from := b.state
	if from == StateClosed || from == StateError {
		b.mu.Unlock()
		return
	}
	b.state = to
	b.mu.Unlock()
	b.notify(from, to, nil)
}

func (b *Bridge) pause() {
	b.mu.Lock()
	from := b.state
	if from == StateClosed || from == StateError {
		b.mu.Unlock()
		return
	}
	b.closeStreamLocked()
	b.state = StatePaused
	b.mu.Unlock()
	b.notify(from, StatePaused, nil)
}

func (b *Bridge) start() {
	b.mu.Lock()
	from := b.state
	switch {
	case from != StatePaused && from != StateConnecting:
		b.mu.Unlock()
		b.log.Debug("ignoring streaming notification", "state", from.String())
		return
	case b.stream != nil:
		b.mu.Unlock()
		return
	}

	s, err := b.openLocked()
	if err != nil {
		b.state = StateError
		b.mu.Unlock()
		b.log.Error("failed to start hal stream", "error", err)
		b.notify(from, StateError, err)
		b.requestTeardown()
		return
	}
	b.stream = s
	b.state = StateStreaming

	if b.plan.Playback() {
		if err := s.SetVolume(BuildVolume(b.plan, 1.0)); err != nil {
			b.log.Warn("failed to apply default volume", "error", err)
		}
	}
	b.mu.Unlock()

	b.log.Info("hal stream started", "direction", b.plan.Direction.String(), "device", b.plan.Device.String())
	b.notify(from, StateStreaming, nil)
}

// openLocked opens, sizes and starts a HAL stream. On failure no handle is left open.
func (b *Bridge) openLocked() (hal.Stream, error) {
	s, err := b.svc.OpenStream(b.plan.Attributes(), b.plan.HALDevice(), b.onHALEvent)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open stream: %w", ErrResource, err)
	}

	in, out := b.plan.BufferConfigs()
	if err := s.SetBufferSize(in, out); err != nil {
		b.closeFailed(s)
		return nil, fmt.Errorf("%w: failed to set buffer size: %w", ErrResource, err)
	}
	if err := s.Start(); err != nil {
		b.closeFailed(s)
		return nil, fmt.Errorf("%w: failed to start stream: %w", ErrResource, err)
	}
	return s, nil
}

func (b *Bridge) closeFailed(s hal.Stream) {
	if err := s.Close(); err != nil {
		b.log.Warn("failed to close hal stream", "error", fmt.Errorf("%w: %w", ErrShutdown, err))
	}
}

// closeStreamLocked stops and closes the open handle, if any. Close is attempted even when
// stop fails; failures are logged and the handle is released either way.
func (b *Bridge) closeStreamLocked() error {
	s := b.stream
	if s == nil {
		return nil
	}
	b.stream = nil

	var errs []error
	if err := s.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if err := s.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if len(errs) > 0 {
		err := fmt.Errorf("%w: %w", ErrShutdown, errors.Join(errs...))
		b.log.Warn("hal stream teardown incomplete", "error", err)
		return err
	}
	b.log.Info("hal stream closed")
	return nil
}

// shutdown handles ERROR and UNCONNECTED: the handle is released and the host asked to
// destroy the endpoint.
func (b *Bridge) shutdown(cause error) {
	b.mu.Lock()
	from := b.state
	if from == StateClosed {
		b.mu.Unlock()
		return
	}
	b.closeStreamLocked()
	b.state = StateClosed
	b.mu.Unlock()

	b.notify(from, StateClosed, cause)
	b.requestTeardown()
}

// requestTeardown asks the host to destroy the endpoint, at most once. It must not be
// called with the lock held.
func (b *Bridge) requestTeardown() {
	b.teardownOnce.Do(func() {
		b.teardowns.Add(1)
		b.log.Info("requesting endpoint teardown")
		b.endpoint.RequestTeardown()
	})
}

// Destroy releases everything the bridge owns. It is safe to call more than once and
// while a process cycle is in flight.
func (b *Bridge) Destroy() error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil
	}
	b.destroyed = true
	from := b.state
	err := b.closeStreamLocked()
	b.state = StateClosed
	b.mu.Unlock()

	b.endpoint.RemoveListener(b)
	if rerr := b.svc.Release(); rerr != nil {
		b.log.Warn("failed to release hal", "error", rerr)
		err = errors.Join(err, fmt.Errorf("%w: %w", ErrShutdown, rerr))
	}
	if from != StateClosed {
		b.notify(from, StateClosed, nil)
	}
	b.log.Info("bridge destroyed")
	return err
}

// Destroyed handles destruction of the host endpoint.
func (b *Bridge) Destroyed() {
	_ = b.Destroy()
}

// FormatChanged records the format negotiated by the host. The bridge does not convert,
// so a mismatch is only reported.
func (b *Bridge) FormatChanged(info format.Info) {
	b.mu.Lock()
	b.hostFormat = info
	b.mu.Unlock()

	if info.Format != b.plan.Info.Format || info.Rate != b.plan.Info.Rate || info.Channels != b.plan.Info.Channels {
		b.log.Warn("host negotiated a different format", "format", info.Format.String(),
			"rate", info.Rate, "channels", info.Channels)
		return
	}
	b.log.Debug("host format negotiated", "format", info.Format.String(), "rate", info.Rate,
		"channels", info.Channels, "position", format.FormatPosition(info.Position))
}

// CoreError handles an error on the host connection. Losing the core connection requests
// teardown.
func (b *Bridge) CoreError(id uint32, res int, message string) {
	b.log.Error("host core error", "id", id, "res", res, "message", message)
	if id == host.CoreID && res == -int(syscall.EPIPE) {
		b.requestTeardown()
	}
}

func (b *Bridge) onHALEvent(event uint32, data []byte) {
	b.log.Debug("hal stream event", "event", event, "size", len(data))
}

func (b *Bridge) notify(from, to State, err error) {
	if from == to {
		return
	}
	b.log.Debug("bridge state changed", "from", from.String(), "to", to.String())
	for _, o := range b.observers {
		o.BridgeStateChanged(b.plan.Name, from, to, err)
	}
}

var (
	_ host.Listener     = (*Bridge)(nil)
	_ host.CoreListener = (*Bridge)(nil)
)
