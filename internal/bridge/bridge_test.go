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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-pal-bridge/internal/config"
	"github.com/loqalabs/loqa-pal-bridge/internal/format"
	"github.com/loqalabs/loqa-pal-bridge/internal/hal"
	"github.com/loqalabs/loqa-pal-bridge/internal/host"
	"github.com/loqalabs/loqa-pal-bridge/internal/logging"
)

// countingEndpoint is a local host stream that counts teardown requests.
type countingEndpoint struct {
	*host.Local
	teardowns atomic.Int32
}

func (e *countingEndpoint) RequestTeardown() {
	e.teardowns.Add(1)
	e.Local.RequestTeardown()
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
}

func (o *recordingObserver) BridgeStateChanged(_ string, from, to State, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, from.String()+"->"+to.String())
}

func (o *recordingObserver) Transitions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.transitions...)
}

func testProperties(t *testing.T, kv map[string]string) (*config.Properties, *config.Properties) {
	t.Helper()
	props := config.NewProperties(kv)
	config.ApplyDefaults(props, 100, 1)
	sp, err := config.StreamProperties(props)
	require.NoError(t, err)
	return props, sp
}

func newLocalBridge(t *testing.T, kv map[string]string, backend *hal.MockBackend, cfg host.LocalConfig, opts ...Option) (*Bridge, *countingEndpoint) {
	t.Helper()
	props, sp := testProperties(t, kv)
	cfg.Logger = logging.Discard()
	ep := &countingEndpoint{Local: host.NewLocal(cfg)}
	opts = append([]Option{WithLogger(logging.Discard()), WithPumpLogger(logging.Discard())}, opts...)

	b, err := New(props, sp, ep, hal.NewService(backend), opts...)
	require.NoError(t, err)
	return b, ep
}

// TestNewBridge tests bridge construction and host connection
func TestNewBridge(t *testing.T) {
	t.Run("connect_leaves_bridge_paused", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		assert.Equal(t, StatePaused, b.State())
		assert.False(t, b.HandleOpen())
		assert.Equal(t, []string{"init"}, backend.Calls())
		assert.Equal(t, 1, ep.Listeners())
		assert.Equal(t, format.FormatS16LE, b.HostFormat().Format)
	})

	t.Run("configuration_error_before_any_hal_call", func(t *testing.T) {
		backend := hal.NewMockBackend()
		props, sp := testProperties(t, map[string]string{config.KeyAudioFormat: "BOGUS"})
		ep := host.NewLocal(host.LocalConfig{Logger: logging.Discard()})

		_, err := New(props, sp, ep, hal.NewService(backend), WithLogger(logging.Discard()))
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Empty(t, backend.Calls())
		assert.Zero(t, ep.Listeners())
	})

	t.Run("hal_init_failure", func(t *testing.T) {
		backend := hal.NewMockBackend()
		backend.SetInitError(errors.New("no agm"))
		props, sp := testProperties(t, nil)
		ep := host.NewLocal(host.LocalConfig{Logger: logging.Discard()})

		_, err := New(props, sp, ep, hal.NewService(backend), WithLogger(logging.Discard()))
		assert.ErrorIs(t, err, ErrResource)
		assert.Zero(t, ep.Listeners())
	})

	t.Run("connect_failure_releases_hal", func(t *testing.T) {
		backend := hal.NewMockBackend()
		props, sp := testProperties(t, nil)
		ep := host.NewLocal(host.LocalConfig{Logger: logging.Discard()})
		require.NoError(t, ep.Connect(host.StreamParams{Buffers: 1, BufferSize: 4,
			Format: format.Info{Format: format.FormatS16LE, Channels: 2}}))
		svc := hal.NewService(backend)

		_, err := New(props, sp, ep, svc, WithLogger(logging.Discard()))
		assert.Error(t, err)
		assert.Zero(t, svc.Refs())
		assert.False(t, backend.Initialized())
	})
}

// TestStateMachine tests the lifecycle driven by host notifications
func TestStateMachine(t *testing.T) {
	t.Run("streaming_opens_sizes_starts_and_sets_volume", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()

		assert.Equal(t, StateStreaming, b.State())
		assert.True(t, b.HandleOpen())
		assert.Equal(t, []string{"init", "open", "set_buffer_size", "start", "set_volume"}, backend.Calls())

		s := backend.Streams()[0]
		in, out := s.BufferConfig()
		assert.Equal(t, hal.BufferConfig{}, in)
		assert.Equal(t, hal.BufferConfig{Count: 4, Size: 1024}, out)
		assert.Equal(t, hal.DeviceOutSpeaker, s.Device().ID)
		assert.Equal(t, hal.StreamLowLatency, s.Attributes().Type)

		vols := s.Volumes()
		require.Len(t, vols, 1)
		assert.Equal(t, []hal.VolumePair{{ChannelMask: 6, Gain: 1}, {ChannelMask: 6, Gain: 1}}, vols[0].Pairs)
	})

	t.Run("capture_skips_default_volume", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, map[string]string{config.KeyMediaClass: "Audio/Source"}, backend, host.LocalConfig{})

		ep.Activate()

		assert.Equal(t, StateStreaming, b.State())
		assert.Zero(t, backend.CountCalls("set_volume"))
		in, _ := backend.Streams()[0].BufferConfig()
		assert.Equal(t, hal.BufferConfig{Count: 8, Size: 512}, in)
	})

	t.Run("volume_failure_is_not_fatal", func(t *testing.T) {
		backend := hal.NewMockBackend()
		backend.SetStreamFaults(hal.StreamFaults{SetVolume: hal.ErrInjected})
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()

		assert.Equal(t, StateStreaming, b.State())
		assert.True(t, b.HandleOpen())
		assert.Zero(t, ep.teardowns.Load())
	})

	t.Run("pause_stops_and_closes", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()
		ep.Pause()

		assert.Equal(t, StatePaused, b.State())
		assert.False(t, b.HandleOpen())
		calls := backend.Calls()
		assert.Equal(t, []string{"stop", "close"}, calls[len(calls)-2:])
		assert.Zero(t, backend.OpenStreams())
	})

	t.Run("stop_failure_still_closes", func(t *testing.T) {
		backend := hal.NewMockBackend()
		backend.SetStreamFaults(hal.StreamFaults{Stop: hal.ErrInjected})
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()
		ep.Pause()

		assert.False(t, b.HandleOpen())
		assert.Equal(t, 1, backend.CountCalls("close"))
		assert.Zero(t, backend.OpenStreams())
	})

	t.Run("error_requests_exactly_one_teardown", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()
		ep.Fail(errors.New("graph failure"))
		ep.Disconnect()

		assert.Equal(t, StateClosed, b.State())
		assert.False(t, b.HandleOpen())
		assert.Equal(t, int32(1), ep.teardowns.Load())
		assert.Equal(t, 1, b.TeardownRequests())
		assert.Zero(t, backend.OpenStreams())

		select {
		case <-ep.Done():
		default:
			t.Fatal("teardown should close Done")
		}
	})

	t.Run("unconnected_requests_teardown", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Disconnect()

		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, int32(1), ep.teardowns.Load())
	})

	t.Run("streaming_after_close_is_ignored", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Disconnect()
		ep.Activate()

		assert.Equal(t, StateClosed, b.State())
		assert.Zero(t, backend.CountCalls("open"))
	})

	t.Run("open_failure_escalates", func(t *testing.T) {
		backend := hal.NewMockBackend()
		backend.SetOpenError(errors.New("device busy"))
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()

		assert.Equal(t, StateError, b.State())
		assert.False(t, b.HandleOpen())
		assert.Equal(t, int32(1), ep.teardowns.Load())
	})

	t.Run("buffer_size_failure_closes_handle", func(t *testing.T) {
		backend := hal.NewMockBackend()
		backend.SetStreamFaults(hal.StreamFaults{SetBufferSize: hal.ErrInjected})
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()

		assert.Equal(t, StateError, b.State())
		assert.Equal(t, []string{"init", "open", "set_buffer_size", "close"}, backend.Calls())
		assert.Zero(t, backend.OpenStreams())
		assert.Equal(t, int32(1), ep.teardowns.Load())
	})

	t.Run("start_failure_closes_handle", func(t *testing.T) {
		backend := hal.NewMockBackend()
		backend.SetStreamFaults(hal.StreamFaults{Start: hal.ErrInjected})
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()
		ep.Fail(nil)

		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, []string{"init", "open", "set_buffer_size", "start", "close"}, backend.Calls())
		assert.Zero(t, backend.OpenStreams())
		assert.Equal(t, int32(1), ep.teardowns.Load())
	})

	t.Run("pause_resume_cycle_opens_and_closes_twice", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()
		ep.Pause()
		ep.Activate()
		assert.True(t, b.HandleOpen())
		ep.Pause()

		assert.Equal(t, 2, backend.CountCalls("open"))
		assert.Equal(t, 2, backend.CountCalls("close"))
		assert.Empty(t, backend.Violations())
	})

	t.Run("observer_sees_transitions", func(t *testing.T) {
		backend := hal.NewMockBackend()
		obs := &recordingObserver{}
		_, ep := newLocalBridge(t, nil, backend, host.LocalConfig{}, WithObserver(obs))

		ep.Activate()
		ep.Pause()
		ep.Fail(nil)

		assert.Equal(t, []string{
			"unconnected->connecting",
			"connecting->paused",
			"paused->streaming",
			"streaming->paused",
			"paused->closed",
		}, obs.Transitions())
	})

	t.Run("core_broken_pipe_requests_teardown", func(t *testing.T) {
		backend := hal.NewMockBackend()
		_, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.CoreFailed(-1, "unrelated")
		assert.Zero(t, ep.teardowns.Load())

		ep.CoreBrokenPipe()
		ep.CoreBrokenPipe()
		assert.Equal(t, int32(1), ep.teardowns.Load())
	})

	t.Run("renegotiated_format_is_recorded_not_applied", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, _ := newLocalBridge(t, nil, backend, host.LocalConfig{})

		other := format.Info{Format: format.FormatS32LE, Rate: 16000, Channels: 1,
			Position: []format.Channel{format.ChannelMono}}
		b.FormatChanged(other)

		assert.Equal(t, other, b.HostFormat())
		assert.Equal(t, format.FormatS16LE, b.Plan().Info.Format)
		assert.Equal(t, uint32(48000), b.Plan().Info.Rate)
	})

	t.Run("hal_events_are_accepted", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()
		backend.Streams()[0].Emit(1, []byte{0, 1})
		assert.Equal(t, StateStreaming, b.State())
	})
}

// TestDestroy tests resource release on destruction
func TestDestroy(t *testing.T) {
	t.Run("destroy_is_idempotent", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()
		require.NoError(t, b.Destroy())
		require.NoError(t, b.Destroy())

		assert.Equal(t, StateClosed, b.State())
		assert.Zero(t, backend.OpenStreams())
		assert.Equal(t, 1, backend.CountCalls("deinit"))
		assert.Zero(t, ep.Listeners())
		assert.Empty(t, backend.Violations())
	})

	t.Run("host_destroy_releases_bridge", func(t *testing.T) {
		backend := hal.NewMockBackend()
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()
		ep.Destroy()

		assert.Equal(t, StateClosed, b.State())
		assert.False(t, backend.Initialized())
		assert.Zero(t, backend.OpenStreams())
	})

	t.Run("close_failure_reported_not_blocking", func(t *testing.T) {
		backend := hal.NewMockBackend()
		backend.SetStreamFaults(hal.StreamFaults{Stop: hal.ErrInjected, Close: hal.ErrInjected})
		b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

		ep.Activate()
		err := b.Destroy()

		assert.ErrorIs(t, err, ErrShutdown)
		assert.False(t, b.HandleOpen())
		assert.False(t, backend.Initialized())
	})

	t.Run("shared_service_stays_initialized", func(t *testing.T) {
		backend := hal.NewMockBackend()
		svc := hal.NewService(backend)
		props, sp := testProperties(t, nil)

		ep1 := host.NewLocal(host.LocalConfig{Logger: logging.Discard()})
		ep2 := host.NewLocal(host.LocalConfig{Logger: logging.Discard()})
		b1, err := New(props, sp, ep1, svc, WithLogger(logging.Discard()))
		require.NoError(t, err)
		b2, err := New(props, sp, ep2, svc, WithLogger(logging.Discard()))
		require.NoError(t, err)

		require.NoError(t, b1.Destroy())
		assert.True(t, backend.Initialized())
		require.NoError(t, b2.Destroy())
		assert.False(t, backend.Initialized())
		assert.Equal(t, 1, backend.CountCalls("init"))
	})
}

// TestSetVolume tests remote volume control
func TestSetVolume(t *testing.T) {
	backend := hal.NewMockBackend()
	b, ep := newLocalBridge(t, nil, backend, host.LocalConfig{})

	assert.ErrorIs(t, b.SetVolume(0.5), ErrInactive)

	ep.Activate()
	require.NoError(t, b.SetVolume(0.5))
	assert.Error(t, b.SetVolume(-1))

	vols := backend.Streams()[0].Volumes()
	require.Len(t, vols, 2)
	assert.Equal(t, float32(0.5), vols[1].Pairs[0].Gain)
}

// TestConcurrentLifecycle toggles the lifecycle while the host runs process cycles and
// checks that no HAL call overlaps a close.
func TestConcurrentLifecycle(t *testing.T) {
	for _, class := range []string{"Audio/Sink", "Audio/Source"} {
		t.Run(class, func(t *testing.T) {
			backend := hal.NewMockBackend()
			backend.SetIODelay(200 * time.Microsecond)
			b, ep := newLocalBridge(t, map[string]string{config.KeyMediaClass: class}, backend,
				host.LocalConfig{Quantum: 100 * time.Microsecond, RequestFrames: 64})

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- ep.Run(ctx) }()

			for i := 0; i < 25; i++ {
				ep.Activate()
				time.Sleep(time.Millisecond)
				ep.Pause()
			}
			cancel()
			assert.ErrorIs(t, <-done, context.Canceled)

			require.NoError(t, b.Destroy())
			assert.Empty(t, backend.Violations())
			assert.Zero(t, backend.OpenStreams())
			assert.Equal(t, 25, backend.CountCalls("open"))

			st := ep.Stats()
			assert.Zero(t, st.Outstanding)
			assert.Zero(t, st.BadQueues)
			assert.Equal(t, st.Dequeued, st.Queued)
		})
	}
}
