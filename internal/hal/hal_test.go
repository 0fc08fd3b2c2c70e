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
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAttributes(dir Direction) (*StreamAttributes, *Device) {
	media := MediaConfig{
		SampleRate: 48000,
		BitWidth:   16,
		Channels:   []ChannelID{ChannelFL, ChannelFR},
		Format:     FormatDefaultPCM,
	}
	attrs := &StreamAttributes{Type: StreamLowLatency, Direction: dir}
	if dir == DirectionInput {
		attrs.In = media
	} else {
		attrs.Out = media
	}
	return attrs, &Device{ID: DeviceOutSpeaker, Config: media}
}

// TestServiceLifecycle tests reference counted HAL initialization
func TestServiceLifecycle(t *testing.T) {
	t.Run("init_once_for_many_acquires", func(t *testing.T) {
		backend := NewMockBackend()
		svc := NewService(backend)

		require.NoError(t, svc.Acquire())
		require.NoError(t, svc.Acquire())
		assert.Equal(t, 2, svc.Refs())
		assert.Equal(t, 1, backend.CountCalls("init"))

		require.NoError(t, svc.Release())
		assert.True(t, backend.Initialized(), "should stay initialized while referenced")

		require.NoError(t, svc.Release())
		assert.False(t, backend.Initialized())
		assert.Equal(t, 1, backend.CountCalls("deinit"))
	})

	t.Run("release_without_acquire", func(t *testing.T) {
		backend := NewMockBackend()
		svc := NewService(backend)

		assert.NoError(t, svc.Release())
		assert.Zero(t, backend.CountCalls("deinit"))
	})

	t.Run("init_failure", func(t *testing.T) {
		backend := NewMockBackend()
		backend.SetInitError(errors.New("agm unavailable"))
		svc := NewService(backend)

		err := svc.Acquire()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agm unavailable")
		assert.Zero(t, svc.Refs())
	})

	t.Run("open_requires_acquire", func(t *testing.T) {
		svc := NewService(NewMockBackend())
		attrs, dev := testAttributes(DirectionOutput)

		_, err := svc.OpenStream(attrs, dev, nil)
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("concurrent_acquire", func(t *testing.T) {
		backend := NewMockBackend()
		svc := NewService(backend)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, svc.Acquire())
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, backend.CountCalls("init"))
		assert.Equal(t, 16, svc.Refs())
	})
}

// TestMockStream tests the mock HAL stream
func TestMockStream(t *testing.T) {
	open := func(t *testing.T, backend *MockBackend, dir Direction) *MockStream {
		require.NoError(t, backend.Init())
		attrs, dev := testAttributes(dir)
		s, err := backend.OpenStream(attrs, dev, nil)
		require.NoError(t, err)
		return s.(*MockStream)
	}

	t.Run("lifecycle_call_log", func(t *testing.T) {
		backend := NewMockBackend()
		s := open(t, backend, DirectionOutput)

		require.NoError(t, s.SetBufferSize(&BufferConfig{}, &BufferConfig{Count: 4, Size: 1024}))
		require.NoError(t, s.Start())
		assert.True(t, s.Started())
		require.NoError(t, s.Stop())
		require.NoError(t, s.Close())

		assert.Equal(t, []string{"init", "open", "set_buffer_size", "start", "stop", "close"}, backend.Calls())
		_, out := s.BufferConfig()
		assert.Equal(t, BufferConfig{Count: 4, Size: 1024}, out)
		assert.Empty(t, backend.Violations())
	})

	t.Run("write_records_data", func(t *testing.T) {
		backend := NewMockBackend()
		s := open(t, backend, DirectionOutput)

		n, err := s.Write([]byte{1, 2, 3, 4})
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, [][]byte{{1, 2, 3, 4}}, backend.Writes())
	})

	t.Run("read_limit", func(t *testing.T) {
		backend := NewMockBackend()
		backend.SetReadLimit(256)
		s := open(t, backend, DirectionInput)

		n, err := s.Read(make([]byte, 512))
		require.NoError(t, err)
		assert.Equal(t, 256, n)
	})

	t.Run("read_generator", func(t *testing.T) {
		backend := NewMockBackend()
		backend.SetReadGenerator(func(p []byte) int {
			for i := range p {
				p[i] = 0xAA
			}
			return len(p) / 2
		})
		s := open(t, backend, DirectionInput)

		buf := make([]byte, 8)
		n, err := s.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, byte(0xAA), buf[7])
	})

	t.Run("use_after_close_is_flagged", func(t *testing.T) {
		backend := NewMockBackend()
		s := open(t, backend, DirectionOutput)
		require.NoError(t, s.Close())

		_, err := s.Write([]byte{0})
		assert.Error(t, err)
		assert.NotEmpty(t, backend.Violations())
	})

	t.Run("close_during_io_is_flagged", func(t *testing.T) {
		backend := NewMockBackend()
		backend.SetIODelay(50 * time.Millisecond)
		s := open(t, backend, DirectionOutput)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = s.Write(make([]byte, 16))
		}()
		time.Sleep(10 * time.Millisecond)
		_ = s.Close()
		<-done

		assert.NotEmpty(t, backend.Violations())
	})

	t.Run("deinit_with_open_streams_is_flagged", func(t *testing.T) {
		backend := NewMockBackend()
		open(t, backend, DirectionOutput)

		require.NoError(t, backend.Deinit())
		assert.Equal(t, 1, backend.OpenStreams())
		assert.NotEmpty(t, backend.Violations())
	})

	t.Run("faults", func(t *testing.T) {
		backend := NewMockBackend()
		backend.SetStreamFaults(StreamFaults{Start: ErrInjected, Close: ErrInjected})
		s := open(t, backend, DirectionOutput)

		assert.ErrorIs(t, s.Start(), ErrInjected)
		assert.ErrorIs(t, s.Close(), ErrInjected)
		assert.Zero(t, backend.OpenStreams(), "close fault still releases the handle")
	})

	t.Run("events", func(t *testing.T) {
		backend := NewMockBackend()
		require.NoError(t, backend.Init())
		attrs, dev := testAttributes(DirectionOutput)

		var got uint32
		s, err := backend.OpenStream(attrs, dev, func(event uint32, _ []byte) { got = event })
		require.NoError(t, err)
		s.(*MockStream).Emit(7, nil)
		assert.Equal(t, uint32(7), got)
	})
}

// TestSoftwareGain tests PortAudio software gain scaling
func TestSoftwareGain(t *testing.T) {
	assert.Equal(t, int16(1000), scale(1000, 1))
	assert.Equal(t, int16(500), scale(1000, 0.5))
	assert.Equal(t, int16(32767), scale(30000, 2))
	assert.Equal(t, int16(-32768), scale(-30000, 2))
	assert.Equal(t, int16(0), scale(1234, 0))
}

func isCIEnvironment() bool {
	for _, v := range []string{"CI", "CONTINUOUS_INTEGRATION", "GITHUB_ACTIONS", "GITLAB_CI"} {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

// TestPortAudioBackend tests the PortAudio backend against the host's devices
func TestPortAudioBackend(t *testing.T) {
	if isCIEnvironment() {
		t.Skip("Skipping PortAudio tests in CI environment")
	}

	t.Run("open_requires_init", func(t *testing.T) {
		backend := NewPortAudioBackend()
		attrs, dev := testAttributes(DirectionOutput)

		_, err := backend.OpenStream(attrs, dev, nil)
		assert.Error(t, err)
	})

	t.Run("deinit_without_init", func(t *testing.T) {
		assert.NoError(t, NewPortAudioBackend().Deinit())
	})

	t.Run("rejects_non_16_bit", func(t *testing.T) {
		backend := NewPortAudioBackend()
		if err := backend.Init(); err != nil {
			t.Skipf("PortAudio initialization failed (may be expected): %v", err)
		}
		defer func() { _ = backend.Deinit() }()

		attrs, dev := testAttributes(DirectionOutput)
		attrs.Out.BitWidth = 24
		_, err := backend.OpenStream(attrs, dev, nil)
		assert.Error(t, err)
	})

	t.Run("buffer_size_sets_period", func(t *testing.T) {
		backend := NewPortAudioBackend()
		if err := backend.Init(); err != nil {
			t.Skipf("PortAudio initialization failed (may be expected): %v", err)
		}
		defer func() { _ = backend.Deinit() }()

		attrs, dev := testAttributes(DirectionOutput)
		s, err := backend.OpenStream(attrs, dev, nil)
		require.NoError(t, err)
		require.NoError(t, s.SetBufferSize(&BufferConfig{}, &BufferConfig{Count: 4, Size: 1024}))
		assert.Equal(t, 256, s.(*PortAudioStream).frames)

		assert.Error(t, s.SetBufferSize(&BufferConfig{}, &BufferConfig{Count: 4, Size: 2}))
		require.NoError(t, s.Close())
	})
}
