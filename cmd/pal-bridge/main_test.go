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

package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-pal-bridge/internal/bridge"
	"github.com/loqalabs/loqa-pal-bridge/internal/format"
	"github.com/loqalabs/loqa-pal-bridge/internal/hal"
	"github.com/loqalabs/loqa-pal-bridge/internal/transport"
)

// TestRunCapture tests capture from the mock HAL into a file
func TestRunCapture(t *testing.T) {
	t.Run("raw_output", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "capture.pcm")

		err := run(context.Background(), []string{
			"-backend", "mock",
			"-args", "{ media.class = Audio/Source node.name = pal_source_speaker_mic }",
			"-output", out,
			"-duration", "60ms",
		}, nil, io.Discard, io.Discard)
		require.NoError(t, err)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
		assert.Zero(t, len(data)%4, "capture should be whole frames")
	})

	t.Run("framed_output", func(t *testing.T) {
		var out bytes.Buffer

		err := run(context.Background(), []string{
			"-backend", "mock",
			"-args", "{ media.class = Audio/Source audio.rate = 16000 }",
			"-framed",
			"-duration", "60ms",
		}, nil, &out, io.Discard)
		require.NoError(t, err)

		r := transport.NewReader(&out)
		info, err := r.ReadFormat()
		require.NoError(t, err)
		assert.Equal(t, uint32(16000), info.Rate)
		assert.Equal(t, format.FormatS16LE, info.Format)

		pcm, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.NotEmpty(t, pcm)
	})
}

// TestRunPlayback tests playback of a file into the mock HAL
func TestRunPlayback(t *testing.T) {
	t.Run("stops_when_input_ends", func(t *testing.T) {
		in := filepath.Join(t.TempDir(), "tone.pcm")
		require.NoError(t, os.WriteFile(in, make([]byte, 4096), 0o600))

		done := make(chan error, 1)
		go func() {
			done <- run(context.Background(), []string{"-backend", "mock", "-input", in}, nil, io.Discard, io.Discard)
		}()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("run did not stop at end of input")
		}
	})

	t.Run("framed_input_from_stdin", func(t *testing.T) {
		var wire bytes.Buffer
		w := transport.NewWriter(&wire, format.Info{
			Format:   format.FormatS16LE,
			Rate:     48000,
			Channels: 2,
			Position: []format.Channel{format.ChannelFL, format.ChannelFR},
		})
		_, err := w.Write(make([]byte, 2048))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		err = run(context.Background(), []string{"-backend", "mock", "-framed", "-duration", "2s"}, &wire, io.Discard, io.Discard)
		assert.NoError(t, err)
	})

	t.Run("framed_input_format_mismatch", func(t *testing.T) {
		inputs := []format.Info{
			{Format: format.FormatS32LE, Rate: 44100, Channels: 1, Position: []format.Channel{format.ChannelMono}},
			{Format: format.FormatS16LE, Rate: 16000, Channels: 2, Position: []format.Channel{format.ChannelFL, format.ChannelFR}},
			{Format: format.FormatS32LE, Rate: 48000, Channels: 1, Position: []format.Channel{format.ChannelMono}},
		}
		for _, info := range inputs {
			var wire bytes.Buffer
			w := transport.NewWriter(&wire, info)
			_, err := w.Write(make([]byte, 2048))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			err = run(context.Background(), []string{"-backend", "mock", "-framed", "-duration", "2s"}, &wire, io.Discard, io.Discard)
			assert.True(t, errors.Is(err, bridge.ErrConfiguration), "input %s %dHz %dch: %v", info.Format, info.Rate, info.Channels, err)
		}
	})

	t.Run("cancelled_context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := run(ctx, []string{"-backend", "mock"}, bytes.NewReader(make([]byte, 1<<20)), io.Discard, io.Discard)
		assert.NoError(t, err)
	})
}

// TestRunErrors tests configuration failures
func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"help", []string{"-h"}, flag.ErrHelp},
		{"unknown_format", []string{"-backend", "mock", "-args", "{ audio.format = BOGUS }"}, bridge.ErrConfiguration},
		{"float_format", []string{"-backend", "mock", "-args", "{ audio.format = F32 }"}, bridge.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, nil, io.Discard, io.Discard)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("invalid_backend", func(t *testing.T) {
		err := run(context.Background(), []string{"-backend", "alsa"}, nil, io.Discard, io.Discard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid backend")
	})

	t.Run("missing_input", func(t *testing.T) {
		err := run(context.Background(), []string{"-backend", "mock", "-input", "/nonexistent/file.pcm"}, nil, io.Discard, io.Discard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open input")
	})
}

func TestNewBackend(t *testing.T) {
	b, err := newBackend("mock")
	require.NoError(t, err)
	assert.IsType(t, &hal.MockBackend{}, b)

	b, err = newBackend("portaudio")
	require.NoError(t, err)
	assert.IsType(t, &hal.PortAudioBackend{}, b)

	_, err = newBackend("alsa")
	assert.True(t, err != nil && !errors.Is(err, flag.ErrHelp))
}
