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

//go:build linux

// Package pal binds the vendor PAL client library at runtime with purego, so the bridge
// needs no cgo toolchain for the target.
package pal

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/loqalabs/loqa-pal-bridge/internal/hal"
)

// Layout constants mirrored from PalDefs.h.
const (
	maxChannels         = 64
	deviceNameMaxSize   = 128
	customKeyMaxSize    = 128
	streamInfoUnionSize = 64
)

type palChannelInfo struct {
	channels uint16
	chMap    [maxChannels]uint8
}

type palMediaConfig struct {
	sampleRate uint32
	bitWidth   uint32
	chInfo     palChannelInfo
	audFmtID   uint32
}

// palStreamInfo is the opt_stream_info member of the pal_stream_info_t union, padded to
// the union's size.
type palStreamInfo struct {
	version     int64
	size        int64
	durationUs  int64
	hasVideo    bool
	isStreaming bool
	_           [streamInfoUnionSize - 26]byte
}

type palStreamAttributes struct {
	streamType uint32
	_          uint32
	info       palStreamInfo
	flags      uint32
	direction  uint32
	inMedia    palMediaConfig
	outMedia   palMediaConfig
}

type palUSBAddress struct {
	cardID   int32
	deviceNo int32
}

type palDevice struct {
	id           uint32
	config       palMediaConfig
	address      palUSBAddress
	sndDevName   [deviceNameMaxSize]byte
	customConfig [customKeyMaxSize]byte
}

type palBufferConfig struct {
	bufCount        uintptr
	bufSize         uintptr
	maxMetadataSize uintptr
}

type palBuffer struct {
	buffer       unsafe.Pointer
	size         uintptr
	offset       uintptr
	ts           unsafe.Pointer
	flags        uint32
	metadataSize uintptr
	metadata     unsafe.Pointer
	frameIndex   uint64
}

var (
	agmInit                func() int32
	palInit                func() int32
	palDeinit              func()
	palStreamOpen          func(attrs *palStreamAttributes, nDevices uint32, devices *palDevice, nModifiers uint32, modifiers unsafe.Pointer, cb uintptr, cookie uint64, handle *uintptr) int32
	palStreamSetBufferSize func(handle uintptr, in, out *palBufferConfig) int32
	palStreamStart         func(handle uintptr) int32
	palStreamStop          func(handle uintptr) int32
	palStreamClose         func(handle uintptr) int32
	palStreamWrite         func(handle uintptr, buf *palBuffer) int
	palStreamRead          func(handle uintptr, buf *palBuffer) int
	palStreamSetVolume     func(handle uintptr, vol unsafe.Pointer) int32
)

var (
	loadOnce sync.Once
	loadErr  error

	callbackOnce sync.Once
	trampoline   uintptr
	callbacks    sync.Map // cookie -> hal.EventCallback
	nextCookie   atomic.Uint64
)

// Backend implements hal.Backend on libpalclient.
type Backend struct {
	mu          sync.Mutex
	initialized bool
}

// NewBackend creates a PAL backend. The library is loaded on Init.
func NewBackend() *Backend {
	return &Backend{}
}

// Load resolves the PAL library and its symbols once per process.
func Load() error {
	loadOnce.Do(func() { loadErr = loadLibrary() })
	return loadErr
}

func loadLibrary() error {
	var lastErr error
	for _, path := range libraryPaths("PAL_LIB_PATH", "libpalclient.so") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		if err := registerSymbols(handle); err != nil {
			_ = purego.Dlclose(handle)
			lastErr = err
			continue
		}
		loadAGM()
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libpalclient: %w", lastErr)
	}
	return errors.New("libpalclient not found in any standard location")
}

// loadAGM binds agm_init when the graph manager client is installed. Older PAL releases
// initialize it themselves.
func loadAGM() {
	for _, path := range libraryPaths("AGM_LIB_PATH", "libagmclient.so") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			continue
		}
		if _, err := purego.Dlsym(handle, "agm_init"); err != nil {
			_ = purego.Dlclose(handle)
			continue
		}
		purego.RegisterLibFunc(&agmInit, handle, "agm_init")
		return
	}
}

func registerSymbols(handle uintptr) error {
	symbols := []struct {
		fptr any
		name string
	}{
		{&palInit, "pal_init"},
		{&palDeinit, "pal_deinit"},
		{&palStreamOpen, "pal_stream_open"},
		{&palStreamSetBufferSize, "pal_stream_set_buffer_size"},
		{&palStreamStart, "pal_stream_start"},
		{&palStreamStop, "pal_stream_stop"},
		{&palStreamClose, "pal_stream_close"},
		{&palStreamWrite, "pal_stream_write"},
		{&palStreamRead, "pal_stream_read"},
		{&palStreamSetVolume, "pal_stream_set_volume"},
	}
	for _, s := range symbols {
		if _, err := purego.Dlsym(handle, s.name); err != nil {
			return fmt.Errorf("missing symbol %s: %w", s.name, err)
		}
	}
	for _, s := range symbols {
		purego.RegisterLibFunc(s.fptr, handle, s.name)
	}
	return nil
}

func libraryPaths(env, lib string) []string {
	var paths []string
	if p := os.Getenv(env); p != "" {
		paths = append(paths, p)
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "..", "lib", lib))
	}
	return append(paths,
		lib,
		filepath.Join("/usr/lib", lib),
		filepath.Join("/usr/lib64", lib),
		filepath.Join("/vendor/lib64", lib),
	)
}

// Init loads the library and initializes AGM and PAL.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}
	if err := Load(); err != nil {
		return err
	}
	if agmInit != nil {
		if rc := agmInit(); rc != 0 {
			return fmt.Errorf("agm init failed: %d", rc)
		}
	}
	if rc := palInit(); rc != 0 {
		return fmt.Errorf("pal init failed: %d", rc)
	}
	b.initialized = true
	return nil
}

// Deinit releases PAL.
func (b *Backend) Deinit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil
	}
	palDeinit()
	b.initialized = false
	return nil
}

func toMediaConfig(m hal.MediaConfig) palMediaConfig {
	var c palMediaConfig
	c.sampleRate = m.SampleRate
	c.bitWidth = m.BitWidth
	c.audFmtID = uint32(m.Format)
	n := min(len(m.Channels), maxChannels)
	c.chInfo.channels = uint16(n)
	for i := 0; i < n; i++ {
		c.chInfo.chMap[i] = uint8(m.Channels[i])
	}
	return c
}

func streamCallback(handle uintptr, eventID uint32, eventData uintptr, eventSize uint32, cookie uint64) int32 {
	v, ok := callbacks.Load(cookie)
	if !ok {
		return 0
	}
	var data []byte
	if eventData != 0 && eventSize > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(eventData)), eventSize)
	}
	v.(hal.EventCallback)(eventID, data)
	return 0
}

// OpenStream opens a PAL stream on one device.
func (b *Backend) OpenStream(attrs *hal.StreamAttributes, dev *hal.Device, cb hal.EventCallback) (hal.Stream, error) {
	b.mu.Lock()
	initialized := b.initialized
	b.mu.Unlock()
	if !initialized {
		return nil, errors.New("pal not initialized")
	}

	pa := &palStreamAttributes{
		streamType: uint32(attrs.Type),
		flags:      attrs.Flags,
		direction:  uint32(attrs.Direction),
		inMedia:    toMediaConfig(attrs.In),
		outMedia:   toMediaConfig(attrs.Out),
	}
	pa.info.version = attrs.Info.Version
	pa.info.durationUs = attrs.Info.DurationUs
	pa.info.hasVideo = attrs.Info.HasVideo
	pa.info.isStreaming = attrs.Info.IsStreaming

	pd := &palDevice{id: uint32(dev.ID), config: toMediaConfig(dev.Config)}

	var cbPtr uintptr
	var cookie uint64
	if cb != nil {
		callbackOnce.Do(func() { trampoline = purego.NewCallback(streamCallback) })
		cbPtr = trampoline
		cookie = nextCookie.Add(1)
		callbacks.Store(cookie, cb)
	}

	var handle uintptr
	rc := palStreamOpen(pa, 1, pd, 0, nil, cbPtr, cookie, &handle)
	runtime.KeepAlive(pa)
	runtime.KeepAlive(pd)
	if rc != 0 || handle == 0 {
		if cookie != 0 {
			callbacks.Delete(cookie)
		}
		return nil, fmt.Errorf("pal_stream_open failed: %d", rc)
	}
	return &Stream{handle: handle, cookie: cookie}, nil
}

// Stream is an open PAL stream handle.
type Stream struct {
	handle uintptr
	cookie uint64
}

// SetBufferSize configures the PAL buffer geometry.
func (s *Stream) SetBufferSize(in, out *hal.BufferConfig) error {
	pin := &palBufferConfig{bufCount: uintptr(in.Count), bufSize: uintptr(in.Size)}
	pout := &palBufferConfig{bufCount: uintptr(out.Count), bufSize: uintptr(out.Size)}
	if rc := palStreamSetBufferSize(s.handle, pin, pout); rc != 0 {
		return fmt.Errorf("pal_stream_set_buffer_size failed: %d", rc)
	}
	return nil
}

// Start starts the stream.
func (s *Stream) Start() error {
	if rc := palStreamStart(s.handle); rc != 0 {
		return fmt.Errorf("pal_stream_start failed: %d", rc)
	}
	return nil
}

// Stop stops the stream.
func (s *Stream) Stop() error {
	if rc := palStreamStop(s.handle); rc != 0 {
		return fmt.Errorf("pal_stream_stop failed: %d", rc)
	}
	return nil
}

// Close closes the stream. The handle is invalid afterwards whatever the result.
func (s *Stream) Close() error {
	rc := palStreamClose(s.handle)
	if s.cookie != 0 {
		callbacks.Delete(s.cookie)
	}
	s.handle = 0
	if rc != 0 {
		return fmt.Errorf("pal_stream_close failed: %d", rc)
	}
	return nil
}

// Write hands p to PAL and returns the bytes consumed.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := &palBuffer{buffer: unsafe.Pointer(&p[0]), size: uintptr(len(p))}
	n := palStreamWrite(s.handle, buf)
	runtime.KeepAlive(p)
	if n < 0 {
		return 0, fmt.Errorf("pal_stream_write failed: %d", n)
	}
	return n, nil
}

// Read fills p from PAL and returns the bytes captured.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := &palBuffer{buffer: unsafe.Pointer(&p[0]), size: uintptr(len(p))}
	n := palStreamRead(s.handle, buf)
	runtime.KeepAlive(p)
	if n < 0 {
		return 0, fmt.Errorf("pal_stream_read failed: %d", n)
	}
	return min(n, len(p)), nil
}

// encodeVolume lays out a pal_volume_data block: the pair count followed by
// {channel_mask, vol} pairs.
func encodeVolume(v *hal.Volume) []uint32 {
	words := make([]uint32, 1+2*len(v.Pairs))
	words[0] = uint32(len(v.Pairs))
	for i, pair := range v.Pairs {
		words[1+2*i] = pair.ChannelMask
		words[2+2*i] = math.Float32bits(pair.Gain)
	}
	return words
}

// SetVolume submits a per-channel volume vector.
func (s *Stream) SetVolume(v *hal.Volume) error {
	words := encodeVolume(v)
	rc := palStreamSetVolume(s.handle, unsafe.Pointer(&words[0]))
	runtime.KeepAlive(words)
	if rc != 0 {
		return fmt.Errorf("pal_stream_set_volume failed: %d", rc)
	}
	return nil
}
