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
	"fmt"

	"github.com/loqalabs/loqa-pal-bridge/internal/config"
	"github.com/loqalabs/loqa-pal-bridge/internal/device"
	"github.com/loqalabs/loqa-pal-bridge/internal/format"
	"github.com/loqalabs/loqa-pal-bridge/internal/hal"
	"github.com/loqalabs/loqa-pal-bridge/internal/host"
)

// BufferPolicy is the buffer geometry used for one direction, on both the HAL stream and
// the host buffer pool.
type BufferPolicy struct {
	Count uint32
	Size  uint32
}

var (
	PlaybackBuffers = BufferPolicy{Count: 4, Size: 1024}
	CaptureBuffers  = BufferPolicy{Count: 8, Size: 512}
)

// HostStride is the stride advertised for the host buffer pool.
const HostStride = 16

// Plan is the resolved, immutable description of one bridge stream.
type Plan struct {
	Name       string
	Direction  hal.Direction
	Info       format.Info
	BitWidth   uint32
	HALFormat  hal.AudioFormat
	ChannelMap []hal.ChannelID
	StreamType hal.StreamType
	Device     hal.DeviceID
	FrameSize  uint32
	Buffers    BufferPolicy
}

// pcmFormats maps the sample formats the HAL can carry to their bit width and PCM id.
var pcmFormats = map[format.SampleFormat]struct {
	bits uint32
	id   hal.AudioFormat
}{
	format.FormatS8:       {8, hal.FormatPCMS8},
	format.FormatS16LE:    {16, hal.FormatPCMS16LE},
	format.FormatS24LE:    {24, hal.FormatPCMS24LE3},
	format.FormatS24_32LE: {24, hal.FormatPCMS24LE},
	format.FormatS32LE:    {32, hal.FormatPCMS32LE},
}

// halChannels maps channel roles onto the HAL channel map. Roles without an entry map to
// hal.ChannelNone.
var halChannels = map[format.Channel]hal.ChannelID{
	format.ChannelMono: hal.ChannelC,
	format.ChannelFL:   hal.ChannelFL,
	format.ChannelFR:   hal.ChannelFR,
	format.ChannelFC:   hal.ChannelC,
	format.ChannelLFE:  hal.ChannelLFE,
	format.ChannelSL:   hal.ChannelSL,
	format.ChannelSR:   hal.ChannelSR,
	format.ChannelFLC:  hal.ChannelFLC,
	format.ChannelFRC:  hal.ChannelFRC,
	format.ChannelRC:   hal.ChannelCS,
	format.ChannelRL:   hal.ChannelLB,
	format.ChannelRR:   hal.ChannelRB,
	format.ChannelTC:   hal.ChannelTC,
	format.ChannelTFL:  hal.ChannelTFL,
	format.ChannelTFC:  hal.ChannelTFC,
	format.ChannelTFR:  hal.ChannelTFR,
	format.ChannelTRL:  hal.ChannelTBL,
	format.ChannelTRC:  hal.ChannelTBC,
	format.ChannelTRR:  hal.ChannelTBR,
	format.ChannelRLC:  hal.ChannelRLC,
	format.ChannelRRC:  hal.ChannelRRC,
	format.ChannelFLW:  hal.ChannelLW,
	format.ChannelFRW:  hal.ChannelRW,
	format.ChannelLFE2: hal.ChannelLFE2,
	format.ChannelTSL:  hal.ChannelTSL,
	format.ChannelTSR:  hal.ChannelTSR,
	format.ChannelBC:   hal.ChannelBFC,
	format.ChannelBLC:  hal.ChannelBFL,
	format.ChannelBRC:  hal.ChannelBFR,
}

// HALChannel returns the HAL channel id for role.
func HALChannel(role format.Channel) hal.ChannelID {
	return halChannels[role]
}

// NewPlan resolves the stream plan. The PCM layout and node name come from streamProps;
// media class and role are looked up in streamProps first, then props.
func NewPlan(props, streamProps format.Getter) (*Plan, error) {
	lookup := func(key string) string {
		if v, ok := streamProps.Get(key); ok {
			return v
		}
		if props != nil {
			if v, ok := props.Get(key); ok {
				return v
			}
		}
		return ""
	}

	info := format.Resolve(streamProps)
	frameSize := info.FrameSize()
	if frameSize == 0 {
		return nil, fmt.Errorf("%w: unsupported sample format %s", ErrConfiguration, info.Format)
	}
	if info.Channels > format.MaxChannels || int(info.Channels) != len(info.Position) {
		return nil, fmt.Errorf("%w: %d channels with %d positions", ErrConfiguration, info.Channels, len(info.Position))
	}
	pcm, ok := pcmFormats[info.Format]
	if !ok {
		return nil, fmt.Errorf("%w: sample format %s has no hal pcm mapping", ErrConfiguration, info.Format)
	}

	route := device.Resolve(lookup(config.KeyMediaClass), lookup(config.KeyNodeName), lookup(config.KeyMediaRole))

	p := &Plan{
		Name:       lookup(config.KeyNodeName),
		Direction:  route.Direction,
		Info:       info,
		BitWidth:   pcm.bits,
		HALFormat:  pcm.id,
		ChannelMap: make([]hal.ChannelID, len(info.Position)),
		StreamType: route.StreamType,
		Device:     route.Device,
		FrameSize:  frameSize,
		Buffers:    CaptureBuffers,
	}
	if p.Direction == hal.DirectionOutput {
		p.Buffers = PlaybackBuffers
	}
	for i, role := range info.Position {
		p.ChannelMap[i] = HALChannel(role)
	}
	return p, nil
}

// Playback reports whether the plan writes to the HAL.
func (p *Plan) Playback() bool {
	return p.Direction == hal.DirectionOutput
}

// Media returns the HAL media config of the plan.
func (p *Plan) Media() hal.MediaConfig {
	return hal.MediaConfig{
		SampleRate: p.Info.Rate,
		BitWidth:   p.BitWidth,
		Channels:   append([]hal.ChannelID(nil), p.ChannelMap...),
		Format:     p.HALFormat,
	}
}

// Attributes returns the HAL stream attributes. Only the media config of the plan's
// direction is filled in.
func (p *Plan) Attributes() *hal.StreamAttributes {
	attrs := &hal.StreamAttributes{
		Type:      p.StreamType,
		Direction: p.Direction,
	}
	if p.Playback() {
		attrs.Out = p.Media()
	} else {
		attrs.In = p.Media()
	}
	return attrs
}

// HALDevice returns the HAL device of the plan.
func (p *Plan) HALDevice() *hal.Device {
	return &hal.Device{ID: p.Device, Config: p.Media()}
}

// BufferConfigs returns the in and out HAL buffer configs. The unused direction is zero.
func (p *Plan) BufferConfigs() (in, out *hal.BufferConfig) {
	cfg := &hal.BufferConfig{Count: p.Buffers.Count, Size: p.Buffers.Size}
	if p.Playback() {
		return &hal.BufferConfig{}, cfg
	}
	return cfg, &hal.BufferConfig{}
}

// HostDirection returns the host stream direction: playback consumes from the graph.
func (p *Plan) HostDirection() host.Direction {
	if p.Playback() {
		return host.DirectionInput
	}
	return host.DirectionOutput
}

// StreamParams returns the parameters used to connect the host stream.
func (p *Plan) StreamParams() host.StreamParams {
	return host.StreamParams{
		Direction:  p.HostDirection(),
		Format:     p.Info,
		Buffers:    p.Buffers.Count,
		BufferSize: p.Buffers.Size,
		Stride:     HostStride,
		Flags:      host.FlagAutoConnect | host.FlagMapBuffers | host.FlagRTProcess,
	}
}

func (p *Plan) String() string {
	return fmt.Sprintf("%s %s %dHz %dch %s on %s (%s)", p.Direction, p.Info.Format, p.Info.Rate,
		p.Info.Channels, format.FormatPosition(p.Info.Position), p.Device, p.StreamType)
}
