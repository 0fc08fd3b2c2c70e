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

import "fmt"

// Direction of a stream, as seen from the HAL.
type Direction int

const (
	DirectionOutput Direction = 1
	DirectionInput  Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirectionOutput:
		return "playback"
	case DirectionInput:
		return "capture"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// StreamType is the HAL stream-type category, which selects the HAL's latency profile.
type StreamType int

const (
	StreamLowLatency StreamType = 1
	StreamDeepBuffer StreamType = 2
)

func (t StreamType) String() string {
	switch t {
	case StreamLowLatency:
		return "low-latency"
	case StreamDeepBuffer:
		return "deep-buffer"
	}
	return fmt.Sprintf("stream-type(%d)", int(t))
}

// DeviceID identifies a physical HAL device. Values follow the vendor device enumeration.
type DeviceID int

const (
	DeviceNone            DeviceID = 0
	DeviceOutSpeaker      DeviceID = 2
	DeviceOutWiredHeadset DeviceID = 3
	DeviceInSpeakerMic    DeviceID = 102
	DeviceInWiredHeadset  DeviceID = 104
)

func (d DeviceID) String() string {
	switch d {
	case DeviceNone:
		return "none"
	case DeviceOutSpeaker:
		return "speaker"
	case DeviceOutWiredHeadset:
		return "wired-headset"
	case DeviceInSpeakerMic:
		return "speaker-mic"
	case DeviceInWiredHeadset:
		return "wired-headset-mic"
	}
	return fmt.Sprintf("device(%d)", int(d))
}

// AudioFormat is the HAL's PCM encoding id.
type AudioFormat uint32

const (
	FormatPCMS16LE  AudioFormat = 0x1
	FormatPCMS8     AudioFormat = 0x2
	FormatPCMS24LE3 AudioFormat = 0x3
	FormatPCMS24LE  AudioFormat = 0x4
	FormatPCMS32LE  AudioFormat = 0x5

	FormatDefaultPCM = FormatPCMS16LE
)

// ChannelID is the HAL's channel map entry.
type ChannelID uint8

const (
	ChannelNone ChannelID = iota
	ChannelFL
	ChannelFR
	ChannelC
	ChannelLS
	ChannelRS
	ChannelLFE
	ChannelCS
	ChannelLB
	ChannelRB
	ChannelTS
	ChannelTFC
	ChannelMS
	ChannelFLC
	ChannelFRC
	ChannelRLC
	ChannelRRC
	ChannelLFE2
	ChannelSL
	ChannelSR
	ChannelTFL
	ChannelTFR
	ChannelTC
	ChannelTBL
	ChannelTBR
	ChannelTSL
	ChannelTSR
	ChannelTBC
	ChannelBFC
	ChannelBFL
	ChannelBFR
	ChannelLW
	ChannelRW
)

// MaxChannels is the size of the HAL channel map.
const MaxChannels = 64

// MediaConfig describes the PCM layout on one side of a stream.
type MediaConfig struct {
	SampleRate uint32
	BitWidth   uint32
	Channels   []ChannelID
	Format     AudioFormat
}

// StreamInfo carries the optional stream information block.
type StreamInfo struct {
	Version     int64
	DurationUs  int64
	HasVideo    bool
	IsStreaming bool
}

// StreamAttributes describes the stream to open. Only the media config matching
// Direction is used.
type StreamAttributes struct {
	Type      StreamType
	Direction Direction
	Flags     uint32
	Info      StreamInfo
	In        MediaConfig
	Out       MediaConfig
}

// Media returns the media config of the attribute's direction.
func (a *StreamAttributes) Media() MediaConfig {
	if a.Direction == DirectionInput {
		return a.In
	}
	return a.Out
}

// Device is a physical endpoint with its configuration.
type Device struct {
	ID     DeviceID
	Config MediaConfig
}

// BufferConfig is the HAL buffer geometry for one direction.
type BufferConfig struct {
	Count uint32
	Size  uint32
}

// VolumePair is the gain for the channels selected by ChannelMask.
type VolumePair struct {
	ChannelMask uint32
	Gain        float32
}

// Volume is a per-channel volume vector.
type Volume struct {
	Pairs []VolumePair
}
