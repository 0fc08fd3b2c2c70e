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

// Package format derives the PCM layout of a bridge stream from its properties.
package format

import (
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-pal-bridge/internal/config"
	"github.com/loqalabs/loqa-pal-bridge/internal/spajson"
)

// MaxChannels is the largest channel count a stream may carry.
const MaxChannels = 64

// Defaults applied when the properties leave a field unset.
const (
	DefaultFormat   = "S16"
	DefaultRate     = 48000
	DefaultChannels = 2
	DefaultPosition = "[ FL FR ]"
)

// SampleFormat enumerates the sample formats known by name.
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	FormatU8
	FormatS8
	FormatALaw
	FormatULaw
	FormatS16LE
	FormatS16BE
	FormatU16LE
	FormatS24LE
	FormatS24BE
	FormatU24LE
	FormatS24_32LE
	FormatS24_32BE
	FormatS32LE
	FormatS32BE
	FormatU32LE
	FormatU32BE
	FormatF32LE
	FormatF32BE
	FormatF64LE
	FormatF64BE
)

type formatEntry struct {
	name  string
	width uint32
}

var formats = [...]formatEntry{
	FormatUnknown:  {"UNKNOWN", 0},
	FormatU8:       {"U8", 1},
	FormatS8:       {"S8", 1},
	FormatALaw:     {"ALAW", 1},
	FormatULaw:     {"ULAW", 1},
	FormatS16LE:    {"S16LE", 2},
	FormatS16BE:    {"S16BE", 2},
	FormatU16LE:    {"U16LE", 2},
	FormatS24LE:    {"S24LE", 3},
	FormatS24BE:    {"S24BE", 3},
	FormatU24LE:    {"U24LE", 3},
	FormatS24_32LE: {"S24_32LE", 4},
	FormatS24_32BE: {"S24_32BE", 4},
	FormatS32LE:    {"S32LE", 4},
	FormatS32BE:    {"S32BE", 4},
	FormatU32LE:    {"U32LE", 4},
	FormatU32BE:    {"U32BE", 4},
	FormatF32LE:    {"F32LE", 4},
	FormatF32BE:    {"F32BE", 4},
	FormatF64LE:    {"F64LE", 8},
	FormatF64BE:    {"F64BE", 8},
}

// formatNames maps every accepted name, canonical or alias, to its format. The native
// byte order is little endian; OE names the opposite order.
var formatNames = func() map[string]SampleFormat {
	m := make(map[string]SampleFormat, len(formats)*2)
	for f, e := range formats {
		if SampleFormat(f) != FormatUnknown {
			m[e.name] = SampleFormat(f)
		}
	}
	aliases := map[string]SampleFormat{
		"S16":      FormatS16LE,
		"S16OE":    FormatS16BE,
		"U16":      FormatU16LE,
		"S24":      FormatS24LE,
		"S24OE":    FormatS24BE,
		"U24":      FormatU24LE,
		"S24_32":   FormatS24_32LE,
		"S24_32OE": FormatS24_32BE,
		"S32":      FormatS32LE,
		"S32OE":    FormatS32BE,
		"U32":      FormatU32LE,
		"U32OE":    FormatU32BE,
		"F32":      FormatF32LE,
		"F32OE":    FormatF32BE,
		"F64":      FormatF64LE,
		"F64OE":    FormatF64BE,
	}
	for name, f := range aliases {
		m[name] = f
	}
	return m
}()

// ParseFormat looks up a sample format by name.
func ParseFormat(name string) SampleFormat {
	if f, ok := formatNames[strings.TrimSpace(name)]; ok {
		return f
	}
	return FormatUnknown
}

// String returns the canonical name.
func (f SampleFormat) String() string {
	if f < 0 || int(f) >= len(formats) {
		return formats[FormatUnknown].name
	}
	return formats[f].name
}

// Width returns the bytes per sample, or 0 for an unknown format.
func (f SampleFormat) Width() uint32 {
	if f < 0 || int(f) >= len(formats) {
		return 0
	}
	return formats[f].width
}

// Getter reads string properties.
type Getter interface {
	Get(key string) (string, bool)
}

// Info is the resolved PCM layout of a stream.
type Info struct {
	Format   SampleFormat
	Rate     uint32
	Channels uint32
	Position []Channel
}

// FrameSize returns the bytes per frame. Zero means the layout is unusable.
func (i Info) FrameSize() uint32 {
	return i.Format.Width() * i.Channels
}

// Resolve derives the PCM layout from props, applying the defaults for missing keys.
func Resolve(props Getter) Info {
	var info Info

	name, ok := props.Get(config.KeyAudioFormat)
	if !ok {
		name = DefaultFormat
	}
	info.Format = ParseFormat(name)

	info.Rate = getUint32(props, config.KeyAudioRate)
	if info.Rate == 0 {
		info.Rate = DefaultRate
	}

	info.Channels = min(getUint32(props, config.KeyAudioChannels), MaxChannels)
	if pos, ok := props.Get(config.KeyAudioPosition); ok {
		info.Position = ParsePosition(pos)
		info.Channels = uint32(len(info.Position))
	} else if info.Channels > 0 {
		info.Position = DefaultLayout(info.Channels)
	}
	if info.Channels == 0 {
		info.Position = ParsePosition(DefaultPosition)
		info.Channels = uint32(len(info.Position))
	}
	return info
}

func getUint32(props Getter, key string) uint32 {
	v, ok := props.Get(key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// ParsePosition parses a bracketed channel list such as "[ FL FR ]". At most MaxChannels
// roles are returned; names not in the role table become ChannelUnknown.
func ParsePosition(s string) []Channel {
	items, err := spajson.ParseArray(s)
	if err != nil {
		items = strings.Fields(strings.Trim(s, "[] "))
	}
	if len(items) > MaxChannels {
		items = items[:MaxChannels]
	}
	roles := make([]Channel, 0, len(items))
	for _, item := range items {
		roles = append(roles, ParseChannel(item))
	}
	return roles
}

// FormatPosition renders roles in the canonical form accepted by ParsePosition.
func FormatPosition(roles []Channel) string {
	var b strings.Builder
	b.WriteString("[")
	for _, r := range roles {
		b.WriteString(" ")
		b.WriteString(r.String())
	}
	b.WriteString(" ]")
	return b.String()
}
