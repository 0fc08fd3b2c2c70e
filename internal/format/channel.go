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

package format

import "strings"

// Channel is the semantic role of one logical channel.
type Channel int

const (
	ChannelUnknown Channel = iota
	ChannelNA
	ChannelMono
	ChannelFL
	ChannelFR
	ChannelFC
	ChannelLFE
	ChannelSL
	ChannelSR
	ChannelFLC
	ChannelFRC
	ChannelRC
	ChannelRL
	ChannelRR
	ChannelTC
	ChannelTFL
	ChannelTFC
	ChannelTFR
	ChannelTRL
	ChannelTRC
	ChannelTRR
	ChannelRLC
	ChannelRRC
	ChannelFLW
	ChannelFRW
	ChannelLFE2
	ChannelFLH
	ChannelFCH
	ChannelFRH
	ChannelTFLC
	ChannelTFRC
	ChannelTSL
	ChannelTSR
	ChannelLLFE
	ChannelRLFE
	ChannelBC
	ChannelBLC
	ChannelBRC
)

var channelNames = [...]string{
	ChannelUnknown: "UNK",
	ChannelNA:      "NA",
	ChannelMono:    "MONO",
	ChannelFL:      "FL",
	ChannelFR:      "FR",
	ChannelFC:      "FC",
	ChannelLFE:     "LFE",
	ChannelSL:      "SL",
	ChannelSR:      "SR",
	ChannelFLC:     "FLC",
	ChannelFRC:     "FRC",
	ChannelRC:      "RC",
	ChannelRL:      "RL",
	ChannelRR:      "RR",
	ChannelTC:      "TC",
	ChannelTFL:     "TFL",
	ChannelTFC:     "TFC",
	ChannelTFR:     "TFR",
	ChannelTRL:     "TRL",
	ChannelTRC:     "TRC",
	ChannelTRR:     "TRR",
	ChannelRLC:     "RLC",
	ChannelRRC:     "RRC",
	ChannelFLW:     "FLW",
	ChannelFRW:     "FRW",
	ChannelLFE2:    "LFE2",
	ChannelFLH:     "FLH",
	ChannelFCH:     "FCH",
	ChannelFRH:     "FRH",
	ChannelTFLC:    "TFLC",
	ChannelTFRC:    "TFRC",
	ChannelTSL:     "TSL",
	ChannelTSR:     "TSR",
	ChannelLLFE:    "LLFE",
	ChannelRLFE:    "RLFE",
	ChannelBC:      "BC",
	ChannelBLC:     "BLC",
	ChannelBRC:     "BRC",
}

var channelByName = func() map[string]Channel {
	m := make(map[string]Channel, len(channelNames))
	for c, name := range channelNames {
		m[name] = Channel(c)
	}
	return m
}()

// ParseChannel looks up a channel role by its short name.
func ParseChannel(name string) Channel {
	if c, ok := channelByName[strings.TrimSpace(name)]; ok {
		return c
	}
	return ChannelUnknown
}

func (c Channel) String() string {
	if c < 0 || int(c) >= len(channelNames) {
		return channelNames[ChannelUnknown]
	}
	return channelNames[c]
}

var defaultLayouts = map[uint32][]Channel{
	1: {ChannelMono},
	2: {ChannelFL, ChannelFR},
	4: {ChannelFL, ChannelFR, ChannelRL, ChannelRR},
	6: {ChannelFL, ChannelFR, ChannelFC, ChannelLFE, ChannelRL, ChannelRR},
	8: {ChannelFL, ChannelFR, ChannelFC, ChannelLFE, ChannelRL, ChannelRR, ChannelSL, ChannelSR},
}

// DefaultLayout returns the conventional roles for a channel count. Counts without a
// conventional layout get ChannelUnknown for every channel.
func DefaultLayout(channels uint32) []Channel {
	roles := make([]Channel, channels)
	copy(roles, defaultLayouts[channels])
	return roles
}
