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

// Package device maps a node's media class, name and role onto a HAL device and stream type.
package device

import (
	"strings"

	"github.com/loqalabs/loqa-pal-bridge/internal/hal"
)

// Route is the resolved direction, physical device and stream-type category of a node.
type Route struct {
	Direction  hal.Direction
	Device     hal.DeviceID
	StreamType hal.StreamType
}

// nodeKeywords overrides the direction default when the node name contains the keyword.
// Checked in order.
var nodeKeywords = []struct {
	keyword string
	device  hal.DeviceID
}{
	{"pal_sink_speaker", hal.DeviceOutSpeaker},
	{"pal_sink_headset", hal.DeviceOutWiredHeadset},
	{"pal_source_speaker_mic", hal.DeviceInSpeakerMic},
	{"pal_source_headset_mic", hal.DeviceInWiredHeadset},
}

// Resolve applies the routing policy. It performs no I/O.
func Resolve(mediaClass, nodeName, mediaRole string) Route {
	var r Route
	if strings.Contains(mediaClass, "Sink") {
		r.Direction = hal.DirectionOutput
		r.Device = hal.DeviceOutSpeaker
	} else {
		r.Direction = hal.DirectionInput
		r.Device = hal.DeviceInSpeakerMic
	}

	for _, k := range nodeKeywords {
		if strings.Contains(nodeName, k.keyword) {
			r.Device = k.device
			break
		}
	}

	switch {
	case r.Direction == hal.DirectionInput:
		r.StreamType = hal.StreamDeepBuffer
	case strings.Contains(mediaRole, "music"):
		r.StreamType = hal.StreamDeepBuffer
	default:
		r.StreamType = hal.StreamLowLatency
	}
	return r
}
