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

package config

import "fmt"

const (
	DefaultMediaClass = "Audio/Sink"
	DefaultMediaRole  = "notification"
)

// streamKeys are copied from the module properties into the stream properties unless the
// stream properties already carry them.
var streamKeys = []string{
	KeyAudioFormat,
	KeyAudioRate,
	KeyAudioChannels,
	KeyAudioPosition,
	KeyNodeName,
	KeyNodeDescription,
	KeyNodeGroup,
	KeyNodeLatency,
	KeyNodeVirtual,
	KeyMediaClass,
}

// ApplyDefaults fills in the module properties the bridge relies on: a virtual node, a sink
// media class, a notification role, and a node name and description derived from the
// process and module ids. Explicit keys are never overridden.
func ApplyDefaults(props *Properties, pid, moduleID uint32) {
	props.SetDefault(KeyNodeVirtual, "true")
	props.SetDefault(KeyMediaClass, DefaultMediaClass)
	props.SetDefault(KeyMediaRole, DefaultMediaRole)
	props.SetDefault(KeyNodeName, fmt.Sprintf("pal-bridge-%d-%d", pid, moduleID))
	name, _ := props.Get(KeyNodeName)
	props.SetDefault(KeyNodeDescription, name)
}

// StreamProperties derives the property bag handed to the host stream: the nested
// stream.props object first, then the module keys the stream needs.
func StreamProperties(props *Properties) (*Properties, error) {
	sp := NewProperties(nil)
	if nested, ok := props.Get(KeyStreamProps); ok {
		if err := sp.Update(nested); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", KeyStreamProps, err)
		}
	}
	for _, key := range streamKeys {
		if v, ok := props.Get(key); ok {
			sp.SetDefault(key, v)
		}
	}
	return sp, nil
}
