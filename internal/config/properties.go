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

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-pal-bridge/internal/spajson"
)

// Property keys consumed from the host framework's property bag.
const (
	KeyAudioFormat     = "audio.format"
	KeyAudioRate       = "audio.rate"
	KeyAudioChannels   = "audio.channels"
	KeyAudioPosition   = "audio.position"
	KeyNodeName        = "node.name"
	KeyNodeDescription = "node.description"
	KeyNodeGroup       = "node.group"
	KeyNodeLatency     = "node.latency"
	KeyNodeVirtual     = "node.virtual"
	KeyMediaClass      = "media.class"
	KeyMediaRole       = "media.role"
	KeyRemoteName      = "remote.name"
	KeyStreamProps     = "stream.props"
)

// Properties is a string key/value bag safe for concurrent use.
type Properties struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewProperties creates a bag holding the given key/value pairs.
func NewProperties(kv map[string]string) *Properties {
	p := &Properties{values: make(map[string]string, len(kv))}
	for k, v := range kv {
		p.values[k] = v
	}
	return p
}

// ParseProperties parses a module argument string such as
// `{ media.class = Audio/Sink stream.props = { audio.rate = 44100 } }`.
func ParseProperties(args string) (*Properties, error) {
	p := NewProperties(nil)
	if err := p.Update(args); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns the value for key and whether it is set.
func (p *Properties) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// GetUint32 returns the value for key parsed as an unsigned integer, or def when the key
// is missing or not a number.
func (p *Properties) GetUint32(key string, def uint32) uint32 {
	v, ok := p.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 32)
	if err != nil {
		return def
	}
	return uint32(n)
}

// Set stores value under key.
func (p *Properties) Set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

// Setf stores a formatted value under key.
func (p *Properties) Setf(key, format string, args ...any) {
	p.Set(key, fmt.Sprintf(format, args...))
}

// SetDefault stores value under key unless key is already set. It reports whether the
// value was stored.
func (p *Properties) SetDefault(key, value string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[key]; ok {
		return false
	}
	p.values[key] = value
	return true
}

// Update merges the pairs of a relaxed JSON object into the bag, overwriting existing keys.
func (p *Properties) Update(s string) error {
	pairs, err := spajson.ParseObject(s)
	if err != nil {
		return fmt.Errorf("failed to parse properties: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pair := range pairs {
		p.values[pair.Key] = pair.Value
	}
	return nil
}

// Keys returns the set keys in sorted order.
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of set keys.
func (p *Properties) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

// String renders the bag in the argument syntax accepted by ParseProperties.
func (p *Properties) String() string {
	var b strings.Builder
	b.WriteString("{")
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString(" = ")
		if strings.HasPrefix(v, "{") || strings.HasPrefix(v, "[") {
			b.WriteString(v)
		} else {
			b.WriteString(strconv.Quote(v))
		}
	}
	b.WriteString(" }")
	return b.String()
}
