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
	"math"

	"github.com/loqalabs/loqa-pal-bridge/internal/hal"
)

// ChannelMask builds the HAL volume mask for a channel map: bit (id-1) for every channel,
// shifted left by one. ChannelNone contributes nothing.
func ChannelMask(channels []hal.ChannelID) uint32 {
	var mask uint32
	for _, ch := range channels {
		if ch == hal.ChannelNone || ch > 32 {
			continue
		}
		mask |= 1 << (ch - 1)
	}
	return mask << 1
}

// BuildVolume returns a volume vector with one pair per channel, all sharing the plan's
// channel mask and gain.
func BuildVolume(plan *Plan, gain float32) *hal.Volume {
	mask := ChannelMask(plan.ChannelMap)
	v := &hal.Volume{Pairs: make([]hal.VolumePair, len(plan.ChannelMap))}
	for i := range v.Pairs {
		v.Pairs[i] = hal.VolumePair{ChannelMask: mask, Gain: gain}
	}
	return v
}

// SetVolume applies gain to every channel of the open HAL stream.
func (b *Bridge) SetVolume(gain float32) error {
	if math.IsNaN(float64(gain)) || gain < 0 {
		return fmt.Errorf("invalid gain %v", gain)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stream == nil {
		return ErrInactive
	}
	if err := b.stream.SetVolume(BuildVolume(b.plan, gain)); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}
	b.log.Info("volume set", "gain", gain)
	return nil
}
