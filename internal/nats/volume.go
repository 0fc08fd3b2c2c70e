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

package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-pal-bridge/internal/logging"
)

// VolumeMessage requests a gain for every channel of a bridge.
type VolumeMessage struct {
	Gain *float32 `json:"gain"`
}

// VolumeReply answers a volume request that carried a reply subject.
type VolumeReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// VolumeSetter applies a gain.
type VolumeSetter interface {
	SetVolume(gain float32) error
}

// VolumeControl applies volume requests received on a node's volume subject.
type VolumeControl struct {
	conn   Connection
	node   string
	setter VolumeSetter
	log    *slog.Logger
	sub    *nats.Subscription
}

// NewVolumeControl creates a volume control for node.
func NewVolumeControl(conn Connection, node string, setter VolumeSetter) *VolumeControl {
	return &VolumeControl{
		conn:   conn,
		node:   node,
		setter: setter,
		log:    logging.For(logging.ComponentNATS).With("node", node),
	}
}

// Start subscribes to the volume subject.
func (v *VolumeControl) Start() error {
	subject := VolumeSubject(v.node)
	sub, err := v.conn.Subscribe(subject, v.handleVolumeMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	v.sub = sub
	v.log.Info("subscribed to volume requests", "subject", subject)
	return nil
}

func (v *VolumeControl) handleVolumeMessage(msg *nats.Msg) {
	var req VolumeMessage
	err := json.Unmarshal(msg.Data, &req)
	switch {
	case err != nil:
		err = fmt.Errorf("failed to unmarshal volume message: %w", err)
	case req.Gain == nil:
		err = errors.New("volume message has no gain")
	default:
		err = v.setter.SetVolume(*req.Gain)
	}

	if err != nil {
		v.log.Warn("volume request failed", "error", err)
	}
	if msg.Reply == "" {
		return
	}

	reply := VolumeReply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	data, _ := json.Marshal(reply)
	if perr := v.conn.Publish(msg.Reply, data); perr != nil {
		v.log.Warn("failed to send volume reply", "error", perr)
	}
}

// Stop unsubscribes.
func (v *VolumeControl) Stop() {
	if v.sub == nil {
		return
	}
	if err := v.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) {
		v.log.Debug("failed to unsubscribe", "error", err)
	}
	v.sub = nil
}
