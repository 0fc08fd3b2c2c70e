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
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-pal-bridge/internal/bridge"
	"github.com/loqalabs/loqa-pal-bridge/internal/logging"
)

// StateMessage reports one bridge state transition.
type StateMessage struct {
	Node      string `json:"node"`
	From      string `json:"from"`
	To        string `json:"to"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// StatePublisher publishes bridge state transitions. It implements bridge.Observer.
type StatePublisher struct {
	conn Connection
	log  *slog.Logger
	now  func() time.Time
}

// NewStatePublisher creates a publisher on conn.
func NewStatePublisher(conn Connection) *StatePublisher {
	return &StatePublisher{
		conn: conn,
		log:  logging.For(logging.ComponentNATS),
		now:  time.Now,
	}
}

// BridgeStateChanged publishes the transition. Publish failures are logged only.
func (p *StatePublisher) BridgeStateChanged(name string, from, to bridge.State, err error) {
	msg := StateMessage{
		Node:      name,
		From:      from.String(),
		To:        to.String(),
		Timestamp: p.now().UnixMilli(),
	}
	if err != nil {
		msg.Error = err.Error()
	}

	data, merr := json.Marshal(msg)
	if merr != nil {
		p.log.Error("failed to marshal state message", "error", merr)
		return
	}
	subject := StateSubject(name)
	if perr := p.conn.Publish(subject, data); perr != nil {
		p.log.Warn("failed to publish state", "subject", subject, "error", perr)
	}
}

var _ bridge.Observer = (*StatePublisher)(nil)
