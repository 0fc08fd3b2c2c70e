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

// Package nats exposes bridge lifecycle state and a remote volume control over NATS.
package nats

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Connection interface for dependency injection
type Connection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Close()
}

// ConnectionAdapter adapts *nats.Conn to the Connection interface
type ConnectionAdapter struct {
	conn *nats.Conn
}

func NewConnectionAdapter(conn *nats.Conn) *ConnectionAdapter {
	return &ConnectionAdapter{conn: conn}
}

func (c *ConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, cb)
}

func (c *ConnectionAdapter) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *ConnectionAdapter) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Connect dials url, retrying a few times before giving up.
func Connect(url, name string, log *slog.Logger) (*ConnectionAdapter, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < connectAttempts; i++ {
		nc, err = nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1), nats.ReconnectWait(time.Second))
		if err == nil {
			break
		}
		log.Warn("failed to connect to nats", "attempt", i+1, "max", connectAttempts, "error", err)
		if i < connectAttempts-1 {
			time.Sleep(connectBackoff)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", connectAttempts, err)
	}

	log.Info("connected to nats", "url", url)
	return NewConnectionAdapter(nc), nil
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// Token turns a node name into a single subject token.
func Token(node string) string {
	if node == "" {
		return "_"
	}
	return subjectReplacer.Replace(node)
}

// StateSubject is the subject state changes of node are published on.
func StateSubject(node string) string {
	return fmt.Sprintf("pal.bridge.%s.state", Token(node))
}

// VolumeSubject is the subject volume requests for node are received on.
func VolumeSubject(node string) string {
	return fmt.Sprintf("pal.bridge.%s.volume", Token(node))
}
