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

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotInitialized is returned when a stream is opened before the service is acquired.
var ErrNotInitialized = errors.New("hal not initialized")

// Service owns the process-wide initialization of a Backend. Bridges acquire it on
// creation and release it on destruction; the backend is initialized on the first
// acquire and deinitialized on the last release.
type Service struct {
	mu      sync.Mutex
	backend Backend
	refs    int
}

// NewService wraps backend.
func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

// Acquire initializes the backend if this is the first reference.
func (s *Service) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		if err := s.backend.Init(); err != nil {
			return fmt.Errorf("hal init failed: %w", err)
		}
	}
	s.refs++
	return nil
}

// Release drops a reference and deinitializes the backend when none remain.
func (s *Service) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return nil
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}
	if err := s.backend.Deinit(); err != nil {
		return fmt.Errorf("hal deinit failed: %w", err)
	}
	return nil
}

// Refs returns the number of outstanding references.
func (s *Service) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// OpenStream opens a stream on the backend. The service must be acquired.
func (s *Service) OpenStream(attrs *StreamAttributes, dev *Device, cb EventCallback) (Stream, error) {
	s.mu.Lock()
	refs := s.refs
	s.mu.Unlock()

	if refs == 0 {
		return nil, ErrNotInitialized
	}
	return s.backend.OpenStream(attrs, dev, cb)
}
