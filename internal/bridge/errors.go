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

import "errors"

// Error classes. Errors returned or logged by the bridge wrap one of these.
var (
	// ErrConfiguration means the properties do not describe a usable stream. No HAL call
	// is made.
	ErrConfiguration = errors.New("configuration error")

	// ErrResource means the HAL refused to open, size or start a stream. The bridge moves
	// to the error state and requests teardown.
	ErrResource = errors.New("resource error")

	// ErrTransientIO means a single read or write failed. The buffer is still returned.
	ErrTransientIO = errors.New("transient i/o error")

	// ErrShutdown means stop or close failed during teardown. Release proceeds anyway.
	ErrShutdown = errors.New("shutdown error")

	// ErrInactive is returned by operations that need an open HAL stream when none is open.
	ErrInactive = errors.New("no active hal stream")
)
