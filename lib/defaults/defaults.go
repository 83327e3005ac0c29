/*
 * Labeler
 * Copyright (C) 2026  Skyware
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package defaults contains default constants used across the labeler
// codebase.
package defaults

import "time"

const (
	// HTTPListenAddr is the address the XRPC frontend binds to when
	// the configuration does not say otherwise.
	HTTPListenAddr = "0.0.0.0:4100"

	// DatabasePath is the default location of the sqlite label log.
	DatabasePath = "labels.db"

	// PLCDirectoryURL is the directory used to resolve did:plc
	// identifiers.
	PLCDirectoryURL = "https://plc.directory"
)

const (
	// QueryLimit is the page size applied to queryLabels requests
	// that do not carry an explicit limit.
	QueryLimit = 50

	// MaxQueryLimit is the largest page size a queryLabels request
	// may ask for.
	MaxQueryLimit = 250
)

const (
	// SubscriberQueueSize is the number of frames buffered per
	// subscriber before the connection is dropped as too slow.
	SubscriberQueueSize = 512

	// SubscriberWriteTimeout bounds a single frame write to a
	// subscriber socket.
	SubscriberWriteTimeout = 10 * time.Second

	// KeepAliveInterval is how often ping frames are sent on idle
	// subscription streams.
	KeepAliveInterval = 30 * time.Second
)

const (
	// DIDCacheTTL is how long a resolved signing key stays valid in
	// the in-process DID cache.
	DIDCacheTTL = time.Hour

	// DIDResolutionTimeout bounds a single DID document fetch.
	DIDResolutionTimeout = 10 * time.Second
)

const (
	// DatabaseBusyTimeout is how long sqlite waits on a locked
	// database before failing a statement.
	DatabaseBusyTimeout = 10 * time.Second

	// ShutdownTimeout bounds graceful HTTP server shutdown.
	ShutdownTimeout = 15 * time.Second
)
