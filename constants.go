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

// Package labeler holds constants shared across the labeler codebase.
package labeler

// Version is the semantic version of the labeler service, reported by
// the health probe and the CLI.
const Version = "0.3.0"

const (
	// Component is the name of the slog attribute used to tag log
	// lines with the component that produced them.
	Component = "component"

	// ComponentBackend is the label store.
	ComponentBackend = "backend"

	// ComponentResolver is the DID document resolver.
	ComponentResolver = "resolver"

	// ComponentSequencer is the label sequencer and signer.
	ComponentSequencer = "sequencer"

	// ComponentStream is the subscription broadcaster.
	ComponentStream = "stream"

	// ComponentWeb is the HTTP and WebSocket frontend.
	ComponentWeb = "web"

	// ComponentService is the process-level supervisor.
	ComponentService = "service"
)

const (
	// QueryLabelsMethod is the XRPC method serving historical label
	// queries.
	QueryLabelsMethod = "com.atproto.label.queryLabels"

	// SubscribeLabelsMethod is the XRPC method streaming new labels.
	SubscribeLabelsMethod = "com.atproto.label.subscribeLabels"

	// EmitEventMethod is the XRPC method accepting moderation events.
	EmitEventMethod = "tools.ozone.moderation.emitEvent"
)
