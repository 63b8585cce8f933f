// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package eventbus is the broker client layer. It owns the NATS
// connection lifecycle, declares the JetStream topology the service
// depends on, and provides the two halves of the messaging contract:
//
//   - Publisher: resilient JetStream publishing with circuit breaker
//     protection and Nats-Msg-Id deduplication.
//   - Dispatcher: durable queue-group consumption that routes messages
//     by routing key to registered handlers, with an explicit failure
//     policy (drop or dead-letter) for messages that cannot be handled.
//
// Topology declaration is idempotent and safe to run concurrently with
// other service instances declaring the same streams.
package eventbus
