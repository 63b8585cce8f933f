// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package api

import "time"

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Status    string    `json:"status"` // "success" or "error"
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError carries a machine-readable code plus a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthStatus reports overall service health. Status is "healthy" when
// both dependencies are up, "degraded" otherwise; the service keeps
// serving reads either way.
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Broker  string `json:"broker"`
	Store   string `json:"store"`
	Uptime  string `json:"uptime"`
}

// TriggerResult reports the outcome of a manual selection trigger.
type TriggerResult struct {
	CompetitionID string `json:"competitionId,omitempty"`
	Candidates    int    `json:"candidates,omitempty"`
	Triggered     bool   `json:"triggered"`
}
