// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package api is the operator HTTP surface: health, view statistics,
// manual selection triggers, and Prometheus metrics. It is read-mostly;
// the only mutation it can cause is a winner selection that the event
// and sweep paths would eventually perform anyway.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/photoarena/winnerd/internal/store"
)

// WinnerSelector triggers winner selection for one competition.
type WinnerSelector interface {
	SelectWinner(ctx context.Context, competitionID string) error
}

// Sweeper runs one reconciliation sweep and reports how many
// competitions it examined.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// BrokerHealth reports broker connectivity.
type BrokerHealth func() bool

// Handler implements the operator endpoints.
type Handler struct {
	store    store.Store
	selector WinnerSelector
	sweeper  Sweeper
	broker   BrokerHealth
	started  time.Time
}

// NewHandler creates the handler. A nil broker health func reports the
// broker as down, which matches degraded mode.
func NewHandler(st store.Store, sel WinnerSelector, sw Sweeper, broker BrokerHealth) *Handler {
	return &Handler{
		store:    st,
		selector: sel,
		sweeper:  sw,
		broker:   broker,
		started:  time.Now(),
	}
}

// Health reports service health. Degraded states return 200 so
// orchestrators do not restart a service that is intentionally serving
// without its broker; the body distinguishes the states.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:  "healthy",
		Service: "winner-service",
		Broker:  "up",
		Store:   "up",
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}

	if h.broker == nil || !h.broker() {
		status.Broker = "down"
		status.Status = "degraded"
	}
	if err := h.store.Ping(r.Context()); err != nil {
		status.Store = "down"
		status.Status = "degraded"
	}

	respondSuccess(w, http.StatusOK, status)
}

// Stats returns aggregate counts over the materialized view.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context(), time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STATS_FAILED", "failed to compute statistics", err)
		return
	}
	respondSuccess(w, http.StatusOK, stats)
}

// TriggerAll runs a reconciliation sweep immediately. A sweep already
// in flight absorbs the request; the response reports zero candidates.
func (h *Handler) TriggerAll(w http.ResponseWriter, r *http.Request) {
	candidates := h.sweeper.Sweep(r.Context())
	respondSuccess(w, http.StatusOK, TriggerResult{
		Candidates: candidates,
		Triggered:  true,
	})
}

// TriggerOne runs winner selection for a single competition. Benign
// no-ops (unknown competition, no results, already selected) succeed;
// the selection outcome is observable through /stats and the winner
// event.
func (h *Handler) TriggerOne(w http.ResponseWriter, r *http.Request) {
	competitionID := chi.URLParam(r, "competitionID")
	if competitionID == "" {
		respondError(w, http.StatusBadRequest, "MISSING_COMPETITION_ID", "competition id is required", nil)
		return
	}

	if err := h.selector.SelectWinner(r.Context(), competitionID); err != nil {
		respondError(w, http.StatusInternalServerError, "SELECTION_FAILED", "winner selection failed", err)
		return
	}

	respondSuccess(w, http.StatusOK, TriggerResult{
		CompetitionID: competitionID,
		Triggered:     true,
	})
}
