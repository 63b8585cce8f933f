// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package ingest applies broker events to the materialized view. Every
// handler is idempotent: redelivered or out-of-order events converge to
// the same stored state, which is what lets the dispatcher redeliver
// freely on transient failure.
package ingest

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/photoarena/winnerd/internal/eventbus"
	"github.com/photoarena/winnerd/internal/events"
	"github.com/photoarena/winnerd/internal/logging"
	"github.com/photoarena/winnerd/internal/store"
)

// WinnerSelector triggers winner selection for one competition. Benign
// outcomes (no results yet, winner already selected, competition
// unknown) return nil; only real faults surface as errors.
type WinnerSelector interface {
	SelectWinner(ctx context.Context, competitionID string) error
}

// Handlers owns the event-application logic. Two of the handlers also
// drive the event-based selection triggers: a competition stop and a
// comparison completion for an already-ended competition.
type Handlers struct {
	store    store.Store
	selector WinnerSelector
}

// New creates the handler set.
func New(st store.Store, sel WinnerSelector) *Handlers {
	return &Handlers{store: st, selector: sel}
}

// Bindings returns the routing-key to handler map for dispatcher
// registration.
func (h *Handlers) Bindings() map[string]eventbus.Handler {
	return map[string]eventbus.Handler{
		events.RoutingCompetitionCreated: h.HandleCompetitionCreated,
		events.RoutingCompetitionStopped: h.HandleCompetitionStopped,
		events.RoutingCompetitionDeleted: h.HandleCompetitionDeleted,
		events.RoutingSubmissionCreated:  h.HandleSubmissionCreated,
		events.RoutingSubmissionDeleted:  h.HandleSubmissionDeleted,
		events.RoutingComparisonComplete: h.HandleComparisonCompleted,
	}
}

// HandleCompetitionCreated records a new competition. A redelivery for
// an existing id is a no-op; identity and dates never change after the
// first write.
func (h *Handlers) HandleCompetitionCreated(ctx context.Context, payload []byte) error {
	var ev events.CompetitionCreated
	if err := events.Unmarshal(payload, &ev); err != nil {
		return eventbus.NewPermanentError("parse competition.created", err)
	}
	if err := ev.Competition.Validate(); err != nil {
		return eventbus.NewPermanentError("validate competition.created", err)
	}

	c := store.Competition{
		ID:        ev.Competition.ID,
		Title:     ev.Competition.Title,
		Owner:     ev.Competition.Owner,
		Status:    store.StatusActive,
		StartDate: ev.Competition.StartDate,
		EndDate:   ev.Competition.EndDate,
		CreatedAt: ev.Competition.CreatedAt,
	}
	if err := h.store.UpsertCompetition(ctx, c); err != nil {
		return eventbus.NewRetryableError("upsert competition", err)
	}

	logging.Debug().Str("competition_id", c.ID).Msg("Competition recorded")
	return nil
}

// HandleCompetitionStopped marks the competition stopped and triggers
// winner selection. The mark is idempotent, so a redelivery after a
// failed selection attempt retries the selection safely.
func (h *Handlers) HandleCompetitionStopped(ctx context.Context, payload []byte) error {
	var ev events.CompetitionStopped
	if err := events.Unmarshal(payload, &ev); err != nil {
		return eventbus.NewPermanentError("parse competition.stopped", err)
	}
	if ev.CompetitionID == "" {
		return eventbus.NewPermanentError("validate competition.stopped", &events.ValidationError{
			Field: "competitionId", Message: "required",
		})
	}

	stoppedAt := ev.StoppedAt
	if stoppedAt.IsZero() {
		stoppedAt = ev.Timestamp
	}
	if err := h.store.MarkStopped(ctx, ev.CompetitionID, stoppedAt); err != nil {
		return eventbus.NewRetryableError("mark competition stopped", err)
	}

	logging.Info().Str("competition_id", ev.CompetitionID).Msg("Competition stopped")

	if err := h.selector.SelectWinner(ctx, ev.CompetitionID); err != nil {
		return eventbus.NewRetryableError("select winner after stop", err)
	}
	return nil
}

// HandleCompetitionDeleted removes the competition and everything under
// it. Deleting an unknown id is a no-op.
func (h *Handlers) HandleCompetitionDeleted(ctx context.Context, payload []byte) error {
	var ev events.CompetitionDeleted
	if err := events.Unmarshal(payload, &ev); err != nil {
		return eventbus.NewPermanentError("parse competition.deleted", err)
	}
	if ev.CompetitionID == "" {
		return eventbus.NewPermanentError("validate competition.deleted", &events.ValidationError{
			Field: "competitionId", Message: "required",
		})
	}

	if err := h.store.DeleteCompetition(ctx, ev.CompetitionID); err != nil {
		return eventbus.NewRetryableError("delete competition", err)
	}

	logging.Info().Str("competition_id", ev.CompetitionID).Msg("Competition deleted")
	return nil
}

// HandleSubmissionCreated records a submission. The referenced
// competition may be unknown to this service; the fact is stored
// regardless so ordering between services does not matter.
func (h *Handlers) HandleSubmissionCreated(ctx context.Context, payload []byte) error {
	var ev events.SubmissionCreated
	if err := events.Unmarshal(payload, &ev); err != nil {
		return eventbus.NewPermanentError("parse submission.created", err)
	}
	if err := ev.Submission.Validate(); err != nil {
		return eventbus.NewPermanentError("validate submission.created", err)
	}

	sub := store.Submission{
		ID:            ev.Submission.ID,
		CompetitionID: ev.Submission.CompetitionID,
		Owner:         ev.Submission.Owner,
		CreatedAt:     ev.Submission.CreatedAt,
	}
	if err := h.store.UpsertSubmission(ctx, sub); err != nil {
		return eventbus.NewRetryableError("upsert submission", err)
	}

	logging.Debug().
		Str("submission_id", sub.ID).
		Str("competition_id", sub.CompetitionID).
		Msg("Submission recorded")
	return nil
}

// HandleSubmissionDeleted removes a submission and its comparison
// result.
func (h *Handlers) HandleSubmissionDeleted(ctx context.Context, payload []byte) error {
	var ev events.SubmissionDeleted
	if err := events.Unmarshal(payload, &ev); err != nil {
		return eventbus.NewPermanentError("parse submission.deleted", err)
	}
	if ev.SubmissionID == "" {
		return eventbus.NewPermanentError("validate submission.deleted", &events.ValidationError{
			Field: "submissionId", Message: "required",
		})
	}

	if err := h.store.DeleteSubmission(ctx, ev.SubmissionID); err != nil {
		return eventbus.NewRetryableError("delete submission", err)
	}

	logging.Debug().Str("submission_id", ev.SubmissionID).Msg("Submission deleted")
	return nil
}

// HandleComparisonCompleted records a similarity result, overwriting
// any previous result for the submission, then triggers selection when
// the competition is already past its end. Scores are normalized before
// storage so equality comparisons during selection are exact.
func (h *Handlers) HandleComparisonCompleted(ctx context.Context, payload []byte) error {
	var ev events.ComparisonCompleted
	if err := events.Unmarshal(payload, &ev); err != nil {
		return eventbus.NewPermanentError("parse comparison.completed", err)
	}
	result := ev.ComparisonResult
	if err := result.Validate(); err != nil {
		return eventbus.NewPermanentError("validate comparison.completed", err)
	}

	updatedAt := ev.Timestamp
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	r := store.ComparisonResult{
		SubmissionID:  result.SubmissionID,
		CompetitionID: result.CompetitionID,
		Score:         NormalizeScore(result.Score),
		Status:        result.Status,
		ErrorMessage:  result.ErrorMessage,
		UpdatedAt:     updatedAt,
	}
	if err := h.store.UpsertComparisonResult(ctx, r); err != nil {
		return eventbus.NewRetryableError("upsert comparison result", err)
	}

	logging.Debug().
		Str("submission_id", r.SubmissionID).
		Str("competition_id", r.CompetitionID).
		Str("status", r.Status).
		Msg("Comparison result recorded")

	if r.Status != store.ComparisonCompleted {
		return nil
	}
	return h.maybeSelect(ctx, r.CompetitionID)
}

// maybeSelect runs selection when the competition is known, eligible,
// and unresolved. A late comparison result for a still-running
// competition does not trigger anything; the end-date sweep or a stop
// event will.
func (h *Handlers) maybeSelect(ctx context.Context, competitionID string) error {
	c, err := h.store.GetCompetition(ctx, competitionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logging.Warn().
				Str("competition_id", competitionID).
				Msg("Comparison result references unknown competition")
			return nil
		}
		return eventbus.NewRetryableError("load competition", err)
	}
	if c.IsWinnerSelected || !c.EndedEligible(time.Now().UTC()) {
		return nil
	}
	if err := h.selector.SelectWinner(ctx, competitionID); err != nil {
		return eventbus.NewRetryableError("select winner after late result", err)
	}
	return nil
}

// NormalizeScore rounds a similarity score to four decimal places. All
// stored scores pass through this, so tie detection during selection is
// an exact float comparison.
func NormalizeScore(score float64) float64 {
	return math.Round(score*10000) / 10000
}
