// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package selector is the winner decision engine. All three trigger
// paths (competition stop, late comparison result, reconciliation
// sweep) funnel into SelectWinner, and the store's conditional commit
// guarantees at most one decision per competition no matter how many
// triggers race.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/photoarena/winnerd/internal/events"
	"github.com/photoarena/winnerd/internal/logging"
	"github.com/photoarena/winnerd/internal/metrics"
	"github.com/photoarena/winnerd/internal/store"
)

// EventPublisher publishes the winner announcement. The eventbus
// Publisher satisfies this; tests use a recording fake.
type EventPublisher interface {
	PublishEvent(routingKey, eventID string, event any) error
}

// Selector computes and commits winner decisions.
type Selector struct {
	store     store.Store
	publisher EventPublisher
}

// New creates a selector. The publisher may be nil in degraded mode;
// decisions are then committed without an announcement.
func New(st store.Store, pub EventPublisher) *Selector {
	return &Selector{store: st, publisher: pub}
}

// candidate pairs a completed result with its submission record for
// tie-breaking. A submission record can be missing when events arrived
// out of order; such candidates lose ties deterministically.
type candidate struct {
	result     store.ComparisonResult
	submission store.Submission
	known      bool
}

// SelectWinner decides the winner for one competition. Benign outcomes
// return nil: no completed results yet, competition unknown, or winner
// already selected. The decision is committed before the announcement
// is published; a failed publish is logged and does not undo the
// decision.
func (s *Selector) SelectWinner(ctx context.Context, competitionID string) error {
	start := time.Now()

	competition, err := s.store.GetCompetition(ctx, competitionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.RecordSelectionNoop("not_found")
			return nil
		}
		return fmt.Errorf("load competition %s: %w", competitionID, err)
	}

	results, err := s.store.ListCompletedResults(ctx, competitionID)
	if err != nil {
		return fmt.Errorf("list completed results for %s: %w", competitionID, err)
	}
	if len(results) == 0 {
		metrics.RecordSelectionNoop("no_results")
		logging.Debug().
			Str("competition_id", competitionID).
			Msg("No completed results, selection deferred")
		return nil
	}

	winner, err := s.pickWinner(ctx, results)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	decision := store.WinnerDecision{
		SubmissionID: winner.result.SubmissionID,
		Score:        winner.result.Score,
		Owner:        winner.submission.Owner,
		SelectedAt:   now,
	}

	// The conditional commit is the sole exactly-once guard. Checking
	// IsWinnerSelected beforehand would just race other triggers.
	if err := s.store.CommitWinner(ctx, competitionID, decision); err != nil {
		switch {
		case errors.Is(err, store.ErrWinnerAlreadySelected):
			metrics.RecordSelectionNoop("already_selected")
			return nil
		case errors.Is(err, store.ErrNotFound):
			metrics.RecordSelectionNoop("not_found")
			return nil
		default:
			return fmt.Errorf("commit winner for %s: %w", competitionID, err)
		}
	}

	metrics.RecordWinnerSelected(time.Since(start))
	logging.Info().
		Str("competition_id", competitionID).
		Str("submission_id", decision.SubmissionID).
		Float64("score", decision.Score).
		Msg("Winner selected")

	s.announce(competition, winner, decision)
	return nil
}

// pickWinner orders candidates by score descending, breaking ties by
// earliest submission date. Candidates without a submission record sort
// after those with one; submission id is the final key so the order is
// total.
func (s *Selector) pickWinner(ctx context.Context, results []store.ComparisonResult) (candidate, error) {
	candidates := make([]candidate, 0, len(results))
	for _, r := range results {
		c := candidate{result: r}
		sub, err := s.store.GetSubmission(ctx, r.SubmissionID)
		switch {
		case err == nil:
			c.submission = sub
			c.known = true
		case errors.Is(err, store.ErrNotFound):
		default:
			return candidate{}, fmt.Errorf("load submission %s: %w", r.SubmissionID, err)
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.result.Score != b.result.Score {
			return a.result.Score > b.result.Score
		}
		if a.known != b.known {
			return a.known
		}
		if a.known && !a.submission.CreatedAt.Equal(b.submission.CreatedAt) {
			return a.submission.CreatedAt.Before(b.submission.CreatedAt)
		}
		return a.result.SubmissionID < b.result.SubmissionID
	})

	return candidates[0], nil
}

// announce publishes the winner.selected fact. The event id doubles as
// the broker message id, so a republish of the same decision is a
// duplicate, not a second announcement.
func (s *Selector) announce(competition store.Competition, winner candidate, decision store.WinnerDecision) {
	if s.publisher == nil {
		logging.Warn().
			Str("competition_id", competition.ID).
			Msg("No publisher configured, winner announcement skipped")
		return
	}

	ev := events.WinnerSelected{
		Metadata:           events.NewMetadata(),
		CompetitionID:      competition.ID,
		WinnerSubmissionID: decision.SubmissionID,
		WinnerScore:        decision.Score,
		WinnerOwner:        decision.Owner,
		CompetitionTitle:   competition.Title,
		SubmissionDate:     winner.submission.CreatedAt,
		SelectedAt:         decision.SelectedAt,
	}

	if err := s.publisher.PublishEvent(events.RoutingWinnerSelected, ev.EventID, &ev); err != nil {
		logging.Error().
			Err(err).
			Str("competition_id", competition.ID).
			Str("submission_id", decision.SubmissionID).
			Msg("Winner announcement publish failed, decision stands")
	}
}
