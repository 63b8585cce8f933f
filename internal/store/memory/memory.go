// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package memory provides an in-process Store implementation. It backs
// tests and the degraded mode where no data directory is configured; the
// view is rebuilt from the event stream on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/photoarena/winnerd/internal/store"
)

// Store is a mutex-guarded in-memory materialized view.
type Store struct {
	mu           sync.RWMutex
	competitions map[string]store.Competition
	submissions  map[string]store.Submission
	results      map[string]store.ComparisonResult // keyed by submission id
	// byCompetition indexes submission ids per competition for cascades
	// and secondary-index reads.
	byCompetition map[string]map[string]struct{}
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		competitions:  make(map[string]store.Competition),
		submissions:   make(map[string]store.Submission),
		results:       make(map[string]store.ComparisonResult),
		byCompetition: make(map[string]map[string]struct{}),
	}
}

// UpsertCompetition creates the competition if absent; first writer wins.
func (s *Store) UpsertCompetition(_ context.Context, c store.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.competitions[c.ID]; exists {
		return nil
	}
	if c.Status == "" {
		c.Status = store.StatusActive
	}
	c.IsWinnerSelected = false
	c.Winner = nil
	s.competitions[c.ID] = c
	return nil
}

// MarkStopped transitions an active competition to stopped.
func (s *Store) MarkStopped(_ context.Context, competitionID string, stoppedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.competitions[competitionID]
	if !ok || c.Terminal() {
		return nil
	}
	c.Status = store.StatusStopped
	c.StoppedAt = &stoppedAt
	s.competitions[competitionID] = c
	return nil
}

// GetCompetition returns a competition or ErrNotFound.
func (s *Store) GetCompetition(_ context.Context, competitionID string) (store.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.competitions[competitionID]
	if !ok {
		return store.Competition{}, store.ErrNotFound
	}
	return c, nil
}

// DeleteCompetition removes the competition, its submissions, and their
// comparison results.
func (s *Store) DeleteCompetition(_ context.Context, competitionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.competitions, competitionID)
	for subID := range s.byCompetition[competitionID] {
		delete(s.submissions, subID)
		delete(s.results, subID)
	}
	delete(s.byCompetition, competitionID)
	return nil
}

// ListUnresolvedEnded returns selection-eligible competitions without a
// winner.
func (s *Store) ListUnresolvedEnded(_ context.Context, now time.Time) ([]store.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Competition
	for _, c := range s.competitions {
		if !c.IsWinnerSelected && c.EndedEligible(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

// CommitWinner performs the conditional winner update under the write
// lock, which makes check and set a single atomic step.
func (s *Store) CommitWinner(_ context.Context, competitionID string, decision store.WinnerDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.competitions[competitionID]
	if !ok {
		return store.ErrNotFound
	}
	if c.IsWinnerSelected {
		return store.ErrWinnerAlreadySelected
	}

	c.IsWinnerSelected = true
	c.Winner = &decision
	if c.Status == store.StatusActive {
		c.Status = store.StatusEnded
	}
	s.competitions[competitionID] = c
	return nil
}

// Stats returns aggregate counts over the view.
func (s *Store) Stats(_ context.Context, now time.Time) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st store.Stats
	for _, c := range s.competitions {
		st.TotalCompetitions++
		switch {
		case c.IsWinnerSelected:
			st.CompetitionsWithWinners++
		case c.EndedEligible(now):
			st.EndedWithoutWinners++
		default:
			st.CompetitionsAwaitingWinners++
		}
	}
	return st, nil
}

// UpsertSubmission creates or updates a submission.
func (s *Store) UpsertSubmission(_ context.Context, sub store.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, exists := s.submissions[sub.ID]; exists && prev.CompetitionID != sub.CompetitionID {
		s.unindex(prev.CompetitionID, sub.ID)
	}
	s.submissions[sub.ID] = sub
	s.index(sub.CompetitionID, sub.ID)
	return nil
}

// GetSubmission returns a submission or ErrNotFound.
func (s *Store) GetSubmission(_ context.Context, submissionID string) (store.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return store.Submission{}, store.ErrNotFound
	}
	return sub, nil
}

// DeleteSubmission removes the submission and its comparison result.
func (s *Store) DeleteSubmission(_ context.Context, submissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.submissions[submissionID]; ok {
		s.unindex(sub.CompetitionID, submissionID)
	}
	delete(s.submissions, submissionID)
	delete(s.results, submissionID)
	return nil
}

// ListSubmissionsByCompetition returns all submissions for a competition.
func (s *Store) ListSubmissionsByCompetition(_ context.Context, competitionID string) ([]store.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Submission
	for subID := range s.byCompetition[competitionID] {
		out = append(out, s.submissions[subID])
	}
	return out, nil
}

// UpsertComparisonResult creates or overwrites the result for a
// submission.
func (s *Store) UpsertComparisonResult(_ context.Context, r store.ComparisonResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[r.SubmissionID] = r
	return nil
}

// ListCompletedResults returns all completed results for a competition.
func (s *Store) ListCompletedResults(_ context.Context, competitionID string) ([]store.ComparisonResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.ComparisonResult
	for _, r := range s.results {
		if r.CompetitionID == competitionID && r.Status == store.ComparisonCompleted {
			out = append(out, r)
		}
	}
	return out, nil
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func (s *Store) index(competitionID, submissionID string) {
	subs, ok := s.byCompetition[competitionID]
	if !ok {
		subs = make(map[string]struct{})
		s.byCompetition[competitionID] = subs
	}
	subs[submissionID] = struct{}{}
}

func (s *Store) unindex(competitionID, submissionID string) {
	if subs, ok := s.byCompetition[competitionID]; ok {
		delete(subs, submissionID)
		if len(subs) == 0 {
			delete(s.byCompetition, competitionID)
		}
	}
}
