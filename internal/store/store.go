// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package store defines the materialized view this service keeps of
// competitions, submissions, and comparison results. The view is built
// exclusively by applying broker events; every write is an idempotent
// upsert keyed by the entity's external id so redelivered facts are
// harmless.
//
// The one invariant the store itself enforces is the winner commit:
// isWinnerSelected transitions false to true at most once, atomically,
// together with the winner fields. Implementations must make
// CommitWinner a conditional update, never a read-then-write.
package store

import (
	"context"
	"errors"
	"time"
)

// Competition status values. Transitions are active->stopped and
// active->ended only; both stopped and ended are terminal.
const (
	StatusActive  = "active"
	StatusStopped = "stopped"
	StatusEnded   = "ended"
)

// Comparison result status values, mirroring the comparison service's
// event contract.
const (
	ComparisonPending   = "pending"
	ComparisonCompleted = "completed"
	ComparisonFailed    = "failed"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrWinnerAlreadySelected indicates the conditional winner commit
	// found isWinnerSelected already true. Callers treat this as a
	// benign no-op, not a failure.
	ErrWinnerAlreadySelected = errors.New("winner already selected")
)

// Competition is the local copy of a competition, reduced to the fields
// winner selection needs.
type Competition struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Owner     string     `json:"owner"`
	Status    string     `json:"status"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	IsWinnerSelected bool            `json:"is_winner_selected"`
	Winner           *WinnerDecision `json:"winner,omitempty"`
}

// WinnerDecision is the irrevocable outcome of winner selection,
// embedded in the competition record.
type WinnerDecision struct {
	SubmissionID string    `json:"submission_id"`
	Score        float64   `json:"score"`
	Owner        string    `json:"owner"`
	SelectedAt   time.Time `json:"selected_at"`
}

// Submission is the local copy of a submission. CompetitionID may
// reference a competition this service has not seen yet; the fact is
// stored regardless.
type Submission struct {
	ID            string    `json:"id"`
	CompetitionID string    `json:"competition_id"`
	Owner         string    `json:"owner"`
	CreatedAt     time.Time `json:"created_at"`
}

// ComparisonResult is the local copy of a similarity result. At most one
// result exists per submission; later events overwrite.
type ComparisonResult struct {
	SubmissionID  string    `json:"submission_id"`
	CompetitionID string    `json:"competition_id"`
	Score         float64   `json:"score"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Stats summarizes the view for the operator /stats endpoint.
type Stats struct {
	TotalCompetitions           int `json:"totalCompetitions"`
	CompetitionsWithWinners     int `json:"competitionsWithWinners"`
	CompetitionsAwaitingWinners int `json:"competitionsAwaitingWinners"`
	EndedWithoutWinners         int `json:"endedCompetitionsWithoutWinners"`
}

// Terminal reports whether the competition can no longer transition.
func (c *Competition) Terminal() bool {
	return c.Status == StatusStopped || c.Status == StatusEnded
}

// EndedEligible reports whether the competition is eligible for winner
// selection at the given instant: it was stopped or ended, or its end
// date has passed. A competition with no end date runs until stopped.
func (c *Competition) EndedEligible(now time.Time) bool {
	if c.Terminal() {
		return true
	}
	return c.EndDate != nil && c.EndDate.Before(now)
}

// Store is the materialized view contract. All writes are upserts keyed
// by external id; reads are key or secondary-index lookups.
type Store interface {
	// UpsertCompetition creates the competition if absent. Identity and
	// dates are immutable after creation, so a redelivered create event
	// is a no-op for an existing record (first writer wins).
	UpsertCompetition(ctx context.Context, c Competition) error

	// MarkStopped transitions an active competition to stopped and
	// records the stop instant. Idempotent; a no-op when the competition
	// is already terminal or unknown.
	MarkStopped(ctx context.Context, competitionID string, stoppedAt time.Time) error

	// GetCompetition returns a competition or ErrNotFound.
	GetCompetition(ctx context.Context, competitionID string) (Competition, error)

	// DeleteCompetition removes the competition and cascades to its
	// submissions and comparison results. Deleting an unknown id is a
	// no-op.
	DeleteCompetition(ctx context.Context, competitionID string) error

	// ListUnresolvedEnded returns competitions that are eligible for
	// selection at the given instant but have no winner yet.
	ListUnresolvedEnded(ctx context.Context, now time.Time) ([]Competition, error)

	// CommitWinner atomically sets the winner fields and flips
	// isWinnerSelected where it is still false, marking an active
	// competition ended. Returns ErrWinnerAlreadySelected when the guard
	// fails and ErrNotFound for an unknown competition.
	CommitWinner(ctx context.Context, competitionID string, decision WinnerDecision) error

	// Stats returns aggregate counts for the operator surface.
	Stats(ctx context.Context, now time.Time) (Stats, error)

	// UpsertSubmission creates or updates a submission.
	UpsertSubmission(ctx context.Context, s Submission) error

	// GetSubmission returns a submission or ErrNotFound.
	GetSubmission(ctx context.Context, submissionID string) (Submission, error)

	// DeleteSubmission removes the submission and its comparison result.
	// Deleting an unknown id is a no-op.
	DeleteSubmission(ctx context.Context, submissionID string) error

	// ListSubmissionsByCompetition returns all submissions for a
	// competition.
	ListSubmissionsByCompetition(ctx context.Context, competitionID string) ([]Submission, error)

	// UpsertComparisonResult creates or overwrites the result for a
	// submission.
	UpsertComparisonResult(ctx context.Context, r ComparisonResult) error

	// ListCompletedResults returns all completed results for a
	// competition.
	ListCompletedResults(ctx context.Context, competitionID string) ([]ComparisonResult, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
