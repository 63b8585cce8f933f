// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package events defines the facts exchanged between Photoarena services.
//
// Every message on the broker is a JSON-encoded envelope carrying one
// entity payload plus event metadata. The shapes here are the contract
// with the competition, submission, and image-comparison services; they
// must not change without coordinating a schema version bump.
package events

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version.
// Increment this when making breaking changes to any event payload.
const SchemaVersion = 1

// Routing keys for the topic exchanges. Consumers bind durable queues to
// these keys; publishers must use them verbatim.
const (
	RoutingCompetitionCreated = "competition.created"
	RoutingCompetitionStopped = "competition.stopped"
	RoutingCompetitionDeleted = "competition.deleted"
	RoutingSubmissionCreated  = "submission.created"
	RoutingSubmissionDeleted  = "submission.deleted"
	RoutingComparisonComplete = "comparison.completed"
	RoutingWinnerSelected     = "winner.selected"
)

// Stream (exchange) names. Each stream captures one subject hierarchy so
// a service can bind to exactly the facts it needs.
const (
	StreamCompetitions = "COMPETITIONS"
	StreamSubmissions  = "SUBMISSIONS"
	StreamComparisons  = "COMPARISONS"
	StreamWinners      = "WINNERS"
)

// StreamForRoutingKey returns the stream that carries the given routing key.
func StreamForRoutingKey(key string) string {
	switch key {
	case RoutingCompetitionCreated, RoutingCompetitionStopped, RoutingCompetitionDeleted:
		return StreamCompetitions
	case RoutingSubmissionCreated, RoutingSubmissionDeleted:
		return StreamSubmissions
	case RoutingComparisonComplete:
		return StreamComparisons
	case RoutingWinnerSelected:
		return StreamWinners
	default:
		return ""
	}
}

// ComparisonResult status values produced by the image-comparison service.
const (
	ComparisonStatusPending   = "pending"
	ComparisonStatusCompleted = "completed"
	ComparisonStatusFailed    = "failed"
)

// Metadata carries event bookkeeping shared by every envelope.
type Metadata struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMetadata creates metadata with a fresh event ID and UTC timestamp.
func NewMetadata() Metadata {
	return Metadata{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}
}

// CompetitionPayload is the competition entity as published by the
// competition service. Identity and dates are immutable after creation.
type CompetitionPayload struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Owner     string     `json:"owner"`
	StartDate *time.Time `json:"startDate,omitempty"`
	// EndDate absent means the competition runs until manually stopped.
	EndDate   *time.Time `json:"endDate,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// SubmissionPayload is the submission entity as published by the
// submission service.
type SubmissionPayload struct {
	ID            string    `json:"id"`
	CompetitionID string    `json:"competitionId"`
	Owner         string    `json:"owner"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ComparisonResultPayload is the similarity result published by the
// image-comparison service. Score is meaningful only when Status is
// "completed"; ErrorMessage only when Status is "failed".
type ComparisonResultPayload struct {
	SubmissionID  string  `json:"submissionId"`
	CompetitionID string  `json:"competitionId"`
	Score         float64 `json:"score"`
	Status        string  `json:"status"`
	ErrorMessage  string  `json:"errorMessage,omitempty"`
}

// CompetitionCreated announces a new competition.
type CompetitionCreated struct {
	Metadata
	Competition CompetitionPayload `json:"competition"`
}

// CompetitionStopped announces a manual stop of an active competition.
type CompetitionStopped struct {
	Metadata
	CompetitionID string    `json:"competitionId"`
	Title         string    `json:"title"`
	Owner         string    `json:"owner"`
	StoppedAt     time.Time `json:"stoppedAt"`
}

// CompetitionDeleted announces removal of a competition and everything
// under it.
type CompetitionDeleted struct {
	Metadata
	CompetitionID string    `json:"competitionId"`
	DeletedAt     time.Time `json:"deletedAt"`
}

// SubmissionCreated announces a new submission.
type SubmissionCreated struct {
	Metadata
	Submission SubmissionPayload `json:"submission"`
}

// SubmissionDeleted announces removal of a submission.
type SubmissionDeleted struct {
	Metadata
	SubmissionID  string    `json:"submissionId"`
	CompetitionID string    `json:"competitionId"`
	DeletedAt     time.Time `json:"deletedAt"`
}

// ComparisonCompleted announces a finished (or failed) similarity
// computation for one submission.
type ComparisonCompleted struct {
	Metadata
	ComparisonResult ComparisonResultPayload `json:"comparisonResult"`
}

// WinnerSelected is the fact this service publishes once per competition.
type WinnerSelected struct {
	Metadata
	CompetitionID      string    `json:"competitionId"`
	WinnerSubmissionID string    `json:"winnerSubmissionId"`
	WinnerScore        float64   `json:"winnerScore"`
	WinnerOwner        string    `json:"winnerOwner"`
	CompetitionTitle   string    `json:"competitionTitle"`
	SubmissionDate     time.Time `json:"submissionDate"`
	SelectedAt         time.Time `json:"selectedAt"`
}

// Validate checks required fields on a competition payload.
func (p *CompetitionPayload) Validate() error {
	if p.ID == "" {
		return &ValidationError{Field: "competition.id", Message: "required"}
	}
	if p.Title == "" {
		return &ValidationError{Field: "competition.title", Message: "required"}
	}
	return nil
}

// Validate checks required fields on a submission payload.
func (p *SubmissionPayload) Validate() error {
	if p.ID == "" {
		return &ValidationError{Field: "submission.id", Message: "required"}
	}
	if p.CompetitionID == "" {
		return &ValidationError{Field: "submission.competitionId", Message: "required"}
	}
	return nil
}

// Validate checks required fields and score bounds on a comparison result.
func (p *ComparisonResultPayload) Validate() error {
	if p.SubmissionID == "" {
		return &ValidationError{Field: "comparisonResult.submissionId", Message: "required"}
	}
	if p.CompetitionID == "" {
		return &ValidationError{Field: "comparisonResult.competitionId", Message: "required"}
	}
	switch p.Status {
	case ComparisonStatusPending, ComparisonStatusCompleted, ComparisonStatusFailed:
	default:
		return &ValidationError{Field: "comparisonResult.status", Message: "unknown status " + p.Status}
	}
	if p.Status == ComparisonStatusCompleted && (p.Score < 0 || p.Score > 100) {
		return &ValidationError{Field: "comparisonResult.score", Message: "out of range [0,100]"}
	}
	return nil
}

// Validate checks required fields on a winner announcement.
func (e *WinnerSelected) Validate() error {
	if e.CompetitionID == "" {
		return &ValidationError{Field: "competitionId", Message: "required"}
	}
	if e.WinnerSubmissionID == "" {
		return &ValidationError{Field: "winnerSubmissionId", Message: "required"}
	}
	return nil
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
