// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package events

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestMarshalValidatesBeforeEncoding(t *testing.T) {
	ev := &WinnerSelected{
		Metadata:      NewMetadata(),
		CompetitionID: "comp-1",
		// WinnerSubmissionID missing
	}
	_, err := Marshal(ev)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if verr.Field != "winnerSubmissionId" {
		t.Errorf("field = %s", verr.Field)
	}
}

func TestWinnerSelectedRoundTrip(t *testing.T) {
	in := &WinnerSelected{
		Metadata:           NewMetadata(),
		CompetitionID:      "comp-1",
		WinnerSubmissionID: "sub-9",
		WinnerScore:        93.5,
		WinnerOwner:        "alice",
		CompetitionTitle:   "Night Sky",
		SubmissionDate:     time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC),
		SelectedAt:         time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out WinnerSelected
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.WinnerSubmissionID != in.WinnerSubmissionID || out.WinnerScore != in.WinnerScore {
		t.Errorf("round trip lost fields: %+v", out)
	}
	if !out.SelectedAt.Equal(in.SelectedAt) {
		t.Errorf("selectedAt = %v", out.SelectedAt)
	}
}

// The wire contract uses camelCase field names; peers parse these
// verbatim.
func TestWireFieldNames(t *testing.T) {
	data, err := Marshal(&ComparisonCompleted{
		Metadata: NewMetadata(),
		ComparisonResult: ComparisonResultPayload{
			SubmissionID:  "sub-1",
			CompetitionID: "comp-1",
			Score:         80,
			Status:        ComparisonStatusCompleted,
		},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	for _, field := range []string{
		`"comparisonResult"`, `"submissionId"`, `"competitionId"`, `"event_id"`,
	} {
		if !bytes.Contains(data, []byte(field)) {
			t.Errorf("encoded event missing %s: %s", field, data)
		}
	}
}

func TestComparisonResultPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload ComparisonResultPayload
		wantErr bool
	}{
		{
			name: "valid completed",
			payload: ComparisonResultPayload{
				SubmissionID: "s1", CompetitionID: "c1", Score: 50, Status: ComparisonStatusCompleted,
			},
		},
		{
			name: "score out of range",
			payload: ComparisonResultPayload{
				SubmissionID: "s1", CompetitionID: "c1", Score: 101, Status: ComparisonStatusCompleted,
			},
			wantErr: true,
		},
		{
			name: "failed result carries no score constraint",
			payload: ComparisonResultPayload{
				SubmissionID: "s1", CompetitionID: "c1", Score: -1, Status: ComparisonStatusFailed,
			},
		},
		{
			name: "unknown status",
			payload: ComparisonResultPayload{
				SubmissionID: "s1", CompetitionID: "c1", Status: "done",
			},
			wantErr: true,
		},
		{
			name:    "missing submission id",
			payload: ComparisonResultPayload{CompetitionID: "c1", Status: ComparisonStatusCompleted},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStreamForRoutingKey(t *testing.T) {
	tests := map[string]string{
		RoutingCompetitionCreated: StreamCompetitions,
		RoutingCompetitionStopped: StreamCompetitions,
		RoutingCompetitionDeleted: StreamCompetitions,
		RoutingSubmissionCreated:  StreamSubmissions,
		RoutingSubmissionDeleted:  StreamSubmissions,
		RoutingComparisonComplete: StreamComparisons,
		RoutingWinnerSelected:     StreamWinners,
		"unknown.key":             "",
	}
	for key, want := range tests {
		if got := StreamForRoutingKey(key); got != want {
			t.Errorf("StreamForRoutingKey(%s) = %s, want %s", key, got, want)
		}
	}
}

func TestNewMetadata(t *testing.T) {
	a := NewMetadata()
	b := NewMetadata()
	if a.EventID == "" || a.EventID == b.EventID {
		t.Errorf("event ids not unique: %s %s", a.EventID, b.EventID)
	}
	if a.Timestamp.IsZero() {
		t.Error("zero timestamp")
	}
}
