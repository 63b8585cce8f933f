// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package badgerstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/photoarena/winnerd/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestCompetitionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	in := store.Competition{
		ID:        "c1",
		Title:     "Macro Monday",
		Owner:     "alice",
		EndDate:   &end,
		CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertCompetition(ctx, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetCompetition(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != in.Title || got.Owner != in.Owner {
		t.Errorf("got %+v", got)
	}
	if got.Status != store.StatusActive {
		t.Errorf("status = %s, want active default", got.Status)
	}
	if got.EndDate == nil || !got.EndDate.Equal(end) {
		t.Errorf("endDate = %v, want %v", got.EndDate, end)
	}

	if _, err := s.GetCompetition(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get unknown = %v, want ErrNotFound", err)
	}
}

func TestUpsertCompetitionFirstWriterWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCompetition(ctx, store.Competition{ID: "c1", Title: "First"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCompetition(ctx, store.Competition{ID: "c1", Title: "Second"}); err != nil {
		t.Fatal(err)
	}
	c, _ := s.GetCompetition(ctx, "c1")
	if c.Title != "First" {
		t.Errorf("title = %s, want First", c.Title)
	}
}

func TestCommitWinnerExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCompetition(ctx, store.Competition{ID: "c1"}); err != nil {
		t.Fatal(err)
	}

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CommitWinner(ctx, "c1", store.WinnerDecision{
				SubmissionID: "s1",
				Score:        float64(i),
				SelectedAt:   time.Now(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrWinnerAlreadySelected):
			default:
				t.Errorf("unexpected commit error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes)
	}
	c, _ := s.GetCompetition(ctx, "c1")
	if !c.IsWinnerSelected || c.Winner == nil {
		t.Fatal("winner fields not committed")
	}
	if c.Status != store.StatusEnded {
		t.Errorf("status = %s, want ended", c.Status)
	}
}

func TestDeleteCompetitionCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCompetition(ctx, store.Competition{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	for _, subID := range []string{"s1", "s2"} {
		if err := s.UpsertSubmission(ctx, store.Submission{ID: subID, CompetitionID: "c1"}); err != nil {
			t.Fatal(err)
		}
		if err := s.UpsertComparisonResult(ctx, store.ComparisonResult{
			SubmissionID: subID, CompetitionID: "c1", Status: store.ComparisonCompleted,
		}); err != nil {
			t.Fatal(err)
		}
	}
	// Result without a submission record cascades too.
	if err := s.UpsertComparisonResult(ctx, store.ComparisonResult{
		SubmissionID: "s-orphan", CompetitionID: "c1", Status: store.ComparisonCompleted,
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteCompetition(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetCompetition(ctx, "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("competition still present")
	}
	for _, subID := range []string{"s1", "s2"} {
		if _, err := s.GetSubmission(ctx, subID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("submission %s survived cascade", subID)
		}
	}
	results, err := s.ListCompletedResults(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results survived cascade: %+v", results)
	}
}

func TestListSubmissionsByCompetition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, sub := range []store.Submission{
		{ID: "s1", CompetitionID: "c1", Owner: "alice"},
		{ID: "s2", CompetitionID: "c1", Owner: "bob"},
		{ID: "s3", CompetitionID: "c2", Owner: "carol"},
	} {
		if err := s.UpsertSubmission(ctx, sub); err != nil {
			t.Fatal(err)
		}
	}

	subs, err := s.ListSubmissionsByCompetition(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d submissions, want 2", len(subs))
	}
}

func TestListUnresolvedEndedAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if err := s.UpsertCompetition(ctx, store.Competition{ID: "ended", EndDate: &past}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCompetition(ctx, store.Competition{ID: "running", EndDate: &future}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCompetition(ctx, store.Competition{ID: "won", EndDate: &past}); err != nil {
		t.Fatal(err)
	}
	if err := s.CommitWinner(ctx, "won", store.WinnerDecision{SubmissionID: "s1"}); err != nil {
		t.Fatal(err)
	}

	unresolved, err := s.ListUnresolvedEnded(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(unresolved) != 1 || unresolved[0].ID != "ended" {
		t.Errorf("unresolved = %+v, want only 'ended'", unresolved)
	}

	stats, err := s.Stats(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	want := store.Stats{
		TotalCompetitions:           3,
		CompetitionsWithWinners:     1,
		CompetitionsAwaitingWinners: 1,
		EndedWithoutWinners:         1,
	}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestComparisonResultOverwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertComparisonResult(ctx, store.ComparisonResult{
		SubmissionID: "s1", CompetitionID: "c1", Status: store.ComparisonPending,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertComparisonResult(ctx, store.ComparisonResult{
		SubmissionID: "s1", CompetitionID: "c1", Score: 88.5, Status: store.ComparisonCompleted,
	}); err != nil {
		t.Fatal(err)
	}

	results, err := s.ListCompletedResults(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Score != 88.5 {
		t.Errorf("results = %+v, want single completed result with score 88.5", results)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCompetition(ctx, store.Competition{ID: "c1", Title: "Persisted"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CommitWinner(ctx, "c1", store.WinnerDecision{SubmissionID: "s1", Score: 90}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	c, err := reopened.GetCompetition(ctx, "c1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if !c.IsWinnerSelected || c.Winner.SubmissionID != "s1" {
		t.Errorf("decision lost across restart: %+v", c)
	}

	// The guard survives restart as well.
	err = reopened.CommitWinner(ctx, "c1", store.WinnerDecision{SubmissionID: "s2"})
	if !errors.Is(err, store.ErrWinnerAlreadySelected) {
		t.Errorf("commit after reopen = %v, want ErrWinnerAlreadySelected", err)
	}
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
