// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package badgerstore provides the persistent Store implementation on
// BadgerDB. Badger transactions use serializable snapshot isolation with
// conflict detection, which is what makes CommitWinner's conditional
// update safe under concurrent selection attempts: of two racing
// transactions touching the same competition, one commits and the other
// retries against the updated record and hits the guard.
package badgerstore

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/photoarena/winnerd/internal/logging"
	"github.com/photoarena/winnerd/internal/store"
)

// Key prefixes. Entity records are JSON values; index entries are empty
// values whose keys encode the relation.
var (
	prefixCompetition = []byte("c/")
	prefixSubmission  = []byte("s/")
	prefixResult      = []byte("r/")
	prefixSubIndex    = []byte("ic/") // ic/<competitionID>/<submissionID>
	prefixResIndex    = []byte("ir/") // ir/<competitionID>/<submissionID>
)

// commitRetries bounds conflict retries on the winner commit.
const commitRetries = 5

// Store is a Badger-backed materialized view.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at the given directory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{}).
		WithDetectConflicts(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// UpsertCompetition creates the competition if absent; first writer wins.
func (s *Store) UpsertCompetition(_ context.Context, c store.Competition) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := competitionKey(c.ID)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if c.Status == "" {
			c.Status = store.StatusActive
		}
		c.IsWinnerSelected = false
		c.Winner = nil
		return setJSON(txn, key, c)
	})
}

// MarkStopped transitions an active competition to stopped.
func (s *Store) MarkStopped(_ context.Context, competitionID string, stoppedAt time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var c store.Competition
		if err := getJSON(txn, competitionKey(competitionID), &c); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if c.Terminal() {
			return nil
		}
		c.Status = store.StatusStopped
		c.StoppedAt = &stoppedAt
		return setJSON(txn, competitionKey(competitionID), c)
	})
}

// GetCompetition returns a competition or ErrNotFound.
func (s *Store) GetCompetition(_ context.Context, competitionID string) (store.Competition, error) {
	var c store.Competition
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, competitionKey(competitionID), &c)
	})
	return c, err
}

// DeleteCompetition removes the competition and cascades through the
// submission and result indexes.
func (s *Store) DeleteCompetition(_ context.Context, competitionID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(competitionKey(competitionID)); err != nil {
			return err
		}
		subIDs, err := indexedIDs(txn, prefixSubIndex, competitionID)
		if err != nil {
			return err
		}
		for _, subID := range subIDs {
			if err := txn.Delete(submissionKey(subID)); err != nil {
				return err
			}
			if err := txn.Delete(resultKey(subID)); err != nil {
				return err
			}
			if err := txn.Delete(indexKey(prefixSubIndex, competitionID, subID)); err != nil {
				return err
			}
			if err := txn.Delete(indexKey(prefixResIndex, competitionID, subID)); err != nil {
				return err
			}
		}
		resIDs, err := indexedIDs(txn, prefixResIndex, competitionID)
		if err != nil {
			return err
		}
		for _, subID := range resIDs {
			if err := txn.Delete(resultKey(subID)); err != nil {
				return err
			}
			if err := txn.Delete(indexKey(prefixResIndex, competitionID, subID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListUnresolvedEnded scans competitions eligible for selection without a
// winner.
func (s *Store) ListUnresolvedEnded(_ context.Context, now time.Time) ([]store.Competition, error) {
	var out []store.Competition
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(txn, prefixCompetition, func(c store.Competition) {
			if !c.IsWinnerSelected && c.EndedEligible(now) {
				out = append(out, c)
			}
		})
	})
	return out, err
}

// CommitWinner performs the conditional winner update inside one
// transaction, retrying on write conflicts. The guard check and the
// write share a snapshot, so two racing commits cannot both succeed.
func (s *Store) CommitWinner(_ context.Context, competitionID string, decision store.WinnerDecision) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			var c store.Competition
			if err := getJSON(txn, competitionKey(competitionID), &c); err != nil {
				return err
			}
			if c.IsWinnerSelected {
				return store.ErrWinnerAlreadySelected
			}
			c.IsWinnerSelected = true
			c.Winner = &decision
			if c.Status == store.StatusActive {
				c.Status = store.StatusEnded
			}
			return setJSON(txn, competitionKey(competitionID), c)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < commitRetries {
			continue
		}
		return err
	}
}

// Stats aggregates counts over the competition records.
func (s *Store) Stats(_ context.Context, now time.Time) (store.Stats, error) {
	var st store.Stats
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(txn, prefixCompetition, func(c store.Competition) {
			st.TotalCompetitions++
			switch {
			case c.IsWinnerSelected:
				st.CompetitionsWithWinners++
			case c.EndedEligible(now):
				st.EndedWithoutWinners++
			default:
				st.CompetitionsAwaitingWinners++
			}
		})
	})
	return st, err
}

// UpsertSubmission creates or updates a submission and its index entry.
func (s *Store) UpsertSubmission(_ context.Context, sub store.Submission) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var prev store.Submission
		if err := getJSON(txn, submissionKey(sub.ID), &prev); err == nil {
			if prev.CompetitionID != sub.CompetitionID {
				if err := txn.Delete(indexKey(prefixSubIndex, prev.CompetitionID, sub.ID)); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := setJSON(txn, submissionKey(sub.ID), sub); err != nil {
			return err
		}
		return txn.Set(indexKey(prefixSubIndex, sub.CompetitionID, sub.ID), nil)
	})
}

// GetSubmission returns a submission or ErrNotFound.
func (s *Store) GetSubmission(_ context.Context, submissionID string) (store.Submission, error) {
	var sub store.Submission
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, submissionKey(submissionID), &sub)
	})
	return sub, err
}

// DeleteSubmission removes the submission, its result, and both index
// entries.
func (s *Store) DeleteSubmission(_ context.Context, submissionID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var sub store.Submission
		if err := getJSON(txn, submissionKey(submissionID), &sub); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return txn.Delete(resultKey(submissionID))
			}
			return err
		}
		if err := txn.Delete(submissionKey(submissionID)); err != nil {
			return err
		}
		if err := txn.Delete(resultKey(submissionID)); err != nil {
			return err
		}
		if err := txn.Delete(indexKey(prefixSubIndex, sub.CompetitionID, submissionID)); err != nil {
			return err
		}
		return txn.Delete(indexKey(prefixResIndex, sub.CompetitionID, submissionID))
	})
}

// ListSubmissionsByCompetition reads submissions through the index.
func (s *Store) ListSubmissionsByCompetition(_ context.Context, competitionID string) ([]store.Submission, error) {
	var out []store.Submission
	err := s.db.View(func(txn *badger.Txn) error {
		subIDs, err := indexedIDs(txn, prefixSubIndex, competitionID)
		if err != nil {
			return err
		}
		for _, subID := range subIDs {
			var sub store.Submission
			if err := getJSON(txn, submissionKey(subID), &sub); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, sub)
		}
		return nil
	})
	return out, err
}

// UpsertComparisonResult creates or overwrites the result for a
// submission, maintaining the per-competition index.
func (s *Store) UpsertComparisonResult(_ context.Context, r store.ComparisonResult) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, resultKey(r.SubmissionID), r); err != nil {
			return err
		}
		return txn.Set(indexKey(prefixResIndex, r.CompetitionID, r.SubmissionID), nil)
	})
}

// ListCompletedResults reads completed results through the index.
func (s *Store) ListCompletedResults(_ context.Context, competitionID string) ([]store.ComparisonResult, error) {
	var out []store.ComparisonResult
	err := s.db.View(func(txn *badger.Txn) error {
		subIDs, err := indexedIDs(txn, prefixResIndex, competitionID)
		if err != nil {
			return err
		}
		for _, subID := range subIDs {
			var r store.ComparisonResult
			if err := getJSON(txn, resultKey(subID), &r); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return err
			}
			if r.Status == store.ComparisonCompleted {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

// Ping verifies the database is open.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("store closed")
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func competitionKey(id string) []byte { return append(append([]byte{}, prefixCompetition...), id...) }
func submissionKey(id string) []byte  { return append(append([]byte{}, prefixSubmission...), id...) }
func resultKey(id string) []byte      { return append(append([]byte{}, prefixResult...), id...) }

func indexKey(prefix []byte, competitionID, submissionID string) []byte {
	key := append(append([]byte{}, prefix...), competitionID...)
	key = append(key, '/')
	return append(key, submissionID...)
}

func indexPrefix(prefix []byte, competitionID string) []byte {
	key := append(append([]byte{}, prefix...), competitionID...)
	return append(key, '/')
}

// indexedIDs collects the submission ids under one index prefix.
func indexedIDs(txn *badger.Txn, prefix []byte, competitionID string) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = indexPrefix(prefix, competitionID)

	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().Key()
		ids = append(ids, string(key[len(opts.Prefix):]))
	}
	return ids, nil
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// scanJSON iterates all values under a prefix.
func scanJSON[T any](txn *badger.Txn, prefix []byte, fn func(T)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var v T
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return err
		}
		fn(v)
	}
	return nil
}

// badgerLogger routes Badger's internal logging into zerolog. Badger is
// chatty at info level, so informational output is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logging.Error().Msgf("badger: "+trimNewline(format), args...)
}

func (badgerLogger) Warningf(format string, args ...any) {
	logging.Warn().Msgf("badger: "+trimNewline(format), args...)
}

func (badgerLogger) Infof(format string, args ...any) {
	logging.Debug().Msgf("badger: "+trimNewline(format), args...)
}

func (badgerLogger) Debugf(format string, args ...any) {
	logging.Debug().Msgf("badger: "+trimNewline(format), args...)
}

func trimNewline(s string) string {
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}
