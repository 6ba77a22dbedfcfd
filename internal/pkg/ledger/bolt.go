package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vreid/kakunin/internal/pkg/common"
	"github.com/vreid/kakunin/internal/pkg/verification"
	bolt "go.etcd.io/bbolt"
)

// BoltRepository keeps match headers in one bucket and, per match, a nested
// bucket of verifications keyed by insertion sequence.
type BoltRepository struct {
	db    *bolt.DB
	locks *KeyedMutex
}

func NewBoltRepository(db *bolt.DB) *BoltRepository {
	return &BoltRepository{
		db:    db,
		locks: NewKeyedMutex(),
	}
}

type boltBuckets struct {
	matches       *bolt.Bucket
	verifications *bolt.Bucket
	events        *bolt.Bucket
}

func buckets(tx *bolt.Tx) (boltBuckets, error) {
	result := boltBuckets{
		matches:       tx.Bucket([]byte(common.LedgerMatchesBucket)),
		verifications: tx.Bucket([]byte(common.LedgerVerificationsBucket)),
		events:        tx.Bucket([]byte(common.LedgerEventsBucket)),
	}

	if result.matches == nil || result.verifications == nil || result.events == nil {
		return result, ErrBucketMissing
	}

	return result, nil
}

func (r *BoltRepository) Create(_ context.Context, match *verification.MatchResult) error {
	//nolint:wrapcheck
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := buckets(tx)
		if err != nil {
			return err
		}

		if b.matches.Get([]byte(match.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrMatchExists, match.ID)
		}

		_, err = b.verifications.CreateBucketIfNotExists([]byte(match.ID))
		if err != nil {
			return fmt.Errorf("failed to create verification ledger: %w", err)
		}

		err = appendVerifications(b, match.ID, match.Verifications)
		if err != nil {
			return err
		}

		return putHeader(b, match)
	})
}

func (r *BoltRepository) Get(_ context.Context, id string) (*verification.MatchResult, error) {
	var result *verification.MatchResult

	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := buckets(tx)
		if err != nil {
			return err
		}

		result, err = load(b, id)

		return err
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return result, nil
}

func (r *BoltRepository) List(_ context.Context, filter Filter) (Page, error) {
	filter = filter.Normalize()
	matches := []*verification.MatchResult{}

	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := buckets(tx)
		if err != nil {
			return err
		}

		//nolint:wrapcheck
		return b.matches.ForEach(func(k, _ []byte) error {
			match, err := load(b, string(k))
			if err != nil {
				return err
			}

			if filter.Matches(match) {
				matches = append(matches, match)
			}

			return nil
		})
	})
	if err != nil {
		return Page{}, fmt.Errorf("failed to list matches: %w", err)
	}

	return page(matches, filter), nil
}

func (r *BoltRepository) Mutate(_ context.Context, id string, fn MutateFunc) (*verification.MatchResult, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	var result *verification.MatchResult

	err := r.db.Update(func(tx *bolt.Tx) error {
		b, err := buckets(tx)
		if err != nil {
			return err
		}

		match, err := load(b, id)
		if err != nil {
			return err
		}

		before := snapshot(match.Verifications)

		err = fn(match)
		if err != nil {
			return err
		}

		match.ID = id

		err = checkAppendOnly(before, match.Verifications)
		if err != nil {
			return err
		}

		err = appendVerifications(b, id, match.Verifications[len(before):])
		if err != nil {
			return err
		}

		err = putHeader(b, match)
		if err != nil {
			return err
		}

		result = match

		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return result, nil
}

func (r *BoltRepository) AppendEvent(_ context.Context, event verification.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	//nolint:wrapcheck
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := buckets(tx)
		if err != nil {
			return err
		}

		if b.matches.Get([]byte(event.MatchID)) == nil {
			return fmt.Errorf("%w: %s", ErrMatchNotFound, event.MatchID)
		}

		timeline, err := b.events.CreateBucketIfNotExists([]byte(event.MatchID))
		if err != nil {
			return fmt.Errorf("failed to create event timeline: %w", err)
		}

		seq, err := timeline.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate event sequence: %w", err)
		}

		err = timeline.Put(common.SequenceKey(seq), data)
		if err != nil {
			return fmt.Errorf("failed to put event: %w", err)
		}

		return nil
	})
}

func (r *BoltRepository) Events(_ context.Context, matchID string) ([]verification.Event, error) {
	events := []verification.Event{}

	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := buckets(tx)
		if err != nil {
			return err
		}

		if b.matches.Get([]byte(matchID)) == nil {
			return fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
		}

		timeline := b.events.Bucket([]byte(matchID))
		if timeline == nil {
			return nil
		}

		//nolint:wrapcheck
		return timeline.ForEach(func(_, v []byte) error {
			var event verification.Event

			err := json.Unmarshal(v, &event)
			if err != nil {
				return fmt.Errorf("failed to unmarshal event: %w", err)
			}

			events = append(events, event)

			return nil
		})
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return events, nil
}

func load(b boltBuckets, id string) (*verification.MatchResult, error) {
	header := b.matches.Get([]byte(id))
	if header == nil {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}

	var match verification.MatchResult

	err := json.Unmarshal(header, &match)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal match %s: %w", id, err)
	}

	match.Verifications = []verification.Verification{}

	entries := b.verifications.Bucket([]byte(id))
	if entries != nil {
		err = entries.ForEach(func(_, v []byte) error {
			var entry verification.Verification

			err := json.Unmarshal(v, &entry)
			if err != nil {
				return fmt.Errorf("failed to unmarshal verification: %w", err)
			}

			match.Verifications = append(match.Verifications, entry)

			return nil
		})
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
	}

	match.Consensus = verification.CheckConsensus(&match)

	return &match, nil
}

func putHeader(b boltBuckets, match *verification.MatchResult) error {
	header := *match
	header.Verifications = nil

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal match: %w", err)
	}

	err = b.matches.Put([]byte(match.ID), data)
	if err != nil {
		return fmt.Errorf("failed to put match: %w", err)
	}

	return nil
}

func appendVerifications(b boltBuckets, id string, verifications []verification.Verification) error {
	if len(verifications) == 0 {
		return nil
	}

	entries, err := b.verifications.CreateBucketIfNotExists([]byte(id))
	if err != nil {
		return fmt.Errorf("failed to open verification ledger: %w", err)
	}

	for _, v := range verifications {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal verification: %w", err)
		}

		seq, err := entries.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate verification sequence: %w", err)
		}

		err = entries.Put(common.SequenceKey(seq), data)
		if err != nil {
			return fmt.Errorf("failed to put verification: %w", err)
		}
	}

	return nil
}
