// Package queue is the durable local store for not-yet-confirmed submissions.
//
// The store is the single source of truth for "captured but not confirmed
// delivered": an entry is created when immediate delivery is not possible and
// destroyed only after the ingestion API explicitly confirmed the entry's
// clientSubmissionID. Entries survive process restarts.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
)

const (
	keyPrefixEntry = "q:"
	keyPrefixID    = "id:"
	sequenceKey    = "queue-seq"

	DEFAULT_MAX_ENTRIES = 1000
)

// Entry is a queued submission plus its delivery metadata. Attempt
// bookkeeping is mutated only by the sync orchestrator.
type Entry struct {
	Seq           uint64                `json:"seq"`
	Submission    studyTypes.Submission `json:"submission"`
	EnqueuedAt    int64                 `json:"enqueuedAt"`
	AttemptCount  int                   `json:"attemptCount"`
	LastAttemptAt int64                 `json:"lastAttemptAt,omitempty"`
	LastError     string                `json:"lastError,omitempty"`
}

type Config struct {
	// Path is the directory for the badger files. Required unless InMemory.
	Path string
	// InMemory disables disk persistence, for tests.
	InMemory bool
	// SyncWrites makes enqueue durable before it returns.
	SyncWrites bool
	// MaxEntries is the soft capacity cap. Enqueue still succeeds above the
	// cap but the condition is logged and reported, never silent.
	MaxEntries int
	Logger     *slog.Logger
}

// Store is an explicit, injectable queue instance: constructed once at
// process start and passed by reference to the capture flow and the sync
// orchestrator.
type Store struct {
	db         *badger.DB
	seq        *badger.Sequence
	maxEntries int
	logger     *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent queue")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create queue directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open queue sequence: %w", err)
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DEFAULT_MAX_ENTRIES
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		db:         db,
		seq:        seq,
		maxEntries: maxEntries,
		logger:     logger,
	}, nil
}

func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("error releasing queue sequence", slog.String("error", err.Error()))
	}
	return s.db.Close()
}

func entryKey(seq uint64) []byte {
	// zero padded so badger's lexical key order equals capture order
	return []byte(fmt.Sprintf("%s%020d", keyPrefixEntry, seq))
}

func idKey(clientSubmissionID string) []byte {
	return []byte(keyPrefixID + clientSubmissionID)
}

// Enqueue appends a submission and persists it before returning. A missing
// clientSubmissionID is assigned here, once, so later retries stay
// idempotent. Re-enqueueing an id that is already queued returns the stored
// entry unchanged.
func (s *Store) Enqueue(submission studyTypes.Submission) (Entry, error) {
	if submission.ClientSubmissionID == "" {
		submission.ClientSubmissionID = uuid.New().String()
	}

	if existing, ok, err := s.getByID(submission.ClientSubmissionID); err != nil {
		return Entry{}, err
	} else if ok {
		return existing, nil
	}

	seq, err := s.seq.Next()
	if err != nil {
		return Entry{}, fmt.Errorf("next queue sequence: %w", err)
	}

	entry := Entry{
		Seq:        seq,
		Submission: submission,
		EnqueuedAt: time.Now().Unix(),
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(entryKey(seq), value); err != nil {
			return err
		}
		return txn.Set(idKey(submission.ClientSubmissionID), entryKey(seq))
	})
	if err != nil {
		return Entry{}, fmt.Errorf("persist queue entry: %w", err)
	}

	if count, err := s.Len(); err == nil && count >= s.maxEntries {
		s.logger.Warn("local submission queue reached its capacity cap",
			slog.Int("entries", count),
			slog.Int("cap", s.maxEntries))
	}

	return entry, nil
}

// ListPending returns all queued entries in capture (insertion) order.
func (s *Store) ListPending() ([]Entry, error) {
	entries := []Entry{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixEntry)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Remove deletes the entry for the given clientSubmissionID. Removing an
// absent id is a no-op, so duplicate confirmations are harmless.
func (s *Store) Remove(clientSubmissionID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(clientSubmissionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		var storedKey []byte
		if err := item.Value(func(val []byte) error {
			storedKey = append([]byte{}, val...)
			return nil
		}); err != nil {
			return err
		}

		if err := txn.Delete(storedKey); err != nil {
			return err
		}
		return txn.Delete(idKey(clientSubmissionID))
	})
}

// RecordAttempt updates delivery bookkeeping without removing the entry.
// Recording against an absent id is a no-op.
func (s *Store) RecordAttempt(clientSubmissionID string, attemptErr error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(clientSubmissionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		var storedKey []byte
		if err := item.Value(func(val []byte) error {
			storedKey = append([]byte{}, val...)
			return nil
		}); err != nil {
			return err
		}

		entryItem, err := txn.Get(storedKey)
		if err != nil {
			return err
		}

		var entry Entry
		if err := entryItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}

		entry.AttemptCount++
		entry.LastAttemptAt = time.Now().Unix()
		entry.LastError = ""
		if attemptErr != nil {
			entry.LastError = attemptErr.Error()
		}

		value, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return txn.Set(storedKey, value)
	})
}

// Len reports the number of queued entries.
func (s *Store) Len() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixEntry)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// NearCapacity reports whether the soft cap is reached, for status surfaces.
func (s *Store) NearCapacity() (bool, error) {
	count, err := s.Len()
	if err != nil {
		return false, err
	}
	return count >= s.maxEntries, nil
}

func (s *Store) getByID(clientSubmissionID string) (entry Entry, found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(clientSubmissionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		var storedKey []byte
		if err := item.Value(func(val []byte) error {
			storedKey = append([]byte{}, val...)
			return nil
		}); err != nil {
			return err
		}

		entryItem, err := txn.Get(storedKey)
		if err != nil {
			return err
		}

		found = true
		return entryItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	return entry, found, err
}
