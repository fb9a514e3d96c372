// Package relay forwards archived records to the downstream queue.
// Records are tracked in a durable pending-marker store between
// archival and confirmed publish, so a queue outage defers relay to a
// later run without ever rolling back archival.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const bucketName = "pending_relay"

// PendingStore persists archived-but-not-yet-relayed messages in BoltDB
type PendingStore struct {
	db *bbolt.DB
}

// OpenPendingStore opens (creating if needed) the pending store at path
func OpenPendingStore(path string) (*PendingStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A lock timeout means another process is holding the file,
		// usually a previous run that was killed without cleanup
		return nil, fmt.Errorf("failed to open pending store (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().Str("path", path).Msg("Pending-relay store opened")

	return &PendingStore{db: db}, nil
}

// MarkBatch records queue messages for a batch of freshly archived
// records. Keys are the archival dedup keys, so re-marking the same
// record overwrites its marker instead of duplicating it.
func (s *PendingStore) MarkBatch(records []domain.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		for _, r := range records {
			key := makeKey(r.Key())

			// Keep the original message (and its ID) if the record was
			// already marked by an earlier interrupted run
			if b.Get(key) != nil {
				continue
			}

			msg := domain.QueueMessage{
				ID:         uuid.NewString(),
				Record:     r,
				EnqueuedAt: now,
			}
			val, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal message for %s:%d: %w", r.SourceFile, r.ByteOffset, err)
			}
			if err := b.Put(key, val); err != nil {
				return fmt.Errorf("failed to put marker: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark batch pending: %w", err)
	}

	log.Debug().Int("records", len(records)).Msg("Batch marked pending relay")
	return nil
}

// List returns all pending messages
func (s *PendingStore) List() ([]domain.QueueMessage, error) {
	var msgs []domain.QueueMessage

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			var msg domain.QueueMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("corrupt pending marker %q: %w", k, err)
			}
			msgs = append(msgs, msg)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}

	return msgs, nil
}

// Remove deletes the marker for a relayed record
func (s *PendingStore) Remove(key domain.RecordKey) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete(makeKey(key))
	})
	if err != nil {
		return fmt.Errorf("failed to remove pending marker: %w", err)
	}
	return nil
}

// Count returns the number of pending messages
func (s *PendingStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return count, nil
}

// Close closes the pending store
func (s *PendingStore) Close() error {
	log.Info().Msg("Closing pending-relay store")
	return s.db.Close()
}

// makeKey builds the marker key from the archival dedup key
func makeKey(k domain.RecordKey) []byte {
	return []byte(fmt.Sprintf("%s|%016x", k.SourceFile, uint64(k.ByteOffset)))
}
