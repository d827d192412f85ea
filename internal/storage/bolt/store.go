// Package bolt keeps the outbox in a local bbolt file so queued messages
// survive process restarts.
package bolt

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/chatsync/internal/model"
	"go.etcd.io/bbolt"
)

var outboxBucket = []byte("outbox")

type Store struct {
	db *bbolt.DB
}

// Open creates or opens the outbox file. A second process holding the file
// makes Open fail after one second instead of blocking.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(outboxBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt.Open buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Put writes the entry in its own transaction; bbolt fsyncs on commit.
func (s *Store) Put(q *model.QueuedMessage) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("bolt.Put encode: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(outboxBucket).Put([]byte(q.LocalID), data)
	})
	if err != nil {
		return fmt.Errorf("bolt.Put: %w", err)
	}
	return nil
}

func (s *Store) Get(localID string) (*model.QueuedMessage, error) {
	var q model.QueuedMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(outboxBucket).Get([]byte(localID))
		if data == nil {
			return model.ErrNotFound
		}
		return json.Unmarshal(data, &q)
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Get %s: %w", localID, err)
	}
	return &q, nil
}

func (s *Store) Delete(localID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(outboxBucket).Delete([]byte(localID))
	})
	if err != nil {
		return fmt.Errorf("bolt.Delete: %w", err)
	}
	return nil
}

func (s *Store) List(conversationID string) ([]*model.QueuedMessage, error) {
	out := make([]*model.QueuedMessage, 0, 16)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(outboxBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var q model.QueuedMessage
			if err := json.Unmarshal(v, &q); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			if conversationID == "" || q.ConversationID == conversationID {
				out = append(out, &q)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.List: %w", err)
	}
	slices.SortFunc(out, model.CompareQueued)
	return out, nil
}

// NextSeq hands out a persistent, strictly increasing sequence number.
func (s *Store) NextSeq() (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		seq, err = tx.Bucket(outboxBucket).NextSequence()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("bolt.NextSeq: %w", err)
	}
	return seq, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
