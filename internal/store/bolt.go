package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var lookupsBucket = []byte("lookups")

const maxLookupsPerChat = 50

// Lookup is one completed PSID lookup, kept for the /history command.
type Lookup struct {
	Target        string    `json:"target"`
	PSID          string    `json:"psid"`
	Outcome       string    `json:"outcome"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	At            time.Time `json:"at"`
}

type Store interface {
	AppendLookup(chat string, l Lookup) error
	RecentLookups(chat string, limit int) ([]Lookup, error)
	ClearLookups(chat string) error
	Close() error
}

type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(lookupsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating lookups bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// AppendLookup records l for chat, keeping at most maxLookupsPerChat entries.
func (s *BoltStore) AppendLookup(chat string, l Lookup) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(lookupsBucket)

		var lookups []Lookup
		if v := b.Get([]byte(chat)); v != nil {
			if err := json.Unmarshal(v, &lookups); err != nil {
				return fmt.Errorf("decoding lookups for %s: %w", chat, err)
			}
		}

		lookups = append(lookups, l)
		if len(lookups) > maxLookupsPerChat {
			lookups = lookups[len(lookups)-maxLookupsPerChat:]
		}

		data, err := json.Marshal(lookups)
		if err != nil {
			return err
		}
		return b.Put([]byte(chat), data)
	})
}

// RecentLookups returns up to limit lookups for chat, newest first.
func (s *BoltStore) RecentLookups(chat string, limit int) ([]Lookup, error) {
	var lookups []Lookup
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(lookupsBucket).Get([]byte(chat))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &lookups)
	})
	if err != nil {
		return nil, err
	}

	out := make([]Lookup, 0, min(limit, len(lookups)))
	for i := len(lookups) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, lookups[i])
	}
	return out, nil
}

func (s *BoltStore) ClearLookups(chat string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(lookupsBucket).Delete([]byte(chat))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
