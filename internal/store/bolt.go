package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/srg/ydbolt/internal/lock"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketIdentities = []byte("identities")
	bucketStates     = []byte("states")
	bucketHistory    = []byte("history")
)

// DefaultHistoryLimit bounds the states kept per lock.
const DefaultHistoryLimit = 256

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db           *bolt.DB
	historyLimit int
}

// NewBoltStore opens or creates a BoltDB database. historyLimit <= 0 selects
// DefaultHistoryLimit.
func NewBoltStore(path string, historyLimit int) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketIdentities, bucketStates, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &BoltStore{db: db, historyLimit: historyLimit}, nil
}

func key(uuid string) []byte {
	return []byte(strings.ToLower(uuid))
}

func (s *BoltStore) SaveIdentity(id lock.Identity) error {
	if id.UUID == "" {
		return fmt.Errorf("save identity: empty uuid")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(id)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIdentities).Put(key(id.UUID), data)
	})
}

func (s *BoltStore) GetIdentity(uuid string) (lock.Identity, error) {
	var id lock.Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdentities).Get(key(uuid))
		if data == nil {
			return fmt.Errorf("identity %s: %w", uuid, ErrNotFound)
		}
		return json.Unmarshal(data, &id)
	})
	return id, err
}

func (s *BoltStore) ListIdentities() ([]lock.Identity, error) {
	var ids []lock.Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdentities)
		ids = make([]lock.Identity, 0, b.Stats().KeyN)
		return b.ForEach(func(_, v []byte) error {
			var id lock.Identity
			if err := json.Unmarshal(v, &id); err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}

func (s *BoltStore) SaveState(uuid string, st lock.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketStates).Put(key(uuid), data); err != nil {
			return err
		}

		hist, err := tx.Bucket(bucketHistory).CreateBucketIfNotExists(key(uuid))
		if err != nil {
			return err
		}
		seq, err := hist.NextSequence()
		if err != nil {
			return err
		}
		var k [8]byte
		binary.BigEndian.PutUint64(k[:], seq)
		if err := hist.Put(k[:], data); err != nil {
			return err
		}

		// drop the oldest entries beyond the limit
		c := hist.Cursor()
		excess := -s.historyLimit
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			excess++
		}
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			excess--
		}
		return nil
	})
}

func (s *BoltStore) GetState(uuid string) (lock.State, error) {
	var st lock.State
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStates).Get(key(uuid))
		if data == nil {
			return fmt.Errorf("state %s: %w", uuid, ErrNotFound)
		}
		return json.Unmarshal(data, &st)
	})
	return st, err
}

func (s *BoltStore) History(uuid string, limit int) ([]lock.State, error) {
	var states []lock.State
	err := s.db.View(func(tx *bolt.Tx) error {
		hist := tx.Bucket(bucketHistory).Bucket(key(uuid))
		if hist == nil {
			return nil // no bucket = no history
		}
		c := hist.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(states) >= limit {
				break
			}
			var st lock.State
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			states = append(states, st)
		}
		return nil
	})
	return states, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
