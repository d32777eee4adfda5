package chain

import (
	"github.com/boltdb/bolt"
)

// boltBucket is the single bucket all consensus-core keys live in; callers
// namespace within it by key prefix (BLK:, TX:, STATE:, ...) rather than by
// bucket.
var boltBucket = []byte("consensus")

// BoltStore is a KVStore backed by boltdb/bolt.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get implements KVStore.
func (s *BoltStore) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// NewBatch implements KVStore.
func (s *BoltStore) NewBatch() Batch {
	return &boltBatch{db: s.db}
}

type boltBatch struct {
	db      *bolt.DB
	puts    map[string][]byte
	deletes map[string]struct{}
}

func (b *boltBatch) Put(key, value []byte) {
	if b.puts == nil {
		b.puts = make(map[string][]byte)
	}
	b.puts[string(key)] = append([]byte(nil), value...)
}

func (b *boltBatch) Delete(key []byte) {
	if b.deletes == nil {
		b.deletes = make(map[string]struct{})
	}
	b.deletes[string(key)] = struct{}{}
}

func (b *boltBatch) Commit() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for k := range b.deletes {
			if err := bucket.Delete([]byte(k)); err != nil {
				return err
			}
		}
		for k, v := range b.puts {
			if err := bucket.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}
