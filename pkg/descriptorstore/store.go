// Package descriptorstore persists the monotonic descriptor counter the
// container manager hands out to IPC callers, so descriptors stay unique
// across a daemon restart.
package descriptorstore

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/rdkcentral/dobbyd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketCounter     = []byte("counter")
	bucketDescriptors = []byte("descriptors")

	keySequence = []byte("next")
)

// Store is a durable mapping of container id to descriptor, plus the
// monotonic counter that produced them.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the descriptor store database under
// dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "descriptors.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open descriptor store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCounter, bucketDescriptors} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Next allocates the next descriptor for id and persists the mapping
// before returning it.
func (s *Store) Next(id types.ContainerId) (types.Descriptor, error) {
	var d types.Descriptor
	err := s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketCounter)

		seq, err := cb.NextSequence()
		if err != nil {
			return err
		}
		d = types.Descriptor(seq)

		db := tx.Bucket(bucketDescriptors)
		return db.Put(descriptorKey(d), []byte(id))
	})
	return d, err
}

// Release removes the persisted mapping for a descriptor once its
// container has been fully torn down. The counter itself is never rewound.
func (s *Store) Release(d types.Descriptor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDescriptors).Delete(descriptorKey(d))
	})
}

// Lookup returns the container id a descriptor was allocated for.
func (s *Store) Lookup(d types.Descriptor) (types.ContainerId, bool, error) {
	var id types.ContainerId
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDescriptors).Get(descriptorKey(d))
		if v == nil {
			return nil
		}
		ok = true
		id = types.ContainerId(v)
		return nil
	})
	return id, ok, err
}

// All returns every live descriptor→id mapping, used at startup to
// reconcile against whatever containers are still actually running.
func (s *Store) All() (map[types.Descriptor]types.ContainerId, error) {
	out := make(map[types.Descriptor]types.ContainerId)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDescriptors)
		return b.ForEach(func(k, v []byte) error {
			out[types.Descriptor(binary.BigEndian.Uint64(k))] = types.ContainerId(v)
			return nil
		})
	})
	return out, err
}

func descriptorKey(d types.Descriptor) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(d))
	return buf
}
