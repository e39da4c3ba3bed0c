package ledger

import (
	"encoding/binary"
	"errors"

	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
)

// Bucket names of the persisted layout. All of them are nested in the root
// bucket given to NewStore.
var (
	bucketResponses = []byte("responses")
	bucketHandles   = []byte("handles")
	// bucketCategories maps the first-seen order to the category name.
	bucketCategories = []byte("categories")
	// bucketCategorySet maps the category name to its members bucket.
	bucketCategorySet = []byte("category-members")
	// BucketStats is used by the aggregator to cache its snapshots.
	BucketStats = []byte("stats")
	// BucketModes is used by the aggregator to store the accumulator of
	// every category.
	BucketModes = []byte("modes")
)

// Store holds the database of the ledger. It uses one root bucket in the
// bbolt database, so it can share a database with other users, like the
// buckets handed out by onet to its services.
type Store struct {
	db   *bbolt.DB
	root []byte
}

// NewStore returns an initialized Store, creating all buckets if they
// don't exist yet.
func NewStore(db *bbolt.DB, root []byte) (*Store, error) {
	if db == nil {
		return nil, errors.New("need a database")
	}
	s := &Store{db: db, root: append([]byte{}, root...)}
	err := db.Update(func(tx *bbolt.Tx) error {
		rb, err := tx.CreateBucketIfNotExists(s.root)
		if err != nil {
			return err
		}
		for _, name := range [][]byte{bucketResponses, bucketHandles,
			bucketCategories, bucketCategorySet, BucketStats, BucketModes} {
			if _, err := rb.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// View runs a read-only transaction.
func (s *Store) View(f func(tx *bbolt.Tx) error) error {
	return s.db.View(f)
}

// Update runs a read-write transaction. bbolt allows only one of them at a
// time, which gives the total order of all mutations.
func (s *Store) Update(f func(tx *bbolt.Tx) error) error {
	return s.db.Update(f)
}

// Bucket returns the nested bucket with the given name.
func (s *Store) Bucket(tx *bbolt.Tx, name []byte) *bbolt.Bucket {
	return tx.Bucket(s.root).Bucket(name)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// getMessage decodes the value stored under key into msg. It returns false
// if the key is not present. The value is copied, as bbolt only guarantees
// it for the lifetime of the transaction.
func getMessage(b *bbolt.Bucket, key []byte, msg interface{}) (bool, error) {
	val := b.Get(key)
	if val == nil {
		return false, nil
	}
	return true, protobuf.Decode(append([]byte{}, val...), msg)
}

func putMessage(b *bbolt.Bucket, key []byte, msg interface{}) error {
	buf, err := protobuf.Encode(msg)
	if err != nil {
		return err
	}
	return b.Put(key, buf)
}

// GetMessage is used by the other packages to read their own entries.
func GetMessage(b *bbolt.Bucket, key []byte, msg interface{}) (bool, error) {
	return getMessage(b, key, msg)
}

// PutMessage is used by the other packages to store their own entries.
func PutMessage(b *bbolt.Bucket, key []byte, msg interface{}) error {
	return putMessage(b, key, msg)
}

func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

func keyID(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}
