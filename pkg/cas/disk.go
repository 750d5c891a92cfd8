package cas

import (
	"context"

	bolt "go.etcd.io/bbolt"
)

// DiskStore is the optional node-local persistent cache between the
// in-memory tier and Postgres. Survives process restarts so warm
// workers avoid refetching hot snapshots.
type DiskStore struct {
	db     *bolt.DB
	bucket []byte
}

// NewDiskStore opens (or creates) the bbolt file and bucket.
func NewDiskStore(path, bucket string) (*DiskStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))

		return err
	})
	if err != nil {
		db.Close()

		return nil, err
	}

	return &DiskStore{db: db, bucket: []byte(bucket)}, nil
}

// Put implements Store.
func (d *DiskStore) Put(_ context.Context, hash Hash, value []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(d.bucket)

		if b.Get(hash[:]) != nil {
			return nil
		}

		return b.Put(hash[:], value)
	})
}

// Get implements Store.
func (d *DiskStore) Get(_ context.Context, hash Hash) ([]byte, bool, error) {
	var value []byte

	err := d.db.View(func(tx *bolt.Tx) error {
		if stored := tx.Bucket(d.bucket).Get(hash[:]); stored != nil {
			value = make([]byte, len(stored))
			copy(value, stored)
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return value, value != nil, nil
}

// Close releases the underlying file.
func (d *DiskStore) Close() error {
	return d.db.Close()
}
