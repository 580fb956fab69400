// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package bolt

import (
	"bytes"
	"time"

	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue/memory"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/record"
	bolt "go.etcd.io/bbolt"
)

// Database is a key-value database backed by Bolt. The first part of each key
// selects the bucket and the remaining parts are the key within the bucket.
type Database struct {
	opts
	bolt *bolt.DB
}

type opts struct {
	timeout time.Duration
}

type Option func(*opts) error

// WithTimeout sets how long Open waits for the file lock.
func WithTimeout(d time.Duration) Option {
	return func(o *opts) error {
		o.timeout = d
		return nil
	}
}

var _ keyvalue.Database = (*Database)(nil)

func Open(filepath string, o ...Option) (*Database, error) {
	d := new(Database)
	d.timeout = time.Second
	for _, o := range o {
		err := o(&d.opts)
		if err != nil {
			return nil, errors.UnknownError.Wrap(err)
		}
	}

	// Open
	var err error
	d.bolt, err = bolt.Open(filepath, 0600, &bolt.Options{Timeout: d.timeout})
	if err != nil {
		return nil, errors.StorageError.WithFormat("open %q: %w", filepath, err)
	}

	return d, nil
}

func (d *Database) bucket(tx *bolt.Tx, key *record.Key, create bool) (*bolt.Bucket, []byte, error) {
	if key.Len() < 2 {
		return nil, nil, errors.InternalError.WithFormat("invalid key %v: need a bucket and a name", key)
	}

	b := tx.Bucket([]byte(key.Get(0)))
	if b == nil {
		if !create {
			// No reason to do more work
			return nil, nil, nil
		}

		var err error
		b, err = tx.CreateBucket([]byte(key.Get(0)))
		if err != nil {
			return nil, nil, err
		}
	}

	k, err := key.SliceI(1).MarshalBinary()
	if err != nil {
		return nil, nil, errors.InternalError.WithFormat("invalid key %v: %w", key, err)
	}
	return b, k, nil
}

// Begin begins a change set.
func (d *Database) Begin(prefix *record.Key, writable bool) keyvalue.ChangeSet {
	// Use a read-only transaction for reading
	rd, err := d.bolt.Begin(false)

	// Commit to a write transaction
	var commit memory.CommitFunc
	if writable {
		commit = func(entries map[string]memory.Entry) error {
			return d.commit(rd, entries)
		}
	}

	// The memory changeset caches entries in a map so Get will see values
	// updated with Put
	return memory.NewChangeSet(memory.ChangeSetOptions{
		Prefix: prefix,
		Get: func(key *record.Key) ([]byte, error) {
			return d.get(rd, err, key)
		},
		Commit: commit,
		ForEach: func(prefix *record.Key, fn func(*record.Key, []byte) error) error {
			return d.forEach(rd, err, prefix, fn)
		},
		Discard: func() {
			if rd != nil {
				_ = rd.Rollback()
			}
		},
	})
}

func (d *Database) get(txn *bolt.Tx, err error, key *record.Key) ([]byte, error) {
	if err != nil {
		return nil, err
	}

	b, k, err := d.bucket(txn, key, false)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.NotFound.WithFormat("%v not found", key)
	}

	v := b.Get(k)
	if v == nil {
		return nil, errors.NotFound.WithFormat("%v not found", key)
	}

	u := make([]byte, len(v))
	copy(u, v)
	return u, nil
}

func (d *Database) commit(rd *bolt.Tx, entries map[string]memory.Entry) error {
	// Release the read transaction so it does not block remapping
	if rd != nil {
		_ = rd.Rollback()
	}

	return d.bolt.Update(func(tx *bolt.Tx) error {
		for _, e := range entries {
			b, k, err := d.bucket(tx, e.Key, true)
			if err != nil {
				return err
			}

			if e.Delete {
				err = b.Delete(k)
			} else {
				err = b.Put(k, e.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) forEach(txn *bolt.Tx, err error, prefix *record.Key, fn func(*record.Key, []byte) error) error {
	if err != nil {
		return err
	}

	if prefix.Len() == 0 {
		return txn.ForEach(func(name []byte, b *bolt.Bucket) error {
			return d.forEachIn(record.NewKey(string(name)), b, nil, fn)
		})
	}

	b := txn.Bucket([]byte(prefix.Get(0)))
	if b == nil {
		return nil
	}

	p, err := prefix.SliceI(1).PrefixBytes()
	if err != nil {
		return errors.InternalError.WithFormat("invalid prefix %v: %w", prefix, err)
	}
	return d.forEachIn(prefix.SliceJ(1), b, p, fn)
}

func (d *Database) forEachIn(bucket *record.Key, b *bolt.Bucket, p []byte, fn func(*record.Key, []byte) error) error {
	c := b.Cursor()
	for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
		key := new(record.Key)
		if err := key.UnmarshalBinary(k); err != nil {
			return errors.InternalError.WithFormat("cannot unmarshal key: %w", err)
		}

		u := make([]byte, len(v))
		copy(u, v)
		err := fn(bucket.AppendKey(key), u)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) Close() error {
	return d.bolt.Close()
}
