// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package leveldb

import (
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue/memory"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/record"
)

type Database struct {
	leveldb *leveldb.DB
}

var _ keyvalue.Database = (*Database)(nil)

func OpenFile(filepath string) (*Database, error) {
	// Make sure all directories exist
	err := os.MkdirAll(filepath, 0700)
	if err != nil {
		return nil, errors.StorageError.WithFormat("create %q: %w", filepath, err)
	}

	db, err := leveldb.OpenFile(filepath, nil)
	if err != nil {
		return nil, errors.StorageError.WithFormat("open %q: %w", filepath, err)
	}

	return &Database{leveldb: db}, nil
}

// Begin begins a change set. Reads come from a snapshot taken when the change
// set begins.
func (d *Database) Begin(prefix *record.Key, writable bool) keyvalue.ChangeSet {
	snap, err := d.leveldb.GetSnapshot()

	// Commit to a write batch
	var commit memory.CommitFunc
	if writable {
		commit = d.commit
	}

	return memory.NewChangeSet(memory.ChangeSetOptions{
		Prefix: prefix,
		Get: func(key *record.Key) ([]byte, error) {
			return d.get(snap, err, key)
		},
		Commit: commit,
		ForEach: func(prefix *record.Key, fn func(*record.Key, []byte) error) error {
			return d.forEach(snap, err, prefix, fn)
		},
		Discard: func() {
			if snap != nil {
				snap.Release()
			}
		},
	})
}

func (d *Database) commit(entries map[string]memory.Entry) error {
	batch := new(leveldb.Batch)
	for k, e := range entries {
		if e.Delete {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), e.Value)
		}
	}

	err := d.leveldb.Write(batch, nil)
	if err != nil {
		return errors.StorageError.Wrap(err)
	}
	return nil
}

func (d *Database) get(snap *leveldb.Snapshot, err error, key *record.Key) ([]byte, error) {
	if err != nil {
		return nil, errors.StorageError.Wrap(err)
	}

	k, err := memory.EncodeKey(key)
	if err != nil {
		return nil, err
	}

	v, err := snap.Get([]byte(k), nil)
	switch {
	case err == nil:
		u := make([]byte, len(v))
		copy(u, v)
		return u, nil
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, errors.NotFound.WithFormat("%v not found", key)
	default:
		return nil, errors.StorageError.WithFormat("get %v: %w", key, err)
	}
}

func (d *Database) forEach(snap *leveldb.Snapshot, err error, prefix *record.Key, fn func(*record.Key, []byte) error) error {
	if err != nil {
		return errors.StorageError.Wrap(err)
	}

	p, err := prefix.PrefixBytes()
	if err != nil {
		return errors.InternalError.WithFormat("invalid prefix %v: %w", prefix, err)
	}

	var rng *util.Range
	if len(p) > 0 {
		rng = util.BytesPrefix(p)
	}

	it := snap.NewIterator(rng, nil)
	defer it.Release()
	for it.Next() {
		key := new(record.Key)
		if err := key.UnmarshalBinary(it.Key()); err != nil {
			return errors.InternalError.WithFormat("cannot unmarshal key: %w", err)
		}
		value := make([]byte, len(it.Value()))
		copy(value, it.Value())
		err = fn(key, value)
		if err != nil {
			return err
		}
	}
	return it.Error()
}

// Close the underlying database.
func (d *Database) Close() error {
	return d.leveldb.Close()
}
