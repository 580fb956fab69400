// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package memory

import (
	"sort"
	"sync"

	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/record"
)

// Database is an in-memory key-value database. Commits replace the entry map
// so a change set reads from the snapshot it began with.
type Database struct {
	mu      sync.RWMutex
	entries map[string]Entry
	prefix  *record.Key
}

var _ keyvalue.Database = (*Database)(nil)

func New(prefix *record.Key) *Database {
	return &Database{prefix: prefix, entries: map[string]Entry{}}
}

// Begin begins a change set.
func (d *Database) Begin(prefix *record.Key, writable bool) keyvalue.ChangeSet {
	d.mu.RLock()
	snap := d.entries
	d.mu.RUnlock()

	var commit CommitFunc
	if writable {
		commit = d.commit
	}

	return NewChangeSet(ChangeSetOptions{
		Prefix: prefix,
		Get: func(key *record.Key) ([]byte, error) {
			return d.get(snap, key)
		},
		Commit: commit,
		ForEach: func(prefix *record.Key, fn func(*record.Key, []byte) error) error {
			return d.forEach(snap, prefix, fn)
		},
	})
}

// Close does nothing.
func (d *Database) Close() error { return nil }

func (d *Database) get(snap map[string]Entry, key *record.Key) ([]byte, error) {
	k, err := EncodeKey(d.prefix.AppendKey(key))
	if err != nil {
		return nil, err
	}

	e, ok := snap[k]
	if !ok {
		return nil, errors.NotFound.WithFormat("%v not found", key)
	}
	return copyBytes(e.Value), nil
}

func (d *Database) forEach(snap map[string]Entry, prefix *record.Key, fn func(*record.Key, []byte) error) error {
	full := d.prefix.AppendKey(prefix)
	var keys []string
	for k, e := range snap {
		if e.Key.HasPrefix(full) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	n := d.prefix.Len()
	for _, k := range keys {
		e := snap[k]
		err := fn(e.Key.SliceI(n), copyBytes(e.Value))
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) commit(entries map[string]Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := make(map[string]Entry, len(d.entries)+len(entries))
	for k, e := range d.entries {
		m[k] = e
	}

	for _, e := range entries {
		key := d.prefix.AppendKey(e.Key)
		k, err := EncodeKey(key)
		if err != nil {
			return err
		}

		if e.Delete {
			delete(m, k)
		} else {
			m[k] = Entry{Key: key, Value: e.Value}
		}
	}
	d.entries = m
	return nil
}
