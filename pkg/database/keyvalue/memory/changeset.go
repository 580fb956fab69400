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

// Entry is a pending write.
type Entry struct {
	Key    *record.Key
	Value  []byte
	Delete bool
}

type GetFunc = func(*record.Key) ([]byte, error)
type CommitFunc = func(map[string]Entry) error
type ForEachFunc = func(*record.Key, func(*record.Key, []byte) error) error

type ChangeSetOptions struct {
	Prefix  *record.Key
	Get     GetFunc
	Commit  CommitFunc
	ForEach ForEachFunc
	Discard func()
}

// ChangeSet caches writes in a map until they are committed. Reads see the
// pending writes first and fall through to the underlying store.
type ChangeSet struct {
	opts    ChangeSetOptions
	mu      sync.Mutex
	entries map[string]Entry
	done    bool
}

var _ keyvalue.ChangeSet = (*ChangeSet)(nil)

func NewChangeSet(opts ChangeSetOptions) *ChangeSet {
	return &ChangeSet{opts: opts, entries: map[string]Entry{}}
}

// EncodeKey returns the map key for a record key.
func EncodeKey(key *record.Key) (string, error) {
	b, err := key.MarshalBinary()
	if err != nil {
		return "", errors.BadRequest.WithFormat("encode key %v: %w", key, err)
	}
	return string(b), nil
}

// Begin begins a nested change set. Committing it writes into this change
// set.
func (c *ChangeSet) Begin(prefix *record.Key, writable bool) keyvalue.ChangeSet {
	var commit CommitFunc
	if writable {
		commit = c.putAll
	}
	return NewChangeSet(ChangeSetOptions{
		Prefix:  prefix,
		Get:     c.Get,
		Commit:  commit,
		ForEach: c.ForEach,
	})
}

func (c *ChangeSet) Get(key *record.Key) ([]byte, error) {
	key = c.opts.Prefix.AppendKey(key)
	k, err := EncodeKey(key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	e, ok := c.entries[k]
	c.mu.Unlock()
	if ok {
		if e.Delete {
			return nil, errors.NotFound.WithFormat("%v not found", key)
		}
		return copyBytes(e.Value), nil
	}

	if c.opts.Get == nil {
		return nil, errors.NotFound.WithFormat("%v not found", key)
	}
	return c.opts.Get(key)
}

func (c *ChangeSet) Put(key *record.Key, value []byte) error {
	return c.put(key, copyBytes(value), false)
}

func (c *ChangeSet) Delete(key *record.Key) error {
	return c.put(key, nil, true)
}

func (c *ChangeSet) put(key *record.Key, value []byte, delete bool) error {
	if c.opts.Commit == nil {
		return errors.NotAllowed.With("change set is not writable")
	}

	key = c.opts.Prefix.AppendKey(key)
	k, err := EncodeKey(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return errors.NotAllowed.With("change set has been committed or discarded")
	}
	c.entries[k] = Entry{Key: key, Value: value, Delete: delete}
	return nil
}

func (c *ChangeSet) putAll(entries map[string]Entry) error {
	for _, e := range entries {
		err := c.put(e.Key, e.Value, e.Delete)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *ChangeSet) ForEach(prefix *record.Key, fn func(*record.Key, []byte) error) error {
	full := c.opts.Prefix.AppendKey(prefix)

	merged := map[string]Entry{}
	if c.opts.ForEach != nil {
		err := c.opts.ForEach(full, func(key *record.Key, value []byte) error {
			k, err := EncodeKey(key)
			if err != nil {
				return err
			}
			merged[k] = Entry{Key: key, Value: value}
			return nil
		})
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	for k, e := range c.entries {
		if !e.Key.HasPrefix(full) {
			continue
		}
		if e.Delete {
			delete(merged, k)
		} else {
			merged[k] = e
		}
	}
	c.mu.Unlock()

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := c.opts.Prefix.Len()
	for _, k := range keys {
		e := merged[k]
		err := fn(e.Key.SliceI(n), copyBytes(e.Value))
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *ChangeSet) Commit() error {
	if c.opts.Commit == nil {
		return errors.NotAllowed.With("change set is not writable")
	}

	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return errors.NotAllowed.With("change set has been committed or discarded")
	}
	entries := c.entries
	c.mu.Unlock()

	err := c.opts.Commit(entries)
	if err != nil {
		return err
	}
	c.Discard()
	return nil
}

func (c *ChangeSet) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	c.entries = nil
	if c.opts.Discard != nil {
		c.opts.Discard()
	}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
