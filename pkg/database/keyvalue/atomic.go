// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package keyvalue

import "gitlab.com/accumulatenetwork/staking-ledger/pkg/types/record"

// Store is a key-value store.
type Store interface {
	// Get loads a value. Get returns a NotFound error if the key does not
	// exist.
	Get(*record.Key) ([]byte, error)

	// Put stores a value.
	Put(*record.Key, []byte) error

	// Delete deletes a key-value pair.
	Delete(*record.Key) error

	// ForEach iterates over every entry whose key starts with the prefix, in
	// key order. Keys passed to the callback are relative to the store, not
	// to the prefix.
	ForEach(prefix *record.Key, fn func(*record.Key, []byte) error) error
}

// ChangeSet is a key-value change set.
type ChangeSet interface {
	Store
	Beginner

	// Commit commits pending changes.
	Commit() error

	// Discard discards pending changes.
	Discard()
}

// A Beginner can begin key-value change sets.
type Beginner interface {
	// Begin begins a transaction or sub-transaction with a prefix applied to keys.
	Begin(prefix *record.Key, writable bool) ChangeSet
}

// Database is a key-value database that can be closed.
type Database interface {
	Beginner
	Close() error
}
