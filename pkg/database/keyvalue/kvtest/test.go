// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package kvtest is a conformance suite for key-value backends.
package kvtest

import (
	"crypto/rand"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/record"
)

type Opener = func() (keyvalue.Beginner, error)

type closableDb struct {
	keyvalue.Beginner
	t      testing.TB
	closed bool
}

func (c *closableDb) Close() {
	if c.closed {
		return
	}
	c.closed = true

	if d, ok := c.Beginner.(io.Closer); ok {
		require.NoError(c.t, d.Close())
	}
}

func openDb(t testing.TB, open Opener) *closableDb {
	db, err := open()
	require.NoError(t, err)
	c := &closableDb{db, t, false}
	t.Cleanup(c.Close)
	return c
}

// TestSuite runs every test in the suite. Backends that cannot pass one
// should call the tests individually.
func TestSuite(t *testing.T, open Opener) {
	t.Run("Database", func(t *testing.T) { TestDatabase(t, open) })
	t.Run("Isolation", func(t *testing.T) { TestIsolation(t, open) })
	t.Run("SubBatch", func(t *testing.T) { TestSubBatch(t, open) })
	t.Run("Prefix", func(t *testing.T) { TestPrefix(t, open) })
	t.Run("Delete", func(t *testing.T) { TestDelete(t, open) })
	t.Run("ForEach", func(t *testing.T) { TestForEach(t, open) })
}

func TestDatabase(t *testing.T, open Opener) {
	const N = 1000

	// Open and write changes
	db := openDb(t, open)

	batch := db.Begin(nil, true)
	defer batch.Discard()

	// Read when nothing exists
	_, err := batch.Get(record.NewKey("Answer", "missing"))
	require.ErrorIs(t, err, errors.NotFound)

	// Write
	values := map[string]string{}
	for i := 0; i < N; i++ {
		key := record.NewKey("Answer", i)
		value := fmt.Sprintf("%x this much data ", i)
		values[key.String()] = value
		require.NoError(t, batch.Put(key, []byte(value)), "Put")
	}

	// Commit
	require.NoError(t, batch.Commit())

	// Verify with a new batch
	batch = db.Begin(nil, false)
	defer batch.Discard()

	for i := 0; i < N; i++ {
		val, err := batch.Get(record.NewKey("Answer", i))
		require.NoError(t, err, "Get")
		require.Equal(t, fmt.Sprintf("%x this much data ", i), string(val))
	}

	batch.Discard()

	// Verify with a fresh instance
	db.Close()
	db = openDb(t, open)

	batch = db.Begin(nil, false)
	defer batch.Discard()

	for i := 0; i < N; i++ {
		val, err := batch.Get(record.NewKey("Answer", i))
		require.NoError(t, err, "Get")
		require.Equal(t, fmt.Sprintf("%x this much data ", i), string(val))
	}

	// Verify ForEach visits every entry in order
	var last *record.Key
	require.NoError(t, batch.ForEach(record.NewKey("Answer"), func(key *record.Key, value []byte) error {
		expect, ok := values[key.String()]
		require.Truef(t, ok, "%v should exist", key)
		require.Equalf(t, expect, string(value), "%v should match", key)
		if last != nil {
			require.Less(t, last.Compare(key), 0, "keys must be ordered")
		}
		last = key
		delete(values, key.String())
		return nil
	}))
	require.Empty(t, values, "All values should be iterated over")
}

func TestIsolation(t *testing.T, open Opener) {
	// Open and write
	db := openDb(t, open)

	batch := db.Begin(nil, true)
	defer batch.Discard()

	key := record.NewKey("Isolation", "key")
	require.NoError(t, batch.Put(key, []byte("value")), "Put")
	require.NoError(t, batch.Commit())

	// Start two batches
	b1 := db.Begin(nil, true)
	defer b1.Discard()

	b2 := db.Begin(nil, false)
	defer b2.Discard()

	// Delete and commit in batch 1
	require.NoError(t, b1.Delete(key))
	require.NoError(t, b1.Commit())

	// Verify the change is not visible from batch 2
	v, err := b2.Get(key)
	require.NoError(t, err, "Get")
	require.Equal(t, []byte("value"), v)
	b2.Discard()

	// Verify the change is now visible
	batch = db.Begin(nil, false)
	defer batch.Discard()
	_, err = batch.Get(key)
	require.ErrorIs(t, err, errors.NotFound)
}

func TestSubBatch(t *testing.T, open Opener) {
	db := openDb(t, open)

	batch := db.Begin(nil, true)
	defer batch.Discard()
	sub := batch.Begin(nil, true)
	defer sub.Discard()

	for i := 0; i < 100; i++ {
		err := sub.Put(record.NewKey("Sub", i), []byte(fmt.Sprintf("%x this much data ", i)))
		require.NoError(t, err, "Put")
	}

	// Nothing is visible from the parent until the sub-batch commits
	_, err := batch.Get(record.NewKey("Sub", 0))
	require.ErrorIs(t, err, errors.NotFound)

	// Commit and begin a new sub-batch
	require.NoError(t, sub.Commit())
	sub = batch.Begin(nil, true)
	defer sub.Discard()

	for i := 0; i < 100; i++ {
		val, err := sub.Get(record.NewKey("Sub", i))
		require.NoError(t, err, "Get")
		require.Equal(t, fmt.Sprintf("%x this much data ", i), string(val))
	}
}

func TestPrefix(t *testing.T, open Opener) {
	data := make([]byte, 10)
	_, err := io.ReadFull(rand.Reader, data)
	require.NoError(t, err)

	db := openDb(t, open)

	const prefix, key = "Foo", "bar"
	batch := db.Begin(record.NewKey(prefix), true)
	defer batch.Discard()
	require.NoError(t, batch.Put(record.NewKey(key), data))
	require.NoError(t, batch.Commit())

	batch = db.Begin(record.NewKey(prefix), false)
	defer batch.Discard()
	v, err := batch.Get(record.NewKey(key))
	require.NoError(t, err)
	require.Equal(t, data, v)
	batch.Discard()

	batch = db.Begin(nil, false)
	defer batch.Discard()
	v, err = batch.Get(record.NewKey(prefix, key))
	require.NoError(t, err)
	require.Equal(t, data, v)
}

func TestDelete(t *testing.T, open Opener) {
	db := openDb(t, open)
	key := record.NewKey("Delete", "foo")

	// Write a value
	batch := db.Begin(nil, true)
	defer batch.Discard()
	require.NoError(t, batch.Put(key, []byte("bar")))
	require.NoError(t, batch.Commit())

	// Verify it can be retrieved
	batch = db.Begin(nil, false)
	defer batch.Discard()
	v, err := batch.Get(key)
	require.NoError(t, err)
	require.Equal(t, "bar", string(v))
	batch.Discard()

	// Delete the value
	batch = db.Begin(nil, true)
	defer batch.Discard()
	require.NoError(t, batch.Delete(key))

	// Verify it returns not found from the same batch
	_, err = batch.Get(key)
	require.ErrorIs(t, err, errors.NotFound)

	// Commit and reopen
	require.NoError(t, batch.Commit())
	db.Close()
	db = openDb(t, open)

	// Verify it returns not found from a new batch
	batch = db.Begin(nil, false)
	defer batch.Discard()
	_, err = batch.Get(key)
	require.ErrorIs(t, err, errors.NotFound)
}

// TestForEach verifies prefix iteration merges pending writes with committed
// entries and does not leak entries from sibling prefixes.
func TestForEach(t *testing.T, open Opener) {
	db := openDb(t, open)

	batch := db.Begin(nil, true)
	defer batch.Discard()
	require.NoError(t, batch.Put(record.NewKey("Each", "u1", 1), []byte("a")))
	require.NoError(t, batch.Put(record.NewKey("Each", "u1", 2), []byte("b")))
	require.NoError(t, batch.Put(record.NewKey("Each", "u10", 1), []byte("x")))
	require.NoError(t, batch.Put(record.NewKey("Other", "u1", 1), []byte("y")))
	require.NoError(t, batch.Commit())

	batch = db.Begin(nil, true)
	defer batch.Discard()
	require.NoError(t, batch.Put(record.NewKey("Each", "u1", 3), []byte("c")))
	require.NoError(t, batch.Delete(record.NewKey("Each", "u1", 1)))

	var got []string
	require.NoError(t, batch.ForEach(record.NewKey("Each", "u1"), func(key *record.Key, value []byte) error {
		require.Equal(t, "u1", key.Get(1))
		got = append(got, string(value))
		return nil
	}))
	require.Equal(t, []string{"b", "c"}, got)

	// Errors returned by the callback stop the iteration
	stop := errors.Conflict.With("stop")
	err := batch.ForEach(record.NewKey("Each"), func(*record.Key, []byte) error { return stop })
	require.ErrorIs(t, err, errors.Conflict)
}
