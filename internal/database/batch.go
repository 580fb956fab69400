// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package database

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/record"
)

// Batch batches database writes. Nothing is visible to other batches until
// the batch is committed.
type Batch struct {
	done     bool
	writable bool
	logger   zerolog.Logger
	store    keyvalue.ChangeSet
}

// Begin starts a nested batch. Committing the nested batch writes into this
// batch.
func (b *Batch) Begin(writable bool) *Batch {
	if writable && !b.writable {
		b.logger.Info().Msg("Attempted to create a writable batch from a read-only batch")
	}

	c := new(Batch)
	c.writable = b.writable && writable
	c.logger = b.logger
	c.store = b.store.Begin(nil, c.writable)
	return c
}

// Writable returns true if the batch can be committed.
func (b *Batch) Writable() bool { return b.writable }

// Commit commits pending writes. Failures are storage errors.
func (b *Batch) Commit() error {
	if b.done {
		return errors.InternalError.With("batch has already been committed or discarded")
	}
	b.done = true

	err := b.store.Commit()
	if err != nil {
		return errors.StorageError.WithFormat("commit: %w", err)
	}
	return nil
}

// Discard discards pending writes. Discard is safe to call after Commit.
func (b *Batch) Discard() {
	b.done = true
	b.store.Discard()
}

func (b *Batch) getValue(key *record.Key, v any) error {
	data, err := b.store.Get(key)
	if err != nil {
		return storageError(err)
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return errors.InternalError.WithFormat("decode %v: %w", key, err)
	}
	return nil
}

func (b *Batch) putValue(key *record.Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.InternalError.WithFormat("encode %v: %w", key, err)
	}

	err = b.store.Put(key, data)
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (b *Batch) deleteValue(key *record.Key) error {
	return storageError(b.store.Delete(key))
}

func (b *Batch) forEach(prefix *record.Key, fn func(*record.Key, []byte) error) error {
	return storageError(b.store.ForEach(prefix, fn))
}

// storageError passes through errors that describe the request and
// classifies everything else as a storage failure.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	code := errors.Code(err)
	if code.IsClientError() || code == errors.StorageError || code == errors.InternalError {
		return err
	}
	return errors.StorageError.Wrap(err)
}
