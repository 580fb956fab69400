// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package database

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/accumulatenetwork/staking-ledger/config"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue/badger"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue/bolt"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue/leveldb"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue/memory"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
)

// Database is the staking ledger database.
type Database struct {
	store  keyvalue.Beginner
	logger zerolog.Logger
}

// New creates a new database using the given key-value store.
func New(store keyvalue.Beginner, logger zerolog.Logger) *Database {
	d := new(Database)
	d.store = store
	d.logger = logger.With().Str("module", "database").Logger()
	return d
}

func OpenInMemory(logger zerolog.Logger) *Database {
	return New(memory.New(nil), logger)
}

func OpenBadger(dir string, logger zerolog.Logger) (*Database, error) {
	store, err := badger.New(dir, badger.WithLogger(logger.With().Str("module", "storage").Logger()))
	if err != nil {
		return nil, err
	}
	return New(store, logger), nil
}

func OpenBolt(file string, logger zerolog.Logger) (*Database, error) {
	err := os.MkdirAll(filepath.Dir(file), 0700)
	if err != nil {
		return nil, errors.StorageError.WithFormat("create directory: %w", err)
	}

	store, err := bolt.Open(file)
	if err != nil {
		return nil, err
	}
	return New(store, logger), nil
}

func OpenLevelDB(dir string, logger zerolog.Logger) (*Database, error) {
	store, err := leveldb.OpenFile(dir)
	if err != nil {
		return nil, err
	}
	return New(store, logger), nil
}

// Open opens the key-value store named by the configuration and creates a
// new database with it.
func Open(cfg *config.Config, logger zerolog.Logger) (*Database, error) {
	switch cfg.Storage.Type {
	case config.MemoryStorage:
		return OpenInMemory(logger), nil

	case config.BadgerStorage:
		return OpenBadger(cfg.StoragePath(), logger)

	case config.BoltStorage:
		return OpenBolt(cfg.StoragePath(), logger)

	case config.LevelDBStorage:
		return OpenLevelDB(cfg.StoragePath(), logger)

	default:
		return nil, errors.BadRequest.WithFormat("unknown storage type %q", cfg.Storage.Type)
	}
}

// Close closes the database and the key-value store.
func (d *Database) Close() error {
	if c, ok := d.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Begin starts a new batch.
func (d *Database) Begin(writable bool) *Batch {
	b := new(Batch)
	b.writable = writable
	b.logger = d.logger
	b.store = d.store.Begin(nil, writable)
	return b
}

// View runs the function with a read-only batch.
func (d *Database) View(fn func(batch *Batch) error) error {
	batch := d.Begin(false)
	defer batch.Discard()
	return fn(batch)
}

// Update runs the function with a writable batch and commits if the function
// succeeds.
func (d *Database) Update(fn func(batch *Batch) error) error {
	batch := d.Begin(true)
	defer batch.Discard()
	err := fn(batch)
	if err != nil {
		return err
	}
	return batch.Commit()
}
