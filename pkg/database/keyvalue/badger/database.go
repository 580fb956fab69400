// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package badger

import (
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/rs/zerolog"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue/memory"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/record"
)

// TruncateBadger controls whether Badger is configured to truncate corrupted
// data. If the daemon is terminated abruptly, setting this may be necessary to
// recover the store.
var TruncateBadger = false

type Database struct {
	opts
	badger *badger.DB
	ready  bool
	mu     sync.RWMutex
	done   chan struct{}
}

type opts struct {
	logger     zerolog.Logger
	gcInterval time.Duration
}

type Option func(*opts) error

// WithLogger routes Badger's log output through the given logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *opts) error {
		o.logger = logger
		return nil
	}
}

// WithGCInterval sets how often value log garbage collection runs.
func WithGCInterval(d time.Duration) Option {
	return func(o *opts) error {
		o.gcInterval = d
		return nil
	}
}

var _ keyvalue.Database = (*Database)(nil)

func New(filepath string, o ...Option) (*Database, error) {
	// Make sure all directories exist
	err := os.MkdirAll(filepath, 0700)
	if err != nil {
		return nil, errors.StorageError.WithFormat("open badger: create %q: %w", filepath, err)
	}

	d := new(Database)
	d.logger = zerolog.Nop()
	d.gcInterval = time.Hour
	for _, o := range o {
		err = o(&d.opts)
		if err != nil {
			return nil, errors.UnknownError.Wrap(err)
		}
	}

	opts := badger.DefaultOptions(filepath)
	opts = opts.WithLogger(logger{d.logger.With().Str("module", "badger").Logger()})

	// Truncate corrupted data
	if TruncateBadger {
		opts = opts.WithTruncate(true)
	}

	// Open Badger
	d.badger, err = badger.Open(opts)
	if err != nil {
		return nil, errors.StorageError.WithFormat("open badger: %w", err)
	}

	d.ready = true
	d.done = make(chan struct{})
	mDbOpen.Inc()

	go d.gc()

	return d, nil
}

func (d *Database) key(key *record.Key) ([]byte, error) {
	b, err := key.MarshalBinary()
	if err != nil {
		return nil, errors.InternalError.WithFormat("invalid key %v: %w", key, err)
	}
	return b, nil
}

// Begin begins a change set.
func (d *Database) Begin(prefix *record.Key, writable bool) keyvalue.ChangeSet {
	// Use a read-only transaction for reading
	rd := d.badger.NewTransaction(false)
	mTxnOpen.Inc()

	// Commit to the write batch
	var commit memory.CommitFunc
	if writable {
		commit = d.commit
	}

	// The memory changeset caches entries in a map so Get will see values
	// updated with Put, regardless of the underlying transaction and write
	// batch behavior
	return memory.NewChangeSet(memory.ChangeSetOptions{
		Prefix: prefix,
		Get: func(key *record.Key) ([]byte, error) {
			return d.get(rd, key)
		},
		Commit: commit,
		ForEach: func(prefix *record.Key, fn func(*record.Key, []byte) error) error {
			return d.forEach(rd, prefix, fn)
		},
		Discard: func() {
			rd.Discard()
			mTxnOpen.Dec()
		},
	})
}

func (d *Database) get(rd *badger.Txn, key *record.Key) ([]byte, error) {
	k, err := d.key(key)
	if err != nil {
		return nil, err
	}

	item, err := rd.Get(k)
	switch {
	case err == nil:
		// Ok
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, errors.NotFound.WithFormat("%v not found", key)
	default:
		return nil, errors.StorageError.WithFormat("get %v: %w", key, err)
	}

	v, err := item.ValueCopy(nil)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, errors.NotFound.WithFormat("%v not found", key)
	default:
		return nil, errors.StorageError.WithFormat("get %v: %w", key, err)
	}
}

func (d *Database) commit(entries map[string]memory.Entry) error {
	l, err := d.lock(false)
	if err != nil {
		return err
	}
	defer l.Unlock()

	start := time.Now()
	defer func() { mCommitDuration.Set(time.Since(start).Seconds()) }()

	// Use a write batch for writing to work around Badger's limitations
	wr := d.badger.NewWriteBatch()

	for _, e := range entries {
		k, err := d.key(e.Key)
		if err == nil && e.Delete {
			err = wr.Delete(k)
		} else if err == nil {
			err = wr.Set(k, e.Value)
		}
		if err != nil {
			wr.Cancel()
			return errors.StorageError.Wrap(err)
		}
	}

	err = wr.Flush()
	if err != nil {
		return errors.StorageError.Wrap(err)
	}
	return nil
}

func (d *Database) forEach(rd *badger.Txn, prefix *record.Key, fn func(*record.Key, []byte) error) error {
	p, err := prefix.PrefixBytes()
	if err != nil {
		return errors.InternalError.WithFormat("invalid prefix %v: %w", prefix, err)
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	it := rd.NewIterator(opts)
	defer it.Close()

	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		key := new(record.Key)
		if err := key.UnmarshalBinary(item.KeyCopy(nil)); err != nil {
			return errors.InternalError.WithFormat("cannot unmarshal key: %w", err)
		}

		v, err := item.ValueCopy(nil)
		if err != nil {
			return errors.StorageError.WithFormat("load %v: %w", key, err)
		}

		err = fn(key, v)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close the underlying database.
func (d *Database) Close() error {
	if l, err := d.lock(true); err != nil {
		return err
	} else {
		defer l.Unlock()
	}

	close(d.done)
	d.ready = false
	mDbOpen.Dec()
	return d.badger.Close()
}

func (d *Database) gc() {
	t := time.NewTicker(d.gcInterval)
	defer t.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-t.C:
		}

		// Still open?
		l, err := d.lock(false)
		if err != nil {
			return
		}

		// Run GC if 50% space could be reclaimed
		start := time.Now()
		err = d.badger.RunValueLogGC(0.5)
		if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			d.logger.Error().Err(err).Str("module", "badger").Msg("Badger GC failed")
		}
		mGcRun.Inc()
		mGcDuration.Set(time.Since(start).Seconds())

		// Release the lock
		l.Unlock()
	}
}

// lock acquires a lock on the ready mutex and checks for readiness. This
// prevents races between commits, GC and Close, which can cause panics.
func (d *Database) lock(closing bool) (sync.Locker, error) {
	var l sync.Locker = &d.mu
	if !closing {
		l = d.mu.RLocker()
	}

	l.Lock()
	if !d.ready {
		l.Unlock()
		return nil, errors.NotReady.With("database is closed")
	}

	return l, nil
}
