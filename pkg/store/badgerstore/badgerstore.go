// Package badgerstore implements store.VersionedClient on an embedded
// BadgerDB instance.
//
// Versions are badger commit timestamps, which change on every write to a
// key. Conditional writes compare the version inside an update transaction;
// badger's own conflict detection rejects the commit if another transaction
// wrote the key in between. Badger has no scripting, so only the
// compare-and-swap strategy can use this store.
package badgerstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	badger "github.com/outcaste-io/badger/v3"
	"github.com/outcaste-io/badger/v3/options"
	"go.uber.org/zap"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
	"github.com/vnykmshr/distbucket/pkg/store"
)

const module = "badgerstore"

var errVersionMismatch = errors.New("version mismatch")

// Config configures the embedded database.
type Config struct {
	// Path is the data directory. Empty runs fully in memory.
	Path string

	// SyncWrites fsyncs after every commit.
	SyncWrites bool
}

// Store is a badger-backed store.VersionedClient.
type Store struct {
	log *zap.Logger
	db  *badger.DB
}

var _ store.VersionedClient = (*Store)(nil)

// Open opens the database described by config.
func Open(log *zap.Logger, config Config) (*Store, error) {
	if log == nil {
		return nil, dberrors.NewValidationError(module, "log", nil, "cannot be nil")
	}

	opt := badger.DefaultOptions(config.Path)
	if inMemory := config.Path == ""; inMemory {
		log.Warn("in-memory mode enabled, bucket state is lost on shutdown")
		opt = opt.WithInMemory(inMemory)
	}
	opt = opt.WithSyncWrites(config.SyncWrites)
	opt = opt.WithCompression(options.None)
	opt = opt.WithBlockCacheSize(0)
	opt = opt.WithLogger(badgerLogger{log.Sugar().Named("badger")})

	db, err := badger.Open(opt)
	if err != nil {
		return nil, dberrors.NewOperationError(module, "Open", dberrors.Classify(dberrors.ErrStoreUnavailable, err))
	}
	return &Store{log: log, db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadVersioned returns the value of key and its commit version.
func (s *Store) ReadVersioned(ctx context.Context, key string) (vv store.VersionedValue, err error) {
	if err := ctx.Err(); err != nil {
		return store.VersionedValue{}, err
	}

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		vv = store.VersionedValue{Value: value, Version: versionOf(item)}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.VersionedValue{}, store.ErrNotFound
	}
	if err != nil {
		return store.VersionedValue{}, classify("ReadVersioned", err)
	}
	return vv, nil
}

// WriteIfVersion commits value when key is still at expected.
func (s *Store) WriteIfVersion(ctx context.Context, key string, value []byte, expected store.Version, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if expected != store.NoVersion {
				return errVersionMismatch
			}
		case err != nil:
			return err
		case versionOf(item) != expected:
			return errVersionMismatch
		}

		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errVersionMismatch), errors.Is(err, badger.ErrConflict):
		return false, nil
	default:
		return false, classify("WriteIfVersion", err)
	}
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return classify("Delete", err)
	}
	return nil
}

// SetExpiry rewrites key with a new TTL. Badger stores expiry per version,
// so this bumps the key's version.
func (s *Store) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(ttl))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return classify("SetExpiry", err)
	}
	return nil
}

// CollectGarbage rewrites value log files until there is nothing left to
// reclaim. It is a no-op for in-memory databases.
func (s *Store) CollectGarbage(ctx context.Context) error {
	var err error
	for err == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			err = s.db.RunValueLogGC(.5)
		}
	}
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		err = nil
	}
	s.log.Debug("value log garbage collection finished", zap.Error(err))
	return err
}

func versionOf(item *badger.Item) store.Version {
	return store.Version(strconv.FormatUint(item.Version(), 10))
}

func classify(op string, err error) error {
	return dberrors.NewOperationError(module, op, dberrors.Classify(dberrors.ErrStoreUnavailable, err))
}

// badgerLogger wraps zap's SugaredLogger so it satisfies badger.Logger.
type badgerLogger struct {
	*zap.SugaredLogger
}

// Warningf wraps zap's Warnf.
func (l badgerLogger) Warningf(format string, v ...interface{}) {
	l.Warnf(format, v...)
}
