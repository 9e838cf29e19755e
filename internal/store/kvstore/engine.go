// Package kvstore implements store.Store over an embedded key-value
// engine, grounded on the teacher's storage/database package: LevelDB via
// syndtr/goleveldb (leveldb_database.go NewLDBDatabase) or BadgerDB via
// dgraph-io/badger (badger_database.go NewBadgerDB), selected the way
// DBConfig.getDatabase() switches on DBType. Rows are JSON-encoded
// (spec's data model has no wire-format requirement; ser/rlp is the
// teacher's own package and is not carried, see DESIGN.md) under a
// table-prefixed key scheme with manually maintained secondary indexes
// for the lookups store.Store needs beyond primary-key get/put.
package kvstore

import (
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/chainbridge-x/engine/internal/klog"
)

var logger = klog.NewModuleLogger(klog.ModuleStore)

// Engine is the minimal byte-oriented KV operations both backends offer
// (storage/database.Database's Put/Get/Delete/Has shape).
type Engine interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error) // returns (nil, ErrEngineNotFound) on miss
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// Iterate calls fn for every key with the given prefix, stopping early
	// if fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// ErrEngineNotFound is returned by Engine.Get on a miss.
var ErrEngineNotFound = fmt.Errorf("kvstore: not found")

// DBType selects the embedded engine, mirroring DBConfig.DBType.
type DBType string

const (
	DBTypeLevelDB DBType = "leveldb"
	DBTypeBadger  DBType = "badger"
)

// Open constructs the Engine named by dbType rooted at dir.
func Open(dbType DBType, dir string) (Engine, error) {
	switch dbType {
	case DBTypeBadger:
		return newBadgerEngine(dir)
	case DBTypeLevelDB, "":
		return newLevelDBEngine(dir)
	default:
		return nil, fmt.Errorf("kvstore: unknown db type %q", dbType)
	}
}

// --- LevelDB engine ---

type levelDBEngine struct {
	db *leveldb.DB
}

func newLevelDBEngine(dir string) (*levelDBEngine, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: leveldb open failed: %w", err)
	}
	return &levelDBEngine{db: db}, nil
}

func (e *levelDBEngine) Put(key, value []byte) error { return e.db.Put(key, value, nil) }

func (e *levelDBEngine) Get(key []byte) ([]byte, error) {
	v, err := e.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrEngineNotFound
	}
	return v, err
}

func (e *levelDBEngine) Delete(key []byte) error { return e.db.Delete(key, nil) }

func (e *levelDBEngine) Has(key []byte) (bool, error) { return e.db.Has(key, nil) }

func (e *levelDBEngine) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	it := e.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		if !fn(append([]byte(nil), it.Key()...), append([]byte(nil), it.Value()...)) {
			break
		}
	}
	return it.Error()
}

func (e *levelDBEngine) Close() error { return e.db.Close() }

// --- Badger engine ---

type badgerEngine struct {
	db *badger.DB
}

func newBadgerEngine(dir string) (*badgerEngine, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: badger open failed: %w", err)
	}
	return &badgerEngine{db: db}, nil
}

func (e *badgerEngine) Put(key, value []byte) error {
	return e.db.Update(func(txn *badger.Txn) error { return txn.Set(key, value) })
}

func (e *badgerEngine) Get(key []byte) ([]byte, error) {
	var out []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrEngineNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			out = append([]byte(nil), v...)
			return nil
		})
	})
	return out, err
}

func (e *badgerEngine) Delete(key []byte) error {
	return e.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) })
}

func (e *badgerEngine) Has(key []byte) (bool, error) {
	_, err := e.Get(key)
	if err == ErrEngineNotFound {
		return false, nil
	}
	return err == nil, err
}

func (e *badgerEngine) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var v []byte
			if err := item.Value(func(val []byte) error {
				v = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			if !fn(append([]byte(nil), item.Key()...), v) {
				break
			}
		}
		return nil
	})
}

func (e *badgerEngine) Close() error { return e.db.Close() }
