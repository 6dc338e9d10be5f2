// Package storage persists tracker state in a flat key/value store so a
// restarted daemon can resume tab sessions and in-flight requests.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// KV is the write side used by the Saver.
type KV interface {
	Put(key string, value []byte) error
	Delete(key string) error
}

// Store is a leveldb-backed key/value store.
type Store struct {
	db     *leveldb.DB
	memory bool
}

// Open opens (or creates) the store under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := leveldb.OpenFile(filepath.Join(dir, "session"), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a store that lives only as long as the process.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory leveldb: %w", err)
	}
	return &Store{db: db, memory: true}, nil
}

// Memory reports whether the store is in-memory only.
func (s *Store) Memory() bool { return s.memory }

func (s *Store) Put(key string, value []byte) error {
	return s.db.Put([]byte(key), value, nil)
}

func (s *Store) Delete(key string) error {
	return s.db.Delete([]byte(key), nil)
}

// Get returns the value for key. ok is false when the key is absent.
func (s *Store) Get(key string) (value []byte, ok bool, err error) {
	value, err = s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Scan calls fn for every key with the given prefix, in key order. The key
// passed to fn has the prefix stripped.
func (s *Store) Scan(prefix string, fn func(key string, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		key := strings.TrimPrefix(string(iter.Key()), prefix)
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot is everything Load found, already migrated to the current schema.
type Snapshot struct {
	Tabs     []TabRecord
	Requests []RequestRecord
	Addrs    []AddrRecord
}

// Load reads and migrates all persisted records. Records that fail to decode
// are logged and deleted. Migrated records are written back.
func (s *Store) Load() (Snapshot, error) {
	var snap Snapshot
	var bad []string
	var migrated = map[string]any{}

	err := s.Scan(PrefixTab, func(id string, data []byte) error {
		rec, err := DecodeTab(id, data)
		if err != nil {
			slog.Warn("Dropping unreadable tab record", "tab_id", id, "error", err)
			bad = append(bad, TabKey(id))
			return nil
		}
		if legacy(data) {
			migrated[TabKey(id)] = rec
		}
		snap.Tabs = append(snap.Tabs, rec)
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("scan tabs: %w", err)
	}

	err = s.Scan(PrefixRequest, func(id string, data []byte) error {
		rec, err := DecodeRequest(id, data)
		if err != nil {
			slog.Warn("Dropping unreadable request record", "request_id", id, "error", err)
			bad = append(bad, RequestKey(id))
			return nil
		}
		if legacy(data) {
			migrated[RequestKey(id)] = rec
		}
		snap.Requests = append(snap.Requests, rec)
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("scan requests: %w", err)
	}

	err = s.Scan(PrefixAddr, func(domain string, data []byte) error {
		rec, err := DecodeAddr(domain, data)
		if err != nil {
			slog.Warn("Dropping unreadable address record", "domain", domain, "error", err)
			bad = append(bad, AddrKey(domain))
			return nil
		}
		if legacy(data) {
			migrated[AddrKey(domain)] = rec
		}
		snap.Addrs = append(snap.Addrs, rec)
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("scan addresses: %w", err)
	}

	for _, key := range bad {
		if err := s.Delete(key); err != nil {
			return Snapshot{}, fmt.Errorf("delete %s: %w", key, err)
		}
	}
	if len(migrated) > 0 {
		if err := s.writeAll(migrated); err != nil {
			return Snapshot{}, err
		}
		slog.Info("Migrated legacy records", "count", len(migrated))
	}

	sort.Slice(snap.Addrs, func(i, j int) bool { return snap.Addrs[i].Time < snap.Addrs[j].Time })
	return snap, nil
}

func legacy(data []byte) bool {
	v, err := probeVersion(data)
	return err == nil && v == 0
}

func (s *Store) writeAll(records map[string]any) error {
	batch := new(leveldb.Batch)
	for key, rec := range records {
		data, err := marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		batch.Put([]byte(key), data)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write migrated records: %w", err)
	}
	return nil
}
