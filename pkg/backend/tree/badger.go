package tree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// Key namespace
// =============
//
// Prefix   Key Format                    Value
// =================================================
// "n:"     n:<path>                      Node (JSON)
// "c:"     c:<dir>\x00<name>             empty (child index)
// "d:"     d:<uuid>                      file contents
//
// The child index keeps directory listings to a prefix scan over one
// directory's children, independent of the size of its subtree.
const (
	prefixNode  = "n:"
	prefixChild = "c:"
	prefixData  = "d:"
)

func nodeKey(path string) []byte { return []byte(prefixNode + path) }

func childPrefix(dir string) []byte { return []byte(prefixChild + dir + "\x00") }

func childKey(dir, name string) []byte { return []byte(prefixChild + dir + "\x00" + name) }

func dataKey(id string) []byte { return []byte(prefixData + id) }

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// DBPath is the database directory. It is created if missing.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in memory; DBPath is ignored.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size (default 64).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`
}

// BadgerStore persists nodes and contents in BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the database described by cfg.
func OpenBadgerStore(ctx context.Context, cfg BadgerConfig) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("badger store needs a db_path: %w", vfs.ErrInvalidArgument)
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	cacheMB := cfg.BlockCacheSizeMB
	if cacheMB == 0 {
		cacheMB = 64
	}
	opts = opts.WithBlockCacheSize(cacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(_ context.Context, path string) (*Node, error) {
	var n Node
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &n)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("node %s: %w", path, vfs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", path, err)
	}
	return &n, nil
}

func (s *BadgerStore) Put(_ context.Context, path string, n *Node) error {
	val, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal node %s: %w", path, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(nodeKey(path), val); err != nil {
			return err
		}
		if path == "/" {
			return nil
		}
		dir, name := vfs.Split(path)
		return txn.Set(childKey(dir, name), nil)
	})
}

func (s *BadgerStore) Delete(_ context.Context, path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(nodeKey(path)); err != nil {
			return err
		}
		if path == "/" {
			return nil
		}
		dir, name := vfs.Split(path)
		return txn.Delete(childKey(dir, name))
	})
}

func (s *BadgerStore) Children(_ context.Context, dir string) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(dir)); err != nil {
			return err
		}
		prefix := childPrefix(dir)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			names = append(names, strings.TrimPrefix(key, string(prefix)))
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("node %s: %w", dir, vfs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return names, nil
}

func (s *BadgerStore) ReadData(_ context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("data %s: %w", id, vfs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read data %s: %w", id, err)
	}
	return data, nil
}

func (s *BadgerStore) WriteData(_ context.Context, id string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dataKey(id), data)
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("write data %s (%d bytes): %w", id, len(data), vfs.ErrNoSpace)
	}
	return err
}

func (s *BadgerStore) DeleteData(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dataKey(id))
	})
}

func (s *BadgerStore) Usage(context.Context) (Usage, error) {
	var u Usage
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			switch {
			case strings.HasPrefix(string(item.Key()), prefixNode):
				u.Nodes++
			case strings.HasPrefix(string(item.Key()), prefixData):
				u.Bytes += item.ValueSize()
			}
		}
		return nil
	})
	return u, err
}

func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
