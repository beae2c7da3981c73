// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/davidjeschke/math-tablet/services/notebook"
)

// notebookKeyPrefix namespaces notebook records so the database can carry
// other record kinds later without key collisions.
const notebookKeyPrefix = "notebook:"

// BadgerConfig holds configuration for the embedded database.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless InMemory
	// is set.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives the database's internal log output. If nil, that
	// logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// 0 disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC
	// rewrites a value log file.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production defaults: synchronous writes and
// five-minute GC.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for testing: in-memory, no
// sync, no GC.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to the database's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore persists notebooks in an embedded key-value database, one
// serialized Object per notebook under a prefixed key.
//
// Thread Safety: safe for concurrent use; the underlying database
// serializes transactions.
type BadgerStore struct {
	db     *badger.DB
	gcStop chan struct{}
	gcDone chan struct{}
}

// OpenBadgerStore opens the database at cfg.Path (creating the directory
// if needed) and starts the GC loop when configured. Call Close when done.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func notebookKey(path string) []byte {
	return []byte(notebookKeyPrefix + path)
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context, path string) (*notebook.Notebook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidatePath(path); err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(notebookKey(path))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%q: %w", path, ErrNotebookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}
	return notebook.FromJSON(data)
}

// Save implements Store.
func (s *BadgerStore) Save(ctx context.Context, path string, nb *notebook.Notebook) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidatePath(path); err != nil {
		return fmt.Errorf("%q: %w", path, err)
	}
	data, err := nb.ToJSON()
	if err != nil {
		return fmt.Errorf("serialize %q: %w", path, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(notebookKey(path), data)
	})
	if err != nil {
		return fmt.Errorf("save %q: %w", path, err)
	}
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidatePath(path); err != nil {
		return fmt.Errorf("%q: %w", path, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(notebookKey(path)); err != nil {
			return err
		}
		return txn.Delete(notebookKey(path))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%q: %w", path, ErrNotebookNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	return nil
}

// Rename implements Store.
func (s *BadgerStore) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidatePath(oldPath); err != nil {
		return fmt.Errorf("%q: %w", oldPath, err)
	}
	if err := ValidatePath(newPath); err != nil {
		return fmt.Errorf("%q: %w", newPath, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(notebookKey(newPath)); err == nil {
			return ErrNotebookExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		item, err := txn.Get(notebookKey(oldPath))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotebookNotFound
			}
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Set(notebookKey(newPath), data); err != nil {
			return err
		}
		return txn.Delete(notebookKey(oldPath))
	})
	if err != nil {
		return fmt.Errorf("rename %q to %q: %w", oldPath, newPath, err)
	}
	return nil
}

// Exists implements Store.
func (s *BadgerStore) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidatePath(path); err != nil {
		return false, fmt.Errorf("%q: %w", path, err)
	}
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(notebookKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("stat %q: %w", path, err)
	}
	return found, nil
}

// List implements Store.
func (s *BadgerStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(notebookKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			paths = append(paths, strings.TrimPrefix(key, notebookKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
