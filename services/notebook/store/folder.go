// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/davidjeschke/math-tablet/pkg/logging"
	"github.com/davidjeschke/math-tablet/services/notebook"
)

// fileExt is the on-disk extension of a notebook file.
const fileExt = ".mtnb"

// selfWriteWindow is how long after our own save a filesystem event on
// the same path is attributed to us rather than an external editor.
const selfWriteWindow = 2 * time.Second

// FolderStore persists each notebook as a JSON file under a root
// directory. Writes are atomic (temp file plus rename). An optional
// fsnotify watch reports files modified by other processes, so a user
// editing a notebook file by hand is noticed.
type FolderStore struct {
	root   string
	logger *logging.Logger

	mu         sync.Mutex
	recentSave map[string]time.Time
	watcher    *fsnotify.Watcher
	watchDone  chan struct{}
}

// NewFolderStore creates the root directory if needed and returns a store
// over it.
func NewFolderStore(root string, logger *logging.Logger) (*FolderStore, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create notebook root %s: %w", root, err)
	}
	return &FolderStore{
		root:       root,
		logger:     logger,
		recentSave: make(map[string]time.Time),
	}, nil
}

// Root returns the root directory.
func (s *FolderStore) Root() string { return s.root }

func (s *FolderStore) filePath(path string) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", fmt.Errorf("%q: %w", path, err)
	}
	return filepath.Join(s.root, filepath.FromSlash(path)+fileExt), nil
}

// Load implements Store.
func (s *FolderStore) Load(ctx context.Context, path string) (*notebook.Notebook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := s.filePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q: %w", path, ErrNotebookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}
	return notebook.FromJSON(data)
}

// Save implements Store. The write goes to a temp file in the same
// directory, then renames over the target.
func (s *FolderStore) Save(ctx context.Context, path string, nb *notebook.Notebook) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := s.filePath(path)
	if err != nil {
		return err
	}
	data, err := nb.ToJSON()
	if err != nil {
		return fmt.Errorf("serialize %q: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
		return fmt.Errorf("save %q: %w", path, err)
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("save %q: %w", path, err)
	}
	s.markSelfWrite(file)
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save %q: %w", path, err)
	}
	return nil
}

// Delete implements Store.
func (s *FolderStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := s.filePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%q: %w", path, ErrNotebookNotFound)
		}
		return fmt.Errorf("delete %q: %w", path, err)
	}
	return nil
}

// Rename implements Store.
func (s *FolderStore) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	oldFile, err := s.filePath(oldPath)
	if err != nil {
		return err
	}
	newFile, err := s.filePath(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(newFile); err == nil {
		return fmt.Errorf("%q: %w", newPath, ErrNotebookExists)
	}
	if _, err := os.Stat(oldFile); os.IsNotExist(err) {
		return fmt.Errorf("%q: %w", oldPath, ErrNotebookNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(newFile), 0750); err != nil {
		return fmt.Errorf("rename %q: %w", oldPath, err)
	}
	s.markSelfWrite(newFile)
	if err := os.Rename(oldFile, newFile); err != nil {
		return fmt.Errorf("rename %q to %q: %w", oldPath, newPath, err)
	}
	return nil
}

// Exists implements Store.
func (s *FolderStore) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	file, err := s.filePath(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %q: %w", path, err)
	}
	return true, nil
}

// List implements Store.
func (s *FolderStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var paths []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, fileExt) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, strings.TrimSuffix(filepath.ToSlash(rel), fileExt))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Watch starts reporting notebooks modified by other processes.
// onExternal receives the notebook path. Saves performed through this
// store within the last couple of seconds are not reported.
//
// fsnotify watches do not recurse, so every notebook folder gets its own
// watch: the existing tree at start, and new folders as they appear.
func (s *FolderStore) Watch(onExternal func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	walkErr := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
	if walkErr != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", s.root, walkErr)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.watchDone = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.watchDone)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if event.Has(fsnotify.Create) {
					if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
						if err := watcher.Add(event.Name); err != nil {
							s.logger.Warn("notebook watch error", "error", err.Error())
						}
						continue
					}
				}
				if !strings.HasSuffix(event.Name, fileExt) {
					continue
				}
				if s.isSelfWrite(event.Name) {
					continue
				}
				rel, err := filepath.Rel(s.root, event.Name)
				if err != nil {
					continue
				}
				path := strings.TrimSuffix(filepath.ToSlash(rel), fileExt)
				s.logger.Warn("notebook modified externally", "path", path)
				if onExternal != nil {
					onExternal(path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("notebook watch error", "error", err.Error())
			}
		}
	}()
	return nil
}

func (s *FolderStore) markSelfWrite(file string) {
	s.mu.Lock()
	s.recentSave[file] = time.Now()
	s.mu.Unlock()
}

func (s *FolderStore) isSelfWrite(file string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.recentSave[file]
	if !ok {
		return false
	}
	if time.Since(at) > selfWriteWindow {
		delete(s.recentSave, file)
		return false
	}
	return true
}

// Close stops the watch, if one is running.
func (s *FolderStore) Close() error {
	s.mu.Lock()
	watcher := s.watcher
	done := s.watchDone
	s.watcher = nil
	s.mu.Unlock()
	if watcher == nil {
		return nil
	}
	if err := watcher.Close(); err != nil {
		return err
	}
	<-done
	return nil
}

var _ Store = (*FolderStore)(nil)
