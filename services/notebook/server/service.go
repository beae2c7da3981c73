// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/davidjeschke/math-tablet/pkg/logging"
	"github.com/davidjeschke/math-tablet/services/notebook"
	"github.com/davidjeschke/math-tablet/services/notebook/store"
)

// Service owns the open-notebook table: one refcounted session per path,
// backed by a store. Observer factories registered on the service are
// instantiated for every notebook it opens.
type Service struct {
	store   store.Store
	logger  *logging.Logger
	metrics *Metrics
	budget  int

	mu        sync.Mutex
	factories []factoryEntry
	sessions  map[string]*sessionEntry
}

type factoryEntry struct {
	source  notebook.StyleSource
	factory ObserverFactory
}

type sessionEntry struct {
	session *Session
	refs    int
}

// ServiceConfig configures NewService. Store is required.
type ServiceConfig struct {
	Store   store.Store
	Logger  *logging.Logger
	Metrics *Metrics
	Budget  int
}

// NewService builds a service with no open notebooks.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:    cfg.Store,
		logger:   logger,
		metrics:  cfg.Metrics,
		budget:   cfg.Budget,
		sessions: make(map[string]*sessionEntry),
	}
}

// RegisterObserver adds an observer factory. Factories run in registration
// order for every notebook opened afterwards.
func (svc *Service) RegisterObserver(source notebook.StyleSource, factory ObserverFactory) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.factories = append(svc.factories, factoryEntry{source: source, factory: factory})
}

// Store returns the backing store.
func (svc *Service) Store() store.Store { return svc.store }

// Open returns the session for a path, loading the notebook and
// instantiating observers on first open. Each successful Open must be
// paired with a Release.
func (svc *Service) Open(ctx context.Context, path string) (*Session, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if entry, ok := svc.sessions[path]; ok {
		entry.refs++
		return entry.session, nil
	}

	doc, err := svc.store.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	session := NewSession(SessionConfig{
		Path:    path,
		Doc:     doc,
		Logger:  svc.logger,
		Budget:  svc.budget,
		Metrics: svc.metrics,
	})
	for _, fe := range svc.factories {
		if err := session.Register(fe.source, fe.factory); err != nil {
			session.Close("open failed")
			return nil, err
		}
	}
	svc.sessions[path] = &sessionEntry{session: session, refs: 1}
	svc.metrics.notebookOpened()
	svc.logger.Info("notebook opened", "path", path)
	return session, nil
}

// Create makes an empty notebook at the path and stores it. The notebook
// is not opened.
func (svc *Service) Create(ctx context.Context, path string) error {
	exists, err := svc.store.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%q: %w", path, store.ErrNotebookExists)
	}
	return svc.store.Save(ctx, path, notebook.New())
}

// Release drops one reference to an open notebook. The last release saves
// the document and closes the session.
func (svc *Service) Release(ctx context.Context, path string) error {
	svc.mu.Lock()
	entry, ok := svc.sessions[path]
	if !ok {
		svc.mu.Unlock()
		return nil
	}
	entry.refs--
	if entry.refs > 0 {
		svc.mu.Unlock()
		return nil
	}
	delete(svc.sessions, path)
	svc.mu.Unlock()

	err := svc.Save(ctx, path, entry.session)
	entry.session.Close("last watcher left")
	svc.metrics.notebookClosed()
	return err
}

// Save persists a session's document. The serialization runs under the
// session lock so concurrent change batches never produce a torn save.
func (svc *Service) Save(ctx context.Context, path string, session *Session) error {
	if err := session.SaveTo(ctx, svc.store, path); err != nil {
		svc.logger.Error("notebook save failed", "path", path, "error", err.Error())
		return err
	}
	return nil
}

// Delete removes a stored notebook. An open session for the path is closed
// first and its watchers are told why.
func (svc *Service) Delete(ctx context.Context, path string) error {
	svc.mu.Lock()
	entry, open := svc.sessions[path]
	if open {
		delete(svc.sessions, path)
	}
	svc.mu.Unlock()
	if open {
		entry.session.Close("notebook deleted")
		svc.metrics.notebookClosed()
	}
	return svc.store.Delete(ctx, path)
}

// Invalidate closes an open session without saving, for when the stored
// notebook changed underneath the server. Clients reopen to pick up the
// external version. Returns whether a session was open.
func (svc *Service) Invalidate(path, reason string) bool {
	svc.mu.Lock()
	entry, open := svc.sessions[path]
	if open {
		delete(svc.sessions, path)
	}
	svc.mu.Unlock()
	if !open {
		return false
	}
	entry.session.Close(reason)
	svc.metrics.notebookClosed()
	return true
}

// Rename moves a stored notebook. Renaming an open notebook closes its
// session; clients reopen under the new path.
func (svc *Service) Rename(ctx context.Context, oldPath, newPath string) error {
	svc.mu.Lock()
	entry, open := svc.sessions[oldPath]
	if open {
		delete(svc.sessions, oldPath)
	}
	svc.mu.Unlock()
	if open {
		if err := svc.Save(ctx, oldPath, entry.session); err != nil {
			return err
		}
		entry.session.Close("notebook renamed")
		svc.metrics.notebookClosed()
	}
	return svc.store.Rename(ctx, oldPath, newPath)
}

// List returns every stored notebook path.
func (svc *Service) List(ctx context.Context) ([]string, error) {
	return svc.store.List(ctx)
}

// OpenPaths returns the paths of currently open notebooks, sorted.
func (svc *Service) OpenPaths() []string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	paths := make([]string, 0, len(svc.sessions))
	for path := range svc.sessions {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Shutdown saves and closes every open notebook.
func (svc *Service) Shutdown(ctx context.Context) {
	svc.mu.Lock()
	sessions := svc.sessions
	svc.sessions = make(map[string]*sessionEntry)
	svc.mu.Unlock()

	for path, entry := range sessions {
		if err := svc.Save(ctx, path, entry.session); err == nil {
			svc.logger.Info("notebook saved on shutdown", "path", path)
		}
		entry.session.Close("server shutting down")
		svc.metrics.notebookClosed()
	}
}
