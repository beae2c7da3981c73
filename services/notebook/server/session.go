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
	"sync"
	"time"

	"github.com/davidjeschke/math-tablet/pkg/logging"
	"github.com/davidjeschke/math-tablet/services/notebook"
	"github.com/davidjeschke/math-tablet/services/notebook/store"
)

// DefaultIterationBudget bounds the dispatch loop. Well-behaved observer
// sets settle in two or three rounds.
const DefaultIterationBudget = 10

// Sink receives notifications about an open notebook, typically to relay
// them to connected clients.
type Sink interface {
	// NotebookUpdated delivers an applied change batch. complete is true
	// on the final batch of a request, after the dispatch loop reached
	// its fixed point.
	NotebookUpdated(path string, changes []notebook.Change, complete bool)

	// NotebookClosed announces that the notebook was closed server-side.
	NotebookClosed(path string, reason string)
}

// Session is one open notebook: the document, its observer instances, and
// the sinks watching it. All document access is serialized by the session
// mutex; a change request holds the lock for the entire dispatch loop,
// including async observer awaits, so observers never see interleaved
// batches.
type Session struct {
	path   string
	logger *logging.Logger
	budget int

	// ctx is canceled when the session closes so in-flight observer work
	// stops promptly and its late results are discarded.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	doc       *notebook.Notebook
	observers []registeredObserver
	sinks     []Sink
	closed    bool
	metrics   *Metrics
}

type registeredObserver struct {
	source   notebook.StyleSource
	observer Observer
}

type sourcedRequest struct {
	source  notebook.StyleSource
	request notebook.ChangeRequest
}

// SessionConfig configures NewSession. Doc is required; zero-valued fields
// get defaults.
type SessionConfig struct {
	Path    string
	Doc     *notebook.Notebook
	Logger  *logging.Logger
	Budget  int
	Metrics *Metrics
}

// NewSession wraps a document in a session. Observers are registered
// afterwards with Register.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultIterationBudget
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		path:    cfg.Path,
		doc:     cfg.Doc,
		logger:  logger.With("notebook", cfg.Path),
		budget:  budget,
		ctx:     ctx,
		cancel:  cancel,
		metrics: cfg.Metrics,
	}
}

// Path returns the notebook path this session serves.
func (s *Session) Path() string { return s.path }

// Doc returns the document. Callers outside an observer pass must hold no
// assumptions about it changing under them; observers access it only from
// within their passes, where the session lock is held.
func (s *Session) Doc() *notebook.Notebook { return s.doc }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *logging.Logger { return s.logger }

// Snapshot serializes the document under the session lock, so a client can
// receive a consistent view while other clients keep making changes.
func (s *Session) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.doc.ToJSON()
}

// SaveTo persists the document through st under the session lock, so the
// stored form is never a half-applied batch.
func (s *Session) SaveTo(ctx context.Context, st store.Store, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return st.Save(ctx, path, s.doc)
}

// Register instantiates an observer from its factory and adds it to the
// dispatch order. Source names must be unique per session.
func (s *Session) Register(source notebook.StyleSource, factory ObserverFactory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	for _, ro := range s.observers {
		if ro.source == source {
			return fmt.Errorf("%q: %w", source, ErrObserverRegistered)
		}
	}
	observer, err := factory(s)
	if err != nil {
		return fmt.Errorf("observer %q: %w", source, err)
	}
	s.observers = append(s.observers, registeredObserver{source: source, observer: observer})
	return nil
}

// AddSink subscribes a sink to this session's updates.
func (s *Session) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// RemoveSink unsubscribes a sink. It returns the number of sinks left.
func (s *Session) RemoveSink(sink Sink) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.sinks {
		if existing == sink {
			s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
			break
		}
	}
	return len(s.sinks)
}

// Sinks returns a snapshot of the subscribed sinks.
func (s *Session) Sinks() []Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sink, len(s.sinks))
	copy(out, s.sinks)
	return out
}

// RequestChanges applies a request batch from the given source and runs
// the observer dispatch loop to its fixed point. It returns every applied
// change, in application order, and (when wantUndo is set) the inverse
// requests in undo order.
//
// Within each round, every observer's sync pass runs and its requests are
// queued before any async pass; async passes are awaited one observer at a
// time. A round's queued requests are applied together at the top of the
// next round. The loop ends when a round queues nothing.
func (s *Session) RequestChanges(ctx context.Context, source notebook.StyleSource, requests []notebook.ChangeRequest, wantUndo bool) ([]notebook.Change, []notebook.ChangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrSessionClosed
	}
	pending := make([]sourcedRequest, 0, len(requests))
	for _, req := range requests {
		pending = append(pending, sourcedRequest{source: source, request: req})
	}
	return s.dispatchLocked(ctx, pending, wantUndo)
}

func (s *Session) dispatchLocked(ctx context.Context, pending []sourcedRequest, wantUndo bool) ([]notebook.Change, []notebook.ChangeRequest, error) {
	started := time.Now()
	var all []notebook.Change
	var undo []notebook.ChangeRequest
	rounds := 0

	for len(pending) > 0 {
		rounds++
		if rounds > s.budget {
			s.logger.Error("dispatch loop did not settle",
				"rounds", rounds-1,
				"pending_requests", len(pending),
			)
			return all, undo, fmt.Errorf("%w (%d rounds)", ErrIterationBudget, s.budget)
		}

		var batch []notebook.Change
		for _, sr := range pending {
			changes, inverse, err := s.doc.ApplyRequest(sr.source, sr.request)
			batch = append(batch, changes...)
			if wantUndo {
				undo = append(inverse, undo...)
			}
			if err != nil {
				all = append(all, batch...)
				s.logger.Error("change request failed",
					"source", string(sr.source),
					"error", err.Error(),
				)
				return all, undo, err
			}
		}
		all = append(all, batch...)
		pending = nil

		for _, ro := range s.observers {
			for _, req := range ro.observer.OnChangesSync(batch) {
				pending = append(pending, sourcedRequest{source: ro.source, request: req})
			}
		}
		for _, ro := range s.observers {
			reqs, err := ro.observer.OnChangesAsync(ctx, batch)
			if s.ctx.Err() != nil {
				// The session closed under us; drop the late results.
				s.logger.Debug("discarding observer results after close",
					"source", string(ro.source))
				return all, undo, ErrSessionClosed
			}
			if err != nil {
				s.logger.Error("observer pass failed",
					"source", string(ro.source),
					"error", err.Error(),
				)
				return all, undo, fmt.Errorf("observer %q: %w", ro.source, err)
			}
			for _, req := range reqs {
				pending = append(pending, sourcedRequest{source: ro.source, request: req})
			}
		}
	}

	if s.metrics != nil {
		s.metrics.observe(len(all), rounds, time.Since(started))
	}
	s.logger.Debug("change batch settled", "changes", len(all), "rounds", rounds)
	return all, undo, nil
}

// UseTool runs the tool action of a TOOL-DATA style: the observer whose
// source produced the tool computes the requests, which then go through
// the normal dispatch loop. Returns every applied change.
func (s *Session) UseTool(ctx context.Context, styleID notebook.StyleID) ([]notebook.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	tool, err := s.doc.GetStyle(styleID)
	if err != nil {
		return nil, err
	}
	if tool.Type != notebook.TypeToolData {
		return nil, fmt.Errorf("style %d: %w", styleID, ErrNotATool)
	}
	for _, ro := range s.observers {
		if ro.source != tool.Source {
			continue
		}
		reqs, err := ro.observer.UseTool(ctx, tool)
		if err != nil {
			return nil, fmt.Errorf("observer %q: %w", ro.source, err)
		}
		pending := make([]sourcedRequest, 0, len(reqs))
		for _, req := range reqs {
			pending = append(pending, sourcedRequest{source: ro.source, request: req})
		}
		changes, _, err := s.dispatchLocked(ctx, pending, false)
		return changes, err
	}
	return nil, fmt.Errorf("%q: %w", tool.Source, ErrNoToolObserver)
}

// Close shuts the session down: in-flight observer work is canceled,
// observers are closed, and sinks are told the notebook closed. Close is
// idempotent.
func (s *Session) Close(reason string) {
	s.cancel()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	observers := s.observers
	sinks := s.sinks
	s.observers = nil
	s.sinks = nil
	s.mu.Unlock()

	for _, ro := range observers {
		if err := ro.observer.Close(); err != nil {
			s.logger.Warn("observer close failed",
				"source", string(ro.source),
				"error", err.Error(),
			)
		}
	}
	for _, sink := range sinks {
		sink.NotebookClosed(s.path, reason)
	}
	s.logger.Info("notebook closed", "reason", reason)
}
