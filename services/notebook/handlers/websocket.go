// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/davidjeschke/math-tablet/pkg/logging"
	"github.com/davidjeschke/math-tablet/services/notebook"
	"github.com/davidjeschke/math-tablet/services/notebook/server"
)

// genericErrorMessage is sent when an error is not user-surfaceable.
const genericErrorMessage = "operation failed"

// SocketHandler upgrades client connections and speaks the notebook
// protocol over them. One handler serves every socket.
type SocketHandler struct {
	service  *server.Service
	logger   *logging.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

// NewSocketHandler builds a handler on the given service.
func NewSocketHandler(service *server.Service, logger *logging.Logger) *SocketHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SocketHandler{
		service:  service,
		logger:   logger,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handle is the gin handler for the WebSocket endpoint.
func (h *SocketHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	cl := &client{
		id:       uuid.NewString(),
		conn:     conn,
		service:  h.service,
		validate: h.validate,
		open:     make(map[string]*server.Session),
	}
	cl.logger = h.logger.With("client", cl.id)
	cl.logger.Info("client connected", "remote", conn.RemoteAddr().String())
	cl.run(c.Request.Context())
}

// client is one connected socket. The read loop is the only reader; writes
// are serialized by writeMu because broadcasts arrive from other clients'
// dispatch goroutines.
type client struct {
	id       string
	conn     *websocket.Conn
	service  *server.Service
	logger   *logging.Logger
	validate *validator.Validate

	writeMu sync.Mutex

	mu   sync.Mutex
	open map[string]*server.Session
}

func (cl *client) run(ctx context.Context) {
	defer cl.cleanup(ctx)
	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.logger.Warn("client read failed", "error", err.Error())
			}
			return
		}
		var req ClientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			cl.sendError("", "malformed request")
			continue
		}
		if err := cl.validate.Struct(req); err != nil {
			cl.sendError(req.RequestID, "invalid request: "+err.Error())
			continue
		}
		cl.handleRequest(ctx, req)
	}
}

func (cl *client) handleRequest(ctx context.Context, req ClientRequest) {
	var err error
	switch req.Operation {
	case OpOpenNotebook:
		err = cl.handleOpen(ctx, req)
	case OpCloseNotebook:
		err = cl.handleClose(ctx, req)
	case OpChangeNotebook:
		err = cl.handleChange(ctx, req)
	case OpUseTool:
		err = cl.handleUseTool(ctx, req)
	case OpListNotebooks:
		err = cl.handleList(ctx, req)
	case OpCreateNotebook:
		err = cl.service.Create(ctx, req.Path)
	case OpDeleteNotebook:
		err = cl.service.Delete(ctx, req.Path)
	case OpRenameNotebook:
		err = cl.service.Rename(ctx, req.Path, req.NewPath)
	}
	if err != nil {
		cl.logger.Warn("request failed",
			"operation", req.Operation,
			"path", req.Path,
			"error", err.Error(),
		)
		message := notebook.UserMessage(err)
		if message == "" {
			message = genericErrorMessage
		}
		cl.sendError(req.RequestID, message)
		return
	}
	switch req.Operation {
	case OpCreateNotebook, OpDeleteNotebook, OpRenameNotebook:
		cl.send(ServerResponse{Operation: OpAck, RequestID: req.RequestID, Path: req.Path})
	}
}

func (cl *client) handleOpen(ctx context.Context, req ClientRequest) error {
	cl.mu.Lock()
	_, alreadyOpen := cl.open[req.Path]
	cl.mu.Unlock()
	if alreadyOpen {
		return notebook.NewUserError(nil, "notebook %q is already open", req.Path)
	}

	session, err := cl.service.Open(ctx, req.Path)
	if err != nil {
		return err
	}
	snapshot, err := session.Snapshot()
	if err != nil {
		cl.service.Release(ctx, req.Path)
		return err
	}
	session.AddSink(cl)
	cl.mu.Lock()
	cl.open[req.Path] = session
	cl.mu.Unlock()

	cl.send(ServerResponse{
		Operation: OpNotebookOpened,
		RequestID: req.RequestID,
		Path:      req.Path,
		Notebook:  snapshot,
	})
	return nil
}

func (cl *client) handleClose(ctx context.Context, req ClientRequest) error {
	cl.mu.Lock()
	session, ok := cl.open[req.Path]
	delete(cl.open, req.Path)
	cl.mu.Unlock()
	if !ok {
		return notebook.NewUserError(nil, "notebook %q is not open", req.Path)
	}
	session.RemoveSink(cl)
	if err := cl.service.Release(ctx, req.Path); err != nil {
		return err
	}
	cl.send(ServerResponse{Operation: OpAck, RequestID: req.RequestID, Path: req.Path})
	return nil
}

func (cl *client) handleChange(ctx context.Context, req ClientRequest) error {
	session, err := cl.sessionFor(req.Path)
	if err != nil {
		return err
	}
	requests := make([]notebook.ChangeRequest, 0, len(req.ChangeRequests))
	for _, rec := range req.ChangeRequests {
		r, err := rec.ToRequest()
		if err != nil {
			return notebook.NewUserError(err, "bad change request: %v", err)
		}
		requests = append(requests, r)
	}

	changes, undo, err := session.RequestChanges(ctx, notebook.SourceUser, requests, req.WantUndo)
	// A partially applied batch is still persisted and broadcast before
	// the error is reported, so every client (and the store) sees the same
	// document.
	if len(changes) > 0 {
		if saveErr := cl.service.Save(ctx, req.Path, session); saveErr != nil && err == nil {
			err = saveErr
		}
		cl.broadcast(session, req.Path, changes, req.RequestID, undo)
	}
	return err
}

func (cl *client) handleUseTool(ctx context.Context, req ClientRequest) error {
	session, err := cl.sessionFor(req.Path)
	if err != nil {
		return err
	}
	changes, err := session.UseTool(ctx, req.StyleID)
	if len(changes) > 0 {
		if saveErr := cl.service.Save(ctx, req.Path, session); saveErr != nil && err == nil {
			err = saveErr
		}
		cl.broadcast(session, req.Path, changes, req.RequestID, nil)
	}
	return err
}

func (cl *client) handleList(ctx context.Context, req ClientRequest) error {
	paths, err := cl.service.List(ctx)
	if err != nil {
		return err
	}
	cl.send(ServerResponse{Operation: OpNotebookList, RequestID: req.RequestID, Paths: paths})
	return nil
}

func (cl *client) sessionFor(path string) (*server.Session, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	session, ok := cl.open[path]
	if !ok {
		return nil, notebook.NewUserError(nil, "notebook %q is not open", path)
	}
	return session, nil
}

// broadcast delivers a settled change batch to every sink on the session.
// The originating client's copy carries the request id and any undo script;
// other clients get the bare batch.
func (cl *client) broadcast(session *server.Session, path string, changes []notebook.Change, requestID string, undo []notebook.ChangeRequest) {
	records, err := NewChangeRecords(changes)
	if err != nil {
		cl.logger.Error("change batch encoding failed", "path", path, "error", err.Error())
		return
	}
	for _, sink := range session.Sinks() {
		if sink == server.Sink(cl) {
			continue
		}
		sink.NotebookUpdated(path, changes, true)
	}

	resp := ServerResponse{
		Operation: OpNotebookChanged,
		RequestID: requestID,
		Path:      path,
		Changes:   records,
		Complete:  true,
	}
	if len(undo) > 0 {
		undoRecords, err := NewChangeRequestRecords(undo)
		if err != nil {
			cl.logger.Error("undo script encoding failed", "path", path, "error", err.Error())
		} else {
			resp.Undo = undoRecords
		}
	}
	cl.send(resp)
}

// NotebookUpdated implements server.Sink: relay a change batch that another
// client (or the server) applied.
func (cl *client) NotebookUpdated(path string, changes []notebook.Change, complete bool) {
	records, err := NewChangeRecords(changes)
	if err != nil {
		cl.logger.Error("change batch encoding failed", "path", path, "error", err.Error())
		return
	}
	cl.send(ServerResponse{
		Operation: OpNotebookChanged,
		Path:      path,
		Changes:   records,
		Complete:  complete,
	})
}

// NotebookClosed implements server.Sink: the server closed the notebook out
// from under us (deleted, renamed, or shutting down).
func (cl *client) NotebookClosed(path string, reason string) {
	cl.mu.Lock()
	delete(cl.open, path)
	cl.mu.Unlock()
	cl.send(ServerResponse{Operation: OpNotebookClosed, Path: path, Reason: reason})
}

func (cl *client) send(resp ServerResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		cl.logger.Error("response encoding failed", "operation", resp.Operation, "error", err.Error())
		return
	}
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		cl.logger.Debug("client write failed", "error", err.Error())
	}
}

func (cl *client) sendError(requestID, message string) {
	cl.send(ServerResponse{Operation: OpError, RequestID: requestID, Message: message})
}

// cleanup releases every notebook the client still has open. The request
// context is already canceled by the time the socket drops, so the final
// saves run detached from it.
func (cl *client) cleanup(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	cl.mu.Lock()
	open := cl.open
	cl.open = make(map[string]*server.Session)
	cl.mu.Unlock()

	for path, session := range open {
		session.RemoveSink(cl)
		if err := cl.service.Release(ctx, path); err != nil {
			cl.logger.Warn("release on disconnect failed", "path", path, "error", err.Error())
		}
	}
	cl.conn.Close()
	cl.logger.Info("client disconnected", "open_notebooks", len(open))
}
