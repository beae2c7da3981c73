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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/davidjeschke/math-tablet/services/notebook"
)

func dialSocket(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, req ClientRequest) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readResponse(t *testing.T, conn *websocket.Conn) ServerResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var resp ServerResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func insertCellRecord(expr string) ChangeRequestRecord {
	return ChangeRequestRecord{
		Operation: RequestInsertStyle,
		AfterID:   notebook.StyleBottom,
		Props: &StylePropertiesRecord{
			Role: notebook.RoleInput,
			Type: notebook.TypeWolframExpression,
			Data: json.RawMessage(`{"expr":"` + expr + `"}`),
		},
	}
}

func TestSocket_NotebookLifecycle(t *testing.T) {
	router, _ := setupTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()
	conn := dialSocket(t, srv)

	sendRequest(t, conn, ClientRequest{RequestID: "r1", Operation: OpCreateNotebook, Path: "physics"})
	resp := readResponse(t, conn)
	require.Equal(t, OpAck, resp.Operation)
	require.Equal(t, "r1", resp.RequestID)

	sendRequest(t, conn, ClientRequest{RequestID: "r2", Operation: OpOpenNotebook, Path: "physics"})
	resp = readResponse(t, conn)
	require.Equal(t, OpNotebookOpened, resp.Operation)
	require.Equal(t, "r2", resp.RequestID)
	require.Equal(t, "physics", resp.Path)
	require.NotEmpty(t, resp.Notebook, "open must carry the document snapshot")

	sendRequest(t, conn, ClientRequest{
		RequestID:      "r3",
		Operation:      OpChangeNotebook,
		Path:           "physics",
		ChangeRequests: []ChangeRequestRecord{insertCellRecord("F = 17")},
		WantUndo:       true,
	})
	resp = readResponse(t, conn)
	require.Equal(t, OpNotebookChanged, resp.Operation)
	require.Equal(t, "r3", resp.RequestID)
	require.True(t, resp.Complete)
	require.NotEmpty(t, resp.Changes)
	require.Equal(t, ChangeStyleInserted, resp.Changes[0].Type)
	require.NotEmpty(t, resp.Undo, "wantUndo must return an undo script")

	sendRequest(t, conn, ClientRequest{RequestID: "r4", Operation: OpListNotebooks})
	resp = readResponse(t, conn)
	require.Equal(t, OpNotebookList, resp.Operation)
	require.Equal(t, []string{"physics"}, resp.Paths)

	sendRequest(t, conn, ClientRequest{RequestID: "r5", Operation: OpCloseNotebook, Path: "physics"})
	resp = readResponse(t, conn)
	require.Equal(t, OpAck, resp.Operation)
	require.Equal(t, "r5", resp.RequestID)
}

func TestSocket_ChangesAreDurableWithoutClose(t *testing.T) {
	router, svc := setupTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()
	conn := dialSocket(t, srv)

	sendRequest(t, conn, ClientRequest{RequestID: "c", Operation: OpCreateNotebook, Path: "durable"})
	readResponse(t, conn)
	sendRequest(t, conn, ClientRequest{RequestID: "o", Operation: OpOpenNotebook, Path: "durable"})
	readResponse(t, conn)

	sendRequest(t, conn, ClientRequest{
		RequestID:      "chg",
		Operation:      OpChangeNotebook,
		Path:           "durable",
		ChangeRequests: []ChangeRequestRecord{insertCellRecord("E = 42")},
	})
	resp := readResponse(t, conn)
	require.Equal(t, OpNotebookChanged, resp.Operation)

	// The batch is persisted before the response goes out, so the edit
	// survives even though the notebook is still open.
	doc, err := svc.Store().Load(context.Background(), "durable")
	require.NoError(t, err)
	require.False(t, doc.IsEmpty(), "applied batch must be stored without waiting for a close")
}

func TestSocket_BroadcastToOtherClients(t *testing.T) {
	router, _ := setupTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	connA := dialSocket(t, srv)
	connB := dialSocket(t, srv)

	sendRequest(t, connA, ClientRequest{RequestID: "c", Operation: OpCreateNotebook, Path: "shared"})
	readResponse(t, connA)
	for i, conn := range []*websocket.Conn{connA, connB} {
		sendRequest(t, conn, ClientRequest{RequestID: "o", Operation: OpOpenNotebook, Path: "shared"})
		resp := readResponse(t, conn)
		require.Equal(t, OpNotebookOpened, resp.Operation, "client %d", i)
	}

	sendRequest(t, connA, ClientRequest{
		RequestID:      "chg",
		Operation:      OpChangeNotebook,
		Path:           "shared",
		ChangeRequests: []ChangeRequestRecord{insertCellRecord("a = 1")},
		WantUndo:       true,
	})

	got := readResponse(t, connA)
	require.Equal(t, OpNotebookChanged, got.Operation)
	require.Equal(t, "chg", got.RequestID)
	require.NotEmpty(t, got.Undo)

	relayed := readResponse(t, connB)
	require.Equal(t, OpNotebookChanged, relayed.Operation)
	require.Empty(t, relayed.RequestID, "broadcasts carry no request id")
	require.Empty(t, relayed.Undo, "undo goes only to the originator")
	require.Len(t, relayed.Changes, len(got.Changes))
}

func TestSocket_DeleteClosesOpenNotebook(t *testing.T) {
	router, _ := setupTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	connA := dialSocket(t, srv)
	connB := dialSocket(t, srv)

	sendRequest(t, connA, ClientRequest{RequestID: "c", Operation: OpCreateNotebook, Path: "doomed"})
	readResponse(t, connA)
	sendRequest(t, connA, ClientRequest{RequestID: "o", Operation: OpOpenNotebook, Path: "doomed"})
	readResponse(t, connA)

	sendRequest(t, connB, ClientRequest{RequestID: "d", Operation: OpDeleteNotebook, Path: "doomed"})
	resp := readResponse(t, connB)
	require.Equal(t, OpAck, resp.Operation)

	closed := readResponse(t, connA)
	require.Equal(t, OpNotebookClosed, closed.Operation)
	require.Equal(t, "doomed", closed.Path)
	require.NotEmpty(t, closed.Reason)
}

func TestSocket_Errors(t *testing.T) {
	router, _ := setupTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()
	conn := dialSocket(t, srv)

	t.Run("unknown operation", func(t *testing.T) {
		sendRequest(t, conn, ClientRequest{RequestID: "e1", Operation: "frobnicate"})
		resp := readResponse(t, conn)
		require.Equal(t, OpError, resp.Operation)
		require.Equal(t, "e1", resp.RequestID)
		require.NotEmpty(t, resp.Message)
	})

	t.Run("change on unopened notebook", func(t *testing.T) {
		sendRequest(t, conn, ClientRequest{
			RequestID:      "e2",
			Operation:      OpChangeNotebook,
			Path:           "nowhere",
			ChangeRequests: []ChangeRequestRecord{insertCellRecord("1")},
		})
		resp := readResponse(t, conn)
		require.Equal(t, OpError, resp.Operation)
		require.Contains(t, resp.Message, "not open")
	})

	t.Run("double open", func(t *testing.T) {
		sendRequest(t, conn, ClientRequest{RequestID: "c", Operation: OpCreateNotebook, Path: "once"})
		readResponse(t, conn)
		sendRequest(t, conn, ClientRequest{RequestID: "o1", Operation: OpOpenNotebook, Path: "once"})
		require.Equal(t, OpNotebookOpened, readResponse(t, conn).Operation)
		sendRequest(t, conn, ClientRequest{RequestID: "o2", Operation: OpOpenNotebook, Path: "once"})
		resp := readResponse(t, conn)
		require.Equal(t, OpError, resp.Operation)
		require.Contains(t, resp.Message, "already open")
	})
}
