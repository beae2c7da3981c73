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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/davidjeschke/math-tablet/services/notebook/server"
	"github.com/davidjeschke/math-tablet/services/notebook/store"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *server.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.OpenBadgerStore(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := server.NewService(server.ServiceConfig{Store: st})
	t.Cleanup(func() { svc.Shutdown(context.Background()) })

	router := gin.New()
	api := router.Group("/api")
	RegisterRoutes(api, NewRestHandlers(svc), NewSocketHandler(svc, nil))
	return router, svc
}

func getJSON(t *testing.T, router *gin.Engine, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHandleList(t *testing.T) {
	router, svc := setupTestRouter(t)
	require.NoError(t, svc.Create(context.Background(), "calc/week1"))
	require.NoError(t, svc.Create(context.Background(), "algebra"))

	code, body := getJSON(t, router, "/api/notebooks")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{"algebra", "calc/week1"}, body["paths"])
}

func TestHandleOpenList(t *testing.T) {
	router, svc := setupTestRouter(t)
	require.NoError(t, svc.Create(context.Background(), "open-me"))
	_, err := svc.Open(context.Background(), "open-me")
	require.NoError(t, err)
	defer svc.Release(context.Background(), "open-me")

	code, body := getJSON(t, router, "/api/notebooks/open")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{"open-me"}, body["paths"])
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := setupTestRouter(t)

	code, body := getJSON(t, router, "/api/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "healthy", body["status"])

	code, body = getJSON(t, router, "/api/ready")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", body["status"])
}
