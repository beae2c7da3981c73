// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davidjeschke/math-tablet/services/notebook/server"
)

// RestHandlers serves the read-only REST routes that sit next to the
// socket: notebook listing and health checks.
type RestHandlers struct {
	service *server.Service
}

// NewRestHandlers builds the REST handlers on the given service.
func NewRestHandlers(service *server.Service) *RestHandlers {
	return &RestHandlers{service: service}
}

// RegisterRoutes registers the notebook endpoints with the router group.
//
// Endpoints:
//
//	GET /notebooks - List stored notebook paths
//	GET /notebooks/open - List currently open notebook paths
//	GET /health - Health check
//	GET /ready - Readiness check
//	GET /ws - The notebook protocol socket
func RegisterRoutes(rg *gin.RouterGroup, rest *RestHandlers, socket *SocketHandler) {
	rg.GET("/notebooks", rest.HandleList)
	rg.GET("/notebooks/open", rest.HandleOpenList)
	rg.GET("/health", rest.HandleHealth)
	rg.GET("/ready", rest.HandleReady)
	rg.GET("/ws", socket.Handle)
}

// HandleList returns every stored notebook path.
func (h *RestHandlers) HandleList(c *gin.Context) {
	paths, err := h.service.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paths": paths})
}

// HandleOpenList returns the paths of currently open notebooks.
func (h *RestHandlers) HandleOpenList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"paths": h.service.OpenPaths()})
}

// HandleHealth reports liveness.
func (h *RestHandlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// HandleReady reports readiness: the store must be reachable.
func (h *RestHandlers) HandleReady(c *gin.Context) {
	if _, err := h.service.List(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
