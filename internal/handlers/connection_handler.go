package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"passport-sync-service/internal/middleware"
	"passport-sync-service/internal/services"
)

// ConnectionHandler handles brand integration connection endpoints
type ConnectionHandler struct {
	service *services.ConnectionService
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(service *services.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{service: service}
}

// List returns all connections of the brand
func (h *ConnectionHandler) List(c *gin.Context) {
	connections, err := h.service.List(c.Request.Context(), middleware.GetBrandID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  connections,
		"total": len(connections),
	})
}

// Create connects a provider account
func (h *ConnectionHandler) Create(c *gin.Context) {
	var req services.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	connection, err := h.service.Connect(c.Request.Context(), middleware.GetBrandID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": connection})
}

// Get returns a single connection
func (h *ConnectionHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	connection, err := h.service.Get(c.Request.Context(), middleware.GetBrandID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": connection})
}

// Update changes a connection's settings
func (h *ConnectionHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	connection, err := h.service.UpdateSettings(c.Request.Context(), middleware.GetBrandID(c), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": connection})
}

// Delete disconnects a connection
func (h *ConnectionHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Disconnect(c.Request.Context(), middleware.GetBrandID(c), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "connection disconnected"})
}

// TestConnection checks the stored credentials against the provider
func (h *ConnectionHandler) TestConnection(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	result, err := h.service.TestConnection(c.Request.Context(), middleware.GetBrandID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"data": result})
}
