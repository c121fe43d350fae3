package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"passport-sync-service/internal/middleware"
	"passport-sync-service/internal/services"
)

// FieldMappingHandler handles field ownership endpoints of a connection
type FieldMappingHandler struct {
	service *services.FieldOwnershipService
}

// NewFieldMappingHandler creates a new field mapping handler
func NewFieldMappingHandler(service *services.FieldOwnershipService) *FieldMappingHandler {
	return &FieldMappingHandler{service: service}
}

// BatchSetRequest replaces the ownership of the listed fields
type BatchSetRequest struct {
	Mappings []services.FieldToggle `json:"mappings" binding:"required,dive"`
}

// SetFieldRequest toggles one field
type SetFieldRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// List returns the effective ownership of every schema field
func (h *FieldMappingHandler) List(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	result, err := h.service.ListMappings(c.Request.Context(), middleware.GetBrandID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// BatchSet writes ownership for a set of fields in one transaction
func (h *FieldMappingHandler) BatchSet(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req BatchSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.BatchSetMappings(c.Request.Context(), middleware.GetBrandID(c), id, req.Mappings)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// SetField toggles a single field
func (h *FieldMappingHandler) SetField(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req SetFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.SetMapping(c.Request.Context(), middleware.GetBrandID(c), id, c.Param("fieldKey"), *req.Enabled)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
