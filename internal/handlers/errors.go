package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"passport-sync-service/internal/services"
)

// respondError maps service errors to HTTP responses
func respondError(c *gin.Context, err error) {
	switch {
	case services.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrConnectionNotFound), errors.Is(err, services.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadySyncing):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "ALREADY_SYNCING"})
	case errors.Is(err, services.ErrConnectionNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "CONNECTION_NOT_ACTIVE"})
	case errors.Is(err, services.ErrAlreadyConnected), errors.Is(err, services.ErrJobNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// parseID reads a UUID path parameter, answering 400 when malformed
func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
