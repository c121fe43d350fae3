package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"passport-sync-service/internal/connectors"
	"passport-sync-service/internal/models"
)

// ConnectorHandler serves the catalog of supported connectors and their field schemas
type ConnectorHandler struct {
	presentation *connectors.Presentation
}

// NewConnectorHandler creates a new connector handler
func NewConnectorHandler(presentation *connectors.Presentation) *ConnectorHandler {
	return &ConnectorHandler{presentation: presentation}
}

type connectorView struct {
	Slug                models.ConnectorSlug     `json:"slug"`
	DisplayName         string                   `json:"displayName"`
	AccountLabel        string                   `json:"accountLabel"`
	RequiredCredentials []string                 `json:"requiredCredentials"`
	MatchIdentifiers    []models.MatchIdentifier `json:"matchIdentifiers"`
}

// List returns every supported connector
func (h *ConnectorHandler) List(c *gin.Context) {
	defs := connectors.All()
	views := make([]connectorView, 0, len(defs))
	for _, def := range defs {
		views = append(views, connectorView{
			Slug:                def.Slug,
			DisplayName:         def.DisplayName,
			AccountLabel:        def.AccountLabel,
			RequiredCredentials: def.RequiredCredentials,
			MatchIdentifiers:    def.MatchIdentifiers,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

// Fields returns the field schema of a connector.
// Unknown connectors answer an empty list.
func (h *ConnectorHandler) Fields(c *gin.Context) {
	fields := h.presentation.Apply(connectors.GetConnectorFields(c.Param("slug")))
	if fields == nil {
		fields = []connectors.FieldMeta{}
	}
	c.JSON(http.StatusOK, gin.H{"data": fields})
}
